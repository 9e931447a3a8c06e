package holder

import (
	"sort"
	"time"
)

// DistributionMetrics holds the per-mint concentration figures computed
// from a balance list (§4.12 step 4).
type DistributionMetrics struct {
	TotalHolders       int
	Gini               float64
	HHI                float64
	Top10Pct           float64
	Top25Pct           float64
	Top100Pct          float64
	MedianHoldDuration time.Duration
	MeanHoldDuration   time.Duration
}

// ComputeDistribution derives Gini, HHI, top-K percentages, and hold
// durations from balances. Balances with zero or negative amounts are
// dropped before computing shares; an empty input yields zero metrics.
func ComputeDistribution(balances []Balance, now time.Time) DistributionMetrics {
	positive := make([]Balance, 0, len(balances))
	var total float64
	for _, b := range balances {
		if b.Amount > 0 {
			positive = append(positive, b)
			total += b.Amount
		}
	}

	m := DistributionMetrics{TotalHolders: len(positive)}
	if len(positive) == 0 || total <= 0 {
		return m
	}

	sort.Slice(positive, func(i, j int) bool { return positive[i].Amount > positive[j].Amount })

	m.Gini = gini(positive)
	m.HHI = hhi(positive, total)
	m.Top10Pct = topKShare(positive, total, 10)
	m.Top25Pct = topKShare(positive, total, 25)
	m.Top100Pct = topKShare(positive, total, 100)

	durations := holdDurations(positive, now)
	m.MedianHoldDuration, m.MeanHoldDuration = medianMean(durations)

	return m
}

// gini computes the Gini coefficient of the balance distribution using the
// rank-weighted form 2*sum(i*x_i)/(n*sum(x)) - (n+1)/n over ascending
// balances, which lies in [0, (n-1)/n].
func gini(sortedDesc []Balance) float64 {
	n := len(sortedDesc)
	if n == 0 {
		return 0
	}
	// Ascending order for the conventional rank-sum formula.
	asc := make([]float64, n)
	for i, b := range sortedDesc {
		asc[n-1-i] = b.Amount
	}

	var sumAmount, weighted float64
	for i, v := range asc {
		sumAmount += v
		weighted += float64(i+1) * v
	}
	if sumAmount == 0 {
		return 0
	}
	return (2*weighted)/(float64(n)*sumAmount) - float64(n+1)/float64(n)
}

// hhi is the Herfindahl-Hirschman Index: sum of squared market shares,
// expressed on a 0-1 scale (1.0 would mean a single holder owns everything).
func hhi(balances []Balance, total float64) float64 {
	var sum float64
	for _, b := range balances {
		share := b.Amount / total
		sum += share * share
	}
	return sum
}

func topKShare(sortedDesc []Balance, total float64, k int) float64 {
	if k > len(sortedDesc) {
		k = len(sortedDesc)
	}
	var sum float64
	for i := 0; i < k; i++ {
		sum += sortedDesc[i].Amount
	}
	return sum / total
}

func holdDurations(balances []Balance, now time.Time) []time.Duration {
	out := make([]time.Duration, 0, len(balances))
	for _, b := range balances {
		if b.SinceFirstSeen.IsZero() {
			continue
		}
		out = append(out, now.Sub(b.SinceFirstSeen))
	}
	return out
}

func medianMean(durations []time.Duration) (median, mean time.Duration) {
	if len(durations) == 0 {
		return 0, 0
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		median = sorted[mid]
	}

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	mean = sum / time.Duration(len(sorted))
	return median, mean
}
