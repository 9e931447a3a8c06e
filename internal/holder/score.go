package holder

// ScoreCalculator is the pluggable weighted-scoring collaborator (§4.12
// step 5). Rewriting the weighting scheme itself is out of scope; the
// orchestrator only depends on this narrow interface.
type ScoreCalculator interface {
	Score(m DistributionMetrics, classifications map[string]WalletClassification) (total float64, breakdown map[string]float64)
}

// DefaultScoreCalculator is a simple reference weighting: higher
// concentration (Gini, HHI, top-10 share) lowers the score, more holders
// raises it. It exists so the orchestrator is exercisable end to end; a
// production weighting scheme is a caller concern.
type DefaultScoreCalculator struct{}

func (DefaultScoreCalculator) Score(m DistributionMetrics, classifications map[string]WalletClassification) (float64, map[string]float64) {
	breakdown := map[string]float64{
		"holder_count":   clamp(float64(m.TotalHolders)/1000*25, 0, 25),
		"gini_penalty":   clamp((1-m.Gini)*30, 0, 30),
		"hhi_penalty":    clamp((1-m.HHI)*25, 0, 25),
		"top10_penalty":  clamp((1-m.Top10Pct)*20, 0, 20),
	}
	var total float64
	for _, v := range breakdown {
		total += v
	}
	return total, breakdown
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
