package stream

// loadScore computes a connection's load in [0,100] as the weighted mix
// spec.md §3/§4.4 describes: normalized tps (40%), latency (30%), error
// rate (20%), bytes (10%). Both the pool's acquire-time scoring (C2) and
// the load balancer's periodic calculation (C4) share this function, per
// spec.md §4.2's "same components as C4 at this granularity".
func loadScore(m Metrics) float64 {
	tpsNorm := normalize(m.RequestsPerSecond, 0, 200)
	latencyNorm := normalize(float64(m.AverageLatency.Milliseconds()), 0, 2000)
	errorNorm := normalize(m.ErrorRate, 0, 1)
	bytesNorm := normalize(float64(m.BytesProcessed), 0, 10*1024*1024)

	return tpsNorm*40 + latencyNorm*30 + errorNorm*20 + bytesNorm*10
}

func normalize(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	if v < lo {
		return 0
	}
	if v > hi {
		return 1
	}
	return (v - lo) / (hi - lo)
}

// priorityPenalty is the +1000 penalty spec.md §4.2 applies when a
// connection's priority class is lower than the requested monitor's class.
func priorityPenalty(connPriority, requested Priority) float64 {
	if connPriority < requested {
		return 1000
	}
	return 0
}
