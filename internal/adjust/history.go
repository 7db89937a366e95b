package adjust

// History summarizes past feedback scores.
type History struct {
	// Mean is the average score, or the configured default when Count is 0.
	Mean float64 `json:"mean"`

	// Trend is the mean of the most recent Window scores minus the mean
	// of all earlier ones. Zero with fewer than two scores.
	Trend  float64 `json:"trend"`
	Window int     `json:"window"`
	Count  int     `json:"count"`
}

// ComputeHistory derives a History from chronologically ordered scores.
// The trend window shrinks to n-1 so at least one score precedes it.
func ComputeHistory(scores []int, cfg Config) History {
	n := len(scores)
	h := History{Mean: cfg.DefaultMean, Count: n}
	if n == 0 {
		return h
	}
	h.Mean = mean(scores)
	if n < 2 {
		return h
	}

	window := cfg.TrendWindow
	if window > n-1 {
		window = n - 1
	}
	h.Window = window
	h.Trend = mean(scores[n-window:]) - mean(scores[:n-window])
	return h
}

func mean(xs []int) float64 {
	sum := 0
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}
