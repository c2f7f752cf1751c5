package indicators

// RSINeutral is reported when there is not enough history to measure momentum.
const RSINeutral = 50.0

// RSI computes a basic Relative Strength Index over the last period deltas
// with smoothing disabled.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return RSINeutral
	}

	gain := 0.0
	loss := 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - (100 / (1 + rs))
}
