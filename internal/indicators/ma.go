package indicators

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SMA calculates the simple moving average for the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	return floats.Sum(values[len(values)-period:]) / float64(period)
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// EMA seeds with the SMA of the first period values and smooths the rest.
// With fewer than period values it degrades to the plain mean.
func EMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return Mean(values)
	}
	k := 2.0 / float64(period+1)
	ema := Mean(values[:period])
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
	}
	return ema
}

// emaRunning returns, for every index i, EMA(values[:i+1], period).
func emaRunning(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 {
		return out
	}
	k := 2.0 / float64(period+1)
	sum := 0.0
	var ema float64
	for i, v := range values {
		switch {
		case i < period-1:
			sum += v
			out[i] = sum / float64(i+1)
		case i == period-1:
			sum += v
			ema = sum / float64(period)
			out[i] = ema
		default:
			ema = v*k + ema*(1-k)
			out[i] = ema
		}
	}
	return out
}
