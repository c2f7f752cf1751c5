package indicators

import "gonum.org/v1/gonum/stat"

// Bands is a Bollinger envelope around a moving average.
type Bands struct {
	Upper     float64 `json:"upper"`
	Middle    float64 `json:"middle"`
	Lower     float64 `json:"lower"`
	Bandwidth float64 `json:"bandwidth"`
}

// Default Bollinger parameters.
const (
	BollingerPeriod = 20
	BollingerStdDev = 2.0
)

// BollingerBands uses the population standard deviation of the trailing
// window. Without a full window it falls back to +/-2% of the last price.
func BollingerBands(prices []float64, period int, stdDevMult float64) Bands {
	if period <= 0 || len(prices) < period {
		last := 0.0
		if len(prices) > 0 {
			last = prices[len(prices)-1]
		}
		return Bands{
			Upper:     last * 1.02,
			Middle:    last,
			Lower:     last * 0.98,
			Bandwidth: 4.0,
		}
	}

	window := prices[len(prices)-period:]
	middle, sd := stat.PopMeanStdDev(window, nil)

	b := Bands{
		Upper:  middle + stdDevMult*sd,
		Middle: middle,
		Lower:  middle - stdDevMult*sd,
	}
	if middle != 0 {
		b.Bandwidth = (b.Upper - b.Lower) / middle * 100
	}
	return b
}

// Volatility buckets the bandwidth into low/medium/high.
func (b Bands) Volatility() string {
	switch {
	case b.Bandwidth > 5:
		return "high"
	case b.Bandwidth > 2:
		return "medium"
	default:
		return "low"
	}
}
