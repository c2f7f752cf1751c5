package indicators

// MACDResult holds the MACD line, its signal line and the histogram.
type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// Default MACD spans.
const (
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
)

// MACD returns fastEMA-slowEMA, the signal EMA of the MACD line series and
// their difference. The MACD line series starts at index slow; each point is
// the MACD of the prefix ending there, so the signal line slides with the data.
// Fewer than slow+signal prices yields the zero value; below 2*slow prices the
// signal equals the MACD line and the histogram is 0.
func MACD(prices []float64, fast, slow, signal int) MACDResult {
	if fast <= 0 || slow <= 0 || signal <= 0 || len(prices) < slow+signal {
		return MACDResult{}
	}

	fastRun := emaRunning(prices, fast)
	slowRun := emaRunning(prices, slow)
	last := len(prices) - 1
	line := fastRun[last] - slowRun[last]
	if len(prices) < 2*slow {
		return MACDResult{MACD: line, Signal: line}
	}

	series := make([]float64, 0, len(prices)-slow)
	for i := slow; i < len(prices); i++ {
		series = append(series, fastRun[i]-slowRun[i])
	}

	sig := line
	if len(series) >= signal {
		sig = EMA(series, signal)
	}

	return MACDResult{
		MACD:      line,
		Signal:    sig,
		Histogram: line - sig,
	}
}
