package indicators

// RSIPeriod is the default RSI lookback.
const RSIPeriod = 14

// Technical bundles every indicator computed for a symbol on one tick.
type Technical struct {
	RSI       float64    `json:"rsi"`
	MACD      MACDResult `json:"macd"`
	Bollinger Bands      `json:"bollinger_bands"`
	Regime    Regime     `json:"regime"`
	Signal    Signal     `json:"signal"`
}

// Analyze runs the full indicator stack with default parameters over the
// oldest-to-newest price series and scores it against the current price.
func Analyze(prices []float64, price float64) Technical {
	rsi := RSI(prices, RSIPeriod)
	macd := MACD(prices, MACDFast, MACDSlow, MACDSignal)
	bands := BollingerBands(prices, BollingerPeriod, BollingerStdDev)
	regime := DetectRegime(prices, rsi, macd, bands)
	return Technical{
		RSI:       rsi,
		MACD:      macd,
		Bollinger: bands,
		Regime:    regime,
		Signal:    GenerateSignals(rsi, macd, bands, price, regime),
	}
}
