package indicators

// Regime labels a market state.
type Regime string

const (
	RegimeStrongUptrend      Regime = "strong_uptrend"
	RegimeUptrend            Regime = "uptrend"
	RegimeStrongDowntrend    Regime = "strong_downtrend"
	RegimeDowntrend          Regime = "downtrend"
	RegimeOversoldBounce     Regime = "oversold_bounce"
	RegimeOverboughtPullback Regime = "overbought_pullback"
	RegimeRanging            Regime = "ranging"
	RegimeNeutral            Regime = "neutral"
	RegimeUncertain          Regime = "uncertain"
)

// Bearish reports whether the regime is a downtrend of either strength.
func (r Regime) Bearish() bool {
	return r == RegimeDowntrend || r == RegimeStrongDowntrend
}

// Bullish reports whether the regime is an uptrend of either strength.
func (r Regime) Bullish() bool {
	return r == RegimeUptrend || r == RegimeStrongUptrend
}

const regimeLookback = 20

// DetectRegime classifies the series. Trend rules are checked first, then
// RSI extremes near the outer bands, then the ranging fallback.
func DetectRegime(prices []float64, rsi float64, macd MACDResult, bands Bands) Regime {
	if len(prices) < regimeLookback {
		return RegimeUncertain
	}

	current := prices[len(prices)-1]
	base := prices[len(prices)-regimeLookback]
	if base == 0 {
		return RegimeUncertain
	}
	trend := (current - base) / base * 100

	oversold := rsi < 30
	overbought := rsi > 70
	macdBullish := macd.Histogram > 0
	macdBearish := macd.Histogram < 0
	nearUpper := current > bands.Upper*0.98
	nearLower := current < bands.Lower*1.02

	switch {
	case trend > 5 && macdBullish && !overbought:
		return RegimeStrongUptrend
	case trend > 2 && macdBullish:
		return RegimeUptrend
	case trend < -5 && macdBearish && !oversold:
		return RegimeStrongDowntrend
	case trend < -2 && macdBearish:
		return RegimeDowntrend
	case oversold && nearLower:
		return RegimeOversoldBounce
	case overbought && nearUpper:
		return RegimeOverboughtPullback
	case trend > -2 && trend < 2:
		return RegimeRanging
	default:
		return RegimeNeutral
	}
}
