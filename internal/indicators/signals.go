package indicators

import "fmt"

// Action is a directional recommendation.
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionHold  Action = "HOLD"
	ActionAvoid Action = "AVOID"
)

// Signal is the additive technical score for one symbol.
type Signal struct {
	Action       Action   `json:"signal"`
	BuyStrength  float64  `json:"buy_strength"`
	SellStrength float64  `json:"sell_strength"`
	Confidence   float64  `json:"confidence"`
	Reasons      []string `json:"reasons"`
}

// GenerateSignals accumulates buy and sell strength from RSI extremes, MACD
// crossovers, band breaks and the regime, then picks the stronger side.
func GenerateSignals(rsi float64, macd MACDResult, bands Bands, price float64, regime Regime) Signal {
	s := Signal{Reasons: []string{}}

	switch {
	case rsi < 30:
		s.BuyStrength += 25
		s.Reasons = append(s.Reasons, "RSI oversold")
	case rsi > 70:
		s.SellStrength += 25
		s.Reasons = append(s.Reasons, "RSI overbought")
	}

	switch {
	case macd.Histogram > 0 && macd.MACD > macd.Signal:
		s.BuyStrength += 20
		s.Reasons = append(s.Reasons, "MACD bullish crossover")
	case macd.Histogram < 0 && macd.MACD < macd.Signal:
		s.SellStrength += 20
		s.Reasons = append(s.Reasons, "MACD bearish crossover")
	}

	switch {
	case price < bands.Lower:
		s.BuyStrength += 15
		s.Reasons = append(s.Reasons, "Price below lower Bollinger Band")
	case price > bands.Upper:
		s.SellStrength += 15
		s.Reasons = append(s.Reasons, "Price above upper Bollinger Band")
	}

	switch {
	case regime.Bullish():
		s.BuyStrength += 20
		s.Reasons = append(s.Reasons, fmt.Sprintf("Market in %s", regime))
	case regime.Bearish():
		s.SellStrength += 20
		s.Reasons = append(s.Reasons, fmt.Sprintf("Market in %s", regime))
	case regime == RegimeOversoldBounce:
		s.BuyStrength += 15
		s.Reasons = append(s.Reasons, "Oversold bounce opportunity")
	}

	switch {
	case s.BuyStrength > s.SellStrength:
		s.Action = ActionBuy
		s.Confidence = min(s.BuyStrength, 100)
	case s.SellStrength > s.BuyStrength:
		s.Action = ActionSell
		s.Confidence = min(s.SellStrength, 100)
	default:
		s.Action = ActionHold
		s.Confidence = 50
	}
	return s
}
