// Package ai defines the sentiment collaborator consulted on every tick and
// its implementations.
package ai

import (
	"context"
	"fmt"
	"strings"

	"tradebot-core/internal/indicators"
	"tradebot-core/internal/market"
)

// Summary is the indicator context sent along with the price snapshot.
type Summary struct {
	Regime          string  `json:"regime"`
	Volatility      string  `json:"volatility"` // low, medium, high
	Trend           string  `json:"trend"`      // 24h direction
	RSI             float64 `json:"rsi"`
	MACDHistogram   float64 `json:"macd_histogram"`
	TechnicalSignal string  `json:"technical_signal"`
	MTFAlignment    string  `json:"mtf_alignment"`
	MTFStrength     float64 `json:"mtf_strength"`
}

// Request is one symbol's analysis input.
type Request struct {
	Symbol     string       `json:"symbol"`
	Quote      market.Quote `json:"price_data"`
	Indicators Summary      `json:"market_indicators"`
}

// Analysis is the collaborator's verdict.
type Analysis struct {
	Regime         string            `json:"regime"`
	Recommendation indicators.Action `json:"recommendation"`
	Confidence     float64           `json:"confidence"`
	Reasoning      string            `json:"reasoning"`
	Risks          string            `json:"risks"`
}

// BuyRecommendation reports whether the verdict is an explicit BUY.
func (a Analysis) BuyRecommendation() bool {
	return a.Recommendation == indicators.ActionBuy
}

// Analyzer produces a regime, recommendation and confidence for a symbol.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (Analysis, error)
}

// Fallback is the safe verdict used when the analyzer fails.
func Fallback(err error) Analysis {
	return Analysis{
		Regime:         string(indicators.RegimeNeutral),
		Recommendation: indicators.ActionHold,
		Confidence:     0,
		Reasoning:      fmt.Sprintf("Analysis temporarily unavailable: %v", err),
		Risks:          "System error",
	}
}

// normalize clamps confidence and maps anything but BUY/SELL to HOLD.
func normalize(a Analysis) Analysis {
	switch indicators.Action(strings.ToUpper(strings.TrimSpace(string(a.Recommendation)))) {
	case indicators.ActionBuy:
		a.Recommendation = indicators.ActionBuy
	case indicators.ActionSell:
		a.Recommendation = indicators.ActionSell
	default:
		a.Recommendation = indicators.ActionHold
	}
	a.Confidence = max(0, min(a.Confidence, 100))
	if a.Regime == "" {
		a.Regime = "trend"
	}
	return a
}

// BuildPrompt renders the analyst prompt for req.
func BuildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following market data for %s:\n\n", req.Symbol)
	fmt.Fprintf(&b, "Current Price: $%.2f\n", req.Quote.Price)
	fmt.Fprintf(&b, "24h Change: %.2f%%\n", req.Quote.Change24h)
	fmt.Fprintf(&b, "Volume: %.2f\n\n", req.Quote.Volume)
	b.WriteString("Market Indicators:\n")
	fmt.Fprintf(&b, "- Regime: %s\n", req.Indicators.Regime)
	fmt.Fprintf(&b, "- Volatility: %s\n", req.Indicators.Volatility)
	fmt.Fprintf(&b, "- Trend: %s\n", req.Indicators.Trend)
	fmt.Fprintf(&b, "- RSI: %.2f\n", req.Indicators.RSI)
	fmt.Fprintf(&b, "- MACD histogram: %.4f\n", req.Indicators.MACDHistogram)
	fmt.Fprintf(&b, "- Technical signal: %s\n", req.Indicators.TechnicalSignal)
	fmt.Fprintf(&b, "- Timeframe alignment: %s (strength %.2f)\n\n", req.Indicators.MTFAlignment, req.Indicators.MTFStrength)
	b.WriteString("Provide a market regime assessment (Trend/Mean-Reversion/Volatility-Crush/Shock), ")
	b.WriteString("a BUY/HOLD/SELL recommendation, a confidence level (0-100), brief reasoning and key risk factors.\n\n")
	b.WriteString(`Respond in this JSON format:
{"regime": "<regime>", "recommendation": "<BUY|HOLD|SELL>", "confidence": <0-100>, "reasoning": "<explanation>", "risks": "<key risks>"}`)
	return b.String()
}
