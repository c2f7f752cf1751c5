package ai

import (
	"context"
	"fmt"
	"math"

	"tradebot-core/internal/indicators"
	"tradebot-core/internal/timeframe"
)

// Heuristic is a local stand-in for the remote analyst. It agrees with the
// technical signal only when the timeframes lean the same way.
type Heuristic struct{}

// Analyze derives a verdict from the indicator summary alone.
func (Heuristic) Analyze(ctx context.Context, req Request) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	s := req.Indicators

	regime := "Trend"
	switch indicators.Regime(s.Regime) {
	case indicators.RegimeRanging, indicators.RegimeOversoldBounce, indicators.RegimeOverboughtPullback:
		regime = "Mean-Reversion"
	case indicators.RegimeNeutral, indicators.RegimeUncertain:
		if s.Volatility == "low" {
			regime = "Volatility-Crush"
		}
	}
	if s.Volatility == "high" && math.Abs(req.Quote.Change24h) > 10 {
		regime = "Shock"
	}

	bullish := s.MTFAlignment == string(timeframe.AlignmentBullish) || s.MTFAlignment == string(timeframe.AlignmentStrongBullish)
	bearish := s.MTFAlignment == string(timeframe.AlignmentBearish) || s.MTFAlignment == string(timeframe.AlignmentStrongBearish)

	out := Analysis{
		Regime:         regime,
		Recommendation: indicators.ActionHold,
		Confidence:     50,
		Reasoning:      fmt.Sprintf("Technical %s with %s timeframes", s.TechnicalSignal, s.MTFAlignment),
		Risks:          fmt.Sprintf("%s volatility", s.Volatility),
	}
	conf := min(55+math.Abs(s.MTFStrength)*4, 90)
	switch {
	case s.TechnicalSignal == string(indicators.ActionBuy) && bullish:
		out.Recommendation = indicators.ActionBuy
		out.Confidence = conf
	case s.TechnicalSignal == string(indicators.ActionSell) && bearish:
		out.Recommendation = indicators.ActionSell
		out.Confidence = conf
	}
	return out, nil
}
