package bot

import (
	"fmt"
	"time"

	"tradebot-core/internal/indicators"
)

// Exit thresholds, in percent of committed capital.
const (
	TrailingActivation = 3.0
	TrailingDistance   = 2.0
	ProfitTarget       = 5.0
	HardStop           = -3.0
	TechSellConfidence = 70.0
	OverboughtRSI      = 70.0
	OverboughtGain     = 2.0
	RegimeExitGain     = 3.0
	CombinedSellConf   = 60.0
	StaleGain          = 2.0
)

// ExitInput is everything the exit policy looks at for one open position.
type ExitInput struct {
	PnLPercent     float64
	Price          float64
	HighWaterMark  float64
	TechAction     indicators.Action
	TechConfidence float64
	RSI            float64
	Regime         indicators.Regime
	AIAction       indicators.Action
	Combined       float64
	Held           time.Duration
	MaxHold        time.Duration
}

// ShouldExit applies the exit rules in fixed precedence and returns the
// reason of the first one that matches.
func ShouldExit(in ExitInput) (string, bool) {
	fromHigh := 0.0
	if in.HighWaterMark > 0 {
		fromHigh = (in.HighWaterMark - in.Price) / in.HighWaterMark * 100
	}

	switch {
	case in.PnLPercent > TrailingActivation && fromHigh >= TrailingDistance:
		return fmt.Sprintf("Trailing stop triggered (down %.1f%% from high)", fromHigh), true
	case in.PnLPercent >= ProfitTarget:
		return "Profit target reached (+5%)", true
	case in.PnLPercent <= HardStop:
		return "Stop loss triggered (-3%)", true
	case in.TechAction == indicators.ActionSell && in.TechConfidence > TechSellConfidence:
		return fmt.Sprintf("Strong technical sell signal (confidence: %.0f%%)", in.TechConfidence), true
	case in.RSI > OverboughtRSI && in.PnLPercent > OverboughtGain:
		return fmt.Sprintf("RSI overbought (%.1f) with profit - taking gains", in.RSI), true
	case in.Regime.Bearish() && in.PnLPercent < RegimeExitGain:
		return fmt.Sprintf("Market regime changed to %s", in.Regime), true
	case in.AIAction != indicators.ActionBuy && in.TechAction == indicators.ActionSell && in.Combined > CombinedSellConf:
		return "Combined AI + Technical sell signal", true
	case in.MaxHold > 0 && in.Held > in.MaxHold && in.PnLPercent < StaleGain:
		return fmt.Sprintf("Time-based exit (%.0fh hold with <2%% gain)", in.MaxHold.Hours()), true
	}
	return "", false
}

// CombineConfidence weights the AI, technical and multi-timeframe
// confidences 40/30/30. Disagreement scales the result by 0.75; full
// agreement boosts it by 15% up to 95.
func CombineConfidence(aiConf, techConf, mtfConf float64, aiAction, techAction, mtfAction indicators.Action) float64 {
	c := aiConf*0.4 + techConf*0.3 + mtfConf*0.3
	if techAction == mtfAction && mtfAction == aiAction {
		return min(c*1.15, 95)
	}
	return c * 0.75
}
