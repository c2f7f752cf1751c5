package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"tradebot-core/pkg/db"
)

const (
	// MinConfidence is the lowest combined confidence that may open a trade.
	MinConfidence = 60.0
	// MinPositionSize is the smallest order worth placing, in quote currency.
	MinPositionSize = 10.0
	// MaxPositionFraction caps a single position at this share of capital.
	MaxPositionFraction = 0.05
	// DefaultVolatility is used when the tenant has no target volatility.
	DefaultVolatility = 0.1

	kellyScale      = 0.25
	maxRiskPerTrade = 0.02
)

// CapitalFloorCheck breaches when equity falls below maxEquity*floorFraction.
func CapitalFloorCheck(equity, maxEquity, floorFraction float64) FloorCheck {
	floor := maxEquity * floorFraction
	ratio := 1.0
	if maxEquity > 0 {
		ratio = equity / maxEquity
	}
	buffer := 0.0
	if floor > 0 {
		buffer = (equity - floor) / floor * 100
	}
	breach := equity < floor
	return FloorCheck{
		EquityFloor:   floor,
		CurrentEquity: equity,
		CurrentRatio:  ratio,
		Breach:        breach,
		BufferPercent: round(buffer, 2),
		AllowTrading:  !breach,
	}
}

// DailyLossCheck breaches when dailyPnL is below -referenceEquity*maxLossFraction.
func DailyLossCheck(dailyPnL, referenceEquity, maxLossFraction float64) LossCheck {
	maxLoss := referenceEquity * maxLossFraction
	pct := 0.0
	if referenceEquity > 0 {
		pct = dailyPnL / referenceEquity * 100
	}
	breach := dailyPnL < -maxLoss
	return LossCheck{
		DailyPnL:       dailyPnL,
		LossPercent:    round(pct, 2),
		MaxAllowedLoss: maxLoss,
		Breach:         breach,
		AllowTrading:   !breach,
	}
}

// PositionSize sizes an entry with a quarter-Kelly fraction capped at 2% of
// capital. The result is clamped to [MinPositionSize, 5% of capital], or 0
// when 5% of capital is below the minimum.
func PositionSize(signalStrength, confidence, availableCapital, volatility float64) float64 {
	edge := signalStrength * (confidence / 100)
	return clampSize(availableCapital*kellyFraction(edge, volatility), availableCapital)
}

func kellyFraction(edge, volatility float64) float64 {
	if volatility <= 0 {
		return 0
	}
	return min(edge/(volatility*volatility)*kellyScale, maxRiskPerTrade)
}

func clampSize(size, capital float64) float64 {
	ceiling := capital * MaxPositionFraction
	if ceiling < MinPositionSize {
		return 0
	}
	return round(max(MinPositionSize, min(size, ceiling)), 2)
}

// ValidateTrade runs the floor, daily-loss, confidence and buy-signal checks
// in that order. The rejection carries the first failing check.
func ValidateTrade(sig TradeSignal, snap db.RiskSnapshot, limits Limits) Decision {
	floor := CapitalFloorCheck(snap.TotalEquity, snap.MaxEquity, limits.CapitalFloor)
	loss := DailyLossCheck(snap.DailyPnL, snap.MaxEquity, limits.MaxDailyLoss)

	d := Decision{
		FloorOK:      floor.AllowTrading,
		LossOK:       loss.AllowTrading,
		ConfidenceOK: sig.Confidence >= MinConfidence,
		SignalOK:     sig.BuyRecommendation,
	}

	switch {
	case !d.FloorOK:
		d.Rejection = &Rejection{Code: CodeCapitalFloor, Reason: "Capital floor breach - trading halted"}
	case !d.LossOK:
		d.Rejection = &Rejection{Code: CodeDailyLoss, Reason: "Daily loss limit reached"}
	case !d.ConfidenceOK:
		d.Rejection = &Rejection{Code: CodeLowConfidence, Reason: "Signal confidence too low"}
	case !d.SignalOK:
		d.Rejection = &Rejection{Code: CodeNoBuySignal, Reason: "No strong buy signal"}
	default:
		d.Approved = true
	}
	return d
}

func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
