package risk

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"tradebot-core/pkg/db"
)

const (
	// DefaultMaxHeat is the portfolio heat budget as a fraction of equity.
	DefaultMaxHeat = 0.15
	// MaxHeatPercent blocks new entries at or above this heat.
	MaxHeatPercent = 15.0
	// MaxCorrelation is the largest tolerated absolute return correlation.
	MaxCorrelation = 0.7
	// DefaultCVaRConfidence is the tail percentile used for CVaR.
	DefaultCVaRConfidence = 0.95
	// MaxRiskScore blocks new positions at or above this score.
	MaxRiskScore = 75.0

	stopLossDistance  = 0.03
	minCorrelationLen = 20
	maxCorrelationLen = 50
	minCVaRSamples    = 10
	cvarLookback      = 20
)

// SeriesSource serves the cached price history used for correlation checks.
type SeriesSource interface {
	Series(symbol string) ([]float64, bool)
}

// PortfolioHeat assumes a uniform 3% stop distance on every position.
func PortfolioHeat(positions []db.Position, totalEquity float64) Heat {
	if len(positions) == 0 || totalEquity <= 0 {
		return Heat{Status: HeatSafe}
	}

	committed := make([]float64, len(positions))
	for i, p := range positions {
		committed[i] = p.Quantity
	}
	total := floats.Sum(committed) * stopLossDistance
	pct := round(total/totalEquity*100, 2)

	status := HeatSafe
	switch {
	case pct > 15:
		status = HeatHighRisk
	case pct > 10:
		status = HeatElevated
	case pct > 5:
		status = HeatModerate
	}
	return Heat{
		TotalHeat:       round(total, 2),
		HeatPercent:     pct,
		PositionsAtRisk: len(positions),
		Status:          status,
	}
}

// ReturnCorrelation is the Pearson correlation of simple returns over the
// last min(len(a), len(b), 50) prices. Short or flat series report 0.
func ReturnCorrelation(a, b []float64) float64 {
	if len(a) < minCorrelationLen || len(b) < minCorrelationLen {
		return 0
	}
	n := min(len(a), len(b), maxCorrelationLen)
	ra := returns(a[len(a)-n:])
	rb := returns(b[len(b)-n:])

	corr := stat.Correlation(ra, rb, nil)
	if math.IsNaN(corr) || math.IsInf(corr, 0) {
		return 0
	}
	return round(corr, 3)
}

func returns(prices []float64) []float64 {
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (prices[i]-prices[i-1])/prices[i-1])
	}
	return out
}

// CorrelationCheck compares newSymbol's cached history with every other
// open position's and rejects when the strongest correlation exceeds 0.7.
func CorrelationCheck(newSymbol string, positions []db.Position, history SeriesSource) Correlation {
	ok := Correlation{Allowed: true}
	if len(positions) == 0 || history == nil {
		return ok
	}
	fresh, found := history.Series(newSymbol)
	if !found || len(fresh) < minCorrelationLen {
		return ok
	}

	for _, p := range positions {
		if p.Symbol == newSymbol {
			continue
		}
		existing, found := history.Series(p.Symbol)
		if !found || len(existing) < minCorrelationLen {
			continue
		}
		corr := ReturnCorrelation(fresh, existing)
		if math.Abs(corr) > math.Abs(ok.MaxCorrelation) {
			ok.MaxCorrelation = corr
			ok.CorrelatedWith = p.Symbol
		}
	}
	ok.Allowed = math.Abs(ok.MaxCorrelation) <= MaxCorrelation
	return ok
}

// CVaR is the mean of returns at or below the empirical VaR at the given
// confidence. Fewer than 10 samples report 0.
func CVaR(returns []float64, confidence float64) float64 {
	if len(returns) < minCVaRSamples {
		return 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	v := percentile(sorted, (1-confidence)*100)

	n := sort.Search(len(sorted), func(i int) bool { return sorted[i] > v })
	if n == 0 {
		return 0
	}
	return round(stat.Mean(sorted[:n], nil), 4)
}

// percentile interpolates linearly between closest ranks of sorted data,
// the numpy default. stat.Quantile only offers empirical and LinInterp
// kinds with different rank conventions.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(sorted) {
		hi = len(sorted) - 1
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

// OptimalPositionSize is the quarter-Kelly size scaled down by the share of
// heat budget still available. It returns 0 once the budget is spent.
func OptimalPositionSize(signalStrength, volatility, totalEquity, currentHeat, maxHeat float64) float64 {
	available := maxHeat - currentHeat
	if maxHeat <= 0 || available <= 0 {
		return 0
	}
	adjust := min(available/maxHeat, 1)
	return clampSize(totalEquity*kellyFraction(signalStrength, volatility)*adjust, totalEquity)
}

// RiskScore weights heat, drawdown, tail loss and today's loss into a 0-100
// score, higher meaning riskier.
func RiskScore(heatPct, drawdownPct, cvar, dailyPnL, totalEquity float64) float64 {
	score := heatPct/15*30 + math.Abs(drawdownPct)/10*30
	if cvar < 0 {
		score += math.Abs(cvar) * 40
	}
	if dailyPnL < 0 && totalEquity > 0 {
		score += math.Abs(dailyPnL) / totalEquity * 100 * 20
	}
	return round(min(score, 100), 2)
}

// ScoreTier maps a risk score to its assessment label.
func ScoreTier(score float64) string {
	switch {
	case score < 30:
		return AssessmentLow
	case score < 60:
		return AssessmentModerate
	case score < 80:
		return AssessmentElevated
	default:
		return AssessmentHigh
	}
}

// Assess builds the composite assessment from the latest snapshot, open
// positions and realized sell P&L percents (oldest first).
func Assess(snap db.RiskSnapshot, positions []db.Position, realized []float64) Assessment {
	heat := PortfolioHeat(positions, snap.TotalEquity)

	if len(realized) > cvarLookback {
		realized = realized[len(realized)-cvarLookback:]
	}
	cvar := CVaR(realized, DefaultCVaRConfidence)

	drawdown := 0.0
	if snap.MaxEquity > 0 {
		drawdown = (snap.MaxEquity - snap.TotalEquity) / snap.MaxEquity * 100
	}

	score := RiskScore(heat.HeatPercent, drawdown, cvar, snap.DailyPnL, snap.TotalEquity)
	return Assessment{
		RiskScore:         score,
		Assessment:        ScoreTier(score),
		Heat:              heat,
		CVaR:              cvar,
		Drawdown:          round(drawdown, 2),
		DailyPnL:          snap.DailyPnL,
		AllowNewPositions: score < MaxRiskScore && heat.HeatPercent < MaxHeatPercent,
	}
}
