// Package risk implements the stateless risk gate and the portfolio-level
// risk manager consulted before every entry.
package risk

// Rejection codes. A rejection is a policy decision, not an error.
const (
	CodeCapitalFloor     = "capital_floor"
	CodeDailyLoss        = "daily_loss"
	CodeLowConfidence    = "low_confidence"
	CodeNoBuySignal      = "no_buy_signal"
	CodePortfolioHeat    = "portfolio_heat"
	CodeCorrelation      = "correlation"
	CodeSizeTooSmall     = "size_below_minimum"
	CodeInsufficientCash = "insufficient_cash"
)

// Rejection explains why a trade was not taken.
type Rejection struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (r Rejection) String() string {
	return r.Code + ": " + r.Reason
}

// Limits are the tenant's configured risk fractions.
type Limits struct {
	CapitalFloor float64 `json:"capital_floor"`  // e.g. 0.97
	MaxDailyLoss float64 `json:"max_daily_loss"` // e.g. 0.015
}

// DefaultLimits mirrors the conservative defaults for new tenants.
func DefaultLimits() Limits {
	return Limits{CapitalFloor: 0.97, MaxDailyLoss: 0.015}
}

// FloorCheck is the result of CapitalFloorCheck.
type FloorCheck struct {
	EquityFloor   float64 `json:"equity_floor"`
	CurrentEquity float64 `json:"current_equity"`
	CurrentRatio  float64 `json:"current_ratio"`
	Breach        bool    `json:"floor_breach"`
	BufferPercent float64 `json:"buffer_percent"`
	AllowTrading  bool    `json:"allow_trading"`
}

// LossCheck is the result of DailyLossCheck.
type LossCheck struct {
	DailyPnL       float64 `json:"daily_pnl"`
	LossPercent    float64 `json:"loss_percent"`
	MaxAllowedLoss float64 `json:"max_allowed_loss"`
	Breach         bool    `json:"loss_breach"`
	AllowTrading   bool    `json:"allow_trading"`
}

// TradeSignal is what the gate needs to know about a candidate entry.
type TradeSignal struct {
	Confidence        float64 `json:"confidence"`
	BuyRecommendation bool    `json:"buy_recommendation"`
}

// Decision is the outcome of ValidateTrade.
type Decision struct {
	Approved     bool       `json:"approved"`
	FloorOK      bool       `json:"floor_check"`
	LossOK       bool       `json:"loss_check"`
	ConfidenceOK bool       `json:"confidence_check"`
	SignalOK     bool       `json:"signal_check"`
	Rejection    *Rejection `json:"rejection,omitempty"`
}

// Heat status tiers.
const (
	HeatSafe     = "safe"
	HeatModerate = "moderate"
	HeatElevated = "elevated"
	HeatHighRisk = "high_risk"
)

// Heat is the estimated capital at risk across open positions.
type Heat struct {
	TotalHeat       float64 `json:"total_heat"`
	HeatPercent     float64 `json:"heat_percent"`
	PositionsAtRisk int     `json:"positions_at_risk"`
	Status          string  `json:"status"`
}

// Correlation is the result of CorrelationCheck.
type Correlation struct {
	Allowed        bool    `json:"allowed"`
	MaxCorrelation float64 `json:"max_correlation"`
	CorrelatedWith string  `json:"correlated_with,omitempty"`
}

// Assessment tiers.
const (
	AssessmentLow      = "low"
	AssessmentModerate = "moderate"
	AssessmentElevated = "elevated"
	AssessmentHigh     = "high"
)

// Assessment is the composite portfolio risk view.
type Assessment struct {
	RiskScore         float64 `json:"risk_score"`
	Assessment        string  `json:"assessment"`
	Heat              Heat    `json:"portfolio_heat"`
	CVaR              float64 `json:"cvar"`
	Drawdown          float64 `json:"drawdown"`
	DailyPnL          float64 `json:"daily_pnl"`
	AllowNewPositions bool    `json:"allow_new_positions"`
}
