package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradebot-core/internal/ai"
	"tradebot-core/internal/errs"
	"tradebot-core/internal/events"
	"tradebot-core/internal/indicators"
	"tradebot-core/internal/market"
	"tradebot-core/internal/risk"
	"tradebot-core/internal/timeframe"
	"tradebot-core/pkg/db"
)

const volumeWindow = 20

// Verdict is everything computed for one symbol on one tick. It is stored as
// the market signal payload.
type Verdict struct {
	Price             float64                   `json:"price"`
	Technical         indicators.Technical      `json:"technical_indicators"`
	Volume            *indicators.VolumeProfile `json:"volume_profile,omitempty"`
	MultiTimeframe    timeframe.Analysis        `json:"multi_timeframe"`
	MTFRecommendation timeframe.Recommendation  `json:"mtf_recommendation"`
	AI                ai.Analysis               `json:"ai_analysis"`
	Combined          float64                   `json:"combined_confidence"`
	BuyRecommendation bool                      `json:"buy_recommendation"`
	Heat              risk.Heat                 `json:"portfolio_heat"`
}

// evaluate runs FETCH, ANALYZE and then the exit policy or the entry chain
// for one symbol.
func (e *Engine) evaluate(ctx context.Context, cfg db.TenantBotConfig, b *book, symbol string) error {
	quote, err := e.deps.Market.CurrentPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("quote: %w", asDataUnavailable(err))
	}
	prices, err := e.deps.Market.HistoricalPrices(ctx, symbol, e.cfg.HistoryPeriods)
	if err != nil {
		return fmt.Errorf("history: %w", asDataUnavailable(err))
	}
	if len(prices) == 0 {
		return fmt.Errorf("%w: empty price history", errs.ErrDataUnavailable)
	}
	e.deps.Cache.Set(symbol, prices)

	pos, hasPosition := b.positions[symbol]
	v := e.analyze(ctx, symbol, quote, prices, hasPosition, b)

	if !hasPosition {
		v.BuyRecommendation = v.Technical.Signal.Action == indicators.ActionBuy &&
			v.MTFRecommendation.Action == indicators.ActionBuy &&
			v.AI.BuyRecommendation()
	}
	e.recordSignal(ctx, symbol, v)

	if hasPosition {
		return e.evaluateExit(ctx, b, pos, v)
	}
	return e.evaluateEntry(ctx, cfg, b, symbol, v)
}

func (e *Engine) analyze(ctx context.Context, symbol string, quote market.Quote, prices []float64, hasPosition bool, b *book) Verdict {
	v := Verdict{
		Price:     quote.Price,
		Technical: indicators.Analyze(prices, quote.Price),
	}
	v.MultiTimeframe = timeframe.Analyze(prices)
	v.MTFRecommendation = timeframe.Recommend(v.MultiTimeframe, hasPosition)
	v.Heat = risk.PortfolioHeat(b.list(), b.snapshot(e.deps.Clock.Now().UTC()).TotalEquity)

	if vs, ok := e.deps.Market.(market.VolumeSource); ok {
		volumes, err := vs.HistoricalVolumes(ctx, symbol, e.cfg.HistoryPeriods)
		if err == nil && len(volumes) > 0 {
			profile := indicators.AnalyzeVolume(volumes, volumeWindow)
			v.Volume = &profile
		}
	}

	req := ai.Request{Symbol: symbol, Quote: quote, Indicators: summarize(quote, v)}
	analysis, err := e.deps.Analyst.Analyze(ctx, req)
	if err != nil {
		e.log.Warn("ai analysis unavailable; using fallback", zap.String("symbol", symbol), zap.Error(err))
		analysis = ai.Fallback(err)
	}
	v.AI = analysis

	v.Combined = round(CombineConfidence(
		analysis.Confidence, v.Technical.Signal.Confidence, v.MTFRecommendation.Confidence,
		analysis.Recommendation, v.Technical.Signal.Action, v.MTFRecommendation.Action,
	), 2)
	return v
}

func summarize(q market.Quote, v Verdict) ai.Summary {
	volatility := "low"
	switch bw := v.Technical.Bollinger.Bandwidth; {
	case bw > 5:
		volatility = "high"
	case bw > 2:
		volatility = "medium"
	}
	trend := "bearish"
	if q.Change24h > 0 {
		trend = "bullish"
	}
	return ai.Summary{
		Regime:          string(v.Technical.Regime),
		Volatility:      volatility,
		Trend:           trend,
		RSI:             v.Technical.RSI,
		MACDHistogram:   v.Technical.MACD.Histogram,
		TechnicalSignal: string(v.Technical.Signal.Action),
		MTFAlignment:    string(v.MultiTimeframe.Alignment),
		MTFStrength:     v.MultiTimeframe.Strength,
	}
}

func (e *Engine) recordSignal(ctx context.Context, symbol string, v Verdict) {
	payload, err := json.Marshal(v)
	if err != nil {
		e.log.Warn("signal payload not encoded", zap.String("symbol", symbol), zap.Error(err))
	}
	sig := db.MarketSignal{
		ID:             uuid.NewString(),
		TenantID:       e.tenantID,
		Symbol:         symbol,
		Regime:         string(v.Technical.Regime),
		Confidence:     v.Combined,
		Recommendation: string(v.AI.Recommendation),
		Payload:        payload,
		CreatedAt:      e.deps.Clock.Now().UTC(),
	}
	if err := e.deps.Queries.InsertMarketSignal(ctx, sig); err != nil {
		e.log.Warn("market signal not saved", zap.String("symbol", symbol), zap.Error(err))
	}
	e.deps.Metrics.SignalRecorded(sig.Recommendation)
	e.deps.Bus.Publish(events.EventSignal, e.tenantID, symbol, sig)

	e.log.Info("symbol analyzed",
		zap.String("symbol", symbol),
		zap.String("regime", sig.Regime),
		zap.Float64("rsi", v.Technical.RSI),
		zap.Float64("macd_histogram", v.Technical.MACD.Histogram),
		zap.String("mtf", string(v.MultiTimeframe.Alignment)),
		zap.Float64("heat_pct", v.Heat.HeatPercent),
		zap.String("tech", string(v.Technical.Signal.Action)),
		zap.String("ai", sig.Recommendation),
		zap.Float64("confidence", v.Combined),
	)
}

// evaluateEntry runs the risk chain for a symbol with no open position and
// buys when every check passes.
func (e *Engine) evaluateEntry(ctx context.Context, cfg db.TenantBotConfig, b *book, symbol string, v Verdict) error {
	snap := b.snapshot(e.deps.Clock.Now().UTC())
	limits := risk.Limits{CapitalFloor: cfg.CapitalFloor, MaxDailyLoss: cfg.MaxDailyLoss}

	d := risk.ValidateTrade(risk.TradeSignal{Confidence: v.Combined, BuyRecommendation: v.BuyRecommendation}, snap, limits)
	if !d.Approved {
		e.reject(symbol, *d.Rejection, v.Combined)
		return nil
	}

	if v.Heat.HeatPercent >= risk.MaxHeatPercent {
		e.reject(symbol, risk.Rejection{
			Code:   risk.CodePortfolioHeat,
			Reason: fmt.Sprintf("Portfolio heat too high (%.1f%%)", v.Heat.HeatPercent),
		}, v.Combined)
		return nil
	}

	corr := risk.CorrelationCheck(symbol, b.list(), e.deps.Cache)
	if !corr.Allowed {
		e.reject(symbol, risk.Rejection{
			Code:   risk.CodeCorrelation,
			Reason: fmt.Sprintf("High correlation (%.2f) with %s", corr.MaxCorrelation, corr.CorrelatedWith),
		}, v.Combined)
		return nil
	}

	vol := cfg.TargetVolatility
	if vol <= 0 {
		vol = risk.DefaultVolatility
	}
	size := risk.OptimalPositionSize(v.Combined/100, vol, snap.TotalEquity, v.Heat.HeatPercent/100, risk.DefaultMaxHeat)
	if size < risk.MinPositionSize {
		e.reject(symbol, risk.Rejection{
			Code:   risk.CodeSizeTooSmall,
			Reason: fmt.Sprintf("Position size too small ($%.2f)", size),
		}, v.Combined)
		return nil
	}
	if size > b.cash {
		e.reject(symbol, risk.Rejection{
			Code:   risk.CodeInsufficientCash,
			Reason: fmt.Sprintf("Position size $%.2f exceeds cash $%.2f", size, b.cash),
		}, v.Combined)
		return nil
	}

	fill, err := e.deps.Executor.PlaceMarketOrder(ctx, symbol, db.SideBuy, size)
	if err != nil {
		return fmt.Errorf("buy: %w", asExecutionFailed(err))
	}
	price := fill.Price
	if price <= 0 {
		price = v.Price
	}

	now := e.deps.Clock.Now().UTC()
	t := db.Trade{
		ID:         uuid.NewString(),
		TenantID:   e.tenantID,
		OrderID:    fill.OrderID,
		Symbol:     symbol,
		Side:       db.SideBuy,
		Type:       db.OrderMarket,
		Quantity:   size,
		Price:      price,
		Status:     db.StatusFilled,
		Reasoning:  v.AI.Reasoning,
		Regime:     v.AI.Regime,
		CreatedAt:  now,
		ExecutedAt: now,
	}
	p := db.Position{
		TenantID:      e.tenantID,
		Symbol:        symbol,
		Quantity:      size,
		AvgPrice:      price,
		CurrentPrice:  price,
		HighWaterMark: price,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.deps.Queries.RecordBuy(ctx, t, p); err != nil {
		if errors.Is(err, db.ErrDuplicatePosition) {
			return fmt.Errorf("%w: %v", errs.ErrInvariantViolation, err)
		}
		return fmt.Errorf("record buy: %w", err)
	}

	b.cash = money(b.cash - size)
	b.positions[symbol] = p
	e.deps.Metrics.TradeExecuted(string(db.SideBuy))
	e.deps.Bus.Publish(events.EventTrade, e.tenantID, symbol, t)
	e.log.Info("position opened",
		zap.String("symbol", symbol),
		zap.Float64("size", size),
		zap.Float64("price", price),
		zap.Float64("confidence", v.Combined),
	)
	return nil
}

// evaluateExit applies the exit policy to an open position and sells when a
// rule fires.
func (e *Engine) evaluateExit(ctx context.Context, b *book, pos db.Position, v Verdict) error {
	now := e.deps.Clock.Now().UTC()
	pos = mark(pos, v.Price, now)
	b.positions[pos.Symbol] = pos

	reason, ok := ShouldExit(ExitInput{
		PnLPercent:     pos.PnLPercent,
		Price:          v.Price,
		HighWaterMark:  pos.HighWaterMark,
		TechAction:     v.Technical.Signal.Action,
		TechConfidence: v.Technical.Signal.Confidence,
		RSI:            v.Technical.RSI,
		Regime:         v.Technical.Regime,
		AIAction:       v.AI.Recommendation,
		Combined:       v.Combined,
		Held:           now.Sub(pos.CreatedAt),
		MaxHold:        e.cfg.MaxHold,
	})
	if !ok {
		if err := e.deps.Queries.UpdatePositionMarks(ctx, pos); err != nil {
			e.log.Warn("position marks not saved", zap.String("symbol", pos.Symbol), zap.Error(err))
		}
		e.log.Info("holding position",
			zap.String("symbol", pos.Symbol),
			zap.Float64("pnl", pos.UnrealizedPnL),
			zap.Float64("pnl_pct", pos.PnLPercent),
		)
		return nil
	}

	fill, err := e.deps.Executor.PlaceMarketOrder(ctx, pos.Symbol, db.SideSell, pos.Quantity)
	if err != nil {
		return fmt.Errorf("sell: %w", asExecutionFailed(err))
	}
	price := fill.Price
	if price <= 0 {
		price = v.Price
	}

	finalValue := money(pos.Quantity / pos.AvgPrice * price)
	realized := money(finalValue - pos.Quantity)
	pnlPct := pos.PnLPercent
	t := db.Trade{
		ID:          uuid.NewString(),
		TenantID:    e.tenantID,
		OrderID:     fill.OrderID,
		Symbol:      pos.Symbol,
		Side:        db.SideSell,
		Type:        db.OrderMarket,
		Quantity:    pos.Quantity,
		Price:       price,
		Status:      db.StatusFilled,
		Reasoning:   reason,
		Regime:      v.AI.Regime,
		RealizedPnL: &realized,
		PnLPercent:  &pnlPct,
		CreatedAt:   now,
		ExecutedAt:  now,
	}
	if err := e.deps.Queries.RecordSell(ctx, t); err != nil {
		return fmt.Errorf("record sell: %w", err)
	}

	b.cash = money(b.cash + finalValue)
	delete(b.positions, pos.Symbol)
	e.deps.Metrics.TradeExecuted(string(db.SideSell))
	e.deps.Bus.Publish(events.EventTrade, e.tenantID, pos.Symbol, t)
	e.log.Info("position closed",
		zap.String("symbol", pos.Symbol),
		zap.Float64("quantity", pos.Quantity),
		zap.Float64("realized_pnl", realized),
		zap.Float64("pnl_pct", pnlPct),
		zap.String("reason", reason),
	)
	return nil
}

func (e *Engine) reject(symbol string, r risk.Rejection, confidence float64) {
	e.deps.Metrics.Rejected(r.Code)
	e.deps.Bus.Publish(events.EventRejection, e.tenantID, symbol, events.RejectionPayload{
		Code:       r.Code,
		Reason:     r.Reason,
		Confidence: confidence,
	})
	e.log.Info("trade not approved",
		zap.String("symbol", symbol),
		zap.String("code", r.Code),
		zap.String("reason", r.Reason),
		zap.Float64("confidence", confidence),
	)
}

func asDataUnavailable(err error) error {
	if errors.Is(err, errs.ErrDataUnavailable) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", errs.ErrDataUnavailable, err)
}

func asExecutionFailed(err error) error {
	if errors.Is(err, errs.ErrExecutionFailed) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", errs.ErrExecutionFailed, err)
}
