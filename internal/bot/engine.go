// Package bot runs the per-tenant decision cycle: refresh positions, analyze
// each configured symbol, apply the exit policy or the entry risk chain, and
// append a risk snapshot.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradebot-core/internal/ai"
	"tradebot-core/internal/errs"
	"tradebot-core/internal/events"
	"tradebot-core/internal/market"
	"tradebot-core/internal/monitor"
	"tradebot-core/internal/order"
	"tradebot-core/internal/schedule"
	"tradebot-core/pkg/cache"
	"tradebot-core/pkg/db"
)

// Config holds the cycle parameters shared by every tenant.
type Config struct {
	Interval       time.Duration // tick period, default 60s
	HistoryPeriods int           // price points requested per symbol
	InitialCapital float64       // cash before the first snapshot
	MaxHold        time.Duration // stale-position exit horizon
}

// DefaultConfig returns the production cycle parameters.
func DefaultConfig() Config {
	return Config{
		Interval:       60 * time.Second,
		HistoryPeriods: 500,
		InitialCapital: 10000,
		MaxHold:        24 * time.Hour,
	}
}

// Deps are the collaborators injected into every engine. Bus and Metrics
// may be nil.
type Deps struct {
	Queries  *db.TenantQueries
	Market   market.Provider
	Analyst  ai.Analyzer
	Executor order.Executor
	Cache    *cache.SeriesCache
	Clock    schedule.Clock
	Bus      *events.Bus
	Metrics  *monitor.Metrics
	Logger   *zap.Logger
}

// Engine is one tenant's decision loop.
type Engine struct {
	tenantID string
	cfg      Config
	deps     Deps
	log      *zap.Logger
}

// New creates the engine for tenantID, filling unset config with defaults.
func New(tenantID string, cfg Config, deps Deps) *Engine {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.HistoryPeriods <= 0 {
		cfg.HistoryPeriods = def.HistoryPeriods
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = def.InitialCapital
	}
	if deps.Clock == nil {
		deps.Clock = schedule.Real()
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewSeriesCache()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{
		tenantID: tenantID,
		cfg:      cfg,
		deps:     deps,
		log:      deps.Logger.With(zap.String("tenant", tenantID)),
	}
}

// TenantID returns the tenant this engine trades for.
func (e *Engine) TenantID() string { return e.tenantID }

// Run ticks immediately and then every Interval until ctx is cancelled. A
// failing or panicking tick never ends the loop.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("decision loop started", zap.Duration("interval", e.cfg.Interval))
	schedule.Every(ctx, e.deps.Clock, e.cfg.Interval, e.safeTick)
	e.log.Info("decision loop stopped")
}

func (e *Engine) safeTick(ctx context.Context) {
	start := time.Now()
	failed := false
	defer func() {
		if r := recover(); r != nil {
			failed = true
			e.log.Error("tick panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			e.deps.Bus.Publish(events.EventTickFailed, e.tenantID, "", fmt.Sprint(r))
		}
		e.deps.Metrics.ObserveTick(time.Since(start), failed)
	}()

	if err := e.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		failed = true
		fields := []zap.Field{zap.String("kind", errs.Kind(err)), zap.Error(err)}
		if errors.Is(err, errs.ErrInvariantViolation) {
			e.log.Error("tick aborted", fields...)
		} else {
			e.log.Warn("tick aborted", fields...)
		}
		e.deps.Bus.Publish(events.EventTickFailed, e.tenantID, "", err.Error())
	}
}

// Tick runs one decision cycle. Symbol-level failures are logged and skipped;
// only failures to load or persist the tenant's own state are returned.
func (e *Engine) Tick(ctx context.Context) error {
	q := e.deps.Queries
	cfg, err := q.GetBotConfig(ctx, e.tenantID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load bot config: %w", err)
	}
	if !cfg.Active {
		return nil
	}

	b, err := e.loadBook(ctx, cfg)
	if err != nil {
		return err
	}

	for _, symbol := range cfg.Symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.evaluate(ctx, cfg, b, symbol); err != nil {
			e.symbolFailed(symbol, err)
		}
	}

	snap := b.snapshot(e.deps.Clock.Now().UTC())
	snap.ID = uuid.NewString()
	if err := q.InsertRiskSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("append risk snapshot: %w", err)
	}
	e.deps.Bus.Publish(events.EventSnapshot, e.tenantID, "", snap)
	e.log.Debug("risk snapshot",
		zap.Float64("equity", snap.TotalEquity),
		zap.Float64("max_equity", snap.MaxEquity),
		zap.Float64("drawdown_pct", snap.DrawdownPct),
		zap.Float64("daily_pnl", snap.DailyPnL),
		zap.Float64("cash", snap.CashBalance),
		zap.Int("positions", len(b.positions)),
	)
	return nil
}

// loadBook refreshes every open position at the current price and seeds the
// tick's book from the latest snapshot.
func (e *Engine) loadBook(ctx context.Context, cfg db.TenantBotConfig) (*book, error) {
	q := e.deps.Queries
	now := e.deps.Clock.Now().UTC()

	positions, err := q.ListPositions(ctx, e.tenantID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	for i, p := range positions {
		quote, err := e.deps.Market.CurrentPrice(ctx, p.Symbol)
		if err != nil {
			e.log.Warn("position refresh skipped", zap.String("symbol", p.Symbol), zap.Error(err))
			continue
		}
		p = mark(p, quote.Price, now)
		if err := q.UpdatePositionMarks(ctx, p); err != nil {
			e.log.Warn("position marks not saved", zap.String("symbol", p.Symbol), zap.Error(err))
		}
		positions[i] = p
	}

	var prev *db.RiskSnapshot
	last, err := q.LatestRiskSnapshot(ctx, e.tenantID)
	switch {
	case err == nil:
		prev = &last
	case !errors.Is(err, db.ErrNotFound):
		return nil, fmt.Errorf("latest risk snapshot: %w", err)
	}

	var dayStart *db.RiskSnapshot
	first, err := q.FirstSnapshotSince(ctx, e.tenantID, startOfDay(now))
	switch {
	case err == nil:
		dayStart = &first
	case !errors.Is(err, db.ErrNotFound):
		return nil, fmt.Errorf("day-start risk snapshot: %w", err)
	}

	return newBook(cfg, prev, dayStart, positions, e.cfg.InitialCapital), nil
}

func (e *Engine) symbolFailed(symbol string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	kind := errs.Kind(err)
	e.deps.Metrics.SymbolSkipped(kind)
	log := e.log.With(zap.String("symbol", symbol), zap.String("kind", kind))
	switch {
	case errors.Is(err, errs.ErrDataUnavailable), errors.Is(err, errs.ErrExecutionFailed):
		log.Warn("symbol skipped", zap.Error(err))
	default:
		log.Error("symbol skipped", zap.Error(err))
	}
}
