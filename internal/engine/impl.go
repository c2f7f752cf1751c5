package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tradebot-core/internal/errs"
	"tradebot-core/internal/monitor"
	"tradebot-core/internal/order"
	"tradebot-core/internal/risk"
	"tradebot-core/internal/schedule"
	"tradebot-core/pkg/cache"
	"tradebot-core/pkg/db"
)

// Impl implements Service by composing the supervisor, the order manager
// and the tenant store.
type Impl struct {
	queries   *db.TenantQueries
	lifecycle Lifecycle
	orders    *order.Manager
	cache     *cache.SeriesCache
	metrics   *monitor.Metrics
	clock     schedule.Clock
	log       *zap.Logger
	meta      SystemStatus
}

// Config holds the collaborators for NewImpl.
type Config struct {
	Queries   *db.TenantQueries
	Lifecycle Lifecycle
	Orders    *order.Manager
	Cache     *cache.SeriesCache // optional; reported in SystemStatus
	Metrics   *monitor.Metrics
	Clock     schedule.Clock
	Logger    *zap.Logger
	Meta      SystemStatus // Mode and Version are reported as given
}

// NewImpl creates a new engine implementation.
func NewImpl(cfg Config) *Impl {
	if cfg.Clock == nil {
		cfg.Clock = schedule.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Impl{
		queries:   cfg.Queries,
		lifecycle: cfg.Lifecycle,
		orders:    cfg.Orders,
		cache:     cfg.Cache,
		metrics:   cfg.Metrics,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		meta:      cfg.Meta,
	}
}

// --- Tenant lifecycle ---

// StartTenant marks the tenant's config active and starts its loop. Starting
// a running tenant is a no-op; a tenant without a config is ErrNotFound.
func (e *Impl) StartTenant(ctx context.Context, tenantID string) error {
	if err := e.queries.SetBotActive(ctx, tenantID, true); err != nil {
		return fmt.Errorf("activate tenant %s: %w", tenantID, err)
	}
	if e.lifecycle.Start(tenantID) {
		e.log.Info("tenant started on request", zap.String("tenant", tenantID))
	}
	return nil
}

// StopTenant marks the tenant's config inactive and waits for its loop to
// exit. Unknown tenants are a no-op.
func (e *Impl) StopTenant(ctx context.Context, tenantID string) error {
	if err := e.queries.SetBotActive(ctx, tenantID, false); err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("deactivate tenant %s: %w", tenantID, err)
	}
	return e.lifecycle.Stop(ctx, tenantID)
}

func (e *Impl) RunningTenants() []string {
	return e.lifecycle.Running()
}

// --- Risk ---

func (e *Impl) LatestRiskSnapshot(ctx context.Context, tenantID string) (db.RiskSnapshot, error) {
	return e.queries.LatestRiskSnapshot(ctx, tenantID)
}

// RiskAssessment combines the latest snapshot, the open positions and the
// realized P&L percent of recent sells.
func (e *Impl) RiskAssessment(ctx context.Context, tenantID string) (risk.Assessment, error) {
	snap, err := e.queries.LatestRiskSnapshot(ctx, tenantID)
	if err != nil {
		return risk.Assessment{}, err
	}
	positions, err := e.queries.ListPositions(ctx, tenantID)
	if err != nil {
		return risk.Assessment{}, err
	}
	trades, err := e.queries.ListTrades(ctx, tenantID, MaxTradeLimit)
	if err != nil {
		return risk.Assessment{}, err
	}

	// trades are newest first; Assess wants oldest first
	var realized []float64
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		if t.Side == db.SideSell && t.PnLPercent != nil {
			realized = append(realized, *t.PnLPercent)
		}
	}
	return risk.Assess(snap, positions, realized), nil
}

// --- Positions, trades and signals ---

func (e *Impl) Positions(ctx context.Context, tenantID string) ([]db.Position, error) {
	return e.queries.ListPositions(ctx, tenantID)
}

// Trades returns recent trades, newest first. limit is clamped to
// [1, MaxTradeLimit]; zero or negative means DefaultTradeLimit.
func (e *Impl) Trades(ctx context.Context, tenantID string, limit int) ([]db.Trade, error) {
	switch {
	case limit <= 0:
		limit = DefaultTradeLimit
	case limit > MaxTradeLimit:
		limit = MaxTradeLimit
	}
	return e.queries.ListTrades(ctx, tenantID, limit)
}

func (e *Impl) LatestSignal(ctx context.Context, tenantID, symbol string) (db.MarketSignal, error) {
	return e.queries.LatestMarketSignal(ctx, tenantID, symbol)
}

// --- Conditional orders ---

func (e *Impl) PendingOrders(ctx context.Context, tenantID string) ([]db.PendingOrder, error) {
	if tenantID == "" {
		return nil, db.ErrTenantIDRequired
	}
	return e.orders.Pending(tenantID), nil
}

// PlaceOrder validates req and hands it to the order manager. Invalid
// requests fail with errs.ErrValidation and are never stored.
func (e *Impl) PlaceOrder(ctx context.Context, tenantID string, req OrderRequest) (db.PendingOrder, error) {
	side := db.Side(strings.ToUpper(string(req.Side)))
	switch db.OrderType(strings.ToUpper(string(req.Type))) {
	case db.OrderLimit:
		return e.orders.PlaceLimit(ctx, order.LimitRequest{
			TenantID:   tenantID,
			Symbol:     req.Symbol,
			Side:       side,
			Quantity:   req.Quantity,
			LimitPrice: req.LimitPrice,
		})
	case db.OrderStopLimit:
		return e.orders.PlaceStopLimit(ctx, order.StopLimitRequest{
			TenantID:   tenantID,
			Symbol:     req.Symbol,
			Side:       side,
			Quantity:   req.Quantity,
			StopPrice:  req.StopPrice,
			LimitPrice: req.LimitPrice,
		})
	case db.OrderOCO:
		return e.orders.PlaceOCO(ctx, order.OCORequest{
			TenantID:   tenantID,
			Symbol:     req.Symbol,
			Quantity:   req.Quantity,
			TakeProfit: req.TakeProfit,
			StopLoss:   req.StopLoss,
		})
	default:
		return db.PendingOrder{}, fmt.Errorf("%w: unsupported order type %q", errs.ErrValidation, req.Type)
	}
}

func (e *Impl) CancelOrder(ctx context.Context, orderID string) error {
	return e.orders.Cancel(ctx, orderID)
}

// --- System ---

func (e *Impl) SystemStatus(ctx context.Context) SystemStatus {
	s := e.meta
	s.RunningTenants = e.lifecycle.Running()
	s.PendingOrders = len(e.orders.Pending(""))
	s.Metrics = e.metrics.GetSnapshot()
	if e.cache != nil {
		s.SeriesCache = e.cache.Stats()
	}
	s.ServerTime = e.clock.Now().UTC()
	return s
}
