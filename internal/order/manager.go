package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradebot-core/internal/errs"
	"tradebot-core/internal/events"
	"tradebot-core/internal/monitor"
	"tradebot-core/internal/schedule"
	"tradebot-core/pkg/db"
)

// ErrOrderNotFound is returned when cancelling an id that is unknown or no
// longer pending.
var ErrOrderNotFound = errors.New("order not found")

// Trade reasoning and OCO leg names.
const (
	LegTakeProfit = "Take Profit"
	LegStopLoss   = "Stop Loss"

	ReasonLimit     = "Limit reached"
	ReasonStopLimit = "Stop-limit triggered"
)

// LimitRequest places a LIMIT order.
type LimitRequest struct {
	TenantID   string
	Symbol     string
	Side       db.Side
	Quantity   float64
	LimitPrice float64
}

// StopLimitRequest places a STOP_LIMIT order.
type StopLimitRequest struct {
	TenantID   string
	Symbol     string
	Side       db.Side
	Quantity   float64
	StopPrice  float64
	LimitPrice float64
}

// OCORequest places a take-profit / stop-loss pair that always sells.
type OCORequest struct {
	TenantID   string
	Symbol     string
	Quantity   float64
	TakeProfit float64
	StopLoss   float64
}

type settlement struct {
	order db.PendingOrder
	trade db.Trade
}

// Manager keeps the in-memory index of PENDING orders, mirrored to the
// store, and converts triggered orders into market orders.
type Manager struct {
	db      *db.Database
	exec    Executor
	bus     *events.Bus
	metrics *monitor.Metrics
	log     *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	pending map[string]db.PendingOrder
	// filled at the venue but not yet persisted
	unsettled map[string]settlement
	checking  sync.Mutex
}

// NewManager creates a Manager. bus and metrics may be nil.
func NewManager(database *db.Database, exec Executor, bus *events.Bus, metrics *monitor.Metrics, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		db:        database,
		exec:      exec,
		bus:       bus,
		metrics:   metrics,
		log:       log.With(zap.String("component", "order_manager")),
		now:       func() time.Time { return time.Now().UTC() },
		pending:   make(map[string]db.PendingOrder),
		unsettled: make(map[string]settlement),
	}
}

// Load rebuilds the index from the store, replacing whatever it held.
func (m *Manager) Load(ctx context.Context) error {
	orders, err := m.db.ListPendingOrders(ctx)
	if err != nil {
		return fmt.Errorf("load pending orders: %w", err)
	}
	m.mu.Lock()
	m.pending = make(map[string]db.PendingOrder, len(orders))
	for _, o := range orders {
		m.pending[o.ID] = o
	}
	n := len(m.pending)
	m.mu.Unlock()

	m.metrics.SetPendingOrders(n)
	m.log.Info("pending orders loaded", zap.Int("count", n))
	return nil
}

// PlaceLimit accepts a LIMIT order.
func (m *Manager) PlaceLimit(ctx context.Context, req LimitRequest) (db.PendingOrder, error) {
	if err := validateCommon(req.TenantID, req.Symbol, req.Quantity); err != nil {
		return db.PendingOrder{}, err
	}
	if err := validateSide(req.Side); err != nil {
		return db.PendingOrder{}, err
	}
	if req.LimitPrice <= 0 {
		return db.PendingOrder{}, fmt.Errorf("%w: limit price must be positive", errs.ErrValidation)
	}
	return m.place(ctx, db.PendingOrder{
		TenantID:   req.TenantID,
		Symbol:     req.Symbol,
		Type:       db.OrderLimit,
		Side:       req.Side,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
	})
}

// PlaceStopLimit accepts a STOP_LIMIT order.
func (m *Manager) PlaceStopLimit(ctx context.Context, req StopLimitRequest) (db.PendingOrder, error) {
	if err := validateCommon(req.TenantID, req.Symbol, req.Quantity); err != nil {
		return db.PendingOrder{}, err
	}
	if err := validateSide(req.Side); err != nil {
		return db.PendingOrder{}, err
	}
	if req.StopPrice <= 0 || req.LimitPrice <= 0 {
		return db.PendingOrder{}, fmt.Errorf("%w: stop and limit prices must be positive", errs.ErrValidation)
	}
	return m.place(ctx, db.PendingOrder{
		TenantID:   req.TenantID,
		Symbol:     req.Symbol,
		Type:       db.OrderStopLimit,
		Side:       req.Side,
		Quantity:   req.Quantity,
		StopPrice:  req.StopPrice,
		LimitPrice: req.LimitPrice,
	})
}

// PlaceOCO accepts an OCO order. Its side is always SELL.
func (m *Manager) PlaceOCO(ctx context.Context, req OCORequest) (db.PendingOrder, error) {
	if err := validateCommon(req.TenantID, req.Symbol, req.Quantity); err != nil {
		return db.PendingOrder{}, err
	}
	if req.TakeProfit <= 0 || req.StopLoss <= 0 {
		return db.PendingOrder{}, fmt.Errorf("%w: take profit and stop loss must be positive", errs.ErrValidation)
	}
	if req.TakeProfit <= req.StopLoss {
		return db.PendingOrder{}, fmt.Errorf("%w: take profit %v must be above stop loss %v", errs.ErrValidation, req.TakeProfit, req.StopLoss)
	}
	return m.place(ctx, db.PendingOrder{
		TenantID:   req.TenantID,
		Symbol:     req.Symbol,
		Type:       db.OrderOCO,
		Side:       db.SideSell,
		Quantity:   req.Quantity,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
	})
}

func (m *Manager) place(ctx context.Context, o db.PendingOrder) (db.PendingOrder, error) {
	now := m.now()
	o.ID = uuid.NewString()
	o.Status = db.StatusPending
	o.CreatedAt = now
	o.UpdatedAt = now

	if err := m.db.Queries().InsertPendingOrder(ctx, o); err != nil {
		return db.PendingOrder{}, fmt.Errorf("persist %s order: %w", o.Type, err)
	}

	m.mu.Lock()
	m.pending[o.ID] = o
	n := len(m.pending)
	m.mu.Unlock()

	m.metrics.OrderPlaced(string(o.Type))
	m.metrics.SetPendingOrders(n)
	m.log.Info("conditional order placed",
		zap.String("order_id", o.ID),
		zap.String("tenant_id", o.TenantID),
		zap.String("symbol", o.Symbol),
		zap.String("type", string(o.Type)),
		zap.String("side", string(o.Side)),
		zap.Float64("quantity", o.Quantity),
	)
	return o, nil
}

// Cancel moves a PENDING order to CANCELLED.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	o, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	n := len(m.pending)
	m.mu.Unlock()
	if !ok {
		return ErrOrderNotFound
	}

	if err := m.db.TransitionPendingOrder(ctx, id, db.StatusCancelled, 0, ""); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			m.metrics.SetPendingOrders(n)
			return ErrOrderNotFound
		}
		m.mu.Lock()
		m.pending[id] = o
		m.mu.Unlock()
		return fmt.Errorf("cancel order %s: %w", id, err)
	}

	m.metrics.OrderFinished(string(o.Type), string(db.StatusCancelled))
	m.metrics.SetPendingOrders(n)
	m.log.Info("conditional order cancelled", zap.String("order_id", id), zap.String("tenant_id", o.TenantID))
	return nil
}

// Pending returns a tenant's pending orders, oldest first. An empty tenant
// id returns every pending order.
func (m *Manager) Pending(tenantID string) []db.PendingOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]db.PendingOrder, 0, len(m.pending))
	for _, o := range m.pending {
		if tenantID == "" || o.TenantID == tenantID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Symbols lists the distinct symbols with pending orders.
func (m *Manager) Symbols() []string {
	m.mu.RLock()
	seen := make(map[string]struct{}, len(m.pending))
	for _, o := range m.pending {
		seen[o.Symbol] = struct{}{}
	}
	m.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Trigger reports whether o fires at price, the side to trade, and the
// reasoning recorded on the trade. OCO reasoning doubles as the fired leg.
func Trigger(o db.PendingOrder, price float64) (side db.Side, reason string, ok bool) {
	if price <= 0 {
		return "", "", false
	}
	switch o.Type {
	case db.OrderLimit:
		if o.Side == db.SideBuy && price <= o.LimitPrice {
			return db.SideBuy, ReasonLimit, true
		}
		if o.Side == db.SideSell && price >= o.LimitPrice {
			return db.SideSell, ReasonLimit, true
		}
	case db.OrderStopLimit:
		if o.Side == db.SideBuy && price >= o.StopPrice && price <= o.LimitPrice {
			return db.SideBuy, ReasonStopLimit, true
		}
		if o.Side == db.SideSell && price <= o.StopPrice && price >= o.LimitPrice {
			return db.SideSell, ReasonStopLimit, true
		}
	case db.OrderOCO:
		if price >= o.TakeProfit {
			return db.SideSell, LegTakeProfit, true
		}
		if price <= o.StopLoss {
			return db.SideSell, LegStopLoss, true
		}
	}
	return "", "", false
}

// Check evaluates every pending order against prices and executes the
// triggered ones. Orders whose execution fails stay pending and are
// re-evaluated on the next call. It returns the orders executed by this call.
func (m *Manager) Check(ctx context.Context, prices map[string]float64) ([]db.PendingOrder, error) {
	m.checking.Lock()
	defer m.checking.Unlock()

	executed := m.settle(ctx)

	for _, o := range m.Pending("") {
		if ctx.Err() != nil {
			return executed, ctx.Err()
		}
		price := prices[o.Symbol]
		side, reason, ok := Trigger(o, price)
		if !ok {
			continue
		}

		log := m.log.With(
			zap.String("order_id", o.ID),
			zap.String("tenant_id", o.TenantID),
			zap.String("symbol", o.Symbol),
			zap.String("type", string(o.Type)),
		)

		if !m.claim(o.ID) {
			continue
		}
		fill, err := m.exec.PlaceMarketOrder(ctx, o.Symbol, side, o.Quantity)
		if err != nil {
			m.release(o)
			log.Warn("conditional order execution failed; will re-evaluate", zap.Float64("price", price), zap.Error(err))
			m.bus.Publish(events.EventOrderFailed, o.TenantID, o.Symbol, map[string]string{
				"order_id": o.ID,
				"error":    err.Error(),
				"kind":     errs.Kind(err),
			})
			continue
		}

		now := m.now()
		o.Side = side
		o.FilledPrice = fill.Price
		if o.Type == db.OrderOCO {
			o.FiredLeg = reason
		}
		t := db.Trade{
			ID:         uuid.NewString(),
			TenantID:   o.TenantID,
			OrderID:    o.ID,
			Symbol:     o.Symbol,
			Side:       side,
			Type:       o.Type,
			Quantity:   o.Quantity,
			Price:      fill.Price,
			Status:     db.StatusFilled,
			Reasoning:  reason,
			CreatedAt:  now,
			ExecutedAt: now,
		}

		m.mu.Lock()
		m.unsettled[o.ID] = settlement{order: o, trade: t}
		m.mu.Unlock()

		if done := m.persist(ctx, o, t, log); done {
			executed = append(executed, m.finish(o, reason))
		}
	}

	m.mu.RLock()
	n := len(m.pending)
	m.mu.RUnlock()
	m.metrics.SetPendingOrders(n)
	return executed, nil
}

// claim removes id from the pending index so Cancel cannot race an
// in-flight execution.
func (m *Manager) claim(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[id]; !ok {
		return false
	}
	delete(m.pending, id)
	return true
}

func (m *Manager) release(o db.PendingOrder) {
	m.mu.Lock()
	m.pending[o.ID] = o
	m.mu.Unlock()
}

// settle retries persistence for fills the store has not yet recorded.
func (m *Manager) settle(ctx context.Context) []db.PendingOrder {
	m.mu.RLock()
	batch := make([]settlement, 0, len(m.unsettled))
	for _, s := range m.unsettled {
		batch = append(batch, s)
	}
	m.mu.RUnlock()

	var out []db.PendingOrder
	for _, s := range batch {
		log := m.log.With(zap.String("order_id", s.order.ID), zap.String("tenant_id", s.order.TenantID))
		if m.persist(ctx, s.order, s.trade, log) {
			out = append(out, m.finish(s.order, s.trade.Reasoning))
		}
	}
	return out
}

// persist records the execution. It reports true once the store holds it,
// leaving the settlement queued otherwise.
func (m *Manager) persist(ctx context.Context, o db.PendingOrder, t db.Trade, log *zap.Logger) bool {
	err := m.db.ExecutePendingOrder(ctx, o, t)
	if errors.Is(err, db.ErrNotFound) {
		// A previous attempt committed; the trade id makes the insert a no-op.
		err = m.db.Queries().InsertTrade(ctx, t)
	}
	if err != nil {
		log.Error("persist executed order; retrying next check", zap.Error(err))
		return false
	}
	m.mu.Lock()
	delete(m.unsettled, o.ID)
	m.mu.Unlock()
	return true
}

func (m *Manager) finish(o db.PendingOrder, reason string) db.PendingOrder {
	o.Status = db.StatusExecuted
	o.UpdatedAt = m.now()
	m.metrics.OrderFinished(string(o.Type), string(db.StatusExecuted))
	m.metrics.TradeExecuted(string(o.Side))
	m.bus.Publish(events.EventOrderExecuted, o.TenantID, o.Symbol, o)
	m.log.Info("conditional order executed",
		zap.String("order_id", o.ID),
		zap.String("tenant_id", o.TenantID),
		zap.String("symbol", o.Symbol),
		zap.String("type", string(o.Type)),
		zap.String("side", string(o.Side)),
		zap.String("reason", reason),
		zap.Float64("filled_price", o.FilledPrice),
	)
	return o
}

// PriceSource supplies the latest price per symbol for Run.
type PriceSource func(ctx context.Context, symbols []string) map[string]float64

// Run checks pending orders every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, clk schedule.Clock, interval time.Duration, prices PriceSource) {
	schedule.Every(ctx, clk, interval, func(ctx context.Context) {
		symbols := m.Symbols()
		if len(symbols) == 0 && m.unsettledCount() == 0 {
			return
		}
		if _, err := m.Check(ctx, prices(ctx, symbols)); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Warn("pending order check aborted", zap.Error(err))
		}
	})
}

func (m *Manager) unsettledCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.unsettled)
}

func validateCommon(tenantID, symbol string, quantity float64) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", errs.ErrValidation)
	}
	if strings.TrimSpace(symbol) == "" {
		return fmt.Errorf("%w: symbol is required", errs.ErrValidation)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", errs.ErrValidation)
	}
	return nil
}

func validateSide(side db.Side) error {
	if side != db.SideBuy && side != db.SideSell {
		return fmt.Errorf("%w: side must be BUY or SELL, got %q", errs.ErrValidation, side)
	}
	return nil
}
