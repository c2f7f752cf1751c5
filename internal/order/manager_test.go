package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tradebot-core/internal/errs"
	"tradebot-core/internal/events"
	"tradebot-core/pkg/db"
)

type fakeExecutor struct {
	mu    sync.Mutex
	fail  bool
	calls []db.Side
}

func (f *fakeExecutor) PlaceMarketOrder(_ context.Context, symbol string, side db.Side, qty float64) (Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, side)
	if f.fail {
		return Fill{}, fmt.Errorf("%w: venue down", errs.ErrExecutionFailed)
	}
	return Fill{Symbol: symbol, Side: side, Quantity: qty, Price: 111}, nil
}

func (f *fakeExecutor) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func newTestManager(t *testing.T) (*Manager, *fakeExecutor, *db.Database) {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	exec := &fakeExecutor{}
	return NewManager(database, exec, events.NewBus(), nil, zaptest.NewLogger(t)), exec, database
}

func TestTrigger(t *testing.T) {
	tests := []struct {
		name   string
		order  db.PendingOrder
		price  float64
		fires  bool
		side   db.Side
		reason string
	}{
		{"limit buy at limit", db.PendingOrder{Type: db.OrderLimit, Side: db.SideBuy, LimitPrice: 100}, 100, true, db.SideBuy, ReasonLimit},
		{"limit buy above limit", db.PendingOrder{Type: db.OrderLimit, Side: db.SideBuy, LimitPrice: 100}, 101, false, "", ""},
		{"limit sell above limit", db.PendingOrder{Type: db.OrderLimit, Side: db.SideSell, LimitPrice: 100}, 105, true, db.SideSell, ReasonLimit},
		{"limit sell below limit", db.PendingOrder{Type: db.OrderLimit, Side: db.SideSell, LimitPrice: 100}, 99, false, "", ""},
		{"stop-limit buy in band", db.PendingOrder{Type: db.OrderStopLimit, Side: db.SideBuy, StopPrice: 100, LimitPrice: 102}, 101, true, db.SideBuy, ReasonStopLimit},
		{"stop-limit buy not triggered", db.PendingOrder{Type: db.OrderStopLimit, Side: db.SideBuy, StopPrice: 100, LimitPrice: 102}, 99, false, "", ""},
		{"stop-limit buy past limit", db.PendingOrder{Type: db.OrderStopLimit, Side: db.SideBuy, StopPrice: 100, LimitPrice: 102}, 103, false, "", ""},
		{"stop-limit sell in band", db.PendingOrder{Type: db.OrderStopLimit, Side: db.SideSell, StopPrice: 100, LimitPrice: 98}, 99, true, db.SideSell, ReasonStopLimit},
		{"stop-limit sell past limit", db.PendingOrder{Type: db.OrderStopLimit, Side: db.SideSell, StopPrice: 100, LimitPrice: 98}, 97, false, "", ""},
		{"oco take profit", db.PendingOrder{Type: db.OrderOCO, Side: db.SideSell, TakeProfit: 110, StopLoss: 90}, 111, true, db.SideSell, LegTakeProfit},
		{"oco stop loss", db.PendingOrder{Type: db.OrderOCO, Side: db.SideSell, TakeProfit: 110, StopLoss: 90}, 90, true, db.SideSell, LegStopLoss},
		{"oco inside band", db.PendingOrder{Type: db.OrderOCO, Side: db.SideSell, TakeProfit: 110, StopLoss: 90}, 95, false, "", ""},
		{"no price", db.PendingOrder{Type: db.OrderLimit, Side: db.SideBuy, LimitPrice: 100}, 0, false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			side, reason, ok := Trigger(tt.order, tt.price)
			assert.Equal(t, tt.fires, ok)
			assert.Equal(t, tt.side, side)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestOCOFiresTakeProfitAsSell(t *testing.T) {
	m, exec, database := newTestManager(t)
	ctx := context.Background()

	o, err := m.PlaceOCO(ctx, OCORequest{TenantID: "t1", Symbol: "BTC-USD", Quantity: 500, TakeProfit: 110, StopLoss: 90})
	require.NoError(t, err)
	assert.Equal(t, db.SideSell, o.Side)

	executed, err := m.Check(ctx, map[string]float64{"BTC-USD": 95})
	require.NoError(t, err)
	assert.Empty(t, executed)
	assert.Len(t, m.Pending("t1"), 1)

	executed, err = m.Check(ctx, map[string]float64{"BTC-USD": 111})
	require.NoError(t, err)
	require.Len(t, executed, 1)
	assert.Equal(t, db.SideSell, executed[0].Side)
	assert.Equal(t, LegTakeProfit, executed[0].FiredLeg)
	assert.Equal(t, db.StatusExecuted, executed[0].Status)
	assert.Equal(t, []db.Side{db.SideSell}, exec.calls)
	assert.Empty(t, m.Pending("t1"))

	stored, err := database.GetPendingOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusExecuted, stored.Status)
	assert.Equal(t, LegTakeProfit, stored.FiredLeg)
	assert.Equal(t, 111.0, stored.FilledPrice)

	trades, err := database.Queries().ListTrades(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "Take Profit", trades[0].Reasoning)
	assert.Equal(t, db.OrderOCO, trades[0].Type)
	assert.Equal(t, o.ID, trades[0].OrderID)
}

func TestFailedExecutionStaysPending(t *testing.T) {
	m, exec, database := newTestManager(t)
	ctx := context.Background()

	o, err := m.PlaceLimit(ctx, LimitRequest{TenantID: "t1", Symbol: "ETH-USD", Side: db.SideBuy, Quantity: 100, LimitPrice: 2000})
	require.NoError(t, err)

	exec.setFail(true)
	executed, err := m.Check(ctx, map[string]float64{"ETH-USD": 1990})
	require.NoError(t, err)
	assert.Empty(t, executed)
	assert.Len(t, m.Pending("t1"), 1)

	stored, err := database.GetPendingOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusPending, stored.Status)

	exec.setFail(false)
	executed, err = m.Check(ctx, map[string]float64{"ETH-USD": 1990})
	require.NoError(t, err)
	require.Len(t, executed, 1)
	assert.Equal(t, db.SideBuy, executed[0].Side)
	assert.Len(t, exec.calls, 2)
}

func TestCancel(t *testing.T) {
	m, _, database := newTestManager(t)
	ctx := context.Background()

	o, err := m.PlaceStopLimit(ctx, StopLimitRequest{TenantID: "t1", Symbol: "BTC-USD", Side: db.SideSell, Quantity: 50, StopPrice: 100, LimitPrice: 98})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(ctx, o.ID))
	assert.Empty(t, m.Pending(""))

	stored, err := database.GetPendingOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusCancelled, stored.Status)

	err = m.Cancel(ctx, o.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.EqualError(t, m.Cancel(ctx, "missing"), "order not found")

	executed, err := m.Check(ctx, map[string]float64{"BTC-USD": 99})
	require.NoError(t, err)
	assert.Empty(t, executed)
}

func TestPlaceValidation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.PlaceLimit(ctx, LimitRequest{TenantID: "t1", Symbol: "BTC-USD", Side: db.SideBuy, Quantity: 0, LimitPrice: 1})
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = m.PlaceLimit(ctx, LimitRequest{TenantID: "t1", Symbol: "BTC-USD", Side: "HOLD", Quantity: 1, LimitPrice: 1})
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = m.PlaceStopLimit(ctx, StopLimitRequest{TenantID: "t1", Symbol: "BTC-USD", Side: db.SideBuy, Quantity: 1, StopPrice: 0, LimitPrice: 1})
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = m.PlaceOCO(ctx, OCORequest{TenantID: "t1", Symbol: "BTC-USD", Quantity: 1, TakeProfit: 90, StopLoss: 110})
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = m.PlaceOCO(ctx, OCORequest{Symbol: "BTC-USD", Quantity: 1, TakeProfit: 110, StopLoss: 90})
	assert.ErrorIs(t, err, errs.ErrValidation)

	assert.Empty(t, m.Pending(""))
}

func TestLoadRestoresPendingIndex(t *testing.T) {
	m, exec, database := newTestManager(t)
	ctx := context.Background()

	_, err := m.PlaceLimit(ctx, LimitRequest{TenantID: "t1", Symbol: "BTC-USD", Side: db.SideSell, Quantity: 10, LimitPrice: 50000})
	require.NoError(t, err)
	_, err = m.PlaceOCO(ctx, OCORequest{TenantID: "t2", Symbol: "ETH-USD", Quantity: 10, TakeProfit: 3000, StopLoss: 2000})
	require.NoError(t, err)

	restarted := NewManager(database, exec, nil, nil, zaptest.NewLogger(t))
	require.NoError(t, restarted.Load(ctx))
	assert.Len(t, restarted.Pending(""), 2)
	assert.Len(t, restarted.Pending("t2"), 1)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, restarted.Symbols())
}

func TestExecutedOrderPublishesEvent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	ch, unsub := m.bus.Subscribe(events.EventOrderExecuted, 1)
	defer unsub()

	_, err := m.PlaceOCO(ctx, OCORequest{TenantID: "t1", Symbol: "BTC-USD", Quantity: 10, TakeProfit: 110, StopLoss: 90})
	require.NoError(t, err)
	_, err = m.Check(ctx, map[string]float64{"BTC-USD": 89})
	require.NoError(t, err)

	env := <-ch
	o, ok := env.Data.(db.PendingOrder)
	require.True(t, ok)
	assert.Equal(t, LegStopLoss, o.FiredLeg)
}

func TestCheckHonoursCancelledContext(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.PlaceLimit(context.Background(), LimitRequest{TenantID: "t1", Symbol: "BTC-USD", Side: db.SideBuy, Quantity: 10, LimitPrice: 100})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Check(ctx, map[string]float64{"BTC-USD": 90})
	assert.True(t, errors.Is(err, context.Canceled))
}
