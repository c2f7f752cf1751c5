package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tradebot-core/internal/ai"
	"tradebot-core/internal/errs"
	"tradebot-core/internal/events"
	"tradebot-core/internal/indicators"
	"tradebot-core/internal/market"
	"tradebot-core/internal/order"
	"tradebot-core/internal/risk"
	"tradebot-core/pkg/cache"
	"tradebot-core/pkg/db"
)

var epoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fakeMarket struct {
	mu     sync.Mutex
	quotes map[string]float64
	series map[string][]float64
	down   map[string]bool
}

func (f *fakeMarket) CurrentPrice(_ context.Context, symbol string) (market.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[symbol] {
		return market.Quote{}, fmt.Errorf("%w: %s feed down", errs.ErrDataUnavailable, symbol)
	}
	return market.Quote{Symbol: symbol, Price: f.quotes[symbol], Change24h: 1}, nil
}

func (f *fakeMarket) HistoricalPrices(_ context.Context, symbol string, _ int) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[symbol] {
		return nil, fmt.Errorf("%w: %s feed down", errs.ErrDataUnavailable, symbol)
	}
	return f.series[symbol], nil
}

func (f *fakeMarket) setQuote(symbol string, price float64) {
	f.mu.Lock()
	f.quotes[symbol] = price
	f.mu.Unlock()
}

type fakeAnalyst struct {
	out ai.Analysis
	err error
}

func (f fakeAnalyst) Analyze(context.Context, ai.Request) (ai.Analysis, error) {
	return f.out, f.err
}

type fakeExecutor struct {
	m     *fakeMarket
	fail  bool
	mu    sync.Mutex
	sides []db.Side
}

func (f *fakeExecutor) PlaceMarketOrder(ctx context.Context, symbol string, side db.Side, qty float64) (order.Fill, error) {
	f.mu.Lock()
	f.sides = append(f.sides, side)
	f.mu.Unlock()
	if f.fail {
		return order.Fill{}, fmt.Errorf("%w: rejected", errs.ErrExecutionFailed)
	}
	q, err := f.m.CurrentPrice(ctx, symbol)
	if err != nil {
		return order.Fill{}, err
	}
	return order.Fill{OrderID: "venue-" + symbol, Symbol: symbol, Side: side, Quantity: qty, Price: q.Price}, nil
}

type harness struct {
	db     *db.Database
	q      *db.TenantQueries
	market *fakeMarket
	exec   *fakeExecutor
	clock  *clockwork.FakeClock
	bus    *events.Bus
	series *cache.SeriesCache
	engine *Engine
}

func newHarness(t *testing.T, analyst ai.Analyzer, symbols ...string) *harness {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	h := &harness{
		db: database,
		q:  database.Queries(),
		market: &fakeMarket{
			quotes: map[string]float64{},
			series: map[string][]float64{},
			down:   map[string]bool{},
		},
		clock:  clockwork.NewFakeClockAt(epoch),
		bus:    events.NewBus(),
		series: cache.NewSeriesCache(),
	}
	h.exec = &fakeExecutor{m: h.market}

	require.NoError(t, h.q.UpsertBotConfig(context.Background(), db.TenantBotConfig{
		TenantID:         "t1",
		Active:           true,
		CapitalFloor:     0.97,
		MaxDailyLoss:     0.015,
		TargetVolatility: 0.1,
		Symbols:          symbols,
	}))

	h.engine = New("t1", Config{Interval: time.Minute, HistoryPeriods: 501, InitialCapital: 10000, MaxHold: 24 * time.Hour}, Deps{
		Queries:  h.q,
		Market:   h.market,
		Analyst:  analyst,
		Executor: h.exec,
		Cache:    h.series,
		Clock:    h.clock,
		Bus:      h.bus,
		Logger:   zaptest.NewLogger(t),
	})
	return h
}

// seedPosition opens a position of qty at avg with cash already debited.
func (h *harness) seedPosition(t *testing.T, symbol string, qty, avg float64) {
	t.Helper()
	ctx := context.Background()
	opened := epoch.Add(-time.Hour)
	require.NoError(t, h.q.RecordBuy(ctx, db.Trade{
		ID: "seed-" + symbol, TenantID: "t1", Symbol: symbol, Side: db.SideBuy, Type: db.OrderMarket,
		Quantity: qty, Price: avg, Status: db.StatusFilled, CreatedAt: opened, ExecutedAt: opened,
	}, db.Position{
		TenantID: "t1", Symbol: symbol, Quantity: qty, AvgPrice: avg, CurrentPrice: avg,
		HighWaterMark: avg, CreatedAt: opened, UpdatedAt: opened,
	}))
	require.NoError(t, h.q.InsertRiskSnapshot(ctx, db.RiskSnapshot{
		ID: "seed-snap", TenantID: "t1", TotalEquity: 10000, MaxEquity: 10000, CapitalFloor: 0.97,
		PositionsValue: qty, CashBalance: 10000 - qty, CreatedAt: epoch.Add(-time.Minute),
	}))
}

// relaxLimits lifts the floor and daily-loss limits so later checks in the
// entry chain are reachable after a drawdown.
func (h *harness) relaxLimits(t *testing.T, symbols ...string) {
	t.Helper()
	require.NoError(t, h.q.UpsertBotConfig(context.Background(), db.TenantBotConfig{
		TenantID:         "t1",
		Active:           true,
		CapitalFloor:     0,
		MaxDailyLoss:     1,
		TargetVolatility: 0.1,
		Symbols:          symbols,
	}))
}

// expectRejection runs one tick and returns the single rejection published
// for symbol. No buy may have been placed or recorded.
func (h *harness) expectRejection(t *testing.T, symbol string) events.RejectionPayload {
	t.Helper()
	rejections, unsub := h.bus.Subscribe(events.EventRejection, 4)
	defer unsub()

	ctx := context.Background()
	require.NoError(t, h.engine.Tick(ctx))
	assert.NotContains(t, h.exec.sides, db.SideBuy)

	trades, err := h.q.ListTrades(ctx, "t1", 10)
	require.NoError(t, err)
	for _, tr := range trades {
		assert.NotEqual(t, symbol, tr.Symbol, "unexpected trade %s", tr.ID)
	}
	_, err = h.q.GetPosition(ctx, "t1", symbol)
	assert.ErrorIs(t, err, db.ErrNotFound)

	select {
	case env := <-rejections:
		assert.Equal(t, symbol, env.Symbol)
		p, ok := env.Data.(events.RejectionPayload)
		require.True(t, ok)
		return p
	default:
		t.Fatal("no rejection published")
		return events.RejectionPayload{}
	}
}

// bullish is a geometric 1%-per-step rally with a 4% dip on every odd index,
// ending on a peak. RSI stays in the mid 60s while MACD and every timeframe
// point up.
func bullish(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 * math.Pow(1.01, float64(i))
		if i%2 == 1 {
			out[i] *= 0.96
		}
	}
	return out
}

// choppy alternates between 100 and 101.
func choppy(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i%2)
	}
	return out
}

func TestShouldExitPrecedence(t *testing.T) {
	base := ExitInput{Price: 100, HighWaterMark: 100, TechAction: indicators.ActionHold, RSI: 50,
		Regime: indicators.RegimeRanging, AIAction: indicators.ActionHold, MaxHold: 24 * time.Hour}

	tests := []struct {
		name   string
		mutate func(*ExitInput)
		prefix string
	}{
		{"trailing stop beats profit target", func(in *ExitInput) { in.PnLPercent = 6; in.HighWaterMark = 103 }, "Trailing stop"},
		{"profit target", func(in *ExitInput) { in.PnLPercent = 5 }, "Profit target"},
		{"hard stop", func(in *ExitInput) { in.PnLPercent = -3 }, "Stop loss"},
		{"technical sell", func(in *ExitInput) { in.TechAction = indicators.ActionSell; in.TechConfidence = 75 }, "Strong technical sell"},
		{"technical sell at 70 does not fire", func(in *ExitInput) { in.TechAction = indicators.ActionSell; in.TechConfidence = 70 }, ""},
		{"rsi overbought with gain", func(in *ExitInput) { in.RSI = 75; in.PnLPercent = 2.5 }, "RSI overbought"},
		{"downtrend regime", func(in *ExitInput) { in.Regime = indicators.RegimeStrongDowntrend; in.PnLPercent = 1 }, "Market regime changed"},
		{"downtrend with big gain holds", func(in *ExitInput) { in.Regime = indicators.RegimeDowntrend; in.PnLPercent = 3 }, ""},
		{"combined sell", func(in *ExitInput) {
			in.TechAction = indicators.ActionSell
			in.TechConfidence = 60
			in.Combined = 61
		}, "Combined AI + Technical"},
		{"combined sell blocked by ai buy", func(in *ExitInput) {
			in.TechAction = indicators.ActionSell
			in.TechConfidence = 60
			in.Combined = 61
			in.AIAction = indicators.ActionBuy
		}, ""},
		{"stale position", func(in *ExitInput) { in.Held = 25 * time.Hour; in.PnLPercent = 1 }, "Time-based exit"},
		{"stale but profitable holds", func(in *ExitInput) { in.Held = 25 * time.Hour; in.PnLPercent = 2 }, ""},
		{"quiet market holds", func(in *ExitInput) {}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			reason, ok := ShouldExit(in)
			if tt.prefix == "" {
				assert.False(t, ok, reason)
				return
			}
			require.True(t, ok)
			assert.Contains(t, reason, tt.prefix)
		})
	}
}

func TestCombineConfidence(t *testing.T) {
	buy, hold := indicators.ActionBuy, indicators.ActionHold

	assert.InDelta(t, 66.0*0.75, CombineConfidence(60, 70, 70, hold, buy, buy), 1e-9)
	assert.InDelta(t, 80*1.15, CombineConfidence(80, 80, 80, buy, buy, buy), 1e-9)
	assert.Equal(t, 95.0, CombineConfidence(90, 90, 95, buy, buy, buy))
}

func TestMarkValuesCommittedCapital(t *testing.T) {
	p := mark(db.Position{Quantity: 500, AvgPrice: 100, HighWaterMark: 100}, 110, epoch)
	assert.Equal(t, 50.0, p.UnrealizedPnL)
	assert.Equal(t, 10.0, p.PnLPercent)
	assert.Equal(t, 110.0, p.HighWaterMark)

	p = mark(p, 105, epoch)
	assert.Equal(t, 25.0, p.UnrealizedPnL)
	assert.Equal(t, 110.0, p.HighWaterMark)

	unchanged := mark(p, 0, epoch)
	assert.Equal(t, p, unchanged)
}

func TestBookSnapshot(t *testing.T) {
	prev := db.RiskSnapshot{CashBalance: 9500, MaxEquity: 10100}
	dayStart := db.RiskSnapshot{TotalEquity: 10000}
	b := newBook(db.TenantBotConfig{TenantID: "t1", CapitalFloor: 0.97}, &prev, &dayStart, []db.Position{
		{Symbol: "BTC-USD", Quantity: 500, AvgPrice: 100, UnrealizedPnL: 50},
	}, 10000)

	s := b.snapshot(epoch)
	assert.Equal(t, 10050.0, s.TotalEquity)
	assert.Equal(t, 10100.0, s.MaxEquity)
	assert.InDelta(t, 9797.0, s.EquityFloor, 1e-9)
	assert.InDelta(t, 50.0/10100*100, s.DrawdownPct, 1e-4)
	assert.Equal(t, 50.0, s.DailyPnL)
	assert.Equal(t, 500.0, s.PositionsValue)
	assert.Equal(t, 9500.0, s.CashBalance)

	fresh := newBook(db.TenantBotConfig{TenantID: "t1", CapitalFloor: 0.97}, nil, nil, nil, 10000)
	s = fresh.snapshot(epoch)
	assert.Equal(t, 10000.0, s.TotalEquity)
	assert.Equal(t, 0.0, s.DailyPnL)
}

func TestTickOpensPositionWhenAllSignalsAgree(t *testing.T) {
	h := newHarness(t, fakeAnalyst{out: ai.Analysis{Regime: "Trend", Recommendation: indicators.ActionBuy, Confidence: 80}}, "BTC-USD")
	series := bullish(501)
	h.market.series["BTC-USD"] = series
	h.market.quotes["BTC-USD"] = series[len(series)-1] * 0.97
	trades, unsub := h.bus.Subscribe(events.EventTrade, 4)
	defer unsub()

	ctx := context.Background()
	require.NoError(t, h.engine.Tick(ctx))

	positions, err := h.q.ListPositions(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTC-USD", positions[0].Symbol)
	assert.Equal(t, 200.0, positions[0].Quantity)
	assert.Equal(t, h.market.quotes["BTC-USD"], positions[0].AvgPrice)
	assert.Equal(t, []db.Side{db.SideBuy}, h.exec.sides)

	snap, err := h.q.LatestRiskSnapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 9800.0, snap.CashBalance)
	assert.Equal(t, 200.0, snap.PositionsValue)
	assert.Equal(t, 10000.0, snap.TotalEquity)

	sig, err := h.q.LatestMarketSignal(ctx, "t1", "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, "BUY", sig.Recommendation)
	assert.Greater(t, sig.Confidence, risk.MinConfidence)

	env := <-trades
	assert.Equal(t, "BTC-USD", env.Symbol)
}

func TestTickRejectsWithoutAIBuy(t *testing.T) {
	h := newHarness(t, fakeAnalyst{out: ai.Analysis{Regime: "Trend", Recommendation: indicators.ActionHold, Confidence: 50}}, "BTC-USD")
	series := bullish(501)
	h.market.series["BTC-USD"] = series
	h.market.quotes["BTC-USD"] = series[len(series)-1] * 0.97
	rejections, unsub := h.bus.Subscribe(events.EventRejection, 4)
	defer unsub()

	ctx := context.Background()
	require.NoError(t, h.engine.Tick(ctx))

	positions, err := h.q.ListPositions(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, positions)
	assert.Empty(t, h.exec.sides)

	env := <-rejections
	p, ok := env.Data.(events.RejectionPayload)
	require.True(t, ok)
	assert.Equal(t, risk.CodeLowConfidence, p.Code)

	snap, err := h.q.LatestRiskSnapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, snap.CashBalance)
	assert.Equal(t, 10000.0, snap.MaxEquity)
}

func TestTickRejectsWhenPortfolioHeatTooHigh(t *testing.T) {
	h := newHarness(t, fakeAnalyst{out: ai.Analysis{Regime: "Trend", Recommendation: indicators.ActionBuy, Confidence: 80}}, "BTC-USD")
	h.relaxLimits(t, "BTC-USD")
	series := bullish(501)
	h.market.series["BTC-USD"] = series
	h.market.quotes["BTC-USD"] = series[len(series)-1] * 0.97
	// 10000 committed at a 3% stop against 1000 of equity is 30% heat.
	h.seedPosition(t, "SOL-USD", 10000, 100)
	h.market.quotes["SOL-USD"] = 10

	p := h.expectRejection(t, "BTC-USD")
	assert.Equal(t, risk.CodePortfolioHeat, p.Code)
	assert.Contains(t, p.Reason, "30.0%")
}

func TestTickRejectsCorrelatedEntry(t *testing.T) {
	h := newHarness(t, fakeAnalyst{out: ai.Analysis{Regime: "Trend", Recommendation: indicators.ActionBuy, Confidence: 80}}, "BTC-USD")
	series := bullish(501)
	h.market.series["BTC-USD"] = series
	h.market.quotes["BTC-USD"] = series[len(series)-1] * 0.97
	h.seedPosition(t, "ETH-USD", 200, 100)
	h.market.quotes["ETH-USD"] = 100

	tracking := make([]float64, len(series))
	for i, v := range series {
		tracking[i] = v / 20
	}
	h.series.Set("ETH-USD", tracking)

	p := h.expectRejection(t, "BTC-USD")
	assert.Equal(t, risk.CodeCorrelation, p.Code)
	assert.Contains(t, p.Reason, "ETH-USD")
}

func TestTickRejectsSizeAboveCash(t *testing.T) {
	h := newHarness(t, fakeAnalyst{out: ai.Analysis{Regime: "Trend", Recommendation: indicators.ActionBuy, Confidence: 80}}, "BTC-USD")
	series := bullish(501)
	h.market.series["BTC-USD"] = series
	h.market.quotes["BTC-USD"] = series[len(series)-1] * 0.97
	// Leaves 100 in cash while the heat-scaled size is about 160.
	h.seedPosition(t, "SOL-USD", 9900, 100)
	h.market.quotes["SOL-USD"] = 100

	p := h.expectRejection(t, "BTC-USD")
	assert.Equal(t, risk.CodeInsufficientCash, p.Code)

	snap, err := h.q.LatestRiskSnapshot(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, snap.CashBalance)
}

func TestTickRejectsSizeBelowMinimum(t *testing.T) {
	h := newHarness(t, fakeAnalyst{out: ai.Analysis{Regime: "Trend", Recommendation: indicators.ActionBuy, Confidence: 80}}, "BTC-USD")
	h.relaxLimits(t, "BTC-USD")
	series := bullish(501)
	h.market.series["BTC-USD"] = series
	h.market.quotes["BTC-USD"] = series[len(series)-1] * 0.97
	// 5% of 150 is under the 10 minimum.
	require.NoError(t, h.q.InsertRiskSnapshot(context.Background(), db.RiskSnapshot{
		ID: "seed-snap", TenantID: "t1", TotalEquity: 150, MaxEquity: 10000,
		CashBalance: 150, CreatedAt: epoch.Add(-time.Minute),
	}))

	p := h.expectRejection(t, "BTC-USD")
	assert.Equal(t, risk.CodeSizeTooSmall, p.Code)
}

func TestTickTakesProfit(t *testing.T) {
	h := newHarness(t, fakeAnalyst{out: ai.Analysis{Recommendation: indicators.ActionHold, Confidence: 50}}, "ETH-USD")
	h.seedPosition(t, "ETH-USD", 500, 100)
	h.market.series["ETH-USD"] = choppy(200)
	h.market.quotes["ETH-USD"] = 106

	ctx := context.Background()
	require.NoError(t, h.engine.Tick(ctx))

	positions, err := h.q.ListPositions(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, positions)

	trades, err := h.q.ListTrades(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	sell := trades[0]
	assert.Equal(t, db.SideSell, sell.Side)
	assert.Equal(t, "Profit target reached (+5%)", sell.Reasoning)
	require.NotNil(t, sell.RealizedPnL)
	assert.Equal(t, 30.0, *sell.RealizedPnL)
	require.NotNil(t, sell.PnLPercent)
	assert.Equal(t, 6.0, *sell.PnLPercent)

	snap, err := h.q.LatestRiskSnapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 10030.0, snap.CashBalance)
	assert.Equal(t, 10030.0, snap.TotalEquity)
	assert.Equal(t, 10030.0, snap.MaxEquity)
	assert.Equal(t, 0.0, snap.PositionsValue)
}

func TestTickHardStop(t *testing.T) {
	h := newHarness(t, fakeAnalyst{out: ai.Analysis{Recommendation: indicators.ActionHold, Confidence: 50}}, "ETH-USD")
	h.seedPosition(t, "ETH-USD", 500, 100)
	h.market.series["ETH-USD"] = choppy(200)
	h.market.quotes["ETH-USD"] = 96

	ctx := context.Background()
	require.NoError(t, h.engine.Tick(ctx))

	trades, err := h.q.ListTrades(ctx, "t1", 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "Stop loss triggered (-3%)", trades[0].Reasoning)
	assert.Equal(t, -20.0, *trades[0].RealizedPnL)

	snap, err := h.q.LatestRiskSnapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 9980.0, snap.CashBalance)
	assert.Equal(t, 10000.0, snap.MaxEquity)
}

func TestFailedSellLeavesPositionOpen(t *testing.T) {
	h := newHarness(t, fakeAnalyst{out: ai.Analysis{Recommendation: indicators.ActionHold, Confidence: 50}}, "ETH-USD")
	h.seedPosition(t, "ETH-USD", 500, 100)
	h.market.series["ETH-USD"] = choppy(200)
	h.market.quotes["ETH-USD"] = 96
	h.exec.fail = true

	ctx := context.Background()
	require.NoError(t, h.engine.Tick(ctx))

	positions, err := h.q.ListPositions(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, -20.0, positions[0].UnrealizedPnL)

	snap, err := h.q.LatestRiskSnapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 9500.0, snap.CashBalance)
	assert.Equal(t, 9980.0, snap.TotalEquity)
}

func TestMaxEquityNeverDecreases(t *testing.T) {
	h := newHarness(t, fakeAnalyst{out: ai.Analysis{Recommendation: indicators.ActionHold, Confidence: 50}}, "ETH-USD")
	h.seedPosition(t, "ETH-USD", 500, 100)
	h.market.series["ETH-USD"] = choppy(200)

	ctx := context.Background()
	for _, price := range []float64{104, 101, 98} {
		h.market.setQuote("ETH-USD", price)
		require.NoError(t, h.engine.Tick(ctx))
		h.clock.Advance(time.Minute)
	}

	snaps, err := h.q.ListRiskSnapshots(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, snaps, 4)
	assert.Equal(t, []float64{10000, 10020, 10005, 9990}, []float64{
		snaps[0].TotalEquity, snaps[1].TotalEquity, snaps[2].TotalEquity, snaps[3].TotalEquity,
	})
	for i := 1; i < len(snaps); i++ {
		assert.GreaterOrEqual(t, snaps[i].MaxEquity, snaps[i-1].MaxEquity)
	}
	assert.Equal(t, 10020.0, snaps[3].MaxEquity)
	assert.InDelta(t, 30.0/10020*100, snaps[3].DrawdownPct, 1e-4)
	assert.Equal(t, -10.0, snaps[3].DailyPnL)

	positions, err := h.q.ListPositions(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 104.0, positions[0].HighWaterMark)
}

func TestSymbolFailureDoesNotStopTick(t *testing.T) {
	h := newHarness(t, fakeAnalyst{err: errors.New("model timeout")}, "BTC-USD", "ETH-USD")
	h.market.down["BTC-USD"] = true
	h.market.series["ETH-USD"] = choppy(200)
	h.market.quotes["ETH-USD"] = 100

	ctx := context.Background()
	require.NoError(t, h.engine.Tick(ctx))

	_, err := h.q.LatestMarketSignal(ctx, "t1", "BTC-USD")
	assert.ErrorIs(t, err, db.ErrNotFound)

	sig, err := h.q.LatestMarketSignal(ctx, "t1", "ETH-USD")
	require.NoError(t, err)
	assert.Equal(t, "HOLD", sig.Recommendation)

	_, err = h.q.LatestRiskSnapshot(ctx, "t1")
	require.NoError(t, err)
}

func TestInactiveTenantDoesNothing(t *testing.T) {
	h := newHarness(t, fakeAnalyst{}, "BTC-USD")
	ctx := context.Background()
	require.NoError(t, h.q.SetBotActive(ctx, "t1", false))

	require.NoError(t, h.engine.Tick(ctx))
	_, err := h.q.LatestRiskSnapshot(ctx, "t1")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestRunTicksOnClockAndStops(t *testing.T) {
	h := newHarness(t, fakeAnalyst{out: ai.Analysis{Recommendation: indicators.ActionHold, Confidence: 50}}, "ETH-USD")
	h.market.series["ETH-USD"] = choppy(200)
	h.market.quotes["ETH-USD"] = 100

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.engine.Run(ctx)
	}()

	countSnapshots := func() int {
		snaps, err := h.q.ListRiskSnapshots(context.Background(), "t1", 100)
		if err != nil {
			return -1
		}
		return len(snaps)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, h.clock.BlockUntilContext(waitCtx, 1))
	require.Eventually(t, func() bool { return countSnapshots() == 1 }, 2*time.Second, 5*time.Millisecond)
	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return countSnapshots() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, 2, countSnapshots())
}
