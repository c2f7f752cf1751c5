package bot

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tradebot-core/pkg/db"
)

// book is a tenant's portfolio as it evolves within one tick. It is seeded
// from the latest snapshot and the open positions, and folded into a new
// snapshot at the end of the tick.
type book struct {
	tenantID     string
	capitalFloor float64
	cash         float64
	maxEquity    float64
	// total equity of the first snapshot of the current UTC day; nil when
	// this tick will write that snapshot
	dayStart  *float64
	positions map[string]db.Position
}

func newBook(cfg db.TenantBotConfig, prev *db.RiskSnapshot, dayStart *db.RiskSnapshot, positions []db.Position, initialCapital float64) *book {
	b := &book{
		tenantID:     cfg.TenantID,
		capitalFloor: cfg.CapitalFloor,
		cash:         initialCapital,
		maxEquity:    initialCapital,
		positions:    make(map[string]db.Position, len(positions)),
	}
	if prev != nil {
		b.cash = prev.CashBalance
		b.maxEquity = prev.MaxEquity
	}
	if dayStart != nil {
		v := dayStart.TotalEquity
		b.dayStart = &v
	}
	for _, p := range positions {
		b.positions[p.Symbol] = p
	}
	return b
}

// list returns the open positions ordered by symbol.
func (b *book) list() []db.Position {
	out := make([]db.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// snapshot values the book. Equity is cash plus committed capital plus
// unrealized P&L; max equity never decreases.
func (b *book) snapshot(now time.Time) db.RiskSnapshot {
	var committed, unrealized float64
	for _, p := range b.positions {
		committed += p.Quantity
		unrealized += p.UnrealizedPnL
	}
	total := money(b.cash + committed + unrealized)
	b.maxEquity = math.Max(b.maxEquity, total)

	drawdown := 0.0
	if b.maxEquity > 0 {
		drawdown = (b.maxEquity - total) / b.maxEquity * 100
	}
	daily := 0.0
	if b.dayStart != nil {
		daily = total - *b.dayStart
	}
	return db.RiskSnapshot{
		TenantID:       b.tenantID,
		TotalEquity:    total,
		MaxEquity:      b.maxEquity,
		CapitalFloor:   b.capitalFloor,
		EquityFloor:    b.maxEquity * b.capitalFloor,
		DrawdownPct:    round(drawdown, 4),
		DailyPnL:       money(daily),
		PositionsValue: money(committed),
		CashBalance:    money(b.cash),
		CreatedAt:      now,
	}
}

// mark revalues p at price. Quantity is capital committed, so the position
// is worth quantity/avgPrice units times price.
func mark(p db.Position, price float64, now time.Time) db.Position {
	if price <= 0 {
		return p
	}
	p.CurrentPrice = price
	if p.AvgPrice > 0 {
		value := p.Quantity / p.AvgPrice * price
		p.UnrealizedPnL = money(value - p.Quantity)
	}
	if p.Quantity > 0 {
		p.PnLPercent = round(p.UnrealizedPnL/p.Quantity*100, 4)
	}
	if price > p.HighWaterMark {
		p.HighWaterMark = price
	}
	p.UpdatedAt = now
	return p
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func money(v float64) float64 { return round(v, 2) }

func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
