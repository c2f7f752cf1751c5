package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Side is the direction of an order or fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType distinguishes market fills from conditional orders.
type OrderType string

const (
	OrderMarket    OrderType = "MARKET"
	OrderLimit     OrderType = "LIMIT"
	OrderStopLimit OrderType = "STOP_LIMIT"
	OrderOCO       OrderType = "OCO"
)

// OrderStatus is the lifecycle state of a pending order or trade.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusExecuted  OrderStatus = "EXECUTED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusFilled    OrderStatus = "FILLED"
)

// TenantBotConfig is the per-tenant desired state read on every tick.
type TenantBotConfig struct {
	TenantID         string    `json:"tenant_id"`
	Active           bool      `json:"is_active"`
	CapitalFloor     float64   `json:"capital_floor"`  // fraction of max equity, e.g. 0.97
	MaxDailyLoss     float64   `json:"max_daily_loss"` // fraction of max equity, e.g. 0.015
	TargetVolatility float64   `json:"target_volatility"`
	Symbols          []string  `json:"symbols"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Position is an open long position. Quantity is capital committed in quote
// currency, not a unit count.
type Position struct {
	TenantID      string    `json:"tenant_id"`
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	AvgPrice      float64   `json:"avg_price"`
	CurrentPrice  float64   `json:"current_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	PnLPercent    float64   `json:"pnl_percent"`
	HighWaterMark float64   `json:"high_water_mark"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Trade is an immutable fill record.
type Trade struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	OrderID     string      `json:"order_id,omitempty"`
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Type        OrderType   `json:"order_type"`
	Quantity    float64     `json:"quantity"`
	Price       float64     `json:"price"`
	Status      OrderStatus `json:"status"`
	Reasoning   string      `json:"reasoning"`
	Regime      string      `json:"regime,omitempty"`
	RealizedPnL *float64    `json:"realized_pnl,omitempty"` // sells only
	PnLPercent  *float64    `json:"pnl_percent,omitempty"`  // sells only
	CreatedAt   time.Time   `json:"created_at"`
	ExecutedAt  time.Time   `json:"executed_at"`
}

// RiskSnapshot is appended once per tick. EquityFloor is derived from
// MaxEquity and CapitalFloor when read and is never stored on its own.
type RiskSnapshot struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	TotalEquity    float64   `json:"total_equity"`
	MaxEquity      float64   `json:"max_equity"`
	CapitalFloor   float64   `json:"capital_floor"`
	EquityFloor    float64   `json:"equity_floor"`
	DrawdownPct    float64   `json:"current_drawdown"`
	DailyPnL       float64   `json:"daily_pnl"`
	PositionsValue float64   `json:"positions_value"`
	CashBalance    float64   `json:"cash_balance"`
	CreatedAt      time.Time `json:"timestamp"`
}

// MarketSignal records the inputs and verdict for one symbol on one tick.
type MarketSignal struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	Symbol         string          `json:"symbol"`
	Regime         string          `json:"regime"`
	Confidence     float64         `json:"confidence"`
	Recommendation string          `json:"recommendation"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"timestamp"`
}

// PendingOrder is a conditional order awaiting its trigger.
type PendingOrder struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	Symbol      string      `json:"symbol"`
	Type        OrderType   `json:"order_type"`
	Side        Side        `json:"side"`
	Quantity    float64     `json:"quantity"`
	LimitPrice  float64     `json:"limit_price,omitempty"`
	StopPrice   float64     `json:"stop_price,omitempty"`
	TakeProfit  float64     `json:"take_profit,omitempty"`
	StopLoss    float64     `json:"stop_loss,omitempty"`
	Status      OrderStatus `json:"status"`
	FiredLeg    string      `json:"fired_leg,omitempty"`
	FilledPrice float64     `json:"filled_price,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func joinSymbols(symbols []string) string {
	return strings.Join(symbols, ",")
}

func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

type scanner interface {
	Scan(dest ...any) error
}

const botConfigColumns = `tenant_id, is_active, capital_floor, max_daily_loss, target_volatility, symbols, updated_at`

func scanBotConfig(row scanner) (TenantBotConfig, error) {
	var (
		c       TenantBotConfig
		active  int
		symbols string
		updated int64
	)
	if err := row.Scan(&c.TenantID, &active, &c.CapitalFloor, &c.MaxDailyLoss, &c.TargetVolatility, &symbols, &updated); err != nil {
		return c, err
	}
	c.Active = active == 1
	c.Symbols = splitSymbols(symbols)
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}

const pendingOrderColumns = `id, tenant_id, symbol, order_type, side, quantity, limit_price, stop_price,
	take_profit, stop_loss, status, COALESCE(fired_leg, ''), COALESCE(filled_price, 0), created_at, updated_at`

func scanPendingOrder(row scanner) (PendingOrder, error) {
	var (
		o                PendingOrder
		created, updated int64
	)
	err := row.Scan(&o.ID, &o.TenantID, &o.Symbol, &o.Type, &o.Side, &o.Quantity, &o.LimitPrice, &o.StopPrice,
		&o.TakeProfit, &o.StopLoss, &o.Status, &o.FiredLeg, &o.FilledPrice, &created, &updated)
	if err != nil {
		return o, err
	}
	o.CreatedAt = fromMillis(created)
	o.UpdatedAt = fromMillis(updated)
	return o, nil
}

// ListActiveConfigs returns every tenant whose bot should be running.
func (d *Database) ListActiveConfigs(ctx context.Context) ([]TenantBotConfig, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT `+botConfigColumns+` FROM tenant_bot_configs WHERE is_active = 1 ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("query active configs: %w", err)
	}
	defer rows.Close()

	var res []TenantBotConfig
	for rows.Next() {
		c, err := scanBotConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot config: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// SyncBotConfigs upserts seed configs in a single transaction.
func (d *Database) SyncBotConfigs(ctx context.Context, configs []TenantBotConfig) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertBotConfigSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range configs {
		if c.TenantID == "" {
			return ErrTenantIDRequired
		}
		if _, err := stmt.ExecContext(ctx, c.TenantID, c.Active, c.CapitalFloor, c.MaxDailyLoss,
			c.TargetVolatility, joinSymbols(c.Symbols), toMillis(c.UpdatedAt)); err != nil {
			return fmt.Errorf("upsert bot config %s: %w", c.TenantID, err)
		}
	}
	return tx.Commit()
}

// ListPendingOrders returns all PENDING orders across tenants, oldest first.
func (d *Database) ListPendingOrders(ctx context.Context) ([]PendingOrder, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT `+pendingOrderColumns+`
		FROM pending_orders WHERE status = ? ORDER BY created_at, id`, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("query pending orders: %w", err)
	}
	defer rows.Close()

	var res []PendingOrder
	for rows.Next() {
		o, err := scanPendingOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending order: %w", err)
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// GetPendingOrder loads an order by id regardless of status.
func (d *Database) GetPendingOrder(ctx context.Context, id string) (PendingOrder, error) {
	o, err := scanPendingOrder(d.DB.QueryRowContext(ctx, `SELECT `+pendingOrderColumns+` FROM pending_orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNotFound
	}
	return o, err
}

// TransitionPendingOrder moves a PENDING order to a terminal status. It
// reports ErrNotFound when the order is missing or no longer pending.
func (d *Database) TransitionPendingOrder(ctx context.Context, id string, status OrderStatus, filledPrice float64, firedLeg string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE pending_orders
		SET status = ?, filled_price = ?, fired_leg = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, status, filledPrice, firedLeg, time.Now().UnixMilli(), id, StatusPending)
	if err != nil {
		return fmt.Errorf("update pending order %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExecutePendingOrder marks the order EXECUTED and appends its trade in one
// transaction. A retried call after success changes nothing.
func (d *Database) ExecutePendingOrder(ctx context.Context, o PendingOrder, t Trade) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE pending_orders
		SET status = ?, filled_price = ?, fired_leg = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, StatusExecuted, o.FilledPrice, o.FiredLeg, time.Now().UnixMilli(), o.ID, StatusPending)
	if err != nil {
		return fmt.Errorf("update pending order %s: %w", o.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	if err := insertTrade(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit()
}
