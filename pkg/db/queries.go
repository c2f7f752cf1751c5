// Package db provides tenant-isolated SQLite persistence for bot state.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrTenantIDRequired  = errors.New("tenant_id is required for data isolation")
	ErrNotFound          = errors.New("record not found")
	ErrDuplicatePosition = errors.New("open position already exists for symbol")
)

// TenantQueries provides tenant-isolated database queries.
type TenantQueries struct {
	db *sql.DB
}

// NewTenantQueries creates a new TenantQueries instance.
func NewTenantQueries(db *sql.DB) *TenantQueries {
	return &TenantQueries{db: db}
}

// Queries returns tenant-scoped queries over this database.
func (d *Database) Queries() *TenantQueries {
	return NewTenantQueries(d.DB)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ----------------------------------------
// Bot config
// ----------------------------------------

const upsertBotConfigSQL = `
	INSERT INTO tenant_bot_configs (tenant_id, is_active, capital_floor, max_daily_loss, target_volatility, symbols, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(tenant_id) DO UPDATE SET
		is_active = excluded.is_active,
		capital_floor = excluded.capital_floor,
		max_daily_loss = excluded.max_daily_loss,
		target_volatility = excluded.target_volatility,
		symbols = excluded.symbols,
		updated_at = excluded.updated_at
`

// GetBotConfig returns the tenant's bot config.
func (q *TenantQueries) GetBotConfig(ctx context.Context, tenantID string) (TenantBotConfig, error) {
	if tenantID == "" {
		return TenantBotConfig{}, ErrTenantIDRequired
	}
	c, err := scanBotConfig(q.db.QueryRowContext(ctx, `SELECT `+botConfigColumns+` FROM tenant_bot_configs WHERE tenant_id = ?`, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("query bot config: %w", err)
	}
	return c, nil
}

// UpsertBotConfig creates or replaces the tenant's bot config.
func (q *TenantQueries) UpsertBotConfig(ctx context.Context, c TenantBotConfig) error {
	if c.TenantID == "" {
		return ErrTenantIDRequired
	}
	_, err := q.db.ExecContext(ctx, upsertBotConfigSQL, c.TenantID, c.Active, c.CapitalFloor, c.MaxDailyLoss,
		c.TargetVolatility, joinSymbols(c.Symbols), toMillis(c.UpdatedAt))
	return err
}

// SetBotActive flips the active flag; ErrNotFound when no config exists.
func (q *TenantQueries) SetBotActive(ctx context.Context, tenantID string, active bool) error {
	if tenantID == "" {
		return ErrTenantIDRequired
	}
	res, err := q.db.ExecContext(ctx, `UPDATE tenant_bot_configs SET is_active = ?, updated_at = ? WHERE tenant_id = ?`,
		active, time.Now().UnixMilli(), tenantID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ----------------------------------------
// Positions
// ----------------------------------------

const positionColumns = `tenant_id, symbol, quantity, avg_price, current_price, unrealized_pnl, pnl_percent,
	high_water_mark, created_at, updated_at`

func scanPosition(row scanner) (Position, error) {
	var (
		p                Position
		created, updated int64
	)
	err := row.Scan(&p.TenantID, &p.Symbol, &p.Quantity, &p.AvgPrice, &p.CurrentPrice, &p.UnrealizedPnL,
		&p.PnLPercent, &p.HighWaterMark, &created, &updated)
	if err != nil {
		return p, err
	}
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	return p, nil
}

// ListPositions returns all open positions for a tenant.
func (q *TenantQueries) ListPositions(ctx context.Context, tenantID string) ([]Position, error) {
	if tenantID == "" {
		return nil, ErrTenantIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE tenant_id = ? ORDER BY symbol`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetPosition returns the open position for symbol.
func (q *TenantQueries) GetPosition(ctx context.Context, tenantID, symbol string) (Position, error) {
	if tenantID == "" {
		return Position{}, ErrTenantIDRequired
	}
	p, err := scanPosition(q.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE tenant_id = ? AND symbol = ?`, tenantID, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

func insertPosition(ctx context.Context, ex execer, p Position) error {
	res, err := ex.ExecContext(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, symbol) DO NOTHING
	`, p.TenantID, p.Symbol, p.Quantity, p.AvgPrice, p.CurrentPrice, p.UnrealizedPnL, p.PnLPercent,
		p.HighWaterMark, toMillis(p.CreatedAt), toMillis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%s/%s: %w", p.TenantID, p.Symbol, ErrDuplicatePosition)
	}
	return nil
}

// CreatePosition inserts a new position; ErrDuplicatePosition if one is open.
func (q *TenantQueries) CreatePosition(ctx context.Context, p Position) error {
	if p.TenantID == "" {
		return ErrTenantIDRequired
	}
	return insertPosition(ctx, q.db, p)
}

// UpdatePositionMarks refreshes the mark-to-market fields of a position.
func (q *TenantQueries) UpdatePositionMarks(ctx context.Context, p Position) error {
	if p.TenantID == "" {
		return ErrTenantIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE positions
		SET current_price = ?, unrealized_pnl = ?, pnl_percent = ?, high_water_mark = ?, updated_at = ?
		WHERE tenant_id = ? AND symbol = ?
	`, p.CurrentPrice, p.UnrealizedPnL, p.PnLPercent, p.HighWaterMark, toMillis(p.UpdatedAt), p.TenantID, p.Symbol)
	return err
}

// ----------------------------------------
// Trades
// ----------------------------------------

func insertTrade(ctx context.Context, ex execer, t Trade) error {
	if t.TenantID == "" {
		return ErrTenantIDRequired
	}
	_, err := ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades (
			id, tenant_id, order_id, symbol, side, order_type, quantity, price, status,
			reasoning, regime, realized_pnl, pnl_percent, created_at, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.TenantID, t.OrderID, t.Symbol, t.Side, t.Type, t.Quantity, t.Price, t.Status,
		t.Reasoning, t.Regime, nullFloat(t.RealizedPnL), nullFloat(t.PnLPercent),
		toMillis(t.CreatedAt), toMillis(t.ExecutedAt))
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// InsertTrade appends a trade; re-inserting the same id is a no-op.
func (q *TenantQueries) InsertTrade(ctx context.Context, t Trade) error {
	return insertTrade(ctx, q.db, t)
}

// RecordBuy appends the buy trade and opens the position atomically.
func (q *TenantQueries) RecordBuy(ctx context.Context, t Trade, p Position) error {
	if p.TenantID == "" || t.TenantID == "" {
		return ErrTenantIDRequired
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertTrade(ctx, tx, t); err != nil {
		return err
	}
	if err := insertPosition(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordSell appends the sell trade and closes the position atomically.
func (q *TenantQueries) RecordSell(ctx context.Context, t Trade) error {
	if t.TenantID == "" {
		return ErrTenantIDRequired
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertTrade(ctx, tx, t); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE tenant_id = ? AND symbol = ?`, t.TenantID, t.Symbol); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return tx.Commit()
}

// ListTrades returns the most recent trades, newest first.
func (q *TenantQueries) ListTrades(ctx context.Context, tenantID string, limit int) ([]Trade, error) {
	if tenantID == "" {
		return nil, ErrTenantIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, tenant_id, COALESCE(order_id, ''), symbol, side, order_type, quantity, price, status,
		       COALESCE(reasoning, ''), COALESCE(regime, ''), realized_pnl, pnl_percent, created_at, executed_at
		FROM trades
		WHERE tenant_id = ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var (
			t                 Trade
			pnl, pnlPct       sql.NullFloat64
			created, executed int64
		)
		if err := rows.Scan(&t.ID, &t.TenantID, &t.OrderID, &t.Symbol, &t.Side, &t.Type, &t.Quantity, &t.Price, &t.Status,
			&t.Reasoning, &t.Regime, &pnl, &pnlPct, &created, &executed); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.RealizedPnL = floatPtr(pnl)
		t.PnLPercent = floatPtr(pnlPct)
		t.CreatedAt = fromMillis(created)
		t.ExecutedAt = fromMillis(executed)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ----------------------------------------
// Risk snapshots
// ----------------------------------------

const snapshotColumns = `id, tenant_id, total_equity, max_equity, capital_floor, drawdown_pct, daily_pnl,
	positions_value, cash_balance, created_at`

func scanSnapshot(row scanner) (RiskSnapshot, error) {
	var (
		s       RiskSnapshot
		created int64
	)
	err := row.Scan(&s.ID, &s.TenantID, &s.TotalEquity, &s.MaxEquity, &s.CapitalFloor, &s.DrawdownPct, &s.DailyPnL,
		&s.PositionsValue, &s.CashBalance, &created)
	if err != nil {
		return s, err
	}
	s.EquityFloor = s.MaxEquity * s.CapitalFloor
	s.CreatedAt = fromMillis(created)
	return s, nil
}

// InsertRiskSnapshot appends a snapshot; re-inserting the same id is a no-op.
func (q *TenantQueries) InsertRiskSnapshot(ctx context.Context, s RiskSnapshot) error {
	if s.TenantID == "" {
		return ErrTenantIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO risk_snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.TenantID, s.TotalEquity, s.MaxEquity, s.CapitalFloor, s.DrawdownPct, s.DailyPnL,
		s.PositionsValue, s.CashBalance, toMillis(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert risk snapshot: %w", err)
	}
	return nil
}

// LatestRiskSnapshot returns the newest snapshot for a tenant.
func (q *TenantQueries) LatestRiskSnapshot(ctx context.Context, tenantID string) (RiskSnapshot, error) {
	if tenantID == "" {
		return RiskSnapshot{}, ErrTenantIDRequired
	}
	s, err := scanSnapshot(q.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+`
		FROM risk_snapshots WHERE tenant_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

// FirstSnapshotSince returns the oldest snapshot taken at or after since.
func (q *TenantQueries) FirstSnapshotSince(ctx context.Context, tenantID string, since time.Time) (RiskSnapshot, error) {
	if tenantID == "" {
		return RiskSnapshot{}, ErrTenantIDRequired
	}
	s, err := scanSnapshot(q.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+`
		FROM risk_snapshots WHERE tenant_id = ? AND created_at >= ? ORDER BY created_at, rowid LIMIT 1`,
		tenantID, since.UnixMilli()))
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

// ListRiskSnapshots returns up to limit of the newest snapshots in
// chronological order.
func (q *TenantQueries) ListRiskSnapshots(ctx context.Context, tenantID string, limit int) ([]RiskSnapshot, error) {
	if tenantID == "" {
		return nil, ErrTenantIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `SELECT * FROM (
		SELECT `+snapshotColumns+`, rowid AS seq FROM risk_snapshots
		WHERE tenant_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?
	) ORDER BY created_at, seq`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query risk snapshots: %w", err)
	}
	defer rows.Close()

	var res []RiskSnapshot
	for rows.Next() {
		var (
			s       RiskSnapshot
			created int64
			seq     int64
		)
		if err := rows.Scan(&s.ID, &s.TenantID, &s.TotalEquity, &s.MaxEquity, &s.CapitalFloor, &s.DrawdownPct,
			&s.DailyPnL, &s.PositionsValue, &s.CashBalance, &created, &seq); err != nil {
			return nil, fmt.Errorf("scan risk snapshot: %w", err)
		}
		s.EquityFloor = s.MaxEquity * s.CapitalFloor
		s.CreatedAt = fromMillis(created)
		res = append(res, s)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Market signals
// ----------------------------------------

// InsertMarketSignal stores a signal; re-inserting the same id is a no-op.
func (q *TenantQueries) InsertMarketSignal(ctx context.Context, s MarketSignal) error {
	if s.TenantID == "" {
		return ErrTenantIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO market_signals (id, tenant_id, symbol, regime, confidence, recommendation, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.TenantID, s.Symbol, s.Regime, s.Confidence, s.Recommendation, string(s.Payload), toMillis(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert market signal: %w", err)
	}
	return nil
}

// LatestMarketSignal returns the newest signal for a tenant and symbol.
func (q *TenantQueries) LatestMarketSignal(ctx context.Context, tenantID, symbol string) (MarketSignal, error) {
	if tenantID == "" {
		return MarketSignal{}, ErrTenantIDRequired
	}
	var (
		s       MarketSignal
		payload sql.NullString
		created int64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, symbol, regime, confidence, recommendation, payload, created_at
		FROM market_signals
		WHERE tenant_id = ? AND symbol = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1
	`, tenantID, symbol).Scan(&s.ID, &s.TenantID, &s.Symbol, &s.Regime, &s.Confidence, &s.Recommendation, &payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, fmt.Errorf("query market signal: %w", err)
	}
	if payload.Valid && payload.String != "" {
		s.Payload = []byte(payload.String)
	}
	s.CreatedAt = fromMillis(created)
	return s, nil
}

// ----------------------------------------
// Pending orders
// ----------------------------------------

// InsertPendingOrder stores a new conditional order; re-inserting the same id
// is a no-op.
func (q *TenantQueries) InsertPendingOrder(ctx context.Context, o PendingOrder) error {
	if o.TenantID == "" {
		return ErrTenantIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO pending_orders (
			id, tenant_id, symbol, order_type, side, quantity, limit_price, stop_price,
			take_profit, stop_loss, status, fired_leg, filled_price, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.TenantID, o.Symbol, o.Type, o.Side, o.Quantity, o.LimitPrice, o.StopPrice,
		o.TakeProfit, o.StopLoss, o.Status, o.FiredLeg, o.FilledPrice, toMillis(o.CreatedAt), toMillis(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert pending order: %w", err)
	}
	return nil
}

// ListPendingOrdersByTenant returns the tenant's PENDING orders, oldest first.
func (q *TenantQueries) ListPendingOrdersByTenant(ctx context.Context, tenantID string) ([]PendingOrder, error) {
	if tenantID == "" {
		return nil, ErrTenantIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `SELECT `+pendingOrderColumns+`
		FROM pending_orders WHERE tenant_id = ? AND status = ? ORDER BY created_at, id`, tenantID, StatusPending)
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
