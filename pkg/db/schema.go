package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS tenant_bot_configs (
    tenant_id TEXT PRIMARY KEY,
    is_active INTEGER NOT NULL DEFAULT 0,
    capital_floor REAL NOT NULL,
    max_daily_loss REAL NOT NULL,
    target_volatility REAL NOT NULL,
    symbols TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    tenant_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    quantity REAL NOT NULL,
    avg_price REAL NOT NULL,
    current_price REAL NOT NULL,
    unrealized_pnl REAL DEFAULT 0,
    pnl_percent REAL DEFAULT 0,
    high_water_mark REAL NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE(tenant_id, symbol)
);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    order_type TEXT NOT NULL,
    quantity REAL NOT NULL,
    price REAL NOT NULL,
    status TEXT NOT NULL,
    reasoning TEXT,
    regime TEXT,
    realized_pnl REAL,
    pnl_percent REAL,
    created_at INTEGER NOT NULL,
    executed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_tenant ON trades(tenant_id, executed_at);

CREATE TABLE IF NOT EXISTS risk_snapshots (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    total_equity REAL NOT NULL,
    max_equity REAL NOT NULL,
    capital_floor REAL NOT NULL,
    drawdown_pct REAL NOT NULL,
    daily_pnl REAL NOT NULL,
    positions_value REAL NOT NULL,
    cash_balance REAL NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_risk_snapshots_tenant ON risk_snapshots(tenant_id, created_at);

CREATE TABLE IF NOT EXISTS market_signals (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    regime TEXT NOT NULL,
    confidence REAL NOT NULL,
    recommendation TEXT NOT NULL,
    payload TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_market_signals_symbol ON market_signals(tenant_id, symbol, created_at);

CREATE TABLE IF NOT EXISTS pending_orders (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    order_type TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity REAL NOT NULL,
    limit_price REAL DEFAULT 0,
    stop_price REAL DEFAULT 0,
    take_profit REAL DEFAULT 0,
    stop_loss REAL DEFAULT 0,
    status TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_orders_status ON pending_orders(status);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d.DB, "pending_orders", "filled_price", "REAL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "pending_orders", "fired_leg", "TEXT DEFAULT ''"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trades", "order_id", "TEXT DEFAULT ''"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
