package db

import "fmt"

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS missions (
    id TEXT PRIMARY KEY,
    signal_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    tier TEXT NOT NULL,
    symbol TEXT NOT NULL,
    direction TEXT NOT NULL,
    pattern TEXT,
    confidence REAL NOT NULL,
    entry REAL NOT NULL,
    stop REAL NOT NULL,
    target REAL NOT NULL,
    state TEXT NOT NULL,
    reason_code TEXT,
    order_id TEXT,
    signal_ts DATETIME NOT NULL,
    created_at DATETIME NOT NULL,
    expires_at DATETIME NOT NULL,
    closed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_missions_state ON missions(state);
CREATE INDEX IF NOT EXISTS idx_missions_user ON missions(user_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_missions_order ON missions(order_id) WHERE order_id IS NOT NULL AND order_id != '';

CREATE TABLE IF NOT EXISTS fire_orders (
    order_id TEXT PRIMARY KEY,
    mission_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    direction TEXT NOT NULL,
    volume REAL NOT NULL,
    entry REAL NOT NULL,
    stop REAL NOT NULL,
    target REAL NOT NULL,
    risk_percent_used REAL NOT NULL,
    dispatched_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS confirmations (
    order_id TEXT NOT NULL,
    status TEXT NOT NULL,
    ticket TEXT,
    fill_price REAL,
    balance REAL,
    received_at DATETIME NOT NULL,
    PRIMARY KEY (order_id, status)
);

CREATE TABLE IF NOT EXISTS outcomes (
    order_id TEXT PRIMARY KEY,
    mission_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    pattern TEXT,
    mode TEXT,
    result TEXT NOT NULL,
    exit_price REAL,
    pips REAL,
    duration_ns INTEGER,
    max_adverse_pips REAL,
    max_favorable_pips REAL,
    entry_quality TEXT,
    resolved_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS user_risk_profiles (
    user_id TEXT PRIMARY KEY,
    tier TEXT NOT NULL,
    max_concurrent_slots INTEGER NOT NULL,
    risk_percent REAL NOT NULL,
    confidence_floor REAL NOT NULL,
    daily_loss_cap INTEGER NOT NULL,
    halve_after_losses INTEGER NOT NULL,
    cooldown_minutes INTEGER NOT NULL DEFAULT 0,
    balance REAL NOT NULL DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
