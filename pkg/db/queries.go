// Package db persists the mission lifecycle so a restart can rebuild the
// in-memory store. SQLite is the mirror, never the hot path: every write
// here happens after the in-memory transition already applied.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"signal-core/internal/mission"
	"signal-core/internal/risk"
)

var ErrNotFound = errors.New("record not found")

// Queries provides mission persistence operations.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a Queries instance.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// UpsertMission writes the mission's current state. Called on create and on
// every transition.
func (q *Queries) UpsertMission(ctx context.Context, m mission.Mission) error {
	var closedAt any
	if !m.ClosedAt.IsZero() {
		closedAt = m.ClosedAt
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO missions (id, signal_id, user_id, tier, symbol, direction, pattern,
			confidence, entry, stop, target, state, reason_code, order_id,
			signal_ts, created_at, expires_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			reason_code = excluded.reason_code,
			order_id = excluded.order_id,
			closed_at = excluded.closed_at
	`, m.ID, m.Signal.ID, m.UserID, m.Tier, m.Signal.Symbol, m.Signal.Direction,
		m.Signal.Pattern, m.Signal.Confidence, m.Signal.Entry, m.Signal.Stop,
		m.Signal.Target, m.State, m.ReasonCode, m.OrderID,
		m.Signal.GeneratedAt, m.CreatedAt, m.ExpiresAt, closedAt)
	if err != nil {
		return fmt.Errorf("upsert mission %s: %w", m.ID, err)
	}
	return nil
}

// InsertOrder records a dispatched fire order. Orders are immutable; a
// conflict means a replayed write and is ignored.
func (q *Queries) InsertOrder(ctx context.Context, o mission.FireOrder) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO fire_orders (order_id, mission_id, user_id, symbol, direction,
			volume, entry, stop, target, risk_percent_used, dispatched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO NOTHING
	`, o.OrderID, o.MissionID, o.UserID, o.Symbol, o.Direction,
		o.Volume, o.Entry, o.Stop, o.Target, o.RiskPercentUsed, o.DispatchedAt)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.OrderID, err)
	}
	return nil
}

// InsertConfirmation records a terminal verdict. The (order_id, status) key
// absorbs at-least-once redelivery.
func (q *Queries) InsertConfirmation(ctx context.Context, c mission.Confirmation) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO confirmations (order_id, status, ticket, fill_price, balance, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id, status) DO NOTHING
	`, c.OrderID, c.Status, c.Ticket, c.FillPrice, c.Balance, c.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert confirmation %s: %w", c.OrderID, err)
	}
	return nil
}

// InsertOutcome mirrors a resolved outcome. The JSONL ledger is the
// authoritative record; this copy exists for SQL reporting.
func (q *Queries) InsertOutcome(ctx context.Context, o mission.Outcome) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO outcomes (order_id, mission_id, user_id, symbol, pattern, mode,
			result, exit_price, pips, duration_ns, max_adverse_pips,
			max_favorable_pips, entry_quality, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO NOTHING
	`, o.OrderID, o.MissionID, o.UserID, o.Symbol, o.Pattern, o.Mode,
		o.Result, o.ExitPrice, o.Pips, int64(o.Duration), o.MaxAdverse,
		o.MaxFavorable, o.EntryQuality, o.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert outcome %s: %w", o.OrderID, err)
	}
	return nil
}

// OpenMissions loads every non-terminal mission for restart recovery.
func (q *Queries) OpenMissions(ctx context.Context) ([]mission.Mission, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, signal_id, user_id, tier, symbol, direction, COALESCE(pattern, ''),
			confidence, entry, stop, target, state, COALESCE(reason_code, ''),
			COALESCE(order_id, ''), signal_ts, created_at, expires_at
		FROM missions
		WHERE state NOT IN ('CLOSED_WIN', 'CLOSED_LOSS', 'CLOSED_BE', 'REJECTED', 'EXPIRED')
	`)
	if err != nil {
		return nil, fmt.Errorf("query open missions: %w", err)
	}
	defer rows.Close()

	var missions []mission.Mission
	for rows.Next() {
		var m mission.Mission
		if err := rows.Scan(&m.ID, &m.Signal.ID, &m.UserID, &m.Tier,
			&m.Signal.Symbol, &m.Signal.Direction, &m.Signal.Pattern,
			&m.Signal.Confidence, &m.Signal.Entry, &m.Signal.Stop,
			&m.Signal.Target, &m.State, &m.ReasonCode, &m.OrderID,
			&m.Signal.GeneratedAt, &m.CreatedAt, &m.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		m.Signal.ExpiresAt = m.ExpiresAt
		missions = append(missions, m)
	}
	return missions, rows.Err()
}

// OrdersFor loads the fire orders belonging to the given mission IDs.
func (q *Queries) OrdersFor(ctx context.Context, missions []mission.Mission) ([]mission.FireOrder, error) {
	var orders []mission.FireOrder
	for _, m := range missions {
		if m.OrderID == "" {
			continue
		}
		row := q.db.QueryRowContext(ctx, `
			SELECT order_id, mission_id, user_id, symbol, direction, volume,
				entry, stop, target, risk_percent_used, dispatched_at
			FROM fire_orders WHERE order_id = ?
		`, m.OrderID)
		var o mission.FireOrder
		err := row.Scan(&o.OrderID, &o.MissionID, &o.UserID, &o.Symbol,
			&o.Direction, &o.Volume, &o.Entry, &o.Stop, &o.Target,
			&o.RiskPercentUsed, &o.DispatchedAt)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scan order %s: %w", m.OrderID, err)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// UpsertProfile writes a user risk profile.
func (q *Queries) UpsertProfile(ctx context.Context, p risk.UserRiskProfile) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO user_risk_profiles (user_id, tier, max_concurrent_slots,
			risk_percent, confidence_floor, daily_loss_cap, halve_after_losses,
			cooldown_minutes, balance, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			tier = excluded.tier,
			max_concurrent_slots = excluded.max_concurrent_slots,
			risk_percent = excluded.risk_percent,
			confidence_floor = excluded.confidence_floor,
			daily_loss_cap = excluded.daily_loss_cap,
			halve_after_losses = excluded.halve_after_losses,
			cooldown_minutes = excluded.cooldown_minutes,
			balance = excluded.balance,
			updated_at = CURRENT_TIMESTAMP
	`, p.UserID, p.Tier, p.MaxConcurrentSlots, p.RiskPercent,
		p.ConfidenceFloor, p.DailyLossCap, p.HalveAfterLosses,
		int(p.Cooldown/time.Minute), p.Balance)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.UserID, err)
	}
	return nil
}

// Profiles loads every stored user risk profile.
func (q *Queries) Profiles(ctx context.Context) ([]risk.UserRiskProfile, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT user_id, tier, max_concurrent_slots, risk_percent,
			confidence_floor, daily_loss_cap, halve_after_losses,
			cooldown_minutes, balance
		FROM user_risk_profiles
	`)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []risk.UserRiskProfile
	for rows.Next() {
		var p risk.UserRiskProfile
		var cooldownMin int
		if err := rows.Scan(&p.UserID, &p.Tier, &p.MaxConcurrentSlots,
			&p.RiskPercent, &p.ConfidenceFloor, &p.DailyLossCap,
			&p.HalveAfterLosses, &cooldownMin, &p.Balance); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		p.Cooldown = time.Duration(cooldownMin) * time.Minute
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}
