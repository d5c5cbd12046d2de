package db

import (
	"context"
	"testing"
	"time"

	"signal-core/internal/mission"
	"signal-core/internal/risk"
)

func testQueries(t *testing.T) *Queries {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return NewQueries(database.DB)
}

func testMission(id string, state mission.State) mission.Mission {
	now := time.Now().UTC().Truncate(time.Second)
	return mission.Mission{
		ID:     id,
		UserID: "u-1",
		Tier:   "FANG",
		State:  state,
		Signal: mission.Signal{
			ID:          "sig-" + id,
			Symbol:      "EURUSD",
			Direction:   mission.Buy,
			Entry:       1.0850,
			Stop:        1.0830,
			Target:      1.0890,
			Confidence:  90,
			Pattern:     "breakout",
			GeneratedAt: now,
			ExpiresAt:   now.Add(30 * time.Minute),
		},
		CreatedAt: now,
		ExpiresAt: now.Add(30 * time.Minute),
	}
}

func TestUpsertMissionTracksStateChanges(t *testing.T) {
	q := testQueries(t)
	ctx := context.Background()

	m := testMission("m-1", mission.StatePending)
	if err := q.UpsertMission(ctx, m); err != nil {
		t.Fatalf("insert: %v", err)
	}

	m.State = mission.StateFired
	m.OrderID = "o-1"
	if err := q.UpsertMission(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	open, err := q.OpenMissions(ctx)
	if err != nil {
		t.Fatalf("open missions: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open = %d, want 1", len(open))
	}
	got := open[0]
	if got.State != mission.StateFired || got.OrderID != "o-1" {
		t.Fatalf("state not updated: %+v", got)
	}
	if got.Signal.Symbol != "EURUSD" || got.Signal.Pattern != "breakout" {
		t.Fatalf("signal fields lost: %+v", got.Signal)
	}
	if !got.Signal.ExpiresAt.Equal(got.ExpiresAt) {
		t.Fatal("signal expiry not rebuilt from mission expiry")
	}
}

func TestOpenMissionsExcludesTerminalStates(t *testing.T) {
	q := testQueries(t)
	ctx := context.Background()

	for i, st := range []mission.State{
		mission.StatePending, mission.StateValidated, mission.StateConfirmed,
		mission.StateRejected, mission.StateExpired, mission.StateClosedWin,
	} {
		m := testMission(string(rune('a'+i)), st)
		if err := q.UpsertMission(ctx, m); err != nil {
			t.Fatalf("insert %s: %v", st, err)
		}
	}

	open, err := q.OpenMissions(ctx)
	if err != nil {
		t.Fatalf("open missions: %v", err)
	}
	if len(open) != 3 {
		t.Fatalf("open = %d, want 3 (terminal states leaked)", len(open))
	}
	for _, m := range open {
		if m.State.Terminal() {
			t.Fatalf("terminal mission %s returned as open", m.ID)
		}
	}
}

func TestOrdersForRestoresDispatchedOrders(t *testing.T) {
	q := testQueries(t)
	ctx := context.Background()

	m := testMission("m-1", mission.StateFired)
	m.OrderID = "o-1"
	if err := q.UpsertMission(ctx, m); err != nil {
		t.Fatalf("insert mission: %v", err)
	}
	o := mission.FireOrder{
		OrderID: "o-1", MissionID: "m-1", UserID: "u-1",
		Symbol: "EURUSD", Direction: mission.Buy, Volume: 0.5,
		Entry: 1.0850, Stop: 1.0830, Target: 1.0890,
		RiskPercentUsed: 0.01, DispatchedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := q.InsertOrder(ctx, o); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	// Replayed write is absorbed, not an error.
	if err := q.InsertOrder(ctx, o); err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}

	open, _ := q.OpenMissions(ctx)
	orders, err := q.OrdersFor(ctx, open)
	if err != nil {
		t.Fatalf("orders for: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
	if orders[0].Volume != 0.5 || orders[0].Stop != 1.0830 {
		t.Fatalf("order fields lost: %+v", orders[0])
	}
}

func TestConfirmationKeyAbsorbsRedelivery(t *testing.T) {
	q := testQueries(t)
	ctx := context.Background()

	c := mission.Confirmation{
		OrderID: "o-1", Status: mission.ConfirmFilled,
		Ticket: "42", FillPrice: 1.0851, Balance: 10250,
		ReceivedAt: time.Now().UTC(),
	}
	if err := q.InsertConfirmation(ctx, c); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := q.InsertConfirmation(ctx, c); err != nil {
		t.Fatalf("redelivered insert: %v", err)
	}
	// A different verdict for the same order is a distinct row.
	c.Status = mission.ConfirmRejected
	if err := q.InsertConfirmation(ctx, c); err != nil {
		t.Fatalf("second status: %v", err)
	}
}

func TestProfileRoundtrip(t *testing.T) {
	q := testQueries(t)
	ctx := context.Background()

	p := risk.UserRiskProfile{
		UserID:             "u-1",
		Tier:               "COMMANDER",
		MaxConcurrentSlots: 5,
		RiskPercent:        0.02,
		ConfidenceFloor:    70,
		DailyLossCap:       6,
		HalveAfterLosses:   2,
		Cooldown:           45 * time.Minute,
	}
	if err := q.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	p.RiskPercent = 0.015
	if err := q.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}

	profiles, err := q.Profiles(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("profiles = %d, want 1", len(profiles))
	}
	got := profiles[0]
	if got.RiskPercent != 0.015 || got.Tier != "COMMANDER" || got.Cooldown != 45*time.Minute {
		t.Fatalf("profile fields lost: %+v", got)
	}
}
