package router

import (
	"context"
	"testing"
	"time"

	"signal-core/internal/events"
	"signal-core/internal/market"
	"signal-core/internal/mission"
	"signal-core/internal/monitor"
	"signal-core/internal/risk"
	"signal-core/internal/transport"
	"signal-core/internal/vitality"
	"signal-core/pkg/cache"
	"signal-core/pkg/config"
)

type fixture struct {
	router  *Router
	store   *mission.Store
	slots   *mission.SlotCounter
	tracker *risk.Tracker
	lb      *transport.Loopback
	book    *market.Book
	sched   *Scheduler
}

func newFixture(t *testing.T, dispatchTimeout time.Duration, profiles ...risk.UserRiskProfile) *fixture {
	t.Helper()

	specs := map[string]config.SymbolSpec{
		"EURUSD": {Symbol: "EURUSD", PipSize: 0.0001, PipValue: 10, MinVolume: 0.01, MaxVolume: 50, LotStep: 0.01, ATRMultiplier: 1.5},
	}

	book := market.NewBook()
	for i := 0; i < 25; i++ {
		book.Record(cache.Quote{Symbol: "EURUSD", Bid: 1.08495, Ask: 1.08505, Volume: 1000, Ts: time.Now()})
	}

	registry := risk.NewRegistry()
	if len(profiles) == 0 {
		profiles = []risk.UserRiskProfile{{
			UserID:             "u-1",
			Tier:               "FANG",
			MaxConcurrentSlots: 2,
			RiskPercent:        0.01,
			ConfidenceFloor:    85,
			DailyLossCap:       3,
			HalveAfterLosses:   2,
			Balance:            10000,
		}}
	}
	for _, p := range profiles {
		registry.Upsert(p)
	}

	// No balances are seeded into the tracker: until a confirmation
	// reports one, sizing runs off the profile's declared balance.
	tracker := risk.NewTracker()

	store := mission.NewStore(time.Hour)
	slots := mission.NewSlotCounter()
	lb := transport.NewLoopback()
	sched := NewScheduler()
	t.Cleanup(sched.Stop)

	r := New(Options{
		Store:           store,
		Slots:           slots,
		Vitality:        vitality.NewEngine(book, specs, time.Millisecond),
		Sizer:           risk.NewSizer(specs, tracker, book),
		Tracker:         tracker,
		Transport:       lb,
		Bus:             events.NewBus(),
		Scheduler:       sched,
		Metrics:         monitor.NewSystemMetrics(),
		Profiles:        registry,
		DispatchTimeout: dispatchTimeout,
	})
	return &fixture{router: r, store: store, slots: slots, tracker: tracker, lb: lb, book: book, sched: sched}
}

func testSignal() mission.Signal {
	now := time.Now()
	return mission.Signal{
		ID:          "sig-1",
		Symbol:      "EURUSD",
		Direction:   mission.Buy,
		Entry:       1.0850,
		Stop:        1.0830,
		Target:      1.0890,
		Confidence:  90,
		Pattern:     "breakout",
		GeneratedAt: now,
		ExpiresAt:   now.Add(30 * time.Minute),
	}
}

// waitForState polls until the single mission reaches the state or the
// deadline passes.
func waitForState(t *testing.T, store *mission.Store, state mission.State) mission.Mission {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, m := range store.InState(state) {
			return m
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no mission reached %s (active: %+v)", state, store.Active())
	return mission.Mission{}
}

func TestSignalFiresThroughPipeline(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	f.router.HandleSignal(context.Background(), testSignal())

	m := waitForState(t, f.store, mission.StateFired)
	if m.OrderID == "" {
		t.Fatalf("fired mission has no order attached")
	}
	select {
	case o := <-f.lb.Fired():
		if o.MissionID != m.ID || o.Symbol != "EURUSD" || o.Volume <= 0 {
			t.Fatalf("dispatched order wrong: %+v", o)
		}
	case <-time.After(time.Second):
		t.Fatalf("no order reached the fire channel")
	}
	if held := f.slots.Held("u-1"); held != 1 {
		t.Fatalf("held=%d, expected the fired mission to hold its slot", held)
	}
}

func TestLowConfidenceIsRejected(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	sig := testSignal()
	sig.Confidence = 60
	f.router.HandleSignal(context.Background(), sig)

	m := waitForState(t, f.store, mission.StateRejected)
	if m.ReasonCode != mission.ReasonConfidenceFloor {
		t.Fatalf("reason=%s, expected POLICY_CONFIDENCE", m.ReasonCode)
	}
	if held := f.slots.Held("u-1"); held != 0 {
		t.Fatalf("held=%d, rejection must not hold a slot", held)
	}
}

func TestDisallowedPatternIsRejected(t *testing.T) {
	f := newFixture(t, 5*time.Second, risk.UserRiskProfile{
		UserID:             "u-1",
		Tier:               "NIBBLER",
		MaxConcurrentSlots: 1,
		RiskPercent:        0.01,
		ConfidenceFloor:    70,
		Patterns:           []string{"pullback"},
		Balance:            10000,
	})

	f.router.HandleSignal(context.Background(), testSignal()) // pattern "breakout"

	m := waitForState(t, f.store, mission.StateRejected)
	if m.ReasonCode != mission.ReasonTierPattern {
		t.Fatalf("reason=%s, expected POLICY_PATTERN", m.ReasonCode)
	}
}

func TestStaleSignalNeverCreatesMissions(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	sig := testSignal()
	sig.GeneratedAt = time.Now().Add(-time.Hour)
	sig.ExpiresAt = time.Now().Add(-30 * time.Minute)
	f.router.HandleSignal(context.Background(), sig)

	time.Sleep(50 * time.Millisecond)
	if n := len(f.store.Active()); n != 0 {
		t.Fatalf("stale signal created %d missions", n)
	}
}

func TestSlotLimitRejectsOverflow(t *testing.T) {
	f := newFixture(t, 5*time.Second, risk.UserRiskProfile{
		UserID:             "u-1",
		Tier:               "NIBBLER",
		MaxConcurrentSlots: 1,
		RiskPercent:        0.01,
		ConfidenceFloor:    70,
		Balance:            10000,
	})

	f.router.HandleSignal(context.Background(), testSignal())
	waitForState(t, f.store, mission.StateFired)

	sig := testSignal()
	sig.ID = "sig-2"
	f.router.HandleSignal(context.Background(), sig)

	m := waitForState(t, f.store, mission.StateRejected)
	if m.ReasonCode != mission.ReasonSlotLimit {
		t.Fatalf("reason=%s, expected POLICY_SLOTS", m.ReasonCode)
	}
}

func TestDegradedFireChannelRejects(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	f.lb.SetHealthy(transport.ChannelFireOut, false)

	f.router.HandleSignal(context.Background(), testSignal())

	m := waitForState(t, f.store, mission.StateRejected)
	if m.ReasonCode != mission.ReasonChannelDegraded {
		t.Fatalf("reason=%s, expected CHANNEL_DEGRADED", m.ReasonCode)
	}
}

func TestDispatchTimeoutRejectsAndFreesSlot(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)

	f.router.HandleSignal(context.Background(), testSignal())

	m := waitForState(t, f.store, mission.StateRejected)
	if m.OrderID == "" {
		t.Fatalf("mission should have fired before the timeout")
	}
	if m.ReasonCode != mission.ReasonDispatchTimeout {
		t.Fatalf("reason=%s, expected DISPATCH_TIMEOUT", m.ReasonCode)
	}
	if held := f.slots.Held("u-1"); held != 0 {
		t.Fatalf("held=%d, timeout must release the slot", held)
	}
}

func TestFanOutIsolatesUsers(t *testing.T) {
	f := newFixture(t, 5*time.Second,
		risk.UserRiskProfile{UserID: "u-low", Tier: "NIBBLER", MaxConcurrentSlots: 1, RiskPercent: 0.01, ConfidenceFloor: 95, Balance: 10000},
		risk.UserRiskProfile{UserID: "u-high", Tier: "FANG", MaxConcurrentSlots: 2, RiskPercent: 0.0125, ConfidenceFloor: 85, Balance: 10000},
	)

	f.router.HandleSignal(context.Background(), testSignal()) // confidence 90

	fired := waitForState(t, f.store, mission.StateFired)
	if fired.UserID != "u-high" {
		t.Fatalf("fired user=%s, expected u-high", fired.UserID)
	}
	rejected := waitForState(t, f.store, mission.StateRejected)
	if rejected.UserID != "u-low" || rejected.ReasonCode != mission.ReasonConfidenceFloor {
		t.Fatalf("rejected mission wrong: %+v", rejected)
	}
}

func TestMissionDeadlineExpires(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	// Inject a pending mission directly so nothing races the deadline.
	sig := testSignal()
	sig.ExpiresAt = time.Now().Add(30 * time.Millisecond)
	now := time.Now()
	m := mission.Mission{
		ID:        "m-deadline",
		Signal:    sig,
		UserID:    "u-1",
		Tier:      "FANG",
		State:     mission.StatePending,
		CreatedAt: now,
		ExpiresAt: sig.ExpiresAt,
	}
	if err := f.store.Create(m); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	f.router.Rearm([]mission.Mission{m})

	got := waitForState(t, f.store, mission.StateExpired)
	if got.ReasonCode != mission.ReasonDeadline {
		t.Fatalf("reason=%s, expected DEADLINE_PASSED", got.ReasonCode)
	}
}

func TestFirstOrderSizesFromProfileBalance(t *testing.T) {
	f := newFixture(t, 5*time.Second, risk.UserRiskProfile{
		UserID:             "u-fresh",
		Tier:               "FANG",
		MaxConcurrentSlots: 2,
		RiskPercent:        0.01,
		ConfidenceFloor:    85,
		Balance:            10000,
	})

	// A brand-new deployment: the tracker has never seen a confirmation,
	// so the declared profile balance must carry the first order.
	f.router.HandleSignal(context.Background(), testSignal())
	waitForState(t, f.store, mission.StateFired)

	var first mission.FireOrder
	select {
	case first = <-f.lb.Fired():
	case <-time.After(time.Second):
		t.Fatalf("fresh deployment never dispatched")
	}
	// 1% of 10000 over a 20-pip stop at $10/pip.
	if first.Volume != 0.5 {
		t.Fatalf("volume=%.2f, want 0.50 from the declared balance", first.Volume)
	}

	// Once the terminal reports a live balance it overrides the profile.
	f.tracker.SetBalance("u-fresh", 20000)
	sig := testSignal()
	sig.ID = "sig-2"
	f.router.HandleSignal(context.Background(), sig)

	select {
	case o := <-f.lb.Fired():
		if o.Volume != 1.0 {
			t.Fatalf("volume=%.2f, want 1.00 from the live balance", o.Volume)
		}
	case <-time.After(time.Second):
		t.Fatalf("second signal never dispatched")
	}
}

// seedRestored walks a mission to the given state with an order attached
// from FIRED onward, as the store would be rebuilt after a restart.
func seedRestored(t *testing.T, store *mission.Store, id, sigID string, state mission.State, expires time.Time) mission.Mission {
	t.Helper()
	sig := testSignal()
	sig.ID = sigID
	sig.ExpiresAt = expires
	m := mission.Mission{
		ID:        id,
		Signal:    sig,
		UserID:    "u-1",
		Tier:      "FANG",
		State:     mission.StatePending,
		CreatedAt: time.Now(),
		ExpiresAt: expires,
	}
	if err := store.Create(m); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	walk := []mission.State{mission.StateValidated, mission.StateFired, mission.StateConfirmed}
	for _, next := range walk {
		if next == mission.StateFired {
			if err := store.AttachOrder(id, mission.FireOrder{
				OrderID: "o-" + id, MissionID: id, UserID: "u-1",
				Symbol: "EURUSD", Direction: mission.Buy, Volume: 0.5,
				Entry: 1.0850, Stop: 1.0830, Target: 1.0890,
			}); err != nil {
				t.Fatalf("attach %s: %v", id, err)
			}
		}
		if _, err := store.Transition(id, next, ""); err != nil {
			t.Fatalf("walk %s to %s: %v", id, next, err)
		}
		if next == state {
			break
		}
	}
	got, _ := store.Get(id)
	if got.State != state {
		t.Fatalf("seeded %s in %s, want %s", id, got.State, state)
	}
	return got
}

func TestRearmRestoresSlotsAndTimers(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond, risk.UserRiskProfile{
		UserID:             "u-1",
		Tier:               "COMMANDER",
		MaxConcurrentSlots: 3,
		RiskPercent:        0.01,
		ConfidenceFloor:    85,
		Balance:            10000,
	})

	soon := time.Now().Add(40 * time.Millisecond)
	later := time.Now().Add(30 * time.Minute)
	validated := seedRestored(t, f.store, "m-val", "sig-v", mission.StateValidated, soon)
	fired := seedRestored(t, f.store, "m-fired", "sig-f", mission.StateFired, later)
	confirmed := seedRestored(t, f.store, "m-conf", "sig-c", mission.StateConfirmed, later)

	f.router.Rearm([]mission.Mission{validated, fired, confirmed})

	if held := f.slots.Held("u-1"); held != 3 {
		t.Fatalf("held=%d after rearm, want 3", held)
	}

	// The restored FIRED mission gets a fresh dispatch timeout; the
	// restored VALIDATED mission keeps its original deadline.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		v, _ := f.store.Get("m-val")
		fd, _ := f.store.Get("m-fired")
		if v.State == mission.StateExpired && fd.State == mission.StateRejected {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	v, _ := f.store.Get("m-val")
	if v.State != mission.StateExpired || v.ReasonCode != mission.ReasonDeadline {
		t.Fatalf("restored VALIDATED mission ended %s/%s, want EXPIRED/DEADLINE_PASSED", v.State, v.ReasonCode)
	}
	fd, _ := f.store.Get("m-fired")
	if fd.State != mission.StateRejected || fd.ReasonCode != mission.ReasonDispatchTimeout {
		t.Fatalf("restored FIRED mission ended %s/%s, want REJECTED/DISPATCH_TIMEOUT", fd.State, fd.ReasonCode)
	}
	c, _ := f.store.Get("m-conf")
	if c.State != mission.StateConfirmed {
		t.Fatalf("restored CONFIRMED mission moved to %s", c.State)
	}
	// Both resolved missions gave their slots back; the filled one holds on.
	if held := f.slots.Held("u-1"); held != 1 {
		t.Fatalf("held=%d after timers resolved, want 1", held)
	}
}
