package confirm

import (
	"testing"
	"time"

	"signal-core/internal/events"
	"signal-core/internal/mission"
	"signal-core/internal/monitor"
	"signal-core/internal/risk"
	"signal-core/internal/transport"
)

func firedMission(t *testing.T, store *mission.Store, missionID, orderID string) {
	t.Helper()
	now := time.Now()
	m := mission.Mission{
		ID:     missionID,
		UserID: "u-1",
		Tier:   "FANG",
		State:  mission.StatePending,
		Signal: mission.Signal{
			ID:          "sig-" + missionID,
			Symbol:      "EURUSD",
			Direction:   mission.Buy,
			Entry:       1.0850,
			Stop:        1.0830,
			Target:      1.0890,
			Confidence:  90,
			GeneratedAt: now,
			ExpiresAt:   now.Add(30 * time.Minute),
		},
		CreatedAt: now,
		ExpiresAt: now.Add(30 * time.Minute),
	}
	if err := store.Create(m); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := store.Transition(missionID, mission.StateValidated, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := store.AttachOrder(missionID, mission.FireOrder{OrderID: orderID, MissionID: missionID, UserID: "u-1", Symbol: "EURUSD", Direction: mission.Buy, Volume: 0.5}); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if _, err := store.Transition(missionID, mission.StateFired, ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
}

// recordingWatcher captures the fills handed over for outcome tracking.
type recordingWatcher struct {
	opened []mission.Confirmation
}

func (r *recordingWatcher) Open(c mission.Confirmation) { r.opened = append(r.opened, c) }

func newListener(store *mission.Store, tracker *risk.Tracker) *Listener {
	return NewListener(store, tracker, events.NewBus(), transport.NewLoopback(), &recordingWatcher{}, monitor.NewSystemMetrics(), nil)
}

func TestFillConfirmsMission(t *testing.T) {
	store := mission.NewStore(time.Hour)
	tracker := risk.NewTracker()
	l := newListener(store, tracker)
	firedMission(t, store, "m-1", "o-1")

	l.Handle(mission.Confirmation{OrderID: "o-1", Status: mission.ConfirmFilled, Ticket: "t-100", FillPrice: 1.0851, Balance: 10250, ReceivedAt: time.Now()})

	m, _ := store.Get("m-1")
	if m.State != mission.StateConfirmed {
		t.Fatalf("state=%s, expected CONFIRMED", m.State)
	}
	if got := tracker.Account("u-1").Balance; got != 10250 {
		t.Fatalf("balance=%v, expected snapshot 10250", got)
	}
}

func TestTerminalRejectionTerminatesMission(t *testing.T) {
	store := mission.NewStore(time.Hour)
	l := newListener(store, risk.NewTracker())
	firedMission(t, store, "m-1", "o-1")

	l.Handle(mission.Confirmation{OrderID: "o-1", Status: mission.ConfirmRejected, ReceivedAt: time.Now()})

	m, _ := store.Get("m-1")
	if m.State != mission.StateRejected || m.ReasonCode != mission.ReasonTerminalReject {
		t.Fatalf("mission=%+v, expected REJECTED/TERMINAL_REJECTED", m)
	}
}

func TestDuplicateConfirmationIsIdempotent(t *testing.T) {
	store := mission.NewStore(time.Hour)
	l := newListener(store, risk.NewTracker())
	firedMission(t, store, "m-1", "o-1")

	c := mission.Confirmation{OrderID: "o-1", Status: mission.ConfirmFilled, ReceivedAt: time.Now()}
	l.Handle(c)
	l.Handle(c)
	l.Handle(c)

	m, _ := store.Get("m-1")
	if m.State != mission.StateConfirmed {
		t.Fatalf("state=%s after duplicates, expected CONFIRMED", m.State)
	}
}

func TestFilledWinsOverLateRejection(t *testing.T) {
	store := mission.NewStore(time.Hour)
	l := newListener(store, risk.NewTracker())
	firedMission(t, store, "m-1", "o-1")

	l.Handle(mission.Confirmation{OrderID: "o-1", Status: mission.ConfirmFilled, ReceivedAt: time.Now()})
	// A REJECTED retry arriving after the fill must be discarded.
	l.Handle(mission.Confirmation{OrderID: "o-1", Status: mission.ConfirmRejected, ReceivedAt: time.Now()})

	m, _ := store.Get("m-1")
	if m.State != mission.StateConfirmed {
		t.Fatalf("state=%s, the fill must win over a late rejection", m.State)
	}
}

func TestFillHandsWatchOverDirectly(t *testing.T) {
	store := mission.NewStore(time.Hour)
	w := &recordingWatcher{}
	l := NewListener(store, risk.NewTracker(), events.NewBus(), transport.NewLoopback(), w, monitor.NewSystemMetrics(), nil)
	firedMission(t, store, "m-1", "o-1")

	// No subscriber drains the bus here; the watch must open anyway.
	l.Handle(mission.Confirmation{OrderID: "o-1", Status: mission.ConfirmFilled, FillPrice: 1.0851, ReceivedAt: time.Now()})
	l.Handle(mission.Confirmation{OrderID: "o-1", Status: mission.ConfirmRejected, ReceivedAt: time.Now()})

	if len(w.opened) != 1 {
		t.Fatalf("watcher saw %d fills, expected exactly the applied one", len(w.opened))
	}
	if w.opened[0].OrderID != "o-1" || w.opened[0].FillPrice != 1.0851 {
		t.Fatalf("watcher got %+v", w.opened[0])
	}
}

func TestUnknownOrderIsDropped(t *testing.T) {
	store := mission.NewStore(time.Hour)
	l := newListener(store, risk.NewTracker())
	firedMission(t, store, "m-1", "o-1")

	l.Handle(mission.Confirmation{OrderID: "o-other-node", Status: mission.ConfirmFilled, ReceivedAt: time.Now()})

	m, _ := store.Get("m-1")
	if m.State != mission.StateFired {
		t.Fatalf("state=%s, a foreign confirmation must change nothing", m.State)
	}
}
