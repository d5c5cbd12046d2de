package vitality

import (
	"testing"
	"time"

	"signal-core/internal/market"
	"signal-core/internal/mission"
	"signal-core/pkg/cache"
	"signal-core/pkg/config"
)

func testSpecs() map[string]config.SymbolSpec {
	return map[string]config.SymbolSpec{
		"EURUSD": {Symbol: "EURUSD", PipSize: 0.0001, PipValue: 10, MinVolume: 0.01, MaxVolume: 50, LotStep: 0.01},
	}
}

// seedBook fills the rolling window with steady quotes around mid, then
// records last as the live quote.
func seedBook(t *testing.T, mid float64, last cache.Quote) *market.Book {
	t.Helper()
	book := market.NewBook()
	for i := 0; i < 25; i++ {
		book.Record(cache.Quote{
			Symbol: "EURUSD",
			Bid:    mid - 0.00005,
			Ask:    mid + 0.00005,
			Volume: 1000,
			Ts:     time.Now(),
		})
	}
	book.Record(last)
	return book
}

func buySignal(entry float64) mission.Signal {
	return mission.Signal{
		ID:          "sig-1",
		Symbol:      "EURUSD",
		Direction:   mission.Buy,
		Entry:       entry,
		Stop:        entry - 0.0020,
		Target:      entry + 0.0040,
		Confidence:  90,
		Pattern:     "breakout",
		GeneratedAt: time.Now().Add(-time.Minute),
		ExpiresAt:   time.Now().Add(29 * time.Minute),
	}
}

func missionFor(sig mission.Signal) mission.Mission {
	return mission.Mission{ID: "m-1", Signal: sig, UserID: "u-1", State: mission.StatePending}
}

func TestFreshQuoteScoresHigh(t *testing.T) {
	last := cache.Quote{Symbol: "EURUSD", Bid: 1.08495, Ask: 1.08505, Volume: 1000, Ts: time.Now()}
	book := seedBook(t, 1.0850, last)
	eng := NewEngine(book, testSpecs(), time.Second)

	r := eng.Compute(missionFor(buySignal(1.0850)))
	if r.Score < 95 {
		t.Fatalf("score=%v, expected >= 95 for an undrifted signal", r.Score)
	}
	if r.Status != StatusFresh {
		t.Fatalf("status=%v, expected FRESH", r.Status)
	}
	if !r.Executable() {
		t.Fatalf("fresh reading should be executable")
	}
}

func TestDriftPenaltyIsMonotonic(t *testing.T) {
	driftsPips := []float64{0, 6, 10, 14, 20}
	prev := 101.0
	for _, drift := range driftsPips {
		entry := 1.0850 - drift*0.0001
		last := cache.Quote{Symbol: "EURUSD", Bid: 1.08495, Ask: 1.08505, Volume: 1000, Ts: time.Now()}
		book := seedBook(t, 1.0850, last)
		eng := NewEngine(book, testSpecs(), time.Second)

		r := eng.Compute(missionFor(buySignal(entry)))
		if r.Score > prev {
			t.Fatalf("score rose from %.2f to %.2f as drift grew to %.0f pips", prev, r.Score, drift)
		}
		prev = r.Score
	}
}

func TestFullDriftCapsPenaltyAtHalf(t *testing.T) {
	// 20 pips of drift saturates the drift term; with a clean spread and
	// normal volume the score settles at the drift weight's floor.
	last := cache.Quote{Symbol: "EURUSD", Bid: 1.08495, Ask: 1.08505, Volume: 1000, Ts: time.Now()}
	book := seedBook(t, 1.0850, last)
	eng := NewEngine(book, testSpecs(), time.Second)

	r := eng.Compute(missionFor(buySignal(1.0830)))
	if r.Score < 45 || r.Score > 55 {
		t.Fatalf("score=%v, expected ~50 for saturated drift alone", r.Score)
	}
	if r.Status != StatusValid {
		t.Fatalf("status=%v, expected VALID", r.Status)
	}
}

func TestCompoundPenaltiesExpireReading(t *testing.T) {
	// Drifted 20 pips, spread blown out past 3.5x average, volume at 10%
	// of average: every term saturates and execution must be refused.
	last := cache.Quote{Symbol: "EURUSD", Bid: 1.0848, Ask: 1.0852, Volume: 100, Ts: time.Now()}
	book := seedBook(t, 1.0850, last)
	eng := NewEngine(book, testSpecs(), time.Second)

	r := eng.Compute(missionFor(buySignal(1.0830)))
	if r.Status != StatusExpired {
		t.Fatalf("status=%v (score=%.1f), expected EXPIRED", r.Status, r.Score)
	}
	if r.Executable() {
		t.Fatalf("expired reading must not be executable")
	}
	if len(r.Reasons) < 2 {
		t.Fatalf("expected penalty reasons, got %v", r.Reasons)
	}
}

func TestExecutionFloorBoundary(t *testing.T) {
	if (Reading{Score: 19.99}).Executable() {
		t.Fatalf("19.99 must not be executable")
	}
	if !(Reading{Score: 20.0}).Executable() {
		t.Fatalf("20.0 must be executable")
	}
}

func TestAdjustedLevelsRebaseOnCurrentMid(t *testing.T) {
	last := cache.Quote{Symbol: "EURUSD", Bid: 1.08595, Ask: 1.08605, Volume: 1000, Ts: time.Now()}
	book := seedBook(t, 1.0860, last)
	eng := NewEngine(book, testSpecs(), time.Second)

	sig := buySignal(1.0850) // market ran 10 pips above the signal entry
	r := eng.Compute(missionFor(sig))

	if r.AdjEntry != last.Mid() {
		t.Fatalf("AdjEntry=%v, expected current mid %v", r.AdjEntry, last.Mid())
	}
	wantStop := r.AdjEntry - 0.0020
	wantTarget := r.AdjEntry + 0.0040
	if diff := r.AdjStop - wantStop; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("AdjStop=%v, expected %v", r.AdjStop, wantStop)
	}
	if diff := r.AdjTarget - wantTarget; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("AdjTarget=%v, expected %v", r.AdjTarget, wantTarget)
	}
}

func TestTimeDecayFallbackWithoutQuotes(t *testing.T) {
	eng := NewEngine(market.NewBook(), testSpecs(), time.Second)

	sig := buySignal(1.0850)
	sig.GeneratedAt = time.Now().Add(-15 * time.Minute)
	sig.ExpiresAt = sig.GeneratedAt.Add(30 * time.Minute)

	r := eng.Compute(missionFor(sig))
	if r.Score < 45 || r.Score > 55 {
		t.Fatalf("score=%v, expected ~50 at half lifetime", r.Score)
	}
	if len(r.Reasons) != 1 {
		t.Fatalf("expected the time-decay reason, got %v", r.Reasons)
	}
	if r.AdjEntry != sig.Entry {
		t.Fatalf("time decay must not adjust levels")
	}
}

func TestComputeCachesWithinTTL(t *testing.T) {
	last := cache.Quote{Symbol: "EURUSD", Bid: 1.08495, Ask: 1.08505, Volume: 1000, Ts: time.Now()}
	book := seedBook(t, 1.0850, last)
	eng := NewEngine(book, testSpecs(), time.Minute)

	m := missionFor(buySignal(1.0850))
	first := eng.Compute(m)

	// Market collapses; the cached reading must survive until the TTL.
	book.Record(cache.Quote{Symbol: "EURUSD", Bid: 1.0800, Ask: 1.0810, Volume: 10, Ts: time.Now()})
	second := eng.Compute(m)
	if second.Score != first.Score {
		t.Fatalf("cached score changed: %v -> %v", first.Score, second.Score)
	}

	eng.Invalidate(m.ID)
	third := eng.Compute(m)
	if third.Score >= first.Score {
		t.Fatalf("post-invalidate score=%v, expected below %v", third.Score, first.Score)
	}
}
