// Package truth resolves filled missions into final outcomes by watching
// the live quote stream. It is the only writer of Outcome records.
package truth

import (
	"context"
	"log"
	"sync"
	"time"

	"signal-core/internal/events"
	"signal-core/internal/mission"
	"signal-core/internal/monitor"
	"signal-core/internal/risk"
	"signal-core/pkg/cache"
	"signal-core/pkg/config"
)

// watch is one order under observation. All prices are mid quotes; the
// terminal's fill is the authoritative entry.
type watch struct {
	order     mission.FireOrder
	missionID string
	entry     float64
	stop      float64
	target    float64
	openedAt  time.Time
	lastQuote time.Time
	mae       float64 // pips, max adverse excursion
	mfe       float64 // pips, max favorable excursion
	recovered bool    // went adverse past the early knee, then favorable again
}

// OutcomeSink persists a resolved outcome. The write happens inline with
// resolution so an outcome cannot be lost to a full buffer.
type OutcomeSink interface {
	Append(mission.Outcome) error
}

// Tracker multiplexes every open watch over a single quote drain loop. One
// outcome per order: once resolved the watch is gone and replays are no-ops.
type Tracker struct {
	store   *mission.Store
	tracker *risk.Tracker
	bus     *events.Bus
	ledger  OutcomeSink
	specs   map[string]config.SymbolSpec
	metrics *monitor.SystemMetrics
	prom    *monitor.Prom

	silenceLimit time.Duration
	cooldown     func(userID string) time.Duration

	mu       sync.Mutex
	bySymbol map[string]map[string]*watch // symbol -> order_id -> watch
}

// Options bundles the truth tracker's collaborators.
type Options struct {
	Store        *mission.Store
	Risk         *risk.Tracker
	Bus          *events.Bus
	Ledger       OutcomeSink
	Specs        map[string]config.SymbolSpec
	Metrics      *monitor.SystemMetrics
	Prom         *monitor.Prom
	SilenceLimit time.Duration
	// Cooldown returns the loss cooldown for a user, from their tier.
	Cooldown func(userID string) time.Duration
}

func New(opts Options) *Tracker {
	if opts.SilenceLimit <= 0 {
		opts.SilenceLimit = 4 * time.Hour
	}
	if opts.Cooldown == nil {
		opts.Cooldown = func(string) time.Duration { return 0 }
	}
	return &Tracker{
		store:        opts.Store,
		tracker:      opts.Risk,
		bus:          opts.Bus,
		ledger:       opts.Ledger,
		specs:        opts.Specs,
		metrics:      opts.Metrics,
		prom:         opts.Prom,
		silenceLimit: opts.SilenceLimit,
		cooldown:     opts.Cooldown,
		bySymbol:     make(map[string]map[string]*watch),
	}
}

// Run drains the quote stream and resolves watches until ctx is cancelled.
// Fills do not ride the bus: the confirm listener calls Open directly, so a
// filled order cannot be stranded by a dropped event. The silence sweep runs
// on a coarse ticker; quote silence is measured in hours, not milliseconds.
func (t *Tracker) Run(ctx context.Context) {
	quotes, unsubQ := t.bus.Subscribe(events.EventQuote, 1024)
	defer unsubQ()

	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()

	log.Printf("[Truth] tracker started, quote silence limit %s", t.silenceLimit)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Truth] tracker stopped")
			return
		case p := <-quotes:
			if q, ok := p.(cache.Quote); ok {
				t.OnQuote(q)
			}
		case now := <-sweep.C:
			t.sweepSilent(now)
		}
	}
}

// Open starts watching a filled order. Duplicate fills for an order already
// watched or already resolved are ignored.
func (t *Tracker) Open(c mission.Confirmation) {
	m, ok := t.store.ByOrder(c.OrderID)
	if !ok || m.State != mission.StateConfirmed {
		return
	}
	order, ok := t.store.Order(c.OrderID)
	if !ok {
		return
	}

	entry := c.FillPrice
	if entry <= 0 {
		entry = order.Entry
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	symbol := order.Symbol
	if t.bySymbol[symbol] == nil {
		t.bySymbol[symbol] = make(map[string]*watch)
	}
	if _, exists := t.bySymbol[symbol][order.OrderID]; exists {
		return
	}
	t.bySymbol[symbol][order.OrderID] = &watch{
		order:     order,
		missionID: m.ID,
		entry:     entry,
		stop:      order.Stop,
		target:    order.Target,
		openedAt:  time.Now(),
		lastQuote: time.Now(),
	}
	log.Printf("[Truth] watching order %s %s %s entry %.5f stop %.5f target %.5f",
		order.OrderID, order.Direction, symbol, entry, order.Stop, order.Target)
}

// Rewatch re-opens watches for missions restored in CONFIRMED state, so a
// restart does not strand positions that filled before the process died. The
// fill price is not persisted; the order's planned entry stands in for it.
func (t *Tracker) Rewatch(restored []mission.Mission) {
	n := 0
	for _, m := range restored {
		if m.State != mission.StateConfirmed || m.OrderID == "" {
			continue
		}
		t.Open(mission.Confirmation{
			OrderID: m.OrderID,
			Status:  mission.ConfirmFilled,
		})
		n++
	}
	if n > 0 {
		log.Printf("[Truth] rewatching %d restored positions", n)
	}
}

// Watching returns the number of open watches.
func (t *Tracker) Watching() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, ws := range t.bySymbol {
		n += len(ws)
	}
	return n
}

// OnQuote advances every watch on the quote's symbol. When the mid crosses
// a level the watch resolves; whichever level is crossed first in stream
// order wins, and a quote spanning both levels resolves as a loss since the
// stop is assumed to have been hit inside the gap.
func (t *Tracker) OnQuote(q cache.Quote) {
	t.mu.Lock()
	ws := t.bySymbol[q.Symbol]
	if len(ws) == 0 {
		t.mu.Unlock()
		return
	}
	mid := q.Mid()
	now := q.Ts
	if now.IsZero() {
		now = time.Now()
	}

	type resolved struct {
		w      *watch
		result mission.Result
		exit   float64
	}
	var done []resolved
	for id, w := range ws {
		w.lastQuote = now
		t.excursion(w, mid)

		stopHit, targetHit := crossed(w, mid)
		switch {
		case stopHit:
			res := mission.ResultLoss
			if w.stop == w.entry {
				res = mission.ResultBreakeven
			}
			done = append(done, resolved{w, res, w.stop})
			delete(ws, id)
		case targetHit:
			done = append(done, resolved{w, mission.ResultWin, w.target})
			delete(ws, id)
		}
	}
	if len(ws) == 0 {
		delete(t.bySymbol, q.Symbol)
	}
	t.mu.Unlock()

	for _, d := range done {
		t.resolve(d.w, d.result, d.exit, now)
	}
}

// crossed reports which protective level the mid has reached. Stop is
// checked first: a gap through both levels settles against the trader.
func crossed(w *watch, mid float64) (stopHit, targetHit bool) {
	if w.order.Direction == mission.Buy {
		return mid <= w.stop, mid >= w.target
	}
	return mid >= w.stop, mid <= w.target
}

// excursion updates MAE/MFE in pips and the recovery flag.
func (t *Tracker) excursion(w *watch, mid float64) {
	pip := t.pipSize(w.order.Symbol)
	move := (mid - w.entry) / pip
	if w.order.Direction == mission.Sell {
		move = -move
	}
	if move < 0 && -move > w.mae {
		w.mae = -move
	}
	if move > 0 {
		if move > w.mfe {
			w.mfe = move
		}
		if w.mae > earlyKneePips {
			w.recovered = true
		}
	}
}

// sweepSilent closes watches whose symbol has produced no quote for the
// silence limit. The market truth is unknowable at that point.
func (t *Tracker) sweepSilent(now time.Time) {
	t.mu.Lock()
	var stale []*watch
	for symbol, ws := range t.bySymbol {
		for id, w := range ws {
			if now.Sub(w.lastQuote) >= t.silenceLimit {
				stale = append(stale, w)
				delete(ws, id)
			}
		}
		if len(ws) == 0 {
			delete(t.bySymbol, symbol)
		}
	}
	t.mu.Unlock()

	for _, w := range stale {
		log.Printf("[Truth] order %s: no %s quote for %s, marking unresolved",
			w.order.OrderID, w.order.Symbol, t.silenceLimit)
		t.resolve(w, mission.ResultUnresolved, 0, now)
	}
}

// resolve writes the single outcome for a watch and settles the mission.
func (t *Tracker) resolve(w *watch, result mission.Result, exit float64, now time.Time) {
	rt := monitor.NewTimer(t.metrics.ResolveLatency)
	defer rt.Stop()

	pip := t.pipSize(w.order.Symbol)
	var pips float64
	if exit > 0 {
		pips = (exit - w.entry) / pip
		if w.order.Direction == mission.Sell {
			pips = -pips
		}
	}

	out := mission.Outcome{
		OrderID:      w.order.OrderID,
		MissionID:    w.missionID,
		UserID:       w.order.UserID,
		Symbol:       w.order.Symbol,
		Result:       result,
		ExitPrice:    exit,
		Pips:         pips,
		Duration:     now.Sub(w.openedAt),
		MaxAdverse:   w.mae,
		MaxFavorable: w.mfe,
		ResolvedAt:   now,
	}
	if m, ok := t.store.Get(w.missionID); ok {
		out.Pattern = m.Signal.Pattern
		out.Mode = m.Signal.Mode()
		out.EntryQuality = classify(w, result)
	}

	to, transition := stateFor(result)
	if transition {
		reason := ""
		if result == mission.ResultUnresolved {
			reason = mission.ReasonQuoteSilence
		}
		if _, err := t.store.Transition(w.missionID, to, reason); err != nil {
			log.Printf("[Truth] mission %s close transition failed: %v", w.missionID, err)
		}
	}
	if result == mission.ResultLoss || result == mission.ResultWin || result == mission.ResultBreakeven {
		t.tracker.RecordOutcome(w.order.UserID, result, t.cooldown(w.order.UserID))
	}

	t.metrics.IncrementOutcomes()
	if t.prom != nil {
		t.prom.OutcomesTotal.WithLabelValues(string(result)).Inc()
	}
	log.Printf("[Truth] order %s resolved %s at %.5f (%.1f pips, mae %.1f, mfe %.1f)",
		out.OrderID, out.Result, out.ExitPrice, out.Pips, out.MaxAdverse, out.MaxFavorable)
	// The ledger write is inline: the bus may shed load, the record may not.
	if t.ledger != nil {
		if err := t.ledger.Append(out); err != nil {
			log.Printf("[Truth] outcome %s not persisted: %v", out.OrderID, err)
		}
	}
	t.bus.Publish(events.EventOutcome, out)
}

// stateFor maps a result to the mission close state. UNRESOLVED uses
// EXPIRED so the slot is released without claiming a win or loss.
func stateFor(result mission.Result) (mission.State, bool) {
	switch result {
	case mission.ResultWin:
		return mission.StateClosedWin, true
	case mission.ResultLoss:
		return mission.StateClosedLoss, true
	case mission.ResultBreakeven:
		return mission.StateClosedBE, true
	case mission.ResultUnresolved:
		return mission.StateExpired, true
	}
	return "", false
}

func (t *Tracker) pipSize(symbol string) float64 {
	if spec, ok := t.specs[symbol]; ok && spec.PipSize > 0 {
		return spec.PipSize
	}
	return 0.0001
}
