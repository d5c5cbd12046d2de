// Package confirm resolves fire orders against terminal acknowledgments.
package confirm

import (
	"context"
	"errors"
	"log"

	"signal-core/internal/events"
	"signal-core/internal/mission"
	"signal-core/internal/monitor"
	"signal-core/internal/risk"
	"signal-core/internal/transport"
)

// Watcher opens an outcome watch for a filled order. Fills are handed over
// synchronously; a watch must not depend on a droppable event.
type Watcher interface {
	Open(mission.Confirmation)
}

// Listener drains the confirm channel and settles FIRED missions. Duplicate
// and unknown confirmations are absorbed here so nothing downstream has to
// care about at-least-once delivery.
type Listener struct {
	store   *mission.Store
	tracker *risk.Tracker
	bus     *events.Bus
	tp      transport.Transport
	watcher Watcher
	metrics *monitor.SystemMetrics
	prom    *monitor.Prom
}

func NewListener(store *mission.Store, tracker *risk.Tracker, bus *events.Bus, tp transport.Transport, watcher Watcher, metrics *monitor.SystemMetrics, prom *monitor.Prom) *Listener {
	return &Listener{store: store, tracker: tracker, bus: bus, tp: tp, watcher: watcher, metrics: metrics, prom: prom}
}

// Run consumes confirmations until ctx is cancelled. Processing is
// sequential: the channel is low rate and ordering per order matters.
func (l *Listener) Run(ctx context.Context) {
	log.Printf("[Confirm] listener started")
	confirms := l.tp.Confirmations()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Confirm] listener stopped")
			return
		case c, ok := <-confirms:
			if !ok {
				log.Printf("[Confirm] channel closed")
				return
			}
			l.Handle(c)
		}
	}
}

// Handle applies one confirmation. Safe to call with duplicates and with
// confirmations for orders this node never dispatched.
func (l *Listener) Handle(c mission.Confirmation) {
	l.metrics.IncrementConfirms()
	if l.prom != nil {
		l.prom.ConfirmationsTotal.WithLabelValues(string(c.Status)).Inc()
	}

	m, ok := l.store.ByOrder(c.OrderID)
	if !ok {
		// Broadcast channel: confirmations for other nodes' orders, and
		// retries older than the retention window, both land here.
		log.Printf("[Confirm] unknown order %s (%s), dropped", c.OrderID, c.Status)
		return
	}

	if c.Balance > 0 {
		l.tracker.SetBalance(m.UserID, c.Balance)
	}

	var to mission.State
	var reason string
	switch c.Status {
	case mission.ConfirmFilled:
		to = mission.StateConfirmed
	case mission.ConfirmRejected:
		to = mission.StateRejected
		reason = mission.ReasonTerminalReject
	default:
		log.Printf("[Confirm] order %s carries unknown status %q, dropped", c.OrderID, c.Status)
		return
	}

	if _, err := l.store.Transition(m.ID, to, reason); err != nil {
		if errors.Is(err, mission.ErrBadTransition) {
			// A fill wins over any REJECTED retry that arrives after it,
			// and duplicates of an applied verdict land here too.
			cur, _ := l.store.Get(m.ID)
			log.Printf("[Confirm] order %s %s ignored, mission %s already %s",
				c.OrderID, c.Status, m.ID, cur.State)
			return
		}
		log.Printf("[Confirm] order %s: transition failed: %v", c.OrderID, err)
		return
	}

	log.Printf("[Confirm] order %s %s, ticket %s, fill %.5f", c.OrderID, c.Status, c.Ticket, c.FillPrice)
	if c.Status == mission.ConfirmFilled && l.watcher != nil {
		l.watcher.Open(c)
	}
	// The bus copy only feeds best-effort consumers like the db mirror.
	l.bus.Publish(events.EventConfirmation, c)
}
