package db

import (
	"context"
	"log"

	"signal-core/internal/events"
	"signal-core/internal/mission"
)

// Mirror tails the event bus into SQLite. Writes are best effort: a failed
// mirror write is logged, never retried, and never blocks the lifecycle.
type Mirror struct {
	queries *Queries
	bus     *events.Bus
}

func NewMirror(queries *Queries, bus *events.Bus) *Mirror {
	return &Mirror{queries: queries, bus: bus}
}

// Run persists lifecycle events until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) {
	transitions, unsubT := m.bus.Subscribe(events.EventMissionTransition, 256)
	fires, unsubF := m.bus.Subscribe(events.EventFireDispatched, 64)
	confirms, unsubC := m.bus.Subscribe(events.EventConfirmation, 64)
	outcomes, unsubO := m.bus.Subscribe(events.EventOutcome, 64)
	defer unsubT()
	defer unsubF()
	defer unsubC()
	defer unsubO()

	log.Printf("[Mirror] persistence started")
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Mirror] persistence stopped")
			return
		case p := <-transitions:
			if msn, ok := p.(mission.Mission); ok {
				if err := m.queries.UpsertMission(ctx, msn); err != nil {
					log.Printf("[Mirror] %v", err)
				}
			}
		case p := <-fires:
			if o, ok := p.(mission.FireOrder); ok {
				if err := m.queries.InsertOrder(ctx, o); err != nil {
					log.Printf("[Mirror] %v", err)
				}
			}
		case p := <-confirms:
			if c, ok := p.(mission.Confirmation); ok {
				if err := m.queries.InsertConfirmation(ctx, c); err != nil {
					log.Printf("[Mirror] %v", err)
				}
			}
		case p := <-outcomes:
			if o, ok := p.(mission.Outcome); ok {
				if err := m.queries.InsertOutcome(ctx, o); err != nil {
					log.Printf("[Mirror] %v", err)
				}
			}
		}
	}
}
