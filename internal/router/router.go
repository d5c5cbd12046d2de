package router

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"signal-core/internal/events"
	"signal-core/internal/mission"
	"signal-core/internal/monitor"
	"signal-core/internal/risk"
	"signal-core/internal/transport"
	"signal-core/internal/vitality"
)

// ProfileSource enumerates the user risk profiles a signal fans out to.
type ProfileSource interface {
	Profiles() []risk.UserRiskProfile
}

// Router owns the mission lifecycle from signal receipt to fire dispatch.
// It is the only component that moves missions between states before the
// confirmation and truth stages take over.
type Router struct {
	store    *mission.Store
	slots    *mission.SlotCounter
	engine   *vitality.Engine
	sizer    *risk.Sizer
	tracker  *risk.Tracker
	tp       transport.Transport
	bus      *events.Bus
	sched    *Scheduler
	metrics  *monitor.SystemMetrics
	prom     *monitor.Prom
	profiles ProfileSource

	dispatchTimeout time.Duration
}

// Options bundles the router's collaborators.
type Options struct {
	Store           *mission.Store
	Slots           *mission.SlotCounter
	Vitality        *vitality.Engine
	Sizer           *risk.Sizer
	Tracker         *risk.Tracker
	Transport       transport.Transport
	Bus             *events.Bus
	Scheduler       *Scheduler
	Metrics         *monitor.SystemMetrics
	Prom            *monitor.Prom
	Profiles        ProfileSource
	DispatchTimeout time.Duration
}

// New wires a router and installs its transition hook on the store.
func New(opts Options) *Router {
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 15 * time.Second
	}
	r := &Router{
		store:           opts.Store,
		slots:           opts.Slots,
		engine:          opts.Vitality,
		sizer:           opts.Sizer,
		tracker:         opts.Tracker,
		tp:              opts.Transport,
		bus:             opts.Bus,
		sched:           opts.Scheduler,
		metrics:         opts.Metrics,
		prom:            opts.Prom,
		profiles:        opts.Profiles,
		dispatchTimeout: opts.DispatchTimeout,
	}
	r.store.OnTransition = r.onTransition
	return r
}

// Run drains the signal channel until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	log.Printf("[Router] started, dispatch timeout %s", r.dispatchTimeout)
	signals := r.tp.Signals()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Router] stopped")
			return
		case sig, ok := <-signals:
			if !ok {
				log.Printf("[Router] signal channel closed")
				return
			}
			r.HandleSignal(ctx, sig)
		}
	}
}

// HandleSignal fans one detector signal out to every user profile. Each
// mission proceeds independently; one user's rejection never affects
// another's.
func (r *Router) HandleSignal(ctx context.Context, sig mission.Signal) {
	r.metrics.IncrementSignals()
	if r.prom != nil {
		r.prom.SignalsTotal.Inc()
	}

	now := time.Now()
	if !sig.ExpiresAt.After(now) {
		r.metrics.IncrementStaleRefusals()
		log.Printf("[Router] refused stale signal %s (%s, expired %s ago)",
			sig.ID, sig.Symbol, now.Sub(sig.ExpiresAt).Truncate(time.Millisecond))
		return
	}

	r.bus.Publish(events.EventSignal, sig)

	for _, profile := range r.profiles.Profiles() {
		m := mission.Mission{
			ID:        uuid.NewString(),
			Signal:    sig,
			UserID:    profile.UserID,
			Tier:      profile.Tier,
			State:     mission.StatePending,
			CreatedAt: now,
			ExpiresAt: sig.ExpiresAt,
		}
		if err := r.store.Create(m); err != nil {
			log.Printf("[Router] mission for signal %s user %s refused: %v", sig.ID, profile.UserID, err)
			continue
		}
		r.metrics.IncrementMissions()
		r.bus.Publish(events.EventMissionTransition, m)
		r.armDeadline(m.ID, m.ExpiresAt)

		go r.process(ctx, m, profile)
	}
}

// process runs one mission through validation and dispatch.
func (r *Router) process(ctx context.Context, m mission.Mission, profile risk.UserRiskProfile) {
	vt := monitor.NewTimer(r.metrics.ValidateLatency)
	reading, rej := r.validate(m, profile)
	vt.Stop()

	if rej != nil {
		r.reject(m.ID, rej)
		return
	}

	if _, err := r.store.Transition(m.ID, mission.StateValidated, ""); err != nil {
		// Mission was cancelled or expired while validating; give the
		// slot back since the terminal transition ran from PENDING.
		r.slots.Release(m.UserID)
		log.Printf("[Router] mission %s not validated: %v", m.ID, err)
		return
	}

	r.fire(ctx, m, profile, reading)
}

// validate applies the policy gates in order. On success the user's slot is
// held; every failure before that returns with no slot held.
func (r *Router) validate(m mission.Mission, profile risk.UserRiskProfile) (vitality.Reading, *mission.Rejection) {
	sig := m.Signal

	if !r.tierAllows(profile, sig.Pattern) {
		return vitality.Reading{}, mission.Reject(mission.ReasonTierPattern,
			"tier %s does not trade pattern %q", profile.Tier, sig.Pattern)
	}
	if sig.Confidence < profile.ConfidenceFloor {
		return vitality.Reading{}, mission.Reject(mission.ReasonConfidenceFloor,
			"confidence %.1f below tier floor %.1f", sig.Confidence, profile.ConfidenceFloor)
	}
	if r.tracker.InCooldown(m.UserID, time.Now()) {
		return vitality.Reading{}, mission.Reject(mission.ReasonCooldown,
			"user %s in loss cooldown", m.UserID)
	}

	reading := r.engine.Compute(m)
	if r.prom != nil {
		r.prom.VitalityScore.WithLabelValues(sig.Symbol).Set(reading.Score)
	}
	if !reading.Executable() {
		return vitality.Reading{}, mission.Reject(mission.ReasonStaleSignal,
			"vitality %.1f (%s) below execution floor", reading.Score, reading.Status)
	}

	if !r.tp.Healthy(transport.ChannelFireOut) {
		return vitality.Reading{}, mission.Reject(mission.ReasonChannelDegraded,
			"fire channel outside heartbeat window")
	}

	// Slot acquisition comes last so no failure path leaks a held slot.
	if !r.slots.TryAcquire(m.UserID, profile.MaxConcurrentSlots) {
		return vitality.Reading{}, mission.Reject(mission.ReasonSlotLimit,
			"user %s already holds %d/%d slots", m.UserID, r.slots.Held(m.UserID), profile.MaxConcurrentSlots)
	}
	return reading, nil
}

func (r *Router) tierAllows(profile risk.UserRiskProfile, pattern string) bool {
	if profile.Tier == "" {
		return false
	}
	return profile.AllowsPattern(pattern)
}

// fire sizes the order, records it, transitions to FIRED and pushes the
// frame out. The dispatch timer is armed before the send so a hung
// transport still resolves the mission.
func (r *Router) fire(ctx context.Context, m mission.Mission, profile risk.UserRiskProfile, reading vitality.Reading) {
	dt := monitor.NewTimer(r.metrics.DispatchLatency)

	account := r.tracker.Account(m.UserID)
	if account.Balance <= 0 {
		// No confirmation has reported a live balance yet; size from the
		// profile's declared balance so a fresh deployment can fire.
		account.Balance = profile.Balance
	}

	order, err := r.sizer.BuildOrder(m, reading, profile, account)
	if err != nil {
		var rej *mission.Rejection
		if !errors.As(err, &rej) {
			rej = mission.Reject(mission.ReasonSizing, "%v", err)
		}
		r.reject(m.ID, rej)
		return
	}

	if err := r.store.AttachOrder(m.ID, order); err != nil {
		log.Printf("[Router] mission %s order attach failed: %v", m.ID, err)
		r.reject(m.ID, mission.Reject(mission.ReasonSizing, "order attach: %v", err))
		return
	}
	if _, err := r.store.Transition(m.ID, mission.StateFired, ""); err != nil {
		log.Printf("[Router] mission %s not fired: %v", m.ID, err)
		return
	}
	r.armDispatchTimeout(m.ID, order.OrderID)

	err = r.tp.SendFire(ctx, order)
	elapsed := dt.Stop()
	switch {
	case err == nil, errors.Is(err, transport.ErrDeliveryUncertain):
		// Uncertain delivery is the normal case on a fire-and-forget
		// channel. Only a confirmation or the timeout settles it.
		r.metrics.IncrementFires(m.Signal.Mode() == mission.ModeFast)
		if r.prom != nil {
			r.prom.FiresTotal.WithLabelValues(string(m.Signal.Mode())).Inc()
			r.prom.DispatchSeconds.Observe(elapsed.Seconds())
		}
		r.bus.Publish(events.EventFireDispatched, order)
		log.Printf("[Router] mission %s fired order %s %s %s %.2f lots",
			m.ID, order.OrderID, order.Direction, order.Symbol, order.Volume)
	case errors.Is(err, transport.ErrChannelDegraded):
		r.reject(m.ID, mission.Reject(mission.ReasonChannelDegraded, "fire channel degraded at dispatch"))
	default:
		r.reject(m.ID, mission.Reject(mission.ReasonChannelDegraded, "fire dispatch: %v", err))
	}
}

// Rearm rebuilds timers and slot holds for missions restored after a
// restart. FIRED missions get a fresh dispatch timeout; anything earlier
// keeps its original deadline.
func (r *Router) Rearm(restored []mission.Mission) {
	maxFor := make(map[string]int)
	for _, p := range r.profiles.Profiles() {
		maxFor[p.UserID] = p.MaxConcurrentSlots
	}
	for _, m := range restored {
		if m.State.Terminal() {
			continue
		}
		switch m.State {
		case mission.StateValidated, mission.StateFired, mission.StateConfirmed:
			if max, ok := maxFor[m.UserID]; ok {
				r.slots.TryAcquire(m.UserID, max)
			}
		}
		r.armDeadline(m.ID, m.ExpiresAt)
		if m.State == mission.StateFired {
			r.armDispatchTimeout(m.ID, m.OrderID)
		}
	}
	if len(restored) > 0 {
		log.Printf("[Router] rearmed %d restored missions", len(restored))
	}
}

// Cancel aborts a mission that has not yet been dispatched.
func (r *Router) Cancel(missionID string) (mission.Mission, error) {
	return r.store.Cancel(missionID)
}

// armDispatchTimeout schedules the FIRED resolution deadline. A mission
// still FIRED when it expires is treated as lost in transit.
func (r *Router) armDispatchTimeout(missionID, orderID string) {
	r.sched.After(r.dispatchTimeout, func() {
		m, ok := r.store.Get(missionID)
		if !ok || m.State != mission.StateFired {
			return
		}
		log.Printf("[Router] mission %s order %s unconfirmed after %s", missionID, orderID, r.dispatchTimeout)
		if _, err := r.store.Transition(missionID, mission.StateRejected, mission.ReasonDispatchTimeout); err != nil {
			log.Printf("[Router] mission %s timeout transition failed: %v", missionID, err)
		}
	})
}

// armDeadline expires a mission that never reached the wire by its
// signal's expiry.
func (r *Router) armDeadline(missionID string, at time.Time) {
	r.sched.At(at, func() {
		m, ok := r.store.Get(missionID)
		if !ok {
			return
		}
		switch m.State {
		case mission.StatePending, mission.StateValidated:
			if _, err := r.store.Transition(missionID, mission.StateExpired, mission.ReasonDeadline); err != nil {
				log.Printf("[Router] mission %s deadline transition failed: %v", missionID, err)
			}
		}
	})
}

// reject applies a terminal rejection and records it.
func (r *Router) reject(missionID string, rej *mission.Rejection) {
	m, err := r.store.Transition(missionID, mission.StateRejected, rej.Code)
	if err != nil {
		log.Printf("[Router] mission %s rejection (%s) not applied: %v", missionID, rej.Code, err)
		return
	}
	log.Printf("[Router] mission %s rejected: %v", m.ID, rej)
}

// onTransition is the store hook: it keeps slots, caches, metrics and the
// event bus consistent with every lifecycle move, wherever it originated.
func (r *Router) onTransition(m mission.Mission, from mission.State) {
	if m.State.Terminal() {
		// The slot is held from VALIDATED onward.
		switch from {
		case mission.StateValidated, mission.StateFired, mission.StateConfirmed:
			r.slots.Release(m.UserID)
		}
		r.engine.Invalidate(m.ID)
	}
	if m.State == mission.StateRejected || m.State == mission.StateExpired {
		r.metrics.IncrementRejections()
		if r.prom != nil {
			reason := m.ReasonCode
			if reason == "" {
				reason = "UNSPECIFIED"
			}
			r.prom.RejectionsTotal.WithLabelValues(reason).Inc()
		}
	}
	if r.prom != nil {
		r.prom.SlotsHeld.WithLabelValues(m.UserID).Set(float64(r.slots.Held(m.UserID)))
	}
	r.bus.Publish(events.EventMissionTransition, m)
}
