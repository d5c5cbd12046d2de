package mission

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Store is the concurrent mission/order lookup table shared by the router,
// the confirmation listener and the truth tracker. Lookups by order_id are
// O(1); terminal entries are retained for a window so duplicate
// confirmations stay idempotent, then evicted.
type Store struct {
	mu        sync.RWMutex
	missions  map[string]*Mission  // mission_id -> mission
	orders    map[string]FireOrder // order_id -> immutable order
	byOrder   map[string]string    // order_id -> mission_id
	active    map[string]string    // signal_id|user_id -> mission_id (non-terminal only)
	retention time.Duration

	// OnTransition, when set, is invoked after every applied transition,
	// outside the store lock.
	OnTransition func(m Mission, from State)
}

// NewStore creates a store with the given terminal-entry retention window.
func NewStore(retention time.Duration) *Store {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Store{
		missions:  make(map[string]*Mission),
		orders:    make(map[string]FireOrder),
		byOrder:   make(map[string]string),
		active:    make(map[string]string),
		retention: retention,
	}
}

func activeKey(signalID, userID string) string {
	return signalID + "|" + userID
}

// Create registers a new PENDING mission. Exactly one non-terminal mission
// may exist per (signal_id, user_id) pair.
func (s *Store) Create(m Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := activeKey(m.Signal.ID, m.UserID)
	if existing, ok := s.active[key]; ok {
		return fmt.Errorf("mission: active mission %s already exists for signal %s user %s",
			existing, m.Signal.ID, m.UserID)
	}
	if _, ok := s.missions[m.ID]; ok {
		return fmt.Errorf("mission: duplicate mission id %s", m.ID)
	}

	m.State = StatePending
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	cp := m
	s.missions[m.ID] = &cp
	s.active[key] = m.ID
	return nil
}

// Get returns a snapshot of the mission.
func (s *Store) Get(missionID string) (Mission, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.missions[missionID]
	if !ok {
		return Mission{}, false
	}
	return *m, true
}

// ByOrder resolves the mission owning an order_id.
func (s *Store) ByOrder(orderID string) (Mission, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byOrder[orderID]
	if !ok {
		return Mission{}, false
	}
	m, ok := s.missions[id]
	if !ok {
		return Mission{}, false
	}
	return *m, true
}

// Order returns the immutable FireOrder for an order_id.
func (s *Store) Order(orderID string) (FireOrder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	return o, ok
}

// AttachOrder binds a dispatched FireOrder to its mission. Called exactly
// once, at FIRED time.
func (s *Store) AttachOrder(missionID string, o FireOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[missionID]
	if !ok {
		return ErrUnknownMission
	}
	if m.OrderID != "" {
		return fmt.Errorf("mission: %s already has order %s", missionID, m.OrderID)
	}
	m.OrderID = o.OrderID
	s.orders[o.OrderID] = o
	s.byOrder[o.OrderID] = missionID
	return nil
}

// Transition applies a lifecycle move after validating it against the state
// graph. Illegal moves (including any transition out of a terminal state)
// return ErrBadTransition, which is how duplicate confirmations and the
// FILLED-wins tie-break stay idempotent.
func (s *Store) Transition(missionID string, to State, reason string) (Mission, error) {
	s.mu.Lock()
	m, ok := s.missions[missionID]
	if !ok {
		s.mu.Unlock()
		return Mission{}, ErrUnknownMission
	}
	from := m.State
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return *m, fmt.Errorf("%w: %s -> %s (mission %s)", ErrBadTransition, from, to, missionID)
	}

	m.State = to
	if reason != "" {
		m.ReasonCode = reason
	}
	if to.Terminal() {
		m.ClosedAt = time.Now()
		delete(s.active, activeKey(m.Signal.ID, m.UserID))
	}
	snap := *m
	hook := s.OnTransition
	s.mu.Unlock()

	if hook != nil {
		hook(snap, from)
	}
	return snap, nil
}

// Cancel aborts a mission on user override. Only PENDING and VALIDATED
// missions can be cancelled; once FIRED the core must wait for whatever
// confirmation eventually arrives.
func (s *Store) Cancel(missionID string) (Mission, error) {
	s.mu.RLock()
	m, ok := s.missions[missionID]
	if !ok {
		s.mu.RUnlock()
		return Mission{}, ErrUnknownMission
	}
	snap := *m
	s.mu.RUnlock()

	if snap.State != StatePending && snap.State != StateValidated {
		return snap, ErrNotCancellable
	}
	return s.Transition(missionID, StateRejected, ReasonCancelled)
}

// Active returns snapshots of all non-terminal missions.
func (s *Store) Active() []Mission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Mission, 0, len(s.active))
	for _, id := range s.active {
		if m, ok := s.missions[id]; ok {
			out = append(out, *m)
		}
	}
	return out
}

// InState returns snapshots of missions currently in the given state.
func (s *Store) InState(state State) []Mission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Mission
	for _, m := range s.missions {
		if m.State == state {
			out = append(out, *m)
		}
	}
	return out
}

// Sweep evicts terminal missions older than the retention window along with
// their order index entries. Returns the number evicted.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, m := range s.missions {
		if !m.State.Terminal() || m.ClosedAt.IsZero() {
			continue
		}
		if now.Sub(m.ClosedAt) < s.retention {
			continue
		}
		if m.OrderID != "" {
			delete(s.orders, m.OrderID)
			delete(s.byOrder, m.OrderID)
		}
		delete(s.missions, id)
		evicted++
	}
	if evicted > 0 {
		log.Printf("mission: swept %d terminal missions past retention", evicted)
	}
	return evicted
}

// Restore seeds the store from persisted rows on restart. Terminal missions
// keep their order index so late confirmations after a restart are still
// recognized and idempotently dropped.
func (s *Store) Restore(missions []Mission, orders []FireOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range missions {
		m := missions[i]
		cp := m
		s.missions[m.ID] = &cp
		if !m.State.Terminal() {
			s.active[activeKey(m.Signal.ID, m.UserID)] = m.ID
		}
	}
	for _, o := range orders {
		s.orders[o.OrderID] = o
		s.byOrder[o.OrderID] = o.MissionID
	}
}
