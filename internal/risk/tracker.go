package risk

import (
	"log"
	"sync"
	"time"

	"signal-core/internal/mission"
)

// Tracker keeps per-user daily statistics feeding the drawdown circuit
// breaker and the cooldown gate. State is in-memory; a restart mid-day
// starts the counters clean, which errs on the permissive side and is
// reconciled against the ledger at the next daily reset.
type Tracker struct {
	mu       sync.RWMutex
	users    map[string]*DayStats
	accounts map[string]AccountState
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		users:    make(map[string]*DayStats),
		accounts: make(map[string]AccountState),
	}
}

func (t *Tracker) stats(userID string) *DayStats {
	s, ok := t.users[userID]
	if !ok {
		s = &DayStats{}
		t.users[userID] = s
	}
	return s
}

// RecordOutcome folds a resolved outcome into the user's day counters. A
// loss extends the consecutive-loss streak and arms the cooldown window; a
// win or breakeven breaks the streak.
func (t *Tracker) RecordOutcome(userID string, result mission.Result, cooldown time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stats(userID)
	switch result {
	case mission.ResultLoss:
		s.Losses++
		s.ConsecutiveLosses++
		if cooldown > 0 {
			s.CooldownUntil = time.Now().Add(cooldown)
		}
	case mission.ResultWin, mission.ResultBreakeven:
		s.Wins++
		s.ConsecutiveLosses = 0
	}
}

// Day returns a snapshot of the user's day counters.
func (t *Tracker) Day(userID string) DayStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.users[userID]; ok {
		return *s
	}
	return DayStats{}
}

// InCooldown reports whether the user's post-loss cooldown is still active.
func (t *Tracker) InCooldown(userID string, now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.users[userID]; ok {
		return now.Before(s.CooldownUntil)
	}
	return false
}

// SetBalance updates the cached account balance from a confirmation
// snapshot.
func (t *Tracker) SetBalance(userID string, balance float64) {
	if balance <= 0 {
		return
	}
	t.mu.Lock()
	t.accounts[userID] = AccountState{Balance: balance, UpdatedAt: time.Now()}
	t.mu.Unlock()
}

// Account returns the cached account state for a user.
func (t *Tracker) Account(userID string) AccountState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.accounts[userID]
}

// ResetDaily clears all day counters. Scheduled at midnight.
func (t *Tracker) ResetDaily() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for userID, s := range t.users {
		if s.Wins+s.Losses > 0 {
			log.Printf("risk: daily reset for %s (wins=%d losses=%d streak=%d)",
				userID, s.Wins, s.Losses, s.ConsecutiveLosses)
		}
	}
	t.users = make(map[string]*DayStats)
}
