package mission

import (
	"sync"
	"sync/atomic"
)

// SlotCounter tracks per-user concurrent-position allowances. A slot is held
// from VALIDATED through any terminal state. The count is the single source
// of truth; it is never derived by counting open orders.
type SlotCounter struct {
	mu    sync.Mutex
	users map[string]*atomic.Int64
}

// NewSlotCounter creates an empty counter set.
func NewSlotCounter() *SlotCounter {
	return &SlotCounter{users: make(map[string]*atomic.Int64)}
}

func (c *SlotCounter) counter(userID string) *atomic.Int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.users[userID]
	if !ok {
		n = &atomic.Int64{}
		c.users[userID] = n
	}
	return n
}

// TryAcquire claims one slot for the user if fewer than max are held.
// Safe under concurrent fire attempts: the CAS loop guarantees the count
// never exceeds max.
func (c *SlotCounter) TryAcquire(userID string, max int) bool {
	n := c.counter(userID)
	for {
		cur := n.Load()
		if cur >= int64(max) {
			return false
		}
		if n.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release returns one slot. The count is floored at zero so a duplicate
// release cannot drive it negative.
func (c *SlotCounter) Release(userID string) {
	n := c.counter(userID)
	for {
		cur := n.Load()
		if cur <= 0 {
			return
		}
		if n.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Held returns the number of slots the user currently holds.
func (c *SlotCounter) Held(userID string) int {
	return int(c.counter(userID).Load())
}
