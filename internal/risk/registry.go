package risk

import (
	"sort"
	"sync"
)

// Registry is the in-memory user profile directory. Seeded from storage at
// startup and updated through the operator API.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]UserRiskProfile
}

func NewRegistry() *Registry {
	return &Registry{profiles: make(map[string]UserRiskProfile)}
}

// Upsert inserts or replaces a profile.
func (r *Registry) Upsert(p UserRiskProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.UserID] = p
}

// Get returns the profile for userID.
func (r *Registry) Get(userID string) (UserRiskProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[userID]
	return p, ok
}

// Remove drops a profile. Missions already in flight are unaffected.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.profiles, userID)
}

// Profiles returns all profiles in stable user order.
func (r *Registry) Profiles() []UserRiskProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]UserRiskProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
