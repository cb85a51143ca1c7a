package session

import (
	"strings"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Registry is the shared map of live sessions. It is never handed out raw;
// callers go through per-key operations so concurrent deletes are always a
// valid "absent" outcome rather than a race.
type Registry struct {
	m cmap.ConcurrentMap[string, *Session]
}

func NewRegistry() *Registry {
	return &Registry{m: cmap.New[*Session]()}
}

func (r *Registry) Get(instanceID string) (*Session, bool) {
	return r.m.Get(instanceID)
}

func (r *Registry) Upsert(s *Session) {
	r.m.Set(s.id, s)
}

// RemoveIf removes the entry for instanceID only while it still maps to want,
// reporting whether a removal happened. It is the compare-and-swap guard for
// timer callbacks racing a delete-and-recreate.
func (r *Registry) RemoveIf(instanceID string, want *Session) bool {
	return r.m.RemoveCb(instanceID, func(_ string, v *Session, exists bool) bool {
		return exists && v == want
	})
}

func (r *Registry) Count() int {
	return r.m.Count()
}

// Items returns a snapshot slice of all live sessions.
func (r *Registry) Items() []*Session {
	out := make([]*Session, 0, r.m.Count())
	for _, s := range r.m.Items() {
		out = append(out, s)
	}
	return out
}

// FindByPhone returns the session authenticated as the given phone number.
// A leading "+" on the query is ignored.
func (r *Registry) FindByPhone(phoneNumber string) (*Session, bool) {
	want := strings.TrimPrefix(phoneNumber, "+")
	for _, s := range r.Items() {
		s.mu.Lock()
		match := s.phoneNumber != "" && s.phoneNumber == want
		s.mu.Unlock()
		if match {
			return s, true
		}
	}
	return nil, false
}

// StateCounts tallies sessions per state for the metrics gauge.
func (r *Registry) StateCounts() map[string]int {
	counts := make(map[string]int, 4)
	for _, s := range r.Items() {
		s.mu.Lock()
		counts[string(s.state)]++
		s.mu.Unlock()
	}
	return counts
}
