package proxy

import (
	"cmp"
	"maps"
	"slices"
	"sync"
	"time"
)

// SessionInfo describes one proxied connection for the admin /conns endpoint.
type SessionInfo struct {
	ID        string    `json:"id"`
	Client    string    `json:"client"`
	Host      string    `json:"host"`
	Upstream  string    `json:"upstream"`
	StartedAt time.Time `json:"started_at"`
}

// SessionRegistry tracks sessions between a successful dial and the end of
// the bridge.
type SessionRegistry struct {
	mu   sync.RWMutex
	byID map[string]SessionInfo
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{byID: make(map[string]SessionInfo)}
}

func (r *SessionRegistry) Add(info SessionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[info.ID] = info
}

func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Snapshot returns the open sessions, oldest first.
func (r *SessionRegistry) Snapshot() []SessionInfo {
	r.mu.RLock()
	out := slices.Collect(maps.Values(r.byID))
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b SessionInfo) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// CountByHost returns the number of open sessions per routed host.
func (r *SessionRegistry) CountByHost() map[string]int {
	counts := make(map[string]int)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byID {
		counts[s.Host]++
	}
	return counts
}
