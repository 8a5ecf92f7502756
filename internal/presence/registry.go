// Package presence tracks which users currently hold a live realtime
// connection. It keeps at most one connection per user: a newer connection
// replaces the older one.
package presence

import (
	"sort"
	"sync"

	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/events"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/metrics"
)

// Conn is the handle of one live connection.
type Conn interface {
	ID() string
	UserID() string
	Send(events.Event) error
}

// Registry maps user ids to their active connection handle. All methods are
// safe for concurrent use and never fail.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Conn
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Conn)}
}

// MarkOnline registers c as the active connection for userID and returns
// the connection it replaced, if any.
func (r *Registry) MarkOnline(userID string, c Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.entries[userID]
	r.entries[userID] = c
	metrics.OnlineUsers.Set(float64(len(r.entries)))
	if prev != nil && prev.ID() == c.ID() {
		return nil
	}
	return prev
}

// MarkOffline removes the entry for userID only if it still points at c, so
// a late disconnect of a replaced connection leaves the newer one in place.
// It reports whether an entry was removed.
func (r *Registry) MarkOffline(userID string, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.entries[userID]
	if !ok || cur.ID() != c.ID() {
		return false
	}
	delete(r.entries, userID)
	metrics.OnlineUsers.Set(float64(len(r.entries)))
	return true
}

// IsOnline reports whether userID has an active connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[userID]
	return ok
}

// HandleFor returns the active connection of userID.
func (r *Registry) HandleFor(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.entries[userID]
	return c, ok
}

// Snapshot returns the online user ids in ascending order.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
