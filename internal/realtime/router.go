// Package realtime fans out events to live connections, either to the members
// of a chat room, to one user through the presence registry, or to everyone.
package realtime

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/events"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/presence"
)

// Router keeps the set of attached connections and the chat rooms they joined.
type Router struct {
	registry *presence.Registry
	log      zerolog.Logger

	mu    sync.RWMutex
	conns map[string]presence.Conn            // conn id -> conn
	rooms map[string]map[string]presence.Conn // chat id -> conn id -> conn
	joins map[string]map[string]struct{}      // conn id -> chat ids

	// fanout serializes deliveries so every connection observes broadcasts
	// in the same order they were issued.
	fanout sync.Mutex
}

// NewRouter returns a router that resolves direct sends through registry.
func NewRouter(registry *presence.Registry, log zerolog.Logger) *Router {
	return &Router{
		registry: registry,
		log:      log,
		conns:    make(map[string]presence.Conn),
		rooms:    make(map[string]map[string]presence.Conn),
		joins:    make(map[string]map[string]struct{}),
	}
}

// Attach makes c reachable by global broadcasts.
func (r *Router) Attach(c presence.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID()] = c
}

// Detach removes c and takes it out of every room it joined.
func (r *Router) Detach(c presence.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, c.ID())
	for chatID := range r.joins[c.ID()] {
		members := r.rooms[chatID]
		delete(members, c.ID())
		if len(members) == 0 {
			delete(r.rooms, chatID)
		}
	}
	delete(r.joins, c.ID())
}

// JoinRoom adds c to the room of chatID. Joining twice is a no-op; a
// connection may be in any number of rooms. It reports whether c was added.
func (r *Router) JoinRoom(c presence.Conn, chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[chatID]
	if !ok {
		members = make(map[string]presence.Conn)
		r.rooms[chatID] = members
	}
	if _, ok := members[c.ID()]; ok {
		return false
	}
	members[c.ID()] = c
	if r.joins[c.ID()] == nil {
		r.joins[c.ID()] = make(map[string]struct{})
	}
	r.joins[c.ID()][chatID] = struct{}{}
	return true
}

// InRoom reports whether c has joined the room of chatID.
func (r *Router) InRoom(c presence.Conn, chatID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.joins[c.ID()][chatID]
	return ok
}

// RoomSize returns the number of connections in the room of chatID.
func (r *Router) RoomSize(chatID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[chatID])
}

// BroadcastToRoom sends evt to every connection in the room of chatID except
// the one passed as except (may be nil). It returns the number of connections
// the event was queued on.
func (r *Router) BroadcastToRoom(chatID string, evt events.Event, except presence.Conn) int {
	r.fanout.Lock()
	defer r.fanout.Unlock()

	r.mu.RLock()
	targets := make([]presence.Conn, 0, len(r.rooms[chatID]))
	for id, c := range r.rooms[chatID] {
		if except != nil && id == except.ID() {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	return r.deliver(targets, evt)
}

// SendToUser sends evt to the connection registered for userID. It never
// queues for later and never retries; false means nothing was sent.
func (r *Router) SendToUser(userID string, evt events.Event) bool {
	r.fanout.Lock()
	defer r.fanout.Unlock()

	c, ok := r.registry.HandleFor(userID)
	if !ok {
		return false
	}
	return r.deliver([]presence.Conn{c}, evt) == 1
}

// BroadcastGlobal sends evt to every attached connection.
func (r *Router) BroadcastGlobal(evt events.Event) int {
	r.fanout.Lock()
	defer r.fanout.Unlock()

	r.mu.RLock()
	targets := make([]presence.Conn, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	return r.deliver(targets, evt)
}

func (r *Router) deliver(targets []presence.Conn, evt events.Event) int {
	sent := 0
	for _, c := range targets {
		if err := c.Send(evt); err != nil {
			r.log.Debug().Err(err).Str("conn_id", c.ID()).Str("event", evt.Name).Msg("event not delivered")
			continue
		}
		sent++
	}
	return sent
}
