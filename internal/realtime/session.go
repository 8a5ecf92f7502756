package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/events"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/metrics"
)

var (
	// ErrClosed is returned when sending on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrSlowConsumer closes a session whose outbound queue is full.
	ErrSlowConsumer = errors.New("outbound queue full")
)

// Sink writes one event to the underlying transport. It is only ever called
// from the session writer goroutine.
type Sink interface {
	Send(events.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(events.Event) error

func (f SinkFunc) Send(evt events.Event) error { return f(evt) }

// Session is the handle of one realtime connection. Events are queued by any
// goroutine and written by a single writer in queue order.
type Session struct {
	id     string
	userID string
	sink   Sink
	queue  chan events.Event
	done   chan struct{}
	log    zerolog.Logger

	mu     sync.Mutex
	closed bool
	err    error
}

// NewSession builds a session for the authenticated userID. buffer bounds the
// number of queued events.
func NewSession(userID string, sink Sink, buffer int, log zerolog.Logger) *Session {
	if buffer < 1 {
		buffer = 1
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		userID: userID,
		sink:   sink,
		queue:  make(chan events.Event, buffer),
		done:   make(chan struct{}),
		log:    log.With().Str("conn_id", id).Str("user_id", userID).Logger(),
	}
}

// ID returns the connection id.
func (s *Session) ID() string { return s.id }

// UserID returns the authenticated user of the connection.
func (s *Session) UserID() string { return s.userID }

// Send queues evt without blocking. When the queue is full the session is
// closed with ErrSlowConsumer.
func (s *Session) Send(evt events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		metrics.NotificationsDropped.Inc()
		return ErrClosed
	}
	select {
	case s.queue <- evt:
		return nil
	default:
		metrics.NotificationsDropped.Inc()
		s.closeLocked(ErrSlowConsumer)
		s.log.Warn().Str("event", evt.Name).Msg("outbound queue full, closing session")
		return ErrSlowConsumer
	}
}

// Run writes queued events to the sink until the session is closed, ctx is
// done or the sink fails. It returns the reason the session ended.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-s.done:
			return s.Err()
		case <-ctx.Done():
			s.closeWith(ctx.Err())
			return s.Err()
		case evt := <-s.queue:
			if err := s.sink.Send(evt); err != nil {
				s.closeWith(err)
				return s.Err()
			}
			metrics.ObserveEvent(evt.Name, metrics.Out)
		}
	}
}

// Close ends the session. Queued events that were not written are dropped.
func (s *Session) Close() { s.closeWith(nil) }

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the reason the session was closed, nil for a normal Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) closeWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(err)
}

func (s *Session) closeLocked(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.done)
}
