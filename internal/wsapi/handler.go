// Package wsapi serves the realtime event channel over WebSocket for browser
// clients. Every text frame is a JSON object {"event": name, "payload": ...}
// in both directions, the same envelope the gRPC Events stream carries.
package wsapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/auth"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/events"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/presence"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/realtime"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 64 << 10
)

// Frame is one WebSocket text message.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Gateway receives the lifecycle and inbound events of each connection.
type Gateway interface {
	Connect(c presence.Conn)
	Handle(ctx context.Context, c presence.Conn, in events.Inbound)
	Disconnect(ctx context.Context, c presence.Conn)
}

// Verifier validates a bearer token.
type Verifier interface {
	VerifyToken(token string) (*auth.Claims, error)
}

// EncodeFunc turns an outbound event payload into its wire form.
type EncodeFunc func(events.Event) (json.RawMessage, error)

// Handler upgrades authenticated requests and runs one session per socket.
type Handler struct {
	gw       Gateway
	verifier Verifier
	encode   EncodeFunc
	buffer   int
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu       sync.Mutex
	closed   bool
	sessions map[*realtime.Session]struct{}
	wg       sync.WaitGroup
}

// Option configures a Handler.
type Option func(*Handler)

// WithBuffer sets the outbound queue size of each session.
func WithBuffer(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithEncoder replaces the default json.Marshal payload encoding.
func WithEncoder(fn EncodeFunc) Option {
	return func(h *Handler) {
		if fn != nil {
			h.encode = fn
		}
	}
}

// WithAllowedOrigins accepts cross-origin upgrades from the listed origins.
// "*" accepts any origin. Without this option only same-origin requests are
// upgraded.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) {
		if len(origins) == 0 {
			return
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || lo.Contains(origins, "*") || lo.Contains(origins, origin)
		}
	}
}

// New returns a handler that hands connections to gw.
func New(gw Gateway, verifier Verifier, log zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		gw:       gw,
		verifier: verifier,
		encode:   func(evt events.Event) (json.RawMessage, error) { return json.Marshal(evt.Payload) },
		buffer:   64,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		log:      log,
		sessions: make(map[*realtime.Session]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP authenticates the request with the bearer token from the
// Authorization header or the token query parameter, then upgrades it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := h.verifier.VerifyToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	h.serve(r.Context(), conn, claims.UserID)
}

func (h *Handler) serve(parent context.Context, conn *websocket.Conn, userID string) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer conn.Close()

	sess := realtime.NewSession(userID, realtime.SinkFunc(func(evt events.Event) error {
		payload, err := h.encode(evt)
		if err != nil {
			return err
		}
		msg, err := json.Marshal(Frame{Event: evt.Name, Payload: payload})
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, msg)
	}), h.buffer, h.log)
	lg := h.log.With().Str("user_id", userID).Str("conn_id", sess.ID()).Logger()

	if !h.track(sess) {
		return
	}
	defer h.untrack(sess)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Debug().Err(err).Msg("session writer stopped")
		}
	}()
	go keepAlive(conn, sess)

	h.gw.Connect(sess)
	defer func() {
		h.gw.Disconnect(ctx, sess)
		sess.Close()
		<-writerDone
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				lg.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Event == "" {
			lg.Debug().Msg("dropping malformed frame")
			continue
		}
		h.gw.Handle(ctx, sess, events.Inbound{Name: f.Event, Payload: f.Payload})
	}
}

// keepAlive pings the peer until the session ends, then sends a close frame
// and closes the socket so the read loop returns.
func keepAlive(conn *websocket.Conn, sess *realtime.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				sess.Close()
			}
		case <-sess.Done():
			code, reason := closeCode(sess.Err())
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}
	}
}

func closeCode(err error) (int, string) {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return websocket.CloseNormalClosure, ""
	case errors.Is(err, realtime.ErrSlowConsumer):
		return websocket.CloseTryAgainLater, "client is not reading events fast enough"
	default:
		return websocket.CloseInternalServerErr, "event stream failed"
	}
}

func (h *Handler) track(s *realtime.Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	return true
}

func (h *Handler) untrack(s *realtime.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s)
}

// Len returns the number of open sockets.
func (h *Handler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown refuses new upgrades, closes every open socket and waits for their
// disconnect handling to finish or ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for s := range h.sessions {
		s.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
