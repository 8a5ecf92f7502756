package wsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/auth"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/events"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/presence"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/realtime"
)

// echoGateway records lifecycle calls and answers every inbound frame with an
// "echo" event carrying the inbound event name.
type echoGateway struct {
	mu           sync.Mutex
	connected    []string
	handled      []events.Inbound
	disconnected []string
}

func (g *echoGateway) Connect(c presence.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = append(g.connected, c.UserID())
}

func (g *echoGateway) Handle(_ context.Context, c presence.Conn, in events.Inbound) {
	g.mu.Lock()
	g.handled = append(g.handled, in)
	g.mu.Unlock()
	_ = c.Send(events.Event{Name: "echo", Payload: map[string]string{"got": in.Name, "user": c.UserID()}})
}

func (g *echoGateway) Disconnect(_ context.Context, c presence.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disconnected = append(g.disconnected, c.UserID())
}

func (g *echoGateway) counts() (int, int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.connected), len(g.handled), len(g.disconnected)
}

type harness struct {
	srv     *httptest.Server
	handler *Handler
	gw      *echoGateway
	jwt     *auth.JWTManager
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{gw: &echoGateway{}, jwt: auth.NewJWTManager("ws-secret", time.Hour)}
	h.handler = New(h.gw, h.jwt, zerolog.Nop(), opts...)
	h.srv = httptest.NewServer(h.handler)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) token(t *testing.T, userID bson.ObjectID) string {
	t.Helper()
	tok, _, err := h.jwt.GenerateToken(userID, userID.Hex()+"@example.com")
	require.NoError(t, err)
	return tok
}

func (h *harness) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

func (h *harness) dial(t *testing.T, header http.Header, query string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(h.url()+query, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHandler_RejectsMissingOrInvalidToken(t *testing.T) {
	h := newHarness(t)

	_, resp, err := websocket.DefaultDialer.Dial(h.url(), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(h.url()+"?token=garbage", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	connected, _, _ := h.gw.counts()
	require.Zero(t, connected)
}

func TestHandler_FramesReachGatewayAndEventsReachClient(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	user := bson.NewObjectID()

	conn := h.dial(t, http.Header{"Authorization": {"Bearer " + h.token(t, user)}}, "")
	req.NoError(conn.WriteJSON(Frame{Event: events.JoinChat, Payload: json.RawMessage(`"chat-1"`)}))

	f := readFrame(t, conn)
	req.Equal("echo", f.Event)
	var body map[string]string
	req.NoError(json.Unmarshal(f.Payload, &body))
	req.Equal(events.JoinChat, body["got"])
	req.Equal(user.Hex(), body["user"])

	h.gw.mu.Lock()
	req.Equal([]string{user.Hex()}, h.gw.connected)
	req.JSONEq(`"chat-1"`, string(h.gw.handled[0].Payload))
	h.gw.mu.Unlock()
	req.Equal(1, h.handler.Len())

	req.NoError(conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	req.Eventually(func() bool {
		_, _, disconnected := h.gw.counts()
		return disconnected == 1
	}, 2*time.Second, 10*time.Millisecond)
	req.Eventually(func() bool { return h.handler.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_DropsMalformedFrames(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	user := bson.NewObjectID()
	conn := h.dial(t, nil, "?token="+h.token(t, user))

	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	req.NoError(conn.WriteJSON(Frame{Payload: json.RawMessage(`{}`)}))
	req.NoError(conn.WriteJSON(Frame{Event: events.GetOnlineUsers}))

	f := readFrame(t, conn)
	req.Equal("echo", f.Event)
	_, handled, _ := h.gw.counts()
	req.Equal(1, handled)
}

func TestHandler_OriginCheck(t *testing.T) {
	user := bson.NewObjectID()

	strict := newHarness(t)
	header := http.Header{
		"Authorization": {"Bearer " + strict.token(t, user)},
		"Origin":        {"https://evil.example"},
	}
	_, resp, err := websocket.DefaultDialer.Dial(strict.url(), header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	open := newHarness(t, WithAllowedOrigins([]string{"https://app.example"}))
	header = http.Header{
		"Authorization": {"Bearer " + open.token(t, user)},
		"Origin":        {"https://app.example"},
	}
	open.dial(t, header, "")
}

func TestHandler_ShutdownClosesSocketsAndRefusesNewOnes(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	user := bson.NewObjectID()
	conn := h.dial(t, nil, "?token="+h.token(t, user))
	req.Eventually(func() bool { return h.handler.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req.NoError(h.handler.Shutdown(ctx))

	_, _, disconnected := h.gw.counts()
	req.Equal(1, disconnected)

	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := conn.ReadMessage()
	req.True(websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	_, resp, err := websocket.DefaultDialer.Dial(h.url()+"?token="+h.token(t, user), nil)
	req.ErrorIs(err, websocket.ErrBadHandshake)
	req.Equal(http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCloseCode(t *testing.T) {
	code, _ := closeCode(nil)
	require.Equal(t, websocket.CloseNormalClosure, code)
	code, _ = closeCode(context.Canceled)
	require.Equal(t, websocket.CloseNormalClosure, code)
	code, _ = closeCode(fmt.Errorf("send: %w", realtime.ErrSlowConsumer))
	require.Equal(t, websocket.CloseTryAgainLater, code)
	code, _ = closeCode(errors.New("broken pipe"))
	require.Equal(t, websocket.CloseInternalServerErr, code)
}
