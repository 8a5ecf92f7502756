package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	v1 "github.com/PaulBabatuyi/reaTimeChat-presence/api/chat/v1"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/data"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/events"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/localstore"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/wsapi"
)

func TestHTTPRouter_Healthz(t *testing.T) {
	ready := true
	r := newHTTPRouter(http.NotFoundHandler(), func() bool { return ready }, zerolog.Nop())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	ready = false
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHTTPRouter_Metrics(t *testing.T) {
	r := newHTTPRouter(http.NotFoundHandler(), func() bool { return true }, zerolog.Nop())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "go_goroutines")
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, baseURL, token string) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) emit(name string, payload any) {
	c.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(wsapi.Frame{Event: name, Payload: raw}))
}

// await skips frames until one named name arrives and decodes its payload into v.
func (c *wsClient) await(name string, v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f wsapi.Frame
		require.NoError(c.t, c.conn.ReadJSON(&f))
		if f.Event != name {
			continue
		}
		if v != nil {
			require.NoError(c.t, json.Unmarshal(f.Payload, v))
		}
		return
	}
}

func TestWebSocket_BrowserClientGetsMessagesAndAcks(t *testing.T) {
	store, err := localstore.Open("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	client, srv := startServer(t, stores{users: store, chats: store, msgs: store})

	ws := wsapi.New(srv.gateway, srv.auth, zerolog.Nop(), wsapi.WithEncoder(encodePayload))
	httpSrv := httptest.NewServer(newHTTPRouter(ws, func() bool { return true }, zerolog.Nop()))
	t.Cleanup(httpSrv.Close)

	ctx := context.Background()
	a, err := client.Register(ctx, &v1.RegisterRequest{Name: "A", Email: "a@example.com", Password: "password1"})
	require.NoError(t, err)
	b, err := client.Register(ctx, &v1.RegisterRequest{Name: "B", Email: "b@example.com", Password: "password1"})
	require.NoError(t, err)
	chat, err := client.OpenChat(bearer(a.Token), &v1.OpenChatRequest{UserID: b.UserID})
	require.NoError(t, err)

	wb := dialWS(t, httpSrv.URL, b.Token)
	wb.emit(events.UserOnline, b.UserID)
	var online []string
	wb.await(events.OnlineUsers, &online)
	require.Equal(t, []string{b.UserID}, online)
	wb.emit(events.JoinChat, chat.ID)
	wb.emit(events.GetOnlineUsers, nil)
	wb.await(events.OnlineUsers, nil)

	msg, err := client.SendMessage(bearer(a.Token), &v1.SendMessageRequest{ChatID: chat.ID, Text: "hello browser"})
	require.NoError(t, err)

	var received v1.Message
	wb.await(events.ReceiveMessage, &received)
	require.Equal(t, msg.ID, received.ID)
	require.Equal(t, "hello browser", received.Text)
	require.Equal(t, a.UserID, received.SenderID)

	wb.emit(events.MessageSeen, events.SeenAckPayload{ChatID: chat.ID, MessageIDs: []string{msg.ID}})
	require.Eventually(t, func() bool {
		history, err := client.ListMessages(bearer(a.Token), &v1.ListMessagesRequest{ChatID: chat.ID})
		return err == nil && len(history.Messages) == 1 && history.Messages[0].Status == string(data.StatusSeen)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, wb.conn.Close())
	require.Eventually(t, func() bool { return !srv.registry.IsOnline(b.UserID) }, 2*time.Second, 10*time.Millisecond)
}
