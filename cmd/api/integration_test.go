package main

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	v1 "github.com/PaulBabatuyi/reaTimeChat-presence/api/chat/v1"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/auth"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/data"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/db"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/events"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/localstore"
)

const bufSize = 1024 * 1024

// startServer serves st over bufconn and returns a connected client.
func startServer(t *testing.T, st stores) (v1.ChatServiceClient, *Server) {
	t.Helper()
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour)

	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer(
		grpc.UnaryInterceptor(authUnaryInterceptor(jwtMgr)),
		grpc.StreamInterceptor(authStreamInterceptor(jwtMgr)),
	)
	srv := newServer(st, jwtMgr, testOpts, zerolog.Nop())
	registerService(s, srv)
	go func() { _ = s.Serve(lis) }()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		s.GracefulStop()
		srv.gateway.Wait()
	})
	return v1.NewChatServiceClient(conn), srv
}

func bearer(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

// eventClient reads an Events stream in the background.
type eventClient struct {
	t      *testing.T
	stream grpc.BidiStreamingClient[v1.ClientEvent, v1.ServerEvent]
	frames chan *v1.ServerEvent
	cancel context.CancelFunc
}

func openEvents(t *testing.T, client v1.ChatServiceClient, token string) *eventClient {
	t.Helper()
	ctx, cancel := context.WithCancel(bearer(token))
	stream, err := client.Events(ctx)
	require.NoError(t, err)
	ec := &eventClient{t: t, stream: stream, frames: make(chan *v1.ServerEvent, 64), cancel: cancel}
	go func() {
		defer close(ec.frames)
		for {
			f, err := stream.Recv()
			if err != nil {
				return
			}
			ec.frames <- f
		}
	}()
	t.Cleanup(cancel)
	return ec
}

func (ec *eventClient) emit(name string, payload any) {
	ec.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(ec.t, err)
	require.NoError(ec.t, ec.stream.Send(&v1.ClientEvent{Event: name, Payload: raw}))
}

// await skips frames until one named name arrives and decodes its payload into v.
func (ec *eventClient) await(name string, v any) {
	ec.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-ec.frames:
			require.True(ec.t, ok, "stream closed while waiting for %s", name)
			if f.Event != name {
				continue
			}
			if v != nil {
				require.NoError(ec.t, json.Unmarshal(f.Payload, v))
			}
			return
		case <-timeout:
			ec.t.Fatalf("timed out waiting for %s", name)
		}
	}
}

func TestEndToEnd_DeliveryAndSeenReceipts(t *testing.T) {
	store, err := localstore.Open("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	client, srv := startServer(t, stores{users: store, chats: store, msgs: store})

	a, err := client.Register(context.Background(), &v1.RegisterRequest{Name: "A", Email: "a@example.com", Password: "password1"})
	require.NoError(t, err)
	b, err := client.Register(context.Background(), &v1.RegisterRequest{Name: "B", Email: "b@example.com", Password: "password1"})
	require.NoError(t, err)

	chat, err := client.OpenChat(bearer(a.Token), &v1.OpenChatRequest{UserID: b.UserID})
	require.NoError(t, err)

	evA := openEvents(t, client, a.Token)
	evA.emit(events.UserOnline, a.UserID)
	var online []string
	evA.await(events.OnlineUsers, &online)
	require.Equal(t, []string{a.UserID}, online)
	evA.emit(events.JoinChat, map[string]string{"chatId": chat.ID})
	evA.emit(events.GetOnlineUsers, nil)
	evA.await(events.OnlineUsers, nil)

	// B is offline: the message stays sent
	msg, err := client.SendMessage(bearer(a.Token), &v1.SendMessageRequest{ChatID: chat.ID, Text: "hi"})
	require.NoError(t, err)
	require.Equal(t, string(data.StatusSent), msg.Status)
	var received v1.Message
	evA.await(events.ReceiveMessage, &received)
	require.Equal(t, msg.ID, received.ID)

	// B connects: the sweep promotes the message and tells A
	evB := openEvents(t, client, b.Token)
	evB.emit(events.UserOnline, b.UserID)
	var delivered events.DeliveredPayload
	evA.await(events.MessageDelivered, &delivered)
	require.Equal(t, msg.ID, delivered.MessageID)

	unseen, err := client.CountUnseen(bearer(b.Token), &v1.CountUnseenRequest{ChatID: chat.ID})
	require.NoError(t, err)
	require.EqualValues(t, 1, unseen.Count)

	evB.emit(events.MessageSeen, events.SeenAckPayload{ChatID: chat.ID, MessageIDs: []string{msg.ID}})
	var seen events.SeenNoticePayload
	evA.await(events.MessageSeen, &seen)
	require.Equal(t, []string{msg.ID}, seen.MessageIDs)

	history, err := client.ListMessages(bearer(b.Token), &v1.ListMessagesRequest{ChatID: chat.ID})
	require.NoError(t, err)
	require.Len(t, history.Messages, 1)
	require.Equal(t, string(data.StatusSeen), history.Messages[0].Status)

	// B goes away: A sees the new online set and last seen is recorded
	require.NoError(t, evB.stream.CloseSend())
	require.Eventually(t, func() bool { return !srv.registry.IsOnline(b.UserID) }, 2*time.Second, 10*time.Millisecond)
	ls, err := client.GetLastSeen(bearer(a.Token), &v1.GetLastSeenRequest{UserID: b.UserID})
	require.NoError(t, err)
	require.False(t, ls.Online)
	require.NotNil(t, ls.LastSeen)
}

func TestEndToEnd_TypingReachesOnlyTheOtherParticipant(t *testing.T) {
	store, err := localstore.Open("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	client, _ := startServer(t, stores{users: store, chats: store, msgs: store})

	a, err := client.Register(context.Background(), &v1.RegisterRequest{Name: "A", Email: "a@example.com", Password: "password1"})
	require.NoError(t, err)
	b, err := client.Register(context.Background(), &v1.RegisterRequest{Name: "B", Email: "b@example.com", Password: "password1"})
	require.NoError(t, err)
	chat, err := client.OpenChat(bearer(a.Token), &v1.OpenChatRequest{UserID: b.UserID})
	require.NoError(t, err)

	evA := openEvents(t, client, a.Token)
	evB := openEvents(t, client, b.Token)
	evA.emit(events.JoinChat, chat.ID)
	evB.emit(events.JoinChat, chat.ID)

	// getOnlineUsers round trips confirm both joins were handled
	evA.emit(events.GetOnlineUsers, nil)
	evA.await(events.OnlineUsers, nil)
	evB.emit(events.GetOnlineUsers, nil)
	evB.await(events.OnlineUsers, nil)

	evA.emit(events.Typing, events.TypingPayload{ChatID: chat.ID})
	var typing events.TypingPayload
	evB.await(events.Typing, &typing)
	require.Equal(t, a.UserID, typing.SenderID)

	evA.emit(events.GetOnlineUsers, nil)
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f := <-evA.frames:
			require.NotEqual(t, events.Typing, f.Event)
			if f.Event == events.OnlineUsers {
				return
			}
		case <-timeout:
			t.Fatal("timed out")
		}
	}
}

func TestEndToEnd_RequiresToken(t *testing.T) {
	store, err := localstore.Open("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	client, _ := startServer(t, stores{users: store, chats: store, msgs: store})

	_, err = client.ListUsers(context.Background(), &v1.ListUsersRequest{})
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = client.ListUsers(bearer("garbage"), &v1.ListUsersRequest{})
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	stream, err := client.Events(context.Background())
	require.NoError(t, err)
	_, err = stream.Recv()
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestRegisterAndLogin_Mongo(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	dbClient, err := db.New(ctx, uri, "chat_it_"+time.Now().UTC().Format("20060102150405"))
	require.NoError(t, err)
	require.NoError(t, dbClient.CreateIndexes(ctx))
	defer func() {
		_ = dbClient.UsersCollection().Drop(context.Background())
		_ = dbClient.ChatsCollection().Drop(context.Background())
		_ = dbClient.MessagesCollection().Drop(context.Background())
		_ = dbClient.Close(context.Background())
	}()

	client, _ := startServer(t, stores{
		users: data.NewUsersStore(dbClient.UsersCollection()),
		chats: data.NewChatsStore(dbClient.ChatsCollection()),
		msgs:  data.NewMessagesStore(dbClient.MessagesCollection()),
	})

	email := time.Now().UTC().Format("20060102-150405") + "-it@example.com"
	pwd := "testPass123"

	reg, err := client.Register(ctx, &v1.RegisterRequest{Name: "It", Email: email, Password: pwd})
	require.NoError(t, err)
	require.NotEmpty(t, reg.Token)
	require.NotEmpty(t, reg.UserID)

	_, err = client.Register(ctx, &v1.RegisterRequest{Name: "It", Email: email, Password: pwd})
	require.Equal(t, codes.AlreadyExists, status.Code(err))

	login, err := client.Login(ctx, &v1.LoginRequest{Email: email, Password: pwd})
	require.NoError(t, err)
	require.Equal(t, reg.UserID, login.UserID)
}
