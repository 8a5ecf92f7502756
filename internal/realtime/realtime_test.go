package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/events"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/presence"
)

// recorder is a Sink that keeps every written event.
type recorder struct {
	mu   sync.Mutex
	got  []events.Event
	fail error
}

func (r *recorder) Send(evt events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.got = append(r.got, evt)
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, e := range r.got {
		out = append(out, e.Name)
	}
	return out
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func startSession(t *testing.T, user string, buffer int) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s := NewSession(user, rec, buffer, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, rec
}

func TestSession_WritesInQueueOrder(t *testing.T) {
	s, rec := startSession(t, "alice", 128)

	want := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		name := string(rune('a' + i%26))
		want = append(want, name)
		require.NoError(t, s.Send(events.Event{Name: name}))
	}
	require.Eventually(t, func() bool { return rec.len() == 100 }, time.Second, 5*time.Millisecond)
	require.Equal(t, want, rec.names())
}

func TestSession_FullQueueClosesSession(t *testing.T) {
	// no writer is running, so the queue fills up
	s := NewSession("bob", &recorder{}, 2, zerolog.Nop())

	require.NoError(t, s.Send(events.Event{Name: "1"}))
	require.NoError(t, s.Send(events.Event{Name: "2"}))
	require.ErrorIs(t, s.Send(events.Event{Name: "3"}), ErrSlowConsumer)

	select {
	case <-s.Done():
	default:
		t.Fatal("session should be closed")
	}
	require.ErrorIs(t, s.Err(), ErrSlowConsumer)
	require.ErrorIs(t, s.Send(events.Event{Name: "4"}), ErrClosed)
}

func TestSession_SinkErrorEndsRun(t *testing.T) {
	boom := errors.New("stream broken")
	s := NewSession("carol", &recorder{fail: boom}, 4, zerolog.Nop())
	require.NoError(t, s.Send(events.Event{Name: "x"}))

	require.ErrorIs(t, s.Run(context.Background()), boom)
	require.ErrorIs(t, s.Send(events.Event{Name: "y"}), ErrClosed)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s := NewSession("dan", &recorder{}, 1, zerolog.Nop())
	s.Close()
	s.Close()
	require.NoError(t, s.Err())
	require.NoError(t, s.Run(context.Background()))
	require.NotEmpty(t, s.ID())
	require.Equal(t, "dan", s.UserID())
}

func TestRouter_RoomBroadcastExcludesOriginator(t *testing.T) {
	req := require.New(t)
	r := NewRouter(presence.NewRegistry(), zerolog.Nop())
	alice, aliceRec := startSession(t, "alice", 16)
	bob, bobRec := startSession(t, "bob", 16)
	eve, eveRec := startSession(t, "eve", 16)
	for _, c := range []*Session{alice, bob, eve} {
		r.Attach(c)
	}

	req.True(r.JoinRoom(alice, "c1"))
	req.False(r.JoinRoom(alice, "c1"))
	req.True(r.JoinRoom(bob, "c1"))
	req.True(r.JoinRoom(eve, "c2"))
	req.Equal(2, r.RoomSize("c1"))
	req.True(r.InRoom(alice, "c1"))
	req.False(r.InRoom(eve, "c1"))
	req.False(r.InRoom(alice, "c2"))

	n := r.BroadcastToRoom("c1", events.Event{Name: events.Typing}, alice)
	req.Equal(1, n)
	req.Eventually(func() bool { return bobRec.len() == 1 }, time.Second, 5*time.Millisecond)
	req.Equal([]string{events.Typing}, bobRec.names())
	req.Zero(aliceRec.len())
	req.Zero(eveRec.len())
}

func TestRouter_SendToUserUsesRegistry(t *testing.T) {
	req := require.New(t)
	reg := presence.NewRegistry()
	r := NewRouter(reg, zerolog.Nop())
	old, oldRec := startSession(t, "alice", 4)
	cur, curRec := startSession(t, "alice", 4)

	req.False(r.SendToUser("alice", events.Event{Name: events.MessageDelivered}))

	reg.MarkOnline("alice", old)
	reg.MarkOnline("alice", cur)
	req.True(r.SendToUser("alice", events.Event{Name: events.MessageDelivered}))
	req.Eventually(func() bool { return curRec.len() == 1 }, time.Second, 5*time.Millisecond)
	req.Zero(oldRec.len())

	cur.Close()
	req.False(r.SendToUser("alice", events.Event{Name: events.MessageDelivered}))
}

func TestRouter_DetachLeavesRoomsAndGlobal(t *testing.T) {
	req := require.New(t)
	r := NewRouter(presence.NewRegistry(), zerolog.Nop())
	a, aRec := startSession(t, "a", 4)
	b, bRec := startSession(t, "b", 4)
	r.Attach(a)
	r.Attach(b)
	r.JoinRoom(a, "c1")
	r.JoinRoom(a, "c2")

	r.Detach(a)
	req.False(r.InRoom(a, "c1"))
	req.Zero(r.RoomSize("c1"))
	req.Zero(r.RoomSize("c2"))

	req.Equal(1, r.BroadcastGlobal(events.Event{Name: events.OnlineUsers}))
	req.Eventually(func() bool { return bRec.len() == 1 }, time.Second, 5*time.Millisecond)
	req.Zero(aRec.len())
}

func TestRouter_PerConnectionFIFOAcrossPaths(t *testing.T) {
	reg := presence.NewRegistry()
	r := NewRouter(reg, zerolog.Nop())
	bob, rec := startSession(t, "bob", 256)
	r.Attach(bob)
	r.JoinRoom(bob, "c1")
	reg.MarkOnline("bob", bob)

	var want []string
	for i := 0; i < 30; i++ {
		r.BroadcastToRoom("c1", events.Event{Name: events.ReceiveMessage}, nil)
		r.BroadcastGlobal(events.Event{Name: events.UnreadUpdate})
		r.SendToUser("bob", events.Event{Name: events.MessageSeen})
		want = append(want, events.ReceiveMessage, events.UnreadUpdate, events.MessageSeen)
	}
	require.Eventually(t, func() bool { return rec.len() == len(want) }, time.Second, 5*time.Millisecond)
	require.Equal(t, want, rec.names())
}
