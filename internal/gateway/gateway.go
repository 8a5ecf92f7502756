// Package gateway handles the lifecycle and the client events of realtime
// connections: presence changes, room joins, typing indicators and seen
// acknowledgements.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/apperr"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/data"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/delivery"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/events"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/metrics"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/presence"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/realtime"
)

// backgroundTimeout bounds store work that outlives the triggering event.
const backgroundTimeout = 30 * time.Second

// Gateway dispatches connection events.
type Gateway struct {
	registry *presence.Registry
	router   *realtime.Router
	engine   *delivery.Engine
	users    data.UserRepository
	log      zerolog.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

// New returns a gateway.
func New(registry *presence.Registry, router *realtime.Router, engine *delivery.Engine, users data.UserRepository, log zerolog.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		router:   router,
		engine:   engine,
		users:    users,
		log:      log,
		now:      time.Now,
	}
}

// Connect attaches a new connection. It is not online until it sends userOnline.
func (g *Gateway) Connect(c presence.Conn) {
	g.router.Attach(c)
	g.log.Debug().Str("conn_id", c.ID()).Str("user_id", c.UserID()).Msg("connection attached")
}

// Handle processes one client event. Malformed or unauthorized events are
// logged and dropped; nothing is reported back on the connection.
func (g *Gateway) Handle(ctx context.Context, c presence.Conn, in events.Inbound) {
	metrics.ObserveEvent(in.Name, metrics.In)
	lg := g.log.With().Str("conn_id", c.ID()).Str("user_id", c.UserID()).Str("event", in.Name).Logger()

	switch in.Name {
	case events.UserOnline:
		g.userOnline(ctx, c, in, lg)
	case events.JoinChat:
		g.joinChat(ctx, c, in, lg)
	case events.Typing, events.StopTyping:
		g.typing(c, in, lg)
	case events.MessageSeen:
		g.messageSeen(ctx, c, in, lg)
	case events.GetOnlineUsers:
		if err := c.Send(g.onlineUsers()); err != nil {
			lg.Debug().Err(err).Msg("online users not sent")
		}
	default:
		lg.Debug().Msg("unknown event ignored")
	}
}

// Disconnect detaches c. When c was still the user's active connection the
// user goes offline: everyone gets the new online set and last seen is
// written. A store failure is logged and does not stop the cleanup.
func (g *Gateway) Disconnect(ctx context.Context, c presence.Conn) {
	g.router.Detach(c)
	if !g.registry.MarkOffline(c.UserID(), c) {
		return
	}
	g.router.BroadcastGlobal(g.onlineUsers())

	uid, err := bson.ObjectIDFromHex(c.UserID())
	if err != nil {
		g.log.Warn().Str("user_id", c.UserID()).Msg("last seen skipped: malformed user id")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
	defer cancel()
	if err := g.users.UpdateLastSeen(ctx, uid, g.now().UTC()); err != nil {
		g.log.Error().Err(err).Str("user_id", c.UserID()).Msg("update last seen failed")
	}
}

// Wait blocks until background sweeps started by userOnline have finished.
func (g *Gateway) Wait() { g.wg.Wait() }

// LastSeen describes a user's presence for the request API.
type LastSeen struct {
	UserID   string
	Online   bool
	LastSeen *time.Time
}

// LastSeen returns whether userID is online and when it was last seen offline.
func (g *Gateway) LastSeen(ctx context.Context, userID string) (LastSeen, error) {
	const op = "gateway.LastSeen"
	uid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return LastSeen{}, apperr.New(apperr.InvalidArgument, op, "malformed user id")
	}
	u, err := g.users.GetUserByID(ctx, uid)
	if err != nil {
		if apperr.Is(apperr.FromStore(op, err), apperr.NotFound) {
			return LastSeen{}, apperr.New(apperr.NotFound, op, "user not found")
		}
		return LastSeen{}, apperr.FromStore(op, err)
	}
	return LastSeen{UserID: userID, Online: g.registry.IsOnline(userID), LastSeen: u.LastSeen}, nil
}

func (g *Gateway) userOnline(ctx context.Context, c presence.Conn, in events.Inbound, lg zerolog.Logger) {
	userID, err := in.ID("userId")
	if err != nil || userID == "" {
		lg.Debug().Err(err).Msg("userOnline without user id")
		return
	}
	if userID != c.UserID() {
		lg.Warn().Str("claimed_user_id", userID).Msg("userOnline for another identity ignored")
		return
	}

	if replaced := g.registry.MarkOnline(userID, c); replaced != nil {
		lg.Info().Str("replaced_conn_id", replaced.ID()).Msg("newer connection replaced presence entry")
	}
	g.router.BroadcastGlobal(g.onlineUsers())

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		sweepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
		defer cancel()
		res, err := g.engine.Reconcile(sweepCtx, userID)
		if err != nil {
			lg.Error().Err(err).Msg("pending delivery sweep failed")
			return
		}
		lg.Debug().Int("scanned", res.Scanned).Int("delivered", res.Delivered).Int("failed", res.Failed).Msg("pending delivery sweep done")
	}()
}

func (g *Gateway) joinChat(ctx context.Context, c presence.Conn, in events.Inbound, lg zerolog.Logger) {
	chatID, err := in.ID("chatId")
	if err != nil || chatID == "" {
		lg.Debug().Err(err).Msg("joinChat without chat id")
		return
	}
	if _, err := g.engine.Chat(ctx, c.UserID(), chatID); err != nil {
		lg.Warn().Err(err).Str("chat_id", chatID).Msg("joinChat refused")
		return
	}
	g.router.JoinRoom(c, chatID)
}

func (g *Gateway) typing(c presence.Conn, in events.Inbound, lg zerolog.Logger) {
	var p events.TypingPayload
	if err := in.Decode(&p); err != nil || p.ChatID == "" {
		return
	}
	// only members that joined the chat may signal typing in it
	if !g.router.InRoom(c, p.ChatID) {
		lg.Debug().Str("chat_id", p.ChatID).Msg("typing outside a joined chat dropped")
		return
	}
	// the sender is always the connection identity
	p.SenderID = c.UserID()
	n := g.router.BroadcastToRoom(p.ChatID, events.Event{Name: in.Name, Payload: p}, c)
	lg.Debug().Str("chat_id", p.ChatID).Int("receivers", n).Msg("typing relayed")
}

func (g *Gateway) messageSeen(ctx context.Context, c presence.Conn, in events.Inbound, lg zerolog.Logger) {
	var p events.SeenAckPayload
	if err := in.Decode(&p); err != nil || p.ChatID == "" {
		lg.Debug().Err(err).Msg("messageSeen without chat id")
		return
	}
	res, err := g.engine.MarkSeen(ctx, c.UserID(), p.ChatID, p.MessageIDs)
	if err != nil {
		lg.Warn().Err(err).Str("chat_id", p.ChatID).Msg("seen acknowledgement failed")
		return
	}
	lg.Debug().Int("accepted", len(res.Accepted)).Int64("updated", res.Updated).Msg("seen acknowledgement applied")
}

func (g *Gateway) onlineUsers() events.Event {
	return events.Event{Name: events.OnlineUsers, Payload: g.registry.Snapshot()}
}
