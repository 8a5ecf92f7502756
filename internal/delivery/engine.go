// Package delivery moves messages through sent, delivered and seen, and
// tells the participants about each step.
//
// Every transition is a conditional store update, so a message never goes
// back to an earlier status whatever order concurrent events arrive in.
// Notifications are best effort: they are only sent to connections present
// at that instant and are never queued or retried.
package delivery

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/apperr"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/data"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/events"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/metrics"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/normalize"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/presence"
)

// DefaultMaxTextLength bounds message text when no limit is configured.
const DefaultMaxTextLength = 4000

var tracer = otel.Tracer("github.com/PaulBabatuyi/reaTimeChat-presence/internal/delivery")

// Notifier fans events out to live connections.
type Notifier interface {
	BroadcastToRoom(chatID string, evt events.Event, except presence.Conn) int
	SendToUser(userID string, evt events.Event) bool
	BroadcastGlobal(evt events.Event) int
}

// Presence answers whether a user is connected right now.
type Presence interface {
	IsOnline(userID string) bool
}

// Engine is the delivery state machine.
type Engine struct {
	chats    data.ChatRepository
	msgs     data.MessageRepository
	notify   Notifier
	presence Presence
	log      zerolog.Logger
	maxText  int
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for background failures.
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithMaxTextLength bounds the number of characters of a message.
func WithMaxTextLength(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxText = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New returns an engine over the given repositories.
func New(chats data.ChatRepository, msgs data.MessageRepository, n Notifier, p Presence, opts ...Option) *Engine {
	e := &Engine{
		chats:    chats,
		msgs:     msgs,
		notify:   n,
		presence: p,
		log:      zerolog.Nop(),
		maxText:  DefaultMaxTextLength,
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Send stores a new message from senderID in chatID and announces it to the
// chat room. When the recipient is online the message is promoted to
// delivered before Send returns and the sender is notified.
//
// A failure of the delivered update is logged only: the message is returned
// as sent and the next reconnect sweep promotes it.
func (e *Engine) Send(ctx context.Context, senderID, chatID, text string) (*data.Message, error) {
	const op = "delivery.Send"
	ctx, span := tracer.Start(ctx, "Send")
	defer span.End()

	sender, cid, err := parsePair(op, senderID, chatID)
	if err != nil {
		return nil, err
	}
	text = normalize.Text(text)
	if text == "" {
		return nil, apperr.New(apperr.InvalidArgument, op, "text must not be empty")
	}
	if utf8.RuneCountInString(text) > e.maxText {
		return nil, apperr.New(apperr.InvalidArgument, op, "text is too long")
	}

	chat, err := e.participantChat(ctx, op, sender, cid)
	if err != nil {
		return nil, err
	}
	recipient, _ := chat.Other(sender)

	msg, err := e.msgs.CreateMessage(ctx, &data.Message{
		ChatID:      chat.ID,
		SenderID:    sender,
		RecipientID: recipient,
		Text:        text,
		Status:      data.StatusSent,
		CreatedAt:   e.now().UTC(),
	})
	if err != nil {
		span.SetStatus(codes.Error, "create message")
		return nil, apperr.FromStore(op, err)
	}
	metrics.ObserveTransition(string(data.StatusSent), 1)
	span.SetAttributes(attribute.String("message.id", msg.ID.Hex()), attribute.String("chat.id", chatID))

	// payloads are copied so later status changes do not race the writers
	e.notify.BroadcastToRoom(chat.ID.Hex(), events.Event{Name: events.ReceiveMessage, Payload: *msg}, nil)
	e.notify.BroadcastGlobal(events.Event{Name: events.UnreadUpdate, Payload: events.UnreadPayload{ChatID: chat.ID.Hex()}})

	if recipient == sender || !e.presence.IsOnline(recipient.Hex()) {
		return msg, nil
	}

	n, err := e.msgs.AdvanceStatus(ctx, []bson.ObjectID{msg.ID}, data.StatusDelivered)
	if err != nil {
		e.log.Warn().Err(err).Str("message_id", msg.ID.Hex()).Msg("mark delivered failed, left as sent")
		return msg, nil
	}
	if n == 1 {
		msg.Status = data.StatusDelivered
		metrics.ObserveTransition(string(data.StatusDelivered), 1)
		e.notifyDelivered(sender, msg.ID)
	}
	return msg, nil
}

// SeenResult reports what a seen acknowledgement changed.
type SeenResult struct {
	// Accepted are the acknowledged ids that belong to the chat and were
	// sent by the other participant, in request order.
	Accepted []string
	// Updated counts messages that moved to seen with this acknowledgement.
	Updated int64
}

// MarkSeen applies a seen acknowledgement from userID for messages of chatID.
// Ids that are malformed, unknown, from another chat or sent by userID are
// dropped. The remaining ones not yet seen are updated in one bulk write and
// the other participant gets a single messageSeen with every accepted id.
func (e *Engine) MarkSeen(ctx context.Context, userID, chatID string, messageIDs []string) (SeenResult, error) {
	const op = "delivery.MarkSeen"
	ctx, span := tracer.Start(ctx, "MarkSeen")
	defer span.End()

	user, cid, err := parsePair(op, userID, chatID)
	if err != nil {
		return SeenResult{}, err
	}
	chat, err := e.participantChat(ctx, op, user, cid)
	if err != nil {
		return SeenResult{}, err
	}

	ids := parseIDs(messageIDs)
	if len(ids) == 0 {
		return SeenResult{}, nil
	}
	found, err := e.msgs.GetMessages(ctx, ids)
	if err != nil {
		return SeenResult{}, apperr.FromStore(op, err)
	}

	byID := make(map[bson.ObjectID]*data.Message, len(found))
	for _, m := range found {
		byID[m.ID] = m
	}
	var res SeenResult
	var pending []bson.ObjectID
	for _, id := range ids {
		m, ok := byID[id]
		if !ok || m.ChatID != chat.ID || m.SenderID == user {
			continue
		}
		res.Accepted = append(res.Accepted, id.Hex())
		if m.Status != data.StatusSeen {
			pending = append(pending, id)
		}
	}
	if len(res.Accepted) == 0 {
		return res, nil
	}

	if len(pending) > 0 {
		n, err := e.msgs.AdvanceStatus(ctx, pending, data.StatusSeen)
		if err != nil {
			span.SetStatus(codes.Error, "advance to seen")
			return SeenResult{}, apperr.FromStore(op, err)
		}
		res.Updated = n
		metrics.ObserveTransition(string(data.StatusSeen), n)
	}
	span.SetAttributes(attribute.Int("seen.accepted", len(res.Accepted)), attribute.Int64("seen.updated", res.Updated))

	if other, _ := chat.Other(user); other != user {
		e.notify.SendToUser(other.Hex(), events.Event{
			Name:    events.MessageSeen,
			Payload: events.SeenNoticePayload{MessageIDs: res.Accepted},
		})
	}
	return res, nil
}

// SweepResult summarizes one reconciliation sweep.
type SweepResult struct {
	Scanned   int
	Delivered int
	Failed    int
}

// Reconcile promotes every message still sent to userID to delivered and
// notifies each original sender that is online. It runs when userID comes
// online. A failed update is logged and the sweep moves on to the next
// message.
func (e *Engine) Reconcile(ctx context.Context, userID string) (SweepResult, error) {
	const op = "delivery.Reconcile"
	ctx, span := tracer.Start(ctx, "Reconcile")
	defer span.End()
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	uid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return SweepResult{}, apperr.New(apperr.InvalidArgument, op, "malformed user id")
	}

	pending, err := e.msgs.PendingDelivery(ctx, uid)
	if err != nil {
		span.SetStatus(codes.Error, "pending delivery")
		return SweepResult{}, apperr.FromStore(op, err)
	}

	res := SweepResult{Scanned: len(pending)}
	for _, m := range pending {
		n, err := e.msgs.AdvanceStatus(ctx, []bson.ObjectID{m.ID}, data.StatusDelivered)
		if err != nil {
			res.Failed++
			e.log.Error().Err(err).Str("message_id", m.ID.Hex()).Str("user_id", userID).Msg("sweep: mark delivered failed")
			continue
		}
		if n == 0 {
			// already moved on by a concurrent send or ack
			continue
		}
		res.Delivered++
		e.notifyDelivered(m.SenderID, m.ID)
	}
	metrics.ObserveTransition(string(data.StatusDelivered), int64(res.Delivered))
	span.SetAttributes(
		attribute.Int("sweep.scanned", res.Scanned),
		attribute.Int("sweep.delivered", res.Delivered),
		attribute.Int("sweep.failed", res.Failed),
	)
	return res, nil
}

func (e *Engine) notifyDelivered(sender, msgID bson.ObjectID) {
	e.notify.SendToUser(sender.Hex(), events.Event{
		Name:    events.MessageDelivered,
		Payload: events.DeliveredPayload{MessageID: msgID.Hex()},
	})
}

// participantChat loads chatID and checks that userID takes part in it.
func (e *Engine) participantChat(ctx context.Context, op string, userID, chatID bson.ObjectID) (*data.Chat, error) {
	chat, err := e.chats.GetChat(ctx, chatID)
	if err != nil {
		if apperr.Is(apperr.FromStore(op, err), apperr.NotFound) {
			return nil, apperr.New(apperr.NotFound, op, "chat not found")
		}
		return nil, apperr.FromStore(op, err)
	}
	if !chat.Includes(userID) {
		return nil, apperr.New(apperr.Unauthorized, op, "not a participant of this chat")
	}
	return chat, nil
}

func parsePair(op, userID, chatID string) (bson.ObjectID, bson.ObjectID, error) {
	uid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return bson.NilObjectID, bson.NilObjectID, apperr.New(apperr.InvalidArgument, op, "malformed user id")
	}
	cid, err := bson.ObjectIDFromHex(chatID)
	if err != nil {
		return bson.NilObjectID, bson.NilObjectID, apperr.New(apperr.InvalidArgument, op, "malformed chat id")
	}
	return uid, cid, nil
}

// parseIDs decodes hex ids, dropping malformed and duplicate entries.
func parseIDs(hex []string) []bson.ObjectID {
	ids := lo.FilterMap(hex, func(h string, _ int) (bson.ObjectID, bool) {
		id, err := bson.ObjectIDFromHex(h)
		return id, err == nil
	})
	return lo.Uniq(ids)
}
