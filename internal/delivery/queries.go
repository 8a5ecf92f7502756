package delivery

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/apperr"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/data"
)

// OpenChat returns the chat between userID and otherID, creating it on first
// contact. Calling it again, in either order, returns the same chat.
func (e *Engine) OpenChat(ctx context.Context, userID, otherID string) (*data.Chat, error) {
	const op = "delivery.OpenChat"
	uid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return nil, apperr.New(apperr.InvalidArgument, op, "malformed user id")
	}
	oid, err := bson.ObjectIDFromHex(otherID)
	if err != nil {
		return nil, apperr.New(apperr.InvalidArgument, op, "malformed user id")
	}
	chat, err := e.chats.FindOrCreateChat(ctx, uid, oid)
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}
	return chat, nil
}

// Chat returns chatID when userID is one of its participants.
func (e *Engine) Chat(ctx context.Context, userID, chatID string) (*data.Chat, error) {
	const op = "delivery.Chat"
	uid, cid, err := parsePair(op, userID, chatID)
	if err != nil {
		return nil, err
	}
	return e.participantChat(ctx, op, uid, cid)
}

// History returns the messages of chatID oldest first.
func (e *Engine) History(ctx context.Context, userID, chatID string) ([]*data.Message, error) {
	const op = "delivery.History"
	uid, cid, err := parsePair(op, userID, chatID)
	if err != nil {
		return nil, err
	}
	if _, err := e.participantChat(ctx, op, uid, cid); err != nil {
		return nil, err
	}
	msgs, err := e.msgs.ListMessages(ctx, cid)
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}
	return msgs, nil
}

// CountUnseen counts messages of chatID that userID has not seen yet.
func (e *Engine) CountUnseen(ctx context.Context, userID, chatID string) (int64, error) {
	const op = "delivery.CountUnseen"
	uid, cid, err := parsePair(op, userID, chatID)
	if err != nil {
		return 0, err
	}
	if _, err := e.participantChat(ctx, op, uid, cid); err != nil {
		return 0, err
	}
	n, err := e.msgs.CountUnseen(ctx, cid, uid)
	if err != nil {
		return 0, apperr.FromStore(op, err)
	}
	return n, nil
}
