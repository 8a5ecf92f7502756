//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

package data

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique constraint would be violated.
	ErrDuplicate = errors.New("already exists")
)

// UserRepository holds the user operations used by the API and realtime layers.
type UserRepository interface {
	CreateUser(ctx context.Context, name, email, hashedPassword string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id bson.ObjectID) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdateLastSeen(ctx context.Context, id bson.ObjectID, at time.Time) error
}

// ChatRepository holds the chat operations.
type ChatRepository interface {
	FindOrCreateChat(ctx context.Context, a, b bson.ObjectID) (*Chat, error)
	GetChat(ctx context.Context, id bson.ObjectID) (*Chat, error)
	ListChatsForUser(ctx context.Context, userID bson.ObjectID) ([]*Chat, error)
}

// MessageRepository holds the message operations.
//
// AdvanceStatus performs a single conditional bulk update: only messages
// whose current status precedes to are modified, so a status never regresses
// regardless of the order concurrent callers reach the store.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg *Message) (*Message, error)
	GetMessages(ctx context.Context, ids []bson.ObjectID) ([]*Message, error)
	ListMessages(ctx context.Context, chatID bson.ObjectID) ([]*Message, error)
	CountUnseen(ctx context.Context, chatID, excludingSenderID bson.ObjectID) (int64, error)
	PendingDelivery(ctx context.Context, recipientID bson.ObjectID) ([]*Message, error)
	AdvanceStatus(ctx context.Context, ids []bson.ObjectID, to Status) (int64, error)
}
