package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ChatsStore provides chat database operations.
type ChatsStore struct {
	// coll is reference to "chats" collection in MongoDB
	coll *mongo.Collection
}

var _ ChatRepository = (*ChatsStore)(nil)

// NewChatsStore returns a ChatsStore using given collection.
func NewChatsStore(coll *mongo.Collection) *ChatsStore {
	return &ChatsStore{coll: coll}
}

// FindOrCreateChat returns the chat between a and b, creating it on first contact.
func (c *ChatsStore) FindOrCreateChat(ctx context.Context, a, b bson.ObjectID) (*Chat, error) {
	key := PairKey(a, b)

	chat, err := c.findByPair(ctx, key)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	chat = &Chat{
		Participants: []bson.ObjectID{a, b},
		PairKey:      key,
		CreatedAt:    time.Now().UTC(),
	}
	result, err := c.coll.InsertOne(ctx, chat)
	if err != nil {
		// Another request created the same pair between our find and insert;
		// the unique pair_key index makes the first writer win.
		if mongo.IsDuplicateKeyError(err) {
			return c.findByPair(ctx, key)
		}
		return nil, err
	}
	chat.ID = result.InsertedID.(bson.ObjectID)
	return chat, nil
}

func (c *ChatsStore) findByPair(ctx context.Context, key string) (*Chat, error) {
	var chat Chat
	err := c.coll.FindOne(ctx, bson.M{"pair_key": key}).Decode(&chat)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("chat %s: %w", key, ErrNotFound)
		}
		return nil, err
	}
	return &chat, nil
}

// GetChat finds a chat by ObjectID.
func (c *ChatsStore) GetChat(ctx context.Context, id bson.ObjectID) (*Chat, error) {
	var chat Chat
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&chat)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("chat %s: %w", id.Hex(), ErrNotFound)
		}
		return nil, err
	}
	return &chat, nil
}

// ListChatsForUser returns all chats the user participates in, newest first.
func (c *ChatsStore) ListChatsForUser(ctx context.Context, userID bson.ObjectID) ([]*Chat, error) {
	// Matching a scalar against an array field matches any element
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := c.coll.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var chats []*Chat
	if err := cursor.All(ctx, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}
