package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	// coll is reference to "messages" collection in MongoDB
	// Set via NewMessagesStore() and used in all methods below
	coll *mongo.Collection
}

var _ MessageRepository = (*MessagesStore)(nil)

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll} // Store reference to MongoDB collection
}

// CreateMessage inserts a message document and returns the saved record.
// Status defaults to sent and CreatedAt to the current server time.
func (m *MessagesStore) CreateMessage(ctx context.Context, msg *Message) (*Message, error) {
	saved := *msg
	if saved.Status == "" {
		saved.Status = StatusSent
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now().UTC() // Server-side timestamp used for ordering
	}
	// BSON datetimes hold milliseconds; return what a later read will see
	saved.CreatedAt = saved.CreatedAt.UTC().Truncate(time.Millisecond)

	result, err := m.coll.InsertOne(ctx, &saved)
	if err != nil {
		return nil, err
	}

	// Extract MongoDB's auto-generated _id and populate in struct
	saved.ID = result.InsertedID.(bson.ObjectID)
	return &saved, nil
}

// GetMessages returns the messages with the given ids. Unknown ids are skipped.
func (m *MessagesStore) GetMessages(ctx context.Context, ids []bson.ObjectID) ([]*Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cursor, err := m.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// ListMessages returns the messages of a chat ordered oldest→newest.
func (m *MessagesStore) ListMessages(ctx context.Context, chatID bson.ObjectID) ([]*Message, error) {
	// _id breaks ties between messages created within the same millisecond
	opts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})

	cursor, err := m.coll.Find(ctx, bson.M{"chat_id": chatID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// CountUnseen counts messages in a chat that were not sent by excludingSenderID
// and have not reached the seen status.
func (m *MessagesStore) CountUnseen(ctx context.Context, chatID, excludingSenderID bson.ObjectID) (int64, error) {
	return m.coll.CountDocuments(ctx, bson.M{
		"chat_id":   chatID,
		"sender_id": bson.M{"$ne": excludingSenderID},
		"status":    bson.M{"$ne": StatusSeen},
	})
}

// PendingDelivery returns the sent-state messages addressed to recipientID,
// oldest first. Served by the (recipient_id, status) index.
func (m *MessagesStore) PendingDelivery(ctx context.Context, recipientID bson.ObjectID) ([]*Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := m.coll.Find(ctx, bson.M{
		"recipient_id": recipientID,
		"status":       StatusSent,
		"sender_id":    bson.M{"$ne": recipientID},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// AdvanceStatus moves the given messages forward to status to in one
// UpdateMany. The filter only matches documents whose status precedes to,
// so an update can never move a message backwards.
func (m *MessagesStore) AdvanceStatus(ctx context.Context, ids []bson.ObjectID, to Status) (int64, error) {
	from := to.Preceding()
	if len(ids) == 0 || len(from) == 0 {
		return 0, nil
	}

	res, err := m.coll.UpdateMany(ctx,
		bson.M{
			"_id":    bson.M{"$in": ids},
			"status": bson.M{"$in": from},
		},
		bson.M{"$set": bson.M{"status": to}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
