package localstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/data"
)

func messageKey(id bson.ObjectID) string { return "msg:" + id.Hex() }

// chatMessageKey orders a chat's history by creation time. The 19-digit zero
// padded timestamp keeps lexicographical order equal to chronological order
// and the id disambiguates messages created at the same instant.
func chatMessageKey(m *data.Message) string {
	return fmt.Sprintf("chat-msg:%s:%019d:%s", m.ChatID.Hex(), m.CreatedAt.UnixNano(), m.ID.Hex())
}

func pendingKey(m *data.Message) string {
	return fmt.Sprintf("pending:%s:%019d:%s", m.RecipientID.Hex(), m.CreatedAt.UnixNano(), m.ID.Hex())
}

// CreateMessage stores a message and indexes it for history and, while it is
// still sent, for pending delivery.
func (s *Store) CreateMessage(_ context.Context, msg *data.Message) (*data.Message, error) {
	saved := *msg
	saved.ID = bson.NewObjectID()
	if saved.Status == "" {
		saved.Status = data.StatusSent
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now().UTC()
	}
	// BSON datetimes keep milliseconds; truncate so index keys rebuilt from a
	// decoded record match the ones written here.
	saved.CreatedAt = saved.CreatedAt.UTC().Truncate(time.Millisecond)

	err := s.update(func(txn *badger.Txn) error {
		if err := putRecord(txn, messageKey(saved.ID), &saved); err != nil {
			return err
		}
		if err := txn.Set([]byte(chatMessageKey(&saved)), nil); err != nil {
			return err
		}
		if saved.Status == data.StatusSent {
			return txn.Set([]byte(pendingKey(&saved)), nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// GetMessages returns the messages with the given ids. Unknown ids are skipped.
func (s *Store) GetMessages(_ context.Context, ids []bson.ObjectID) ([]*data.Message, error) {
	var out []*data.Message
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			var m data.Message
			if err := getRecord(txn, messageKey(id), &m); err != nil {
				if errors.Is(err, data.ErrNotFound) {
					continue
				}
				return err
			}
			out = append(out, &m)
		}
		return nil
	})
	return out, err
}

// ListMessages returns the messages of a chat ordered oldest→newest.
func (s *Store) ListMessages(_ context.Context, chatID bson.ObjectID) ([]*data.Message, error) {
	var out []*data.Message
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = loadIndexed(txn, "chat-msg:"+chatID.Hex()+":")
		return err
	})
	return out, err
}

// CountUnseen counts messages in a chat that were not sent by
// excludingSenderID and have not reached the seen status.
func (s *Store) CountUnseen(ctx context.Context, chatID, excludingSenderID bson.ObjectID) (int64, error) {
	msgs, err := s.ListMessages(ctx, chatID)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, m := range msgs {
		if m.SenderID != excludingSenderID && m.Status != data.StatusSeen {
			n++
		}
	}
	return n, nil
}

// PendingDelivery returns the sent-state messages addressed to recipientID, oldest first.
func (s *Store) PendingDelivery(_ context.Context, recipientID bson.ObjectID) ([]*data.Message, error) {
	var out []*data.Message
	err := s.db.View(func(txn *badger.Txn) error {
		msgs, err := loadIndexed(txn, "pending:"+recipientID.Hex()+":")
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if m.Status == data.StatusSent && m.SenderID != recipientID {
				out = append(out, m)
			}
		}
		return nil
	})
	return out, err
}

// AdvanceStatus moves the given messages forward to status to inside one
// transaction. Messages already at or past to are left untouched.
func (s *Store) AdvanceStatus(_ context.Context, ids []bson.ObjectID, to data.Status) (int64, error) {
	if len(ids) == 0 || len(to.Preceding()) == 0 {
		return 0, nil
	}

	var modified int64
	err := s.update(func(txn *badger.Txn) error {
		modified = 0
		for _, id := range ids {
			var m data.Message
			if err := getRecord(txn, messageKey(id), &m); err != nil {
				if errors.Is(err, data.ErrNotFound) {
					continue
				}
				return err
			}
			if !m.Status.CanAdvanceTo(to) {
				continue
			}
			if m.Status == data.StatusSent {
				if err := txn.Delete([]byte(pendingKey(&m))); err != nil {
					return err
				}
			}
			m.Status = to
			if err := putRecord(txn, messageKey(id), &m); err != nil {
				return err
			}
			modified++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return modified, nil
}

// loadIndexed resolves every index key below prefix to its message record.
func loadIndexed(txn *badger.Txn, prefix string) ([]*data.Message, error) {
	var out []*data.Message
	for _, key := range scanKeys(txn, prefix) {
		id, err := bson.ObjectIDFromHex(lastSegment(key))
		if err != nil {
			return nil, fmt.Errorf("corrupt index key %s: %w", key, err)
		}
		var m data.Message
		if err := getRecord(txn, messageKey(id), &m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, nil
}
