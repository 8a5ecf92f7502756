package localstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/data"
)

func chatKey(id bson.ObjectID) string { return "chat:" + id.Hex() }
func chatPairKey(pair string) string  { return "chat-pair:" + pair }
func userChatKey(userID, chatID bson.ObjectID) string {
	return "user-chat:" + userID.Hex() + ":" + chatID.Hex()
}

// FindOrCreateChat returns the chat between a and b, creating it on first contact.
func (s *Store) FindOrCreateChat(_ context.Context, a, b bson.ObjectID) (*data.Chat, error) {
	pair := data.PairKey(a, b)
	var chat data.Chat

	err := s.update(func(txn *badger.Txn) error {
		hexID, err := getString(txn, chatPairKey(pair))
		switch {
		case err == nil:
			id, err := bson.ObjectIDFromHex(hexID)
			if err != nil {
				return fmt.Errorf("corrupt pair index for %s: %w", pair, err)
			}
			return getRecord(txn, chatKey(id), &chat)
		case !errors.Is(err, data.ErrNotFound):
			return err
		}

		// The pair index is read in this transaction, so a concurrent creator
		// makes this commit fail with a conflict and the retry finds its chat.
		chat = data.Chat{
			ID:           bson.NewObjectID(),
			Participants: []bson.ObjectID{a, b},
			PairKey:      pair,
			CreatedAt:    time.Now().UTC(),
		}
		if err := putRecord(txn, chatKey(chat.ID), &chat); err != nil {
			return err
		}
		if err := txn.Set([]byte(chatPairKey(pair)), []byte(chat.ID.Hex())); err != nil {
			return err
		}
		for _, p := range chat.Participants {
			if err := txn.Set([]byte(userChatKey(p, chat.ID)), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// GetChat finds a chat by id.
func (s *Store) GetChat(_ context.Context, id bson.ObjectID) (*data.Chat, error) {
	var chat data.Chat
	err := s.db.View(func(txn *badger.Txn) error {
		return getRecord(txn, chatKey(id), &chat)
	})
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, fmt.Errorf("chat %s: %w", id.Hex(), data.ErrNotFound)
		}
		return nil, err
	}
	return &chat, nil
}

// ListChatsForUser returns all chats the user participates in, newest first.
func (s *Store) ListChatsForUser(_ context.Context, userID bson.ObjectID) ([]*data.Chat, error) {
	var chats []*data.Chat
	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range scanKeys(txn, "user-chat:"+userID.Hex()+":") {
			id, err := bson.ObjectIDFromHex(lastSegment(key))
			if err != nil {
				return fmt.Errorf("corrupt membership key %s: %w", key, err)
			}
			var c data.Chat
			if err := getRecord(txn, chatKey(id), &c); err != nil {
				return err
			}
			chats = append(chats, &c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(chats, func(i, j int) bool { return chats[i].CreatedAt.After(chats[j].CreatedAt) })
	return chats, nil
}
