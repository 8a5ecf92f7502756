// Package localstore implements the data repositories on top of an embedded
// BadgerDB, for single-binary deployments and tests that should not need a
// MongoDB server.
//
// Records are encoded with BSON so they share the struct tags of the MongoDB
// stores. Secondary indexes are plain keys with empty values:
//
//	user:<id>                              user record
//	user-email:<email>                     -> user id
//	user-chat:<user id>:<chat id>          chat membership
//	chat:<id>                              chat record
//	chat-pair:<pair key>                   -> chat id
//	msg:<id>                               message record
//	chat-msg:<chat id>:<unix nano>:<id>    chat history order
//	pending:<recipient id>:<unix nano>:<id> messages still in the sent state
package localstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/data"
)

// maxConflictRetries bounds how often a transaction is retried after badger
// reports a write conflict with a concurrent transaction.
const maxConflictRetries = 5

// Store is a BadgerDB backed implementation of the user, chat and message
// repositories.
type Store struct {
	db  *badger.DB
	log zerolog.Logger
}

var (
	_ data.UserRepository    = (*Store)(nil)
	_ data.ChatRepository    = (*Store)(nil)
	_ data.MessageRepository = (*Store)(nil)
)

// Open opens (or creates) a store at path. An empty path keeps everything in memory.
func Open(path string, log zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{log: log})
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &Store{db: db, log: log}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debug().Int("attempt", attempt+1).Msg("badger transaction conflict, retrying")
	}
	return err
}

func getRecord(txn *badger.Txn, key string, out any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return data.ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return bson.Unmarshal(val, out)
	})
}

func putRecord(txn *badger.Txn, key string, v any) error {
	raw, err := bson.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), raw)
}

func getString(txn *badger.Txn, key string) (string, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", data.ErrNotFound
		}
		return "", err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// scanKeys returns every key below prefix in ascending order.
func scanKeys(txn *badger.Txn, prefix string) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)

	it := txn.NewIterator(opts)
	defer it.Close()

	var keys []string
	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		keys = append(keys, string(it.Item().KeyCopy(nil)))
	}
	return keys
}

// lastSegment returns the part of key after its final colon.
func lastSegment(key string) string {
	return key[strings.LastIndexByte(key, ':')+1:]
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(strings.TrimSpace(format), args...)
}
