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
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/normalize"
)

func userKey(id bson.ObjectID) string { return "user:" + id.Hex() }
func userEmailKey(email string) string { return "user-email:" + email }

// CreateUser stores a new user. The email index makes registration unique.
func (s *Store) CreateUser(_ context.Context, name, email, hashedPassword string) (*data.User, error) {
	now := time.Now().UTC()
	user := &data.User{
		ID:        bson.NewObjectID(),
		Name:      normalize.Name(name),
		Email:     normalize.Email(email),
		Password:  hashedPassword,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.update(func(txn *badger.Txn) error {
		if _, err := getString(txn, userEmailKey(user.Email)); err == nil {
			return fmt.Errorf("user %s: %w", user.Email, data.ErrDuplicate)
		} else if !errors.Is(err, data.ErrNotFound) {
			return err
		}
		if err := txn.Set([]byte(userEmailKey(user.Email)), []byte(user.ID.Hex())); err != nil {
			return err
		}
		return putRecord(txn, userKey(user.ID), user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByEmail finds a user by email.
func (s *Store) GetUserByEmail(_ context.Context, email string) (*data.User, error) {
	var user data.User
	err := s.db.View(func(txn *badger.Txn) error {
		hexID, err := getString(txn, userEmailKey(normalize.Email(email)))
		if err != nil {
			return err
		}
		id, err := bson.ObjectIDFromHex(hexID)
		if err != nil {
			return fmt.Errorf("corrupt email index for %s: %w", email, err)
		}
		return getRecord(txn, userKey(id), &user)
	})
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", email, data.ErrNotFound)
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByID finds a user by id.
func (s *Store) GetUserByID(_ context.Context, id bson.ObjectID) (*data.User, error) {
	var user data.User
	err := s.db.View(func(txn *badger.Txn) error {
		return getRecord(txn, userKey(id), &user)
	})
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", id.Hex(), data.ErrNotFound)
		}
		return nil, err
	}
	return &user, nil
}

// ListUsers returns every user ordered by name, without password hashes.
func (s *Store) ListUsers(_ context.Context) ([]*data.User, error) {
	var users []*data.User
	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range scanKeys(txn, "user:") {
			var u data.User
			if err := getRecord(txn, key, &u); err != nil {
				return err
			}
			u.Password = ""
			users = append(users, &u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

// UpdateLastSeen records when the user was last connected.
func (s *Store) UpdateLastSeen(_ context.Context, id bson.ObjectID, at time.Time) error {
	at = at.UTC()
	return s.update(func(txn *badger.Txn) error {
		var u data.User
		if err := getRecord(txn, userKey(id), &u); err != nil {
			if errors.Is(err, data.ErrNotFound) {
				return fmt.Errorf("user %s: %w", id.Hex(), data.ErrNotFound)
			}
			return err
		}
		u.LastSeen = &at
		u.UpdatedAt = at
		return putRecord(txn, userKey(id), &u)
	})
}
