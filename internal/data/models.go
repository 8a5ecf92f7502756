package data

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// User maps to users collection (id, name, email, password hash, last seen)
type User struct {
	ID        bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string        `bson:"name" json:"name"`
	Email     string        `bson:"email" json:"email"`
	Password  string        `bson:"password" json:"-"`
	LastSeen  *time.Time    `bson:"last_seen,omitempty" json:"lastSeen,omitempty"` // written on disconnect only
	CreatedAt time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time     `bson:"updated_at" json:"updatedAt"`
}

// Chat maps to chats collection. A chat always has exactly two participants.
type Chat struct {
	ID           bson.ObjectID   `bson:"_id,omitempty" json:"id"`
	Participants []bson.ObjectID `bson:"participants" json:"participants"`
	PairKey      string          `bson:"pair_key" json:"-"` // unique per unordered pair
	CreatedAt    time.Time       `bson:"created_at" json:"createdAt"`
}

// Includes reports whether userID is one of the chat participants.
func (c *Chat) Includes(userID bson.ObjectID) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Other returns the participant that is not userID. The second return value
// is false when userID is not a participant.
func (c *Chat) Other(userID bson.ObjectID) (bson.ObjectID, bool) {
	if !c.Includes(userID) {
		return bson.NilObjectID, false
	}
	for _, p := range c.Participants {
		if p != userID {
			return p, true
		}
	}
	// chat with oneself
	return userID, true
}

// PairKey returns the order-independent key identifying the chat between a and b.
func PairKey(a, b bson.ObjectID) string {
	ids := []string{a.Hex(), b.Hex()}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// Message maps to messages collection.
type Message struct {
	ID          bson.ObjectID `bson:"_id,omitempty" json:"id"`
	ChatID      bson.ObjectID `bson:"chat_id" json:"chatId"`
	SenderID    bson.ObjectID `bson:"sender_id" json:"senderId"`
	RecipientID bson.ObjectID `bson:"recipient_id" json:"-"` // pending-delivery lookups
	Text        string        `bson:"text" json:"text"`
	Status      Status        `bson:"status" json:"status"`
	CreatedAt   time.Time     `bson:"created_at" json:"createdAt"` // ordering within a chat
}

// Status is the delivery lifecycle stage of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
)

var statusRank = map[Status]int{
	StatusSent:      1,
	StatusDelivered: 2,
	StatusSeen:      3,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank returns the position of s in the lifecycle, 0 for unknown values.
func (s Status) Rank() int {
	return statusRank[s]
}

// Before reports whether s strictly precedes other.
func (s Status) Before(other Status) bool {
	return s.Valid() && other.Valid() && s.Rank() < other.Rank()
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
func (s Status) CanAdvanceTo(next Status) bool {
	return s.Before(next)
}

// Preceding returns every status that comes strictly before s.
func (s Status) Preceding() []Status {
	var out []Status
	for _, st := range []Status{StatusSent, StatusDelivered, StatusSeen} {
		if st.Before(s) {
			out = append(out, st)
		}
	}
	return out
}

// ParseStatus converts a string into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown message status %q", v)
	}
	return s, nil
}
