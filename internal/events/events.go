// Package events names the realtime events exchanged on a connection and
// defines their payloads.
package events

import (
	"encoding/json"
	"errors"
	"strings"
)

// Client to server events.
const (
	UserOnline     = "userOnline"
	JoinChat       = "joinChat"
	Typing         = "typing"
	StopTyping     = "stopTyping"
	MessageSeen    = "messageSeen"
	GetOnlineUsers = "getOnlineUsers"
)

// Server to client events. Typing, StopTyping and MessageSeen are reused in
// this direction.
const (
	OnlineUsers      = "onlineUsers"
	ReceiveMessage   = "receiveMessage"
	UnreadUpdate     = "unreadUpdate"
	MessageDelivered = "messageDelivered"
)

// Event is one outbound frame. Payload is encoded as JSON by the transport.
type Event struct {
	Name    string
	Payload any
}

// Inbound is one frame read from a client, payload still encoded.
type Inbound struct {
	Name    string
	Payload json.RawMessage
}

// TypingPayload is carried by typing and stopTyping in both directions.
type TypingPayload struct {
	ChatID   string `json:"chatId"`
	SenderID string `json:"senderId"`
}

// SeenAckPayload is the client acknowledgement of read messages.
type SeenAckPayload struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
}

// SeenNoticePayload tells the other participant which messages were read.
type SeenNoticePayload struct {
	MessageIDs []string `json:"messageIds"`
}

// DeliveredPayload tells a sender its message reached the recipient.
type DeliveredPayload struct {
	MessageID string `json:"messageId"`
}

// UnreadPayload is a coarse hint that the unread count of a chat changed.
type UnreadPayload struct {
	ChatID string `json:"chatId"`
}

// ErrEmptyPayload is returned when a required payload is missing.
var ErrEmptyPayload = errors.New("empty payload")

// Decode unmarshals the payload of in into v.
func (in Inbound) Decode(v any) error {
	if len(in.Payload) == 0 || string(in.Payload) == "null" {
		return ErrEmptyPayload
	}
	return json.Unmarshal(in.Payload, v)
}

// ID reads a payload that carries a single identifier, either as a bare JSON
// string ("abc") or as an object holding it under field ({"chatId":"abc"}).
func (in Inbound) ID(field string) (string, error) {
	var s string
	if err := in.Decode(&s); err == nil {
		return strings.TrimSpace(s), nil
	} else if errors.Is(err, ErrEmptyPayload) {
		return "", err
	}
	var obj map[string]any
	if err := in.Decode(&obj); err != nil {
		return "", err
	}
	v, _ := obj[field].(string)
	return strings.TrimSpace(v), nil
}
