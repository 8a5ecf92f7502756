package v1

import (
	"encoding/json"
	"time"
)

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

func (r *RegisterRequest) GetEmail() string {
	if r == nil {
		return ""
	}
	return r.Email
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (r *LoginRequest) GetEmail() string {
	if r == nil {
		return ""
	}
	return r.Email
}

// AuthResponse is returned by Register and Login.
type AuthResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ListUsersRequest struct{}

// User is a directory entry. ChatID is set when the caller already has a
// chat with this user.
type User struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Email    string     `json:"email"`
	ChatID   string     `json:"chatId,omitempty"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type ListUsersResponse struct {
	Users []User `json:"users"`
}

type OpenChatRequest struct {
	UserID string `json:"userId" validate:"required,len=24,hexadecimal"`
}

type Chat struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

type SendMessageRequest struct {
	ChatID string `json:"chatId" validate:"required,len=24,hexadecimal"`
	Text   string `json:"text" validate:"required"`
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type ListMessagesRequest struct {
	ChatID string `json:"chatId" validate:"required,len=24,hexadecimal"`
}

type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}

type CountUnseenRequest struct {
	ChatID string `json:"chatId" validate:"required,len=24,hexadecimal"`
}

type CountUnseenResponse struct {
	ChatID string `json:"chatId"`
	Count  int64  `json:"count"`
}

type GetLastSeenRequest struct {
	UserID string `json:"userId" validate:"required,len=24,hexadecimal"`
}

type LastSeenResponse struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// ClientEvent is one frame sent by the client on the Events stream.
type ClientEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerEvent is one frame pushed by the server on the Events stream.
type ServerEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
