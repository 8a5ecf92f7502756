package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/v2/bson"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	v1 "github.com/PaulBabatuyi/reaTimeChat-presence/api/chat/v1"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/apperr"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/auth"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/data"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/normalize"
)

// Register creates an account and returns a token for it.
func (s *Server) Register(ctx context.Context, req *v1.RegisterRequest) (*v1.AuthResponse, error) {
	req.Name = normalize.Name(req.Name)
	req.Email = normalize.Email(req.Email)
	if err := s.check(req); err != nil {
		return nil, err
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		s.log.Error().Err(err).Msg("hash password failed")
		return nil, status.Error(codes.Internal, "failed to hash password")
	}

	user, err := s.users.CreateUser(ctx, req.Name, req.Email, hashed)
	if errors.Is(err, data.ErrDuplicate) {
		return nil, status.Error(codes.AlreadyExists, "email already registered")
	}
	if err != nil {
		s.log.Error().Err(err).Msg("create user failed")
		return nil, apperr.ToGRPC(apperr.FromStore("Register", err))
	}
	return s.issueToken(user)
}

// Login authenticates a user by email and password.
func (s *Server) Login(ctx context.Context, req *v1.LoginRequest) (*v1.AuthResponse, error) {
	req.Email = normalize.Email(req.Email)
	if err := s.check(req); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, req.Email)
	if errors.Is(err, data.ErrNotFound) {
		return nil, status.Error(codes.NotFound, "user not found")
	}
	if err != nil {
		return nil, apperr.ToGRPC(apperr.FromStore("Login", err))
	}
	if err := auth.CheckPassword(user.Password, req.Password); err != nil {
		return nil, status.Error(codes.PermissionDenied, "invalid credentials")
	}
	return s.issueToken(user)
}

func (s *Server) issueToken(user *data.User) (*v1.AuthResponse, error) {
	token, expiresAt, err := s.auth.GenerateToken(user.ID, user.Email)
	if err != nil {
		s.log.Error().Err(err).Msg("generate token failed")
		return nil, status.Error(codes.Internal, "failed to generate token")
	}
	return &v1.AuthResponse{Token: token, UserID: user.ID.Hex(), ExpiresAt: expiresAt}, nil
}

// ListUsers returns every other user, annotated with the chat the caller
// already has with them and their presence.
func (s *Server) ListUsers(ctx context.Context, _ *v1.ListUsersRequest) (*v1.ListUsersResponse, error) {
	claims, err := claimsFrom(ctx)
	if err != nil {
		return nil, err
	}
	me, _ := bson.ObjectIDFromHex(claims.UserID)

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, apperr.ToGRPC(apperr.FromStore("ListUsers", err))
	}
	chats, err := s.chats.ListChatsForUser(ctx, me)
	if err != nil {
		return nil, apperr.ToGRPC(apperr.FromStore("ListUsers", err))
	}
	chatWith := make(map[bson.ObjectID]string, len(chats))
	for _, c := range chats {
		if other, ok := c.Other(me); ok && other != me {
			chatWith[other] = c.ID.Hex()
		}
	}

	resp := &v1.ListUsersResponse{Users: make([]v1.User, 0, len(users))}
	for _, u := range users {
		if u.ID == me {
			continue
		}
		resp.Users = append(resp.Users, v1.User{
			ID:       u.ID.Hex(),
			Name:     u.Name,
			Email:    u.Email,
			ChatID:   chatWith[u.ID],
			Online:   s.registry.IsOnline(u.ID.Hex()),
			LastSeen: u.LastSeen,
		})
	}
	return resp, nil
}

// OpenChat finds or creates the chat between the caller and another user.
func (s *Server) OpenChat(ctx context.Context, req *v1.OpenChatRequest) (*v1.Chat, error) {
	claims, err := claimsFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.check(req); err != nil {
		return nil, err
	}

	other, _ := bson.ObjectIDFromHex(req.UserID)
	if _, err := s.users.GetUserByID(ctx, other); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "user not found")
		}
		return nil, apperr.ToGRPC(apperr.FromStore("OpenChat", err))
	}

	chat, err := s.engine.OpenChat(ctx, claims.UserID, req.UserID)
	if err != nil {
		return nil, s.fail(err)
	}
	return toChat(chat), nil
}

// SendMessage stores a message in one of the caller's chats.
func (s *Server) SendMessage(ctx context.Context, req *v1.SendMessageRequest) (*v1.Message, error) {
	claims, err := claimsFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.check(req); err != nil {
		return nil, err
	}

	msg, err := s.engine.Send(ctx, claims.UserID, req.ChatID, req.Text)
	if err != nil {
		return nil, s.fail(err)
	}
	return toMessage(msg), nil
}

// ListMessages returns the history of a chat, oldest first.
func (s *Server) ListMessages(ctx context.Context, req *v1.ListMessagesRequest) (*v1.ListMessagesResponse, error) {
	claims, err := claimsFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.check(req); err != nil {
		return nil, err
	}

	msgs, err := s.engine.History(ctx, claims.UserID, req.ChatID)
	if err != nil {
		return nil, s.fail(err)
	}
	resp := &v1.ListMessagesResponse{Messages: make([]v1.Message, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, *toMessage(m))
	}
	return resp, nil
}

// CountUnseen counts the messages of a chat the caller has not seen.
func (s *Server) CountUnseen(ctx context.Context, req *v1.CountUnseenRequest) (*v1.CountUnseenResponse, error) {
	claims, err := claimsFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.check(req); err != nil {
		return nil, err
	}

	n, err := s.engine.CountUnseen(ctx, claims.UserID, req.ChatID)
	if err != nil {
		return nil, s.fail(err)
	}
	return &v1.CountUnseenResponse{ChatID: req.ChatID, Count: n}, nil
}

// GetLastSeen reports whether a user is online and when they were last seen.
func (s *Server) GetLastSeen(ctx context.Context, req *v1.GetLastSeenRequest) (*v1.LastSeenResponse, error) {
	if _, err := claimsFrom(ctx); err != nil {
		return nil, err
	}
	if err := s.check(req); err != nil {
		return nil, err
	}

	ls, err := s.gateway.LastSeen(ctx, req.UserID)
	if err != nil {
		return nil, s.fail(err)
	}
	return &v1.LastSeenResponse{UserID: ls.UserID, Online: ls.Online, LastSeen: ls.LastSeen}, nil
}

func claimsFrom(ctx context.Context) (*auth.Claims, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing auth claims")
	}
	return claims, nil
}

// check validates req and reports the first failing field.
func (s *Server) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return status.Error(codes.InvalidArgument, fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag()))
	}
	return status.Error(codes.InvalidArgument, "invalid request")
}

// fail maps an engine error to a status, logging the ones that are not the
// caller's fault.
func (s *Server) fail(err error) error {
	switch apperr.KindOf(err) {
	case apperr.NotFound, apperr.InvalidArgument:
	case apperr.Unauthorized:
		s.log.Warn().Err(err).Msg("request refused")
	default:
		s.log.Error().Err(err).Msg("request failed")
	}
	return apperr.ToGRPC(err)
}

func toChat(c *data.Chat) *v1.Chat {
	out := &v1.Chat{ID: c.ID.Hex(), CreatedAt: c.CreatedAt, Participants: make([]string, 0, len(c.Participants))}
	for _, p := range c.Participants {
		out.Participants = append(out.Participants, p.Hex())
	}
	return out
}

func toMessage(m *data.Message) *v1.Message {
	return &v1.Message{
		ID:        m.ID.Hex(),
		ChatID:    m.ChatID.Hex(),
		SenderID:  m.SenderID.Hex(),
		Text:      m.Text,
		Status:    string(m.Status),
		CreatedAt: m.CreatedAt,
	}
}
