package main

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	v1 "github.com/PaulBabatuyi/reaTimeChat-presence/api/chat/v1"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/auth"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/data"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/delivery"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/gateway"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/logging"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/presence"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/realtime"
)

// stores groups the repositories of one storage driver.
type stores struct {
	users data.UserRepository
	chats data.ChatRepository
	msgs  data.MessageRepository
	close func(context.Context) error
}

type serverOptions struct {
	sessionBuffer    int
	maxMessageLength int
}

// Server implements the chat service on top of the delivery engine and the
// realtime gateway.
type Server struct {
	v1.UnimplementedChatServiceServer

	users    data.UserRepository
	chats    data.ChatRepository
	registry *presence.Registry
	engine   *delivery.Engine
	gateway  *gateway.Gateway
	auth     *auth.JWTManager
	validate *validator.Validate
	log      zerolog.Logger

	sessionBuffer int
}

// newServer wires the presence registry, router, engine and gateway over st.
func newServer(st stores, authMgr *auth.JWTManager, opts serverOptions, log zerolog.Logger) *Server {
	registry := presence.NewRegistry()
	router := realtime.NewRouter(registry, logging.Component(log, "router"))
	engine := delivery.New(st.chats, st.msgs, router, registry,
		delivery.WithLogger(logging.Component(log, "delivery")),
		delivery.WithMaxTextLength(opts.maxMessageLength),
	)
	return &Server{
		users:         st.users,
		chats:         st.chats,
		registry:      registry,
		engine:        engine,
		gateway:       gateway.New(registry, router, engine, st.users, logging.Component(log, "gateway")),
		auth:          authMgr,
		validate:      validator.New(),
		log:           logging.Component(log, "api"),
		sessionBuffer: opts.sessionBuffer,
	}
}

// registerService registers the ChatService on the given gRPC server.
func registerService(s *grpc.Server, srv *Server) {
	v1.RegisterChatServiceServer(s, srv)
}
