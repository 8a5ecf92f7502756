package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	v1 "github.com/PaulBabatuyi/reaTimeChat-presence/api/chat/v1"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/auth"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/config"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/data"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/db"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/localstore"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/logging"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/middleware"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/observability"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/wsapi"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(os.Stderr, cfg.LogLevel, cfg.LogPretty)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.Setup(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(closeCtx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := st.close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("store close")
		}
	}()

	jwtMgr, err := newJWTManager(cfg)
	if err != nil {
		return err
	}

	limiterStore := middleware.NewLimiterStore(cfg.RateLimitRPM, cfg.RateLimitBurst, time.Minute)
	defer limiterStore.Stop()
	limited := map[string]bool{
		v1.ChatService_Register_FullMethodName: true,
		v1.ChatService_Login_FullMethodName:    true,
	}

	var serverOpts []grpc.ServerOption
	switch {
	case cfg.TLSEnabled():
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS certs: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	case cfg.RequireTLS:
		return errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	default:
		log.Warn().Msg("TLS disabled, serving plaintext gRPC")
	}

	grpcLog := logging.Component(log, "grpc")
	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(
			logging.UnaryServerInterceptor(grpcLog),
			middleware.RateLimitUnaryInterceptor(limiterStore, limited, grpcLog),
			authUnaryInterceptor(jwtMgr),
		),
		grpc.ChainStreamInterceptor(
			logging.StreamServerInterceptor(grpcLog),
			authStreamInterceptor(jwtMgr),
		),
	)
	grpcServer := grpc.NewServer(serverOpts...)

	srv := newServer(st, jwtMgr, serverOptions{
		sessionBuffer:    cfg.SessionBuffer,
		maxMessageLength: cfg.MaxMessageLength,
	}, log)
	registerService(grpcServer, srv)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus(v1.ServiceName, healthpb.HealthCheckResponse_SERVING)

	var accepting atomic.Bool
	accepting.Store(true)
	wsHandler := wsapi.New(srv.gateway, jwtMgr, logging.Component(log, "ws"),
		wsapi.WithBuffer(cfg.SessionBuffer),
		wsapi.WithEncoder(encodePayload),
		wsapi.WithAllowedOrigins(cfg.AllowedOrigins()),
	)
	lis, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	httpSrv := startHTTP(cfg.HTTPAddr, newHTTPRouter(wsHandler, accepting.Load, logging.Component(log, "http")), log)

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", lis.Addr().String()).Str("store", cfg.StoreDriver).Str("version", version).Msg("gRPC server listening")
		serveErr <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down gRPC server")
	case err := <-serveErr:
		log.Error().Err(err).Msg("gRPC server stopped")
	}

	accepting.Store(false)
	healthSrv.Shutdown()
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(cfg.ShutdownTimeout):
		log.Warn().Msg("graceful stop timed out, closing remaining streams")
		grpcServer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http server shutdown")
		}
	}
	if err := wsHandler.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("websocket connections did not close in time")
	}
	srv.gateway.Wait()
	log.Info().Msg("server stopped")
	return nil
}

// openStores connects the configured storage driver.
func openStores(ctx context.Context, cfg config.Config, log zerolog.Logger) (stores, error) {
	switch cfg.StoreDriver {
	case config.DriverBadger:
		s, err := localstore.Open(cfg.BadgerPath, logging.Component(log, "badger"))
		if err != nil {
			return stores{}, fmt.Errorf("open badger store: %w", err)
		}
		return stores{users: s, chats: s, msgs: s, close: func(context.Context) error { return s.Close() }}, nil
	default:
		dbClient, err := db.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return stores{}, err
		}
		if err := dbClient.CreateIndexes(ctx); err != nil {
			_ = dbClient.Close(context.Background())
			return stores{}, fmt.Errorf("create indexes: %w", err)
		}
		return stores{
			users: data.NewUsersStore(dbClient.UsersCollection()),
			chats: data.NewChatsStore(dbClient.ChatsCollection()),
			msgs:  data.NewMessagesStore(dbClient.MessagesCollection()),
			close: dbClient.Close,
		}, nil
	}
}

// newJWTManager prefers rotated JWT_KEYS and falls back to JWT_SECRET.
func newJWTManager(cfg config.Config) (*auth.JWTManager, error) {
	if cfg.JWTKeys == "" {
		return auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL), nil
	}
	keys, err := cfg.SigningKeys()
	if err != nil {
		return nil, err
	}
	return auth.NewJWTManagerFromKeys(keys, cfg.JWTActiveKid, cfg.TokenTTL), nil
}
