package logging

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

var tracer = otel.Tracer("github.com/PaulBabatuyi/reaTimeChat-presence/internal/logging")

// UnaryServerInterceptor opens a server span and writes one access log line
// per unary call. Server side failures log at error, client errors at warn
// and the rest at info.
func UnaryServerInterceptor(l zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		ctx, span := tracer.Start(ctx, info.FullMethod, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		resp, err := handler(ctx, req)
		code := status.Code(err)
		if err != nil {
			span.SetStatus(otelcodes.Error, code.String())
		}
		e := event(l, code)
		if sc := span.SpanContext(); sc.IsValid() {
			e = e.Str("trace_id", sc.TraceID().String())
		}
		e.Str("method", info.FullMethod).
			Str("peer", peerAddr(ctx)).
			Str("code", code.String()).
			Dur("latency", time.Since(start)).
			Msg("unary")
		return resp, err
	}
}

// StreamServerInterceptor logs the opening and the end of each stream.
func StreamServerInterceptor(l zerolog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		lg := l.With().Str("method", info.FullMethod).Str("peer", peerAddr(ss.Context())).Logger()
		lg.Debug().Msg("stream opened")
		err := handler(srv, ss)
		event(lg, status.Code(err)).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("stream closed")
		return err
	}
}

func event(l zerolog.Logger, code codes.Code) *zerolog.Event {
	switch code {
	case codes.OK, codes.Canceled:
		return l.Info()
	case codes.Internal, codes.Unknown, codes.Unavailable, codes.DataLoss:
		return l.Error()
	default:
		return l.Warn()
	}
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}
