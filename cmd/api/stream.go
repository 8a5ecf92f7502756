package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	v1 "github.com/PaulBabatuyi/reaTimeChat-presence/api/chat/v1"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/data"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/events"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/realtime"
)

// Events is the realtime channel of one client. The stream ending is the
// disconnect.
func (s *Server) Events(stream v1.ChatService_EventsServer) error {
	claims, ok := getClaimsFromContext(stream.Context())
	if !ok {
		return status.Error(codes.Unauthenticated, "missing auth claims")
	}
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	sess := realtime.NewSession(claims.UserID, realtime.SinkFunc(func(evt events.Event) error {
		frame, err := toServerEvent(evt)
		if err != nil {
			return err
		}
		return stream.Send(frame)
	}), s.sessionBuffer, s.log)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Debug().Err(err).Str("conn_id", sess.ID()).Msg("session writer stopped")
		}
	}()

	s.gateway.Connect(sess)
	defer func() {
		s.gateway.Disconnect(ctx, sess)
		sess.Close()
		<-writerDone
	}()

	frames := make(chan *v1.ClientEvent)
	recvErr := make(chan error, 1)
	go func() {
		for {
			in, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case frames <- in:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case in := <-frames:
			s.gateway.Handle(ctx, sess, events.Inbound{Name: in.Event, Payload: in.Payload})
		case err := <-recvErr:
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				return nil
			}
			return err
		case <-sess.Done():
			if errors.Is(sess.Err(), realtime.ErrSlowConsumer) {
				return status.Error(codes.ResourceExhausted, "client is not reading events fast enough")
			}
			if err := sess.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return status.Error(codes.Unavailable, "event stream failed")
			}
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// encodePayload renders an event payload for the wire. Stored messages are
// converted to their API form first.
func encodePayload(evt events.Event) (json.RawMessage, error) {
	payload := evt.Payload
	switch m := payload.(type) {
	case data.Message:
		payload = toMessage(&m)
	case *data.Message:
		payload = toMessage(m)
	}
	return json.Marshal(payload)
}

func toServerEvent(evt events.Event) (*v1.ServerEvent, error) {
	raw, err := encodePayload(evt)
	if err != nil {
		return nil, err
	}
	return &v1.ServerEvent{Event: evt.Name, Payload: raw}, nil
}
