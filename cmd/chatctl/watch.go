package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	v1 "github.com/PaulBabatuyi/reaTimeChat-presence/api/chat/v1"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/events"
)

var watchAck bool

func init() {
	watchCmd.Flags().BoolVar(&watchAck, "ack", false, "acknowledge received messages as seen")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch [chatId...]",
	Short: "Go online and print realtime events until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := connect()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		ctx, err = s.authed(ctx)
		if err != nil {
			return err
		}
		stream, err := s.client.Events(ctx)
		if err != nil {
			return err
		}

		send := func(name string, payload any) error {
			raw, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			return stream.Send(&v1.ClientEvent{Event: name, Payload: raw})
		}
		if err := send(events.UserOnline, s.cfg.Auth.UserID); err != nil {
			return err
		}
		for _, chatID := range args {
			if err := send(events.JoinChat, chatID); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		for {
			frame, err := stream.Recv()
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return err
			}
			printEvent(out, frame)

			if !watchAck || frame.Event != events.ReceiveMessage {
				continue
			}
			var m v1.Message
			if err := json.Unmarshal(frame.Payload, &m); err != nil || m.SenderID == s.cfg.Auth.UserID {
				continue
			}
			if err := send(events.MessageSeen, events.SeenAckPayload{ChatID: m.ChatID, MessageIDs: []string{m.ID}}); err != nil {
				return err
			}
		}
	},
}

func printEvent(w io.Writer, f *v1.ServerEvent) {
	name := color.New(color.FgCyan).Render(f.Event)
	switch f.Event {
	case events.ReceiveMessage:
		var m v1.Message
		if json.Unmarshal(f.Payload, &m) == nil {
			fmt.Fprintf(w, "%s [%s] %s: %s\n", name, m.ChatID, m.SenderID, m.Text)
			return
		}
	case events.MessageDelivered:
		var p events.DeliveredPayload
		if json.Unmarshal(f.Payload, &p) == nil {
			fmt.Fprintf(w, "%s %s %s\n", name, p.MessageID, statusLabel("delivered"))
			return
		}
	case events.MessageSeen:
		var p events.SeenNoticePayload
		if json.Unmarshal(f.Payload, &p) == nil {
			fmt.Fprintf(w, "%s %s %s\n", name, strings.Join(p.MessageIDs, ","), statusLabel("seen"))
			return
		}
	case events.OnlineUsers:
		var ids []string
		if json.Unmarshal(f.Payload, &ids) == nil {
			fmt.Fprintf(w, "%s %d online: %s\n", name, len(ids), strings.Join(ids, ", "))
			return
		}
	}
	fmt.Fprintf(w, "%s %s\n", name, string(f.Payload))
}

func statusLabel(status string) string {
	switch status {
	case "seen":
		return color.New(color.FgBlue).Render(status)
	case "delivered":
		return color.New(color.FgGreen).Render(status)
	default:
		return color.New(color.FgGray).Render(status)
	}
}
