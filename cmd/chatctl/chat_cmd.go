package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	v1 "github.com/PaulBabatuyi/reaTimeChat-presence/api/chat/v1"
)

func init() {
	rootCmd.AddCommand(usersCmd, openCmd, sendCmd, historyCmd, unseenCmd, lastSeenCmd)
}

func timeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), flagTimeout)
}

// withSession runs fn with a connected, authenticated session.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	s, err := connect()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx, cancel, err := s.call(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	return fn(ctx, s)
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List the other users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			resp, err := s.client.ListUsers(ctx, &v1.ListUsersRequest{})
			if err != nil {
				return err
			}
			renderUsers(cmd.OutOrStdout(), resp.Users)
			return nil
		})
	},
}

var openCmd = &cobra.Command{
	Use:   "open <userId>",
	Short: "Open (or find) the chat with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			chat, err := s.client.OpenChat(ctx, &v1.OpenChatRequest{UserID: args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), chat.ID)
			return nil
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <chatId> <text...>",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			msg, err := s.client.SendMessage(ctx, &v1.SendMessageRequest{ChatID: args[0], Text: strings.Join(args[1:], " ")})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", msg.ID, statusLabel(msg.Status))
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <chatId>",
	Short: "Print the messages of a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			resp, err := s.client.ListMessages(ctx, &v1.ListMessagesRequest{ChatID: args[0]})
			if err != nil {
				return err
			}
			renderMessages(cmd.OutOrStdout(), s.cfg.Auth.UserID, resp.Messages)
			return nil
		})
	},
}

var unseenCmd = &cobra.Command{
	Use:   "unseen <chatId>",
	Short: "Count the messages of a chat you have not seen",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			resp, err := s.client.CountUnseen(ctx, &v1.CountUnseenRequest{ChatID: args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Count)
			return nil
		})
	},
}

var lastSeenCmd = &cobra.Command{
	Use:   "lastseen <userId>",
	Short: "Show whether a user is online and when they were last seen",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			resp, err := s.client.GetLastSeen(ctx, &v1.GetLastSeenRequest{UserID: args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), presenceLabel(resp.Online, resp.LastSeen))
			return nil
		})
	},
}

func renderUsers(w io.Writer, users []v1.User) {
	table := newTable(w)
	table.SetHeader([]string{"ID", "Name", "Email", "Chat", "Presence"})
	for _, u := range users {
		table.Append([]string{u.ID, u.Name, u.Email, u.ChatID, presenceLabel(u.Online, u.LastSeen)})
	}
	table.Render()
}

func renderMessages(w io.Writer, me string, msgs []v1.Message) {
	table := newTable(w)
	table.SetHeader([]string{"Time", "From", "Text", "Status"})
	for _, m := range msgs {
		from := m.SenderID
		if from == me {
			from = "me"
		}
		table.Append([]string{m.CreatedAt.Local().Format(time.DateTime), from, m.Text, statusLabel(m.Status)})
	}
	table.Render()
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func presenceLabel(online bool, lastSeen *time.Time) string {
	switch {
	case online:
		return "online"
	case lastSeen != nil:
		return "last seen " + lastSeen.Local().Format(time.DateTime)
	default:
		return "offline"
	}
}
