package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	v1 "github.com/PaulBabatuyi/reaTimeChat-presence/api/chat/v1"
)

var (
	authName     string
	authPassword string
)

func init() {
	registerCmd.Flags().StringVar(&authName, "name", "", "display name (defaults to the email)")
	for _, c := range []*cobra.Command{registerCmd, loginCmd} {
		c.Flags().StringVar(&authPassword, "password", "", "password (or set CHATCTL_PASSWORD)")
		rootCmd.AddCommand(c)
	}
}

var registerCmd = &cobra.Command{
	Use:   "register <email>",
	Short: "Create an account and store its token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := authName
		if name == "" {
			name = args[0]
		}
		return authenticate(cmd, args[0], func(s *session) (*v1.AuthResponse, error) {
			ctx, cancel := timeout(cmd)
			defer cancel()
			return s.client.Register(ctx, &v1.RegisterRequest{Name: name, Email: args[0], Password: password()})
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Log in and store the token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return authenticate(cmd, args[0], func(s *session) (*v1.AuthResponse, error) {
			ctx, cancel := timeout(cmd)
			defer cancel()
			return s.client.Login(ctx, &v1.LoginRequest{Email: args[0], Password: password()})
		})
	},
}

func password() string {
	if authPassword != "" {
		return authPassword
	}
	return os.Getenv("CHATCTL_PASSWORD")
}

func authenticate(cmd *cobra.Command, email string, call func(*session) (*v1.AuthResponse, error)) error {
	s, err := connect()
	if err != nil {
		return err
	}
	defer s.Close()

	resp, err := call(s)
	if err != nil {
		return err
	}
	s.cfg.Auth = ConfigAuth{
		Token:     resp.Token,
		UserID:    resp.UserID,
		Email:     email,
		ExpiresAt: resp.ExpiresAt.Format(time.RFC3339),
	}
	if err := saveConfig(s.cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s as %s (user %s)\n", color.New(color.FgGreen).Render("Authenticated"), email, resp.UserID)
	return nil
}
