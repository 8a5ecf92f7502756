// Command chatctl is a terminal client for the chat service.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	v1 "github.com/PaulBabatuyi/reaTimeChat-presence/api/chat/v1"
)

const defaultAddress = "localhost:50051"

// Config is stored in ~/.chatctl/config.toml.
type Config struct {
	Server ConfigServer `toml:"server"`
	Auth   ConfigAuth   `toml:"auth"`
}

type ConfigServer struct {
	Address  string `toml:"address"`
	Insecure bool   `toml:"insecure"`
}

// ConfigAuth holds the session of the last register or login.
type ConfigAuth struct {
	Token     string `toml:"token"`
	UserID    string `toml:"user_id"`
	Email     string `toml:"email"`
	ExpiresAt string `toml:"expires_at"`
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".chatctl")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads the config file. A missing file yields the defaults.
func loadConfig() (*Config, error) {
	cfg := &Config{Server: ConfigServer{Address: defaultAddress, Insecure: true}}
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return cfg, nil
}

func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a field using dot notation (e.g. "server.address").
func setConfigValue(cfg *Config, key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key must use dot notation: section.field (e.g. server.address)")
	}
	switch section {
	case "server":
		switch field {
		case "address":
			cfg.Server.Address = value
		case "insecure":
			cfg.Server.Insecure = value == "true"
		default:
			return fmt.Errorf("unknown field %q in section [server]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		case "user_id":
			cfg.Auth.UserID = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: server, auth)", section)
	}
	return nil
}

var (
	flagAddress string
	flagTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "chatctl",
	Short:         "Terminal client for the chat service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAddress, "addr", "", "server address (overrides server.address)")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 10*time.Second, "timeout of unary calls")
}

// session bundles the loaded config and a client connection.
type session struct {
	cfg    *Config
	conn   *grpc.ClientConn
	client v1.ChatServiceClient
}

func connect() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	addr := cfg.Server.Address
	if flagAddress != "" {
		addr = flagAddress
	}
	creds := insecure.NewCredentials()
	if !cfg.Server.Insecure {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &session{cfg: cfg, conn: conn, client: v1.NewChatServiceClient(conn)}, nil
}

func (s *session) Close() error { return s.conn.Close() }

// authed returns a context carrying the stored token.
func (s *session) authed(ctx context.Context) (context.Context, error) {
	if s.cfg.Auth.Token == "" {
		return nil, fmt.Errorf("not logged in; run 'chatctl login' first")
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+s.cfg.Auth.Token), nil
}

func (s *session) call(cmd *cobra.Command) (context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
	actx, err := s.authed(ctx)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return actx, cancel, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
