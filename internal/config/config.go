// Package config loads the server configuration from the environment. An
// optional .env file in the working directory is read first; values already
// present in the environment win.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverMongo  = "mongo"
	DriverBadger = "badger"
)

// OTELConfig holds OpenTelemetry tracing settings.
type OTELConfig struct {
	Enabled     bool    `env:"OTEL_ENABLED,default=false"`
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT,default=localhost:4317"`
	Insecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE,default=true"`
	ServiceName string  `env:"OTEL_SERVICE_NAME,default=chat-presence"`
	SampleRatio float64 `env:"OTEL_TRACES_SAMPLER_ARG,default=1" validate:"gte=0,lte=1"`
}

// Config holds all configuration values of the chat server.
type Config struct {
	// Server
	Port            string        `env:"PORT,default=50051" validate:"required,numeric"`
	HTTPAddr        string        `env:"HTTP_ADDR,default=:8080"` // /ws, /metrics and /healthz; empty disables
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`
	TLSCert         string        `env:"TLS_CERT"`
	TLSKey          string        `env:"TLS_KEY"`
	RequireTLS      bool          `env:"REQUIRE_TLS,default=false"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error fatal panic"`
	LogPretty bool   `env:"LOG_PRETTY,default=false"`

	// Storage
	StoreDriver   string `env:"STORE_DRIVER,default=mongo" validate:"oneof=mongo badger"`
	MongoURI      string `env:"MONGODB_URI"`
	MongoDatabase string `env:"MONGODB_DATABASE,default=chat_db"`
	BadgerPath    string `env:"BADGER_PATH"` // empty keeps the badger store in memory

	// Auth
	JWTSecret    string        `env:"JWT_SECRET"`
	JWTKeys      string        `env:"JWT_KEYS"` // kid:secret,kid2:secret2
	JWTActiveKid string        `env:"JWT_ACTIVE_KID"`
	TokenTTL     time.Duration `env:"TOKEN_TTL,default=24h" validate:"gt=0"`

	// Rate limiting of Register and Login
	RateLimitRPM   int `env:"RATE_LIMIT_RPM,default=10" validate:"gte=1"`
	RateLimitBurst int `env:"RATE_LIMIT_BURST,default=3" validate:"gte=1"`

	// Realtime
	SessionBuffer    int    `env:"SESSION_BUFFER,default=64" validate:"gte=1"`
	MaxMessageLength int    `env:"MAX_MESSAGE_LENGTH,default=4000" validate:"gte=1"`
	WSAllowedOrigins string `env:"WS_ALLOWED_ORIGINS"` // comma separated, "*" for any

	OTEL OTELConfig
}

var validate = validator.New()

// Load reads the environment (and .env when present), applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return cfg, fmt.Errorf("read environment: %w", err)
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
}

// Validate checks field constraints and the rules that span several fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.StoreDriver == DriverMongo && strings.TrimSpace(c.MongoURI) == "" {
		return errors.New("MONGODB_URI must be set when STORE_DRIVER=mongo")
	}
	if c.JWTSecret == "" && c.JWTKeys == "" {
		return errors.New("either JWT_SECRET or JWT_KEYS must be set")
	}
	if c.JWTKeys != "" {
		keys, err := c.SigningKeys()
		if err != nil {
			return err
		}
		if c.JWTActiveKid != "" {
			if _, ok := keys[c.JWTActiveKid]; !ok {
				return fmt.Errorf("JWT_ACTIVE_KID %q is not present in JWT_KEYS", c.JWTActiveKid)
			}
		}
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("TLS_CERT and TLS_KEY must be set together")
	}
	if c.RequireTLS && c.TLSCert == "" {
		return errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	return nil
}

// SigningKeys parses JWT_KEYS (kid:secret pairs separated by commas).
func (c Config) SigningKeys() (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(c.JWTKeys, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kid, secret, ok := strings.Cut(p, ":")
		if !ok || kid == "" || secret == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry: %s", p)
		}
		keys[kid] = secret
	}
	if len(keys) == 0 {
		return nil, errors.New("JWT_KEYS contains no keys")
	}
	return keys, nil
}

// AllowedOrigins returns the parsed WS_ALLOWED_ORIGINS list.
func (c Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.WSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// TLSEnabled reports whether a certificate pair is configured.
func (c Config) TLSEnabled() bool { return c.TLSCert != "" && c.TLSKey != "" }
