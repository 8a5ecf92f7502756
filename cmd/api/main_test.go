package main

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/config"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/localstore"
)

func TestRun_ListenFailureReleasesStore(t *testing.T) {
	busy, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = busy.Close() })

	dir := t.TempDir()
	cfg := config.Config{
		Port:             strconv.Itoa(busy.Addr().(*net.TCPAddr).Port),
		ShutdownTimeout:  time.Second,
		StoreDriver:      config.DriverBadger,
		BadgerPath:       dir,
		JWTSecret:        "test-secret",
		TokenTTL:         time.Hour,
		RateLimitRPM:     10,
		RateLimitBurst:   3,
		SessionBuffer:    8,
		MaxMessageLength: 100,
	}

	err = run(cfg, zerolog.Nop())
	require.ErrorContains(t, err, "listen")

	// badger holds a directory lock until Close, so reopening proves the
	// store was closed on the error path
	s, err := localstore.Open(dir, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
