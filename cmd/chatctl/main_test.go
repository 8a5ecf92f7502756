package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/stretchr/testify/require"

	v1 "github.com/PaulBabatuyi/reaTimeChat-presence/api/chat/v1"
	"github.com/PaulBabatuyi/reaTimeChat-presence/internal/events"
)

func TestConfig_SaveLoadAndSet(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, defaultAddress, cfg.Server.Address)
	require.True(t, cfg.Server.Insecure)

	require.NoError(t, setConfigValue(cfg, "server.address", "chat.example.com:443"))
	require.NoError(t, setConfigValue(cfg, "server.insecure", "false"))
	require.NoError(t, setConfigValue(cfg, "auth.token", "tkn"))
	require.Error(t, setConfigValue(cfg, "server", "x"))
	require.Error(t, setConfigValue(cfg, "server.port", "1"))
	require.Error(t, setConfigValue(cfg, "other.field", "1"))
	require.NoError(t, saveConfig(cfg))

	got, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, "chat.example.com:443", got.Server.Address)
	require.False(t, got.Server.Insecure)
	require.Equal(t, "tkn", got.Auth.Token)
}

func TestRenderUsers(t *testing.T) {
	color.Disable()
	var buf bytes.Buffer
	seen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	renderUsers(&buf, []v1.User{
		{ID: "u1", Name: "Alice", Email: "alice@example.com", ChatID: "c1", Online: true},
		{ID: "u2", Name: "Bob", Email: "bob@example.com", LastSeen: &seen},
	})
	out := buf.String()
	require.Contains(t, out, "Alice")
	require.Contains(t, out, "c1")
	require.Contains(t, out, "online")
	require.Contains(t, out, "last seen")
}

func TestPrintEvent(t *testing.T) {
	color.Disable()
	var buf bytes.Buffer
	printEvent(&buf, &v1.ServerEvent{Event: events.MessageSeen, Payload: []byte(`{"messageIds":["m1","m2"]}`)})
	printEvent(&buf, &v1.ServerEvent{Event: events.UnreadUpdate, Payload: []byte(`{"chatId":"c1"}`)})
	require.Equal(t, "messageSeen m1,m2 seen\nunreadUpdate {\"chatId\":\"c1\"}\n", buf.String())
}
