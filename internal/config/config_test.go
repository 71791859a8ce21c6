package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// isolate points RELAY_HOME at a temp dir and clears every variable Load
// reads.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	for _, name := range []string{
		"RELAY_SERVER_URL", "BINA_SERVER_URL", "RELAY_TRANSPORT", "RELAY_UPGRADE_PATH",
		"RELAY_TOPIC", "RELAY_PROFILE", "RELAY_STORE", "RELAY_STORE_PATH",
		"RELAY_REDIS_ADDR", "RELAY_DASHBOARD_ADDR", "RELAY_PORTAL_BASE",
		"RELAY_PUSHOVER_TOKEN", "PUSHOVER_TOKEN", "RELAY_PUSHOVER_USER", "PUSHOVER_USER",
		"RELAY_LOG_LEVEL", "DEBUG", "RELAY_DEBUG", "RELAY_RECONNECT_DELAY",
		"RELAY_HEARTBEAT", "RELAY_PUSHOVER_COOLDOWN", "RELAY_CONFIG",
	} {
		t.Setenv(name, "")
	}
	t.Setenv("RELAY_HOME", home)
	return home
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, DefaultServerURL, cfg.ServerURL)
	require.Equal(t, TransportStomp, cfg.Transport)
	require.Equal(t, ProfileExtension, cfg.Profile)
	require.Equal(t, 30*time.Second, cfg.ReconnectDelay)
	require.Equal(t, StoreSQLite, cfg.Store)
	require.Equal(t, filepath.Join(home, "relay.db"), cfg.StorePath)
	require.Empty(t, cfg.File)
	require.False(t, cfg.Debug)
	require.False(t, cfg.PushoverEnabled())
}

func TestLoadDashboardProfile(t *testing.T) {
	isolate(t)
	t.Setenv("RELAY_PROFILE", "Dashboard")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ProfileDashboard, cfg.Profile)
	require.Equal(t, 5*time.Second, cfg.ReconnectDelay)
}

func TestLoadFileThenEnv(t *testing.T) {
	home := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(`
server_url: https://file.example
transport: socketio
reconnect_delay: 12s
heartbeat: "-1"
store: memory
pushover_token: tok
pushover_user: usr
pushover_cooldown: 1m
debug: true
`), 0600))
	t.Setenv("RELAY_SERVER_URL", "https://env.example")
	t.Setenv("RELAY_RECONNECT_DELAY", "7")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "config.yaml"), cfg.File)
	require.Equal(t, "https://env.example", cfg.ServerURL)
	require.Equal(t, TransportSocketIO, cfg.Transport)
	require.Equal(t, 7*time.Second, cfg.ReconnectDelay)
	require.Equal(t, -1*time.Second, cfg.HeartBeat)
	require.Equal(t, StoreMemory, cfg.Store)
	require.Equal(t, time.Minute, cfg.PushoverCooldown)
	require.True(t, cfg.Debug)
	require.True(t, cfg.PushoverEnabled())
}

func TestLoadExplicitConfigMustExist(t *testing.T) {
	home := isolate(t)
	t.Setenv("RELAY_CONFIG", filepath.Join(home, "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"RELAY_TRANSPORT":       "carrier-pigeon",
		"RELAY_PROFILE":         "kiosk",
		"RELAY_STORE":           "floppy",
		"RELAY_RECONNECT_DELAY": "soon",
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			isolate(t)
			t.Setenv(name, value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoadRedisDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("RELAY_STORE", "redis")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "localhost:6379", cfg.RedisAddr)
	require.Empty(t, cfg.StorePath)
}

func TestProfileDelay(t *testing.T) {
	require.Equal(t, 30*time.Second, ProfileDelay("extension"))
	require.Equal(t, 5*time.Second, ProfileDelay("DASHBOARD"))
	require.Zero(t, ProfileDelay("other"))
}
