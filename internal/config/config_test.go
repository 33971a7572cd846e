package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nyl/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.ListenAddr)
	require.Equal(t, BackendFile, cfg.Settings.Backend)
	require.Equal(t, "settings.yaml", cfg.Settings.Path)
	require.Equal(t, 30*time.Second, cfg.Status.HeartbeatInterval)
	require.Equal(t, 32, cfg.Server.OutboxSize)
	require.Equal(t, "nyl:status", cfg.Redis.Channel)
	require.False(t, cfg.UsesAWS())

	lvl, err := cfg.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, lvl)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
device_name: kitchen
log_level: debug
server:
  listen_addr: ":9000"
settings:
  backend: dynamodb
  dynamodb_table: nyl-settings
  device_id: kitchen-01
secrets:
  ssm_prefix: /nyl/kitchen
status:
  heartbeat_interval: 5s
ai:
  provider: cloud
  cloud_model: claude-a
`)
	t.Setenv("NYL_SERVER_LISTEN_ADDR", ":9100")
	t.Setenv("NYL_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "kitchen", cfg.DeviceName)
	require.Equal(t, ":9100", cfg.Server.ListenAddr)
	require.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	require.Equal(t, BackendDynamoDB, cfg.Settings.Backend)
	require.Equal(t, "kitchen-01", cfg.Settings.DeviceID)
	require.Equal(t, 5*time.Second, cfg.Status.HeartbeatInterval)
	require.True(t, cfg.UsesAWS())

	lvl, err := cfg.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, lvl)

	defaults := cfg.ProviderDefaults()
	require.Equal(t, domain.ProviderCloud, defaults.ActiveProvider)
	require.Equal(t, "claude-a", defaults.Cloud.SelectedModel)
	require.Equal(t, int64(1024), defaults.Cloud.MaxTokens)
	require.True(t, defaults.AIEnabled)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown backend":  "settings:\n  backend: etcd\n",
		"dynamo no table":  "settings:\n  backend: dynamodb\n",
		"unknown provider": "ai:\n  provider: openai\n",
		"bad log level":    "log_level: loud\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
