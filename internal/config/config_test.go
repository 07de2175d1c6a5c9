package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileEnvAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livebid.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "api"

[auction]
bid_limit = 3
bid_window = "30s"

[fanout]
node_id = "node-from-file"
heartbeat_interval = "5s"

[notify]
events = ["bid_accepted", "auction_ended"]
`), 0o600))

	t.Setenv("LIVEBID_FANOUT_NODE_ID", "node-from-env")
	t.Setenv("LIVEBID_NOTIFY_WEBHOOK_URLS", " https://a.example/hook , ,https://b.example/hook")
	t.Setenv("LIVEBID_AUCTION_STORE_TIMEOUT", "2s")
	t.Setenv("LIVEBID_SERVER_PORT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "api", cfg.Mode)
	require.Equal(t, 3, cfg.Auction.BidLimit)
	require.Equal(t, 30*time.Second, cfg.Auction.BidWindow.Duration)
	require.Equal(t, 2*time.Second, cfg.Auction.StoreTimeout.Duration)
	require.Equal(t, 5*time.Second, cfg.Fanout.HeartbeatInterval.Duration)
	require.Equal(t, 60*time.Second, cfg.Fanout.PresenceTTL.Duration, "untouched keys keep their defaults")
	require.Equal(t, "node-from-env", cfg.Fanout.NodeID)
	require.Equal(t, []string{"https://a.example/hook", "https://b.example/hook"}, cfg.Notify.WebhookURLs)
	require.Equal(t, []string{"bid_accepted", "auction_ended"}, cfg.Notify.Events)
	require.Equal(t, 8080, cfg.Server.Port, "unparseable overrides are ignored")
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, "full", cfg.Mode)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = "), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Store.Driver = "sqlite"
	cfg.Fanout.PresenceTTL = duration{time.Second}
	cfg.Fanout.CodecKey = "abcd"
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown driver "sqlite"`,
		"presence_ttl must exceed heartbeat_interval",
		"codec_key must be 64 hex characters",
		"telegram_token and telegram_chat_id",
	} {
		require.ErrorContains(t, err, want)
	}
}

func TestValidate_MemoryDriverNeedsFullMode(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "memory"
	require.NoError(t, cfg.Validate())

	cfg.Mode = "api"
	require.ErrorContains(t, cfg.Validate(), "requires mode full")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-secret"
	cfg.Server.APIKey = "api-secret"
	cfg.Fanout.CodecKey = "00112233"
	cfg.Notify.WebhookURLs = []string{"https://hooks.example/x?token=abc", "https://plain.example/y"}

	out := RedactedConfig(&cfg)
	require.Equal(t, "***", out.Postgres.Password)
	require.Equal(t, "***", out.Server.APIKey)
	require.Equal(t, "***", out.Fanout.CodecKey)
	require.Empty(t, out.Redis.Password, "empty secrets stay empty")
	require.Equal(t, []string{"https://hooks.example/x?***", "https://plain.example/y"}, out.Notify.WebhookURLs)

	out.Server.CORSOrigins[0] = "mutated"
	require.Equal(t, "pg-secret", cfg.Postgres.Password)
	require.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
