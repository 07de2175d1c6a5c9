package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults and applies LIVEBID_*
// environment overrides. An empty path or a missing file leaves the
// defaults in place. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Postgres
	setStr(&cfg.Postgres.DSN, "LIVEBID_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LIVEBID_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LIVEBID_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LIVEBID_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LIVEBID_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LIVEBID_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LIVEBID_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LIVEBID_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LIVEBID_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LIVEBID_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setStr(&cfg.Redis.Addr, "LIVEBID_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LIVEBID_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LIVEBID_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LIVEBID_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "LIVEBID_REDIS_TLS_ENABLED")

	// NATS
	setBool(&cfg.NATS.Enabled, "LIVEBID_NATS_ENABLED")
	setStr(&cfg.NATS.URL, "LIVEBID_NATS_URL")

	// S3
	setBool(&cfg.S3.Enabled, "LIVEBID_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LIVEBID_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LIVEBID_S3_REGION")
	setStr(&cfg.S3.Bucket, "LIVEBID_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LIVEBID_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LIVEBID_S3_SECRET_KEY")

	// Notify
	setStringSlice(&cfg.Notify.WebhookURLs, "LIVEBID_NOTIFY_WEBHOOK_URLS")
	setStr(&cfg.Notify.WebhookToken, "LIVEBID_NOTIFY_WEBHOOK_TOKEN")
	setStr(&cfg.Notify.TelegramToken, "LIVEBID_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LIVEBID_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LIVEBID_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LIVEBID_NOTIFY_EVENTS")

	// Auction
	setInt(&cfg.Auction.BidLimit, "LIVEBID_AUCTION_BID_LIMIT")
	setDuration(&cfg.Auction.BidWindow, "LIVEBID_AUCTION_BID_WINDOW")
	setDuration(&cfg.Auction.StoreTimeout, "LIVEBID_AUCTION_STORE_TIMEOUT")
	setDuration(&cfg.Auction.SweepInterval, "LIVEBID_AUCTION_SWEEP_INTERVAL")

	// Fanout
	setStr(&cfg.Fanout.NodeID, "LIVEBID_FANOUT_NODE_ID")
	setStr(&cfg.Fanout.CodecKey, "LIVEBID_FANOUT_CODEC_KEY")

	// Server
	setInt(&cfg.Server.Port, "LIVEBID_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "LIVEBID_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "LIVEBID_SERVER_CORS_ORIGINS")

	setStr(&cfg.Store.Driver, "LIVEBID_STORE_DRIVER")
	setStr(&cfg.Mode, "LIVEBID_MODE")
	setStr(&cfg.LogLevel, "LIVEBID_LOG_LEVEL")
}

// Each helper only touches dst when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
