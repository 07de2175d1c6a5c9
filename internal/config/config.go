// Package config defines the livebid node configuration and its validation.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by LIVEBID_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	NATS     NATSConfig     `toml:"nats"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Auction  AuctionConfig  `toml:"auction"`
	Fanout   FanoutConfig   `toml:"fanout"`
	Server   ServerConfig   `toml:"server"`
	Store    StoreConfig    `toml:"store"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds the shared store connection parameters.
type PostgresConfig struct {
	DSN           string   `toml:"dsn"`
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	Database      string   `toml:"database"`
	User          string   `toml:"user"`
	Password      string   `toml:"password"`
	SSLMode       string   `toml:"ssl_mode"`
	PoolMaxConns  int      `toml:"pool_max_conns"`
	PoolMinConns  int      `toml:"pool_min_conns"`
	ConnLifetime  duration `toml:"conn_lifetime"`
	RunMigrations bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// NATSConfig enables the JetStream collaborator feed.
type NATSConfig struct {
	Enabled      bool     `toml:"enabled"`
	URL          string   `toml:"url"`
	StreamMaxAge duration `toml:"stream_max_age"`
}

// S3Config holds the settlement archive bucket.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds collaborator webhook and chat channel credentials.
type NotifyConfig struct {
	WebhookURLs       []string `toml:"webhook_urls"`
	WebhookToken      string   `toml:"webhook_token"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// AuctionConfig tunes bid acceptance and the lifecycle sweeper.
type AuctionConfig struct {
	BidLimit      int      `toml:"bid_limit"`
	BidWindow     duration `toml:"bid_window"`
	StoreTimeout  duration `toml:"store_timeout"`
	RoomGrace     duration `toml:"room_grace"`
	SweepInterval duration `toml:"sweep_interval"`
	SweepBatch    int      `toml:"sweep_batch"`
	LockTTL       duration `toml:"lock_ttl"`
	EventBuffer   int      `toml:"event_buffer"`
}

// FanoutConfig tunes presence and cross-node delivery. An empty NodeID is
// replaced by a random one at startup.
type FanoutConfig struct {
	NodeID            string   `toml:"node_id"`
	HeartbeatInterval duration `toml:"heartbeat_interval"`
	PresenceTTL       duration `toml:"presence_ttl"`
	ClientTTL         duration `toml:"client_ttl"`
	// CodecKey, when set, is a hex 32-byte key sealing pub/sub payloads.
	CodecKey string `toml:"codec_key"`
}

// ServerConfig holds HTTP and WebSocket parameters.
type ServerConfig struct {
	Port          int      `toml:"port"`
	CORSOrigins   []string `toml:"cors_origins"`
	APIKey        string   `toml:"api_key"`
	RequestLimit  int      `toml:"request_limit"`
	RequestWindow duration `toml:"request_window"`
	ConnectLimit  int      `toml:"connect_limit"`
	ConnectWindow duration `toml:"connect_window"`
}

// StoreConfig selects the shared store driver.
type StoreConfig struct {
	Driver string `toml:"driver"` // "postgres" or "memory"
}

// duration wraps time.Duration so TOML strings like "20s" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config suitable for a single local node.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "livebid",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  20,
			PoolMinConns:  2,
			ConnLifetime:  duration{30 * time.Minute},
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   50,
			MaxRetries: 3,
		},
		NATS: NATSConfig{
			URL:          "nats://localhost:4222",
			StreamMaxAge: duration{7 * 24 * time.Hour},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "livebid-archive",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"auction_ended"},
		},
		Auction: AuctionConfig{
			BidLimit:      10,
			BidWindow:     duration{time.Minute},
			StoreTimeout:  duration{5 * time.Second},
			RoomGrace:     duration{24 * time.Hour},
			SweepInterval: duration{time.Second},
			SweepBatch:    100,
			LockTTL:       duration{10 * time.Second},
			EventBuffer:   1024,
		},
		Fanout: FanoutConfig{
			HeartbeatInterval: duration{20 * time.Second},
			PresenceTTL:       duration{60 * time.Second},
			ClientTTL:         duration{300 * time.Second},
		},
		Server: ServerConfig{
			Port:          8080,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			RequestLimit:  120,
			RequestWindow: duration{time.Minute},
			ConnectLimit:  20,
			ConnectWindow: duration{time.Minute},
		},
		Store: StoreConfig{
			Driver: "postgres",
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"api":     true,
	"sweeper": true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, sweeper, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	switch c.Store.Driver {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "memory":
		if strings.ToLower(c.Mode) != "full" {
			errs = append(errs, "store: the memory driver is single-node and requires mode full")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, memory)", c.Store.Driver))
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats: url must not be empty when enabled")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	a := c.Auction
	if a.BidLimit < 0 {
		errs = append(errs, "auction: bid_limit must be >= 0")
	}
	if a.BidLimit > 0 && a.BidWindow.Duration <= 0 {
		errs = append(errs, "auction: bid_window must be > 0 when bid_limit is set")
	}
	if a.StoreTimeout.Duration <= 0 {
		errs = append(errs, "auction: store_timeout must be > 0")
	}
	if a.SweepInterval.Duration <= 0 {
		errs = append(errs, "auction: sweep_interval must be > 0")
	}
	if a.LockTTL.Duration < a.SweepInterval.Duration {
		errs = append(errs, "auction: lock_ttl must be >= sweep_interval")
	}
	if a.RoomGrace.Duration < 0 {
		errs = append(errs, "auction: room_grace must be >= 0")
	}

	f := c.Fanout
	if f.HeartbeatInterval.Duration <= 0 {
		errs = append(errs, "fanout: heartbeat_interval must be > 0")
	}
	if f.PresenceTTL.Duration <= f.HeartbeatInterval.Duration {
		errs = append(errs, "fanout: presence_ttl must exceed heartbeat_interval")
	}
	if f.ClientTTL.Duration <= f.HeartbeatInterval.Duration {
		errs = append(errs, "fanout: client_ttl must exceed heartbeat_interval")
	}
	if f.CodecKey != "" {
		if raw, err := hex.DecodeString(f.CodecKey); err != nil || len(raw) != 32 {
			errs = append(errs, "fanout: codec_key must be 64 hex characters")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RequestLimit > 0 && c.Server.RequestWindow.Duration <= 0 {
		errs = append(errs, "server: request_window must be > 0 when request_limit is set")
	}
	if c.Server.ConnectLimit > 0 && c.Server.ConnectWindow.Duration <= 0 {
		errs = append(errs, "server: connect_window must be > 0 when connect_limit is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
