// Package config defines the top-level configuration for the koilive engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by KOILIVE_* environment variables.
type Config struct {
	Marketplace MarketplaceConfig `toml:"marketplace"`
	Watch       WatchConfig       `toml:"watch"`
	Redis       RedisConfig       `toml:"redis"`
	Postgres    PostgresConfig    `toml:"postgres"`
	S3          S3Config          `toml:"s3"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// MarketplaceConfig holds the auction marketplace endpoints and session
// credentials.
type MarketplaceConfig struct {
	APIHost      string `toml:"api_host"`
	WSHost       string `toml:"ws_host"`
	SessionToken string `toml:"session_token"`
	UserID       string `toml:"user_id"`
}

// WatchConfig holds the live-watch tunables.
type WatchConfig struct {
	// Auctions are joined at startup and re-joined after every reconnect.
	Auctions []string `toml:"auctions"`
	// BidTimeout bounds how long a submitted bid may stay unconfirmed
	// before it is rolled back.
	BidTimeout duration `toml:"bid_timeout"`
	// PullTimeout bounds each authoritative participants pull.
	PullTimeout duration `toml:"pull_timeout"`
	// CountdownInterval is how often countdown signals are published.
	CountdownInterval duration `toml:"countdown_interval"`
	// SnapshotTTL is how long cached leaderboard snapshots stay readable.
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters for the audit stores.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
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

// ArchiveConfig controls the cold-storage sweep of settled auctions.
type ArchiveConfig struct {
	Enabled bool `toml:"enabled"`
	// RetentionDays is how long settled auction history stays in Postgres
	// before the sweep moves it to object storage.
	RetentionDays int `toml:"retention_days"`
	// Interval is how often the sweep runs in archive and full modes.
	Interval duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds the operator HTTP/WebSocket server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// BidRateLimit caps bid placements per client IP per BidRateWindow.
	// Zero disables the limiter.
	BidRateLimit  int      `toml:"bid_rate_limit"`
	BidRateWindow duration `toml:"bid_rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Marketplace: MarketplaceConfig{
			APIHost: "https://api.plutokoi.com",
			WSHost:  "wss://api.plutokoi.com/socket",
		},
		Watch: WatchConfig{
			Auctions:          []string{},
			BidTimeout:        duration{10 * time.Second},
			PullTimeout:       duration{15 * time.Second},
			CountdownInterval: duration{time.Second},
			SnapshotTTL:       duration{24 * time.Hour},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "koilive",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "koilive-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{6 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			BidRateLimit:  5,
			BidRateWindow: duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"outbid", "auction_ended", "bid_result", "connection"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"watch":   true,
	"record":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: watch, record, archive, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Marketplace — every mode except the pure archive sweep talks to the
	// marketplace, so the endpoints and session are required.
	needsMarketplace := c.Mode != "archive"
	if needsMarketplace {
		if c.Marketplace.APIHost == "" {
			errs = append(errs, "marketplace: api_host must not be empty")
		}
		if c.Marketplace.WSHost == "" {
			errs = append(errs, "marketplace: ws_host must not be empty")
		}
		if c.Marketplace.SessionToken == "" {
			errs = append(errs, "marketplace: session_token is required for mode "+c.Mode)
		}
		if c.Marketplace.UserID == "" {
			errs = append(errs, "marketplace: user_id must not be empty")
		}
	}

	// Watch
	if c.Watch.BidTimeout.Duration <= 0 {
		errs = append(errs, "watch: bid_timeout must be > 0")
	}
	if c.Watch.PullTimeout.Duration <= 0 {
		errs = append(errs, "watch: pull_timeout must be > 0")
	}
	if c.Watch.CountdownInterval.Duration <= 0 {
		errs = append(errs, "watch: countdown_interval must be > 0")
	}

	// Record mode persists everything, so the audit stores are not optional.
	if c.Mode == "record" && !c.Postgres.Enabled {
		errs = append(errs, "postgres: must be enabled for record mode")
	}
	if c.Mode == "archive" && (!c.Postgres.Enabled || !c.S3.Enabled) {
		errs = append(errs, "archive mode requires both postgres and s3 to be enabled")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// The archive sweep depends on both ends of the pipe.
	if c.Archive.Enabled {
		if !c.Postgres.Enabled || !c.S3.Enabled {
			errs = append(errs, "archive: requires both postgres and s3 to be enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.BidRateLimit < 0 {
			errs = append(errs, "server: bid_rate_limit must be >= 0")
		}
	}

	// Notify — Telegram credentials come in pairs.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
