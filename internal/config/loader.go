package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies KOILIVE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known KOILIVE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Marketplace ──
	setStr(&cfg.Marketplace.APIHost, "KOILIVE_MARKETPLACE_API_HOST")
	setStr(&cfg.Marketplace.WSHost, "KOILIVE_MARKETPLACE_WS_HOST")
	setStr(&cfg.Marketplace.SessionToken, "KOILIVE_MARKETPLACE_SESSION_TOKEN")
	setStr(&cfg.Marketplace.UserID, "KOILIVE_MARKETPLACE_USER_ID")

	// ── Watch ──
	setStringSlice(&cfg.Watch.Auctions, "KOILIVE_WATCH_AUCTIONS")
	setDuration(&cfg.Watch.BidTimeout, "KOILIVE_WATCH_BID_TIMEOUT")
	setDuration(&cfg.Watch.PullTimeout, "KOILIVE_WATCH_PULL_TIMEOUT")
	setDuration(&cfg.Watch.CountdownInterval, "KOILIVE_WATCH_COUNTDOWN_INTERVAL")
	setDuration(&cfg.Watch.SnapshotTTL, "KOILIVE_WATCH_SNAPSHOT_TTL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "KOILIVE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "KOILIVE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "KOILIVE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "KOILIVE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "KOILIVE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "KOILIVE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "KOILIVE_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "KOILIVE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "KOILIVE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "KOILIVE_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "KOILIVE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "KOILIVE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "KOILIVE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "KOILIVE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "KOILIVE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "KOILIVE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "KOILIVE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "KOILIVE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "KOILIVE_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "KOILIVE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "KOILIVE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "KOILIVE_S3_REGION")
	setStr(&cfg.S3.Bucket, "KOILIVE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "KOILIVE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "KOILIVE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "KOILIVE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "KOILIVE_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "KOILIVE_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "KOILIVE_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "KOILIVE_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "KOILIVE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "KOILIVE_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "KOILIVE_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "KOILIVE_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.BidRateLimit, "KOILIVE_SERVER_BID_RATE_LIMIT")
	setDuration(&cfg.Server.BidRateWindow, "KOILIVE_SERVER_BID_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "KOILIVE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KOILIVE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KOILIVE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KOILIVE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "KOILIVE_MODE")
	setStr(&cfg.LogLevel, "KOILIVE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
