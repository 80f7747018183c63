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
// built-in defaults, applies DEEDMARKET_* environment variable overrides, and
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

// applyEnvOverrides reads well-known DEEDMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DEEDMARKET_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DEEDMARKET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEEDMARKET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEEDMARKET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEEDMARKET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEEDMARKET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEEDMARKET_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEEDMARKET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEEDMARKET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEEDMARKET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DEEDMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEEDMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEEDMARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEEDMARKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEEDMARKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEEDMARKET_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "DEEDMARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEEDMARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEEDMARKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEEDMARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEEDMARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DEEDMARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DEEDMARKET_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DEEDMARKET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DEEDMARKET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DEEDMARKET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DEEDMARKET_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "DEEDMARKET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "DEEDMARKET_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEEDMARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEEDMARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEEDMARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DEEDMARKET_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "DEEDMARKET_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "DEEDMARKET_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "DEEDMARKET_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.LockTTL, "DEEDMARKET_ARCHIVE_LOCK_TTL")

	// ── Cache ──
	setDuration(&cfg.Cache.PropertyTTL, "DEEDMARKET_CACHE_PROPERTY_TTL")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEEDMARKET_MODE")
	setStr(&cfg.LogLevel, "DEEDMARKET_LOG_LEVEL")
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
