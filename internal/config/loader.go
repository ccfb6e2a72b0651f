package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BUSGATE_* environment variable overrides, and
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

// applyEnvOverrides reads well-known BUSGATE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Bus ──
	setStr(&cfg.Bus.Addr, "BUSGATE_BUS_ADDR")
	setStr(&cfg.Bus.Namespace, "BUSGATE_BUS_NAMESPACE")
	setInt(&cfg.Bus.PollIntervalMs, "BUSGATE_BUS_POLL_INTERVAL_MS")
	setInt(&cfg.Bus.BufferSizeBytes, "BUSGATE_BUS_BUFFER_SIZE_BYTES")
	setInt(&cfg.Bus.TagCacheSize, "BUSGATE_BUS_TAG_CACHE_SIZE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BUSGATE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BUSGATE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BUSGATE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BUSGATE_SERVER_API_KEY")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BUSGATE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BUSGATE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BUSGATE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BUSGATE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BUSGATE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BUSGATE_REDIS_TLS_ENABLED")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "BUSGATE_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "BUSGATE_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "BUSGATE_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "BUSGATE_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "BUSGATE_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "BUSGATE_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "BUSGATE_SUPABASE_SSLMODE")
	setInt(&cfg.Supabase.PoolMaxConns, "BUSGATE_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "BUSGATE_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "BUSGATE_SUPABASE_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BUSGATE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BUSGATE_S3_REGION")
	setStr(&cfg.S3.Bucket, "BUSGATE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BUSGATE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BUSGATE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BUSGATE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BUSGATE_S3_FORCE_PATH_STYLE")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "BUSGATE_LOG_LEVEL")
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
