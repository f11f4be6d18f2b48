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
// built-in defaults, applies BETCHAIN_* environment variable overrides, and
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

// applyEnvOverrides reads well-known BETCHAIN_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "BETCHAIN_CHAIN_RPC_URL")
	setStr(&cfg.Chain.ContractAddress, "BETCHAIN_CHAIN_CONTRACT_ADDRESS")
	setInt64(&cfg.Chain.ChainID, "BETCHAIN_CHAIN_ID")
	setStr(&cfg.Chain.PrivateKey, "BETCHAIN_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "BETCHAIN_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "BETCHAIN_CHAIN_KEY_PASSWORD")
	setDuration(&cfg.Chain.PollInterval, "BETCHAIN_CHAIN_POLL_INTERVAL")
	setDuration(&cfg.Chain.ConfirmTimeout, "BETCHAIN_CHAIN_CONFIRM_TIMEOUT")
	setUint64(&cfg.Chain.GasLimitCap, "BETCHAIN_CHAIN_GAS_LIMIT_CAP")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BETCHAIN_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BETCHAIN_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BETCHAIN_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BETCHAIN_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BETCHAIN_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BETCHAIN_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BETCHAIN_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BETCHAIN_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BETCHAIN_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BETCHAIN_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BETCHAIN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BETCHAIN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BETCHAIN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BETCHAIN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BETCHAIN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BETCHAIN_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BETCHAIN_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BETCHAIN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BETCHAIN_S3_REGION")
	setStr(&cfg.S3.Bucket, "BETCHAIN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BETCHAIN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BETCHAIN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BETCHAIN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BETCHAIN_S3_FORCE_PATH_STYLE")

	// ── Settlement ──
	setInt(&cfg.Settlement.FeeRateBps, "BETCHAIN_SETTLEMENT_FEE_RATE_BPS")
	setDuration(&cfg.Settlement.LockTTL, "BETCHAIN_SETTLEMENT_LOCK_TTL")

	// ── Server ──
	setInt(&cfg.Server.Port, "BETCHAIN_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BETCHAIN_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminAPIKey, "BETCHAIN_SERVER_ADMIN_API_KEY")

	// ── Reconcile ──
	setBool(&cfg.Reconcile.Enabled, "BETCHAIN_RECONCILE_ENABLED")
	setDuration(&cfg.Reconcile.Interval, "BETCHAIN_RECONCILE_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "BETCHAIN_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
