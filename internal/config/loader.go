package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SWAPKEEPER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
//
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SWAPKEEPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SWAPKEEPER_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SWAPKEEPER_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SWAPKEEPER_WALLET_KEY_PASSWORD")

	// ── RPC ──
	setEndpoints(&cfg.RPC.Endpoints, "SWAPKEEPER_RPC_ENDPOINTS")
	setStr(&cfg.RPC.Fallback, "SWAPKEEPER_RPC_FALLBACK")
	setInt(&cfg.RPC.MaxErrorThreshold, "SWAPKEEPER_RPC_MAX_ERROR_THRESHOLD")
	setDuration(&cfg.RPC.CooldownWindow, "SWAPKEEPER_RPC_COOLDOWN_WINDOW")
	setDecimal(&cfg.RPC.MinGasBalance, "SWAPKEEPER_RPC_MIN_GAS_BALANCE")

	// ── Venue ──
	setEndpoints(&cfg.Venue.Endpoints, "SWAPKEEPER_VENUE_ENDPOINTS")
	setStr(&cfg.Venue.Fallback, "SWAPKEEPER_VENUE_FALLBACK")
	setInt(&cfg.Venue.MaxErrorThreshold, "SWAPKEEPER_VENUE_MAX_ERROR_THRESHOLD")
	setDuration(&cfg.Venue.CooldownWindow, "SWAPKEEPER_VENUE_COOLDOWN_WINDOW")
	setStr(&cfg.Venue.APIKey, "SWAPKEEPER_VENUE_API_KEY")
	setStr(&cfg.Venue.APISecret, "SWAPKEEPER_VENUE_API_SECRET")
	setStr(&cfg.Venue.DomainName, "SWAPKEEPER_VENUE_DOMAIN_NAME")
	setInt64(&cfg.Venue.ChainID, "SWAPKEEPER_VENUE_CHAIN_ID")

	// ── Gateway ──
	setStr(&cfg.Gateway.QuoteAsset, "SWAPKEEPER_GATEWAY_QUOTE_ASSET")
	setDecimal(&cfg.Gateway.PriceQuoteAmount, "SWAPKEEPER_GATEWAY_PRICE_QUOTE_AMOUNT")
	setInt(&cfg.Gateway.MaxRetries, "SWAPKEEPER_GATEWAY_MAX_RETRIES")
	setDuration(&cfg.Gateway.BackoffBase, "SWAPKEEPER_GATEWAY_BACKOFF_BASE")
	setDuration(&cfg.Gateway.BackoffMax, "SWAPKEEPER_GATEWAY_BACKOFF_MAX")
	setDuration(&cfg.Gateway.Timeout, "SWAPKEEPER_GATEWAY_TIMEOUT")
	setInt(&cfg.Gateway.MaxSlippageBps, "SWAPKEEPER_GATEWAY_MAX_SLIPPAGE_BPS")

	// ── Monitor ──
	setDuration(&cfg.Monitor.TickInterval, "SWAPKEEPER_MONITOR_TICK_INTERVAL")
	setDuration(&cfg.Monitor.TickTimeout, "SWAPKEEPER_MONITOR_TICK_TIMEOUT")
	setInt(&cfg.Monitor.Concurrency, "SWAPKEEPER_MONITOR_CONCURRENCY")

	// ── Exit defaults ──
	setDecimal(&cfg.Exit.TargetProfitPct, "SWAPKEEPER_EXIT_TARGET_PROFIT_PCT")
	setDecimal(&cfg.Exit.StopLossPct, "SWAPKEEPER_EXIT_STOP_LOSS_PCT")
	setDecimal(&cfg.Exit.TrailingStopPct, "SWAPKEEPER_EXIT_TRAILING_STOP_PCT")
	setDuration(&cfg.Exit.MaxHold, "SWAPKEEPER_EXIT_MAX_HOLD")

	// ── Intake ──
	setBool(&cfg.Intake.Enabled, "SWAPKEEPER_INTAKE_ENABLED")
	setStr(&cfg.Intake.Stream, "SWAPKEEPER_INTAKE_STREAM")
	setInt(&cfg.Intake.BatchSize, "SWAPKEEPER_INTAKE_BATCH_SIZE")
	setDuration(&cfg.Intake.PollInterval, "SWAPKEEPER_INTAKE_POLL_INTERVAL")
	setDuration(&cfg.Intake.DedupTTL, "SWAPKEEPER_INTAKE_DEDUP_TTL")
	setDuration(&cfg.Intake.ReplayWindow, "SWAPKEEPER_INTAKE_REPLAY_WINDOW")
	setInt(&cfg.Intake.MaxOpenPositions, "SWAPKEEPER_INTAKE_MAX_OPEN_POSITIONS")
	setDecimal(&cfg.Intake.MaxEntryNotional, "SWAPKEEPER_INTAKE_MAX_ENTRY_NOTIONAL")
	setDecimal(&cfg.Intake.MaxTotalNotional, "SWAPKEEPER_INTAKE_MAX_TOTAL_NOTIONAL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SWAPKEEPER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SWAPKEEPER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SWAPKEEPER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SWAPKEEPER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SWAPKEEPER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SWAPKEEPER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SWAPKEEPER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SWAPKEEPER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SWAPKEEPER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SWAPKEEPER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SWAPKEEPER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SWAPKEEPER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SWAPKEEPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SWAPKEEPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SWAPKEEPER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SWAPKEEPER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SWAPKEEPER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SWAPKEEPER_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "SWAPKEEPER_REDIS_PRICE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SWAPKEEPER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SWAPKEEPER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SWAPKEEPER_S3_REGION")
	setStr(&cfg.S3.Bucket, "SWAPKEEPER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SWAPKEEPER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SWAPKEEPER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SWAPKEEPER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SWAPKEEPER_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SWAPKEEPER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SWAPKEEPER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SWAPKEEPER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SWAPKEEPER_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SWAPKEEPER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SWAPKEEPER_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramAPIBase, "SWAPKEEPER_NOTIFY_TELEGRAM_API_BASE")
	setStr(&cfg.Notify.TelegramToken, "SWAPKEEPER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SWAPKEEPER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SWAPKEEPER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SWAPKEEPER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SWAPKEEPER_MODE")
	setStr(&cfg.LogLevel, "SWAPKEEPER_LOG_LEVEL")
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

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
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

// setEndpoints parses "url|weight,url|weight". A missing weight means 1.
// The whole variable is ignored when any entry has a malformed weight.
func setEndpoints(dst *[]EndpointConfig, key string) {
	var raw []string
	setStringSlice(&raw, key)
	if len(raw) == 0 {
		return
	}
	out := make([]EndpointConfig, 0, len(raw))
	for _, entry := range raw {
		url, weight, found := strings.Cut(entry, "|")
		ep := EndpointConfig{URL: strings.TrimSpace(url), Weight: 1}
		if found {
			n, err := strconv.Atoi(strings.TrimSpace(weight))
			if err != nil {
				return
			}
			ep.Weight = n
		}
		out = append(out, ep)
	}
	*dst = out
}
