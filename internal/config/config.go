// Package config defines the swapkeeper configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SWAPKEEPER_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	RPC      RPCConfig      `toml:"rpc"`
	Venue    VenueConfig    `toml:"venue"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Exit     ExitConfig     `toml:"exit"`
	Intake   IntakeConfig   `toml:"intake"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the signing key. Exactly one source is used: the raw
// key wins over the encrypted key file.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// EndpointConfig is one weighted upstream URL.
type EndpointConfig struct {
	URL    string `toml:"url"`
	Weight int    `toml:"weight"`
}

// RPCConfig is the chain RPC pool used for balance reads.
type RPCConfig struct {
	Endpoints         []EndpointConfig `toml:"endpoints"`
	Fallback          string           `toml:"fallback"`
	MaxErrorThreshold int              `toml:"max_error_threshold"`
	CooldownWindow    duration         `toml:"cooldown_window"`
	// MinGasBalance in native units; zero disables the pre-swap check.
	MinGasBalance decimal.Decimal `toml:"min_gas_balance"`
}

// VenueConfig is the swap aggregator pool and its API credentials.
type VenueConfig struct {
	Endpoints         []EndpointConfig `toml:"endpoints"`
	Fallback          string           `toml:"fallback"`
	MaxErrorThreshold int              `toml:"max_error_threshold"`
	CooldownWindow    duration         `toml:"cooldown_window"`
	APIKey            string           `toml:"api_key"`
	APISecret         string           `toml:"api_secret"`
	DomainName        string           `toml:"domain_name"`
	ChainID           int64            `toml:"chain_id"`
}

// GatewayConfig is the retry policy of the execution gateway.
type GatewayConfig struct {
	QuoteAsset       string          `toml:"quote_asset"`
	PriceQuoteAmount decimal.Decimal `toml:"price_quote_amount"`
	MaxRetries       int             `toml:"max_retries"`
	BackoffBase      duration        `toml:"backoff_base"`
	BackoffMax       duration        `toml:"backoff_max"`
	Timeout          duration        `toml:"timeout"`
	MaxSlippageBps   int             `toml:"max_slippage_bps"`
}

// MonitorConfig tunes the evaluation loop.
type MonitorConfig struct {
	TickInterval duration `toml:"tick_interval"`
	TickTimeout  duration `toml:"tick_timeout"`
	Concurrency  int      `toml:"concurrency"`
}

// ExitConfig holds default exit thresholds for positions that omit them.
// Percentages are fractions.
type ExitConfig struct {
	TargetProfitPct decimal.Decimal `toml:"target_profit_pct"`
	StopLossPct     decimal.Decimal `toml:"stop_loss_pct"`
	TrailingStopPct decimal.Decimal `toml:"trailing_stop_pct"`
	MaxHold         duration        `toml:"max_hold"`
}

// IntakeConfig controls the admission stream consumer and risk limits.
type IntakeConfig struct {
	Enabled          bool            `toml:"enabled"`
	Stream           string          `toml:"stream"`
	BatchSize        int             `toml:"batch_size"`
	PollInterval     duration        `toml:"poll_interval"`
	DedupTTL         duration        `toml:"dedup_ttl"`
	ReplayWindow     duration        `toml:"replay_window"`
	MaxOpenPositions int             `toml:"max_open_positions"`
	MaxEntryNotional decimal.Decimal `toml:"max_entry_notional"`
	MaxTotalNotional decimal.Decimal `toml:"max_total_notional"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PriceTTL   duration `toml:"price_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the position
// archive.
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

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPIBase   string   `toml:"telegram_api_base"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with the values documented in
// config.example.toml.
func Defaults() Config {
	return Config{
		RPC: RPCConfig{
			MaxErrorThreshold: 5,
			CooldownWindow:    duration{60 * time.Second},
		},
		Venue: VenueConfig{
			MaxErrorThreshold: 5,
			CooldownWindow:    duration{60 * time.Second},
			DomainName:        "SwapIntent",
			ChainID:           1,
		},
		Gateway: GatewayConfig{
			QuoteAsset:       "USDC",
			PriceQuoteAmount: decimal.NewFromInt(1),
			MaxRetries:       3,
			BackoffBase:      duration{time.Second},
			BackoffMax:       duration{30 * time.Second},
			Timeout:          duration{10 * time.Second},
			MaxSlippageBps:   100,
		},
		Monitor: MonitorConfig{
			TickInterval: duration{10 * time.Second},
			TickTimeout:  duration{150 * time.Second},
			Concurrency:  8,
		},
		Exit: ExitConfig{
			TargetProfitPct: decimal.RequireFromString("0.25"),
			StopLossPct:     decimal.RequireFromString("0.10"),
			TrailingStopPct: decimal.RequireFromString("0.08"),
			MaxHold:         duration{24 * time.Hour},
		},
		Intake: IntakeConfig{
			Enabled:          true,
			Stream:           "swapkeeper:admissions",
			BatchSize:        50,
			PollInterval:     duration{time.Second},
			DedupTTL:         duration{10 * time.Minute},
			ReplayWindow:     duration{time.Minute},
			MaxOpenPositions: 20,
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "swapkeeper",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			PriceTTL:   duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "swapkeeper-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   20,
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			TelegramAPIBase: "https://api.telegram.org",
			Events:          []string{"position_exited", "position_failed", "endpoint_cooldown_entered"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":   true,
	"paper":  true,
	"server": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var one = decimal.NewFromInt(1)

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	trading := mode == "live" || mode == "paper"

	// Wallet: live swaps are signed; paper mode never signs.
	if mode == "live" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode live")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if trading {
		if len(c.Venue.Endpoints) == 0 {
			errs = append(errs, "venue: at least one endpoint is required")
		}
		errs = append(errs, validateEndpoints("venue", c.Venue.Endpoints, c.Venue.MaxErrorThreshold, c.Venue.CooldownWindow.Duration)...)
		errs = append(errs, validateEndpoints("rpc", c.RPC.Endpoints, c.RPC.MaxErrorThreshold, c.RPC.CooldownWindow.Duration)...)
		if c.RPC.MinGasBalance.IsPositive() && len(c.RPC.Endpoints) == 0 {
			errs = append(errs, "rpc: endpoints are required when min_gas_balance is set")
		}
	}
	if (c.Venue.APIKey == "") != (c.Venue.APISecret == "") {
		errs = append(errs, "venue: api_key and api_secret must be set together")
	}

	// Gateway
	if c.Gateway.QuoteAsset == "" {
		errs = append(errs, "gateway: quote_asset must not be empty")
	}
	if !c.Gateway.PriceQuoteAmount.IsPositive() {
		errs = append(errs, "gateway: price_quote_amount must be > 0")
	}
	if c.Gateway.MaxRetries < 0 {
		errs = append(errs, "gateway: max_retries must be >= 0")
	}
	if c.Gateway.BackoffBase.Duration <= 0 || c.Gateway.BackoffMax.Duration < c.Gateway.BackoffBase.Duration {
		errs = append(errs, "gateway: backoff_base must be > 0 and backoff_max >= backoff_base")
	}
	if c.Gateway.Timeout.Duration <= 0 {
		errs = append(errs, "gateway: timeout must be > 0")
	}
	if c.Gateway.MaxSlippageBps < 0 || c.Gateway.MaxSlippageBps > 10_000 {
		errs = append(errs, fmt.Sprintf("gateway: max_slippage_bps must be 0-10000, got %d", c.Gateway.MaxSlippageBps))
	}

	// Monitor
	if c.Monitor.TickInterval.Duration <= 0 {
		errs = append(errs, "monitor: tick_interval must be > 0")
	}
	if c.Monitor.Concurrency < 1 {
		errs = append(errs, "monitor: concurrency must be >= 1")
	}

	// Exit defaults
	if !c.Exit.TargetProfitPct.IsPositive() {
		errs = append(errs, "exit: target_profit_pct must be > 0")
	}
	if !c.Exit.StopLossPct.IsPositive() || c.Exit.StopLossPct.GreaterThanOrEqual(one) {
		errs = append(errs, "exit: stop_loss_pct must be in (0, 1)")
	}
	if c.Exit.TrailingStopPct.IsNegative() || c.Exit.TrailingStopPct.GreaterThanOrEqual(one) {
		errs = append(errs, "exit: trailing_stop_pct must be in [0, 1)")
	}
	if c.Exit.MaxHold.Duration < 0 {
		errs = append(errs, "exit: max_hold must not be negative")
	}

	// Intake
	if c.Intake.Enabled && trading {
		if !c.Redis.Enabled {
			errs = append(errs, "intake: requires redis.enabled")
		}
		if c.Intake.Stream == "" {
			errs = append(errs, "intake: stream must not be empty")
		}
		if c.Intake.BatchSize < 1 {
			errs = append(errs, "intake: batch_size must be >= 1")
		}
	}
	if c.Intake.MaxOpenPositions < 0 {
		errs = append(errs, "intake: max_open_positions must be >= 0")
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
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

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled || mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateEndpoints(section string, eps []EndpointConfig, threshold int, cooldown time.Duration) []string {
	var errs []string
	seen := make(map[string]bool, len(eps))
	for i, ep := range eps {
		if ep.URL == "" {
			errs = append(errs, fmt.Sprintf("%s: endpoints[%d].url must not be empty", section, i))
		}
		if ep.Weight <= 0 {
			errs = append(errs, fmt.Sprintf("%s: endpoints[%d].weight must be > 0", section, i))
		}
		if seen[ep.URL] {
			errs = append(errs, fmt.Sprintf("%s: duplicate endpoint %s", section, redactURL(ep.URL)))
		}
		seen[ep.URL] = true
	}
	if threshold < 1 {
		errs = append(errs, section+": max_error_threshold must be >= 1")
	}
	if cooldown <= 0 {
		errs = append(errs, section+": cooldown_window must be > 0")
	}
	return errs
}
