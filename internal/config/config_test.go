package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func validLive() Config {
	cfg := Defaults()
	cfg.Mode = "live"
	cfg.Wallet.PrivateKey = "0xabc"
	cfg.Venue.Endpoints = []EndpointConfig{
		{URL: "https://a.example", Weight: 2},
		{URL: "https://b.example", Weight: 1},
	}
	return cfg
}

func TestDefaultsNeedOnlyVenueEndpoints(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "venue: at least one endpoint is required")

	cfg.Venue.Endpoints = []EndpointConfig{{URL: "https://a.example", Weight: 1}}
	require.NoError(t, cfg.Validate())
}

func TestServerModeSkipsTradingSections(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validLive()
	cfg.Wallet.PrivateKey = ""
	cfg.Venue.Endpoints = append(cfg.Venue.Endpoints, EndpointConfig{URL: "https://a.example", Weight: 0})
	cfg.Gateway.MaxSlippageBps = 20_000
	cfg.Exit.StopLossPct = decimal.NewFromInt(1)
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	require.Contains(t, msg, "wallet: either private_key or encrypted_key_path")
	require.Contains(t, msg, "venue: endpoints[2].weight must be > 0")
	require.Contains(t, msg, "venue: duplicate endpoint https://a.example")
	require.Contains(t, msg, "gateway: max_slippage_bps")
	require.Contains(t, msg, "exit: stop_loss_pct")
	require.Contains(t, msg, `unknown log_level "loud"`)
}

func TestValidateCrossSectionRules(t *testing.T) {
	t.Run("encrypted key needs password", func(t *testing.T) {
		cfg := validLive()
		cfg.Wallet.PrivateKey = ""
		cfg.Wallet.EncryptedKeyPath = "/keys/wallet.enc"
		require.ErrorContains(t, cfg.Validate(), "key_password is required")
	})
	t.Run("intake needs redis", func(t *testing.T) {
		cfg := validLive()
		cfg.Redis.Enabled = false
		require.ErrorContains(t, cfg.Validate(), "intake: requires redis.enabled")
	})
	t.Run("gas floor needs rpc pool", func(t *testing.T) {
		cfg := validLive()
		cfg.RPC.MinGasBalance = decimal.RequireFromString("0.01")
		require.ErrorContains(t, cfg.Validate(), "rpc: endpoints are required")
	})
	t.Run("venue credentials come in pairs", func(t *testing.T) {
		cfg := validLive()
		cfg.Venue.APIKey = "key"
		require.ErrorContains(t, cfg.Validate(), "api_key and api_secret")
	})
	t.Run("backoff bounds", func(t *testing.T) {
		cfg := validLive()
		cfg.Gateway.BackoffMax = duration{time.Millisecond}
		require.ErrorContains(t, cfg.Validate(), "backoff_max >= backoff_base")
	})
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swapkeeper.toml")
	body := `
mode = "live"

[wallet]
private_key = "0xabc"

[venue]
cooldown_window = "2m"

[[venue.endpoints]]
url = "https://primary.example"
weight = 3

[[venue.endpoints]]
url = "https://secondary.example"
weight = 1

[exit]
target_profit_pct = 0.5
stop_loss_pct = "0.2"
max_hold = "6h"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Venue.Endpoints, 2)
	require.Equal(t, 3, cfg.Venue.Endpoints[0].Weight)
	require.Equal(t, 2*time.Minute, cfg.Venue.CooldownWindow.Duration)
	require.True(t, decimal.RequireFromString("0.5").Equal(cfg.Exit.TargetProfitPct))
	require.True(t, decimal.RequireFromString("0.2").Equal(cfg.Exit.StopLossPct))
	require.Equal(t, 6*time.Hour, cfg.Exit.MaxHold.Duration)
	// untouched sections keep defaults
	require.Equal(t, 5, cfg.Venue.MaxErrorThreshold)
	require.Equal(t, 3, cfg.Gateway.MaxRetries)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("SWAPKEEPER_MODE", "live")
	t.Setenv("SWAPKEEPER_WALLET_PRIVATE_KEY", "0xfeed")
	t.Setenv("SWAPKEEPER_VENUE_ENDPOINTS", "https://a.example|4, https://b.example")
	t.Setenv("SWAPKEEPER_GATEWAY_BACKOFF_BASE", "250ms")
	t.Setenv("SWAPKEEPER_INTAKE_MAX_TOTAL_NOTIONAL", "5000")
	t.Setenv("SWAPKEEPER_SERVER_CORS_ORIGINS", "https://ui.example, ,https://ops.example")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "live", cfg.Mode)
	require.Equal(t, "0xfeed", cfg.Wallet.PrivateKey)
	require.Equal(t, []EndpointConfig{
		{URL: "https://a.example", Weight: 4},
		{URL: "https://b.example", Weight: 1},
	}, cfg.Venue.Endpoints)
	require.Equal(t, 250*time.Millisecond, cfg.Gateway.BackoffBase.Duration)
	require.True(t, decimal.NewFromInt(5000).Equal(cfg.Intake.MaxTotalNotional))
	require.Equal(t, []string{"https://ui.example", "https://ops.example"}, cfg.Server.CORSOrigins)
}

func TestMalformedEndpointEnvIsIgnored(t *testing.T) {
	t.Setenv("SWAPKEEPER_RPC_ENDPOINTS", "https://a.example|x")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Empty(t, cfg.RPC.Endpoints)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validLive()
	cfg.Venue.APIKey = "k"
	cfg.Venue.APISecret = "s"
	cfg.RPC.Endpoints = []EndpointConfig{{URL: "https://eth.example/v2/secret-key", Weight: 1}}
	cfg.Postgres.DSN = "postgres://u:p@db/swapkeeper"
	cfg.Notify.TelegramToken = "token"

	out := RedactedConfig(&cfg)

	require.Equal(t, redacted, out.Wallet.PrivateKey)
	require.Equal(t, redacted, out.Venue.APIKey)
	require.Equal(t, redacted, out.Postgres.DSN)
	require.Equal(t, redacted, out.Notify.TelegramToken)
	require.Equal(t, "https://eth.example/***", out.RPC.Endpoints[0].URL)
	require.Equal(t, "https://a.example", out.Venue.Endpoints[0].URL)
	require.Empty(t, out.Server.APIKey)

	// the original is untouched
	require.Equal(t, "0xabc", cfg.Wallet.PrivateKey)
	require.Equal(t, "https://eth.example/v2/secret-key", cfg.RPC.Endpoints[0].URL)
}

func TestExampleConfigIsValid(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.True(t, Defaults().Exit.StopLossPct.Equal(cfg.Exit.StopLossPct))
	require.Len(t, cfg.Venue.Endpoints, 2)
}
