package config

import "net/url"

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
//
// Endpoint URLs keep only scheme and host; hosted RPC providers put API
// keys in the path or query.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Wallet
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	// Pools
	out.RPC.Endpoints = redactEndpoints(cfg.RPC.Endpoints)
	out.RPC.Fallback = redactURL(cfg.RPC.Fallback)
	out.Venue.Endpoints = redactEndpoints(cfg.Venue.Endpoints)
	out.Venue.Fallback = redactURL(cfg.Venue.Fallback)
	redact(&out.Venue.APIKey)
	redact(&out.Venue.APISecret)

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func redactEndpoints(eps []EndpointConfig) []EndpointConfig {
	if eps == nil {
		return nil
	}
	out := make([]EndpointConfig, len(eps))
	for i, ep := range eps {
		out[i] = EndpointConfig{URL: redactURL(ep.URL), Weight: ep.Weight}
	}
	return out
}

// redactURL keeps scheme and host. Unparseable input is fully redacted.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return redacted
	}
	if u.Path == "" && u.RawQuery == "" && u.User == nil {
		return u.Scheme + "://" + u.Host
	}
	return u.Scheme + "://" + u.Host + "/" + redacted
}
