package config

import (
	"fmt"
	"slices"

	"github.com/alanyoungcy/spotbot/internal/crypto"
)

// ExchangeSecret resolves the Binance API secret from the raw value or the
// encrypted file.
func (c *Config) ExchangeSecret() (string, error) {
	if c.Exchange.APISecret == "" && c.Exchange.EncryptedSecretPath == "" {
		return "", nil
	}
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:           c.Exchange.APISecret,
		EncryptedSecretPath: c.Exchange.EncryptedSecretPath,
		Password:            c.Exchange.SecretPassword,
	})
	if err != nil {
		return "", fmt.Errorf("config: exchange secret: %w", err)
	}
	return secret, nil
}

// RedactedConfig returns a copy of cfg with sensitive fields replaced by
// "***". Use it whenever the active configuration is logged.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Exchange.APIKey)
	redact(&out.Exchange.APISecret)
	redact(&out.Exchange.SecretPassword)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Slices are copied so the redacted copy cannot mutate the original.
	out.Strategy.ReturnThresholds = slices.Clone(cfg.Strategy.ReturnThresholds)
	out.Strategy.VolumeThresholds = slices.Clone(cfg.Strategy.VolumeThresholds)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
