// Package config defines the top-level configuration for spotbot and
// provides validation helpers.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/spotbot/internal/domain"
	"github.com/alanyoungcy/spotbot/internal/platform/binance"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SPOTBOT_* environment variables.
type Config struct {
	Symbol   string         `toml:"symbol"`
	Interval string         `toml:"interval"`
	Strategy StrategyConfig `toml:"strategy"`
	Trading  TradingConfig  `toml:"trading"`
	Feed     FeedConfig     `toml:"feed"`
	Exchange ExchangeConfig `toml:"exchange"`
	Paper    PaperConfig    `toml:"paper"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// StrategyConfig holds the signal thresholds. Each pair is [low, high].
type StrategyConfig struct {
	Name             string    `toml:"name"`
	ReturnThresholds []float64 `toml:"return_thresholds"`
	VolumeThresholds []float64 `toml:"volume_thresholds"`
}

// TradingConfig holds position sizing and the starting position.
type TradingConfig struct {
	Units           float64  `toml:"units"`
	InitialPosition string   `toml:"initial_position"`
	FlipPause       duration `toml:"flip_pause"`
}

// FeedConfig tunes the polling driver.
type FeedConfig struct {
	BacklogSize         int      `toml:"historical_backlog_size"`
	PollInterval        duration `toml:"poll_interval"`
	BackfillPause       duration `toml:"backfill_pause"`
	MaxBackfillAttempts int      `toml:"max_backfill_attempts"`
	FetchTimeout        duration `toml:"fetch_timeout"`
	EventBuffer         int      `toml:"event_buffer"`
}

// ExchangeConfig holds Binance endpoints and credentials. The API secret is
// given raw or as an encrypted file produced by spotbot-keygen.
type ExchangeConfig struct {
	BaseURL             string   `toml:"base_url"`
	Sandbox             bool     `toml:"sandbox"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RecvWindow          duration `toml:"recv_window"`
	Timeout             duration `toml:"timeout"`
	OrdersPerSecond     int      `toml:"orders_per_second"`
}

// PaperConfig configures the simulated broker.
type PaperConfig struct {
	FeeBps float64 `toml:"fee_bps"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled        bool     `toml:"enabled"`
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	LockTTL      duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls periodic and shutdown uploads to S3.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	Prefix   string   `toml:"prefix"`
}

// ServerConfig configures the inspection API.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
}

// NotifyConfig configures operator alerts.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPIURL    string   `toml:"telegram_api_url"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration decodes TOML strings such as "250ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible defaults.
func Defaults() Config {
	return Config{
		Symbol:   "BTC/USDT",
		Interval: "1m",
		Strategy: StrategyConfig{
			Name:             "contrarian",
			ReturnThresholds: []float64{-0.0001, 0.0001},
			VolumeThresholds: []float64{-3, 3},
		},
		Trading: TradingConfig{
			Units:           0.001,
			InitialPosition: "flat",
			FlipPause:       duration{100 * time.Millisecond},
		},
		Feed: FeedConfig{
			BacklogSize:         1000,
			PollInterval:        duration{time.Second},
			BackfillPause:       duration{100 * time.Millisecond},
			MaxBackfillAttempts: 20,
			FetchTimeout:        duration{10 * time.Second},
			EventBuffer:         16,
		},
		Exchange: ExchangeConfig{
			Sandbox:         true,
			RecvWindow:      duration{5 * time.Second},
			Timeout:         duration{10 * time.Second},
			OrdersPerSecond: 5,
		},
		Paper: PaperConfig{
			FeeBps: 10,
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "spotbot",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   5,
			PoolMinConns:   1,
			ConnectTimeout: duration{5 * time.Second},
			RunMigrations:  true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			KeyPrefix:    "spotbot:",
			StreamMaxLen: 10000,
			LockTTL:      duration{15 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "spotbot-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval: duration{24 * time.Hour},
			Prefix:   "archive",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   20,
		},
		Notify: NotifyConfig{
			Events: []string{"trade", "execution_failed", "feed_error"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":    true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if binance.MarketSymbol(c.Symbol) == "" {
		errs = append(errs, "symbol must not be empty")
	}
	if !binance.IsSupportedInterval(c.Interval) {
		errs = append(errs, fmt.Sprintf("interval %q is not supported by the exchange", c.Interval))
	}

	errs = append(errs, checkPair("strategy: return_thresholds", c.Strategy.ReturnThresholds)...)
	errs = append(errs, checkPair("strategy: volume_thresholds", c.Strategy.VolumeThresholds)...)

	if !(c.Trading.Units > 0) || math.IsInf(c.Trading.Units, 0) {
		errs = append(errs, "trading: units must be > 0")
	}
	if _, err := domain.ParsePosition(c.Trading.InitialPosition); err != nil {
		errs = append(errs, fmt.Sprintf("trading: initial_position: %v", err))
	}
	if c.Trading.FlipPause.Duration < 0 {
		errs = append(errs, "trading: flip_pause must be >= 0")
	}

	if c.Feed.BacklogSize < 2 {
		errs = append(errs, "feed: historical_backlog_size must be >= 2")
	}
	if c.Feed.PollInterval.Duration <= 0 {
		errs = append(errs, "feed: poll_interval must be > 0")
	}

	if strings.EqualFold(c.Mode, "live") {
		if c.Exchange.APIKey == "" {
			errs = append(errs, "exchange: api_key is required for live mode")
		}
		if c.Exchange.APISecret == "" && c.Exchange.EncryptedSecretPath == "" {
			errs = append(errs, "exchange: api_secret or encrypted_secret_path is required for live mode")
		}
		if c.Exchange.EncryptedSecretPath != "" && c.Exchange.SecretPassword == "" {
			errs = append(errs, "exchange: secret_password is required when encrypted_secret_path is set")
		}
	}
	if c.Paper.FeeBps < 0 {
		errs = append(errs, "paper: fee_bps must be >= 0")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" && c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.LockTTL.Duration < time.Second {
			errs = append(errs, "redis: lock_ttl must be >= 1s")
		}
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// checkPair validates a [low, high] threshold pair.
func checkPair(name string, pair []float64) []string {
	if len(pair) != 2 {
		return []string{fmt.Sprintf("%s must have exactly two values, got %d", name, len(pair))}
	}
	if math.IsNaN(pair[0]) || math.IsNaN(pair[1]) {
		return []string{name + " must not be NaN"}
	}
	if pair[0] > pair[1] {
		return []string{fmt.Sprintf("%s: low %g exceeds high %g", name, pair[0], pair[1])}
	}
	return nil
}
