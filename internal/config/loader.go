package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path on top of Defaults, loads .env when
// present, and applies SPOTBOT_* environment overrides. An empty path skips
// the file. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from SPOTBOT_* variables that are
// set and non-empty. Unparseable values are reported.
func applyEnvOverrides(cfg *Config) error {
	e := &envReader{}

	// ── Market ──
	e.str(&cfg.Symbol, "SPOTBOT_SYMBOL")
	e.str(&cfg.Interval, "SPOTBOT_INTERVAL")

	// ── Strategy ──
	e.str(&cfg.Strategy.Name, "SPOTBOT_STRATEGY_NAME")
	e.floats(&cfg.Strategy.ReturnThresholds, "SPOTBOT_STRATEGY_RETURN_THRESHOLDS")
	e.floats(&cfg.Strategy.VolumeThresholds, "SPOTBOT_STRATEGY_VOLUME_THRESHOLDS")

	// ── Trading ──
	e.float64(&cfg.Trading.Units, "SPOTBOT_TRADING_UNITS")
	e.str(&cfg.Trading.InitialPosition, "SPOTBOT_TRADING_INITIAL_POSITION")
	e.duration(&cfg.Trading.FlipPause, "SPOTBOT_TRADING_FLIP_PAUSE")

	// ── Feed ──
	e.int(&cfg.Feed.BacklogSize, "SPOTBOT_FEED_HISTORICAL_BACKLOG_SIZE")
	e.duration(&cfg.Feed.PollInterval, "SPOTBOT_FEED_POLL_INTERVAL")
	e.duration(&cfg.Feed.FetchTimeout, "SPOTBOT_FEED_FETCH_TIMEOUT")

	// ── Exchange ──
	e.str(&cfg.Exchange.BaseURL, "SPOTBOT_EXCHANGE_BASE_URL")
	e.bool(&cfg.Exchange.Sandbox, "SPOTBOT_EXCHANGE_SANDBOX")
	e.str(&cfg.Exchange.APIKey, "SPOTBOT_EXCHANGE_API_KEY")
	e.str(&cfg.Exchange.APISecret, "SPOTBOT_EXCHANGE_API_SECRET")
	e.str(&cfg.Exchange.EncryptedSecretPath, "SPOTBOT_EXCHANGE_ENCRYPTED_SECRET_PATH")
	e.str(&cfg.Exchange.SecretPassword, "SPOTBOT_EXCHANGE_SECRET_PASSWORD")
	e.int(&cfg.Exchange.OrdersPerSecond, "SPOTBOT_EXCHANGE_ORDERS_PER_SECOND")

	// ── Paper ──
	e.float64(&cfg.Paper.FeeBps, "SPOTBOT_PAPER_FEE_BPS")

	// ── Postgres ──
	e.bool(&cfg.Postgres.Enabled, "SPOTBOT_POSTGRES_ENABLED")
	e.str(&cfg.Postgres.DSN, "SPOTBOT_POSTGRES_DSN")
	e.str(&cfg.Postgres.Host, "SPOTBOT_POSTGRES_HOST")
	e.int(&cfg.Postgres.Port, "SPOTBOT_POSTGRES_PORT")
	e.str(&cfg.Postgres.Database, "SPOTBOT_POSTGRES_DATABASE")
	e.str(&cfg.Postgres.User, "SPOTBOT_POSTGRES_USER")
	e.str(&cfg.Postgres.Password, "SPOTBOT_POSTGRES_PASSWORD")
	e.str(&cfg.Postgres.SSLMode, "SPOTBOT_POSTGRES_SSL_MODE")
	e.bool(&cfg.Postgres.RunMigrations, "SPOTBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	e.bool(&cfg.Redis.Enabled, "SPOTBOT_REDIS_ENABLED")
	e.str(&cfg.Redis.Addr, "SPOTBOT_REDIS_ADDR")
	e.str(&cfg.Redis.Password, "SPOTBOT_REDIS_PASSWORD")
	e.int(&cfg.Redis.DB, "SPOTBOT_REDIS_DB")
	e.bool(&cfg.Redis.TLSEnabled, "SPOTBOT_REDIS_TLS_ENABLED")
	e.str(&cfg.Redis.KeyPrefix, "SPOTBOT_REDIS_KEY_PREFIX")

	// ── S3 / Archive ──
	e.str(&cfg.S3.Endpoint, "SPOTBOT_S3_ENDPOINT")
	e.str(&cfg.S3.Region, "SPOTBOT_S3_REGION")
	e.str(&cfg.S3.Bucket, "SPOTBOT_S3_BUCKET")
	e.str(&cfg.S3.AccessKey, "SPOTBOT_S3_ACCESS_KEY")
	e.str(&cfg.S3.SecretKey, "SPOTBOT_S3_SECRET_KEY")
	e.bool(&cfg.Archive.Enabled, "SPOTBOT_ARCHIVE_ENABLED")
	e.duration(&cfg.Archive.Interval, "SPOTBOT_ARCHIVE_INTERVAL")

	// ── Server ──
	e.bool(&cfg.Server.Enabled, "SPOTBOT_SERVER_ENABLED")
	e.str(&cfg.Server.Host, "SPOTBOT_SERVER_HOST")
	e.int(&cfg.Server.Port, "SPOTBOT_SERVER_PORT")
	e.strings(&cfg.Server.CORSOrigins, "SPOTBOT_SERVER_CORS_ORIGINS")
	e.str(&cfg.Server.APIKey, "SPOTBOT_SERVER_API_KEY")

	// ── Notify ──
	e.str(&cfg.Notify.TelegramToken, "SPOTBOT_NOTIFY_TELEGRAM_TOKEN")
	e.str(&cfg.Notify.TelegramChatID, "SPOTBOT_NOTIFY_TELEGRAM_CHAT_ID")
	e.str(&cfg.Notify.DiscordWebhookURL, "SPOTBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	e.strings(&cfg.Notify.Events, "SPOTBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	e.str(&cfg.Mode, "SPOTBOT_MODE")
	e.str(&cfg.LogLevel, "SPOTBOT_LOG_LEVEL")

	if len(e.errs) > 0 {
		return fmt.Errorf("config: bad environment overrides: %s", strings.Join(e.errs, "; "))
	}
	return nil
}

// envReader applies typed overrides and collects parse failures.
type envReader struct {
	errs []string
}

func (e *envReader) fail(key, v string, err error) {
	e.errs = append(e.errs, fmt.Sprintf("%s=%q: %v", key, v, err))
}

func (e *envReader) str(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (e *envReader) int(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) bool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		dst.Duration = d
	}
}

func (e *envReader) strings(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		if cleaned := splitList(v); len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// floats parses a comma-separated list such as "-0.001,0.001".
func (e *envReader) floats(dst *[]float64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := splitList(v)
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		out = append(out, f)
	}
	*dst = out
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}
