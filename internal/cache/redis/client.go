// Package redis provides the signal bus, the single-writer lock and the order
// rate limiter on top of go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix is used when ClientConfig.KeyPrefix is empty.
const DefaultKeyPrefix = "spotbot:"

const (
	defaultPoolSize    = 8
	defaultDialTimeout = 5 * time.Second
)

// ClientConfig configures the one connection pool shared by the bus, the
// lock and the rate limiter of a bot process.
type ClientConfig struct {
	Addr     string
	Password string
	DB       int
	// PoolSize defaults to 8. The hub's subscription holds a connection of
	// its own for as long as the bot runs.
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// KeyPrefix namespaces every lock, limiter key, channel and stream.
	KeyPrefix string
}

func (c ClientConfig) options() *redis.Options {
	opts := &redis.Options{
		Addr:       c.Addr,
		Password:   c.Password,
		DB:         c.DB,
		PoolSize:   c.PoolSize,
		MaxRetries: c.MaxRetries,
		// Lock refreshes and bus publishes carry their own deadlines.
		ContextTimeoutEnabled: true,
		DialTimeout:           defaultDialTimeout,
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = defaultPoolSize
	}
	if c.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

func (c ClientConfig) prefix() string {
	if c.KeyPrefix == "" {
		return DefaultKeyPrefix
	}
	return c.KeyPrefix
}

// Client is the bot's Redis connection. Sub-packages reach the driver through
// Underlying and name their keys through Key.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New connects to cfg.Addr and fails fast when the server does not answer,
// so a misconfigured Redis stops the bot before it takes the lock.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	rdb := redis.NewClient(cfg.options())
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb, prefix: cfg.prefix()}, nil
}

// Ping backs the /api/health check.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the go-redis client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}

// Key prefixes k, e.g. "lock:BTCUSDT" becomes "spotbot:lock:BTCUSDT".
func (c *Client) Key(k string) string {
	return c.prefix + k
}
