// Package redis provides the Redis client used for the embedding cache.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	redisopts "github.com/kart-io/helix-assistant/pkg/options/redis"
)

const healthTimeout = 3 * time.Second

// Client wraps go-redis with connection verification and health checks.
type Client struct {
	client *goredis.Client
	opts   *redisopts.Options
}

// New creates a Redis client and verifies connectivity with a ping.
func New(ctx context.Context, opts *redisopts.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("redis options cannot be nil")
	}
	if errs := opts.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid redis options: %v", errs)
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr(),
		Password:     opts.Password,
		DB:           opts.Database,
		MaxRetries:   opts.MaxRetries,
		PoolSize:     opts.PoolSize,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", opts.Addr(), err)
	}

	logger.Infow("Redis connected", "addr", opts.Addr(), "db", opts.Database)
	return &Client{client: rdb, opts: opts}, nil
}

// Name returns the storage type identifier.
func (c *Client) Name() string {
	return "redis"
}

// Ping checks if the connection to Redis is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Health pings Redis within a short timeout.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return c.Ping(ctx)
}

// Close closes the Redis connection pool.
func (c *Client) Close() error {
	return c.client.Close()
}

// Client returns the underlying go-redis client.
func (c *Client) Client() *goredis.Client {
	return c.client
}

// Options returns the Redis options used by this client.
func (c *Client) Options() *redisopts.Options {
	return c.opts
}
