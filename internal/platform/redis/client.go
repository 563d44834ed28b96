// Package redis maintains the shared Redis connection backing scan watermark
// persistence. Redis is optional: without it, watermarks live in process
// memory and do not survive restarts.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"psymetric/internal/platform/config"
)

const defaultDialTimeout = 5 * time.Second

// Client wraps go-redis with connection-time validation and a health probe
// for the readiness endpoint.
type Client struct {
	*redis.Client
}

// New connects using the configured URL. A blank URL means Redis is not
// configured: New returns (nil, nil) and callers fall back to in-process
// watermark state.
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Client{Client: client}, nil
}

// Health probes the connection. Wired into the readiness endpoint so a lost
// Redis surfaces there instead of as silently non-resumable scans.
func (c *Client) Health(ctx context.Context) error {
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health: %w", err)
	}
	return nil
}
