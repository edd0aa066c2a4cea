// Package redisx opens go-redis clients from a URL-based config.
package redisx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/etokosmo/pizza-shop/core/logger"
)

// Config holds Redis connection settings. Timeouts are in seconds.
type Config struct {
	URL          string `yaml:"url" envconfig:"REDIS_URL"`
	ReadTimeout  int    `yaml:"read_timeout" envconfig:"REDIS_READ_TIMEOUT"`
	WriteTimeout int    `yaml:"write_timeout" envconfig:"REDIS_WRITE_TIMEOUT"`
	DialTimeout  int    `yaml:"dial_timeout" envconfig:"REDIS_DIAL_TIMEOUT"`
}

// Normalize fills defaults and checks required fields.
func (c *Config) Normalize() error {
	if c.URL == "" {
		return fmt.Errorf("redis.url is required")
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5
	}
	return nil
}

// Options parses the URL and applies timeouts.
func (c Config) Options() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	opts.ReadTimeout = time.Duration(c.ReadTimeout) * time.Second
	opts.WriteTimeout = time.Duration(c.WriteTimeout) * time.Second
	opts.DialTimeout = time.Duration(c.DialTimeout) * time.Second
	return opts, nil
}

// Connect builds a client and verifies it with PING.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	start := time.Now()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		logger.Error(ctx, "session", "redis.connect",
			slog.String("status", "fail"),
			slog.String("host", opts.Addr),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info(ctx, "session", "redis.connect",
		slog.String("status", "ok"),
		slog.String("host", opts.Addr),
		slog.Int("db", opts.DB),
		slog.Duration("duration", logger.Took(start)),
	)
	return client, nil
}
