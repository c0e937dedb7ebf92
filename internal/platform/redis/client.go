package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/coronasafe/care-abdm/internal/platform/config"
)

// Client is the shared redis connection backing the correlation store in
// multi-instance deployments.
type Client struct {
	*redis.Client
}

// New connects and pings. A nil client with nil error means redis is not
// configured; callers fall back to in-memory state.
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
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{Client: client}, nil
}
