package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"admissions-workers/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// RedisClient holds sync state: a handful of small keys read and written once
// per cycle, so the pool stays small and timeouts short.
type RedisClient struct {
	Client *redis.Client
}

// NewRedis accepts either host:port or a redis:// / rediss:// URL. A URL that
// fails to parse is treated as a plain address and fails on first use.
func NewRedis(cfg config.RedisConfig) *RedisClient {
	opts := &redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	if strings.HasPrefix(cfg.Address, "redis://") || strings.HasPrefix(cfg.Address, "rediss://") {
		if parsed, err := redis.ParseURL(cfg.Address); err == nil {
			opts = parsed
			if cfg.Password != "" {
				opts.Password = cfg.Password
			}
		}
	}
	opts.ClientName = "admissions-sync"
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	opts.PoolSize = 4
	opts.MaxRetries = 1

	return &RedisClient{Client: redis.NewClient(opts)}
}

func (c *RedisClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", c.Client.Options().Addr, err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}
