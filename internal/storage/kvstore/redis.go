package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisClient struct {
	inner *redis.Client
}

// RedisOptions builds client options from cfg. A URL takes precedence over
// the address, and an explicit password overrides the URL's.
func RedisOptions(cfg Config) (*redis.Options, error) {
	opts := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
		if cfg.Password != "" {
			opts.Password = cfg.Password
		}
		if cfg.DB != 0 {
			opts.DB = cfg.DB
		}
	}

	return opts, nil
}

// OpenRedis connects to a Redis server and verifies the connection with PING.
func OpenRedis(cfg Config) (*Store, error) {
	opts, err := RedisOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("open redis store: %w", err)
	}
	inner := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := inner.Ping(ctx).Err(); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("open redis store ping (timeout: %v): %w", cfg.ConnectTimeout, err)
	}

	return newStore(redisClient{inner: inner}, cfg), nil
}

func (c redisClient) get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.inner.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return data, true, nil
}

func (c redisClient) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.inner.Set(ctx, key, value, ttl).Err()
}

func (c redisClient) close() error {
	return c.inner.Close()
}
