// Package redis implements the entitlement cache on Redis behind a circuit breaker.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"gmflicense/internal/config"
)

const scanBatchSize = 100

// ErrUnavailable is returned while the breaker rejects calls
var ErrUnavailable = errors.New("redis cache unavailable")

// Cache stores snapshot bytes in Redis. Every call goes through a breaker so a
// dead Redis costs one fast failure instead of a timeout per request.
type Cache struct {
	client  goredis.UniversalClient
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// New connects to the Redis server described by cfg
func New(cfg config.RedisConfig, logger *slog.Logger) (*Cache, error) {
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.Timeout > 0 {
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	return NewWithClient(goredis.NewClient(opts), cfg.Breaker, logger), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client goredis.UniversalClient, bc config.BreakerConfig, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "redis_cache"))

	failures := bc.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}

	settings := gobreaker.Settings{
		Name:        "redis-cache",
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}

	return &Cache{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// execute runs fn through the breaker, translating breaker rejections
func (c *Cache) execute(fn func() (any, error)) (any, error) {
	result, err := c.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return result, err
}

// Get returns the bytes stored under key. A missing key is not an error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	result, err := c.execute(func() (any, error) {
		val, err := c.client.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("redis get: %w", err)
		}
		return val, nil
	})
	if err != nil {
		return nil, false, err
	}
	if result == nil {
		return nil, false, nil
	}
	return result.([]byte), true, nil
}

// Set stores value under key with ttl
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.execute(func() (any, error) {
		if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
			return nil, fmt.Errorf("redis set: %w", err)
		}
		return nil, nil
	})
	return err
}

// DeletePrefix removes every key starting with prefix using SCAN, so it never
// blocks the server the way KEYS would.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	result, err := c.execute(func() (any, error) {
		var (
			cursor  uint64
			removed int
		)
		for {
			keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", scanBatchSize).Result()
			if err != nil {
				return removed, fmt.Errorf("redis scan: %w", err)
			}

			if len(keys) > 0 {
				n, err := c.client.Del(ctx, keys...).Result()
				if err != nil {
					return removed, fmt.Errorf("redis batch delete: %w", err)
				}
				removed += int(n)
			}

			cursor = next
			if cursor == 0 {
				return removed, nil
			}
		}
	})
	removed, _ := result.(int)
	return removed, err
}

// Ping checks connectivity. It bypasses the breaker so health checks see the
// real server state.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// State reports the breaker state
func (c *Cache) State() string {
	return c.breaker.State().String()
}

// Close releases the client connections
func (c *Cache) Close() error {
	return c.client.Close()
}
