package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the connection settings shared by the api and worker.
// Zero values fall back to defaults sized for a small pricing cache and the
// per-user call counters.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize int
	// OpTimeout bounds dial, read and write separately.
	OpTimeout time.Duration
}

const (
	defaultRedisPoolSize  = 20
	defaultRedisOpTimeout = 2 * time.Second
)

func (c RedisConfig) withDefaults() RedisConfig {
	if c.PoolSize <= 0 {
		c.PoolSize = defaultRedisPoolSize
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = defaultRedisOpTimeout
	}
	return c
}

// OpenRedis connects and verifies the server answers PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	cfg = cfg.withDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		DialTimeout:     cfg.OpTimeout,
		ReadTimeout:     cfg.OpTimeout,
		WriteTimeout:    cfg.OpTimeout,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.OpTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

var capAcquireScript = redis.NewScript(`
-- KEYS[1] = counter key
-- ARGV[1] = limit (int)
-- ARGV[2] = ttl_ms (int)
local current = redis.call('INCR', KEYS[1])
if current == 1 or redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return 0
end
return 1
`)

var capReleaseScript = redis.NewScript(`
-- KEYS[1] = counter key
local current = redis.call('DECR', KEYS[1])
if current <= 0 then
  redis.call('DEL', KEYS[1])
end
return 1
`)

// ConcurrencyCap bounds how many slots a single owner (e.g. a user with calls
// in flight) may hold across all processes. The counter lives in Redis with a
// TTL, so slots leaked by a crashed process expire on their own.
//
// A nil *ConcurrencyCap is valid and never limits.
type ConcurrencyCap struct {
	rdb    redis.Scripter
	prefix string
	limit  int
	ttl    time.Duration
}

func NewConcurrencyCap(rdb redis.Scripter, prefix string, limit int, ttl time.Duration) (*ConcurrencyCap, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if prefix == "" {
		return nil, fmt.Errorf("key prefix is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be > 0")
	}
	return &ConcurrencyCap{rdb: rdb, prefix: prefix, limit: limit, ttl: ttl}, nil
}

func (c *ConcurrencyCap) Key(owner string) string {
	return c.prefix + ":" + owner
}

// Acquire takes one slot for owner. It returns false when the owner is at the limit.
func (c *ConcurrencyCap) Acquire(ctx context.Context, owner string) (bool, error) {
	if c == nil {
		return true, nil
	}
	if owner == "" {
		return false, fmt.Errorf("owner is required")
	}
	res, err := capAcquireScript.Run(ctx, c.rdb, []string{c.Key(owner)}, c.limit, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Release gives back a slot previously taken with Acquire.
func (c *ConcurrencyCap) Release(ctx context.Context, owner string) error {
	if c == nil {
		return nil
	}
	if owner == "" {
		return fmt.Errorf("owner is required")
	}
	return capReleaseScript.Run(ctx, c.rdb, []string{c.Key(owner)}).Err()
}
