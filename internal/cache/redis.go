package cache

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Redis is a Store backed by a Redis server, for sharing stage results
// between processes.
type Redis struct {
	rdb    *goredis.Client
	prefix string
}

// NewRedis connects to addr. The connection is lazy; use Ping to verify it.
func NewRedis(addr, prefix string) *Redis {
	if prefix == "" {
		prefix = "grantscope:"
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		MaxRetries:   1,
	})
	return &Redis{rdb: rdb, prefix: prefix}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return eris.Wrap(r.rdb.Ping(ctx).Err(), "cache: redis ping")
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "cache: redis get")
	}
	return b, true, nil
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return eris.Wrap(r.rdb.Set(ctx, r.prefix+key, value, ttl).Err(), "cache: redis set")
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
