package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheDisabled = errors.New("cache disabled")

// Cache keeps read-through entries under a per-key generation counter.
// Readers take the generation before loading the source of truth and store
// what they loaded under it. Writers bump the generation after committing,
// so a fill that raced a write lands under a generation nobody reads.
type Cache struct {
	client *redis.Client
}

// NewCache returns nil for a nil client. A nil Cache misses every read and
// ignores every write.
func NewCache(client *redis.Client) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{client: client}
}

func GenerationKey(key string) string {
	return key + ":gen"
}

func EntryKey(key string, gen int64) string {
	return fmt.Sprintf("%s:v%d", key, gen)
}

// Generation returns the current generation of key, zero before the first
// write.
func (c *Cache) Generation(ctx context.Context, key string) (int64, error) {
	if c == nil {
		return 0, ErrCacheDisabled
	}
	gen, err := c.client.Get(ctx, GenerationKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Get returns redis.Nil on a miss.
func (c *Cache) Get(ctx context.Context, key string, gen int64) ([]byte, error) {
	if c == nil {
		return nil, redis.Nil
	}
	return c.client.Get(ctx, EntryKey(key, gen)).Bytes()
}

func (c *Cache) Set(ctx context.Context, key string, gen int64, value []byte, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	return c.client.Set(ctx, EntryKey(key, gen), value, ttl).Err()
}

// Invalidate retires every entry stored for key. Call it after the write
// it covers has committed.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if c == nil {
		return nil
	}
	return c.client.Incr(ctx, GenerationKey(key)).Err()
}
