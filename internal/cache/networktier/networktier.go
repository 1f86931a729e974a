// Package networktier implements the optional Network tier of the Tiered
// Cache (spec §4.3): a shared Redis-backed store with a bounded
// connection pool.
//
// Grounded on crates/rhema-knowledge/src/types.rs's NetworkConfig
// (redis_url, connection_pool_size), implemented with redis/go-redis/v9,
// the client this corpus's example pack uses for Redis access.
package networktier

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rhema-core/rhema/internal/cache"
	"github.com/rhema-core/rhema/internal/rherr"
)

const keyPrefix = "rhema:cache:"

// wireEntry is the JSON-serialized form stored in Redis.
type wireEntry struct {
	Bytes    []byte              `json:"bytes"`
	Metadata cache.EntryMetadata `json:"metadata"`
}

// Tier is a Redis-backed cache.NetworkTier.
type Tier struct {
	client *redis.Client
}

// New constructs a Tier from a redis connection URL and pool size.
func New(redisURL string, poolSize int) (*Tier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, rherr.Config("invalid redis url", err)
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	return &Tier{client: redis.NewClient(opts)}, nil
}

// NewFromClient wraps an existing *redis.Client, used by tests against a
// miniredis instance.
func NewFromClient(client *redis.Client) *Tier {
	return &Tier{client: client}
}

func (t *Tier) Get(ctx context.Context, key string) (cache.CacheEntry, bool, error) {
	raw, err := t.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return cache.CacheEntry{}, false, nil
	}
	if err != nil {
		return cache.CacheEntry{}, false, err
	}

	var w wireEntry
	if err := json.Unmarshal(raw, &w); err != nil {
		return cache.CacheEntry{}, false, err
	}

	w.Metadata.AccessedAt = time.Now()
	w.Metadata.AccessCount++
	go t.refreshAccessMetadata(key, w) //nolint:errcheck -- best-effort bookkeeping

	return cache.CacheEntry{Bytes: w.Bytes, Metadata: w.Metadata}, true, nil
}

func (t *Tier) refreshAccessMetadata(key string, w wireEntry) {
	encoded, err := json.Marshal(w)
	if err != nil {
		return
	}
	var ttl time.Duration
	if w.Metadata.TTL != nil {
		ttl = *w.Metadata.TTL
	}
	t.client.Set(context.Background(), keyPrefix+key, encoded, ttl)
}

func (t *Tier) Set(ctx context.Context, entry cache.CacheEntry) error {
	w := wireEntry{Bytes: entry.Bytes, Metadata: entry.Metadata}
	encoded, err := json.Marshal(w)
	if err != nil {
		return err
	}

	var ttl time.Duration
	if entry.Metadata.TTL != nil {
		ttl = *entry.Metadata.TTL
	}
	return t.client.Set(ctx, keyPrefix+entry.Metadata.Key, encoded, ttl).Err()
}

func (t *Tier) Delete(ctx context.Context, key string) error {
	return t.client.Del(ctx, keyPrefix+key).Err()
}

// Invalidate scans all cache keys and removes those matching predicate.
// Redis has no native predicate-delete, so this is a best-effort scan
// bounded by SCAN's cursor iteration.
func (t *Tier) Invalidate(ctx context.Context, predicate func(cache.EntryMetadata) bool) (int, error) {
	var cursor uint64
	var toDelete []string

	for {
		keys, next, err := t.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return 0, err
		}
		for _, k := range keys {
			raw, err := t.client.Get(ctx, k).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return len(toDelete), err
			}
			var w wireEntry
			if err := json.Unmarshal(raw, &w); err != nil {
				continue
			}
			if predicate(w.Metadata) {
				toDelete = append(toDelete, k)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if len(toDelete) == 0 {
		return 0, nil
	}
	if err := t.client.Del(ctx, toDelete...).Err(); err != nil {
		return 0, err
	}
	return len(toDelete), nil
}

// Close releases the underlying Redis client's connections.
func (t *Tier) Close() error {
	return t.client.Close()
}
