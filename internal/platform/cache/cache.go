// Package cache keeps short-lived read results in Redis hashes. A nil
// *DayCache is valid and caches nothing.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rmanoop25/Facility360-sub001/internal/platform/metrics"
)

type DayCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *DayCache {
	return &DayCache{rdb: rdb, ttl: ttl}
}

// Open connects to the Redis server at url (redis://...).
func Open(url string, ttl time.Duration) (*DayCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return New(redis.NewClient(opts), ttl), nil
}

func (c *DayCache) enabled() bool { return c != nil && c.rdb != nil && c.ttl > 0 }

// Get decodes field of the hash at key into dst and reports whether it was
// present.
func (c *DayCache) Get(ctx context.Context, key, field string, dst interface{}) (bool, error) {
	if !c.enabled() {
		return false, nil
	}
	val, err := c.rdb.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveCacheLookup(false)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(val, dst); err != nil {
		metrics.ObserveCacheLookup(false)
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	metrics.ObserveCacheLookup(true)
	return true, nil
}

// generationTTL outlives any single read-compute-write cycle so a counter
// never resets while a reader still holds an older value.
const generationTTL = 24 * time.Hour

func generationKey(key string) string { return key + ":gen" }

// Generation returns the invalidation counter for key. Read it before
// computing a value and hand it to Set.
func (c *DayCache) Generation(ctx context.Context, key string) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	gen, err := c.rdb.Get(ctx, generationKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache generation %s: %w", key, err)
	}
	return gen, nil
}

// Set stores v under field and restarts the hash's TTL, but only while the
// key's generation still equals gen. A value computed before an Invalidate
// is dropped silently.
func (c *DayCache) Set(ctx context.Context, key, field string, gen int64, v interface{}) error {
	if !c.enabled() {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	gk := generationKey(key)
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, gk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, field, data)
			p.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}, gk)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Invalidate drops every field of the given keys and bumps their
// generations so in-flight Set calls for them are discarded.
func (c *DayCache) Invalidate(ctx context.Context, keys ...string) error {
	if !c.enabled() || len(keys) == 0 {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, keys...)
		for _, k := range keys {
			p.Incr(ctx, generationKey(k))
			p.Expire(ctx, generationKey(k), generationTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

func (c *DayCache) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *DayCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
