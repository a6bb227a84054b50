package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/verdict"
)

// NewRedisClient builds the shared redis client for the cache and registry.
func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
}

// RedisCache is the production Cache backend. Per the availability contract,
// it degrades instead of failing: read errors become misses, write errors
// are logged and dropped.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps a redis client as an assessment cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, fingerprint string) (*verdict.Assessment, bool) {
	raw, err := c.client.Get(ctx, CachePrefix+fingerprint).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("[WARN] assessment cache read failed, treating as miss: %v", err)
		}
		return nil, false
	}

	var a verdict.Assessment
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		log.Printf("[WARN] assessment cache entry corrupt, treating as miss: %v", err)
		return nil, false
	}
	return &a, true
}

func (c *RedisCache) Put(ctx context.Context, fingerprint string, a *verdict.Assessment, ttl time.Duration) {
	if a == nil || ttl <= 0 {
		return
	}
	raw, err := json.Marshal(a)
	if err != nil {
		log.Printf("[WARN] assessment cache write dropped (marshal): %v", err)
		return
	}
	if err := c.client.Set(ctx, CachePrefix+fingerprint, raw, ttl).Err(); err != nil {
		log.Printf("[WARN] assessment cache write dropped: %v", err)
	}
}

// RedisRegistry stores mitigation records as JSON values and pages through
// them with SCAN. Redis does not promise exact page sizes for SCAN, so the
// limit is a hint here; completion semantics (cursor exhausted => Complete)
// still hold, which is what the sweeper depends on.
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry wraps a redis client as a mitigation registry.
func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

func (r *RedisRegistry) Put(ctx context.Context, source string, rec MitigationRecord, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal mitigation record: %w", err)
	}
	if err := r.client.Set(ctx, MitigationPrefix+source, raw, ttl).Err(); err != nil {
		return fmt.Errorf("store mitigation record: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, key string) (*MitigationRecord, bool, error) {
	raw, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read mitigation record %s: %w", key, err)
	}
	var rec MitigationRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false, fmt.Errorf("corrupt mitigation record %s: %w", key, err)
	}
	return &rec, true, nil
}

func (r *RedisRegistry) List(ctx context.Context, prefix, cursor string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = 1000
	}

	var scanCursor uint64
	if cursor != "" {
		parsed, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed cursor %q: %w", cursor, err)
		}
		scanCursor = parsed
	}

	keys, next, err := r.client.Scan(ctx, scanCursor, prefix+"*", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("scan mitigation registry: %w", err)
	}

	page := &Page{Complete: next == 0}
	if !page.Complete {
		page.NextCursor = strconv.FormatUint(next, 10)
	}

	for _, key := range keys {
		raw, err := r.client.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // deleted between SCAN and GET
			}
			return nil, fmt.Errorf("read mitigation record %s: %w", key, err)
		}
		var rec MitigationRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			log.Printf("[WARN] skipping corrupt mitigation record %s: %v", key, err)
			continue
		}
		page.Entries = append(page.Entries, RegistryEntry{Key: key, Record: rec})
	}
	return page, nil
}

func (r *RedisRegistry) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete mitigation record %s: %w", key, err)
	}
	return nil
}
