package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/verdict"
)

// MemoryCache is an in-process Cache for tests and single-node dev runs.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
}

type memoryCacheEntry struct {
	assessment verdict.Assessment
	expiresAt  time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryCacheEntry)}
}

func (c *MemoryCache) Get(_ context.Context, fingerprint string) (*verdict.Assessment, bool) {
	c.mu.RLock()
	entry, ok := c.entries[fingerprint]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	a := entry.assessment
	return &a, true
}

func (c *MemoryCache) Put(_ context.Context, fingerprint string, a *verdict.Assessment, ttl time.Duration) {
	if a == nil || ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[fingerprint] = memoryCacheEntry{assessment: *a, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Len reports live entries (used by tests).
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// MemoryRegistry is an in-process Registry with deterministic key-ordered
// cursor pagination: a listing of N matching entries at page size P takes
// exactly ceil(N/P) requests.
type MemoryRegistry struct {
	mu      sync.Mutex
	records map[string]MitigationRecord
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{records: make(map[string]MitigationRecord)}
}

func (r *MemoryRegistry) Put(_ context.Context, source string, rec MitigationRecord, _ time.Duration) error {
	r.mu.Lock()
	r.records[MitigationPrefix+source] = rec
	r.mu.Unlock()
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, key string) (*MitigationRecord, bool, error) {
	r.mu.Lock()
	rec, ok := r.records[key]
	r.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (r *MemoryRegistry) List(_ context.Context, prefix, cursor string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = 1000
	}

	r.mu.Lock()
	keys := make([]string, 0, len(r.records))
	for k := range r.records {
		if strings.HasPrefix(k, prefix) && k > cursor {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	page := &Page{Complete: len(keys) <= limit}
	if !page.Complete {
		keys = keys[:limit]
		page.NextCursor = keys[len(keys)-1]
	}
	for _, k := range keys {
		page.Entries = append(page.Entries, RegistryEntry{Key: k, Record: r.records[k]})
	}
	r.mu.Unlock()
	return page, nil
}

func (r *MemoryRegistry) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	delete(r.records, key)
	r.mu.Unlock()
	return nil
}

// Len reports stored records (used by tests).
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
