// Package store holds the two pieces of shared state the pipeline relies on:
// the content-addressed assessment cache and the mitigation registry. Both
// are behind interfaces so the pipeline core stays independent of any
// particular backend; redis, postgres, and in-memory implementations ship
// with the module.
package store

import (
	"context"
	"time"

	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/verdict"
)

// CachePrefix namespaces assessment cache keys in shared backends.
const CachePrefix = "assessment:"

// MitigationPrefix namespaces mitigation records in shared backends.
const MitigationPrefix = "mitigation:"

// MitigationRecord is a time-bounded note that a source crossed the tracking
// threshold. RuleID is set only when an external enforcement rule was
// actually created; an empty RuleID means tracking-only.
type MitigationRecord struct {
	SourceIdentifier string    `json:"sourceIdentifier"`
	RuleID           string    `json:"ruleId,omitempty"`
	AttackType       string    `json:"attackType"`
	RiskScore        int       `json:"riskScore"`
	CreatedAt        time.Time `json:"createdAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// Expired reports whether the record's mitigation window has passed.
func (r *MitigationRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Cache is the deduplication store for finished Assessments. Implementations
// must never surface storage failures to callers: a failed read is a miss, a
// failed write is logged and dropped. Only the structured Assessment is
// stored, never raw or canonical payload text.
type Cache interface {
	// Get returns the cached Assessment for a fingerprint, or ok=false on
	// miss or any storage failure.
	Get(ctx context.Context, fingerprint string) (*verdict.Assessment, bool)

	// Put stores an Assessment under a fingerprint with the given TTL.
	// Failures are logged and dropped.
	Put(ctx context.Context, fingerprint string, a *verdict.Assessment, ttl time.Duration)
}

// RegistryEntry pairs a storage key with its decoded record.
type RegistryEntry struct {
	Key    string
	Record MitigationRecord
}

// Page is one bounded slice of a registry listing.
type Page struct {
	Entries    []RegistryEntry
	NextCursor string // opaque; pass back to List to continue
	Complete   bool   // true when no further pages remain
}

// Registry stores mitigation records and supports cursor-paginated listing
// so a sweep holds at most one page in memory regardless of registry size.
type Registry interface {
	// Put stores a record for a source. The ttl is a retention backstop, not
	// the mitigation window: records are expected to be removed explicitly
	// by the sweeper once ExpiresAt passes.
	Put(ctx context.Context, source string, rec MitigationRecord, ttl time.Duration) error

	// Get returns the record stored under a key, or ok=false when absent.
	Get(ctx context.Context, key string) (*MitigationRecord, bool, error)

	// List returns up to limit entries whose keys carry the prefix, starting
	// from cursor (empty for the first page).
	List(ctx context.Context, prefix, cursor string, limit int) (*Page, error)

	// Delete removes an entry by key. Deleting a missing key is not an
	// error; sweeps must stay idempotent.
	Delete(ctx context.Context, key string) error
}
