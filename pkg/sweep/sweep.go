// Package sweep reconciles expired mitigation records: it pages through the
// registry, removes each expired record, and tears down the external block
// rule the record points at, if any.
package sweep

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/escalate"
	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/store"
)

// Totals accumulates observability counters across one full sweep.
type Totals struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
	Errors  int `json:"errors"`
}

// Sweeper walks the mitigation registry one page at a time, so memory use is
// bounded by the page size no matter how many records exist. Runs are
// idempotent; overlapping invocations are safe because deletes are too.
type Sweeper struct {
	registry store.Registry
	enforcer escalate.Enforcer
	pageSize int
	now      func() time.Time
}

// NewSweeper builds a sweeper. Enforcer may be nil when no external
// enforcement system is configured; rule teardown is then skipped.
func NewSweeper(registry store.Registry, enforcer escalate.Enforcer, pageSize int) *Sweeper {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Sweeper{
		registry: registry,
		enforcer: enforcer,
		pageSize: pageSize,
		now:      time.Now,
	}
}

// Run executes one complete sweep. The returned totals cover everything
// processed before any error; a mid-sweep listing failure aborts the run.
func (s *Sweeper) Run(ctx context.Context) (Totals, error) {
	var totals Totals
	cursor := ""

	for {
		page, err := s.registry.List(ctx, store.MitigationPrefix, cursor, s.pageSize)
		if err != nil {
			return totals, fmt.Errorf("sweep aborted listing registry: %w", err)
		}

		for _, entry := range page.Entries {
			totals.Scanned++
			if !entry.Record.Expired(s.now()) {
				continue
			}
			s.reap(ctx, entry, &totals)
		}

		if page.Complete {
			break
		}
		cursor = page.NextCursor
	}

	log.Printf("[SWEEP] scanned=%d deleted=%d errors=%d", totals.Scanned, totals.Deleted, totals.Errors)
	return totals, nil
}

// reap removes one expired record. The external rule delete is attempted
// first, but its failure never blocks the local delete: local state is
// authoritative for "should still be blocked", and an orphaned external rule
// is an accepted, bounded failure mode.
func (s *Sweeper) reap(ctx context.Context, entry store.RegistryEntry, totals *Totals) {
	rec := entry.Record
	if rec.RuleID != "" && s.enforcer != nil {
		if err := s.enforcer.DeleteRule(ctx, rec.RuleID); err != nil {
			totals.Errors++
			log.Printf("[WARN] rule %s for %s could not be deleted, external orphan remains: %v", rec.RuleID, rec.SourceIdentifier, err)
		}
	}

	if err := s.registry.Delete(ctx, entry.Key); err != nil {
		totals.Errors++
		log.Printf("[WARN] expired record %s could not be deleted: %v", entry.Key, err)
		return
	}
	totals.Deleted++
}
