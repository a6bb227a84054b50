// Package escalate turns finished assessments into side effects: mitigation
// records, alerts, and external block rules. Everything here is best-effort;
// an escalation failure never changes the assessment the caller already has.
package escalate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/config"
	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/store"
	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/verdict"
)

const (
	defaultBackoffBase = 500 * time.Millisecond
	maxBackoff         = 30 * time.Second

	// Registry retention outlives the mitigation window by this much so the
	// sweeper, not the store's TTL, is what removes records and reconciles
	// their external rules.
	retentionSlack = 24 * time.Hour
)

// Engine maps assessments onto the risk tiers: tracking at TrackThreshold,
// alerting at AlertThreshold (or any block verdict), external enforcement at
// EnforceThreshold.
type Engine struct {
	registry store.Registry
	enforcer Enforcer
	alerter  Alerter

	trackThreshold    int
	alertThreshold    int
	enforceThreshold  int
	criticalThreshold int

	mitigationTTL time.Duration
	maxRetries    int
	backoffBase   time.Duration
}

// NewEngine wires an escalation engine from config. Enforcer and alerter may
// be nil; the matching tiers then degrade to tracking-only and log-only.
func NewEngine(cfg *config.Config, registry store.Registry, enforcer Enforcer, alerter Alerter) *Engine {
	return &Engine{
		registry:          registry,
		enforcer:          enforcer,
		alerter:           alerter,
		trackThreshold:    cfg.TrackThreshold,
		alertThreshold:    cfg.AlertThreshold,
		enforceThreshold:  cfg.EnforceThreshold,
		criticalThreshold: cfg.CriticalThreshold,
		mitigationTTL:     cfg.MitigationTTL,
		maxRetries:        cfg.EnforceMaxRetries,
		backoffBase:       defaultBackoffBase,
	}
}

// Escalate applies the risk tiers to a finished assessment. It is void on
// purpose: every failure in here is logged and contained, and the assessment
// the pipeline returned is never revisited.
func (e *Engine) Escalate(ctx context.Context, a *verdict.Assessment, source string) {
	if a == nil || source == "" {
		return
	}

	if a.RiskScore >= e.trackThreshold && e.registry != nil {
		now := time.Now().UTC()
		rec := store.MitigationRecord{
			SourceIdentifier: source,
			AttackType:       a.AttackType,
			RiskScore:        a.RiskScore,
			CreatedAt:        now,
			ExpiresAt:        now.Add(e.mitigationTTL),
		}

		// A repeat offender may already hold a rule. Reuse its ID so the
		// overwritten record keeps pointing at the rule the sweeper must
		// eventually tear down; a duplicate rule would be unreachable forever.
		if existing, ok, err := e.registry.Get(ctx, store.MitigationPrefix+source); err != nil {
			log.Printf("[WARN] mitigation record lookup for %s failed: %v", source, err)
		} else if ok && existing.RuleID != "" {
			rec.RuleID = existing.RuleID
		}

		if rec.RuleID == "" && a.RiskScore >= e.enforceThreshold && e.enforcer != nil {
			note := fmt.Sprintf("sentinel auto-block: %s (risk %d)", a.AttackType, a.RiskScore)
			ruleID, err := e.createRuleWithBackoff(ctx, source, note)
			if err != nil {
				log.Printf("[WARN] enforcement create for %s failed, record stays tracking-only: %v", source, err)
			} else {
				rec.RuleID = ruleID
			}
		}

		if err := e.registry.Put(ctx, source, rec, e.mitigationTTL+retentionSlack); err != nil {
			log.Printf("[WARN] mitigation record write for %s failed: %v", source, err)
		}
	}

	if (a.RiskScore >= e.alertThreshold || a.Action == verdict.ActionBlock) && e.alerter != nil {
		e.alerter.Notify(Alert{
			ID:               uuid.NewString(),
			Severity:         e.severity(a.RiskScore),
			SourceIdentifier: source,
			AttackType:       a.AttackType,
			RiskScore:        a.RiskScore,
			Action:           string(a.Action),
			Summary:          a.ExecutiveSummary,
			Timestamp:        time.Now().UTC(),
		})
	}
}

func (e *Engine) severity(score int) Severity {
	switch {
	case score >= e.criticalThreshold:
		return SeverityCritical
	case score >= e.alertThreshold:
		return SeverityHigh
	case score >= e.trackThreshold:
		return SeverityMedium
	default:
		return SeverityInfo
	}
}

// createRuleWithBackoff retries rate-limited creates with exponential backoff,
// honoring a Retry-After hint when the API supplies one. Any other error
// fails immediately.
func (e *Engine) createRuleWithBackoff(ctx context.Context, target, note string) (string, error) {
	delay := e.backoffBase
	for attempt := 0; ; attempt++ {
		ruleID, err := e.enforcer.CreateRule(ctx, target, note)
		if err == nil {
			return ruleID, nil
		}

		var rl *RateLimitedError
		if !errors.As(err, &rl) || attempt >= e.maxRetries {
			return "", err
		}

		wait := delay
		if rl.RetryAfter > 0 {
			wait = rl.RetryAfter
		}
		if wait > maxBackoff {
			wait = maxBackoff
		}
		log.Printf("[WARN] enforcement create for %s rate limited, retrying in %s (attempt %d/%d)", target, wait, attempt+1, e.maxRetries)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
}
