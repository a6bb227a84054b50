// Package pipeline runs one inbound payload through the full triage chain:
// normalize, heuristic score, arbitrate, cache, escalate. One invocation per
// item, no shared mutable state, safe for concurrent use.
package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/config"
	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/escalate"
	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/heuristic"
	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/normalize"
	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/store"
	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/verdict"
)

// Pipeline owns the per-request triage flow. All collaborators are injected;
// cache and engine may be nil, which disables deduplication and escalation
// respectively (useful for one-shot CLI scans).
type Pipeline struct {
	scorer  *heuristic.Scorer
	arbiter *verdict.Arbiter
	cache   store.Cache
	engine  *escalate.Engine

	salt     string
	cacheTTL time.Duration
}

// New assembles a pipeline from config and collaborators.
func New(cfg *config.Config, scorer *heuristic.Scorer, arbiter *verdict.Arbiter, cache store.Cache, engine *escalate.Engine) *Pipeline {
	return &Pipeline{
		scorer:   scorer,
		arbiter:  arbiter,
		cache:    cache,
		engine:   engine,
		salt:     cfg.FingerprintSalt,
		cacheTTL: cfg.CacheTTL,
	}
}

// Triage assesses one raw payload from a source. It never fails: any panic
// below this boundary is converted into a maximal fail-closed verdict, so
// callers always get an Assessment back.
func (p *Pipeline) Triage(ctx context.Context, rawText, source string) (a *verdict.Assessment) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WARN] triage panic recovered, failing closed: %v", r)
			a = failClosedAssessment()
		}
	}()

	canonical := normalize.Normalize(rawText)
	fingerprint := verdict.Fingerprint(canonical, p.salt)

	if p.cache != nil {
		if cached, ok := p.cache.Get(ctx, fingerprint); ok {
			p.escalate(ctx, cached, source)
			return cached
		}
	}

	score, flags := p.scorer.Score(canonical)
	a = p.arbiter.Assess(ctx, canonical, score, flags)

	// Fallback verdicts reflect a classifier outage, not the payload; caching
	// them would pin the degraded verdict long after the classifier recovers.
	if p.cache != nil && !a.HeuristicFallback() {
		p.cache.Put(ctx, fingerprint, a, p.cacheTTL)
	}
	p.escalate(ctx, a, source)
	return a
}

func (p *Pipeline) escalate(ctx context.Context, a *verdict.Assessment, source string) {
	if p.engine == nil {
		return
	}
	p.engine.Escalate(ctx, a, source)
}

// failClosedAssessment is the synthetic verdict for internal errors. Under
// uncertainty the system blocks.
func failClosedAssessment() *verdict.Assessment {
	return &verdict.Assessment{
		AttackType:       "Unknown",
		Confidence:       verdict.ConfidenceLow,
		RiskScore:        100,
		Action:           verdict.ActionBlock,
		Explanation:      "An internal error interrupted triage; the request is blocked as a precaution.",
		Impact:           "Unknown. The payload was not fully assessed.",
		MitigationAdvice: "Review service logs for the recovered panic and retry the request.",
		ExecutiveSummary: "Triage failed internally and the request was blocked to stay on the safe side.",
		Timestamp:        time.Now().UTC(),
	}
}
