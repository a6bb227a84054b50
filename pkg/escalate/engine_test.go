package escalate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/config"
	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/store"
	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/verdict"
)

func testAssessment(score int, action verdict.Action) *verdict.Assessment {
	return &verdict.Assessment{
		AttackType:       "SQL Injection (Union-Based)",
		Confidence:       verdict.ConfidenceHigh,
		RiskScore:        score,
		Action:           action,
		ExecutiveSummary: "injection attempt against the login form",
		Timestamp:        time.Now().UTC(),
	}
}

func newTestEngine(enforcer Enforcer, alerter Alerter) (*Engine, *store.MemoryRegistry) {
	reg := store.NewMemoryRegistry()
	cfg := config.NewDefaultConfig()
	cfg.EnforceMaxRetries = 2
	eng := NewEngine(cfg, reg, enforcer, alerter)
	eng.backoffBase = time.Millisecond
	return eng, reg
}

func firstRecord(t *testing.T, reg *store.MemoryRegistry) store.MitigationRecord {
	t.Helper()
	page, err := reg.List(context.Background(), store.MitigationPrefix, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(page.Entries))
	}
	return page.Entries[0].Record
}

func TestTrackTierWritesRecordWithoutAlert(t *testing.T) {
	alerter := NewMemoryAlerter()
	eng, reg := newTestEngine(nil, alerter)

	eng.Escalate(context.Background(), testAssessment(75, verdict.ActionFlag), "203.0.113.9")

	rec := firstRecord(t, reg)
	if rec.SourceIdentifier != "203.0.113.9" || rec.RuleID != "" {
		t.Fatalf("expected tracking-only record, got %+v", rec)
	}
	if !rec.ExpiresAt.After(rec.CreatedAt) {
		t.Fatal("record must carry a forward expiry")
	}
	if len(alerter.Alerts()) != 0 {
		t.Fatal("score 75 with action flag should not alert")
	}
}

func TestBelowTrackTierIsNoop(t *testing.T) {
	alerter := NewMemoryAlerter()
	eng, reg := newTestEngine(nil, alerter)

	eng.Escalate(context.Background(), testAssessment(60, verdict.ActionFlag), "203.0.113.9")

	if reg.Len() != 0 {
		t.Fatal("score below the track tier must not write a record")
	}
	if len(alerter.Alerts()) != 0 {
		t.Fatal("score below the alert tier without a block must not alert")
	}
}

func TestBlockActionAlertsAtAnyScore(t *testing.T) {
	alerter := NewMemoryAlerter()
	eng, _ := newTestEngine(nil, alerter)

	eng.Escalate(context.Background(), testAssessment(78, verdict.ActionBlock), "203.0.113.9")

	alerts := alerter.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("block verdict should alert regardless of score, got %d alerts", len(alerts))
	}
	if alerts[0].Severity != SeverityMedium {
		t.Errorf("score 78 maps to medium severity, got %s", alerts[0].Severity)
	}
	if alerts[0].ID == "" || alerts[0].Action != "block" {
		t.Errorf("alert missing fields: %+v", alerts[0])
	}
}

func TestAlertSeverityTiers(t *testing.T) {
	cases := []struct {
		score int
		want  Severity
	}{
		{96, SeverityCritical},
		{95, SeverityCritical},
		{92, SeverityHigh},
		{90, SeverityHigh},
		{80, SeverityMedium},
	}
	for _, tc := range cases {
		alerter := NewMemoryAlerter()
		eng, _ := newTestEngine(nil, alerter)
		eng.Escalate(context.Background(), testAssessment(tc.score, verdict.ActionBlock), "203.0.113.9")
		alerts := alerter.Alerts()
		if len(alerts) != 1 || alerts[0].Severity != tc.want {
			t.Errorf("score %d: expected severity %s, got %+v", tc.score, tc.want, alerts)
		}
	}
}

func TestEnforceTierCreatesRule(t *testing.T) {
	enforcer := NewMemoryEnforcer()
	alerter := NewMemoryAlerter()
	eng, reg := newTestEngine(enforcer, alerter)

	eng.Escalate(context.Background(), testAssessment(97, verdict.ActionBlock), "203.0.113.9")

	rec := firstRecord(t, reg)
	if rec.RuleID == "" {
		t.Fatal("enforce tier should attach the created rule ID")
	}
	rules := enforcer.ActiveRules()
	if target, ok := rules[rec.RuleID]; !ok || target != "203.0.113.9" {
		t.Fatalf("rule %s not found for source, rules: %v", rec.RuleID, rules)
	}
	alerts := alerter.Alerts()
	if len(alerts) != 1 || alerts[0].Severity != SeverityCritical {
		t.Fatalf("enforce tier should raise a critical alert, got %+v", alerts)
	}
}

func TestRepeatEscalationReusesExistingRule(t *testing.T) {
	enforcer := NewMemoryEnforcer()
	eng, reg := newTestEngine(enforcer, nil)

	eng.Escalate(context.Background(), testAssessment(97, verdict.ActionBlock), "203.0.113.9")
	firstRule := firstRecord(t, reg).RuleID

	eng.Escalate(context.Background(), testAssessment(98, verdict.ActionBlock), "203.0.113.9")

	if rules := enforcer.ActiveRules(); len(rules) != 1 {
		t.Fatalf("re-escalating one source must not create a second rule, got %d", len(rules))
	}
	rec := firstRecord(t, reg)
	if rec.RuleID != firstRule {
		t.Fatalf("overwritten record must keep the original rule ID %s, got %s", firstRule, rec.RuleID)
	}
}

func TestEscalationUpgradesTrackingRecordToRule(t *testing.T) {
	enforcer := NewMemoryEnforcer()
	eng, reg := newTestEngine(enforcer, nil)

	eng.Escalate(context.Background(), testAssessment(80, verdict.ActionFlag), "203.0.113.9")
	if rec := firstRecord(t, reg); rec.RuleID != "" {
		t.Fatalf("score 80 should stay tracking-only, got %+v", rec)
	}

	eng.Escalate(context.Background(), testAssessment(97, verdict.ActionBlock), "203.0.113.9")
	rec := firstRecord(t, reg)
	if rec.RuleID == "" {
		t.Fatal("crossing the enforce tier should attach a rule to the existing source")
	}
	if len(enforcer.ActiveRules()) != 1 {
		t.Fatalf("expected exactly one rule, got %d", len(enforcer.ActiveRules()))
	}
}

type flakyEnforcer struct {
	failures int
	calls    int
	err      error
}

func (f *flakyEnforcer) CreateRule(_ context.Context, _, _ string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", f.err
	}
	return "rule-after-retry", nil
}

func (f *flakyEnforcer) DeleteRule(context.Context, string) error { return nil }

func TestRateLimitedCreateRetries(t *testing.T) {
	enforcer := &flakyEnforcer{failures: 2, err: &RateLimitedError{RetryAfter: time.Millisecond}}
	eng, reg := newTestEngine(enforcer, nil)

	eng.Escalate(context.Background(), testAssessment(97, verdict.ActionBlock), "203.0.113.9")

	if enforcer.calls != 3 {
		t.Fatalf("expected 2 retries after rate limits, got %d calls", enforcer.calls)
	}
	if rec := firstRecord(t, reg); rec.RuleID != "rule-after-retry" {
		t.Fatalf("record should carry the eventual rule ID, got %+v", rec)
	}
}

func TestPersistentRateLimitLeavesTrackingOnly(t *testing.T) {
	enforcer := &flakyEnforcer{failures: 100, err: &RateLimitedError{RetryAfter: time.Millisecond}}
	eng, reg := newTestEngine(enforcer, nil)

	eng.Escalate(context.Background(), testAssessment(97, verdict.ActionBlock), "203.0.113.9")

	if enforcer.calls != 3 {
		t.Fatalf("expected initial call plus 2 retries, got %d", enforcer.calls)
	}
	if rec := firstRecord(t, reg); rec.RuleID != "" {
		t.Fatalf("record must stay tracking-only after persistent rate limiting, got %+v", rec)
	}
}

func TestNonRateLimitErrorDoesNotRetry(t *testing.T) {
	enforcer := &flakyEnforcer{failures: 100, err: errors.New("boom")}
	eng, reg := newTestEngine(enforcer, nil)

	eng.Escalate(context.Background(), testAssessment(97, verdict.ActionBlock), "203.0.113.9")

	if enforcer.calls != 1 {
		t.Fatalf("hard errors should not be retried, got %d calls", enforcer.calls)
	}
	if rec := firstRecord(t, reg); rec.RuleID != "" {
		t.Fatalf("record must stay tracking-only, got %+v", rec)
	}
}

func TestEscalateNilAssessmentIsNoop(t *testing.T) {
	eng, reg := newTestEngine(nil, nil)
	eng.Escalate(context.Background(), nil, "203.0.113.9")
	eng.Escalate(context.Background(), testAssessment(99, verdict.ActionBlock), "")
	if reg.Len() != 0 {
		t.Fatal("nil assessment or empty source must not write records")
	}
}
