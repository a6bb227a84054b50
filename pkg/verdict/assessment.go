// Package verdict owns the Assessment data model and the arbitration layer
// that decides when the external classifier is consulted and how its output
// is reconciled with heuristic evidence.
package verdict

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Confidence is the classifier's self-reported certainty.
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// Action is the enforcement decision carried by an Assessment.
type Action string

const (
	ActionAllow Action = "allow"
	ActionFlag  Action = "flag"
	ActionBlock Action = "block"
)

// AttackTypeBenign labels traffic that raised no structural signals.
const AttackTypeBenign = "Benign"

// AttackTypeFallbackPrefix tags verdicts synthesized on the fail-closed path
// when the classifier was unavailable or returned garbage.
const AttackTypeFallbackPrefix = "Heuristic-Fallback"

// Assessment is the canonical verdict for one piece of triaged text.
// It is immutable once produced: the pipeline creates it, hands serialized
// copies to the cache and registry, and never mutates it afterwards.
type Assessment struct {
	AttackType       string     `json:"attackType"`
	Confidence       Confidence `json:"confidence"`
	RiskScore        int        `json:"riskScore"`
	Action           Action     `json:"action"`
	Explanation      string     `json:"explanation"`
	Impact           string     `json:"impact"`
	MitigationAdvice string     `json:"mitigationAdvice"`
	ExecutiveSummary string     `json:"executiveSummary"`
	Timestamp        time.Time  `json:"timestamp"`
}

// Validate checks an Assessment against the schema contract. Classifier
// responses that fail validation are treated as hard failures by the arbiter.
func (a *Assessment) Validate() error {
	if a == nil {
		return fmt.Errorf("assessment is nil")
	}
	if a.AttackType == "" {
		return fmt.Errorf("attackType is empty")
	}
	switch a.Confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		return fmt.Errorf("invalid confidence %q", a.Confidence)
	}
	if a.RiskScore < 0 || a.RiskScore > 100 {
		return fmt.Errorf("riskScore %d out of range [0,100]", a.RiskScore)
	}
	switch a.Action {
	case ActionAllow, ActionFlag, ActionBlock:
	default:
		return fmt.Errorf("invalid action %q", a.Action)
	}
	return nil
}

// HeuristicFallback reports whether this verdict came from the fail-closed
// path rather than a validated classification. Fallback verdicts are
// transient by nature and must not be deduplicated for the full cache TTL.
func (a *Assessment) HeuristicFallback() bool {
	return strings.HasPrefix(a.AttackType, AttackTypeFallbackPrefix)
}

// Fingerprint derives the content-addressed cache key for canonical text.
// The salt namespaces keys per deployment so the cache cannot be probed with
// precomputed hashes of known payloads.
func Fingerprint(canonical, salt string) string {
	sum := sha256.Sum256([]byte(canonical + salt))
	return hex.EncodeToString(sum[:])
}
