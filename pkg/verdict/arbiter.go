package verdict

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// ClassifyRequest is the payload sent to the external classification oracle.
type ClassifyRequest struct {
	Text           string   `json:"text"`
	HeuristicScore int      `json:"heuristicScore"`
	Flags          []string `json:"flags"`
}

// Classifier is the external classification oracle, injected so the arbiter
// is testable with a fake implementing the same request/response contract.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (*Assessment, error)
}

// Arbiter decides whether to escalate to the classifier and reconciles its
// output. It never returns an error: every failure mode on the classifier
// path collapses into a fail-closed fallback Assessment.
type Arbiter struct {
	classifier          Classifier
	escalationThreshold int
	blockFloor          int
}

// NewArbiter creates an Arbiter. A nil classifier is allowed; escalations
// then always take the heuristic fallback path.
func NewArbiter(classifier Classifier, escalationThreshold, blockFloor int) *Arbiter {
	return &Arbiter{
		classifier:          classifier,
		escalationThreshold: escalationThreshold,
		blockFloor:          blockFloor,
	}
}

// Assess produces the final Assessment for canonical text.
//
// Scores at or below the escalation threshold never touch the network: the
// verdict is derived purely from the heuristic result. Above the threshold
// the classifier is consulted and its response strictly validated; any
// error, deadline, or schema deviation yields the heuristic fallback.
func (a *Arbiter) Assess(ctx context.Context, canonical string, heuristicScore int, flags []string) *Assessment {
	if heuristicScore <= a.escalationThreshold {
		return a.lowRiskAssessment(heuristicScore, flags)
	}

	if a.classifier == nil {
		return a.fallbackAssessment(heuristicScore, flags, "no classifier configured")
	}

	result, err := a.classifier.Classify(ctx, ClassifyRequest{
		Text:           canonical,
		HeuristicScore: heuristicScore,
		Flags:          flags,
	})
	if err != nil {
		log.Printf("[WARN] classifier unavailable, failing closed: %v", err)
		return a.fallbackAssessment(heuristicScore, flags, err.Error())
	}
	if err := result.Validate(); err != nil {
		log.Printf("[WARN] classifier response failed validation, failing closed: %v", err)
		return a.fallbackAssessment(heuristicScore, flags, err.Error())
	}

	// Enforcement action and numeric severity must never contradict each
	// other: a block verdict is raised to at least the block floor.
	if result.Action == ActionBlock && result.RiskScore < a.blockFloor {
		raised := *result
		raised.RiskScore = a.blockFloor
		result = &raised
	}

	if result.Timestamp.IsZero() {
		stamped := *result
		stamped.Timestamp = time.Now().UTC()
		result = &stamped
	}
	return result
}

// lowRiskAssessment is the no-network branch for scores at or below the
// escalation threshold.
func (a *Arbiter) lowRiskAssessment(score int, flags []string) *Assessment {
	explanation := "No significant injection patterns detected by heuristic analysis."
	if len(flags) > 0 {
		explanation = fmt.Sprintf("Weak heuristic signals (%s) below the escalation threshold.",
			strings.Join(flags, ", "))
	}
	return &Assessment{
		AttackType:       AttackTypeBenign,
		Confidence:       ConfidenceHigh,
		RiskScore:        score,
		Action:           ActionAllow,
		Explanation:      explanation,
		Impact:           "None expected.",
		MitigationAdvice: "No action required.",
		ExecutiveSummary: "The request looks like ordinary traffic and was allowed.",
		Timestamp:        time.Now().UTC(),
	}
}

// fallbackAssessment synthesizes a fail-closed verdict from heuristic
// evidence alone. Reaching this path implies the heuristic score already
// exceeded the escalation threshold, so the outcome is never "allow".
func (a *Arbiter) fallbackAssessment(score int, flags []string, cause string) *Assessment {
	action := ActionFlag
	if score >= a.blockFloor {
		action = ActionBlock
	}

	attackType := AttackTypeFallbackPrefix
	if len(flags) > 0 {
		attackType = AttackTypeFallbackPrefix + " (" + flags[0] + ")"
	}

	return &Assessment{
		AttackType: attackType,
		Confidence: ConfidenceLow,
		RiskScore:  score,
		Action:     action,
		Explanation: fmt.Sprintf(
			"External classifier unavailable (%s); verdict synthesized from heuristic signals: %s.",
			cause, strings.Join(flags, ", ")),
		Impact:           "Potential injection attempt; external verification could not complete.",
		MitigationAdvice: "Review the source manually; the classifier outage prevented deep analysis.",
		ExecutiveSummary: "A suspicious request was handled conservatively because the analysis service was unreachable.",
		Timestamp:        time.Now().UTC(),
	}
}
