package escalate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/httputil"
)

// RateLimitedError signals that the enforcement API asked us to slow down.
// The engine retries these with backoff instead of giving up.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("enforcement API rate limited (retry after %s)", e.RetryAfter)
}

// Enforcer creates and removes block rules in an external enforcement system.
type Enforcer interface {
	// CreateRule requests a block for the target and returns the rule ID.
	// A rate-limited response is returned as *RateLimitedError.
	CreateRule(ctx context.Context, target, note string) (string, error)

	// DeleteRule removes a previously created rule. Deleting a rule that no
	// longer exists is not an error.
	DeleteRule(ctx context.Context, ruleID string) error
}

// HTTPEnforcer talks to a firewall-style REST API: POST /rules to create a
// block, DELETE /rules/{id} to remove it.
type HTTPEnforcer struct {
	client   *http.Client
	baseURL  string
	apiToken string
}

// NewHTTPEnforcer builds an enforcer against the given API base URL.
func NewHTTPEnforcer(baseURL, apiToken string) *HTTPEnforcer {
	return &HTTPEnforcer{
		client:   httputil.FastClient(),
		baseURL:  baseURL,
		apiToken: apiToken,
	}
}

type createRuleRequest struct {
	Mode          string     `json:"mode"`
	Notes         string     `json:"notes"`
	Configuration ruleTarget `json:"configuration"`
}

type ruleTarget struct {
	Target string `json:"target"`
	Value  string `json:"value"`
}

type createRuleResponse struct {
	Result struct {
		ID string `json:"id"`
	} `json:"result"`
}

func (e *HTTPEnforcer) CreateRule(ctx context.Context, target, note string) (string, error) {
	payload, err := json.Marshal(createRuleRequest{
		Mode:          "block",
		Notes:         note,
		Configuration: ruleTarget{Target: "ip", Value: target},
	})
	if err != nil {
		return "", fmt.Errorf("marshal rule request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/rules", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build rule request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiToken)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("enforcement API unreachable: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &RateLimitedError{RetryAfter: retryAfter(resp)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("enforcement API returned status %d", resp.StatusCode)
	}

	body, err := httputil.ReadBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		return "", fmt.Errorf("read rule response: %w", err)
	}
	var parsed createRuleResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("malformed rule response: %w", err)
	}
	if parsed.Result.ID == "" {
		return "", fmt.Errorf("enforcement API returned no rule ID")
	}
	return parsed.Result.ID, nil
}

func (e *HTTPEnforcer) DeleteRule(ctx context.Context, ruleID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, e.baseURL+"/rules/"+ruleID, nil)
	if err != nil {
		return fmt.Errorf("build rule delete: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiToken)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("enforcement API unreachable: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	// 404 means the rule is already gone, which is the state we wanted.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("enforcement API returned status %d deleting rule %s", resp.StatusCode, ruleID)
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// MemoryEnforcer is an in-process Enforcer for tests and dev runs.
type MemoryEnforcer struct {
	mu    sync.Mutex
	rules map[string]string // ruleID -> target
}

// NewMemoryEnforcer creates an empty in-memory enforcer.
func NewMemoryEnforcer() *MemoryEnforcer {
	return &MemoryEnforcer{rules: make(map[string]string)}
}

func (e *MemoryEnforcer) CreateRule(_ context.Context, target, _ string) (string, error) {
	id := uuid.NewString()
	e.mu.Lock()
	e.rules[id] = target
	e.mu.Unlock()
	return id, nil
}

func (e *MemoryEnforcer) DeleteRule(_ context.Context, ruleID string) error {
	e.mu.Lock()
	delete(e.rules, ruleID)
	e.mu.Unlock()
	return nil
}

// ActiveRules reports currently blocked targets (used by tests).
func (e *MemoryEnforcer) ActiveRules() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.rules))
	for id, target := range e.rules {
		out[id] = target
	}
	return out
}
