package escalate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPEnforcerCreateRule(t *testing.T) {
	var gotAuth string
	var gotReq createRuleRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rules" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"result":{"id":"rule-123"}}`))
	}))
	defer srv.Close()

	e := NewHTTPEnforcer(srv.URL, "token-abc")
	id, err := e.CreateRule(context.Background(), "203.0.113.9", "auto-block")
	if err != nil {
		t.Fatal(err)
	}
	if id != "rule-123" {
		t.Errorf("expected rule-123, got %q", id)
	}
	if gotAuth != "Bearer token-abc" {
		t.Errorf("missing bearer token, got %q", gotAuth)
	}
	if gotReq.Mode != "block" || gotReq.Configuration.Value != "203.0.113.9" {
		t.Errorf("unexpected rule payload: %+v", gotReq)
	}
}

func TestHTTPEnforcerRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e := NewHTTPEnforcer(srv.URL, "token")
	_, err := e.CreateRule(context.Background(), "203.0.113.9", "note")

	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Errorf("expected Retry-After 7s, got %s", rl.RetryAfter)
	}
}

func TestHTTPEnforcerCreateErrors(t *testing.T) {
	cases := []struct {
		name string
		h    http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}},
		{"missing rule id", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"result":{}}`))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.h)
			defer srv.Close()

			e := NewHTTPEnforcer(srv.URL, "token")
			if _, err := e.CreateRule(context.Background(), "203.0.113.9", "note"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestHTTPEnforcerDeleteRule(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewHTTPEnforcer(srv.URL, "token")
	if err := e.DeleteRule(context.Background(), "rule-123"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "DELETE /rules/rule-123" {
		t.Errorf("unexpected request: %s", gotPath)
	}
}

func TestHTTPEnforcerDeleteMissingRuleIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewHTTPEnforcer(srv.URL, "token")
	if err := e.DeleteRule(context.Background(), "already-gone"); err != nil {
		t.Fatalf("deleting an absent rule should succeed, got %v", err)
	}
}

func TestWebhookAlerterDelivers(t *testing.T) {
	received := make(chan Alert, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			t.Errorf("decode alert: %v", err)
		}
		received <- a
	}))
	defer srv.Close()

	alerter := NewWebhookAlerter(srv.URL)
	alerter.Notify(Alert{
		Severity:         SeverityCritical,
		SourceIdentifier: "203.0.113.9",
		AttackType:       "SQL Injection",
		RiskScore:        97,
		Action:           "block",
		Timestamp:        time.Now().UTC(),
	})

	select {
	case a := <-received:
		if a.Severity != SeverityCritical || a.RiskScore != 97 {
			t.Errorf("alert mangled in transit: %+v", a)
		}
		if a.ID == "" {
			t.Error("alerter should stamp an ID when none is set")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("alert never delivered")
	}
}
