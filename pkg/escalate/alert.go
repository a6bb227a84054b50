package escalate

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/httputil"
)

// Severity grades an alert for downstream routing.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityInfo     Severity = "info"
)

// Alert is the structured event sent to the alerting collaborator.
type Alert struct {
	ID               string    `json:"id"`
	Severity         Severity  `json:"severity"`
	SourceIdentifier string    `json:"sourceIdentifier"`
	AttackType       string    `json:"attackType"`
	RiskScore        int       `json:"riskScore"`
	Action           string    `json:"action"`
	Summary          string    `json:"summary"`
	Timestamp        time.Time `json:"timestamp"`
}

// Alerter delivers alerts best-effort. Notify must never block the caller on
// network I/O.
type Alerter interface {
	Notify(alert Alert)
}

const alertDeliveryTimeout = 10 * time.Second

// WebhookAlerter POSTs alerts as JSON to a webhook. Delivery happens on a
// background goroutine bounded by a semaphore; when the webhook is slow
// enough to exhaust the slots, further alerts are dropped and counted rather
// than queued without bound.
type WebhookAlerter struct {
	client *http.Client
	url    string
	sem    *httputil.Semaphore
}

// NewWebhookAlerter builds an alerter for the given webhook URL.
func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		client: httputil.FastClient(),
		url:    url,
		sem:    httputil.NewSemaphore(16),
	}
}

func (w *WebhookAlerter) Notify(alert Alert) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if !w.sem.TryAcquire() {
		log.Printf("[WARN] alert %s dropped: webhook delivery saturated (%d dropped so far)", alert.ID, w.sem.Dropped())
		return
	}

	go func() {
		defer w.sem.Release()

		payload, err := json.Marshal(alert)
		if err != nil {
			log.Printf("[WARN] alert %s dropped: %v", alert.ID, err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), alertDeliveryTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
		if err != nil {
			log.Printf("[WARN] alert %s dropped: %v", alert.ID, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			log.Printf("[WARN] alert %s delivery failed: %v", alert.ID, err)
			return
		}
		defer httputil.DrainAndClose(resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			log.Printf("[WARN] alert %s delivery failed: webhook returned status %d", alert.ID, resp.StatusCode)
		}
	}()
}

// MemoryAlerter records alerts in-process for tests and dev runs.
type MemoryAlerter struct {
	mu     sync.Mutex
	alerts []Alert
}

// NewMemoryAlerter creates an empty in-memory alerter.
func NewMemoryAlerter() *MemoryAlerter {
	return &MemoryAlerter{}
}

func (m *MemoryAlerter) Notify(alert Alert) {
	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	m.mu.Unlock()
}

// Alerts returns a copy of everything notified so far.
func (m *MemoryAlerter) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}
