package verdict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/httputil"
)

// LLMClassifier implements Classifier against any OpenAI-compatible chat
// completions endpoint. The model is instructed to emit the Assessment
// schema as raw JSON; anything that fails to parse or validate is surfaced
// as an error and handled fail-closed by the arbiter.
type LLMClassifier struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
}

// LLMClassifierConfig configures an LLMClassifier.
type LLMClassifierConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration // per-call deadline; defaults to 30s
}

// NewLLMClassifier creates a classifier backed by a chat completions API.
func NewLLMClassifier(cfg LLMClassifierConfig) *LLMClassifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLMClassifier{
		client:  httputil.SlowClient(),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: timeout,
	}
}

const classifierSystemPrompt = `You are a SOC analyst triaging text extracted from web requests for injection-style attacks (SQL injection, command injection, and related patterns).

You receive the suspect text plus heuristic hints (a 0-100 pre-filter score and matched pattern labels). Weigh the hints but judge the text yourself.

Respond with a single JSON object and nothing else:
{
  "attackType": "<category such as 'SQL Injection (Union-Based)', or 'Benign'>",
  "confidence": "High" | "Medium" | "Low",
  "riskScore": <integer 0-100>,
  "action": "allow" | "flag" | "block",
  "explanation": "<technical explanation of the verdict>",
  "impact": "<what a successful attack of this kind could do>",
  "mitigationAdvice": "<concrete remediation steps>",
  "executiveSummary": "<one plain-language sentence for a non-technical reader>"
}`

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify sends the canonical text plus heuristic hints to the model and
// strictly parses the response into an Assessment. The returned Assessment
// is unvalidated; the arbiter owns schema validation and reconciliation.
func (c *LLMClassifier) Classify(ctx context.Context, req ClassifyRequest) (*Assessment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	userContent := fmt.Sprintf(
		"TEXT: %s\n\nHEURISTIC_SCORE: %d\nHEURISTIC_FLAGS: %s",
		req.Text, req.HeuristicScore, strings.Join(req.Flags, ", "))

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: classifierSystemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("classifier request: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	respBody, err := httputil.ReadBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		return nil, fmt.Errorf("classifier response read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier API error %d: %s", resp.StatusCode, string(respBody))
	}

	var completion chatResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, fmt.Errorf("classifier envelope unmarshal: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("classifier returned no choices")
	}

	return parseAssessmentJSON(completion.Choices[0].Message.Content)
}

// parseAssessmentJSON extracts the JSON object from model output (models
// sometimes wrap it in markdown fences) and decodes it strictly: unknown
// fields are a schema deviation, not something to ignore.
func parseAssessmentJSON(content string) (*Assessment, error) {
	clean := extractJSON(content)

	var a Assessment
	dec := json.NewDecoder(strings.NewReader(clean))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("classifier verdict unmarshal: %w - content: %s", err, clean)
	}
	return &a, nil
}

func extractJSON(content string) string {
	clean := strings.TrimSpace(content)
	if start := strings.Index(clean, "{"); start != -1 {
		clean = clean[start:]
	}
	if end := strings.LastIndex(clean, "}"); end != -1 {
		clean = clean[:end+1]
	}
	return clean
}
