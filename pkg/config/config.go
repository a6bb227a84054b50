package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// RegistryBackend selects the store that holds mitigation records.
type RegistryBackend string

const (
	BackendMemory   RegistryBackend = "memory"   // In-process, single node (dev/test)
	BackendRedis    RegistryBackend = "redis"    // Redis SCAN-based pagination (default)
	BackendPostgres RegistryBackend = "postgres" // Keyset pagination, deterministic order
)

// Config holds global settings for the Sentinel SOC agent.
// All settings can be configured via environment variables or programmatically.
type Config struct {
	// === Risk Tiers (0-100) ===
	// The arbiter and escalation engine compare riskScore against these.
	EscalationThreshold int // Heuristic score above this calls the classifier (default: 50)
	TrackThreshold      int // Score at/above this writes a mitigation record (default: 70)
	AlertThreshold      int // Score at/above this is alert-worthy (default: 90)
	EnforceThreshold    int // Score at/above this requests an external block (default: 95)
	CriticalThreshold   int // Alert severity boundary for "critical" (default: 95)
	BlockFloor          int // Minimum riskScore for any block verdict (default: 75)

	// === Deduplication Cache ===
	FingerprintSalt string        // Application salt mixed into content fingerprints
	CacheTTL        time.Duration // Assessment dedup TTL (default: 72h)

	// === Mitigation Registry ===
	RegistryBackend RegistryBackend
	MitigationTTL   time.Duration // How long a block/tracking record lives (default: 1h)
	SweepPageSize   int           // Registry entries fetched per page during a sweep (default: 1000)
	RedisAddr       string        // host:port for the redis cache/registry
	RedisPassword   string
	PostgresDSN     string // Only used when RegistryBackend == postgres

	// === Classifier (external oracle) ===
	ClassifierBaseURL string // OpenAI-compatible chat completions endpoint
	ClassifierAPIKey  string
	ClassifierModel   string
	ClassifierTimeout time.Duration // Deadline for one classification call (default: 30s)

	// === Enforcement collaborator ===
	EnforceBaseURL    string // Firewall rules API base URL
	EnforceAPIToken   string
	EnforceMaxRetries int // Backoff attempts on rate-limited create (default: 3)

	// === Alerting ===
	AlertWebhookURL string // Empty disables outbound alerts

	// === Heuristic tuning ===
	HeuristicWeightsPath string // Optional YAML weight-override file
}

// NewDefaultConfig creates a Config with sensible defaults.
// All settings can be overridden via environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		EscalationThreshold: clampInt(GetEnvInt("SENTINEL_ESCALATION_THRESHOLD", 50), 0, 100),
		TrackThreshold:      clampInt(GetEnvInt("SENTINEL_TRACK_THRESHOLD", 70), 0, 100),
		AlertThreshold:      clampInt(GetEnvInt("SENTINEL_ALERT_THRESHOLD", 90), 0, 100),
		EnforceThreshold:    clampInt(GetEnvInt("SENTINEL_ENFORCE_THRESHOLD", 95), 0, 100),
		CriticalThreshold:   clampInt(GetEnvInt("SENTINEL_CRITICAL_THRESHOLD", 95), 0, 100),
		BlockFloor:          clampInt(GetEnvInt("SENTINEL_BLOCK_FLOOR", 75), 0, 100),

		FingerprintSalt: getFingerprintSalt(),
		CacheTTL:        time.Duration(GetEnvInt("SENTINEL_CACHE_TTL_SECONDS", 3*24*3600)) * time.Second,

		RegistryBackend: RegistryBackend(GetEnv("SENTINEL_REGISTRY_BACKEND", string(BackendRedis))),
		MitigationTTL:   time.Duration(GetEnvInt("SENTINEL_MITIGATION_TTL_SECONDS", 3600)) * time.Second,
		SweepPageSize:   clampInt(GetEnvInt("SENTINEL_SWEEP_PAGE_SIZE", 1000), 1, 10000),
		RedisAddr:       GetEnv("SENTINEL_REDIS_ADDR", "localhost:6379"),
		RedisPassword:   GetEnv("SENTINEL_REDIS_PASSWORD", ""),
		PostgresDSN:     GetEnv("SENTINEL_POSTGRES_DSN", ""),

		ClassifierBaseURL: GetEnv("SENTINEL_CLASSIFIER_BASE_URL", "https://openrouter.ai/api/v1"),
		ClassifierAPIKey:  GetEnv("SENTINEL_CLASSIFIER_API_KEY", ""),
		ClassifierModel:   GetEnv("SENTINEL_CLASSIFIER_MODEL", "meta-llama/llama-3.3-70b-instruct"),
		ClassifierTimeout: time.Duration(GetEnvInt("SENTINEL_CLASSIFIER_TIMEOUT_MS", 30000)) * time.Millisecond,

		EnforceBaseURL:    GetEnv("SENTINEL_ENFORCE_BASE_URL", ""),
		EnforceAPIToken:   GetEnv("SENTINEL_ENFORCE_API_TOKEN", ""),
		EnforceMaxRetries: clampInt(GetEnvInt("SENTINEL_ENFORCE_MAX_RETRIES", 3), 0, 10),

		AlertWebhookURL: GetEnv("SENTINEL_ALERT_WEBHOOK_URL", ""),

		HeuristicWeightsPath: GetEnv("SENTINEL_HEURISTIC_WEIGHTS", ""),
	}
}

// NewHighSecurityConfig lowers every tier for aggressive blocking.
// Expect more false positives.
func NewHighSecurityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.EscalationThreshold = 35
	cfg.TrackThreshold = 55
	cfg.AlertThreshold = 75
	cfg.EnforceThreshold = 85
	cfg.CriticalThreshold = 85
	cfg.BlockFloor = 55
	return cfg
}

// NewHighUsabilityConfig raises tiers to minimize false positives.
func NewHighUsabilityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.EscalationThreshold = 60
	cfg.TrackThreshold = 80
	cfg.AlertThreshold = 92
	cfg.EnforceThreshold = 97
	return cfg
}

// getFingerprintSalt returns the fingerprint salt from env, or generates a
// random one. An ephemeral salt means dedup keys do not survive restarts;
// set SENTINEL_FINGERPRINT_SALT in production.
func getFingerprintSalt() string {
	if salt := os.Getenv("SENTINEL_FINGERPRINT_SALT"); salt != "" {
		return salt
	}

	log.Printf("[WARN] SENTINEL_FINGERPRINT_SALT not set - using ephemeral salt. Cached assessments will not dedupe across restarts.")

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Weak but functional fallback; the salt only namespaces cache keys.
		fallback := make([]byte, 16)
		for i := range fallback {
			fallback[i] = byte((os.Getpid() + time.Now().Nanosecond() + i*31) & 0xFF)
		}
		return hex.EncodeToString(fallback)
	}
	return hex.EncodeToString(b)
}

// clampInt ensures a value is within bounds
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Validate checks that the configured tiers are internally consistent and
// that the selected registry backend has the settings it needs.
func (c *Config) Validate() error {
	var problems []string

	if c.EscalationThreshold > c.TrackThreshold {
		problems = append(problems, "escalation threshold above track threshold")
	}
	if c.TrackThreshold > c.AlertThreshold {
		problems = append(problems, "track threshold above alert threshold")
	}
	if c.AlertThreshold > c.EnforceThreshold {
		problems = append(problems, "alert threshold above enforce threshold")
	}
	if c.BlockFloor < c.EscalationThreshold {
		problems = append(problems, "block floor below escalation threshold")
	}

	switch c.RegistryBackend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			problems = append(problems, "postgres backend selected but SENTINEL_POSTGRES_DSN is empty")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown registry backend %q", c.RegistryBackend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MustValidate calls Validate and fatally exits if validation fails.
// Call this at startup before serving traffic.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}
	log.Println("[STARTUP] Configuration validated successfully")
}

// Helper functions for environment variable parsing.
// These are exported for use by other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}
