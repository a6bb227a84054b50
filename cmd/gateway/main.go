package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/config"
	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/escalate"
	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/heuristic"
	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/pipeline"
	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/store"
	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/sweep"
	"github.com/gianlucabinetti/cf-ai-sentinel-soc-agent/pkg/verdict"
)

const Version = "0.1.0"

// Agent bundles the triage pipeline and the sweeper with everything they
// were wired from, so the HTTP server and the CLI verbs share one setup path.
type Agent struct {
	pipeline *pipeline.Pipeline
	sweeper  *sweep.Sweeper
	config   *config.Config
	closers  []func()
}

// NewAgent wires the full agent from config. Components without the config
// they need degrade rather than fail: no classifier key means heuristic-only
// verdicts, no enforcement URL means tracking-only records.
func NewAgent(cfg *config.Config) (*Agent, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	scorer, err := heuristic.NewScorer(cfg.HeuristicWeightsPath)
	if err != nil {
		return nil, fmt.Errorf("heuristic scorer: %w", err)
	}

	var classifier verdict.Classifier
	if cfg.ClassifierAPIKey != "" {
		classifier = verdict.NewLLMClassifier(verdict.LLMClassifierConfig{
			BaseURL: cfg.ClassifierBaseURL,
			APIKey:  cfg.ClassifierAPIKey,
			Model:   cfg.ClassifierModel,
			Timeout: cfg.ClassifierTimeout,
		})
		log.Printf("[STARTUP] classifier enabled (model: %s)", cfg.ClassifierModel)
	} else {
		log.Println("[STARTUP] classifier disabled (no API key), verdicts are heuristic-only")
	}
	arbiter := verdict.NewArbiter(classifier, cfg.EscalationThreshold, cfg.BlockFloor)

	agent := &Agent{config: cfg}
	cache, registry, err := agent.buildStores(cfg)
	if err != nil {
		return nil, err
	}

	var enforcer escalate.Enforcer
	if cfg.EnforceBaseURL != "" {
		enforcer = escalate.NewHTTPEnforcer(cfg.EnforceBaseURL, cfg.EnforceAPIToken)
		log.Println("[STARTUP] external enforcement enabled")
	} else {
		log.Println("[STARTUP] external enforcement disabled (no base URL), records are tracking-only")
	}

	var alerter escalate.Alerter
	if cfg.AlertWebhookURL != "" {
		alerter = escalate.NewWebhookAlerter(cfg.AlertWebhookURL)
		log.Println("[STARTUP] webhook alerting enabled")
	} else {
		log.Println("[STARTUP] webhook alerting disabled (no URL)")
	}

	engine := escalate.NewEngine(cfg, registry, enforcer, alerter)
	agent.pipeline = pipeline.New(cfg, scorer, arbiter, cache, engine)
	agent.sweeper = sweep.NewSweeper(registry, enforcer, cfg.SweepPageSize)
	return agent, nil
}

func (a *Agent) buildStores(cfg *config.Config) (store.Cache, store.Registry, error) {
	switch cfg.RegistryBackend {
	case config.BackendMemory:
		log.Println("[STARTUP] using in-memory cache and registry (single node)")
		return store.NewMemoryCache(), store.NewMemoryRegistry(), nil

	case config.BackendRedis:
		client := store.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		a.closers = append(a.closers, func() { client.Close() })
		log.Printf("[STARTUP] using redis cache and registry at %s", cfg.RedisAddr)
		return store.NewRedisCache(client), store.NewRedisRegistry(client), nil

	case config.BackendPostgres:
		// Cache stays on redis; postgres only holds mitigation records.
		client := store.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		a.closers = append(a.closers, func() { client.Close() })

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		registry, err := store.NewPostgresRegistry(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, registry.Close)
		log.Println("[STARTUP] using redis cache with postgres registry")
		return store.NewRedisCache(client), registry, nil

	default:
		return nil, nil, fmt.Errorf("unknown registry backend %q", cfg.RegistryBackend)
	}
}

// Close releases store connections.
func (a *Agent) Close() {
	for _, closer := range a.closers {
		closer()
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		port := "3000"
		if len(os.Args) > 2 {
			port = os.Args[2]
		}
		runHTTPServer(port)
	case "triage":
		if len(os.Args) < 3 {
			fmt.Println("Usage: sentinel triage <text>")
			os.Exit(1)
		}
		runCLITriage(strings.Join(os.Args[2:], " "))
	case "sweep":
		runCLISweep()
	case "version":
		fmt.Printf("Sentinel SOC Agent v%s\n", Version)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Sentinel SOC Agent v%s - threat triage and risk escalation\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  sentinel serve [port]    Start HTTP server (default: 3000)")
	fmt.Println("  sentinel triage <text>   Assess a single payload and print the verdict")
	fmt.Println("  sentinel sweep           Run one registry sweep and print totals")
	fmt.Println("  sentinel version         Show version")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  SENTINEL_REGISTRY_BACKEND    memory | redis | postgres (default: redis)")
	fmt.Println("  SENTINEL_REDIS_ADDR          Redis host:port (default: localhost:6379)")
	fmt.Println("  SENTINEL_CLASSIFIER_API_KEY  API key for the external classifier")
	fmt.Println("  SENTINEL_ENFORCE_BASE_URL    Firewall rules API base URL")
	fmt.Println("  SENTINEL_ALERT_WEBHOOK_URL   Webhook for high-severity alerts")
	fmt.Println("  SENTINEL_FINGERPRINT_SALT    Salt for dedup fingerprints (set in prod)")
}

func runHTTPServer(port string) {
	cfg := config.NewDefaultConfig()
	cfg.MustValidate()

	agent, err := NewAgent(cfg)
	if err != nil {
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}
	defer agent.Close()

	app := fiber.New(fiber.Config{
		AppName: "Sentinel SOC Agent",
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})

	app.Post("/triage", func(c fiber.Ctx) error {
		var req struct {
			Text   string `json:"text"`
			Source string `json:"source"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.Text == "" {
			return c.Status(400).JSON(fiber.Map{"error": "text field is required"})
		}
		if req.Source == "" {
			req.Source = c.IP()
		}

		assessment := agent.pipeline.Triage(c.Context(), req.Text, req.Source)
		return c.JSON(assessment)
	})

	// The host environment owns the sweep schedule; a cron or timer simply
	// POSTs here on its period.
	app.Post("/sweep", func(c fiber.Ctx) error {
		totals, err := agent.sweeper.Run(c.Context())
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error(), "totals": totals})
		}
		return c.JSON(totals)
	})

	log.Printf("[STARTUP] Sentinel HTTP server starting on :%s", port)
	log.Printf("[STARTUP]   GET  /health  - Health check")
	log.Printf("[STARTUP]   POST /triage  - Assess a payload")
	log.Printf("[STARTUP]   POST /sweep   - Run one registry sweep")

	if err := app.Listen(":" + port); err != nil {
		log.Fatal(err)
	}
}

func runCLITriage(text string) {
	cfg := config.NewDefaultConfig()
	cfg.RegistryBackend = config.BackendMemory

	agent, err := NewAgent(cfg)
	if err != nil {
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}
	defer agent.Close()

	assessment := agent.pipeline.Triage(context.Background(), text, "cli")
	out, _ := json.MarshalIndent(assessment, "", "  ")
	fmt.Println(string(out))
}

func runCLISweep() {
	cfg := config.NewDefaultConfig()
	cfg.MustValidate()

	agent, err := NewAgent(cfg)
	if err != nil {
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}
	defer agent.Close()

	totals, err := agent.sweeper.Run(context.Background())
	if err != nil {
		log.Fatalf("sweep failed: %v", err)
	}
	out, _ := json.MarshalIndent(totals, "", "  ")
	fmt.Println(string(out))
}
