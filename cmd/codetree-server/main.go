// Command codetree-server runs the session service as a long-lived
// HTTP/WebSocket process backed by Postgres: it accepts queued sessions
// over pkg/api, claims and runs them through a bounded worker pool (one
// codetree-server replica can run many sessions concurrently, each against
// its own editor process), and streams UI events to connected clients.
// Wiring order: load config, connect database, build services, attach a
// gin router, serve; shutdown runs in reverse on SIGTERM/SIGINT.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/opencodetree/codetree/pkg/api"
	"github.com/opencodetree/codetree/pkg/cleanup"
	"github.com/opencodetree/codetree/pkg/config"
	"github.com/opencodetree/codetree/pkg/database"
	"github.com/opencodetree/codetree/pkg/events"
	"github.com/opencodetree/codetree/pkg/llmbroker"
	"github.com/opencodetree/codetree/pkg/mcpbridge"
	"github.com/opencodetree/codetree/pkg/scheduler"
	"github.com/opencodetree/codetree/pkg/session"
	"github.com/opencodetree/codetree/pkg/version"
)

// schedulerBudget converts the loaded SchedulerConfig baseline into the
// scheduler.Budget the scheduler is constructed with.
func schedulerBudget(c *config.SchedulerConfig) scheduler.Budget {
	return scheduler.Budget{
		MaxIterations:    c.MaxIterations,
		MaxDepth:         c.MaxDepth,
		MaxDuration:      c.MaxDuration,
		MaxExpansions:    c.MaxExpansions,
		MaxFinishedNodes: c.MaxFinishedNodes,
		MinFinishedNodes: c.MinFinishedNodes,
		RewardThreshold:  c.RewardThreshold,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	podID := flag.String("pod-id", getEnv("POD_ID", ""), "unique identifier for this replica (defaults to hostname)")
	flag.Parse()

	if *podID == "" {
		if host, err := os.Hostname(); err == nil {
			*podID = host
		} else {
			*podID = "codetree-server"
		}
	}

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("no .env file loaded", "path", envPath, "error", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("starting codetree-server", "version", version.Full(), "pod_id", *podID, "config_dir", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		logger.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		logger.Error("failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logger.Warn("error closing database client", "error", err)
		}
	}()
	logger.Info("connected to database and applied migrations")

	publisher := events.NewEventPublisher(dbClient.DB())
	connMgr := events.NewConnectionManager(events.NewSQLCatchupQuerier(dbClient.DB()), 10*time.Second)
	listener := events.NewNotifyListener(database.DSN(dbConfig), connMgr)
	if err := listener.Start(ctx, events.CancelRequestsChannel); err != nil {
		logger.Error("failed to start notify listener", "error", err)
		os.Exit(1)
	}
	connMgr.SetListener(listener)

	broker := buildBroker(cfg.LLMProviderRegistry, logger)

	httpClient := &http.Client{Timeout: cfg.Editor.RequestTimeout}
	mcpServers := buildMCPServers(cfg.MCPServerRegistry)

	store := session.NewStore(dbClient.DB())
	executor := session.NewRealExecutor(
		broker,
		cfg.LLMProviderRegistry,
		"anthropic",
		cfg.Selector.ToWeights(),
		schedulerBudget(cfg.Scheduler),
		cfg.Scheduler.CheckpointDir,
		httpClient,
		mcpServers,
		cfg.MCPServerRegistry,
		publisher,
		store,
	)

	if err := os.MkdirAll(cfg.Scheduler.CheckpointDir, 0o755); err != nil {
		logger.Error("failed to create checkpoint directory", "error", err)
		os.Exit(1)
	}

	pool := session.NewWorkerPool(*podID, store, cfg.Queue, executor)
	if err := pool.Start(ctx); err != nil {
		logger.Error("failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// Cross-pod cancellation: a cancel issued against any replica is
	// broadcast on the control channel; the replica holding the session
	// trips its token here.
	listener.RegisterHandler(events.CancelRequestsChannel, func(payload []byte) {
		var req events.CancelRequestPayload
		if err := json.Unmarshal(payload, &req); err != nil || req.SessionID == "" {
			logger.Warn("ignoring malformed cancel request", "error", err)
			return
		}
		if pool.CancelSession(req.SessionID) {
			logger.Info("cancelled session via cross-pod request", "session_id", req.SessionID)
		}
	})

	cleanupSvc := cleanup.NewService(cfg.Retention, store, publisher)
	cleanupSvc.Start(ctx)

	gin.SetMode(getEnv("GIN_MODE", "release"))
	router := gin.Default()

	apiServer := api.NewServer(store, pool, connMgr, publisher, cfg.Server.AllowedWSOrigins, logger)
	apiServer.RegisterRoutes(router)
	router.GET("/healthz", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		dbHealth, err := database.Health(reqCtx, dbClient.DB())
		status := http.StatusOK
		if err != nil {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"database": dbHealth,
			"pool":     pool.Health(reqCtx),
		})
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: router,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "error", err)
	}

	cleanupSvc.Stop()
	pool.Stop()
	logger.Info("codetree-server stopped")
}

// buildBroker registers one llmbroker.ProviderClient per configured LLM
// provider entry, the server-mode analogue of cmd/codetree-agent's
// single-provider registration. A provider whose APIKeyEnv isn't set in
// the environment is skipped rather than registered with an empty key —
// sessions requesting it will fail with ErrNoProvider rather than an
// opaque 401 from the upstream API.
func buildBroker(registry *config.LLMProviderRegistry, logger *slog.Logger) *llmbroker.Broker {
	broker := llmbroker.NewBroker("anthropic", 3)
	httpClient := &http.Client{Timeout: 60 * time.Second}
	limiter := func() *rate.Limiter { return rate.NewLimiter(rate.Limit(5), 10) }

	for name, entry := range registry.GetAll() {
		apiKey := os.Getenv(entry.APIKeyEnv)
		if apiKey == "" {
			logger.Warn("skipping LLM provider with no API key configured", "provider", name, "api_key_env", entry.APIKeyEnv)
			continue
		}
		switch entry.Type {
		case config.LLMProviderTypeAnthropic:
			broker.Register(name, llmbroker.NewAnthropicClient(apiKey, httpClient), limiter())
		case config.LLMProviderTypeOpenAI:
			baseURL := entry.BaseURL
			if baseURL == "" {
				baseURL = "https://api.openai.com/v1"
			}
			broker.Register(name, llmbroker.NewOpenAICompatClient(apiKey, baseURL, httpClient, nil), limiter())
		case config.LLMProviderTypeGemini:
			broker.Register(name, llmbroker.NewGeminiClient(apiKey, httpClient), limiter())
		default:
			logger.Warn("unknown LLM provider type, skipping", "provider", name, "type", entry.Type)
		}
	}
	return broker
}

// buildMCPServers flattens the configured MCP server registry into the
// ordered slice mcpbridge.NewRegistry expects, resolving each transport's
// bearer token from its configured env var the same way executor-local
// tools resolve LLM API keys.
func buildMCPServers(registry *config.MCPServerRegistry) []mcpbridge.ServerConfig {
	var out []mcpbridge.ServerConfig
	for name, entry := range registry.GetAll() {
		sc := mcpbridge.ServerConfig{Name: name, Instructions: entry.Instructions}
		switch entry.Transport.Type {
		case config.TransportTypeStdio:
			sc.Command = entry.Transport.Command
			sc.Args = entry.Transport.Args
		case config.TransportTypeHTTP, config.TransportTypeSSE:
			sc.URL = entry.Transport.URL
			sc.BearerToken = entry.Transport.BearerToken
		default:
			continue
		}
		out = append(out, sc)
	}
	return out
}
