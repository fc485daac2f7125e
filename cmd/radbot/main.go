// Package main is the radbot server entry point: WebSocket and REST
// ingress, the Gemini agent pipeline, MCP tools, the scheduler, and the
// vector memory service run together in one process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/perrymanuk/radbot/internal/api"
	"github.com/perrymanuk/radbot/internal/common/config"
	"github.com/perrymanuk/radbot/internal/common/httpmw"
	"github.com/perrymanuk/radbot/internal/common/logger"
	"github.com/perrymanuk/radbot/internal/common/tracing"
	"github.com/perrymanuk/radbot/internal/db"
	"github.com/perrymanuk/radbot/internal/events/bus"
	gateway "github.com/perrymanuk/radbot/internal/gateway/websocket"
	"github.com/perrymanuk/radbot/internal/mcp"
	"github.com/perrymanuk/radbot/internal/memory"
	"github.com/perrymanuk/radbot/internal/push"
	"github.com/perrymanuk/radbot/internal/runtime"
	"github.com/perrymanuk/radbot/internal/sanitize"
	"github.com/perrymanuk/radbot/internal/scheduler"
	"github.com/perrymanuk/radbot/internal/session"
	"github.com/perrymanuk/radbot/internal/store"
	"github.com/perrymanuk/radbot/internal/telemetry"
	"github.com/perrymanuk/radbot/internal/tool"
	"github.com/perrymanuk/radbot/internal/tool/builtin"
)

const version = "0.1.0"

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting radbot server...", zap.String("version", version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Tracing (no-op unless an OTLP endpoint is configured)
	flushTraces, err := tracing.Init(ctx, "radbot", version)
	if err != nil {
		log.WithError(err).Warn("tracing disabled")
		flushTraces = func(context.Context) error { return nil }
	}

	// 4. Database pool and schema
	database, err := db.New(ctx, &cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer database.Close()
	if err := database.InitSchema(ctx, cfg.Database.ChatSchema); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}
	st := store.New(database, cfg.Database.ChatSchema)
	log.Info("Database initialized", zap.String("chat_schema", cfg.Database.ChatSchema))

	// 5. Apply config overrides persisted in the database
	overrides, err := database.LoadConfigOverrides(ctx)
	if err != nil {
		log.WithError(err).Warn("config overrides unavailable")
	} else if len(overrides) > 0 {
		unknown := cfg.ApplyOverrides(overrides)
		log.Info("Applied config overrides",
			zap.Int("count", len(overrides)-len(unknown)),
			zap.Strings("unknown_keys", unknown))
	}

	// 6. Event bus (in-memory unless NATS is configured)
	eventBus, err := bus.New(cfg.NATS.URL, cfg.NATS.ClientID, cfg.NATS.MaxReconnects, log)
	if err != nil {
		log.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer eventBus.Close()

	// 7. Shared services: sanitizer, telemetry, push
	sanitizer := sanitize.New(cfg.Sanitize.MaxLen, log)
	tel := telemetry.New(telemetryPrices(cfg.Telemetry))
	notifier := push.NewNtfyProvider(&cfg.Push, log)

	// 8. Vector memory
	embedder, err := memory.NewGeminiEmbedder(ctx, cfg.Agent.GeminiAPIKey,
		cfg.Agent.EmbeddingModel, cfg.Qdrant.VectorSize)
	if err != nil {
		log.Fatal("Failed to create embedder", zap.Error(err))
	}
	qdrantClient, err := memory.NewQdrantClient(&cfg.Qdrant)
	if err != nil {
		log.Fatal("Failed to connect to Qdrant", zap.Error(err))
	}
	mem := memory.New(qdrantClient, embedder, cfg.Qdrant.Collection, sanitizer, log)
	if err := mem.EnsureCollection(ctx); err != nil {
		log.WithError(err).Warn("memory collection unavailable, continuing degraded")
	}

	// 9. Tool registry: builtins plus MCP proxies
	registry := tool.NewRegistry()
	blocklist := tool.NewBlocklist(nil)

	// 10. Scheduler singleton (created before the builtins so the
	// reminder tool can arm timers; started after injection below)
	sched := scheduler.CreateInstance(st, sanitizer, notifier,
		cfg.Scheduler.ResultCap, cfg.Scheduler.PushBodyCap, log)

	if err := builtin.Register(registry, builtin.Deps{
		Store:     st,
		Memory:    mem,
		Scheduler: sched,
		AppName:   cfg.Agent.RootAgentName,
		UserID:    store.DefaultUserID,
		Log:       log,
	}); err != nil {
		log.Fatal("Failed to register builtin tools", zap.Error(err))
	}

	mcpManager := mcp.NewManager(cfg.MCP, log)
	defer mcpManager.Close()
	mcpTools := mcpManager.ConnectAll(ctx, registry, blocklist, sanitizer)
	log.Info("Tool registry ready",
		zap.Int("total", len(registry.Names())),
		zap.Int("mcp", mcpTools))

	// 11. Agent tree and runtime
	root := &runtime.Agent{
		Name:  cfg.Agent.RootAgentName,
		Model: cfg.Agent.MainModel,
		Instruction: "You are the primary assistant. Use the available tools for " +
			"tasks, reminders, and memory. Transfer to the research agent for " +
			"open-ended research questions.",
		SubAgents: []*runtime.Agent{
			{
				Name:  "scout",
				Model: cfg.Agent.SubModel,
				Instruction: "You are a research agent. Answer with concise, " +
					"sourced findings and transfer back when done.",
			},
		},
	}
	sessionService := runtime.NewSessionService()
	rt, err := runtime.NewGeminiRunner(ctx, cfg.Agent.GeminiAPIKey, root,
		sessionService, registry, tel, log, cfg.Agent.MaxToolLoops)
	if err != nil {
		log.Fatal("Failed to initialize agent runtime", zap.Error(err))
	}

	models := map[string]string{
		root.Name: root.Model,
	}
	for _, sub := range root.SubAgents {
		models[sub.Name] = sub.Model
	}
	sessions := session.NewManager(st, rt, sessionService, models, cfg.Agent.HistoryReplay, log)

	// 12. WebSocket hub and scheduler wiring
	hub := gateway.NewHub(eventBus, log)
	go hub.Run(ctx)
	wsHandler := gateway.NewHandler(hub, sessions, log)

	sched.Inject(hub, sessions)
	hub.SetReplayTrigger(sched)
	if err := sched.Start(ctx); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// 13. HTTP server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(httpmw.Recovery(log))
	router.Use(httpmw.RequestLogger(log))
	router.Use(httpmw.CORS())
	router.Use(httpmw.OtelTracing("radbot"))

	apiServer := api.NewServer(st, database, sessions, sched, hub, wsHandler, mem, tel, log)
	apiServer.RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("Server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 14. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down radbot...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	sched.Shutdown()
	if err := flushTraces(shutdownCtx); err != nil {
		log.Error("Trace flush error", zap.Error(err))
	}

	log.Info("radbot stopped")
}

// telemetryPrices converts the config price table into the accumulator's
// type.
func telemetryPrices(cfg config.TelemetryConfig) map[string]telemetry.Price {
	prices := make(map[string]telemetry.Price, len(cfg.Prices))
	for prefix, p := range cfg.Prices {
		prices[prefix] = telemetry.Price{
			Input:  p.Input,
			Cached: p.Cached,
			Output: p.Output,
		}
	}
	return prices
}
