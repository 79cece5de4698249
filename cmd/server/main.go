// Portal Agent - citizen services assistant server
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/portal-agent/internal/actionlog"
	"github.com/ashureev/portal-agent/internal/agent"
	"github.com/ashureev/portal-agent/internal/api"
	"github.com/ashureev/portal-agent/internal/config"
	"github.com/ashureev/portal-agent/internal/extract"
	"github.com/ashureev/portal-agent/internal/identity"
	"github.com/ashureev/portal-agent/internal/llm"
	"github.com/ashureev/portal-agent/internal/middleware"
	"github.com/ashureev/portal-agent/internal/notify"
	"github.com/ashureev/portal-agent/internal/proactive"
	"github.com/ashureev/portal-agent/internal/shared"
	"github.com/ashureev/portal-agent/internal/store"
	"github.com/ashureev/portal-agent/internal/tools"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/openai/openai-go/option"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "portal-agent",
	Short:         "Citizen services portal assistant",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one proactive scan over all users and exit",
	RunE:  runScan,
}

func init() {
	rootCmd.AddCommand(serveCmd, scanCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// app holds the wired services shared by all commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     store.Store
	actions   *actionlog.Logger
	hub       *notify.Hub
	notifier  notify.Dispatcher
	triggers  *proactive.TriggerEngine
	cache     *proactive.Cache
	proactive *proactive.Service
	model     llm.Client
	registry  *tools.Registry
}

func setup() (*app, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	repo, err := store.NewSQLite(cfg.DBPath, store.WithRetryPolicy(shared.RetryPolicy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
	}))
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := repo.Ping(context.Background()); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}
	logger.Info("Database connected", "path", cfg.DBPath)

	a := &app{cfg: cfg, logger: logger, store: repo}
	a.actions = actionlog.New(repo, logger)

	a.hub = notify.NewHub(logger)
	if cfg.Notify.Enabled {
		a.notifier = notify.Multi{a.hub, notify.NewLogDispatcher(logger)}
	} else {
		a.notifier = notify.NewLogDispatcher(logger)
	}

	a.triggers = proactive.NewTriggerEngine(repo, proactive.WithTriggerLogger(logger))
	var predictorOpts []proactive.PredictorOption
	if cfg.Proactive.TopicsFile != "" {
		topics, err := proactive.LoadTopicsFile(cfg.Proactive.TopicsFile)
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("load topics: %w", err)
		}
		predictorOpts = append(predictorOpts, proactive.WithTopics(topics))
		logger.Info("Loaded topic table", "path", cfg.Proactive.TopicsFile, "topics", len(topics))
	}
	predictor, err := proactive.NewPredictor(repo, a.actions, logger, predictorOpts...)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("initialize predictor: %w", err)
	}
	a.cache = proactive.NewCache(cfg.Proactive.CacheTTL)
	a.proactive = proactive.NewService(a.cache, a.triggers, predictor, logger)

	deps := tools.Deps{
		Store:    repo,
		Actions:  a.actions,
		Notifier: a.notifier,
		Events:   a.triggers,
		Logger:   logger,
	}
	if cfg.Extract.URL != "" {
		deps.Extractor = extract.NewHTTPExtractor(cfg.Extract.URL, cfg.Timeout.Extract)
	}
	a.registry = tools.New(deps)

	if cfg.LLM.APIKey != "" {
		a.model = llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, logger,
			option.WithRequestTimeout(cfg.Timeout.LLM))
	} else {
		logger.Warn("LLM_API_KEY not set, only the rule-based fallback will answer")
	}
	return a, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close store", "error", err)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()
	cfg, logger := a.cfg, a.logger

	logger.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(),
		"autonomous", cfg.LLM.Autonomous && a.model != nil, "fallback", cfg.LLM.Fallback)

	agentDeps := agent.Deps{
		LLM:       a.model,
		Registry:  a.registry,
		Proactive: a.proactive,
		Store:     a.store,
		Actions:   a.actions,
		Logger:    logger,
	}
	agentCfg := agent.Config{
		MaxSteps:        cfg.LLM.MaxSteps,
		Temperature:     cfg.LLM.Temperature,
		BookkeepTimeout: cfg.Timeout.Bookkeep,
	}

	var executor *agent.Executor
	if a.model != nil {
		executor = agent.NewExecutor(agentDeps, agentCfg)
	}
	var fallback *agent.Fallback
	if cfg.LLM.Fallback || executor == nil {
		fallback, err = agent.NewFallback(agentDeps, agentCfg)
		if err != nil {
			return fmt.Errorf("initialize fallback: %w", err)
		}
	}
	chatService := agent.NewService(executor, fallback, cfg.LLM.Autonomous, logger)
	defer chatService.Wait()

	agentHandler := agent.NewHandler(chatService, agent.NewGreeter(agentDeps, agentCfg), a.actions, agent.HandlerConfig{
		RateLimit:         cfg.RateLimit.Requests,
		RateWindow:        cfg.RateLimit.Window,
		KeepaliveInterval: cfg.SSE.KeepaliveInterval,
		GreetingTimeout:   cfg.Timeout.Greeting,
	}, logger)
	defer agentHandler.Close()

	baseHandler := api.NewHandler(a.store, a.model, a.proactive, a.actions, cfg, logger)
	verifier := identity.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.AllowHeader)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	// Public routes.
	r.Get("/health", baseHandler.Health)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(verifier))
		api.NewAccountHandler(baseHandler).RegisterRoutes(r)
		api.NewProactiveHandler(baseHandler).RegisterRoutes(r)
		agentHandler.RegisterRoutes(r)
		r.Get("/ws/notifications", notify.NewHandler(a.hub, cfg.FrontendURL, cfg.IsDevelopment()).ServeHTTP)
	})

	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.cache.StartSweeper(ctx, cfg.Proactive.SweepInterval)

	if cfg.Proactive.ScanEnabled {
		scanner := proactive.NewScanner(a.store, a.triggers, a.notifier, logger)
		go func() {
			if err := scanner.Start(ctx, cfg.Proactive.ScanSchedule); err != nil {
				logger.Error("Proactive scanner stopped", "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}
	stop()

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.hub.Close()

	logger.Info("Server stopped successfully")
	return nil
}

func runScan(cmd *cobra.Command, _ []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	scanner := proactive.NewScanner(a.store, a.triggers, a.notifier, a.logger)
	result, err := scanner.ScanAll(cmd.Context())
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" || cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
