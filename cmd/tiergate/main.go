package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	tghttp "github.com/tiergate/tiergate/internal/adapter/http"
	"github.com/tiergate/tiergate/internal/adapter/llm"
	tgnats "github.com/tiergate/tiergate/internal/adapter/nats"
	"github.com/tiergate/tiergate/internal/adapter/otel"
	"github.com/tiergate/tiergate/internal/adapter/postgres"
	"github.com/tiergate/tiergate/internal/adapter/ristretto"
	"github.com/tiergate/tiergate/internal/adapter/tools"
	"github.com/tiergate/tiergate/internal/adapter/ws"
	"github.com/tiergate/tiergate/internal/config"
	"github.com/tiergate/tiergate/internal/domain/workflow"
	"github.com/tiergate/tiergate/internal/logger"
	"github.com/tiergate/tiergate/internal/middleware"
	"github.com/tiergate/tiergate/internal/resilience"
	"github.com/tiergate/tiergate/internal/router"
	"github.com/tiergate/tiergate/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(logger.New(cfg.Logging))

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"judge_enabled", cfg.Router.JudgeEnabled,
		"safe_mode", cfg.SafeMode.Enabled,
	)

	ctx := context.Background()

	// --- Telemetry ---
	if cfg.Telemetry.Enabled {
		shutdown, err := otel.InitMetrics(ctx, cfg.Logging.Service, cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("otel: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Warn("otel shutdown", "error", err)
			}
		}()
	}
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metric instruments: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS
	queue, err := tgnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	// Decision cache
	decisionCache, err := ristretto.New(cfg.Cache.MaxBytes)
	if err != nil {
		return fmt.Errorf("decision cache: %w", err)
	}
	defer decisionCache.Close()

	// Workflow graphs
	workflows, err := workflow.LoadDir(cfg.Workflow.Dir)
	if err != nil {
		return fmt.Errorf("workflows: %w", err)
	}
	slog.Info("workflows loaded", "count", len(workflows.Names()), "names", workflows.Names())

	// --- Decision engine ---
	judgeClient := llm.NewClient(cfg.Judge.URL, cfg.Judge.APIKey, cfg.Judge.Timeout)
	judgeClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	var judge *router.Judge
	if cfg.Router.JudgeEnabled {
		judge = router.NewJudge(judgeClient, cfg.Judge)
	}
	var safeMode *router.SafeMode
	if cfg.SafeMode.Enabled {
		safeMode = router.NewSafeMode(cfg.SafeMode)
	}

	engine := router.NewEngine(cfg.Router, router.NewClassifier(), judge, safeMode)
	engine.SetDecisionCache(decisionCache)
	engine.SetMetrics(metrics)

	// --- Orchestration ---
	hub := ws.NewHub()
	eventStore := postgres.NewEventStore(pool)
	runStore := postgres.NewRunStore(pool)
	sagaStore := postgres.NewSagaStore(pool)

	toolRunner := tools.NewHTTPRunner(cfg.Tools.URL, cfg.Tools.Timeout)
	toolRunner.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	sagaSvc := service.NewSagaService(sagaStore, eventStore, toolRunner, hub, cfg.Saga)
	sagaSvc.SetMetrics(metrics)

	executor := service.NewGraphExecutor()
	registerNodeRunners(executor, judgeClient, toolRunner, cfg)

	orchestrator := service.NewOrchestratorService(runStore, eventStore, executor, workflows, queue, hub)
	orchestrator.SetMetrics(metrics)

	// --- HTTP ---
	handlers := &tghttp.Handlers{
		Router:       engine,
		Orchestrator: orchestrator,
		Sagas:        sagaSvc,
		Hub:          hub,
		Workflows:    workflows.Names(),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(tghttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.TenantID)
	r.Use(tghttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(otel.HTTPMiddleware("tiergate-http"))

	tghttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-done:
		case <-gctx.Done():
		}
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// registerNodeRunners wires agent nodes to the LLM client and tool nodes to
// the tool-execution service.
func registerNodeRunners(executor *service.GraphExecutor, client *llm.Client, runner *tools.HTTPRunner, cfg *config.Config) {
	executor.Register(workflow.NodeAgent, service.AgentNodeRunner(client, cfg.Judge.Model, cfg.Judge.MaxTokens))
	executor.Register(workflow.NodeTool, service.ToolNodeRunner(runner))
}
