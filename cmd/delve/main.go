// Delve research server — plans, executes, and evaluates research sessions
// over HTTP with live event streaming.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/delvekit/delve/pkg/api"
	"github.com/delvekit/delve/pkg/cleanup"
	"github.com/delvekit/delve/pkg/config"
	"github.com/delvekit/delve/pkg/database"
	"github.com/delvekit/delve/pkg/eval"
	"github.com/delvekit/delve/pkg/events"
	"github.com/delvekit/delve/pkg/executor"
	"github.com/delvekit/delve/pkg/knowledge"
	"github.com/delvekit/delve/pkg/llm"
	"github.com/delvekit/delve/pkg/orchestrator"
	"github.com/delvekit/delve/pkg/plan"
	"github.com/delvekit/delve/pkg/tools"
	"github.com/delvekit/delve/pkg/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "./delve.yaml", "Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	slog.Info("Starting delve", "version", version.Full(), "config", *configPath)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database (connects, migrates)
	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database",
		"host", cfg.Database.Host, "database", cfg.Database.Database)

	// 3. Event streaming and persistence
	eventStore := events.NewStore(db)
	coordinator := events.NewCoordinator(eventStore)
	defer coordinator.Close()

	retention := cleanup.NewService(cfg.Retention, eventStore)
	retention.Start(ctx)
	defer retention.Stop()

	// 4. LLM client
	llmClient, err := llm.NewOpenAIClient(cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}

	// 5. Knowledge store
	knowledgeStore := knowledge.NewStore(db, llmClient)
	if cfg.Knowledge.BackfillOnStartup {
		if n, err := knowledgeStore.BackfillEmbeddings(ctx, cfg.Knowledge.BackfillBatchSize); err != nil {
			slog.Warn("Embedding backfill failed", "error", err)
		} else if n > 0 {
			slog.Info("Backfilled embeddings", "count", n)
		}
	}

	// 6. Tools
	toolRegistry := tools.NewRegistry()
	toolRegistry.Register(tools.ToolWebSearch, tools.NewWebSearchExecutor(cfg.WebSearch))
	toolRegistry.Register(tools.ToolWebFetch, tools.NewWebFetchExecutor())
	toolRegistry.Register(tools.ToolSynthesize, tools.NewSynthesizeExecutor(llmClient))
	toolRegistry.Register(tools.ToolKnowledgeSearch, tools.NewKnowledgeSearchExecutor(knowledgeStore))

	// 7. Planning, evaluation, execution
	evaluator := eval.NewCoordinator(llmClient, coordinator, cfg.Evaluation)
	decomposer := plan.NewDecomposer(llmClient, coordinator)
	planner := plan.NewPlanner(llmClient, coordinator, decomposer, cfg.Planner)
	phases := executor.NewPhaseExecutor(toolRegistry, coordinator, executor.NewMilestoneEmitter(coordinator))
	registry := executor.NewRegistry(phases, evaluator, llmClient, coordinator, cfg.Synthesis)

	// 8. Orchestrator
	controller := orchestrator.NewController(planner, registry, evaluator, coordinator, knowledgeStore, llmClient)
	runner := orchestrator.NewRunner(controller, cfg.Sessions)

	// 9. HTTP server
	server := api.NewServer(runner, knowledgeStore, eventStore, coordinator, db, cfg.Knowledge.Weights)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop accepting requests, let running sessions
	// finish, then flush the event persistence queue.
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		runner.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("All sessions drained")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded with sessions still running")
	}

	slog.Info("Delve stopped")
}
