// Package main is the entry point for the trap supervisor. A single binary
// runs the work-loop scheduler and the HTTP surface together.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/traphq/trap/internal/agent"
	"github.com/traphq/trap/internal/browser"
	"github.com/traphq/trap/internal/common/config"
	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/events/bus"
	"github.com/traphq/trap/internal/gate"
	"github.com/traphq/trap/internal/gateway"
	"github.com/traphq/trap/internal/github"
	"github.com/traphq/trap/internal/httpapi"
	"github.com/traphq/trap/internal/notifications"
	"github.com/traphq/trap/internal/prompts"
	"github.com/traphq/trap/internal/server"
	"github.com/traphq/trap/internal/task/repository"
	"github.com/traphq/trap/internal/triage"
	"github.com/traphq/trap/internal/workloop"
	"github.com/traphq/trap/internal/worktree"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("Starting trap supervisor...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Event bus (in-memory unless NATS is configured)
	eventBus, err := bus.New(cfg.NATS, log)
	if err != nil {
		log.Fatal("Failed to connect to NATS", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer eventBus.Close()

	// 4. Store
	repo, err := repository.NewSQLiteRepository(cfg.Database.Path)
	if err != nil {
		log.Fatal("Failed to initialize SQLite database", zap.Error(err), zap.String("path", cfg.Database.Path))
	}
	defer func() { _ = repo.Close() }()
	log.Info("SQLite database initialized", zap.String("path", cfg.Database.Path))

	// 5. Gateway RPC client, session mirror, and agent manager
	gw := gateway.NewClient(cfg.Gateway, log)
	sessions := agent.NewMirror(gw, repo, log)
	agents := agent.NewManager(gw, repo, cfg.WorkLoop.ReapCooldownDuration(), log)

	// 6. GitHub client; fall back to a noop when the gh CLI is absent
	var gh github.Client
	if github.GHAvailable() {
		gh = github.NewGHClient(time.Duration(cfg.Worktree.GitTimeout) * time.Second)
	} else {
		log.Warn("gh CLI not found, PR reconciliation disabled")
		gh = github.NewNoopClient()
	}

	// 7. Supporting services
	worktrees := worktree.NewCleaner(cfg.Worktree, log)
	tabs := browser.NewSweeper(cfg.Browser, log)
	notifier := notifications.NewService(repo, eventBus, log)
	triageSvc := triage.NewService(repo, notifier, log)
	gateAgg := gate.NewAggregator(repo, cfg.WorkLoop)
	builder := prompts.NewBuilder(repo)

	// 8. Work-loop phases and scheduler
	capacity := workloop.NewCapacity(cfg.WorkLoop, agents)
	cleanupPhase := workloop.NewCleanupPhase(repo, gh, worktrees, tabs, cfg.WorkLoop, log)
	reviewPhase := workloop.NewReviewPhase(repo, agents, capacity, builder, gh, log)
	workPhase := workloop.NewWorkPhase(repo, agents, capacity, builder, eventBus, log)
	driver := workloop.NewCycleDriver(cleanupPhase, reviewPhase, workPhase, eventBus, log)
	supervisor := workloop.NewSupervisor(cfg.WorkLoop, repo, driver, agents, sessions, eventBus, log)
	supervisor.Start(ctx)
	log.Info("Work loop started")

	// Surface newly blocked tasks in the project chat when the board API is
	// reachable; the gate keeps flagging them either way.
	if cfg.API.BaseURL != "" {
		dispatcher := triage.NewDispatcher(repo, httpapi.NewClient(cfg.API), log)
		go runTriageDispatch(ctx, dispatcher, cfg.WorkLoop.TickIntervalDuration(), log)
	} else {
		log.Warn("Board API URL not configured, triage chat dispatch disabled")
	}

	// 9. HTTP server
	srv := server.New(cfg.Server, repo, gateAgg, triageSvc, log)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 10. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down trap supervisor...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	supervisor.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("trap supervisor stopped")
}

func runTriageDispatch(ctx context.Context, dispatcher *triage.Dispatcher, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := dispatcher.DispatchPending(ctx); err != nil {
				log.Error("triage dispatch run failed", zap.Error(err))
			}
		}
	}
}
