// Package main is the setup-crons CLI. It registers one gateway cron job per
// enabled project so the work-loop gate fires on the project's schedule.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/traphq/trap/internal/common/config"
	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/gateway"
	"github.com/traphq/trap/internal/task/models"
	"github.com/traphq/trap/internal/task/repository"
)

const usage = `setup-crons registers work-loop cron jobs in the agent gateway.

For each enabled project with a local path and a GitHub repo it registers a
job named trap-work-loop-<slug> using the project's work_loop_schedule.

Usage:
  setup-crons [--help]

Configuration comes from the same sources as the supervisor (config.yaml,
TRAP_* and OPENCLAW_* environment variables).
`

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--help" || arg == "-h" {
			fmt.Print(usage)
			return
		}
		fmt.Fprintf(os.Stderr, "unknown argument: %s\n\n%s", arg, usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	repo, err := repository.NewSQLiteRepository(cfg.Database.Path)
	if err != nil {
		log.Error("failed to open database", zap.Error(err), zap.String("path", cfg.Database.Path))
		os.Exit(1)
	}
	defer func() { _ = repo.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	projects, err := repo.ListEnabledProjects(ctx)
	if err != nil {
		log.Error("failed to list projects", zap.Error(err))
		os.Exit(1)
	}

	gw := gateway.NewClient(cfg.Gateway, log)

	registered := 0
	for _, project := range projects {
		if project.LocalPath == "" || project.GithubRepo == "" {
			log.Info("skipping project without local path or github repo",
				zap.String("slug", project.Slug))
			continue
		}
		job := cronJobFor(project)
		if err := gw.CronAdd(ctx, job); err != nil {
			log.Error("failed to register cron job",
				zap.String("job_id", job.ID),
				zap.String("slug", project.Slug),
				zap.Error(err))
			os.Exit(1)
		}
		log.Info("registered cron job",
			zap.String("job_id", job.ID),
			zap.String("schedule", job.Schedule))
		registered++
	}

	log.Info("setup-crons complete", zap.Int("registered", registered))
}

// cronJobFor builds the gateway job for one project. The command invokes the
// per-project gate script inside the project checkout.
func cronJobFor(project *models.Project) gateway.CronJob {
	schedule := project.WorkLoopSchedule
	if schedule == "" {
		schedule = "*/5 * * * *"
	}
	return gateway.CronJob{
		ID:       "trap-work-loop-" + project.Slug,
		Schedule: schedule,
		Command:  fmt.Sprintf("cd %s && ./scripts/work-loop-gate.sh %s", project.LocalPath, project.Slug),
		Enabled:  true,
	}
}
