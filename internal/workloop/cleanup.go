package workloop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/traphq/trap/internal/browser"
	"github.com/traphq/trap/internal/common/config"
	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/github"
	"github.com/traphq/trap/internal/task/models"
	"github.com/traphq/trap/internal/task/repository"
	"github.com/traphq/trap/internal/worktree"
)

// CleanupPhase reconciles tasks against reality: dead sessions, merged PRs,
// leftover worktrees, stale remote branches, and open browser tabs. Each step
// is independent; a failing step never stops the others.
type CleanupPhase struct {
	repo       repository.Repository
	gh         github.Client
	worktrees  *worktree.Cleaner
	tabs       *browser.Sweeper
	ghostGrace time.Duration
	logger     *logger.Logger

	now func() time.Time
}

// NewCleanupPhase creates the cleanup phase.
func NewCleanupPhase(repo repository.Repository, gh github.Client, worktrees *worktree.Cleaner, tabs *browser.Sweeper, cfg config.WorkLoopConfig, log *logger.Logger) *CleanupPhase {
	grace := cfg.GhostGraceDuration()
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	return &CleanupPhase{
		repo:       repo,
		gh:         gh,
		worktrees:  worktrees,
		tabs:       tabs,
		ghostGrace: grace,
		logger:     log.WithFields(zap.String("phase", "cleanup")),
		now:        time.Now,
	}
}

// Run executes all cleanup steps for one project.
func (p *CleanupPhase) Run(ctx context.Context, project *models.Project) error {
	log := p.logger.WithProjectID(project.ID)

	if err := p.ghostSweep(ctx, project); err != nil {
		log.Warn("ghost sweep failed", zap.Error(err))
	}

	merged, err := p.mergedPRSweep(ctx, project)
	if err != nil {
		log.Warn("merged-PR sweep failed", zap.Error(err))
	}

	if err := p.orphanWorktrees(ctx, project); err != nil {
		log.Warn("orphan worktree sweep failed", zap.Error(err))
	}

	if err := p.remoteBranches(ctx, project, merged); err != nil {
		log.Warn("remote branch sweep failed", zap.Error(err))
	}

	p.staleTabs(ctx, project)
	return nil
}

// ghostSweep finds tasks whose agent session is gone. An in_progress ghost is
// moved to blocked; an in_review ghost is only logged, a reviewer can be
// respawned for it next cycle.
func (p *CleanupPhase) ghostSweep(ctx context.Context, project *models.Project) error {
	for _, status := range []models.TaskStatus{models.TaskStatusInProgress, models.TaskStatusInReview} {
		tasks, err := p.repo.ListTasksByProjectStatus(ctx, project.ID, status)
		if err != nil {
			return fmt.Errorf("list %s tasks: %w", status, err)
		}
		for _, task := range tasks {
			if task.AgentSessionKey == "" {
				continue
			}
			ghost, err := p.isGhost(ctx, task)
			if err != nil {
				return err
			}
			if !ghost {
				continue
			}

			if status == models.TaskStatusInReview {
				p.logger.Info("ghost in_review task",
					zap.String("task_id", task.ID),
					zap.String("session_key", task.AgentSessionKey))
				continue
			}
			if err := p.blockGhost(ctx, task); err != nil {
				p.logger.Warn("ghost block failed",
					zap.String("task_id", task.ID), zap.Error(err))
			}
		}
	}
	return nil
}

// isGhost checks the task's session row: terminal means ghost; a missing row
// is a ghost only after the task has been in flight past the grace window.
func (p *CleanupPhase) isGhost(ctx context.Context, task *models.Task) (bool, error) {
	session, err := p.repo.GetSession(ctx, task.AgentSessionKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			since := task.UpdatedAt
			if task.AgentStartedAt != nil {
				since = *task.AgentStartedAt
			}
			return p.now().Sub(since) > p.ghostGrace, nil
		}
		return false, fmt.Errorf("read session %s: %w", task.AgentSessionKey, err)
	}
	return session.IsTerminal(), nil
}

func (p *CleanupPhase) blockGhost(ctx context.Context, task *models.Task) error {
	sessionKey := task.AgentSessionKey

	updated, err := p.repo.UpdateTaskStatus(ctx, task.ID, models.TaskStatusBlocked)
	if err != nil {
		return err
	}
	updated.AgentSessionKey = ""
	updated.SessionID = ""
	updated.AgentRetryCount = 0
	if err := p.repo.UpdateTask(ctx, updated); err != nil {
		return err
	}

	appendEvent(ctx, p.repo, updated, models.EventStatusChanged, "work-loop",
		map[string]interface{}{
			"from": "in_progress", "to": "blocked",
			"reason": "ghost_session", "session_key": sessionKey,
		})
	systemComment(ctx, p.repo, updated.ID,
		"Agent session ended without completing the task; moved to blocked for triage.")

	p.logger.Info("ghost task blocked",
		zap.String("task_id", task.ID),
		zap.String("session_key", sessionKey))
	return nil
}

// mergedPRSweep completes non-done tasks whose PR merged outside the review
// phase. Returns the merged PR set keyed by number for the branch sweep.
func (p *CleanupPhase) mergedPRSweep(ctx context.Context, project *models.Project) (map[int]*github.PR, error) {
	if project.GithubRepo == "" {
		return nil, nil
	}

	tasks, err := p.repo.ListTasksWithOpenPR(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("list tasks with PRs: %w", err)
	}

	mergedPRs, err := p.gh.ListMergedPRs(ctx, project.GithubRepo, 0)
	if err != nil {
		return nil, fmt.Errorf("list merged PRs: %w", err)
	}
	merged := make(map[int]*github.PR, len(mergedPRs))
	for _, pr := range mergedPRs {
		merged[pr.Number] = pr
	}

	for _, task := range tasks {
		pr, ok := merged[task.PRNumber]
		if !ok {
			continue
		}

		updated, err := p.repo.UpdateTaskStatus(ctx, task.ID, models.TaskStatusDone)
		if err != nil {
			p.logger.Warn("merged-PR completion failed",
				zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		updated.Resolution = models.ResolutionMerged
		if err := p.repo.UpdateTask(ctx, updated); err != nil {
			p.logger.Warn("merged-PR resolution update failed",
				zap.String("task_id", task.ID), zap.Error(err))
			continue
		}

		appendEvent(ctx, p.repo, updated, models.EventPRMerged, "work-loop",
			map[string]interface{}{"pr_number": pr.Number})
		systemComment(ctx, p.repo, updated.ID,
			fmt.Sprintf("PR #%d was merged; task auto-completed.", pr.Number))

		p.logger.Info("task auto-completed via merged PR",
			zap.String("task_id", task.ID),
			zap.Int("pr_number", pr.Number))
	}
	return merged, nil
}

// orphanWorktrees removes worktree directories that no live task owns.
func (p *CleanupPhase) orphanWorktrees(ctx context.Context, project *models.Project) error {
	if project.LocalPath == "" {
		return nil
	}

	protected, err := p.protectedShortIDs(ctx, project)
	if err != nil {
		return err
	}
	_, err = p.worktrees.Sweep(ctx, project.LocalPath, protected)
	return err
}

// protectedShortIDs collects the short ids of every task that may still own
// a worktree. Only done tasks give up their directories.
func (p *CleanupPhase) protectedShortIDs(ctx context.Context, project *models.Project) (map[string]bool, error) {
	protected := make(map[string]bool)
	statuses := []models.TaskStatus{
		models.TaskStatusBacklog, models.TaskStatusReady,
		models.TaskStatusInProgress, models.TaskStatusInReview,
		models.TaskStatusBlocked,
	}
	for _, status := range statuses {
		tasks, err := p.repo.ListTasksByProjectStatus(ctx, project.ID, status)
		if err != nil {
			return nil, fmt.Errorf("list %s tasks: %w", status, err)
		}
		for _, task := range tasks {
			protected[models.ShortID(task.ID)] = true
		}
	}
	return protected, nil
}

// remoteBranches deletes merged remote branches of done tasks.
func (p *CleanupPhase) remoteBranches(ctx context.Context, project *models.Project, merged map[int]*github.PR) error {
	if project.GithubRepo == "" || len(merged) == 0 {
		return nil
	}

	done, err := p.repo.ListTasksByProjectStatus(ctx, project.ID, models.TaskStatusDone)
	if err != nil {
		return fmt.Errorf("list done tasks: %w", err)
	}
	for _, task := range done {
		if task.Branch == "" || task.PRNumber == 0 {
			continue
		}
		if _, ok := merged[task.PRNumber]; !ok {
			continue
		}
		if err := p.gh.DeleteRemoteBranch(ctx, project.GithubRepo, task.Branch); err != nil {
			p.logger.Debug("remote branch delete failed",
				zap.String("branch", task.Branch), zap.Error(err))
		}
	}
	return nil
}

// staleTabs closes browser tabs left open for done tasks. Best effort.
func (p *CleanupPhase) staleTabs(ctx context.Context, project *models.Project) {
	if p.tabs == nil || !p.tabs.Enabled() {
		return
	}
	done, err := p.repo.ListTasksByProjectStatus(ctx, project.ID, models.TaskStatusDone)
	if err != nil {
		p.logger.Debug("tab sweep task list failed", zap.Error(err))
		return
	}
	shortIDs := make([]string, 0, len(done))
	for _, task := range done {
		shortIDs = append(shortIDs, models.ShortID(task.ID))
	}
	p.tabs.CloseTaskTabs(ctx, shortIDs)
}
