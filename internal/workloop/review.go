package workloop

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/traphq/trap/internal/agent"
	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/github"
	"github.com/traphq/trap/internal/prompts"
	"github.com/traphq/trap/internal/task/models"
	"github.com/traphq/trap/internal/task/repository"
)

// ReviewPhase spawns reviewer agents for in_review tasks that have an open
// pull request.
type ReviewPhase struct {
	repo     repository.Repository
	agents   AgentManager
	capacity *Capacity
	builder  *prompts.Builder
	gh       github.Client
	logger   *logger.Logger
}

// NewReviewPhase creates the review phase.
func NewReviewPhase(repo repository.Repository, agents AgentManager, capacity *Capacity, builder *prompts.Builder, gh github.Client, log *logger.Logger) *ReviewPhase {
	return &ReviewPhase{
		repo:     repo,
		agents:   agents,
		capacity: capacity,
		builder:  builder,
		gh:       gh,
		logger:   log.WithFields(zap.String("phase", "review")),
	}
}

// Run walks the project's in_review tasks and hands each one without a live
// reviewer to a new reviewer agent, capacity permitting.
func (p *ReviewPhase) Run(ctx context.Context, project *models.Project) error {
	if project.GithubRepo == "" {
		return nil
	}
	log := p.logger.WithProjectID(project.ID)

	tasks, err := p.repo.ListTasksByProjectStatus(ctx, project.ID, models.TaskStatusInReview)
	if err != nil {
		return fmt.Errorf("list in_review tasks: %w", err)
	}

	for _, task := range tasks {
		if p.agents.Has(task.ID) || p.agents.IsRecentlyReaped(task.ID, models.RoleReviewer) {
			continue
		}

		branch := task.BranchName()
		pr, err := p.lookupPR(ctx, project, task, branch)
		if err != nil {
			log.Warn("PR lookup failed", zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		if pr == nil {
			continue
		}
		if pr.IsMerged() {
			if err := p.completeMerged(ctx, task, pr); err != nil {
				log.Warn("merged-PR completion failed",
					zap.String("task_id", task.ID), zap.Error(err))
			}
			continue
		}
		if pr.State != "OPEN" {
			continue
		}

		if reason, ok := p.capacity.Admit(project, models.RoleReviewer); !ok {
			log.Info("capacity check failed", zap.String("reason", string(reason)))
			return nil
		}

		if err := p.spawnReviewer(ctx, project, task, pr, branch); err != nil {
			log.Warn("reviewer spawn failed", zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
	}
	return nil
}

func (p *ReviewPhase) lookupPR(ctx context.Context, project *models.Project, task *models.Task, branch string) (*github.PR, error) {
	if task.PRNumber > 0 {
		return p.gh.GetPR(ctx, project.GithubRepo, task.PRNumber)
	}
	return p.gh.FindPRByBranch(ctx, project.GithubRepo, branch)
}

// completeMerged transitions a task whose PR merged outside the review loop.
func (p *ReviewPhase) completeMerged(ctx context.Context, task *models.Task, pr *github.PR) error {
	updated, err := p.repo.UpdateTaskStatus(ctx, task.ID, models.TaskStatusDone)
	if err != nil {
		return err
	}
	updated.Resolution = models.ResolutionMerged
	if err := p.repo.UpdateTask(ctx, updated); err != nil {
		return err
	}

	appendEvent(ctx, p.repo, updated, models.EventPRMerged, "work-loop",
		map[string]interface{}{"pr_number": pr.Number})
	systemComment(ctx, p.repo, updated.ID,
		fmt.Sprintf("PR #%d was merged; task completed.", pr.Number))

	p.logger.Info("task completed via merged PR",
		zap.String("task_id", task.ID), zap.Int("pr_number", pr.Number))
	return nil
}

func (p *ReviewPhase) spawnReviewer(ctx context.Context, project *models.Project, task *models.Task, pr *github.PR, branch string) error {
	model := ModelForRole(models.RoleReviewer)
	prompt, err := p.builder.Build(ctx, prompts.BuildInput{
		Role:         models.RoleReviewer,
		Model:        model,
		Task:         task,
		Project:      project,
		WorktreePath: worktreePath(project, task.ID),
		PRNumber:     pr.Number,
		Branch:       branch,
	})
	if err != nil {
		return err
	}

	handle, err := p.agents.Spawn(ctx, agent.SpawnRequest{
		TaskID:    task.ID,
		ProjectID: project.ID,
		Role:      models.RoleReviewer,
		Message:   prompt.Message,
		Model:     model,
	})
	if err != nil {
		return err
	}

	task.SessionID = handle.SessionKey
	task.AgentSessionKey = handle.SessionKey
	task.AgentModel = model
	task.AgentStartedAt = &handle.SpawnedAt
	task.AgentLastActiveAt = &handle.SpawnedAt
	if task.PRNumber == 0 {
		task.PRNumber = pr.Number
	}
	if err := p.repo.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("persist reviewer fields: %w", err)
	}

	appendEvent(ctx, p.repo, task, models.EventAgentAssigned, "work-loop",
		map[string]interface{}{
			"role": string(models.RoleReviewer), "model": model,
			"session_key": handle.SessionKey, "pr_number": pr.Number,
		})

	p.logger.Info("reviewer assigned",
		zap.String("task_id", task.ID),
		zap.Int("pr_number", pr.Number),
		zap.String("session_key", handle.SessionKey))
	return nil
}
