package workloop

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/traphq/trap/internal/agent"
	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/events/bus"
	"github.com/traphq/trap/internal/prompts"
	"github.com/traphq/trap/internal/task/models"
	"github.com/traphq/trap/internal/task/repository"
)

// WorkPhase claims at most one ready task per cycle and spawns its agent.
type WorkPhase struct {
	repo     repository.Repository
	agents   AgentManager
	capacity *Capacity
	builder  *prompts.Builder
	bus      bus.EventBus
	logger   *logger.Logger
}

// NewWorkPhase creates the work phase.
func NewWorkPhase(repo repository.Repository, agents AgentManager, capacity *Capacity, builder *prompts.Builder, eventBus bus.EventBus, log *logger.Logger) *WorkPhase {
	return &WorkPhase{
		repo:     repo,
		agents:   agents,
		capacity: capacity,
		builder:  builder,
		bus:      eventBus,
		logger:   log.WithFields(zap.String("phase", "work")),
	}
}

// Run claims and spawns one task for the project, preserving priority and
// position order across cycles.
func (p *WorkPhase) Run(ctx context.Context, project *models.Project) error {
	log := p.logger.WithProjectID(project.ID)

	if reason, ok := p.capacity.Admit(project, models.RoleDev); !ok {
		log.Info("capacity check failed", zap.String("reason", string(reason)))
		return nil
	}

	// Repository returns ready tasks sorted by priority rank then position.
	candidates, err := p.repo.ListTasksByProjectStatus(ctx, project.ID, models.TaskStatusReady)
	if err != nil {
		return fmt.Errorf("list ready tasks: %w", err)
	}

	for _, task := range candidates {
		role := task.Role
		if role == "" {
			role = models.RoleDev
		}

		if p.agents.Has(task.ID) || p.agents.IsRecentlyReaped(task.ID, role) {
			continue
		}

		incomplete, err := p.repo.ListIncompleteDependencies(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("check dependencies for %s: %w", task.ID, err)
		}
		if len(incomplete) > 0 {
			log.Debug("dependency blocked",
				zap.String("task_id", task.ID),
				zap.Int("incomplete", len(incomplete)))
			continue
		}

		claimed, err := p.repo.ClaimTask(ctx, task.ID)
		if err != nil {
			if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrDependencyNotMet) {
				log.Debug("claim failed", zap.String("task_id", task.ID), zap.Error(err))
				continue
			}
			return fmt.Errorf("claim task %s: %w", task.ID, err)
		}

		return p.spawn(ctx, project, claimed, role)
	}
	return nil
}

// spawn builds the prompt and launches the agent for a freshly claimed task.
// Any failure reverts the claim.
func (p *WorkPhase) spawn(ctx context.Context, project *models.Project, task *models.Task, role models.AgentRole) error {
	log := p.logger.WithProjectID(project.ID).WithTaskID(task.ID)

	model := task.AgentModel
	if model == "" {
		model = ModelForRole(role)
	}

	in := prompts.BuildInput{
		Role:         role,
		Model:        model,
		Task:         task,
		Project:      project,
		WorktreePath: worktreePath(project, task.ID),
	}
	if err := p.loadContext(ctx, task, &in); err != nil {
		return p.revert(ctx, task, fmt.Errorf("load prompt context: %w", err))
	}

	prompt, err := p.builder.Build(ctx, in)
	if err != nil {
		log.Error("prompt build failed", zap.String("role", string(role)), zap.Error(err))
		return p.revert(ctx, task, err)
	}

	handle, err := p.agents.Spawn(ctx, agent.SpawnRequest{
		TaskID:    task.ID,
		ProjectID: project.ID,
		Role:      role,
		Message:   prompt.Message,
		Model:     model,
	})
	if err != nil {
		log.Warn("spawn failed, reverting claim", zap.Error(err))
		return p.revert(ctx, task, err)
	}

	task.SessionID = handle.SessionKey
	task.AgentSessionKey = handle.SessionKey
	task.AgentModel = model
	task.AgentStartedAt = &handle.SpawnedAt
	task.AgentLastActiveAt = &handle.SpawnedAt
	if err := p.repo.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("persist agent fields for %s: %w", task.ID, err)
	}

	appendEvent(ctx, p.repo, task, models.EventStatusChanged, "work-loop",
		map[string]interface{}{"from": "ready", "to": "in_progress"})
	appendEvent(ctx, p.repo, task, models.EventAgentAssigned, "work-loop",
		map[string]interface{}{"role": string(role), "model": model, "session_key": handle.SessionKey})

	_ = p.bus.Publish(ctx, bus.SubjectAgentAssigned,
		bus.NewEvent("agent_assigned", "work-phase", map[string]interface{}{
			"task_id": task.ID, "project_id": project.ID, "role": string(role),
		}))

	log.Info("agent assigned",
		zap.String("role", string(role)),
		zap.String("model", model),
		zap.String("session_key", handle.SessionKey))
	return nil
}

// loadContext gathers answered signals and prior comments for the prompt.
func (p *WorkPhase) loadContext(ctx context.Context, task *models.Task, in *prompts.BuildInput) error {
	comments, err := p.repo.ListCommentsByTask(ctx, task.ID)
	if err != nil {
		return err
	}
	in.Comments = comments

	signals, err := p.repo.ListSignalsByTask(ctx, task.ID)
	if err != nil {
		return err
	}
	for _, s := range signals {
		if s.RespondedAt == nil {
			continue
		}
		in.SignalQA = append(in.SignalQA, prompts.QA{Question: s.Message, Answer: s.Response})
	}
	return nil
}

// revert undoes a claim after a failed spawn, returning the original error.
func (p *WorkPhase) revert(ctx context.Context, task *models.Task, cause error) error {
	if _, err := p.repo.UpdateTaskStatus(ctx, task.ID, models.TaskStatusReady); err != nil {
		p.logger.Error("claim revert failed",
			zap.String("task_id", task.ID), zap.Error(err))
	}
	return cause
}
