// Package triage implements the coordinator operations over blocked tasks:
// unblock, reassign, split, kill, and escalate. Every operation records an
// audit event and an explanatory comment.
package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/notifications"
	"github.com/traphq/trap/internal/task/models"
	"github.com/traphq/trap/internal/task/repository"
)

// ErrNotBlocked indicates a triage operation was attempted on a task that is
// not in the blocked state.
var ErrNotBlocked = errors.New("task is not blocked")

// SubtaskSpec describes one subtask created by a split.
type SubtaskSpec struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Priority    models.TaskPriority `json:"priority,omitempty"`
	Role        models.AgentRole    `json:"role,omitempty"`
}

// Service executes triage operations.
type Service struct {
	repo     repository.Repository
	notifier *notifications.Service
	logger   *logger.Logger
}

// NewService creates a triage service.
func NewService(repo repository.Repository, notifier *notifications.Service, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   log.WithFields(zap.String("component", "triage")),
	}
}

// Unblock moves a blocked task back to ready, resetting retry and escalation
// state.
func (s *Service) Unblock(ctx context.Context, taskID, actor string) (*models.Task, error) {
	task, err := s.requireBlocked(ctx, taskID)
	if err != nil {
		return nil, err
	}

	task, err = s.transitionToReady(ctx, task)
	if err != nil {
		return nil, err
	}

	s.record(ctx, task, actor, models.EventStatusChanged,
		map[string]interface{}{"from": "blocked", "to": "ready", "operation": "unblock"},
		fmt.Sprintf("Unblocked by %s; task returned to ready.", actor))
	return task, nil
}

// Reassign moves a blocked task back to ready with a new role and/or model.
func (s *Service) Reassign(ctx context.Context, taskID, actor string, role models.AgentRole, model string) (*models.Task, error) {
	task, err := s.requireBlocked(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if role != "" {
		task.Role = role
	}
	if model != "" {
		task.AgentModel = model
	}
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	task, err = s.transitionToReady(ctx, task)
	if err != nil {
		return nil, err
	}
	// transitionToReady clears agent fields; keep the requested model as the
	// hint for the next spawn.
	if model != "" {
		task.AgentModel = model
		if err := s.repo.UpdateTask(ctx, task); err != nil {
			return nil, err
		}
	}

	detail := "Reassigned by " + actor
	if role != "" {
		detail += " to role " + string(role)
	}
	if model != "" {
		detail += " with model " + model
	}
	s.record(ctx, task, actor, models.EventStatusChanged,
		map[string]interface{}{
			"from": "blocked", "to": "ready", "operation": "reassign",
			"role": string(role), "model": model,
		},
		detail+".")
	return task, nil
}

// Split closes a blocked task and creates its subtasks in backlog.
func (s *Service) Split(ctx context.Context, taskID, actor string, specs []SubtaskSpec) (*models.Task, []*models.Task, error) {
	task, err := s.requireBlocked(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if len(specs) == 0 {
		return nil, nil, errors.New("split requires at least one subtask")
	}

	subtasks := make([]*models.Task, 0, len(specs))
	subtaskIDs := make([]string, 0, len(specs))
	for i, spec := range specs {
		priority := spec.Priority
		if priority == "" {
			priority = task.Priority
		}
		sub := &models.Task{
			ID:          uuid.New().String(),
			ProjectID:   task.ProjectID,
			Title:       spec.Title,
			Description: spec.Description,
			Status:      models.TaskStatusBacklog,
			Priority:    priority,
			Role:        spec.Role,
			Position:    i,
		}
		if err := s.repo.CreateTask(ctx, sub); err != nil {
			return nil, nil, fmt.Errorf("create subtask %q: %w", spec.Title, err)
		}
		subtasks = append(subtasks, sub)
		subtaskIDs = append(subtaskIDs, sub.ID)
	}

	task.Resolution = models.ResolutionDiscarded
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		return nil, nil, err
	}
	task, err = s.repo.UpdateTaskStatus(ctx, task.ID, models.TaskStatusDone)
	if err != nil {
		return nil, nil, err
	}

	s.record(ctx, task, actor, models.EventStatusChanged,
		map[string]interface{}{
			"from": "blocked", "to": "done", "operation": "split",
			"subtask_ids": subtaskIDs,
		},
		fmt.Sprintf("Split by %s into %d subtasks: %s.", actor, len(subtasks), strings.Join(subtaskIDs, ", ")))
	return task, subtasks, nil
}

// Kill returns a blocked task to backlog with a reason.
func (s *Service) Kill(ctx context.Context, taskID, actor, reason string) (*models.Task, error) {
	task, err := s.requireBlocked(ctx, taskID)
	if err != nil {
		return nil, err
	}

	task, err = s.repo.UpdateTaskStatus(ctx, task.ID, models.TaskStatusBacklog)
	if err != nil {
		return nil, err
	}
	task.AgentRetryCount = 0
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("Killed by %s; task returned to backlog.", actor)
	if reason != "" {
		msg = fmt.Sprintf("Killed by %s: %s", actor, reason)
	}
	s.record(ctx, task, actor, models.EventStatusChanged,
		map[string]interface{}{
			"from": "blocked", "to": "backlog", "operation": "kill", "reason": reason,
		},
		msg)
	return task, nil
}

// Escalate flags a blocked task for human attention. The task stays blocked.
func (s *Service) Escalate(ctx context.Context, taskID, actor, reason string) (*models.Task, error) {
	task, err := s.requireBlocked(ctx, taskID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	task.Escalated = true
	task.EscalatedAt = &now
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	msg := "Escalated by " + actor + "."
	if reason != "" {
		msg = fmt.Sprintf("Escalated by %s: %s", actor, reason)
	}
	if _, err := s.notifier.Escalate(ctx, task, "Task escalated: "+task.Title, msg); err != nil {
		s.logger.Warn("escalation notification failed",
			zap.String("task_id", task.ID), zap.Error(err))
	}

	s.record(ctx, task, actor, models.EventTriageEscalated,
		map[string]interface{}{"operation": "escalate", "reason": reason},
		msg)
	return task, nil
}

// BlockerComment returns the comment describing why a task is blocked: the
// latest plain message comment. There is no dedicated blocker comment type.
func (s *Service) BlockerComment(ctx context.Context, taskID string) (*models.Comment, error) {
	comments, err := s.repo.ListCommentsByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var latest *models.Comment
	for _, c := range comments {
		if c.Type != models.CommentTypeMessage {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	return latest, nil
}

func (s *Service) requireBlocked(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusBlocked {
		return nil, fmt.Errorf("%w: task %s is %s", ErrNotBlocked, taskID, task.Status)
	}
	return task, nil
}

func (s *Service) transitionToReady(ctx context.Context, task *models.Task) (*models.Task, error) {
	task, err := s.repo.UpdateTaskStatus(ctx, task.ID, models.TaskStatusReady)
	if err != nil {
		return nil, err
	}
	task.AgentRetryCount = 0
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// record appends the audit event and the explanatory comment. Failures here
// are logged, not propagated; the state transition already happened.
func (s *Service) record(ctx context.Context, task *models.Task, actor string, eventType models.TaskEventType, data map[string]interface{}, comment string) {
	if err := s.repo.AppendTaskEvent(ctx, &models.TaskEvent{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Data:      data,
	}); err != nil {
		s.logger.Warn("audit event append failed",
			zap.String("task_id", task.ID), zap.Error(err))
	}

	if err := s.repo.CreateComment(ctx, &models.Comment{
		ID:         uuid.New().String(),
		TaskID:     task.ID,
		Author:     actor,
		AuthorType: models.AuthorCoordinator,
		Content:    comment,
		Type:       models.CommentTypeStatusChange,
	}); err != nil {
		s.logger.Warn("triage comment failed",
			zap.String("task_id", task.ID), zap.Error(err))
	}
}
