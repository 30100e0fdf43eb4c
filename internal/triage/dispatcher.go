package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/task/models"
	"github.com/traphq/trap/internal/task/repository"
)

// ChatPoster posts a message into a project chat on the coordinator's behalf.
// The board HTTP API client satisfies this.
type ChatPoster interface {
	PostChatMessage(ctx context.Context, chatID, author, content string) error
}

// dispatchAuthor is the author name used for triage dispatch messages.
const dispatchAuthor = "trap-supervisor"

// Dispatcher surfaces newly blocked tasks in the project chat so the
// coordinator sees them without polling the board. A task is dispatched once;
// triage_sent_at marks it done and the gate stops counting it as pending.
type Dispatcher struct {
	repo   repository.Repository
	poster ChatPoster
	logger *logger.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(repo repository.Repository, poster ChatPoster, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		repo:   repo,
		poster: poster,
		logger: log.WithFields(zap.String("component", "triage_dispatcher")),
	}
}

// DispatchPending posts one chat message per blocked task that has not been
// dispatched yet, then stamps triage_sent_at and records a triage_sent event.
// A failed post leaves the task undispatched so the next run retries it.
// Returns the number of tasks dispatched.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	tasks, err := d.repo.ListTasksByStatus(ctx, models.TaskStatusBlocked)
	if err != nil {
		return 0, fmt.Errorf("list blocked tasks: %w", err)
	}

	dispatched := 0
	for _, task := range tasks {
		if task.TriageSentAt != nil {
			continue
		}
		if err := d.dispatch(ctx, task); err != nil {
			d.logger.Warn("triage dispatch failed",
				zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, task *models.Task) error {
	project, err := d.repo.GetProject(ctx, task.ProjectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}

	if err := d.poster.PostChatMessage(ctx, project.Slug, dispatchAuthor, d.message(ctx, task)); err != nil {
		return fmt.Errorf("post chat message: %w", err)
	}

	now := time.Now().UTC()
	task.TriageSentAt = &now
	if err := d.repo.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("stamp triage_sent_at: %w", err)
	}

	if err := d.repo.AppendTaskEvent(ctx, &models.TaskEvent{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
		EventType: models.EventTriageSent,
		Timestamp: now,
		Actor:     dispatchAuthor,
		Data:      map[string]interface{}{"chat_id": project.Slug},
	}); err != nil {
		d.logger.Warn("audit event append failed",
			zap.String("task_id", task.ID), zap.Error(err))
	}

	d.logger.Info("dispatched blocked task for triage",
		zap.String("task_id", task.ID), zap.String("project", project.Slug))
	return nil
}

// message renders the dispatch text. The latest plain comment usually holds
// the agent's blocker explanation; include it when present.
func (d *Dispatcher) message(ctx context.Context, task *models.Task) string {
	msg := fmt.Sprintf("Task blocked and awaiting triage: %q (role %s, %d retries).",
		task.Title, task.Role, task.AgentRetryCount)
	comments, err := d.repo.ListCommentsByTask(ctx, task.ID)
	if err != nil {
		return msg
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
	if latest != nil {
		msg += " Last agent note: " + latest.Content
	}
	return msg
}
