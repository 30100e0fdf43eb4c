// Package notifications creates coordinator-facing alerts for escalations,
// input requests, and completions.
package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/events/bus"
	"github.com/traphq/trap/internal/task/models"
	"github.com/traphq/trap/internal/task/repository"
)

// Service writes notifications and announces them on the event bus.
type Service struct {
	repo   repository.Repository
	bus    bus.EventBus
	logger *logger.Logger
}

// NewService creates a notification service.
func NewService(repo repository.Repository, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		bus:    eventBus,
		logger: log.WithFields(zap.String("component", "notifications")),
	}
}

// Escalate records a critical escalation notification for a task.
func (s *Service) Escalate(ctx context.Context, task *models.Task, title, message string) (*models.Notification, error) {
	return s.create(ctx, &models.Notification{
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
		Type:      models.NotificationEscalation,
		Severity:  models.NotificationCritical,
		Title:     title,
		Message:   message,
	})
}

// RequestInput records a notification for an agent asking a question.
func (s *Service) RequestInput(ctx context.Context, task *models.Task, agent, message string) (*models.Notification, error) {
	return s.create(ctx, &models.Notification{
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
		Type:      models.NotificationRequestInput,
		Severity:  models.NotificationWarning,
		Title:     "Agent needs input: " + task.Title,
		Message:   message,
		Agent:     agent,
	})
}

// Completed records an informational notification for a finished task.
func (s *Service) Completed(ctx context.Context, task *models.Task) (*models.Notification, error) {
	return s.create(ctx, &models.Notification{
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
		Type:      models.NotificationCompletion,
		Severity:  models.NotificationInfo,
		Title:     "Task completed: " + task.Title,
		Message:   task.Title,
	})
}

// System records a supervisor-level notification not tied to a task.
func (s *Service) System(ctx context.Context, severity models.NotificationSeverity, title, message string) (*models.Notification, error) {
	return s.create(ctx, &models.Notification{
		Type:     models.NotificationSystem,
		Severity: severity,
		Title:    title,
		Message:  message,
	})
}

func (s *Service) create(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now()

	if err := s.repo.CreateNotification(ctx, n); err != nil {
		return nil, err
	}

	if n.Type == models.NotificationEscalation {
		event := bus.NewEvent(string(n.Type), "notifications", map[string]interface{}{
			"task_id":    n.TaskID,
			"project_id": n.ProjectID,
			"title":      n.Title,
			"severity":   string(n.Severity),
		})
		if err := s.bus.Publish(ctx, bus.SubjectTriageEscalated, event); err != nil {
			s.logger.Warn("escalation publish failed", zap.Error(err))
		}
	}

	s.logger.Info("notification created",
		zap.String("type", string(n.Type)),
		zap.String("severity", string(n.Severity)),
		zap.String("task_id", n.TaskID))
	return n, nil
}
