package notifications

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/events/bus"
	"github.com/traphq/trap/internal/task/models"
	"github.com/traphq/trap/internal/task/repository"
)

func TestEscalateCreatesCriticalNotification(t *testing.T) {
	repo := repository.NewMemoryRepository()
	eventBus := bus.NewMemoryEventBus(logger.Default())
	svc := NewService(repo, eventBus, logger.Default())
	ctx := context.Background()

	var mu sync.Mutex
	var received []*bus.Event
	_, err := eventBus.Subscribe(bus.SubjectTriageEscalated, func(ctx context.Context, e *bus.Event) error {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	task := &models.Task{ID: "t1", ProjectID: "p1", Title: "Broken build"}
	n, err := svc.Escalate(ctx, task, "Task escalated: Broken build", "triage gave up")
	require.NoError(t, err)
	assert.Equal(t, models.NotificationCritical, n.Severity)
	assert.Equal(t, models.NotificationEscalation, n.Type)
	assert.Equal(t, "t1", n.TaskID)

	count, err := repo.CountUnreadEscalations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "t1", received[0].Data["task_id"])
	mu.Unlock()
}

func TestCompletedIsInfoAndNotCountedAsEscalation(t *testing.T) {
	repo := repository.NewMemoryRepository()
	svc := NewService(repo, bus.NewMemoryEventBus(logger.Default()), logger.Default())
	ctx := context.Background()

	task := &models.Task{ID: "t1", ProjectID: "p1", Title: "Ship it"}
	n, err := svc.Completed(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationInfo, n.Severity)

	count, err := repo.CountUnreadEscalations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
