package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traphq/trap/internal/task/models"
)

// The suite runs against both implementations so the memory repository stays
// an honest stand-in for sqlite in higher-level tests.
func forEachRepo(t *testing.T, fn func(t *testing.T, repo Repository)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		repo := NewMemoryRepository()
		defer func() { _ = repo.Close() }()
		fn(t, repo)
	})
	t.Run("sqlite", func(t *testing.T) {
		repo, err := NewSQLiteRepository(":memory:")
		require.NoError(t, err)
		defer func() { _ = repo.Close() }()
		fn(t, repo)
	})
}

func newProject(t *testing.T, repo Repository) *models.Project {
	t.Helper()
	project := &models.Project{
		ID:               uuid.New().String(),
		Slug:             "webapp-" + models.ShortID(uuid.New().String()),
		Name:             "Webapp",
		ChatLayout:       models.ChatLayoutSlack,
		WorkLoopEnabled:  true,
		WorkLoopSchedule: "*/5 * * * *",
	}
	require.NoError(t, repo.CreateProject(context.Background(), project))
	return project
}

func newTask(t *testing.T, repo Repository, projectID string, status models.TaskStatus) *models.Task {
	t.Helper()
	task := &models.Task{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Title:     "task " + models.ShortID(uuid.New().String()),
		Status:    status,
		Priority:  models.TaskPriorityMedium,
		Role:      models.RoleDev,
	}
	require.NoError(t, repo.CreateTask(context.Background(), task))
	return task
}

func TestStatusTransitionAssignsFreshPosition(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		project := newProject(t, repo)

		// Both columns occupied at position 0.
		occupant := newTask(t, repo, project.ID, models.TaskStatusReady)
		blocked := newTask(t, repo, project.ID, models.TaskStatusBlocked)

		moved, err := repo.UpdateTaskStatus(ctx, blocked.ID, models.TaskStatusReady)
		require.NoError(t, err)
		assert.NotEqual(t, occupant.Position, moved.Position,
			"column entry must not collide with an existing position")
		assert.Equal(t, 1, moved.Position)
	})
}

func TestClaimTaskAssignsFreshPosition(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		project := newProject(t, repo)

		newTask(t, repo, project.ID, models.TaskStatusInProgress)
		ready := newTask(t, repo, project.ID, models.TaskStatusReady)

		claimed, err := repo.ClaimTask(ctx, ready.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusInProgress, claimed.Status)
		assert.Equal(t, 1, claimed.Position)
	})
}

func TestProjectCascadeDelete(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		project := newProject(t, repo)
		task := newTask(t, repo, project.ID, models.TaskStatusBacklog)

		require.NoError(t, repo.DeleteProject(ctx, project.ID))

		_, err := repo.GetProject(ctx, project.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.GetTask(ctx, task.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListEnabledProjects(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		enabled := newProject(t, repo)

		disabled := newProject(t, repo)
		disabled.WorkLoopEnabled = false
		require.NoError(t, repo.UpdateProject(ctx, disabled))

		projects, err := repo.ListEnabledProjects(ctx)
		require.NoError(t, err)
		require.Len(t, projects, 1)
		assert.Equal(t, enabled.ID, projects[0].ID)
	})
}

func TestUpdateTaskStatusSetsCompletedAt(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		project := newProject(t, repo)
		task := newTask(t, repo, project.ID, models.TaskStatusInReview)

		got, err := repo.UpdateTaskStatus(ctx, task.ID, models.TaskStatusDone)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusDone, got.Status)
		require.NotNil(t, got.CompletedAt)
	})
}

func TestUpdateTaskStatusClearsAgentFields(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		project := newProject(t, repo)
		task := newTask(t, repo, project.ID, models.TaskStatusInProgress)

		now := time.Now()
		task.SessionID = "s1"
		task.AgentSessionKey = models.WorkLoopSessionKey(models.RoleDev, task.ID)
		task.AgentModel = "moonshot/kimi-for-coding"
		task.AgentStartedAt = &now
		task.AgentRetryCount = 2
		require.NoError(t, repo.UpdateTask(ctx, task))

		got, err := repo.UpdateTaskStatus(ctx, task.ID, models.TaskStatusDone)
		require.NoError(t, err)
		assert.Empty(t, got.AgentSessionKey)
		assert.Empty(t, got.SessionID)
		assert.Empty(t, got.AgentModel)
		assert.Nil(t, got.AgentStartedAt)
		// Retry count is triage's to reset, not the transition's.
		assert.Equal(t, 2, got.AgentRetryCount)
	})
}

func TestUpdateTaskStatusClearsEscalation(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		project := newProject(t, repo)
		task := newTask(t, repo, project.ID, models.TaskStatusBlocked)

		now := time.Now()
		task.Escalated = true
		task.EscalatedAt = &now
		require.NoError(t, repo.UpdateTask(ctx, task))

		got, err := repo.UpdateTaskStatus(ctx, task.ID, models.TaskStatusReady)
		require.NoError(t, err)
		assert.False(t, got.Escalated)
		assert.Nil(t, got.EscalatedAt)
	})
}

func TestLeavingBacklogRequiresDependenciesDone(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		project := newProject(t, repo)
		blocker := newTask(t, repo, project.ID, models.TaskStatusInProgress)
		task := newTask(t, repo, project.ID, models.TaskStatusBacklog)

		require.NoError(t, repo.AddDependency(ctx, &models.TaskDependency{
			TaskID:      task.ID,
			DependsOnID: blocker.ID,
		}))

		_, err := repo.UpdateTaskStatus(ctx, task.ID, models.TaskStatusReady)
		assert.ErrorIs(t, err, ErrDependencyNotMet)

		_, err = repo.UpdateTaskStatus(ctx, blocker.ID, models.TaskStatusDone)
		require.NoError(t, err)

		got, err := repo.UpdateTaskStatus(ctx, task.ID, models.TaskStatusReady)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusReady, got.Status)
	})
}

func TestClaimTaskSingleWinner(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		project := newProject(t, repo)
		task := newTask(t, repo, project.ID, models.TaskStatusReady)

		const claimers = 8
		var wg sync.WaitGroup
		errs := make([]error, claimers)
		for i := 0; i < claimers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = repo.ClaimTask(ctx, task.ID)
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, ErrConflict)
			}
		}
		assert.Equal(t, 1, wins)

		got, err := repo.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusInProgress, got.Status)
	})
}

func TestClaimTaskChecksDependencies(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		project := newProject(t, repo)
		blocker := newTask(t, repo, project.ID, models.TaskStatusReady)
		task := newTask(t, repo, project.ID, models.TaskStatusReady)

		require.NoError(t, repo.AddDependency(ctx, &models.TaskDependency{
			TaskID:      task.ID,
			DependsOnID: blocker.ID,
		}))

		_, err := repo.ClaimTask(ctx, task.ID)
		assert.ErrorIs(t, err, ErrDependencyNotMet)
	})
}

func TestAddDependencyRejectsCycles(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		project := newProject(t, repo)
		a := newTask(t, repo, project.ID, models.TaskStatusBacklog)
		b := newTask(t, repo, project.ID, models.TaskStatusBacklog)
		c := newTask(t, repo, project.ID, models.TaskStatusBacklog)

		require.Error(t, repo.AddDependency(ctx, &models.TaskDependency{
			TaskID:      a.ID,
			DependsOnID: a.ID,
		}), "self-edge")

		require.NoError(t, repo.AddDependency(ctx, &models.TaskDependency{TaskID: a.ID, DependsOnID: b.ID}))
		require.NoError(t, repo.AddDependency(ctx, &models.TaskDependency{TaskID: b.ID, DependsOnID: c.ID}))

		err := repo.AddDependency(ctx, &models.TaskDependency{TaskID: c.ID, DependsOnID: a.ID})
		assert.Error(t, err, "transitive cycle")
	})
}

func TestMoveTaskKeepsPositionsDense(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		project := newProject(t, repo)
		first := newTask(t, repo, project.ID, models.TaskStatusBacklog)
		second := newTask(t, repo, project.ID, models.TaskStatusBacklog)
		third := newTask(t, repo, project.ID, models.TaskStatusBacklog)
		for i, task := range []*models.Task{first, second, third} {
			task.Position = i
			require.NoError(t, repo.UpdateTask(ctx, task))
		}

		require.NoError(t, repo.MoveTask(ctx, third.ID, models.TaskStatusBacklog, 0))

		tasks, err := repo.ListTasksByProjectStatus(ctx, project.ID, models.TaskStatusBacklog)
		require.NoError(t, err)
		require.Len(t, tasks, 3)

		order := []string{tasks[0].ID, tasks[1].ID, tasks[2].ID}
		assert.Equal(t, []string{third.ID, first.ID, second.ID}, order)
		seen := map[int]bool{}
		for _, task := range tasks {
			assert.False(t, seen[task.Position], "duplicate position %d", task.Position)
			seen[task.Position] = true
		}
	})
}

func TestPendingSignalOrdering(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		project := newProject(t, repo)
		task := newTask(t, repo, project.ID, models.TaskStatusInProgress)

		mk := func(kind models.SignalKind, severity models.SignalSeverity, age time.Duration) *models.Signal {
			s := &models.Signal{
				ID:        uuid.New().String(),
				TaskID:    task.ID,
				Kind:      kind,
				Severity:  severity,
				Message:   string(severity),
				CreatedAt: time.Now().Add(-age),
			}
			require.NoError(t, repo.CreateSignal(ctx, s))
			return s
		}

		oldNormal := mk(models.SignalKindQuestion, models.SeverityNormal, 3*time.Hour)
		critical := mk(models.SignalKindBlocker, models.SeverityCritical, 2*time.Hour)
		newNormal := mk(models.SignalKindQuestion, models.SeverityNormal, time.Hour)
		mk(models.SignalKindFYI, models.SeverityCritical, time.Minute) // never blocking, never pending

		pending, err := repo.ListPendingSignals(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 3)
		assert.Equal(t, critical.ID, pending[0].ID)
		assert.Equal(t, newNormal.ID, pending[1].ID)
		assert.Equal(t, oldNormal.ID, pending[2].ID)
	})
}

func TestRespondToSignalOnce(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		project := newProject(t, repo)
		task := newTask(t, repo, project.ID, models.TaskStatusInProgress)

		signal := &models.Signal{
			ID:       uuid.New().String(),
			TaskID:   task.ID,
			Kind:     models.SignalKindBlocker,
			Severity: models.SeverityHigh,
			Message:  "need a decision",
			Blocking: true,
		}
		require.NoError(t, repo.CreateSignal(ctx, signal))

		require.NoError(t, repo.RespondToSignal(ctx, signal.ID, "go ahead"))
		assert.ErrorIs(t, repo.RespondToSignal(ctx, signal.ID, "again"), ErrAlreadyResponded)

		got, err := repo.GetSignal(ctx, signal.ID)
		require.NoError(t, err)
		assert.Equal(t, "go ahead", got.Response)
		assert.False(t, got.IsPending())
	})
}

func TestPromptVersionAutoIncrementAndActivate(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		v1 := &models.PromptVersion{ID: uuid.New().String(), Role: models.RoleDev, Content: "first"}
		require.NoError(t, repo.CreatePromptVersion(ctx, v1))
		assert.Equal(t, 1, v1.Version)

		v2 := &models.PromptVersion{ID: uuid.New().String(), Role: models.RoleDev, Content: "second"}
		require.NoError(t, repo.CreatePromptVersion(ctx, v2))
		assert.Equal(t, 2, v2.Version)

		active, err := repo.GetActivePromptVersion(ctx, models.RoleDev, "")
		require.NoError(t, err)
		assert.Equal(t, v2.ID, active.ID)

		versions, err := repo.ListPromptVersions(ctx, models.RoleDev)
		require.NoError(t, err)
		require.Len(t, versions, 2)

		// Other roles have their own scope.
		_, err = repo.GetActivePromptVersion(ctx, models.RolePM, "")
		assert.ErrorIs(t, err, ErrNoActivePrompt)
	})
}

func TestListTasksWithOpenPR(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		project := newProject(t, repo)

		withPR := newTask(t, repo, project.ID, models.TaskStatusInReview)
		withPR.PRNumber = 42
		require.NoError(t, repo.UpdateTask(ctx, withPR))

		done := newTask(t, repo, project.ID, models.TaskStatusDone)
		done.PRNumber = 7
		require.NoError(t, repo.UpdateTask(ctx, done))

		newTask(t, repo, project.ID, models.TaskStatusInProgress) // no PR

		tasks, err := repo.ListTasksWithOpenPR(ctx, project.ID)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, withPR.ID, tasks[0].ID)
	})
}

func TestSessionRoundTrip(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		key := models.WorkLoopSessionKey(models.RoleDev, uuid.New().String())

		_, err := repo.GetSession(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, repo.UpsertSession(ctx, &models.SessionRecord{
			SessionKey:   key,
			Status:       models.SessionActive,
			Model:        "moonshot/kimi-for-coding",
			LastActiveAt: time.Now(),
		}))
		require.NoError(t, repo.UpsertSession(ctx, &models.SessionRecord{
			SessionKey:   key,
			Status:       models.SessionCompleted,
			Model:        "moonshot/kimi-for-coding",
			LastActiveAt: time.Now(),
		}))

		got, err := repo.GetSession(ctx, key)
		require.NoError(t, err)
		assert.True(t, got.IsTerminal())

		require.NoError(t, repo.DeleteSession(ctx, key))
		_, err = repo.GetSession(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
