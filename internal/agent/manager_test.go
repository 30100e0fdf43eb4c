package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/gateway"
	"github.com/traphq/trap/internal/task/models"
	"github.com/traphq/trap/internal/task/repository"
)

type fakeGateway struct {
	sends  []gateway.ChatSendRequest
	aborts []string
	err    error
}

func (f *fakeGateway) ChatSend(ctx context.Context, req gateway.ChatSendRequest) (*gateway.ChatSendResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sends = append(f.sends, req)
	return &gateway.ChatSendResult{RunID: "run-1", Status: "started"}, nil
}

func (f *fakeGateway) ChatAbort(ctx context.Context, sessionKey string) error {
	f.aborts = append(f.aborts, sessionKey)
	return f.err
}

func newTestManager(t *testing.T) (*Manager, *fakeGateway, *repository.MemoryRepository) {
	t.Helper()
	gw := &fakeGateway{}
	repo := repository.NewMemoryRepository()
	m := NewManager(gw, repo, 60*time.Second, logger.Default())
	return m, gw, repo
}

func TestSpawnRegistersHandle(t *testing.T) {
	m, gw, _ := newTestManager(t)

	h, err := m.Spawn(context.Background(), SpawnRequest{
		TaskID:    "task-1",
		ProjectID: "proj-1",
		Role:      models.RoleDev,
		Message:   "fix the bug",
		Model:     "kimi-for-coding",
	})
	require.NoError(t, err)
	assert.Equal(t, "workloop:dev:task-1", h.SessionKey)
	assert.True(t, m.Has("task-1"))

	require.Len(t, gw.sends, 1)
	assert.Equal(t, "workloop:dev:task-1", gw.sends[0].SessionKey)
	assert.Equal(t, "kimi-for-coding", gw.sends[0].Model)
}

func TestSpawnRejectsDuplicate(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Spawn(context.Background(), SpawnRequest{TaskID: "task-1", ProjectID: "p", Role: models.RoleDev})
	require.NoError(t, err)

	_, err = m.Spawn(context.Background(), SpawnRequest{TaskID: "task-1", ProjectID: "p", Role: models.RoleDev})
	assert.ErrorIs(t, err, ErrAgentExists)
}

func TestSpawnGatewayFailureLeavesNoHandle(t *testing.T) {
	m, gw, _ := newTestManager(t)
	gw.err = errors.New("gateway down")

	_, err := m.Spawn(context.Background(), SpawnRequest{TaskID: "task-1", ProjectID: "p", Role: models.RoleDev})
	require.Error(t, err)
	assert.False(t, m.Has("task-1"))
}

func TestActiveCountFilters(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Spawn(ctx, SpawnRequest{TaskID: "t1", ProjectID: "p1", Role: models.RoleDev})
	require.NoError(t, err)
	_, err = m.Spawn(ctx, SpawnRequest{TaskID: "t2", ProjectID: "p1", Role: models.RoleReviewer})
	require.NoError(t, err)
	_, err = m.Spawn(ctx, SpawnRequest{TaskID: "t3", ProjectID: "p2", Role: models.RoleDev})
	require.NoError(t, err)

	assert.Equal(t, 3, m.ActiveCount("", ""))
	assert.Equal(t, 2, m.ActiveCount("p1", ""))
	assert.Equal(t, 2, m.ActiveCount("", models.RoleDev))
	assert.Equal(t, 1, m.ActiveCount("p1", models.RoleDev))
	assert.Equal(t, 0, m.ActiveCount("p2", models.RoleReviewer))
}

func TestReapRemovesTerminalSessions(t *testing.T) {
	m, _, repo := newTestManager(t)
	ctx := context.Background()

	_, err := m.Spawn(ctx, SpawnRequest{TaskID: "t1", ProjectID: "p1", Role: models.RoleDev})
	require.NoError(t, err)
	_, err = m.Spawn(ctx, SpawnRequest{TaskID: "t2", ProjectID: "p1", Role: models.RoleDev})
	require.NoError(t, err)

	// t1's session ended, t2's is still active.
	require.NoError(t, repo.UpsertSession(ctx, &models.SessionRecord{
		SessionKey:   models.WorkLoopSessionKey(models.RoleDev, "t1"),
		Status:       models.SessionCompleted,
		LastActiveAt: time.Now(),
	}))
	require.NoError(t, repo.UpsertSession(ctx, &models.SessionRecord{
		SessionKey:   models.WorkLoopSessionKey(models.RoleDev, "t2"),
		Status:       models.SessionActive,
		LastActiveAt: time.Now(),
	}))

	reaped := m.Reap(ctx)
	require.Len(t, reaped, 1)
	assert.Equal(t, "t1", reaped[0].Handle.TaskID)
	assert.Equal(t, models.SessionCompleted, reaped[0].SessionStatus)
	assert.False(t, m.Has("t1"))
	assert.True(t, m.Has("t2"))

	// Second pass with nothing new is a no-op.
	assert.Empty(t, m.Reap(ctx))
}

func TestReapKeepsHandleWithoutSessionRow(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Spawn(ctx, SpawnRequest{TaskID: "t1", ProjectID: "p1", Role: models.RoleDev})
	require.NoError(t, err)

	assert.Empty(t, m.Reap(ctx))
	assert.True(t, m.Has("t1"))
}

func TestIsRecentlyReapedCooldown(t *testing.T) {
	m, _, repo := newTestManager(t)
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }

	_, err := m.Spawn(ctx, SpawnRequest{TaskID: "t1", ProjectID: "p1", Role: models.RoleDev})
	require.NoError(t, err)
	require.NoError(t, repo.UpsertSession(ctx, &models.SessionRecord{
		SessionKey:   models.WorkLoopSessionKey(models.RoleDev, "t1"),
		Status:       models.SessionStale,
		LastActiveAt: base,
	}))
	require.Len(t, m.Reap(ctx), 1)

	assert.True(t, m.IsRecentlyReaped("t1", models.RoleDev))
	assert.False(t, m.IsRecentlyReaped("t1", models.RoleReviewer))
	assert.False(t, m.IsRecentlyReaped("t2", models.RoleDev))

	m.now = func() time.Time { return base.Add(61 * time.Second) }
	assert.False(t, m.IsRecentlyReaped("t1", models.RoleDev))
}

func TestKillAbortsButKeepsHandle(t *testing.T) {
	m, gw, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Spawn(ctx, SpawnRequest{TaskID: "t1", ProjectID: "p1", Role: models.RoleDev})
	require.NoError(t, err)

	require.NoError(t, m.Kill(ctx, "t1"))
	assert.Equal(t, []string{"workloop:dev:t1"}, gw.aborts)
	assert.True(t, m.Has("t1"))

	// Killing an unknown task is a no-op.
	require.NoError(t, m.Kill(ctx, "missing"))
	assert.Len(t, gw.aborts, 1)
}

func TestKillAllAbortsEveryHandle(t *testing.T) {
	m, gw, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Spawn(ctx, SpawnRequest{TaskID: "t1", ProjectID: "p1", Role: models.RoleDev})
	require.NoError(t, err)
	_, err = m.Spawn(ctx, SpawnRequest{TaskID: "t2", ProjectID: "p1", Role: models.RoleReviewer})
	require.NoError(t, err)

	m.KillAll(ctx)
	assert.Len(t, gw.aborts, 2)
}
