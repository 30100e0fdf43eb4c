package workloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/traphq/trap/internal/agent"
	"github.com/traphq/trap/internal/github"
	"github.com/traphq/trap/internal/task/models"
	"github.com/traphq/trap/internal/task/repository"
)

// fakeAgents is an in-test AgentManager.
type fakeAgents struct {
	mu        sync.Mutex
	handles   map[string]agent.Handle
	reaped    map[string]bool // taskID+":"+role
	reapQueue []agent.Reaped
	spawnErr  error
}

func newFakeAgents() *fakeAgents {
	return &fakeAgents{
		handles: make(map[string]agent.Handle),
		reaped:  make(map[string]bool),
	}
}

func (f *fakeAgents) Spawn(ctx context.Context, req agent.SpawnRequest) (*agent.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	now := time.Now()
	h := agent.Handle{
		TaskID:         req.TaskID,
		ProjectID:      req.ProjectID,
		Role:           req.Role,
		SessionKey:     models.WorkLoopSessionKey(req.Role, req.TaskID),
		Model:          req.Model,
		SpawnedAt:      now,
		LastActivityAt: now,
	}
	f.handles[req.TaskID] = h
	return &h, nil
}

func (f *fakeAgents) Has(taskID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handles[taskID]
	return ok
}

func (f *fakeAgents) ActiveCount(projectID string, role models.AgentRole) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, h := range f.handles {
		if projectID != "" && h.ProjectID != projectID {
			continue
		}
		if role != "" && h.Role != role {
			continue
		}
		count++
	}
	return count
}

func (f *fakeAgents) IsRecentlyReaped(taskID string, role models.AgentRole) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reaped[taskID+":"+string(role)]
}

func (f *fakeAgents) Reap(ctx context.Context) []agent.Reaped {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.reapQueue
	f.reapQueue = nil
	return out
}

func (f *fakeAgents) KillAll(ctx context.Context) {}

// fakeGH is an in-test github.Client.
type fakeGH struct {
	prs    map[int]*github.PR
	merged []*github.PR
}

func newFakeGH() *fakeGH {
	return &fakeGH{prs: make(map[int]*github.PR)}
}

func (f *fakeGH) GetPR(ctx context.Context, repo string, number int) (*github.PR, error) {
	return f.prs[number], nil
}

func (f *fakeGH) FindPRByBranch(ctx context.Context, repo, branch string) (*github.PR, error) {
	for _, pr := range f.prs {
		if github.BranchMatches(pr.HeadRefName, branch) {
			return pr, nil
		}
	}
	return nil, nil
}

func (f *fakeGH) ListMergedPRs(ctx context.Context, repo string, limit int) ([]*github.PR, error) {
	return f.merged, nil
}

func (f *fakeGH) DeleteRemoteBranch(ctx context.Context, repo, branch string) error {
	return nil
}

func seedProject(t *testing.T, repo repository.Repository) *models.Project {
	t.Helper()
	project := &models.Project{
		ID:              uuid.New().String(),
		Slug:            "webapp",
		Name:            "Web App",
		GithubRepo:      "acme/webapp",
		LocalPath:       t.TempDir() + "/webapp",
		WorkLoopEnabled: true,
	}
	require.NoError(t, repo.CreateProject(context.Background(), project))
	return project
}

func seedReadyTask(t *testing.T, repo repository.Repository, projectID string, priority models.TaskPriority, position int) *models.Task {
	t.Helper()
	task := &models.Task{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Title:     "task at " + string(priority),
		Status:    models.TaskStatusReady,
		Priority:  priority,
		Role:      models.RoleDev,
		Position:  position,
	}
	require.NoError(t, repo.CreateTask(context.Background(), task))
	return task
}

func seedSoul(t *testing.T, repo repository.Repository, role models.AgentRole) {
	t.Helper()
	require.NoError(t, repo.CreatePromptVersion(context.Background(), &models.PromptVersion{
		Role:    role,
		Content: "soul for " + string(role),
	}))
}

func spawnReqForTest(i int) agent.SpawnRequest {
	return agent.SpawnRequest{
		TaskID:    uuid.New().String(),
		ProjectID: "other-project",
		Role:      models.RoleDev,
		Message:   "m",
		Model:     "moonshot/kimi-for-coding",
	}
}

func eventTypes(t *testing.T, repo repository.Repository, taskID string) []models.TaskEventType {
	t.Helper()
	events, err := repo.ListTaskEvents(context.Background(), taskID)
	require.NoError(t, err)
	types := make([]models.TaskEventType, len(events))
	for i, e := range events {
		types[i] = e.EventType
	}
	return types
}
