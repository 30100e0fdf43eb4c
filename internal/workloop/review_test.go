package workloop

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/github"
	"github.com/traphq/trap/internal/prompts"
	"github.com/traphq/trap/internal/task/models"
	"github.com/traphq/trap/internal/task/repository"
)

func newReviewPhase(repo repository.Repository, agents AgentManager, gh github.Client) *ReviewPhase {
	return NewReviewPhase(
		repo,
		agents,
		NewCapacity(capacityConfig(), agents),
		prompts.NewBuilder(repo),
		gh,
		logger.Default(),
	)
}

func seedInReviewTask(t *testing.T, repo repository.Repository, projectID string, prNumber int) *models.Task {
	t.Helper()
	task := &models.Task{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Title:     "needs review",
		Status:    models.TaskStatusInReview,
		Priority:  models.TaskPriorityMedium,
		Role:      models.RoleDev,
		PRNumber:  prNumber,
	}
	require.NoError(t, repo.CreateTask(context.Background(), task))
	return task
}

func TestReviewPhaseSpawnsReviewer(t *testing.T) {
	repo := repository.NewMemoryRepository()
	agents := newFakeAgents()
	ctx := context.Background()

	project := seedProject(t, repo)
	task := seedInReviewTask(t, repo, project.ID, 42)
	seedSoul(t, repo, models.RoleReviewer)

	gh := newFakeGH()
	gh.prs[42] = &github.PR{Number: 42, State: "OPEN", HeadRefName: "fix/" + models.ShortID(task.ID)}

	require.NoError(t, newReviewPhase(repo, agents, gh).Run(ctx, project))

	assert.True(t, agents.Has(task.ID))
	got, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkLoopSessionKey(models.RoleReviewer, task.ID), got.AgentSessionKey)
	assert.Contains(t, eventTypes(t, repo, task.ID), models.EventAgentAssigned)
}

func TestReviewPhaseFindsPRByBranch(t *testing.T) {
	repo := repository.NewMemoryRepository()
	agents := newFakeAgents()
	ctx := context.Background()

	project := seedProject(t, repo)
	task := seedInReviewTask(t, repo, project.ID, 0)
	seedSoul(t, repo, models.RoleReviewer)

	gh := newFakeGH()
	gh.prs[7] = &github.PR{Number: 7, State: "OPEN", HeadRefName: task.BranchName()}

	require.NoError(t, newReviewPhase(repo, agents, gh).Run(ctx, project))

	got, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	// The discovered PR number is persisted on the task.
	assert.Equal(t, 7, got.PRNumber)
	assert.True(t, agents.Has(task.ID))
}

func TestReviewPhaseCompletesMergedPR(t *testing.T) {
	repo := repository.NewMemoryRepository()
	agents := newFakeAgents()
	ctx := context.Background()

	project := seedProject(t, repo)
	task := seedInReviewTask(t, repo, project.ID, 42)
	seedSoul(t, repo, models.RoleReviewer)

	gh := newFakeGH()
	mergedAt := time.Now()
	gh.prs[42] = &github.PR{Number: 42, State: "MERGED", MergedAt: &mergedAt}

	require.NoError(t, newReviewPhase(repo, agents, gh).Run(ctx, project))

	got, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDone, got.Status)
	assert.Equal(t, models.ResolutionMerged, got.Resolution)
	assert.False(t, agents.Has(task.ID))
}

func TestReviewPhaseSkipsWithoutPR(t *testing.T) {
	repo := repository.NewMemoryRepository()
	agents := newFakeAgents()
	ctx := context.Background()

	project := seedProject(t, repo)
	task := seedInReviewTask(t, repo, project.ID, 0)
	seedSoul(t, repo, models.RoleReviewer)

	require.NoError(t, newReviewPhase(repo, agents, newFakeGH()).Run(ctx, project))

	got, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInReview, got.Status)
	assert.False(t, agents.Has(task.ID))
}

func TestReviewPhaseSkipsRecentlyReapedReviewer(t *testing.T) {
	repo := repository.NewMemoryRepository()
	agents := newFakeAgents()
	ctx := context.Background()

	project := seedProject(t, repo)
	task := seedInReviewTask(t, repo, project.ID, 42)
	seedSoul(t, repo, models.RoleReviewer)
	agents.reaped[task.ID+":reviewer"] = true

	gh := newFakeGH()
	gh.prs[42] = &github.PR{Number: 42, State: "OPEN", HeadRefName: task.BranchName()}

	require.NoError(t, newReviewPhase(repo, agents, gh).Run(ctx, project))
	assert.False(t, agents.Has(task.ID))
}
