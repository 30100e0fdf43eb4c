package triage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/task/models"
	"github.com/traphq/trap/internal/task/repository"
)

type postedMessage struct {
	chatID  string
	author  string
	content string
}

type fakePoster struct {
	posts []postedMessage
	err   error
}

func (f *fakePoster) PostChatMessage(ctx context.Context, chatID, author, content string) error {
	if f.err != nil {
		return f.err
	}
	f.posts = append(f.posts, postedMessage{chatID: chatID, author: author, content: content})
	return nil
}

func newDispatcher(t *testing.T) (*Dispatcher, *fakePoster, repository.Repository, *models.Project) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	project := &models.Project{
		ID:              uuid.New().String(),
		Slug:            "payments",
		Name:            "Payments",
		WorkLoopEnabled: true,
	}
	require.NoError(t, repo.CreateProject(context.Background(), project))
	poster := &fakePoster{}
	return NewDispatcher(repo, poster, logger.Default()), poster, repo, project
}

func dispatcherBlockedTask(t *testing.T, repo repository.Repository, projectID string) *models.Task {
	t.Helper()
	task := &models.Task{
		ID:              uuid.New().String(),
		ProjectID:       projectID,
		Title:           "Flaky integration test",
		Status:          models.TaskStatusBlocked,
		Priority:        models.TaskPriorityHigh,
		Role:            models.RoleDev,
		AgentRetryCount: 2,
	}
	require.NoError(t, repo.CreateTask(context.Background(), task))
	return task
}

func TestDispatchPendingPostsAndStamps(t *testing.T) {
	d, poster, repo, project := newDispatcher(t)
	ctx := context.Background()
	task := dispatcherBlockedTask(t, repo, project.ID)
	require.NoError(t, repo.CreateComment(ctx, &models.Comment{
		ID:         uuid.New().String(),
		TaskID:     task.ID,
		Author:     "dev-agent",
		AuthorType: models.AuthorAgent,
		Content:    "Cannot reproduce locally, needs a decision.",
		Type:       models.CommentTypeMessage,
	}))

	n, err := d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, poster.posts, 1)
	assert.Equal(t, project.Slug, poster.posts[0].chatID)
	assert.Equal(t, dispatchAuthor, poster.posts[0].author)
	assert.Contains(t, poster.posts[0].content, task.Title)
	assert.Contains(t, poster.posts[0].content, "needs a decision")

	got, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.TriageSentAt)

	event := lastEvent(t, repo, task.ID)
	assert.Equal(t, models.EventTriageSent, event.EventType)
}

func TestDispatchPendingSkipsAlreadySent(t *testing.T) {
	d, poster, repo, project := newDispatcher(t)
	ctx := context.Background()
	dispatcherBlockedTask(t, repo, project.ID)

	n, err := d.DispatchPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Second run finds nothing new.
	n, err = d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, poster.posts, 1)
}

func TestDispatchPendingRetriesAfterPostFailure(t *testing.T) {
	d, poster, repo, project := newDispatcher(t)
	ctx := context.Background()
	task := dispatcherBlockedTask(t, repo, project.ID)

	poster.err = errors.New("chat unreachable")
	n, err := d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, got.TriageSentAt, "failed post must leave the task undispatched")

	poster.err = nil
	n, err = d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDispatchPendingIgnoresNonBlocked(t *testing.T) {
	d, poster, repo, project := newDispatcher(t)
	ctx := context.Background()
	ready := &models.Task{
		ID:        uuid.New().String(),
		ProjectID: project.ID,
		Title:     "Ready task",
		Status:    models.TaskStatusReady,
		Priority:  models.TaskPriorityMedium,
	}
	require.NoError(t, repo.CreateTask(ctx, ready))

	n, err := d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, poster.posts)
}
