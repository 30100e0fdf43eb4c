// Package workloop drives the per-project agent cycle: cleanup, review, and
// work phases sequenced by a cycle driver and dispatched by a top-level
// supervisor.
package workloop

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/traphq/trap/internal/agent"
	"github.com/traphq/trap/internal/task/models"
	"github.com/traphq/trap/internal/task/repository"
	"github.com/traphq/trap/internal/worktree"
)

// AgentManager is the slice of the agent manager the phases use.
type AgentManager interface {
	AgentCounter
	Spawn(ctx context.Context, req agent.SpawnRequest) (*agent.Handle, error)
	Has(taskID string) bool
	IsRecentlyReaped(taskID string, role models.AgentRole) bool
	Reap(ctx context.Context) []agent.Reaped
	KillAll(ctx context.Context)
}

// worktreePath derives the worktree location for a task.
func worktreePath(project *models.Project, taskID string) string {
	if project.LocalPath == "" {
		return ""
	}
	return filepath.Join(worktree.WorktreesRoot(project.LocalPath), "fix", models.ShortID(taskID))
}

// appendEvent writes one audit log row, ignoring append failures; the state
// transition it documents has already been committed.
func appendEvent(ctx context.Context, repo repository.Repository, task *models.Task, eventType models.TaskEventType, actor string, data map[string]interface{}) {
	_ = repo.AppendTaskEvent(ctx, &models.TaskEvent{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Data:      data,
	})
}

// systemComment records a coordinator-authored status comment on a task.
func systemComment(ctx context.Context, repo repository.Repository, taskID, content string) {
	_ = repo.CreateComment(ctx, &models.Comment{
		ID:         uuid.New().String(),
		TaskID:     taskID,
		Author:     "work-loop",
		AuthorType: models.AuthorCoordinator,
		Content:    content,
		Type:       models.CommentTypeStatusChange,
	})
}
