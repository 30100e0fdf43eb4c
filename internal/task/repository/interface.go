package repository

import (
	"context"

	"github.com/traphq/trap/internal/task/models"
)

// Repository defines the interface for document store operations. All reads
// return typed entities; implementations validate rows on read so callers
// never see partially shaped documents.
type Repository interface {
	// Project operations
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectBySlug(ctx context.Context, slug string) (*models.Project, error)
	UpdateProject(ctx context.Context, project *models.Project) error
	// DeleteProject cascade-deletes the project's tasks.
	DeleteProject(ctx context.Context, id string) error
	ListProjects(ctx context.Context) ([]*models.Project, error)
	ListEnabledProjects(ctx context.Context) ([]*models.Project, error)

	// Task operations
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, id string) error
	ListTasksByProjectStatus(ctx context.Context, projectID string, status models.TaskStatus) ([]*models.Task, error)
	ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error)
	ListTasksByAssignee(ctx context.Context, assignee string) ([]*models.Task, error)
	// ListTasksWithOpenPR returns non-done tasks carrying a pr_number.
	ListTasksWithOpenPR(ctx context.Context, projectID string) ([]*models.Task, error)

	// UpdateTaskStatus transitions a task, enforcing the kanban invariants:
	// leaving backlog requires every dependency done; entering done sets
	// completed_at; entering done, ready, or backlog clears the agent fields;
	// leaving blocked clears the escalation flag.
	UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus) (*models.Task, error)

	// ClaimTask is the atomic ready -> in_progress claim. Exactly one of two
	// concurrent claims succeeds; the loser gets ErrConflict. A claim with
	// incomplete dependencies gets ErrDependencyNotMet.
	ClaimTask(ctx context.Context, id string) (*models.Task, error)

	// MoveTask reorders a task within (project, status), renumbering positions
	// so they stay unique and dense.
	MoveTask(ctx context.Context, id string, status models.TaskStatus, position int) error

	// Dependency operations. AddDependency rejects self-edges and any edge
	// that would create a cycle.
	AddDependency(ctx context.Context, dep *models.TaskDependency) error
	DeleteDependency(ctx context.Context, taskID, dependsOnID string) error
	ListDependencies(ctx context.Context, taskID string) ([]*models.TaskDependency, error)
	ListDependents(ctx context.Context, dependsOnID string) ([]*models.TaskDependency, error)
	// ListIncompleteDependencies returns the dependency tasks of taskID that
	// are not done.
	ListIncompleteDependencies(ctx context.Context, taskID string) ([]*models.Task, error)

	// Comment operations
	CreateComment(ctx context.Context, comment *models.Comment) error
	GetComment(ctx context.Context, id string) (*models.Comment, error)
	ListCommentsByTask(ctx context.Context, taskID string) ([]*models.Comment, error)
	// ListPendingInputRequests returns request_input comments without a response.
	ListPendingInputRequests(ctx context.Context) ([]*models.Comment, error)
	// RespondToComment marks a request_input comment answered; idempotence is
	// rejected with ErrAlreadyResponded.
	RespondToComment(ctx context.Context, id string) error

	// Signal operations
	CreateSignal(ctx context.Context, signal *models.Signal) error
	GetSignal(ctx context.Context, id string) (*models.Signal, error)
	ListSignalsByTask(ctx context.Context, taskID string) ([]*models.Signal, error)
	// ListPendingSignals returns blocking signals without a response, sorted
	// critical -> high -> normal then newest first.
	ListPendingSignals(ctx context.Context) ([]*models.Signal, error)
	// RespondToSignal records a single response; a repeat call returns
	// ErrAlreadyResponded and leaves the row unchanged.
	RespondToSignal(ctx context.Context, id, response string) error

	// Session operations (mirrored from the gateway)
	UpsertSession(ctx context.Context, session *models.SessionRecord) error
	GetSession(ctx context.Context, sessionKey string) (*models.SessionRecord, error)
	DeleteSession(ctx context.Context, sessionKey string) error
	ListSessions(ctx context.Context) ([]*models.SessionRecord, error)

	// Notification operations
	CreateNotification(ctx context.Context, notification *models.Notification) error
	ListUnreadNotifications(ctx context.Context) ([]*models.Notification, error)
	CountUnreadEscalations(ctx context.Context) (int, error)
	MarkNotificationRead(ctx context.Context, id string) error

	// Task event operations (append-only audit log)
	AppendTaskEvent(ctx context.Context, event *models.TaskEvent) error
	ListTaskEvents(ctx context.Context, taskID string) ([]*models.TaskEvent, error)
	ListProjectEvents(ctx context.Context, projectID string, limit int) ([]*models.TaskEvent, error)

	// Prompt version operations. CreatePromptVersion assigns
	// version = max(existing)+1 for the (role, model) scope and atomically
	// deactivates the previous active version.
	CreatePromptVersion(ctx context.Context, pv *models.PromptVersion) error
	GetActivePromptVersion(ctx context.Context, role models.AgentRole, model string) (*models.PromptVersion, error)
	ListPromptVersions(ctx context.Context, role models.AgentRole) ([]*models.PromptVersion, error)

	// Close closes the repository (for database connections)
	Close() error
}
