// Package models defines the entities persisted by the document store.
// All entities are keyed by an externally generated UUID, distinct from any
// native row id the store may add.
package models

import (
	"strings"
	"time"
)

// ChatLayout selects the chat rendering style for a project.
type ChatLayout string

const (
	ChatLayoutSlack    ChatLayout = "slack"
	ChatLayoutIMessage ChatLayout = "imessage"
)

// Project represents a registered project the work loop supervises.
type Project struct {
	ID                string     `json:"id" db:"id"`
	Slug              string     `json:"slug" db:"slug"`
	Name              string     `json:"name" db:"name"`
	Color             string     `json:"color" db:"color"`
	RepoURL           string     `json:"repo_url,omitempty" db:"repo_url"`
	LocalPath         string     `json:"local_path,omitempty" db:"local_path"`
	GithubRepo        string     `json:"github_repo,omitempty" db:"github_repo"`
	ChatLayout        ChatLayout `json:"chat_layout" db:"chat_layout"`
	WorkLoopEnabled   bool       `json:"work_loop_enabled" db:"work_loop_enabled"`
	WorkLoopMaxAgents int        `json:"work_loop_max_agents,omitempty" db:"work_loop_max_agents"`
	WorkLoopSchedule  string     `json:"work_loop_schedule" db:"work_loop_schedule"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// TaskStatus is the kanban state of a task.
type TaskStatus string

const (
	TaskStatusBacklog    TaskStatus = "backlog"
	TaskStatusReady      TaskStatus = "ready"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusInReview   TaskStatus = "in_review"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusDone       TaskStatus = "done"
)

// TaskPriority orders tasks within a status.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityUrgent TaskPriority = "urgent"
)

// PriorityRank maps priorities to sort ranks, urgent first.
func PriorityRank(p TaskPriority) int {
	switch p {
	case TaskPriorityUrgent:
		return 0
	case TaskPriorityHigh:
		return 1
	case TaskPriorityMedium:
		return 2
	case TaskPriorityLow:
		return 3
	default:
		return 4
	}
}

// AgentRole identifies the kind of agent a task wants.
type AgentRole string

const (
	RolePM               AgentRole = "pm"
	RoleDev              AgentRole = "dev"
	RoleResearch         AgentRole = "research"
	RoleReviewer         AgentRole = "reviewer"
	RoleConflictResolver AgentRole = "conflict_resolver"
)

// TaskResolution records how a task reached done.
type TaskResolution string

const (
	ResolutionCompleted TaskResolution = "completed"
	ResolutionDiscarded TaskResolution = "discarded"
	ResolutionMerged    TaskResolution = "merged"
)

// Task represents a unit of agent work moving through the kanban states.
type Task struct {
	ID                  string         `json:"id" db:"id"`
	ProjectID           string         `json:"project_id" db:"project_id"`
	Title               string         `json:"title" db:"title"`
	Description         string         `json:"description,omitempty" db:"description"`
	Status              TaskStatus     `json:"status" db:"status"`
	Priority            TaskPriority   `json:"priority" db:"priority"`
	Role                AgentRole      `json:"role,omitempty" db:"role"`
	Assignee            string         `json:"assignee,omitempty" db:"assignee"`
	RequiresHumanReview bool           `json:"requires_human_review" db:"requires_human_review"`
	Tags                []string       `json:"tags,omitempty" db:"-"`
	Position            int            `json:"position" db:"position"`
	SessionID           string         `json:"session_id,omitempty" db:"session_id"`
	AgentSessionKey     string         `json:"agent_session_key,omitempty" db:"agent_session_key"`
	AgentModel          string         `json:"agent_model,omitempty" db:"agent_model"`
	AgentStartedAt      *time.Time     `json:"agent_started_at,omitempty" db:"agent_started_at"`
	AgentLastActiveAt   *time.Time     `json:"agent_last_active_at,omitempty" db:"agent_last_active_at"`
	AgentRetryCount     int            `json:"agent_retry_count,omitempty" db:"agent_retry_count"`
	Branch              string         `json:"branch,omitempty" db:"branch"`
	PRNumber            int            `json:"pr_number,omitempty" db:"pr_number"`
	Escalated           bool           `json:"escalated" db:"escalated"`
	EscalatedAt         *time.Time     `json:"escalated_at,omitempty" db:"escalated_at"`
	TriageSentAt        *time.Time     `json:"triage_sent_at,omitempty" db:"triage_sent_at"`
	TriageAckedAt       *time.Time     `json:"triage_acked_at,omitempty" db:"triage_acked_at"`
	Resolution          TaskResolution `json:"resolution,omitempty" db:"resolution"`
	CreatedAt           time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at" db:"updated_at"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// BranchName returns the task's branch, falling back to the derived
// fix/<first 8 chars of id> convention.
func (t *Task) BranchName() string {
	if t.Branch != "" {
		return t.Branch
	}
	return "fix/" + ShortID(t.ID)
}

// ShortID returns the first 8 characters of a task id, used as the worktree
// and branch prefix.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// TaskDependency is a directed edge: task blocks until depends_on is done.
type TaskDependency struct {
	ID          string    `json:"id" db:"id"`
	TaskID      string    `json:"task_id" db:"task_id"`
	DependsOnID string    `json:"depends_on_id" db:"depends_on_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// CommentAuthorType identifies who authored a comment.
type CommentAuthorType string

const (
	AuthorCoordinator CommentAuthorType = "coordinator"
	AuthorAgent       CommentAuthorType = "agent"
	AuthorHuman       CommentAuthorType = "human"
)

// CommentType classifies comment content.
type CommentType string

const (
	CommentTypeMessage      CommentType = "message"
	CommentTypeStatusChange CommentType = "status_change"
	CommentTypeRequestInput CommentType = "request_input"
	CommentTypeCompletion   CommentType = "completion"
)

// Comment is a message on a task. A request_input comment is pending until
// RespondedAt is set.
type Comment struct {
	ID          string            `json:"id" db:"id"`
	TaskID      string            `json:"task_id" db:"task_id"`
	Author      string            `json:"author" db:"author"`
	AuthorType  CommentAuthorType `json:"author_type" db:"author_type"`
	Content     string            `json:"content" db:"content"`
	Type        CommentType       `json:"type" db:"type"`
	RespondedAt *time.Time        `json:"responded_at,omitempty" db:"responded_at"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// SignalKind classifies agent-to-coordinator signals.
type SignalKind string

const (
	SignalKindQuestion SignalKind = "question"
	SignalKindBlocker  SignalKind = "blocker"
	SignalKindAlert    SignalKind = "alert"
	SignalKindFYI      SignalKind = "fyi"
)

// SignalSeverity orders signals for coordinator attention.
type SignalSeverity string

const (
	SeverityNormal   SignalSeverity = "normal"
	SeverityHigh     SignalSeverity = "high"
	SeverityCritical SignalSeverity = "critical"
)

// SeverityRank maps severities to sort ranks, critical first.
func SeverityRank(s SignalSeverity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	default:
		return 2
	}
}

// Signal is raised by an agent toward the coordinator. Blocking is true for
// every kind except fyi; a blocking signal without a response is pending.
type Signal struct {
	ID          string         `json:"id" db:"id"`
	TaskID      string         `json:"task_id" db:"task_id"`
	SessionKey  string         `json:"session_key" db:"session_key"`
	AgentID     string         `json:"agent_id" db:"agent_id"`
	Kind        SignalKind     `json:"kind" db:"kind"`
	Severity    SignalSeverity `json:"severity" db:"severity"`
	Message     string         `json:"message" db:"message"`
	Blocking    bool           `json:"blocking" db:"blocking"`
	RespondedAt *time.Time     `json:"responded_at,omitempty" db:"responded_at"`
	Response    string         `json:"response,omitempty" db:"response"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// IsPending reports whether the signal still needs a coordinator response.
func (s *Signal) IsPending() bool {
	return s.Blocking && s.RespondedAt == nil
}

// SessionStatus is the gateway-reported liveness of an agent session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionIdle      SessionStatus = "idle"
	SessionCompleted SessionStatus = "completed"
	SessionStale     SessionStatus = "stale"
)

// SessionRecord mirrors the gateway's session table into the store. It is the
// ground truth for agent liveness; the in-memory agent manager map is not.
type SessionRecord struct {
	SessionKey   string        `json:"session_key" db:"session_key"`
	Status       SessionStatus `json:"status" db:"status"`
	Model        string        `json:"model" db:"model"`
	InputTokens  int64         `json:"input_tokens" db:"input_tokens"`
	OutputTokens int64         `json:"output_tokens" db:"output_tokens"`
	TotalTokens  int64         `json:"total_tokens" db:"total_tokens"`
	LastActiveAt time.Time     `json:"last_active_at" db:"last_active_at"`
}

// IsTerminal reports whether the session has ended.
func (s *SessionRecord) IsTerminal() bool {
	return s.Status == SessionCompleted || s.Status == SessionStale
}

// NotificationType classifies coordinator notifications.
type NotificationType string

const (
	NotificationEscalation   NotificationType = "escalation"
	NotificationRequestInput NotificationType = "request_input"
	NotificationCompletion   NotificationType = "completion"
	NotificationSystem       NotificationType = "system"
)

// NotificationSeverity grades notifications.
type NotificationSeverity string

const (
	NotificationInfo     NotificationSeverity = "info"
	NotificationWarning  NotificationSeverity = "warning"
	NotificationCritical NotificationSeverity = "critical"
)

// Notification is a coordinator-facing alert.
type Notification struct {
	ID        string               `json:"id" db:"id"`
	TaskID    string               `json:"task_id,omitempty" db:"task_id"`
	ProjectID string               `json:"project_id,omitempty" db:"project_id"`
	Type      NotificationType     `json:"type" db:"type"`
	Severity  NotificationSeverity `json:"severity" db:"severity"`
	Title     string               `json:"title" db:"title"`
	Message   string               `json:"message" db:"message"`
	Agent     string               `json:"agent,omitempty" db:"agent"`
	Read      bool                 `json:"read" db:"read"`
	CreatedAt time.Time            `json:"created_at" db:"created_at"`
}

// TaskEventType enumerates the append-only audit log entries.
type TaskEventType string

const (
	EventStatusChanged   TaskEventType = "status_changed"
	EventAgentAssigned   TaskEventType = "agent_assigned"
	EventAgentCompleted  TaskEventType = "agent_completed"
	EventAgentReaped     TaskEventType = "agent_reaped"
	EventPROpened        TaskEventType = "pr_opened"
	EventPRMerged        TaskEventType = "pr_merged"
	EventCommentAdded    TaskEventType = "comment_added"
	EventTriageSent      TaskEventType = "triage_sent"
	EventTriageEscalated TaskEventType = "triage_escalated"
)

// TaskEvent is one row of the append-only audit log. Data payloads are
// schema-per-type.
type TaskEvent struct {
	ID        string                 `json:"id" db:"id"`
	TaskID    string                 `json:"task_id" db:"task_id"`
	ProjectID string                 `json:"project_id" db:"project_id"`
	EventType TaskEventType          `json:"event_type" db:"event_type"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Actor     string                 `json:"actor,omitempty" db:"actor"`
	Data      map[string]interface{} `json:"data,omitempty" db:"-"`
}

// PromptVersion is an immutable soul template revision for a (role, model)
// scope. Only the Active flag may change after creation, and exactly one
// version per scope is active.
type PromptVersion struct {
	ID        string    `json:"id" db:"id"`
	Role      AgentRole `json:"role" db:"role"`
	Model     string    `json:"model,omitempty" db:"model"`
	Version   int       `json:"version" db:"version"`
	Content   string    `json:"content" db:"content"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// WorkLoopSessionKey builds the session key for a work-loop agent.
func WorkLoopSessionKey(role AgentRole, taskID string) string {
	return "workloop:" + strings.ToLower(string(role)) + ":" + taskID
}
