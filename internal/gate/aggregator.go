// Package gate computes the coordinator-attention signal from persisted task,
// signal, and notification state. It is a pure read; nothing here mutates.
package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/traphq/trap/internal/common/config"
	"github.com/traphq/trap/internal/task/models"
	"github.com/traphq/trap/internal/task/repository"
)

// Projection lists are capped so the gate stays a glanceable summary.
const maxListed = 10

// TaskRef is the small task projection used in gate details.
type TaskRef struct {
	ID       string              `json:"id"`
	Title    string              `json:"title"`
	Status   models.TaskStatus   `json:"status"`
	Priority models.TaskPriority `json:"priority"`
}

// SignalRef is the small signal projection used in gate details.
type SignalRef struct {
	ID       string                `json:"id"`
	TaskID   string                `json:"task_id"`
	Kind     models.SignalKind     `json:"kind"`
	Severity models.SignalSeverity `json:"severity"`
	Message  string                `json:"message"`
}

// InputRef is the small pending-input projection used in gate details.
type InputRef struct {
	CommentID string `json:"comment_id"`
	TaskID    string `json:"task_id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
}

// Details holds the per-category counts and capped projections.
type Details struct {
	ReadyTasks        int `json:"ready_tasks"`
	PendingInputs     int `json:"pending_inputs"`
	StuckTasks        int `json:"stuck_tasks"`
	ReviewTasks       int `json:"review_tasks"`
	PendingDispatch   int `json:"pending_dispatch"`
	UnreadEscalations int `json:"unread_escalations"`
	PendingSignals    int `json:"pending_signals"`

	Ready    []TaskRef   `json:"ready,omitempty"`
	Stuck    []TaskRef   `json:"stuck,omitempty"`
	Review   []TaskRef   `json:"review,omitempty"`
	Dispatch []TaskRef   `json:"dispatch,omitempty"`
	Signals  []SignalRef `json:"signals,omitempty"`
	Inputs   []InputRef  `json:"inputs,omitempty"`
}

// Status is the aggregated attention signal.
type Status struct {
	NeedsAttention bool    `json:"needs_attention"`
	Reason         string  `json:"reason,omitempty"`
	Details        Details `json:"details"`
	ComputedAt     int64   `json:"computed_at"`
}

// Aggregator computes gate status from the store.
type Aggregator struct {
	repo           repository.Repository
	stuckThreshold time.Duration

	now func() time.Time
}

// NewAggregator creates a gate aggregator.
func NewAggregator(repo repository.Repository, cfg config.WorkLoopConfig) *Aggregator {
	threshold := cfg.StuckThresholdDuration()
	if threshold <= 0 {
		threshold = 2 * time.Hour
	}
	return &Aggregator{
		repo:           repo,
		stuckThreshold: threshold,
		now:            time.Now,
	}
}

// Compute builds the gate status. Reasons are joined in fixed priority order:
// pending signals first, review backlog last.
func (a *Aggregator) Compute(ctx context.Context) (*Status, error) {
	now := a.now()
	status := &Status{ComputedAt: now.UnixMilli()}
	d := &status.Details

	signals, err := a.repo.ListPendingSignals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending signals: %w", err)
	}
	d.PendingSignals = len(signals)
	for _, s := range signals[:min(len(signals), maxListed)] {
		d.Signals = append(d.Signals, SignalRef{
			ID: s.ID, TaskID: s.TaskID, Kind: s.Kind,
			Severity: s.Severity, Message: s.Message,
		})
	}

	d.UnreadEscalations, err = a.repo.CountUnreadEscalations(ctx)
	if err != nil {
		return nil, fmt.Errorf("count unread escalations: %w", err)
	}

	inputs, err := a.repo.ListPendingInputRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending inputs: %w", err)
	}
	d.PendingInputs = len(inputs)
	for _, c := range inputs[:min(len(inputs), maxListed)] {
		d.Inputs = append(d.Inputs, InputRef{
			CommentID: c.ID, TaskID: c.TaskID, Author: c.Author, Content: c.Content,
		})
	}

	if err := a.collectTasks(ctx, d, now); err != nil {
		return nil, err
	}

	status.Reason = buildReason(d)
	status.NeedsAttention = status.Reason != ""
	return status, nil
}

func (a *Aggregator) collectTasks(ctx context.Context, d *Details, now time.Time) error {
	// Ready: unassigned and every dependency done.
	ready, err := a.repo.ListTasksByStatus(ctx, models.TaskStatusReady)
	if err != nil {
		return fmt.Errorf("list ready tasks: %w", err)
	}
	for _, t := range ready {
		if t.Assignee != "" {
			continue
		}
		incomplete, err := a.repo.ListIncompleteDependencies(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("list dependencies for %s: %w", t.ID, err)
		}
		if len(incomplete) > 0 {
			continue
		}
		d.ReadyTasks++
		if len(d.Ready) < maxListed {
			d.Ready = append(d.Ready, taskRef(t))
		}
	}

	inProgress, err := a.repo.ListTasksByStatus(ctx, models.TaskStatusInProgress)
	if err != nil {
		return fmt.Errorf("list in_progress tasks: %w", err)
	}
	cutoff := now.Add(-a.stuckThreshold)
	for _, t := range inProgress {
		if t.UpdatedAt.After(cutoff) {
			continue
		}
		d.StuckTasks++
		if len(d.Stuck) < maxListed {
			d.Stuck = append(d.Stuck, taskRef(t))
		}
	}

	review, err := a.repo.ListTasksByStatus(ctx, models.TaskStatusInReview)
	if err != nil {
		return fmt.Errorf("list in_review tasks: %w", err)
	}
	d.ReviewTasks = len(review)
	for _, t := range review[:min(len(review), maxListed)] {
		d.Review = append(d.Review, taskRef(t))
	}

	// Dispatch: blocked tasks that have not been handed to triage yet.
	blocked, err := a.repo.ListTasksByStatus(ctx, models.TaskStatusBlocked)
	if err != nil {
		return fmt.Errorf("list blocked tasks: %w", err)
	}
	for _, t := range blocked {
		if t.TriageSentAt != nil {
			continue
		}
		d.PendingDispatch++
		if len(d.Dispatch) < maxListed {
			d.Dispatch = append(d.Dispatch, taskRef(t))
		}
	}
	return nil
}

func taskRef(t *models.Task) TaskRef {
	return TaskRef{ID: t.ID, Title: t.Title, Status: t.Status, Priority: t.Priority}
}

func buildReason(d *Details) string {
	var reasons []string
	add := func(count int, singular, plural string) {
		if count == 0 {
			return
		}
		noun := plural
		if count == 1 {
			noun = singular
		}
		reasons = append(reasons, fmt.Sprintf("%d %s", count, noun))
	}

	add(d.PendingSignals, "pending signal", "pending signals")
	add(d.UnreadEscalations, "unread escalation", "unread escalations")
	add(d.PendingInputs, "pending input request", "pending input requests")
	add(d.PendingDispatch, "blocked task awaiting triage", "blocked tasks awaiting triage")
	add(d.ReadyTasks, "ready task", "ready tasks")
	add(d.StuckTasks, "stuck task", "stuck tasks")
	add(d.ReviewTasks, "task in review", "tasks in review")

	return strings.Join(reasons, "; ")
}
