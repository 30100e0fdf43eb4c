package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/traphq/trap/internal/task/models"
)

// SQLiteRepository is the sqlite-backed implementation of Repository.
// It owns schema initialization and validates every row on read, so callers
// only ever see fully shaped entities.
type SQLiteRepository struct {
	db *sqlx.DB
}

// NewSQLiteRepository opens (or creates) the database at path and initializes
// the schema. Use ":memory:" for an ephemeral database.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// sqlite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent cycles.
	db.SetMaxOpenConns(1)
	repo := &SQLiteRepository{db: db}
	if err := repo.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return repo, nil
}

func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		repo_url TEXT NOT NULL DEFAULT '',
		local_path TEXT NOT NULL DEFAULT '',
		github_repo TEXT NOT NULL DEFAULT '',
		chat_layout TEXT NOT NULL DEFAULT 'slack',
		work_loop_enabled INTEGER NOT NULL DEFAULT 0,
		work_loop_max_agents INTEGER NOT NULL DEFAULT 0,
		work_loop_schedule TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		priority TEXT NOT NULL DEFAULT 'medium',
		role TEXT NOT NULL DEFAULT '',
		assignee TEXT NOT NULL DEFAULT '',
		requires_human_review INTEGER NOT NULL DEFAULT 0,
		tags TEXT NOT NULL DEFAULT '[]',
		position INTEGER NOT NULL DEFAULT 0,
		session_id TEXT NOT NULL DEFAULT '',
		agent_session_key TEXT NOT NULL DEFAULT '',
		agent_model TEXT NOT NULL DEFAULT '',
		agent_started_at DATETIME,
		agent_last_active_at DATETIME,
		agent_retry_count INTEGER NOT NULL DEFAULT 0,
		branch TEXT NOT NULL DEFAULT '',
		pr_number INTEGER NOT NULL DEFAULT 0,
		escalated INTEGER NOT NULL DEFAULT 0,
		escalated_at DATETIME,
		triage_sent_at DATETIME,
		triage_acked_at DATETIME,
		resolution TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_by_project_status ON tasks(project_id, status);
	CREATE INDEX IF NOT EXISTS idx_tasks_by_assignee ON tasks(assignee);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		depends_on_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		created_at DATETIME NOT NULL,
		UNIQUE(task_id, depends_on_id)
	);
	CREATE INDEX IF NOT EXISTS idx_deps_by_task ON task_dependencies(task_id);
	CREATE INDEX IF NOT EXISTS idx_deps_by_depends_on ON task_dependencies(depends_on_id);

	CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		author TEXT NOT NULL,
		author_type TEXT NOT NULL,
		content TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'message',
		responded_at DATETIME,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_comments_by_task ON comments(task_id);
	CREATE INDEX IF NOT EXISTS idx_comments_by_type ON comments(type);

	CREATE TABLE IF NOT EXISTS signals (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		session_key TEXT NOT NULL,
		agent_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT 'normal',
		message TEXT NOT NULL,
		blocking INTEGER NOT NULL DEFAULT 0,
		responded_at DATETIME,
		response TEXT NOT NULL DEFAULT '',
		delivered_at DATETIME,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_signals_by_blocking ON signals(blocking, responded_at);

	CREATE TABLE IF NOT EXISTS sessions (
		session_key TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		last_active_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL DEFAULT '',
		project_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT 'info',
		title TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		agent TEXT NOT NULL DEFAULT '',
		read INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_by_read ON notifications(read);

	CREATE TABLE IF NOT EXISTS task_events (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		project_id TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_events_by_task_timestamp ON task_events(task_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_by_project ON task_events(project_id);

	CREATE TABLE IF NOT EXISTS prompt_versions (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL,
		content TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		UNIQUE(role, model, version)
	);
	CREATE INDEX IF NOT EXISTS idx_prompts_by_role_active ON prompt_versions(role, model, active);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// --- row types ---

type taskRow struct {
	ID                  string         `db:"id"`
	ProjectID           string         `db:"project_id"`
	Title               string         `db:"title"`
	Description         string         `db:"description"`
	Status              string         `db:"status"`
	Priority            string         `db:"priority"`
	Role                string         `db:"role"`
	Assignee            string         `db:"assignee"`
	RequiresHumanReview bool           `db:"requires_human_review"`
	Tags                string         `db:"tags"`
	Position            int            `db:"position"`
	SessionID           string         `db:"session_id"`
	AgentSessionKey     string         `db:"agent_session_key"`
	AgentModel          string         `db:"agent_model"`
	AgentStartedAt      sql.NullTime   `db:"agent_started_at"`
	AgentLastActiveAt   sql.NullTime   `db:"agent_last_active_at"`
	AgentRetryCount     int            `db:"agent_retry_count"`
	Branch              string         `db:"branch"`
	PRNumber            int            `db:"pr_number"`
	Escalated           bool           `db:"escalated"`
	EscalatedAt         sql.NullTime   `db:"escalated_at"`
	TriageSentAt        sql.NullTime   `db:"triage_sent_at"`
	TriageAckedAt       sql.NullTime   `db:"triage_acked_at"`
	Resolution          string         `db:"resolution"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
	CompletedAt         sql.NullTime   `db:"completed_at"`
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func ptrNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (row *taskRow) toModel() (*models.Task, error) {
	var tags []string
	if row.Tags != "" && row.Tags != "[]" {
		if err := json.Unmarshal([]byte(row.Tags), &tags); err != nil {
			return nil, fmt.Errorf("task %s: invalid tags payload: %w", row.ID, err)
		}
	}
	return &models.Task{
		ID:                  row.ID,
		ProjectID:           row.ProjectID,
		Title:               row.Title,
		Description:         row.Description,
		Status:              models.TaskStatus(row.Status),
		Priority:            models.TaskPriority(row.Priority),
		Role:                models.AgentRole(row.Role),
		Assignee:            row.Assignee,
		RequiresHumanReview: row.RequiresHumanReview,
		Tags:                tags,
		Position:            row.Position,
		SessionID:           row.SessionID,
		AgentSessionKey:     row.AgentSessionKey,
		AgentModel:          row.AgentModel,
		AgentStartedAt:      nullTimePtr(row.AgentStartedAt),
		AgentLastActiveAt:   nullTimePtr(row.AgentLastActiveAt),
		AgentRetryCount:     row.AgentRetryCount,
		Branch:              row.Branch,
		PRNumber:            row.PRNumber,
		Escalated:           row.Escalated,
		EscalatedAt:         nullTimePtr(row.EscalatedAt),
		TriageSentAt:        nullTimePtr(row.TriageSentAt),
		TriageAckedAt:       nullTimePtr(row.TriageAckedAt),
		Resolution:          models.TaskResolution(row.Resolution),
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
		CompletedAt:         nullTimePtr(row.CompletedAt),
	}, nil
}

func taskToRowArgs(t *models.Task) (map[string]interface{}, error) {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return map[string]interface{}{
		"id":                    t.ID,
		"project_id":            t.ProjectID,
		"title":                 t.Title,
		"description":           t.Description,
		"status":                string(t.Status),
		"priority":              string(t.Priority),
		"role":                  string(t.Role),
		"assignee":              t.Assignee,
		"requires_human_review": t.RequiresHumanReview,
		"tags":                  string(tagsJSON),
		"position":              t.Position,
		"session_id":            t.SessionID,
		"agent_session_key":     t.AgentSessionKey,
		"agent_model":           t.AgentModel,
		"agent_started_at":      ptrNullTime(t.AgentStartedAt),
		"agent_last_active_at":  ptrNullTime(t.AgentLastActiveAt),
		"agent_retry_count":     t.AgentRetryCount,
		"branch":                t.Branch,
		"pr_number":             t.PRNumber,
		"escalated":             t.Escalated,
		"escalated_at":          ptrNullTime(t.EscalatedAt),
		"triage_sent_at":        ptrNullTime(t.TriageSentAt),
		"triage_acked_at":       ptrNullTime(t.TriageAckedAt),
		"resolution":            string(t.Resolution),
		"created_at":            t.CreatedAt,
		"updated_at":            t.UpdatedAt,
		"completed_at":          ptrNullTime(t.CompletedAt),
	}, nil
}

const taskColumns = `id, project_id, title, description, status, priority, role, assignee,
	requires_human_review, tags, position, session_id, agent_session_key, agent_model,
	agent_started_at, agent_last_active_at, agent_retry_count, branch, pr_number,
	escalated, escalated_at, triage_sent_at, triage_acked_at, resolution,
	created_at, updated_at, completed_at`

const taskInsert = `INSERT INTO tasks (` + taskColumns + `) VALUES (
	:id, :project_id, :title, :description, :status, :priority, :role, :assignee,
	:requires_human_review, :tags, :position, :session_id, :agent_session_key, :agent_model,
	:agent_started_at, :agent_last_active_at, :agent_retry_count, :branch, :pr_number,
	:escalated, :escalated_at, :triage_sent_at, :triage_acked_at, :resolution,
	:created_at, :updated_at, :completed_at)`

const taskUpdate = `UPDATE tasks SET
	project_id = :project_id, title = :title, description = :description,
	status = :status, priority = :priority, role = :role, assignee = :assignee,
	requires_human_review = :requires_human_review, tags = :tags, position = :position,
	session_id = :session_id, agent_session_key = :agent_session_key, agent_model = :agent_model,
	agent_started_at = :agent_started_at, agent_last_active_at = :agent_last_active_at,
	agent_retry_count = :agent_retry_count, branch = :branch, pr_number = :pr_number,
	escalated = :escalated, escalated_at = :escalated_at,
	triage_sent_at = :triage_sent_at, triage_acked_at = :triage_acked_at,
	resolution = :resolution, updated_at = :updated_at, completed_at = :completed_at
	WHERE id = :id`

// --- Projects ---

func (r *SQLiteRepository) CreateProject(ctx context.Context, project *models.Project) error {
	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (id, slug, name, color, repo_url, local_path, github_repo,
			chat_layout, work_loop_enabled, work_loop_max_agents, work_loop_schedule,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		project.ID, project.Slug, project.Name, project.Color, project.RepoURL,
		project.LocalPath, project.GithubRepo, string(project.ChatLayout),
		project.WorkLoopEnabled, project.WorkLoopMaxAgents, project.WorkLoopSchedule,
		project.CreatedAt, project.UpdatedAt)
	return err
}

const projectColumns = `id, slug, name, color, repo_url, local_path, github_repo,
	chat_layout, work_loop_enabled, work_loop_max_agents, work_loop_schedule,
	created_at, updated_at`

func scanProject(row *sqlx.Row) (*models.Project, error) {
	p := &models.Project{}
	var layout string
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Color, &p.RepoURL, &p.LocalPath,
		&p.GithubRepo, &layout, &p.WorkLoopEnabled, &p.WorkLoopMaxAgents,
		&p.WorkLoopSchedule, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.ChatLayout = models.ChatLayout(layout)
	return p, nil
}

func (r *SQLiteRepository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return scanProject(r.db.QueryRowxContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
}

func (r *SQLiteRepository) GetProjectBySlug(ctx context.Context, slug string) (*models.Project, error) {
	return scanProject(r.db.QueryRowxContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE slug = ?`, slug))
}

func (r *SQLiteRepository) UpdateProject(ctx context.Context, project *models.Project) error {
	project.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE projects SET slug = ?, name = ?, color = ?, repo_url = ?, local_path = ?,
			github_repo = ?, chat_layout = ?, work_loop_enabled = ?,
			work_loop_max_agents = ?, work_loop_schedule = ?, updated_at = ?
		WHERE id = ?`,
		project.Slug, project.Name, project.Color, project.RepoURL, project.LocalPath,
		project.GithubRepo, string(project.ChatLayout), project.WorkLoopEnabled,
		project.WorkLoopMaxAgents, project.WorkLoopSchedule, project.UpdatedAt, project.ID)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *SQLiteRepository) DeleteProject(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *SQLiteRepository) listProjects(ctx context.Context, where string, args ...interface{}) ([]*models.Project, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT `+projectColumns+` FROM projects `+where+` ORDER BY slug ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p := &models.Project{}
		var layout string
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.Color, &p.RepoURL, &p.LocalPath,
			&p.GithubRepo, &layout, &p.WorkLoopEnabled, &p.WorkLoopMaxAgents,
			&p.WorkLoopSchedule, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.ChatLayout = models.ChatLayout(layout)
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (r *SQLiteRepository) ListProjects(ctx context.Context) ([]*models.Project, error) {
	return r.listProjects(ctx, "")
}

func (r *SQLiteRepository) ListEnabledProjects(ctx context.Context) ([]*models.Project, error) {
	return r.listProjects(ctx, "WHERE work_loop_enabled = 1")
}

// --- Tasks ---

func (r *SQLiteRepository) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	args, err := taskToRowArgs(task)
	if err != nil {
		return err
	}
	_, err = r.db.NamedExecContext(ctx, taskInsert, args)
	return err
}

func (r *SQLiteRepository) getTaskTx(ctx context.Context, q sqlx.QueryerContext, id string) (*models.Task, error) {
	var row taskRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toModel()
}

func (r *SQLiteRepository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return r.getTaskTx(ctx, r.db, id)
}

func (r *SQLiteRepository) UpdateTask(ctx context.Context, task *models.Task) error {
	task.UpdatedAt = time.Now().UTC()
	args, err := taskToRowArgs(task)
	if err != nil {
		return err
	}
	res, err := r.db.NamedExecContext(ctx, taskUpdate, args)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *SQLiteRepository) DeleteTask(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *SQLiteRepository) listTasks(ctx context.Context, q sqlx.QueryerContext, where string, args ...interface{}) ([]*models.Task, error) {
	var rows []taskRow
	err := sqlx.SelectContext(ctx, q, &rows,
		`SELECT `+taskColumns+` FROM tasks `+where, args...)
	if err != nil {
		return nil, err
	}
	tasks := make([]*models.Task, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (r *SQLiteRepository) ListTasksByProjectStatus(ctx context.Context, projectID string, status models.TaskStatus) ([]*models.Task, error) {
	tasks, err := r.listTasks(ctx, r.db,
		`WHERE project_id = ? AND status = ?`, projectID, string(status))
	if err != nil {
		return nil, err
	}
	sortTasks(tasks)
	return tasks, nil
}

func (r *SQLiteRepository) ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	tasks, err := r.listTasks(ctx, r.db, `WHERE status = ?`, string(status))
	if err != nil {
		return nil, err
	}
	sortTasks(tasks)
	return tasks, nil
}

func (r *SQLiteRepository) ListTasksByAssignee(ctx context.Context, assignee string) ([]*models.Task, error) {
	tasks, err := r.listTasks(ctx, r.db, `WHERE assignee = ?`, assignee)
	if err != nil {
		return nil, err
	}
	sortTasks(tasks)
	return tasks, nil
}

func (r *SQLiteRepository) ListTasksWithOpenPR(ctx context.Context, projectID string) ([]*models.Task, error) {
	tasks, err := r.listTasks(ctx, r.db,
		`WHERE project_id = ? AND status != ? AND pr_number > 0`,
		projectID, string(models.TaskStatusDone))
	if err != nil {
		return nil, err
	}
	sortTasks(tasks)
	return tasks, nil
}

func (r *SQLiteRepository) incompleteDepsTx(ctx context.Context, q sqlx.QueryerContext, taskID string) ([]*models.Task, error) {
	var rows []taskRow
	err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT t.* FROM tasks t
		JOIN task_dependencies d ON d.depends_on_id = t.id
		WHERE d.task_id = ? AND t.status != ?`, taskID, string(models.TaskStatusDone))
	if err != nil {
		return nil, err
	}
	tasks := make([]*models.Task, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (r *SQLiteRepository) ListIncompleteDependencies(ctx context.Context, taskID string) ([]*models.Task, error) {
	return r.incompleteDepsTx(ctx, r.db, taskID)
}

func (r *SQLiteRepository) UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus) (*models.Task, error) {
	var updated *models.Task
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		task, err := r.getTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if task.Status == models.TaskStatusBacklog && status != models.TaskStatusBacklog {
			deps, err := r.incompleteDepsTx(ctx, tx, id)
			if err != nil {
				return err
			}
			if len(deps) > 0 {
				return ErrDependencyNotMet
			}
		}
		if task.Status != status {
			next, err := r.nextPositionTx(ctx, tx, task.ProjectID, status)
			if err != nil {
				return err
			}
			task.Position = next
		}
		applyStatusInvariants(task, status)
		args, err := taskToRowArgs(task)
		if err != nil {
			return err
		}
		if _, err := sqlx.NamedExecContext(ctx, tx, taskUpdate, args); err != nil {
			return err
		}
		updated = task
		return nil
	})
	return updated, err
}

// nextPositionTx returns one past the largest position in the destination
// column, keeping positions unique within (project, status) on column entry.
func (r *SQLiteRepository) nextPositionTx(ctx context.Context, tx *sqlx.Tx, projectID string, status models.TaskStatus) (int, error) {
	var next int
	err := tx.GetContext(ctx, &next, `
		SELECT COALESCE(MAX(position) + 1, 0) FROM tasks
		WHERE project_id = ? AND status = ?`, projectID, string(status))
	return next, err
}

func (r *SQLiteRepository) ClaimTask(ctx context.Context, id string) (*models.Task, error) {
	var claimed *models.Task
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		task, err := r.getTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if task.Status != models.TaskStatusReady {
			return ErrConflict
		}
		deps, err := r.incompleteDepsTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if len(deps) > 0 {
			return ErrDependencyNotMet
		}
		// The WHERE status guard is the claim point: a concurrent claimant
		// that committed first leaves zero rows for the loser. The winner
		// lands at the end of the in_progress column.
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?,
				position = (SELECT COALESCE(MAX(position) + 1, 0) FROM tasks
					WHERE project_id = ? AND status = ?),
				updated_at = ?
			WHERE id = ? AND status = ?`,
			string(models.TaskStatusInProgress), task.ProjectID,
			string(models.TaskStatusInProgress), time.Now().UTC(), id,
			string(models.TaskStatusReady))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrConflict
		}
		claimed, err = r.getTaskTx(ctx, tx, id)
		return err
	})
	return claimed, err
}

func (r *SQLiteRepository) MoveTask(ctx context.Context, id string, status models.TaskStatus, position int) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		task, err := r.getTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if task.Status == models.TaskStatusBacklog && status != models.TaskStatusBacklog {
			deps, err := r.incompleteDepsTx(ctx, tx, id)
			if err != nil {
				return err
			}
			if len(deps) > 0 {
				return ErrDependencyNotMet
			}
		}

		var siblings []taskRow
		err = sqlx.SelectContext(ctx, tx, &siblings, `
			SELECT `+taskColumns+` FROM tasks
			WHERE project_id = ? AND status = ? AND id != ?
			ORDER BY position ASC`, task.ProjectID, string(status), id)
		if err != nil {
			return err
		}

		if position < 0 {
			position = 0
		}
		if position > len(siblings) {
			position = len(siblings)
		}

		if task.Status != status {
			applyStatusInvariants(task, status)
		}
		task.Position = position
		task.UpdatedAt = time.Now().UTC()
		args, err := taskToRowArgs(task)
		if err != nil {
			return err
		}
		if _, err := sqlx.NamedExecContext(ctx, tx, taskUpdate, args); err != nil {
			return err
		}

		idx := 0
		for i := range siblings {
			if idx == position {
				idx++
			}
			if siblings[i].Position != idx {
				if _, err := tx.ExecContext(ctx,
					`UPDATE tasks SET position = ? WHERE id = ?`, idx, siblings[i].ID); err != nil {
					return err
				}
			}
			idx++
		}
		return nil
	})
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Dependencies ---

func (r *SQLiteRepository) AddDependency(ctx context.Context, dep *models.TaskDependency) error {
	if dep.TaskID == dep.DependsOnID {
		return ErrSelfDependency
	}
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := r.getTaskTx(ctx, tx, dep.TaskID); err != nil {
			return err
		}
		if _, err := r.getTaskTx(ctx, tx, dep.DependsOnID); err != nil {
			return err
		}
		cyclic, err := r.pathExistsTx(ctx, tx, dep.DependsOnID, dep.TaskID)
		if err != nil {
			return err
		}
		if cyclic {
			return ErrDependencyCycle
		}
		if dep.ID == "" {
			dep.ID = uuid.New().String()
		}
		if dep.CreatedAt.IsZero() {
			dep.CreatedAt = time.Now().UTC()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (id, task_id, depends_on_id, created_at)
			VALUES (?, ?, ?, ?)`, dep.ID, dep.TaskID, dep.DependsOnID, dep.CreatedAt)
		return err
	})
}

// pathExistsTx walks the dependency graph breadth-first from "from" looking
// for "to".
func (r *SQLiteRepository) pathExistsTx(ctx context.Context, tx *sqlx.Tx, from, to string) (bool, error) {
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return true, nil
		}
		var next []string
		if err := sqlx.SelectContext(ctx, tx, &next,
			`SELECT depends_on_id FROM task_dependencies WHERE task_id = ?`, cur); err != nil {
			return false, err
		}
		for _, n := range next {
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false, nil
}

func (r *SQLiteRepository) DeleteDependency(ctx context.Context, taskID, dependsOnID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM task_dependencies WHERE task_id = ? AND depends_on_id = ?`,
		taskID, dependsOnID)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *SQLiteRepository) listDependencies(ctx context.Context, where string, args ...interface{}) ([]*models.TaskDependency, error) {
	var deps []*models.TaskDependency
	err := r.db.SelectContext(ctx, &deps, `
		SELECT id, task_id, depends_on_id, created_at FROM task_dependencies
		`+where+` ORDER BY created_at ASC`, args...)
	return deps, err
}

func (r *SQLiteRepository) ListDependencies(ctx context.Context, taskID string) ([]*models.TaskDependency, error) {
	return r.listDependencies(ctx, `WHERE task_id = ?`, taskID)
}

func (r *SQLiteRepository) ListDependents(ctx context.Context, dependsOnID string) ([]*models.TaskDependency, error) {
	return r.listDependencies(ctx, `WHERE depends_on_id = ?`, dependsOnID)
}

// --- Comments ---

func (r *SQLiteRepository) CreateComment(ctx context.Context, comment *models.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.New().String()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	if comment.Type == "" {
		comment.Type = models.CommentTypeMessage
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO comments (id, task_id, author, author_type, content, type, responded_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		comment.ID, comment.TaskID, comment.Author, string(comment.AuthorType),
		comment.Content, string(comment.Type), ptrNullTime(comment.RespondedAt),
		comment.CreatedAt)
	return err
}

type commentRow struct {
	ID          string       `db:"id"`
	TaskID      string       `db:"task_id"`
	Author      string       `db:"author"`
	AuthorType  string       `db:"author_type"`
	Content     string       `db:"content"`
	Type        string       `db:"type"`
	RespondedAt sql.NullTime `db:"responded_at"`
	CreatedAt   time.Time    `db:"created_at"`
}

func (row *commentRow) toModel() *models.Comment {
	return &models.Comment{
		ID:          row.ID,
		TaskID:      row.TaskID,
		Author:      row.Author,
		AuthorType:  models.CommentAuthorType(row.AuthorType),
		Content:     row.Content,
		Type:        models.CommentType(row.Type),
		RespondedAt: nullTimePtr(row.RespondedAt),
		CreatedAt:   row.CreatedAt,
	}
}

func (r *SQLiteRepository) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	var row commentRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, task_id, author, author_type, content, type, responded_at, created_at
		FROM comments WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

func (r *SQLiteRepository) listComments(ctx context.Context, where string, args ...interface{}) ([]*models.Comment, error) {
	var rows []commentRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, task_id, author, author_type, content, type, responded_at, created_at
		FROM comments `+where+` ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, err
	}
	comments := make([]*models.Comment, 0, len(rows))
	for i := range rows {
		comments = append(comments, rows[i].toModel())
	}
	return comments, nil
}

func (r *SQLiteRepository) ListCommentsByTask(ctx context.Context, taskID string) ([]*models.Comment, error) {
	return r.listComments(ctx, `WHERE task_id = ?`, taskID)
}

func (r *SQLiteRepository) ListPendingInputRequests(ctx context.Context) ([]*models.Comment, error) {
	return r.listComments(ctx, `WHERE type = ? AND responded_at IS NULL`,
		string(models.CommentTypeRequestInput))
}

func (r *SQLiteRepository) RespondToComment(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE comments SET responded_at = ? WHERE id = ? AND responded_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := r.GetComment(ctx, id); getErr != nil {
			return getErr
		}
		return ErrAlreadyResponded
	}
	return nil
}

// --- Signals ---

func (r *SQLiteRepository) CreateSignal(ctx context.Context, signal *models.Signal) error {
	if signal.ID == "" {
		signal.ID = uuid.New().String()
	}
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now().UTC()
	}
	signal.Blocking = signal.Kind != models.SignalKindFYI
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signals (id, task_id, session_key, agent_id, kind, severity, message,
			blocking, responded_at, response, delivered_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		signal.ID, signal.TaskID, signal.SessionKey, signal.AgentID, string(signal.Kind),
		string(signal.Severity), signal.Message, signal.Blocking,
		ptrNullTime(signal.RespondedAt), signal.Response, ptrNullTime(signal.DeliveredAt),
		signal.CreatedAt)
	return err
}

type signalRow struct {
	ID          string       `db:"id"`
	TaskID      string       `db:"task_id"`
	SessionKey  string       `db:"session_key"`
	AgentID     string       `db:"agent_id"`
	Kind        string       `db:"kind"`
	Severity    string       `db:"severity"`
	Message     string       `db:"message"`
	Blocking    bool         `db:"blocking"`
	RespondedAt sql.NullTime `db:"responded_at"`
	Response    string       `db:"response"`
	DeliveredAt sql.NullTime `db:"delivered_at"`
	CreatedAt   time.Time    `db:"created_at"`
}

func (row *signalRow) toModel() *models.Signal {
	return &models.Signal{
		ID:          row.ID,
		TaskID:      row.TaskID,
		SessionKey:  row.SessionKey,
		AgentID:     row.AgentID,
		Kind:        models.SignalKind(row.Kind),
		Severity:    models.SignalSeverity(row.Severity),
		Message:     row.Message,
		Blocking:    row.Blocking,
		RespondedAt: nullTimePtr(row.RespondedAt),
		Response:    row.Response,
		DeliveredAt: nullTimePtr(row.DeliveredAt),
		CreatedAt:   row.CreatedAt,
	}
}

const signalColumns = `id, task_id, session_key, agent_id, kind, severity, message,
	blocking, responded_at, response, delivered_at, created_at`

func (r *SQLiteRepository) GetSignal(ctx context.Context, id string) (*models.Signal, error) {
	var row signalRow
	err := r.db.GetContext(ctx, &row, `SELECT `+signalColumns+` FROM signals WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

func (r *SQLiteRepository) listSignals(ctx context.Context, where, order string, args ...interface{}) ([]*models.Signal, error) {
	var rows []signalRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+signalColumns+` FROM signals `+where+` `+order, args...)
	if err != nil {
		return nil, err
	}
	signals := make([]*models.Signal, 0, len(rows))
	for i := range rows {
		signals = append(signals, rows[i].toModel())
	}
	return signals, nil
}

func (r *SQLiteRepository) ListSignalsByTask(ctx context.Context, taskID string) ([]*models.Signal, error) {
	return r.listSignals(ctx, `WHERE task_id = ?`, `ORDER BY created_at ASC`, taskID)
}

func (r *SQLiteRepository) ListPendingSignals(ctx context.Context) ([]*models.Signal, error) {
	signals, err := r.listSignals(ctx,
		`WHERE blocking = 1 AND responded_at IS NULL`, `ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(signals, func(i, j int) bool {
		return models.SeverityRank(signals[i].Severity) < models.SeverityRank(signals[j].Severity)
	})
	return signals, nil
}

func (r *SQLiteRepository) RespondToSignal(ctx context.Context, id, response string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE signals SET responded_at = ?, response = ?
		WHERE id = ? AND responded_at IS NULL`,
		time.Now().UTC(), response, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := r.GetSignal(ctx, id); getErr != nil {
			return getErr
		}
		return ErrAlreadyResponded
	}
	return nil
}

// --- Sessions ---

func (r *SQLiteRepository) UpsertSession(ctx context.Context, session *models.SessionRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (session_key, status, model, input_tokens, output_tokens, total_tokens, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			status = excluded.status, model = excluded.model,
			input_tokens = excluded.input_tokens, output_tokens = excluded.output_tokens,
			total_tokens = excluded.total_tokens, last_active_at = excluded.last_active_at`,
		session.SessionKey, string(session.Status), session.Model,
		session.InputTokens, session.OutputTokens, session.TotalTokens,
		session.LastActiveAt)
	return err
}

func (r *SQLiteRepository) GetSession(ctx context.Context, sessionKey string) (*models.SessionRecord, error) {
	s := &models.SessionRecord{}
	var status string
	err := r.db.QueryRowxContext(ctx, `
		SELECT session_key, status, model, input_tokens, output_tokens, total_tokens, last_active_at
		FROM sessions WHERE session_key = ?`, sessionKey).
		Scan(&s.SessionKey, &status, &s.Model, &s.InputTokens, &s.OutputTokens,
			&s.TotalTokens, &s.LastActiveAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	return s, nil
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, sessionKey string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_key = ?`, sessionKey)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *SQLiteRepository) ListSessions(ctx context.Context) ([]*models.SessionRecord, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT session_key, status, model, input_tokens, output_tokens, total_tokens, last_active_at
		FROM sessions ORDER BY session_key ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.SessionRecord
	for rows.Next() {
		s := &models.SessionRecord{}
		var status string
		if err := rows.Scan(&s.SessionKey, &status, &s.Model, &s.InputTokens,
			&s.OutputTokens, &s.TotalTokens, &s.LastActiveAt); err != nil {
			return nil, err
		}
		s.Status = models.SessionStatus(status)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// --- Notifications ---

func (r *SQLiteRepository) CreateNotification(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.New().String()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, task_id, project_id, type, severity, title, message, agent, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		notification.ID, notification.TaskID, notification.ProjectID,
		string(notification.Type), string(notification.Severity),
		notification.Title, notification.Message, notification.Agent,
		notification.Read, notification.CreatedAt)
	return err
}

func (r *SQLiteRepository) ListUnreadNotifications(ctx context.Context) ([]*models.Notification, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, task_id, project_id, type, severity, title, message, agent, read, created_at
		FROM notifications WHERE read = 0 ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		var ntype, severity string
		if err := rows.Scan(&n.ID, &n.TaskID, &n.ProjectID, &ntype, &severity,
			&n.Title, &n.Message, &n.Agent, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = models.NotificationType(ntype)
		n.Severity = models.NotificationSeverity(severity)
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (r *SQLiteRepository) CountUnreadEscalations(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM notifications WHERE read = 0 AND type = ?`,
		string(models.NotificationEscalation))
	return count, err
}

func (r *SQLiteRepository) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

// --- Task events ---

func (r *SQLiteRepository) AppendTaskEvent(ctx context.Context, event *models.TaskEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data := event.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO task_events (id, task_id, project_id, event_type, timestamp, actor, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.TaskID, event.ProjectID, string(event.EventType),
		event.Timestamp, event.Actor, string(payload))
	return err
}

func (r *SQLiteRepository) listTaskEvents(ctx context.Context, where, order string, limit int, args ...interface{}) ([]*models.TaskEvent, error) {
	query := `SELECT id, task_id, project_id, event_type, timestamp, actor, data
		FROM task_events ` + where + ` ` + order
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*models.TaskEvent
	for rows.Next() {
		e := &models.TaskEvent{}
		var etype, payload string
		if err := rows.Scan(&e.ID, &e.TaskID, &e.ProjectID, &etype, &e.Timestamp,
			&e.Actor, &payload); err != nil {
			return nil, err
		}
		e.EventType = models.TaskEventType(etype)
		if payload != "" && payload != "{}" {
			if err := json.Unmarshal([]byte(payload), &e.Data); err != nil {
				return nil, fmt.Errorf("event %s: invalid data payload: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *SQLiteRepository) ListTaskEvents(ctx context.Context, taskID string) ([]*models.TaskEvent, error) {
	return r.listTaskEvents(ctx, `WHERE task_id = ?`, `ORDER BY timestamp ASC`, 0, taskID)
}

func (r *SQLiteRepository) ListProjectEvents(ctx context.Context, projectID string, limit int) ([]*models.TaskEvent, error) {
	return r.listTaskEvents(ctx, `WHERE project_id = ?`, `ORDER BY timestamp DESC`, limit, projectID)
}

// --- Prompt versions ---

func (r *SQLiteRepository) CreatePromptVersion(ctx context.Context, pv *models.PromptVersion) error {
	if pv.ID == "" {
		pv.ID = uuid.New().String()
	}
	if pv.CreatedAt.IsZero() {
		pv.CreatedAt = time.Now().UTC()
	}
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		var maxVersion int
		err := tx.GetContext(ctx, &maxVersion, `
			SELECT COALESCE(MAX(version), 0) FROM prompt_versions WHERE role = ? AND model = ?`,
			string(pv.Role), pv.Model)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE prompt_versions SET active = 0 WHERE role = ? AND model = ? AND active = 1`,
			string(pv.Role), pv.Model); err != nil {
			return err
		}
		pv.Version = maxVersion + 1
		pv.Active = true
		_, err = tx.ExecContext(ctx, `
			INSERT INTO prompt_versions (id, role, model, version, content, active, created_at)
			VALUES (?, ?, ?, ?, ?, 1, ?)`,
			pv.ID, string(pv.Role), pv.Model, pv.Version, pv.Content, pv.CreatedAt)
		return err
	})
}

func (r *SQLiteRepository) getActivePrompt(ctx context.Context, role models.AgentRole, model string) (*models.PromptVersion, error) {
	pv := &models.PromptVersion{}
	var roleStr string
	err := r.db.QueryRowxContext(ctx, `
		SELECT id, role, model, version, content, active, created_at
		FROM prompt_versions WHERE role = ? AND model = ? AND active = 1`,
		string(role), model).
		Scan(&pv.ID, &roleStr, &pv.Model, &pv.Version, &pv.Content, &pv.Active, &pv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActivePrompt
		}
		return nil, err
	}
	pv.Role = models.AgentRole(roleStr)
	return pv, nil
}

func (r *SQLiteRepository) GetActivePromptVersion(ctx context.Context, role models.AgentRole, model string) (*models.PromptVersion, error) {
	pv, err := r.getActivePrompt(ctx, role, model)
	if err == nil {
		return pv, nil
	}
	if errors.Is(err, ErrNoActivePrompt) && model != "" {
		return r.getActivePrompt(ctx, role, "")
	}
	return nil, err
}

func (r *SQLiteRepository) ListPromptVersions(ctx context.Context, role models.AgentRole) ([]*models.PromptVersion, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, role, model, version, content, active, created_at
		FROM prompt_versions WHERE role = ? ORDER BY model ASC, version ASC`,
		string(role))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var versions []*models.PromptVersion
	for rows.Next() {
		pv := &models.PromptVersion{}
		var roleStr string
		if err := rows.Scan(&pv.ID, &roleStr, &pv.Model, &pv.Version, &pv.Content,
			&pv.Active, &pv.CreatedAt); err != nil {
			return nil, err
		}
		pv.Role = models.AgentRole(roleStr)
		versions = append(versions, pv)
	}
	return versions, rows.Err()
}
