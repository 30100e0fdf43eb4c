package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/traphq/trap/internal/task/models"
)

// MemoryRepository is an in-memory implementation of Repository, used in
// tests and development mode. All maps are guarded by a single mutex; the
// claim path mimics the store's transactional verify-then-write semantics.
type MemoryRepository struct {
	mu             sync.RWMutex
	projects       map[string]*models.Project
	tasks          map[string]*models.Task
	dependencies   map[string]*models.TaskDependency
	comments       map[string]*models.Comment
	signals        map[string]*models.Signal
	sessions       map[string]*models.SessionRecord
	notifications  map[string]*models.Notification
	events         []*models.TaskEvent
	promptVersions map[string]*models.PromptVersion
}

// NewMemoryRepository creates a new in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		projects:       make(map[string]*models.Project),
		tasks:          make(map[string]*models.Task),
		dependencies:   make(map[string]*models.TaskDependency),
		comments:       make(map[string]*models.Comment),
		signals:        make(map[string]*models.Signal),
		sessions:       make(map[string]*models.SessionRecord),
		notifications:  make(map[string]*models.Notification),
		promptVersions: make(map[string]*models.PromptVersion),
	}
}

// Close is a no-op for the in-memory repository.
func (r *MemoryRepository) Close() error { return nil }

func copyTask(t *models.Task) *models.Task {
	c := *t
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	return &c
}

// --- Projects ---

func (r *MemoryRepository) CreateProject(ctx context.Context, project *models.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now
	c := *project
	r.projects[project.ID] = &c
	return nil
}

func (r *MemoryRepository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (r *MemoryRepository) GetProjectBySlug(ctx context.Context, slug string) (*models.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.projects {
		if p.Slug == slug {
			c := *p
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) UpdateProject(ctx context.Context, project *models.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[project.ID]; !ok {
		return ErrNotFound
	}
	project.UpdatedAt = time.Now().UTC()
	c := *project
	r.projects[project.ID] = &c
	return nil
}

func (r *MemoryRepository) DeleteProject(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[id]; !ok {
		return ErrNotFound
	}
	delete(r.projects, id)
	for taskID, t := range r.tasks {
		if t.ProjectID == id {
			delete(r.tasks, taskID)
		}
	}
	return nil
}

func (r *MemoryRepository) ListProjects(ctx context.Context) ([]*models.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Project, 0, len(r.projects))
	for _, p := range r.projects {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (r *MemoryRepository) ListEnabledProjects(ctx context.Context) ([]*models.Project, error) {
	all, err := r.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Project, 0, len(all))
	for _, p := range all {
		if p.WorkLoopEnabled {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- Tasks ---

func (r *MemoryRepository) CreateTask(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	r.tasks[task.ID] = copyTask(task)
	return nil
}

func (r *MemoryRepository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTask(t), nil
}

func (r *MemoryRepository) UpdateTask(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[task.ID]; !ok {
		return ErrNotFound
	}
	task.UpdatedAt = time.Now().UTC()
	r.tasks[task.ID] = copyTask(task)
	return nil
}

func (r *MemoryRepository) DeleteTask(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(r.tasks, id)
	for depID, d := range r.dependencies {
		if d.TaskID == id || d.DependsOnID == id {
			delete(r.dependencies, depID)
		}
	}
	return nil
}

func (r *MemoryRepository) ListTasksByProjectStatus(ctx context.Context, projectID string, status models.TaskStatus) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Task
	for _, t := range r.tasks {
		if t.ProjectID == projectID && t.Status == status {
			out = append(out, copyTask(t))
		}
	}
	sortTasks(out)
	return out, nil
}

func (r *MemoryRepository) ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Task
	for _, t := range r.tasks {
		if t.Status == status {
			out = append(out, copyTask(t))
		}
	}
	sortTasks(out)
	return out, nil
}

func (r *MemoryRepository) ListTasksByAssignee(ctx context.Context, assignee string) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Task
	for _, t := range r.tasks {
		if t.Assignee == assignee {
			out = append(out, copyTask(t))
		}
	}
	sortTasks(out)
	return out, nil
}

func (r *MemoryRepository) ListTasksWithOpenPR(ctx context.Context, projectID string) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Task
	for _, t := range r.tasks {
		if t.ProjectID == projectID && t.Status != models.TaskStatusDone && t.PRNumber > 0 {
			out = append(out, copyTask(t))
		}
	}
	sortTasks(out)
	return out, nil
}

func sortTasks(tasks []*models.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		pi, pj := models.PriorityRank(tasks[i].Priority), models.PriorityRank(tasks[j].Priority)
		if pi != pj {
			return pi < pj
		}
		return tasks[i].Position < tasks[j].Position
	})
}

// applyStatusInvariants mutates the task for a transition into status.
func applyStatusInvariants(t *models.Task, status models.TaskStatus) {
	now := time.Now().UTC()
	if t.Status == models.TaskStatusBlocked && status != models.TaskStatusBlocked {
		t.Escalated = false
		t.EscalatedAt = nil
	}
	switch status {
	case models.TaskStatusDone:
		t.CompletedAt = &now
		clearAgentFields(t)
	case models.TaskStatusReady, models.TaskStatusBacklog:
		clearAgentFields(t)
	}
	t.Status = status
	t.UpdatedAt = now
}

func clearAgentFields(t *models.Task) {
	t.SessionID = ""
	t.AgentSessionKey = ""
	t.AgentModel = ""
	t.AgentStartedAt = nil
	t.AgentLastActiveAt = nil
}

func (r *MemoryRepository) incompleteDepsLocked(taskID string) []*models.Task {
	var out []*models.Task
	for _, d := range r.dependencies {
		if d.TaskID != taskID {
			continue
		}
		dep, ok := r.tasks[d.DependsOnID]
		if !ok {
			continue
		}
		if dep.Status != models.TaskStatusDone {
			out = append(out, copyTask(dep))
		}
	}
	return out
}

func (r *MemoryRepository) UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status == models.TaskStatusBacklog && status != models.TaskStatusBacklog {
		if len(r.incompleteDepsLocked(id)) > 0 {
			return nil, ErrDependencyNotMet
		}
	}
	if t.Status != status {
		t.Position = r.nextPositionLocked(t.ProjectID, status)
	}
	applyStatusInvariants(t, status)
	return copyTask(t), nil
}

func (r *MemoryRepository) ClaimTask(ctx context.Context, id string) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != models.TaskStatusReady {
		return nil, ErrConflict
	}
	if len(r.incompleteDepsLocked(id)) > 0 {
		return nil, ErrDependencyNotMet
	}
	t.Position = r.nextPositionLocked(t.ProjectID, models.TaskStatusInProgress)
	applyStatusInvariants(t, models.TaskStatusInProgress)
	return copyTask(t), nil
}

// nextPositionLocked returns one past the largest position in the destination
// column. A task entering a column goes to the end; positions stay unique
// within (project, status).
func (r *MemoryRepository) nextPositionLocked(projectID string, status models.TaskStatus) int {
	next := 0
	for _, t := range r.tasks {
		if t.ProjectID == projectID && t.Status == status && t.Position >= next {
			next = t.Position + 1
		}
	}
	return next
}

func (r *MemoryRepository) MoveTask(ctx context.Context, id string, status models.TaskStatus, position int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status == models.TaskStatusBacklog && status != models.TaskStatusBacklog {
		if len(r.incompleteDepsLocked(id)) > 0 {
			return ErrDependencyNotMet
		}
	}

	// Collect the destination column (minus the moved task) in order.
	var column []*models.Task
	for _, other := range r.tasks {
		if other.ID != id && other.ProjectID == t.ProjectID && other.Status == status {
			column = append(column, other)
		}
	}
	sort.Slice(column, func(i, j int) bool { return column[i].Position < column[j].Position })

	if t.Status != status {
		applyStatusInvariants(t, status)
	}
	if position < 0 {
		position = 0
	}
	if position > len(column) {
		position = len(column)
	}

	// Renumber densely so positions stay unique within (project, status).
	idx := 0
	for _, other := range column {
		if idx == position {
			idx++
		}
		other.Position = idx
		other.UpdatedAt = time.Now().UTC()
		idx++
	}
	t.Position = position
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Dependencies ---

func (r *MemoryRepository) AddDependency(ctx context.Context, dep *models.TaskDependency) error {
	if dep.TaskID == dep.DependsOnID {
		return ErrSelfDependency
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[dep.TaskID]; !ok {
		return ErrNotFound
	}
	if _, ok := r.tasks[dep.DependsOnID]; !ok {
		return ErrNotFound
	}
	// BFS from depends_on looking for task: a path back means the new edge
	// closes a cycle.
	if r.pathExistsLocked(dep.DependsOnID, dep.TaskID) {
		return ErrDependencyCycle
	}
	if dep.ID == "" {
		dep.ID = uuid.New().String()
	}
	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = time.Now().UTC()
	}
	c := *dep
	r.dependencies[dep.ID] = &c
	return nil
}

func (r *MemoryRepository) pathExistsLocked(from, to string) bool {
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return true
		}
		for _, d := range r.dependencies {
			if d.TaskID == cur && !visited[d.DependsOnID] {
				visited[d.DependsOnID] = true
				queue = append(queue, d.DependsOnID)
			}
		}
	}
	return false
}

func (r *MemoryRepository) DeleteDependency(ctx context.Context, taskID, dependsOnID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, d := range r.dependencies {
		if d.TaskID == taskID && d.DependsOnID == dependsOnID {
			delete(r.dependencies, id)
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepository) ListDependencies(ctx context.Context, taskID string) ([]*models.TaskDependency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.TaskDependency
	for _, d := range r.dependencies {
		if d.TaskID == taskID {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) ListDependents(ctx context.Context, dependsOnID string) ([]*models.TaskDependency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.TaskDependency
	for _, d := range r.dependencies {
		if d.DependsOnID == dependsOnID {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) ListIncompleteDependencies(ctx context.Context, taskID string) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.incompleteDepsLocked(taskID), nil
}

// --- Comments ---

func (r *MemoryRepository) CreateComment(ctx context.Context, comment *models.Comment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if comment.ID == "" {
		comment.ID = uuid.New().String()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	c := *comment
	r.comments[comment.ID] = &c
	return nil
}

func (r *MemoryRepository) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.comments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (r *MemoryRepository) ListCommentsByTask(ctx context.Context, taskID string) ([]*models.Comment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Comment
	for _, c := range r.comments {
		if c.TaskID == taskID {
			cc := *c
			out = append(out, &cc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) ListPendingInputRequests(ctx context.Context) ([]*models.Comment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Comment
	for _, c := range r.comments {
		if c.Type == models.CommentTypeRequestInput && c.RespondedAt == nil {
			cc := *c
			out = append(out, &cc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) RespondToComment(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.comments[id]
	if !ok {
		return ErrNotFound
	}
	if c.RespondedAt != nil {
		return ErrAlreadyResponded
	}
	now := time.Now().UTC()
	c.RespondedAt = &now
	return nil
}

// --- Signals ---

func (r *MemoryRepository) CreateSignal(ctx context.Context, signal *models.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if signal.ID == "" {
		signal.ID = uuid.New().String()
	}
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now().UTC()
	}
	signal.Blocking = signal.Kind != models.SignalKindFYI
	c := *signal
	r.signals[signal.ID] = &c
	return nil
}

func (r *MemoryRepository) GetSignal(ctx context.Context, id string) (*models.Signal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.signals[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s
	return &c, nil
}

func (r *MemoryRepository) ListSignalsByTask(ctx context.Context, taskID string) ([]*models.Signal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Signal
	for _, s := range r.signals {
		if s.TaskID == taskID {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) ListPendingSignals(ctx context.Context) ([]*models.Signal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Signal
	for _, s := range r.signals {
		if s.IsPending() {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := models.SeverityRank(out[i].Severity), models.SeverityRank(out[j].Severity)
		if si != sj {
			return si < sj
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) RespondToSignal(ctx context.Context, id, response string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.signals[id]
	if !ok {
		return ErrNotFound
	}
	if s.RespondedAt != nil {
		return ErrAlreadyResponded
	}
	now := time.Now().UTC()
	s.RespondedAt = &now
	s.Response = response
	return nil
}

// --- Sessions ---

func (r *MemoryRepository) UpsertSession(ctx context.Context, session *models.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *session
	r.sessions[session.SessionKey] = &c
	return nil
}

func (r *MemoryRepository) GetSession(ctx context.Context, sessionKey string) (*models.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionKey]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s
	return &c, nil
}

func (r *MemoryRepository) DeleteSession(ctx context.Context, sessionKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionKey]; !ok {
		return ErrNotFound
	}
	delete(r.sessions, sessionKey)
	return nil
}

func (r *MemoryRepository) ListSessions(ctx context.Context) ([]*models.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.SessionRecord, 0, len(r.sessions))
	for _, s := range r.sessions {
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionKey < out[j].SessionKey })
	return out, nil
}

// --- Notifications ---

func (r *MemoryRepository) CreateNotification(ctx context.Context, notification *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if notification.ID == "" {
		notification.ID = uuid.New().String()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	c := *notification
	r.notifications[notification.ID] = &c
	return nil
}

func (r *MemoryRepository) ListUnreadNotifications(ctx context.Context) ([]*models.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Notification
	for _, n := range r.notifications {
		if !n.Read {
			c := *n
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) CountUnreadEscalations(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, n := range r.notifications {
		if !n.Read && n.Type == models.NotificationEscalation {
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) MarkNotificationRead(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return ErrNotFound
	}
	n.Read = true
	return nil
}

// --- Task events ---

func (r *MemoryRepository) AppendTaskEvent(ctx context.Context, event *models.TaskEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	c := *event
	r.events = append(r.events, &c)
	return nil
}

func (r *MemoryRepository) ListTaskEvents(ctx context.Context, taskID string) ([]*models.TaskEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.TaskEvent
	for _, e := range r.events {
		if e.TaskID == taskID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListProjectEvents(ctx context.Context, projectID string, limit int) ([]*models.TaskEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.TaskEvent
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].ProjectID == projectID {
			c := *r.events[i]
			out = append(out, &c)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// --- Prompt versions ---

func (r *MemoryRepository) CreatePromptVersion(ctx context.Context, pv *models.PromptVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pv.ID == "" {
		pv.ID = uuid.New().String()
	}
	if pv.CreatedAt.IsZero() {
		pv.CreatedAt = time.Now().UTC()
	}
	maxVersion := 0
	for _, existing := range r.promptVersions {
		if existing.Role == pv.Role && existing.Model == pv.Model {
			if existing.Version > maxVersion {
				maxVersion = existing.Version
			}
			existing.Active = false
		}
	}
	pv.Version = maxVersion + 1
	pv.Active = true
	c := *pv
	r.promptVersions[pv.ID] = &c
	return nil
}

func (r *MemoryRepository) GetActivePromptVersion(ctx context.Context, role models.AgentRole, model string) (*models.PromptVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, pv := range r.promptVersions {
		if pv.Role == role && pv.Model == model && pv.Active {
			c := *pv
			return &c, nil
		}
	}
	// Fall back to the role-wide scope when no model-specific version exists.
	if model != "" {
		for _, pv := range r.promptVersions {
			if pv.Role == role && pv.Model == "" && pv.Active {
				c := *pv
				return &c, nil
			}
		}
	}
	return nil, ErrNoActivePrompt
}

func (r *MemoryRepository) ListPromptVersions(ctx context.Context, role models.AgentRole) ([]*models.PromptVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.PromptVersion
	for _, pv := range r.promptVersions {
		if pv.Role == role {
			c := *pv
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Model != out[j].Model {
			return out[i].Model < out[j].Model
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}
