// Package agent tracks live agent handles for the work loop.
//
// The handle map is process-local and deliberately not persisted: the
// sessions table mirrored from the gateway is the ground truth, and ghost
// detection reconstructs anything the map would have known after a restart.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/gateway"
	"github.com/traphq/trap/internal/task/models"
)

// Common errors.
var (
	// ErrAgentExists indicates a live handle already tracks the task.
	ErrAgentExists = errors.New("agent already running for task")
)

// Handle is the in-memory record of a spawned agent.
type Handle struct {
	TaskID         string
	ProjectID      string
	Role           models.AgentRole
	SessionKey     string
	Model          string
	SpawnedAt      time.Time
	LastActivityAt time.Time
}

// Reaped describes a handle removed because its session ended.
type Reaped struct {
	Handle        Handle
	SessionStatus models.SessionStatus
}

// Gateway is the slice of the RPC client the manager needs.
type Gateway interface {
	ChatSend(ctx context.Context, req gateway.ChatSendRequest) (*gateway.ChatSendResult, error)
	ChatAbort(ctx context.Context, sessionKey string) error
}

// SessionReader reads mirrored session rows from the store.
type SessionReader interface {
	GetSession(ctx context.Context, sessionKey string) (*models.SessionRecord, error)
}

// SpawnRequest carries everything needed to launch one agent.
type SpawnRequest struct {
	TaskID         string
	ProjectID      string
	Role           models.AgentRole
	Message        string
	Model          string
	Thinking       string
	TimeoutSeconds int
}

type reapKey struct {
	taskID string
	role   models.AgentRole
}

// Manager tracks live agent handles and drives spawn/reap/abort through the
// gateway. A single mutex guards the maps; no cross-process sharing.
type Manager struct {
	gw       Gateway
	sessions SessionReader
	logger   *logger.Logger
	cooldown time.Duration

	mu      sync.Mutex
	handles map[string]*Handle // taskID -> handle
	reaped  map[reapKey]time.Time

	now func() time.Time
}

// NewManager creates a new agent manager. cooldown is the recently-reaped
// window; zero selects the 60s default.
func NewManager(gw Gateway, sessions SessionReader, cooldown time.Duration, log *logger.Logger) *Manager {
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &Manager{
		gw:       gw,
		sessions: sessions,
		logger:   log.WithFields(zap.String("component", "agent-manager")),
		cooldown: cooldown,
		handles:  make(map[string]*Handle),
		reaped:   make(map[reapKey]time.Time),
		now:      time.Now,
	}
}

// Spawn launches an agent for a task via chat.send and registers a handle.
// A second spawn for the same task while a handle is live is rejected.
func (m *Manager) Spawn(ctx context.Context, req SpawnRequest) (*Handle, error) {
	m.mu.Lock()
	if _, exists := m.handles[req.TaskID]; exists {
		m.mu.Unlock()
		return nil, ErrAgentExists
	}
	m.mu.Unlock()

	sessionKey := models.WorkLoopSessionKey(req.Role, req.TaskID)
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = 3600
	}

	result, err := m.gw.ChatSend(ctx, gateway.ChatSendRequest{
		SessionKey:     sessionKey,
		Message:        req.Message,
		Model:          req.Model,
		Thinking:       req.Thinking,
		TimeoutSeconds: timeout,
	})
	if err != nil {
		return nil, err
	}

	now := m.now()
	handle := &Handle{
		TaskID:         req.TaskID,
		ProjectID:      req.ProjectID,
		Role:           req.Role,
		SessionKey:     sessionKey,
		Model:          req.Model,
		SpawnedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	m.handles[req.TaskID] = handle
	m.mu.Unlock()

	m.logger.Info("agent spawned",
		zap.String("task_id", req.TaskID),
		zap.String("project_id", req.ProjectID),
		zap.String("role", string(req.Role)),
		zap.String("session_key", sessionKey),
		zap.String("run_status", result.Status))

	h := *handle
	return &h, nil
}

// Has reports whether a live handle tracks the task.
func (m *Manager) Has(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[taskID]
	return ok
}

// Get returns the handle for a task, if any.
func (m *Manager) Get(taskID string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[taskID]
	if !ok {
		return nil, false
	}
	c := *h
	return &c, true
}

// Active returns a snapshot of all live handles.
func (m *Manager) Active() []Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Handle, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, *h)
	}
	return out
}

// ActiveCount counts live handles matching the filters. Empty projectID or
// role matches everything.
func (m *Manager) ActiveCount(projectID string, role models.AgentRole) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, h := range m.handles {
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

// IsRecentlyReaped reports whether a handle with (taskID, role) was reaped
// within the cooldown window. It keeps a task whose session just ended from
// being handed the same role again on the very next cycle.
func (m *Manager) IsRecentlyReaped(taskID string, role models.AgentRole) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.reaped[reapKey{taskID: taskID, role: role}]
	if !ok {
		return false
	}
	if m.now().Sub(at) > m.cooldown {
		delete(m.reaped, reapKey{taskID: taskID, role: role})
		return false
	}
	return true
}

// Reap checks every tracked handle against the session rows and removes the
// ones whose session is completed or stale. A handle without a session row is
// still spawning and stays. Calling Reap twice with nothing changed returns
// an empty slice the second time.
func (m *Manager) Reap(ctx context.Context) []Reaped {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	var reaped []Reaped
	for _, h := range handles {
		session, err := m.sessions.GetSession(ctx, h.SessionKey)
		if err != nil {
			// No row yet: the gateway has not mirrored the session, so the
			// agent is considered still spawning.
			continue
		}
		if !session.IsTerminal() {
			m.mu.Lock()
			if live, ok := m.handles[h.TaskID]; ok {
				live.LastActivityAt = session.LastActiveAt
			}
			m.mu.Unlock()
			continue
		}

		m.mu.Lock()
		delete(m.handles, h.TaskID)
		m.reaped[reapKey{taskID: h.TaskID, role: h.Role}] = m.now()
		m.mu.Unlock()

		m.logger.Info("agent reaped",
			zap.String("task_id", h.TaskID),
			zap.String("role", string(h.Role)),
			zap.String("session_status", string(session.Status)))

		reaped = append(reaped, Reaped{Handle: *h, SessionStatus: session.Status})
	}
	return reaped
}

// Kill aborts the task's agent via chat.abort. The handle stays; Reap removes
// it once the session row flips to a terminal status.
func (m *Manager) Kill(ctx context.Context, taskID string) error {
	m.mu.Lock()
	h, ok := m.handles[taskID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.gw.ChatAbort(ctx, h.SessionKey)
}

// KillAll aborts every tracked agent. Used on shutdown; handles are kept.
func (m *Manager) KillAll(ctx context.Context) {
	for _, h := range m.Active() {
		if err := m.gw.ChatAbort(ctx, h.SessionKey); err != nil {
			m.logger.Warn("abort failed during shutdown",
				zap.String("task_id", h.TaskID),
				zap.String("session_key", h.SessionKey),
				zap.Error(err))
		}
	}
}
