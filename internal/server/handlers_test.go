package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traphq/trap/internal/common/config"
	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/events/bus"
	"github.com/traphq/trap/internal/gate"
	"github.com/traphq/trap/internal/notifications"
	"github.com/traphq/trap/internal/task/models"
	"github.com/traphq/trap/internal/task/repository"
	"github.com/traphq/trap/internal/triage"
)

func newTestRouter(t *testing.T, repo repository.Repository) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Default()
	notifier := notifications.NewService(repo, bus.NewMemoryEventBus(log), log)
	triageSvc := triage.NewService(repo, notifier, log)
	gateAgg := gate.NewAggregator(repo, config.WorkLoopConfig{})

	router := gin.New()
	registerRoutes(router, repo, gateAgg, triageSvc, log)
	return router
}

func doRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedBlockedTask(t *testing.T, repo repository.Repository) *models.Task {
	t.Helper()
	project := &models.Project{
		ID:              uuid.New().String(),
		Name:            "Webapp",
		Slug:            "webapp",
		WorkLoopEnabled: true,
	}
	require.NoError(t, repo.CreateProject(context.Background(), project))
	task := &models.Task{
		ID:        uuid.New().String(),
		ProjectID: project.ID,
		Title:     "stuck on migrations",
		Status:    models.TaskStatusBlocked,
		Priority:  models.TaskPriorityMedium,
		Role:      models.RoleDev,
	}
	require.NoError(t, repo.CreateTask(context.Background(), task))
	return task
}

func TestHandleHealth(t *testing.T) {
	router := newTestRouter(t, repository.NewMemoryRepository())
	w := doRequest(router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleGateQuietBoard(t *testing.T) {
	router := newTestRouter(t, repository.NewMemoryRepository())

	w := doRequest(router, http.MethodGet, "/api/gate", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status gate.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.NeedsAttention)
	assert.Empty(t, status.Reason)
}

func TestHandleGateReportsBlockedTask(t *testing.T) {
	repo := repository.NewMemoryRepository()
	seedBlockedTask(t, repo)
	router := newTestRouter(t, repo)

	w := doRequest(router, http.MethodGet, "/api/gate", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status gate.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.NeedsAttention)
	assert.Contains(t, status.Reason, "awaiting triage")
}

func TestHandleSignalRespond(t *testing.T) {
	repo := repository.NewMemoryRepository()
	task := seedBlockedTask(t, repo)
	signal := &models.Signal{
		ID:       uuid.New().String(),
		TaskID:   task.ID,
		Kind:     models.SignalKindQuestion,
		Severity: models.SeverityHigh,
		Message:  "which database?",
		Blocking: true,
	}
	require.NoError(t, repo.CreateSignal(context.Background(), signal))
	router := newTestRouter(t, repo)

	w := doRequest(router, http.MethodPost, "/api/signals/"+signal.ID+"/respond",
		map[string]string{"response": "postgres"})
	assert.Equal(t, http.StatusOK, w.Code)

	// A second response is rejected.
	w = doRequest(router, http.MethodPost, "/api/signals/"+signal.ID+"/respond",
		map[string]string{"response": "mysql"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleSignalRespondValidation(t *testing.T) {
	router := newTestRouter(t, repository.NewMemoryRepository())

	w := doRequest(router, http.MethodPost, "/api/signals/abc/respond", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPost, "/api/signals/"+uuid.New().String()+"/respond",
		map[string]string{"response": "ok"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleUnblock(t *testing.T) {
	repo := repository.NewMemoryRepository()
	task := seedBlockedTask(t, repo)
	router := newTestRouter(t, repo)

	w := doRequest(router, http.MethodPost, "/api/tasks/"+task.ID+"/triage/unblock", nil)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := repo.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusReady, got.Status)
}

func TestHandleUnblockNotBlocked(t *testing.T) {
	repo := repository.NewMemoryRepository()
	task := seedBlockedTask(t, repo)
	_, err := repo.UpdateTaskStatus(context.Background(), task.ID, models.TaskStatusReady)
	require.NoError(t, err)
	router := newTestRouter(t, repo)

	w := doRequest(router, http.MethodPost, "/api/tasks/"+task.ID+"/triage/unblock", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleTriageUnknownTask(t *testing.T) {
	router := newTestRouter(t, repository.NewMemoryRepository())

	w := doRequest(router, http.MethodPost, "/api/tasks/"+uuid.New().String()+"/triage/unblock", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleReassign(t *testing.T) {
	repo := repository.NewMemoryRepository()
	task := seedBlockedTask(t, repo)
	router := newTestRouter(t, repo)

	w := doRequest(router, http.MethodPost, "/api/tasks/"+task.ID+"/triage/reassign",
		map[string]string{"role": "research", "model": "gpt"})
	require.Equal(t, http.StatusOK, w.Code)

	got, err := repo.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleResearch, got.Role)
	assert.Equal(t, models.TaskStatusReady, got.Status)
}

func TestHandleSplit(t *testing.T) {
	repo := repository.NewMemoryRepository()
	task := seedBlockedTask(t, repo)
	router := newTestRouter(t, repo)

	body := map[string]interface{}{
		"subtasks": []map[string]string{
			{"title": "schema migration"},
			{"title": "backfill script"},
		},
	}
	w := doRequest(router, http.MethodPost, "/api/tasks/"+task.ID+"/triage/split", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Subtasks []*models.Task `json:"subtasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Subtasks, 2)

	got, err := repo.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDone, got.Status)
}

func TestHandleSplitRequiresSubtasks(t *testing.T) {
	repo := repository.NewMemoryRepository()
	task := seedBlockedTask(t, repo)
	router := newTestRouter(t, repo)

	w := doRequest(router, http.MethodPost, "/api/tasks/"+task.ID+"/triage/split",
		map[string]interface{}{"subtasks": []map[string]string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleKill(t *testing.T) {
	repo := repository.NewMemoryRepository()
	task := seedBlockedTask(t, repo)
	router := newTestRouter(t, repo)

	w := doRequest(router, http.MethodPost, "/api/tasks/"+task.ID+"/triage/kill",
		map[string]string{"reason": "superseded"})
	require.Equal(t, http.StatusOK, w.Code)

	got, err := repo.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusBacklog, got.Status)
}

func TestHandleEscalate(t *testing.T) {
	repo := repository.NewMemoryRepository()
	task := seedBlockedTask(t, repo)
	router := newTestRouter(t, repo)

	w := doRequest(router, http.MethodPost, "/api/tasks/"+task.ID+"/triage/escalate",
		map[string]string{"reason": "needs human decision"})
	require.Equal(t, http.StatusOK, w.Code)

	got, err := repo.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusBlocked, got.Status)
	assert.True(t, got.Escalated)

	count, err := repo.CountUnreadEscalations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
