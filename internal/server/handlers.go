package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/traphq/trap/internal/common/logger"
	"github.com/traphq/trap/internal/gate"
	"github.com/traphq/trap/internal/task/models"
	"github.com/traphq/trap/internal/task/repository"
	"github.com/traphq/trap/internal/triage"
)

// actorOrDefault reads the acting coordinator from the request, defaulting to
// "coordinator" when the caller does not identify itself.
func actorOrDefault(c *gin.Context) string {
	if actor := c.GetHeader("X-Actor"); actor != "" {
		return actor
	}
	return "coordinator"
}

func writeTriageError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, triage.ErrNotBlocked):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// handleGate handles GET /api/gate.
func handleGate(agg *gate.Aggregator, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := agg.Compute(c.Request.Context())
		if err != nil {
			log.Error("gate computation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "gate computation failed"})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// handleSignalRespond handles POST /api/signals/:id/respond.
func handleSignalRespond(repo repository.Repository, log *logger.Logger) gin.HandlerFunc {
	type request struct {
		Response string `json:"response" binding:"required"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "response is required"})
			return
		}
		err := repo.RespondToSignal(c.Request.Context(), c.Param("id"), req.Response)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "signal not found"})
		case errors.Is(err, repository.ErrAlreadyResponded):
			c.JSON(http.StatusConflict, gin.H{"error": "signal already responded"})
		case err != nil:
			log.Error("signal respond failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "responded"})
		}
	}
}

// handleUnblock handles POST /api/tasks/:id/triage/unblock.
func handleUnblock(svc *triage.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		task, err := svc.Unblock(c.Request.Context(), c.Param("id"), actorOrDefault(c))
		if err != nil {
			writeTriageError(c, err)
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

// handleReassign handles POST /api/tasks/:id/triage/reassign.
func handleReassign(svc *triage.Service) gin.HandlerFunc {
	type request struct {
		Role  models.AgentRole `json:"role"`
		Model string           `json:"model"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		task, err := svc.Reassign(c.Request.Context(), c.Param("id"), actorOrDefault(c), req.Role, req.Model)
		if err != nil {
			writeTriageError(c, err)
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

// handleSplit handles POST /api/tasks/:id/triage/split.
func handleSplit(svc *triage.Service) gin.HandlerFunc {
	type request struct {
		Subtasks []triage.SubtaskSpec `json:"subtasks" binding:"required"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil || len(req.Subtasks) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "subtasks are required"})
			return
		}
		task, subtasks, err := svc.Split(c.Request.Context(), c.Param("id"), actorOrDefault(c), req.Subtasks)
		if err != nil {
			writeTriageError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"task": task, "subtasks": subtasks})
	}
}

// handleKill handles POST /api/tasks/:id/triage/kill.
func handleKill(svc *triage.Service) gin.HandlerFunc {
	type request struct {
		Reason string `json:"reason"`
	}
	return func(c *gin.Context) {
		var req request
		_ = c.ShouldBindJSON(&req)
		task, err := svc.Kill(c.Request.Context(), c.Param("id"), actorOrDefault(c), req.Reason)
		if err != nil {
			writeTriageError(c, err)
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

// handleEscalate handles POST /api/tasks/:id/triage/escalate.
func handleEscalate(svc *triage.Service) gin.HandlerFunc {
	type request struct {
		Reason string `json:"reason"`
	}
	return func(c *gin.Context) {
		var req request
		_ = c.ShouldBindJSON(&req)
		task, err := svc.Escalate(c.Request.Context(), c.Param("id"), actorOrDefault(c), req.Reason)
		if err != nil {
			writeTriageError(c, err)
			return
		}
		c.JSON(http.StatusOK, task)
	}
}
