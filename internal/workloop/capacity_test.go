package workloop

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/traphq/trap/internal/common/config"
	"github.com/traphq/trap/internal/task/models"
)

type staticCounts struct {
	global   int
	project  map[string]int
	byRole   map[models.AgentRole]int
}

func (s staticCounts) ActiveCount(projectID string, role models.AgentRole) int {
	if projectID == "" && role == "" {
		return s.global
	}
	if projectID != "" {
		return s.project[projectID]
	}
	return s.byRole[role]
}

func capacityConfig() config.WorkLoopConfig {
	return config.WorkLoopConfig{
		MaxAgentsGlobal:     6,
		MaxAgentsPerProject: 3,
		MaxDevAgents:        4,
		MaxReviewerAgents:   2,
	}
}

func TestAdmitWithinLimits(t *testing.T) {
	c := NewCapacity(capacityConfig(), staticCounts{})
	reason, ok := c.Admit(&models.Project{ID: "p1"}, models.RoleDev)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestAdmitGlobalLimit(t *testing.T) {
	c := NewCapacity(capacityConfig(), staticCounts{global: 6})
	reason, ok := c.Admit(&models.Project{ID: "p1"}, models.RoleDev)
	assert.False(t, ok)
	assert.Equal(t, DenialGlobal, reason)
}

func TestAdmitProjectLimit(t *testing.T) {
	c := NewCapacity(capacityConfig(), staticCounts{
		global: 3, project: map[string]int{"p1": 3},
	})
	reason, ok := c.Admit(&models.Project{ID: "p1"}, models.RoleDev)
	assert.False(t, ok)
	assert.Equal(t, DenialProject, reason)
}

func TestAdmitProjectOverride(t *testing.T) {
	c := NewCapacity(capacityConfig(), staticCounts{
		global: 3, project: map[string]int{"p1": 3},
	})
	// Project raises its own ceiling above the default.
	reason, ok := c.Admit(&models.Project{ID: "p1", WorkLoopMaxAgents: 5}, models.RoleResearch)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestAdmitRoleLimits(t *testing.T) {
	c := NewCapacity(capacityConfig(), staticCounts{
		global: 4,
		byRole: map[models.AgentRole]int{models.RoleDev: 4, models.RoleReviewer: 2},
	})

	reason, ok := c.Admit(&models.Project{ID: "p1"}, models.RoleDev)
	assert.False(t, ok)
	assert.Equal(t, DenialDev, reason)

	reason, ok = c.Admit(&models.Project{ID: "p1"}, models.RoleReviewer)
	assert.False(t, ok)
	assert.Equal(t, DenialReviewer, reason)

	// Role limits only apply to their role.
	_, ok = c.Admit(&models.Project{ID: "p1"}, models.RolePM)
	assert.True(t, ok)
}

func TestModelForRole(t *testing.T) {
	assert.Equal(t, "gpt", ModelForRole(models.RolePM))
	assert.Equal(t, "gpt", ModelForRole(models.RoleResearch))
	assert.Equal(t, "moonshot/kimi-for-coding", ModelForRole(models.RoleDev))
	assert.Equal(t, "moonshot/kimi-for-coding", ModelForRole(models.RoleReviewer))
	assert.Equal(t, "moonshot/kimi-for-coding", ModelForRole(models.RoleConflictResolver))
	assert.Equal(t, "moonshot/kimi-for-coding", ModelForRole(models.AgentRole("")))
}
