package workloop

import (
	"github.com/traphq/trap/internal/common/config"
	"github.com/traphq/trap/internal/task/models"
)

// DenialReason says which limit refused an admission.
type DenialReason string

const (
	DenialGlobal   DenialReason = "global_limit"
	DenialProject  DenialReason = "project_limit"
	DenialDev      DenialReason = "dev_limit"
	DenialReviewer DenialReason = "reviewer_limit"
)

// AgentCounter is the slice of the agent manager the capacity controller
// reads.
type AgentCounter interface {
	ActiveCount(projectID string, role models.AgentRole) int
}

// Capacity enforces the admission limits checked before any spawn.
type Capacity struct {
	cfg    config.WorkLoopConfig
	agents AgentCounter
}

// NewCapacity creates the admission controller.
func NewCapacity(cfg config.WorkLoopConfig, agents AgentCounter) *Capacity {
	return &Capacity{cfg: cfg, agents: agents}
}

// Admit reports whether a new agent of the given role may start for the
// project. project.WorkLoopMaxAgents overrides the per-project default when
// set. On refusal the denial reason is returned.
func (c *Capacity) Admit(project *models.Project, role models.AgentRole) (DenialReason, bool) {
	if c.agents.ActiveCount("", "") >= c.cfg.MaxAgentsGlobal {
		return DenialGlobal, false
	}

	projectMax := c.cfg.MaxAgentsPerProject
	if project.WorkLoopMaxAgents > 0 {
		projectMax = project.WorkLoopMaxAgents
	}
	if c.agents.ActiveCount(project.ID, "") >= projectMax {
		return DenialProject, false
	}

	switch role {
	case models.RoleDev:
		if c.agents.ActiveCount("", models.RoleDev) >= c.cfg.MaxDevAgents {
			return DenialDev, false
		}
	case models.RoleReviewer:
		if c.agents.ActiveCount("", models.RoleReviewer) >= c.cfg.MaxReviewerAgents {
			return DenialReviewer, false
		}
	}
	return "", true
}

// Role to model routing is fixed; every role resolves to an explicit model.
const (
	modelGPT = "gpt"
	modelDev = "moonshot/kimi-for-coding"
)

// ModelForRole returns the model a role's agents run on. Unknown roles get
// the dev mapping.
func ModelForRole(role models.AgentRole) string {
	switch role {
	case models.RolePM, models.RoleResearch:
		return modelGPT
	case models.RoleReviewer, models.RoleDev, models.RoleConflictResolver:
		return modelDev
	default:
		return modelDev
	}
}
