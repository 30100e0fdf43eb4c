// Package prompts assembles the message sent to a freshly spawned agent: the
// stored soul template for the role, followed by per-task instructions.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/traphq/trap/internal/task/models"
	"github.com/traphq/trap/internal/task/repository"
)

// ActivePromptReader reads the active soul template for a role/model scope.
type ActivePromptReader interface {
	GetActivePromptVersion(ctx context.Context, role models.AgentRole, model string) (*models.PromptVersion, error)
}

// QA is one answered signal from a previous agent run on the task.
type QA struct {
	Question string
	Answer   string
}

// BuildInput carries everything the builder needs for one spawn.
type BuildInput struct {
	Role         models.AgentRole
	Model        string
	Task         *models.Task
	Project      *models.Project
	WorktreePath string
	// Reviewer and conflict-resolver context.
	PRNumber int
	Branch   string
	// PM context.
	SignalQA []QA
	Comments []*models.Comment
}

// Prompt is the assembled spawn message.
type Prompt struct {
	Message   string
	ImageURLs []string
}

// Builder assembles spawn prompts from stored soul templates.
type Builder struct {
	store ActivePromptReader
}

// NewBuilder creates a prompt builder.
func NewBuilder(store ActivePromptReader) *Builder {
	return &Builder{store: store}
}

// Build assembles the prompt for one spawn. A missing active soul template is
// an error; there is no compiled-in fallback.
func (b *Builder) Build(ctx context.Context, in BuildInput) (*Prompt, error) {
	soul, err := b.store.GetActivePromptVersion(ctx, in.Role, in.Model)
	if err != nil {
		if errors.Is(err, repository.ErrNoActivePrompt) {
			return nil, fmt.Errorf("no active prompt version for role %s: %w", in.Role, err)
		}
		return nil, fmt.Errorf("load prompt version for role %s: %w", in.Role, err)
	}

	instructions := b.instructions(in)

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(soul.Content))
	sb.WriteString("\n\n---\n\n")
	sb.WriteString(instructions)

	prompt := &Prompt{Message: sb.String()}
	if in.Role == models.RolePM {
		prompt.ImageURLs = ExtractImageURLs(in.Task.Description)
	}
	return prompt, nil
}

func (b *Builder) instructions(in BuildInput) string {
	switch in.Role {
	case models.RolePM:
		if len(in.SignalQA) > 0 {
			return pmFollowUpInstructions(in)
		}
		return pmInstructions(in)
	case models.RoleReviewer:
		return reviewerInstructions(in)
	case models.RoleConflictResolver:
		return conflictResolverInstructions(in)
	case models.RoleResearch:
		return researchInstructions(in)
	default:
		return devInstructions(in)
	}
}
