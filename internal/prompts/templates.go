package prompts

import (
	"fmt"
	"strings"

	"github.com/traphq/trap/internal/task/models"
)

func taskHeader(in BuildInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Task %s: %s\n\n", models.ShortID(in.Task.ID), in.Task.Title)
	if in.Task.Description != "" {
		sb.WriteString(in.Task.Description)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "Task ID: %s\n", in.Task.ID)
	fmt.Fprintf(&sb, "Project: %s\n", in.Project.Slug)
	if in.Project.LocalPath != "" {
		fmt.Fprintf(&sb, "Repository: %s\n", in.Project.LocalPath)
	}
	if in.WorktreePath != "" {
		fmt.Fprintf(&sb, "Worktree: %s\n", in.WorktreePath)
	}
	return sb.String()
}

func commentContext(comments []*models.Comment) string {
	var lines []string
	for _, c := range comments {
		if c.Type == models.CommentTypeStatusChange {
			continue
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s", c.Author, c.Content))
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Prior discussion\n\n" + strings.Join(lines, "\n") + "\n\n"
}

func devInstructions(in BuildInput) string {
	var sb strings.Builder
	sb.WriteString(taskHeader(in))
	sb.WriteString("\n")
	sb.WriteString(commentContext(in.Comments))
	fmt.Fprintf(&sb, "Work on branch %s inside the worktree. ", in.Task.BranchName())
	sb.WriteString("When the change is complete, open a pull request and mark the task ready for review.\n")
	return sb.String()
}

func researchInstructions(in BuildInput) string {
	var sb strings.Builder
	sb.WriteString(taskHeader(in))
	sb.WriteString("\n")
	sb.WriteString(commentContext(in.Comments))
	sb.WriteString("Investigate the question above and post your findings as a task comment. Do not modify code.\n")
	return sb.String()
}

func pmInstructions(in BuildInput) string {
	var sb strings.Builder
	sb.WriteString(taskHeader(in))
	sb.WriteString("\n")
	sb.WriteString(commentContext(in.Comments))
	sb.WriteString("Triage this task: clarify scope, split it if it is too large, and move it to ready when it is actionable.\n")
	return sb.String()
}

// pmFollowUpInstructions is used when previous agent runs left answered
// signals on the task; the PM resumes with the Q&A history inlined.
func pmFollowUpInstructions(in BuildInput) string {
	var sb strings.Builder
	sb.WriteString(taskHeader(in))
	sb.WriteString("\n## Answered questions\n\n")
	for _, qa := range in.SignalQA {
		fmt.Fprintf(&sb, "Q: %s\nA: %s\n\n", qa.Question, qa.Answer)
	}
	sb.WriteString(commentContext(in.Comments))
	sb.WriteString("The questions above have been answered. Re-triage the task with this new information.\n")
	return sb.String()
}

func reviewerInstructions(in BuildInput) string {
	var sb strings.Builder
	sb.WriteString(taskHeader(in))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Review pull request #%d on branch %s.\n", in.PRNumber, in.Branch)
	sb.WriteString("Check the diff against the task description, run the tests in the worktree, and either approve and merge or request changes with specific comments.\n")
	return sb.String()
}

func conflictResolverInstructions(in BuildInput) string {
	var sb strings.Builder
	sb.WriteString(taskHeader(in))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Pull request #%d on branch %s has merge conflicts with its base.\n", in.PRNumber, in.Branch)
	sb.WriteString("Rebase the branch in the worktree, resolve the conflicts preserving both intents, and push the result.\n")
	return sb.String()
}
