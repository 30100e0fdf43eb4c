// Package github wraps the gh CLI for the PR checks the cleanup phase runs.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Client is the PR surface the work loop needs. Implemented by GHClient via
// the gh CLI and by NoopClient when gh is unavailable.
type Client interface {
	// GetPR fetches a single PR by number.
	GetPR(ctx context.Context, repo string, number int) (*PR, error)
	// FindPRByBranch finds the newest PR whose head ref matches the branch
	// (see BranchMatches). Returns nil, nil when none exists.
	FindPRByBranch(ctx context.Context, repo, branch string) (*PR, error)
	// ListMergedPRs returns recently merged PRs, newest first. One call
	// serves the whole sweep instead of a per-task query.
	ListMergedPRs(ctx context.Context, repo string, limit int) ([]*PR, error)
	// DeleteRemoteBranch removes a branch from origin. Deleting a branch
	// that is already gone is not an error.
	DeleteRemoteBranch(ctx context.Context, repo, branch string) error
}

const prFields = "number,title,url,state,headRefName,baseRefName,author,isDraft,createdAt,mergedAt,closedAt"

// GHClient implements Client using the gh CLI.
type GHClient struct {
	timeout time.Duration
}

// NewGHClient creates a new gh CLI-based client. timeout bounds each
// invocation; zero selects 10s.
func NewGHClient(timeout time.Duration) *GHClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GHClient{timeout: timeout}
}

// GHAvailable checks if the gh CLI is installed and accessible.
func GHAvailable() bool {
	_, err := exec.LookPath("gh")
	return err == nil
}

// ghPR is the JSON shape returned by gh pr list/view.
type ghPR struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	State       string    `json:"state"`
	HeadRefName string    `json:"headRefName"`
	BaseRefName string    `json:"baseRefName"`
	IsDraft     bool      `json:"isDraft"`
	CreatedAt   time.Time `json:"createdAt"`
	MergedAt    string    `json:"mergedAt"`
	ClosedAt    string    `json:"closedAt"`
	Author      struct {
		Login string `json:"login"`
	} `json:"author"`
}

func (c *GHClient) GetPR(ctx context.Context, repo string, number int) (*PR, error) {
	out, err := c.run(ctx, "pr", "view", fmt.Sprintf("%d", number),
		"--repo", repo,
		"--json", prFields)
	if err != nil {
		return nil, fmt.Errorf("get PR #%d: %w", number, err)
	}
	var raw ghPR
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("parse PR response: %w", err)
	}
	return convertGHPR(&raw), nil
}

func (c *GHClient) FindPRByBranch(ctx context.Context, repo, branch string) (*PR, error) {
	// --head needs an exact ref, so list all states and match locally to
	// catch suffixed head refs too.
	out, err := c.run(ctx, "pr", "list",
		"--repo", repo,
		"--state", "all",
		"--search", "head:"+branch,
		"--json", prFields,
		"--limit", "20")
	if err != nil {
		return nil, fmt.Errorf("find PR by branch %q: %w", branch, err)
	}
	prs, err := parsePRList(out)
	if err != nil {
		return nil, err
	}
	for _, pr := range prs {
		if BranchMatches(pr.HeadRefName, branch) {
			return pr, nil
		}
	}
	return nil, nil
}

func (c *GHClient) ListMergedPRs(ctx context.Context, repo string, limit int) ([]*PR, error) {
	if limit <= 0 {
		limit = 50
	}
	out, err := c.run(ctx, "pr", "list",
		"--repo", repo,
		"--state", "merged",
		"--json", prFields,
		"--limit", fmt.Sprintf("%d", limit))
	if err != nil {
		return nil, fmt.Errorf("list merged PRs: %w", err)
	}
	return parsePRList(out)
}

func (c *GHClient) DeleteRemoteBranch(ctx context.Context, repo, branch string) error {
	_, err := c.run(ctx, "api",
		"-X", "DELETE",
		fmt.Sprintf("repos/%s/git/refs/heads/%s", repo, branch))
	if err != nil {
		if strings.Contains(err.Error(), "Reference does not exist") ||
			strings.Contains(err.Error(), "422") {
			return nil
		}
		return fmt.Errorf("delete remote branch %q: %w", branch, err)
	}
	return nil
}

// run executes a gh CLI command and returns its stdout output.
// Stderr is captured separately to avoid contaminating JSON output.
func (c *GHClient) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "gh", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("gh %s: %w: %s", args[0], err, stderr.String())
	}
	return stdout.String(), nil
}

func parsePRList(data string) ([]*PR, error) {
	var raw []ghPR
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("parse PR list: %w", err)
	}
	prs := make([]*PR, len(raw))
	for i := range raw {
		prs[i] = convertGHPR(&raw[i])
	}
	return prs, nil
}

func convertGHPR(raw *ghPR) *PR {
	pr := &PR{
		Number:      raw.Number,
		Title:       raw.Title,
		URL:         raw.URL,
		State:       strings.ToUpper(raw.State),
		HeadRefName: raw.HeadRefName,
		BaseRefName: raw.BaseRefName,
		IsDraft:     raw.IsDraft,
		Author:      raw.Author.Login,
		CreatedAt:   raw.CreatedAt,
	}
	pr.MergedAt = parseGHTime(raw.MergedAt)
	pr.ClosedAt = parseGHTime(raw.ClosedAt)
	return pr
}

func parseGHTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
