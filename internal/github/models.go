package github

import "time"

// PR is the subset of a pull request the cleanup phase cares about.
type PR struct {
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	State       string     `json:"state"` // OPEN, CLOSED, MERGED
	HeadRefName string     `json:"head_ref_name"`
	BaseRefName string     `json:"base_ref_name"`
	IsDraft     bool       `json:"is_draft"`
	Author      string     `json:"author"`
	CreatedAt   time.Time  `json:"created_at"`
	MergedAt    *time.Time `json:"merged_at,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// IsMerged reports whether the PR has been merged.
func (p *PR) IsMerged() bool {
	return p.State == "MERGED" || p.MergedAt != nil
}

// BranchMatches reports whether a PR head ref belongs to the given task
// branch. An exact match or a head ref extending the branch name (the agent
// may append a suffix to the derived fix/<short-id> branch) both count.
func BranchMatches(headRef, branch string) bool {
	if headRef == "" || branch == "" {
		return false
	}
	if headRef == branch {
		return true
	}
	return len(headRef) > len(branch) && headRef[:len(branch)] == branch &&
		(headRef[len(branch)] == '-' || headRef[len(branch)] == '/')
}
