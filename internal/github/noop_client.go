package github

import "context"

// NoopClient is used when the gh CLI is unavailable. Every lookup reports no
// PR; the cleanup phase degrades to worktree and tab sweeps only.
type NoopClient struct{}

// NewNoopClient creates a no-op client.
func NewNoopClient() *NoopClient {
	return &NoopClient{}
}

func (c *NoopClient) GetPR(ctx context.Context, repo string, number int) (*PR, error) {
	return nil, nil
}

func (c *NoopClient) FindPRByBranch(ctx context.Context, repo, branch string) (*PR, error) {
	return nil, nil
}

func (c *NoopClient) ListMergedPRs(ctx context.Context, repo string, limit int) ([]*PR, error) {
	return nil, nil
}

func (c *NoopClient) DeleteRemoteBranch(ctx context.Context, repo, branch string) error {
	return nil
}
