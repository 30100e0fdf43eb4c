// Package worktree removes orphaned git worktrees left behind by finished
// agents. Worktrees live next to the repository at <local_path>-worktrees/,
// one directory per task branch.
package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/traphq/trap/internal/common/config"
	"github.com/traphq/trap/internal/common/logger"
)

// Orphan is a worktree directory with no live task behind it.
type Orphan struct {
	Path    string
	ShortID string
	Dirty   bool
}

// Cleaner sweeps orphaned worktrees for a repository.
type Cleaner struct {
	removeTimeout time.Duration
	gitTimeout    time.Duration
	logger        *logger.Logger
}

// NewCleaner creates a worktree cleaner from configuration.
func NewCleaner(cfg config.WorktreeConfig, log *logger.Logger) *Cleaner {
	removeTimeout := time.Duration(cfg.RemoveTimeout) * time.Second
	if removeTimeout <= 0 {
		removeTimeout = 30 * time.Second
	}
	gitTimeout := time.Duration(cfg.GitTimeout) * time.Second
	if gitTimeout <= 0 {
		gitTimeout = 10 * time.Second
	}
	return &Cleaner{
		removeTimeout: removeTimeout,
		gitTimeout:    gitTimeout,
		logger:        log.WithFields(zap.String("component", "worktree-cleaner")),
	}
}

// WorktreesRoot returns the directory holding a repository's task worktrees.
func WorktreesRoot(localPath string) string {
	return strings.TrimRight(localPath, "/") + "-worktrees"
}

// ListOrphans enumerates fix/<short-id> worktree directories whose short id
// is not in protected. A missing worktrees root yields an empty list.
func ListOrphans(localPath string, protected map[string]bool) ([]Orphan, error) {
	root := filepath.Join(WorktreesRoot(localPath), "fix")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read worktrees dir: %w", err)
	}

	var orphans []Orphan
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		shortID := entry.Name()
		if protected[shortID] {
			continue
		}
		orphans = append(orphans, Orphan{
			Path:    filepath.Join(root, shortID),
			ShortID: shortID,
		})
	}
	return orphans, nil
}

// Sweep removes orphaned worktrees under localPath. Dirty worktrees are kept;
// uncommitted agent work is never destroyed automatically. Returns the number
// of worktrees removed.
func (c *Cleaner) Sweep(ctx context.Context, localPath string, protected map[string]bool) (int, error) {
	orphans, err := ListOrphans(localPath, protected)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, orphan := range orphans {
		dirty, err := c.isDirty(ctx, orphan.Path)
		if err != nil {
			c.logger.Warn("worktree status check failed",
				zap.String("path", orphan.Path), zap.Error(err))
			continue
		}
		if dirty {
			c.logger.Info("keeping dirty orphan worktree",
				zap.String("path", orphan.Path))
			continue
		}
		if err := c.Remove(ctx, localPath, orphan.Path); err != nil {
			c.logger.Warn("worktree remove failed",
				zap.String("path", orphan.Path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// isDirty reports whether the worktree has uncommitted changes.
func (c *Cleaner) isDirty(ctx context.Context, worktreePath string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.gitTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "-C", worktreePath, "status", "--porcelain")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(stdout.String()) != "", nil
}

// Remove removes a worktree directory using git worktree remove, falling back
// to direct removal plus prune when git refuses.
func (c *Cleaner) Remove(ctx context.Context, repoPath, worktreePath string) error {
	rctx, cancel := context.WithTimeout(ctx, c.removeTimeout)
	defer cancel()

	cmd := exec.CommandContext(rctx, "git", "worktree", "remove", "--force", worktreePath)
	cmd.Dir = repoPath
	if output, err := cmd.CombinedOutput(); err != nil {
		c.logger.Debug("git worktree remove failed, falling back to rm",
			zap.String("output", string(output)),
			zap.Error(err))

		if err := os.RemoveAll(worktreePath); err != nil {
			return err
		}

		pctx, pcancel := context.WithTimeout(ctx, c.gitTimeout)
		defer pcancel()
		prune := exec.CommandContext(pctx, "git", "worktree", "prune")
		prune.Dir = repoPath
		if err := prune.Run(); err != nil {
			c.logger.Debug("git worktree prune failed", zap.Error(err))
		}
	}

	c.logger.Info("removed orphan worktree", zap.String("path", worktreePath))
	return nil
}
