package worktree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorktreesRoot(t *testing.T) {
	assert.Equal(t, "/home/u/proj-worktrees", WorktreesRoot("/home/u/proj"))
	assert.Equal(t, "/home/u/proj-worktrees", WorktreesRoot("/home/u/proj/"))
}

func TestListOrphansMissingRoot(t *testing.T) {
	orphans, err := ListOrphans(filepath.Join(t.TempDir(), "nope"), nil)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestListOrphansSkipsProtected(t *testing.T) {
	dir := t.TempDir()
	repo := filepath.Join(dir, "proj")
	fixRoot := filepath.Join(WorktreesRoot(repo), "fix")
	for _, shortID := range []string{"a1b2c3d4", "deadbeef", "cafe0000"} {
		require.NoError(t, os.MkdirAll(filepath.Join(fixRoot, shortID), 0o755))
	}
	// A stray file should be ignored.
	require.NoError(t, os.WriteFile(filepath.Join(fixRoot, "notes.txt"), []byte("x"), 0o644))

	orphans, err := ListOrphans(repo, map[string]bool{"deadbeef": true})
	require.NoError(t, err)
	require.Len(t, orphans, 2)

	shortIDs := []string{orphans[0].ShortID, orphans[1].ShortID}
	assert.ElementsMatch(t, []string{"a1b2c3d4", "cafe0000"}, shortIDs)
	assert.Equal(t, filepath.Join(fixRoot, orphans[0].ShortID), orphans[0].Path)
}
