package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// initTestRepo creates a minimal git repository with one commit so
// `git worktree add` has a HEAD to branch from.
func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	run("init")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi"), 0644))
	run("add", ".")
	run("commit", "-m", "initial")
	return dir
}

func TestCreateThenRemoveLeavesNoTraceInvariant5(t *testing.T) {
	repo := initTestRepo(t)
	base := filepath.Join(repo, "worktrees")
	stateDir := t.TempDir()

	mgr, err := NewManager(repo, base, stateDir, DefaultThresholds())
	require.NoError(t, err)
	defer mgr.Close()

	w, err := mgr.Create("42", "implement_feature", "feature/implement_feature")
	require.NoError(t, err)

	_, err = os.Stat(w.Path)
	require.NoError(t, err)

	require.NoError(t, mgr.Remove(w.ID))

	list, err := mgr.List()
	require.NoError(t, err)
	require.Empty(t, list)

	scanned, err := mgr.Scan()
	require.NoError(t, err)
	require.Empty(t, scanned)

	_, statErr := os.Stat(w.Path)
	require.True(t, os.IsNotExist(statErr))
}

func TestScanClassifiesActiveWorktree(t *testing.T) {
	repo := initTestRepo(t)
	base := filepath.Join(repo, "worktrees")
	stateDir := t.TempDir()

	mgr, err := NewManager(repo, base, stateDir, DefaultThresholds())
	require.NoError(t, err)
	defer mgr.Close()

	_, err = mgr.Create("7", "task-a", "feature/task-a")
	require.NoError(t, err)

	scanned, err := mgr.Scan()
	require.NoError(t, err)
	require.Len(t, scanned, 1)
	require.Equal(t, "Active", scanned[0].Status.String())
}
