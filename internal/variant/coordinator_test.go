package variant

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/worker"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/worktree"
)

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
	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi"), 0644))
	run("add", ".")
	run("commit", "-m", "initial")
	return dir
}

type firstWorldScorer struct{ pick model.WorldID }

func (s firstWorldScorer) Score(attempts []Attempt) (model.WorldID, error) {
	for _, a := range attempts {
		if a.World == s.pick {
			return a.World, nil
		}
	}
	if len(attempts) == 0 {
		return "", errors.New("no attempts to score")
	}
	return attempts[0].World, nil
}

func TestCoordinatorRunMergesWinner(t *testing.T) {
	repo := initTestRepo(t)
	base := filepath.Join(repo, "worktrees")
	stateDir := t.TempDir()

	mgr, err := worktree.NewManager(repo, base, stateDir, worktree.DefaultThresholds())
	require.NoError(t, err)
	defer mgr.Close()

	bus := worker.NewBus(8, false)
	pool := worker.NewPool(10, bus, func(v worker.Variant) (worker.Executor, error) {
		return &writingExecutor{}, nil
	})

	coord := New(repo, mgr, pool, worker.VariantCodeGen, firstWorldScorer{pick: model.WorldAlpha})

	task := &model.Task{ID: "t1", Title: "feature"}
	winner, attempts, err := coord.Run(context.Background(), "9", task, "main")
	require.NoError(t, err)
	require.Equal(t, model.WorldAlpha, winner)
	require.Len(t, attempts, 5)

	list, err := mgr.List()
	require.NoError(t, err)
	require.Empty(t, list, "every world worktree should be disposed after merge")
}

// writingExecutor reports success without touching the worktree, so the
// merge step finds the winner's branch already up to date.
type writingExecutor struct{}

func (w *writingExecutor) AgentType() worker.Variant { return worker.VariantCodeGen }
func (w *writingExecutor) HandleMessage(model.Message) *model.Message { return nil }
func (w *writingExecutor) Execute(ctx context.Context, task *model.Task) (model.AgentResult, error) {
	return model.AgentResult{TaskID: task.ID, Status: model.TaskCompleted, Output: "done"}, nil
}

func TestCoordinatorRunFailsWhenAllWorldsFail(t *testing.T) {
	repo := initTestRepo(t)
	base := filepath.Join(repo, "worktrees")
	stateDir := t.TempDir()

	mgr, err := worktree.NewManager(repo, base, stateDir, worktree.DefaultThresholds())
	require.NoError(t, err)
	defer mgr.Close()

	bus := worker.NewBus(8, false)
	pool := worker.NewPool(10, bus, func(v worker.Variant) (worker.Executor, error) {
		return &failingExecutor{}, nil
	})

	coord := New(repo, mgr, pool, worker.VariantCodeGen, firstWorldScorer{pick: model.WorldAlpha})

	task := &model.Task{ID: "t2", Title: "risky"}
	_, _, err = coord.Run(context.Background(), "9", task, "main")
	require.Error(t, err)

	list, err := mgr.List()
	require.NoError(t, err)
	require.Empty(t, list, "every world worktree should be disposed after total failure")
}

type failingExecutor struct{}

func (f *failingExecutor) AgentType() worker.Variant { return worker.VariantCodeGen }
func (f *failingExecutor) HandleMessage(model.Message) *model.Message { return nil }
func (f *failingExecutor) Execute(ctx context.Context, task *model.Task) (model.AgentResult, error) {
	return model.AgentResult{TaskID: task.ID, Status: model.TaskFailed}, errors.New("boom")
}
