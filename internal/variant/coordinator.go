// Package variant implements the 5-variant coordinator (C7): for one
// quality-risk task, spawn five parallel worktree-isolated attempts with
// distinct worker-tunable parameters, score the results, merge the winner,
// and clean up. Grounded on original_source's FiveWorldsManager
// (five_worlds.rs), adapted onto this module's worktree manager (C4) and
// worker pool (C5).
package variant

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/worker"
)

// WorktreeProvisioner is satisfied by *worktree.Manager.
type WorktreeProvisioner interface {
	CreateScoped(scope, issue, task, branch string) (*model.Worktree, error)
	Remove(id string) error
}

// Spawner is satisfied by *worker.Pool.
type Spawner interface {
	Spawn(cfg worker.Config) (*worker.Handle, error)
	Release(h *worker.Handle)
}

// Attempt pairs one world's worktree handle with its execution result.
type Attempt struct {
	World    model.WorldID
	Worktree *model.Worktree
	Result   model.AgentResult
	Err      error
}

// Scorer picks the winning attempt from a set of completed (or partially
// completed) attempts. Never guessed or inferred: every caller of
// Coordinator.Run supplies its own, since "best" is domain-specific
// (test coverage, lint cleanliness, benchmark delta, reviewer heuristics).
type Scorer interface {
	Score(attempts []Attempt) (winner model.WorldID, err error)
}

// Coordinator runs the 5-variant strategy for one task.
type Coordinator struct {
	repoPath  string
	worktrees WorktreeProvisioner
	pool      Spawner
	variant   worker.Variant
	scorer    Scorer
}

// New constructs a Coordinator. variant selects the worker Variant spawned
// for each of the five parallel attempts. repoPath is the main repository
// the winning branch is merged into.
func New(repoPath string, worktrees WorktreeProvisioner, pool Spawner, variant worker.Variant, scorer Scorer) *Coordinator {
	return &Coordinator{repoPath: repoPath, worktrees: worktrees, pool: pool, variant: variant, scorer: scorer}
}

// Run spawns five worktrees sequentially (§4.7 step 1: avoid source-control
// index contention), executes task in each in parallel, scores the
// surviving attempts, merges the winner's branch into targetBranch, and
// disposes every worktree (losers unconditionally, winner after merge).
func (c *Coordinator) Run(ctx context.Context, issue string, task *model.Task, targetBranch string) (model.WorldID, []Attempt, error) {
	handles := make(map[model.WorldID]*model.Worktree, len(model.AllWorldIDs()))
	for _, w := range model.AllWorldIDs() {
		branch := fmt.Sprintf("world-%s-issue-%s-%s", w, issue, task.ID)
		wt, err := c.worktrees.CreateScoped(fmt.Sprintf("world-%s", w), issue, task.ID, branch)
		if err != nil {
			c.cleanupAll(handles)
			return "", nil, fmt.Errorf("spawn world %s: %w", w, err)
		}
		handles[w] = wt
	}

	var mu sync.Mutex
	attempts := make([]Attempt, 0, len(handles))

	g, gctx := errgroup.WithContext(ctx)
	for world, wt := range handles {
		world, wt := world, wt
		g.Go(func() error {
			h, err := c.pool.Spawn(worker.Config{Variant: c.variant})
			if err != nil {
				mu.Lock()
				attempts = append(attempts, Attempt{World: world, Worktree: wt, Err: err})
				mu.Unlock()
				return nil
			}
			defer c.pool.Release(h)

			h.SendTask(task)
			result := waitForResult(gctx, h)

			mu.Lock()
			attempts = append(attempts, Attempt{World: world, Worktree: wt, Result: result, Err: result.Err})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	surviving := make([]Attempt, 0, len(attempts))
	for _, a := range attempts {
		if a.Err == nil && a.Result.Status == model.TaskCompleted {
			surviving = append(surviving, a)
		}
	}

	if len(surviving) == 0 {
		c.cleanupAll(handles)
		return "", attempts, fmt.Errorf("all five worlds failed for task %s", task.ID)
	}

	winner, err := c.scorer.Score(surviving)
	if err != nil {
		c.cleanupAll(handles)
		return "", attempts, fmt.Errorf("score attempts: %w", err)
	}

	var mergeErr error
	for _, a := range surviving {
		if a.World == winner {
			mergeErr = c.mergeBranch(a.Worktree.BranchName, targetBranch)
			break
		}
	}

	c.cleanupAll(handles)

	if mergeErr != nil {
		return winner, attempts, fmt.Errorf("merge winning world %s: %w", winner, mergeErr)
	}
	return winner, attempts, nil
}

// mergeBranch fast-forwards-or-merges branch into targetBranch in the main
// repository, grounded on the teacher's raw-exec git invocation pattern
// (go-git exposes no merge porcelain).
func (c *Coordinator) mergeBranch(branch, targetBranch string) error {
	checkout := exec.Command("git", "-C", c.repoPath, "checkout", targetBranch)
	if out, err := checkout.CombinedOutput(); err != nil {
		return fmt.Errorf("checkout %s: %w: %s", targetBranch, err, strings.TrimSpace(string(out)))
	}
	merge := exec.Command("git", "-C", c.repoPath, "merge", "--no-edit", branch)
	if out, err := merge.CombinedOutput(); err != nil {
		return fmt.Errorf("merge %s into %s: %w: %s", branch, targetBranch, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (c *Coordinator) cleanupAll(handles map[model.WorldID]*model.Worktree) {
	var wg sync.WaitGroup
	for _, wt := range handles {
		wt := wt
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.worktrees.Remove(wt.ID)
		}()
	}
	wg.Wait()
}

func waitForResult(ctx context.Context, h *worker.Handle) model.AgentResult {
	resultCh := make(chan model.AgentResult, 1)
	go func() { resultCh <- h.RecvResult() }()

	select {
	case r := <-resultCh:
		return r
	case <-ctx.Done():
		h.Shutdown()
		return <-resultCh
	}
}
