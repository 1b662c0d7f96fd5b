package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/worker"
)

type fixedLimiter int

func (f fixedLimiter) CurrentLimit() int { return int(f) }

type noopWorktrees struct{ mu sync.Mutex }

func (n *noopWorktrees) Create(issue, task, branch string) (*model.Worktree, error) {
	return &model.Worktree{ID: issue + "/" + task}, nil
}
func (n *noopWorktrees) Remove(id string) error { return nil }

func newTestPool(fail map[string]bool, delay time.Duration) *worker.Pool {
	bus := worker.NewBus(8, false)
	return worker.NewPool(10, bus, func(v worker.Variant) (worker.Executor, error) {
		return &scriptedExecutor{fail: fail, delay: delay}, nil
	})
}

type scriptedExecutor struct {
	fail  map[string]bool
	delay time.Duration
}

func (s *scriptedExecutor) AgentType() worker.Variant { return worker.VariantCodeGen }
func (s *scriptedExecutor) HandleMessage(model.Message) *model.Message { return nil }
func (s *scriptedExecutor) Execute(ctx context.Context, task *model.Task) (model.AgentResult, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.fail[task.ID] {
		return model.AgentResult{TaskID: task.ID, Status: model.TaskFailed}, assertErr
	}
	return model.AgentResult{TaskID: task.ID, Status: model.TaskCompleted}, nil
}

type testErr string

func (e testErr) Error() string { return string(e) }

var assertErr = testErr("scripted failure")

func buildPlan(t *testing.T, tasks []*model.Task) *model.ExecutionPlan {
	t.Helper()
	dag, err := model.NewDAG(tasks)
	require.NoError(t, err)
	return &model.ExecutionPlan{SessionID: "s1", Concurrency: 2, Tasks: tasks, DAG: dag}
}

// TestDAGOrderingInvariant1 verifies invariant 1: for every dependency edge
// u -> v, v's StartedAt is never before u's CompletedAt.
func TestDAGOrderingInvariant1(t *testing.T) {
	a := &model.Task{ID: "A", Priority: model.PriorityP1}
	b := &model.Task{ID: "B", Priority: model.PriorityP1, Dependencies: []string{"A"}}
	c := &model.Task{ID: "C", Priority: model.PriorityP1, Dependencies: []string{"A"}}
	plan := buildPlan(t, []*model.Task{a, b, c})

	pool := newTestPool(nil, 0)
	ex := New(fixedLimiter(2), &noopWorktrees{}, pool, RetryPolicy{MaxRetries: 0}, worker.VariantCodeGen)

	report, err := ex.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.StopCompleted, report.StopReason)
	assert.Equal(t, 3, report.SuccessCount)

	require.NotNil(t, a.CompletedAt)
	require.NotNil(t, b.StartedAt)
	require.NotNil(t, c.StartedAt)
	assert.False(t, b.StartedAt.Before(*a.CompletedAt))
	assert.False(t, c.StartedAt.Before(*a.CompletedAt))
}

// TestFailureCascadesBlocked covers: a failed task's dependents are marked
// Blocked rather than attempted.
func TestFailureCascadesBlocked(t *testing.T) {
	a := &model.Task{ID: "A", Priority: model.PriorityP1}
	b := &model.Task{ID: "B", Priority: model.PriorityP1, Dependencies: []string{"A"}}
	plan := buildPlan(t, []*model.Task{a, b})

	pool := newTestPool(map[string]bool{"A": true}, 0)
	ex := New(fixedLimiter(2), &noopWorktrees{}, pool, RetryPolicy{MaxRetries: 0}, worker.VariantCodeGen)

	report, err := ex.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, a.Status)
	assert.Equal(t, model.TaskBlocked, b.Status)
	assert.Equal(t, 1, report.FailureCount)
}

// TestRetryRecoversBeforeFailing covers a task that fails once then
// succeeds on retry within MaxRetries, and must not count as a failure.
func TestRetryRecoversBeforeFailing(t *testing.T) {
	a := &model.Task{ID: "A", Priority: model.PriorityP1}
	plan := buildPlan(t, []*model.Task{a})

	attempts := 0
	bus := worker.NewBus(4, false)
	pool := worker.NewPool(2, bus, func(v worker.Variant) (worker.Executor, error) {
		return &countingExecutor{attempts: &attempts}, nil
	})
	ex := New(fixedLimiter(2), &noopWorktrees{}, pool, RetryPolicy{MaxRetries: 1}, worker.VariantCodeGen)

	report, err := ex.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SuccessCount)
	assert.Equal(t, 0, report.FailureCount)
	assert.Equal(t, model.TaskCompleted, a.Status)
}

type countingExecutor struct{ attempts *int }

func (c *countingExecutor) AgentType() worker.Variant { return worker.VariantCodeGen }
func (c *countingExecutor) HandleMessage(model.Message) *model.Message { return nil }
func (c *countingExecutor) Execute(ctx context.Context, task *model.Task) (model.AgentResult, error) {
	*c.attempts++
	if *c.attempts == 1 {
		return model.AgentResult{TaskID: task.ID, Status: model.TaskFailed}, assertErr
	}
	return model.AgentResult{TaskID: task.ID, Status: model.TaskCompleted}, nil
}

// TestConcurrencyNeverExceedsLimit covers invariant 2: the number of
// simultaneously running tasks never exceeds the scaler's current limit.
func TestConcurrencyNeverExceedsLimit(t *testing.T) {
	tasks := make([]*model.Task, 0, 6)
	for i := 0; i < 6; i++ {
		tasks = append(tasks, &model.Task{ID: string(rune('A' + i)), Priority: model.PriorityP1})
	}
	plan := buildPlan(t, tasks)

	var mu sync.Mutex
	running, maxRunning := 0, 0
	bus := worker.NewBus(8, false)
	pool := worker.NewPool(10, bus, func(v worker.Variant) (worker.Executor, error) {
		return &trackingExecutor{mu: &mu, running: &running, maxRunning: &maxRunning}, nil
	})
	ex := New(fixedLimiter(2), &noopWorktrees{}, pool, RetryPolicy{MaxRetries: 0}, worker.VariantCodeGen)

	report, err := ex.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 6, report.SuccessCount)
	assert.LessOrEqual(t, maxRunning, 2)
}

type trackingExecutor struct {
	mu         *sync.Mutex
	running    *int
	maxRunning *int
}

func (e *trackingExecutor) AgentType() worker.Variant { return worker.VariantCodeGen }
func (e *trackingExecutor) HandleMessage(model.Message) *model.Message { return nil }
func (e *trackingExecutor) Execute(ctx context.Context, task *model.Task) (model.AgentResult, error) {
	e.mu.Lock()
	*e.running++
	if *e.running > *e.maxRunning {
		*e.maxRunning = *e.running
	}
	e.mu.Unlock()

	time.Sleep(15 * time.Millisecond)

	e.mu.Lock()
	*e.running--
	e.mu.Unlock()
	return model.AgentResult{TaskID: task.ID, Status: model.TaskCompleted}, nil
}

// TestDryRunSkipsWorkersAndWorktrees covers dry-run mode: every task is
// marked Completed instantly with an estimated duration, no Spawner or
// WorktreeProvisioner call is made.
func TestDryRunSkipsWorkersAndWorktrees(t *testing.T) {
	a := &model.Task{ID: "A", Priority: model.PriorityP1, EstimatedMins: 5}
	plan := buildPlan(t, []*model.Task{a})
	plan.DryRun = true

	ex := New(fixedLimiter(1), nil, nil, RetryPolicy{}, worker.VariantCodeGen)
	report, err := ex.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SuccessCount)
	assert.Equal(t, model.TaskCompleted, a.Status)
}

// TestCancelMarksRemainderCancelled covers ctx cancellation mid-run.
func TestCancelMarksRemainderCancelled(t *testing.T) {
	a := &model.Task{ID: "A", Priority: model.PriorityP1}
	plan := buildPlan(t, []*model.Task{a})

	bus := worker.NewBus(4, false)
	pool := worker.NewPool(2, bus, func(v worker.Variant) (worker.Executor, error) {
		return &stubDelayExecutor{}, nil
	})
	ex := New(fixedLimiter(2), &noopWorktrees{}, pool, RetryPolicy{}, worker.VariantCodeGen)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	report, err := ex.Run(ctx, plan)
	require.Error(t, err)
	assert.Equal(t, model.StopUserInterrupted, report.StopReason)
	assert.Equal(t, model.TaskCancelled, a.Status)
}

type stubDelayExecutor struct{}

func (e *stubDelayExecutor) AgentType() worker.Variant { return worker.VariantCodeGen }
func (e *stubDelayExecutor) HandleMessage(model.Message) *model.Message { return nil }
func (e *stubDelayExecutor) Execute(ctx context.Context, task *model.Task) (model.AgentResult, error) {
	select {
	case <-time.After(time.Second):
		return model.AgentResult{TaskID: task.ID, Status: model.TaskCompleted}, nil
	case <-ctx.Done():
		return model.AgentResult{TaskID: task.ID, Status: model.TaskCancelled}, ctx.Err()
	}
}

// TestRejectsCyclicPlan covers validation: a DAG with a cycle must never
// reach NewDAG successfully, so Run only needs to reject an already
// malformed DAG defensively (constructed directly, bypassing NewDAG).
func TestRejectsCyclicPlan(t *testing.T) {
	a := &model.Task{ID: "A"}
	b := &model.Task{ID: "B"}
	dag := &model.DAG{
		Nodes:  map[string]*model.Task{"A": a, "B": b},
		Edges:  []model.Edge{{From: "A", To: "B"}, {From: "B", To: "A"}},
		Levels: nil,
	}
	plan := &model.ExecutionPlan{SessionID: "s1", Tasks: []*model.Task{a, b}, DAG: dag}

	ex := New(fixedLimiter(2), &noopWorktrees{}, newTestPool(nil, 0), RetryPolicy{}, worker.VariantCodeGen)
	_, err := ex.Run(context.Background(), plan)
	assert.Error(t, err)
}
