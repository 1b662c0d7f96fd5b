// Package executor implements the DAG executor (C6): level-scheduled,
// bounded-concurrency execution of an ExecutionPlan, honoring the dynamic
// scaler's current limit and cascading dependent-task failures.
package executor

import (
	"container/heap"
	"context"
	"fmt"
	"time"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/log"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/worker"
)

// CurrentLimiter is satisfied by *resource.Scaler; kept as a narrow
// interface so tests can substitute a fixed limit.
type CurrentLimiter interface {
	CurrentLimit() int
}

// WorktreeProvisioner is satisfied by *worktree.Manager.
type WorktreeProvisioner interface {
	Create(issue, task, branch string) (*model.Worktree, error)
	Remove(id string) error
}

// Spawner is satisfied by *worker.Pool.
type Spawner interface {
	Spawn(cfg worker.Config) (*worker.Handle, error)
	Release(h *worker.Handle)
}

// RetryPolicy controls how many times a failed task is resubmitted before
// it is marked Failed and cascades Blocked to its dependents.
type RetryPolicy struct {
	MaxRetries int
}

// Executor runs ExecutionPlans.
type Executor struct {
	scaler    CurrentLimiter
	worktrees WorktreeProvisioner
	pool      Spawner
	retry     RetryPolicy
	variant   worker.Variant
}

// New constructs an Executor. variant selects which worker Variant is
// requested from the pool for every task (callers needing per-task variant
// selection can branch on task.Type via task.Metadata before submission).
func New(scaler CurrentLimiter, worktrees WorktreeProvisioner, pool Spawner, retry RetryPolicy, variant worker.Variant) *Executor {
	return &Executor{scaler: scaler, worktrees: worktrees, pool: pool, retry: retry, variant: variant}
}

type completion struct {
	taskID string
	result model.AgentResult
}

// Run executes plan to completion, honoring the DAG and the scaler's
// current limit, and returns the aggregate ExecutionReport.
func (e *Executor) Run(ctx context.Context, plan *model.ExecutionPlan) (*model.ExecutionReport, error) {
	if !plan.DAG.WellFormed() {
		return nil, fmt.Errorf("validation error: plan DAG is not well-formed (cycle detected)")
	}

	report := &model.ExecutionReport{
		SessionID: plan.SessionID,
		StartedAt: time.Now(),
	}

	if plan.DryRun {
		return e.runDryRun(plan, report), nil
	}

	indegree := make(map[string]int, len(plan.Tasks))
	for _, t := range plan.Tasks {
		indegree[t.ID] = len(t.Dependencies)
	}
	children := make(map[string][]string)
	for _, edge := range plan.DAG.Edges {
		children[edge.From] = append(children[edge.From], edge.To)
	}

	ready := newReadyHeap()
	for _, t := range plan.Tasks {
		if indegree[t.ID] == 0 {
			heap.Push(ready, t)
		}
	}

	terminal := map[string]bool{}
	retries := map[string]int{}
	worktreeByTask := map[string]*model.Worktree{}
	outstanding := map[string]*worker.Handle{}

	completions := make(chan completion, len(plan.Tasks))

	submit := func(task *model.Task) {
		now := time.Now()
		task.Status = model.TaskRunning
		task.StartedAt = &now

		var wt *model.Worktree
		if e.worktrees != nil {
			var err error
			wt, err = e.worktrees.Create(plan.SessionID, task.Title, task.ID)
			if err != nil {
				completions <- completion{taskID: task.ID, result: model.AgentResult{
					TaskID: task.ID, Status: model.TaskFailed, Err: fmt.Errorf("worktree create: %w", err),
				}}
				return
			}
			worktreeByTask[task.ID] = wt
		}

		h, err := e.pool.Spawn(worker.Config{Variant: e.variant, MaxRetries: 0})
		if err != nil {
			completions <- completion{taskID: task.ID, result: model.AgentResult{
				TaskID: task.ID, Status: model.TaskFailed, Err: fmt.Errorf("spawn worker: %w", err),
			}}
			return
		}
		outstanding[task.ID] = h

		go func() {
			h.SendTask(task)
			result := h.RecvResult()
			e.pool.Release(h)
			completions <- completion{taskID: task.ID, result: result}
		}()
	}

	runningCount := 0
	everyLog := log.NewEvery(5 * time.Second)

	for len(terminal) < len(plan.Tasks) {
		n := e.scaler.CurrentLimit()

		for runningCount < n && ready.Len() > 0 {
			task := heap.Pop(ready).(*model.Task)
			submit(task)
			runningCount++
		}

		if runningCount == 0 && ready.Len() == 0 {
			// no outstanding work but not all tasks terminal: remaining
			// tasks are unreachable (blocked by an earlier failure).
			break
		}

		select {
		case <-ctx.Done():
			for _, h := range outstanding {
				h.Shutdown()
			}
			for _, t := range plan.Tasks {
				if !terminal[t.ID] {
					t.Status = model.TaskCancelled
					terminal[t.ID] = true
				}
			}
			report.StopReason = model.StopUserInterrupted
			report.FinishedAt = time.Now()
			return report, ctx.Err()

		case c := <-completions:
			runningCount--
			delete(outstanding, c.taskID)
			task := plan.DAG.Nodes[c.taskID]
			now := time.Now()
			task.CompletedAt = &now

			if wt, ok := worktreeByTask[c.taskID]; ok && e.worktrees != nil {
				if err := e.worktrees.Remove(wt.ID); err != nil && log.WarningLog != nil {
					log.WarningLog.Printf("failed to dispose worktree for task %s: %v", c.taskID, err)
				}
			}

			switch c.result.Status {
			case model.TaskCompleted:
				task.Status = model.TaskCompleted
				terminal[c.taskID] = true
				report.SuccessCount++
				for _, child := range children[c.taskID] {
					indegree[child]--
					if indegree[child] == 0 {
						heap.Push(ready, plan.DAG.Nodes[child])
					}
				}
			default:
				if retries[c.taskID] < e.retry.MaxRetries {
					retries[c.taskID]++
					heap.Push(ready, task)
					continue
				}
				task.Status = model.TaskFailed
				terminal[c.taskID] = true
				report.FailureCount++
				if c.result.Escalation != nil {
					report.Escalations = append(report.Escalations, *c.result.Escalation)
				}
				for _, depID := range plan.DAG.DependentsOf(c.taskID) {
					if !terminal[depID] {
						dep := plan.DAG.Nodes[depID]
						dep.Status = model.TaskBlocked
						terminal[depID] = true
					}
				}
			}
			report.Results = append(report.Results, c.result)

		default:
			if everyLog.ShouldLog() && log.DebugLog != nil {
				log.DebugLog.Printf("executor: %d running, %d ready, %d/%d terminal",
					runningCount, ready.Len(), len(terminal), len(plan.Tasks))
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	report.FinishedAt = time.Now()
	if report.StopReason == "" {
		report.StopReason = model.StopCompleted
	}
	return report, nil
}

func (e *Executor) runDryRun(plan *model.ExecutionPlan, report *model.ExecutionReport) *model.ExecutionReport {
	for _, level := range plan.DAG.Levels {
		for _, id := range level {
			t := plan.DAG.Nodes[id]
			now := time.Now()
			t.StartedAt = &now
			t.Status = model.TaskCompleted
			completedAt := now.Add(time.Duration(t.EstimatedMins) * time.Minute)
			t.CompletedAt = &completedAt
			report.SuccessCount++
			report.Results = append(report.Results, model.AgentResult{
				TaskID: id, Status: model.TaskCompleted, StartedAt: now, FinishedAt: completedAt,
			})
		}
	}
	report.FinishedAt = time.Now()
	report.StopReason = model.StopCompleted
	return report
}
