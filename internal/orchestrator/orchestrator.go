// Package orchestrator implements the sprint loop (C8): fetch open work
// items from the tracker, prioritize and partition them into sprints,
// decompose and run each via the DAG executor (C6), evaluate stop
// conditions between sprints, and persist the aggregate report.
//
// Grounded on instance/orchestrator/orchestrator.go's Orchestrator struct
// shape and its exhaustive-switch-with-panic status idiom, reused here for
// the sprint-loop's own status enum.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/config"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/log"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/queue"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/tracker"
)

// Status is the sprint loop's own lifecycle, mirrored after the teacher's
// Orchestrator.Status (instance/orchestrator/orchestrator.go): an
// exhaustive switch that panics on an unhandled value.
type Status int

const (
	StatusIdle Status = iota
	StatusFetching
	StatusRunningSprint
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusFetching:
		return "Fetching"
	case StatusRunningSprint:
		return "RunningSprint"
	case StatusDone:
		return "Done"
	default:
		panic("unhandled orchestrator status")
	}
}

// Decomposer turns one tracker work item into an executable plan. No
// concrete decomposition algorithm is assumed; callers supply their own
// (typically an LLM-backed planner via internal/llm).
type Decomposer interface {
	Decompose(ctx context.Context, item tracker.WorkItem) (*model.ExecutionPlan, error)
}

// PlanRunner executes one plan to completion; satisfied by *executor.Executor.
type PlanRunner interface {
	Run(ctx context.Context, plan *model.ExecutionPlan) (*model.ExecutionReport, error)
}

// SprintSummary is one sprint's outcome within the loop.
type SprintSummary struct {
	Index        int      `json:"index"`
	ItemIDs      []string `json:"item_ids"`
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
}

// LoopReport aggregates every sprint run in one orchestrator invocation.
type LoopReport struct {
	StartedAt    time.Time            `json:"started_at"`
	FinishedAt   time.Time            `json:"finished_at"`
	Sprints      []SprintSummary      `json:"sprints"`
	Results      []model.AgentResult  `json:"results"`
	Escalations  []model.Escalation   `json:"escalations"`
	StopReason   model.StopReason     `json:"stop_reason"`
	SuccessCount int                  `json:"success_count"`
	FailureCount int                  `json:"failure_count"`
}

// SuccessRate returns the fraction of results that completed successfully.
func (r *LoopReport) SuccessRate() float64 {
	total := r.SuccessCount + r.FailureCount
	if total == 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(total)
}

// Orchestrator drives the sprint loop.
type Orchestrator struct {
	tracker    tracker.Tracker
	decomposer Decomposer
	runner     PlanRunner
	cfg        config.SprintConfig
	messages   *queue.MessageQueue

	status Status
}

// New constructs an Orchestrator.
func New(t tracker.Tracker, d Decomposer, r PlanRunner, cfg config.SprintConfig) *Orchestrator {
	return &Orchestrator{tracker: t, decomposer: d, runner: r, cfg: cfg}
}

// WithMessageQueue attaches a session message queue (C3): every escalation
// raised by a work item's execution is enqueued under that item's id as a
// high-priority message, so an operator or a future sprint can drain it
// independently of the JSON report.
func (o *Orchestrator) WithMessageQueue(mq *queue.MessageQueue) *Orchestrator {
	o.messages = mq
	return o
}

// Status returns the orchestrator's current lifecycle state.
func (o *Orchestrator) Status() Status { return o.status }

// Run executes the full sprint loop per SPEC_FULL.md §4.8 and returns the
// aggregate LoopReport. It also persists the report to
// <log_dir>/infinity-sprint-<ts>.json.
func (o *Orchestrator) Run(ctx context.Context) (*LoopReport, error) {
	report := &LoopReport{StartedAt: time.Now()}

	o.status = StatusFetching
	items, err := o.tracker.ListOpenItems(ctx)
	if err != nil {
		report.StopReason = model.StopCriticalError
		report.FinishedAt = time.Now()
		return report, fmt.Errorf("fetch open items: %w", err)
	}

	prioritize(items)

	if o.cfg.MaxIssues > 0 && len(items) > o.cfg.MaxIssues {
		items = items[:o.cfg.MaxIssues]
	}

	sprintSize := o.cfg.SprintSize
	if sprintSize <= 0 {
		sprintSize = 5
	}

	var deadline time.Time
	if o.cfg.TimeoutMinutes > 0 {
		deadline = report.StartedAt.Add(time.Duration(o.cfg.TimeoutMinutes) * time.Minute)
	}

	consecutiveZeroSuccess := 0
	sprintIndex := 0

	for start := 0; start < len(items); start += sprintSize {
		select {
		case <-ctx.Done():
			report.StopReason = model.StopUserInterrupted
			report.FinishedAt = time.Now()
			o.persist(report)
			return report, ctx.Err()
		default:
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			report.StopReason = model.StopTimeoutReached
			break
		}

		end := start + sprintSize
		if end > len(items) {
			end = len(items)
		}
		sprintItems := items[start:end]

		o.status = StatusRunningSprint
		summary, sprintErr := o.runSprint(ctx, sprintIndex, sprintItems, report)
		sprintIndex++
		report.Sprints = append(report.Sprints, summary)

		if sprintErr != nil {
			report.StopReason = model.StopCriticalError
			if ctx.Err() != nil {
				report.StopReason = model.StopUserInterrupted
			}
			report.FinishedAt = time.Now()
			o.persist(report)
			return report, sprintErr
		}

		if summary.SuccessCount == 0 {
			consecutiveZeroSuccess++
		} else {
			consecutiveZeroSuccess = 0
		}
		if consecutiveZeroSuccess >= 3 {
			report.StopReason = model.StopThreeConsecutiveFailure
			break
		}
	}

	if report.StopReason == "" {
		if o.cfg.MaxIssues > 0 && len(items) >= o.cfg.MaxIssues {
			report.StopReason = model.StopMaxIssuesReached
		} else {
			report.StopReason = model.StopCompleted
		}
	}

	o.status = StatusDone
	report.FinishedAt = time.Now()
	o.persist(report)
	return report, nil
}

func (o *Orchestrator) runSprint(ctx context.Context, index int, items []tracker.WorkItem, report *LoopReport) (SprintSummary, error) {
	summary := SprintSummary{Index: index}

	for _, item := range items {
		summary.ItemIDs = append(summary.ItemIDs, item.ID)

		plan, err := o.decomposer.Decompose(ctx, item)
		if err != nil {
			if log.ErrorLog != nil {
				log.ErrorLog.Printf("decompose item %s: %v", item.ID, err)
			}
			summary.FailureCount++
			continue
		}
		if o.cfg.DryRun {
			plan.DryRun = true
		}

		execReport, err := o.runner.Run(ctx, plan)
		if err != nil {
			return summary, fmt.Errorf("run plan for item %s: %w", item.ID, err)
		}

		summary.SuccessCount += execReport.SuccessCount
		summary.FailureCount += execReport.FailureCount
		report.SuccessCount += execReport.SuccessCount
		report.FailureCount += execReport.FailureCount
		report.Results = append(report.Results, execReport.Results...)
		report.Escalations = append(report.Escalations, execReport.Escalations...)

		if o.messages != nil {
			for _, esc := range execReport.Escalations {
				o.messages.Enqueue(&model.Message{
					ID:        fmt.Sprintf("%s-escalation-%d", item.ID, time.Now().UnixNano()),
					SessionID: item.ID,
					Priority:  model.MsgHigh,
					CreatedAt: time.Now(),
					TypeTag:   "escalation",
					Payload:   esc.Reason,
				})
			}
		}
	}

	return summary, nil
}

// prioritize sorts items P0 > P1 > P2 > P3 > unlabelled, ties broken by
// original (tracker-returned) order — a stable sort preserves that.
func prioritize(items []tracker.WorkItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Priority > items[j].Priority
	})
}

func (o *Orchestrator) persist(report *LoopReport) {
	if o.cfg.LogDir == "" {
		return
	}
	if err := os.MkdirAll(o.cfg.LogDir, 0755); err != nil {
		if log.WarningLog != nil {
			log.WarningLog.Printf("failed to create log dir: %v", err)
		}
		return
	}

	name := fmt.Sprintf("infinity-sprint-%s.json", report.StartedAt.Format("2006-01-02-150405"))
	path := filepath.Join(o.cfg.LogDir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		if log.ErrorLog != nil {
			log.ErrorLog.Printf("failed to marshal sprint report: %v", err)
		}
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil && log.WarningLog != nil {
		log.WarningLog.Printf("failed to write sprint report to %s: %v", path, err)
	}
}
