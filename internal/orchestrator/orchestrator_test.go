package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/config"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/queue"
	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/tracker"
)

type stubTracker struct {
	items []tracker.WorkItem
}

func (s *stubTracker) ListOpenItems(ctx context.Context) ([]tracker.WorkItem, error) {
	return s.items, nil
}
func (s *stubTracker) UpdateLabels(ctx context.Context, itemID string, labels []string) error {
	return nil
}
func (s *stubTracker) PostComment(ctx context.Context, itemID, body string) error { return nil }
func (s *stubTracker) CreateItem(ctx context.Context, title, body string, labels []string) (tracker.WorkItem, error) {
	return tracker.WorkItem{}, nil
}

type singleTaskDecomposer struct{ fail bool }

func (d *singleTaskDecomposer) Decompose(ctx context.Context, item tracker.WorkItem) (*model.ExecutionPlan, error) {
	task := &model.Task{ID: item.ID, Title: item.Title, Priority: item.Priority}
	dag, err := model.NewDAG([]*model.Task{task})
	if err != nil {
		return nil, err
	}
	return &model.ExecutionPlan{SessionID: item.ID, Concurrency: 1, Tasks: []*model.Task{task}, DAG: dag, DryRun: true}, nil
}

type countingRunner struct{ fail bool }

func (r *countingRunner) Run(ctx context.Context, plan *model.ExecutionPlan) (*model.ExecutionReport, error) {
	if r.fail {
		return &model.ExecutionReport{
			FailureCount: 1,
			Escalations:  []model.Escalation{{Reason: "worker exhausted retries", Target: model.RoleDevOps}},
		}, nil
	}
	return &model.ExecutionReport{SuccessCount: len(plan.Tasks)}, nil
}

// TestRunProcessesAllItemsStopReasonCompleted covers scenario-style
// behavior: every fetched item is processed and the loop reports Completed
// when it exhausts the work list with no max_issues cap.
func TestRunProcessesAllItemsStopReasonCompleted(t *testing.T) {
	items := []tracker.WorkItem{
		{ID: "1", Title: "a", Priority: model.PriorityP2},
		{ID: "2", Title: "b", Priority: model.PriorityP0},
		{ID: "3", Title: "c", Priority: model.PriorityP1},
	}
	logDir := t.TempDir()
	cfg := config.SprintConfig{SprintSize: 2, LogDir: logDir}

	o := New(&stubTracker{items: items}, &singleTaskDecomposer{}, &countingRunner{}, cfg)
	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StopCompleted, report.StopReason)
	assert.Equal(t, 3, report.SuccessCount)
	assert.Len(t, report.Sprints, 2)

	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(logDir, entries[0].Name()))
	require.NoError(t, err)
	var persisted LoopReport
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Equal(t, report.SuccessCount, persisted.SuccessCount)
}

// TestRunStopReasonMaxIssuesReached covers scenario S7.
func TestRunStopReasonMaxIssuesReached(t *testing.T) {
	items := []tracker.WorkItem{
		{ID: "1", Title: "a"}, {ID: "2", Title: "b"}, {ID: "3", Title: "c"},
	}
	cfg := config.SprintConfig{SprintSize: 5, MaxIssues: 2, LogDir: t.TempDir()}

	o := New(&stubTracker{items: items}, &singleTaskDecomposer{}, &countingRunner{}, cfg)
	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StopMaxIssuesReached, report.StopReason)
	assert.Equal(t, 2, report.SuccessCount)
}

// TestRunStopsAfterThreeConsecutiveZeroSuccessSprints covers invariant
// coverage for the three-consecutive-failure stop condition (§4.8 step 3,
// §7 resolved retry-granularity note).
func TestRunStopsAfterThreeConsecutiveZeroSuccessSprints(t *testing.T) {
	items := make([]tracker.WorkItem, 8)
	for i := range items {
		items[i] = tracker.WorkItem{ID: string(rune('a' + i)), Title: "x"}
	}
	cfg := config.SprintConfig{SprintSize: 1, LogDir: t.TempDir()}

	o := New(&stubTracker{items: items}, &singleTaskDecomposer{}, &countingRunner{fail: true}, cfg)
	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StopThreeConsecutiveFailure, report.StopReason)
	assert.Len(t, report.Sprints, 3)
}

// TestEscalationsEnqueueOntoMessageQueue covers the C8/C3 wiring: a failed
// item's escalation lands on its own session queue, high priority, tagged
// "escalation".
func TestEscalationsEnqueueOntoMessageQueue(t *testing.T) {
	items := []tracker.WorkItem{{ID: "42", Title: "flaky"}}
	cfg := config.SprintConfig{SprintSize: 5, LogDir: t.TempDir()}
	mq := queue.NewMessageQueue("")

	o := New(&stubTracker{items: items}, &singleTaskDecomposer{}, &countingRunner{fail: true}, cfg).WithMessageQueue(mq)
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	msg, ok := mq.Dequeue("42")
	require.True(t, ok)
	assert.Equal(t, model.MsgHigh, msg.Priority)
	assert.Equal(t, "escalation", msg.TypeTag)
	assert.Equal(t, "worker exhausted retries", msg.Payload)
}

// TestPrioritizeOrdersByPriorityDescending covers the prioritization step.
func TestPrioritizeOrdersByPriorityDescending(t *testing.T) {
	items := []tracker.WorkItem{
		{ID: "low", Priority: model.PriorityP3},
		{ID: "high", Priority: model.PriorityP0},
		{ID: "mid", Priority: model.PriorityP1},
	}
	prioritize(items)
	assert.Equal(t, "high", items[0].ID)
	assert.Equal(t, "mid", items[1].ID)
	assert.Equal(t, "low", items[2].ID)
}
