// Package model holds the shared data types that flow between every
// component of the orchestrator: tasks, DAGs, execution plans, messages,
// worktrees, world handles, resource stats, and results. Components
// cross-reference each other's records by id, never by embedded handle.
package model

import "time"

// Priority is a task or work-item priority band (messages use MessagePriority).
type Priority int

const (
	PriorityP3 Priority = iota
	PriorityP2
	PriorityP1
	PriorityP0
)

func (p Priority) String() string {
	switch p {
	case PriorityP0:
		return "P0"
	case PriorityP1:
		return "P1"
	case PriorityP2:
		return "P2"
	case PriorityP3:
		return "P3"
	default:
		return "unlabelled"
	}
}

// TaskType categorizes the kind of work a task represents.
type TaskType string

const (
	TaskFeature    TaskType = "feature"
	TaskBug        TaskType = "bug"
	TaskRefactor   TaskType = "refactor"
	TaskDocs       TaskType = "docs"
	TaskTest       TaskType = "test"
	TaskDeployment TaskType = "deployment"
)

// TaskStatus is the lifecycle status of a Task within a plan.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskRunning
	TaskCompleted
	TaskFailed
	TaskEscalated
	TaskBlocked
	TaskCancelled
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskEscalated:
		return "escalated"
	case TaskBlocked:
		return "blocked"
	case TaskCancelled:
		return "cancelled"
	default:
		panic("unhandled task status")
	}
}

// Terminal reports whether the status will never transition further.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskEscalated, TaskBlocked, TaskCancelled:
		return true
	default:
		return false
	}
}

// Task is a unit of work in an ExecutionPlan's DAG.
type Task struct {
	ID             string
	Title          string
	Description    string
	Type           TaskType
	Priority       Priority
	Severity       string
	Impact         string
	AssignedWorker string
	Dependencies   []string
	EstimatedMins  int
	Status         TaskStatus
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Metadata       map[string]any

	// insertionIndex breaks ties between tasks of equal priority; set by
	// the plan builder in arrival order and never mutated afterward.
	insertionIndex int
}

// InsertionIndex returns the order in which the task was added to its plan.
func (t *Task) InsertionIndex() int { return t.insertionIndex }

// SetInsertionIndex is used by plan construction to record arrival order.
func (t *Task) SetInsertionIndex(i int) { t.insertionIndex = i }

// Escalation attaches a structured note to a result indicating a human role
// should review the outcome.
type EscalationRole string

const (
	RoleTechLead     EscalationRole = "TechLead"
	RoleCTO          EscalationRole = "CTO"
	RoleDevOps       EscalationRole = "DevOps"
	RoleSecurity     EscalationRole = "Security"
	RoleProductOwner EscalationRole = "ProductOwner"
)

type Escalation struct {
	Reason   string
	Target   EscalationRole
	Severity string
	Context  map[string]any
}

// AgentResult is the outcome of executing a single task.
type AgentResult struct {
	TaskID     string
	Status     TaskStatus
	Output     string
	Metrics    map[string]float64
	Escalation *Escalation
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}
