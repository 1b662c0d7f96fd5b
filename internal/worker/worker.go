// Package worker implements the worker runtime (C5): a pool of polymorphic
// worker variants, each hosted as an independent goroutine communicating
// through bounded channels (Design Note §9: tasks + channels, no shared
// mutable state threaded through function arguments).
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
)

// Variant is the closed tagged-sum of worker kinds (Design Note §9:
// preference for enum tag over interface dispatch for the closed world).
type Variant string

const (
	VariantCoordinator Variant = "Coordinator"
	VariantCodeGen     Variant = "CodeGen"
	VariantReview      Variant = "Review"
	VariantIssue       Variant = "Issue"
	VariantPR          Variant = "PR"
	VariantDeployer    Variant = "Deployer"
	VariantRefresher   Variant = "Refresher"
	// VariantUser tags a user-named worker carrying an opaque identifier
	// in Handle.UserTag, supplementing the closed set per §4.5.
	VariantUser Variant = "User"
)

// Executor is the capability trait every worker variant implements.
type Executor interface {
	Execute(ctx context.Context, task *model.Task) (model.AgentResult, error)
	AgentType() Variant
	// HandleMessage lets a worker react to broadcast-bus traffic; it may
	// return a response message or nil.
	HandleMessage(m model.Message) *model.Message
}

// HandleStatus is a worker handle's lifecycle state
// (Initializing → Idle → Running → {Idle|Completed|Failed|Terminated}).
type HandleStatus int

const (
	HandleInitializing HandleStatus = iota
	HandleIdle
	HandleRunning
	HandleCompleted
	HandleFailed
	HandleTerminated
)

func (s HandleStatus) String() string {
	switch s {
	case HandleInitializing:
		return "Initializing"
	case HandleIdle:
		return "Idle"
	case HandleRunning:
		return "Running"
	case HandleCompleted:
		return "Completed"
	case HandleFailed:
		return "Failed"
	case HandleTerminated:
		return "Terminated"
	default:
		panic("unhandled handle status")
	}
}

// Resources is a worker's declared resource footprint (§4.5): the runtime
// itself does not enforce limits, but the scaler (C2) uses these
// declarations to compute per-worktree demand.
type Resources struct {
	CPUCores      float64
	MemoryMB      int
	DiskMB        int
	NetworkAccess bool
}

// Config configures a single worker handle.
type Config struct {
	Variant        Variant
	UserTag        string
	TimeoutSeconds int
	MaxRetries     int
	Resources      Resources
	InboxSize      int
}

// Handle is a live worker: one goroutine, an inbox, a result outbox, and a
// shutdown signal.
type Handle struct {
	ID      string
	Variant Variant
	UserTag string

	executor   Executor
	timeout    time.Duration
	maxRetries int

	inbox    chan *model.Task
	results  chan model.AgentResult
	shutdown chan struct{}

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once

	mu      sync.Mutex
	status  HandleStatus
	bus     *Bus
	busSubs chan model.Message
}

func newHandle(cfg Config, executor Executor, bus *Bus) *Handle {
	inboxSize := cfg.InboxSize
	if inboxSize <= 0 {
		inboxSize = 1
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		ID:         uuid.NewString(),
		Variant:    cfg.Variant,
		UserTag:    cfg.UserTag,
		executor:   executor,
		timeout:    timeout,
		maxRetries: cfg.MaxRetries,
		inbox:      make(chan *model.Task, inboxSize),
		results:    make(chan model.AgentResult, inboxSize),
		shutdown:   make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		status:     HandleInitializing,
		bus:        bus,
	}
	if bus != nil {
		h.busSubs = bus.subscribe()
	}
	go h.run()
	return h
}

func (h *Handle) setStatus(s HandleStatus) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

// Status returns the handle's current lifecycle state.
func (h *Handle) Status() HandleStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Handle) run() {
	h.setStatus(HandleIdle)
	for {
		select {
		case <-h.shutdown:
			select {
			case task := <-h.inbox:
				if task != nil {
					h.results <- model.AgentResult{TaskID: task.ID, Status: model.TaskCancelled}
				}
			default:
			}
			h.setStatus(HandleTerminated)
			return
		case task, ok := <-h.inbox:
			if !ok {
				h.setStatus(HandleTerminated)
				return
			}
			h.execute(task)
		case m, ok := <-h.busSubsOrNil():
			if !ok {
				continue
			}
			if resp := h.executor.HandleMessage(m); resp != nil && h.bus != nil {
				h.bus.Publish(*resp)
			}
		}
	}
}

func (h *Handle) busSubsOrNil() chan model.Message {
	if h.busSubs == nil {
		return nil
	}
	return h.busSubs
}

func (h *Handle) execute(task *model.Task) {
	h.setStatus(HandleRunning)

	var result model.AgentResult
	var err error
	attempt := 0
	for {
		ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
		result, err = h.executor.Execute(ctx, task)
		cancel()

		select {
		case <-h.shutdown:
			result = model.AgentResult{TaskID: task.ID, Status: model.TaskCancelled}
			h.results <- result
			h.setStatus(HandleTerminated)
			return
		default:
		}

		if err == nil {
			break
		}
		if attempt >= h.maxRetries {
			break
		}
		attempt++
	}

	if err != nil {
		result = model.AgentResult{TaskID: task.ID, Status: model.TaskFailed, Err: err}
		h.results <- result
		h.setStatus(HandleFailed)
		return
	}

	h.results <- result
	h.setStatus(HandleIdle)
}

// SendTask submits a task, blocking if the handle's inbox is full.
func (h *Handle) SendTask(task *model.Task) {
	h.inbox <- task
}

// RecvResult blocks until the worker completes the in-flight task or is
// cancelled.
func (h *Handle) RecvResult() model.AgentResult {
	return <-h.results
}

// SendMessage publishes to the shared broadcast bus.
func (h *Handle) SendMessage(m model.Message) {
	if h.bus != nil {
		h.bus.Publish(m)
	}
}

// Shutdown signals cooperative cancellation, aborting any in-flight Execute
// call by cancelling its derived context. Safe to call more than once (a
// handle may be released naturally and cancelled by its plan around the
// same time).
func (h *Handle) Shutdown() {
	h.shutdownOnce.Do(func() {
		h.cancel()
		close(h.shutdown)
	})
}

var errUnknownVariant = fmt.Errorf("unknown worker variant")
