package worker

import (
	"fmt"
	"sync"
)

// Pool hosts up to maxAgents live worker handles, grounded on the teacher's
// AgentPool buffered-channel slot pool (orchestrator/pool.go).
type Pool struct {
	maxAgents   int
	bus         *Bus
	slots       chan struct{}
	executorFor func(Variant) (Executor, error)

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewPool creates a pool bounded at maxAgents concurrent handles, wired to
// executorFor to resolve an Executor implementation for a given Variant
// (the closed tagged-sum dispatch of Design Note §9).
func NewPool(maxAgents int, bus *Bus, executorFor func(Variant) (Executor, error)) *Pool {
	if maxAgents <= 0 {
		maxAgents = 1
	}
	slots := make(chan struct{}, maxAgents)
	for i := 0; i < maxAgents; i++ {
		slots <- struct{}{}
	}
	return &Pool{
		maxAgents:   maxAgents,
		bus:         bus,
		slots:       slots,
		executorFor: executorFor,
		handles:     make(map[string]*Handle),
	}
}

// Spawn acquires a slot (blocking if the pool is saturated) and creates a
// new handle for the given variant/config.
func (p *Pool) Spawn(cfg Config) (*Handle, error) {
	<-p.slots

	executor, err := p.executorFor(cfg.Variant)
	if err != nil {
		p.slots <- struct{}{}
		return nil, fmt.Errorf("resolve executor for %s: %w", cfg.Variant, err)
	}

	h := newHandle(cfg, executor, p.bus)
	p.mu.Lock()
	p.handles[h.ID] = h
	p.mu.Unlock()
	return h, nil
}

// Release returns a handle's slot to the pool and forgets it, called once
// the handle has reached a terminal status.
func (p *Pool) Release(h *Handle) {
	h.Shutdown()
	p.mu.Lock()
	delete(p.handles, h.ID)
	p.mu.Unlock()
	select {
	case p.slots <- struct{}{}:
	default:
	}
}

// RunningCount returns the number of live handles.
func (p *Pool) RunningCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// AvailableSlots returns the number of handles the pool could still spawn
// without blocking.
func (p *Pool) AvailableSlots() int {
	return len(p.slots)
}

// ShutdownAll signals every live handle to stop.
func (p *Pool) ShutdownAll() {
	p.mu.Lock()
	handles := make([]*Handle, 0, len(p.handles))
	for _, h := range p.handles {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	for _, h := range handles {
		h.Shutdown()
	}
}
