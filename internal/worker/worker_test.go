package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
)

type stubExecutor struct {
	variant Variant
	delay   time.Duration
	fail    bool
}

func (s *stubExecutor) AgentType() Variant { return s.variant }
func (s *stubExecutor) HandleMessage(model.Message) *model.Message { return nil }
func (s *stubExecutor) Execute(ctx context.Context, task *model.Task) (model.AgentResult, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return model.AgentResult{TaskID: task.ID, Status: model.TaskCancelled}, ctx.Err()
		}
	}
	if s.fail {
		return model.AgentResult{TaskID: task.ID, Status: model.TaskFailed}, assertErr
	}
	return model.AgentResult{TaskID: task.ID, Status: model.TaskCompleted, Output: "ok"}, nil
}

var assertErr = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }

func TestHandleLifecycleCompletes(t *testing.T) {
	bus := NewBus(4, false)
	pool := NewPool(2, bus, func(v Variant) (Executor, error) {
		return &stubExecutor{variant: v}, nil
	})

	h, err := pool.Spawn(Config{Variant: VariantCodeGen, MaxRetries: 0})
	require.NoError(t, err)

	h.SendTask(&model.Task{ID: "t1"})
	result := h.RecvResult()

	assert.Equal(t, model.TaskCompleted, result.Status)
	assert.Equal(t, HandleIdle, h.Status())
}

func TestHandleLifecycleFails(t *testing.T) {
	bus := NewBus(4, false)
	pool := NewPool(1, bus, func(v Variant) (Executor, error) {
		return &stubExecutor{variant: v, fail: true}, nil
	})

	h, err := pool.Spawn(Config{Variant: VariantReview})
	require.NoError(t, err)

	h.SendTask(&model.Task{ID: "t1"})
	result := h.RecvResult()

	assert.Equal(t, model.TaskFailed, result.Status)
	assert.Equal(t, HandleFailed, h.Status())
}

func TestPoolSpawnBlocksWhenSaturated(t *testing.T) {
	bus := NewBus(4, false)
	pool := NewPool(1, bus, func(v Variant) (Executor, error) {
		return &stubExecutor{variant: v}, nil
	})

	h1, err := pool.Spawn(Config{Variant: VariantCodeGen})
	require.NoError(t, err)
	assert.Equal(t, 0, pool.AvailableSlots())

	pool.Release(h1)
	assert.Equal(t, 1, pool.AvailableSlots())
}

func TestShutdownSignalsHandle(t *testing.T) {
	bus := NewBus(4, false)
	pool := NewPool(1, bus, func(v Variant) (Executor, error) {
		return &stubExecutor{variant: v, delay: time.Second}, nil
	})

	h, err := pool.Spawn(Config{Variant: VariantCodeGen, TimeoutSeconds: 5})
	require.NoError(t, err)

	h.SendTask(&model.Task{ID: "t1"})
	h.Shutdown()

	result := h.RecvResult()
	assert.Equal(t, model.TaskCancelled, result.Status)
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus(4, false)
	sub1 := bus.subscribe()
	sub2 := bus.subscribe()

	bus.Publish(model.Message{Payload: "hello"})

	m1 := <-sub1
	m2 := <-sub2
	assert.Equal(t, "hello", m1.Payload)
	assert.Equal(t, "hello", m2.Payload)
}
