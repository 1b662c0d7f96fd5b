package worker

import (
	"sync"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
)

// Bus is the worker pool's broadcast message bus: multi-producer,
// single-subscriber-per-handle, bounded. Slow consumers drop messages only
// when Lossy is set (§5: "not by default").
type Bus struct {
	mu     sync.Mutex
	subs   []chan model.Message
	Lossy  bool
	bufLen int
}

// NewBus creates a bus whose per-subscriber channel buffers bufLen
// messages before Publish either blocks (default) or drops (Lossy).
func NewBus(bufLen int, lossy bool) *Bus {
	if bufLen <= 0 {
		bufLen = 16
	}
	return &Bus{Lossy: lossy, bufLen: bufLen}
}

func (b *Bus) subscribe() chan model.Message {
	ch := make(chan model.Message, b.bufLen)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish fans a message out to every subscriber.
func (b *Bus) Publish(m model.Message) {
	b.mu.Lock()
	subs := make([]chan model.Message, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, ch := range subs {
		if b.Lossy {
			select {
			case ch <- m:
			default:
			}
			continue
		}
		ch <- m
	}
}
