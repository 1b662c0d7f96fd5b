// Package queue implements the per-session priority message queue (C3):
// priority+age ordering, TTL expiry, and crash-safe whole-file persistence.
package queue

import (
	"container/heap"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
)

// sessionHeap is a container/heap max-heap over *model.Message, ordered by
// the Message.Less key (priority DESC, created_at ASC, insertion-seq
// tiebreak).
type sessionHeap []*model.Message

func (h sessionHeap) Len() int { return len(h) }

// Less reports whether i should be popped before j. Message.Less(other)
// means "m has strictly lower priority than other, dequeues after it"; so i
// dequeues before j exactly when h[j].Less(h[i]) holds.
func (h sessionHeap) Less(i, j int) bool {
	return h[j].Less(h[i])
}

func (h sessionHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *sessionHeap) Push(x any) {
	*h = append(*h, x.(*model.Message))
}

func (h *sessionHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
