package executor

import (
	"container/heap"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
)

// readyHeap orders ready tasks by priority (P0 first), breaking ties by
// original insertion order (§4.6 step 3b).
type readyHeap []*model.Task

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].InsertionIndex() < h[j].InsertionIndex()
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(*model.Task)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

func newReadyHeap() *readyHeap {
	h := &readyHeap{}
	heap.Init(h)
	return h
}
