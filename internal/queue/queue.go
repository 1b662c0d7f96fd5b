package queue

import (
	"container/heap"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
)

// SessionQueue is one session's priority heap, guarded by an exclusive
// lock per the spec's concurrency model (§5): multiple producers and
// observers, exactly one consumer at a time.
type SessionQueue struct {
	mu             sync.Mutex
	heap           sessionHeap
	totalEnqueued  int64
	totalDequeued  int64
}

func newSessionQueue() *SessionQueue {
	sq := &SessionQueue{}
	heap.Init(&sq.heap)
	return sq
}

func (sq *SessionQueue) enqueue(msg *model.Message, seq uint64) {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	msg.SetInsertionSeq(seq)
	heap.Push(&sq.heap, msg)
	sq.totalEnqueued++
}

// dequeue sweeps expired messages from the top, then pops the
// highest-priority non-expired message, incrementing its delivery count.
func (sq *SessionQueue) dequeue(now time.Time) (*model.Message, bool) {
	sq.mu.Lock()
	defer sq.mu.Unlock()

	for sq.heap.Len() > 0 {
		msg := heap.Pop(&sq.heap).(*model.Message)
		if msg.Expired(now) {
			continue
		}
		msg.DeliveryAttempts++
		sq.totalDequeued++
		return msg, true
	}
	return nil, false
}

func (sq *SessionQueue) peek() (*model.Message, bool) {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	if sq.heap.Len() == 0 {
		return nil, false
	}
	return sq.heap[0], true
}

func (sq *SessionQueue) list() []*model.Message {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	out := make([]*model.Message, len(sq.heap))
	copy(out, sq.heap)
	return out
}

func (sq *SessionQueue) len() int {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return sq.heap.Len()
}

// removeExpired sweeps and discards expired entries without consuming
// non-expired ones, returning the number removed.
func (sq *SessionQueue) removeExpired(now time.Time) int {
	sq.mu.Lock()
	defer sq.mu.Unlock()

	var kept sessionHeap
	removed := 0
	for _, m := range sq.heap {
		if m.Expired(now) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	sq.heap = kept
	heap.Init(&sq.heap)
	return removed
}

// Stats is a per-session snapshot of queue activity.
type Stats struct {
	SessionID     string
	Size          int
	TotalEnqueued int64
	TotalDequeued int64
	CountByPriority map[model.MessagePriority]int
}

// GlobalStats aggregates Stats across all sessions.
type GlobalStats struct {
	SessionCount   int
	TotalMessages  int
	TotalEnqueued  int64
	TotalDequeued  int64
}

// persistedSession is the JSON-on-disk shadow of one session's queue.
type persistedSession struct {
	SessionID     string           `json:"session_id"`
	Messages      []*model.Message `json:"messages"`
	TotalEnqueued int64            `json:"total_enqueued"`
	TotalDequeued int64            `json:"total_dequeued"`
}

// MessageQueue is the manager over all sessions' queues (C3). It is safe
// for concurrent use: per-session operations take the session's own lock;
// the sessions map itself is guarded separately.
type MessageQueue struct {
	mu            sync.RWMutex
	sessions      map[string]*SessionQueue
	persistPath   string
	insertionSeq  uint64
}

// NewMessageQueue constructs a manager persisting to
// <dir>/message_queues.json (empty persistPath disables persistence,
// useful for tests). Existing state is loaded immediately; a missing or
// unreadable file is not a startup failure (§4.3).
func NewMessageQueue(stateDir string) *MessageQueue {
	mq := &MessageQueue{
		sessions: make(map[string]*SessionQueue),
	}
	if stateDir != "" {
		mq.persistPath = filepath.Join(stateDir, "message_queues.json")
		mq.load()
	}
	return mq
}

func (mq *MessageQueue) sessionQueue(sessionID string) *SessionQueue {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	sq, ok := mq.sessions[sessionID]
	if !ok {
		sq = newSessionQueue()
		mq.sessions[sessionID] = sq
	}
	return sq
}

// Enqueue adds msg to its session's queue and persists asynchronously.
// A zero msg.ID is assigned a fresh uuid; a zero CreatedAt is set to now.
func (mq *MessageQueue) Enqueue(msg *model.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	seq := atomic.AddUint64(&mq.insertionSeq, 1)
	mq.sessionQueue(msg.SessionID).enqueue(msg, seq)
	mq.persistAsync()
}

// EnqueueBatch enqueues multiple messages, persisting once at the end.
func (mq *MessageQueue) EnqueueBatch(msgs []*model.Message) {
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}
		seq := atomic.AddUint64(&mq.insertionSeq, 1)
		mq.sessionQueue(m.SessionID).enqueue(m, seq)
	}
	mq.persistAsync()
}

// Dequeue pops the highest-priority non-expired message for session.
func (mq *MessageQueue) Dequeue(sessionID string) (*model.Message, bool) {
	msg, ok := mq.sessionQueue(sessionID).dequeue(time.Now())
	if ok {
		mq.persistAsync()
	}
	return msg, ok
}

// Peek returns the top message without consuming it.
func (mq *MessageQueue) Peek(sessionID string) (*model.Message, bool) {
	return mq.sessionQueue(sessionID).peek()
}

// List returns a snapshot of every message currently queued for session.
func (mq *MessageQueue) List(sessionID string) []*model.Message {
	return mq.sessionQueue(sessionID).list()
}

// FilterByType returns queued messages of a given type tag.
func (mq *MessageQueue) FilterByType(sessionID, typeTag string) []*model.Message {
	var out []*model.Message
	for _, m := range mq.List(sessionID) {
		if m.TypeTag == typeTag {
			out = append(out, m)
		}
	}
	return out
}

// FilterByPriority returns queued messages of a given priority.
func (mq *MessageQueue) FilterByPriority(sessionID string, p model.MessagePriority) []*model.Message {
	var out []*model.Message
	for _, m := range mq.List(sessionID) {
		if m.Priority == p {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the current queue size for session.
func (mq *MessageQueue) Len(sessionID string) int {
	return mq.sessionQueue(sessionID).len()
}

// IsEmpty reports whether session's queue has zero messages.
func (mq *MessageQueue) IsEmpty(sessionID string) bool {
	return mq.Len(sessionID) == 0
}

// ClearSession discards all messages for session but keeps its totals.
func (mq *MessageQueue) ClearSession(sessionID string) {
	sq := mq.sessionQueue(sessionID)
	sq.mu.Lock()
	sq.heap = sessionHeap{}
	sq.mu.Unlock()
	mq.persistAsync()
}

// RemoveSession discards the session entirely.
func (mq *MessageQueue) RemoveSession(sessionID string) {
	mq.mu.Lock()
	delete(mq.sessions, sessionID)
	mq.mu.Unlock()
	mq.persistAsync()
}

// CleanupExpired sweeps every session and returns the total count removed.
// Idempotent: a second call in succession returns 0 (invariant 8).
func (mq *MessageQueue) CleanupExpired() int {
	mq.mu.RLock()
	sessions := make([]*SessionQueue, 0, len(mq.sessions))
	for _, sq := range mq.sessions {
		sessions = append(sessions, sq)
	}
	mq.mu.RUnlock()

	total := 0
	now := time.Now()
	for _, sq := range sessions {
		total += sq.removeExpired(now)
	}
	if total > 0 {
		mq.persistAsync()
	}
	return total
}

// GetStats returns the per-session snapshot for sessionID.
func (mq *MessageQueue) GetStats(sessionID string) Stats {
	sq := mq.sessionQueue(sessionID)
	byPriority := map[model.MessagePriority]int{}
	for _, m := range sq.list() {
		byPriority[m.Priority]++
	}
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return Stats{
		SessionID:       sessionID,
		Size:            sq.heap.Len(),
		TotalEnqueued:   sq.totalEnqueued,
		TotalDequeued:   sq.totalDequeued,
		CountByPriority: byPriority,
	}
}

// GetGlobalStats aggregates Stats across every known session.
func (mq *MessageQueue) GetGlobalStats() GlobalStats {
	mq.mu.RLock()
	defer mq.mu.RUnlock()

	g := GlobalStats{SessionCount: len(mq.sessions)}
	for _, sq := range mq.sessions {
		sq.mu.Lock()
		g.TotalMessages += sq.heap.Len()
		g.TotalEnqueued += sq.totalEnqueued
		g.TotalDequeued += sq.totalDequeued
		sq.mu.Unlock()
	}
	return g
}

// persistAsync writes the full queue state in a goroutine; a write error is
// discarded, never fatal (best-effort persistence per §1 Non-goals).
func (mq *MessageQueue) persistAsync() {
	if mq.persistPath == "" {
		return
	}
	go mq.persist()
}

func (mq *MessageQueue) persist() error {
	mq.mu.RLock()
	out := make([]persistedSession, 0, len(mq.sessions))
	for sid, sq := range mq.sessions {
		sq.mu.Lock()
		msgs := make([]*model.Message, len(sq.heap))
		copy(msgs, sq.heap)
		out = append(out, persistedSession{
			SessionID:     sid,
			Messages:      msgs,
			TotalEnqueued: sq.totalEnqueued,
			TotalDequeued: sq.totalDequeued,
		})
		sq.mu.Unlock()
	}
	mq.mu.RUnlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(mq.persistPath), 0755); err != nil {
		return err
	}

	tmp := mq.persistPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, mq.persistPath)
}

// load reads persisted state at startup; any error leaves an empty
// in-memory state rather than failing process start.
func (mq *MessageQueue) load() {
	data, err := os.ReadFile(mq.persistPath)
	if err != nil {
		return
	}

	var persisted []persistedSession
	if err := json.Unmarshal(data, &persisted); err != nil {
		return
	}

	mq.mu.Lock()
	defer mq.mu.Unlock()
	for _, ps := range persisted {
		sq := newSessionQueue()
		sq.totalEnqueued = ps.TotalEnqueued
		sq.totalDequeued = ps.TotalDequeued
		for _, m := range ps.Messages {
			mq.insertionSeq++
			m.SetInsertionSeq(mq.insertionSeq)
			heap.Push(&sq.heap, m)
		}
		mq.sessions[ps.SessionID] = sq
	}
}
