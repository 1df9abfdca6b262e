// Package queue implements the edge priority queue: a max-heap over
// urgency-scored edges with eviction, lazy expiry-skip, and retry requeue.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/mevengine/internal/mev/clock"
	"github.com/sawpanic/mevengine/internal/mev/models"
)

// Priority is a coarse scheduling band; higher values dominate urgency.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// CalculatePriority derives the default Priority band from an edge's
// atomicity and profit, per the spec §4.6 table.
func CalculatePriority(edge models.Edge) Priority {
	switch edge.Atomicity {
	case models.FullyAtomic:
		if edge.SimulatedProfitGuaranteed {
			return PriorityCritical
		}
		return PriorityHigh
	case models.PartiallyAtomic:
		return PriorityMedium
	default: // non-atomic
		switch {
		case edge.EstimatedProfitLamports > 1_000_000_000:
			return PriorityHigh
		case edge.EstimatedProfitLamports > 100_000_000:
			return PriorityMedium
		default:
			return PriorityLow
		}
	}
}

// PrioritizedEdge wraps an Edge with its scheduling metadata.
type PrioritizedEdge struct {
	Edge       models.Edge
	Priority   Priority
	EnqueuedAt time.Time
	Deadline   time.Time
	RetryCount int
}

// UrgencyScore implements urgency = priority*10_000 + profit/1_000 -
// max(0, deadline_ms_remaining/100), evaluated as of now.
func (p PrioritizedEdge) UrgencyScore(now time.Time) float64 {
	remainingMs := float64(0)
	if !p.Deadline.IsZero() {
		remainingMs = float64(p.Deadline.Sub(now).Milliseconds())
	}
	timePenalty := remainingMs / 100
	if timePenalty < 0 {
		timePenalty = 0
	}
	return float64(p.Priority)*10000 + float64(p.Edge.EstimatedProfitLamports)/1000 - timePenalty
}

func (p PrioritizedEdge) expired(now time.Time) bool {
	return !p.Deadline.IsZero() && now.After(p.Deadline)
}

// innerHeap is a container/heap.Interface over *PrioritizedEdge, ordered
// by urgency score (max-heap) evaluated at a fixed instant; ties broken by
// edge id for determinism (spec §5: "ties broken by id").
type innerHeap struct {
	items []*PrioritizedEdge
	now   time.Time
}

func (h innerHeap) Len() int { return len(h.items) }
func (h innerHeap) Less(i, j int) bool {
	ui, uj := h.items[i].UrgencyScore(h.now), h.items[j].UrgencyScore(h.now)
	if ui != uj {
		return ui > uj // max-heap
	}
	return h.items[i].Edge.ID.String() < h.items[j].Edge.ID.String()
}
func (h innerHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *innerHeap) Push(x any)   { h.items = append(h.items, x.(*PrioritizedEdge)) }
func (h *innerHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// Stats counts queue activity for monitoring.
type Stats struct {
	Enqueued        int
	Dequeued        int
	Expired         int
	Evicted         int
	RequeueAttempts int
	GivenUp         int
}

// Queue is a concurrent-safe max-heap of PrioritizedEdge, single writer
// lock protecting all operations (spec §4.6/§5).
type Queue struct {
	mu      sync.Mutex
	clock   clock.Clock
	maxSize int
	heap    innerHeap
	stats   Stats
}

// New constructs an empty Queue bounded at maxSize.
func New(maxSize int, clk clock.Clock) *Queue {
	return &Queue{clock: clk, maxSize: maxSize, heap: innerHeap{}}
}

// Enqueue inserts edge at its default priority, dropping it if already
// expired, and evicting the current minimum if the queue is full and the
// newcomer's urgency strictly exceeds it.
func (q *Queue) Enqueue(edge models.Edge, deadline time.Time) bool {
	return q.EnqueueWithPriority(edge, CalculatePriority(edge), deadline)
}

// EnqueueWithPriority is Enqueue with an explicit priority override.
func (q *Queue) EnqueueWithPriority(edge models.Edge, priority Priority, deadline time.Time) bool {
	pe := &PrioritizedEdge{Edge: edge, Priority: priority, EnqueuedAt: q.clock.Now(), Deadline: deadline}
	return q.enqueuePrioritized(pe)
}

func (q *Queue) enqueuePrioritized(pe *PrioritizedEdge) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	if pe.expired(now) {
		q.stats.Expired++
		return false
	}

	if q.heap.Len() < q.maxSize {
		q.heap.now = now
		heap.Push(&q.heap, pe)
		q.stats.Enqueued++
		return true
	}

	// At capacity: find current minimum urgency.
	q.heap.now = now
	minIdx := 0
	minScore := q.heap.items[0].UrgencyScore(now)
	for i := 1; i < len(q.heap.items); i++ {
		s := q.heap.items[i].UrgencyScore(now)
		if s < minScore {
			minScore = s
			minIdx = i
		}
	}

	if pe.UrgencyScore(now) <= minScore {
		return false // newcomer does not strictly exceed the minimum; dropped
	}

	heap.Remove(&q.heap, minIdx)
	heap.Push(&q.heap, pe)
	q.stats.Enqueued++
	q.stats.Evicted++
	return true
}

// Dequeue pops the highest-urgency non-expired entry, lazily discarding
// any expired entries it encounters first.
func (q *Queue) Dequeue() (*PrioritizedEdge, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	q.heap.now = now
	for q.heap.Len() > 0 {
		item := heap.Pop(&q.heap).(*PrioritizedEdge)
		if item.expired(now) {
			q.stats.Expired++
			continue
		}
		q.stats.Dequeued++
		return item, true
	}
	return nil, false
}

// DequeueBatch performs n sequential dequeues, stopping early if the
// queue drains.
func (q *Queue) DequeueBatch(n int) []*PrioritizedEdge {
	out := make([]*PrioritizedEdge, 0, n)
	for i := 0; i < n; i++ {
		item, ok := q.Dequeue()
		if !ok {
			break
		}
		out = append(out, item)
	}
	return out
}

// Remove does a linear scan for the edge id and then heap.Remove at that
// index (spec Open Question: O(n), acceptable only for small/medium
// queues; an id-to-index map would be the first optimization).
func (q *Queue) Remove(edgeID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.heap.now = q.clock.Now()
	idx := -1
	for i, item := range q.heap.items {
		if item.Edge.ID == edgeID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}
	heap.Remove(&q.heap, idx)
	return true
}

const maxRetries = 3

// RequeueWithRetry bumps retry count and re-inserts with a short new
// deadline; gives up (returns false) once retries exceed maxRetries.
func (q *Queue) RequeueWithRetry(pe *PrioritizedEdge, newDeadlineFromNow time.Duration) bool {
	pe.RetryCount++
	q.mu.Lock()
	q.stats.RequeueAttempts++
	if pe.RetryCount > maxRetries {
		q.stats.GivenUp++
		q.mu.Unlock()
		return false
	}
	q.mu.Unlock()

	pe.Deadline = q.clock.Now().Add(newDeadlineFromNow)
	return q.enqueuePrioritized(pe)
}

// CleanupExpired performs an O(n) filter, dropping all currently expired
// entries and rebuilding the heap invariant.
func (q *Queue) CleanupExpired() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	kept := q.heap.items[:0]
	removed := 0
	for _, item := range q.heap.items {
		if item.expired(now) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	q.heap.items = kept
	heap.Init(&q.heap)
	q.stats.Expired += removed
	return removed
}

// Len returns the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}
