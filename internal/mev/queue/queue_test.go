package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/mevengine/internal/mev/clock"
	"github.com/sawpanic/mevengine/internal/mev/models"
)

func edgeWith(atomicity models.Atomicity, guaranteed bool, profit int64) models.Edge {
	return models.Edge{
		ID:                        uuid.New(),
		Atomicity:                 atomicity,
		SimulatedProfitGuaranteed: guaranteed,
		EstimatedProfitLamports:   profit,
	}
}

func TestCalculatePriority(t *testing.T) {
	cases := []struct {
		name string
		edge models.Edge
		want Priority
	}{
		{"fully atomic guaranteed -> critical", edgeWith(models.FullyAtomic, true, 1), PriorityCritical},
		{"fully atomic unguaranteed -> high", edgeWith(models.FullyAtomic, false, 1), PriorityHigh},
		{"partially atomic -> medium", edgeWith(models.PartiallyAtomic, false, 1), PriorityMedium},
		{"non-atomic big profit -> high", edgeWith(models.NonAtomic, false, 2_000_000_000), PriorityHigh},
		{"non-atomic medium profit -> medium", edgeWith(models.NonAtomic, false, 200_000_000), PriorityMedium},
		{"non-atomic small profit -> low", edgeWith(models.NonAtomic, false, 10), PriorityLow},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := CalculatePriority(c.edge); got != c.want {
				t.Errorf("CalculatePriority() = %v, want %v", got, c.want)
			}
		})
	}
}

// TestPriorityOrdering mirrors the original priority_queue.rs
// test_priority_ordering: higher-urgency edges dequeue first.
func TestPriorityOrdering(t *testing.T) {
	fc := clock.NewFixed(time.Now())
	q := New(10, fc)

	low := edgeWith(models.NonAtomic, false, 100)
	high := edgeWith(models.FullyAtomic, true, 100)

	q.Enqueue(low, fc.Now().Add(time.Hour))
	q.Enqueue(high, fc.Now().Add(time.Hour))

	first, ok := q.Dequeue()
	if !ok || first.Edge.ID != high.ID {
		t.Fatalf("expected critical-priority edge first, got %+v", first)
	}

	second, ok := q.Dequeue()
	if !ok || second.Edge.ID != low.ID {
		t.Fatalf("expected low-priority edge second, got %+v", second)
	}
}

// TestMaxSizeEviction mirrors the original's test_max_size_eviction:
// max_size=2, enqueue 3 edges, final length is 2 and the lowest-urgency
// entry was evicted.
func TestMaxSizeEviction(t *testing.T) {
	fc := clock.NewFixed(time.Now())
	q := New(2, fc)

	e1 := edgeWith(models.NonAtomic, false, 100)
	e2 := edgeWith(models.NonAtomic, false, 200)
	e3 := edgeWith(models.FullyAtomic, true, 10_000_000_000)

	deadline := fc.Now().Add(time.Hour)
	q.Enqueue(e1, deadline)
	q.Enqueue(e2, deadline)
	q.Enqueue(e3, deadline)

	if q.Len() != 2 {
		t.Fatalf("expected queue length 2 after eviction, got %d", q.Len())
	}

	first, _ := q.Dequeue()
	second, _ := q.Dequeue()
	if first.Edge.ID != e3.ID {
		t.Fatalf("expected e3 to dequeue first, got %v", first.Edge.ID)
	}
	if second.Edge.ID != e2.ID {
		t.Fatalf("expected e2 to dequeue second (e1 evicted), got %v", second.Edge.ID)
	}
}

func TestEnqueue_DropsExpired(t *testing.T) {
	fc := clock.NewFixed(time.Now())
	q := New(10, fc)

	e := edgeWith(models.NonAtomic, false, 100)
	ok := q.Enqueue(e, fc.Now().Add(-time.Second))
	if ok {
		t.Fatal("expired edge should not enqueue")
	}
	if q.Len() != 0 {
		t.Fatal("queue should remain empty")
	}
}

func TestDequeue_LazilySkipsExpired(t *testing.T) {
	fc := clock.NewFixed(time.Now())
	q := New(10, fc)

	stale := edgeWith(models.NonAtomic, false, 100)
	q.Enqueue(stale, fc.Now().Add(time.Millisecond))
	fresh := edgeWith(models.NonAtomic, false, 100)
	q.Enqueue(fresh, fc.Now().Add(time.Hour))

	fc.Advance(time.Second) // stale entry is now expired

	got, ok := q.Dequeue()
	if !ok || got.Edge.ID != fresh.ID {
		t.Fatalf("expected fresh edge after skipping expired one, got %+v", got)
	}
}

func TestRequeueWithRetry_GivesUpAfterThreeAttempts(t *testing.T) {
	fc := clock.NewFixed(time.Now())
	q := New(10, fc)

	pe := &PrioritizedEdge{Edge: edgeWith(models.NonAtomic, false, 1), Priority: PriorityLow, Deadline: fc.Now().Add(time.Hour)}

	for i := 0; i < 3; i++ {
		if !q.RequeueWithRetry(pe, 5*time.Second) {
			t.Fatalf("retry %d should still be accepted", i+1)
		}
		q.Remove(pe.Edge.ID) // simulate dequeue-and-retry cycle
	}

	if q.RequeueWithRetry(pe, 5*time.Second) {
		t.Fatal("fourth retry should give up")
	}
}

func TestRemove(t *testing.T) {
	fc := clock.NewFixed(time.Now())
	q := New(10, fc)
	e := edgeWith(models.NonAtomic, false, 1)
	q.Enqueue(e, fc.Now().Add(time.Hour))

	if !q.Remove(e.ID) {
		t.Fatal("Remove should find and remove the edge")
	}
	if q.Len() != 0 {
		t.Fatal("queue should be empty after remove")
	}
	if q.Remove(e.ID) {
		t.Fatal("Remove should return false for an already-removed edge")
	}
}

func TestCleanupExpired(t *testing.T) {
	fc := clock.NewFixed(time.Now())
	q := New(10, fc)

	q.Enqueue(edgeWith(models.NonAtomic, false, 1), fc.Now().Add(time.Millisecond))
	q.Enqueue(edgeWith(models.NonAtomic, false, 1), fc.Now().Add(time.Hour))

	fc.Advance(time.Second)
	removed := q.CleanupExpired()
	if removed != 1 {
		t.Fatalf("expected 1 expired entry removed, got %d", removed)
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", q.Len())
	}
}
