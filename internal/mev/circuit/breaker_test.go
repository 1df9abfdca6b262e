package circuit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBreaker_ClosedState(t *testing.T) {
	b := NewBreaker(Config{FailureThreshold: 3, SuccessThreshold: 2, Timeout: 100 * time.Millisecond, RequestTimeout: 50 * time.Millisecond})

	if b.State() != StateClosed {
		t.Fatalf("breaker should start closed, got %s", b.State())
	}

	err := b.Call(context.Background(), func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("successful call should not error: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("breaker should remain closed after success, got %s", b.State())
	}
}

func TestBreaker_OpenOnFailures(t *testing.T) {
	b := NewBreaker(Config{FailureThreshold: 3, SuccessThreshold: 2, Timeout: 100 * time.Millisecond, RequestTimeout: 50 * time.Millisecond})

	for i := 0; i < 3; i++ {
		if err := b.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail") }); err == nil {
			t.Fatal("failing call should return error")
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("breaker should be open after threshold failures, got %s", b.State())
	}

	err := b.Call(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker should reject with ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := NewBreaker(Config{FailureThreshold: 2, SuccessThreshold: 2, Timeout: 50 * time.Millisecond, RequestTimeout: 100 * time.Millisecond, HalfOpenMaxCalls: 3})

	for i := 0; i < 2; i++ {
		b.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
	}
	if b.State() != StateOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(60 * time.Millisecond)

	if err := b.Call(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("first call after timeout should be admitted: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("breaker should be half-open, got %s", b.State())
	}

	if err := b.Call(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("second success should not error: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("breaker should close after success threshold, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 50 * time.Millisecond, RequestTimeout: 100 * time.Millisecond, HalfOpenMaxCalls: 3})

	b.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
	if b.State() != StateOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(60 * time.Millisecond)

	if err := b.Call(context.Background(), func(ctx context.Context) error { return errors.New("half-open failure") }); err == nil {
		t.Fatal("failing half-open call should error")
	}
	if b.State() != StateOpen {
		t.Fatalf("breaker should reopen after half-open failure, got %s", b.State())
	}
}

// TestBreaker_HalfOpenAdmissionLimit exercises the half-open call cap the
// teacher's original breaker did not enforce.
func TestBreaker_HalfOpenAdmissionLimit(t *testing.T) {
	b := NewBreaker(Config{FailureThreshold: 1, SuccessThreshold: 10, Timeout: 20 * time.Millisecond, RequestTimeout: time.Second, HalfOpenMaxCalls: 2})

	b.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
	time.Sleep(30 * time.Millisecond)

	release := make(chan struct{})
	var wg sync.WaitGroup
	admitted := int32(0)
	var mu sync.Mutex

	call := func() {
		defer wg.Done()
		err := b.Call(context.Background(), func(ctx context.Context) error {
			<-release
			return nil
		})
		if err == nil {
			mu.Lock()
			admitted++
			mu.Unlock()
		}
	}

	wg.Add(2)
	go call()
	go call()
	time.Sleep(10 * time.Millisecond) // let the first two claim half-open slots
	err := b.Call(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("third concurrent half-open probe should be rejected, got %v", err)
	}
	close(release)
	wg.Wait()
	wg.Add(0)
}

func TestBreaker_Stats(t *testing.T) {
	b := NewBreaker(Config{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 100 * time.Millisecond, RequestTimeout: 50 * time.Millisecond})

	b.Call(context.Background(), func(ctx context.Context) error { return nil })
	b.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
	b.Call(context.Background(), func(ctx context.Context) error { return nil })

	stats := b.Stats()
	if stats.TotalRequests != 3 || stats.TotalSuccesses != 2 || stats.TotalFailures != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker(Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: 100 * time.Millisecond, RequestTimeout: 50 * time.Millisecond})

	b.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
	b.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
	if b.State() != StateOpen {
		t.Fatal("breaker should be open")
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("breaker should be closed after reset, got %s", b.State())
	}
	if b.Stats().TotalRequests != 0 {
		t.Fatal("stats should be cleared after reset")
	}
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	b1 := r.GetOrCreate("jupiter")
	b2 := r.GetOrCreate("jupiter")
	if b1 != b2 {
		t.Fatal("GetOrCreate should return the same breaker for the same name")
	}

	if _, ok := r.Get("unknown"); ok {
		t.Fatal("Get should not find a breaker that was never created")
	}
}

func TestRegistry_ResetAll(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute, RequestTimeout: time.Second})

	b := r.GetOrCreate("helius")
	b.Call(context.Background(), func(ctx context.Context) error { return errors.New("fail") })
	if b.State() != StateOpen {
		t.Fatal("breaker should be open")
	}

	r.ResetAll()
	if b.State() != StateClosed {
		t.Fatal("ResetAll should close all breakers")
	}

	states := r.GetAllStates()
	if states["helius"] != StateClosed {
		t.Fatalf("expected closed state in snapshot, got %v", states["helius"])
	}
}
