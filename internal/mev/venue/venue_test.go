package venue

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/mevengine/internal/mev/circuit"
	"github.com/sawpanic/mevengine/internal/mev/models"
)

func newTestRegistry(rps float64, burst int) *Registry {
	return NewRegistry(rps, burst, circuit.NewRegistry(circuit.DefaultConfig()))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := newTestRegistry(10, 5)
	a := NewMemoryAdapter("dex", "test-dex")
	r.Register(a)

	got, ok := r.Get(a.ID())
	require.True(t, ok)
	require.Equal(t, a, got)
}

func TestRegistry_GetUnknownIDReturnsFalse(t *testing.T) {
	r := newTestRegistry(10, 5)
	_, ok := r.Get(uuid.New())
	require.False(t, ok)
}

func TestRegistry_AllReturnsEveryAdapter(t *testing.T) {
	r := newTestRegistry(10, 5)
	r.Register(NewMemoryAdapter("dex", "a"))
	r.Register(NewMemoryAdapter("lending", "b"))

	require.Len(t, r.All(), 2)
}

func TestRegistry_HealthyFiltersUnhealthyAdapters(t *testing.T) {
	r := newTestRegistry(10, 5)
	healthy := NewMemoryAdapter("dex", "healthy")
	unhealthy := NewMemoryAdapter("dex", "unhealthy")
	unhealthy.SetHealthy(false)
	r.Register(healthy)
	r.Register(unhealthy)

	got := r.Healthy(context.Background())
	require.Len(t, got, 1)
	require.Equal(t, "healthy", got[0].Name())
}

func TestRegistry_HealthyExcludesOpenBreaker(t *testing.T) {
	r := newTestRegistry(10, 5)
	a := NewMemoryAdapter("dex", "flaky")
	r.Register(a)

	breaker := r.breakers.GetOrCreate(breakerName(a.ID()))
	for i := 0; i < circuit.DefaultConfig().FailureThreshold; i++ {
		_ = breaker.Call(context.Background(), func(ctx context.Context) error {
			return errors.New("boom")
		})
	}
	require.Equal(t, circuit.StateOpen, breaker.State())

	require.Empty(t, r.Healthy(context.Background()))
}

func TestRegistry_WaitUnknownVenueIsNoOp(t *testing.T) {
	r := newTestRegistry(10, 5)
	require.NoError(t, r.Wait(context.Background(), uuid.New()))
}

func TestRegistry_WaitAdmitsWithinBurst(t *testing.T) {
	r := newTestRegistry(1000, 5)
	a := NewMemoryAdapter("dex", "test-dex")
	r.Register(a)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Wait(context.Background(), a.ID()))
	}
}

func TestRegistry_ScanWrapsAdapterScan(t *testing.T) {
	r := newTestRegistry(10, 5)
	a := NewMemoryAdapter("dex", "test-dex")
	r.Register(a)
	a.QueueSignal(models.Signal{Kind: models.SignalArbitrage, ProfitBps: 50})

	signals, err := r.Scan(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, signals, 1)
}

func TestRegistry_ScanTripsBreakerAfterThreshold(t *testing.T) {
	r := newTestRegistry(10, 5)
	a := &failingAdapter{MemoryAdapter: *NewMemoryAdapter("dex", "failing")}
	r.Register(a)

	for i := 0; i < circuit.DefaultConfig().FailureThreshold; i++ {
		_, err := r.Scan(context.Background(), a)
		require.Error(t, err)
	}

	breaker := r.breakers.GetOrCreate(breakerName(a.ID()))
	require.Equal(t, circuit.StateOpen, breaker.State())

	_, err := r.Scan(context.Background(), a)
	require.ErrorIs(t, err, circuit.ErrCircuitOpen)
}

type failingAdapter struct {
	MemoryAdapter
}

func (f *failingAdapter) Scan(ctx context.Context) ([]models.Signal, error) {
	return nil, errors.New("scan failed")
}

func TestMemoryAdapter_ScanDrainsQueuedSignalsOnce(t *testing.T) {
	a := NewMemoryAdapter("dex", "test-dex")
	a.QueueSignal(models.Signal{Kind: models.SignalArbitrage, ProfitBps: 50})

	signals, err := a.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 1)
	require.Equal(t, a.ID(), signals[0].VenueID)
	require.Equal(t, "dex", signals[0].VenueKind)

	signals, err = a.Scan(context.Background())
	require.NoError(t, err)
	require.Empty(t, signals)
}

func TestMemoryAdapter_HealthToggle(t *testing.T) {
	a := NewMemoryAdapter("dex", "test-dex")
	require.True(t, a.IsHealthy(context.Background()))

	a.SetHealthy(false)
	require.False(t, a.IsHealthy(context.Background()))
}
