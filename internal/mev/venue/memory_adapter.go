package venue

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/sawpanic/mevengine/internal/mev/models"
)

// MemoryAdapter is an in-memory Adapter used in tests and local/dev runs;
// signals queued via QueueSignal are returned once each by Scan.
type MemoryAdapter struct {
	id      uuid.UUID
	kind    string
	name    string
	mu      sync.Mutex
	queued  []models.Signal
	healthy bool
}

// NewMemoryAdapter constructs a healthy, empty in-memory adapter.
func NewMemoryAdapter(kind, name string) *MemoryAdapter {
	return &MemoryAdapter{id: uuid.New(), kind: kind, name: name, healthy: true}
}

func (a *MemoryAdapter) ID() uuid.UUID { return a.id }
func (a *MemoryAdapter) Kind() string  { return a.kind }
func (a *MemoryAdapter) Name() string  { return a.name }

// QueueSignal appends a signal the next Scan call will drain.
func (a *MemoryAdapter) QueueSignal(s models.Signal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s.VenueID = a.id
	s.VenueKind = a.kind
	a.queued = append(a.queued, s)
}

// SetHealthy overrides the adapter's reported health.
func (a *MemoryAdapter) SetHealthy(healthy bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthy = healthy
}

func (a *MemoryAdapter) Scan(ctx context.Context) ([]models.Signal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.queued
	a.queued = nil
	return out, nil
}

func (a *MemoryAdapter) EstimateProfit(ctx context.Context, signal models.Signal) (ProfitEstimate, error) {
	return ProfitEstimate{ProfitBps: signal.ProfitBps, Confidence: signal.Confidence}, nil
}

func (a *MemoryAdapter) Quote(ctx context.Context, params QuoteParams) (Quote, error) {
	return Quote{OutAmount: params.AmountIn, RouteData: map[string]any{"venue": a.name}}, nil
}

func (a *MemoryAdapter) IsHealthy(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.healthy
}
