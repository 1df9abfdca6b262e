// Package venue defines the adapter interface each scanned liquidity
// source implements, plus a registry keyed by venue id.
package venue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sawpanic/mevengine/internal/mev/circuit"
	"github.com/sawpanic/mevengine/internal/mev/models"
)

// ProfitEstimate is a venue's own pre-trade profit projection for a signal.
type ProfitEstimate struct {
	ProfitLamports int64
	ProfitBps      float64
	Confidence     float64
}

// QuoteParams is a venue-specific quote request (route hints, amount, slippage).
type QuoteParams struct {
	InputMint  string
	OutputMint string
	AmountIn   int64
	SlippageBps int
}

// Quote is a venue's pricing response to a QuoteParams request.
type Quote struct {
	OutAmount int64
	RouteData map[string]any
}

// Adapter is implemented by every scannable venue (DEX, lending market,
// listing feed, ...). scan() may fail per spec §4.1; quote() may reject
// if the venue doesn't support the requested pair.
type Adapter interface {
	ID() uuid.UUID
	Kind() string
	Name() string
	Scan(ctx context.Context) ([]models.Signal, error)
	EstimateProfit(ctx context.Context, signal models.Signal) (ProfitEstimate, error)
	Quote(ctx context.Context, params QuoteParams) (Quote, error)
	IsHealthy(ctx context.Context) bool
}

// Registry holds the set of registered adapters keyed by venue id, with a
// per-venue rate limiter, mirroring internal/provider.DefaultProviderRegistry,
// and a per-venue circuit breaker so a misbehaving venue is skipped until
// its breaker half-opens (spec.md:88).
type Registry struct {
	mu       sync.RWMutex
	adapters map[uuid.UUID]Adapter
	limiters map[uuid.UUID]*rate.Limiter
	rps      rate.Limit
	burst    int
	breakers *circuit.Registry
}

// NewRegistry creates an empty registry; rps/burst size the per-venue
// rate limiter created on registration, and breakers supplies the shared
// circuit-breaker registry each venue's Scan calls are wrapped in.
func NewRegistry(rps float64, burst int, breakers *circuit.Registry) *Registry {
	return &Registry{
		adapters: make(map[uuid.UUID]Adapter),
		limiters: make(map[uuid.UUID]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		breakers: breakers,
	}
}

// breakerName is the shared circuit.Registry key for a venue's Scan calls.
func breakerName(id uuid.UUID) string {
	return fmt.Sprintf("venue_scan_%s", id)
}

// Register adds an adapter to the registry.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
	r.limiters[a.ID()] = rate.NewLimiter(r.rps, r.burst)
	r.breakers.GetOrCreate(breakerName(a.ID()))
}

// Get returns one adapter by id.
func (r *Registry) Get(id uuid.UUID) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// Healthy returns every adapter currently reporting healthy whose scan
// circuit breaker is not open; an open breaker skips the venue until it
// half-opens regardless of what IsHealthy reports.
func (r *Registry) Healthy(ctx context.Context) []Adapter {
	var out []Adapter
	for _, a := range r.All() {
		if !a.IsHealthy(ctx) {
			continue
		}
		if b, ok := r.breakers.Get(breakerName(a.ID())); ok && b.State() == circuit.StateOpen {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Scan runs adapter.Scan behind its dedicated circuit breaker, so a venue
// tripping its failure threshold stops being called until the breaker's
// timeout elapses and it moves to half-open.
func (r *Registry) Scan(ctx context.Context, a Adapter) ([]models.Signal, error) {
	breaker := r.breakers.GetOrCreate(breakerName(a.ID()))
	var signals []models.Signal
	err := breaker.Call(ctx, func(cctx context.Context) error {
		var scanErr error
		signals, scanErr = a.Scan(cctx)
		return scanErr
	})
	return signals, err
}

// Wait blocks until the named venue's rate limiter admits the next call.
func (r *Registry) Wait(ctx context.Context, id uuid.UUID) error {
	r.mu.RLock()
	limiter, ok := r.limiters[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}
