// Package strategy implements the strategy engine: turning a batch of
// signals into priority-queued edges (or pending approvals), gated by the
// risk manager and an optional external avoidance oracle.
package strategy

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sawpanic/mevengine/internal/mev/approval"
	"github.com/sawpanic/mevengine/internal/mev/clock"
	"github.com/sawpanic/mevengine/internal/mev/eventbus"
	"github.com/sawpanic/mevengine/internal/mev/models"
	"github.com/sawpanic/mevengine/internal/mev/queue"
	"github.com/sawpanic/mevengine/internal/mev/risk"
)

// ErrStrategyNotFound is returned by SetRiskParams when id isn't registered.
var ErrStrategyNotFound = errors.New("strategy: not found")

// AvoidanceOracle is the "should-avoid?" probe against the external
// engram knowledge store (out of scope; consumed only at this boundary).
type AvoidanceOracle interface {
	ShouldAvoid(ctx context.Context, tokenMint string) (bool, error)
}

// NoopAvoidanceOracle never vetoes; used when no external store is wired.
type NoopAvoidanceOracle struct{}

func (NoopAvoidanceOracle) ShouldAvoid(ctx context.Context, tokenMint string) (bool, error) {
	return false, nil
}

// EdgeBuilder derives a tentative edge from a matched (signal, strategy)
// pair; the domain-specific pricing/route logic lives behind this
// interface so the engine itself stays about gating and ordering.
type EdgeBuilder interface {
	BuildEdge(signal models.Signal, strategy models.Strategy) (models.Edge, bool)
}

// DefaultEdgeBuilder derives an edge directly from the signal's own
// profit/confidence fields, defaulting atomicity to non-atomic unless the
// signal kind implies otherwise.
type DefaultEdgeBuilder struct {
	Clock clock.Clock
}

func (b DefaultEdgeBuilder) BuildEdge(signal models.Signal, st models.Strategy) (models.Edge, bool) {
	atomicity := models.NonAtomic
	guaranteed := false
	if signal.Kind == models.SignalArbitrage && signal.Confidence >= 0.85 {
		atomicity = models.FullyAtomic
		guaranteed = signal.Confidence >= 0.9
	}

	now := b.Clock.Now()
	strategyID := st.ID
	edge := models.Edge{
		ID:                        uuid.New(),
		StrategyID:                &strategyID,
		Kind:                      string(signal.Kind),
		ExecutionMode:             st.ExecutionMode,
		Atomicity:                 atomicity,
		SimulatedProfitGuaranteed: guaranteed,
		EstimatedProfitBps:        signal.ProfitBps,
		RiskScore:                 100 * (1 - signal.Confidence),
		SignalData:                &signal,
		Status:                    models.EdgeDetected,
		TokenMint:                 signal.TokenMint,
		CreatedAt:                 now,
		ExpiresAt:                 signal.ExpiresAt,
	}
	return edge, true
}

// venueKindMatches reports whether a strategy applies to the signal's venue kind.
func venueKindMatches(st models.Strategy, venueKind string) bool {
	if len(st.VenueKinds) == 0 {
		return true
	}
	for _, k := range st.VenueKinds {
		if k == venueKind {
			return true
		}
	}
	return false
}

// Engine wires signal matching, risk gating, and approval/queue handoff.
type Engine struct {
	mu          sync.RWMutex
	clock       clock.Clock
	log         zerolog.Logger
	bus         *eventbus.Bus
	riskManager *risk.Manager
	approvals   *approval.Manager
	edgeQueue   *queue.Queue
	oracle      AvoidanceOracle
	builder     EdgeBuilder

	strategies map[uuid.UUID]models.Strategy
}

// New constructs a strategy Engine with the given collaborators.
func New(clk clock.Clock, log zerolog.Logger, bus *eventbus.Bus, riskManager *risk.Manager, approvals *approval.Manager, edgeQueue *queue.Queue, oracle AvoidanceOracle, builder EdgeBuilder) *Engine {
	if oracle == nil {
		oracle = NoopAvoidanceOracle{}
	}
	return &Engine{
		clock:       clk,
		log:         log,
		bus:         bus,
		riskManager: riskManager,
		approvals:   approvals,
		edgeQueue:   edgeQueue,
		oracle:      oracle,
		builder:     builder,
		strategies:  make(map[uuid.UUID]models.Strategy),
	}
}

// RegisterStrategy indexes an active strategy for signal matching.
func (e *Engine) RegisterStrategy(st models.Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[st.ID] = st
}

// RemoveStrategy deindexes a strategy.
func (e *Engine) RemoveStrategy(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.strategies, id)
}

func (e *Engine) activeStrategies() []models.Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Strategy, 0, len(e.strategies))
	for _, st := range e.strategies {
		if st.Active {
			out = append(out, st)
		}
	}
	// Tie-break order: max_risk_score descending, then id ascending as a
	// stable proxy for creation order within a batch.
	sort.Slice(out, func(i, j int) bool {
		if out[i].RiskParams.MaxRiskScore != out[j].RiskParams.MaxRiskScore {
			return out[i].RiskParams.MaxRiskScore > out[j].RiskParams.MaxRiskScore
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Strategies returns a snapshot of every registered strategy, active or
// not, for operator-facing listing and config-sync endpoints.
func (e *Engine) Strategies() []models.Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Strategy, 0, len(e.strategies))
	for _, st := range e.strategies {
		out = append(out, st)
	}
	return out
}

// SetRiskParams overwrites the in-memory risk params of a registered
// strategy; callers are responsible for persisting the change.
func (e *Engine) SetRiskParams(id uuid.UUID, params models.RiskParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.strategies[id]
	if !ok {
		return ErrStrategyNotFound
	}
	st.RiskParams = params
	e.strategies[id] = st
	return nil
}

// ProcessSignals matches each signal against active strategies, gates
// resulting edges through the risk manager, and either priority-queues or
// approval-gates them. Returns the count of edges that survived to
// queuing or approval.
func (e *Engine) ProcessSignals(ctx context.Context, signals []models.Signal) (int, error) {
	now := e.clock.Now()
	strategies := e.activeStrategies()
	consumed := make(map[consumedKey]bool)
	survived := 0

	for _, sig := range signals {
		if sig.Expired(now) {
			continue // spec invariant 7: an expired signal never produces a new edge
		}
		for _, st := range strategies {
			key := consumedKey{signalID: sig.ID, strategyID: st.ID}
			if consumed[key] {
				continue
			}
			if !venueKindMatches(st, sig.VenueKind) {
				continue
			}
			consumed[key] = true

			edge, ok := e.builder.BuildEdge(sig, st)
			if !ok {
				continue
			}

			if avoid, err := e.oracle.ShouldAvoid(ctx, sig.TokenMint); err != nil {
				e.log.Warn().Err(err).Msg("avoidance oracle probe failed; proceeding")
			} else if avoid {
				edge.Status = models.EdgeRejected
				edge.RejectionReason = "avoidance_oracle"
				e.bus.Publish(eventbus.Event{Type: eventbus.EventEdgeStatusChanged, Payload: edge})
				continue
			}

			estimatedSizeSOL := estimateSizeSOL(edge, st)
			check := e.riskManager.CheckEdge(edge, st.RiskParams, estimatedSizeSOL)
			if !check.Passed {
				edge.Status = models.EdgeRejected
				edge.RejectionReason = firstBlockRule(check)
				e.bus.Publish(eventbus.Event{Type: eventbus.EventEdgeStatusChanged, Payload: edge})
				continue
			}

			if st.ExecutionMode == models.ExecutionApprovalRequired {
				strategyID := st.ID
				edgeID := edge.ID
				edge.Status = models.EdgePendingApproval
				_, err := e.approvals.Create(approval.CreateParams{
					Type:                models.ApprovalEdge,
					EdgeID:              &edgeID,
					StrategyID:          &strategyID,
					EstimatedProfit:     edge.EstimatedProfitLamports,
					EstimatedProfitBps:  edge.EstimatedProfitBps,
					RiskScore:           edge.RiskScore,
					AtomicityGuaranteed: edge.Atomicity == models.FullyAtomic && edge.SimulatedProfitGuaranteed,
					ExpiresAt:           now.Add(5 * time.Minute),
				})
				if err != nil {
					e.log.Warn().Err(err).Msg("failed to create pending approval")
					continue
				}
				survived++
				continue
			}

			deadline := edge.ExpiresAt
			if deadline.IsZero() {
				deadline = now.Add(time.Minute)
			}
			if e.edgeQueue.Enqueue(edge, deadline) {
				survived++
			}
		}
	}

	return survived, nil
}

type consumedKey struct {
	signalID   uuid.UUID
	strategyID uuid.UUID
}

func firstBlockRule(check risk.Check) string {
	for _, v := range check.Violations {
		if v.Severity == risk.SeverityBlock {
			return v.Rule
		}
	}
	return "unknown"
}

// estimateSizeSOL derives a position-size estimate for the risk manager
// from the edge's profit-bps context; a real deployment would price this
// from the venue quote, but the strategy engine itself does not own that.
func estimateSizeSOL(edge models.Edge, st models.Strategy) float64 {
	if st.RiskParams.MaxPositionSOL > 0 {
		return st.RiskParams.MaxPositionSOL * 0.1
	}
	return 0.01
}
