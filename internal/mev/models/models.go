// Package models defines the durable and in-flight entities shared across
// the edge lifecycle engine: signals, edges, strategies, approvals,
// positions, reservations, and agent/breaker/bundle state.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SignalKind identifies the category of opportunity a venue observed.
type SignalKind string

const (
	SignalArbitrage  SignalKind = "arbitrage"
	SignalLiquidation SignalKind = "liquidation"
	SignalNewListing SignalKind = "new-listing"
)

// Significance is a coarse priority hint attached to a Signal.
type Significance string

const (
	SignificanceLow      Significance = "low"
	SignificanceMedium   Significance = "medium"
	SignificanceHigh     Significance = "high"
	SignificanceCritical Significance = "critical"
)

// Signal is a venue-observed opportunity. Immutable after emission.
type Signal struct {
	ID            uuid.UUID
	Kind          SignalKind
	VenueID       uuid.UUID
	VenueKind     string
	TokenMint     string
	PoolID        string
	ProfitBps     float64
	Confidence    float64
	Significance  Significance
	Metadata      map[string]any
	DetectedAt    time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the signal's deadline has passed as of now.
func (s Signal) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Atomicity describes whether an edge succeeds-or-reverts as a unit.
type Atomicity string

const (
	FullyAtomic     Atomicity = "fully-atomic"
	PartiallyAtomic Atomicity = "partially-atomic"
	NonAtomic       Atomicity = "non-atomic"
)

// ExecutionMode controls whether an edge may proceed without a human gate.
type ExecutionMode string

const (
	ExecutionAutonomous      ExecutionMode = "autonomous"
	ExecutionApprovalRequired ExecutionMode = "approval-required"
	ExecutionAdvisory        ExecutionMode = "advisory"
)

// EdgeStatus is a node in the edge lifecycle DAG (spec invariant 1).
type EdgeStatus string

const (
	EdgeDetected        EdgeStatus = "detected"
	EdgePendingApproval EdgeStatus = "pending-approval"
	EdgeExecuting       EdgeStatus = "executing"
	EdgeExecuted        EdgeStatus = "executed"
	EdgeExpired         EdgeStatus = "expired"
	EdgeFailed          EdgeStatus = "failed"
	EdgeRejected        EdgeStatus = "rejected"
)

// legalEdgeTransitions encodes the DAG from spec invariant 1: detected ->
// {pending-approval, executing, expired, rejected} -> {executed, failed}.
var legalEdgeTransitions = map[EdgeStatus]map[EdgeStatus]bool{
	EdgeDetected: {
		EdgePendingApproval: true,
		EdgeExecuting:       true,
		EdgeExpired:         true,
		EdgeRejected:        true,
	},
	EdgePendingApproval: {
		EdgeExecuting: true,
		EdgeExpired:   true,
		EdgeRejected:  true,
	},
	EdgeExecuting: {
		EdgeExecuted: true,
		EdgeFailed:   true,
	},
}

// CanTransition reports whether moving from `from` to `to` is a legal edge
// in the lifecycle DAG. Same-state is never a legal transition.
func CanTransition(from, to EdgeStatus) bool {
	return legalEdgeTransitions[from][to]
}

// Edge is a concrete, executable plan derived from signals plus a strategy.
type Edge struct {
	ID                        uuid.UUID
	StrategyID                *uuid.UUID
	Kind                      string
	ExecutionMode             ExecutionMode
	Atomicity                 Atomicity
	SimulatedProfitGuaranteed bool
	EstimatedProfitLamports   int64
	EstimatedProfitBps        float64
	RiskScore                 float64
	RouteData                 map[string]any
	SignalData                *Signal
	Status                    EdgeStatus
	TokenMint                 string
	RejectionReason           string
	CreatedAt                 time.Time
	ExpiresAt                 time.Time

	// Settlement bookkeeping, filled in on terminal states.
	ActualProfitLamports int64
	ActualGasLamports    int64
	SimulationTxHash     string
	MaxGasCostLamports   int64
}

// Expired reports whether the edge's deadline has passed as of now.
func (e Edge) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// RiskParams is a strategy's risk policy, consumed by the risk manager.
type RiskParams struct {
	MaxPositionSOL          float64
	DailyLossLimitSOL       float64
	MinProfitBps            float64
	MaxRiskScore            float64
	StopLossPercent         float64
	TakeProfitPercent       float64
	TrailingStopPercent     float64
	TimeLimitMinutes        int
	MaxConcurrentPositions  int
}

// Strategy is a user- or system-owned policy producing edges.
type Strategy struct {
	ID                uuid.UUID
	OwnerID           string
	Name              string
	Kind              string
	VenueKinds        []string
	ExecutionMode     ExecutionMode
	RiskParams        RiskParams
	Active            bool
	MaxAllocationPct  float64
	MaxPositions      int
}

// ApprovalType identifies what kind of decision a PendingApproval gates.
type ApprovalType string

const (
	ApprovalEdge               ApprovalType = "edge"
	ApprovalPositionAdjustment ApprovalType = "position-adjustment"
	ApprovalKillSwitch         ApprovalType = "kill-switch"
	ApprovalConfigurationChange ApprovalType = "configuration-change"
)

// ApprovalStatus is the decision state of a PendingApproval.
type ApprovalStatus string

const (
	ApprovalPending      ApprovalStatus = "pending"
	ApprovalApproved     ApprovalStatus = "approved"
	ApprovalRejected     ApprovalStatus = "rejected"
	ApprovalAutoApproved ApprovalStatus = "auto-approved"
	ApprovalExpired      ApprovalStatus = "expired"
)

// AdvisorOpinion is the optional advisory-review attached to an approval.
type AdvisorOpinion struct {
	Decision   string
	Reasoning  string
	Confidence float64
}

// PendingApproval is a gate record blocking an edge/position/strategy action.
type PendingApproval struct {
	ID                uuid.UUID
	Type              ApprovalType
	EdgeID            *uuid.UUID
	PositionID        *uuid.UUID
	StrategyID        *uuid.UUID
	Status            ApprovalStatus
	EstimatedProfit   int64
	RiskScore         float64
	Context           map[string]any
	Advisor           *AdvisorOpinion
	CreatedAt         time.Time
	ExpiresAt         time.Time
	Notes             string
	DecidedAt         *time.Time
}

// Expired reports whether the approval's deadline has passed as of now.
func (p PendingApproval) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// ActivePosition is an open, risk-tracked position.
type ActivePosition struct {
	EdgeID   uuid.UUID
	TokenMint string
	SizeLamports int64
	OpenedAt time.Time
}

// CapitalReservation is a per-position hold on funds.
type CapitalReservation struct {
	StrategyID       uuid.UUID
	PositionID       uuid.UUID
	ReservedLamports int64
	CreatedAt        time.Time
}

// StrategyAllocation is a per-strategy quota.
type StrategyAllocation struct {
	MaxPercent       float64
	ReservedLamports int64
	ActivePositions  int
	MaxPositions     int
}

// DailyRiskStats are day-scoped counters, reset on date-change.
type DailyRiskStats struct {
	Date             string // YYYY-MM-DD, UTC
	TotalProfitLamports int64
	TotalLossLamports   int64
	TradeCount          int
	WinningTrades       int
	LosingTrades        int
	LastLossAt          *time.Time
}

// NetPnLLamports is TotalProfitLamports - TotalLossLamports.
func (d DailyRiskStats) NetPnLLamports() int64 {
	return d.TotalProfitLamports - d.TotalLossLamports
}

// AgentHealth is the coarse health classification of an agent.
type AgentHealth string

const (
	AgentHealthy   AgentHealth = "healthy"
	AgentDegraded  AgentHealth = "degraded"
	AgentUnhealthy AgentHealth = "unhealthy"
	AgentDead      AgentHealth = "dead"
)

// AgentStatus is per-agent health tracked by the resilience overseer.
type AgentStatus struct {
	AgentType           string
	AgentID             uuid.UUID
	Health              AgentHealth
	LastHeartbeat       time.Time
	ConsecutiveFailures int
	RestartCount        int
	StartedAt           time.Time
	ErrorMessage        string
}

// Trade is the settled, durable record of one executed edge.
type Trade struct {
	ID               int64      `db:"id"`
	EdgeID           uuid.UUID  `db:"edge_id"`
	StrategyID       *uuid.UUID `db:"strategy_id"`
	TokenMint        string     `db:"token_mint"`
	BundleID         *uuid.UUID `db:"bundle_id"`
	Signature        string     `db:"signature"`
	SolDeltaLamports int64      `db:"sol_delta_lamports"`
	GasLamports      uint64     `db:"gas_lamports"`
	SettlementSource string     `db:"settlement_source"`
	ExecutedAt       time.Time  `db:"executed_at"`
	CreatedAt        time.Time  `db:"created_at"`
}

// BundleState is the terminal/non-terminal status of a submitted bundle.
type BundleState string

const (
	BundlePending BundleState = "pending"
	BundleLanded  BundleState = "landed"
	BundleFailed  BundleState = "failed"
	BundleDropped BundleState = "dropped"
)

// BundleSubmission is a record of an outbound transaction bundle.
type BundleSubmission struct {
	ID           uuid.UUID
	Transactions []string
	TipLamports  int64
	Status       BundleState
	LandedSlot   *uint64
	SubmittedAt  time.Time
}
