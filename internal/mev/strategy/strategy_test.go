package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/mevengine/internal/mev/approval"
	"github.com/sawpanic/mevengine/internal/mev/clock"
	"github.com/sawpanic/mevengine/internal/mev/eventbus"
	"github.com/sawpanic/mevengine/internal/mev/models"
	"github.com/sawpanic/mevengine/internal/mev/queue"
	"github.com/sawpanic/mevengine/internal/mev/risk"
)

func newTestEngine(t *testing.T, clk clock.Clock) (*Engine, *queue.Queue, *approval.Manager) {
	t.Helper()
	bus := eventbus.New()
	riskMgr := risk.New(risk.DefaultConfig(), clk, zerolog.Nop())
	approvalMgr := approval.New(approval.DefaultGlobalExecutionConfig(), clk, bus)
	edgeQueue := queue.New(50, clk)
	eng := New(clk, zerolog.Nop(), bus, riskMgr, approvalMgr, edgeQueue, nil, DefaultEdgeBuilder{Clock: clk})
	return eng, edgeQueue, approvalMgr
}

func autonomousStrategy(venueKind string) models.Strategy {
	return models.Strategy{
		ID:            uuid.New(),
		Name:          "autonomous-test",
		VenueKinds:    []string{venueKind},
		ExecutionMode: models.ExecutionAutonomous,
		Active:        true,
		RiskParams: models.RiskParams{
			MaxPositionSOL: 1,
			MaxRiskScore:   90,
			MinProfitBps:   10,
		},
	}
}

func sampleSignal(venueKind string, expiresIn time.Duration, now time.Time) models.Signal {
	return models.Signal{
		ID:         uuid.New(),
		Kind:       models.SignalArbitrage,
		VenueKind:  venueKind,
		TokenMint:  "So11111111111111111111111111111111111111112",
		ProfitBps:  50,
		Confidence: 0.95,
		DetectedAt: now,
		ExpiresAt:  now.Add(expiresIn),
	}
}

func TestProcessSignals_AutonomousEdgeReachesQueue(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	eng, edgeQueue, _ := newTestEngine(t, clk)
	eng.RegisterStrategy(autonomousStrategy("dex"))

	count, err := eng.ProcessSignals(context.Background(), []models.Signal{sampleSignal("dex", time.Minute, now)})
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, 1, edgeQueue.Len())
}

func TestProcessSignals_ApprovalRequiredCreatesPendingApproval(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	eng, edgeQueue, approvals := newTestEngine(t, clk)
	st := autonomousStrategy("dex")
	st.ExecutionMode = models.ExecutionApprovalRequired
	eng.RegisterStrategy(st)

	count, err := eng.ProcessSignals(context.Background(), []models.Signal{sampleSignal("dex", time.Minute, now)})
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, 0, edgeQueue.Len())
	require.Len(t, approvals.ListPending(), 1)
}

func TestProcessSignals_ExpiredSignalNeverProducesEdge(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	eng, edgeQueue, _ := newTestEngine(t, clk)
	eng.RegisterStrategy(autonomousStrategy("dex"))

	sig := sampleSignal("dex", -time.Second, now) // already expired
	count, err := eng.ProcessSignals(context.Background(), []models.Signal{sig})
	require.NoError(t, err)
	require.Equal(t, 0, count)
	require.Equal(t, 0, edgeQueue.Len())
}

func TestProcessSignals_VenueKindMismatchSkipsStrategy(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	eng, edgeQueue, _ := newTestEngine(t, clk)
	eng.RegisterStrategy(autonomousStrategy("lending"))

	count, err := eng.ProcessSignals(context.Background(), []models.Signal{sampleSignal("dex", time.Minute, now)})
	require.NoError(t, err)
	require.Equal(t, 0, count)
	require.Equal(t, 0, edgeQueue.Len())
}

func TestProcessSignals_NoDoubleConsumptionWithinBatch(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	eng, edgeQueue, _ := newTestEngine(t, clk)
	eng.RegisterStrategy(autonomousStrategy("dex"))

	sig := sampleSignal("dex", time.Minute, now)
	// Same signal appearing twice in one batch must still only yield one edge
	// per (signal, strategy) pair.
	count, err := eng.ProcessSignals(context.Background(), []models.Signal{sig, sig})
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, 1, edgeQueue.Len())
}

func TestProcessSignals_RiskBlockedEdgeNeverQueued(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	eng, edgeQueue, _ := newTestEngine(t, clk)
	st := autonomousStrategy("dex")
	st.RiskParams.MinProfitBps = 10000 // unreachable; forces a block
	eng.RegisterStrategy(st)

	count, err := eng.ProcessSignals(context.Background(), []models.Signal{sampleSignal("dex", time.Minute, now)})
	require.NoError(t, err)
	require.Equal(t, 0, count)
	require.Equal(t, 0, edgeQueue.Len())
}

type avoidEverything struct{}

func (avoidEverything) ShouldAvoid(ctx context.Context, tokenMint string) (bool, error) {
	return true, nil
}

func TestProcessSignals_AvoidanceOracleVetoesEdge(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	bus := eventbus.New()
	riskMgr := risk.New(risk.DevTestingConfig(), clk, zerolog.Nop())
	approvalMgr := approval.New(approval.DefaultGlobalExecutionConfig(), clk, bus)
	edgeQueue := queue.New(50, clk)
	eng := New(clk, zerolog.Nop(), bus, riskMgr, approvalMgr, edgeQueue, avoidEverything{}, DefaultEdgeBuilder{Clock: clk})
	eng.RegisterStrategy(autonomousStrategy("dex"))

	count, err := eng.ProcessSignals(context.Background(), []models.Signal{sampleSignal("dex", time.Minute, now)})
	require.NoError(t, err)
	require.Equal(t, 0, count)
	require.Equal(t, 0, edgeQueue.Len())
}

func TestProcessSignals_EachMatchingStrategyAppliesOwnRiskParams(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	eng, edgeQueue, _ := newTestEngine(t, clk)

	permissive := autonomousStrategy("dex")
	permissive.RiskParams.MaxRiskScore = 95
	restrictive := autonomousStrategy("dex")
	restrictive.RiskParams.MaxRiskScore = 5 // blocks the signal's risk score of 100*(1-0.95)

	eng.RegisterStrategy(restrictive)
	eng.RegisterStrategy(permissive)

	sig := sampleSignal("dex", time.Minute, now)
	sig.Kind = models.SignalLiquidation // non-atomic, so max_risk_score is not relaxed
	count, err := eng.ProcessSignals(context.Background(), []models.Signal{sig})
	require.NoError(t, err)
	// Both strategies are distinct (signal, strategy) pairs, so both are
	// evaluated; only the permissive one should survive its own risk gate.
	require.Equal(t, 1, count)
	require.Equal(t, 1, edgeQueue.Len())
}

func TestStrategies_ReturnsAllRegisteredStrategies(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	eng, _, _ := newTestEngine(t, clk)

	a := autonomousStrategy("dex")
	b := autonomousStrategy("lending")
	eng.RegisterStrategy(a)
	eng.RegisterStrategy(b)

	all := eng.Strategies()
	require.Len(t, all, 2)

	ids := map[uuid.UUID]bool{}
	for _, st := range all {
		ids[st.ID] = true
	}
	require.True(t, ids[a.ID])
	require.True(t, ids[b.ID])
}

func TestSetRiskParams_OverwritesRegisteredStrategy(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	eng, _, _ := newTestEngine(t, clk)

	st := autonomousStrategy("dex")
	eng.RegisterStrategy(st)

	newParams := models.RiskParams{MaxPositionSOL: 3, MaxRiskScore: 42, MinProfitBps: 77}
	require.NoError(t, eng.SetRiskParams(st.ID, newParams))

	for _, got := range eng.Strategies() {
		if got.ID == st.ID {
			require.Equal(t, newParams, got.RiskParams)
			return
		}
	}
	t.Fatal("strategy not found after SetRiskParams")
}

func TestSetRiskParams_UnknownIDReturnsError(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	eng, _, _ := newTestEngine(t, clk)

	err := eng.SetRiskParams(uuid.New(), models.RiskParams{})
	require.ErrorIs(t, err, ErrStrategyNotFound)
}
