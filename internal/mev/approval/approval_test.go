package approval

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/mevengine/internal/mev/clock"
	"github.com/sawpanic/mevengine/internal/mev/eventbus"
	"github.com/sawpanic/mevengine/internal/mev/models"
)

func newTestManager(t *testing.T, cfg GlobalExecutionConfig) (*Manager, *clock.Fixed, *eventbus.Bus) {
	t.Helper()
	fc := clock.NewFixed(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))
	bus := eventbus.New()
	return New(cfg, fc, bus), fc, bus
}

func TestCreate_AutoApprovesAtomicGuaranteed(t *testing.T) {
	cfg := DefaultGlobalExecutionConfig()
	cfg.AutoExecutionEnabled = true
	m, fc, _ := newTestManager(t, cfg)

	a, err := m.Create(CreateParams{
		Type:                models.ApprovalEdge,
		EstimatedProfit:     1,
		RiskScore:           10,
		AtomicityGuaranteed: true,
		ExpiresAt:           fc.Now().Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalAutoApproved, a.Status)
}

func TestCreate_StoresPendingAndNotifiesAdvisor(t *testing.T) {
	cfg := DefaultGlobalExecutionConfig() // auto-execution disabled
	m, fc, bus := newTestManager(t, cfg)

	ch, unsub := bus.Subscribe()
	defer unsub()

	a, err := m.Create(CreateParams{
		Type:               models.ApprovalEdge,
		EstimatedProfitBps: 10,
		RiskScore:           50,
		ExpiresAt:           fc.Now().Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, a.Status)

	seenCreated, seenAdvisor := false, false
	for i := 0; i < 2; i++ {
		evt := <-ch
		switch evt.Type {
		case eventbus.EventApprovalCreated:
			seenCreated = true
		case eventbus.EventAdvisorNotified:
			seenAdvisor = true
		}
	}
	assert.True(t, seenCreated)
	assert.True(t, seenAdvisor)
}

func TestCreate_RejectsWhenFull(t *testing.T) {
	cfg := DefaultGlobalExecutionConfig()
	cfg.MaxPendingApprovals = 1
	m, fc, _ := newTestManager(t, cfg)

	_, err := m.Create(CreateParams{Type: models.ApprovalEdge, ExpiresAt: fc.Now().Add(time.Minute)})
	require.NoError(t, err)

	_, err = m.Create(CreateParams{Type: models.ApprovalEdge, ExpiresAt: fc.Now().Add(time.Minute)})
	assert.ErrorIs(t, err, ErrMaxPendingReached)
}

func TestApprove_FailsWhenExpired(t *testing.T) {
	cfg := DefaultGlobalExecutionConfig()
	m, fc, _ := newTestManager(t, cfg)

	a, err := m.Create(CreateParams{Type: models.ApprovalEdge, ExpiresAt: fc.Now().Add(time.Second)})
	require.NoError(t, err)

	fc.Advance(2 * time.Second)
	_, err = m.Approve(a.ID, "")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestCancelByStrategy_BulkRejects(t *testing.T) {
	cfg := DefaultGlobalExecutionConfig()
	m, fc, _ := newTestManager(t, cfg)
	strategyID := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := m.Create(CreateParams{Type: models.ApprovalEdge, StrategyID: &strategyID, ExpiresAt: fc.Now().Add(time.Minute)})
		require.NoError(t, err)
	}

	count := m.CancelByStrategy(strategyID)
	assert.Equal(t, 3, count)
	assert.Empty(t, m.ListPending())
}

func TestCleanupExpired_FlipsPastDeadline(t *testing.T) {
	cfg := DefaultGlobalExecutionConfig()
	m, fc, _ := newTestManager(t, cfg)

	a, err := m.Create(CreateParams{Type: models.ApprovalEdge, ExpiresAt: fc.Now().Add(time.Second)})
	require.NoError(t, err)

	fc.Advance(5 * time.Second)
	expired := m.CleanupExpired()
	require.Len(t, expired, 1)
	assert.Equal(t, a.ID, expired[0])

	got, ok := m.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, models.ApprovalExpired, got.Status)
}
