// Package approval implements the approval manager: the pending-approval
// gate, auto-approval policy, and the global execution toggle it reads.
package approval

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/mevengine/internal/mev/clock"
	"github.com/sawpanic/mevengine/internal/mev/eventbus"
	"github.com/sawpanic/mevengine/internal/mev/models"
)

var (
	ErrMaxPendingReached = errors.New("approval: max pending approvals reached")
	ErrNotFound          = errors.New("approval: not found")
	ErrNotPending        = errors.New("approval: not in pending state")
	ErrExpired           = errors.New("approval: already expired")
)

// GlobalExecutionConfig is the shared, mutable toggle set consulted by
// should_auto_approve; it changes only through UpdateConfig/ToggleExecution.
type GlobalExecutionConfig struct {
	AutoExecutionEnabled    bool
	AutoApproveAtomic       bool
	AutoApproveMaxRiskScore float64
	AutoApproveMinProfitBps float64
	MaxRiskScoreConfigured  bool
	MaxRiskScore            float64
	MaxPendingApprovals     int
	NotifyAdvisorOnPending  bool
}

// DefaultGlobalExecutionConfig matches the original's conservative
// defaults: auto-execution off, advisor notification on.
func DefaultGlobalExecutionConfig() GlobalExecutionConfig {
	return GlobalExecutionConfig{
		AutoExecutionEnabled:    false,
		AutoApproveAtomic:       true,
		AutoApproveMaxRiskScore: 30,
		AutoApproveMinProfitBps: 150,
		MaxPendingApprovals:     100,
		NotifyAdvisorOnPending:  true,
	}
}

// Manager maintains the pending-approval map and the shared execution
// config; every mutation publishes an event on bus.
type Manager struct {
	mu      sync.RWMutex
	clock   clock.Clock
	bus     *eventbus.Bus
	config  GlobalExecutionConfig
	pending map[uuid.UUID]*models.PendingApproval
}

// New constructs an approval Manager.
func New(config GlobalExecutionConfig, clk clock.Clock, bus *eventbus.Bus) *Manager {
	return &Manager{
		clock:   clk,
		bus:     bus,
		config:  config,
		pending: make(map[uuid.UUID]*models.PendingApproval),
	}
}

// UpdateConfig patches the shared execution config under lock.
func (m *Manager) UpdateConfig(fn func(*GlobalExecutionConfig)) {
	m.mu.Lock()
	fn(&m.config)
	snapshot := m.config
	m.mu.Unlock()
	m.bus.Publish(eventbus.Event{Type: eventbus.EventType("config_updated"), Payload: snapshot})
}

// ToggleExecution flips AutoExecutionEnabled.
func (m *Manager) ToggleExecution(enabled bool) {
	m.UpdateConfig(func(c *GlobalExecutionConfig) { c.AutoExecutionEnabled = enabled })
}

// shouldAutoApprove implements the spec §4.5 policy exactly.
func shouldAutoApprove(c GlobalExecutionConfig, profitLamports int64, profitBps, riskScore float64, atomicityGuaranteed bool) bool {
	if !c.AutoExecutionEnabled {
		return false
	}
	if c.AutoApproveAtomic && atomicityGuaranteed && profitLamports > 0 && riskScore <= c.AutoApproveMaxRiskScore {
		return true
	}
	if profitBps >= c.AutoApproveMinProfitBps {
		if !c.MaxRiskScoreConfigured || riskScore <= c.MaxRiskScore {
			return true
		}
	}
	return false
}

// CreateParams is the input to Create.
type CreateParams struct {
	Type                models.ApprovalType
	EdgeID              *uuid.UUID
	PositionID          *uuid.UUID
	StrategyID          *uuid.UUID
	EstimatedProfit     int64
	EstimatedProfitBps  float64
	RiskScore           float64
	AtomicityGuaranteed bool
	Context             map[string]any
	ExpiresAt           time.Time
}

// Create evaluates auto-approval and stores the resulting PendingApproval,
// returning it. Mirrors the original's create(): rejects when full, else
// auto-approves or stores pending + advisor notification.
func (m *Manager) Create(p CreateParams) (*models.PendingApproval, error) {
	m.mu.Lock()

	if len(m.pending) >= m.config.MaxPendingApprovals {
		m.mu.Unlock()
		return nil, ErrMaxPendingReached
	}

	now := m.clock.Now()
	approval := &models.PendingApproval{
		ID:              uuid.New(),
		Type:            p.Type,
		EdgeID:          p.EdgeID,
		PositionID:      p.PositionID,
		StrategyID:      p.StrategyID,
		EstimatedProfit: p.EstimatedProfit,
		RiskScore:       p.RiskScore,
		Context:         p.Context,
		CreatedAt:       now,
		ExpiresAt:       p.ExpiresAt,
	}

	autoApprove := shouldAutoApprove(m.config, p.EstimatedProfit, p.EstimatedProfitBps, p.RiskScore, p.AtomicityGuaranteed)
	notifyAdvisor := m.config.NotifyAdvisorOnPending

	if autoApprove {
		approval.Status = models.ApprovalAutoApproved
		decided := now
		approval.DecidedAt = &decided
		m.pending[approval.ID] = approval
		m.mu.Unlock()
		m.bus.Publish(eventbus.Event{Type: eventbus.EventAutoApproved, Payload: approval})
		return approval, nil
	}

	approval.Status = models.ApprovalPending
	m.pending[approval.ID] = approval
	m.mu.Unlock()

	m.bus.Publish(eventbus.Event{Type: eventbus.EventApprovalCreated, Payload: approval})
	if notifyAdvisor {
		m.bus.Publish(eventbus.Event{Type: eventbus.EventAdvisorNotified, Payload: approval})
	}
	return approval, nil
}

// Approve transitions a pending approval to approved.
func (m *Manager) Approve(id uuid.UUID, notes string) (*models.PendingApproval, error) {
	m.mu.Lock()

	a, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if a.Expired(m.clock.Now()) {
		a.Status = models.ApprovalExpired
		m.mu.Unlock()
		return nil, ErrExpired
	}
	if a.Status != models.ApprovalPending {
		m.mu.Unlock()
		return nil, ErrNotPending
	}
	a.Status = models.ApprovalApproved
	a.Notes = notes
	now := m.clock.Now()
	a.DecidedAt = &now
	m.mu.Unlock()

	m.bus.Publish(eventbus.Event{Type: eventbus.EventApprovalApproved, Payload: a})
	return a, nil
}

// Reject transitions a pending approval to rejected.
func (m *Manager) Reject(id uuid.UUID, reason string) (*models.PendingApproval, error) {
	m.mu.Lock()

	a, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if a.Status != models.ApprovalPending {
		m.mu.Unlock()
		return nil, ErrNotPending
	}
	a.Status = models.ApprovalRejected
	a.Notes = reason
	now := m.clock.Now()
	a.DecidedAt = &now
	m.mu.Unlock()

	m.bus.Publish(eventbus.Event{Type: eventbus.EventApprovalRejected, Payload: a})
	return a, nil
}

// CancelByStrategy bulk-rejects every pending approval for a strategy and
// returns how many it rejected.
func (m *Manager) CancelByStrategy(strategyID uuid.UUID) int {
	m.mu.Lock()

	count := 0
	now := m.clock.Now()
	var cancelled []*models.PendingApproval
	for _, a := range m.pending {
		if a.StrategyID != nil && *a.StrategyID == strategyID && a.Status == models.ApprovalPending {
			a.Status = models.ApprovalRejected
			a.Notes = "cancelled: strategy killed"
			decided := now
			a.DecidedAt = &decided
			count++
			cancelled = append(cancelled, a)
		}
	}
	m.mu.Unlock()

	for _, a := range cancelled {
		m.bus.Publish(eventbus.Event{Type: eventbus.EventApprovalRejected, Payload: a})
	}
	return count
}

// CleanupExpired flips any pending-but-past-deadline approvals to expired
// and returns their ids.
func (m *Manager) CleanupExpired() []uuid.UUID {
	m.mu.Lock()

	now := m.clock.Now()
	var expired []uuid.UUID
	var toPublish []*models.PendingApproval
	for id, a := range m.pending {
		if a.Status == models.ApprovalPending && a.Expired(now) {
			a.Status = models.ApprovalExpired
			expired = append(expired, id)
			toPublish = append(toPublish, a)
		}
	}
	m.mu.Unlock()

	for _, a := range toPublish {
		m.bus.Publish(eventbus.Event{Type: eventbus.EventApprovalExpired, Payload: a})
	}
	return expired
}

// Get returns one approval by id.
func (m *Manager) Get(id uuid.UUID) (*models.PendingApproval, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.pending[id]
	return a, ok
}

// ListPending returns every currently pending approval.
func (m *Manager) ListPending() []*models.PendingApproval {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.PendingApproval
	for _, a := range m.pending {
		if a.Status == models.ApprovalPending {
			out = append(out, a)
		}
	}
	return out
}

// RemoveCompleted prunes decided approvals whose decision is older than
// maxAge relative to now.
func (m *Manager) RemoveCompleted(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	for id, a := range m.pending {
		if a.Status == models.ApprovalPending || a.DecidedAt == nil {
			continue
		}
		if now.Sub(*a.DecidedAt) > maxAge {
			delete(m.pending, id)
		}
	}
}
