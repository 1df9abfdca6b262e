// Package capital implements the capital manager: global balance tracking,
// per-strategy allocation quotas, and transactional reserve/release of
// position-scoped capital reservations.
package capital

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/sawpanic/mevengine/internal/mev/clock"
	"github.com/sawpanic/mevengine/internal/mev/models"
)

var (
	ErrNoBalance               = errors.New("capital: no balance available")
	ErrStrategyNotRegistered   = errors.New("capital: strategy not registered")
	ErrMaxPositionsReached     = errors.New("capital: strategy at max positions")
	ErrAllocationExceeded      = errors.New("capital: strategy allocation exceeded")
	ErrInsufficientGlobal      = errors.New("capital: insufficient global capital")
	ErrReservationNotFound     = errors.New("capital: reservation not found")
)

// Manager holds global balance and per-strategy allocations behind a
// single mutex; operations are microsecond-scale so contention is not a
// concern (mirrors the original's separate-but-always-together locks).
type Manager struct {
	mu                   sync.Mutex
	clock                clock.Clock
	totalBalanceLamports int64
	allocations          map[uuid.UUID]*models.StrategyAllocation
	reservations         map[uuid.UUID]models.CapitalReservation
	globalReservedLamports int64
}

// New constructs a capital Manager with the given starting balance.
func New(totalBalanceLamports int64, clk clock.Clock) *Manager {
	return &Manager{
		clock:                clk,
		totalBalanceLamports: totalBalanceLamports,
		allocations:          make(map[uuid.UUID]*models.StrategyAllocation),
		reservations:         make(map[uuid.UUID]models.CapitalReservation),
	}
}

// RegisterStrategy creates or replaces a strategy's allocation quota.
func (m *Manager) RegisterStrategy(strategyID uuid.UUID, maxPercent float64, maxPositions int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations[strategyID] = &models.StrategyAllocation{
		MaxPercent:   maxPercent,
		MaxPositions: maxPositions,
	}
}

// SetBalance updates the global balance (e.g. after an on-chain refresh).
func (m *Manager) SetBalance(lamports int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalBalanceLamports = lamports
}

// CanAllocate checks, without mutating state, whether amountLamports may
// be reserved against strategyID, in the spec's exact check order.
func (m *Manager) CanAllocate(strategyID uuid.UUID, amountLamports int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canAllocateLocked(strategyID, amountLamports)
}

func (m *Manager) canAllocateLocked(strategyID uuid.UUID, amountLamports int64) error {
	if m.totalBalanceLamports <= 0 {
		return ErrNoBalance
	}
	alloc, ok := m.allocations[strategyID]
	if !ok {
		return ErrStrategyNotRegistered
	}
	if alloc.ActivePositions >= alloc.MaxPositions {
		return ErrMaxPositionsReached
	}
	maxForStrategy := int64(float64(m.totalBalanceLamports) * alloc.MaxPercent / 100)
	if alloc.ReservedLamports+amountLamports > maxForStrategy {
		return ErrAllocationExceeded
	}
	if amountLamports > m.totalBalanceLamports-m.globalReservedLamports {
		return ErrInsufficientGlobal
	}
	return nil
}

// ReserveCapital performs the CanAllocate check and, on success,
// transactionally updates the strategy allocation, the global reserved
// counter, and the reservation table.
func (m *Manager) ReserveCapital(strategyID, positionID uuid.UUID, amountLamports int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.canAllocateLocked(strategyID, amountLamports); err != nil {
		return err
	}

	alloc := m.allocations[strategyID]
	alloc.ReservedLamports += amountLamports
	alloc.ActivePositions++
	m.globalReservedLamports += amountLamports
	m.reservations[positionID] = models.CapitalReservation{
		StrategyID:       strategyID,
		PositionID:       positionID,
		ReservedLamports: amountLamports,
		CreatedAt:        m.clock.Now(),
	}
	return nil
}

// ReleaseCapital is the exact inverse of ReserveCapital: it undoes all
// three counters and removes the reservation record. Saturates at zero to
// guard against double-release.
func (m *Manager) ReleaseCapital(positionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.reservations[positionID]
	if !ok {
		return ErrReservationNotFound
	}

	if alloc, ok := m.allocations[res.StrategyID]; ok {
		alloc.ReservedLamports = saturatingSub(alloc.ReservedLamports, res.ReservedLamports)
		if alloc.ActivePositions > 0 {
			alloc.ActivePositions--
		}
	}
	m.globalReservedLamports = saturatingSub(m.globalReservedLamports, res.ReservedLamports)
	delete(m.reservations, positionID)
	return nil
}

func saturatingSub(a, b int64) int64 {
	if b > a {
		return 0
	}
	return a - b
}

// StrategyUsage is a read-only snapshot of a strategy's allocation state.
type StrategyUsage struct {
	StrategyID       uuid.UUID
	MaxPercent       float64
	ReservedLamports int64
	ActivePositions  int
	MaxPositions     int
}

// GetStrategyUsage returns a snapshot for one strategy.
func (m *Manager) GetStrategyUsage(strategyID uuid.UUID) (StrategyUsage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alloc, ok := m.allocations[strategyID]
	if !ok {
		return StrategyUsage{}, false
	}
	return StrategyUsage{
		StrategyID:       strategyID,
		MaxPercent:       alloc.MaxPercent,
		ReservedLamports: alloc.ReservedLamports,
		ActivePositions:  alloc.ActivePositions,
		MaxPositions:     alloc.MaxPositions,
	}, true
}

// GetAllStrategyUsage returns a snapshot for every registered strategy.
func (m *Manager) GetAllStrategyUsage() []StrategyUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StrategyUsage, 0, len(m.allocations))
	for id, alloc := range m.allocations {
		out = append(out, StrategyUsage{
			StrategyID:       id,
			MaxPercent:       alloc.MaxPercent,
			ReservedLamports: alloc.ReservedLamports,
			ActivePositions:  alloc.ActivePositions,
			MaxPositions:     alloc.MaxPositions,
		})
	}
	return out
}

// GlobalUsage is a read-only snapshot of global balance/reservation state.
type GlobalUsage struct {
	TotalBalanceLamports   int64
	GlobalReservedLamports int64
}

// GetGlobalUsage returns the current global balance/reservation snapshot.
func (m *Manager) GetGlobalUsage() GlobalUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return GlobalUsage{
		TotalBalanceLamports:   m.totalBalanceLamports,
		GlobalReservedLamports: m.globalReservedLamports,
	}
}

// GetActiveReservations returns every currently held reservation.
func (m *Manager) GetActiveReservations() []models.CapitalReservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CapitalReservation, 0, len(m.reservations))
	for _, r := range m.reservations {
		out = append(out, r)
	}
	return out
}
