// Package risk implements the edge-lifecycle risk manager: daily loss
// tracking, position exposure limits, and the ordered check_edge gate.
package risk

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sawpanic/mevengine/internal/mev/clock"
	"github.com/sawpanic/mevengine/internal/mev/models"
)

// Severity is the outcome class of a single risk check.
type Severity string

const (
	SeverityBlock   Severity = "block"
	SeverityWarning Severity = "warning"
)

// Violation is one failed or warned-about risk rule.
type Violation struct {
	Rule     string
	Severity Severity
	Detail   string
}

// Check is the outcome of check_edge: the full set of violations observed
// plus whether the edge passed overall (no un-relaxed Block violations).
type Check struct {
	Passed         bool
	Violations     []Violation
	AdjustedSizeSOL float64
	HasAdjustedSize bool
}

// Config is the risk manager's tunable policy. Field names mirror the
// original's RiskConfig so the four presets below translate directly.
type Config struct {
	MaxPositionSOL         float64
	DailyLossLimitSOL      float64
	MaxConcurrentPositions int
	LossCooldown           time.Duration
	VolatilityScaling      bool
}

// DefaultConfig is the production-grade default policy.
func DefaultConfig() Config {
	return Config{
		MaxPositionSOL:         1.0,
		DailyLossLimitSOL:      5.0,
		MaxConcurrentPositions: 10,
		LossCooldown:           5 * time.Minute,
		VolatilityScaling:      true,
	}
}

// DevTestingConfig tightens position, daily-loss and concurrency limits
// (0.01 SOL max position) and shortens the loss cooldown, for local
// iteration with small amounts.
func DevTestingConfig() Config {
	c := DefaultConfig()
	c.MaxPositionSOL = 0.01
	c.DailyLossLimitSOL = 0.5
	c.MaxConcurrentPositions = 3
	c.LossCooldown = 30 * time.Second
	return c
}

// ConservativeConfig tightens limits for risk-averse operation.
func ConservativeConfig() Config {
	c := DefaultConfig()
	c.MaxPositionSOL = 0.25
	c.DailyLossLimitSOL = 1.0
	c.MaxConcurrentPositions = 5
	c.LossCooldown = 15 * time.Minute
	return c
}

// AggressiveConfig widens limits for maximal throughput.
func AggressiveConfig() Config {
	c := DefaultConfig()
	c.MaxPositionSOL = 5.0
	c.DailyLossLimitSOL = 20.0
	c.MaxConcurrentPositions = 25
	c.LossCooldown = time.Minute
	return c
}

const lamportsPerSOL = 1e9

// Manager is the stateful singleton holding daily stats, active positions,
// and a token-exposure map; construct once and share via pointer.
type Manager struct {
	mu     sync.RWMutex
	clock  clock.Clock
	log    zerolog.Logger
	config Config

	daily      models.DailyRiskStats
	positions  map[uuid.UUID]models.ActivePosition
	exposure   map[string]float64 // token mint -> exposure in SOL
}

// New constructs a risk Manager with the given config and clock.
func New(config Config, clk clock.Clock, log zerolog.Logger) *Manager {
	return &Manager{
		clock:     clk,
		log:       log,
		config:    config,
		daily:     models.DailyRiskStats{Date: clock.UTCDate(clk.Now())},
		positions: make(map[uuid.UUID]models.ActivePosition),
		exposure:  make(map[string]float64),
	}
}

// UpdateConfig applies fn to the manager's config under lock, for runtime
// risk-level changes via the operator API.
func (m *Manager) UpdateConfig(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.config)
}

// GetConfig returns a snapshot of the manager's current config.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// rolloverLocked zeroes the daily stats if the calendar date (UTC) has
// changed since the last access. Caller must hold m.mu for write.
func (m *Manager) rolloverLocked() {
	today := clock.UTCDate(m.clock.Now())
	if m.daily.Date != today {
		m.daily = models.DailyRiskStats{Date: today}
	}
}

// GetStats returns a snapshot of today's risk stats, rolling over first
// if the date has changed (spec invariant 6).
func (m *Manager) GetStats() models.DailyRiskStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()
	return m.daily
}

// RecordTradeResult folds a closed trade's PnL into today's stats.
func (m *Manager) RecordTradeResult(profitLamports int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	m.daily.TradeCount++
	if profitLamports >= 0 {
		m.daily.TotalProfitLamports += profitLamports
		m.daily.WinningTrades++
	} else {
		m.daily.TotalLossLamports += -profitLamports
		m.daily.LosingTrades++
		now := m.clock.Now()
		m.daily.LastLossAt = &now
	}
}

// OpenPosition records an active position and its token exposure.
func (m *Manager) OpenPosition(pos models.ActivePosition, sizeSOL float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.EdgeID] = pos
	if pos.TokenMint != "" {
		m.exposure[pos.TokenMint] += sizeSOL
	}
}

// ClosePosition releases a tracked position and its token exposure.
func (m *Manager) ClosePosition(edgeID uuid.UUID, sizeSOL float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[edgeID]
	if !ok {
		return
	}
	delete(m.positions, edgeID)
	if pos.TokenMint != "" {
		m.exposure[pos.TokenMint] -= sizeSOL
		if m.exposure[pos.TokenMint] < 0 {
			m.exposure[pos.TokenMint] = 0
		}
	}
}

// ActivePositionCount returns the number of currently tracked positions.
func (m *Manager) ActivePositionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// CheckEdge runs the six ordered risk checks against edge and the owning
// strategy's risk params, applying the fully-atomic/guaranteed relaxation
// (spec invariant 4) before deciding Passed.
func (m *Manager) CheckEdge(edge models.Edge, params models.RiskParams, estimatedSizeSOL float64) Check {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	var violations []Violation

	// 1. Daily loss limit.
	netPnL := m.daily.NetPnLLamports()
	netPnLSOL := float64(netPnL) / lamportsPerSOL
	limit := m.config.DailyLossLimitSOL
	if limit <= 0 {
		limit = 1
	}
	if netPnLSOL <= -limit {
		violations = append(violations, Violation{Rule: "daily_loss_limit", Severity: SeverityBlock, Detail: "daily net PnL at or below loss limit"})
	} else if netPnLSOL <= -0.8*limit {
		violations = append(violations, Violation{Rule: "daily_loss_limit", Severity: SeverityWarning, Detail: "daily net PnL within 80% of loss limit"})
	}

	// 2. Absolute position size.
	if estimatedSizeSOL > m.config.MaxPositionSOL {
		violations = append(violations, Violation{Rule: "max_position_size", Severity: SeverityBlock, Detail: "estimated size exceeds max position size"})
	}

	// 3. Concurrent positions.
	if len(m.positions) >= m.config.MaxConcurrentPositions {
		violations = append(violations, Violation{Rule: "max_concurrent_positions", Severity: SeverityBlock, Detail: "active position count at or above limit"})
	}

	// 4. Loss cooldown (Warning only).
	if m.daily.LastLossAt != nil && m.clock.Now().Sub(*m.daily.LastLossAt) < m.config.LossCooldown {
		violations = append(violations, Violation{Rule: "loss_cooldown", Severity: SeverityWarning, Detail: "within cooldown window of last loss"})
	}

	// 5. Strategy risk score.
	if params.MaxRiskScore > 0 && edge.RiskScore > params.MaxRiskScore {
		violations = append(violations, Violation{Rule: "max_risk_score", Severity: SeverityBlock, Detail: "edge risk score exceeds strategy max"})
	}

	// 6. Minimum profit.
	if edge.EstimatedProfitBps < params.MinProfitBps {
		violations = append(violations, Violation{Rule: "min_profit", Severity: SeverityBlock, Detail: "edge profit bps below strategy minimum"})
	}

	if edge.Atomicity == models.FullyAtomic && edge.SimulatedProfitGuaranteed {
		filtered := violations[:0]
		for _, v := range violations {
			if v.Severity == SeverityBlock && (v.Rule == "max_risk_score" || v.Rule == "min_profit") {
				continue
			}
			filtered = append(filtered, v)
		}
		violations = filtered
	}

	passed := true
	for _, v := range violations {
		if v.Severity == SeverityBlock {
			passed = false
			break
		}
	}

	check := Check{Passed: passed, Violations: violations}
	if m.config.VolatilityScaling {
		check.AdjustedSizeSOL = m.CalculateAdjustedSize(estimatedSizeSOL, edge.RiskScore)
		check.HasAdjustedSize = true
	}

	if !passed {
		m.log.Warn().Str("edge_id", edge.ID.String()).Interface("violations", violations).Msg("risk check blocked edge")
	}

	return check
}

// CalculateAdjustedSize scales base position size down as risk score
// rises, per the original's exact clamp: base * max(0.25, 1 - risk/200),
// capped at the configured max position size.
func (m *Manager) CalculateAdjustedSize(baseSOL, riskScore float64) float64 {
	factor := math.Max(0.25, 1-riskScore/200)
	adjusted := baseSOL * factor
	if adjusted > m.config.MaxPositionSOL {
		adjusted = m.config.MaxPositionSOL
	}
	return adjusted
}
