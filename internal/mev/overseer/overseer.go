// Package overseer tracks per-agent health, decides when an agent needs a
// restart, and can pause/resume the whole swarm when things go wrong.
package overseer

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sawpanic/mevengine/internal/mev/clock"
	"github.com/sawpanic/mevengine/internal/mev/eventbus"
	"github.com/sawpanic/mevengine/internal/mev/models"
)

// Config tunes heartbeat timeouts and auto-recovery behavior.
type Config struct {
	HeartbeatIntervalSecs uint64
	HeartbeatTimeoutSecs  uint64
	MaxRestartAttempts    int
	RestartCooldownSecs   uint64
	AutoRecoveryEnabled   bool
}

// DefaultConfig mirrors the original overseer's defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatIntervalSecs: 10,
		HeartbeatTimeoutSecs:  30,
		MaxRestartAttempts:    3,
		RestartCooldownSecs:   60,
		AutoRecoveryEnabled:   true,
	}
}

// SwarmHealth is the aggregate health of every registered agent.
type SwarmHealth struct {
	TotalAgents     int
	HealthyAgents   int
	DegradedAgents  int
	UnhealthyAgents int
	DeadAgents      int
	OverallHealth   models.AgentHealth
	IsPaused        bool
}

// recordHeartbeat resets failure tracking and marks the agent healthy.
func recordHeartbeat(s *models.AgentStatus, now time.Time) {
	s.LastHeartbeat = now
	s.ConsecutiveFailures = 0
	s.Health = models.AgentHealthy
	s.ErrorMessage = ""
}

// recordFailure bumps the failure count and reclassifies health; the
// 1-2/3-5/6+ bucketing matches the original overseer exactly.
func recordFailure(s *models.AgentStatus, errMsg string) {
	s.ConsecutiveFailures++
	s.ErrorMessage = errMsg

	switch {
	case s.ConsecutiveFailures <= 2:
		s.Health = models.AgentDegraded
	case s.ConsecutiveFailures <= 5:
		s.Health = models.AgentUnhealthy
	default:
		s.Health = models.AgentDead
	}
}

// recordRestart clears failure state and marks the agent healthy again.
func recordRestart(s *models.AgentStatus, now time.Time) {
	s.RestartCount++
	s.ConsecutiveFailures = 0
	s.Health = models.AgentHealthy
	s.ErrorMessage = ""
	s.LastHeartbeat = now
}

// Overseer tracks agent health for the whole swarm and gates pause/resume.
type Overseer struct {
	id     uuid.UUID
	config Config
	clock  clock.Clock
	log    zerolog.Logger
	bus    *eventbus.Bus

	mu       sync.RWMutex
	agents   map[uuid.UUID]*models.AgentStatus
	isPaused bool
}

// New constructs an Overseer.
func New(config Config, clk clock.Clock, bus *eventbus.Bus, log zerolog.Logger) *Overseer {
	return &Overseer{
		id:     uuid.New(),
		config: config,
		clock:  clk,
		bus:    bus,
		log:    log,
		agents: make(map[uuid.UUID]*models.AgentStatus),
	}
}

// ID returns the overseer's own identity.
func (o *Overseer) ID() uuid.UUID { return o.id }

// RegisterAgent starts tracking a new agent as healthy.
func (o *Overseer) RegisterAgent(agentType string, agentID uuid.UUID) {
	now := o.clock.Now()
	o.mu.Lock()
	o.agents[agentID] = &models.AgentStatus{
		AgentType:     agentType,
		AgentID:       agentID,
		Health:        models.AgentHealthy,
		LastHeartbeat: now,
		StartedAt:     now,
	}
	o.mu.Unlock()

	o.log.Info().Str("agent_type", agentType).Str("agent_id", agentID.String()).Msg("registered agent")
	o.bus.Publish(eventbus.Event{Type: eventbus.EventAgentStarted, Payload: agentID})
}

// UnregisterAgent stops tracking an agent entirely.
func (o *Overseer) UnregisterAgent(agentID uuid.UUID) {
	o.mu.Lock()
	status, ok := o.agents[agentID]
	if ok {
		delete(o.agents, agentID)
	}
	o.mu.Unlock()

	if ok {
		o.log.Info().Str("agent_type", status.AgentType).Str("agent_id", agentID.String()).Msg("unregistered agent")
		o.bus.Publish(eventbus.Event{Type: eventbus.EventAgentStopped, Payload: agentID})
	}
}

// RecordHeartbeat marks agentID as alive and healthy right now.
func (o *Overseer) RecordHeartbeat(agentID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	status, ok := o.agents[agentID]
	if !ok {
		return
	}
	recordHeartbeat(status, o.clock.Now())
}

// RecordAgentFailure records errMsg against agentID and, if this failure
// pushed a previously-healthy agent out of the healthy state, publishes
// EventAgentFailure exactly once for the transition.
func (o *Overseer) RecordAgentFailure(agentID uuid.UUID, errMsg string) {
	o.mu.Lock()
	status, ok := o.agents[agentID]
	if !ok {
		o.mu.Unlock()
		return
	}
	wasHealthy := status.Health == models.AgentHealthy
	recordFailure(status, errMsg)
	shouldEmit := wasHealthy && status.Health != models.AgentHealthy
	snapshot := *status
	o.mu.Unlock()

	if shouldEmit {
		o.log.Warn().
			Str("agent_type", snapshot.AgentType).
			Str("agent_id", agentID.String()).
			Str("health", string(snapshot.Health)).
			Int("consecutive_failures", snapshot.ConsecutiveFailures).
			Str("error", errMsg).
			Msg("agent health degraded")
		o.bus.Publish(eventbus.Event{Type: eventbus.EventAgentFailure, Payload: snapshot})
	}
}

// RecordAgentRecovery marks agentID as freshly restarted and healthy.
func (o *Overseer) RecordAgentRecovery(agentID uuid.UUID) {
	o.mu.Lock()
	status, ok := o.agents[agentID]
	if !ok {
		o.mu.Unlock()
		return
	}
	recordRestart(status, o.clock.Now())
	snapshot := *status
	o.mu.Unlock()

	o.log.Info().
		Str("agent_type", snapshot.AgentType).
		Str("agent_id", agentID.String()).
		Int("restart_count", snapshot.RestartCount).
		Msg("agent recovered")
	o.bus.Publish(eventbus.Event{Type: eventbus.EventAgentRecovered, Payload: snapshot})
}

// GetAgentStatus returns a snapshot of one agent's status.
func (o *Overseer) GetAgentStatus(agentID uuid.UUID) (models.AgentStatus, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	status, ok := o.agents[agentID]
	if !ok {
		return models.AgentStatus{}, false
	}
	return *status, true
}

// GetAllAgentStatuses returns a snapshot of every tracked agent.
func (o *Overseer) GetAllAgentStatuses() []models.AgentStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]models.AgentStatus, 0, len(o.agents))
	for _, status := range o.agents {
		out = append(out, *status)
	}
	return out
}

// GetSwarmHealth aggregates every agent's health into one swarm-wide view.
func (o *Overseer) GetSwarmHealth() SwarmHealth {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var healthy, degraded, unhealthy, dead int
	for _, status := range o.agents {
		switch status.Health {
		case models.AgentHealthy:
			healthy++
		case models.AgentDegraded:
			degraded++
		case models.AgentUnhealthy:
			unhealthy++
		case models.AgentDead:
			dead++
		}
	}

	overall := models.AgentHealthy
	switch {
	case dead > 0:
		overall = models.AgentDead
	case unhealthy > 0:
		overall = models.AgentUnhealthy
	case degraded > 0:
		overall = models.AgentDegraded
	}

	return SwarmHealth{
		TotalAgents:     len(o.agents),
		HealthyAgents:   healthy,
		DegradedAgents:  degraded,
		UnhealthyAgents: unhealthy,
		DeadAgents:      dead,
		OverallHealth:   overall,
		IsPaused:        o.isPaused,
	}
}

// PauseSwarm halts new strategy execution until ResumeSwarm is called.
func (o *Overseer) PauseSwarm() {
	o.mu.Lock()
	o.isPaused = true
	o.mu.Unlock()

	o.log.Warn().Msg("swarm paused by overseer")
	o.bus.Publish(eventbus.Event{Type: eventbus.EventSwarmPaused, Payload: o.clock.Now()})
}

// ResumeSwarm lifts a pause previously set by PauseSwarm.
func (o *Overseer) ResumeSwarm() {
	o.mu.Lock()
	o.isPaused = false
	o.mu.Unlock()

	o.log.Info().Msg("swarm resumed by overseer")
	o.bus.Publish(eventbus.Event{Type: eventbus.EventSwarmResumed, Payload: o.clock.Now()})
}

// IsPaused reports whether the swarm is currently paused.
func (o *Overseer) IsPaused() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.isPaused
}

// CheckHeartbeats returns the IDs of every agent whose last heartbeat is
// older than the configured timeout.
func (o *Overseer) CheckHeartbeats() []uuid.UUID {
	timeout := time.Duration(o.config.HeartbeatTimeoutSecs) * time.Second
	now := o.clock.Now()

	o.mu.RLock()
	defer o.mu.RUnlock()

	var stale []uuid.UUID
	for id, status := range o.agents {
		if now.Sub(status.LastHeartbeat) > timeout {
			stale = append(stale, id)
		}
	}
	return stale
}

// AgentRestart names an agent that is dead and still within its restart
// budget, as returned by GetAgentsNeedingRestart.
type AgentRestart struct {
	AgentID   uuid.UUID
	AgentType string
}

// GetAgentsNeedingRestart returns every dead agent that hasn't exhausted
// its restart budget; returns nothing if auto-recovery is disabled.
func (o *Overseer) GetAgentsNeedingRestart() []AgentRestart {
	if !o.config.AutoRecoveryEnabled {
		return nil
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	var needsRestart []AgentRestart
	for id, status := range o.agents {
		if status.Health == models.AgentDead && status.RestartCount < o.config.MaxRestartAttempts {
			needsRestart = append(needsRestart, AgentRestart{AgentID: id, AgentType: status.AgentType})
		}
	}
	return needsRestart
}

// Config returns the overseer's tuning parameters.
func (o *Overseer) Config() Config { return o.config }

// HostHealth is a host-level resource snapshot. The engine's maintenance
// loop samples and logs it alongside the heartbeat check; no pause or
// restart decision reads it.
type HostHealth struct {
	CPUPercent float64
	MemPercent float64
}

// SampleHostHealth reads current CPU/memory usage; the CPU reading blocks
// for a 100ms sampling window.
func SampleHostHealth() HostHealth {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		return HostHealth{CPUPercent: cpuPercent[0]}
	}

	return HostHealth{CPUPercent: cpuPercent[0], MemPercent: memStat.UsedPercent}
}
