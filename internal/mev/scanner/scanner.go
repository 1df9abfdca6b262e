// Package scanner implements the venue-scanning agent: a cooperative
// ticker loop that fans out to every healthy venue adapter, aggregates
// signals, and hands them to an attached strategy engine.
package scanner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/mevengine/internal/mev/eventbus"
	"github.com/sawpanic/mevengine/internal/mev/models"
	"github.com/sawpanic/mevengine/internal/mev/venue"
)

// StrategyEngine is the minimal surface the scanner needs from the
// strategy engine, kept narrow to avoid a dependency cycle (engine already
// depends on models/eventbus; scanner should not need the full engine package).
type StrategyEngine interface {
	ProcessSignals(ctx context.Context, signals []models.Signal) (int, error)
}

// Stats aggregates scanner activity counters.
type Stats struct {
	TotalScans      int64
	SignalsByType   map[models.SignalKind]int64
	SignalsByVenue  map[string]int64
	HealthyVenues   int
}

// Scanner owns the venue registry and ticks it at ScanInterval.
type Scanner struct {
	registry     *venue.Registry
	bus          *eventbus.Bus
	log          zerolog.Logger
	scanInterval time.Duration
	engine       StrategyEngine

	running int32
	mu      sync.Mutex
	stats   Stats
}

// New constructs a Scanner over registry, publishing to bus.
func New(registry *venue.Registry, bus *eventbus.Bus, scanInterval time.Duration, log zerolog.Logger) *Scanner {
	return &Scanner{
		registry:     registry,
		bus:          bus,
		log:          log,
		scanInterval: scanInterval,
		stats: Stats{
			SignalsByType:  make(map[models.SignalKind]int64),
			SignalsByVenue: make(map[string]int64),
		},
	}
}

// AttachStrategyEngine wires a strategy engine to receive each tick's
// aggregated signals synchronously, after scanning completes.
func (s *Scanner) AttachStrategyEngine(engine StrategyEngine) {
	s.engine = engine
}

// Start begins the ticker loop in a new goroutine; idempotent.
func (s *Scanner) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return
	}
	go s.run(ctx)
}

// Stop cooperatively halts the loop; it observes the flag at the next
// tick boundary.
func (s *Scanner) Stop() {
	atomic.StoreInt32(&s.running, 0)
	s.bus.Publish(eventbus.Event{Type: eventbus.EventType("scanner_stopped")})
}

// IsRunning reports whether the loop is currently active.
func (s *Scanner) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

func (s *Scanner) run(ctx context.Context) {
	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()

	for {
		if atomic.LoadInt32(&s.running) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			atomic.StoreInt32(&s.running, 0)
			return
		case <-ticker.C:
			if atomic.LoadInt32(&s.running) == 0 {
				return
			}
			s.ScanOnce(ctx)
		}
	}
}

// ScanOnce runs a single tick synchronously: concurrent scan of every
// healthy venue, aggregation, event emission, and strategy-engine handoff.
func (s *Scanner) ScanOnce(ctx context.Context) []models.Signal {
	healthy := s.registry.Healthy(ctx)

	var mu sync.Mutex
	var allSignals []models.Signal

	g, gctx := errgroup.WithContext(ctx)
	for _, adapter := range healthy {
		adapter := adapter
		g.Go(func() error {
			signals, err := s.registry.Scan(gctx, adapter)
			if err != nil {
				s.log.Warn().Str("venue", adapter.Name()).Err(err).Msg("scan error")
				s.bus.Publish(eventbus.Event{Type: eventbus.EventScanError, Payload: map[string]any{
					"venue_id": adapter.ID(), "error": err.Error(),
				}})
				return nil // a single adapter error is not fatal to the tick
			}
			mu.Lock()
			allSignals = append(allSignals, signals...)
			mu.Unlock()
			for _, sig := range signals {
				s.bus.Publish(eventbus.Event{Type: eventbus.EventSignalDetected, Payload: sig})
			}
			return nil
		})
	}
	_ = g.Wait() // adapter errors are handled inline; g.Wait() never actually returns an error here

	s.mu.Lock()
	s.stats.TotalScans++
	s.stats.HealthyVenues = len(healthy)
	for _, sig := range allSignals {
		s.stats.SignalsByType[sig.Kind]++
		s.stats.SignalsByVenue[sig.VenueID.String()]++
	}
	s.mu.Unlock()

	if s.engine != nil && len(allSignals) > 0 {
		edgeCount, err := s.engine.ProcessSignals(ctx, allSignals)
		if err != nil {
			s.log.Error().Err(err).Msg("strategy engine processing failed")
		} else {
			s.log.Info().Int("edge_count", edgeCount).Int("signal_count", len(allSignals)).Msg("signals processed")
		}
	}

	return allSignals
}

// Stats returns a snapshot of scanner counters.
func (s *Scanner) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	byType := make(map[models.SignalKind]int64, len(s.stats.SignalsByType))
	for k, v := range s.stats.SignalsByType {
		byType[k] = v
	}
	byVenue := make(map[string]int64, len(s.stats.SignalsByVenue))
	for k, v := range s.stats.SignalsByVenue {
		byVenue[k] = v
	}
	return Stats{
		TotalScans:     s.stats.TotalScans,
		SignalsByType:  byType,
		SignalsByVenue: byVenue,
		HealthyVenues:  s.stats.HealthyVenues,
	}
}
