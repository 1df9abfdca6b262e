// Package engine wires every MEV-domain component into one runnable
// process: venue scanning, signal-to-edge derivation, risk/capital/
// approval gating, priority execution, transaction building, signing,
// bundle submission, settlement, and the resilience overseer watching
// over all of it.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sawpanic/mevengine/internal/mev/approval"
	"github.com/sawpanic/mevengine/internal/mev/bundle"
	"github.com/sawpanic/mevengine/internal/mev/capital"
	"github.com/sawpanic/mevengine/internal/mev/circuit"
	"github.com/sawpanic/mevengine/internal/mev/clock"
	"github.com/sawpanic/mevengine/internal/mev/eventbus"
	"github.com/sawpanic/mevengine/internal/mev/metrics"
	"github.com/sawpanic/mevengine/internal/mev/mevconfig"
	"github.com/sawpanic/mevengine/internal/mev/models"
	"github.com/sawpanic/mevengine/internal/mev/overseer"
	"github.com/sawpanic/mevengine/internal/mev/persistence"
	"github.com/sawpanic/mevengine/internal/mev/persistence/postgres"
	"github.com/sawpanic/mevengine/internal/mev/queue"
	"github.com/sawpanic/mevengine/internal/mev/risk"
	"github.com/sawpanic/mevengine/internal/mev/scanner"
	"github.com/sawpanic/mevengine/internal/mev/settlement"
	"github.com/sawpanic/mevengine/internal/mev/strategy"
	"github.com/sawpanic/mevengine/internal/mev/txbuilder"
	"github.com/sawpanic/mevengine/internal/mev/venue"
	"github.com/sawpanic/mevengine/internal/mev/wallet"
)

const (
	defaultScanInterval     = 5 * time.Second
	defaultMaintenanceEvery = 30 * time.Second
	defaultQueueMaxSize     = 10_000
	defaultBundleTimeout    = 20 * time.Second
	venueRPS                = 10.0
	venueBurst              = 20
)

var (
	txBreakerName     = "txbuilder"
	bundleBreakerName = "bundle_submit"
)

// Engine is the process-level composition root. It owns every
// collaborator's lifecycle: construction happens in New, background
// loops start in Start, and Stop cooperatively tears them down.
type Engine struct {
	log    zerolog.Logger
	clock  clock.Clock
	bus    *eventbus.Bus
	config mevconfig.Config

	db    *sqlx.DB
	redis *redis.Client

	promRegistry *prometheus.Registry
	metrics      *metrics.Registry

	venues      *venue.Registry
	scanner     *scanner.Scanner
	riskMgr     *risk.Manager
	capitalMgr  *capital.Manager
	approvals   *approval.Manager
	edgeQueue   *queue.Queue
	strategyEng *strategy.Engine

	blockhashCache *txbuilder.BlockhashCache
	txBuilder      *txbuilder.Builder
	signer         *wallet.Signer
	bundler        *bundle.Submitter
	settler        *settlement.Resolver
	breakers       *circuit.Registry
	overseer       *overseer.Overseer

	edges      persistence.EdgeRepo
	strategies persistence.StrategyRepo
	trades     persistence.TradeRepo

	scannerAgentID uuid.UUID
	execAgentID    uuid.UUID
	webhookToken   string

	stopOnce sync.Once
	stopFn   context.CancelFunc
}

// heliusFetcher adapts a Helius RPC endpoint to settlement.TransactionFetcher;
// the concrete HTTP wiring is out of scope here (consumed only at this
// narrow boundary, mirroring the strategy package's AvoidanceOracle seam).
type heliusFetcher struct{}

func (heliusFetcher) GetTransaction(ctx context.Context, signature string) (settlement.TxMeta, error) {
	return settlement.TxMeta{}, fmt.Errorf("engine: no Helius fetcher configured")
}

func (heliusFetcher) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]settlement.SignatureInfo, error) {
	return nil, fmt.Errorf("engine: no Helius fetcher configured")
}

// New constructs every collaborator from cfg and secrets but starts
// nothing; call Start to begin the scanning/execution loops.
func New(cfg mevconfig.Config, secrets *mevconfig.EnvSecrets, log zerolog.Logger) (*Engine, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("engine: connect postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	queryTimeout := time.Duration(cfg.Database.QueryTimeoutMS) * time.Millisecond

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})

	promReg := prometheus.NewRegistry()
	metricsReg := metrics.New(promReg)

	clk := clock.RealClock{}
	bus := eventbus.New()

	preset := mevconfig.PresetByLevel(cfg.RiskLevel)
	riskCfg := risk.Config{
		MaxPositionSOL:         preset.MaxPositionSOL,
		DailyLossLimitSOL:      preset.DailyLossLimitSOL,
		MaxConcurrentPositions: preset.MaxConcurrentPositions,
		LossCooldown:           5 * time.Minute,
		VolatilityScaling:      true,
	}
	riskMgr := risk.New(riskCfg, clk, log.With().Str("component", "risk").Logger())

	capitalMgr := capital.New(0, clk)

	approvalCfg := approval.DefaultGlobalExecutionConfig()
	approvals := approval.New(approvalCfg, clk, bus)

	edgeQueue := queue.New(defaultQueueMaxSize, clk)

	strategyEng := strategy.New(clk, log.With().Str("component", "strategy").Logger(), bus, riskMgr, approvals, edgeQueue, strategy.NoopAvoidanceOracle{}, strategy.DefaultEdgeBuilder{Clock: clk})

	breakers := circuit.NewRegistry(circuit.DefaultConfig())

	venues := venue.NewRegistry(venueRPS, venueBurst, breakers)
	scanInterval := defaultScanInterval
	scan := scanner.New(venues, bus, scanInterval, log.With().Str("component", "scanner").Logger())
	scan.AttachStrategyEngine(strategyEng)

	blockhashCache := txbuilder.NewBlockhashCache(nil, rdb)
	txb := txbuilder.New(cfg.Solana.JupiterAggregatorURL, blockhashCache, log.With().Str("component", "txbuilder").Logger())

	privateKey := secrets.GetOrEmpty("wallet_private_key")
	signer, err := wallet.New(privateKey, wallet.SpendingPolicy{}, clk, log.With().Str("component", "wallet").Logger())
	if err != nil {
		return nil, fmt.Errorf("engine: construct signer: %w", err)
	}

	bundler := bundle.New(cfg.Solana.JitoBlockEngineURL, bundle.DefaultConfig(), log.With().Str("component", "bundle").Logger(), rdb)

	settler := settlement.New(heliusFetcher{}, log.With().Str("component", "settlement").Logger())

	ovConfig := overseer.DefaultConfig()
	ov := overseer.New(ovConfig, clk, bus, log.With().Str("component", "overseer").Logger())

	edgeRepo := postgres.NewEdgeRepo(db, queryTimeout)
	strategyRepo := postgres.NewStrategyRepo(db, queryTimeout)
	tradeRepo := postgres.NewTradeRepo(db, queryTimeout)

	e := &Engine{
		log:            log,
		clock:          clk,
		bus:            bus,
		config:         cfg,
		db:             db,
		redis:          rdb,
		promRegistry:   promReg,
		metrics:        metricsReg,
		venues:         venues,
		scanner:        scan,
		riskMgr:        riskMgr,
		capitalMgr:     capitalMgr,
		approvals:      approvals,
		edgeQueue:      edgeQueue,
		strategyEng:    strategyEng,
		blockhashCache: blockhashCache,
		txBuilder:      txb,
		signer:         signer,
		bundler:        bundler,
		settler:        settler,
		breakers:       breakers,
		overseer:       ov,
		edges:          edgeRepo,
		strategies:     strategyRepo,
		trades:         tradeRepo,
		scannerAgentID: uuid.New(),
		execAgentID:    uuid.New(),
		webhookToken:   secrets.GetOrEmpty("webhook_auth_token"),
	}
	return e, nil
}

// PromRegistry exposes the underlying Prometheus registry for the HTTP API.
func (e *Engine) PromRegistry() *prometheus.Registry { return e.promRegistry }

// Overseer exposes the resilience overseer for the HTTP API's swarm endpoints.
func (e *Engine) Overseer() *overseer.Overseer { return e.overseer }

// Approvals exposes the approval manager for the HTTP API's approval endpoints.
func (e *Engine) Approvals() *approval.Manager { return e.approvals }

// Risk exposes the risk manager for the HTTP API's config endpoints.
func (e *Engine) Risk() *risk.Manager { return e.riskMgr }

// Strategies exposes the strategy engine for the HTTP API's config-sync endpoint.
func (e *Engine) Strategies() *strategy.Engine { return e.strategyEng }

// StrategyRepo exposes the strategy repository so config-sync can persist
// the risk params it writes into the in-memory strategy engine.
func (e *Engine) StrategyRepo() persistence.StrategyRepo { return e.strategies }

// WebhookToken returns the configured Helius webhook bearer token, or ""
// if none was configured (the webhook rejects all requests in that case).
func (e *Engine) WebhookToken() string { return e.webhookToken }

// BindAddr returns the configured HTTP API bind address.
func (e *Engine) BindAddr() string { return e.config.HTTP.BindAddr }

// Scanner exposes the venue scanner for the CLI's scan-once command.
func (e *Engine) Scanner() *scanner.Scanner { return e.scanner }

// Status is a process-level snapshot for the CLI's status command.
type Status struct {
	Swarm         overseer.SwarmHealth
	QueueDepth    int
	PendingApprovals int
	ScannerStats  scanner.Stats
	BreakerStates map[string]circuit.State
}

// Status gathers a point-in-time snapshot of the running engine.
func (e *Engine) Status() Status {
	return Status{
		Swarm:            e.overseer.GetSwarmHealth(),
		QueueDepth:       e.edgeQueue.Len(),
		PendingApprovals: len(e.approvals.ListPending()),
		ScannerStats:     e.scanner.Stats(),
		BreakerStates:    e.breakers.GetAllStates(),
	}
}

// Start begins the scanner loop, the execution loop, and the periodic
// maintenance loop (approval cleanup, expired-edge cleanup, heartbeat
// checks). It returns immediately; loops run until ctx is canceled or
// Stop is called.
func (e *Engine) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.stopFn = cancel

	e.overseer.RegisterAgent("scanner", e.scannerAgentID)
	e.overseer.RegisterAgent("execution_loop", e.execAgentID)

	if err := e.loadStrategies(runCtx); err != nil {
		e.log.Error().Err(err).Msg("failed to load persisted strategies at startup")
	}

	e.scanner.Start(runCtx)
	go e.executionLoop(runCtx)
	go e.maintenanceLoop(runCtx)
}

// Stop cooperatively halts every loop started by Start; safe to call
// more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.scanner.Stop()
		if e.stopFn != nil {
			e.stopFn()
		}
	})
}

func (e *Engine) loadStrategies(ctx context.Context) error {
	strategies, err := e.strategies.List(ctx, true)
	if err != nil {
		return fmt.Errorf("engine: list strategies: %w", err)
	}
	for _, st := range strategies {
		e.strategyEng.RegisterStrategy(st)
	}
	return nil
}

// executionLoop dequeues edges, gates them through capital, builds and
// signs a transaction, submits a Jito bundle, and resolves settlement —
// mirroring the strategy engine's gate-then-act shape one stage further
// downstream.
func (e *Engine) executionLoop(ctx context.Context) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.overseer.IsPaused() {
				continue
			}
			pe, ok := e.edgeQueue.Dequeue()
			if !ok {
				continue
			}
			e.executeEdge(ctx, pe.Edge)
			e.overseer.RecordHeartbeat(e.execAgentID)
			e.metrics.QueueDepth.Set(float64(e.edgeQueue.Len()))
		}
	}
}

// failEdge transitions edge into the terminal failed state (legal only
// from executing, per models.CanTransition) and persists it, so every
// early return out of executeEdge leaves a queryable rejection_reason
// instead of silently vanishing from the edge lifecycle.
func (e *Engine) failEdge(ctx context.Context, edge models.Edge, reason string) {
	edge.Status = models.EdgeFailed
	edge.RejectionReason = reason
	if _, err := e.edges.Update(ctx, edge.ID, edge); err != nil {
		e.log.Error().Err(err).Str("edge_id", edge.ID.String()).Msg("failed to persist failed edge")
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.EventEdgeStatusChanged, Payload: edge})
}

func (e *Engine) executeEdge(ctx context.Context, edge models.Edge) {
	if persisted, err := e.edges.Create(ctx, edge); err != nil {
		e.log.Warn().Err(err).Str("edge_id", edge.ID.String()).Msg("failed to persist detected edge")
	} else {
		edge = persisted
	}

	edge.Status = models.EdgeExecuting
	if updated, err := e.edges.Update(ctx, edge.ID, edge); err != nil {
		e.log.Warn().Err(err).Str("edge_id", edge.ID.String()).Msg("failed to persist executing edge")
	} else {
		edge = updated
	}

	positionID := uuid.New()
	strategyID := uuid.Nil
	if edge.StrategyID != nil {
		strategyID = *edge.StrategyID
	}

	estimatedSizeLamports := edge.EstimatedProfitLamports
	if estimatedSizeLamports <= 0 {
		estimatedSizeLamports = 1
	}
	if err := e.capitalMgr.ReserveCapital(strategyID, positionID, estimatedSizeLamports); err != nil {
		e.log.Warn().Err(err).Str("edge_id", edge.ID.String()).Msg("capital reservation refused")
		e.metrics.EdgesRejected.WithLabelValues("capital_exhausted").Inc()
		e.failEdge(ctx, edge, "capital_exhausted")
		return
	}
	defer e.capitalMgr.ReleaseCapital(positionID)

	txBreaker := e.breakers.GetOrCreate(txBreakerName)
	var build txbuilder.BuildResult
	buildErr := txBreaker.Call(ctx, func(cctx context.Context) error {
		var err error
		build, err = e.txBuilder.BuildSwap(cctx, edge, e.signer.Address(), 50)
		return err
	})
	e.metrics.BreakerState.WithLabelValues(txBreakerName).Set(breakerStateValue(txBreaker.State()))
	if buildErr != nil {
		e.log.Warn().Err(buildErr).Str("edge_id", edge.ID.String()).Msg("transaction build failed")
		e.metrics.EdgesRejected.WithLabelValues("build_failed").Inc()
		e.failEdge(ctx, edge, "build_failed")
		return
	}

	signResult := e.signer.Sign(ctx, wallet.SignRequest{
		TransactionBase64:       build.TransactionBase64,
		EstimatedAmountLamports: estimatedSizeLamports,
		EstimatedProfitLamports: &edge.EstimatedProfitLamports,
	})
	if signResult.Kind != wallet.SignSuccess {
		e.log.Warn().Str("edge_id", edge.ID.String()).Str("kind", string(signResult.Kind)).Msg("signing refused")
		e.metrics.EdgesRejected.WithLabelValues("sign_refused").Inc()
		e.failEdge(ctx, edge, "sign_refused:"+string(signResult.Kind))
		return
	}

	bundleBreaker := e.breakers.GetOrCreate(bundleBreakerName)
	var submission models.BundleSubmission
	submitErr := bundleBreaker.Call(ctx, func(cctx context.Context) error {
		tip := bundle.DefaultConfig().CalculateTip(edge.EstimatedProfitLamports)
		var err error
		submission, err = e.bundler.SendBundle(cctx, []string{signResult.SignedTxBase64}, tip)
		return err
	})
	bundleID := submission.ID.String()
	e.metrics.BreakerState.WithLabelValues(bundleBreakerName).Set(breakerStateValue(bundleBreaker.State()))
	if submitErr != nil {
		e.log.Warn().Err(submitErr).Str("edge_id", edge.ID.String()).Msg("bundle submission failed")
		e.metrics.BundlesSubmitted.WithLabelValues("failed").Inc()
		e.failEdge(ctx, edge, "bundle_submit_failed")
		return
	}

	outcome, waitErr := e.bundler.WaitForBundle(ctx, bundleID, defaultBundleTimeout)
	if waitErr != nil {
		e.log.Warn().Err(waitErr).Str("edge_id", edge.ID.String()).Msg("bundle wait failed")
	}
	status := "landed"
	if outcome.TimedOut {
		status = "timeout"
	} else if outcome.Status != models.BundleLanded {
		status = "dropped"
	}
	e.metrics.BundlesSubmitted.WithLabelValues(status).Inc()
	if status != "landed" {
		e.riskMgr.RecordTradeResult(0)
		e.failEdge(ctx, edge, "bundle_"+status)
		return
	}

	result := e.settler.ResolveSettlement(ctx, signResult.Signature, e.signer.Address())
	e.metrics.SettlementPnLSOL.WithLabelValues(string(result.Source)).Observe(result.SolDeltaSOL())
	e.riskMgr.RecordTradeResult(result.SolDeltaLamports)

	trade := models.Trade{
		EdgeID:           edge.ID,
		TokenMint:        edge.TokenMint,
		Signature:        signResult.Signature,
		SolDeltaLamports: result.SolDeltaLamports,
		GasLamports:      result.GasLamports,
		SettlementSource: string(result.Source),
		ExecutedAt:       e.clock.Now(),
	}
	if edge.StrategyID != nil {
		trade.StrategyID = edge.StrategyID
	}
	if _, err := e.trades.Create(ctx, trade); err != nil {
		e.log.Error().Err(err).Str("edge_id", edge.ID.String()).Msg("failed to persist trade")
	}

	edge.Status = models.EdgeExecuted
	edge.ActualProfitLamports = result.SolDeltaLamports
	edge.ActualGasLamports = int64(result.GasLamports)
	if _, err := e.edges.Update(ctx, edge.ID, edge); err != nil {
		e.log.Error().Err(err).Str("edge_id", edge.ID.String()).Msg("failed to persist settled edge")
	}
}

// maintenanceLoop runs periodic housekeeping: expired-approval cleanup,
// expired-queue cleanup, and overseer heartbeat/restart bookkeeping —
// grounded on the teacher scheduler's single-ticker job-check loop.
func (e *Engine) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(defaultMaintenanceEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expiredApprovals := e.approvals.CleanupExpired()
			if len(expiredApprovals) > 0 {
				e.log.Info().Int("count", len(expiredApprovals)).Msg("expired approvals cleaned up")
			}
			if n := e.edgeQueue.CleanupExpired(); n > 0 {
				e.log.Info().Int("count", n).Msg("expired edges removed from queue")
			}
			for _, agentID := range e.overseer.CheckHeartbeats() {
				e.log.Warn().Str("agent_id", agentID.String()).Msg("agent heartbeat stale")
				e.overseer.RecordAgentFailure(agentID, "heartbeat timeout")
			}
			for _, restart := range e.overseer.GetAgentsNeedingRestart() {
				e.restartAgent(ctx, restart)
			}
			host := overseer.SampleHostHealth()
			e.log.Info().
				Float64("cpu_percent", host.CPUPercent).
				Float64("mem_percent", host.MemPercent).
				Msg("host health sample")
			e.metrics.ApprovalsPending.Set(float64(len(e.approvals.ListPending())))
		}
	}
}

// restartAgent attempts to recover a dead agent identified by the overseer,
// bounded by its own MaxRestartAttempts budget (enforced upstream by
// GetAgentsNeedingRestart). Only the scanner has an independently
// restartable loop; the execution loop is tied to the engine's own runCtx
// and has no sub-lifecycle to bounce, so it is only marked recovered.
func (e *Engine) restartAgent(ctx context.Context, restart overseer.AgentRestart) {
	switch restart.AgentID {
	case e.scannerAgentID:
		e.scanner.Stop()
		e.scanner.Start(ctx)
		e.log.Warn().Str("agent_id", restart.AgentID.String()).Str("agent_type", restart.AgentType).Msg("scanner restarted by overseer")
	default:
		e.log.Warn().Str("agent_id", restart.AgentID.String()).Str("agent_type", restart.AgentType).Msg("agent restart requested, no restartable loop for this agent type")
	}
	e.overseer.RecordAgentRecovery(restart.AgentID)
}

func breakerStateValue(state circuit.State) float64 {
	switch state {
	case circuit.StateClosed:
		return 0
	case circuit.StateHalfOpen:
		return 1
	case circuit.StateOpen:
		return 2
	default:
		return -1
	}
}
