// Package httpapi implements the thin operator-facing HTTP/JSON boundary:
// risk-level config, swarm pause/resume, approval decisions, the Helius
// ingestion webhook, and Prometheus metrics exposure. It is a façade over
// the engine package; no domain logic lives here beyond request
// validation and response shaping.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sawpanic/mevengine/internal/mev/engine"
	"github.com/sawpanic/mevengine/internal/mev/metrics"
	"github.com/sawpanic/mevengine/internal/mev/mevconfig"
	"github.com/sawpanic/mevengine/internal/mev/models"
	"github.com/sawpanic/mevengine/internal/mev/risk"
)

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	BindAddr     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns sane listener timeouts; BindAddr is filled
// in by NewServer from the engine's own config.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// exitParams holds the per-position exit-management values a risk-level
// or custom-risk change applies across every active strategy. The risk
// manager itself only tracks the three hard guardrails (position size,
// daily loss, concurrency); these softer, strategy-level knobs live here.
type exitParams struct {
	mu                sync.RWMutex
	level             string
	stopLossPct       float64
	takeProfitPct     float64
	trailingStopPct   float64
	timeLimitMinutes  int
}

func (e *exitParams) snapshot() exitParams {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return exitParams{
		level:            e.level,
		stopLossPct:      e.stopLossPct,
		takeProfitPct:    e.takeProfitPct,
		trailingStopPct:  e.trailingStopPct,
		timeLimitMinutes: e.timeLimitMinutes,
	}
}

// Server is the operator-facing HTTP API wrapping an *engine.Engine.
type Server struct {
	router *mux.Router
	server *http.Server
	eng    *engine.Engine
	log    zerolog.Logger
	config ServerConfig
	exit   *exitParams
}

// NewServer builds the router and every route but does not start listening.
func NewServer(eng *engine.Engine, log zerolog.Logger, config ServerConfig) *Server {
	if config.BindAddr == "" {
		config.BindAddr = eng.BindAddr()
	}

	preset := mevconfig.PresetByLevel(mevconfig.RiskMedium)
	s := &Server{
		router: mux.NewRouter(),
		eng:    eng,
		log:    log,
		config: config,
		exit: &exitParams{
			level:            string(mevconfig.RiskMedium),
			stopLossPct:      preset.StopLossPct,
			takeProfitPct:    preset.TakeProfitPct,
			trailingStopPct:  preset.TrailingStopPct,
			timeLimitMinutes: preset.TimeLimitMinutes,
		},
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         config.BindAddr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.timeoutMiddleware)

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)

	api.HandleFunc("/health", s.health).Methods("GET")
	api.HandleFunc("/metrics", s.metricsHandler).Methods("GET")

	api.HandleFunc("/config/risk", s.setRiskLevel).Methods("POST")
	api.HandleFunc("/config/risk", s.getRiskLevel).Methods("GET")
	api.HandleFunc("/config/risk/custom", s.setCustomRisk).Methods("POST")

	api.HandleFunc("/swarm/pause", s.pauseSwarm).Methods("POST")
	api.HandleFunc("/swarm/resume", s.resumeSwarm).Methods("POST")
	api.HandleFunc("/swarm/status", s.swarmStatus).Methods("GET")

	api.HandleFunc("/approvals/pending", s.listPendingApprovals).Methods("GET")
	api.HandleFunc("/approvals/{id}/approve", s.decideApproval(true)).Methods("POST")
	api.HandleFunc("/approvals/{id}/reject", s.decideApproval(false)).Methods("POST")

	api.HandleFunc("/webhooks/helius", s.heliusWebhook).Methods("POST")

	s.router.NotFoundHandler = http.HandlerFunc(s.notFound)
}

// Start runs the listener; it blocks until Shutdown is called or the
// listener errors.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.config.BindAddr).Msg("starting operator HTTP API")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// --- middleware ---

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type statusCapture struct {
	http.ResponseWriter
	status int
}

func (c *statusCapture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusCapture{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.log.Info().
			Str("request_id", requestID(r)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func requestID(r *http.Request) string {
	if v, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return v
	}
	return "unknown"
}

// --- response helpers ---

// ErrorResponse is the standardized error envelope for every 4xx/5xx.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID(r),
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "endpoint_not_found", "the requested endpoint does not exist")
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	metrics.Handler(s.eng.PromRegistry()).ServeHTTP(w, r)
}

// --- config/risk ---

type setRiskRequest struct {
	Level string `json:"level"`
}

// riskLevelResponse mirrors the original's RiskLevelParams payload shape.
type riskLevelResponse struct {
	Level                  string  `json:"level"`
	MaxPositionSOL         float64 `json:"max_position_sol"`
	MaxConcurrentPositions int     `json:"max_concurrent_positions"`
	DailyLossLimitSOL      float64 `json:"daily_loss_limit_sol"`
	StopLossPct            float64 `json:"stop_loss_pct"`
	TakeProfitPct          float64 `json:"take_profit_pct"`
	TrailingStopPct        float64 `json:"trailing_stop_pct"`
	TimeLimitMinutes       int     `json:"time_limit_minutes"`
}

func (s *Server) setRiskLevel(w http.ResponseWriter, r *http.Request) {
	var req setRiskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "could not decode request body")
		return
	}

	level := mevconfig.RiskLevel(strings.ToLower(req.Level))
	switch level {
	case mevconfig.RiskLow, mevconfig.RiskMedium, mevconfig.RiskHigh, mevconfig.RiskConservative:
	case "aggressive":
		level = mevconfig.RiskHigh
	default:
		writeError(w, r, http.StatusBadRequest, "invalid_level", "level must be one of low, medium, high, aggressive, conservative")
		return
	}
	preset := mevconfig.PresetByLevel(level)

	currentMaxPosition := s.eng.Risk().GetConfig().MaxPositionSOL

	s.eng.Risk().UpdateConfig(func(c *risk.Config) {
		// Preserve the wallet-derived max position size; only the
		// concurrency and loss-limit guardrails come from the preset.
		c.MaxConcurrentPositions = preset.MaxConcurrentPositions
		c.DailyLossLimitSOL = preset.DailyLossLimitSOL
	})

	s.exit.mu.Lock()
	s.exit.level = string(preset.Level)
	s.exit.stopLossPct = preset.StopLossPct
	s.exit.takeProfitPct = preset.TakeProfitPct
	s.exit.trailingStopPct = preset.TrailingStopPct
	s.exit.timeLimitMinutes = preset.TimeLimitMinutes
	s.exit.mu.Unlock()

	synced := s.syncStrategies(r.Context(), currentMaxPosition, preset.MaxConcurrentPositions, preset.DailyLossLimitSOL)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("risk level set to %s - %d strategies synced", preset.Level, synced),
		"params": riskLevelResponse{
			Level:                  string(preset.Level),
			MaxPositionSOL:         currentMaxPosition,
			MaxConcurrentPositions: preset.MaxConcurrentPositions,
			DailyLossLimitSOL:      preset.DailyLossLimitSOL,
			StopLossPct:            preset.StopLossPct,
			TakeProfitPct:          preset.TakeProfitPct,
			TrailingStopPct:        preset.TrailingStopPct,
			TimeLimitMinutes:       preset.TimeLimitMinutes,
		},
	})
}

// syncStrategies overwrites every registered strategy's risk params with
// the newly applied guardrails, preserving the wallet-based position
// size, and persists the change. It logs and continues past per-strategy
// failures rather than aborting the whole sync.
func (s *Server) syncStrategies(ctx context.Context, maxPositionSOL float64, maxConcurrent int, dailyLossLimitSOL float64) int {
	exit := s.exit.snapshot()
	synced := 0
	for _, st := range s.eng.Strategies().Strategies() {
		params := st.RiskParams
		params.MaxPositionSOL = maxPositionSOL
		params.DailyLossLimitSOL = dailyLossLimitSOL
		params.MaxConcurrentPositions = maxConcurrent
		params.StopLossPercent = exit.stopLossPct
		params.TakeProfitPercent = exit.takeProfitPct
		params.TrailingStopPercent = exit.trailingStopPct
		params.TimeLimitMinutes = exit.timeLimitMinutes

		if err := s.eng.Strategies().SetRiskParams(st.ID, params); err != nil {
			s.log.Warn().Err(err).Str("strategy_id", st.ID.String()).Msg("failed to sync strategy risk params in memory")
			continue
		}
		st.RiskParams = params
		if _, err := s.eng.StrategyRepo().Upsert(ctx, st); err != nil {
			s.log.Warn().Err(err).Str("strategy_id", st.ID.String()).Msg("failed to persist synced strategy risk params")
			continue
		}
		synced++
	}
	return synced
}

func (s *Server) getRiskLevel(w http.ResponseWriter, r *http.Request) {
	cfg := s.eng.Risk().GetConfig()
	exit := s.exit.snapshot()

	level := "medium"
	switch {
	case cfg.MaxPositionSOL <= 0.05:
		level = "low"
	case cfg.MaxPositionSOL > 0.5:
		level = "high"
	}

	writeJSON(w, http.StatusOK, riskLevelResponse{
		Level:                  level,
		MaxPositionSOL:         cfg.MaxPositionSOL,
		MaxConcurrentPositions: cfg.MaxConcurrentPositions,
		DailyLossLimitSOL:      cfg.DailyLossLimitSOL,
		StopLossPct:            exit.stopLossPct,
		TakeProfitPct:          exit.takeProfitPct,
		TrailingStopPct:        exit.trailingStopPct,
		TimeLimitMinutes:       exit.timeLimitMinutes,
	})
}

type setCustomRiskRequest struct {
	MaxPositionSOL         *float64 `json:"max_position_sol"`
	MaxConcurrentPositions *int     `json:"max_concurrent_positions"`
	DailyLossLimitSOL      *float64 `json:"daily_loss_limit_sol"`
	MaxDrawdownPercent     *float64 `json:"max_drawdown_percent"`
	TakeProfitPercent      *float64 `json:"take_profit_percent"`
	TrailingStopPercent    *float64 `json:"trailing_stop_percent"`
	TimeLimitMinutes       *int     `json:"time_limit_minutes"`
}

// validateCustomRisk checks every present field against its spec-mandated
// bound, returning the first violation found ("" if none).
func validateCustomRisk(req setCustomRiskRequest) string {
	switch {
	case req.MaxPositionSOL != nil && (*req.MaxPositionSOL < 0.001 || *req.MaxPositionSOL > 10.0):
		return "max_position_sol must be between 0.001 and 10.0 SOL"
	case req.MaxConcurrentPositions != nil && (*req.MaxConcurrentPositions < 1 || *req.MaxConcurrentPositions > 50):
		return "max_concurrent_positions must be between 1 and 50"
	case req.DailyLossLimitSOL != nil && (*req.DailyLossLimitSOL < 0.01 || *req.DailyLossLimitSOL > 100.0):
		return "daily_loss_limit_sol must be between 0.01 and 100.0 SOL"
	case req.MaxDrawdownPercent != nil && (*req.MaxDrawdownPercent < 1 || *req.MaxDrawdownPercent > 100):
		return "max_drawdown_percent must be between 1 and 100"
	case req.TakeProfitPercent != nil && (*req.TakeProfitPercent < 1 || *req.TakeProfitPercent > 200):
		return "take_profit_percent must be between 1 and 200"
	case req.TrailingStopPercent != nil && (*req.TrailingStopPercent < 0 || *req.TrailingStopPercent > 100):
		return "trailing_stop_percent must be between 0 and 100"
	case req.TimeLimitMinutes != nil && (*req.TimeLimitMinutes < 1 || *req.TimeLimitMinutes > 60):
		return "time_limit_minutes must be between 1 and 60"
	default:
		return ""
	}
}

func (s *Server) setCustomRisk(w http.ResponseWriter, r *http.Request) {
	var req setCustomRiskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "could not decode request body")
		return
	}

	if msg := validateCustomRisk(req); msg != "" {
		writeError(w, r, http.StatusBadRequest, "out_of_range", msg)
		return
	}

	s.eng.Risk().UpdateConfig(func(c *risk.Config) {
		if req.MaxPositionSOL != nil {
			c.MaxPositionSOL = *req.MaxPositionSOL
		}
		if req.MaxConcurrentPositions != nil {
			c.MaxConcurrentPositions = *req.MaxConcurrentPositions
		}
		if req.DailyLossLimitSOL != nil {
			c.DailyLossLimitSOL = *req.DailyLossLimitSOL
		}
	})

	s.exit.mu.Lock()
	s.exit.level = string(mevconfig.RiskCustom)
	if req.MaxDrawdownPercent != nil {
		s.exit.stopLossPct = *req.MaxDrawdownPercent
	}
	if req.TakeProfitPercent != nil {
		s.exit.takeProfitPct = *req.TakeProfitPercent
	}
	if req.TrailingStopPercent != nil {
		s.exit.trailingStopPct = *req.TrailingStopPercent
	}
	if req.TimeLimitMinutes != nil {
		s.exit.timeLimitMinutes = *req.TimeLimitMinutes
	}
	s.exit.mu.Unlock()

	cfg := s.eng.Risk().GetConfig()
	exit := s.exit.snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"params": riskLevelResponse{
			Level:                  string(mevconfig.RiskCustom),
			MaxPositionSOL:         cfg.MaxPositionSOL,
			MaxConcurrentPositions: cfg.MaxConcurrentPositions,
			DailyLossLimitSOL:      cfg.DailyLossLimitSOL,
			StopLossPct:            exit.stopLossPct,
			TakeProfitPct:          exit.takeProfitPct,
			TrailingStopPct:        exit.trailingStopPct,
			TimeLimitMinutes:       exit.timeLimitMinutes,
		},
	})
}

// --- swarm ---

func (s *Server) pauseSwarm(w http.ResponseWriter, r *http.Request) {
	s.eng.Overseer().PauseSwarm()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) resumeSwarm(w http.ResponseWriter, r *http.Request) {
	s.eng.Overseer().ResumeSwarm()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) swarmStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Overseer().GetSwarmHealth())
}

// --- approvals ---

func (s *Server) listPendingApprovals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pending": s.eng.Approvals().ListPending()})
}

type approvalDecisionRequest struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

func (s *Server) decideApproval(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idStr := mux.Vars(r)["id"]
		id, err := uuid.Parse(idStr)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
			return
		}

		var req approvalDecisionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		var result *models.PendingApproval
		if approve {
			result, err = s.eng.Approvals().Approve(id, req.Notes)
		} else {
			result, err = s.eng.Approvals().Reject(id, req.Reason)
		}

		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, result)
		case strings.Contains(err.Error(), "not found"):
			writeError(w, r, http.StatusNotFound, "not_found", err.Error())
		default:
			writeError(w, r, http.StatusConflict, "invalid_state", err.Error())
		}
	}
}

// --- webhook ---

// checkBearerToken constant-time compares the presented "Bearer <token>"
// header against configured. An empty configured token always rejects,
// regardless of what's presented (spec invariant: no token means closed).
func checkBearerToken(configured, authHeader string) bool {
	if configured == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return false
	}
	presented := strings.TrimPrefix(authHeader, prefix)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}

func (s *Server) heliusWebhook(w http.ResponseWriter, r *http.Request) {
	if !checkBearerToken(s.eng.WebhookToken(), r.Header.Get("Authorization")) {
		writeError(w, r, http.StatusUnauthorized, "bad_token", "missing, malformed, or mismatched bearer token")
		return
	}

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "could not decode webhook payload")
		return
	}
	s.log.Info().Int("event_count", len(payload)).Msg("received helius webhook")
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
