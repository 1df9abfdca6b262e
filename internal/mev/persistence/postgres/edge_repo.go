package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/mevengine/internal/mev/models"
	"github.com/sawpanic/mevengine/internal/mev/persistence"
)

// edgeRow is the wire shape arb_edges rows are scanned into; route_data
// travels as raw JSON since its shape varies by edge kind. An edge's
// SignalData is not stored.
type edgeRow struct {
	ID                        uuid.UUID  `db:"id"`
	StrategyID                *uuid.UUID `db:"strategy_id"`
	Kind                      string     `db:"edge_type"`
	ExecutionMode             string     `db:"execution_mode"`
	Atomicity                 string     `db:"atomicity"`
	SimulatedProfitGuaranteed bool       `db:"simulated_profit_guaranteed"`
	EstimatedProfitLamports   int64      `db:"estimated_profit_lamports"`
	EstimatedProfitBps        float64    `db:"estimated_profit_bps"`
	RiskScore                 float64    `db:"risk_score"`
	RouteData                 []byte     `db:"route_data"`
	Status                    string     `db:"status"`
	TokenMint                 string     `db:"token_mint"`
	RejectionReason           string     `db:"rejection_reason"`
	CreatedAt                 time.Time  `db:"created_at"`
	ExpiresAt                 *time.Time `db:"expires_at"`
	ActualProfitLamports      int64      `db:"actual_profit_lamports"`
	ActualGasLamports         int64      `db:"actual_gas_lamports"`
	SimulationTxHash          string     `db:"simulation_tx_hash"`
	MaxGasCostLamports        int64      `db:"max_gas_cost_lamports"`
}

func (r edgeRow) toModel() (models.Edge, error) {
	edge := models.Edge{
		ID:                        r.ID,
		StrategyID:                r.StrategyID,
		Kind:                      r.Kind,
		ExecutionMode:             models.ExecutionMode(r.ExecutionMode),
		Atomicity:                 models.Atomicity(r.Atomicity),
		SimulatedProfitGuaranteed: r.SimulatedProfitGuaranteed,
		EstimatedProfitLamports:   r.EstimatedProfitLamports,
		EstimatedProfitBps:        r.EstimatedProfitBps,
		RiskScore:                 r.RiskScore,
		Status:                    models.EdgeStatus(r.Status),
		TokenMint:                 r.TokenMint,
		RejectionReason:           r.RejectionReason,
		CreatedAt:                 r.CreatedAt,
		ActualProfitLamports:      r.ActualProfitLamports,
		ActualGasLamports:         r.ActualGasLamports,
		SimulationTxHash:          r.SimulationTxHash,
		MaxGasCostLamports:        r.MaxGasCostLamports,
	}
	if r.ExpiresAt != nil {
		edge.ExpiresAt = *r.ExpiresAt
	}
	if len(r.RouteData) > 0 {
		if err := json.Unmarshal(r.RouteData, &edge.RouteData); err != nil {
			return models.Edge{}, fmt.Errorf("persistence: unmarshal route_data: %w", err)
		}
	}
	return edge, nil
}

// edgeRepo implements persistence.EdgeRepo for PostgreSQL.
type edgeRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewEdgeRepo constructs a PostgreSQL-backed EdgeRepo.
func NewEdgeRepo(db *sqlx.DB, timeout time.Duration) persistence.EdgeRepo {
	return &edgeRepo{db: db, timeout: timeout}
}

func (r *edgeRepo) Create(ctx context.Context, edge models.Edge) (models.Edge, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	routeJSON, err := json.Marshal(edge.RouteData)
	if err != nil {
		return models.Edge{}, fmt.Errorf("persistence: marshal route_data: %w", err)
	}

	var row edgeRow
	query := `
		INSERT INTO arb_edges (
			strategy_id, edge_type, execution_mode, atomicity,
			simulated_profit_guaranteed, estimated_profit_lamports, estimated_profit_bps,
			risk_score, route_data, status, token_mint, expires_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'detected', $10, $11, NOW())
		RETURNING id, strategy_id, edge_type, execution_mode, atomicity,
			simulated_profit_guaranteed, estimated_profit_lamports, estimated_profit_bps,
			risk_score, route_data, status, token_mint, rejection_reason, created_at,
			expires_at, actual_profit_lamports, actual_gas_lamports, simulation_tx_hash,
			max_gas_cost_lamports`

	err = r.db.GetContext(ctx, &row, query,
		edge.StrategyID, edge.Kind, edge.ExecutionMode, edge.Atomicity,
		edge.SimulatedProfitGuaranteed, edge.EstimatedProfitLamports, edge.EstimatedProfitBps,
		edge.RiskScore, routeJSON, edge.TokenMint, nullableTime(edge.ExpiresAt))
	if err != nil {
		return models.Edge{}, fmt.Errorf("persistence: create edge: %w", err)
	}
	return row.toModel()
}

func (r *edgeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Edge, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row edgeRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM arb_edges WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: get edge by id: %w", err)
	}
	edge, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &edge, nil
}

// Update applies edge's mutable fields (status, rejection reason,
// settlement bookkeeping) to the stored row; unset (zero) fields are left
// unchanged via COALESCE, matching the original's partial-update semantics.
func (r *edgeRepo) Update(ctx context.Context, id uuid.UUID, edge models.Edge) (models.Edge, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var executedAt *time.Time
	if edge.Status == models.EdgeExecuted {
		now := time.Now()
		executedAt = &now
	}

	var row edgeRow
	query := `
		UPDATE arb_edges SET
			status = $2,
			rejection_reason = COALESCE(NULLIF($3, ''), rejection_reason),
			executed_at = COALESCE($4, executed_at),
			actual_profit_lamports = COALESCE(NULLIF($5, 0), actual_profit_lamports),
			actual_gas_lamports = COALESCE(NULLIF($6, 0), actual_gas_lamports),
			simulation_tx_hash = COALESCE(NULLIF($7, ''), simulation_tx_hash),
			max_gas_cost_lamports = COALESCE(NULLIF($8, 0), max_gas_cost_lamports)
		WHERE id = $1
		RETURNING *`

	err := r.db.GetContext(ctx, &row, query,
		id, edge.Status, edge.RejectionReason, executedAt,
		edge.ActualProfitLamports, edge.ActualGasLamports, edge.SimulationTxHash, edge.MaxGasCostLamports)
	if err != nil {
		return models.Edge{}, fmt.Errorf("persistence: update edge: %w", err)
	}
	return row.toModel()
}

func (r *edgeRepo) List(ctx context.Context, status *models.EdgeStatus, kind *string, limit, offset int) ([]models.Edge, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := "SELECT * FROM arb_edges WHERE 1=1"
	var args []any
	argIdx := 1

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *status)
		argIdx++
	}
	if kind != nil {
		query += fmt.Sprintf(" AND edge_type = $%d", argIdx)
		args = append(args, *kind)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, offset)

	var rows []edgeRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("persistence: list edges: %w", err)
	}
	return toEdgeModels(rows)
}

func (r *edgeRepo) ListPendingApproval(ctx context.Context, limit int) ([]models.Edge, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []edgeRow
	query := `SELECT * FROM arb_edges WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	if err := r.db.SelectContext(ctx, &rows, query, models.EdgePendingApproval, limit); err != nil {
		return nil, fmt.Errorf("persistence: list pending-approval edges: %w", err)
	}
	return toEdgeModels(rows)
}

func (r *edgeRepo) ListAtomicOpportunities(ctx context.Context, minProfitLamports int64, limit int) ([]models.Edge, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []edgeRow
	query := `
		SELECT * FROM arb_edges
		WHERE atomicity = $1
		  AND simulated_profit_guaranteed = true
		  AND status = $2
		  AND estimated_profit_lamports >= $3
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY estimated_profit_lamports DESC
		LIMIT $4`
	if err := r.db.SelectContext(ctx, &rows, query, models.FullyAtomic, models.EdgeDetected, minProfitLamports, limit); err != nil {
		return nil, fmt.Errorf("persistence: list atomic opportunities: %w", err)
	}
	return toEdgeModels(rows)
}

func (r *edgeRepo) MarkExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `
		UPDATE arb_edges
		SET status = $1
		WHERE status IN ($2, $3) AND expires_at < NOW()`,
		models.EdgeExpired, models.EdgeDetected, models.EdgePendingApproval)
	if err != nil {
		return 0, fmt.Errorf("persistence: mark expired edges: %w", err)
	}
	return result.RowsAffected()
}

func (r *edgeRepo) CountByStatus(ctx context.Context, since time.Duration) ([]persistence.StatusCount, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []struct {
		Status string `db:"status"`
		Count  int64  `db:"count"`
	}
	query := `
		SELECT status, COUNT(*) as count
		FROM arb_edges
		WHERE created_at > NOW() - ($1 * INTERVAL '1 second')
		GROUP BY status`
	if err := r.db.SelectContext(ctx, &rows, query, since.Seconds()); err != nil {
		return nil, fmt.Errorf("persistence: count edges by status: %w", err)
	}

	out := make([]persistence.StatusCount, 0, len(rows))
	for _, row := range rows {
		out = append(out, persistence.StatusCount{Status: models.EdgeStatus(row.Status), Count: row.Count})
	}
	return out, nil
}

func toEdgeModels(rows []edgeRow) ([]models.Edge, error) {
	out := make([]models.Edge, 0, len(rows))
	for _, row := range rows {
		edge, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, edge)
	}
	return out, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
