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

type strategyRow struct {
	ID               uuid.UUID `db:"id"`
	OwnerID          string    `db:"owner_id"`
	Name             string    `db:"name"`
	Kind             string    `db:"kind"`
	VenueKinds       []byte    `db:"venue_kinds"`
	ExecutionMode    string    `db:"execution_mode"`
	RiskParams       []byte    `db:"risk_params"`
	Active           bool      `db:"active"`
	MaxAllocationPct float64   `db:"max_allocation_pct"`
	MaxPositions     int       `db:"max_positions"`
}

func (r strategyRow) toModel() (models.Strategy, error) {
	s := models.Strategy{
		ID:               r.ID,
		OwnerID:          r.OwnerID,
		Name:             r.Name,
		Kind:             r.Kind,
		ExecutionMode:    models.ExecutionMode(r.ExecutionMode),
		Active:           r.Active,
		MaxAllocationPct: r.MaxAllocationPct,
		MaxPositions:     r.MaxPositions,
	}
	if len(r.VenueKinds) > 0 {
		if err := json.Unmarshal(r.VenueKinds, &s.VenueKinds); err != nil {
			return models.Strategy{}, fmt.Errorf("persistence: unmarshal venue_kinds: %w", err)
		}
	}
	if len(r.RiskParams) > 0 {
		if err := json.Unmarshal(r.RiskParams, &s.RiskParams); err != nil {
			return models.Strategy{}, fmt.Errorf("persistence: unmarshal risk_params: %w", err)
		}
	}
	return s, nil
}

// strategyRepo implements persistence.StrategyRepo for PostgreSQL.
type strategyRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStrategyRepo constructs a PostgreSQL-backed StrategyRepo.
func NewStrategyRepo(db *sqlx.DB, timeout time.Duration) persistence.StrategyRepo {
	return &strategyRepo{db: db, timeout: timeout}
}

func (r *strategyRepo) Upsert(ctx context.Context, strategy models.Strategy) (models.Strategy, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	venueKindsJSON, err := json.Marshal(strategy.VenueKinds)
	if err != nil {
		return models.Strategy{}, fmt.Errorf("persistence: marshal venue_kinds: %w", err)
	}
	riskParamsJSON, err := json.Marshal(strategy.RiskParams)
	if err != nil {
		return models.Strategy{}, fmt.Errorf("persistence: marshal risk_params: %w", err)
	}

	if strategy.ID == uuid.Nil {
		strategy.ID = uuid.New()
	}

	var row strategyRow
	query := `
		INSERT INTO arb_strategies (
			id, owner_id, name, kind, venue_kinds, execution_mode,
			risk_params, active, max_allocation_pct, max_positions
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			venue_kinds = EXCLUDED.venue_kinds,
			execution_mode = EXCLUDED.execution_mode,
			risk_params = EXCLUDED.risk_params,
			active = EXCLUDED.active,
			max_allocation_pct = EXCLUDED.max_allocation_pct,
			max_positions = EXCLUDED.max_positions
		RETURNING *`

	err = r.db.GetContext(ctx, &row, query,
		strategy.ID, strategy.OwnerID, strategy.Name, strategy.Kind, venueKindsJSON,
		strategy.ExecutionMode, riskParamsJSON, strategy.Active, strategy.MaxAllocationPct, strategy.MaxPositions)
	if err != nil {
		return models.Strategy{}, fmt.Errorf("persistence: upsert strategy: %w", err)
	}
	return row.toModel()
}

func (r *strategyRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Strategy, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row strategyRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM arb_strategies WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: get strategy by id: %w", err)
	}
	s, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *strategyRepo) List(ctx context.Context, enabledOnly bool) ([]models.Strategy, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT * FROM arb_strategies`
	if enabledOnly {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY name ASC`

	var rows []strategyRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("persistence: list strategies: %w", err)
	}

	out := make([]models.Strategy, 0, len(rows))
	for _, row := range rows {
		s, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *strategyRepo) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `DELETE FROM arb_strategies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("persistence: delete strategy: %w", err)
	}
	return nil
}
