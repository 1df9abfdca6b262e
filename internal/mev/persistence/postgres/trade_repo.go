package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/mevengine/internal/mev/models"
	"github.com/sawpanic/mevengine/internal/mev/persistence"
)

// tradeRepo implements persistence.TradeRepo for PostgreSQL.
type tradeRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTradeRepo constructs a PostgreSQL-backed TradeRepo.
func NewTradeRepo(db *sqlx.DB, timeout time.Duration) persistence.TradeRepo {
	return &tradeRepo{db: db, timeout: timeout}
}

func (r *tradeRepo) Create(ctx context.Context, trade models.Trade) (models.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out models.Trade
	query := `
		INSERT INTO arb_trades (
			edge_id, strategy_id, token_mint, bundle_id, signature,
			sol_delta_lamports, gas_lamports, settlement_source, executed_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING *`

	err := r.db.GetContext(ctx, &out, query,
		trade.EdgeID, trade.StrategyID, trade.TokenMint, trade.BundleID, trade.Signature,
		trade.SolDeltaLamports, trade.GasLamports, trade.SettlementSource, trade.ExecutedAt)
	if err != nil {
		return models.Trade{}, fmt.Errorf("persistence: create trade: %w", err)
	}
	return out, nil
}

func (r *tradeRepo) ListByEdge(ctx context.Context, edgeID uuid.UUID) ([]models.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var trades []models.Trade
	err := r.db.SelectContext(ctx, &trades, `SELECT * FROM arb_trades WHERE edge_id = $1 ORDER BY created_at DESC`, edgeID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list trades by edge: %w", err)
	}
	return trades, nil
}

func (r *tradeRepo) Window(ctx context.Context, tr persistence.TimeRange, limit int) ([]models.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var trades []models.Trade
	query := `
		SELECT * FROM arb_trades
		WHERE executed_at >= $1 AND executed_at <= $2
		ORDER BY executed_at DESC
		LIMIT $3`
	if err := r.db.SelectContext(ctx, &trades, query, tr.From, tr.To, limit); err != nil {
		return nil, fmt.Errorf("persistence: trades window: %w", err)
	}
	return trades, nil
}

func (r *tradeRepo) SumProfitByStrategy(ctx context.Context, tr persistence.TimeRange) (map[uuid.UUID]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []struct {
		StrategyID uuid.UUID `db:"strategy_id"`
		Total      int64     `db:"total"`
	}
	query := `
		SELECT strategy_id, COALESCE(SUM(sol_delta_lamports), 0) as total
		FROM arb_trades
		WHERE strategy_id IS NOT NULL AND executed_at >= $1 AND executed_at <= $2
		GROUP BY strategy_id`
	if err := r.db.SelectContext(ctx, &rows, query, tr.From, tr.To); err != nil {
		return nil, fmt.Errorf("persistence: sum profit by strategy: %w", err)
	}

	out := make(map[uuid.UUID]int64, len(rows))
	for _, row := range rows {
		out[row.StrategyID] = row.Total
	}
	return out, nil
}
