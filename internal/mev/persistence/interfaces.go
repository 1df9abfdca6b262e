// Package persistence defines the repository interfaces the engine uses
// to durably store edges, strategies, and executed trades; concrete
// implementations live in the postgres subpackage.
package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/mevengine/internal/mev/models"
)

// TimeRange bounds a query window.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// StatusCount is one bucket of EdgeRepo.CountByStatus's result.
type StatusCount struct {
	Status models.EdgeStatus
	Count  int64
}

// EdgeRepo persists the edge lifecycle (spec invariant 1's DAG).
type EdgeRepo interface {
	Create(ctx context.Context, edge models.Edge) (models.Edge, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Edge, error)
	Update(ctx context.Context, id uuid.UUID, edge models.Edge) (models.Edge, error)
	List(ctx context.Context, status *models.EdgeStatus, kind *string, limit, offset int) ([]models.Edge, error)
	ListPendingApproval(ctx context.Context, limit int) ([]models.Edge, error)
	ListAtomicOpportunities(ctx context.Context, minProfitLamports int64, limit int) ([]models.Edge, error)
	MarkExpired(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context, since time.Duration) ([]StatusCount, error)
}

// StrategyRepo persists registered strategies and their tunable parameters.
type StrategyRepo interface {
	Upsert(ctx context.Context, strategy models.Strategy) (models.Strategy, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Strategy, error)
	List(ctx context.Context, enabledOnly bool) ([]models.Strategy, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// TradeRepo persists the settled outcome of an executed edge.
type TradeRepo interface {
	Create(ctx context.Context, trade models.Trade) (models.Trade, error)
	ListByEdge(ctx context.Context, edgeID uuid.UUID) ([]models.Trade, error)
	Window(ctx context.Context, tr TimeRange, limit int) ([]models.Trade, error)
	SumProfitByStrategy(ctx context.Context, tr TimeRange) (map[uuid.UUID]int64, error)
}
