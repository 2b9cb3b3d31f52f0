package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/temcen/searchrank/pkg/models"
)

var ErrNotFound = errors.New("not found")

// ScoreMutator mutates a locked BehaviorScore. Returning an error aborts the
// unit of work and leaves the stored record untouched.
type ScoreMutator func(score *models.BehaviorScore) error

// ReconcileMutator receives the locked score and the event-log rollup for it.
type ReconcileMutator func(score *models.BehaviorScore, agg models.EventAggregate) error

type EventStore interface {
	// SaveEvent persists the event and, when apply is non-nil and the event
	// references a product, applies it to that product's score in the same
	// transaction.
	SaveEvent(ctx context.Context, event *models.Event, apply ScoreMutator) error
	RecentEvents(ctx context.Context, limit int, eventType *models.EventType) ([]models.Event, error)
}

type ScoreStore interface {
	// UpdateScore is the atomic read-modify-write primitive for a product's
	// score. The record is created with zero counters when missing.
	UpdateScore(ctx context.Context, productID uuid.UUID, fn ScoreMutator) (*models.BehaviorScore, error)
	// ReconcileScore locks the score, aggregates the product's events with
	// the given bounce threshold and hands both to fn.
	ReconcileScore(ctx context.Context, productID uuid.UUID, bounceThreshold float64, fn ReconcileMutator) (*models.BehaviorScore, error)
	GetScore(ctx context.Context, productID uuid.UUID) (*models.BehaviorScore, error)
	GetScores(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]float64, error)
	TopProducts(ctx context.Context, limit int) ([]models.TopProduct, error)
}

type ProductStore interface {
	CreateProduct(ctx context.Context, product *models.Product) error
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	ListProductIDs(ctx context.Context) ([]uuid.UUID, error)
	// ListProducts pages through the catalog oldest first.
	ListProducts(ctx context.Context, offset, limit int) ([]*models.Product, error)
	CountProducts(ctx context.Context) (int64, error)
	ProductEmbedding(ctx context.Context, id uuid.UUID) ([]float32, error)
}

type AnalyticsStore interface {
	CountProducts(ctx context.Context) (int64, error)
	CountEvents(ctx context.Context) (int64, error)
	EventCountsByType(ctx context.Context) (map[models.EventType]int64, error)
	TopQueries(ctx context.Context, limit int) ([]models.QueryCount, error)
}

// VectorSearcher returns candidates ordered by similarity descending.
type VectorSearcher interface {
	SearchSimilar(ctx context.Context, embedding []float32, topK int, filters models.SearchFilters, exclude *uuid.UUID) ([]models.Candidate, error)
}

type Store interface {
	EventStore
	ScoreStore
	ProductStore
	AnalyticsStore
	VectorSearcher
	Ping(ctx context.Context) error
}

// DBTX is the subset of pgxpool.Pool the Postgres store needs. pgxmock pools
// satisfy it as well.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}
