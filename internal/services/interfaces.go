package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/temcen/searchrank/pkg/models"
)

// The handler layer depends on these rather than the concrete services.

type EventServiceInterface interface {
	Submit(req *models.EventRequest) (*models.Event, error)
	Stats() models.ProcessorStats
}

type SearchServiceInterface interface {
	Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error)
	QuickSearch(ctx context.Context, query string, topK int, filters models.SearchFilters) (*models.SearchResponse, error)
	SimilarProducts(ctx context.Context, productID uuid.UUID, topK int) ([]models.SimilarProduct, error)
}

type AnalyticsServiceInterface interface {
	Summary(ctx context.Context) (*models.AnalyticsSummary, error)
	TopProducts(ctx context.Context, limit int) ([]models.TopProduct, error)
	RecentEvents(ctx context.Context, limit int, eventType *models.EventType) ([]models.Event, error)
	ProductBehavior(ctx context.Context, productID uuid.UUID) (*models.ProductBehavior, error)
	RecalculateScores(ctx context.Context) (*models.ReconcileResult, error)
}

type ProductServiceInterface interface {
	Create(ctx context.Context, req models.ProductRequest) (*models.Product, error)
	CreateBatch(ctx context.Context, reqs []models.ProductRequest) ([]*models.Product, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Product, error)
	List(ctx context.Context, offset, limit int) ([]*models.Product, error)
	Count(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type RelatedProductsInterface interface {
	Enabled() bool
	RelatedProducts(ctx context.Context, productID uuid.UUID, limit int) ([]models.RelatedProduct, error)
}

type HealthServiceInterface interface {
	CheckHealth(ctx context.Context) *HealthStatus
}

var (
	_ EventServiceInterface     = (*EventProcessor)(nil)
	_ SearchServiceInterface    = (*SearchService)(nil)
	_ AnalyticsServiceInterface = (*AnalyticsService)(nil)
	_ ProductServiceInterface   = (*ProductService)(nil)
	_ RelatedProductsInterface  = (*EngagementGraph)(nil)
	_ HealthServiceInterface    = (*HealthService)(nil)
	_ EventObserver             = (*EngagementGraph)(nil)
)
