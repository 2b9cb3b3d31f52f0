package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/searchrank/internal/store"
	"github.com/temcen/searchrank/pkg/models"
)

const (
	summaryTopProducts = 10
	summaryTopQueries  = 10
)

// AnalyticsReader is the read side the analytics endpoints use.
type AnalyticsReader interface {
	store.AnalyticsStore
	RecentEvents(ctx context.Context, limit int, eventType *models.EventType) ([]models.Event, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

type AnalyticsService struct {
	store    AnalyticsReader
	learning *LearningEngine
	logger   *logrus.Logger
}

func NewAnalyticsService(st AnalyticsReader, learning *LearningEngine, logger *logrus.Logger) *AnalyticsService {
	return &AnalyticsService{store: st, learning: learning, logger: logger}
}

// Summary gathers the dashboard counters concurrently.
func (s *AnalyticsService) Summary(ctx context.Context) (*models.AnalyticsSummary, error) {
	summary := &models.AnalyticsSummary{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := s.store.CountProducts(gctx)
		summary.TotalProducts = n
		return err
	})
	g.Go(func() error {
		n, err := s.store.CountEvents(gctx)
		summary.TotalEvents = n
		return err
	})
	g.Go(func() error {
		counts, err := s.store.EventCountsByType(gctx)
		summary.EventCounts = counts
		return err
	})
	g.Go(func() error {
		top, err := s.learning.TopProducts(gctx, summaryTopProducts)
		summary.TopProducts = top
		return err
	})
	g.Go(func() error {
		queries, err := s.store.TopQueries(gctx, summaryTopQueries)
		summary.TopQueries = queries
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to build analytics summary: %w", err)
	}
	if summary.TopQueries == nil {
		summary.TopQueries = []models.QueryCount{}
	}
	return summary, nil
}

func (s *AnalyticsService) TopProducts(ctx context.Context, limit int) ([]models.TopProduct, error) {
	return s.learning.TopProducts(ctx, limit)
}

func (s *AnalyticsService) RecentEvents(ctx context.Context, limit int, eventType *models.EventType) ([]models.Event, error) {
	events, err := s.store.RecentEvents(ctx, limit, eventType)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.Event{}
	}
	return events, nil
}

// ProductBehavior returns the product together with its score. A product that
// has never been shown gets a zero score.
func (s *AnalyticsService) ProductBehavior(ctx context.Context, productID uuid.UUID) (*models.ProductBehavior, error) {
	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	score, err := s.learning.BehaviorScore(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &models.ProductBehavior{Product: product, Behavior: score}, nil
}

func (s *AnalyticsService) RecalculateScores(ctx context.Context) (*models.ReconcileResult, error) {
	return s.learning.ReconcileAll(ctx)
}
