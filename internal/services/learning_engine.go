package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/internal/config"
	"github.com/temcen/searchrank/internal/store"
	"github.com/temcen/searchrank/pkg/models"
)

// Behavior score weights.
const (
	clickRateWeight       = 0.3
	cartRateWeight        = 0.3
	conversionRateWeight  = 0.3
	normalizedDwellWeight = 0.1
	bouncePenaltyWeight   = 0.2
)

// LearningStore is what the learning engine needs from persistence.
type LearningStore interface {
	store.ScoreStore
	ListProductIDs(ctx context.Context) ([]uuid.UUID, error)
}

// LearningEngine turns interaction events and impressions into per-product
// behavior scores.
type LearningEngine struct {
	store   LearningStore
	cfg     config.LearningConfig
	logger  *logrus.Logger
	metrics *Metrics
}

func NewLearningEngine(st LearningStore, cfg config.LearningConfig, logger *logrus.Logger, metrics *Metrics) *LearningEngine {
	if cfg.BounceThreshold <= 0 {
		cfg.BounceThreshold = 5.0
	}
	if cfg.DwellNormalization <= 0 {
		cfg.DwellNormalization = 60.0
	}
	return &LearningEngine{
		store:   st,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// ApplyEvent folds one event into the counters and recomputes the rates.
func (e *LearningEngine) ApplyEvent(score *models.BehaviorScore, event *models.Event) {
	switch event.Type {
	case models.EventClick:
		score.ClickCount++
	case models.EventAddToCart:
		score.CartCount++
	case models.EventPurchase:
		score.PurchaseCount++
	case models.EventDwellTime:
		if event.DwellTimeSeconds != nil {
			dwell := *event.DwellTimeSeconds
			score.TotalDwellTime += dwell
			score.DwellEventCount++
			if dwell < e.cfg.BounceThreshold {
				score.BounceCount++
			}
		}
	case models.EventSearch:
		// impressions are recorded by the search path
	}
	e.UpdateRates(score)
}

// UpdateRates recomputes the derived fields. A rate whose denominator is zero
// keeps its previous value. Rates are clamped to [0,1]: clicks and carts can
// arrive without a matching impression or click.
func (e *LearningEngine) UpdateRates(score *models.BehaviorScore) {
	if score.ImpressionCount > 0 {
		score.ClickRate = clamp01(float64(score.ClickCount) / float64(score.ImpressionCount))
	}
	if score.ClickCount > 0 {
		score.CartRate = clamp01(float64(score.CartCount) / float64(score.ClickCount))
		score.ConversionRate = clamp01(float64(score.PurchaseCount) / float64(score.ClickCount))
		score.AvgDwellTime = score.TotalDwellTime / float64(score.ClickCount)
	}
	if score.DwellEventCount > 0 {
		score.BounceRate = clamp01(float64(score.BounceCount) / float64(score.DwellEventCount))
	}

	normalizedDwell := math.Min(score.AvgDwellTime/e.cfg.DwellNormalization, 1.0)

	raw := score.ClickRate*clickRateWeight +
		score.CartRate*cartRateWeight +
		score.ConversionRate*conversionRateWeight +
		normalizedDwell*normalizedDwellWeight -
		score.BounceRate*bouncePenaltyWeight

	score.Score = clamp01(raw)
}

func (e *LearningEngine) RecordImpression(score *models.BehaviorScore) {
	score.ImpressionCount++
	e.UpdateRates(score)
}

// RecordImpressions counts one impression for each product, each through
// the atomic score update.
func (e *LearningEngine) RecordImpressions(ctx context.Context, productIDs []uuid.UUID) error {
	var errs []error
	for _, id := range productIDs {
		_, err := e.store.UpdateScore(ctx, id, func(score *models.BehaviorScore) error {
			e.RecordImpression(score)
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("product %s: %w", id, err))
			continue
		}
		e.metrics.ObserveImpression()
	}
	return errors.Join(errs...)
}

// Mutator adapts ApplyEvent to the store's update primitive.
func (e *LearningEngine) Mutator(event *models.Event) store.ScoreMutator {
	return func(score *models.BehaviorScore) error {
		e.ApplyEvent(score, event)
		return nil
	}
}

// ReconcileAll rebuilds every product's counters from the event log. The
// first failure aborts the pass; products already reconciled keep their
// new values. Impression counts are kept since impressions are not logged
// as events.
func (e *LearningEngine) ReconcileAll(ctx context.Context) (*models.ReconcileResult, error) {
	start := time.Now()

	ids, err := e.store.ListProductIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	result := &models.ReconcileResult{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := e.store.ReconcileScore(ctx, id, e.cfg.BounceThreshold, e.reconcile); err != nil {
			e.logger.WithError(err).WithField("product_id", id).Error("Reconciliation aborted")
			return result, fmt.Errorf("failed to reconcile product %s: %w", id, err)
		}
		result.ProductsReconciled++
	}

	elapsed := time.Since(start)
	result.DurationMs = float64(elapsed.Microseconds()) / 1000.0
	e.metrics.ObserveReconciliation(elapsed)

	e.logger.WithFields(logrus.Fields{
		"products":    result.ProductsReconciled,
		"duration_ms": result.DurationMs,
	}).Info("Recalculated behavior scores")

	return result, nil
}

func (e *LearningEngine) reconcile(score *models.BehaviorScore, agg models.EventAggregate) error {
	score.ClickCount = agg.ClickCount
	score.CartCount = agg.CartCount
	score.PurchaseCount = agg.PurchaseCount
	score.TotalDwellTime = agg.TotalDwellTime
	score.DwellEventCount = agg.DwellEventCount
	score.BounceCount = agg.BounceCount

	score.ClickRate = 0
	score.CartRate = 0
	score.ConversionRate = 0
	score.AvgDwellTime = 0
	score.BounceRate = 0
	e.UpdateRates(score)
	return nil
}

// BehaviorScore returns the stored record, or a zero record for a product
// that has not been seen yet.
func (e *LearningEngine) BehaviorScore(ctx context.Context, productID uuid.UUID) (*models.BehaviorScore, error) {
	score, err := e.store.GetScore(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return &models.BehaviorScore{ProductID: productID}, nil
	}
	if err != nil {
		return nil, err
	}
	return score, nil
}

func (e *LearningEngine) TopProducts(ctx context.Context, limit int) ([]models.TopProduct, error) {
	top, err := e.store.TopProducts(ctx, limit)
	if err != nil {
		return nil, err
	}
	if top == nil {
		top = []models.TopProduct{}
	}
	return top, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
