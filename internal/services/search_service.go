package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/internal/config"
	"github.com/temcen/searchrank/internal/ml"
	"github.com/temcen/searchrank/internal/store"
	"github.com/temcen/searchrank/pkg/models"
)

var ErrProductNotFound = errors.New("product not found")

// ProductReader hydrates ranked ids into catalog records.
type ProductReader interface {
	GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error)
	ProductEmbedding(ctx context.Context, id uuid.UUID) ([]float32, error)
}

// SearchService runs a query through semantic retrieval, behavior-aware
// ranking and impression feedback.
type SearchService struct {
	embedder     ml.EmbeddingService
	vectors      store.VectorSearcher
	products     ProductReader
	ranking      *RankingEngine
	learning     *LearningEngine
	explanations *ExplanationService
	cfg          config.RankingConfig
	boosted      []uuid.UUID
	penalized    []uuid.UUID
	logger       *logrus.Logger
	metrics      *Metrics
}

func NewSearchService(
	embedder ml.EmbeddingService,
	vectors store.VectorSearcher,
	products ProductReader,
	ranking *RankingEngine,
	learning *LearningEngine,
	explanations *ExplanationService,
	cfg config.RankingConfig,
	logger *logrus.Logger,
	metrics *Metrics,
) *SearchService {
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = 2
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 10
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = 100
	}

	return &SearchService{
		embedder:     embedder,
		vectors:      vectors,
		products:     products,
		ranking:      ranking,
		learning:     learning,
		explanations: explanations,
		cfg:          cfg,
		boosted:      parseProductIDs(cfg.BoostedProducts, logger),
		penalized:    parseProductIDs(cfg.PenalizedProducts, logger),
		logger:       logger,
		metrics:      metrics,
	}
}

func parseProductIDs(raw []string, logger *logrus.Logger) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			logger.WithField("product_id", s).Warn("Ignoring invalid product id in ranking config")
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (s *SearchService) normalizeTopK(topK int) int {
	if topK <= 0 {
		return s.cfg.DefaultTopK
	}
	if topK > s.cfg.MaxTopK {
		return s.cfg.MaxTopK
	}
	return topK
}

// SearchByEmbedding over-fetches candidates, ranks them, cuts to topK after
// ranking and records one impression for each returned product.
func (s *SearchService) SearchByEmbedding(ctx context.Context, embedding []float32, filters models.SearchFilters, topK int) ([]models.RankedProduct, error) {
	topK = s.normalizeTopK(topK)

	candidates, err := s.vectors.SearchSimilar(ctx, embedding, topK*s.cfg.CandidateMultiplier, filters, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(candidates) == 0 {
		return []models.RankedProduct{}, nil
	}

	ranked, err := s.ranking.Rank(ctx, candidates)
	if err != nil {
		return nil, err
	}
	if len(s.boosted) > 0 {
		ranked = ApplyBoost(ranked, s.boosted, s.cfg.BoostFactor)
	}
	if len(s.penalized) > 0 {
		ranked = ApplyPenalty(ranked, s.penalized, s.cfg.PenaltyFactor)
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	ids := make([]uuid.UUID, len(ranked))
	for i, r := range ranked {
		ids[i] = r.ProductID
	}
	if err := s.learning.RecordImpressions(ctx, ids); err != nil {
		s.logger.WithError(err).Warn("Failed to record some impressions")
	}

	return ranked, nil
}

// Search is the full text search with optional query expansion and
// explanations. Both default to on.
func (s *SearchService) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()
	resp, err := s.search(ctx, req, start)
	s.metrics.ObserveSearch(time.Since(start), err)
	return resp, err
}

func (s *SearchService) search(ctx context.Context, req *models.SearchRequest, start time.Time) (*models.SearchResponse, error) {
	filters := req.Filters.Normalize()
	expand := req.EnableQueryExpansion == nil || *req.EnableQueryExpansion
	explain := req.EnableExplanations == nil || *req.EnableExplanations

	searchText := req.Query
	var expanded string
	if expand && s.explanations != nil && s.explanations.Available() {
		expanded = s.explanations.ExpandQuery(ctx, req.Query)
		searchText = expanded
	}

	embedding, err := s.embedder.Embed(ctx, searchText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	ranked, err := s.SearchByEmbedding(ctx, embedding, filters, req.TopK)
	if err != nil {
		return nil, err
	}

	results, err := s.hydrate(ctx, ranked)
	if err != nil {
		return nil, err
	}
	if explain && s.explanations != nil {
		s.explanations.ExplainAll(ctx, req.Query, results)
	}

	resp := &models.SearchResponse{
		Query:          req.Query,
		ExpandedQuery:  expanded,
		TotalResults:   len(results),
		Results:        results,
		SearchTimeMs:   float64(time.Since(start).Microseconds()) / 1000.0,
		FiltersApplied: filters.Applied(),
	}

	s.logger.WithFields(logrus.Fields{
		"query":          req.Query,
		"results":        resp.TotalResults,
		"search_time_ms": resp.SearchTimeMs,
	}).Debug("Search completed")

	return resp, nil
}

// QuickSearch skips query expansion and explanations.
func (s *SearchService) QuickSearch(ctx context.Context, query string, topK int, filters models.SearchFilters) (*models.SearchResponse, error) {
	off := false
	return s.Search(ctx, &models.SearchRequest{
		Query:                query,
		Filters:              filters,
		TopK:                 topK,
		EnableQueryExpansion: &off,
		EnableExplanations:   &off,
	})
}

// SimilarProducts finds the nearest neighbours of a stored product by
// embedding, excluding the product itself.
func (s *SearchService) SimilarProducts(ctx context.Context, productID uuid.UUID, topK int) ([]models.SimilarProduct, error) {
	embedding, err := s.products.ProductEmbedding(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	candidates, err := s.vectors.SearchSimilar(ctx, embedding, s.normalizeTopK(topK), models.SearchFilters{}, &productID)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	ids := make([]uuid.UUID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ProductID
	}
	products, err := s.products.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	similar := make([]models.SimilarProduct, 0, len(candidates))
	for _, c := range candidates {
		if p, ok := products[c.ProductID]; ok {
			similar = append(similar, models.SimilarProduct{Product: p, SimilarityScore: c.SemanticScore})
		}
	}
	return similar, nil
}

// hydrate keeps ranking order and drops ids whose product has since vanished.
func (s *SearchService) hydrate(ctx context.Context, ranked []models.RankedProduct) ([]models.SearchResult, error) {
	results := make([]models.SearchResult, 0, len(ranked))
	if len(ranked) == 0 {
		return results, nil
	}

	ids := make([]uuid.UUID, len(ranked))
	for i, r := range ranked {
		ids[i] = r.ProductID
	}
	products, err := s.products.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	for _, r := range ranked {
		p, ok := products[r.ProductID]
		if !ok {
			continue
		}
		results = append(results, models.SearchResult{
			Product:       p,
			SemanticScore: r.SemanticScore,
			BehaviorScore: r.BehaviorScore,
			FinalScore:    r.FinalScore,
		})
	}
	return results, nil
}
