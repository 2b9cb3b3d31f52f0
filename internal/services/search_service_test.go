package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/searchrank/internal/config"
	"github.com/temcen/searchrank/internal/store"
	"github.com/temcen/searchrank/pkg/models"
)

// stubEmbedder maps known texts to fixed vectors.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (e *stubEmbedder) Dimensions() int {
	return 3
}

type searchFixture struct {
	store    *store.MemoryStore
	learning *LearningEngine
	service  *SearchService
	metrics  *Metrics
	ids      map[string]uuid.UUID
}

func newSearchFixture(t *testing.T, cfg config.RankingConfig) *searchFixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()

	ids := make(map[string]uuid.UUID)
	for name, p := range map[string]models.Product{
		"aviator":  {Title: "Gold Aviator", Category: "sunglasses", Price: 150, Rating: 4.5, Embedding: []float32{1, 0, 0}},
		"pilot":    {Title: "Pilot Shades", Category: "sunglasses", Price: 90, Rating: 3.9, Embedding: []float32{0.8, 0.6, 0}},
		"round":    {Title: "Round Readers", Category: "eyeglasses", Price: 60, Rating: 4.1, Embedding: []float32{0.6, 0.8, 0}},
		"wayfarer": {Title: "Wayfarer", Category: "sunglasses", Price: 120, Rating: 4.8, Embedding: []float32{0, 1, 0}},
	} {
		p.ID = uuid.New()
		ids[name] = p.ID
		require.NoError(t, st.CreateProduct(ctx, &p))
	}

	if cfg.SemanticWeight == 0 && cfg.BehaviorWeight == 0 {
		cfg.SemanticWeight, cfg.BehaviorWeight = 0.6, 0.4
	}

	metrics := NewMetrics(prometheus.NewRegistry())
	learning := NewLearningEngine(st, config.LearningConfig{}, testLogger(), metrics)
	ranking := NewRankingEngine(st, RankingWeights{Semantic: cfg.SemanticWeight, Behavior: cfg.BehaviorWeight}, testLogger())
	embedder := &stubEmbedder{vectors: map[string][]float32{"aviator": {1, 0, 0}}}
	service := NewSearchService(embedder, st, st, ranking, learning, nil, cfg, testLogger(), metrics)

	return &searchFixture{store: st, learning: learning, service: service, metrics: metrics, ids: ids}
}

func (f *searchFixture) impressions(t *testing.T, name string) int64 {
	t.Helper()
	score, err := f.learning.BehaviorScore(context.Background(), f.ids[name])
	require.NoError(t, err)
	return score.ImpressionCount
}

func TestSearchService_Search(t *testing.T) {
	f := newSearchFixture(t, config.RankingConfig{})

	resp, err := f.service.Search(context.Background(), &models.SearchRequest{Query: "aviator", TopK: 2})
	require.NoError(t, err)

	assert.Equal(t, "aviator", resp.Query)
	assert.Empty(t, resp.ExpandedQuery)
	require.Equal(t, 2, resp.TotalResults)
	assert.Equal(t, f.ids["aviator"], resp.Results[0].Product.ID)
	assert.Equal(t, f.ids["pilot"], resp.Results[1].Product.ID)
	assert.InDelta(t, 0.6, resp.Results[0].FinalScore, 1e-6)
	assert.Empty(t, resp.Results[0].Explanation)
	assert.Empty(t, resp.FiltersApplied)

	t.Run("impressions only for returned products", func(t *testing.T) {
		assert.Equal(t, int64(1), f.impressions(t, "aviator"))
		assert.Equal(t, int64(1), f.impressions(t, "pilot"))
		assert.Zero(t, f.impressions(t, "round"))
		assert.Zero(t, f.impressions(t, "wayfarer"))
		assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.impressions))
	})

	t.Run("filters narrow the candidates", func(t *testing.T) {
		resp, err := f.service.Search(context.Background(), &models.SearchRequest{
			Query:   "aviator",
			TopK:    5,
			Filters: models.SearchFilters{Category: "Eyeglasses"},
		})
		require.NoError(t, err)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, f.ids["round"], resp.Results[0].Product.ID)
		assert.Equal(t, map[string]interface{}{"category": "eyeglasses"}, resp.FiltersApplied)
	})
}

func TestSearchService_BehaviorReordersResults(t *testing.T) {
	f := newSearchFixture(t, config.RankingConfig{})
	ctx := context.Background()

	// Give "round" a strong behavior record: every impression converts.
	roundID := f.ids["round"]
	for i := 0; i < 10; i++ {
		_, err := f.store.UpdateScore(ctx, roundID, func(s *models.BehaviorScore) error {
			f.learning.RecordImpression(s)
			return nil
		})
		require.NoError(t, err)
		for _, typ := range []models.EventType{models.EventClick, models.EventAddToCart, models.EventPurchase} {
			e := models.Event{ID: uuid.New(), Type: typ, ProductID: &roundID}
			require.NoError(t, f.store.SaveEvent(ctx, &e, f.learning.Mutator(&e)))
		}
	}

	resp, err := f.service.Search(ctx, &models.SearchRequest{Query: "aviator", TopK: 3})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, roundID, resp.Results[0].Product.ID)
	assert.Greater(t, resp.Results[0].BehaviorScore, 0.8)
}

func TestSearchService_OverFetchesBeforeTruncating(t *testing.T) {
	f := newSearchFixture(t, config.RankingConfig{CandidateMultiplier: 4})
	ctx := context.Background()

	wayfarer := f.ids["wayfarer"]
	_, err := f.store.UpdateScore(ctx, wayfarer, func(s *models.BehaviorScore) error {
		s.ImpressionCount, s.ClickCount, s.CartCount, s.PurchaseCount = 1, 1, 1, 1
		f.learning.UpdateRates(s)
		return nil
	})
	require.NoError(t, err)

	ranked, err := f.service.SearchByEmbedding(ctx, []float32{1, 0, 0}, models.SearchFilters{}, 1)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, f.ids["aviator"], ranked[0].ProductID)

	// With behavior weighted up, the semantically last candidate wins, which
	// it can only do when it was fetched beyond top_k.
	f2 := newSearchFixture(t, config.RankingConfig{CandidateMultiplier: 4, SemanticWeight: 0.1, BehaviorWeight: 0.9})
	wayfarer = f2.ids["wayfarer"]
	_, err = f2.store.UpdateScore(ctx, wayfarer, func(s *models.BehaviorScore) error {
		s.ImpressionCount, s.ClickCount, s.CartCount, s.PurchaseCount = 1, 1, 1, 1
		f2.learning.UpdateRates(s)
		return nil
	})
	require.NoError(t, err)

	ranked, err = f2.service.SearchByEmbedding(ctx, []float32{1, 0, 0}, models.SearchFilters{}, 1)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, wayfarer, ranked[0].ProductID)
}

func TestSearchService_BoostAndPenaltyConfig(t *testing.T) {
	f := newSearchFixture(t, config.RankingConfig{})
	f.service.boosted = []uuid.UUID{f.ids["round"]}
	f.service.penalized = []uuid.UUID{f.ids["aviator"]}
	f.service.cfg.BoostFactor = 1.5
	f.service.cfg.PenaltyFactor = 0.5

	ranked, err := f.service.SearchByEmbedding(context.Background(), []float32{1, 0, 0}, models.SearchFilters{}, 3)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, f.ids["round"], ranked[0].ProductID)
	assert.Equal(t, f.ids["aviator"], ranked[len(ranked)-1].ProductID)
}

func TestSearchService_EmptyCandidates(t *testing.T) {
	f := newSearchFixture(t, config.RankingConfig{})

	resp, err := f.service.Search(context.Background(), &models.SearchRequest{
		Query:   "aviator",
		Filters: models.SearchFilters{Category: "contact lenses"},
	})
	require.NoError(t, err)
	assert.Zero(t, resp.TotalResults)
	assert.NotNil(t, resp.Results)
}

func TestSearchService_EmbeddingFailure(t *testing.T) {
	f := newSearchFixture(t, config.RankingConfig{})
	f.service.embedder = &stubEmbedder{err: errors.New("model offline")}

	_, err := f.service.Search(context.Background(), &models.SearchRequest{Query: "aviator"})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.searchRequests.WithLabelValues("error")))
}

func TestSearchService_QuickSearch(t *testing.T) {
	f := newSearchFixture(t, config.RankingConfig{})

	resp, err := f.service.QuickSearch(context.Background(), "aviator", 1, models.SearchFilters{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Empty(t, resp.Results[0].Explanation)
	assert.Equal(t, int64(1), f.impressions(t, "aviator"))
}

func TestSearchService_SimilarProducts(t *testing.T) {
	f := newSearchFixture(t, config.RankingConfig{})

	similar, err := f.service.SimilarProducts(context.Background(), f.ids["aviator"], 2)
	require.NoError(t, err)
	require.Len(t, similar, 2)
	assert.Equal(t, f.ids["pilot"], similar[0].Product.ID)
	assert.Equal(t, f.ids["round"], similar[1].Product.ID)
	for _, s := range similar {
		assert.NotEqual(t, f.ids["aviator"], s.Product.ID)
	}
	assert.Zero(t, f.impressions(t, "pilot"))

	_, err = f.service.SimilarProducts(context.Background(), uuid.New(), 2)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestSearchService_NormalizeTopK(t *testing.T) {
	f := newSearchFixture(t, config.RankingConfig{DefaultTopK: 7, MaxTopK: 20})

	assert.Equal(t, 7, f.service.normalizeTopK(0))
	assert.Equal(t, 5, f.service.normalizeTopK(5))
	assert.Equal(t, 20, f.service.normalizeTopK(500))
}

func TestParseProductIDs(t *testing.T) {
	valid := uuid.New()
	ids := parseProductIDs([]string{valid.String(), "not-a-uuid"}, testLogger())
	assert.Equal(t, []uuid.UUID{valid}, ids)
}
