package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/searchrank/pkg/models"
)

type mockBehaviorLookup struct {
	mock.Mock
}

func (m *mockBehaviorLookup) GetScores(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]float64, error) {
	args := m.Called(ctx, productIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uuid.UUID]float64), args.Error(1)
}

var defaultWeights = RankingWeights{Semantic: 0.6, Behavior: 0.4}

func positionOf(ranked []models.RankedProduct, id uuid.UUID) int {
	for i, r := range ranked {
		if r.ProductID == id {
			return i
		}
	}
	return -1
}

func TestRank_BehaviorOverturnsSemantic(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	candidates := []models.Candidate{
		{ProductID: a, SemanticScore: 0.9},
		{ProductID: b, SemanticScore: 0.5},
	}
	behavior := map[uuid.UUID]float64{a: 0.1, b: 0.9}

	ranked := Rank(candidates, behavior, defaultWeights)

	require.Len(t, ranked, 2)
	assert.Equal(t, b, ranked[0].ProductID)
	assert.InDelta(t, 0.66, ranked[0].FinalScore, 1e-9)
	assert.Equal(t, a, ranked[1].ProductID)
	assert.InDelta(t, 0.58, ranked[1].FinalScore, 1e-9)
}

func TestRank_MissingBehaviorIsZero(t *testing.T) {
	a := uuid.New()
	ranked := Rank([]models.Candidate{{ProductID: a, SemanticScore: 0.5}}, nil, defaultWeights)

	require.Len(t, ranked, 1)
	assert.Zero(t, ranked[0].BehaviorScore)
	assert.InDelta(t, 0.3, ranked[0].FinalScore, 1e-9)
}

func TestRank_TieBreakByProductID(t *testing.T) {
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")

	ranked := Rank([]models.Candidate{
		{ProductID: high, SemanticScore: 0.5},
		{ProductID: low, SemanticScore: 0.5},
	}, nil, defaultWeights)

	assert.Equal(t, low, ranked[0].ProductID)
	assert.Equal(t, high, ranked[1].ProductID)
}

func TestRank_DuplicatesKeepFirst(t *testing.T) {
	a := uuid.New()
	ranked := Rank([]models.Candidate{
		{ProductID: a, SemanticScore: 0.8},
		{ProductID: a, SemanticScore: 0.2},
	}, nil, defaultWeights)

	require.Len(t, ranked, 1)
	assert.Equal(t, 0.8, ranked[0].SemanticScore)
}

func TestRank_BehaviorWeightMonotonic(t *testing.T) {
	star := uuid.New()
	candidates := []models.Candidate{
		{ProductID: uuid.New(), SemanticScore: 0.95},
		{ProductID: uuid.New(), SemanticScore: 0.9},
		{ProductID: star, SemanticScore: 0.6},
		{ProductID: uuid.New(), SemanticScore: 0.85},
	}
	behavior := map[uuid.UUID]float64{star: 0.9}
	for _, c := range candidates {
		if c.ProductID != star {
			behavior[c.ProductID] = 0.1
		}
	}

	prev := len(candidates)
	for _, wb := range []float64{0, 0.1, 0.2, 0.4, 0.8, 1.6} {
		ranked := Rank(candidates, behavior, RankingWeights{Semantic: 0.6, Behavior: wb})
		pos := positionOf(ranked, star)
		assert.LessOrEqual(t, pos, prev, "behavior weight %v", wb)
		prev = pos
	}
	assert.Equal(t, 0, prev)
}

func TestApplyBoost(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	ranked := Rank([]models.Candidate{
		{ProductID: a, SemanticScore: 0.9},
		{ProductID: b, SemanticScore: 0.7},
		{ProductID: c, SemanticScore: 0.5},
	}, nil, defaultWeights)

	t.Run("never lowers the boosted rank", func(t *testing.T) {
		for _, factor := range []float64{1.0, 1.1, 1.5, 3.0} {
			boosted := ApplyBoost(ranked, []uuid.UUID{c}, factor)
			assert.LessOrEqual(t, positionOf(boosted, c), positionOf(ranked, c))
		}
	})

	t.Run("large boost moves to the top", func(t *testing.T) {
		boosted := ApplyBoost(ranked, []uuid.UUID{c}, 2.0)
		assert.Equal(t, c, boosted[0].ProductID)
		assert.InDelta(t, 0.6, boosted[0].FinalScore, 1e-9)
	})

	t.Run("input is not modified", func(t *testing.T) {
		before := append([]models.RankedProduct(nil), ranked...)
		ApplyBoost(ranked, []uuid.UUID{c}, 2.0)
		assert.Equal(t, before, ranked)
	})

	t.Run("penalty demotes and chains", func(t *testing.T) {
		out := ApplyPenalty(ApplyBoost(ranked, []uuid.UUID{b}, 1.2), []uuid.UUID{a}, 0.5)
		assert.Equal(t, b, out[0].ProductID)
		assert.Equal(t, a, out[len(out)-1].ProductID)
	})

	t.Run("unknown ids are ignored", func(t *testing.T) {
		out := ApplyBoost(ranked, []uuid.UUID{uuid.New()}, 10)
		assert.Equal(t, ranked, out)
	})
}

func TestRankingEngine_Rank(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	candidates := []models.Candidate{
		{ProductID: a, SemanticScore: 0.9},
		{ProductID: b, SemanticScore: 0.5},
	}

	t.Run("uses stored behavior scores", func(t *testing.T) {
		lookup := &mockBehaviorLookup{}
		lookup.On("GetScores", mock.Anything, []uuid.UUID{a, b}).
			Return(map[uuid.UUID]float64{a: 0.1, b: 0.9}, nil)

		engine := NewRankingEngine(lookup, defaultWeights, testLogger())
		ranked, err := engine.Rank(context.Background(), candidates)
		require.NoError(t, err)
		assert.Equal(t, b, ranked[0].ProductID)
		lookup.AssertExpectations(t)
	})

	t.Run("empty candidates skip the lookup", func(t *testing.T) {
		lookup := &mockBehaviorLookup{}
		engine := NewRankingEngine(lookup, defaultWeights, testLogger())

		ranked, err := engine.Rank(context.Background(), nil)
		require.NoError(t, err)
		assert.NotNil(t, ranked)
		assert.Empty(t, ranked)
		lookup.AssertNotCalled(t, "GetScores", mock.Anything, mock.Anything)
	})

	t.Run("lookup failure", func(t *testing.T) {
		lookup := &mockBehaviorLookup{}
		lookup.On("GetScores", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

		engine := NewRankingEngine(lookup, defaultWeights, testLogger())
		_, err := engine.Rank(context.Background(), candidates)
		assert.Error(t, err)
	})
}
