package services

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/pkg/models"
)

type RankingWeights struct {
	Semantic float64
	Behavior float64
}

// BehaviorLookup resolves behavior scores; products without a record are
// simply absent from the result.
type BehaviorLookup interface {
	GetScores(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]float64, error)
}

type RankingEngine struct {
	scores  BehaviorLookup
	weights RankingWeights
	logger  *logrus.Logger
}

func NewRankingEngine(scores BehaviorLookup, weights RankingWeights, logger *logrus.Logger) *RankingEngine {
	return &RankingEngine{
		scores:  scores,
		weights: weights,
		logger:  logger,
	}
}

// Rank merges semantic candidates with stored behavior scores.
func (r *RankingEngine) Rank(ctx context.Context, candidates []models.Candidate) ([]models.RankedProduct, error) {
	if len(candidates) == 0 {
		return []models.RankedProduct{}, nil
	}

	ids := make([]uuid.UUID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ProductID
	}

	behavior, err := r.scores.GetScores(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load behavior scores: %w", err)
	}

	ranked := Rank(candidates, behavior, r.weights)

	r.logger.WithFields(logrus.Fields{
		"candidates":      len(candidates),
		"with_behavior":   len(behavior),
		"semantic_weight": r.weights.Semantic,
		"behavior_weight": r.weights.Behavior,
	}).Debug("Ranked candidates")

	return ranked, nil
}

// Rank computes final = semantic*ws + behavior*wb for each candidate and sorts
// by final score descending, then product id ascending. Missing behavior
// scores count as 0 and duplicate candidates keep their first occurrence.
func Rank(candidates []models.Candidate, behavior map[uuid.UUID]float64, weights RankingWeights) []models.RankedProduct {
	seen := make(map[uuid.UUID]struct{}, len(candidates))
	ranked := make([]models.RankedProduct, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.ProductID]; dup {
			continue
		}
		seen[c.ProductID] = struct{}{}

		b := behavior[c.ProductID]
		ranked = append(ranked, models.RankedProduct{
			ProductID:     c.ProductID,
			SemanticScore: c.SemanticScore,
			BehaviorScore: b,
			FinalScore:    c.SemanticScore*weights.Semantic + b*weights.Behavior,
		})
	}
	sortRanked(ranked)
	return ranked
}

// ApplyBoost multiplies the final score of the given products by factor and
// re-sorts. The input slice is not modified.
func ApplyBoost(results []models.RankedProduct, productIDs []uuid.UUID, factor float64) []models.RankedProduct {
	return scaleScores(results, productIDs, factor)
}

// ApplyPenalty is ApplyBoost with a factor below 1.
func ApplyPenalty(results []models.RankedProduct, productIDs []uuid.UUID, factor float64) []models.RankedProduct {
	return scaleScores(results, productIDs, factor)
}

func scaleScores(results []models.RankedProduct, productIDs []uuid.UUID, factor float64) []models.RankedProduct {
	targets := make(map[uuid.UUID]struct{}, len(productIDs))
	for _, id := range productIDs {
		targets[id] = struct{}{}
	}

	out := make([]models.RankedProduct, len(results))
	copy(out, results)
	for i := range out {
		if _, ok := targets[out[i].ProductID]; ok {
			out[i].FinalScore *= factor
		}
	}
	sortRanked(out)
	return out
}

func sortRanked(ranked []models.RankedProduct) {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].FinalScore != ranked[j].FinalScore {
			return ranked[i].FinalScore > ranked[j].FinalScore
		}
		return bytes.Compare(ranked[i].ProductID[:], ranked[j].ProductID[:]) < 0
	})
}
