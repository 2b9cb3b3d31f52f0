package services

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/temcen/searchrank/internal/config"
	"github.com/temcen/searchrank/internal/ml"
	"github.com/temcen/searchrank/pkg/models"
)

const explanationPrefix = "Shown because: "

// ExplanationService expands queries and explains results with a language
// model. Every method degrades to a deterministic answer when the model is
// unavailable or fails.
type ExplanationService struct {
	llm    ml.LLMClient
	cache  *redis.Client
	cfg    config.AIConfig
	logger *logrus.Logger
}

func NewExplanationService(llm ml.LLMClient, cache *redis.Client, cfg config.AIConfig, logger *logrus.Logger) *ExplanationService {
	if cfg.MaxExplanations <= 0 {
		cfg.MaxExplanations = 10
	}
	if cfg.ExpansionTTL <= 0 {
		cfg.ExpansionTTL = time.Hour
	}
	return &ExplanationService{
		llm:    llm,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
	}
}

func (s *ExplanationService) Available() bool {
	return s.llm != nil && s.llm.Available()
}

// ExpandQuery returns the query enriched with related terms, or the query
// itself when expansion is not possible.
func (s *ExplanationService) ExpandQuery(ctx context.Context, query string) string {
	if !s.Available() {
		return query
	}

	key := expansionCacheKey(query)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key).Result(); err == nil {
			return cached
		} else if !errors.Is(err, redis.Nil) {
			s.logger.WithError(err).Debug("Query expansion cache read failed")
		}
	}

	prompt := fmt.Sprintf(`You are a search query expansion assistant for an eyewear e-commerce store.
Given a user's search query, expand it with related terms, synonyms, and relevant attributes.
Focus on eyewear-specific terms: frame types, lens types, brands, styles.

User Query: %q

Return ONLY the expanded query as a single line of space-separated terms. Do not include explanations or formatting.
Include the original query terms and add 5-10 related terms.

Expanded Query:`, query)

	expanded, err := s.llm.Complete(ctx, prompt, 100, 0.3)
	if err != nil {
		s.logger.WithError(err).WithField("query", query).Warn("Query expansion failed")
		return query
	}
	expanded = strings.TrimSpace(strings.NewReplacer(`"`, "", "'", "").Replace(expanded))
	if expanded == "" {
		return query
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, expanded, s.cfg.ExpansionTTL).Err(); err != nil {
			s.logger.WithError(err).Debug("Failed to cache query expansion")
		}
	}
	return expanded
}

// Explain says why a product was shown for a query.
func (s *ExplanationService) Explain(ctx context.Context, query string, product *models.Product, semantic, behavior float64) string {
	if !s.Available() {
		return FallbackExplanation(query, product, semantic, behavior)
	}

	prompt := fmt.Sprintf(`You are an AI assistant explaining search results for an eyewear store.
Generate a brief, helpful explanation (1-2 sentences) for why this product matches the user's search.

User Search: %q

Product:
- Title: %s
- Category: %s
- Brand: %s
- Frame Type: %s
- Lens Type: %s
- Price: %.2f
- Rating: %.1f/5 (%d reviews)

Match Quality:
- Semantic similarity: %.0f%%
- Popularity score: %.0f%%

Generate a concise explanation starting with "Shown because:". Focus on why this product matches the search intent.`,
		query, product.Title, orNA(product.Category), orNA(product.Brand), orNA(product.FrameType),
		orNA(product.LensType), product.Price, product.Rating, product.ReviewCount,
		semantic*100, behavior*100)

	explanation, err := s.llm.Complete(ctx, prompt, 100, 0.5)
	if err != nil || explanation == "" {
		if err != nil {
			s.logger.WithError(err).WithField("product_id", product.ID).Warn("Explanation generation failed")
		}
		return FallbackExplanation(query, product, semantic, behavior)
	}
	if !strings.HasPrefix(strings.ToLower(explanation), "shown because") {
		explanation = explanationPrefix + explanation
	}
	return explanation
}

// ExplainAll fills in the explanation of each result concurrently. Only the
// first MaxExplanations results are sent to the model; the rest get the
// fallback text.
func (s *ExplanationService) ExplainAll(ctx context.Context, query string, results []models.SearchResult) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i := range results {
		r := &results[i]
		if r.Product == nil {
			continue
		}
		if i >= s.cfg.MaxExplanations || !s.Available() {
			r.Explanation = FallbackExplanation(query, r.Product, r.SemanticScore, r.BehaviorScore)
			continue
		}
		g.Go(func() error {
			r.Explanation = s.Explain(gctx, query, r.Product, r.SemanticScore, r.BehaviorScore)
			return nil
		})
	}
	_ = g.Wait()
}

// FallbackExplanation builds an explanation from keyword overlap, rating and
// score thresholds.
func FallbackExplanation(query string, product *models.Product, semantic, behavior float64) string {
	var reasons []string

	fold := cases.Lower(language.Und)
	title := fold.String(product.Title)
	for _, word := range strings.Fields(fold.String(query)) {
		if strings.Contains(title, word) {
			reasons = append(reasons, "matches your search terms")
			break
		}
	}

	if product.Rating >= 4.0 {
		reasons = append(reasons, fmt.Sprintf("highly rated (%.1f/5)", product.Rating))
	}

	switch {
	case semantic > 0.7:
		reasons = append(reasons, "strong semantic match")
	case semantic > 0.5:
		reasons = append(reasons, "good relevance to your query")
	}

	if behavior > 0.5 {
		reasons = append(reasons, "popular with similar searches")
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "relevant to your search")
	}
	return explanationPrefix + strings.Join(reasons, ", ")
}

func expansionCacheKey(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return fmt.Sprintf("query:expansion:%x", sum[:8])
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
