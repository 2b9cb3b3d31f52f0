package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/temcen/searchrank/pkg/models"
)

// MemoryStore keeps products, events and scores in process memory. A single
// mutex serializes every unit of work, which makes UpdateScore atomic.
type MemoryStore struct {
	mu       sync.Mutex
	products map[uuid.UUID]*models.Product
	events   []models.Event
	scores   map[uuid.UUID]*models.BehaviorScore
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[uuid.UUID]*models.Product),
		scores:   make(map[uuid.UUID]*models.BehaviorScore),
		now:      time.Now,
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) SaveEvent(ctx context.Context, event *models.Event, apply ScoreMutator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ProductID != nil {
		if _, ok := s.products[*event.ProductID]; !ok {
			return fmt.Errorf("failed to insert event: product %s does not exist", event.ProductID)
		}
	}

	saved := *event
	saved.CreatedAt = s.now()

	if apply != nil && event.ProductID != nil {
		if _, err := s.mutateLocked(*event.ProductID, apply); err != nil {
			return err
		}
	}

	s.events = append(s.events, saved)
	event.CreatedAt = saved.CreatedAt
	return nil
}

func (s *MemoryStore) RecentEvents(ctx context.Context, limit int, eventType *models.EventType) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []models.Event
	for i := len(s.events) - 1; i >= 0 && len(events) < limit; i-- {
		if eventType != nil && s.events[i].Type != *eventType {
			continue
		}
		events = append(events, s.events[i])
	}
	return events, nil
}

func (s *MemoryStore) UpdateScore(ctx context.Context, productID uuid.UUID, fn ScoreMutator) (*models.BehaviorScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[productID]; !ok {
		return nil, fmt.Errorf("failed to create behavior score: product %s does not exist", productID)
	}
	return s.mutateLocked(productID, fn)
}

// mutateLocked runs fn on a copy so a failing mutator leaves the record intact.
func (s *MemoryStore) mutateLocked(productID uuid.UUID, fn ScoreMutator) (*models.BehaviorScore, error) {
	current, ok := s.scores[productID]
	if !ok {
		current = models.NewBehaviorScore(productID)
	}
	working := *current
	if err := fn(&working); err != nil {
		return nil, err
	}
	working.UpdatedAt = s.now()
	s.scores[productID] = &working

	out := working
	return &out, nil
}

func (s *MemoryStore) ReconcileScore(ctx context.Context, productID uuid.UUID, bounceThreshold float64, fn ReconcileMutator) (*models.BehaviorScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[productID]; !ok {
		return nil, fmt.Errorf("failed to create behavior score: product %s does not exist", productID)
	}

	agg := models.EventAggregate{ProductID: productID}
	for _, e := range s.events {
		if e.ProductID == nil || *e.ProductID != productID {
			continue
		}
		switch e.Type {
		case models.EventSearch:
			agg.SearchCount++
		case models.EventClick:
			agg.ClickCount++
		case models.EventAddToCart:
			agg.CartCount++
		case models.EventPurchase:
			agg.PurchaseCount++
		case models.EventDwellTime:
			if e.DwellTimeSeconds != nil {
				agg.DwellEventCount++
				agg.TotalDwellTime += *e.DwellTimeSeconds
				if *e.DwellTimeSeconds < bounceThreshold {
					agg.BounceCount++
				}
			}
		}
	}

	return s.mutateLocked(productID, func(score *models.BehaviorScore) error {
		return fn(score, agg)
	})
}

func (s *MemoryStore) GetScore(ctx context.Context, productID uuid.UUID) (*models.BehaviorScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	score, ok := s.scores[productID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *score
	return &out, nil
}

func (s *MemoryStore) GetScores(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scores := make(map[uuid.UUID]float64, len(productIDs))
	for _, id := range productIDs {
		if score, ok := s.scores[id]; ok {
			scores[id] = score.Score
		}
	}
	return scores, nil
}

func (s *MemoryStore) TopProducts(ctx context.Context, limit int) ([]models.TopProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	top := make([]models.TopProduct, 0, len(s.scores))
	for id, score := range s.scores {
		p, ok := s.products[id]
		if !ok {
			continue
		}
		top = append(top, models.TopProduct{
			ProductID:       id,
			Title:           p.Title,
			ImpressionCount: score.ImpressionCount,
			ClickCount:      score.ClickCount,
			CartCount:       score.CartCount,
			PurchaseCount:   score.PurchaseCount,
			ClickRate:       score.ClickRate,
			ConversionRate:  score.ConversionRate,
			BehaviorScore:   score.Score,
		})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].BehaviorScore != top[j].BehaviorScore {
			return top[i].BehaviorScore > top[j].BehaviorScore
		}
		return top[i].ProductID.String() < top[j].ProductID.String()
	})
	if len(top) > limit {
		top = top[:limit]
	}
	return top, nil
}

func (s *MemoryStore) CreateProduct(ctx context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[p.ID]; ok {
		return fmt.Errorf("failed to insert product: duplicate id %s", p.ID)
	}
	stored := *p
	s.products[p.ID] = &stored
	return nil
}

func (s *MemoryStore) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *MemoryStore) GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	products := make(map[uuid.UUID]*models.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out := *p
			products[id] = &out
		}
	}
	return products, nil
}

// DeleteProduct cascades to the product's events and score.
func (s *MemoryStore) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return ErrNotFound
	}
	delete(s.products, id)
	delete(s.scores, id)

	kept := s.events[:0]
	for _, e := range s.events {
		if e.ProductID != nil && *e.ProductID == id {
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return nil
}

func (s *MemoryStore) ListProductIDs(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(s.products))
	for id := range s.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (s *MemoryStore) ListProducts(ctx context.Context, offset, limit int) ([]*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*models.Product, 0, len(s.products))
	for _, p := range s.products {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	products := make([]*models.Product, 0, limit)
	for i := offset; i < len(all) && len(products) < limit; i++ {
		out := *all[i]
		products = append(products, &out)
	}
	return products, nil
}

func (s *MemoryStore) ProductEmbedding(ctx context.Context, id uuid.UUID) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok || len(p.Embedding) == 0 {
		return nil, ErrNotFound
	}
	return append([]float32(nil), p.Embedding...), nil
}

func (s *MemoryStore) CountProducts(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.products)), nil
}

func (s *MemoryStore) CountEvents(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events)), nil
}

func (s *MemoryStore) EventCountsByType(ctx context.Context) (map[models.EventType]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[models.EventType]int64, len(models.EventTypes))
	for _, t := range models.EventTypes {
		counts[t] = 0
	}
	for _, e := range s.events {
		counts[e.Type]++
	}
	return counts, nil
}

func (s *MemoryStore) TopQueries(ctx context.Context, limit int) ([]models.QueryCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byQuery := make(map[string]int64)
	for _, e := range s.events {
		if e.Type == models.EventSearch && e.Query != nil {
			byQuery[*e.Query]++
		}
	}
	queries := make([]models.QueryCount, 0, len(byQuery))
	for q, n := range byQuery {
		queries = append(queries, models.QueryCount{Query: q, Count: n})
	}
	sort.Slice(queries, func(i, j int) bool {
		if queries[i].Count != queries[j].Count {
			return queries[i].Count > queries[j].Count
		}
		return queries[i].Query < queries[j].Query
	})
	if len(queries) > limit {
		queries = queries[:limit]
	}
	return queries, nil
}

// SearchSimilar is a brute-force cosine scan over stored embeddings.
func (s *MemoryStore) SearchSimilar(ctx context.Context, embedding []float32, topK int, filters models.SearchFilters, exclude *uuid.UUID) ([]models.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if topK <= 0 || len(embedding) == 0 {
		return []models.Candidate{}, nil
	}
	query := toFloat64(embedding)

	candidates := make([]models.Candidate, 0, len(s.products))
	for id, p := range s.products {
		if len(p.Embedding) != len(embedding) || !matchesFilters(p, filters) {
			continue
		}
		if exclude != nil && id == *exclude {
			continue
		}
		candidates = append(candidates, models.Candidate{
			ProductID:     id,
			SemanticScore: clampUnit(cosine(query, toFloat64(p.Embedding))),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].SemanticScore != candidates[j].SemanticScore {
			return candidates[i].SemanticScore > candidates[j].SemanticScore
		}
		return candidates[i].ProductID.String() < candidates[j].ProductID.String()
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

func matchesFilters(p *models.Product, f models.SearchFilters) bool {
	if f.MinPrice != nil && p.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && p.Price > *f.MaxPrice {
		return false
	}
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.Brand != "" && !strings.EqualFold(p.Brand, f.Brand) {
		return false
	}
	if f.FrameType != "" && !strings.EqualFold(p.FrameType, f.FrameType) {
		return false
	}
	if f.LensType != "" && !strings.EqualFold(p.LensType, f.LensType) {
		return false
	}
	if f.Gender != "" && !strings.EqualFold(p.Gender, f.Gender) {
		return false
	}
	if f.MinRating != nil && p.Rating < *f.MinRating {
		return false
	}
	return true
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func cosine(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	sim := floats.Dot(a, b) / (na * nb)
	if math.IsNaN(sim) {
		return 0
	}
	return sim
}
