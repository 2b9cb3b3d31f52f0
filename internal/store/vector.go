package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/temcen/searchrank/pkg/models"
)

// encodeVector renders a pgvector text literal such as "[0.1,0.2]".
func encodeVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func decodeVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("malformed vector literal")
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []float32{}, nil
	}
	parts := strings.Split(body, ",")
	v := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector component %d: %w", i, err)
		}
		v[i] = float32(f)
	}
	return v, nil
}

// buildFilterClause appends the filter predicates to args, starting at the
// next positional parameter.
func buildFilterClause(filters models.SearchFilters, exclude *uuid.UUID, args []interface{}) (string, []interface{}) {
	var clauses []string
	add := func(expr string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(expr, len(args)))
	}

	if filters.MinPrice != nil {
		add("price >= $%d", *filters.MinPrice)
	}
	if filters.MaxPrice != nil {
		add("price <= $%d", *filters.MaxPrice)
	}
	if filters.Category != "" {
		add("category = $%d", filters.Category)
	}
	if filters.Brand != "" {
		add("LOWER(brand) = LOWER($%d)", filters.Brand)
	}
	if filters.FrameType != "" {
		add("LOWER(frame_type) = LOWER($%d)", filters.FrameType)
	}
	if filters.LensType != "" {
		add("LOWER(lens_type) = LOWER($%d)", filters.LensType)
	}
	if filters.Gender != "" {
		add("LOWER(gender) = LOWER($%d)", filters.Gender)
	}
	if filters.MinRating != nil {
		add("rating >= $%d", *filters.MinRating)
	}
	if exclude != nil {
		add("id <> $%d", *exclude)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

func (s *PostgresStore) SearchSimilar(ctx context.Context, embedding []float32, topK int, filters models.SearchFilters, exclude *uuid.UUID) ([]models.Candidate, error) {
	if topK <= 0 || len(embedding) == 0 {
		return []models.Candidate{}, nil
	}

	args := []interface{}{encodeVector(embedding)}
	where, args := buildFilterClause(filters, exclude, args)
	args = append(args, topK)

	query := fmt.Sprintf(`
		SELECT id, 1 - (embedding <=> $1::vector) AS similarity
		FROM products
		WHERE embedding IS NOT NULL%s
		ORDER BY embedding <=> $1::vector, id
		LIMIT $%d`, where, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer rows.Close()

	candidates := make([]models.Candidate, 0, topK)
	for rows.Next() {
		var c models.Candidate
		if err := rows.Scan(&c.ProductID, &c.SemanticScore); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		c.SemanticScore = clampUnit(c.SemanticScore)
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// clampUnit bounds cosine similarity (1 - distance lies in [-1, 1]) to [0, 1].
func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
