package store

import (
	"context"
	"fmt"

	"github.com/temcen/searchrank/pkg/models"
)

func (s *PostgresStore) CountProducts(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// EventCountsByType reports every event type, including those with no rows.
func (s *PostgresStore) EventCountsByType(ctx context.Context) (map[models.EventType]int64, error) {
	counts := make(map[models.EventType]int64, len(models.EventTypes))
	for _, t := range models.EventTypes {
		counts[t] = 0
	}

	rows, err := s.db.Query(ctx, `SELECT event_type, COUNT(*) FROM events GROUP BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventType string
		var n int64
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[models.EventType(eventType)] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) TopQueries(ctx context.Context, limit int) ([]models.QueryCount, error) {
	rows, err := s.db.Query(ctx, `
		SELECT query, COUNT(*) AS n
		FROM events
		WHERE event_type = 'search' AND query IS NOT NULL
		GROUP BY query
		ORDER BY n DESC, query ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top searches: %w", err)
	}
	defer rows.Close()

	var queries []models.QueryCount
	for rows.Next() {
		var q models.QueryCount
		if err := rows.Scan(&q.Query, &q.Count); err != nil {
			return nil, fmt.Errorf("failed to scan query count: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}
