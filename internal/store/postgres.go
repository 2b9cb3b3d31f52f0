package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/pkg/models"
)

const scoreColumns = `product_id, impression_count, click_count, cart_count, purchase_count,
	total_dwell_time, dwell_event_count, bounce_count, click_rate, cart_rate,
	conversion_rate, avg_dwell_time, bounce_rate, behavior_score, created_at, updated_at`

type PostgresStore struct {
	db     DBTX
	logger *logrus.Logger
}

func NewPostgresStore(db DBTX, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) SaveEvent(ctx context.Context, event *models.Event, apply ScoreMutator) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO events (id, event_type, user_id, session_id, product_id, query, dwell_time_seconds, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at`,
			event.ID, string(event.Type), event.UserID, event.SessionID, event.ProductID,
			event.Query, event.DwellTimeSeconds, event.Position,
		).Scan(&event.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}

		if apply == nil || event.ProductID == nil {
			return nil
		}
		_, err = updateScoreTx(ctx, tx, *event.ProductID, apply)
		return err
	})
}

func (s *PostgresStore) RecentEvents(ctx context.Context, limit int, eventType *models.EventType) ([]models.Event, error) {
	query := `
		SELECT id, event_type, user_id, session_id, product_id, query, dwell_time_seconds, position, created_at
		FROM events`
	args := []interface{}{}
	if eventType != nil {
		query += ` WHERE event_type = $1`
		args = append(args, string(*eventType))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		var eventType string
		if err := rows.Scan(&e.ID, &eventType, &e.UserID, &e.SessionID, &e.ProductID,
			&e.Query, &e.DwellTimeSeconds, &e.Position, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = models.EventType(eventType)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) UpdateScore(ctx context.Context, productID uuid.UUID, fn ScoreMutator) (*models.BehaviorScore, error) {
	var updated *models.BehaviorScore
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		score, err := updateScoreTx(ctx, tx, productID, fn)
		updated = score
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) ReconcileScore(ctx context.Context, productID uuid.UUID, bounceThreshold float64, fn ReconcileMutator) (*models.BehaviorScore, error) {
	var updated *models.BehaviorScore
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		score, err := lockScore(ctx, tx, productID)
		if err != nil {
			return err
		}

		agg := models.EventAggregate{ProductID: productID}
		err = tx.QueryRow(ctx, `
			SELECT
				COUNT(*) FILTER (WHERE event_type = 'search'),
				COUNT(*) FILTER (WHERE event_type = 'click'),
				COUNT(*) FILTER (WHERE event_type = 'add_to_cart'),
				COUNT(*) FILTER (WHERE event_type = 'purchase'),
				COALESCE(SUM(dwell_time_seconds) FILTER (WHERE event_type = 'dwell_time'), 0),
				COUNT(dwell_time_seconds) FILTER (WHERE event_type = 'dwell_time'),
				COUNT(*) FILTER (WHERE event_type = 'dwell_time' AND dwell_time_seconds < $2)
			FROM events
			WHERE product_id = $1`,
			productID, bounceThreshold,
		).Scan(&agg.SearchCount, &agg.ClickCount, &agg.CartCount, &agg.PurchaseCount,
			&agg.TotalDwellTime, &agg.DwellEventCount, &agg.BounceCount)
		if err != nil {
			return fmt.Errorf("failed to aggregate events: %w", err)
		}

		if err := fn(score, agg); err != nil {
			return err
		}
		if err := writeScore(ctx, tx, score); err != nil {
			return err
		}
		updated = score
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func updateScoreTx(ctx context.Context, tx pgx.Tx, productID uuid.UUID, fn ScoreMutator) (*models.BehaviorScore, error) {
	score, err := lockScore(ctx, tx, productID)
	if err != nil {
		return nil, err
	}
	if err := fn(score); err != nil {
		return nil, err
	}
	if err := writeScore(ctx, tx, score); err != nil {
		return nil, err
	}
	return score, nil
}

// lockScore creates the score row when missing and takes a row lock on it.
func lockScore(ctx context.Context, tx pgx.Tx, productID uuid.UUID) (*models.BehaviorScore, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO behavior_scores (product_id) VALUES ($1)
		ON CONFLICT (product_id) DO NOTHING`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to create behavior score: %w", err)
	}

	row := tx.QueryRow(ctx, `SELECT `+scoreColumns+` FROM behavior_scores WHERE product_id = $1 FOR UPDATE`, productID)
	score, err := scanScore(row)
	if err != nil {
		return nil, fmt.Errorf("failed to lock behavior score: %w", err)
	}
	return score, nil
}

func writeScore(ctx context.Context, tx pgx.Tx, score *models.BehaviorScore) error {
	score.UpdatedAt = time.Now()
	_, err := tx.Exec(ctx, `
		UPDATE behavior_scores SET
			impression_count = $2, click_count = $3, cart_count = $4, purchase_count = $5,
			total_dwell_time = $6, dwell_event_count = $7, bounce_count = $8,
			click_rate = $9, cart_rate = $10, conversion_rate = $11, avg_dwell_time = $12,
			bounce_rate = $13, behavior_score = $14, updated_at = $15
		WHERE product_id = $1`,
		score.ProductID, score.ImpressionCount, score.ClickCount, score.CartCount, score.PurchaseCount,
		score.TotalDwellTime, score.DwellEventCount, score.BounceCount,
		score.ClickRate, score.CartRate, score.ConversionRate, score.AvgDwellTime,
		score.BounceRate, score.Score, score.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update behavior score: %w", err)
	}
	return nil
}

func scanScore(row pgx.Row) (*models.BehaviorScore, error) {
	var s models.BehaviorScore
	err := row.Scan(&s.ProductID, &s.ImpressionCount, &s.ClickCount, &s.CartCount, &s.PurchaseCount,
		&s.TotalDwellTime, &s.DwellEventCount, &s.BounceCount, &s.ClickRate, &s.CartRate,
		&s.ConversionRate, &s.AvgDwellTime, &s.BounceRate, &s.Score, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *PostgresStore) GetScore(ctx context.Context, productID uuid.UUID) (*models.BehaviorScore, error) {
	row := s.db.QueryRow(ctx, `SELECT `+scoreColumns+` FROM behavior_scores WHERE product_id = $1`, productID)
	score, err := scanScore(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get behavior score: %w", err)
	}
	return score, nil
}

func (s *PostgresStore) GetScores(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]float64, error) {
	scores := make(map[uuid.UUID]float64, len(productIDs))
	if len(productIDs) == 0 {
		return scores, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT product_id, behavior_score
		FROM behavior_scores
		WHERE product_id = ANY($1)`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query behavior scores: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("failed to scan behavior score: %w", err)
		}
		scores[id] = score
	}
	return scores, rows.Err()
}

func (s *PostgresStore) TopProducts(ctx context.Context, limit int) ([]models.TopProduct, error) {
	rows, err := s.db.Query(ctx, `
		SELECT b.product_id, p.title, b.impression_count, b.click_count, b.cart_count,
			b.purchase_count, b.click_rate, b.conversion_rate, b.behavior_score
		FROM behavior_scores b
		JOIN products p ON p.id = b.product_id
		ORDER BY b.behavior_score DESC, b.product_id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top products: %w", err)
	}
	defer rows.Close()

	var top []models.TopProduct
	for rows.Next() {
		var t models.TopProduct
		if err := rows.Scan(&t.ProductID, &t.Title, &t.ImpressionCount, &t.ClickCount, &t.CartCount,
			&t.PurchaseCount, &t.ClickRate, &t.ConversionRate, &t.BehaviorScore); err != nil {
			return nil, fmt.Errorf("failed to scan top product: %w", err)
		}
		top = append(top, t)
	}
	return top, rows.Err()
}
