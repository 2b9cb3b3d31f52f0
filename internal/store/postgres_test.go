package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/searchrank/pkg/models"
)

var scoreRowColumns = []string{
	"product_id", "impression_count", "click_count", "cart_count", "purchase_count",
	"total_dwell_time", "dwell_event_count", "bounce_count", "click_rate", "cart_rate",
	"conversion_rate", "avg_dwell_time", "bounce_rate", "behavior_score", "created_at", "updated_at",
}

func scoreRows(id uuid.UUID, impressions, clicks int64) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows(scoreRowColumns).
		AddRow(id, impressions, clicks, int64(0), int64(0),
			0.0, int64(0), int64(0), 0.0, 0.0,
			0.0, 0.0, 0.0, 0.0, now, now)
}

func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return mock, NewPostgresStore(mock, logger)
}

// expectScoreLock queues the upsert and row lock every score transaction starts with.
func expectScoreLock(mock pgxmock.PgxPoolIface, id uuid.UUID, impressions, clicks int64) {
	mock.ExpectExec("INSERT INTO behavior_scores").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("FROM behavior_scores WHERE product_id = (.+) FOR UPDATE").
		WithArgs(id).
		WillReturnRows(scoreRows(id, impressions, clicks))
}

// pgx.BeginFunc always defers a Rollback, so a committed transaction still
// issues one and a failed one issues two.
func expectCommitted(mock pgxmock.PgxPoolIface) {
	mock.ExpectCommit()
	mock.ExpectRollback()
}

func expectRolledBack(mock pgxmock.PgxPoolIface) {
	mock.ExpectRollback()
	mock.ExpectRollback()
}

func TestPostgresStore_UpdateScore(t *testing.T) {
	id := uuid.New()

	t.Run("locks, mutates and writes in one transaction", func(t *testing.T) {
		mock, s := newMockStore(t)
		defer mock.Close()

		mock.ExpectBegin()
		expectScoreLock(mock, id, 4, 1)
		mock.ExpectExec("UPDATE behavior_scores SET").
			WithArgs(anyArgs(15)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		expectCommitted(mock)

		score, err := s.UpdateScore(context.Background(), id, func(score *models.BehaviorScore) error {
			score.ImpressionCount++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(5), score.ImpressionCount)
		assert.Equal(t, int64(1), score.ClickCount)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mutator error rolls back", func(t *testing.T) {
		mock, s := newMockStore(t)
		defer mock.Close()

		mock.ExpectBegin()
		expectScoreLock(mock, id, 4, 1)
		expectRolledBack(mock)

		_, err := s.UpdateScore(context.Background(), id, func(*models.BehaviorScore) error {
			return errors.New("boom")
		})
		require.EqualError(t, err, "boom")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("foreign key violation surfaces", func(t *testing.T) {
		mock, s := newMockStore(t)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO behavior_scores").
			WithArgs(id).
			WillReturnError(errors.New("violates foreign key constraint"))
		expectRolledBack(mock)

		_, err := s.UpdateScore(context.Background(), id, func(*models.BehaviorScore) error { return nil })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create behavior score")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit failure is returned", func(t *testing.T) {
		mock, s := newMockStore(t)
		defer mock.Close()

		mock.ExpectBegin()
		expectScoreLock(mock, id, 4, 1)
		mock.ExpectExec("UPDATE behavior_scores SET").
			WithArgs(anyArgs(15)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit().WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		score, err := s.UpdateScore(context.Background(), id, func(*models.BehaviorScore) error { return nil })
		require.EqualError(t, err, "connection reset")
		assert.Nil(t, score)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_ReconcileScore(t *testing.T) {
	id := uuid.New()
	aggColumns := []string{"search", "click", "cart", "purchase", "dwell_total", "dwell_events", "bounces"}

	t.Run("rollup is handed to the mutator and written back", func(t *testing.T) {
		mock, s := newMockStore(t)
		defer mock.Close()

		mock.ExpectBegin()
		expectScoreLock(mock, id, 1, 1)
		mock.ExpectQuery("FROM events").
			WithArgs(id, 5.0).
			WillReturnRows(pgxmock.NewRows(aggColumns).
				AddRow(int64(20), int64(6), int64(2), int64(1), 42.0, int64(3), int64(1)))
		mock.ExpectExec("UPDATE behavior_scores SET").
			WithArgs(anyArgs(15)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		expectCommitted(mock)

		var got models.EventAggregate
		score, err := s.ReconcileScore(context.Background(), id, 5.0,
			func(score *models.BehaviorScore, agg models.EventAggregate) error {
				got = agg
				score.ClickCount = agg.ClickCount
				return nil
			})
		require.NoError(t, err)
		assert.Equal(t, id, got.ProductID)
		assert.Equal(t, int64(20), got.SearchCount)
		assert.Equal(t, 42.0, got.TotalDwellTime)
		assert.Equal(t, int64(1), got.BounceCount)
		assert.Equal(t, int64(6), score.ClickCount)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("aggregate failure rolls back", func(t *testing.T) {
		mock, s := newMockStore(t)
		defer mock.Close()

		mock.ExpectBegin()
		expectScoreLock(mock, id, 1, 1)
		mock.ExpectQuery("FROM events").
			WithArgs(id, 5.0).
			WillReturnError(errors.New("statement timeout"))
		expectRolledBack(mock)

		_, err := s.ReconcileScore(context.Background(), id, 5.0,
			func(*models.BehaviorScore, models.EventAggregate) error {
				assert.Fail(t, "mutator must not run without a rollup")
				return nil
			})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to aggregate events")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_SaveEvent(t *testing.T) {
	productID := uuid.New()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("event with product updates score in same transaction", func(t *testing.T) {
		mock, s := newMockStore(t)
		defer mock.Close()

		event := &models.Event{ID: uuid.New(), Type: models.EventClick, ProductID: &productID}

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO events").
			WithArgs(anyArgs(8)...).
			WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))
		expectScoreLock(mock, productID, 10, 0)
		mock.ExpectExec("UPDATE behavior_scores SET").
			WithArgs(anyArgs(15)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		expectCommitted(mock)

		var applied bool
		err := s.SaveEvent(context.Background(), event, func(score *models.BehaviorScore) error {
			applied = true
			score.ClickCount++
			return nil
		})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, created, event.CreatedAt)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("search event without product only inserts", func(t *testing.T) {
		mock, s := newMockStore(t)
		defer mock.Close()

		query := "blue light glasses"
		event := &models.Event{ID: uuid.New(), Type: models.EventSearch, Query: &query}

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO events").
			WithArgs(anyArgs(8)...).
			WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))
		expectCommitted(mock)

		err := s.SaveEvent(context.Background(), event, func(*models.BehaviorScore) error {
			assert.Fail(t, "mutator must not run without a product")
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure rolls back", func(t *testing.T) {
		mock, s := newMockStore(t)
		defer mock.Close()

		event := &models.Event{ID: uuid.New(), Type: models.EventClick, ProductID: &productID}

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO events").
			WithArgs(anyArgs(8)...).
			WillReturnError(errors.New("disk full"))
		expectRolledBack(mock)

		err := s.SaveEvent(context.Background(), event, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert event")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_GetScore(t *testing.T) {
	mock, s := newMockStore(t)
	defer mock.Close()

	id := uuid.New()

	mock.ExpectQuery("FROM behavior_scores WHERE product_id").
		WithArgs(id).
		WillReturnRows(scoreRows(id, 7, 2))
	score, err := s.GetScore(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(7), score.ImpressionCount)

	mock.ExpectQuery("FROM behavior_scores WHERE product_id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	_, err = s.GetScore(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetScores(t *testing.T) {
	mock, s := newMockStore(t)
	defer mock.Close()

	a, b := uuid.New(), uuid.New()
	ids := []uuid.UUID{a, b}

	mock.ExpectQuery("SELECT product_id, behavior_score").
		WithArgs(ids).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "behavior_score"}).AddRow(a, 0.42))

	scores, err := s.GetScores(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]float64{a: 0.42}, scores)

	empty, err := s.GetScores(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SearchSimilar(t *testing.T) {
	mock, s := newMockStore(t)
	defer mock.Close()

	a, b := uuid.New(), uuid.New()
	category := "sunglasses"
	exclude := uuid.New()

	mock.ExpectQuery("embedding <=>").
		WithArgs("[0.5,0.25]", category, exclude, 4).
		WillReturnRows(pgxmock.NewRows([]string{"id", "similarity"}).
			AddRow(a, 1.2).
			AddRow(b, 0.4))

	candidates, err := s.SearchSimilar(context.Background(), []float32{0.5, 0.25}, 4,
		models.SearchFilters{Category: category}, &exclude)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, 1.0, candidates[0].SemanticScore)
	assert.Equal(t, 0.4, candidates[1].SemanticScore)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteProduct(t *testing.T) {
	mock, s := newMockStore(t)
	defer mock.Close()

	id := uuid.New()

	mock.ExpectExec("DELETE FROM products").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, s.DeleteProduct(context.Background(), id))

	mock.ExpectExec("DELETE FROM products").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	assert.ErrorIs(t, s.DeleteProduct(context.Background(), id), ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListProducts(t *testing.T) {
	mock, s := newMockStore(t)
	defer mock.Close()

	columns := []string{"id", "title", "description", "category", "brand", "frame_type", "frame_material",
		"lens_type", "color", "gender", "price", "original_price", "rating", "review_count", "attributes",
		"created_at", "updated_at"}
	first, second := uuid.New(), uuid.New()
	now := time.Now()
	row := func(id uuid.UUID, title string) []interface{} {
		return []interface{}{id, title, "", "eyeglasses", "Oakley", "", "", "", "", "",
			89.0, nil, 4.2, 10, map[string]interface{}{}, now, now}
	}

	mock.ExpectQuery("FROM products\\s+ORDER BY created_at, id\\s+OFFSET").
		WithArgs(10, 2).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(row(first, "Round")...).
			AddRow(row(second, "Pilot")...))

	products, err := s.ListProducts(context.Background(), 10, 2)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, first, products[0].ID)
	assert.Equal(t, "Pilot", products[1].Title)
	assert.Nil(t, products[0].OriginalPrice)

	mock.ExpectQuery("FROM products").
		WithArgs(0, 5).
		WillReturnError(errors.New("relation does not exist"))
	_, err = s.ListProducts(context.Background(), 0, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list products")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ProductEmbedding(t *testing.T) {
	mock, s := newMockStore(t)
	defer mock.Close()

	id := uuid.New()
	literal := "[1,0.5,-2]"

	mock.ExpectQuery("SELECT embedding::text").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"embedding"}).AddRow(&literal))
	embedding, err := s.ProductEmbedding(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0.5, -2}, embedding)

	mock.ExpectQuery("SELECT embedding::text").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	_, err = s.ProductEmbedding(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EventCountsByType(t *testing.T) {
	mock, s := newMockStore(t)
	defer mock.Close()

	mock.ExpectQuery("GROUP BY event_type").
		WillReturnRows(pgxmock.NewRows([]string{"event_type", "count"}).
			AddRow("click", int64(12)).
			AddRow("search", int64(40)))

	counts, err := s.EventCountsByType(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), counts[models.EventClick])
	assert.Equal(t, int64(40), counts[models.EventSearch])
	assert.Equal(t, int64(0), counts[models.EventPurchase])
	require.NoError(t, mock.ExpectationsWereMet())
}
