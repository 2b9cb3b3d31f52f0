package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements are applied in order; each one is idempotent.
func schemaStatements(dimensions int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS products (
			id              UUID PRIMARY KEY,
			title           TEXT NOT NULL,
			description     TEXT NOT NULL DEFAULT '',
			category        TEXT NOT NULL DEFAULT '',
			brand           TEXT NOT NULL DEFAULT '',
			frame_type      TEXT NOT NULL DEFAULT '',
			frame_material  TEXT NOT NULL DEFAULT '',
			lens_type       TEXT NOT NULL DEFAULT '',
			color           TEXT NOT NULL DEFAULT '',
			gender          TEXT NOT NULL DEFAULT '',
			price           DOUBLE PRECISION NOT NULL DEFAULT 0,
			original_price  DOUBLE PRECISION,
			rating          DOUBLE PRECISION NOT NULL DEFAULT 0,
			review_count    INTEGER NOT NULL DEFAULT 0,
			attributes      JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding       vector(` + fmt.Sprint(dimensions) + `),
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_category ON products (category)`,
		`CREATE INDEX IF NOT EXISTS idx_products_embedding ON products USING hnsw (embedding vector_cosine_ops)`,
		`CREATE TABLE IF NOT EXISTS events (
			id                 UUID PRIMARY KEY,
			event_type         TEXT NOT NULL,
			user_id            TEXT,
			session_id         TEXT,
			product_id         UUID REFERENCES products(id) ON DELETE CASCADE,
			query              TEXT,
			dwell_time_seconds DOUBLE PRECISION CHECK (dwell_time_seconds >= 0),
			position           INTEGER CHECK (position >= 0),
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_product_type ON events (product_id, event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events (created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS behavior_scores (
			product_id        UUID PRIMARY KEY REFERENCES products(id) ON DELETE CASCADE,
			impression_count  BIGINT NOT NULL DEFAULT 0,
			click_count       BIGINT NOT NULL DEFAULT 0,
			cart_count        BIGINT NOT NULL DEFAULT 0,
			purchase_count    BIGINT NOT NULL DEFAULT 0,
			total_dwell_time  DOUBLE PRECISION NOT NULL DEFAULT 0,
			dwell_event_count BIGINT NOT NULL DEFAULT 0,
			bounce_count      BIGINT NOT NULL DEFAULT 0,
			click_rate        DOUBLE PRECISION NOT NULL DEFAULT 0,
			cart_rate         DOUBLE PRECISION NOT NULL DEFAULT 0,
			conversion_rate   DOUBLE PRECISION NOT NULL DEFAULT 0,
			avg_dwell_time    DOUBLE PRECISION NOT NULL DEFAULT 0,
			bounce_rate       DOUBLE PRECISION NOT NULL DEFAULT 0,
			behavior_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_behavior_scores_score ON behavior_scores (behavior_score DESC)`,
	}
}

// Migrate creates the products, events and behavior_scores tables.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	for i, stmt := range schemaStatements(dimensions) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
