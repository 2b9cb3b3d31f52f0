package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/temcen/searchrank/pkg/models"
)

const productColumns = `id, title, description, category, brand, frame_type, frame_material,
	lens_type, color, gender, price, original_price, rating, review_count, attributes,
	created_at, updated_at`

func (s *PostgresStore) CreateProduct(ctx context.Context, p *models.Product) error {
	var embedding interface{}
	if len(p.Embedding) > 0 {
		embedding = encodeVector(p.Embedding)
	}
	attributes := p.Attributes
	if attributes == nil {
		attributes = map[string]interface{}{}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO products (id, title, description, category, brand, frame_type, frame_material,
			lens_type, color, gender, price, original_price, rating, review_count, attributes,
			embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16::vector, $17, $18)`,
		p.ID, p.Title, p.Description, p.Category, p.Brand, p.FrameType, p.FrameMaterial,
		p.LensType, p.Color, p.Gender, p.Price, p.OriginalPrice, p.Rating, p.ReviewCount, attributes,
		embedding, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func scanProduct(row pgx.Row) (*models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Category, &p.Brand, &p.FrameType,
		&p.FrameMaterial, &p.LensType, &p.Color, &p.Gender, &p.Price, &p.OriginalPrice,
		&p.Rating, &p.ReviewCount, &p.Attributes, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	row := s.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error) {
	products := make(map[uuid.UUID]*models.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	rows, err := s.db.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products[p.ID] = p
	}
	return products, rows.Err()
}

// DeleteProduct removes the product; its events and behavior score go with it
// through ON DELETE CASCADE.
func (s *PostgresStore) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListProductIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan product id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) ListProducts(ctx context.Context, offset, limit int) ([]*models.Product, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+productColumns+` FROM products
		ORDER BY created_at, id
		OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := make([]*models.Product, 0, limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *PostgresStore) ProductEmbedding(ctx context.Context, id uuid.UUID) ([]float32, error) {
	var literal *string
	err := s.db.QueryRow(ctx, `SELECT embedding::text FROM products WHERE id = $1`, id).Scan(&literal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get product embedding: %w", err)
	}
	if literal == nil {
		return nil, ErrNotFound
	}
	return decodeVector(*literal)
}
