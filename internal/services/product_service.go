package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/internal/ml"
	"github.com/temcen/searchrank/internal/store"
	"github.com/temcen/searchrank/pkg/models"
)

// ProductService manages the catalog. Every product is embedded on creation
// so it is immediately searchable.
type ProductService struct {
	store    store.ProductStore
	embedder ml.EmbeddingService
	logger   *logrus.Logger
}

func NewProductService(st store.ProductStore, embedder ml.EmbeddingService, logger *logrus.Logger) *ProductService {
	return &ProductService{store: st, embedder: embedder, logger: logger}
}

func (s *ProductService) Create(ctx context.Context, req models.ProductRequest) (*models.Product, error) {
	product := req.ToProduct()

	embedding, err := s.embedder.Embed(ctx, product.SearchableText())
	if err != nil {
		return nil, fmt.Errorf("failed to embed product: %w", err)
	}
	product.Embedding = embedding

	if err := s.store.CreateProduct(ctx, &product); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"product_id": product.ID,
		"category":   product.Category,
	}).Info("Product created")

	return &product, nil
}

// CreateBatch stops at the first failure and returns what was created so far.
func (s *ProductService) CreateBatch(ctx context.Context, reqs []models.ProductRequest) ([]*models.Product, error) {
	created := make([]*models.Product, 0, len(reqs))
	for i, req := range reqs {
		p, err := s.Create(ctx, req)
		if err != nil {
			return created, fmt.Errorf("product %d: %w", i, err)
		}
		created = append(created, p)
	}
	return created, nil
}

func (s *ProductService) Get(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrProductNotFound
	}
	return p, err
}

// Delete removes the product. Its events and behavior score go with it.
func (s *ProductService) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.store.DeleteProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrProductNotFound
	}
	if err != nil {
		return err
	}
	s.logger.WithField("product_id", id).Info("Product deleted")
	return nil
}

// List pages through the catalog. A negative offset starts at the beginning.
func (s *ProductService) List(ctx context.Context, offset, limit int) ([]*models.Product, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return []*models.Product{}, nil
	}
	products, err := s.store.ListProducts(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

func (s *ProductService) Count(ctx context.Context) (int64, error) {
	n, err := s.store.CountProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}
