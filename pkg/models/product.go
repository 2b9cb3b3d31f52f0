package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Product struct {
	ID            uuid.UUID              `json:"id" db:"id"`
	Title         string                 `json:"title" db:"title"`
	Description   string                 `json:"description,omitempty" db:"description"`
	Category      string                 `json:"category" db:"category"`
	Brand         string                 `json:"brand,omitempty" db:"brand"`
	FrameType     string                 `json:"frame_type,omitempty" db:"frame_type"`
	FrameMaterial string                 `json:"frame_material,omitempty" db:"frame_material"`
	LensType      string                 `json:"lens_type,omitempty" db:"lens_type"`
	Color         string                 `json:"color,omitempty" db:"color"`
	Gender        string                 `json:"gender,omitempty" db:"gender"`
	Price         float64                `json:"price" db:"price"`
	OriginalPrice *float64               `json:"original_price,omitempty" db:"original_price"`
	Rating        float64                `json:"rating" db:"rating"`
	ReviewCount   int                    `json:"review_count" db:"review_count"`
	Attributes    map[string]interface{} `json:"attributes,omitempty" db:"attributes"`
	Embedding     []float32              `json:"-" db:"embedding"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at" db:"updated_at"`
}

// SearchableText is the text that gets embedded for semantic search.
func (p *Product) SearchableText() string {
	parts := []string{p.Title, p.Description, p.Category, p.Brand, p.FrameType, p.LensType, p.Color, p.Gender}
	if len(p.Attributes) > 0 {
		keys := make([]string, 0, len(p.Attributes))
		for k := range p.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %v", k, p.Attributes[k]))
		}
	}

	nonEmpty := parts[:0]
	for _, part := range parts {
		if part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.Join(nonEmpty, " ")
}

type ProductRequest struct {
	Title         string                 `json:"title" validate:"required,min=1,max=255"`
	Description   string                 `json:"description,omitempty"`
	Category      string                 `json:"category" validate:"required,min=1,max=100"`
	Brand         string                 `json:"brand,omitempty" validate:"max=100"`
	FrameType     string                 `json:"frame_type,omitempty" validate:"max=50"`
	FrameMaterial string                 `json:"frame_material,omitempty" validate:"max=50"`
	LensType      string                 `json:"lens_type,omitempty" validate:"max=50"`
	Color         string                 `json:"color,omitempty" validate:"max=50"`
	Gender        string                 `json:"gender,omitempty" validate:"max=20"`
	Price         float64                `json:"price" validate:"gt=0"`
	OriginalPrice *float64               `json:"original_price,omitempty" validate:"omitempty,gt=0"`
	Rating        float64                `json:"rating" validate:"gte=0,lte=5"`
	ReviewCount   int                    `json:"review_count" validate:"gte=0"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
}

func (r ProductRequest) ToProduct() Product {
	now := time.Now()
	return Product{
		ID:            uuid.New(),
		Title:         r.Title,
		Description:   r.Description,
		Category:      strings.ToLower(r.Category),
		Brand:         r.Brand,
		FrameType:     r.FrameType,
		FrameMaterial: r.FrameMaterial,
		LensType:      r.LensType,
		Color:         r.Color,
		Gender:        r.Gender,
		Price:         r.Price,
		OriginalPrice: r.OriginalPrice,
		Rating:        r.Rating,
		ReviewCount:   r.ReviewCount,
		Attributes:    r.Attributes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

type ProductBatchRequest struct {
	Products []ProductRequest `json:"products" validate:"required,min=1,max=100,dive"`
}
