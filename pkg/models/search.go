package models

import (
	"strings"

	"github.com/google/uuid"
)

// SearchFilters are equality and range predicates applied by the vector search.
type SearchFilters struct {
	MinPrice  *float64 `json:"min_price,omitempty" form:"min_price" validate:"omitempty,gte=0"`
	MaxPrice  *float64 `json:"max_price,omitempty" form:"max_price" validate:"omitempty,gte=0"`
	Category  string   `json:"category,omitempty" form:"category"`
	Brand     string   `json:"brand,omitempty" form:"brand"`
	FrameType string   `json:"frame_type,omitempty" form:"frame_type"`
	LensType  string   `json:"lens_type,omitempty" form:"lens_type"`
	Gender    string   `json:"gender,omitempty" form:"gender"`
	MinRating *float64 `json:"min_rating,omitempty" form:"min_rating" validate:"omitempty,gte=0,lte=5"`
}

// Normalize lowercases the category, which is stored lowercased.
func (f SearchFilters) Normalize() SearchFilters {
	f.Category = strings.ToLower(strings.TrimSpace(f.Category))
	return f
}

// Applied reports the non-empty filters, keyed by their JSON names.
func (f SearchFilters) Applied() map[string]interface{} {
	applied := make(map[string]interface{})
	if f.MinPrice != nil {
		applied["min_price"] = *f.MinPrice
	}
	if f.MaxPrice != nil {
		applied["max_price"] = *f.MaxPrice
	}
	if f.Category != "" {
		applied["category"] = f.Category
	}
	if f.Brand != "" {
		applied["brand"] = f.Brand
	}
	if f.FrameType != "" {
		applied["frame_type"] = f.FrameType
	}
	if f.LensType != "" {
		applied["lens_type"] = f.LensType
	}
	if f.Gender != "" {
		applied["gender"] = f.Gender
	}
	if f.MinRating != nil {
		applied["min_rating"] = *f.MinRating
	}
	return applied
}

type SearchRequest struct {
	Query                string        `json:"query" validate:"required,min=1,max=500"`
	Filters              SearchFilters `json:"filters"`
	TopK                 int           `json:"top_k,omitempty" validate:"omitempty,min=1,max=100"`
	EnableQueryExpansion *bool         `json:"enable_query_expansion,omitempty"`
	EnableExplanations   *bool         `json:"enable_explanations,omitempty"`
}

// Candidate is a semantic hit from the vector search.
type Candidate struct {
	ProductID     uuid.UUID `json:"product_id"`
	SemanticScore float64   `json:"semantic_score"`
}

// RankedProduct is a candidate after merging in its behavior score.
type RankedProduct struct {
	ProductID     uuid.UUID `json:"product_id"`
	SemanticScore float64   `json:"semantic_score"`
	BehaviorScore float64   `json:"behavior_score"`
	FinalScore    float64   `json:"final_score"`
}

type SearchResult struct {
	Product       *Product `json:"product"`
	SemanticScore float64  `json:"semantic_score"`
	BehaviorScore float64  `json:"behavior_score"`
	FinalScore    float64  `json:"final_score"`
	Explanation   string   `json:"explanation,omitempty"`
}

type SearchResponse struct {
	Query          string                 `json:"query"`
	ExpandedQuery  string                 `json:"expanded_query,omitempty"`
	TotalResults   int                    `json:"total_results"`
	Results        []SearchResult         `json:"results"`
	SearchTimeMs   float64                `json:"search_time_ms"`
	FiltersApplied map[string]interface{} `json:"filters_applied"`
}

type SimilarProduct struct {
	Product         *Product `json:"product"`
	SimilarityScore float64  `json:"similarity_score"`
}

// RelatedProduct is a product co-engaged with another one by the same shoppers.
type RelatedProduct struct {
	Product      *Product `json:"product"`
	Shoppers     int64    `json:"shoppers"`
	Interactions int64    `json:"interactions"`
}
