package models

import (
	"time"

	"github.com/google/uuid"
)

// BehaviorScore aggregates interaction counters for one product. The rate
// fields and Score are derived from the counters by the learning engine.
type BehaviorScore struct {
	ProductID       uuid.UUID `json:"product_id" db:"product_id"`
	ImpressionCount int64     `json:"impression_count" db:"impression_count"`
	ClickCount      int64     `json:"click_count" db:"click_count"`
	CartCount       int64     `json:"cart_count" db:"cart_count"`
	PurchaseCount   int64     `json:"purchase_count" db:"purchase_count"`
	TotalDwellTime  float64   `json:"total_dwell_time" db:"total_dwell_time"`
	DwellEventCount int64     `json:"dwell_event_count" db:"dwell_event_count"`
	BounceCount     int64     `json:"bounce_count" db:"bounce_count"`
	ClickRate       float64   `json:"click_rate" db:"click_rate"`
	CartRate        float64   `json:"cart_rate" db:"cart_rate"`
	ConversionRate  float64   `json:"conversion_rate" db:"conversion_rate"`
	AvgDwellTime    float64   `json:"avg_dwell_time" db:"avg_dwell_time"`
	BounceRate      float64   `json:"bounce_rate" db:"bounce_rate"`
	Score           float64   `json:"behavior_score" db:"behavior_score"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

func NewBehaviorScore(productID uuid.UUID) *BehaviorScore {
	now := time.Now()
	return &BehaviorScore{ProductID: productID, CreatedAt: now, UpdatedAt: now}
}

// EventAggregate is the per-product rollup of the event log used by reconciliation.
type EventAggregate struct {
	ProductID       uuid.UUID
	SearchCount     int64
	ClickCount      int64
	CartCount       int64
	PurchaseCount   int64
	TotalDwellTime  float64
	DwellEventCount int64
	BounceCount     int64
}

type TopProduct struct {
	ProductID       uuid.UUID `json:"product_id"`
	Title           string    `json:"title"`
	ImpressionCount int64     `json:"impression_count"`
	ClickCount      int64     `json:"click_count"`
	CartCount       int64     `json:"cart_count"`
	PurchaseCount   int64     `json:"purchase_count"`
	ClickRate       float64   `json:"click_rate"`
	ConversionRate  float64   `json:"conversion_rate"`
	BehaviorScore   float64   `json:"behavior_score"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

type AnalyticsSummary struct {
	TotalProducts int64               `json:"total_products"`
	TotalEvents   int64               `json:"total_events"`
	EventCounts   map[EventType]int64 `json:"event_counts"`
	TopProducts   []TopProduct        `json:"top_products"`
	TopQueries    []QueryCount        `json:"recent_queries"`
}

type ReconcileResult struct {
	ProductsReconciled int     `json:"products_reconciled"`
	DurationMs         float64 `json:"duration_ms"`
}

// ProductBehavior is the analytics view of one product's score.
type ProductBehavior struct {
	Product  *Product       `json:"product"`
	Behavior *BehaviorScore `json:"behavior"`
}
