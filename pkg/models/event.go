package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is the closed set of interaction kinds the learning pipeline understands.
type EventType string

const (
	EventSearch    EventType = "search"
	EventClick     EventType = "click"
	EventAddToCart EventType = "add_to_cart"
	EventPurchase  EventType = "purchase"
	EventDwellTime EventType = "dwell_time"
)

// EventTypes lists every EventType in a stable order.
var EventTypes = []EventType{EventSearch, EventClick, EventAddToCart, EventPurchase, EventDwellTime}

func (t EventType) Valid() bool {
	switch t {
	case EventSearch, EventClick, EventAddToCart, EventPurchase, EventDwellTime:
		return true
	}
	return false
}

func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return t, nil
}

// Event is an append-only interaction record.
type Event struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	Type             EventType  `json:"event_type" db:"event_type"`
	UserID           *string    `json:"user_id,omitempty" db:"user_id"`
	SessionID        *string    `json:"session_id,omitempty" db:"session_id"`
	ProductID        *uuid.UUID `json:"product_id,omitempty" db:"product_id"`
	Query            *string    `json:"query,omitempty" db:"query"`
	DwellTimeSeconds *float64   `json:"dwell_time_seconds,omitempty" db:"dwell_time_seconds"`
	Position         *int       `json:"position,omitempty" db:"position"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

type EventRequest struct {
	EventType        string     `json:"event_type" validate:"required,oneof=search click add_to_cart purchase dwell_time"`
	UserID           *string    `json:"user_id,omitempty" validate:"omitempty,max=255"`
	SessionID        *string    `json:"session_id,omitempty" validate:"omitempty,max=255"`
	ProductID        *uuid.UUID `json:"product_id,omitempty"`
	Query            *string    `json:"query,omitempty" validate:"omitempty,max=500"`
	DwellTimeSeconds *float64   `json:"dwell_time_seconds,omitempty" validate:"omitempty,gte=0"`
	Position         *int       `json:"position,omitempty" validate:"omitempty,gte=0"`
}

// ToEvent assigns a fresh id. CreatedAt is set when the event is persisted.
func (r EventRequest) ToEvent() Event {
	return Event{
		ID:               uuid.New(),
		Type:             EventType(r.EventType),
		UserID:           r.UserID,
		SessionID:        r.SessionID,
		ProductID:        r.ProductID,
		Query:            r.Query,
		DwellTimeSeconds: r.DwellTimeSeconds,
		Position:         r.Position,
	}
}

type EventBatchRequest struct {
	Events []EventRequest `json:"events" validate:"required,min=1,dive"`
}

// ProductEventRequest backs the single-purpose click/cart/purchase/dwell endpoints.
type ProductEventRequest struct {
	ProductID        uuid.UUID `json:"product_id" validate:"required"`
	UserID           *string   `json:"user_id,omitempty" validate:"omitempty,max=255"`
	SessionID        *string   `json:"session_id,omitempty" validate:"omitempty,max=255"`
	Query            *string   `json:"query,omitempty" validate:"omitempty,max=500"`
	Position         *int      `json:"position,omitempty" validate:"omitempty,gte=0"`
	DwellTimeSeconds *float64  `json:"dwell_time_seconds,omitempty" validate:"omitempty,gte=0"`
}

func (r ProductEventRequest) ToEventRequest(t EventType) EventRequest {
	productID := r.ProductID
	return EventRequest{
		EventType:        string(t),
		UserID:           r.UserID,
		SessionID:        r.SessionID,
		ProductID:        &productID,
		Query:            r.Query,
		DwellTimeSeconds: r.DwellTimeSeconds,
		Position:         r.Position,
	}
}

type EventAccepted struct {
	EventID   uuid.UUID `json:"event_id"`
	Status    string    `json:"status"`
	QueueSize int       `json:"queue_size"`
}

type ProcessorStats struct {
	Running        bool   `json:"running"`
	State          string `json:"state"`
	QueueDepth     int    `json:"queue_depth"`
	ProcessedCount uint64 `json:"processed_count"`
	FailedCount    uint64 `json:"failed_count"`
}
