package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/internal/config"
	"github.com/temcen/searchrank/internal/services"
	"github.com/temcen/searchrank/pkg/models"
)

type EventHandler struct {
	logger    *logrus.Logger
	events    services.EventServiceInterface
	analytics services.AnalyticsServiceInterface
	cfg       config.EventsConfig
	validator *validator.Validate
}

func NewEventHandler(logger *logrus.Logger, events services.EventServiceInterface, analytics services.AnalyticsServiceInterface, cfg config.EventsConfig) *EventHandler {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 50
	}
	return &EventHandler{
		logger:    logger,
		events:    events,
		analytics: analytics,
		cfg:       cfg,
		validator: validator.New(),
	}
}

// Track accepts one event for asynchronous processing.
func (h *EventHandler) Track(c *gin.Context) {
	var req models.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
		return
	}
	h.submit(c, &req)
}

func (h *EventHandler) submit(c *gin.Context, req *models.EventRequest) {
	event, err := h.events.Submit(req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidEvent) {
			respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", "Event validation failed", err.Error())
			return
		}
		h.logger.WithError(err).Error("Failed to enqueue event")
		respondError(c, http.StatusInternalServerError, "EVENT_REJECTED", "Failed to accept event", nil)
		return
	}

	c.JSON(http.StatusAccepted, models.EventAccepted{
		EventID:   event.ID,
		Status:    "accepted",
		QueueSize: h.events.Stats().QueueDepth,
	})
}

// TrackBatch validates the whole batch before enqueueing any of it.
func (h *EventHandler) TrackBatch(c *gin.Context) {
	var req models.EventBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", err.Error())
		return
	}
	if len(req.Events) > h.cfg.MaxBatchSize {
		respondError(c, http.StatusBadRequest, "BATCH_TOO_LARGE", "Too many events in batch", gin.H{
			"max_batch_size": h.cfg.MaxBatchSize,
		})
		return
	}

	ids := make([]uuid.UUID, 0, len(req.Events))
	for i := range req.Events {
		event, err := h.events.Submit(&req.Events[i])
		if err != nil {
			h.logger.WithError(err).WithField("index", i).Warn("Batch event rejected")
			respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", "Event validation failed", gin.H{
				"index":    i,
				"error":    err.Error(),
				"accepted": ids,
			})
			return
		}
		ids = append(ids, event.ID)
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "accepted",
		"accepted":   len(ids),
		"event_ids":  ids,
		"queue_size": h.events.Stats().QueueDepth,
	})
}

func (h *EventHandler) TrackClick(c *gin.Context) { h.trackProductEvent(c, models.EventClick) }
func (h *EventHandler) TrackCart(c *gin.Context) { h.trackProductEvent(c, models.EventAddToCart) }
func (h *EventHandler) TrackPurchase(c *gin.Context) { h.trackProductEvent(c, models.EventPurchase) }
func (h *EventHandler) TrackDwell(c *gin.Context) { h.trackProductEvent(c, models.EventDwellTime) }

func (h *EventHandler) trackProductEvent(c *gin.Context, eventType models.EventType) {
	var req models.ProductEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
		return
	}
	if req.ProductID == uuid.Nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", "product_id is required", nil)
		return
	}
	if eventType == models.EventDwellTime && req.DwellTimeSeconds == nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", "dwell_time_seconds is required", nil)
		return
	}

	eventReq := req.ToEventRequest(eventType)
	h.submit(c, &eventReq)
}

func (h *EventHandler) Recent(c *gin.Context) {
	limit, ok := intQuery(c, "limit", h.cfg.RecentLimit, 1, 1000)
	if !ok {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY_PARAM", "limit must be an integer between 1 and 1000", nil)
		return
	}

	var eventType *models.EventType
	if raw := c.Query("event_type"); raw != "" {
		t, err := models.ParseEventType(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_QUERY_PARAM", err.Error(), nil)
			return
		}
		eventType = &t
	}

	events, err := h.analytics.RecentEvents(c.Request.Context(), limit, eventType)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load recent events")
		respondError(c, http.StatusInternalServerError, "EVENTS_UNAVAILABLE", "Failed to load recent events", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

func (h *EventHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.events.Stats())
}
