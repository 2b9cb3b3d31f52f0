package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/searchrank/internal/config"
	"github.com/temcen/searchrank/internal/services"
	"github.com/temcen/searchrank/pkg/models"
)

func newEventRouter(events *mockEventService, analytics *mockAnalyticsService, cfg config.EventsConfig) *gin.Engine {
	h := NewEventHandler(testLogger(), events, analytics, cfg)
	router := gin.New()
	router.POST("/events", h.Track)
	router.POST("/events/batch", h.TrackBatch)
	router.POST("/events/click", h.TrackClick)
	router.POST("/events/dwell", h.TrackDwell)
	router.GET("/events", h.Recent)
	router.GET("/events/stats", h.Stats)
	return router
}

func TestEventHandler_Track(t *testing.T) {
	events := &mockEventService{}
	router := newEventRouter(events, &mockAnalyticsService{}, config.EventsConfig{})

	eventID := uuid.New()
	productID := uuid.New()
	events.On("Stats").Return(models.ProcessorStats{QueueDepth: 3})

	t.Run("accepted", func(t *testing.T) {
		events.On("Submit", mock.MatchedBy(func(req *models.EventRequest) bool {
			return req.EventType == "click" && req.ProductID != nil && *req.ProductID == productID
		})).Return(&models.Event{ID: eventID}, nil).Once()

		w := performRequest(router, http.MethodPost, "/events",
			fmt.Sprintf(`{"event_type":"click","product_id":"%s"}`, productID))

		require.Equal(t, http.StatusAccepted, w.Code)
		body := decodeJSON(t, w)
		assert.Equal(t, eventID.String(), body["event_id"])
		assert.Equal(t, "accepted", body["status"])
		assert.Equal(t, float64(3), body["queue_size"])
	})

	t.Run("invalid event", func(t *testing.T) {
		events.On("Submit", mock.MatchedBy(func(req *models.EventRequest) bool {
			return req.EventType == "click" && req.ProductID == nil
		})).Return(nil, fmt.Errorf("%w: click requires product_id", services.ErrInvalidEvent)).Once()

		w := performRequest(router, http.MethodPost, "/events", `{"event_type":"click"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_FAILED", errorCode(t, w))
	})

	t.Run("processor rejects", func(t *testing.T) {
		events.On("Submit", mock.MatchedBy(func(req *models.EventRequest) bool {
			return req.EventType == "search"
		})).Return(nil, errors.New("queue closed")).Once()

		w := performRequest(router, http.MethodPost, "/events", `{"event_type":"search","query":"aviator"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "EVENT_REJECTED", errorCode(t, w))
	})

	t.Run("malformed json", func(t *testing.T) {
		w := performRequest(router, http.MethodPost, "/events", `{"event_type":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
	})

	events.AssertExpectations(t)
}

func TestEventHandler_TrackBatch(t *testing.T) {
	productID := uuid.New()
	click := fmt.Sprintf(`{"event_type":"click","product_id":"%s"}`, productID)

	t.Run("all accepted", func(t *testing.T) {
		events := &mockEventService{}
		events.On("Stats").Return(models.ProcessorStats{QueueDepth: 2})
		events.On("Submit", mock.Anything).Return(&models.Event{ID: uuid.New()}, nil).Twice()
		router := newEventRouter(events, &mockAnalyticsService{}, config.EventsConfig{})

		w := performRequest(router, http.MethodPost, "/events/batch", `{"events":[`+click+`,`+click+`]}`)
		require.Equal(t, http.StatusAccepted, w.Code)
		body := decodeJSON(t, w)
		assert.Equal(t, float64(2), body["accepted"])
		assert.Len(t, body["event_ids"], 2)
		events.AssertExpectations(t)
	})

	t.Run("struct validation rejects before enqueueing", func(t *testing.T) {
		events := &mockEventService{}
		router := newEventRouter(events, &mockAnalyticsService{}, config.EventsConfig{})

		w := performRequest(router, http.MethodPost, "/events/batch", `{"events":[`+click+`,{"event_type":"hover"}]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_FAILED", errorCode(t, w))
		events.AssertNotCalled(t, "Submit", mock.Anything)
	})

	t.Run("empty batch", func(t *testing.T) {
		router := newEventRouter(&mockEventService{}, &mockAnalyticsService{}, config.EventsConfig{})
		w := performRequest(router, http.MethodPost, "/events/batch", `{"events":[]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("batch too large", func(t *testing.T) {
		events := &mockEventService{}
		router := newEventRouter(events, &mockAnalyticsService{}, config.EventsConfig{MaxBatchSize: 1})

		w := performRequest(router, http.MethodPost, "/events/batch", `{"events":[`+click+`,`+click+`]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "BATCH_TOO_LARGE", errorCode(t, w))
		events.AssertNotCalled(t, "Submit", mock.Anything)
	})

	t.Run("submit failure reports accepted prefix", func(t *testing.T) {
		first := uuid.New()
		events := &mockEventService{}
		events.On("Submit", mock.Anything).Return(&models.Event{ID: first}, nil).Once()
		events.On("Submit", mock.Anything).Return(nil, fmt.Errorf("%w: bad", services.ErrInvalidEvent)).Once()
		router := newEventRouter(events, &mockAnalyticsService{}, config.EventsConfig{})

		w := performRequest(router, http.MethodPost, "/events/batch", `{"events":[`+click+`,`+click+`]}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		details := decodeJSON(t, w)["error"].(map[string]interface{})["details"].(map[string]interface{})
		assert.Equal(t, float64(1), details["index"])
		assert.Equal(t, []interface{}{first.String()}, details["accepted"])
	})
}

func TestEventHandler_ProductEvents(t *testing.T) {
	events := &mockEventService{}
	events.On("Stats").Return(models.ProcessorStats{})
	router := newEventRouter(events, &mockAnalyticsService{}, config.EventsConfig{})
	productID := uuid.New()

	events.On("Submit", mock.MatchedBy(func(req *models.EventRequest) bool {
		return req.EventType == string(models.EventClick) && *req.ProductID == productID
	})).Return(&models.Event{ID: uuid.New()}, nil).Once()
	w := performRequest(router, http.MethodPost, "/events/click", fmt.Sprintf(`{"product_id":"%s","position":1}`, productID))
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = performRequest(router, http.MethodPost, "/events/click", `{"position":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performRequest(router, http.MethodPost, "/events/dwell", fmt.Sprintf(`{"product_id":"%s"}`, productID))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, w))

	events.On("Submit", mock.MatchedBy(func(req *models.EventRequest) bool {
		return req.EventType == string(models.EventDwellTime) && *req.DwellTimeSeconds == 42
	})).Return(&models.Event{ID: uuid.New()}, nil).Once()
	w = performRequest(router, http.MethodPost, "/events/dwell", fmt.Sprintf(`{"product_id":"%s","dwell_time_seconds":42}`, productID))
	assert.Equal(t, http.StatusAccepted, w.Code)

	events.AssertExpectations(t)
}

func TestEventHandler_Recent(t *testing.T) {
	analytics := &mockAnalyticsService{}
	router := newEventRouter(&mockEventService{}, analytics, config.EventsConfig{RecentLimit: 25})

	purchase := models.EventPurchase
	analytics.On("RecentEvents", mock.Anything, 25, (*models.EventType)(nil)).
		Return([]models.Event{{ID: uuid.New(), Type: models.EventClick}}, nil).Once()
	analytics.On("RecentEvents", mock.Anything, 5, &purchase).
		Return([]models.Event{}, nil).Once()

	w := performRequest(router, http.MethodGet, "/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeJSON(t, w)["count"])

	w = performRequest(router, http.MethodGet, "/events?limit=5&event_type=purchase", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decodeJSON(t, w)["count"])

	w = performRequest(router, http.MethodGet, "/events?event_type=hover", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performRequest(router, http.MethodGet, "/events?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	analytics.AssertExpectations(t)
}

func TestEventHandler_Stats(t *testing.T) {
	events := &mockEventService{}
	events.On("Stats").Return(models.ProcessorStats{Running: true, State: "running", ProcessedCount: 10, FailedCount: 1})
	router := newEventRouter(events, &mockAnalyticsService{}, config.EventsConfig{})

	w := performRequest(router, http.MethodGet, "/events/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, "running", body["state"])
	assert.Equal(t, float64(10), body["processed_count"])
	assert.Equal(t, float64(1), body["failed_count"])
}
