package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/searchrank/internal/services"
	"github.com/temcen/searchrank/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type mockEventService struct {
	mock.Mock
}

func (m *mockEventService) Submit(req *models.EventRequest) (*models.Event, error) {
	args := m.Called(req)
	if e, ok := args.Get(0).(*models.Event); ok {
		return e, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockEventService) Stats() models.ProcessorStats {
	return m.Called().Get(0).(models.ProcessorStats)
}

type mockSearchService struct {
	mock.Mock
}

func (m *mockSearchService) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	args := m.Called(ctx, req)
	if r, ok := args.Get(0).(*models.SearchResponse); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSearchService) QuickSearch(ctx context.Context, query string, topK int, filters models.SearchFilters) (*models.SearchResponse, error) {
	args := m.Called(ctx, query, topK, filters)
	if r, ok := args.Get(0).(*models.SearchResponse); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSearchService) SimilarProducts(ctx context.Context, productID uuid.UUID, topK int) ([]models.SimilarProduct, error) {
	args := m.Called(ctx, productID, topK)
	if r, ok := args.Get(0).([]models.SimilarProduct); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockAnalyticsService struct {
	mock.Mock
}

func (m *mockAnalyticsService) Summary(ctx context.Context) (*models.AnalyticsSummary, error) {
	args := m.Called(ctx)
	if r, ok := args.Get(0).(*models.AnalyticsSummary); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAnalyticsService) TopProducts(ctx context.Context, limit int) ([]models.TopProduct, error) {
	args := m.Called(ctx, limit)
	if r, ok := args.Get(0).([]models.TopProduct); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAnalyticsService) RecentEvents(ctx context.Context, limit int, eventType *models.EventType) ([]models.Event, error) {
	args := m.Called(ctx, limit, eventType)
	if r, ok := args.Get(0).([]models.Event); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAnalyticsService) ProductBehavior(ctx context.Context, productID uuid.UUID) (*models.ProductBehavior, error) {
	args := m.Called(ctx, productID)
	if r, ok := args.Get(0).(*models.ProductBehavior); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAnalyticsService) RecalculateScores(ctx context.Context) (*models.ReconcileResult, error) {
	args := m.Called(ctx)
	if r, ok := args.Get(0).(*models.ReconcileResult); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockProductService struct {
	mock.Mock
}

func (m *mockProductService) Create(ctx context.Context, req models.ProductRequest) (*models.Product, error) {
	args := m.Called(ctx, req)
	if r, ok := args.Get(0).(*models.Product); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProductService) CreateBatch(ctx context.Context, reqs []models.ProductRequest) ([]*models.Product, error) {
	args := m.Called(ctx, reqs)
	if r, ok := args.Get(0).([]*models.Product); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProductService) Get(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	args := m.Called(ctx, id)
	if r, ok := args.Get(0).(*models.Product); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProductService) List(ctx context.Context, offset, limit int) ([]*models.Product, error) {
	args := m.Called(ctx, offset, limit)
	if r, ok := args.Get(0).([]*models.Product); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProductService) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockProductService) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type mockRelated struct {
	mock.Mock
	enabled bool
}

func (m *mockRelated) Enabled() bool { return m.enabled }

func (m *mockRelated) RelatedProducts(ctx context.Context, productID uuid.UUID, limit int) ([]models.RelatedProduct, error) {
	args := m.Called(ctx, productID, limit)
	if r, ok := args.Get(0).([]models.RelatedProduct); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockHealthService struct {
	mock.Mock
}

func (m *mockHealthService) CheckHealth(ctx context.Context) *services.HealthStatus {
	return m.Called(ctx).Get(0).(*services.HealthStatus)
}

type mockTokenIssuer struct {
	mock.Mock
}

func (m *mockTokenIssuer) IssueToken(ctx context.Context, req models.AuthRequest) (*models.AuthResponse, error) {
	args := m.Called(ctx, req)
	if r, ok := args.Get(0).(*models.AuthResponse); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTokenIssuer) RevokeToken(ctx context.Context, tokenID string) error {
	return m.Called(ctx, tokenID).Error(0)
}

func performRequest(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	errBody, ok := decodeJSON(t, w)["error"].(map[string]interface{})
	require.True(t, ok, "response has no error object: %s", w.Body.String())
	code, _ := errBody["code"].(string)
	return code
}
