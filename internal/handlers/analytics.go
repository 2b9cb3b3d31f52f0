package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/internal/services"
)

type AnalyticsHandler struct {
	logger    *logrus.Logger
	analytics services.AnalyticsServiceInterface
}

func NewAnalyticsHandler(logger *logrus.Logger, analytics services.AnalyticsServiceInterface) *AnalyticsHandler {
	return &AnalyticsHandler{logger: logger, analytics: analytics}
}

func (h *AnalyticsHandler) Summary(c *gin.Context) {
	summary, err := h.analytics.Summary(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to build analytics summary")
		respondError(c, http.StatusInternalServerError, "ANALYTICS_UNAVAILABLE", "Failed to build analytics summary", nil)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *AnalyticsHandler) TopProducts(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 10, 1, 100)
	if !ok {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY_PARAM", "limit must be an integer between 1 and 100", nil)
		return
	}

	top, err := h.analytics.TopProducts(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load top products")
		respondError(c, http.StatusInternalServerError, "ANALYTICS_UNAVAILABLE", "Failed to load top products", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"products": top,
		"count":    len(top),
	})
}

// RecalculateScores rebuilds every behavior score from the event log.
func (h *AnalyticsHandler) RecalculateScores(c *gin.Context) {
	result, err := h.analytics.RecalculateScores(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Score reconciliation failed")
		respondError(c, http.StatusInternalServerError, "RECALCULATION_FAILED", "Failed to recalculate scores", nil)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"products":    result.ProductsReconciled,
		"duration_ms": result.DurationMs,
		"client_id":   c.GetString("client_id"),
	}).Info("Behavior scores recalculated")

	c.JSON(http.StatusOK, result)
}

func (h *AnalyticsHandler) ProductBehavior(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("productId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PRODUCT_ID", "Product ID must be a valid UUID", nil)
		return
	}

	behavior, err := h.analytics.ProductBehavior(c.Request.Context(), productID)
	if err != nil {
		if errors.Is(err, services.ErrProductNotFound) {
			respondError(c, http.StatusNotFound, "PRODUCT_NOT_FOUND", "Product not found", nil)
			return
		}
		h.logger.WithError(err).WithField("product_id", productID).Error("Failed to load product behavior")
		respondError(c, http.StatusInternalServerError, "ANALYTICS_UNAVAILABLE", "Failed to load product behavior", nil)
		return
	}

	c.JSON(http.StatusOK, behavior)
}
