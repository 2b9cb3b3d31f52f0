package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/internal/services"
	"github.com/temcen/searchrank/pkg/models"
)

type SearchHandler struct {
	logger    *logrus.Logger
	search    services.SearchServiceInterface
	validator *validator.Validate
}

func NewSearchHandler(logger *logrus.Logger, search services.SearchServiceInterface) *SearchHandler {
	return &SearchHandler{
		logger:    logger,
		search:    search,
		validator: validator.New(),
	}
}

func (h *SearchHandler) Search(c *gin.Context) {
	var req models.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", err.Error())
		return
	}

	resp, err := h.search.Search(c.Request.Context(), &req)
	if err != nil {
		h.logger.WithError(err).WithField("query", req.Query).Error("Search failed")
		respondError(c, http.StatusInternalServerError, "SEARCH_FAILED", "Search failed", nil)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Quick is the GET variant without query expansion or explanations.
func (h *SearchHandler) Quick(c *gin.Context) {
	query := c.Query("q")
	if query == "" || len(query) > 500 {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", "q is required and must be at most 500 characters", nil)
		return
	}
	topK, ok := intQuery(c, "top_k", 10, 1, 100)
	if !ok {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY_PARAM", "top_k must be an integer between 1 and 100", nil)
		return
	}

	var filters models.SearchFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY_PARAM", "Invalid filter parameters", err.Error())
		return
	}
	if err := h.validator.Struct(&filters); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", "Invalid filter parameters", err.Error())
		return
	}

	resp, err := h.search.QuickSearch(c.Request.Context(), query, topK, filters)
	if err != nil {
		h.logger.WithError(err).WithField("query", query).Error("Quick search failed")
		respondError(c, http.StatusInternalServerError, "SEARCH_FAILED", "Search failed", nil)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *SearchHandler) Similar(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("productId"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PRODUCT_ID", "Product ID must be a valid UUID", nil)
		return
	}
	topK, ok := intQuery(c, "top_k", 5, 1, 20)
	if !ok {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY_PARAM", "top_k must be an integer between 1 and 20", nil)
		return
	}

	similar, err := h.search.SimilarProducts(c.Request.Context(), productID, topK)
	if err != nil {
		if errors.Is(err, services.ErrProductNotFound) {
			respondError(c, http.StatusNotFound, "PRODUCT_NOT_FOUND", "Product not found", nil)
			return
		}
		h.logger.WithError(err).WithField("product_id", productID).Error("Similar products lookup failed")
		respondError(c, http.StatusInternalServerError, "SEARCH_FAILED", "Failed to find similar products", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product_id": productID,
		"similar":    similar,
		"count":      len(similar),
	})
}
