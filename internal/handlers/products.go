package handlers

import (
	"errors"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/internal/services"
	"github.com/temcen/searchrank/pkg/models"
)

type ProductHandler struct {
	logger    *logrus.Logger
	products  services.ProductServiceInterface
	related   services.RelatedProductsInterface
	validator *validator.Validate
}

func NewProductHandler(logger *logrus.Logger, products services.ProductServiceInterface, related services.RelatedProductsInterface) *ProductHandler {
	return &ProductHandler{
		logger:    logger,
		products:  products,
		related:   related,
		validator: validator.New(),
	}
}

func (h *ProductHandler) Create(c *gin.Context) {
	var req models.ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", err.Error())
		return
	}

	product, err := h.products.Create(c.Request.Context(), req)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create product")
		respondError(c, http.StatusInternalServerError, "PRODUCT_CREATE_FAILED", "Failed to create product", nil)
		return
	}

	c.JSON(http.StatusCreated, product)
}

func (h *ProductHandler) CreateBatch(c *gin.Context) {
	var req models.ProductBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", err.Error())
		return
	}

	created, err := h.products.CreateBatch(c.Request.Context(), req.Products)
	if err != nil {
		h.logger.WithError(err).WithField("created", len(created)).Error("Product batch failed")
		respondError(c, http.StatusInternalServerError, "PRODUCT_CREATE_FAILED", "Failed to create all products", gin.H{
			"created": created,
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"products": created,
		"count":    len(created),
	})
}

func (h *ProductHandler) Get(c *gin.Context) {
	id, ok := productIDParam(c)
	if !ok {
		return
	}

	product, err := h.products.Get(c.Request.Context(), id)
	if err != nil {
		h.productError(c, id, err, "Failed to load product")
		return
	}
	c.JSON(http.StatusOK, product)
}

// List pages through the catalog with skip/limit query parameters.
func (h *ProductHandler) List(c *gin.Context) {
	skip, ok := intQuery(c, "skip", 0, 0, math.MaxInt32)
	if !ok {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY_PARAM", "skip must be a non-negative integer", nil)
		return
	}
	limit, ok := intQuery(c, "limit", 100, 1, 1000)
	if !ok {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY_PARAM", "limit must be an integer between 1 and 1000", nil)
		return
	}

	products, err := h.products.List(c.Request.Context(), skip, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list products")
		respondError(c, http.StatusInternalServerError, "PRODUCT_ERROR", "Failed to list products", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"products": products,
		"count":    len(products),
		"skip":     skip,
		"limit":    limit,
	})
}

func (h *ProductHandler) Count(c *gin.Context) {
	total, err := h.products.Count(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to count products")
		respondError(c, http.StatusInternalServerError, "PRODUCT_ERROR", "Failed to count products", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total_products": total})
}

func (h *ProductHandler) Delete(c *gin.Context) {
	id, ok := productIDParam(c)
	if !ok {
		return
	}

	if err := h.products.Delete(c.Request.Context(), id); err != nil {
		h.productError(c, id, err, "Failed to delete product")
		return
	}
	c.Status(http.StatusNoContent)
}

// Related lists products that shoppers engaged with alongside this one.
func (h *ProductHandler) Related(c *gin.Context) {
	id, ok := productIDParam(c)
	if !ok {
		return
	}
	if h.related == nil || !h.related.Enabled() {
		respondError(c, http.StatusServiceUnavailable, "GRAPH_DISABLED", "Engagement graph is not enabled", nil)
		return
	}
	limit, ok := intQuery(c, "limit", 10, 1, 50)
	if !ok {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY_PARAM", "limit must be an integer between 1 and 50", nil)
		return
	}

	related, err := h.related.RelatedProducts(c.Request.Context(), id, limit)
	if err != nil {
		h.logger.WithError(err).WithField("product_id", id).Error("Related products lookup failed")
		respondError(c, http.StatusInternalServerError, "GRAPH_QUERY_FAILED", "Failed to load related products", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product_id": id,
		"related":    related,
		"count":      len(related),
	})
}

func (h *ProductHandler) productError(c *gin.Context, id uuid.UUID, err error, message string) {
	if errors.Is(err, services.ErrProductNotFound) {
		respondError(c, http.StatusNotFound, "PRODUCT_NOT_FOUND", "Product not found", nil)
		return
	}
	h.logger.WithError(err).WithField("product_id", id).Error(message)
	respondError(c, http.StatusInternalServerError, "PRODUCT_ERROR", message, nil)
}

func productIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PRODUCT_ID", "Product ID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}
