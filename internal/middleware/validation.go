package middleware

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/temcen/searchrank/internal/validation"
	"github.com/temcen/searchrank/pkg/models"
)

const maxBodyBytes = 1 << 20

type ValidationMiddleware struct {
	validator *validation.SchemaValidator
}

func NewValidationMiddleware(validator *validation.SchemaValidator) *ValidationMiddleware {
	return &ValidationMiddleware{validator: validator}
}

// ValidateBody checks the JSON body against a schema and restores it for the
// handler to bind.
func (vm *ValidationMiddleware) ValidateBody(schemaName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		bodyBytes, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
		if err != nil {
			sendValidationError(c, "BODY_READ_ERROR", "Failed to read request body", nil)
			return
		}
		if len(bodyBytes) > maxBodyBytes {
			sendValidationError(c, "BODY_TOO_LARGE", "Request body is too large", nil)
			return
		}
		if len(bytes.TrimSpace(bodyBytes)) == 0 {
			sendValidationError(c, "EMPTY_BODY", "Request body is required", nil)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

		result := vm.validator.Validate(schemaName, bodyBytes)
		if !result.Valid {
			sendValidationError(c, "VALIDATION_ERROR", "Request validation failed", gin.H{
				"validation_errors": result.Errors,
				"field_errors":      result.FieldErrors(),
			})
			return
		}

		c.Next()
	}
}

// ValidateQueryParams checks the shared query and path parameters.
func (vm *ValidationMiddleware) ValidateQueryParams() gin.HandlerFunc {
	return func(c *gin.Context) {
		errs := make([]validation.ValidationError, 0)

		if topK := c.Query("top_k"); topK != "" && !isIntInRange(topK, 1, 100) {
			errs = append(errs, paramError("top_k", "top_k must be an integer between 1 and 100", topK))
		}
		if limit := c.Query("limit"); limit != "" && !isIntInRange(limit, 1, 1000) {
			errs = append(errs, paramError("limit", "limit must be an integer between 1 and 1000", limit))
		}
		if eventType := c.Query("event_type"); eventType != "" && !models.EventType(eventType).Valid() {
			errs = append(errs, paramError("event_type", fmt.Sprintf("event_type must be one of: %s", eventTypeList()), eventType))
		}
		for _, name := range []string{"productId", "id"} {
			if v := c.Param(name); v != "" {
				if _, err := uuid.Parse(v); err != nil {
					errs = append(errs, validation.ValidationError{
						Field:   name,
						Message: "must be a valid UUID",
						Code:    "INVALID_PATH_PARAM",
						Value:   v,
					})
				}
			}
		}

		if len(errs) > 0 {
			sendValidationError(c, "VALIDATION_ERROR", "Request validation failed", gin.H{
				"validation_errors": errs,
			})
			return
		}
		c.Next()
	}
}

// RequireJSON rejects bodies that are not declared as JSON.
func RequireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPut {
			if !strings.HasPrefix(c.ContentType(), "application/json") {
				c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{
					"error": gin.H{
						"code":    "UNSUPPORTED_MEDIA_TYPE",
						"message": "Content-Type must be application/json",
					},
				})
				return
			}
		}
		c.Next()
	}
}

func isIntInRange(value string, lo, hi int) bool {
	n, err := strconv.Atoi(value)
	return err == nil && n >= lo && n <= hi
}

func paramError(field, message, value string) validation.ValidationError {
	return validation.ValidationError{Field: field, Message: message, Code: "INVALID_QUERY_PARAM", Value: value}
}

func eventTypeList() string {
	names := make([]string, len(models.EventTypes))
	for i, t := range models.EventTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func sendValidationError(c *gin.Context, code, message string, details gin.H) {
	body := gin.H{
		"code":    code,
		"message": message,
	}
	if details != nil {
		body["details"] = details
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": body})
}
