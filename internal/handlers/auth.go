package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/internal/middleware"
	"github.com/temcen/searchrank/internal/services"
	"github.com/temcen/searchrank/pkg/models"
)

type TokenIssuer interface {
	IssueToken(ctx context.Context, req models.AuthRequest) (*models.AuthResponse, error)
	RevokeToken(ctx context.Context, tokenID string) error
}

type AuthHandler struct {
	logger *logrus.Logger
	issuer TokenIssuer
}

func NewAuthHandler(logger *logrus.Logger, issuer TokenIssuer) *AuthHandler {
	return &AuthHandler{logger: logger, issuer: issuer}
}

// Token exchanges an API key for a signed JWT.
func (h *AuthHandler) Token(c *gin.Context) {
	var req models.AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.APIKey == "" {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "api_key is required", nil)
		return
	}

	resp, err := h.issuer.IssueToken(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidAPIKey) {
			respondError(c, http.StatusUnauthorized, "INVALID_API_KEY", "Invalid API key", nil)
			return
		}
		h.logger.WithError(err).Error("Failed to issue token")
		respondError(c, http.StatusInternalServerError, "TOKEN_ISSUE_FAILED", "Failed to issue token", nil)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Revoke ends the session behind the bearer token used on this request.
func (h *AuthHandler) Revoke(c *gin.Context) {
	tokenID := c.GetString(middleware.ContextTokenID)
	if tokenID == "" {
		respondError(c, http.StatusBadRequest, "TOKEN_REQUIRED", "Revocation requires a bearer token", nil)
		return
	}

	if err := h.issuer.RevokeToken(c.Request.Context(), tokenID); err != nil {
		h.logger.WithError(err).Error("Failed to revoke token")
		respondError(c, http.StatusInternalServerError, "TOKEN_REVOKE_FAILED", "Failed to revoke token", nil)
		return
	}
	c.Status(http.StatusNoContent)
}
