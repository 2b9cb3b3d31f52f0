package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/pkg/models"
)

const (
	ContextClientID = "client_id"
	ContextRole     = "role"
	ContextTokenID  = "token_id"
)

// Authenticator is the subset of the auth service the middleware needs.
type Authenticator interface {
	RoleForAPIKey(apiKey string) (string, error)
	ValidateToken(ctx context.Context, token string) (*models.JWTClaims, error)
}

type authFailure struct {
	code    string
	message string
}

// identify resolves the caller from X-API-Key or an Authorization Bearer
// credential. Bearer values without dots are treated as API keys.
func identify(c *gin.Context, auth Authenticator) (clientID, role string, failure *authFailure) {
	if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
		return apiKeyIdentity(c, auth, apiKey)
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", "", &authFailure{"MISSING_AUTHORIZATION", "Authorization header or X-API-Key is required"}
	}

	tokenParts := strings.SplitN(authHeader, " ", 2)
	if len(tokenParts) != 2 || tokenParts[0] != "Bearer" || tokenParts[1] == "" {
		return "", "", &authFailure{"INVALID_AUTHORIZATION_FORMAT", "Authorization header must be in format 'Bearer <token>'"}
	}

	credential := tokenParts[1]
	if !strings.Contains(credential, ".") {
		return apiKeyIdentity(c, auth, credential)
	}

	claims, err := auth.ValidateToken(c.Request.Context(), credential)
	if err != nil {
		return "", "", &authFailure{"INVALID_TOKEN", "Invalid or expired token"}
	}
	c.Set(ContextTokenID, claims.ID)
	return claims.ClientID, claims.Role, nil
}

func apiKeyIdentity(c *gin.Context, auth Authenticator, apiKey string) (string, string, *authFailure) {
	role, err := auth.RoleForAPIKey(apiKey)
	if err != nil {
		return "", "", &authFailure{"INVALID_API_KEY", "Invalid API key"}
	}
	clientID := c.GetHeader("X-Client-ID")
	if clientID == "" {
		clientID = "key:" + apiKey[:min(len(apiKey), 6)]
	}
	return clientID, role, nil
}

// Auth rejects requests without valid credentials.
func Auth(auth Authenticator, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, role, failure := identify(c, auth)
		if failure != nil {
			logger.WithFields(logrus.Fields{
				"code": failure.code,
				"path": c.Request.URL.Path,
			}).Warn("Authentication failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    failure.code,
					"message": failure.message,
				},
			})
			return
		}

		c.Set(ContextClientID, clientID)
		c.Set(ContextRole, role)
		c.Next()
	}
}

// OptionalAuth records the caller's identity when credentials are present
// and valid, and lets anonymous requests through.
func OptionalAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-API-Key") != "" || c.GetHeader("Authorization") != "" {
			if clientID, role, failure := identify(c, auth); failure == nil {
				c.Set(ContextClientID, clientID)
				c.Set(ContextRole, role)
			}
		}
		c.Next()
	}
}

// RequireRole must run after Auth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{
					"code":    "FORBIDDEN",
					"message": "This operation requires the " + role + " role",
				},
			})
			return
		}
		c.Next()
	}
}

// ClientFromContext returns the authenticated client, falling back to the
// remote address for anonymous callers.
func ClientFromContext(c *gin.Context) (clientID, role string) {
	clientID = c.GetString(ContextClientID)
	role = c.GetString(ContextRole)
	if clientID == "" {
		clientID = "ip:" + c.ClientIP()
	}
	return clientID, role
}
