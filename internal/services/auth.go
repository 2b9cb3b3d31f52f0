package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/internal/config"
	"github.com/temcen/searchrank/pkg/models"
)

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrInvalidToken  = errors.New("invalid token")
)

const tokenIssuer = "searchrank"

// AuthService exchanges API keys for signed JWTs. Sessions are tracked in
// Redis when a client is configured so tokens can be revoked.
type AuthService struct {
	cfg         config.AuthConfig
	logger      *logrus.Logger
	redisClient *redis.Client
	jwtSecret   []byte
	roles       map[string]string
}

func NewAuthService(cfg config.AuthConfig, redisClient *redis.Client, logger *logrus.Logger) *AuthService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}

	roles := make(map[string]string, len(cfg.APIKeys)+len(cfg.AdminAPIKeys))
	for _, key := range cfg.APIKeys {
		roles[key] = models.RoleClient
	}
	for _, key := range cfg.AdminAPIKeys {
		roles[key] = models.RoleAdmin
	}

	return &AuthService{
		cfg:         cfg,
		logger:      logger,
		redisClient: redisClient,
		jwtSecret:   []byte(cfg.JWTSecret),
		roles:       roles,
	}
}

// RoleForAPIKey returns the role granted by an API key.
func (s *AuthService) RoleForAPIKey(apiKey string) (string, error) {
	if role, ok := s.roles[apiKey]; ok && apiKey != "" {
		return role, nil
	}
	return "", ErrInvalidAPIKey
}

func (s *AuthService) IssueToken(ctx context.Context, req models.AuthRequest) (*models.AuthResponse, error) {
	role, err := s.RoleForAPIKey(req.APIKey)
	if err != nil {
		return nil, err
	}
	if len(s.jwtSecret) == 0 {
		return nil, fmt.Errorf("token signing is not configured")
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = "anonymous"
	}

	now := time.Now()
	expiresAt := now.Add(s.cfg.TokenTTL)
	claims := &models.JWTClaims{
		ClientID: clientID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	if s.redisClient != nil {
		if err := s.redisClient.Set(ctx, sessionKey(claims.ID), clientID, s.cfg.TokenTTL).Err(); err != nil {
			s.logger.WithError(err).Warn("Failed to store session in Redis")
		}
	}

	return &models.AuthResponse{Token: tokenString, ExpiresAt: expiresAt, Role: role}, nil
}

func (s *AuthService) ValidateToken(ctx context.Context, tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if s.redisClient != nil {
		exists, err := s.redisClient.Exists(ctx, sessionKey(claims.ID)).Result()
		if err != nil {
			s.logger.WithError(err).Warn("Failed to check session in Redis")
		} else if exists == 0 {
			return nil, fmt.Errorf("%w: session revoked or expired", ErrInvalidToken)
		}
	}

	return claims, nil
}

func (s *AuthService) RevokeToken(ctx context.Context, tokenID string) error {
	if s.redisClient == nil {
		return fmt.Errorf("token revocation requires Redis")
	}
	if err := s.redisClient.Del(ctx, sessionKey(tokenID)).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

func sessionKey(tokenID string) string {
	return "session:" + tokenID
}
