package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/temcen/searchrank/internal/config"
	"github.com/temcen/searchrank/pkg/models"
)

// RateLimitService applies a per-client sliding window in Redis. Without
// Redis it falls back to an in-process token bucket per client.
type RateLimitService struct {
	cfg         config.RateLimitConfig
	logger      *logrus.Logger
	redisClient *redis.Client

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

func NewRateLimitService(cfg config.RateLimitConfig, redisClient *redis.Client, logger *logrus.Logger) *RateLimitService {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.Default <= 0 {
		cfg.Default = 1000
	}
	if cfg.Admin <= 0 {
		cfg.Admin = cfg.Default * 10
	}
	return &RateLimitService{
		cfg:         cfg,
		logger:      logger,
		redisClient: redisClient,
		local:       make(map[string]*rate.Limiter),
	}
}

func (s *RateLimitService) limitForRole(role string) int {
	if role == models.RoleAdmin {
		return s.cfg.Admin
	}
	return s.cfg.Default
}

// Allow records one request for clientID and reports whether it fits the
// window.
func (s *RateLimitService) Allow(ctx context.Context, clientID, role string) (bool, *models.RateLimitInfo) {
	limit := s.limitForRole(role)
	if s.redisClient == nil {
		return s.allowLocal(clientID, limit)
	}

	now := time.Now()
	key := fmt.Sprintf("rate_limit:client:%s", clientID)
	windowStart := now.Add(-s.cfg.Window)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	pipe := s.redisClient.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, s.cfg.Window)

	info := &models.RateLimitInfo{Limit: limit, ResetTime: now.Add(s.cfg.Window).Unix()}
	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open.
		s.logger.WithError(err).Error("Failed to execute rate limit pipeline")
		info.Remaining = limit - 1
		return true, info
	}

	count := int(countCmd.Val())
	info.Remaining = max(limit-count-1, 0)
	return count < limit, info
}

func (s *RateLimitService) allowLocal(clientID string, limit int) (bool, *models.RateLimitInfo) {
	s.mu.Lock()
	lim, ok := s.local[clientID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(limit)/s.cfg.Window.Seconds()), limit)
		s.local[clientID] = lim
	}
	s.mu.Unlock()

	allowed := lim.Allow()
	return allowed, &models.RateLimitInfo{
		Limit:     limit,
		Remaining: max(int(lim.Tokens()), 0),
		ResetTime: time.Now().Add(s.cfg.Window).Unix(),
	}
}
