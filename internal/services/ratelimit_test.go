package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/temcen/searchrank/internal/config"
	"github.com/temcen/searchrank/pkg/models"
)

func TestRateLimitService_Local(t *testing.T) {
	svc := NewRateLimitService(config.RateLimitConfig{Default: 2, Admin: 4, Window: time.Hour}, nil, testLogger())
	ctx := context.Background()

	t.Run("client limit", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			allowed, info := svc.Allow(ctx, "ip:1.2.3.4", models.RoleClient)
			assert.True(t, allowed)
			assert.Equal(t, 2, info.Limit)
		}
		allowed, info := svc.Allow(ctx, "ip:1.2.3.4", models.RoleClient)
		assert.False(t, allowed)
		assert.Zero(t, info.Remaining)
	})

	t.Run("clients are independent", func(t *testing.T) {
		allowed, _ := svc.Allow(ctx, "ip:5.6.7.8", models.RoleClient)
		assert.True(t, allowed)
	})

	t.Run("admins get the higher limit", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			allowed, info := svc.Allow(ctx, "key:admin", models.RoleAdmin)
			assert.True(t, allowed)
			assert.Equal(t, 4, info.Limit)
		}
		allowed, _ := svc.Allow(ctx, "key:admin", models.RoleAdmin)
		assert.False(t, allowed)
	})
}

func TestRateLimitService_Defaults(t *testing.T) {
	svc := NewRateLimitService(config.RateLimitConfig{}, nil, testLogger())

	assert.Equal(t, 1000, svc.limitForRole(models.RoleClient))
	assert.Equal(t, 10000, svc.limitForRole(models.RoleAdmin))
	assert.Equal(t, time.Hour, svc.cfg.Window)
}
