package services

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/temcen/searchrank/pkg/models"
)

type staticStats models.ProcessorStats

func (s staticStats) Stats() models.ProcessorStats {
	return models.ProcessorStats(s)
}

func checkOK(context.Context) error   { return nil }
func checkFail(context.Context) error { return errors.New("connection refused") }

func TestHealthService_CheckHealth(t *testing.T) {
	running := staticStats{Running: true, State: "running"}
	stopped := staticStats{State: "stopped"}

	tests := []struct {
		name            string
		checks          []HealthCheck
		processor       ProcessorStatsProvider
		wantStatus      string
		wantCritical    []string
		wantNonCritical []string
	}{
		{
			name: "all healthy",
			checks: []HealthCheck{
				{Name: "postgresql", Critical: true, Check: checkOK},
				{Name: "redis_hot", Check: checkOK},
			},
			processor:  running,
			wantStatus: StatusHealthy,
		},
		{
			name: "non-critical failure degrades",
			checks: []HealthCheck{
				{Name: "postgresql", Critical: true, Check: checkOK},
				{Name: "neo4j", Check: checkFail},
			},
			processor:       running,
			wantStatus:      StatusDegraded,
			wantNonCritical: []string{"neo4j"},
		},
		{
			name: "critical failure is unhealthy",
			checks: []HealthCheck{
				{Name: "postgresql", Critical: true, Check: checkFail},
				{Name: "redis_warm", Check: checkFail},
			},
			processor:       running,
			wantStatus:      StatusUnhealthy,
			wantCritical:    []string{"postgresql"},
			wantNonCritical: []string{"redis_warm"},
		},
		{
			name:            "stopped worker degrades",
			checks:          []HealthCheck{{Name: "postgresql", Critical: true, Check: checkOK}},
			processor:       stopped,
			wantStatus:      StatusDegraded,
			wantNonCritical: []string{"event_processor"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewHealthService(tt.checks, tt.processor, testLogger(), nil)
			status := svc.CheckHealth(context.Background())

			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, tt.wantCritical, status.Critical)
			assert.Equal(t, tt.wantNonCritical, status.NonCritical)
			assert.Len(t, status.Services, len(tt.checks))
			assert.NotNil(t, status.Processor)
			assert.Contains(t, status.Details, "goroutines")
		})
	}
}

func TestHealthService_ReportsMetrics(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	svc := NewHealthService([]HealthCheck{
		{Name: "postgresql", Critical: true, Check: checkOK},
		{Name: "neo4j", Check: checkFail},
	}, nil, testLogger(), metrics)

	svc.CheckHealth(context.Background())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.healthStatus.WithLabelValues("postgresql")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.healthStatus.WithLabelValues("neo4j")))
}
