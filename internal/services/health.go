package services

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/internal/database"
	"github.com/temcen/searchrank/pkg/models"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthCheck checks one dependency. A failing critical check makes the
// whole service unhealthy; a failing non-critical one only degrades it.
type HealthCheck struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// ProcessorStatsProvider exposes the event worker's state to health checks.
type ProcessorStatsProvider interface {
	Stats() models.ProcessorStats
}

type HealthStatus struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Services    map[string]string      `json:"services"`
	Critical    []string               `json:"critical_failures,omitempty"`
	NonCritical []string               `json:"non_critical_failures,omitempty"`
	LatencyMs   float64                `json:"latency_ms"`
	Processor   *models.ProcessorStats `json:"event_processor,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

type HealthService struct {
	checks    []HealthCheck
	processor ProcessorStatsProvider
	timeout   time.Duration
	logger    *logrus.Logger
	metrics   *Metrics
}

func NewHealthService(checks []HealthCheck, processor ProcessorStatsProvider, logger *logrus.Logger, metrics *Metrics) *HealthService {
	return &HealthService{
		checks:    checks,
		processor: processor,
		timeout:   3 * time.Second,
		logger:    logger,
		metrics:   metrics,
	}
}

// DatabaseChecks builds the checks for every configured connection.
func DatabaseChecks(db *database.Database) []HealthCheck {
	checks := []HealthCheck{
		{Name: "postgresql", Critical: true, Check: func(ctx context.Context) error { return db.PG.Ping(ctx) }},
	}
	if db.Redis != nil {
		checks = append(checks,
			HealthCheck{Name: "redis_hot", Check: func(ctx context.Context) error { return db.Redis.Hot.Ping(ctx).Err() }},
			HealthCheck{Name: "redis_warm", Check: func(ctx context.Context) error { return db.Redis.Warm.Ping(ctx).Err() }},
		)
	}
	if db.Neo4j != nil {
		checks = append(checks, HealthCheck{Name: "neo4j", Check: db.Neo4j.VerifyConnectivity})
	}
	return checks
}

// CheckHealth runs every check concurrently. A stopped event worker degrades
// the service since accepted events would pile up unprocessed.
func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{
		Status:    StatusHealthy,
		Timestamp: start,
		Services:  make(map[string]string, len(s.checks)),
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	errs := make([]error, len(s.checks))
	var wg sync.WaitGroup
	for i, check := range s.checks {
		wg.Add(1)
		go func(i int, check HealthCheck) {
			defer wg.Done()
			errs[i] = check.Check(ctx)
		}(i, check)
	}
	wg.Wait()

	for i, check := range s.checks {
		healthy := errs[i] == nil
		s.metrics.SetHealth(check.Name, healthy)
		if healthy {
			status.Services[check.Name] = StatusHealthy
			continue
		}

		status.Services[check.Name] = StatusUnhealthy
		entry := s.logger.WithError(errs[i]).WithField("service", check.Name)
		if check.Critical {
			status.Critical = append(status.Critical, check.Name)
			entry.Error("Critical dependency is unhealthy")
		} else {
			status.NonCritical = append(status.NonCritical, check.Name)
			entry.Warn("Dependency is unhealthy")
		}
	}
	sort.Strings(status.Critical)
	sort.Strings(status.NonCritical)

	if s.processor != nil {
		stats := s.processor.Stats()
		status.Processor = &stats
		if !stats.Running {
			status.NonCritical = append(status.NonCritical, "event_processor")
		}
	}

	switch {
	case len(status.Critical) > 0:
		status.Status = StatusUnhealthy
	case len(status.NonCritical) > 0:
		status.Status = StatusDegraded
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	status.Details = map[string]interface{}{
		"goroutines":    runtime.NumGoroutine(),
		"heap_alloc_mb": float64(mem.HeapAlloc) / 1024 / 1024,
	}
	status.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0

	return status
}
