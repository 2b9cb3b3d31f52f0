package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/internal/config"
	"github.com/temcen/searchrank/internal/services"
)

type Handlers struct {
	Health    *HealthHandler
	Events    *EventHandler
	Search    *SearchHandler
	Analytics *AnalyticsHandler
	Products  *ProductHandler
	Auth      *AuthHandler
	Metrics   gin.HandlerFunc
}

func New(cfg *config.Config, logger *logrus.Logger, svc *services.Services, gatherer prometheus.Gatherer) *Handlers {
	var related services.RelatedProductsInterface
	if svc.Graph.Enabled() {
		related = svc.Graph
	}

	return &Handlers{
		Health:    NewHealthHandler(logger, svc.Health),
		Events:    NewEventHandler(logger, svc.Processor, svc.Analytics, cfg.Events),
		Search:    NewSearchHandler(logger, svc.Search),
		Analytics: NewAnalyticsHandler(logger, svc.Analytics),
		Products:  NewProductHandler(logger, svc.Products, related),
		Auth:      NewAuthHandler(logger, svc.Auth),
		Metrics:   MetricsHandler(gatherer),
	}
}
