package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/internal/config"
	"github.com/temcen/searchrank/internal/database"
	"github.com/temcen/searchrank/internal/handlers"
	"github.com/temcen/searchrank/internal/middleware"
	"github.com/temcen/searchrank/internal/services"
	"github.com/temcen/searchrank/internal/validation"
	"github.com/temcen/searchrank/pkg/models"
)

type App struct {
	config    *config.Config
	logger    *logrus.Logger
	db        *database.Database
	registry  *prometheus.Registry
	services  *services.Services
	handlers  *handlers.Handlers
	validator *validation.SchemaValidator
	router    *gin.Engine
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, err := services.New(cfg, app.logger, db, app.registry)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svc

	app.validator, err = validation.NewSchemaValidator()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load request schemas: %w", err)
	}

	app.handlers = handlers.New(cfg, app.logger, svc, app.registry)
	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func (a *App) Logger() *logrus.Logger {
	return a.logger
}

// Start launches the background workers.
func (a *App) Start() {
	a.services.Start()
	a.logger.Info("Background workers started")
}

// Shutdown drains the event queue before the connections it writes through
// are closed.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	done := make(chan error, 1)
	go func() { done <- a.services.Stop() }()

	errs := []error{awaitDrain(ctx, done, func() int {
		return a.services.Processor.Stats().QueueDepth
	}, a.logger)}

	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// awaitDrain blocks until the workers have stopped. Past the deadline it
// reports the backlog and keeps waiting: the queued events still need the
// database pools open.
func awaitDrain(ctx context.Context, done <-chan error, queueDepth func() int, logger *logrus.Logger) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	logger.WithField("queue_depth", queueDepth()).
		Warn("Shutdown deadline passed while draining events, waiting for the queue to empty")
	err := <-done
	return errors.Join(fmt.Errorf("draining background workers overran the shutdown deadline: %w", ctx.Err()), err)
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	h := a.handlers
	v := middleware.NewValidationMiddleware(a.validator)
	cache := a.db.Redis.Warm
	cacheCfg := middleware.CacheConfig{KeyPrefix: "http-cache:analytics"}

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config.Security.CORS))
	router.Use(middleware.Compression())

	router.GET("/health", h.Health.Check)
	router.GET("/health/live", h.Health.Live)
	if a.config.Monitoring.Enabled {
		router.GET(a.config.Monitoring.MetricsPath, h.Metrics)
	}

	requireAuth := middleware.Auth(a.services.Auth, a.logger)
	requireAdmin := middleware.RequireRole(models.RoleAdmin)

	api := router.Group("/api/v1")
	api.Use(middleware.OptionalAuth(a.services.Auth))
	api.Use(middleware.RateLimit(a.services.RateLimit, a.logger))
	api.Use(v.ValidateQueryParams())
	{
		api.POST("/auth/token", middleware.RequireJSON(), h.Auth.Token)
		api.DELETE("/auth/token", requireAuth, h.Auth.Revoke)

		events := api.Group("/events", middleware.RequireJSON())
		{
			events.POST("", v.ValidateBody(validation.SchemaEvent), h.Events.Track)
			events.POST("/batch", h.Events.TrackBatch)
			events.POST("/click", h.Events.TrackClick)
			events.POST("/cart", h.Events.TrackCart)
			events.POST("/purchase", h.Events.TrackPurchase)
			events.POST("/dwell", h.Events.TrackDwell)
			events.GET("/recent", h.Events.Recent)
			events.GET("/stats", h.Events.Stats)
		}

		search := api.Group("/search")
		{
			search.POST("", middleware.RequireJSON(), v.ValidateBody(validation.SchemaSearch), h.Search.Search)
			search.GET("/quick", h.Search.Quick)
			search.GET("/similar/:productId", h.Search.Similar)
		}

		analytics := api.Group("/analytics")
		{
			analytics.GET("/summary", middleware.ResponseCache(cache, cacheCfg, a.logger), h.Analytics.Summary)
			analytics.GET("/top-products", middleware.ResponseCache(cache, cacheCfg, a.logger), h.Analytics.TopProducts)
			analytics.POST("/recalculate-scores", requireAuth, requireAdmin,
				middleware.InvalidateCache(cache, cacheCfg.KeyPrefix, a.logger), h.Analytics.RecalculateScores)
			analytics.GET("/products/:productId/behavior", h.Analytics.ProductBehavior)
		}

		products := api.Group("/products")
		{
			products.POST("", requireAuth, middleware.RequireJSON(), v.ValidateBody(validation.SchemaProduct), h.Products.Create)
			products.POST("/batch", requireAuth, middleware.RequireJSON(), h.Products.CreateBatch)
			products.GET("", h.Products.List)
			products.GET("/count/total", h.Products.Count)
			products.GET("/:id", h.Products.Get)
			products.DELETE("/:id", requireAuth, requireAdmin, h.Products.Delete)
			products.GET("/:id/related", h.Products.Related)
		}
	}

	a.router = router
}
