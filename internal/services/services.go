package services

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/internal/config"
	"github.com/temcen/searchrank/internal/database"
	"github.com/temcen/searchrank/internal/messaging"
	"github.com/temcen/searchrank/internal/ml"
	"github.com/temcen/searchrank/internal/store"
)

type Services struct {
	Metrics      *Metrics
	Store        store.Store
	Embedding    ml.EmbeddingService
	Learning     *LearningEngine
	Ranking      *RankingEngine
	Processor    *EventProcessor
	Explanations *ExplanationService
	Search       *SearchService
	Products     *ProductService
	Analytics    *AnalyticsService
	Graph        *EngagementGraph
	Auth         *AuthService
	RateLimit    *RateLimitService
	Health       *HealthService
	Consumer     *messaging.EventConsumer
	Publisher    *messaging.EventPublisher

	logger         *logrus.Logger
	cancelConsumer context.CancelFunc
	consumerDone   sync.WaitGroup
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database, reg prometheus.Registerer) (*Services, error) {
	metrics := NewMetrics(reg)
	st := store.NewPostgresStore(db.PG, logger)

	embedder := ml.NewTextEmbeddingService(cfg.Embedding, cfg.AI.CircuitBreaker, db.Redis.Warm, logger, metrics.SetBreakerState)
	llm := ml.NewChatClient(cfg.AI, logger, metrics.SetBreakerState)
	explanations := NewExplanationService(llm, db.Redis.Warm, cfg.AI, logger)

	learning := NewLearningEngine(st, cfg.Learning, logger, metrics)
	ranking := NewRankingEngine(st, RankingWeights{
		Semantic: cfg.Ranking.SemanticWeight,
		Behavior: cfg.Ranking.BehaviorWeight,
	}, logger)

	graph := NewEngagementGraph(db.Neo4j, st, cfg.Neo4j, logger)
	observers := []EventObserver{graph}

	var publisher *messaging.EventPublisher
	if cfg.Kafka.Enabled {
		publisher = messaging.NewEventPublisher(cfg.Kafka, logger)
		observers = append(observers, publisher)
	}

	processor := NewEventProcessor(st, learning, logger, metrics, observers...)

	var consumer *messaging.EventConsumer
	if cfg.Kafka.Enabled {
		consumer = messaging.NewEventConsumer(cfg.Kafka, processor, logger)
	}

	health := NewHealthService(DatabaseChecks(db), processor, logger, metrics)

	return &Services{
		Metrics:      metrics,
		Store:        st,
		Embedding:    embedder,
		Learning:     learning,
		Ranking:      ranking,
		Processor:    processor,
		Explanations: explanations,
		Search:       NewSearchService(embedder, st, st, ranking, learning, explanations, cfg.Ranking, logger, metrics),
		Products:     NewProductService(st, embedder, logger),
		Analytics:    NewAnalyticsService(st, learning, logger),
		Graph:        graph,
		Auth:         NewAuthService(cfg.Auth, db.Redis.Hot, logger),
		RateLimit:    NewRateLimitService(cfg.Auth.RateLimit, db.Redis.Hot, logger),
		Health:       health,
		Consumer:     consumer,
		Publisher:    publisher,
		logger:       logger,
	}, nil
}

// Start launches the background workers: the event processor, the
// engagement graph writer and, when Kafka is enabled, the event consumer.
func (s *Services) Start() {
	s.Processor.Start()
	s.Graph.Start()

	if s.Consumer != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancelConsumer = cancel
		s.consumerDone.Add(1)
		go func() {
			defer s.consumerDone.Done()
			if err := s.Consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.WithError(err).Error("Kafka event consumer stopped")
			}
		}()
	}
}

// Stop shuts the workers down in dependency order: no new Kafka input, then
// drain the event queue, then flush its observers.
func (s *Services) Stop() error {
	var errs []error

	if s.cancelConsumer != nil {
		s.cancelConsumer()
		s.consumerDone.Wait()
		errs = append(errs, s.Consumer.Close())
	}

	s.Processor.Stop()
	s.Graph.Stop()

	if s.Publisher != nil {
		errs = append(errs, s.Publisher.Close())
	}

	return errors.Join(errs...)
}
