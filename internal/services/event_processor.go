package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/internal/store"
	"github.com/temcen/searchrank/pkg/models"
)

var ErrInvalidEvent = errors.New("invalid event")

type processorState int

const (
	stateStopped processorState = iota
	stateRunning
	stateDraining
)

func (s processorState) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

// EventObserver is notified after an event has been persisted and applied.
// Implementations must not block the worker.
type EventObserver interface {
	EventProcessed(ctx context.Context, event *models.Event)
}

// EventProcessor owns the event queue and its single background worker.
// Delivery is at-most-once: an event whose processing fails is logged,
// counted as failed and dropped.
type EventProcessor struct {
	queue     *EventQueue
	store     store.EventStore
	engine    *LearningEngine
	observers []EventObserver
	validator *validator.Validate
	logger    *logrus.Logger
	metrics   *Metrics

	mu    sync.Mutex
	state processorState
	quit  chan struct{}
	done  chan struct{}

	processed atomic.Uint64
	failed    atomic.Uint64
}

func NewEventProcessor(st store.EventStore, engine *LearningEngine, logger *logrus.Logger, metrics *Metrics, observers ...EventObserver) *EventProcessor {
	return &EventProcessor{
		queue:     NewEventQueue(),
		store:     st,
		engine:    engine,
		observers: observers,
		validator: validator.New(),
		logger:    logger,
		metrics:   metrics,
	}
}

// Submit validates a request and enqueues the resulting event.
func (p *EventProcessor) Submit(req *models.EventRequest) (*models.Event, error) {
	if err := p.validator.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEvent, err.Error())
	}
	event := req.ToEvent()
	if err := p.Enqueue(event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Enqueue accepts the event without waiting for it to be persisted. Events
// enqueued while the worker is stopped are held until the next Start.
func (p *EventProcessor) Enqueue(event models.Event) error {
	if err := validateEvent(&event); err != nil {
		return err
	}
	depth := p.queue.Push(event)
	p.metrics.ObserveEnqueued(string(event.Type))
	p.metrics.SetQueueDepth(depth)
	return nil
}

func validateEvent(event *models.Event) error {
	if !event.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, event.Type)
	}
	if event.DwellTimeSeconds != nil && *event.DwellTimeSeconds < 0 {
		return fmt.Errorf("%w: dwell_time_seconds must be non-negative", ErrInvalidEvent)
	}
	if event.Position != nil && *event.Position < 0 {
		return fmt.Errorf("%w: position must be non-negative", ErrInvalidEvent)
	}
	return nil
}

// Start launches the worker. It is a no-op unless the processor is stopped.
func (p *EventProcessor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateStopped {
		return
	}
	p.quit = make(chan struct{})
	p.done = make(chan struct{})
	p.state = stateRunning
	go p.run(p.quit, p.done)

	p.logger.Info("Event processor started")
}

// Stop drains the queue, including events enqueued while draining, and then
// stops the worker. It is a no-op unless the processor is running.
func (p *EventProcessor) Stop() {
	p.mu.Lock()
	if p.state != stateRunning {
		p.mu.Unlock()
		return
	}
	p.state = stateDraining
	done := p.done
	p.mu.Unlock()

	p.logger.WithField("queue_depth", p.queue.Len()).Info("Draining event queue")

	p.queue.WaitIdle(func() {
		p.mu.Lock()
		p.state = stateStopped
		close(p.quit)
		p.mu.Unlock()
	})
	<-done

	p.logger.WithFields(logrus.Fields{
		"processed": p.processed.Load(),
		"failed":    p.failed.Load(),
	}).Info("Event processor stopped")
}

func (p *EventProcessor) run(quit, done chan struct{}) {
	defer close(done)
	for {
		for {
			event, ok := p.queue.Pop()
			if !ok {
				break
			}
			p.process(&event)
			p.queue.Done()
		}

		select {
		case <-quit:
			return
		case <-p.queue.Ready():
		}
	}
}

func (p *EventProcessor) process(event *models.Event) {
	ctx := context.Background()
	start := time.Now()

	err := p.safeSave(ctx, event)
	p.processed.Add(1)
	p.metrics.ObserveProcessed(string(event.Type), time.Since(start), err)
	p.metrics.SetQueueDepth(p.queue.Len())

	if err != nil {
		p.failed.Add(1)
		p.logger.WithError(err).WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
		}).Error("Failed to process event, dropping it")
		return
	}

	for _, obs := range p.observers {
		obs.EventProcessed(ctx, event)
	}
}

// safeSave keeps a panicking store or mutator from killing the worker.
func (p *EventProcessor) safeSave(ctx context.Context, event *models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing event: %v", r)
		}
	}()
	return p.store.SaveEvent(ctx, event, p.engine.Mutator(event))
}

func (p *EventProcessor) Stats() models.ProcessorStats {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	return models.ProcessorStats{
		Running:        state == stateRunning,
		State:          state.String(),
		QueueDepth:     p.queue.Len(),
		ProcessedCount: p.processed.Load(),
		FailedCount:    p.failed.Load(),
	}
}
