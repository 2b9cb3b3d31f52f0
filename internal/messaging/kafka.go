package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/searchrank/internal/config"
	"github.com/temcen/searchrank/pkg/models"
)

const (
	DefaultEventsTopic          = "search-events"
	DefaultProcessedEventsTopic = "search-events-processed"
	DefaultConsumerGroup        = "searchrank-ingest"
)

// EventSubmitter accepts an event request for asynchronous processing.
type EventSubmitter interface {
	Submit(req *models.EventRequest) (*models.Event, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Stats() kafka.ReaderStats
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProcessedEventMessage is what the publisher emits after an event has been
// persisted and applied to its product's score.
type ProcessedEventMessage struct {
	Event       models.Event `json:"event"`
	ProcessedAt time.Time    `json:"processed_at"`
}

// EventConsumer feeds events published by other services into the event
// processor. Messages that cannot be decoded or are rejected go to the
// dead letter topic and are committed.
type EventConsumer struct {
	reader    messageReader
	dlqWriter messageWriter
	submitter EventSubmitter
	topic     string
	logger    *logrus.Logger
}

func NewEventConsumer(cfg config.KafkaConfig, submitter EventSubmitter, logger *logrus.Logger) *EventConsumer {
	topic := orDefault(cfg.Topics.Events, DefaultEventsTopic)
	group := orDefault(cfg.GroupID, DefaultConsumerGroup)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        group,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	dlq := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic + "-dlq",
		RequiredAcks: kafka.RequireOne,
	}

	return newEventConsumer(reader, dlq, submitter, topic, logger)
}

func newEventConsumer(reader messageReader, dlq messageWriter, submitter EventSubmitter, topic string, logger *logrus.Logger) *EventConsumer {
	return &EventConsumer{
		reader:    reader,
		dlqWriter: dlq,
		submitter: submitter,
		topic:     topic,
		logger:    logger,
	}
}

// Run consumes until ctx is cancelled.
func (c *EventConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.WithError(err).Error("Failed to read message from Kafka")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.WithError(err).WithField("offset", msg.Offset).Warn("Failed to commit Kafka offset")
		}
	}
}

func (c *EventConsumer) handle(ctx context.Context, msg kafka.Message) {
	var req models.EventRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		c.deadLetter(ctx, msg, fmt.Errorf("failed to decode event: %w", err))
		return
	}

	event, err := c.submitter.Submit(&req)
	if err != nil {
		c.deadLetter(ctx, msg, err)
		return
	}

	c.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"partition":  msg.Partition,
		"offset":     msg.Offset,
	}).Debug("Event consumed from Kafka")
}

func (c *EventConsumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "original_topic", Value: []byte(c.topic)},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "dlq_timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	if err := c.dlqWriter.WriteMessages(ctx, dlqMsg); err != nil {
		c.logger.WithError(err).Error("Failed to send message to DLQ")
		return
	}

	c.logger.WithError(cause).WithField("offset", msg.Offset).Warn("Event message sent to DLQ")
}

func (c *EventConsumer) Stats() map[string]interface{} {
	stats := c.reader.Stats()
	return map[string]interface{}{
		"consumer_lag":  stats.Lag,
		"messages_read": stats.Messages,
		"rebalances":    stats.Rebalances,
		"errors":        stats.Errors,
	}
}

func (c *EventConsumer) Close() error {
	return errors.Join(c.reader.Close(), c.dlqWriter.Close())
}

// EventPublisher republishes processed events keyed by product so that
// downstream consumers see each product's events in order.
type EventPublisher struct {
	writer messageWriter
	topic  string
	logger *logrus.Logger
}

func NewEventPublisher(cfg config.KafkaConfig, logger *logrus.Logger) *EventPublisher {
	topic := orDefault(cfg.Topics.ProcessedEvents, DefaultProcessedEventsTopic)
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.WithError(err).WithField("messages", len(messages)).Error("Failed to publish processed events")
			}
		},
	}
	return newEventPublisher(writer, topic, logger)
}

func newEventPublisher(writer messageWriter, topic string, logger *logrus.Logger) *EventPublisher {
	return &EventPublisher{writer: writer, topic: topic, logger: logger}
}

// EventProcessed publishes the event. The writer is asynchronous so the event
// worker is never held up by the broker.
func (p *EventPublisher) EventProcessed(ctx context.Context, event *models.Event) {
	msg, err := processedMessage(event)
	if err != nil {
		p.logger.WithError(err).WithField("event_id", event.ID).Error("Failed to encode processed event")
		return
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithError(err).WithField("event_id", event.ID).Error("Failed to publish processed event")
	}
}

func processedMessage(event *models.Event) (kafka.Message, error) {
	payload := ProcessedEventMessage{Event: *event, ProcessedAt: time.Now().UTC()}
	value, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, err
	}

	key := event.ID.String()
	if event.ProductID != nil {
		key = event.ProductID.String()
	}

	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID.String())},
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}, nil
}

func (p *EventPublisher) Close() error {
	return p.writer.Close()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
