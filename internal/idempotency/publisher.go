package idempotency

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RawProducer sends already encoded messages
type RawProducer interface {
	ProduceRaw(ctx context.Context, topic, key string, value []byte) error
}

// Publisher publishes outbox events to Kafka
type Publisher struct {
	store     *Store
	producer  RawProducer
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

// NewPublisher creates a new outbox publisher
func NewPublisher(store *Store, producer RawProducer, logger *zap.Logger) *Publisher {
	return &Publisher{
		store:     store,
		producer:  producer,
		logger:    logger,
		interval:  250 * time.Millisecond,
		batchSize: 100,
	}
}

// Run starts the publisher loop
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.PublishBatch(ctx); err != nil {
				p.logger.Error("failed to publish batch", zap.Error(err))
			}
		}
	}
}

// PublishBatch publishes one batch of unpublished events in order and stops
// at the first failure so later events never overtake it
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	events, err := p.store.ListUnpublished(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list unpublished events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	published := 0
	for _, event := range events {
		if err := p.producer.ProduceRaw(ctx, event.Topic, event.Key, []byte(event.PayloadJSON)); err != nil {
			p.logger.Warn("failed to produce event",
				zap.String("event_id", event.EventID),
				zap.String("topic", event.Topic),
				zap.Error(err),
			)
			break
		}

		// a failure here republishes the event next batch
		if err := p.store.MarkPublished(ctx, event.EventID, time.Now().UnixMilli()); err != nil {
			p.logger.Error("failed to mark event as published",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			break
		}

		published++
		p.logger.Debug("published outbox event",
			zap.String("event_id", event.EventID),
			zap.String("topic", event.Topic),
		)
	}

	if published > 0 {
		p.logger.Info("published outbox batch",
			zap.Int("published", published),
			zap.Int("total", len(events)),
		)
	}
	return published, nil
}
