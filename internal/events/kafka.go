// Package events publishes forecast lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-chart-service/internal/models"
	"github.com/kjstillabower/weather-chart-service/internal/observability"
)

// DefaultTopic receives ForecastFetched events when no topic is configured.
const DefaultTopic = "forecast-fetched"

// recordProducer is the subset of *kgo.Client the publisher needs.
type recordProducer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// KafkaPublisher sends ForecastFetched events asynchronously, keyed by cache key so
// events for one city stay ordered within a partition.
type KafkaPublisher struct {
	topic  string
	client recordProducer
	logger *zap.Logger
}

// NewKafkaPublisher creates a franz-go producer for brokers. It does not dial;
// connections are made on first produce.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher: no brokers configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newKafkaPublisher(client, topic, logger), nil
}

func newKafkaPublisher(client recordProducer, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{topic: topic, client: client, logger: logger}
}

// Publish enqueues ev and returns without waiting for the broker. Delivery failures
// are logged and counted from the produce callback.
func (p *KafkaPublisher) Publish(ctx context.Context, ev models.ForecastFetched) error {
	value, err := json.Marshal(ev)
	if err != nil {
		observability.EventsPublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("marshal forecast event: %w", err)
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.CacheKey),
		Value: value,
	}
	p.client.Produce(ctx, rec, func(r *kgo.Record, err error) {
		if err != nil {
			observability.EventsPublishedTotal.WithLabelValues("error").Inc()
			p.logger.Warn("kafka publish failed",
				zap.String("topic", r.Topic),
				zap.String("key", string(r.Key)),
				zap.Error(err),
			)
			return
		}
		observability.EventsPublishedTotal.WithLabelValues("success").Inc()
		p.logger.Debug("forecast event published",
			zap.String("topic", r.Topic),
			zap.String("key", string(r.Key)),
			zap.Int32("partition", r.Partition),
			zap.Int64("offset", r.Offset),
		)
	})
	return nil
}

// Close flushes buffered records until ctx is done, then closes the client.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	err := p.client.Flush(ctx)
	p.client.Close()
	if err != nil {
		return fmt.Errorf("flush kafka producer: %w", err)
	}
	return nil
}
