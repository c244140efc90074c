// Package kafka publishes outbox events to Kafka.
package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/vasiliy-maslov/storefront/internal/outbox"
)

// batchTimeout bounds how long a writer waits to fill a batch before sending.
const batchTimeout = 10 * time.Millisecond

// Publisher keeps one writer per topic. Messages are keyed so that events of
// one order land on the same partition.
type Publisher struct {
	brokers []string

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewPublisher(brokers []string) *Publisher {
	return &Publisher{brokers: brokers, writers: make(map[string]*kafka.Writer)}
}

func (p *Publisher) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.writers[topic]
	if !ok {
		w = &kafka.Writer{
			Addr:                   kafka.TCP(p.brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           batchTimeout,
			AllowAutoTopicCreation: true,
		}
		p.writers[topic] = w
	}
	return w
}

// Publish writes the records with one WriteMessages call per topic, keeping
// the relative order of records within a topic.
func (p *Publisher) Publish(ctx context.Context, records []outbox.Record) error {
	topics, byTopic := groupByTopic(records, time.Now().UTC())
	for _, topic := range topics {
		if err := p.writer(topic).WriteMessages(ctx, byTopic[topic]...); err != nil {
			return fmt.Errorf("kafka: failed to write %d messages to %s: %w", len(byTopic[topic]), topic, err)
		}
	}
	return nil
}

func groupByTopic(records []outbox.Record, now time.Time) ([]string, map[string][]kafka.Message) {
	var topics []string
	byTopic := make(map[string][]kafka.Message)
	for _, rec := range records {
		if _, ok := byTopic[rec.Topic]; !ok {
			topics = append(topics, rec.Topic)
		}
		byTopic[rec.Topic] = append(byTopic[rec.Topic], kafka.Message{
			Key:   []byte(rec.Key),
			Value: rec.Payload,
			Time:  now,
		})
	}
	return topics, byTopic
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}
