// Package publisher sends invalidation events to Kafka.
package publisher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/postgis-collections/internal/invalidation"
)

type Publisher struct {
	topic string
	prod  sarama.SyncProducer
}

// New connects a synchronous producer to brokers.
func New(brokers []string, topic string) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("publisher: create producer: %w", err)
	}
	return NewWithProducer(prod, topic), nil
}

func NewWithProducer(prod sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{topic: topic, prod: prod}
}

// Publish validates ev and sends it keyed by the table part of its
// collection, so every variant of a table shares one partition and
// events for it stay ordered.
func (p *Publisher) Publish(ev invalidation.Event) (partition int32, offset int64, err error) {
	if ev.Version == 0 {
		ev.Version = 1
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	if err := ev.Validate(); err != nil {
		return 0, 0, fmt.Errorf("publisher: %w", err)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return 0, 0, fmt.Errorf("publisher: marshal: %w", err)
	}
	table, _, _ := strings.Cut(ev.Collection, "/")
	partition, offset, err = p.prod.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(table),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("publisher: send: %w", err)
	}
	return partition, offset, nil
}

func (p *Publisher) Close() error {
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("publisher: close producer: %w", err)
	}
	return nil
}
