package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/xtrntr/predictions/internal/models"
)

const connectAttempts = 5

// Publisher writes market events to a Kafka topic, keyed by market id so
// every event of a market lands on the same partition
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewProducerConfig returns a producer config that waits for all in-sync
// replicas and retries failed sends
func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

// NewPublisher connects to brokers, retrying while they come up
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	var (
		producer sarama.SyncProducer
		err      error
	)
	for i := 0; i < connectAttempts; i++ {
		producer, err = sarama.NewSyncProducer(brokers, NewProducerConfig())
		if err == nil {
			return NewPublisherWithProducer(producer, topic), nil
		}
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("failed to start producer after retries: %w", err)
}

// NewPublisherWithProducer wraps an existing producer
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// Name identifies the publisher as a notification sink
func (p *Publisher) Name() string { return "kafka" }

// Publish sends ev synchronously
func (p *Publisher) Publish(ctx context.Context, ev models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.MarketID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(ev.Type)},
		},
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send %s event for market %s: %w", ev.Type, ev.MarketID, err)
	}
	return nil
}

// Close flushes and closes the producer
func (p *Publisher) Close() error {
	return p.producer.Close()
}
