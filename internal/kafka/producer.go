package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tradejournal/position-engine/internal/models"
)

// Producer handles publishing events to Kafka
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{
		writer: writer,
		topic:  topic,
	}
}

// PublishPositionsRebuilt publishes a rebuild notification for one
// (account, instrument) pair. The message key is the pair, so all
// rebuilds of a pair land on one partition in order.
func (p *Producer) PublishPositionsRebuilt(ctx context.Context, account, instrument string, positionIDs []int) error {
	event := models.RebuildEvent{
		EventType:   "POSITIONS_REBUILT",
		Account:     account,
		Instrument:  instrument,
		PositionIDs: positionIDs,
		Timestamp:   time.Now(),
	}
	return p.publish(ctx, account+"/"+instrument, event)
}

func (p *Producer) publish(ctx context.Context, key string, event models.RebuildEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	return p.writer.Close()
}
