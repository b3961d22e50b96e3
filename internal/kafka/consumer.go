package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/tradejournal/position-engine/internal/models"
)

// ExecutionRepository defines the execution store operations the
// consumer needs
type ExecutionRepository interface {
	CreateExecution(e *models.Execution) error
	ExecutionExists(executionID, account string) (bool, error)
}

// DedupLedger is the external processed-executions set. Entries are
// day-scoped and expire; the store's unique index is the backstop.
type DedupLedger interface {
	IsProcessed(ctx context.Context, executionID string, executedAt time.Time) (bool, error)
	MarkProcessed(ctx context.Context, executionID string, executedAt time.Time) error
}

// Rebuilder triggers position recomputation for the pairs a batch touched
type Rebuilder interface {
	RebuildForNewExecutions(ctx context.Context, batch []*models.Execution) (map[models.GroupKey][]int, error)
}

// Consumer ingests execution-fill events from Kafka: dedup check, commit
// to the execution store, then rebuild positions for the touched pair.
type Consumer struct {
	reader    *kafka.Reader
	repo      ExecutionRepository
	ledger    DedupLedger
	rebuilder Rebuilder
}

// NewConsumer creates a new Kafka consumer for execution events
func NewConsumer(brokers []string, topic, groupID string, repo ExecutionRepository, ledger DedupLedger, rebuilder Rebuilder) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})

	return &Consumer{
		reader:    reader,
		repo:      repo,
		ledger:    ledger,
		rebuilder: rebuilder,
	}
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start(ctx context.Context) error {
	log.Printf("Starting Kafka consumer for topic: %s", c.reader.Config().Topic)

	for {
		select {
		case <-ctx.Done():
			log.Println("Kafka consumer shutting down...")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil // Context cancelled, normal shutdown
				}
				log.Printf("Error reading message: %v", err)
				continue
			}

			if err := c.processMessage(ctx, msg); err != nil {
				log.Printf("Error processing message: %v", err)
				// Continue processing other messages
			}
		}
	}
}

// processMessage handles a single Kafka message
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	log.Printf("Received message from partition %d offset %d: key=%s",
		msg.Partition, msg.Offset, string(msg.Key))

	var event models.ExecutionEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal execution event: %w", err)
	}

	if event.EventType != "EXECUTION_FILLED" {
		log.Printf("Ignoring event type: %s", event.EventType)
		return nil
	}

	exec, err := c.convertEventToExecution(event)
	if err != nil {
		return fmt.Errorf("failed to convert event to execution: %w", err)
	}

	// Ledger first (cheap, day-scoped), store second (durable backstop).
	processed, err := c.ledger.IsProcessed(ctx, exec.ExecutionID, exec.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to check dedup ledger: %w", err)
	}
	if processed {
		log.Printf("Execution %s already processed, skipping", exec.ExecutionID)
		return nil
	}
	exists, err := c.repo.ExecutionExists(exec.ExecutionID, exec.Account)
	if err != nil {
		return fmt.Errorf("failed to check for duplicate execution: %w", err)
	}
	if exists {
		log.Printf("Execution %s for %s already stored, skipping", exec.ExecutionID, exec.Account)
		return nil
	}

	if err := c.repo.CreateExecution(exec); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	if err := c.ledger.MarkProcessed(ctx, exec.ExecutionID, exec.ExecutedAt); err != nil {
		// The row is committed; a ledger miss only costs an extra
		// existence check on the next replay.
		log.Printf("Failed to mark execution %s in dedup ledger: %v", exec.ExecutionID, err)
	}

	log.Printf("Saved execution: %s %d %s @ %s for %s (execution_id: %s)",
		exec.Side, exec.Quantity, exec.Instrument, exec.Price, exec.Account, exec.ExecutionID)

	if _, err := c.rebuilder.RebuildForNewExecutions(ctx, []*models.Execution{exec}); err != nil {
		return fmt.Errorf("failed to rebuild positions: %w", err)
	}

	return nil
}

// convertEventToExecution maps an ExecutionEvent to an Execution model
func (c *Consumer) convertEventToExecution(event models.ExecutionEvent) (*models.Execution, error) {
	data := event.Data

	if data.Account == "" {
		return nil, fmt.Errorf("execution event missing account")
	}
	if data.Instrument == "" {
		return nil, fmt.Errorf("execution event missing instrument")
	}
	if !models.ValidSide(data.Side) {
		return nil, fmt.Errorf("invalid execution side: %s", data.Side)
	}

	quantity, err := decimal.NewFromString(data.Quantity)
	if err != nil {
		return nil, fmt.Errorf("invalid quantity %s: %w", data.Quantity, err)
	}
	if !quantity.IsInteger() || quantity.Sign() <= 0 {
		return nil, fmt.Errorf("quantity must be a positive contract count, got %s", data.Quantity)
	}

	price, err := decimal.NewFromString(data.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %s: %w", data.Price, err)
	}

	commission := decimal.Zero
	if data.Commission != "" {
		commission, err = decimal.NewFromString(data.Commission)
		if err != nil {
			return nil, fmt.Errorf("invalid commission %s: %w", data.Commission, err)
		}
	}
	if commission.Sign() < 0 {
		return nil, fmt.Errorf("commission must be non-negative, got %s", data.Commission)
	}

	// executed_at is required: the fallback execution id is derived from
	// it, so stamping arrival time here would mint a fresh id on every
	// redelivery and defeat deduplication.
	if data.ExecutedAt == nil || *data.ExecutedAt == "" {
		return nil, fmt.Errorf("execution event missing executed_at")
	}
	executedAt, err := time.Parse(time.RFC3339, *data.ExecutedAt)
	if err != nil {
		// NinjaTrader exports local time without a zone.
		executedAt, err = time.Parse("2006-01-02T15:04:05", *data.ExecutedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid executed_at %s: %w", *data.ExecutedAt, err)
		}
	}

	exec := &models.Execution{
		ExecutionID: data.ExecutionID,
		Account:     data.Account,
		Instrument:  data.Instrument,
		Side:        data.Side,
		Quantity:    int(quantity.IntPart()),
		Price:       price,
		Commission:  commission,
		ExecutedAt:  executedAt,
	}
	if exec.ExecutionID == "" {
		exec.ExecutionID = exec.FallbackExecutionID()
	}
	return exec, nil
}

// Close closes the Kafka consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
