// Package dedup tracks which execution identifiers have already been
// committed, so a growing source file can be re-read throughout a
// trading session without duplicating fills. The ledger lives in Redis
// as one set per trading day with a bounded lifetime; the engine only
// consumes the membership check, it does not own the ledger's durability.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "processed_executions:"
	ledgerTTL = 14 * 24 * time.Hour
)

// Ledger is a day-scoped set of processed execution identifiers.
type Ledger struct {
	client *redis.Client
}

// NewLedger creates a Ledger backed by the given Redis client.
func NewLedger(client *redis.Client) *Ledger {
	return &Ledger{client: client}
}

// IsProcessed reports whether executionID was already committed on the
// trading day of executedAt.
func (l *Ledger) IsProcessed(ctx context.Context, executionID string, executedAt time.Time) (bool, error) {
	member, err := l.client.SIsMember(ctx, dayKey(executedAt), executionID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check dedup ledger: %w", err)
	}
	return member, nil
}

// MarkProcessed records executionID for the trading day of executedAt
// and refreshes the day's expiry.
func (l *Ledger) MarkProcessed(ctx context.Context, executionID string, executedAt time.Time) error {
	key := dayKey(executedAt)
	pipe := l.client.TxPipeline()
	pipe.SAdd(ctx, key, executionID)
	pipe.Expire(ctx, key, ledgerTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update dedup ledger: %w", err)
	}
	return nil
}

// Ping checks ledger connectivity
func (l *Ledger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func dayKey(t time.Time) string {
	return keyPrefix + t.Format("2006-01-02")
}
