// Package cache invalidates the dashboard's cached query results after
// a rebuild. Invalidation is always scoped to one (account, instrument)
// pair; nothing here ever flushes the whole namespace.
package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dashboard:"

// Invalidator deletes cached dashboard entries for rebuilt pairs.
type Invalidator struct {
	client *redis.Client
}

// NewInvalidator creates an Invalidator backed by the given Redis client.
func NewInvalidator(client *redis.Client) *Invalidator {
	return &Invalidator{client: client}
}

// InvalidatePair removes every cached key for exactly one (account,
// instrument) pair: the per-pair position list, statistics, and any
// per-pair chart payloads the dashboard cached under the same namespace.
func (i *Invalidator) InvalidatePair(ctx context.Context, account, instrument string) error {
	pattern := fmt.Sprintf("%s%s:%s:*", keyPrefix, account, instrument)

	iter := i.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys for %s/%s: %w", account, instrument, err)
	}
	if len(keys) == 0 {
		return nil
	}

	if err := i.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys for %s/%s: %w", account, instrument, err)
	}
	return nil
}
