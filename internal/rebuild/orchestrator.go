// Package rebuild is the single entry point for (re)deriving positions.
// All writers to the positions table go through an Orchestrator, which
// serializes rebuilds per (account, instrument) pair and fans out cache
// invalidation for exactly the pairs it touched.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tradejournal/position-engine/internal/models"
)

// PositionBuilder recomputes and persists the position set of one pair.
type PositionBuilder interface {
	Rebuild(account, instrument string) ([]int, error)
}

// GroupLister enumerates the pairs present in the execution store in
// chronological order of first appearance.
type GroupLister interface {
	GetDistinctGroups() ([]models.GroupKey, error)
}

// Invalidator drops cached dashboard data for one pair.
type Invalidator interface {
	InvalidatePair(ctx context.Context, account, instrument string) error
}

// Notifier announces a completed rebuild to downstream consumers.
type Notifier interface {
	PublishPositionsRebuilt(ctx context.Context, account, instrument string, positionIDs []int) error
}

// RebuildTimeoutError reports that the per-pair lock could not be
// acquired within the bounded wait. The underlying data is untouched;
// callers may retry.
type RebuildTimeoutError struct {
	Key  models.GroupKey
	Wait time.Duration
}

func (e *RebuildTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for rebuild lock on %s", e.Wait, e.Key)
}

// Orchestrator coordinates position rebuilds. Rebuilds for the same pair
// are serialized; rebuilds for different pairs run independently.
type Orchestrator struct {
	builder     PositionBuilder
	groups      GroupLister
	invalidator Invalidator // optional
	notifier    Notifier    // optional
	lockWait    time.Duration

	mu    sync.Mutex
	locks map[models.GroupKey]chan struct{}
}

// New creates an Orchestrator. invalidator and notifier may be nil; the
// rebuild itself never depends on them. lockWait bounds how long a
// caller blocks waiting for another rebuild of the same pair.
func New(builder PositionBuilder, groups GroupLister, invalidator Invalidator, notifier Notifier, lockWait time.Duration) *Orchestrator {
	return &Orchestrator{
		builder:     builder,
		groups:      groups,
		invalidator: invalidator,
		notifier:    notifier,
		lockWait:    lockWait,
		locks:       make(map[models.GroupKey]chan struct{}),
	}
}

// Rebuild recomputes the position set for exactly one (account,
// instrument) pair and returns the persisted position IDs. On success it
// signals cache invalidation and publishes a rebuild event for just that
// pair. Rebuilding an unchanged pair is idempotent: the computed rows
// are identical on every call.
func (o *Orchestrator) Rebuild(ctx context.Context, account, instrument string) ([]int, error) {
	key := models.GroupKey{Account: account, Instrument: instrument}

	release, err := o.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	ids, err := o.builder.Rebuild(account, instrument)
	if err != nil {
		return nil, err
	}

	// Fire-and-forget side effects. The rebuild already committed; a
	// failed invalidation only delays the dashboard, so log and move on.
	if o.invalidator != nil {
		if err := o.invalidator.InvalidatePair(ctx, account, instrument); err != nil {
			log.Printf("Failed to invalidate cache for %s: %v", key, err)
		}
	}
	if o.notifier != nil {
		if err := o.notifier.PublishPositionsRebuilt(ctx, account, instrument, ids); err != nil {
			log.Printf("Failed to publish rebuild event for %s: %v", key, err)
		}
	}

	return ids, nil
}

// RebuildForNewExecutions rebuilds every pair touched by a just-committed
// batch, once per pair, in the order pairs first appear in the batch.
// Invalid rows and per-pair failures are isolated: the remaining pairs
// still rebuild, and the collected errors come back joined.
func (o *Orchestrator) RebuildForNewExecutions(ctx context.Context, batch []*models.Execution) (map[models.GroupKey][]int, error) {
	var errs []error
	seen := make(map[models.GroupKey]bool)
	var order []models.GroupKey

	for _, e := range batch {
		key := e.Group()
		if !key.Valid() {
			errs = append(errs, fmt.Errorf("execution %q has incomplete group %s, skipping", e.ExecutionID, key))
			continue
		}
		if !seen[key] {
			seen[key] = true
			order = append(order, key)
		}
	}

	results := make(map[models.GroupKey][]int, len(order))
	for _, key := range order {
		ids, err := o.Rebuild(ctx, key.Account, key.Instrument)
		if err != nil {
			log.Printf("Rebuild failed for %s: %v", key, err)
			errs = append(errs, fmt.Errorf("rebuild %s: %w", key, err))
			continue
		}
		results[key] = ids
	}

	return results, errors.Join(errs...)
}

// RebuildAll rebuilds every pair in the execution store, in chronological
// order of each pair's first execution. This is the bulk entry point for
// historical reimports.
func (o *Orchestrator) RebuildAll(ctx context.Context) (map[models.GroupKey][]int, error) {
	groups, err := o.groups.GetDistinctGroups()
	if err != nil {
		return nil, fmt.Errorf("failed to list execution groups: %w", err)
	}

	var errs []error
	results := make(map[models.GroupKey][]int, len(groups))
	for _, key := range groups {
		ids, err := o.Rebuild(ctx, key.Account, key.Instrument)
		if err != nil {
			log.Printf("Rebuild failed for %s: %v", key, err)
			errs = append(errs, fmt.Errorf("rebuild %s: %w", key, err))
			continue
		}
		results[key] = ids
	}

	return results, errors.Join(errs...)
}

// acquire takes the per-pair lock, waiting at most lockWait. A caller
// that times out has not touched any data; the in-flight rebuild holding
// the lock is never interrupted.
func (o *Orchestrator) acquire(ctx context.Context, key models.GroupKey) (func(), error) {
	o.mu.Lock()
	sem, ok := o.locks[key]
	if !ok {
		sem = make(chan struct{}, 1)
		o.locks[key] = sem
	}
	o.mu.Unlock()

	timer := time.NewTimer(o.lockWait)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-timer.C:
		return nil, &RebuildTimeoutError{Key: key, Wait: o.lockWait}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
