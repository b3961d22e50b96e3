package rebuild

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradejournal/position-engine/internal/models"
)

type fakeBuilder struct {
	mu      sync.Mutex
	calls   []models.GroupKey
	ids     map[models.GroupKey][]int
	errs    map[models.GroupKey]error
	block   chan struct{} // when set, Rebuild blocks until closed
	started chan struct{} // signaled once a blocking Rebuild is running
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{
		ids:  make(map[models.GroupKey][]int),
		errs: make(map[models.GroupKey]error),
	}
}

func (f *fakeBuilder) Rebuild(account, instrument string) ([]int, error) {
	key := models.GroupKey{Account: account, Instrument: instrument}
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()

	if f.block != nil {
		if f.started != nil {
			f.started <- struct{}{}
		}
		<-f.block
	}
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return f.ids[key], nil
}

func (f *fakeBuilder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeGroups struct {
	groups []models.GroupKey
	err    error
}

func (f *fakeGroups) GetDistinctGroups() ([]models.GroupKey, error) {
	return f.groups, f.err
}

type fakeInvalidator struct {
	mu    sync.Mutex
	pairs []models.GroupKey
	err   error
}

func (f *fakeInvalidator) InvalidatePair(ctx context.Context, account, instrument string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairs = append(f.pairs, models.GroupKey{Account: account, Instrument: instrument})
	return f.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	events map[models.GroupKey][]int
	err    error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{events: make(map[models.GroupKey][]int)}
}

func (f *fakeNotifier) PublishPositionsRebuilt(ctx context.Context, account, instrument string, positionIDs []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[models.GroupKey{Account: account, Instrument: instrument}] = positionIDs
	return f.err
}

func batchExec(account, instrument string) *models.Execution {
	return &models.Execution{
		ExecutionID: "E1",
		Account:     account,
		Instrument:  instrument,
		Side:        models.SideBuy,
		Quantity:    1,
		ExecutedAt:  time.Now(),
	}
}

func TestRebuild_InvokesSideEffects(t *testing.T) {
	builder := newFakeBuilder()
	key := models.GroupKey{Account: "ACC1", Instrument: "MNQ"}
	builder.ids[key] = []int{7, 8}

	invalidator := &fakeInvalidator{}
	notifier := newFakeNotifier()
	o := New(builder, &fakeGroups{}, invalidator, notifier, time.Second)

	ids, err := o.Rebuild(context.Background(), "ACC1", "MNQ")
	require.NoError(t, err)
	assert.Equal(t, []int{7, 8}, ids)

	assert.Equal(t, []models.GroupKey{key}, invalidator.pairs)
	assert.Equal(t, []int{7, 8}, notifier.events[key])
}

func TestRebuild_SideEffectFailuresDoNotFailRebuild(t *testing.T) {
	builder := newFakeBuilder()
	invalidator := &fakeInvalidator{err: errors.New("redis down")}
	notifier := newFakeNotifier()
	notifier.err = errors.New("kafka down")
	o := New(builder, &fakeGroups{}, invalidator, notifier, time.Second)

	_, err := o.Rebuild(context.Background(), "ACC1", "MNQ")
	assert.NoError(t, err)
}

func TestRebuild_NilSideEffects(t *testing.T) {
	o := New(newFakeBuilder(), &fakeGroups{}, nil, nil, time.Second)

	_, err := o.Rebuild(context.Background(), "ACC1", "MNQ")
	assert.NoError(t, err)
}

func TestRebuild_BuilderErrorPropagates(t *testing.T) {
	builder := newFakeBuilder()
	key := models.GroupKey{Account: "ACC1", Instrument: "MNQ"}
	builder.errs[key] = errors.New("boom")

	invalidator := &fakeInvalidator{}
	notifier := newFakeNotifier()
	o := New(builder, &fakeGroups{}, invalidator, notifier, time.Second)

	_, err := o.Rebuild(context.Background(), "ACC1", "MNQ")
	require.Error(t, err)

	// No invalidation or event for a failed rebuild.
	assert.Empty(t, invalidator.pairs)
	assert.Empty(t, notifier.events)
}

func TestRebuild_SamePairLockTimesOut(t *testing.T) {
	builder := newFakeBuilder()
	builder.block = make(chan struct{})
	builder.started = make(chan struct{}, 1)
	o := New(builder, &fakeGroups{}, nil, nil, 50*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := o.Rebuild(context.Background(), "ACC1", "MNQ")
		done <- err
	}()
	<-builder.started

	// Second rebuild of the same pair cannot get the lock.
	_, err := o.Rebuild(context.Background(), "ACC1", "MNQ")
	require.Error(t, err)

	var timeout *RebuildTimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, models.GroupKey{Account: "ACC1", Instrument: "MNQ"}, timeout.Key)

	close(builder.block)
	require.NoError(t, <-done)
}

func TestRebuild_DifferentPairsDoNotContend(t *testing.T) {
	builder := newFakeBuilder()
	builder.block = make(chan struct{})
	builder.started = make(chan struct{}, 2)
	o := New(builder, &fakeGroups{}, nil, nil, 50*time.Millisecond)

	done := make(chan error, 2)
	go func() {
		_, err := o.Rebuild(context.Background(), "ACC1", "MNQ")
		done <- err
	}()
	go func() {
		_, err := o.Rebuild(context.Background(), "ACC1", "ES")
		done <- err
	}()

	// Both rebuilds are inside the builder at the same time, so neither
	// waited on the other's lock.
	<-builder.started
	<-builder.started

	close(builder.block)
	require.NoError(t, <-done)
	require.NoError(t, <-done)
}

func TestRebuild_ContextCancelWhileWaiting(t *testing.T) {
	builder := newFakeBuilder()
	builder.block = make(chan struct{})
	builder.started = make(chan struct{}, 1)
	o := New(builder, &fakeGroups{}, nil, nil, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := o.Rebuild(context.Background(), "ACC1", "MNQ")
		done <- err
	}()
	<-builder.started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Rebuild(ctx, "ACC1", "MNQ")
	assert.ErrorIs(t, err, context.Canceled)

	close(builder.block)
	require.NoError(t, <-done)
}

func TestRebuildForNewExecutions_OncePerPairInBatchOrder(t *testing.T) {
	builder := newFakeBuilder()
	o := New(builder, &fakeGroups{}, nil, nil, time.Second)

	batch := []*models.Execution{
		batchExec("ACC1", "MNQ"),
		batchExec("ACC2", "ES"),
		batchExec("ACC1", "MNQ"),
		batchExec("ACC2", "ES"),
	}

	results, err := o.RebuildForNewExecutions(context.Background(), batch)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	require.Equal(t, 2, builder.callCount())
	assert.Equal(t, models.GroupKey{Account: "ACC1", Instrument: "MNQ"}, builder.calls[0])
	assert.Equal(t, models.GroupKey{Account: "ACC2", Instrument: "ES"}, builder.calls[1])
}

func TestRebuildForNewExecutions_IsolatesFailures(t *testing.T) {
	builder := newFakeBuilder()
	bad := models.GroupKey{Account: "ACC1", Instrument: "MNQ"}
	good := models.GroupKey{Account: "ACC2", Instrument: "ES"}
	builder.errs[bad] = errors.New("boom")
	builder.ids[good] = []int{3}

	o := New(builder, &fakeGroups{}, nil, nil, time.Second)

	results, err := o.RebuildForNewExecutions(context.Background(), []*models.Execution{
		batchExec("ACC1", "MNQ"),
		batchExec("ACC2", "ES"),
	})
	require.Error(t, err)

	// The healthy pair still rebuilt.
	assert.Equal(t, []int{3}, results[good])
	_, failed := results[bad]
	assert.False(t, failed)
}

func TestRebuildForNewExecutions_SkipsIncompleteGroups(t *testing.T) {
	builder := newFakeBuilder()
	o := New(builder, &fakeGroups{}, nil, nil, time.Second)

	missing := batchExec("", "MNQ")
	results, err := o.RebuildForNewExecutions(context.Background(), []*models.Execution{
		missing,
		batchExec("ACC1", "MNQ"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete group")

	// The valid row's pair still rebuilt.
	assert.Len(t, results, 1)
	assert.Equal(t, 1, builder.callCount())
}

func TestRebuildAll_WalksEveryGroup(t *testing.T) {
	builder := newFakeBuilder()
	groups := &fakeGroups{groups: []models.GroupKey{
		{Account: "ACC1", Instrument: "MNQ"},
		{Account: "ACC1", Instrument: "ES"},
		{Account: "ACC2", Instrument: "MNQ"},
	}}
	o := New(builder, groups, nil, nil, time.Second)

	results, err := o.RebuildAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, groups.groups, builder.calls)
}

func TestRebuildAll_GroupListingError(t *testing.T) {
	o := New(newFakeBuilder(), &fakeGroups{err: errors.New("db down")}, nil, nil, time.Second)

	_, err := o.RebuildAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list execution groups")
}
