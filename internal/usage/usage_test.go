package usage

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"cortex.dev/cortex/internal/gateway"
)

type fakeStore struct {
	mu          sync.Mutex
	inserted    []gateway.UsageEvent
	failUntil   int
	attempts    int
	deletedCalls int
}

func (f *fakeStore) Insert(ctx context.Context, ev gateway.UsageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failUntil {
		return errors.New("transient store failure")
	}
	f.inserted = append(f.inserted, ev)
	return nil
}

func (f *fakeStore) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedCalls++
	return 3, nil
}

func (f *fakeStore) snapshot() []gateway.UsageEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.UsageEvent, len(f.inserted))
	copy(out, f.inserted)
	return out
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func TestRecorder_RecordThenDrainOnePersists(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store, Config{}, testLogger())

	r.Record(gateway.UsageEvent{RequestID: "req-1", ModelServedName: "demo"})
	require.Equal(t, 1, r.QueueLen())

	drained := r.drainOne(context.Background())
	require.True(t, drained)
	require.Equal(t, 0, r.QueueLen())
	require.Len(t, store.snapshot(), 1)
	require.Equal(t, "req-1", store.snapshot()[0].RequestID)
}

func TestRecorder_DrainOneOnEmptyQueueReturnsFalse(t *testing.T) {
	r := NewRecorder(&fakeStore{}, Config{}, testLogger())
	require.False(t, r.drainOne(context.Background()))
}

func TestRecorder_OverflowDropsOldestAndCountsIt(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store, Config{QueueCapacity: 2}, testLogger())

	r.Record(gateway.UsageEvent{RequestID: "a"})
	r.Record(gateway.UsageEvent{RequestID: "b"})
	r.Record(gateway.UsageEvent{RequestID: "c"})

	require.Equal(t, int64(1), r.DroppedCount())
	require.Equal(t, 2, r.QueueLen())

	r.drainOne(context.Background())
	r.drainOne(context.Background())
	got := store.snapshot()
	require.Len(t, got, 2)
	require.Equal(t, "b", got[0].RequestID)
	require.Equal(t, "c", got[1].RequestID)
}

func TestRecorder_PersistWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	store := &fakeStore{failUntil: 2}
	r := NewRecorder(store, Config{MaxRetries: 5, BaseBackoff: time.Millisecond}, testLogger())

	r.persistWithRetry(context.Background(), gateway.UsageEvent{RequestID: "retry-me"})

	require.Len(t, store.snapshot(), 1)
	require.Equal(t, 3, store.attempts)
}

func TestRecorder_PersistWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	store := &fakeStore{failUntil: 100}
	r := NewRecorder(store, Config{MaxRetries: 2, BaseBackoff: time.Millisecond}, testLogger())

	r.persistWithRetry(context.Background(), gateway.UsageEvent{RequestID: "never"})

	require.Empty(t, store.snapshot())
	require.Equal(t, 3, store.attempts) // initial attempt + 2 retries
}

func TestRecorder_StartDrainsQueueInBackground(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store, Config{PollInterval: time.Millisecond}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	r.Record(gateway.UsageEvent{RequestID: "background"})

	require.Eventually(t, func() bool {
		return len(store.snapshot()) == 1
	}, time.Second, time.Millisecond)
}
