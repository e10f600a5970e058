package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

// ConcurrencyTracker enforces a per-identifier cap on in-flight streaming
// requests (§4.5: "acquire a slot on request start and release on stream
// end, including client disconnect").
type ConcurrencyTracker interface {
	// Acquire reserves one slot for identifier, returning false if the cap
	// is already reached. A successful Acquire must be paired with exactly
	// one Release.
	Acquire(ctx context.Context, identifier string) (bool, error)
	Release(ctx context.Context, identifier string)
}

// LocalConcurrencyTracker counts in-flight slots per identifier in process
// memory, for single-node deployments.
type LocalConcurrencyTracker struct {
	mu    sync.Mutex
	inUse map[string]int
	cap   int
}

// NewLocalConcurrencyTracker caps each identifier at maxConcurrent
// simultaneous streaming requests.
func NewLocalConcurrencyTracker(maxConcurrent int) *LocalConcurrencyTracker {
	return &LocalConcurrencyTracker{inUse: make(map[string]int), cap: maxConcurrent}
}

// Acquire implements ConcurrencyTracker.
func (t *LocalConcurrencyTracker) Acquire(ctx context.Context, identifier string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inUse[identifier] >= t.cap {
		return false, nil
	}
	t.inUse[identifier]++
	return true, nil
}

// Release implements ConcurrencyTracker.
func (t *LocalConcurrencyTracker) Release(ctx context.Context, identifier string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inUse[identifier] > 0 {
		t.inUse[identifier]--
	}
}

// GlobalConcurrencyTracker uses a Redis integer counter per identifier so
// the cap holds across every gateway process sharing the same fleet.
type GlobalConcurrencyTracker struct {
	client    *redis.Client
	keyPrefix string
	cap       int
}

// NewGlobalConcurrencyTracker constructs a Redis-backed tracker.
func NewGlobalConcurrencyTracker(client *redis.Client, keyPrefix string, maxConcurrent int) *GlobalConcurrencyTracker {
	return &GlobalConcurrencyTracker{client: client, keyPrefix: keyPrefix, cap: maxConcurrent}
}

func (t *GlobalConcurrencyTracker) key(identifier string) string {
	return fmt.Sprintf("%s:concurrency:%s", t.keyPrefix, identifier)
}

// Acquire implements ConcurrencyTracker by incrementing the counter and
// backing off if the increment pushed it over the cap.
func (t *GlobalConcurrencyTracker) Acquire(ctx context.Context, identifier string) (bool, error) {
	key := t.key(identifier)
	n, err := t.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("concurrency incr: %w", err)
	}
	if n > int64(t.cap) {
		t.client.Decr(ctx, key)
		return false, nil
	}
	return true, nil
}

// Release implements ConcurrencyTracker.
func (t *GlobalConcurrencyTracker) Release(ctx context.Context, identifier string) {
	key := t.key(identifier)
	if n, err := t.client.Decr(ctx, key).Result(); err == nil && n < 0 {
		t.client.Set(ctx, key, 0, 0)
	}
}
