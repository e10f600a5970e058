package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"
)

// Limiter is the minimal interface a sliding-window RPS gate needs,
// satisfied by both a local in-process limiter and a Redis-backed one.
//
// Grounded on the teacher's ratelimit.Limiter interface
// (pkg/infer-gateway/filters/ratelimit), adapted from per-model token-rate
// limiting to per-identifier request-rate limiting (§4.5: "per-identifier
// (key id or session user id)").
type Limiter interface {
	// Allow reports whether one more request for identifier may proceed.
	Allow(ctx context.Context, identifier string) (bool, error)
}

// LocalLimiter is a process-local RPS limiter backed by a token bucket per
// identifier. Used when no Redis endpoint is configured, or as the default
// for single-node deployments.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLocalLimiter constructs a LocalLimiter allowing rps requests/second
// per identifier with the given burst.
func NewLocalLimiter(rps float64, burst int) *LocalLimiter {
	return &LocalLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *LocalLimiter) limiterFor(identifier string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[identifier]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.limiters[identifier] = lim
	}
	return lim
}

// Allow implements Limiter.
func (l *LocalLimiter) Allow(ctx context.Context, identifier string) (bool, error) {
	return l.limiterFor(identifier).Allow(), nil
}

// GlobalLimiter is a Redis-backed sliding-window RPS limiter shared across
// every CORTEX process, for deployments that run more than one gateway
// instance in front of the same model fleet.
//
// Grounded on the teacher's GlobalRateLimiter
// (pkg/infer-gateway/filters/ratelimit/global.go): a sorted-set per
// identifier holding one member per admitted request, trimmed to the
// window on every call via ZREMRANGEBYSCORE and counted via ZCARD in one
// pipeline; an admitted request is then recorded via ZADD+EXPIRE in a second.
type GlobalLimiter struct {
	client    *redis.Client
	keyPrefix string
	limit     int
	window    time.Duration
}

// NewGlobalLimiter constructs a GlobalLimiter allowing limit requests per
// window per identifier, all keys namespaced under keyPrefix.
func NewGlobalLimiter(client *redis.Client, keyPrefix string, limit int, window time.Duration) *GlobalLimiter {
	return &GlobalLimiter{client: client, keyPrefix: keyPrefix, limit: limit, window: window}
}

func (g *GlobalLimiter) key(identifier string) string {
	return fmt.Sprintf("%s:ratelimit:%s", g.keyPrefix, identifier)
}

// Allow implements Limiter using a Redis sorted set as the sliding window.
func (g *GlobalLimiter) Allow(ctx context.Context, identifier string) (bool, error) {
	key := g.key(identifier)
	now := time.Now()
	windowStart := now.Add(-g.window)

	pipe := g.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	card := pipe.ZCard(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit pipeline: %w", err)
	}

	// card reflects the admissions still inside the window, before this
	// request, matching the "would this request exceed the cap" check rather
	// than "does the cap already include me". A rejected request is not
	// recorded.
	count, err := card.Result()
	if err != nil {
		return false, fmt.Errorf("rate limit cardinality: %w", err)
	}
	if count >= int64(g.limit) {
		return false, nil
	}

	pipe = g.client.Pipeline()
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, key, g.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit pipeline: %w", err)
	}
	return true, nil
}
