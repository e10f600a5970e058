package auth

import (
	"context"

	"cortex.dev/cortex/internal/apperr"
)

// Gate composes the RPS limiter and the streaming-concurrency tracker into
// the single admission check the router performs after authentication
// (§4.5: sliding-window RPS cap plus a concurrent in-flight streaming cap).
type Gate struct {
	rps         Limiter
	concurrency ConcurrencyTracker
}

// NewGate constructs a Gate. Either argument may be nil to disable that
// check (e.g. a deployment with no streaming cap configured).
func NewGate(rps Limiter, concurrency ConcurrencyTracker) *Gate {
	return &Gate{rps: rps, concurrency: concurrency}
}

// CheckRate enforces the RPS cap for identifier. Called once per request,
// streaming or not.
func (g *Gate) CheckRate(ctx context.Context, identifier string) error {
	if g.rps == nil {
		return nil
	}
	allowed, err := g.rps.Allow(ctx, identifier)
	if err != nil {
		return apperr.Wrap(apperr.InternalError, "rate limit check failed", err)
	}
	if !allowed {
		return apperr.New(apperr.RateLimited, "request rate limit exceeded")
	}
	return nil
}

// StreamSlot is held for the duration of one streaming request and released
// exactly once, including on client disconnect.
type StreamSlot struct {
	identifier string
	tracker    ConcurrencyTracker
	released   bool
}

// AcquireStream reserves a concurrency slot for a streaming request. The
// caller must call Release when the stream ends, however it ends.
func (g *Gate) AcquireStream(ctx context.Context, identifier string) (*StreamSlot, error) {
	if g.concurrency == nil {
		return &StreamSlot{}, nil
	}
	ok, err := g.concurrency.Acquire(ctx, identifier)
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "concurrency check failed", err)
	}
	if !ok {
		return nil, apperr.New(apperr.ConcurrencyExceeded, "concurrent stream limit exceeded")
	}
	return &StreamSlot{identifier: identifier, tracker: g.concurrency}, nil
}

// Release returns the slot. Safe to call more than once or on a disabled
// gate; only the first call has any effect.
func (s *StreamSlot) Release(ctx context.Context) {
	if s == nil || s.released || s.tracker == nil {
		return
	}
	s.released = true
	s.tracker.Release(ctx, s.identifier)
}
