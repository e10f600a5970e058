// Package selector resolves a requested model's served_name to a backend
// base URL (§4.4), gated by a per-backend circuit breaker.
package selector

import (
	"sync"
	"time"

	"cortex.dev/cortex/internal/clock"
)

// BreakerState is one of the three circuit-breaker states (GLOSSARY).
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

type breakerEntry struct {
	state              BreakerState
	consecutiveFailures int
	openedAt           time.Time
	halfOpenProbeInFlight bool
}

// Breaker is a per-backend circuit breaker keyed by backend URL, using a
// consecutive-failure count rather than a rolling window (§9 open question,
// resolved: "pick one (consecutive) and document").
//
// Grounded on the structuring of the teacher's small mutex-guarded gate
// structs in pkg/infer-gateway/filters (an exported Allow-style method
// behind one lock), adapted to the three explicit closed/open/half-open
// states this spec requires instead of a boolean limiter.
type Breaker struct {
	mu                sync.Mutex
	entries           map[string]*breakerEntry
	failureThreshold  int
	cooldown          time.Duration
	clk               clock.Clock
}

// NewBreaker constructs a Breaker with the given consecutive-failure
// threshold and cooldown before a half-open probe is permitted.
func NewBreaker(failureThreshold int, cooldown time.Duration, clk clock.Clock) *Breaker {
	return &Breaker{
		entries:          make(map[string]*breakerEntry),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		clk:              clk,
	}
}

func (b *Breaker) entryFor(backendURL string) *breakerEntry {
	e, ok := b.entries[backendURL]
	if !ok {
		e = &breakerEntry{state: BreakerClosed}
		b.entries[backendURL] = e
	}
	return e
}

// Allow reports whether a request to backendURL may proceed, and if the
// state is half-open, marks the returned permission as the single allowed
// probe (subsequent calls are blocked until that probe resolves).
func (b *Breaker) Allow(backendURL string) (allowed bool, state BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entryFor(backendURL)
	switch e.state {
	case BreakerClosed:
		return true, BreakerClosed
	case BreakerOpen:
		if b.clk.Now().Sub(e.openedAt) >= b.cooldown {
			e.state = BreakerHalfOpen
			e.halfOpenProbeInFlight = true
			return true, BreakerHalfOpen
		}
		return false, BreakerOpen
	case BreakerHalfOpen:
		if e.halfOpenProbeInFlight {
			return false, BreakerHalfOpen
		}
		e.halfOpenProbeInFlight = true
		return true, BreakerHalfOpen
	default:
		return false, e.state
	}
}

// RecordSuccess closes the breaker and resets its failure count.
func (b *Breaker) RecordSuccess(backendURL string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entryFor(backendURL)
	e.state = BreakerClosed
	e.consecutiveFailures = 0
	e.halfOpenProbeInFlight = false
}

// RecordFailure increments the consecutive-failure count, opening the
// breaker once the threshold is reached. A failure during a half-open
// probe re-opens immediately regardless of the threshold.
func (b *Breaker) RecordFailure(backendURL string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entryFor(backendURL)
	if e.state == BreakerHalfOpen {
		e.state = BreakerOpen
		e.openedAt = b.clk.Now()
		e.halfOpenProbeInFlight = false
		e.consecutiveFailures = b.failureThreshold
		return
	}

	e.consecutiveFailures++
	if e.consecutiveFailures >= b.failureThreshold {
		e.state = BreakerOpen
		e.openedAt = b.clk.Now()
	}
}

// StateOf returns the current state of backendURL's breaker (closed if
// never seen before).
func (b *Breaker) StateOf(backendURL string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entryFor(backendURL).state
}
