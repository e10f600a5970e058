package selector

import (
	"context"
	"fmt"

	"cortex.dev/cortex/internal/apperr"
	"cortex.dev/cortex/internal/registry"
)

// blockedCounter is implemented by the metrics collector (C8) so selection
// failures caused by an open breaker still increment an observable counter
// (§4.4: "still increments a blocked counter for metrics").
type blockedCounter interface {
	IncUpstreamBlocked(path string)
}

// Selector resolves a requested served_name to a backend base URL,
// implementing the five-step algorithm in §4.4.
type Selector struct {
	reg     registry.Registry
	breaker *Breaker
	metrics blockedCounter
}

// New constructs a Selector. metrics may be nil in tests that don't care
// about the blocked-request counter.
func New(reg registry.Registry, breaker *Breaker, metrics blockedCounter) *Selector {
	return &Selector{reg: reg, breaker: breaker, metrics: metrics}
}

// Resolution is the outcome of a successful Resolve call.
type Resolution struct {
	BackendURL string
	// HalfOpenProbe is true when this resolution is the single permitted
	// half-open probe; the caller must report the outcome back to the
	// breaker regardless of success/failure.
	HalfOpenProbe bool
}

// Resolve implements §4.4's algorithm. servedName identifies the model;
// path is used only to label the blocked-requests metric.
func (s *Selector) Resolve(ctx context.Context, servedName, path string) (*Resolution, error) {
	m, err := s.reg.GetByServedName(ctx, servedName)
	if err != nil {
		return nil, err
	}

	if m.State != registry.StateRunning {
		return nil, apperr.New(apperr.ModelNotReady, fmt.Sprintf("model_not_ready: %s", m.State))
	}
	if m.Port == nil {
		return nil, apperr.New(apperr.ModelNotReady, "model_not_ready: no backend port assigned")
	}

	backendURL := fmt.Sprintf("http://127.0.0.1:%d", *m.Port)

	allowed, state := s.breaker.Allow(backendURL)
	if !allowed {
		if s.metrics != nil {
			s.metrics.IncUpstreamBlocked(path)
		}
		return nil, apperr.New(apperr.UpstreamUnavailable, "upstream_unavailable: circuit breaker open")
	}

	// The one-model-one-container mapping means there is nothing left to
	// choose between; the round-robin machinery this step would otherwise
	// need is documented for future pool growth but degenerates to
	// identity here (§4.4).
	return &Resolution{BackendURL: backendURL, HalfOpenProbe: state == BreakerHalfOpen}, nil
}

// ReportOutcome feeds a completed request's success/failure back into the
// breaker (§4.4: "failures returned by the proxy feed back into the
// breaker").
func (s *Selector) ReportOutcome(backendURL string, success bool) {
	if success {
		s.breaker.RecordSuccess(backendURL)
	} else {
		s.breaker.RecordFailure(backendURL)
	}
}
