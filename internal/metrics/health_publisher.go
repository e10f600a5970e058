package metrics

import (
	"context"
	"fmt"
	"time"

	"cortex.dev/cortex/internal/health"
	"cortex.dev/cortex/internal/registry"
)

// snapshotSource is the subset of health.Poller the publisher needs.
type snapshotSource interface {
	SnapshotFor(backendURL string) (*health.Snapshot, bool)
}

// HealthPublisher periodically copies the Health Poller's per-backend
// snapshots into the upstream_health gauge, since the poller itself has no
// Prometheus dependency (§3: "the health poller owns no gauges directly").
type HealthPublisher struct {
	collector *Collector
	reg       registry.Registry
	source    snapshotSource
	interval  time.Duration
}

// NewHealthPublisher constructs a publisher. source is typically
// *health.Poller, which satisfies snapshotSource directly.
func NewHealthPublisher(collector *Collector, reg registry.Registry, source snapshotSource, interval time.Duration) *HealthPublisher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HealthPublisher{collector: collector, reg: reg, source: source, interval: interval}
}

// Run publishes snapshots on a fixed interval until ctx is cancelled.
func (p *HealthPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.publishOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishOnce(ctx)
		}
	}
}

func (p *HealthPublisher) publishOnce(ctx context.Context) {
	models, err := p.reg.List(ctx, registry.Filters{})
	if err != nil {
		return
	}
	for _, m := range models {
		if m.Port == nil {
			continue
		}
		backendURL := fmt.Sprintf("http://127.0.0.1:%d", *m.Port)
		snap, found := p.source.SnapshotFor(backendURL)
		if !found {
			continue
		}
		p.collector.SetUpstreamHealth(backendURL, snap.Healthy)
	}
}
