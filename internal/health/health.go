// Package health runs the single cooperative health-polling task described
// in §4.3: one task per process, probing every non-archived model whose
// state is in {starting, loading, running}, serialized per backend,
// concurrent across backends.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"cortex.dev/cortex/internal/registry"
)

// Snapshot is the most recent probe result for a backend.
type Snapshot struct {
	BackendURL   string
	Healthy      bool
	LastChecked  time.Time
	LastError    string
	FailureCount int
}

// Breaker is the subset of the Upstream Selector's circuit breaker the
// poller feeds into; narrowed to avoid an import cycle with
// internal/selector (which itself resolves the Model before calling here).
type Breaker interface {
	RecordSuccess(backendURL string)
	RecordFailure(backendURL string)
}

// Poller probes every eligible model's /health endpoint on a fixed
// interval, updates its in-memory snapshot cache, and asks the Registry to
// transition a first-successful `loading` model to `running`.
type Poller struct {
	reg      registry.Registry
	breaker  Breaker
	client   *retryablehttp.Client
	interval time.Duration
	log      *logrus.Entry

	snapshots *lru.Cache[string, *Snapshot]

	mu          sync.Mutex
	backendLock map[string]*sync.Mutex
}

// New constructs a Poller. snapshotCapacity bounds the in-memory snapshot
// cache (adopted from the pack via hashicorp/golang-lru, since the teacher
// relies on apiserver-bounded informer caches that have no analogue here).
func New(reg registry.Registry, breaker Breaker, interval time.Duration, snapshotCapacity int, log *logrus.Entry) (*Poller, error) {
	cache, err := lru.New[string, *Snapshot](snapshotCapacity)
	if err != nil {
		return nil, fmt.Errorf("constructing snapshot cache: %w", err)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.Logger = nil
	client.HTTPClient.Timeout = 2 * time.Second

	return &Poller{
		reg:         reg,
		breaker:     breaker,
		client:      client,
		interval:    interval,
		log:         log,
		snapshots:   cache,
		backendLock: make(map[string]*sync.Mutex),
	}, nil
}

// Run blocks, probing on every tick until ctx is cancelled. Probes share ctx,
// so cancelling it aborts the poll in progress and Run returns once that poll
// has unwound; in-flight probes get no grace period.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	models, err := p.reg.List(ctx, registry.Filters{IncludeArchived: false})
	if err != nil {
		p.log.WithError(err).Warn("listing models for health poll")
		return
	}

	var wg sync.WaitGroup
	for _, m := range models {
		if !eligible(m.State) || m.Port == nil {
			continue
		}
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.probeModel(ctx, m)
		}()
	}
	wg.Wait()
}

func eligible(s registry.State) bool {
	return s == registry.StateStarting || s == registry.StateLoading || s == registry.StateRunning
}

func (p *Poller) lockFor(backendURL string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.backendLock[backendURL]
	if !ok {
		l = &sync.Mutex{}
		p.backendLock[backendURL] = l
	}
	return l
}

// probeModel serializes probes for a single backend URL (ordering
// guarantee in §4.3) while letting distinct backends proceed concurrently.
func (p *Poller) probeModel(ctx context.Context, m *registry.Model) {
	backendURL := fmt.Sprintf("http://127.0.0.1:%d", *m.Port)
	lock := p.lockFor(backendURL)
	lock.Lock()
	defer lock.Unlock()

	healthy, probeErr := p.probe(ctx, backendURL+"/health")

	snap := &Snapshot{BackendURL: backendURL, Healthy: healthy, LastChecked: time.Now().UTC()}
	if prev, ok := p.snapshots.Get(backendURL); ok {
		snap.FailureCount = prev.FailureCount
	}

	if healthy {
		snap.FailureCount = 0
		p.breaker.RecordSuccess(backendURL)
		if m.State == registry.StateLoading {
			if _, err := p.reg.SetState(ctx, m.ID, registry.StateRunning, nil); err != nil {
				p.log.WithError(err).WithField("model", m.ServedName).Warn("promoting to running failed")
			}
		}
	} else {
		snap.FailureCount++
		if probeErr != nil {
			snap.LastError = probeErr.Error()
		}
		p.breaker.RecordFailure(backendURL)
	}

	p.snapshots.Add(backendURL, snap)
}

func (p *Poller) probe(ctx context.Context, url string) (bool, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// SnapshotFor returns the most recently observed snapshot for a backend, if
// any has been recorded yet.
func (p *Poller) SnapshotFor(backendURL string) (*Snapshot, bool) {
	return p.snapshots.Get(backendURL)
}
