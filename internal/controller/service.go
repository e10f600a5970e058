package controller

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"cortex.dev/cortex/internal/apperr"
	"cortex.dev/cortex/internal/clock"
	"cortex.dev/cortex/internal/registry"
)

// PortAllocator hands out host ports for backend containers. A closed range
// scanned for the first free listener is sufficient at single-host scale;
// this module never talks to an orchestrator's port/service abstraction.
type PortAllocator struct {
	mu       sync.Mutex
	min, max int
	taken    map[int]bool
}

func NewPortAllocator(min, max int) *PortAllocator {
	return &PortAllocator{min: min, max: max, taken: make(map[int]bool)}
}

func (p *PortAllocator) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for port := p.min; port <= p.max; port++ {
		if p.taken[port] {
			continue
		}
		if !portFree(port) {
			continue
		}
		p.taken[port] = true
		return port, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", p.min, p.max)
}

func (p *PortAllocator) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.taken, port)
}

func portFree(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// containerRunner is the subset of DockerRunner the lifecycle operations
// depend on. It embeds Runner (readiness.go) since watchStartup hands the
// same collaborator to VerifyStartup, narrowed so tests can supply a fake
// instead of shelling out to docker.
type containerRunner interface {
	Runner
	Start(ctx context.Context, m *registry.Model, hostPort int, cmdLine CommandLine) error
	Stop(ctx context.Context, m *registry.Model) error
}

// Service implements the Container Controller's public contract (§4.2):
// start, stop, apply, dry_run, logs, test.
type Service struct {
	reg        registry.Registry
	runner     containerRunner
	ports      *PortAllocator
	clk        clock.Clock
	httpClient *http.Client
	readiness  ReadinessConfig
	offline    bool
	log        *logrus.Entry
}

func NewService(reg registry.Registry, runner containerRunner, ports *PortAllocator, offlineMode bool, log *logrus.Entry) *Service {
	return &Service{
		reg:        reg,
		runner:     runner,
		ports:      ports,
		clk:        clock.New(),
		httpClient: &http.Client{Timeout: 3 * time.Second},
		readiness:  DefaultReadinessConfig(),
		offline:    offlineMode,
		log:        log,
	}
}

// Start transitions a stopped/failed model through starting -> loading and
// launches its container, then runs the progressive startup verification
// in the background; it returns once the container has been launched, not
// once it is ready (readiness resolves asynchronously).
func (s *Service) Start(ctx context.Context, modelID int64) error {
	m, err := s.reg.GetByID(ctx, modelID)
	if err != nil {
		return err
	}

	if err := OfflineTokenizerGate(s.offline, m); err != nil {
		return err
	}

	cmdLine, err := BuildCommandLine(m)
	if err != nil {
		return apperr.Wrap(apperr.ValidationError, "building command line", err)
	}

	if _, err := s.reg.SetState(ctx, modelID, registry.StateStarting, nil); err != nil {
		return err
	}

	port, err := s.ports.Allocate()
	if err != nil {
		errText := err.Error()
		_, _ = s.reg.SetState(ctx, modelID, registry.StateFailed, &errText)
		return apperr.Wrap(apperr.InternalError, "allocating port", err)
	}

	if err := s.runner.Start(ctx, m, port, cmdLine); err != nil {
		s.ports.Release(port)
		errText := err.Error()
		_, _ = s.reg.SetState(ctx, modelID, registry.StateFailed, &errText)
		return apperr.Wrap(apperr.InternalError, "starting container", err)
	}

	if err := s.reg.SetContainer(ctx, modelID, ContainerName(m), port); err != nil {
		return err
	}
	if _, err := s.reg.SetState(ctx, modelID, registry.StateLoading, nil); err != nil {
		return err
	}

	go s.watchStartup(context.Background(), modelID, port)
	return nil
}

func (s *Service) watchStartup(ctx context.Context, modelID int64, port int) {
	m, err := s.reg.GetByID(ctx, modelID)
	if err != nil {
		return
	}
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", port)

	outcome := VerifyStartup(ctx, s.clk, s.runner, s.httpClient, m, healthURL, s.readiness, s.log)
	switch {
	case outcome.Ready:
		_, _ = s.reg.SetState(ctx, modelID, registry.StateRunning, nil)
	case outcome.Failed:
		errText := outcome.FailureLogs
		if d := Diagnose(outcome.FailureLogs); d != nil {
			errText = fmt.Sprintf("%s: %s", d.Kind, d.Fix)
		}
		_, _ = s.reg.SetState(ctx, modelID, registry.StateFailed, &errText)
	default:
		// readiness window elapsed without death or success: remains
		// `loading`; the health poller (C3) keeps watching out-of-band.
	}
}

// Stop halts a running/starting/loading model's container and returns it to
// `stopped`. It never touches files (delete-safety invariant).
func (s *Service) Stop(ctx context.Context, modelID int64) error {
	m, err := s.reg.GetByID(ctx, modelID)
	if err != nil {
		return err
	}

	if err := s.runner.Stop(ctx, m); err != nil {
		s.log.WithError(err).WithField("model", m.ServedName).Warn("stop encountered an error, proceeding to mark stopped")
	}
	if m.Port != nil {
		s.ports.Release(*m.Port)
	}

	_, err = s.reg.SetState(ctx, modelID, registry.StateStopped, nil)
	return err
}

// Apply restarts a model to pick up a changed configuration: stop, then
// start again from the persisted (already-updated) row.
func (s *Service) Apply(ctx context.Context, modelID int64) error {
	m, err := s.reg.GetByID(ctx, modelID)
	if err != nil {
		return err
	}
	if m.State == registry.StateRunning || m.State == registry.StateLoading || m.State == registry.StateStarting {
		if err := s.Stop(ctx, modelID); err != nil {
			return err
		}
	}
	return s.Start(ctx, modelID)
}

// DryRunResult bundles the command vector with its VRAM estimate.
type DryRunResult struct {
	Args     []string      `json:"args"`
	Env      map[string]string `json:"env"`
	Estimate VRAMEstimate  `json:"estimate"`
}

// DryRun returns the command vector and VRAM estimate without launching
// anything.
func (s *Service) DryRun(ctx context.Context, modelID int64) (*DryRunResult, error) {
	m, err := s.reg.GetByID(ctx, modelID)
	if err != nil {
		return nil, err
	}
	cmdLine, err := BuildCommandLine(m)
	if err != nil {
		return nil, apperr.Wrap(apperr.ValidationError, "building command line", err)
	}
	return &DryRunResult{Args: cmdLine.Args, Env: cmdLine.Env, Estimate: EstimateVRAM(m)}, nil
}

// LogsResult bundles the raw log tail with an optional diagnosis.
type LogsResult struct {
	Text      string     `json:"text"`
	Diagnosis *Diagnosis `json:"diagnosis,omitempty"`
}

// Logs returns the tail of a model's container output, diagnosing it
// against the curated pattern table when diagnose is requested.
func (s *Service) Logs(ctx context.Context, modelID int64, tailLines int, diagnose bool) (*LogsResult, error) {
	m, err := s.reg.GetByID(ctx, modelID)
	if err != nil {
		return nil, err
	}
	text, err := s.runner.Logs(ctx, m, tailLines)
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "fetching logs", err)
	}
	result := &LogsResult{Text: text}
	if diagnose {
		result.Diagnosis = Diagnose(text)
	}
	return result, nil
}

// TestResult is the outcome of issuing a minimal live request to a running
// backend.
type TestResult struct {
	Success    bool    `json:"success"`
	LatencyMS  int64   `json:"latency_ms"`
	Error      string  `json:"error,omitempty"`
}

// Test issues a minimal request against a running model's backend and
// reports success/latency, without going through the full gateway proxy.
func (s *Service) Test(ctx context.Context, modelID int64) (*TestResult, error) {
	m, err := s.reg.GetByID(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if m.State != registry.StateRunning || m.Port == nil {
		return nil, apperr.New(apperr.ModelNotReady, fmt.Sprintf("model_not_ready: %s", m.State))
	}

	start := s.clk.Now()
	ok, err := probeHealth(ctx, s.httpClient, fmt.Sprintf("http://127.0.0.1:%d/health", *m.Port))
	latency := s.clk.Now().Sub(start)

	result := &TestResult{Success: ok, LatencyMS: latency.Milliseconds()}
	if err != nil {
		result.Error = err.Error()
	}
	return result, nil
}
