package controller

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"cortex.dev/cortex/internal/apperr"
	"cortex.dev/cortex/internal/clock"
	"cortex.dev/cortex/internal/registry"
)

// Runner is the subset of DockerRunner the readiness protocol depends on,
// narrowed so tests can supply a fake.
type Runner interface {
	IsRunning(ctx context.Context, m *registry.Model) (bool, error)
	Logs(ctx context.Context, m *registry.Model, tailLines int) (string, error)
}

// ReadinessConfig carries the tunables named in §4.2's progressive startup
// verification and §5's timeout distinctions.
type ReadinessConfig struct {
	QuickDeathWindow    time.Duration
	QuickDeathPoll      time.Duration
	BaseReadinessWindow time.Duration
	ReadinessPoll       time.Duration
	MaxReadinessWindow  time.Duration
}

// DefaultReadinessConfig matches the spec's documented defaults (~5s quick
// death at 0.5s cadence, ~12s readiness at 2s cadence).
func DefaultReadinessConfig() ReadinessConfig {
	return ReadinessConfig{
		QuickDeathWindow:    5 * time.Second,
		QuickDeathPoll:      500 * time.Millisecond,
		BaseReadinessWindow: 12 * time.Second,
		ReadinessPoll:       2 * time.Second,
		MaxReadinessWindow:  10 * time.Minute,
	}
}

// ReadinessWindowFor extends the base readiness window for large models, so
// that weight-loading time scales with model size rather than tripping a
// fixed timeout (supplemented feature — the spec only fixes the default and
// says "extensible for large models" without naming a formula). One GPU's
// worth of PCIe/NVMe bandwidth is assumed to load roughly 5 GB/12s; larger
// weight footprints get a proportionally longer window, capped so a
// pathological estimate can't leave a model in `loading` forever.
func (c ReadinessConfig) ReadinessWindowFor(weightsGB float64) time.Duration {
	scaled := time.Duration(weightsGB/5.0*float64(c.BaseReadinessWindow))
	window := c.BaseReadinessWindow
	if scaled > window {
		window = scaled
	}
	if window > c.MaxReadinessWindow {
		window = c.MaxReadinessWindow
	}
	return window
}

// Outcome reports how the progressive startup protocol concluded.
type Outcome struct {
	Ready       bool
	Failed      bool
	FailureLogs string
}

// VerifyStartup runs the two-phase protocol described in §4.2: a short
// quick-death window polling container liveness, followed by a longer
// bounded readiness window polling the backend's /health. A timeout in the
// readiness phase without the container dying is not a failure — the
// caller leaves the model in `loading` and the out-of-band health poller
// (C3) continues watching it.
func VerifyStartup(ctx context.Context, clk clock.Clock, runner Runner, httpClient *http.Client,
	m *registry.Model, healthURL string, cfg ReadinessConfig, log *logrus.Entry) Outcome {

	deadline := clk.Now().Add(cfg.QuickDeathWindow)
	for clk.Now().Before(deadline) {
		running, err := runner.IsRunning(ctx, m)
		if err == nil && !running {
			logs, _ := runner.Logs(ctx, m, 200)
			log.WithField("model", m.ServedName).Warn("backend exited during quick-death window")
			return Outcome{Failed: true, FailureLogs: logs}
		}
		select {
		case <-ctx.Done():
			return Outcome{Failed: true, FailureLogs: "startup cancelled"}
		case <-clk.After(cfg.QuickDeathPoll):
		}
	}

	readinessWindow := cfg.ReadinessWindowFor(EstimateVRAM(m).WeightsGB)
	readinessDeadline := clk.Now().Add(readinessWindow)
	for clk.Now().Before(readinessDeadline) {
		if ready, _ := probeHealth(ctx, httpClient, healthURL); ready {
			return Outcome{Ready: true}
		}

		running, err := runner.IsRunning(ctx, m)
		if err == nil && !running {
			logs, _ := runner.Logs(ctx, m, 200)
			log.WithField("model", m.ServedName).Warn("backend exited during readiness window")
			return Outcome{Failed: true, FailureLogs: logs}
		}

		select {
		case <-ctx.Done():
			return Outcome{Failed: true, FailureLogs: "startup cancelled"}
		case <-clk.After(cfg.ReadinessPoll):
		}
	}

	// Readiness window elapsed without death or success: stays `loading`.
	return Outcome{}
}

func probeHealth(ctx context.Context, client *http.Client, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// OfflineTokenizerGate enforces the pre-start validation described in
// §4.2: under offline policy, a local-GGUF model whose tokenizer source is
// a remote repo id is refused before any container is launched (scenario
// S4), rather than failing at load time inside the container.
func OfflineTokenizerGate(offlineMode bool, m *registry.Model) error {
	if !offlineMode {
		return nil
	}
	isLocalGGUF := m.EngineKind == registry.EngineGGUFServer && m.LocalPath != nil && *m.LocalPath != ""
	tokenizerIsRemote := m.Config.TokenizerLocalPath == "" && m.Config.TokenizerRepoID != ""

	if isLocalGGUF && tokenizerIsRemote {
		return apperr.New(apperr.ValidationError, fmt.Sprintf(
			"offline mode forbids fetching tokenizer_repo_id %q for a local GGUF model",
			m.Config.TokenizerRepoID)).
			WithFields(map[string]string{
				"tokenizer_repo_id": "requires network access under offline_mode; " +
					"set tokenizer_local_path to a cached tokenizer config, or pre-cache this repo first",
			})
	}
	return nil
}
