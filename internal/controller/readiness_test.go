package controller

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"cortex.dev/cortex/internal/clock"
	"cortex.dev/cortex/internal/registry"
)

type fakeRunner struct {
	running   bool
	failAfter int
	calls     int
	logs      string
}

func (f *fakeRunner) IsRunning(ctx context.Context, m *registry.Model) (bool, error) {
	f.calls++
	if f.failAfter > 0 && f.calls >= f.failAfter {
		return false, nil
	}
	return f.running, nil
}

func (f *fakeRunner) Logs(ctx context.Context, m *registry.Model, tailLines int) (string, error) {
	return f.logs, nil
}

func tinyConfig() ReadinessConfig {
	return ReadinessConfig{
		QuickDeathWindow:    20 * time.Millisecond,
		QuickDeathPoll:      5 * time.Millisecond,
		BaseReadinessWindow: 30 * time.Millisecond,
		ReadinessPoll:       5 * time.Millisecond,
		MaxReadinessWindow:  time.Second,
	}
}

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestVerifyStartup_QuickDeathMarksFailed(t *testing.T) {
	runner := &fakeRunner{running: false, logs: "boom: CUDA out of memory"}
	m := &registry.Model{ServedName: "m1"}

	outcome := VerifyStartup(context.Background(), clock.New(), runner, http.DefaultClient, m, "http://127.0.0.1:0/health", tinyConfig(), discardLog())
	require.True(t, outcome.Failed)
	require.Contains(t, outcome.FailureLogs, "CUDA out of memory")
}

func TestVerifyStartup_ReadyOnFirst2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	runner := &fakeRunner{running: true}
	m := &registry.Model{ServedName: "m1"}

	outcome := VerifyStartup(context.Background(), clock.New(), runner, http.DefaultClient, m, srv.URL+"/health", tinyConfig(), discardLog())
	require.True(t, outcome.Ready)
	require.False(t, outcome.Failed)
}

func TestVerifyStartup_TimeoutStaysLoading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	runner := &fakeRunner{running: true}
	m := &registry.Model{ServedName: "m1"}

	outcome := VerifyStartup(context.Background(), clock.New(), runner, http.DefaultClient, m, srv.URL+"/health", tinyConfig(), discardLog())
	require.False(t, outcome.Ready)
	require.False(t, outcome.Failed)
}

func TestReadinessWindowFor_ScalesWithWeightsAndCaps(t *testing.T) {
	cfg := DefaultReadinessConfig()

	require.Equal(t, cfg.BaseReadinessWindow, cfg.ReadinessWindowFor(1))
	require.Greater(t, cfg.ReadinessWindowFor(50), cfg.BaseReadinessWindow)
	require.Equal(t, cfg.MaxReadinessWindow, cfg.ReadinessWindowFor(1e9))
}

func TestOfflineTokenizerGate_RefusesRemoteTokenizerForLocalGGUF(t *testing.T) {
	local := "/models/m1.gguf"
	m := &registry.Model{
		ServedName: "m1",
		EngineKind: registry.EngineGGUFServer,
		LocalPath:  &local,
		Config:     registry.ConfigBundle{TokenizerRepoID: "org/tok"},
	}
	require.Error(t, OfflineTokenizerGate(true, m))
	require.NoError(t, OfflineTokenizerGate(false, m))
}
