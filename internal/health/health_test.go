package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"cortex.dev/cortex/internal/registry"
)

type fakeBreaker struct {
	mu       sync.Mutex
	success  int
	failures int
}

func (f *fakeBreaker) RecordSuccess(backendURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.success++
}
func (f *fakeBreaker) RecordFailure(backendURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
}

type fakeReg struct {
	mu     sync.Mutex
	models []*registry.Model
}

func (f *fakeReg) Create(ctx context.Context, cfg registry.CreateConfig) (*registry.Model, error) {
	return nil, nil
}
func (f *fakeReg) Update(ctx context.Context, id int64, patch registry.Patch) (*registry.Model, error) {
	return nil, nil
}
func (f *fakeReg) Archive(ctx context.Context, id int64) error { return nil }
func (f *fakeReg) Delete(ctx context.Context, id int64) error  { return nil }
func (f *fakeReg) GetByID(ctx context.Context, id int64) (*registry.Model, error) {
	return nil, nil
}
func (f *fakeReg) GetByServedName(ctx context.Context, name string) (*registry.Model, error) {
	return nil, nil
}
func (f *fakeReg) List(ctx context.Context, filters registry.Filters) ([]*registry.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.models, nil
}
func (f *fakeReg) SetState(ctx context.Context, id int64, state registry.State, errText *string) (*registry.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.models {
		if m.ID == id {
			m.State = state
			return m, nil
		}
	}
	return nil, nil
}
func (f *fakeReg) SetContainer(ctx context.Context, id int64, containerName string, port int) error {
	return nil
}

func discardEntry() *logrus.Entry {
	return logrus.NewEntry(logrus.New())
}

func TestPollOnce_PromotesLoadingToRunningOnHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	port := srv.Listener.Addr().(*net.TCPAddr).Port

	reg := &fakeReg{models: []*registry.Model{
		{ID: 1, ServedName: "m1", State: registry.StateLoading, Port: &port},
	}}
	breaker := &fakeBreaker{}

	poller, err := New(reg, breaker, time.Second, 16, discardEntry())
	require.NoError(t, err)

	poller.pollOnce(context.Background())

	require.Equal(t, registry.StateRunning, reg.models[0].State)
	require.Equal(t, 1, breaker.success)

	backendURL := "http://127.0.0.1:" + strconv.Itoa(port)
	snap, ok := poller.SnapshotFor(backendURL)
	require.True(t, ok)
	require.True(t, snap.Healthy)
}

func TestPollOnce_RecordsFailureWithoutTransitioning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	port := srv.Listener.Addr().(*net.TCPAddr).Port

	reg := &fakeReg{models: []*registry.Model{
		{ID: 1, ServedName: "m1", State: registry.StateRunning, Port: &port},
	}}
	breaker := &fakeBreaker{}

	poller, err := New(reg, breaker, time.Second, 16, discardEntry())
	require.NoError(t, err)

	poller.pollOnce(context.Background())

	require.Equal(t, registry.StateRunning, reg.models[0].State)
	require.Equal(t, 1, breaker.failures)
}

func TestPollOnce_SkipsIneligibleAndArchivedStates(t *testing.T) {
	port := 0
	reg := &fakeReg{models: []*registry.Model{
		{ID: 1, ServedName: "stopped", State: registry.StateStopped, Port: &port},
		{ID: 2, ServedName: "no-port", State: registry.StateRunning},
	}}
	breaker := &fakeBreaker{}

	poller, err := New(reg, breaker, time.Second, 16, discardEntry())
	require.NoError(t, err)

	poller.pollOnce(context.Background())
	require.Equal(t, 0, breaker.success+breaker.failures)
}
