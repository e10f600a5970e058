package selector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cortex.dev/cortex/internal/registry"
)

type fakeReg struct {
	byServedName map[string]*registry.Model
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
	m, ok := f.byServedName[name]
	if !ok {
		return nil, registryNotFound(name)
	}
	return m, nil
}
func (f *fakeReg) List(ctx context.Context, filters registry.Filters) ([]*registry.Model, error) {
	return nil, nil
}
func (f *fakeReg) SetState(ctx context.Context, id int64, state registry.State, errText *string) (*registry.Model, error) {
	return nil, nil
}
func (f *fakeReg) SetContainer(ctx context.Context, id int64, containerName string, port int) error {
	return nil
}

func registryNotFound(name string) error {
	return &modelNotFoundErr{name: name}
}

type modelNotFoundErr struct{ name string }

func (e *modelNotFoundErr) Error() string { return "model not found: " + e.name }

func TestSelector_ResolvesRunningModel(t *testing.T) {
	port := 9001
	reg := &fakeReg{byServedName: map[string]*registry.Model{
		"m1": {ID: 1, ServedName: "m1", State: registry.StateRunning, Port: &port},
	}}
	clk := &manualClock{now: time.Now()}
	sel := New(reg, NewBreaker(5, time.Second, clk), nil)

	res, err := sel.Resolve(context.Background(), "m1", "/v1/chat/completions")
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:9001", res.BackendURL)
	require.False(t, res.HalfOpenProbe)
}

func TestSelector_RejectsNonRunningModel(t *testing.T) {
	reg := &fakeReg{byServedName: map[string]*registry.Model{
		"m2": {ID: 2, ServedName: "m2", State: registry.StateLoading},
	}}
	clk := &manualClock{now: time.Now()}
	sel := New(reg, NewBreaker(5, time.Second, clk), nil)

	_, err := sel.Resolve(context.Background(), "m2", "/v1/chat/completions")
	require.Error(t, err)
}

func TestSelector_RejectsWhenBreakerOpen(t *testing.T) {
	port := 9002
	reg := &fakeReg{byServedName: map[string]*registry.Model{
		"m3": {ID: 3, ServedName: "m3", State: registry.StateRunning, Port: &port},
	}}
	clk := &manualClock{now: time.Now()}
	breaker := NewBreaker(1, time.Minute, clk)
	breaker.RecordFailure("http://127.0.0.1:9002")

	sel := New(reg, breaker, nil)
	_, err := sel.Resolve(context.Background(), "m3", "/v1/chat/completions")
	require.Error(t, err)
}
