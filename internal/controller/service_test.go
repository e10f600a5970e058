package controller

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"cortex.dev/cortex/internal/apperr"
	"cortex.dev/cortex/internal/registry"
)

func TestPortAllocator_NeverHandsOutSamePortTwice(t *testing.T) {
	pa := NewPortAllocator(40000, 40002)

	a, err := pa.Allocate()
	require.NoError(t, err)
	b, err := pa.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	pa.Release(a)
	c, err := pa.Allocate()
	require.NoError(t, err)
	require.Equal(t, a, c)
}

func TestPortAllocator_ExhaustionReturnsError(t *testing.T) {
	pa := NewPortAllocator(40010, 40010)
	_, err := pa.Allocate()
	require.NoError(t, err)
	_, err = pa.Allocate()
	require.Error(t, err)
}

// fakeRegistry implements registry.Registry in memory for service-layer tests.
type fakeRegistry struct {
	models map[int64]*registry.Model
}

func newFakeRegistry(m *registry.Model) *fakeRegistry {
	return &fakeRegistry{models: map[int64]*registry.Model{m.ID: m}}
}

func (f *fakeRegistry) Create(ctx context.Context, cfg registry.CreateConfig) (*registry.Model, error) {
	return nil, nil
}
func (f *fakeRegistry) Update(ctx context.Context, id int64, patch registry.Patch) (*registry.Model, error) {
	return f.models[id], nil
}
func (f *fakeRegistry) Archive(ctx context.Context, id int64) error { return nil }
func (f *fakeRegistry) Delete(ctx context.Context, id int64) error  { return nil }
func (f *fakeRegistry) GetByID(ctx context.Context, id int64) (*registry.Model, error) {
	m, ok := f.models[id]
	if !ok {
		return nil, apperr.New(apperr.ModelNotFound, "not found")
	}
	return m, nil
}
func (f *fakeRegistry) GetByServedName(ctx context.Context, name string) (*registry.Model, error) {
	return nil, nil
}
func (f *fakeRegistry) List(ctx context.Context, filters registry.Filters) ([]*registry.Model, error) {
	return nil, nil
}
func (f *fakeRegistry) SetState(ctx context.Context, id int64, state registry.State, errText *string) (*registry.Model, error) {
	m := f.models[id]
	m.State = state
	m.LastError = errText
	return m, nil
}
func (f *fakeRegistry) SetContainer(ctx context.Context, id int64, containerName string, port int) error {
	m := f.models[id]
	m.ContainerName = &containerName
	m.Port = &port
	return nil
}

func discardEntry() *logrus.Entry {
	l := logrus.New()
	return logrus.NewEntry(l)
}

// fakeContainerRunner implements containerRunner without shelling out to
// docker, mirroring the seam readiness_test.go's fakeRunner already uses for
// VerifyStartup.
type fakeContainerRunner struct {
	startErr  error
	stopErr   error
	running   bool
	startedAt []int64 // model IDs passed to Start
	stoppedAt []int64 // model IDs passed to Stop
}

func (f *fakeContainerRunner) Start(ctx context.Context, m *registry.Model, hostPort int, cmdLine CommandLine) error {
	f.startedAt = append(f.startedAt, m.ID)
	return f.startErr
}

func (f *fakeContainerRunner) Stop(ctx context.Context, m *registry.Model) error {
	f.stoppedAt = append(f.stoppedAt, m.ID)
	return f.stopErr
}

func (f *fakeContainerRunner) IsRunning(ctx context.Context, m *registry.Model) (bool, error) {
	return f.running, nil
}

func (f *fakeContainerRunner) Logs(ctx context.Context, m *registry.Model, tailLines int) (string, error) {
	return "", nil
}

func testModel(id int64) *registry.Model {
	return &registry.Model{
		ID:          id,
		ServedName:  "m1",
		EngineKind:  registry.EngineTransformersServer,
		EngineImage: "cortex/transformers-server:1.0",
		Config: registry.ConfigBundle{
			ParamsBillions: 7,
			ContextLength:  8192,
			TensorParallel: 1,
			HiddenSize:     4096,
			NumLayers:      32,
			MaxNumSeqs:     1,
		},
	}
}

func TestService_Start_AllocatesPortAndMovesToLoading(t *testing.T) {
	m := testModel(1)
	reg := newFakeRegistry(m)
	runner := &fakeContainerRunner{}
	svc := NewService(reg, runner, NewPortAllocator(41100, 41110), false, discardEntry())

	err := svc.Start(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, runner.startedAt)
	require.Equal(t, registry.StateLoading, reg.models[1].State)
	require.NotNil(t, reg.models[1].Port)
	require.NotNil(t, reg.models[1].ContainerName)
}

func TestService_Start_ReleasesPortAndMarksFailedWhenRunnerErrors(t *testing.T) {
	m := testModel(1)
	reg := newFakeRegistry(m)
	runner := &fakeContainerRunner{startErr: context.DeadlineExceeded}
	ports := NewPortAllocator(41120, 41130)
	svc := NewService(reg, runner, ports, false, discardEntry())

	err := svc.Start(context.Background(), 1)
	require.Error(t, err)
	require.Equal(t, registry.StateFailed, reg.models[1].State)
	require.NotNil(t, reg.models[1].LastError)

	// the allocated port must have been released back to the pool.
	freed, aerr := ports.Allocate()
	require.NoError(t, aerr)
	freed2, aerr2 := ports.Allocate()
	require.NoError(t, aerr2)
	require.NotEqual(t, freed, freed2)
}

func TestService_Stop_ReleasesPortAndMarksStopped(t *testing.T) {
	port := 41140
	m := testModel(1)
	m.State = registry.StateRunning
	m.Port = &port
	reg := newFakeRegistry(m)
	runner := &fakeContainerRunner{}
	svc := NewService(reg, runner, NewPortAllocator(41140, 41150), false, discardEntry())

	err := svc.Stop(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, runner.stoppedAt)
	require.Equal(t, registry.StateStopped, reg.models[1].State)
}

func TestService_Stop_ToleratesRunnerErrorAndStillMarksStopped(t *testing.T) {
	m := testModel(1)
	m.State = registry.StateRunning
	reg := newFakeRegistry(m)
	runner := &fakeContainerRunner{stopErr: context.DeadlineExceeded}
	svc := NewService(reg, runner, NewPortAllocator(41160, 41170), false, discardEntry())

	err := svc.Stop(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, registry.StateStopped, reg.models[1].State)
}

func TestService_Apply_StopsRunningModelThenStartsAgain(t *testing.T) {
	port := 41180
	m := testModel(1)
	m.State = registry.StateRunning
	m.Port = &port
	reg := newFakeRegistry(m)
	runner := &fakeContainerRunner{}
	svc := NewService(reg, runner, NewPortAllocator(41180, 41190), false, discardEntry())

	err := svc.Apply(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, runner.stoppedAt)
	require.Equal(t, []int64{1}, runner.startedAt)
	require.Equal(t, registry.StateLoading, reg.models[1].State)
}

func TestService_Apply_StartsDirectlyWhenAlreadyStopped(t *testing.T) {
	m := testModel(1)
	m.State = registry.StateStopped
	reg := newFakeRegistry(m)
	runner := &fakeContainerRunner{}
	svc := NewService(reg, runner, NewPortAllocator(41200, 41210), false, discardEntry())

	err := svc.Apply(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, runner.stoppedAt)
	require.Equal(t, []int64{1}, runner.startedAt)
}

func TestService_DryRun_ReturnsCommandAndEstimate(t *testing.T) {
	m := &registry.Model{
		ID:          1,
		ServedName:  "m1",
		EngineKind:  registry.EngineTransformersServer,
		EngineImage: "cortex/transformers-server:1.0",
		Config: registry.ConfigBundle{
			ParamsBillions: 7,
			ContextLength:  8192,
			TensorParallel: 1,
			HiddenSize:     4096,
			NumLayers:      32,
			MaxNumSeqs:     1,
		},
	}
	svc := NewService(newFakeRegistry(m), NewDockerRunner(discardEntry()), NewPortAllocator(41000, 41010), false, discardEntry())

	result, err := svc.DryRun(context.Background(), 1)
	require.NoError(t, err)
	require.Contains(t, result.Args, "--tensor-parallel-size")
	require.Greater(t, result.Estimate.RequiredVRAMGB, 0.0)
}

func TestService_Test_RejectsNonRunningModel(t *testing.T) {
	m := &registry.Model{ID: 1, ServedName: "m1", State: registry.StateLoading}
	svc := NewService(newFakeRegistry(m), NewDockerRunner(discardEntry()), NewPortAllocator(41020, 41030), false, discardEntry())

	_, err := svc.Test(context.Background(), 1)
	require.Error(t, err)
}
