package deployment

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"cortex.dev/cortex/internal/apperr"
)

type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	rows    map[int64]*JobRow
	active  map[string]bool
	updates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[int64]*JobRow), active: make(map[string]bool)}
}

func (s *fakeStore) Create(ctx context.Context, kind string) (*JobRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[kind] {
		return nil, apperr.New(apperr.StateConflict, "already active")
	}
	s.nextID++
	row := &JobRow{ID: s.nextID, Kind: kind, Status: StatusPending, CreatedAt: time.Now()}
	s.rows[row.ID] = row
	s.active[kind] = true
	return row, nil
}

func (s *fakeStore) Update(ctx context.Context, id int64, patch JobPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	row, ok := s.rows[id]
	if !ok {
		return errors.New("no such row")
	}
	if patch.Status != nil {
		row.Status = *patch.Status
		if *patch.Status != StatusPending && *patch.Status != StatusRunning {
			s.active[row.Kind] = false
		}
	}
	if patch.ProgressPct != nil {
		row.ProgressPct = *patch.ProgressPct
	}
	if patch.ETASeconds != nil {
		row.ETASeconds = patch.ETASeconds
	}
	if patch.LogTail != nil {
		row.LogTail = *patch.LogTail
	}
	if patch.Error != nil {
		row.Error = patch.Error
	}
	if patch.Finished {
		now := time.Now()
		row.FinishedAt = &now
	}
	return nil
}

func (s *fakeStore) Get(ctx context.Context, id int64) (*JobRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, apperr.New(apperr.ValidationError, "not found")
	}
	cp := *row
	return &cp, nil
}

func (s *fakeStore) List(ctx context.Context) ([]*JobRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*JobRow, 0, len(s.rows))
	for _, row := range s.rows {
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func TestRunner_StartRejectsSecondActiveJobOfSameKind(t *testing.T) {
	store := newFakeStore()
	r := NewRunner(store, testLogger())

	block := make(chan struct{})
	_, err := r.Start(context.Background(), KindExportFull, func(ctx context.Context, rep *Reporter) error {
		<-block
		return nil
	})
	require.NoError(t, err)

	_, err = r.Start(context.Background(), KindExportFull, func(ctx context.Context, rep *Reporter) error {
		return nil
	})
	require.Error(t, err)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, apperr.StateConflict, appErr.Kind)

	close(block)
}

func TestRunner_JobCompletesAndReportsProgressAndLog(t *testing.T) {
	store := newFakeStore()
	r := NewRunner(store, testLogger())

	job, err := r.Start(context.Background(), KindExportModel, func(ctx context.Context, rep *Reporter) error {
		rep.SetStep("copying weights")
		rep.SetProgress(0.5)
		rep.AddBytesWritten(1024)
		rep.Log("copied weights")
		rep.SetProgress(1)
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := r.Status(context.Background(), job.ID)
		require.NoError(t, err)
		return snap.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	snap, err := r.Status(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, float64(1), snap.ProgressPct)
	require.Contains(t, snap.LogTail, "copied weights")
	require.Equal(t, int64(1024), snap.BytesWritten)
}

func TestRunner_JobFailureRecordsError(t *testing.T) {
	store := newFakeStore()
	r := NewRunner(store, testLogger())

	job, err := r.Start(context.Background(), KindImportModel, func(ctx context.Context, rep *Reporter) error {
		return errors.New("manifest checksum mismatch")
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := r.Status(context.Background(), job.ID)
		require.NoError(t, err)
		return snap.Status == StatusFailed
	}, time.Second, 5*time.Millisecond)

	snap, err := r.Status(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, "manifest checksum mismatch", snap.Error)
}

func TestRunner_CancelStopsJobAndMarksCancelled(t *testing.T) {
	store := newFakeStore()
	r := NewRunner(store, testLogger())

	started := make(chan struct{})
	job, err := r.Start(context.Background(), KindRestoreDatabase, func(ctx context.Context, rep *Reporter) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	require.NoError(t, r.Cancel(job.ID))

	require.Eventually(t, func() bool {
		snap, err := r.Status(context.Background(), job.ID)
		require.NoError(t, err)
		return snap.Status == StatusCancelled
	}, time.Second, 5*time.Millisecond)
}

func TestRunner_CancelUnknownJobReturnsError(t *testing.T) {
	store := newFakeStore()
	r := NewRunner(store, testLogger())
	require.Error(t, r.Cancel(999))
}

func TestRunner_StatusFallsBackToStoreForPastJobs(t *testing.T) {
	store := newFakeStore()
	row, err := store.Create(context.Background(), KindExportFull)
	require.NoError(t, err)
	completed := StatusCompleted
	progress := 1.0
	require.NoError(t, store.Update(context.Background(), row.ID, JobPatch{Status: &completed, ProgressPct: &progress}))

	r := NewRunner(store, testLogger())
	snap, err := r.Status(context.Background(), row.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, snap.Status)
	require.Equal(t, 1.0, snap.ProgressPct)
}

func TestRunner_LogTailDropsOldestBeyondCapacity(t *testing.T) {
	store := newFakeStore()
	r := NewRunner(store, testLogger())

	job, err := r.Start(context.Background(), KindExportModel, func(ctx context.Context, rep *Reporter) error {
		for i := 0; i < logTailCapacity+10; i++ {
			rep.Log("line")
		}
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := r.Status(context.Background(), job.ID)
		require.NoError(t, err)
		return snap.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	job.mu.Lock()
	n := job.logLines.Len()
	job.mu.Unlock()
	require.Equal(t, logTailCapacity, n)
}

func TestRunner_RecomputeETAsSetsEstimateForRunningJobs(t *testing.T) {
	store := newFakeStore()
	r := NewRunner(store, testLogger())

	block := make(chan struct{})
	job, err := r.Start(context.Background(), KindExportFull, func(ctx context.Context, rep *Reporter) error {
		rep.SetProgress(0.5)
		<-block
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job.mu.Lock()
		p := job.progress
		job.mu.Unlock()
		return p == 0.5
	}, time.Second, 5*time.Millisecond)

	r.recomputeETAs()

	job.mu.Lock()
	eta := job.etaSeconds
	job.mu.Unlock()
	require.NotNil(t, eta)
	require.GreaterOrEqual(t, *eta, 0)

	close(block)
}
