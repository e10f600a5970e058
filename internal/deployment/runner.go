// Package deployment is the Deployment Job Runner (C10): executes the
// long-running export/import/restore operations as cancellable background
// jobs, enforcing at most one active job per kind and persisting enough
// state that a status query mid-job never needs to wait on the job itself
// (§4.10).
package deployment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"cortex.dev/cortex/internal/apperr"
)

// WorkFunc performs the actual export/import/restore work. It must honor
// ctx cancellation and should report progress through the Reporter as it
// goes; returning a non-nil error marks the job failed unless the context
// was cancelled, in which case it is marked cancelled instead.
type WorkFunc func(ctx context.Context, r *Reporter) error

// Runner tracks in-flight deployment jobs in memory and mirrors their state
// to a Store so it survives process restarts and concurrent admin queries.
type Runner struct {
	mu      sync.Mutex
	store   Store
	running map[int64]*Job // jobs currently pending or running, keyed by id
	log     *logrus.Entry

	etaCron *cron.Cron
}

// NewRunner constructs a Runner backed by store.
func NewRunner(store Store, log *logrus.Entry) *Runner {
	return &Runner{
		store:   store,
		running: make(map[int64]*Job),
		log:     log,
		etaCron: cron.New(),
	}
}

// StartETATicker schedules periodic ETA recomputation for every running job
// on spec (standard five-field cron syntax, or a descriptor such as
// "@every 2s").
func (r *Runner) StartETATicker(spec string) error {
	_, err := r.etaCron.AddFunc(spec, r.recomputeETAs)
	if err != nil {
		return err
	}
	r.etaCron.Start()
	return nil
}

// StopETATicker halts the ETA scheduler.
func (r *Runner) StopETATicker() {
	<-r.etaCron.Stop().Done()
}

// recomputeETAs derives a remaining-time estimate for each running job from
// its elapsed time and progress fraction: a simple linear extrapolation,
// adequate for the coarse-grained steps export/import jobs report.
func (r *Runner) recomputeETAs() {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.running))
	for _, j := range r.running {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()

	for _, j := range jobs {
		j.mu.Lock()
		status := j.status
		progress := j.progress
		elapsed := time.Since(j.startedAt)
		j.mu.Unlock()

		if status != StatusRunning || progress <= 0 {
			continue
		}
		remaining := elapsed.Seconds() * (1 - progress) / progress
		etaSecs := int(remaining)
		j.mu.Lock()
		j.etaSeconds = &etaSecs
		j.mu.Unlock()

		patchETA := etaSecs
		_ = r.store.Update(context.Background(), j.ID, JobPatch{ETASeconds: &patchETA})
	}
}

// Start creates a new job of kind and launches work in the background.
// It returns apperr.StateConflict if a job of the same kind is already
// pending or running.
func (r *Runner) Start(ctx context.Context, kind string, work WorkFunc) (*Job, error) {
	r.mu.Lock()
	for _, j := range r.running {
		if j.Kind == kind {
			r.mu.Unlock()
			return nil, apperr.New(apperr.StateConflict, fmt.Sprintf("a %s job is already active", kind))
		}
	}
	r.mu.Unlock()

	row, err := r.store.Create(ctx, kind)
	if err != nil {
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	job := newJob(row.ID, kind, cancel)

	r.mu.Lock()
	r.running[job.ID] = job
	r.mu.Unlock()

	go r.run(jobCtx, job, work)

	return job, nil
}

func (r *Runner) run(ctx context.Context, job *Job, work WorkFunc) {
	job.mu.Lock()
	job.status = StatusRunning
	job.mu.Unlock()
	running := StatusRunning
	_ = r.store.Update(context.Background(), job.ID, JobPatch{Status: &running})

	reporter := &Reporter{job: job}
	err := work(ctx, reporter)

	job.mu.Lock()
	wasCancelled := job.status == StatusCancelled
	job.mu.Unlock()

	final := StatusCompleted
	var errMsg *string
	switch {
	case wasCancelled:
		final = StatusCancelled
	case err != nil:
		final = StatusFailed
		msg := err.Error()
		errMsg = &msg
		job.mu.Lock()
		job.errMsg = msg
		job.mu.Unlock()
	}

	job.mu.Lock()
	job.status = final
	progress := job.progress
	tail := job.logTailLocked()
	job.mu.Unlock()

	if final == StatusCompleted {
		progress = 1
		job.mu.Lock()
		job.progress = 1
		job.mu.Unlock()
	}

	patch := JobPatch{Status: &final, ProgressPct: &progress, LogTail: &tail, Finished: true}
	if errMsg != nil {
		patch.Error = errMsg
	}
	if updateErr := r.store.Update(context.Background(), job.ID, patch); updateErr != nil {
		r.log.WithError(updateErr).WithField("job_id", job.ID).Error("persisting final deployment job state failed")
	}

	r.mu.Lock()
	delete(r.running, job.ID)
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"job_id": job.ID, "kind": job.Kind, "status": final}).Info("deployment job finished")
}

// Cancel requests that the job stop; the work function observes this via
// ctx cancellation and Reporter.Cancelled, and is expected to leave any
// partial output in place.
func (r *Runner) Cancel(id int64) error {
	r.mu.Lock()
	job, ok := r.running[id]
	r.mu.Unlock()
	if !ok {
		return apperr.New(apperr.ValidationError, "no active deployment job with that id")
	}

	job.mu.Lock()
	job.status = StatusCancelled
	job.mu.Unlock()
	job.cancel()
	return nil
}

// Status returns the current snapshot of job id, preferring the richer
// in-memory view and falling back to the durable store for jobs that
// finished in a previous process lifetime.
func (r *Runner) Status(ctx context.Context, id int64) (Snapshot, error) {
	r.mu.Lock()
	job, ok := r.running[id]
	r.mu.Unlock()
	if ok {
		return job.snapshot(), nil
	}

	row, err := r.store.Get(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotFromRow(row), nil
}

// List returns a snapshot of every job the runner knows about, in-memory
// jobs taking precedence over their (possibly stale) durable rows.
func (r *Runner) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		if job, ok := r.running[row.ID]; ok {
			out = append(out, job.snapshot())
			continue
		}
		out = append(out, snapshotFromRow(row))
	}
	return out, nil
}

func snapshotFromRow(row *JobRow) Snapshot {
	s := Snapshot{
		ID:          row.ID,
		Kind:        row.Kind,
		Status:      row.Status,
		ProgressPct: row.ProgressPct,
		LogTail:     row.LogTail,
		ETASeconds:  row.ETASeconds,
	}
	if row.Error != nil {
		s.Error = *row.Error
	}
	return s
}
