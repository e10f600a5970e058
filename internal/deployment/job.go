package deployment

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// Kind enumerates the long-running deployment operations §4.10 names.
const (
	KindExportFull      = "export_full"
	KindExportModel     = "export_model"
	KindImportModel     = "import_model"
	KindRestoreDatabase = "restore_database"
)

// Status mirrors the deployment_jobs.status lifecycle.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

const logTailCapacity = 200

// Job is the in-memory view of a running or recently-finished deployment
// job: everything the admin API needs to answer a status query without a
// round trip to the store, kept richer than the durable row (which only
// carries progress_pct, eta_seconds and a flattened log_tail string).
type Job struct {
	ID   int64
	Kind string

	mu           sync.Mutex
	status       string
	progress     float64
	step         string
	bytesWritten int64
	startedAt    time.Time
	etaSeconds   *int
	errMsg       string
	logLines     deque.Deque[string]

	cancel func()
}

func newJob(id int64, kind string, cancel func()) *Job {
	return &Job{
		ID:        id,
		Kind:      kind,
		status:    StatusPending,
		startedAt: time.Now(),
		cancel:    cancel,
	}
}

// Snapshot is a point-in-time, lock-free copy of a Job's state.
type Snapshot struct {
	ID           int64
	Kind         string
	Status       string
	ProgressPct  float64
	Step         string
	BytesWritten int64
	LogTail      string
	ETASeconds   *int
	Error        string
}

func (j *Job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		ID:           j.ID,
		Kind:         j.Kind,
		Status:       j.status,
		ProgressPct:  j.progress,
		Step:         j.step,
		BytesWritten: j.bytesWritten,
		LogTail:      j.logTailLocked(),
		ETASeconds:   j.etaSeconds,
		Error:        j.errMsg,
	}
}

func (j *Job) logTailLocked() string {
	lines := make([]string, 0, j.logLines.Len())
	for i := 0; i < j.logLines.Len(); i++ {
		lines = append(lines, j.logLines.At(i))
	}
	return joinLines(lines)
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// Reporter is the handle a job's work function uses to report progress; it
// is the only way work functions touch job state, keeping every mutation
// behind the Job's mutex.
type Reporter struct {
	job *Job
}

// SetStep records the current high-level step label (e.g. "copying model
// weights").
func (r *Reporter) SetStep(step string) {
	r.job.mu.Lock()
	r.job.step = step
	r.job.mu.Unlock()
}

// SetProgress records a progress fraction in [0, 1].
func (r *Reporter) SetProgress(pct float64) {
	if pct < 0 {
		pct = 0
	}
	if pct > 1 {
		pct = 1
	}
	r.job.mu.Lock()
	r.job.progress = pct
	r.job.mu.Unlock()
}

// AddBytesWritten accumulates the bytes-written counter.
func (r *Reporter) AddBytesWritten(n int64) {
	r.job.mu.Lock()
	r.job.bytesWritten += n
	r.job.mu.Unlock()
}

// Log appends one line to the bounded log tail, dropping the oldest line
// once the ring reaches capacity.
func (r *Reporter) Log(line string) {
	r.job.mu.Lock()
	defer r.job.mu.Unlock()
	if r.job.logLines.Len() >= logTailCapacity {
		r.job.logLines.PopFront()
	}
	r.job.logLines.PushBack(line)
}

// Cancelled reports whether the caller asked this job to stop; work
// functions poll it (alongside ctx.Done()) at safe checkpoints so partial
// output can be left in place rather than torn down mid-write.
func (r *Reporter) Cancelled() bool {
	r.job.mu.Lock()
	defer r.job.mu.Unlock()
	return r.job.status == StatusCancelled
}
