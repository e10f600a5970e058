package deployment

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"cortex.dev/cortex/internal/apperr"
)

// JobRow is the durable row backing one deployment job, matching the
// deployment_jobs table.
type JobRow struct {
	ID          int64      `db:"id"`
	Kind        string     `db:"kind"`
	Status      string     `db:"status"`
	ProgressPct float64    `db:"progress_pct"`
	ETASeconds  *int       `db:"eta_seconds"`
	LogTail     string     `db:"log_tail"`
	Error       *string    `db:"error"`
	CreatedAt   time.Time  `db:"created_at"`
	FinishedAt  *time.Time `db:"finished_at"`
}

// Store persists deployment job rows. The one-active-job-per-kind
// invariant is enforced by a partial unique index on (kind) WHERE status
// IN ('pending','running'); Create surfaces a violation as apperr's
// StateConflict.
type Store interface {
	Create(ctx context.Context, kind string) (*JobRow, error)
	Update(ctx context.Context, id int64, patch JobPatch) error
	Get(ctx context.Context, id int64) (*JobRow, error)
	List(ctx context.Context) ([]*JobRow, error)
}

// JobPatch updates a subset of a job row's mutable columns.
type JobPatch struct {
	Status      *string
	ProgressPct *float64
	ETASeconds  *int
	LogTail     *string
	Error       *string
	Finished    bool
}

type postgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore constructs a Store backed by the deployment_jobs table.
func NewPostgresStore(db *sqlx.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) Create(ctx context.Context, kind string) (*JobRow, error) {
	var row JobRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO deployment_jobs (kind, status)
		VALUES ($1, 'pending')
		RETURNING id, kind, status, progress_pct, eta_seconds, log_tail, error, created_at, finished_at
	`, kind)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Wrap(apperr.StateConflict, "a "+kind+" job is already pending or running", err)
		}
		return nil, apperr.Wrap(apperr.InternalError, "creating deployment job", err)
	}
	return &row, nil
}

func (s *postgresStore) Update(ctx context.Context, id int64, patch JobPatch) error {
	sets := []string{}
	args := map[string]interface{}{"id": id}

	if patch.Status != nil {
		sets = append(sets, "status = :status")
		args["status"] = *patch.Status
	}
	if patch.ProgressPct != nil {
		sets = append(sets, "progress_pct = :progress_pct")
		args["progress_pct"] = *patch.ProgressPct
	}
	if patch.ETASeconds != nil {
		sets = append(sets, "eta_seconds = :eta_seconds")
		args["eta_seconds"] = *patch.ETASeconds
	}
	if patch.LogTail != nil {
		sets = append(sets, "log_tail = :log_tail")
		args["log_tail"] = *patch.LogTail
	}
	if patch.Error != nil {
		sets = append(sets, "error = :error")
		args["error"] = *patch.Error
	}
	if patch.Finished {
		sets = append(sets, "finished_at = now()")
	}
	if len(sets) == 0 {
		return nil
	}

	query := "UPDATE deployment_jobs SET " + strings.Join(sets, ", ") + " WHERE id = :id"
	_, err := s.db.NamedExecContext(ctx, query, args)
	if err != nil {
		return apperr.Wrap(apperr.InternalError, "updating deployment job", err)
	}
	return nil
}

func (s *postgresStore) Get(ctx context.Context, id int64) (*JobRow, error) {
	var row JobRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, kind, status, progress_pct, eta_seconds, log_tail, error, created_at, finished_at
		FROM deployment_jobs WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.ValidationError, "deployment job not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "reading deployment job", err)
	}
	return &row, nil
}

func (s *postgresStore) List(ctx context.Context) ([]*JobRow, error) {
	var rows []*JobRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, kind, status, progress_pct, eta_seconds, log_tail, error, created_at, finished_at
		FROM deployment_jobs ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "listing deployment jobs", err)
	}
	return rows, nil
}

func isUniqueViolation(err error) bool {
	// lib/pq reports constraint violations as *pq.Error with Code "23505";
	// matched on the error string rather than importing lib/pq's error type
	// here to keep this package free of a direct driver dependency beyond
	// the database/sql interface sqlx already wraps.
	return strings.Contains(err.Error(), "23505") || strings.Contains(err.Error(), "duplicate key value")
}
