package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"cortex.dev/cortex/internal/apperr"
)

// Filters narrows List results.
type Filters struct {
	IncludeArchived bool
	State           *State
	ServedNames     []string
}

// Registry is the Model Registry's public contract (spec §4.1). The
// Postgres-backed implementation below is the only writer of Model rows;
// the Request Router only ever calls the read methods.
type Registry interface {
	Create(ctx context.Context, cfg CreateConfig) (*Model, error)
	Update(ctx context.Context, id int64, patch Patch) (*Model, error)
	Archive(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*Model, error)
	GetByServedName(ctx context.Context, servedName string) (*Model, error)
	List(ctx context.Context, filters Filters) ([]*Model, error)
	SetState(ctx context.Context, id int64, state State, errText *string) (*Model, error)
	SetContainer(ctx context.Context, id int64, containerName string, port int) error
}

// postgresRegistry implements Registry over a Postgres database reached
// through sqlx, grounded on r3e-network-service_layer's store_postgres.go
// pattern (context-scoped *sql.DB calls, $N placeholders) with sqlx layered
// on top for scan convenience.
type postgresRegistry struct {
	db  *sqlx.DB
	log *logrus.Entry

	// per-model mutex serializes state transitions on a single model while
	// letting transitions on distinct models proceed concurrently (§5).
	mu       sync.Mutex
	perModel map[int64]*sync.Mutex
}

// New constructs a Registry backed by db.
func New(db *sqlx.DB, log *logrus.Entry) Registry {
	return &postgresRegistry{
		db:       db,
		log:      log,
		perModel: make(map[int64]*sync.Mutex),
	}
}

func (r *postgresRegistry) lockFor(id int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.perModel[id]
	if !ok {
		m = &sync.Mutex{}
		r.perModel[id] = m
	}
	return m
}

func (r *postgresRegistry) Create(ctx context.Context, cfg CreateConfig) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var existing int
	err := r.db.GetContext(ctx, &existing, `
		SELECT count(*) FROM models WHERE served_name = $1 AND state <> 'archived'
	`, cfg.ServedName)
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "checking served_name uniqueness", err)
	}
	if existing > 0 {
		return nil, apperr.New(apperr.ValidationError, "served_name already in use").
			WithFields(map[string]string{"served_name": "must be unique among non-archived models"})
	}

	now := time.Now().UTC()
	m := &Model{
		Name:        cfg.Name,
		ServedName:  cfg.ServedName,
		EngineKind:  cfg.EngineKind,
		RepoID:      cfg.RepoID,
		LocalPath:   cfg.LocalPath,
		EngineImage: cfg.EngineImage,
		Config:      cfg.Config,
		State:       StateStopped,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	row := r.db.QueryRowxContext(ctx, `
		INSERT INTO models (name, served_name, engine_kind, repo_id, local_path,
			engine_image, config, state, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`, m.Name, m.ServedName, m.EngineKind, m.RepoID, m.LocalPath, m.EngineImage,
		m.Config, m.State, m.CreatedAt, m.UpdatedAt)
	if err := row.Scan(&m.ID); err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "inserting model", err)
	}
	return m, nil
}

func (r *postgresRegistry) Update(ctx context.Context, id int64, patch Patch) (*Model, error) {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	m, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		m.Name = *patch.Name
	}
	if patch.EngineImage != nil {
		m.EngineImage = *patch.EngineImage
	}
	if patch.Config != nil {
		m.Config = *patch.Config
	}
	m.UpdatedAt = time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
		UPDATE models SET name=$1, engine_image=$2, config=$3, updated_at=$4 WHERE id=$5
	`, m.Name, m.EngineImage, m.Config, m.UpdatedAt, m.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "updating model", err)
	}
	return m, nil
}

func (r *postgresRegistry) Archive(ctx context.Context, id int64) error {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	m, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(m.State, StateArchived) {
		return apperr.New(apperr.StateConflict, fmt.Sprintf("cannot archive from state %s", m.State))
	}
	_, err = r.db.ExecContext(ctx, `UPDATE models SET state=$1, updated_at=$2 WHERE id=$3`,
		StateArchived, time.Now().UTC(), id)
	if err != nil {
		return apperr.Wrap(apperr.InternalError, "archiving model", err)
	}
	return nil
}

// Delete removes only the DB row. It never touches the model directory on
// disk — the delete-safety invariant (spec §4.2, testable property #2).
func (r *postgresRegistry) Delete(ctx context.Context, id int64) error {
	m, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if m.State != StateArchived {
		return apperr.New(apperr.StateConflict, "delete is only permitted when state = archived")
	}
	_, err = r.db.ExecContext(ctx, `DELETE FROM models WHERE id=$1`, id)
	if err != nil {
		return apperr.Wrap(apperr.InternalError, "deleting model row", err)
	}
	return nil
}

func (r *postgresRegistry) GetByID(ctx context.Context, id int64) (*Model, error) {
	var m Model
	err := r.db.GetContext(ctx, &m, `SELECT * FROM models WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.ModelNotFound, fmt.Sprintf("model %d not found", id))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "fetching model", err)
	}
	return &m, nil
}

func (r *postgresRegistry) GetByServedName(ctx context.Context, servedName string) (*Model, error) {
	var m Model
	err := r.db.GetContext(ctx, &m, `
		SELECT * FROM models WHERE served_name=$1 AND state <> 'archived'
	`, servedName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.ModelNotFound, fmt.Sprintf("model %q not found", servedName))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "fetching model by served_name", err)
	}
	return &m, nil
}

func (r *postgresRegistry) List(ctx context.Context, filters Filters) ([]*Model, error) {
	query := `SELECT * FROM models WHERE 1=1`
	args := []interface{}{}
	n := 0

	if !filters.IncludeArchived {
		query += " AND state <> 'archived'"
	}
	if filters.State != nil {
		n++
		query += fmt.Sprintf(" AND state = $%d", n)
		args = append(args, *filters.State)
	}
	if len(filters.ServedNames) > 0 {
		n++
		query += fmt.Sprintf(" AND served_name = ANY($%d)", n)
		args = append(args, filters.ServedNames)
	}
	query += " ORDER BY id"

	var models []*Model
	if err := r.db.SelectContext(ctx, &models, query, args...); err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "listing models", err)
	}
	return models, nil
}

// SetState is, with Archive, one of the two writers of Model.State; it
// validates the requested transition against the FSM before committing it.
func (r *postgresRegistry) SetState(ctx context.Context, id int64, state State, errText *string) (*Model, error) {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	m, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(m.State, state) {
		return nil, apperr.New(apperr.StateConflict,
			fmt.Sprintf("illegal transition %s -> %s", m.State, state))
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE models SET state=$1, last_error=$2, updated_at=$3 WHERE id=$4
	`, state, errText, time.Now().UTC(), id)
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "setting model state", err)
	}

	m.State = state
	m.LastError = errText
	return m, nil
}

// SetContainer is called by the Container Controller once it has allocated
// a port and named a container, before the state transitions out of
// `stopped`; the Router never calls this.
func (r *postgresRegistry) SetContainer(ctx context.Context, id int64, containerName string, port int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE models SET container_name=$1, port=$2, updated_at=$3 WHERE id=$4
	`, containerName, port, time.Now().UTC(), id)
	if err != nil {
		return apperr.Wrap(apperr.InternalError, "setting container metadata", err)
	}
	return nil
}
