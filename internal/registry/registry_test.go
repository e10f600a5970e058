package registry

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (Registry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	log := logrus.New().WithField("subsystem", "registry-test")
	return New(sqlxDB, log), mock
}

func validCreateConfig() CreateConfig {
	repo := "org/model-7b"
	return CreateConfig{
		Name:        "model-7b",
		ServedName:  "model-7b",
		EngineKind:  EngineTransformersServer,
		RepoID:      &repo,
		EngineImage: "cortex/transformers-server:latest",
		Config:      ConfigBundle{ContextLength: 8192},
	}
}

func TestCreate_RejectsDuplicateServedName(t *testing.T) {
	reg, mock := newTestRegistry(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM models WHERE served_name = $1 AND state <> 'archived'`)).
		WithArgs("model-7b").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, err := reg.Create(ctx, validCreateConfig())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_RejectsInvalidConfig(t *testing.T) {
	reg, _ := newTestRegistry(t)
	cfg := validCreateConfig()
	cfg.ServedName = "not a valid served name!!"

	_, err := reg.Create(context.Background(), cfg)
	require.Error(t, err)
}

func TestCreate_InsertsAndReturnsID(t *testing.T) {
	reg, mock := newTestRegistry(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM models WHERE served_name = $1 AND state <> 'archived'`)).
		WithArgs("model-7b").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO models`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	m, err := reg.Create(ctx, validCreateConfig())
	require.NoError(t, err)
	require.Equal(t, int64(42), m.ID)
	require.Equal(t, StateStopped, m.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetState_RejectsIllegalTransition(t *testing.T) {
	reg, mock := newTestRegistry(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "name", "served_name", "engine_kind", "repo_id", "local_path",
		"engine_image", "config", "state", "last_error", "port", "container_name",
		"created_at", "updated_at",
	}).AddRow(1, "model-7b", "model-7b", "transformers-server", nil, nil,
		"img", []byte(`{}`), StateStopped, nil, nil, nil, nowStub(), nowStub())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM models WHERE id=$1`)).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	_, err := reg.SetState(ctx, 1, StateRunning, nil)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_RejectsNonArchived(t *testing.T) {
	reg, mock := newTestRegistry(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "name", "served_name", "engine_kind", "repo_id", "local_path",
		"engine_image", "config", "state", "last_error", "port", "container_name",
		"created_at", "updated_at",
	}).AddRow(1, "model-7b", "model-7b", "transformers-server", nil, nil,
		"img", []byte(`{}`), StateRunning, nil, nil, nil, nowStub(), nowStub())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM models WHERE id=$1`)).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	err := reg.Delete(ctx, 1)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func nowStub() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}
