package configstore

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_GetMissingKeyReturnsFalse(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(sqlx.NewDb(db, "postgres"))
	mock.ExpectQuery("SELECT value FROM config_kv WHERE key = \\$1").WithArgs("base_dir").WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, ok, err := store.Get(context.Background(), "base_dir")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPostgresStore_SetThenGetRoundTrips(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(sqlx.NewDb(db, "postgres"))

	mock.ExpectExec("INSERT INTO config_kv").WithArgs("base_dir", []byte(`"/data/models"`)).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Set(context.Background(), "base_dir", "/data/models"))

	mock.ExpectQuery("SELECT value FROM config_kv WHERE key = \\$1").WithArgs("base_dir").WillReturnRows(
		sqlmock.NewRows([]string{"value"}).AddRow([]byte(`"/data/models"`)),
	)
	value, ok, err := store.Get(context.Background(), "base_dir")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/data/models", value)
}
