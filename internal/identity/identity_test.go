package identity

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_CreateOrgReturnsRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(sqlx.NewDb(db, "postgres"))

	mock.ExpectQuery("INSERT INTO organizations").WithArgs("acme").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "created_at"}).AddRow(1, "acme", time.Now()),
	)

	org, err := store.CreateOrg(context.Background(), "acme")
	require.NoError(t, err)
	require.Equal(t, "acme", org.Name)
}

func TestPostgresStore_GetUserNotFoundReturnsValidationError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(sqlx.NewDb(db, "postgres"))

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id = \\$1").WithArgs(int64(5)).WillReturnRows(
		sqlmock.NewRows([]string{"id", "organization_id", "email", "display_name", "created_at"}),
	)

	_, err = store.GetUser(context.Background(), 5)
	require.Error(t, err)
}

func TestPostgresStore_DeleteOrgNotFoundReturnsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(sqlx.NewDb(db, "postgres"))

	mock.ExpectExec("DELETE FROM organizations WHERE id = \\$1").WithArgs(int64(9)).WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.DeleteOrg(context.Background(), 9)
	require.Error(t, err)
}
