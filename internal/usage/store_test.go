package usage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"cortex.dev/cortex/internal/gateway"
)

func TestPostgresStore_InsertWritesAllColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(sqlx.NewDb(db, "postgres"))

	mock.ExpectExec("INSERT INTO usage_records").
		WithArgs("req-1", nil, "demo", "/v1/chat/completions", 3, 5, 200, int64(120), nil, false).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.Insert(context.Background(), gateway.UsageEvent{
		RequestID:        "req-1",
		ModelServedName:  "demo",
		Route:            "/v1/chat/completions",
		PromptTokens:     3,
		CompletionTokens: 5,
		StatusCode:       200,
		LatencyMS:        120,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteOlderThanReturnsRowsAffected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(sqlx.NewDb(db, "postgres"))

	mock.ExpectExec("DELETE FROM usage_records WHERE created_at < \\$1").
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := store.DeleteOlderThan(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(7), n)
}
