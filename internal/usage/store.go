package usage

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"cortex.dev/cortex/internal/apperr"
	"cortex.dev/cortex/internal/gateway"
)

// usageRow is the durable shape of a gateway.UsageEvent, matching the
// usage_records table.
type usageRow struct {
	RequestID        string    `db:"request_id"`
	APIKeyID         *int64    `db:"api_key_id"`
	ModelServedName  string    `db:"model_served_name"`
	Route            string    `db:"route"`
	PromptTokens     int       `db:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens"`
	StatusCode       int       `db:"status_code"`
	LatencyMS        int64     `db:"latency_ms"`
	TTFTMs           *int64    `db:"time_to_first_token_ms"`
	Streamed         bool      `db:"streamed"`
}

type postgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore constructs a Store backed by the usage_records table.
func NewPostgresStore(db *sqlx.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) Insert(ctx context.Context, ev gateway.UsageEvent) error {
	row := usageRow{
		RequestID:        ev.RequestID,
		APIKeyID:         ev.APIKeyID,
		ModelServedName:  ev.ModelServedName,
		Route:            ev.Route,
		PromptTokens:     ev.PromptTokens,
		CompletionTokens: ev.CompletionTokens,
		StatusCode:       ev.StatusCode,
		LatencyMS:        ev.LatencyMS,
		TTFTMs:           ev.TTFTMs,
		Streamed:         ev.Streamed,
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO usage_records (
			request_id, api_key_id, model_served_name, route,
			prompt_tokens, completion_tokens, status_code,
			latency_ms, time_to_first_token_ms, streamed
		) VALUES (
			:request_id, :api_key_id, :model_served_name, :route,
			:prompt_tokens, :completion_tokens, :status_code,
			:latency_ms, :time_to_first_token_ms, :streamed
		)`, row)
	if err != nil {
		return apperr.Wrap(apperr.InternalError, "inserting usage record", err)
	}
	return nil
}

func (s *postgresStore) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_records WHERE created_at < $1`, before)
	if err != nil {
		return 0, apperr.Wrap(apperr.InternalError, "deleting expired usage records", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Wrap(apperr.InternalError, "reading rows affected", err)
	}
	return n, nil
}
