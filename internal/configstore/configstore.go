// Package configstore persists the small set of runtime-mutable settings
// the admin API exposes beyond process environment variables — currently
// just the models base directory (spec §6: "GET/PUT /admin/models/base-dir")
// — as JSONB rows in config_kv, grounded on the same postgresStore idiom
// used throughout this module.
package configstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"

	"cortex.dev/cortex/internal/apperr"
)

// Store persists string values under string keys, each encoded as a JSON
// string in config_kv's JSONB value column.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type postgresStore struct {
	db *sqlx.DB
}

// New constructs a Store backed by db.
func New(db *sqlx.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, `SELECT value FROM config_kv WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Wrap(apperr.InternalError, "reading config value", err)
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false, apperr.Wrap(apperr.InternalError, "decoding config value", err)
	}
	return value, true, nil
}

func (s *postgresStore) Set(ctx context.Context, key, value string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return apperr.Wrap(apperr.InternalError, "encoding config value", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO config_kv (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, raw)
	if err != nil {
		return apperr.Wrap(apperr.InternalError, "writing config value", err)
	}
	return nil
}
