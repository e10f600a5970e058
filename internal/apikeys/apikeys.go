// Package apikeys manages durable API key credentials: issuance (raw token
// shown once), hash-at-rest storage, and prefix-bucketed lookup so that
// validating a bearer token never requires scanning every stored key
// (supplemented feature, §4 of SPEC_FULL.md — grounded on the shape of
// agentoven's APIKeyProvider, which validates whole-key membership against
// an in-memory set; here the set is durable and large enough that bucketing
// on a prefix matters).
package apikeys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"cortex.dev/cortex/internal/apperr"
)

const (
	tokenPrefix    = "ctx_"
	prefixLen      = 8 // characters of the random body used as the lookup bucket
	randomBodyLen  = 32
)

// APIKey is the durable record; RawToken is populated only by Issue and must
// never be persisted.
type APIKey struct {
	ID         int64      `db:"id" json:"id"`
	Label      string     `db:"label" json:"label"`
	Prefix     string     `db:"prefix" json:"prefix"`
	HashHex    string     `db:"hash_hex" json:"-"`
	OwnerID    *int64     `db:"owner_id" json:"owner_id,omitempty"`
	Scopes     []string   `db:"-" json:"scopes,omitempty"`
	ScopesCSV  string     `db:"scopes" json:"-"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	RevokedAt  *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`

	RawToken string `db:"-" json:"raw_token,omitempty"`
}

// Store persists and validates API keys.
type Store interface {
	Issue(ctx context.Context, label string, ownerID *int64, scopes []string) (*APIKey, error)
	Validate(ctx context.Context, rawToken string) (*APIKey, error)
	Revoke(ctx context.Context, id int64) error
	List(ctx context.Context) ([]*APIKey, error)
}

type postgresStore struct {
	db *sqlx.DB
}

// New constructs a Store backed by db.
func New(db *sqlx.DB) Store {
	return &postgresStore{db: db}
}

// generateToken returns a raw bearer token of the form "ctx_<prefix><rest>"
// where the first prefixLen characters after the static prefix form the
// lookup bucket and are also stored verbatim (not secret on their own).
func generateToken() (raw, prefix string, err error) {
	buf := make([]byte, randomBodyLen)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	body := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	raw = tokenPrefix + body
	prefix = body[:prefixLen]
	return raw, prefix, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (s *postgresStore) Issue(ctx context.Context, label string, ownerID *int64, scopes []string) (*APIKey, error) {
	raw, prefix, err := generateToken()
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "generating api key", err)
	}

	key := &APIKey{
		Label:     label,
		Prefix:    prefix,
		HashHex:   hashToken(raw),
		OwnerID:   ownerID,
		Scopes:    scopes,
		ScopesCSV: joinScopes(scopes),
		CreatedAt: time.Now().UTC(),
		RawToken:  raw,
	}

	row := s.db.QueryRowxContext(ctx, `
		INSERT INTO api_keys (label, prefix, hash_hex, owner_id, scopes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, key.Label, key.Prefix, key.HashHex, key.OwnerID, key.ScopesCSV, key.CreatedAt)
	if err := row.Scan(&key.ID); err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "inserting api key", err)
	}
	return key, nil
}

// Validate extracts the bucket prefix from rawToken, looks up only the
// small set of keys sharing that prefix, and constant-time compares the
// full hash against each candidate — never a full-table scan, and never a
// non-constant-time comparison of secret material (grounded on agentoven's
// subtle.ConstantTimeCompare usage in APIKeyProvider.validateKey, extended
// to hash-at-rest since tokens here are durable credentials, not
// env-var-sourced session secrets).
func (s *postgresStore) Validate(ctx context.Context, rawToken string) (*APIKey, error) {
	body := rawToken
	if len(body) > len(tokenPrefix) && body[:len(tokenPrefix)] == tokenPrefix {
		body = body[len(tokenPrefix):]
	}
	if len(body) < prefixLen {
		return nil, apperr.New(apperr.AuthInvalid, "malformed api key")
	}
	prefix := body[:prefixLen]

	var candidates []*APIKey
	err := s.db.SelectContext(ctx, &candidates, `
		SELECT * FROM api_keys WHERE prefix = $1 AND revoked_at IS NULL
	`, prefix)
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "looking up api key candidates", err)
	}

	wantHash := hashToken(rawToken)
	for _, cand := range candidates {
		if subtle.ConstantTimeCompare([]byte(cand.HashHex), []byte(wantHash)) == 1 {
			now := time.Now().UTC()
			_, _ = s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at=$1 WHERE id=$2`, now, cand.ID)
			cand.LastUsedAt = &now
			cand.Scopes = splitScopes(cand.ScopesCSV)
			return cand, nil
		}
	}
	return nil, apperr.New(apperr.AuthInvalid, "invalid api key")
}

func (s *postgresStore) Revoke(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET revoked_at=$1 WHERE id=$2 AND revoked_at IS NULL`, now, id)
	if err != nil {
		return apperr.Wrap(apperr.InternalError, "revoking api key", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.InternalError, "checking revoke result", err)
	}
	if n == 0 {
		return apperr.New(apperr.ValidationError, "api key not found or already revoked")
	}
	return nil
}

func (s *postgresStore) List(ctx context.Context) ([]*APIKey, error) {
	var keys []*APIKey
	err := s.db.SelectContext(ctx, &keys, `SELECT * FROM api_keys ORDER BY id`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.InternalError, "listing api keys", err)
	}
	for _, k := range keys {
		k.Scopes = splitScopes(k.ScopesCSV)
	}
	return keys, nil
}

func joinScopes(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func splitScopes(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				out = append(out, csv[start:i])
			}
			start = i + 1
		}
	}
	return out
}
