// Package identity manages the organizations and users the admin API's
// Keys/Users/Orgs CRUD surface exposes (spec §6), grounded on
// internal/apikeys's postgresStore (a db *sqlx.DB and db-tagged row structs,
// queried here with GetContext/SelectContext/ExecContext) since both sit over
// the same durable store.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"cortex.dev/cortex/internal/apperr"
)

// Organization is a durable tenant grouping.
type Organization struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// User is a durable account, optionally scoped to an Organization.
type User struct {
	ID             int64     `db:"id" json:"id"`
	OrganizationID *int64    `db:"organization_id" json:"organization_id,omitempty"`
	Email          string    `db:"email" json:"email"`
	DisplayName    string    `db:"display_name" json:"display_name"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Store persists organizations and users.
type Store interface {
	CreateOrg(ctx context.Context, name string) (*Organization, error)
	ListOrgs(ctx context.Context) ([]*Organization, error)
	GetOrg(ctx context.Context, id int64) (*Organization, error)
	DeleteOrg(ctx context.Context, id int64) error

	CreateUser(ctx context.Context, email, displayName string, orgID *int64) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	LookupUserByEmail(ctx context.Context, email string) (*User, error)
	DeleteUser(ctx context.Context, id int64) error
}

type postgresStore struct {
	db *sqlx.DB
}

// New constructs a Store backed by db.
func New(db *sqlx.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) CreateOrg(ctx context.Context, name string) (*Organization, error) {
	var org Organization
	err := s.db.GetContext(ctx, &org, `
		INSERT INTO organizations (name) VALUES ($1)
		RETURNING id, name, created_at
	`, name)
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "creating organization", err)
	}
	return &org, nil
}

func (s *postgresStore) ListOrgs(ctx context.Context) ([]*Organization, error) {
	var orgs []*Organization
	if err := s.db.SelectContext(ctx, &orgs, `SELECT id, name, created_at FROM organizations ORDER BY id`); err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "listing organizations", err)
	}
	return orgs, nil
}

func (s *postgresStore) GetOrg(ctx context.Context, id int64) (*Organization, error) {
	var org Organization
	err := s.db.GetContext(ctx, &org, `SELECT id, name, created_at FROM organizations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.ValidationError, "organization not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "reading organization", err)
	}
	return &org, nil
}

func (s *postgresStore) DeleteOrg(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.InternalError, "deleting organization", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.ValidationError, "organization not found")
	}
	return nil
}

func (s *postgresStore) CreateUser(ctx context.Context, email, displayName string, orgID *int64) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `
		INSERT INTO users (email, display_name, organization_id) VALUES ($1, $2, $3)
		RETURNING id, organization_id, email, display_name, created_at
	`, email, displayName, orgID)
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "creating user", err)
	}
	return &u, nil
}

func (s *postgresStore) ListUsers(ctx context.Context) ([]*User, error) {
	var users []*User
	if err := s.db.SelectContext(ctx, &users, `SELECT id, organization_id, email, display_name, created_at FROM users ORDER BY id`); err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "listing users", err)
	}
	return users, nil
}

func (s *postgresStore) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT id, organization_id, email, display_name, created_at FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.ValidationError, "user not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "reading user", err)
	}
	return &u, nil
}

func (s *postgresStore) LookupUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT id, organization_id, email, display_name, created_at FROM users WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.ValidationError, "user not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.InternalError, "looking up user", err)
	}
	return &u, nil
}

func (s *postgresStore) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.InternalError, "deleting user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.ValidationError, "user not found")
	}
	return nil
}
