package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cortex.dev/cortex/internal/apikeys"
	"cortex.dev/cortex/internal/apperr"
)

type fakeKeyStore struct {
	byToken map[string]*apikeys.APIKey
}

func (f *fakeKeyStore) Issue(ctx context.Context, label string, ownerID *int64, scopes []string) (*apikeys.APIKey, error) {
	return nil, nil
}
func (f *fakeKeyStore) Validate(ctx context.Context, rawToken string) (*apikeys.APIKey, error) {
	k, ok := f.byToken[rawToken]
	if !ok {
		return nil, errors.New("not found")
	}
	return k, nil
}
func (f *fakeKeyStore) Revoke(ctx context.Context, id int64) error     { return nil }
func (f *fakeKeyStore) List(ctx context.Context) ([]*apikeys.APIKey, error) { return nil, nil }

func TestAuthenticateBearer_RejectsMissingHeader(t *testing.T) {
	a := New(&fakeKeyStore{}, nil, Config{})
	_, err := a.AuthenticateBearer(context.Background(), "", "")
	require.Error(t, err)
	ae, _ := apperr.As(err)
	require.Equal(t, apperr.AuthMissing, ae.Kind)
}

func TestAuthenticateBearer_DevAllowAllAcceptsAnyToken(t *testing.T) {
	a := New(&fakeKeyStore{}, nil, Config{DevAllowAllKeys: true})
	id, err := a.AuthenticateBearer(context.Background(), "Bearer whatever-token", "")
	require.NoError(t, err)
	require.Equal(t, "dev:whatever-token", id.RateLimitKey)
}

func TestAuthenticateBearer_ValidatesAgainstStoreAndChecksScope(t *testing.T) {
	store := &fakeKeyStore{byToken: map[string]*apikeys.APIKey{
		"ctx_abc": {ID: 7, Scopes: []string{"chat"}},
	}}
	a := New(store, nil, Config{})

	id, err := a.AuthenticateBearer(context.Background(), "Bearer ctx_abc", "chat")
	require.NoError(t, err)
	require.Equal(t, "apikey:7", id.RateLimitKey)

	_, err = a.AuthenticateBearer(context.Background(), "Bearer ctx_abc", "admin")
	require.Error(t, err)
	ae, _ := apperr.As(err)
	require.Equal(t, apperr.AuthScope, ae.Kind)
}

func TestAuthenticateBearer_RejectsRevokedKey(t *testing.T) {
	revoked := time.Now()
	store := &fakeKeyStore{byToken: map[string]*apikeys.APIKey{
		"ctx_dead": {ID: 1, RevokedAt: &revoked},
	}}
	a := New(store, nil, Config{})

	_, err := a.AuthenticateBearer(context.Background(), "Bearer ctx_dead", "")
	require.Error(t, err)
	ae, _ := apperr.As(err)
	require.Equal(t, apperr.AuthExpired, ae.Kind)
}

func TestAuthenticateSession_RequiresAdminRole(t *testing.T) {
	signer, err := NewSessionSigner([]byte("test-secret-key-material-32bytes"), time.Hour, "cortex")
	require.NoError(t, err)
	a := New(&fakeKeyStore{}, signer, Config{})

	raw, err := signer.Issue(5, false)
	require.NoError(t, err)

	_, err = a.AuthenticateSession(raw, true)
	require.Error(t, err)
	ae, _ := apperr.As(err)
	require.Equal(t, apperr.AuthScope, ae.Kind)

	id, err := a.AuthenticateSession(raw, false)
	require.NoError(t, err)
	require.Equal(t, "user:5", id.RateLimitKey)
}

func TestRequestID_GeneratesWhenEmpty(t *testing.T) {
	require.Equal(t, "client-supplied", RequestID("client-supplied"))
	require.NotEmpty(t, RequestID(""))
}
