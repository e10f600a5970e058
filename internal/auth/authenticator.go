package auth

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"cortex.dev/cortex/internal/apikeys"
	"cortex.dev/cortex/internal/apperr"
)

// Identity is the authenticated caller of a request, regardless of which
// credential kind was presented.
type Identity struct {
	// RateLimitKey identifies the caller for rate-limit/concurrency
	// bucketing: the API key id for bearer auth, the user id for session
	// auth (§4.5: "per-identifier (key id or session user id)").
	RateLimitKey string
	APIKey       *apikeys.APIKey
	Session      *Session
	Admin        bool
}

// Config controls the development escape hatch; it carries no required scopes.
type Config struct {
	// DevAllowAllKeys accepts any non-empty bearer token without looking it
	// up, for local development. Must never be set in production (§4.5).
	DevAllowAllKeys bool
}

// Authenticator validates the two credential kinds CORTEX accepts at its
// public surface: API key bearer tokens for /v1/*, and session cookies for
// /admin/* and the chat playground (§4.5).
type Authenticator struct {
	keys     apikeys.Store
	sessions *SessionSigner
	cfg      Config
}

// New constructs an Authenticator. sessions may be nil if the deployment
// never serves /admin/* (e.g. a pure inference-proxy instance).
func New(keys apikeys.Store, sessions *SessionSigner, cfg Config) *Authenticator {
	return &Authenticator{keys: keys, sessions: sessions, cfg: cfg}
}

// AuthenticateBearer validates the Authorization header for /v1/* routes.
// requiredScope is checked against the key's scopes unless empty.
func (a *Authenticator) AuthenticateBearer(ctx context.Context, authHeader string, requiredScope string) (*Identity, error) {
	raw, ok := extractBearer(authHeader)
	if !ok {
		return nil, apperr.New(apperr.AuthMissing, "missing or malformed Authorization header")
	}

	if a.cfg.DevAllowAllKeys {
		return &Identity{RateLimitKey: "dev:" + raw}, nil
	}

	key, err := a.keys.Validate(ctx, raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.AuthInvalid, "invalid api key", err)
	}
	if key.RevokedAt != nil {
		return nil, apperr.New(apperr.AuthExpired, "api key revoked")
	}
	if requiredScope != "" && !hasScope(key.Scopes, requiredScope) {
		return nil, apperr.New(apperr.AuthScope, "api key missing required scope: "+requiredScope)
	}

	return &Identity{
		RateLimitKey: apiKeyRateLimitID(key.ID),
		APIKey:       key,
	}, nil
}

// AuthenticateSession validates the admin session cookie for /admin/*
// routes. If requireAdmin is true, a non-admin session is rejected with
// auth_scope.
func (a *Authenticator) AuthenticateSession(cookieValue string, requireAdmin bool) (*Identity, error) {
	if a.sessions == nil {
		return nil, apperr.New(apperr.InternalError, "session auth not configured")
	}
	if cookieValue == "" {
		return nil, apperr.New(apperr.AuthMissing, "missing session cookie")
	}

	sess, err := a.sessions.Validate(cookieValue)
	if err != nil {
		return nil, apperr.Wrap(apperr.AuthInvalid, "invalid session", err)
	}
	if requireAdmin && !sess.Admin {
		return nil, apperr.New(apperr.AuthScope, "admin role required")
	}

	return &Identity{
		RateLimitKey: sessionRateLimitID(sess.UserID),
		Session:      sess,
		Admin:        sess.Admin,
	}, nil
}

func extractBearer(authHeader string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func hasScope(scopes []string, required string) bool {
	for _, s := range scopes {
		if s == required {
			return true
		}
	}
	return false
}

func apiKeyRateLimitID(id int64) string {
	return "apikey:" + strconv.FormatInt(id, 10)
}

func sessionRateLimitID(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// RequestID returns the client-supplied request id if non-empty, else
// generates a fresh one (§4.5: "tagged with a stable request_id").
func RequestID(clientSupplied string) string {
	if clientSupplied != "" {
		return clientSupplied
	}
	return uuid.NewString()
}
