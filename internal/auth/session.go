package auth

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// SessionSigner issues and validates the opaque admin session cookie as a
// compact JWT, so the session store stays verifiable without a shared
// database round-trip on every request.
//
// Grounded on the teacher's jwx/v3 usage in
// pkg/infer-gateway/filters/auth/jwt.go, which fetches a remote JWKS to
// *verify* third-party-issued tokens; CORTEX instead holds its own HMAC key
// and both signs and verifies its own session tokens, so the JWKS-fetch/
// rotation machinery (NewJwks, JWKSRotator) does not carry over — see
// DESIGN.md.
type SessionSigner struct {
	key   jwk.Key
	ttl   time.Duration
	issuer string
}

// NewSessionSigner builds a signer from a raw HMAC secret.
func NewSessionSigner(secret []byte, ttl time.Duration, issuer string) (*SessionSigner, error) {
	key, err := jwk.Import(secret)
	if err != nil {
		return nil, fmt.Errorf("importing session signing key: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.HS256()); err != nil {
		return nil, fmt.Errorf("setting session key algorithm: %w", err)
	}
	return &SessionSigner{key: key, ttl: ttl, issuer: issuer}, nil
}

// Session is the identity carried by a validated session cookie.
type Session struct {
	UserID int64
	Admin  bool
}

// Issue signs a compact JWT encoding userID and the admin role, valid for
// the signer's configured TTL.
func (s *SessionSigner) Issue(userID int64, admin bool) (string, error) {
	tok, err := jwt.NewBuilder().
		Issuer(s.issuer).
		Subject(fmt.Sprintf("%d", userID)).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(s.ttl)).
		Claim("admin", admin).
		Build()
	if err != nil {
		return "", fmt.Errorf("building session token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), s.key))
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return string(signed), nil
}

// Validate parses and verifies a compact session token, rejecting it if the
// signature, issuer, or expiry do not check out.
func (s *SessionSigner) Validate(raw string) (*Session, error) {
	tok, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256(), s.key), jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}

	var userID int64
	if _, err := fmt.Sscanf(tok.Subject(), "%d", &userID); err != nil {
		return nil, fmt.Errorf("invalid session subject: %w", err)
	}

	var admin bool
	_ = tok.Get("admin", &admin)

	return &Session{UserID: userID, Admin: admin}, nil
}
