package auth

import "context"

// Guard is the single entry point the router (C6) calls per request: it
// authenticates the credential, then runs the rate-limit and concurrency
// checks against the resulting identity's RateLimitKey.
type Guard struct {
	auth *Authenticator
	gate *Gate
}

// NewGuard composes an Authenticator and a Gate into the auth+limit step
// §4.6 step 1 describes as a single "authenticate + rate-limit".
func NewGuard(auth *Authenticator, gate *Gate) *Guard {
	return &Guard{auth: auth, gate: gate}
}

// AuthenticateAndLimitBearer runs bearer authentication followed by the RPS
// check, for /v1/* routes.
func (g *Guard) AuthenticateAndLimitBearer(ctx context.Context, authHeader, requiredScope string) (*Identity, error) {
	id, err := g.auth.AuthenticateBearer(ctx, authHeader, requiredScope)
	if err != nil {
		return nil, err
	}
	if err := g.gate.CheckRate(ctx, id.RateLimitKey); err != nil {
		return nil, err
	}
	return id, nil
}

// AuthenticateSession runs session authentication for /admin/* routes (no
// RPS cap applies to admin traffic).
func (g *Guard) AuthenticateSession(cookieValue string, requireAdmin bool) (*Identity, error) {
	return g.auth.AuthenticateSession(cookieValue, requireAdmin)
}

// AcquireStream reserves a concurrency slot for a streaming request already
// past authentication.
func (g *Guard) AcquireStream(ctx context.Context, id *Identity) (*StreamSlot, error) {
	return g.gate.AcquireStream(ctx, id.RateLimitKey)
}
