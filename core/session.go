package core

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var ErrStateNotFound = errors.New("unknown or expired state")

// SessionStore keeps the server-side session state: revoked access tokens and pending OIDC logins.
type SessionStore interface {
	// RevokeToken denies the token with id jti until it expires.
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	// SaveState stores an OIDC state and its nonce for ttl.
	SaveState(ctx context.Context, state, nonce string, ttl time.Duration) error
	// PopState returns the nonce of state and forgets it. Returns ErrStateNotFound when absent or expired.
	PopState(ctx context.Context, state string) (string, error)
}
