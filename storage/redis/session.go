package redisstore

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
)

const (
	revokedPrefix = keyPrefix + "revoked:"
	statePrefix   = keyPrefix + "oidc_state:"
)

type sessionStore struct {
	client  *redis.Client
	nowFunc func() time.Time
}

var _ core.SessionStore = (*sessionStore)(nil)

// NewSessionStore keeps revoked token ids and pending OIDC states as expiring keys.
func NewSessionStore(client *redis.Client) core.SessionStore {
	return &sessionStore{client: client, nowFunc: time.Now}
}

func (s *sessionStore) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.nowFunc())
	if ttl <= 0 {
		return nil // already expired: nothing to deny
	}
	if err := s.client.Set(ctx, revokedPrefix+jti, 1, ttl).Err(); err != nil {
		return errors.Wrap(err, "revoking token")
	}
	return nil
}

func (s *sessionStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedPrefix+jti).Result()
	if err != nil {
		return false, errors.Wrap(err, "checking revoked token")
	}
	return n > 0, nil
}

func (s *sessionStore) SaveState(ctx context.Context, state, nonce string, ttl time.Duration) error {
	if err := s.client.Set(ctx, statePrefix+state, nonce, ttl).Err(); err != nil {
		return errors.Wrap(err, "saving oidc state")
	}
	return nil
}

// PopState returns the nonce of state and forgets it: a state is single use.
func (s *sessionStore) PopState(ctx context.Context, state string) (string, error) {
	nonce, err := s.client.GetDel(ctx, statePrefix+state).Result()
	if err == redis.Nil {
		return "", core.ErrStateNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "reading oidc state")
	}
	return nonce, nil
}
