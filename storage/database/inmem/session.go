package inmemdb

import (
	"context"
	"sync"
	"time"

	"github.com/smarthomecloud/backend/core"
)

type (
	sessionStore struct {
		mu      sync.Mutex
		revoked map[string]time.Time
		states  map[string]pendingState
		nowFunc func() time.Time
	}

	pendingState struct {
		nonce     string
		expiresAt time.Time
	}
)

var _ core.SessionStore = (*sessionStore)(nil)

// NewSessionStore returns a process-local session store. Entries are purged lazily once expired.
func NewSessionStore() core.SessionStore {
	return &sessionStore{
		revoked: make(map[string]time.Time),
		states:  make(map[string]pendingState),
		nowFunc: time.Now,
	}
}

func (s *sessionStore) purge(now time.Time) {
	for jti, exp := range s.revoked {
		if !exp.After(now) {
			delete(s.revoked, jti)
		}
	}
	for state, p := range s.states {
		if !p.expiresAt.After(now) {
			delete(s.states, state)
		}
	}
}

func (s *sessionStore) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	s.purge(now)
	if expiresAt.After(now) {
		s.revoked[jti] = expiresAt
	}
	return nil
}

func (s *sessionStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.revoked[jti]
	return ok && exp.After(s.nowFunc()), nil
}

func (s *sessionStore) SaveState(ctx context.Context, state, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	s.purge(now)
	s.states[state] = pendingState{nonce: nonce, expiresAt: now.Add(ttl)}
	return nil
}

func (s *sessionStore) PopState(ctx context.Context, state string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.states[state]
	delete(s.states, state)
	if !ok || !p.expiresAt.After(s.nowFunc()) {
		return "", core.ErrStateNotFound
	}
	return p.nonce, nil
}
