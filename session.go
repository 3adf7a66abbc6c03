package callbackd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// sessionStore issues and validates bearer tokens for the administrative
// API. Tokens are random, expire after the configured TTL, and live only in
// memory: restarting the daemon logs everyone out, which is acceptable for
// an admin surface this small.
type sessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]session
	now      func() time.Time
}

type session struct {
	username string
	expires  time.Time
}

func newSessionStore(ttl time.Duration) *sessionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &sessionStore{
		ttl:      ttl,
		sessions: make(map[string]session),
		now:      time.Now,
	}
}

// Issue creates a token for username.
func (s *sessionStore) Issue(username string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	s.sessions[token] = session{username: username, expires: s.now().Add(s.ttl)}
	return token, nil
}

// Validate resolves a token to its username; expired tokens are dropped.
func (s *sessionStore) Validate(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return "", false
	}
	if s.now().After(sess.expires) {
		delete(s.sessions, token)
		return "", false
	}
	return sess.username, true
}

// Revoke drops a token, returning the username it belonged to.
func (s *sessionStore) Revoke(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if ok {
		delete(s.sessions, token)
	}
	return sess.username, ok
}

func (s *sessionStore) purgeLocked() {
	now := s.now()
	for token, sess := range s.sessions {
		if now.After(sess.expires) {
			delete(s.sessions, token)
		}
	}
}
