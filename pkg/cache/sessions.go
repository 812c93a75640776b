package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"proxy-gateway/pkg/models"
)

var ErrSessionNotFound = errors.New("relay session not found or expired")

const relayKeyPrefix = "relay:"

// SessionStore is the contract between the token broker (writer) and the
// tunnel server (reader). Tests swap in an in-memory implementation.
type SessionStore interface {
	Put(token string, sess models.RelaySession, ttl time.Duration) error
	Resolve(token string) (*models.RelaySession, error)
}

// Sessions stores relay sessions in Redis under relay:<token> with the
// session TTL as the key TTL, so expiry needs no sweeper.
type Sessions struct {
	cache *Cache
}

func NewSessions(c *Cache) *Sessions {
	return &Sessions{cache: c}
}

func (s *Sessions) Put(token string, sess models.RelaySession, ttl time.Duration) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode relay session: %v", err)
	}
	return s.cache.SetEX(relayKeyPrefix+token, ttl, string(payload))
}

func (s *Sessions) Resolve(token string) (*models.RelaySession, error) {
	raw, err := s.cache.Get(relayKeyPrefix + token)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return nil, ErrSessionNotFound
		}
		// Redis being down degrades to a miss: a tunnel must never open
		// without a positive session lookup.
		return nil, fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}

	var sess models.RelaySession
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("corrupt relay session for token: %v", err)
	}
	return &sess, nil
}
