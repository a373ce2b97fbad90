// Package stores holds short-lived Redis records for in-flight ceremonies:
// WebAuthn challenge session data awaiting the second phase, and the one-time
// consumption marks for signed session-update tokens.
package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrChallengeNotFound is an exported constant or variable used by the authentication core.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrRedisUnavailable is an exported constant or variable used by the authentication core.
	ErrRedisUnavailable = errors.New("challenge redis unavailable")
)

// ChallengeStore persists ceremony state between the two WebAuthn phases and
// records one-time token consumption. All records expire on their own; Take is
// a single atomic read-and-delete so a challenge answers at most one ceremony.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewChallengeStore describes the newchallengestore operation and its observable behavior.
func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "ach"
	}
	return &ChallengeStore{redis: redisClient, prefix: prefix}
}

func (s *ChallengeStore) challengeKey(purpose, id string) string {
	return s.prefix + ":c:" + purpose + ":" + id
}

func (s *ChallengeStore) onceKey(jti string) string {
	return s.prefix + ":j:" + jti
}

// SaveChallenge stores serialized ceremony state under (purpose, id) with ttl.
func (s *ChallengeStore) SaveChallenge(ctx context.Context, purpose, id string, data []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.challengeKey(purpose, id), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// TakeChallenge atomically fetches and deletes ceremony state. A second call
// for the same id returns [ErrChallengeNotFound].
func (s *ChallengeStore) TakeChallenge(ctx context.Context, purpose, id string) ([]byte, error) {
	data, err := s.redis.GetDel(ctx, s.challengeKey(purpose, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return data, nil
}

// ConsumeOnce records a token ID as spent. The first call for a jti returns
// true; every later call within ttl returns false. SET NX makes the
// check-and-mark a single round trip.
func (s *ChallengeStore) ConsumeOnce(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	ok, err := s.redis.SetNX(ctx, s.onceKey(jti), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok, nil
}
