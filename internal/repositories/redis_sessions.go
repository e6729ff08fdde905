package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/auxilia-ai/auxilia/pkg/domain"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "authsession:"

// RedisSessionStore keeps authorization sessions in redis with the session
// TTL, so the callback can consume a session no matter which process created
// it. GETDEL makes consumption single-use without a lock.
type RedisSessionStore struct {
	client *redis.Client
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (s *RedisSessionStore) PutSession(ctx context.Context, session domain.AuthorizationSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization session for state %s is already expired", session.State)
	}

	if err := s.client.Set(ctx, sessionKeyPrefix+session.State, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store authorization session: %w", err)
	}

	return nil
}

func (s *RedisSessionStore) TakeSession(ctx context.Context, state string) (domain.AuthorizationSession, error) {
	payload, err := s.client.GetDel(ctx, sessionKeyPrefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.AuthorizationSession{}, domain.ErrSessionNotFound
		}
		return domain.AuthorizationSession{}, fmt.Errorf("failed to take authorization session: %w", err)
	}

	var session domain.AuthorizationSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return domain.AuthorizationSession{}, fmt.Errorf("failed to unmarshal authorization session: %w", err)
	}

	return session, nil
}
