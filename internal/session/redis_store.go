// Package session provides the user-scoped storage that lets a logging
// conversation survive a page reload without leaking between users.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"tallyr.io/worklog/internal/core"
)

const lockTTL = 90 * time.Second

// RedisStore persists draft conversation state in Redis, one key per user.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store from a Redis URL and verifies connectivity.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client: client,
		prefix: "conv:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(userID int64) string {
	return fmt.Sprintf("%s%d", s.prefix, userID)
}

func (s *RedisStore) lockKey(userID int64) string {
	return fmt.Sprintf("%s%d:lock", s.prefix, userID)
}

// Load returns the stored conversation state for a user, or nil if there is
// none.
func (s *RedisStore) Load(ctx context.Context, userID int64) (*core.ConversationState, error) {
	data, err := s.client.Get(ctx, s.key(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation state: %w", err)
	}

	var st core.ConversationState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("unmarshal conversation state: %w", err)
	}
	return &st, nil
}

// Save writes the conversation state, refreshing its TTL.
func (s *RedisStore) Save(ctx context.Context, userID int64, st *core.ConversationState) error {
	st.UpdatedAt = time.Now()
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal conversation state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(userID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save conversation state: %w", err)
	}
	return nil
}

// Clear removes the stored state and any stale in-flight lock.
func (s *RedisStore) Clear(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, s.key(userID), s.lockKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear conversation state: %w", err)
	}
	return nil
}

// TryLock marks a turn or summarization call as in flight for the user.
// Returns false when one already is. The lock expires on its own so a
// crashed request cannot wedge the conversation.
func (s *RedisStore) TryLock(ctx context.Context, userID int64) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.lockKey(userID), "1", lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire conversation lock: %w", err)
	}
	return ok, nil
}

// Unlock releases the in-flight marker.
func (s *RedisStore) Unlock(ctx context.Context, userID int64) {
	s.client.Del(ctx, s.lockKey(userID))
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
