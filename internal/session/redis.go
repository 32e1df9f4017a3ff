package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/quill/model"
)

// RedisStore keeps sessions as JSON documents in Redis so several bot
// replicas can share them. Each Put refreshes the key TTL.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed store. A zero ttl keeps sessions
// until they are cleared.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

// Get loads the chat's session.
func (s *RedisStore) Get(ctx context.Context, chatID model.ChatID) (model.Session, error) {
	raw, err := s.client.Get(ctx, key(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.NewSession(chatID), nil
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("redis get session %s: %w", chatID, err)
	}

	var sess model.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return model.Session{}, fmt.Errorf("%w %s: %w", ErrCorrupt, chatID, err)
	}
	sess.ChatID = chatID
	return sess, nil
}

// Put stores sess.
func (s *RedisStore) Put(ctx context.Context, sess model.Session) error {
	if !sess.Active() {
		return s.Clear(ctx, sess.ChatID)
	}
	sess.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sess.ChatID, err)
	}
	if err := s.client.Set(ctx, key(sess.ChatID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session %s: %w", sess.ChatID, err)
	}
	return nil
}

// Clear deletes the chat's session.
func (s *RedisStore) Clear(ctx context.Context, chatID model.ChatID) error {
	if err := s.client.Del(ctx, key(chatID)).Err(); err != nil {
		return fmt.Errorf("redis del session %s: %w", chatID, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
