package session

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/pitabwire/quill/model"
)

// MemoryStore keeps sessions in process memory. Sessions idle for longer
// than the configured TTL expire and read back as empty.
type MemoryStore struct {
	cache *cache.Cache
	now   func() time.Time
}

// NewMemoryStore creates a MemoryStore. A zero idleTTL keeps sessions
// until they are cleared.
func NewMemoryStore(idleTTL time.Duration) *MemoryStore {
	expiration, cleanup := idleTTL, idleTTL/2
	if idleTTL <= 0 {
		expiration, cleanup = cache.NoExpiration, 0
	}
	if cleanup > 10*time.Minute {
		cleanup = 10 * time.Minute
	}
	return &MemoryStore{
		cache: cache.New(expiration, cleanup),
		now:   time.Now,
	}
}

// Get returns a copy of the chat's session.
func (s *MemoryStore) Get(_ context.Context, chatID model.ChatID) (model.Session, error) {
	v, ok := s.cache.Get(key(chatID))
	if !ok {
		return model.NewSession(chatID), nil
	}
	return v.(model.Session).Clone(), nil
}

// Put stores a copy of sess and restarts its idle timer.
func (s *MemoryStore) Put(_ context.Context, sess model.Session) error {
	if !sess.Active() {
		s.cache.Delete(key(sess.ChatID))
		return nil
	}
	sess = sess.Clone()
	sess.UpdatedAt = s.now()
	s.cache.SetDefault(key(sess.ChatID), sess)
	return nil
}

// Clear removes the chat's session.
func (s *MemoryStore) Clear(_ context.Context, chatID model.ChatID) error {
	s.cache.Delete(key(chatID))
	return nil
}

// Len returns the number of stored sessions, expired ones included until
// the janitor runs.
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error {
	return nil
}

func key(chatID model.ChatID) string {
	return "quill:session:" + chatID.String()
}
