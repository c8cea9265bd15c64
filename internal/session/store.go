package session

import (
	"context"
	"sync"
	"time"

	"trocswap-bot/internal/cache"
)

// Session tracks a participant's progress through a multi-turn interaction,
// keyed by their channel identity. Data accumulates partial input between
// turns.
type Session struct {
	Step Step              `json:"step"`
	Data map[string]string `json:"data"`
}

// NewSession returns a fresh root session.
func NewSession() *Session {
	return &Session{Step: Root, Data: map[string]string{}}
}

// Reset returns the session to the root step and clears partial input.
func (s *Session) Reset() {
	s.Step = Root
	s.Data = map[string]string{}
}

// Enter moves the session to a flow step, keeping accumulated data.
func (s *Session) Enter(step Step) {
	s.Step = step
	if s.Data == nil {
		s.Data = map[string]string{}
	}
}

// Store persists conversation sessions. Get never fails on a miss: it
// returns a fresh root session instead.
type Store interface {
	Get(ctx context.Context, identity string) (*Session, error)
	Put(ctx context.Context, identity string, session *Session) error
	Delete(ctx context.Context, identity string) error
}

// RedisStore keeps sessions in Redis with a TTL, so abandoned conversations
// expire back to the root step.
type RedisStore struct {
	cache *cache.Redis
	ttl   time.Duration
}

// NewRedisStore wraps the shared Redis client.
func NewRedisStore(redis *cache.Redis, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisStore{cache: redis, ttl: ttl}
}

func sessionKey(identity string) string {
	return "session:" + identity
}

// Get loads the session for the identity, defaulting to a root session.
func (s *RedisStore) Get(ctx context.Context, identity string) (*Session, error) {
	var sess Session
	found, err := s.cache.GetJSON(ctx, sessionKey(identity), &sess)
	if err != nil {
		return nil, err
	}
	if !found {
		return NewSession(), nil
	}
	if sess.Data == nil {
		sess.Data = map[string]string{}
	}
	return &sess, nil
}

// Put stores the session and refreshes its TTL.
func (s *RedisStore) Put(ctx context.Context, identity string, session *Session) error {
	return s.cache.SetJSON(ctx, sessionKey(identity), session, s.ttl)
}

// Delete removes the session.
func (s *RedisStore) Delete(ctx context.Context, identity string) error {
	return s.cache.Delete(ctx, sessionKey(identity))
}

// MemoryStore is an in-process Store used in tests and single-node setups.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]*Session{}}
}

// Get loads the session for the identity, defaulting to a root session.
func (s *MemoryStore) Get(_ context.Context, identity string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[identity]
	if !ok {
		return NewSession(), nil
	}
	copied := Session{Step: stored.Step, Data: map[string]string{}}
	for k, v := range stored.Data {
		copied.Data[k] = v
	}
	return &copied, nil
}

// Put stores the session.
func (s *MemoryStore) Put(_ context.Context, identity string, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := Session{Step: session.Step, Data: map[string]string{}}
	for k, v := range session.Data {
		copied.Data[k] = v
	}
	s.sessions[identity] = &copied
	return nil
}

// Delete removes the session.
func (s *MemoryStore) Delete(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, identity)
	return nil
}
