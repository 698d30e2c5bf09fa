package callback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrMiss = errors.New("no pseudonym for token")

// Store keeps token -> pseudonym pairs until they are taken or expire.
type Store interface {
	Put(ctx context.Context, token string, pseudonym string, ttl time.Duration) error
	// Take returns the pseudonym of the token and removes it. ErrMiss is
	// returned for unknown or expired tokens.
	Take(ctx context.Context, token string) (string, error)
}

type RedisStore struct {
	c      *redis.Client
	prefix string
}

func NewRedisStore(c *redis.Client, prefix string) *RedisStore {
	return &RedisStore{c: c, prefix: prefix}
}

func (r *RedisStore) key(token string) string {
	return r.prefix + token
}

func (r *RedisStore) Put(ctx context.Context, token string, pseudonym string, ttl time.Duration) error {
	return r.c.Set(ctx, r.key(token), pseudonym, ttl).Err()
}

func (r *RedisStore) Take(ctx context.Context, token string) (string, error) {
	val, err := r.c.GetDel(ctx, r.key(token)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrMiss
		}
		return "", err
	}
	return val, nil
}

type memoryEntry struct {
	pseudonym string
	expires   time.Time
}

// MemoryStore is a Store for a single backend instance.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]memoryEntry{}, now: time.Now}
}

func (m *MemoryStore) Put(_ context.Context, token string, pseudonym string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := memoryEntry{pseudonym: pseudonym}
	if ttl > 0 {
		entry.expires = m.now().Add(ttl)
	}
	m.entries[token] = entry
	return nil
}

func (m *MemoryStore) Take(_ context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[token]
	if !ok {
		return "", ErrMiss
	}
	delete(m.entries, token)
	if m.expired(entry) {
		return "", ErrMiss
	}
	return entry.pseudonym, nil
}

// Clean removes all expired entries and returns how many were removed.
func (m *MemoryStore) Clean() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for token, entry := range m.entries {
		if m.expired(entry) {
			delete(m.entries, token)
			removed++
		}
	}
	return removed
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryStore) expired(entry memoryEntry) bool {
	return !entry.expires.IsZero() && !m.now().Before(entry.expires)
}
