package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// MemoryStore implements Store with in-process maps. It backs the
// standalone dev binary and the package tests; it is not shared across
// instances, so the locks it hands out only coordinate one process.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	locks   map[string]time.Time
	known   map[string]struct{}

	// now is swappable so tests can drive TTL expiry deterministically.
	now func() time.Time
}

type memoryEntry struct {
	value     imagecache.Result
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		locks:   make(map[string]time.Time),
		known:   make(map[string]struct{}),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*imagecache.Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	value := entry.value
	return &value, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value *imagecache.Result, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{
		value:     *value,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Touch(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	entry.expiresAt = s.now().Add(ttl)
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) MarkKnown(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known[hash] = struct{}{}
	return nil
}

func (s *MemoryStore) IsKnown(ctx context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.known[hash]
	return ok, nil
}

func (s *MemoryStore) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, held := s.locks[key]; held && now.Before(expiry) {
		return false, nil
	}
	s.locks[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) Unlock(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
	return nil
}
