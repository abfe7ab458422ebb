package codestore

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	data      AuthCode
	expiresAt time.Time
}

// MemoryStore is an in-process code store with TTL expiry. Expired
// entries are dropped on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	nowFn   func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		nowFn:   time.Now,
	}
}

// Save stores a code with the given TTL.
func (s *MemoryStore) Save(_ context.Context, code string, data AuthCode, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := s.nowFn()

	s.mu.Lock()
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
	s.entries[code] = memoryEntry{data: data, expiresAt: now.Add(ttl)}
	s.mu.Unlock()
	return nil
}

// Redeem reads and deletes a code under one lock acquisition, so a
// second concurrent redemption sees a miss.
func (s *MemoryStore) Redeem(_ context.Context, code string) (*AuthCode, error) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[code]
	if !ok {
		return nil, nil
	}
	delete(s.entries, code)
	if now.After(entry.expiresAt) {
		return nil, nil
	}
	data := entry.data
	return &data, nil
}
