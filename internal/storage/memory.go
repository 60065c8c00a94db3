package storage

import (
	"context"
	"sync"
	"time"
)

type memObject struct {
	data      []byte
	mime      string
	expiresAt time.Time
}

// MemoryStore keeps blobs in process memory. Used by tests and the
// single-process development profile.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject), now: time.Now}
}

// SetClock overrides the time source used for TTL checks.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) Put(ctx context.Context, data []byte, ttl time.Duration, hint PutHint) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := NewKey(hint)
	s.mu.Lock()
	s.objects[key] = memObject{data: append([]byte(nil), data...), mime: hint.MIME, expiresAt: expiryFor(s.now(), ttl)}
	s.mu.Unlock()
	return key, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	obj, ok := s.objects[key]
	now := s.now()
	s.mu.RUnlock()
	if !ok || (!obj.expiresAt.IsZero() && !now.Before(obj.expiresAt)) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), obj.data...), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// Has reports whether key is stored, ignoring TTL.
func (s *MemoryStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
