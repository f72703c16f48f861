package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// memoryStore is an in-process Store used in tests and as a harness for
// components that accept any Store. It honors TTLs lazily on read.
type memoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
}

type memoryItem struct {
	value     string
	expiresAt time.Time
}

// NewMemory creates an in-process Store.
func NewMemory() Store {
	return &memoryStore{items: make(map[string]memoryItem)}
}

func (s *memoryStore) get(key string) (memoryItem, bool) {
	item, ok := s.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		delete(s.items, key)
		return memoryItem{}, false
	}
	return item, true
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (s *memoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.get(key)
	if !ok {
		return "", ErrNotFound
	}
	return item.value, nil
}

func (s *memoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = memoryItem{value: value, expiresAt: expiry(ttl)}
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

func (s *memoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if item, ok := s.get(key); ok {
		parsed, err := strconv.ParseInt(item.value, 10, 64)
		if err != nil {
			return 0, err
		}
		current = parsed
	}
	current++
	s.items[key] = memoryItem{value: strconv.FormatInt(current, 10), expiresAt: expiry(ttl)}
	return current, nil
}

func (s *memoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.get(key); ok {
		return false, nil
	}
	s.items[key] = memoryItem{value: value, expiresAt: expiry(ttl)}
	return true, nil
}

func (s *memoryStore) CompareAndSwap(_ context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.get(key)
	if !ok || item.value != old {
		return false, nil
	}
	s.items[key] = memoryItem{value: new, expiresAt: expiry(ttl)}
	return true, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]memoryItem)
	return nil
}
