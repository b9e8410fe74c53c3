package main

import (
	"context"
	"fmt"
	"sync"
)

// store is the key/value persistence surface for presence member lists.
// Get returns nil for a missing key. Values are opaque JSON documents.
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

func newStore(cfg *config) (store, error) {
	switch cfg.Database {
	case "", "memory":
		return newMemoryStore(), nil
	case "redis":
		return newRedisStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown database driver: %q", cfg.Database)
	}
}

// memoryStore is the embedded driver: a flat map behind a mutex. It
// covers single-node deployments and tests.
type memoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: make(map[string][]byte)}
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *memoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.values[key] = stored
	return nil
}
