package prefs

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]map[string]string)}
}

func (s *MemoryStore) Get(ctx context.Context, device, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if device == "" {
		return "", false, ErrEmptyDevice
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[device][key]
	return v, ok, nil
}

func (s *MemoryStore) Put(ctx context.Context, device, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if device == "" {
		return ErrEmptyDevice
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.values[device] == nil {
		s.values[device] = make(map[string]string)
	}
	s.values[device][key] = value
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, device, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if device == "" {
		return ErrEmptyDevice
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values[device], key)
	return nil
}
