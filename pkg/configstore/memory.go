package configstore

import (
	"context"
	"sync"
)

// MemoryStore keeps configs in process memory.
type MemoryStore struct {
	configs map[string]AssistantConfig
	mu      sync.RWMutex
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{configs: make(map[string]AssistantConfig)}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (AssistantConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return AssistantConfig{}, ErrStorageClosed
	}
	cfg, ok := m.configs[id]
	if !ok {
		return AssistantConfig{}, ErrNotFound
	}
	return cfg, nil
}

func (m *MemoryStore) Put(ctx context.Context, cfg AssistantConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	m.configs[cfg.ID] = cfg
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	if _, ok := m.configs[id]; !ok {
		return ErrNotFound
	}
	delete(m.configs, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, opts ListOptions) ([]AssistantConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	out := make([]AssistantConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		out = append(out, cfg)
	}
	return opts.filter(out), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStorageClosed
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
