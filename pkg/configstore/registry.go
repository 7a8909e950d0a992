package configstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// BackendConfig selects and configures a store backend.
type BackendConfig struct {
	// Backend is a registered backend name: memory, file, toml, redis,
	// sqlite or firestore.
	Backend string
	// Path is the file for the file and toml backends and the database
	// file for sqlite.
	Path string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	RedisTTL      time.Duration

	FirestoreProjectID       string
	FirestoreCredentialsFile string
	FirestoreCollection      string
}

// Factory opens a store from cfg.
type Factory func(ctx context.Context, cfg BackendConfig) (Store, error)

// Registry maps backend names to factories
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register registers a factory under name, replacing any previous one
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Open opens the backend named by cfg.Backend
func (r *Registry) Open(ctx context.Context, cfg BackendConfig) (Store, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("config store backend '%s' not found", cfg.Backend)
	}

	store, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s config store: %w", cfg.Backend, err)
	}
	return store, nil
}

// List returns the registered backend names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Global registry holding the built-in backends
var globalRegistry = NewRegistry()

func init() {
	globalRegistry.Register("memory", func(context.Context, BackendConfig) (Store, error) {
		return NewMemoryStore(), nil
	})
	globalRegistry.Register("file", func(_ context.Context, cfg BackendConfig) (Store, error) {
		return NewFileStore(cfg.Path)
	})
	globalRegistry.Register("toml", func(_ context.Context, cfg BackendConfig) (Store, error) {
		return NewTOMLStore(tomlViper(cfg.Path))
	})
	globalRegistry.Register("redis", func(ctx context.Context, cfg BackendConfig) (Store, error) {
		return NewRedisStore(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			TTL:      cfg.RedisTTL,
		})
	})
	globalRegistry.Register("sqlite", func(_ context.Context, cfg BackendConfig) (Store, error) {
		return NewSQLiteStore(cfg.Path)
	})
	globalRegistry.Register("firestore", func(ctx context.Context, cfg BackendConfig) (Store, error) {
		return NewFirestoreStore(ctx,
			WithProjectID(cfg.FirestoreProjectID),
			WithCredentialsFile(cfg.FirestoreCredentialsFile),
			WithCollection(cfg.FirestoreCollection),
		)
	})
}

// Register registers a backend globally
func Register(name string, f Factory) {
	globalRegistry.Register(name, f)
}

// Open opens a backend from the global registry
func Open(ctx context.Context, cfg BackendConfig) (Store, error) {
	return globalRegistry.Open(ctx, cfg)
}

// Backends returns the globally registered backend names
func Backends() []string {
	return globalRegistry.List()
}
