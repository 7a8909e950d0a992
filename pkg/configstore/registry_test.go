package configstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackends_BuiltIns(t *testing.T) {
	assert.Equal(t, []string{"file", "firestore", "memory", "redis", "sqlite", "toml"}, Backends())
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     BackendConfig
		wantErr bool
	}{
		{name: "memory", cfg: BackendConfig{Backend: "memory"}},
		{name: "file", cfg: BackendConfig{Backend: "file", Path: filepath.Join(dir, "c.json")}},
		{name: "toml", cfg: BackendConfig{Backend: "toml", Path: filepath.Join(dir, "c.toml")}},
		{name: "sqlite", cfg: BackendConfig{Backend: "sqlite", Path: filepath.Join(dir, "c.db")}},
		{name: "redis without addr", cfg: BackendConfig{Backend: "redis"}, wantErr: true},
		{name: "firestore without project", cfg: BackendConfig{Backend: "firestore"}, wantErr: true},
		{name: "unknown", cfg: BackendConfig{Backend: "etcd"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(context.Background(), tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer func() { _ = store.Close() }()

			require.NoError(t, store.Put(context.Background(), sampleConfig("c1", "", 0)))
			_, err = store.Get(context.Background(), "c1")
			assert.NoError(t, err)
		})
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register("custom", func(context.Context, BackendConfig) (Store, error) {
		return NewMemoryStore(), nil
	})

	store, err := r.Open(context.Background(), BackendConfig{Backend: "custom"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
	assert.Equal(t, []string{"custom"}, r.List())
}
