package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	storeDirMode  = 0o700
	storeFileMode = 0o600
)

// FileStore implements Store with a single JSON index file:
//
//	~/.embedchat/configs.json   # {"<config-id>": {...}, ...}
//
// Every write rewrites the index through a temp file and rename.
type FileStore struct {
	path   string
	mu     sync.RWMutex
	closed bool
}

// NewFileStore creates a file-backed store. An empty path uses
// ~/.embedchat/configs.json.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		path = filepath.Join(home, ".embedchat", "configs.json")
	}

	if err := os.MkdirAll(filepath.Dir(path), storeDirMode); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	return &FileStore{path: filepath.Clean(path)}, nil
}

func (f *FileStore) Get(ctx context.Context, id string) (AssistantConfig, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return AssistantConfig{}, ErrStorageClosed
	}

	index, err := f.readIndex()
	if err != nil {
		return AssistantConfig{}, err
	}
	cfg, ok := index[id]
	if !ok {
		return AssistantConfig{}, ErrNotFound
	}
	return cfg, nil
}

func (f *FileStore) Put(ctx context.Context, cfg AssistantConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStorageClosed
	}

	index, err := f.readIndex()
	if err != nil {
		return err
	}
	index[cfg.ID] = cfg
	return f.writeIndex(index)
}

func (f *FileStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStorageClosed
	}

	index, err := f.readIndex()
	if err != nil {
		return err
	}
	if _, ok := index[id]; !ok {
		return ErrNotFound
	}
	delete(index, id)
	return f.writeIndex(index)
}

func (f *FileStore) List(ctx context.Context, opts ListOptions) ([]AssistantConfig, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrStorageClosed
	}

	index, err := f.readIndex()
	if err != nil {
		return nil, err
	}
	out := make([]AssistantConfig, 0, len(index))
	for _, cfg := range index {
		out = append(out, cfg)
	}
	return opts.filter(out), nil
}

// Ping checks that the index is readable.
func (f *FileStore) Ping(ctx context.Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrStorageClosed
	}
	_, err := f.readIndex()
	return err
}

func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FileStore) readIndex() (map[string]AssistantConfig, error) {
	index := make(map[string]AssistantConfig)

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return index, nil
		}
		return nil, fmt.Errorf("read config index: %w", err)
	}
	if len(data) == 0 {
		return index, nil
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse config index: %w", err)
	}
	return index, nil
}

func (f *FileStore) writeIndex(index map[string]AssistantConfig) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config index: %w", err)
	}
	return writeFileAtomic(f.path, data)
}

// writeFileAtomic replaces path with data via a temp file in the same
// directory.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), storeDirMode); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), ".configs-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Chmod(storeFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}

	cleanup = false
	return nil
}
