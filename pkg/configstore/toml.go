package configstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	tomlPathKey              = "path"
	tomlFileName             = "configs.toml"
	currentTOMLSchemaVersion = 1
)

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

type tomlFileSchema struct {
	Version int               `toml:"version"`
	Configs []AssistantConfig `toml:"configs"`
}

func (s *tomlFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentTOMLSchemaVersion
	}
}

func (s tomlFileSchema) validateVersion() error {
	if s.Version > currentTOMLSchemaVersion {
		return fmt.Errorf("unsupported config file schema version %d (current %d)", s.Version, currentTOMLSchemaVersion)
	}
	return nil
}

// TOMLStore implements Store with a versioned, human-editable TOML file.
// Stores opened on the same path share one lock.
type TOMLStore struct {
	path   string
	mu     *sync.RWMutex
	closed bool
	state  sync.Mutex
}

// NewTOMLStore opens the TOML file named by the "path" key of cfg, or
// ~/.embedchat/configs.toml when unset.
func NewTOMLStore(cfg *viper.Viper) (*TOMLStore, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	path := cfg.GetString(tomlPathKey)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, ".embedchat", tomlFileName)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config file path: %w", err)
	}
	absPath = filepath.Clean(absPath)

	return &TOMLStore{path: absPath, mu: lockForPath(absPath)}, nil
}

func tomlViper(path string) *viper.Viper {
	v := viper.New()
	v.Set(tomlPathKey, path)
	return v
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}
	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func (s *TOMLStore) isClosed() bool {
	s.state.Lock()
	defer s.state.Unlock()
	return s.closed
}

func (s *TOMLStore) Get(ctx context.Context, id string) (AssistantConfig, error) {
	if err := ctx.Err(); err != nil {
		return AssistantConfig{}, err
	}
	if s.isClosed() {
		return AssistantConfig{}, ErrStorageClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.readSchema()
	if err != nil {
		return AssistantConfig{}, err
	}
	for _, cfg := range file.Configs {
		if cfg.ID == id {
			return cfg, nil
		}
	}
	return AssistantConfig{}, ErrNotFound
}

func (s *TOMLStore) Put(ctx context.Context, cfg AssistantConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrStorageClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.readSchema()
	if err != nil {
		return err
	}

	updated := false
	for i := range file.Configs {
		if file.Configs[i].ID == cfg.ID {
			file.Configs[i] = cfg
			updated = true
			break
		}
	}
	if !updated {
		file.Configs = append(file.Configs, cfg)
	}
	return s.writeSchema(file)
}

func (s *TOMLStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrStorageClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.readSchema()
	if err != nil {
		return err
	}

	for i := range file.Configs {
		if file.Configs[i].ID == id {
			file.Configs = append(file.Configs[:i], file.Configs[i+1:]...)
			return s.writeSchema(file)
		}
	}
	return ErrNotFound
}

func (s *TOMLStore) List(ctx context.Context, opts ListOptions) ([]AssistantConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, ErrStorageClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := s.readSchema()
	if err != nil {
		return nil, err
	}
	return opts.filter(file.Configs), nil
}

// Ping checks that the file is readable and of a supported version.
func (s *TOMLStore) Ping(ctx context.Context) error {
	if s.isClosed() {
		return ErrStorageClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.readSchema()
	return err
}

func (s *TOMLStore) Close() error {
	s.state.Lock()
	defer s.state.Unlock()
	s.closed = true
	return nil
}

func (s *TOMLStore) readSchema() (tomlFileSchema, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return tomlFileSchema{Version: currentTOMLSchemaVersion}, nil
		}
		return tomlFileSchema{}, fmt.Errorf("read config file: %w", err)
	}

	var file tomlFileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return tomlFileSchema{}, fmt.Errorf("decode config file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return tomlFileSchema{}, err
	}
	file.applyDefaults()
	return file, nil
}

func (s *TOMLStore) writeSchema(file tomlFileSchema) error {
	file.applyDefaults()
	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode config file: %w", err)
	}
	return writeFileAtomic(s.path, data)
}
