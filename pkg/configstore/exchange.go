package configstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Exchange formats.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

const exchangeVersion = 1

// exchangeDocument is the export file layout shared by both formats.
type exchangeDocument struct {
	Version int               `yaml:"version" toml:"version"`
	Configs []AssistantConfig `yaml:"configs" toml:"configs"`
}

// ExportOptions controls Export.
type ExportOptions struct {
	ListOptions
	// Redact masks secret keys; a redacted export cannot be imported.
	Redact bool
}

// FormatFromPath picks an exchange format from a file extension, defaulting
// to YAML.
func FormatFromPath(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Export writes the configs selected by opts to w and returns how many were
// written.
func Export(ctx context.Context, store Store, w io.Writer, format string, opts ExportOptions) (int, error) {
	configs, err := store.List(ctx, opts.ListOptions)
	if err != nil {
		return 0, fmt.Errorf("list configs: %w", err)
	}
	if opts.Redact {
		for i := range configs {
			configs[i] = configs[i].Redacted()
		}
	}

	doc := exchangeDocument{Version: exchangeVersion, Configs: configs}

	var data []byte
	switch format {
	case FormatYAML:
		data, err = yaml.Marshal(doc)
	case FormatTOML:
		data, err = toml.Marshal(doc)
	default:
		return 0, fmt.Errorf("unknown export format: %s", format)
	}
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", format, err)
	}

	if _, err := w.Write(data); err != nil {
		return 0, fmt.Errorf("write export: %w", err)
	}
	return len(configs), nil
}

// Import reads configs from r and puts each into store. It validates the
// whole document before writing anything and returns how many were stored.
func Import(ctx context.Context, store Store, r io.Reader, format string) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read import: %w", err)
	}

	var doc exchangeDocument
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	case FormatTOML:
		err = toml.Unmarshal(data, &doc)
	default:
		return 0, fmt.Errorf("unknown import format: %s", format)
	}
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", format, err)
	}
	if doc.Version > exchangeVersion {
		return 0, fmt.Errorf("unsupported export version %d (current %d)", doc.Version, exchangeVersion)
	}

	for i, cfg := range doc.Configs {
		if err := cfg.Validate(); err != nil {
			return 0, fmt.Errorf("config %d: %w", i, err)
		}
		if strings.Contains(cfg.APIKey, "...") || strings.Trim(cfg.APIKey, "*") == "" {
			return 0, fmt.Errorf("config %s: %w: api key is redacted", cfg.ID, ErrInvalidConfig)
		}
	}

	for i, cfg := range doc.Configs {
		if err := store.Put(ctx, cfg); err != nil {
			return i, fmt.Errorf("store config %s: %w", cfg.ID, err)
		}
	}
	return len(doc.Configs), nil
}
