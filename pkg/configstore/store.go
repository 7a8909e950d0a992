// Package configstore persists assistant configurations: the secret key and
// assistant id an embed instance runs with, indexed by an opaque config id.
package configstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aixgo-dev/embedchat/pkg/assistant"
)

// Common errors for storage operations.
var (
	// ErrNotFound is returned when a config id is unknown.
	ErrNotFound = errors.New("assistant configuration not found")
	// ErrStorageClosed is returned when operating on a closed store.
	ErrStorageClosed = errors.New("config store is closed")
	// ErrInvalidConfig is returned by Put for incomplete configs.
	ErrInvalidConfig = errors.New("invalid assistant configuration")
)

// AssistantConfig binds a config id to the credentials it runs with.
// Configs are immutable once stored; Put replaces a config wholesale.
type AssistantConfig struct {
	ID          string    `json:"id" yaml:"id" toml:"id" firestore:"id"`
	Name        string    `json:"name" yaml:"name" toml:"name" firestore:"name"`
	OwnerID     string    `json:"ownerId,omitempty" yaml:"owner_id,omitempty" toml:"owner_id,omitempty" firestore:"owner_id"`
	APIKey      string    `json:"apiKey" yaml:"api_key" toml:"api_key" firestore:"api_key"`
	AssistantID string    `json:"assistantId" yaml:"assistant_id" toml:"assistant_id" firestore:"assistant_id"`
	CreatedAt   time.Time `json:"createdAt" yaml:"created_at" toml:"created_at" firestore:"created_at"`
}

// Credentials returns the pair used for upstream calls.
func (c AssistantConfig) Credentials() assistant.Credentials {
	return assistant.Credentials{APIKey: c.APIKey, AssistantID: c.AssistantID}
}

// Validate checks the fields every stored config needs.
func (c AssistantConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "api key")
	}
	if strings.TrimSpace(c.AssistantID) == "" {
		missing = append(missing, "assistant id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}

// Redacted returns a copy with the secret key masked to its last four
// characters.
func (c AssistantConfig) Redacted() AssistantConfig {
	c.APIKey = RedactKey(c.APIKey)
	return c
}

// RedactKey masks a secret key for display.
func RedactKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:3] + "..." + key[len(key)-4:]
}

// Store abstracts config persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves a config by id.
	// Returns ErrNotFound if the config doesn't exist.
	Get(ctx context.Context, id string) (AssistantConfig, error)

	// Put creates or replaces a config.
	Put(ctx context.Context, cfg AssistantConfig) error

	// Delete removes a config.
	// Returns ErrNotFound if the config doesn't exist.
	Delete(ctx context.Context, id string) error

	// List returns configs matching opts, oldest first.
	List(ctx context.Context, opts ListOptions) ([]AssistantConfig, error)

	// Close releases any resources held by the store.
	Close() error
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ListOptions provides filtering for config listing.
type ListOptions struct {
	// OwnerID filters configs by owner.
	OwnerID string
	// Limit caps the number of results.
	Limit int
}

// filter applies opts to configs in place and sorts the result.
func (o ListOptions) filter(configs []AssistantConfig) []AssistantConfig {
	out := configs[:0]
	for _, c := range configs {
		if o.OwnerID != "" && c.OwnerID != o.OwnerID {
			continue
		}
		out = append(out, c)
	}
	sortConfigs(out)
	if o.Limit > 0 && len(out) > o.Limit {
		out = out[:o.Limit]
	}
	return out
}

func sortConfigs(configs []AssistantConfig) {
	slices.SortFunc(configs, func(a, b AssistantConfig) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
