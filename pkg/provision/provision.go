// Package provision registers existing assistants and creates new ones,
// storing the resulting configuration under a fresh config id.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aixgo-dev/embedchat/pkg/assistant"
	"github.com/aixgo-dev/embedchat/pkg/configstore"
)

// ValidationError reports a request that is missing required fields.
type ValidationError struct {
	Message string
	Missing []string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (missing: %s)", e.Message, strings.Join(e.Missing, ", "))
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RegisterRequest registers an assistant that already exists upstream.
type RegisterRequest struct {
	Name        string `json:"name"`
	OwnerID     string `json:"ownerId,omitempty"`
	APIKey      string `json:"apiKey"`
	AssistantID string `json:"assistantId"`
}

// CreateRequest creates a new assistant upstream.
type CreateRequest struct {
	Name         string `json:"name"`
	OwnerID      string `json:"ownerId,omitempty"`
	APIKey       string `json:"apiKey"`
	Instructions string `json:"instructions"`
	Model        string `json:"model,omitempty"`
}

// Service provisions assistant configurations.
type Service struct {
	client assistant.Client
	store  configstore.Store
	newID  func() string
	now    func() time.Time
}

// New creates a provisioning service.
func New(client assistant.Client, store configstore.Store) *Service {
	return &Service{
		client: client,
		store:  store,
		newID:  func() string { return uuid.New().String() },
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register checks that the assistant is reachable with the given key and
// stores the pair.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (configstore.AssistantConfig, error) {
	if missing := missingFields(map[string]string{
		"name":         req.Name,
		"api key":      req.APIKey,
		"assistant id": req.AssistantID,
	}); len(missing) > 0 {
		return configstore.AssistantConfig{}, &ValidationError{
			Message: "All fields are required for registering.",
			Missing: missing,
		}
	}

	apiKey := strings.TrimSpace(req.APIKey)
	assistantID := strings.TrimSpace(req.AssistantID)
	if err := s.client.RetrieveAssistant(ctx, apiKey, assistantID); err != nil {
		return configstore.AssistantConfig{}, fmt.Errorf("verify assistant: %w", err)
	}

	return s.save(ctx, req.Name, req.OwnerID, apiKey, assistantID)
}

// Create creates an assistant upstream and stores the new pair.
func (s *Service) Create(ctx context.Context, req CreateRequest) (configstore.AssistantConfig, error) {
	if missing := missingFields(map[string]string{
		"name":         req.Name,
		"api key":      req.APIKey,
		"instructions": req.Instructions,
	}); len(missing) > 0 {
		return configstore.AssistantConfig{}, &ValidationError{
			Message: "All fields are required for creating.",
			Missing: missing,
		}
	}

	apiKey := strings.TrimSpace(req.APIKey)
	assistantID, err := s.client.CreateAssistant(ctx, apiKey, assistant.AssistantSpec{
		Name:         strings.TrimSpace(req.Name),
		Instructions: req.Instructions,
		Model:        strings.TrimSpace(req.Model),
	})
	if err != nil {
		return configstore.AssistantConfig{}, fmt.Errorf("create assistant: %w", err)
	}

	return s.save(ctx, req.Name, req.OwnerID, apiKey, assistantID)
}

func (s *Service) save(ctx context.Context, name, ownerID, apiKey, assistantID string) (configstore.AssistantConfig, error) {
	cfg := configstore.AssistantConfig{
		ID:          s.newID(),
		Name:        strings.TrimSpace(name),
		OwnerID:     strings.TrimSpace(ownerID),
		APIKey:      apiKey,
		AssistantID: assistantID,
		CreatedAt:   s.now(),
	}
	if err := s.store.Put(ctx, cfg); err != nil {
		return configstore.AssistantConfig{}, fmt.Errorf("store config: %w", err)
	}

	log.Info().
		Str("config_id", cfg.ID).
		Str("assistant_id", cfg.AssistantID).
		Str("owner_id", cfg.OwnerID).
		Msg("Configuration created")
	return cfg, nil
}

// missingFields returns the names of blank fields in a stable order.
func missingFields(fields map[string]string) []string {
	var missing []string
	for _, name := range []string{"name", "api key", "assistant id", "instructions"} {
		v, ok := fields[name]
		if ok && strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
