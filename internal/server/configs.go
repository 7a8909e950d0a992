package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/aixgo-dev/embedchat/pkg/configstore"
	"github.com/aixgo-dev/embedchat/pkg/embed"
	"github.com/aixgo-dev/embedchat/pkg/provision"
)

// CreateConfigRequest registers an existing assistant when AssistantID is
// set and creates a new one from Instructions otherwise.
type CreateConfigRequest struct {
	Name         string `json:"name"`
	OwnerID      string `json:"ownerId,omitempty"`
	APIKey       string `json:"apiKey"`
	AssistantID  string `json:"assistantId,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Model        string `json:"model,omitempty"`
}

// CreateConfigResponse carries everything a site owner needs to embed the
// widget.
type CreateConfigResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ConfigID    string `json:"configId"`
	AssistantID string `json:"assistantId"`
	EmbedCode   string `json:"embedCode"`
	ChatURL     string `json:"chatUrl"`
}

func (s *Server) createConfig(c echo.Context) error {
	var req CreateConfigRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid request body."))
	}

	ctx := c.Request().Context()
	var (
		cfg configstore.AssistantConfig
		err error
	)
	if strings.TrimSpace(req.AssistantID) != "" {
		cfg, err = s.provisioner.Register(ctx, provision.RegisterRequest{
			Name:        req.Name,
			OwnerID:     req.OwnerID,
			APIKey:      req.APIKey,
			AssistantID: req.AssistantID,
		})
	} else {
		cfg, err = s.provisioner.Create(ctx, provision.CreateRequest{
			Name:         req.Name,
			OwnerID:      req.OwnerID,
			APIKey:       req.APIKey,
			Instructions: req.Instructions,
			Model:        req.Model,
		})
	}
	if err != nil {
		if !provision.IsValidation(err) {
			log.Error().Err(err).Msg("configure assistant")
		}
		status, msg := provisionStatus(err)
		return c.JSON(status, errorBody(msg))
	}

	base := s.baseURL(c)
	p := embed.Params{BaseURL: base, ConfigID: cfg.ID}
	return c.JSON(http.StatusOK, CreateConfigResponse{
		Success:     true,
		Message:     "Assistant configured successfully!",
		ConfigID:    cfg.ID,
		AssistantID: cfg.AssistantID,
		EmbedCode:   embed.ScriptTag(base, cfg.ID),
		ChatURL:     p.ChatURL(),
	})
}

func (s *Server) listConfigs(c echo.Context) error {
	opts := configstore.ListOptions{OwnerID: c.QueryParam("owner")}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return c.JSON(http.StatusBadRequest, errorBody("limit must be a non-negative integer."))
		}
		opts.Limit = limit
	}

	configs, err := s.store.List(c.Request().Context(), opts)
	if err != nil {
		log.Error().Err(err).Msg("list configs")
		return c.JSON(http.StatusInternalServerError, errorBody(msgStoreFailed))
	}
	for i := range configs {
		configs[i] = configs[i].Redacted()
	}
	return c.JSON(http.StatusOK, map[string]any{"configs": configs})
}

func (s *Server) getConfig(c echo.Context) error {
	cfg, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.configError(c, err)
	}
	return c.JSON(http.StatusOK, cfg.Redacted())
}

func (s *Server) deleteConfig(c echo.Context) error {
	if err := s.store.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return s.configError(c, err)
	}
	log.Info().Str("config_id", c.Param("id")).Msg("Configuration deleted")
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) configError(c echo.Context, err error) error {
	if errors.Is(err, configstore.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody(msgConfigNotFound))
	}
	log.Error().Err(err).Str("config_id", c.Param("id")).Msg("config store")
	return c.JSON(http.StatusInternalServerError, errorBody(msgStoreFailed))
}
