package server

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/aixgo-dev/embedchat/pkg/chat"
	"github.com/aixgo-dev/embedchat/pkg/configstore"
	"github.com/aixgo-dev/embedchat/pkg/embed"
)

// MessageRequest is the body of POST /chat/:configId/message.
type MessageRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"threadId,omitempty"`
}

// MessageResponse is returned for a completed turn. Response is the newest
// reply; Messages holds every reply of the run, oldest first.
type MessageResponse struct {
	Success  bool           `json:"success"`
	Response string         `json:"response"`
	ThreadID string         `json:"threadId"`
	Messages []chat.Message `json:"messages"`
}

// postMessage runs one turn server-side so the secret key never reaches
// the browser.
func (s *Server) postMessage(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid request body."))
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, errorBody(msgMissingMessage))
	}

	ctx := c.Request().Context()
	configID := c.Param("configId")
	logger := log.With().Str("config_id", configID).Logger()

	cfg, err := s.store.Get(ctx, configID)
	if err != nil {
		if !errors.Is(err, configstore.ErrNotFound) {
			logger.Error().Err(err).Msg("load config")
		}
		status, msg := chatStatus(err)
		return c.JSON(status, errorBody(msg))
	}
	if !s.allowMessage(c.RealIP()) {
		return c.JSON(http.StatusTooManyRequests, errorBody(msgRateLimited))
	}
	creds := cfg.Credentials()

	threadID := req.ThreadID
	if threadID == "" {
		threadID, err = s.runner.Client().CreateThread(ctx, creds.APIKey)
		if err != nil {
			logger.Error().Err(err).Msg("create thread")
			return c.JSON(http.StatusInternalServerError, errorBody(msgChatFailed))
		}
	}

	release, ok := s.guard.TryAcquire(threadID)
	if !ok {
		return c.JSON(http.StatusConflict, errorBody(msgThreadBusy))
	}
	defer release()

	res, err := s.runner.Turn(ctx, creds, threadID, req.Message, nil)
	if err != nil {
		logger.Error().Err(err).
			Str("thread_id", threadID).
			Str("run_id", res.Run.ID).
			Msg("chat turn failed")
		status, msg := chatStatus(err)
		return c.JSON(status, errorBody(msg))
	}

	resp := MessageResponse{
		Success:  true,
		ThreadID: threadID,
		Messages: res.Replies,
	}
	if resp.Messages == nil {
		resp.Messages = []chat.Message{}
	}
	if n := len(res.Replies); n > 0 {
		resp.Response = res.Replies[n-1].Content
	}
	return c.JSON(http.StatusOK, resp)
}

// chatPage serves the page loaded into the widget iframe.
func (s *Server) chatPage(c echo.Context) error {
	cfg, ok, err := s.lookupPage(c)
	if !ok {
		return err
	}

	var buf bytes.Buffer
	if err := embed.RenderChatPage(&buf, embed.PageParams{ConfigID: cfg.ID, Title: cfg.Name}); err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

// embedScript serves /embed/{configId}.js.
func (s *Server) embedScript(c echo.Context) error {
	name := c.Param("script")
	configID, found := strings.CutSuffix(name, ".js")
	if !found || configID == "" {
		return echo.ErrNotFound
	}

	if _, err := s.store.Get(c.Request().Context(), configID); err != nil {
		if errors.Is(err, configstore.ErrNotFound) {
			return c.Blob(http.StatusNotFound, "application/javascript",
				[]byte("console.error("+quoteJS(embed.NotFoundMessage)+");\n"))
		}
		return err
	}

	var buf bytes.Buffer
	if err := embed.RenderScript(&buf, embed.Params{BaseURL: s.baseURL(c), ConfigID: configID}); err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	return c.Blob(http.StatusOK, "application/javascript; charset=utf-8", buf.Bytes())
}

// previewPage serves the dashboard preview of the inline snippet.
func (s *Server) previewPage(c echo.Context) error {
	cfg, ok, err := s.lookupPage(c)
	if !ok {
		return err
	}

	var buf bytes.Buffer
	if err := embed.RenderPreview(&buf, embed.Params{BaseURL: s.baseURL(c), ConfigID: cfg.ID}); err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

// lookupPage resolves the configId path parameter for an HTML page. When ok
// is false the response has been handled and err is what the handler
// returns.
func (s *Server) lookupPage(c echo.Context) (configstore.AssistantConfig, bool, error) {
	cfg, err := s.store.Get(c.Request().Context(), c.Param("configId"))
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, configstore.ErrNotFound) {
		return cfg, false, err
	}

	var buf bytes.Buffer
	if err := embed.RenderNotFound(&buf); err != nil {
		return cfg, false, err
	}
	return cfg, false, c.HTMLBlob(http.StatusNotFound, buf.Bytes())
}

func quoteJS(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
