// Package server exposes the chat proxy, the widget surface and the config
// admin API over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/aixgo-dev/embedchat/pkg/chat"
	"github.com/aixgo-dev/embedchat/pkg/configstore"
	"github.com/aixgo-dev/embedchat/pkg/observability"
	"github.com/aixgo-dev/embedchat/pkg/provision"
	"github.com/aixgo-dev/embedchat/pkg/ratelimit"
)

// Options configures the HTTP surface.
type Options struct {
	// PublicURL is the origin written into embed codes and chat URLs. When
	// empty it is derived from each request.
	PublicURL string
	// AdminToken guards /api/configs with a bearer token when set.
	AdminToken     string
	AllowedOrigins []string
	WebSocket      WebSocketConfig
	// RateLimiter caps chat messages per visitor address; nil disables it.
	RateLimiter *ratelimit.Limiter
}

// WebSocketConfig tunes chat page sockets.
type WebSocketConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

func (c *WebSocketConfig) applyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.ReadTimeout {
		c.PingInterval = c.ReadTimeout * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 32 << 10
	}
}

// Server is the echo application.
type Server struct {
	echo        *echo.Echo
	store       configstore.Store
	runner      *chat.Runner
	sessions    chat.Manager
	provisioner *provision.Service
	guard       *chat.ThreadGuard
	opts        Options
	upgrader    websocket.Upgrader
}

// New creates the server and registers its routes.
func New(store configstore.Store, runner *chat.Runner, sessions chat.Manager, provisioner *provision.Service, opts Options) *Server {
	opts.WebSocket.applyDefaults()

	s := &Server{
		echo:        echo.New(),
		store:       store,
		runner:      runner,
		sessions:    sessions,
		provisioner: provisioner,
		guard:       chat.NewThreadGuard(),
		opts:        opts,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = errorHandler

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	// Chat
	e.POST("/chat/:configId/message", s.postMessage)
	e.GET("/chat/:configId", s.chatPage)
	e.GET("/chat/:configId/ws", s.chatSocket)

	// Widget
	e.GET("/embed/:script", s.embedScript)
	e.GET("/preview/:configId", s.previewPage)

	// Admin
	admin := e.Group("/api/configs", s.adminAuth())
	admin.POST("", s.createConfig)
	admin.GET("", s.listConfigs)
	admin.GET("/:id", s.getConfig)
	admin.DELETE("/:id", s.deleteConfig)

	// Observability
	obs := echo.WrapHandler(observability.Handler())
	e.GET("/health", obs)
	e.GET("/health/live", obs)
	e.GET("/health/ready", obs)
	e.GET("/metrics", obs)
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown. A graceful shutdown is not reported
// as an error.
func (s *Server) Start(addr string) error {
	log.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// baseURL is the public origin for links handed out in responses.
func (s *Server) baseURL(c echo.Context) string {
	if s.opts.PublicURL != "" {
		return strings.TrimRight(s.opts.PublicURL, "/")
	}
	return c.Scheme() + "://" + c.Request().Host
}

// allowMessage reports whether the visitor at addr may send another chat message.
func (s *Server) allowMessage(addr string) bool {
	return s.opts.RateLimiter == nil || s.opts.RateLimiter.Allow(addr)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
