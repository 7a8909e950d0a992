package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aixgo-dev/embedchat/internal/observability"
	"github.com/aixgo-dev/embedchat/internal/server"
	"github.com/aixgo-dev/embedchat/pkg/assistant"
	"github.com/aixgo-dev/embedchat/pkg/chat"
	"github.com/aixgo-dev/embedchat/pkg/configstore"
	metrics "github.com/aixgo-dev/embedchat/pkg/observability"
	"github.com/aixgo-dev/embedchat/pkg/provision"
	"github.com/aixgo-dev/embedchat/pkg/ratelimit"
	"github.com/aixgo-dev/embedchat/pkg/runpoller"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat proxy, widget and admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}

	cmd.Flags().String("addr", "", "listen address (default :3001)")
	cmd.Flags().String("public-url", "", "public origin used in embed codes")
	_ = a.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = a.v.BindPFlag("server.public_url", cmd.Flags().Lookup("public-url"))
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Info().Str("version", Version).Str("store", cfg.Store.Backend).Msg("Starting embedchat")

	if err := observability.Init(observability.ConfigFromEnv(observability.Config{
		ServiceName:  cfg.Observability.ServiceName,
		Enabled:      cfg.Observability.TraceExporter != "none",
		ExporterType: cfg.Observability.TraceExporter,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
	})); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	metrics.InitMetrics()
	metrics.SetVersion(Version)
	healthChecker := metrics.InitHealthChecker()
	healthChecker.SetStoreBackend(cfg.Store.Backend)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("close config store")
		}
	}()
	if p, ok := store.(configstore.Pinger); ok {
		healthChecker.RegisterCheck(metrics.StoreCheck(p.Ping))
	}

	client := a.newClient(cfg)
	if p, ok := client.(assistant.Pinger); ok {
		healthChecker.RegisterCheck(metrics.UpstreamCheck(p.Ping))
	}
	poller := runpoller.New(client,
		runpoller.WithInterval(cfg.Poller.Interval),
		runpoller.WithMaxWait(cfg.Poller.MaxWait),
		runpoller.WithMaxAttempts(cfg.Poller.MaxAttempts),
	)
	runner := chat.NewRunner(client, poller)

	sessions := chat.NewManager(runner, chat.ManagerConfig{
		IdleTimeout:   cfg.Sessions.IdleTimeout,
		SweepSchedule: cfg.Sessions.SweepSchedule,
		MaxSessions:   cfg.Sessions.MaxSessions,
		CancelOnClose: cfg.Sessions.CancelOnClose,
		Greeting:      cfg.Sessions.Greeting,
	})
	if err := sessions.Start(); err != nil {
		return err
	}
	healthChecker.SetSessionCounter(sessions.Len)

	var limiter *ratelimit.Limiter
	limits := ratelimit.Config{
		PerKeyPerSecond: cfg.Server.RateLimit.PerClientPerSecond,
		PerKeyBurst:     cfg.Server.RateLimit.PerClientBurst,
		GlobalPerSecond: cfg.Server.RateLimit.GlobalPerSecond,
		GlobalBurst:     cfg.Server.RateLimit.GlobalBurst,
	}
	if limits.Enabled() {
		limiter = ratelimit.New(limits)
		pruner := cron.New()
		if _, err := pruner.AddFunc(cfg.Sessions.SweepSchedule, func() {
			limiter.Prune(cfg.Sessions.IdleTimeout)
		}); err != nil {
			return fmt.Errorf("schedule rate limit pruning: %w", err)
		}
		pruner.Start()
		defer pruner.Stop()
	}

	srv := server.New(store, runner, sessions, provision.New(client, store), server.Options{
		PublicURL:      cfg.Server.PublicURL,
		AdminToken:     cfg.Server.AdminToken,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimiter:    limiter,
	})
	if cfg.Server.AdminToken == "" {
		log.Warn().Msg("admin API is unauthenticated; set server.admin_token")
	}

	var obsServer *metrics.Server
	if cfg.Observability.MetricsAddr != "" {
		obsServer = metrics.NewServer(cfg.Observability.MetricsAddr)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(cfg.Server.Addr); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	if obsServer != nil {
		g.Go(func() error {
			log.Info().Str("addr", cfg.Observability.MetricsAddr).Msg("observability server listening")
			if err := obsServer.Start(); err != nil {
				return fmt.Errorf("observability server error: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down embedchat...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
		if obsServer != nil {
			if err := obsServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("observability server shutdown error")
			}
		}
		if err := sessions.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("session shutdown error")
		}
		if err := observability.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("tracing shutdown error")
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("embedchat stopped")
	return err
}
