package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aixgo-dev/embedchat/internal/logging"
	"github.com/aixgo-dev/embedchat/pkg/assistant"
	"github.com/aixgo-dev/embedchat/pkg/config"
	"github.com/aixgo-dev/embedchat/pkg/configstore"
)

// app carries what every command shares once the configuration is loaded.
type app struct {
	v   *viper.Viper
	cfg *config.Config

	// newClient builds the upstream client; tests replace it with a fake.
	newClient func(cfg *config.Config) assistant.Client
}

func newApp() *app {
	v := viper.New()
	v.SetEnvPrefix("EMBEDCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return &app{
		v: v,
		newClient: func(cfg *config.Config) assistant.Client {
			return assistant.NewOpenAIClient(assistant.Config{
				BaseURL:           cfg.OpenAI.BaseURL,
				RequestTimeout:    cfg.OpenAI.RequestTimeout,
				RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
				Burst:             cfg.OpenAI.Burst,
			})
		},
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "embedchat",
		Short:         "Embeddable chat widget for hosted assistants",
		Long:          "embedchat proxies a website chat widget to an OpenAI assistant so the secret key never reaches the browser, and manages the assistant configurations the widget runs with.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML configuration file (env EMBEDCHAT_CONFIG)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: console or json")
	flags.String("store-backend", "", "config store backend: "+strings.Join(configstore.Backends(), ", "))
	flags.String("store-path", "", "config store file (file, toml and sqlite backends)")

	// BindPFlag only fails for a nil flag.
	_ = a.v.BindPFlag("config", flags.Lookup("config"))
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = a.v.BindPFlag("store.backend", flags.Lookup("store-backend"))
	_ = a.v.BindPFlag("store.path", flags.Lookup("store-path"))

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(a),
		newConfigsCmd(a),
		newEmbedCmd(a),
		newChatCmd(a),
	)

	return rootCmd
}

// load reads the configuration file, then applies flags and EMBEDCHAT_*
// variables over it.
func (a *app) load() error {
	cfg := config.Default()
	if path := a.v.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg.ApplyEnv()
	}

	overrideString(a.v, "log.level", &cfg.Log.Level)
	overrideString(a.v, "log.format", &cfg.Log.Format)
	overrideString(a.v, "store.backend", &cfg.Store.Backend)
	overrideString(a.v, "store.path", &cfg.Store.Path)
	overrideString(a.v, "server.addr", &cfg.Server.Addr)
	overrideString(a.v, "server.public_url", &cfg.Server.PublicURL)

	logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	a.cfg = cfg
	return nil
}

func overrideString(v *viper.Viper, key string, field *string) {
	if v.IsSet(key) {
		if s := v.GetString(key); s != "" {
			*field = s
		}
	}
}

// openStore opens the configured backend.
func (a *app) openStore(ctx context.Context) (configstore.Store, error) {
	s := a.cfg.Store
	store, err := configstore.Open(ctx, configstore.BackendConfig{
		Backend:                  s.Backend,
		Path:                     s.Path,
		RedisAddr:                s.Redis.Addr,
		RedisPassword:            s.Redis.Password,
		RedisDB:                  s.Redis.DB,
		RedisPrefix:              s.Redis.Prefix,
		RedisTTL:                 s.Redis.TTL,
		FirestoreProjectID:       s.Firestore.ProjectID,
		FirestoreCredentialsFile: s.Firestore.CredentialsFile,
		FirestoreCollection:      s.Firestore.Collection,
	})
	if err != nil {
		return nil, fmt.Errorf("wire config store: %w", err)
	}
	return store, nil
}
