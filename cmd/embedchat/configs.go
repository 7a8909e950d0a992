package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/embedchat/pkg/configstore"
	"github.com/aixgo-dev/embedchat/pkg/embed"
	"github.com/aixgo-dev/embedchat/pkg/provision"
)

func newConfigsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "configs",
		Aliases: []string{"config"},
		Short:   "Manage assistant configurations",
	}

	cmd.AddCommand(
		newConfigsRegisterCmd(a),
		newConfigsCreateCmd(a),
		newConfigsListCmd(a),
		newConfigsGetCmd(a),
		newConfigsDeleteCmd(a),
		newConfigsExportCmd(a),
		newConfigsImportCmd(a),
	)

	return cmd
}

func newConfigsRegisterCmd(a *app) *cobra.Command {
	var req provision.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an existing assistant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if req.APIKey == "" {
				req.APIKey = os.Getenv("OPENAI_API_KEY")
			}
			cfg, err := provision.New(a.newClient(a.cfg), store).Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printProvisioned(cmd.OutOrStdout(), a.cfg.Server.PublicURL, cfg)
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "display name")
	cmd.Flags().StringVar(&req.OwnerID, "owner", "", "owner id")
	cmd.Flags().StringVar(&req.APIKey, "api-key", "", "secret key (default $OPENAI_API_KEY)")
	cmd.Flags().StringVar(&req.AssistantID, "assistant-id", "", "existing assistant id")
	return cmd
}

func newConfigsCreateCmd(a *app) *cobra.Command {
	var req provision.CreateRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new assistant and register it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if req.APIKey == "" {
				req.APIKey = os.Getenv("OPENAI_API_KEY")
			}
			cfg, err := provision.New(a.newClient(a.cfg), store).Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printProvisioned(cmd.OutOrStdout(), a.cfg.Server.PublicURL, cfg)
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "display name")
	cmd.Flags().StringVar(&req.OwnerID, "owner", "", "owner id")
	cmd.Flags().StringVar(&req.APIKey, "api-key", "", "secret key (default $OPENAI_API_KEY)")
	cmd.Flags().StringVar(&req.Instructions, "instructions", "", "assistant instructions")
	cmd.Flags().StringVar(&req.Model, "model", "", "model (default gpt-4o)")
	return cmd
}

func printProvisioned(w io.Writer, publicURL string, cfg configstore.AssistantConfig) error {
	if _, err := fmt.Fprintf(w, "config id:    %s\nassistant id: %s\n", cfg.ID, cfg.AssistantID); err != nil {
		return err
	}
	if publicURL == "" {
		return nil
	}
	_, err := fmt.Fprintf(w, "embed code:   %s\n", embed.ScriptTag(publicURL, cfg.ID))
	return err
}

func newConfigsListCmd(a *app) *cobra.Command {
	var opts configstore.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assistant configurations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			configs, err := store.List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			for _, cfg := range configs {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n",
					cfg.ID, cfg.Name, cfg.AssistantID, configstore.RedactKey(cfg.APIKey))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "only configs of this owner")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of configs")
	return cmd
}

func newConfigsGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <config-id>",
		Short: "Show one assistant configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			cfg, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "id:           %s\n", cfg.ID)
			_, _ = fmt.Fprintf(w, "name:         %s\n", cfg.Name)
			_, _ = fmt.Fprintf(w, "owner:        %s\n", cfg.OwnerID)
			_, _ = fmt.Fprintf(w, "assistant id: %s\n", cfg.AssistantID)
			_, _ = fmt.Fprintf(w, "api key:      %s\n", configstore.RedactKey(cfg.APIKey))
			_, _ = fmt.Fprintf(w, "created at:   %s\n", cfg.CreatedAt.Format("2006-01-02 15:04:05Z07:00"))
			return nil
		},
	}
}

func newConfigsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <config-id>",
		Short: "Delete an assistant configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return err
		},
	}
}

func newConfigsExportCmd(a *app) *cobra.Command {
	var (
		opts   configstore.ExportOptions
		output string
		format string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export assistant configurations as YAML or TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
				if format == "" {
					format = configstore.FormatFromPath(output)
				}
			}
			if format == "" {
				format = configstore.FormatYAML
			}

			n, err := configstore.Export(cmd.Context(), store, w, format, opts)
			if err != nil {
				return err
			}
			if output != "" {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "exported %d configs to %s\n", n, output)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&format, "format", "", "yaml or toml (default from the output extension)")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "only configs of this owner")
	cmd.Flags().BoolVar(&opts.Redact, "redact", false, "mask secret keys")
	return cmd
}

func newConfigsImportCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import assistant configurations from a YAML or TOML export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			if format == "" {
				format = configstore.FormatFromPath(args[0])
			}
			n, err := configstore.Import(cmd.Context(), store, f, format)
			if err != nil {
				if errors.Is(err, configstore.ErrInvalidConfig) {
					return fmt.Errorf("%w (redacted exports cannot be imported)", err)
				}
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d configs\n", n)
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "yaml or toml (default from the file extension)")
	return cmd
}
