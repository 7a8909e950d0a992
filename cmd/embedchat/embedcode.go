package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/embedchat/pkg/embed"
)

func newEmbedCmd(a *app) *cobra.Command {
	var (
		baseURL string
		inline  bool
	)
	cmd := &cobra.Command{
		Use:   "embed <config-id>",
		Short: "Print the embed code for a configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				baseURL = a.cfg.Server.PublicURL
			}
			if baseURL == "" {
				return errors.New("a public URL is required: pass --base-url or set server.public_url")
			}

			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			if _, err := store.Get(cmd.Context(), args[0]); err != nil {
				return err
			}

			p := embed.Params{BaseURL: baseURL, ConfigID: args[0]}
			if err := p.Validate(); err != nil {
				return err
			}

			if !inline {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), embed.ScriptTag(baseURL, args[0]))
				return err
			}
			snippet, err := embed.InlineSnippet(baseURL, args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), snippet)
			return err
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "public origin of the server (default server.public_url)")
	cmd.Flags().BoolVar(&inline, "inline", false, "print the self-contained snippet instead of the script tag")
	return cmd
}
