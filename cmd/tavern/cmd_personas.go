package main

import (
	"net/http"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/persona-gateway/internal/client"
	"github.com/zhouzirui/persona-gateway/internal/model/persona"
)

func newPersonasCmd(opts *options) *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "personas",
		Short: "List the available personas",
		RunE: func(cmd *cobra.Command, args []string) error {
			var profiles []persona.Profile
			if local {
				profiles = persona.Profiles(persona.NewMemoryStore(persona.Seed()))
			} else {
				c := client.New(opts.server, &http.Client{Timeout: opts.timeout})
				var err error
				profiles, err = c.Personas(cmd.Context())
				if err != nil {
					opts.logger.Error().Err(err).Str("server", opts.server).Msg("failed to list personas")
					return err
				}
			}

			tw := tabwriter.NewWriter(opts.out, 0, 4, 2, ' ', 0)
			printf(tw, "ID\tTITLE\tSUBTITLE\n")
			for _, p := range profiles {
				printf(tw, "%s\t%s\t%s\n", p.ID, p.Title, p.Subtitle)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Read the built-in catalog instead of asking the server")
	return cmd
}
