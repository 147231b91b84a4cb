package main

import (
	"fmt"
	"text/tabwriter"

	"netintercept/internal/cdp"

	"github.com/spf13/cobra"
)

func newTargetsCmd(root *rootOptions) *cobra.Command {
	var devtools string
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List the targets exposed by a DevTools endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if devtools != "" {
				cfg.DevTools.URL = devtools
			}
			targets, err := cdp.ListTargets(cmd.Context(), cfg.DevTools.URL)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tTITLE\tURL")
			for _, t := range targets {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Type, t.Title, t.URL)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&devtools, "devtools", "", "DevTools HTTP endpoint")
	return cmd
}
