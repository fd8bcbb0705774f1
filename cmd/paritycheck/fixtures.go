package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pitabwire/checkoutparity/internal/config"
	"github.com/pitabwire/checkoutparity/internal/fixture"
)

func newFixturesCmd(root *rootOptions) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "fixtures",
		Short: "List request and response fixtures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				cfg, err := config.Load(root.configPath)
				if err != nil {
					return err
				}
				dir = cfg.Fixtures.Directory
			}
			store, err := fixture.OpenOrEmbedded(dir)
			if err != nil {
				return err
			}

			var b strings.Builder
			for _, ns := range fixture.Namespaces {
				fmt.Fprintf(&b, "%s:\n", ns)
				for _, name := range store.Names(ns) {
					fmt.Fprintf(&b, "  %s\n", name)
				}
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), b.String())
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "fixture directory (default: configured or embedded fixtures)")
	return cmd
}
