package main

import (
	"fmt"

	"github.com/arxiv/arxiv-auth/legacy"
	"github.com/spf13/cobra"
)

func newLegacyCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "legacy",
		Short: "Classic database maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init-schema",
		Short: "Create the classic session and user tables in CLASSIC_DATABASE_URI",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.read()
			if err != nil {
				return err
			}
			if cfg.Classic.DatabaseURI == "" {
				return fmt.Errorf("CLASSIC_DATABASE_URI is not set")
			}
			db, dialect, err := legacy.Open(cfg.Classic.DatabaseURI)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := legacy.CreateSchema(cmd.Context(), db, dialect); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema created")
			return nil
		},
	})
	return cmd
}
