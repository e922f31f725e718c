package main

import (
	"fmt"

	"PPresence/data/database"
	"PPresence/global"

	"github.com/spf13/cobra"
)

func buildMigrateCmd(flags *rootFlags) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list {
				names, err := database.Migrations()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			global.ConfigLogger(cfg)
			db, err := global.ConfigPostgres(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := database.Migrate(cmd.Context(), db)
			for _, n := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", n)
			}
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "print the embedded migrations and exit")
	return cmd
}
