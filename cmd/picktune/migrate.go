package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/picktune/internal/config"
	"github.com/banshee-data/picktune/internal/store"
)

func newMigrateCommand(o *rootOptions) *cobra.Command {
	var path string
	open := func() (*store.DB, error) {
		if path == "" {
			cfg, err := config.Load(o.ConfigPath, o.EnvFile)
			if err != nil {
				return nil, err
			}
			path = cfg.GetStorePath()
		}
		return store.OpenWithoutMigrations(path)
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the run store schema",
	}
	cmd.PersistentFlags().StringVar(&path, "store", "", "Run store path; defaults to store_path of the configuration.")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			return db.MigrateUp(store.Migrations())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			return db.MigrateDown(store.Migrations())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied and latest schema versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			v, dirty, err := db.MigrateVersion(store.Migrations())
			if err != nil {
				return err
			}
			latest, err := store.LatestVersion(store.Migrations())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (latest %d, dirty %v)\n", v, latest, dirty)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			return db.MigrateForce(store.Migrations(), v)
		},
	})
	return cmd
}
