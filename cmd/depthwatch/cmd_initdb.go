package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newInitDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-db",
		Short: "Create the database schema and load seed data",
		Long:  "Creates all tables and indexes if absent and seeds the known coins and exchanges. Safe to rerun.",
		RunE:  runInitDB,
	}
	return cmd
}

func runInitDB(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	if err := st.LoadFixtures(ctx); err != nil {
		return err
	}
	log.Info().Msg("database initialized")
	return nil
}
