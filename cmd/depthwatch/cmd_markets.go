package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/depthwatch/depthwatch/internal/orchestrator"
)

func newMarketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "markets",
		Short: "Fetch and store the market catalog of each venue",
		RunE:  runMarkets,
	}
	addExchangeFlag(cmd.Flags())
	return cmd
}

func runMarkets(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	venues, err := resolveVenues(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, venues)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	orch, err := orchestrator.New(ctx, st, cfg, venues)
	if err != nil {
		return err
	}
	if err := orch.GetMarkets(ctx); err != nil {
		return err
	}
	log.Info().Strs("venues", venues).Msg("market catalogs stored")
	return nil
}
