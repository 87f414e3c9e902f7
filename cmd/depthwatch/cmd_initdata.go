package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/depthwatch/depthwatch/internal/orchestrator"
	"github.com/depthwatch/depthwatch/internal/prices"
)

func newInitDataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-data",
		Short: "Seed markets, prices, and USD volumes in one pass",
		Long:  "Fetches each venue's market catalog, updates coin USD prices, and normalizes market volumes to USD.",
		RunE:  runInitData,
	}
	addExchangeFlag(cmd.Flags())
	return cmd
}

func runInitData(cmd *cobra.Command, _ []string) error {
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

	cache, err := prices.NewCache(cfg.RedisURL)
	if err != nil {
		return err
	}
	client := prices.NewClient(cfg.PriceAPI, cache)
	if err := prices.UpdateCoinPrices(ctx, client, st); err != nil {
		return err
	}
	if err := prices.NormalizeVolumes(ctx, st, venues); err != nil {
		return err
	}
	log.Info().Strs("venues", venues).Msg("initial data loaded")
	return nil
}
