package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/depthwatch/depthwatch/internal/prices"
)

func newFetchPricesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch-prices",
		Short: "Update the USD price of every known coin",
		RunE:  runFetchPrices,
	}
	addExchangeFlag(cmd.Flags())
	cmd.Flags().Bool("norm-volumes", false, "Also recompute USD volumes of the targeted venues' markets")
	return cmd
}

func runFetchPrices(cmd *cobra.Command, _ []string) error {
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

	cache, err := prices.NewCache(cfg.RedisURL)
	if err != nil {
		return err
	}
	client := prices.NewClient(cfg.PriceAPI, cache)
	if err := prices.UpdateCoinPrices(ctx, client, st); err != nil {
		return err
	}

	if norm, _ := cmd.Flags().GetBool("norm-volumes"); norm {
		if err := prices.NormalizeVolumes(ctx, st, venues); err != nil {
			return err
		}
	}
	log.Info().Msg("prices updated")
	return nil
}
