package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/depthwatch/depthwatch/internal/snapshot"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Generate order book snapshots from recorded history",
		Long: `Walks each market's aggregate order history at one-second intervals and
stores a statistical snapshot per instant. Rerunning over the same range
overwrites existing snapshots.`,
		RunE: runSnapshot,
	}
	addExchangeFlag(cmd.Flags())
	cmd.Flags().String("stop-time", "", "Generate up to this RFC3339 instant (default: now)")
	return cmd
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	// An interrupt stops the walk; snapshots built so far are committed.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	venues, err := resolveVenues(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, venues)
	if err != nil {
		return err
	}

	stopTime := time.Now().UTC()
	if raw, _ := cmd.Flags().GetString("stop-time"); raw != "" {
		stopTime, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return err
		}
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := snapshot.New(st).Run(ctx, venues, stopTime); err != nil {
		return err
	}
	log.Info().Time("stop", stopTime).Msg("snapshot generation finished")
	return nil
}
