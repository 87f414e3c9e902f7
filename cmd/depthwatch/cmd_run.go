package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/depthwatch/depthwatch/internal/metrics"
	"github.com/depthwatch/depthwatch/internal/orchestrator"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream venue events into the database",
		Long:  "Runs one listener per venue, batching parsed events into store commits until interrupted.",
		RunE:  runRun,
	}
	addExchangeFlag(cmd.Flags())
	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

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

	var metricsSrv *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.NewServer(cfg.MetricsAddr, metrics.Default())
		metricsSrv.Start()
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		log.Info().Str("signal", sig.String()).Msg("shutdown requested")
		orch.Stop()
		cancel()
	}()

	err = orch.Start(ctx)

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if serr := metricsSrv.Shutdown(shutdownCtx); serr != nil {
			log.Warn().Err(serr).Msg("metrics server shutdown failed")
		}
	}
	return err
}
