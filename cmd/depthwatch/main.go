package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/depthwatch/depthwatch/internal/config"
	"github.com/depthwatch/depthwatch/internal/listener"
	"github.com/depthwatch/depthwatch/internal/store"

	// Venue listeners register themselves at init.
	_ "github.com/depthwatch/depthwatch/internal/listener/binance"
	_ "github.com/depthwatch/depthwatch/internal/listener/hitbtc"
)

const (
	appName = "depthwatch"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = log.Output(os.Stderr)
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Multi-exchange order book and trade recorder",
		Version: version,
		Long: `depthwatch streams order book deltas and trades from cryptocurrency
exchanges into Postgres and derives time-sliced order book statistics
from the recorded history.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file (environment overrides it)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
	}

	rootCmd.AddCommand(
		newInitDBCmd(),
		newRunCmd(),
		newMarketsCmd(),
		newInitDataCmd(),
		newFetchPricesCmd(),
		newSnapshotCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// addExchangeFlag attaches the repeated --exchange flag shared by every
// subcommand that targets venues.
func addExchangeFlag(flags *pflag.FlagSet) {
	flags.StringArray("exchange", nil, "Venue to target (repeatable; defaults to all registered venues)")
}

// resolveVenues reads the --exchange flags, defaulting to every registered
// venue, and rejects names with no registered listener.
func resolveVenues(cmd *cobra.Command) ([]string, error) {
	venues, err := cmd.Flags().GetStringArray("exchange")
	if err != nil {
		return nil, err
	}
	if len(venues) == 0 {
		return listener.Registered(), nil
	}
	registered := make(map[string]bool)
	for _, name := range listener.Registered() {
		registered[name] = true
	}
	for _, name := range venues {
		if !registered[name] {
			return nil, fmt.Errorf("unknown venue %q (registered: %v)", name, listener.Registered())
		}
	}
	return venues, nil
}

// loadConfig resolves configuration for the command's venues from the
// optional --config file and the environment.
func loadConfig(cmd *cobra.Command, venues []string) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path, venues)
	if err != nil {
		return nil, err
	}
	if cfg.DBURL == "" {
		return nil, fmt.Errorf("DB_URL is not set")
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(ctx, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return st, nil
}
