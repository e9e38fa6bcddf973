package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/parapetdev/parapet/internal/config"
	"github.com/parapetdev/parapet/internal/logging"
	"github.com/parapetdev/parapet/internal/notify"
	"github.com/parapetdev/parapet/internal/registry"
	"github.com/parapetdev/parapet/internal/timeseries"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "parapet",
	Short:   "Parapet - firewall fleet telemetry and alerting collector",
	Long:    `Parapet polls managed firewalls for throughput, sessions, threats and connected endpoints, stores the series in TimescaleDB, evaluates alert rules and runs scheduled network scans.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Parapet %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var initSchemaCmd = &cobra.Command{
	Use:   "init-schema",
	Short: "Install or update the time-series schema and exit",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		store, err := timeseries.New(ctx, cfg.DatabaseURL, len(cfg.Devices))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to the time-series store")
		}
		defer store.Close()

		if err := store.InstallSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("Schema installation failed")
		}
		log.Info().Msg("Schema installed")
	},
}

var migrateIDsCmd = &cobra.Command{
	Use:   "migrate-device-ids",
	Short: "Rewrite legacy device ids to their deterministic form",
	Long:  `Creates a timestamped backup of the device configuration, then rewrites every legacy random device id to its deterministic UUIDv5 form across the configuration and all time-series tables. Any failure leaves the backup in place and exits non-zero.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		store, err := timeseries.New(ctx, cfg.DatabaseURL, len(cfg.Devices))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to the time-series store")
		}
		defer store.Close()

		persistence := config.NewPersistence(cfg.DataPath)
		result, err := registry.MigrateDeviceIDs(ctx, persistence, store)
		if err != nil {
			log.Fatal().Err(err).Msg("Device id migration failed")
		}
		if len(result.Renamed) == 0 {
			log.Info().Msg("All device ids are already deterministic")
			return
		}
		for oldID, newID := range result.Renamed {
			log.Info().Str("old", oldID).Str("new", newID).Msg("Device id rewritten")
		}
		log.Info().Str("backup", result.BackupPath).Msg("Migration complete")
	},
}

var testChannelCmd = &cobra.Command{
	Use:   "test-channel <channel-id>",
	Short: "Send a test notification through one configured channel",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		persistence := config.NewPersistence(cfg.DataPath)
		snap, err := persistence.LoadSnapshot()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration snapshot")
		}

		dispatcher := notify.NewDispatcher()
		dispatcher.SetChannels(snap.Channels)

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		result := dispatcher.Test(ctx, args[0])
		if !result.OK {
			log.Fatal().Str("channel", args[0]).Str("error", result.Error).Msg("Test delivery failed")
		}
		log.Info().Str("channel", args[0]).Int("attempts", result.Attempts).Msg("Test delivery succeeded")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initSchemaCmd)
	rootCmd.AddCommand(migrateIDsCmd)
	rootCmd.AddCommand(testChannelCmd)
}

// mustLoadConfig initializes baseline logging and loads configuration, for
// the one-shot subcommands.
func mustLoadConfig() *config.Config {
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "parapet"})
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("PARAPET_DB_URL is not set")
	}
	return cfg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
