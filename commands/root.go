// Package commands implements the listingwatch command-line interface.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"listingwatch/config"
	"listingwatch/utils"
)

var (
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "listingwatch",
		Short: "Track real-estate listings and record how they change",
		Long: `listingwatch ingests listings from a marketplace watchlist or arbitrary
listing pages, keeps snapshots of every observation, archives listing photos
and records price, status, description and image changes.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(runCommand())
	rootCmd.AddCommand(importCommand())
	rootCmd.AddCommand(scheduleCommand())
	rootCmd.AddCommand(searchCommand())
	rootCmd.AddCommand(historyCommand())
	rootCmd.AddCommand(changesCommand())
}

// loadConfig reads the environment and builds the logger every command uses.
func loadConfig() (*config.Config, *utils.Logger) {
	cfg := config.Load()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, utils.NewLogger(cfg.LogLevel)
}
