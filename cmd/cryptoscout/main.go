package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "CryptoScout"
	version = "v1.0.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "cryptoscout",
		Short:   "Early-stage crypto account discovery from power-user follow graphs",
		Version: version,
		Long: `CryptoScout watches the follow activity of curated power users, scores
newly followed accounts by early-stage signals (follower count, account age,
bio keywords, community links, cross references) and exports each qualifying
account exactly once.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level, _ := cmd.Flags().GetString("log-level")
			setupLogging(level)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace|debug|info|warn|error)")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one discovery pass",
		Long:  "Fetch recent follows for every configured power user, score and export new qualifying accounts. Exits non-zero when the run aborts.",
		RunE:  runScan,
	}
	scanCmd.Flags().Int("lookback-days", 0, "Override lookback window in days")
	scanCmd.Flags().Int("threshold", 0, "Override score threshold")

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run discovery on a cron schedule",
		Long:  "Start the scheduler daemon with the metrics/health endpoint. Runs until interrupted.",
		RunE:  runSchedule,
	}
	scheduleCmd.Flags().String("cron", "", "Override cron spec (default from config)")

	topCmd := &cobra.Command{
		Use:   "top",
		Short: "List stored discoveries by score",
		RunE:  runTop,
	}
	topCmd.Flags().Int("min-score", 200, "Minimum stored score")
	topCmd.Flags().Int("limit", 25, "Maximum rows to print")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve metrics and health endpoints only",
		RunE:  runServe,
	}

	rootCmd.AddCommand(scanCmd, scheduleCmd, topCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	// Pretty console output on a TTY, JSON otherwise (cron/container logs).
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
