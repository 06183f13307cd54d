package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sorsalabs/cryptoscout/internal/cache"
	"github.com/sorsalabs/cryptoscout/internal/config"
	"github.com/sorsalabs/cryptoscout/internal/export"
	"github.com/sorsalabs/cryptoscout/internal/graph"
	"github.com/sorsalabs/cryptoscout/internal/metrics"
	"github.com/sorsalabs/cryptoscout/internal/pipeline"
	"github.com/sorsalabs/cryptoscout/internal/scheduler"
	"github.com/sorsalabs/cryptoscout/internal/store"
)

// app bundles the wired collaborators for a command's lifetime.
type app struct {
	cfg      *config.Config
	store    *store.PostgresStore
	profiles *cache.ProfileCache
	registry *metrics.Registry
	pipe     *pipeline.Pipeline
}

func buildApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pg, err := store.NewPostgresStore(ctx, cfg.Postgres.DSN, 10*time.Second)
	if err != nil {
		return nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, err
	}

	client, err := graph.NewClient(cfg.API)
	if err != nil {
		pg.Close()
		return nil, err
	}

	profiles := cache.New(cfg.Redis)
	registry := metrics.NewRegistry()

	exporters := []export.Exporter{
		export.NewCSVExporter(cfg.Export.CSVDir, nil),
	}
	if cfg.Export.SheetsSpreadsheetID != "" && cfg.Export.SheetsToken != "" {
		exporters = append(exporters, export.NewSheetsExporter(
			cfg.Export.SheetsSpreadsheetID, cfg.Export.SheetsRange, cfg.Export.SheetsToken))
	}

	pipe := pipeline.New(cfg, client, pg, export.NewMultiExporter(exporters...), pipeline.Options{
		ProfileCache: profiles,
		Metrics:      registry,
	})

	return &app{cfg: cfg, store: pg, profiles: profiles, registry: registry, pipe: pipe}, nil
}

func (a *app) close() {
	if a.profiles != nil {
		a.profiles.Close()
	}
	a.store.Close()
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if days, _ := cmd.Flags().GetInt("lookback-days"); days > 0 {
		a.cfg.LookbackDays = days
	}
	if threshold, _ := cmd.Flags().GetInt("threshold"); threshold > 0 {
		a.cfg.ScoreThreshold = threshold
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := a.pipe.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s finished: %d power users (%d skipped), %d discovered, %d qualified, %d exported\n",
		report.RunID, report.PowerUsersProcessed, report.PowerUsersSkipped,
		report.UniqueAccounts, report.Qualified, report.Exported)
	return nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	spec := a.cfg.CronSpec
	if override, _ := cmd.Flags().GetString("cron"); override != "" {
		spec = override
	}

	sched, err := scheduler.New(a.pipe, spec, a.cfg.RunBudget)
	if err != nil {
		return err
	}

	srv := metrics.NewServer(a.cfg.MetricsAddr, a.registry, map[string]metrics.Pinger{
		"postgres": a.store,
		"redis":    redisPinger(a.profiles),
	})
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runTop(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	minScore, _ := cmd.Flags().GetInt("min-score")
	limit, _ := cmd.Flags().GetInt("limit")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	records, err := a.store.TopDiscoveries(ctx, minScore, limit)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No stored discoveries at or above the score threshold.")
		return nil
	}

	fmt.Printf("%-24s %6s %9s %8s  %s\n", "HANDLE", "SCORE", "FOLLOWERS", "AGE(WK)", "FIRST SEEN")
	for _, rec := range records {
		fmt.Printf("@%-23s %6d %9d %8d  %s\n",
			rec.DisplayHandle, rec.Score, rec.FollowersCount, rec.AgeWeeks,
			rec.FirstSeenAt.Format("2006-01-02"))
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	srv := metrics.NewServer(a.cfg.MetricsAddr, a.registry, map[string]metrics.Pinger{
		"postgres": a.store,
		"redis":    redisPinger(a.profiles),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	return srv.Start()
}

// redisPinger keeps a typed-nil *ProfileCache from masquerading as a live
// Pinger in the health map.
func redisPinger(c *cache.ProfileCache) metrics.Pinger {
	if c == nil {
		return nil
	}
	return c
}
