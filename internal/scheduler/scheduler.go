// Package scheduler triggers discovery runs on a cron schedule. Overlap
// between a scheduled run and a manual one is prevented by the store's run
// lock, not here; the scheduler only spaces triggers out.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/sorsalabs/cryptoscout/internal/pipeline"
	"github.com/sorsalabs/cryptoscout/internal/store"
)

// Runner is the unit of work the scheduler triggers.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Report, error)
}

// Scheduler runs the discovery pipeline on a cron spec.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	spec    string
	budget  time.Duration
	entryID cron.EntryID
}

// New builds a scheduler around the pipeline. budget bounds each triggered
// run's wall clock; zero means no extra bound beyond the pipeline's own.
func New(runner Runner, spec string, budget time.Duration) (*Scheduler, error) {
	if spec == "" {
		return nil, fmt.Errorf("cron spec is required")
	}

	s := &Scheduler{
		cron:   cron.New(),
		runner: runner,
		spec:   spec,
		budget: budget,
	}

	entryID, err := s.cron.AddFunc(spec, s.trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule discovery job: %w", err)
	}
	s.entryID = entryID
	return s, nil
}

func (s *Scheduler) trigger() {
	ctx := context.Background()
	if s.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.budget)
		defer cancel()
	}

	log.Info().Str("schedule", s.spec).Msg("Scheduled discovery run starting")
	start := time.Now()

	report, err := s.runner.Run(ctx)

	switch {
	case errors.Is(err, store.ErrRunInProgress):
		log.Warn().Msg("Scheduled run skipped: another run is in progress")
	case err != nil:
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("Scheduled discovery run aborted")
	default:
		log.Info().
			Str("run_id", report.RunID).
			Int("exported", report.Exported).
			Dur("duration", time.Since(start)).
			Msg("Scheduled discovery run complete")
	}
}

// Start begins cron dispatch and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	log.Info().Str("schedule", s.spec).Time("next_run", s.NextRun()).Msg("Scheduler started")

	<-ctx.Done()

	stopCtx := s.cron.Stop()
	// Let an in-flight run finish before returning.
	<-stopCtx.Done()
	log.Info().Msg("Scheduler stopped")
}

// NextRun reports when the discovery job fires next.
func (s *Scheduler) NextRun() time.Time {
	return s.cron.Entry(s.entryID).Next
}
