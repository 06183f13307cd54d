// Package pipeline orchestrates one discovery run: fetch follow events for
// every power user, aggregate cross references, score unique accounts,
// filter against the threshold and the store, persist, then export.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sorsalabs/cryptoscout/internal/cache"
	"github.com/sorsalabs/cryptoscout/internal/config"
	"github.com/sorsalabs/cryptoscout/internal/export"
	"github.com/sorsalabs/cryptoscout/internal/graph"
	"github.com/sorsalabs/cryptoscout/internal/metrics"
	"github.com/sorsalabs/cryptoscout/internal/scoring"
	"github.com/sorsalabs/cryptoscout/internal/signals"
	"github.com/sorsalabs/cryptoscout/internal/store"
)

// State names the pipeline's position in a run.
type State string

const (
	StateIdle            State = "idle"
	StateFetchingFollows State = "fetching_follows"
	StateAggregating     State = "aggregating"
	StateScoring         State = "scoring"
	StateFiltering       State = "filtering"
	StatePersisting      State = "persisting"
	StateExporting       State = "exporting"
	StateDone            State = "done"
	StateAborted         State = "aborted"
)

// GraphAPI is the slice of the graph client the pipeline consumes.
type GraphAPI interface {
	ListNewFollows(ctx context.Context, powerUser string, windowDays int) ([]graph.FollowEvent, error)
	GetProfile(ctx context.Context, handle string) (*graph.Profile, error)
}

// Report is what a completed or aborted run tells the operator.
type Report struct {
	RunID      string
	State      State
	StartedAt  time.Time
	FinishedAt time.Time
	AbortCause string

	PowerUsersProcessed int
	PowerUsersSkipped   int
	FollowEvents        int
	UniqueAccounts      int
	Unreachable         int
	Prefiltered         int
	Duplicates          int
	Qualified           int
	Persisted           int
	Exported            int
	Errors              int
}

// Aborted reports whether the run ended without a consistent export pass.
func (r *Report) Aborted() bool { return r.State == StateAborted }

// Pipeline wires the discovery collaborators into a single unit of work.
type Pipeline struct {
	cfg       *config.Config
	api       GraphAPI
	extractor *signals.Extractor
	scorer    *scoring.Engine
	store     store.DiscoveryStore
	exporter  export.Exporter
	profiles  *cache.ProfileCache
	metrics   *metrics.Registry
	now       func() time.Time
}

// Options carries optional collaborators.
type Options struct {
	ProfileCache *cache.ProfileCache
	Metrics      *metrics.Registry
	Now          func() time.Time
}

// New assembles a pipeline. api, st and exporter are required; opts may be
// zero-valued.
func New(cfg *config.Config, api GraphAPI, st store.DiscoveryStore, exporter export.Exporter, opts Options) *Pipeline {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &Pipeline{
		cfg:       cfg,
		api:       api,
		extractor: signals.NewExtractor(cfg.Keywords, now),
		scorer:    scoring.NewEngine(cfg.Scoring),
		store:     st,
		exporter:  exporter,
		profiles:  opts.ProfileCache,
		metrics:   reg,
		now:       now,
	}
}

// aggregate collects one run's follow events for a single account.
type aggregate struct {
	displayHandle string
	powerUsers    map[string]struct{}
	observedAt    time.Time
}

// candidate is a scored aggregate awaiting filtering.
type candidate struct {
	handle     string // lowercased key
	raw        signals.RawSignals
	refs       []scoring.PowerUserRef
	result     scoring.Result
	observedAt time.Time // earliest follow event in the window
}

// Run executes one full discovery pass. The returned report is always
// non-nil; err is non-nil only when the run aborted.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		State:     StateIdle,
		StartedAt: p.now(),
	}
	logger := log.With().Str("run_id", report.RunID).Logger()

	if err := p.store.AcquireRunLock(ctx); err != nil {
		if errors.Is(err, store.ErrRunInProgress) {
			// Not a failed run, just a rejected trigger; no bookkeeping.
			report.State = StateAborted
			report.AbortCause = err.Error()
			report.FinishedAt = p.now()
			return report, err
		}
		return p.abort(ctx, report, logger, "failed to acquire run lock", err)
	}
	defer func() {
		if err := p.store.ReleaseRunLock(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("Failed to release run lock")
		}
	}()

	if p.cfg.RunBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RunBudget)
		defer cancel()
	}

	p.metrics.ActiveRun.Set(1)
	defer p.metrics.ActiveRun.Set(0)

	logger.Info().
		Int("power_users", len(p.cfg.PowerUsers)).
		Int("lookback_days", p.cfg.LookbackDays).
		Int("threshold", p.cfg.ScoreThreshold).
		Msg("Discovery run starting")

	// FetchingFollows
	report.State = StateFetchingFollows
	events, err := p.fetchFollows(ctx, report, logger)
	if err != nil {
		return p.abort(ctx, report, logger, "fatal fetch failure", err)
	}
	report.FollowEvents = len(events)

	// Aggregating: barrier reached, group events by account.
	report.State = StateAggregating
	aggregates := p.aggregateEvents(events)
	report.UniqueAccounts = len(aggregates)
	p.metrics.AccountsDiscovered.Add(float64(len(aggregates)))
	logger.Info().
		Int("events", len(events)).
		Int("unique_accounts", len(aggregates)).
		Msg("Aggregated follow events")

	// Scoring (profile lookup + signal extraction + score)
	report.State = StateScoring
	candidates, err := p.scoreAggregates(ctx, aggregates, report, logger)
	if err != nil {
		return p.abort(ctx, report, logger, "fatal profile fetch failure", err)
	}

	// Filtering: threshold first, then store novelty.
	report.State = StateFiltering
	qualified, err := p.filterCandidates(ctx, candidates, report, logger)
	if err != nil {
		return p.abort(ctx, report, logger, "store failure during filtering", err)
	}
	report.Qualified = len(qualified)

	// Persisting: every qualifying account is marked seen before any export
	// is attempted, so a crash here can cause a lost export but never a
	// duplicate one.
	report.State = StatePersisting
	if err := p.persist(ctx, qualified, report); err != nil {
		return p.abort(ctx, report, logger, "store failure during persist", err)
	}

	// Exporting: failures are reported, never rolled back.
	report.State = StateExporting
	p.exportBatch(ctx, qualified, report, logger)

	report.State = StateDone
	report.FinishedAt = p.now()
	p.metrics.RunsTotal.WithLabelValues(string(StateDone)).Inc()
	p.recordRun(ctx, report, logger)

	logger.Info().
		Int("processed", report.PowerUsersProcessed).
		Int("skipped", report.PowerUsersSkipped).
		Int("discovered", report.UniqueAccounts).
		Int("qualified", report.Qualified).
		Int("persisted", report.Persisted).
		Int("exported", report.Exported).
		Int("errors", report.Errors).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Discovery run complete")
	return report, nil
}

// fetchFollows walks every power user with a bounded worker pool. Transient
// failures skip that power user; a fatal failure cancels everything.
func (p *Pipeline) fetchFollows(ctx context.Context, report *Report, logger zerolog.Logger) ([]graph.FollowEvent, error) {
	defer p.observeStage(StateFetchingFollows)()

	powerUsers := make([]string, 0, len(p.cfg.PowerUsers))
	for handle := range p.cfg.PowerUsers {
		powerUsers = append(powerUsers, handle)
	}
	sort.Strings(powerUsers)

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		events   []graph.FollowEvent
		fatalErr error
		wg       sync.WaitGroup
	)
	sem := make(chan struct{}, p.cfg.Workers.FetchConcurrency)

	for _, powerUser := range powerUsers {
		if fetchCtx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(powerUser string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-fetchCtx.Done():
				return
			}

			fetched, err := p.api.ListNewFollows(fetchCtx, powerUser, p.cfg.LookbackDays)
			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				events = append(events, fetched...)
				report.PowerUsersProcessed++
				p.metrics.PowerUsersRun.WithLabelValues("processed").Inc()
			case graph.IsFatal(err):
				if fatalErr == nil {
					fatalErr = err
				}
				p.metrics.FetchErrors.WithLabelValues("fatal").Inc()
				cancel()
			case fetchCtx.Err() != nil:
				// Cancelled by the fatal path or the run budget; not a skip.
			default:
				report.PowerUsersSkipped++
				report.Errors++
				p.metrics.PowerUsersRun.WithLabelValues("skipped").Inc()
				p.metrics.FetchErrors.WithLabelValues("transient").Inc()
				logger.Warn().Err(err).Str("power_user", powerUser).Msg("Skipping power user after fetch failure")
			}
		}(powerUser)
	}

	wg.Wait()

	if fatalErr != nil {
		return nil, fatalErr
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run budget exceeded during fetch: %w", err)
	}
	return events, nil
}

// aggregateEvents groups follow events by account handle, counting each
// distinct power user once. The window is event-based: re-follows within
// the window count, older follows never appear.
func (p *Pipeline) aggregateEvents(events []graph.FollowEvent) map[string]*aggregate {
	aggregates := make(map[string]*aggregate)
	for _, ev := range events {
		key := strings.ToLower(ev.Handle)
		agg, ok := aggregates[key]
		if !ok {
			agg = &aggregate{
				displayHandle: ev.Handle,
				powerUsers:    make(map[string]struct{}),
				observedAt:    ev.ObservedAt,
			}
			aggregates[key] = agg
		}
		agg.powerUsers[ev.PowerUser] = struct{}{}
		if !ev.ObservedAt.IsZero() && (agg.observedAt.IsZero() || ev.ObservedAt.Before(agg.observedAt)) {
			agg.observedAt = ev.ObservedAt
		}
	}
	return aggregates
}

// scoreAggregates resolves each unique account's profile and scores it.
// Unreachable profiles are dropped for the run; transient profile failures
// drop the account too and count as errors. Candidates come back sorted by
// handle so downstream ordering is stable.
func (p *Pipeline) scoreAggregates(ctx context.Context, aggregates map[string]*aggregate, report *Report, logger zerolog.Logger) ([]candidate, error) {
	defer p.observeStage(StateScoring)()

	handles := make([]string, 0, len(aggregates))
	for handle := range aggregates {
		handles = append(handles, handle)
	}
	sort.Strings(handles)

	scoreCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu         sync.Mutex
		candidates []candidate
		fatalErr   error
		wg         sync.WaitGroup
	)
	sem := make(chan struct{}, p.cfg.Workers.ProfileConcurrency)

	for _, handle := range handles {
		wg.Add(1)
		go func(handle string, agg *aggregate) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-scoreCtx.Done():
				return
			}

			profile, err := p.lookupProfile(scoreCtx, handle)
			mu.Lock()
			defer mu.Unlock()

			switch {
			case errors.Is(err, graph.ErrProfileNotFound):
				report.Unreachable++
				p.metrics.AccountsDropped.WithLabelValues("unreachable").Inc()
				return
			case graph.IsFatal(err):
				if fatalErr == nil {
					fatalErr = err
				}
				cancel()
				return
			case err != nil:
				if scoreCtx.Err() != nil {
					return
				}
				report.Unreachable++
				report.Errors++
				p.metrics.AccountsDropped.WithLabelValues("unreachable").Inc()
				logger.Warn().Err(err).Str("handle", handle).Msg("Dropping account after profile failure")
				return
			}

			raw := p.extractor.Extract(profile)
			if p.prefiltered(raw) {
				report.Prefiltered++
				p.metrics.AccountsDropped.WithLabelValues("prefiltered").Inc()
				return
			}

			refs := p.crossRefs(agg)
			result := p.scorer.Score(raw, refs)
			logger.Debug().
				Str("handle", handle).
				Str("score", result.Summary()).
				Int("cross_refs", len(refs)).
				Msg("Scored account")

			candidates = append(candidates, candidate{
				handle:     handle,
				raw:        raw,
				refs:       refs,
				result:     result,
				observedAt: agg.observedAt,
			})
		}(handle, aggregates[handle])
	}

	wg.Wait()

	if fatalErr != nil {
		return nil, fatalErr
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run budget exceeded during scoring: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].handle < candidates[j].handle
	})
	return candidates, nil
}

func (p *Pipeline) lookupProfile(ctx context.Context, handle string) (*graph.Profile, error) {
	if profile, ok := p.profiles.Get(ctx, handle); ok {
		return profile, nil
	}
	profile, err := p.api.GetProfile(ctx, handle)
	if err != nil {
		return nil, err
	}
	p.profiles.Set(ctx, handle, profile)
	return profile, nil
}

// prefiltered drops accounts that cannot be early-stage: too many followers
// or too old. Zero config values disable the respective filter.
func (p *Pipeline) prefiltered(raw signals.RawSignals) bool {
	if p.cfg.Prefilter.MaxFollowers > 0 && raw.FollowersCount > p.cfg.Prefilter.MaxFollowers {
		return true
	}
	if p.cfg.Prefilter.MaxAgeWeeks > 0 && raw.AgeWeeks > p.cfg.Prefilter.MaxAgeWeeks {
		return true
	}
	return false
}

func (p *Pipeline) crossRefs(agg *aggregate) []scoring.PowerUserRef {
	refs := make([]scoring.PowerUserRef, 0, len(agg.powerUsers))
	for powerUser := range agg.powerUsers {
		refs = append(refs, scoring.PowerUserRef{
			Handle: powerUser,
			Weight: p.cfg.PowerUserWeight(powerUser),
		})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Handle < refs[j].Handle })
	return refs
}

// filterCandidates keeps accounts at or above the threshold that the store
// has never seen. Store errors abort: exporting without durable dedupe
// risks duplicate exports on later runs.
func (p *Pipeline) filterCandidates(ctx context.Context, candidates []candidate, report *Report, logger zerolog.Logger) ([]candidate, error) {
	defer p.observeStage(StateFiltering)()

	var qualified []candidate
	for _, cand := range candidates {
		if cand.result.Total < p.cfg.ScoreThreshold {
			continue
		}
		isNew, err := p.store.IsNew(ctx, cand.handle)
		if err != nil {
			return nil, err
		}
		if !isNew {
			report.Duplicates++
			p.metrics.AccountsDropped.WithLabelValues("duplicate").Inc()
			continue
		}
		logger.Info().
			Str("handle", cand.raw.Handle).
			Int("score", cand.result.Total).
			Int("cross_refs", len(cand.refs)).
			Msg("New qualifying account")
		qualified = append(qualified, cand)
	}
	return qualified, nil
}

func (p *Pipeline) persist(ctx context.Context, qualified []candidate, report *Report) error {
	defer p.observeStage(StatePersisting)()

	now := p.now()
	for _, cand := range qualified {
		rec := store.Record{
			Handle:         cand.handle,
			DisplayHandle:  cand.raw.Handle,
			Name:           cand.raw.Name,
			Bio:            cand.raw.Bio,
			FollowersCount: cand.raw.FollowersCount,
			AgeWeeks:       cand.raw.AgeWeeks,
			Score:          cand.result.Total,
			FollowerPoints: cand.result.FollowerPoints,
			AgePoints:      cand.result.AgePoints,
			KeywordPoints:  cand.result.KeywordPoints,
			LinkPoints:     cand.result.LinkPoints,
			CrossRefPoints: cand.result.CrossRefPoints,
			PowerUsers:     refHandles(cand.refs),
			Keywords:       cand.raw.Keywords,
			Verified:       cand.raw.Verified,
			Protected:      cand.raw.Protected,
			FirstSeenAt:    now,
			LastUpdatedAt:  now,
		}
		if err := p.store.Upsert(ctx, rec); err != nil {
			return err
		}
		report.Persisted++
		p.metrics.AccountsPersisted.Inc()
	}
	return nil
}

func (p *Pipeline) exportBatch(ctx context.Context, qualified []candidate, report *Report, logger zerolog.Logger) {
	defer p.observeStage(StateExporting)()

	if len(qualified) == 0 {
		logger.Info().Msg("No new qualifying accounts to export")
		return
	}

	rows := make([]export.Row, 0, len(qualified))
	for _, cand := range qualified {
		discoveredAt := cand.observedAt
		if discoveredAt.IsZero() {
			discoveredAt = p.now()
		}
		rows = append(rows, export.Row{
			Handle:         cand.raw.Handle,
			Name:           cand.raw.Name,
			Score:          cand.result.Total,
			ScoreBreakdown: cand.result.Summary(),
			FollowersCount: cand.raw.FollowersCount,
			Bio:            cand.raw.Bio,
			PowerUsers:     refHandles(cand.refs),
			Keywords:       cand.raw.Keywords,
			AgeWeeks:       cand.raw.AgeWeeks,
			DiscoveredAt:   discoveredAt,
		})
	}

	if err := p.exporter.Export(ctx, rows); err != nil {
		// Accounts stay marked seen; they will not be re-exported later.
		report.Errors++
		logger.Error().Err(err).Int("rows", len(rows)).Msg("Export failed; affected accounts remain marked seen")
		return
	}
	report.Exported = len(rows)
	p.metrics.AccountsExported.Add(float64(len(rows)))
}

// abort finalizes a failed run: no partial export, cause recorded.
func (p *Pipeline) abort(ctx context.Context, report *Report, logger zerolog.Logger, cause string, err error) (*Report, error) {
	report.State = StateAborted
	report.AbortCause = fmt.Sprintf("%s: %v", cause, err)
	report.FinishedAt = p.now()
	report.Errors++
	p.metrics.RunsTotal.WithLabelValues(string(StateAborted)).Inc()
	p.recordRun(ctx, report, logger)

	logger.Error().Err(err).Str("cause", cause).Msg("Discovery run aborted")
	return report, fmt.Errorf("run aborted: %s: %w", cause, err)
}

// recordRun persists the run summary; failures only log, the report itself
// is already in hand.
func (p *Pipeline) recordRun(ctx context.Context, report *Report, logger zerolog.Logger) {
	summary := store.RunSummary{
		RunID:               report.RunID,
		StartedAt:           report.StartedAt,
		FinishedAt:          report.FinishedAt,
		State:               string(report.State),
		PowerUsersProcessed: report.PowerUsersProcessed,
		PowerUsersSkipped:   report.PowerUsersSkipped,
		FollowEvents:        report.FollowEvents,
		UniqueAccounts:      report.UniqueAccounts,
		Unreachable:         report.Unreachable,
		Prefiltered:         report.Prefiltered,
		Duplicates:          report.Duplicates,
		Persisted:           report.Persisted,
		Exported:            report.Exported,
		Errors:              report.Errors,
	}
	if err := p.store.RecordRun(context.WithoutCancel(ctx), summary); err != nil {
		logger.Warn().Err(err).Msg("Failed to record run summary")
	}
}

func refHandles(refs []scoring.PowerUserRef) []string {
	handles := make([]string, 0, len(refs))
	for _, ref := range refs {
		handles = append(handles, ref.Handle)
	}
	return handles
}

func (p *Pipeline) observeStage(stage State) func() {
	start := time.Now()
	return func() {
		p.metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}
}
