// Package scheduler implements the Adaptive Scheduler (spec.md §4.5): the
// tick loop that selects tracked CRNs, fetches them concurrently through
// the Registrar Client, runs each result through the Transition Detector,
// persists the outcome, hands OPENED/CLOSED transitions to the
// Notification Dispatcher, and computes the next tick's sleep interval
// from the post-tick state of the world.
//
// Grounded on the teacher's internal/monitor.Monitor: a struct holding
// its collaborators plus mutable poll state, a Start(ctx)/poll() split,
// and a ticker-driven loop — adapted here to a variable-interval sleep
// loop since the scheduler's interval is recomputed every tick rather
// than fixed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/reapergt/poller/internal/config"
	"github.com/reapergt/poller/internal/metrics"
	"github.com/reapergt/poller/internal/model"
	"github.com/reapergt/poller/internal/notify"
	"github.com/reapergt/poller/internal/obslog"
	"github.com/reapergt/poller/internal/registrar"
	"github.com/reapergt/poller/internal/store"
	"github.com/reapergt/poller/internal/telemetry"
	"github.com/reapergt/poller/internal/transition"
)

// Summary is the process-surface return value spec.md §6 describes:
// "returns a summary object {runtime_seconds, ticks_completed}".
type Summary struct {
	RuntimeSeconds float64
	TicksCompleted int
}

// TickReport is handed to the tick observer after every completed tick,
// for the ambient ops surfaces (opsfeed, statusfile) spec.md's core loop
// has no opinion about.
type TickReport struct {
	TickID           string
	StartedAt        time.Time
	CompletedAt      time.Time
	CoursesProcessed int
	OpenedCount      int
	ClosedCount      int
	ErrorCount       int
	NextInterval     time.Duration
}

// TransitionReport is handed to the transition observer for every
// detected OPENED/CLOSED/FAILED transition.
type TransitionReport struct {
	CRN            string
	Kind           string
	IsOpen         bool
	SeatsRemaining int
	ObservedAt     time.Time
}

// Scheduler owns the poll loop and its collaborators.
type Scheduler struct {
	store      store.Gateway
	registrar  *registrar.Client
	dispatcher *notify.Dispatcher
	cfg        config.SchedulerConfig
	now        func() time.Time

	onTick       func(TickReport)
	onTransition func(TransitionReport)
}

// New builds a Scheduler from its collaborators and tunables.
func New(s store.Gateway, r *registrar.Client, d *notify.Dispatcher, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:      s,
		registrar:  r,
		dispatcher: d,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SetTickObserver registers fn to be called after every completed tick.
// Used to feed internal/opsfeed and internal/statusfile; nil disables it.
func (s *Scheduler) SetTickObserver(fn func(TickReport)) {
	s.onTick = fn
}

// SetTransitionObserver registers fn to be called for every
// OPENED/CLOSED/FAILED transition detected during a tick. Used to feed
// internal/opsfeed's live operator feed; nil disables it.
func (s *Scheduler) SetTransitionObserver(fn func(TransitionReport)) {
	s.onTransition = fn
}

// Run executes the tick loop until the runtime budget (cfg.MaxRuntime) is
// spent or ctx is canceled, whichever comes first, and returns a summary
// of what it did.
func (s *Scheduler) Run(ctx context.Context) Summary {
	log := obslog.Component("scheduler")
	start := s.now()
	deadline := start.Add(s.cfg.MaxRuntime)
	ticks := 0

loop:
	for {
		if ctx.Err() != nil {
			break
		}
		remaining := deadline.Sub(s.now())
		if remaining <= 0 {
			break
		}

		tickID := obslog.NewTickID()
		tickCtx := obslog.ContextWithTickID(ctx, tickID)

		next := s.runTickSafely(tickCtx)
		ticks++

		remaining = deadline.Sub(s.now())
		if remaining < next {
			log.Info().
				Dur("remaining", remaining).
				Dur("next_interval", next).
				Msg("runtime budget exhausted, stopping")
			break
		}

		log.Debug().Dur("sleep", next).Msg("tick complete, sleeping")
		select {
		case <-ctx.Done():
			break loop
		case <-time.After(next):
		}
	}

	return Summary{
		RuntimeSeconds: s.now().Sub(start).Seconds(),
		TicksCompleted: ticks,
	}
}

// runTickSafely runs one tick, recovering from any panic and converting
// it into a logged, 5s-sleep-and-continue outcome per spec.md's
// "no error escapes the process" rule.
func (s *Scheduler) runTickSafely(ctx context.Context) (next time.Duration) {
	log := obslog.WithTick(ctx)
	tickStart := s.now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("tick panicked, recovering")
			metrics.RecordTickError("recovered")
			next = s.cfg.TickFailureSleep
		}
	}()

	result, err := s.runTick(ctx)
	if err != nil {
		log.Error().Err(err).Msg("tick failed")
		metrics.RecordTickError("aborted")
		next = s.cfg.TickFailureSleep
		s.reportTick(ctx, tickStart, result, next)
		return next
	}

	metrics.RecordTick(s.now().Sub(tickStart), len(result.records))
	metrics.SetTrackedCRNs(len(result.records))

	next = NextInterval(result.records, s.cfg)
	s.reportTick(ctx, tickStart, result, next)
	return next
}

func (s *Scheduler) reportTick(ctx context.Context, tickStart time.Time, result tickResult, next time.Duration) {
	if s.onTick == nil {
		return
	}
	s.onTick(TickReport{
		TickID:           obslog.TickIDFromContext(ctx),
		StartedAt:        tickStart,
		CompletedAt:      s.now(),
		CoursesProcessed: len(result.records),
		OpenedCount:      result.opened,
		ClosedCount:      result.closed,
		ErrorCount:       result.errors,
		NextInterval:     next,
	})
}

// tickResult carries a completed tick's post-tick record set plus the
// transition counts the ops surfaces (opsfeed, statusfile) report.
type tickResult struct {
	records []*model.CrnRecord
	opened  int
	closed  int
	errors  int
}

// runTick performs one full iteration: select -> fetch-all ->
// detect-and-persist-all -> dispatch -> return the post-tick record set
// used to compute the next interval.
func (s *Scheduler) runTick(ctx context.Context) (tickResult, error) {
	ctx, span := telemetry.Tracer("scheduler").Start(ctx, "scheduler.tick")
	defer span.End()

	log := obslog.WithTick(ctx)

	dbStart := s.now()
	active, err := s.store.ScanActiveCRNs(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return tickResult{}, fmt.Errorf("scheduler: scan active crns: %w", err)
	}
	log.Debug().Dur("db_seconds_elapsed", s.now().Sub(dbStart)).Int("count", len(active)).Msg("scanned active crns")

	if len(active) == 0 {
		return tickResult{}, nil
	}

	fetchStart := s.now()
	results := s.fetchAll(ctx, active)
	log.Info().
		Dur("fetch_seconds", s.now().Sub(fetchStart)).
		Int("courses", len(active)).
		Msg("tick fetch phase complete")

	out := tickResult{records: make([]*model.CrnRecord, 0, len(results))}
	for _, res := range results {
		rec, kind := s.processResult(ctx, res)
		if rec != nil {
			out.records = append(out.records, rec)
		}
		switch kind {
		case transition.Opened:
			out.opened++
		case transition.Closed:
			out.closed++
		case transition.Failed:
			out.errors++
		}
	}

	span.SetAttributes(
		attribute.Int("courses_processed", len(out.records)),
		attribute.Int("opened", out.opened),
		attribute.Int("closed", out.closed),
		attribute.Int("errors", out.errors),
	)
	return out, nil
}

type fetchResult struct {
	prev *model.CrnRecord
	obs  *model.Observation
	err  error
}

// fetchAll fetches every active record's registrar page concurrently,
// bounded by FetchConcurrency in-flight requests (spec.md §4.5, §5).
func (s *Scheduler) fetchAll(ctx context.Context, active []*model.CrnRecord) []fetchResult {
	sem := semaphore.NewWeighted(int64(s.cfg.FetchConcurrency))
	results := make([]fetchResult, len(active))

	var wg sync.WaitGroup
	for i, rec := range active {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = fetchResult{prev: rec, err: err}
			continue
		}
		wg.Add(1)
		go func(i int, rec *model.CrnRecord) {
			defer wg.Done()
			defer sem.Release(1)
			fetchStart := s.now()
			obs, err := s.registrar.Fetch(ctx, rec.CRN)
			outcome := "ok"
			if err != nil {
				outcome = fetchOutcome(err)
			}
			metrics.RecordFetch(s.now().Sub(fetchStart), outcome)
			results[i] = fetchResult{prev: rec, obs: obs, err: err}
		}(i, rec)
	}
	wg.Wait()
	return results
}

func fetchOutcome(err error) string {
	var fe *registrar.FetchError
	if errors.As(err, &fe) {
		return string(fe.Kind)
	}
	return "transport"
}

// processResult runs the Transition Detector on one fetch outcome,
// persists the result, and dispatches notifications for OPENED/CLOSED
// transitions. Returns the post-tick record, or the unchanged previous
// record if the store write failed (spec.md §7 store_transient: abort this
// CRN's advance, no notification, next tick re-diffs).
func (s *Scheduler) processResult(ctx context.Context, res fetchResult) (*model.CrnRecord, transition.Kind) {
	log := obslog.WithTick(ctx).With().Str("crn", res.prev.CRN).Logger()

	result := transition.Detect(res.prev, res.obs, res.err, s.now())
	metrics.RecordTransition(string(result.Kind))

	if err := s.store.PutCRN(ctx, result.Record); err != nil {
		log.Warn().Err(err).Msg("store_transient: abandoning this crn's advance for the tick")
		return res.prev, result.Kind
	}

	switch result.Kind {
	case transition.Opened:
		log.Info().Int("seats_remaining", result.Record.SeatsRemaining).Msg("course opened")
		go s.dispatcher.DispatchOpened(context.WithoutCancel(ctx), result.Record)
	case transition.Closed:
		go s.dispatcher.ClearDedupOnClose(context.WithoutCancel(ctx), result.Record)
	}

	if s.onTransition != nil {
		switch result.Kind {
		case transition.Opened, transition.Closed, transition.Failed:
			s.onTransition(TransitionReport{
				CRN:            result.Record.CRN,
				Kind:           string(result.Kind),
				IsOpen:         result.Record.IsOpen,
				SeatsRemaining: result.Record.SeatsRemaining,
				ObservedAt:     s.now(),
			})
		}
	}

	return result.Record, result.Kind
}

// NextInterval is the pure interval selector from spec.md §4.5: evaluate
// the post-tick record set in priority order, first match wins.
func NextInterval(records []*model.CrnRecord, cfg config.SchedulerConfig) time.Duration {
	if len(records) == 0 {
		return cfg.BaseInterval
	}

	var anyRecentlyChanged, anyOpen bool
	var closedHighDemand, closedColdBySchedule int

	for _, r := range records {
		if r == nil {
			continue
		}
		if r.ConsecutiveClosedCheck <= cfg.RecentlyChangedThreshold {
			anyRecentlyChanged = true
		}
		if r.IsOpen {
			anyOpen = true
			continue
		}
		if len(r.TrackingUsers) >= 3 {
			closedHighDemand++
		}
		if r.ConsecutiveClosedCheck >= 15 {
			closedColdBySchedule++
		}
	}

	switch {
	case anyRecentlyChanged:
		return cfg.FastInterval
	case anyOpen:
		return cfg.OpenCourseInterval
	case closedHighDemand > closedColdBySchedule:
		return cfg.BaseInterval
	default:
		return cfg.SlowInterval
	}
}
