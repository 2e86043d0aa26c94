package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TrustGate/internal/domain/models"
	domrepo "TrustGate/internal/domain/repository"
	mid "TrustGate/internal/middleware"
	applogger "TrustGate/pkg/logger"
	"TrustGate/pkg/util"
)

type Mode string

const (
	ModeHistorical Mode = "historical"
	ModeRealtime   Mode = "realtime"
)

// ClockMode selects what "now" means for hypothesis evaluation.
type ClockMode string

const (
	// ClockWall samples the local clock.
	ClockWall ClockMode = "wall"
	// ClockEvent uses the current event time so replays reproduce no-decision windows.
	ClockEvent ClockMode = "event"
)

// GateRunner is the single consumer of the event queue. Every call into the
// gate pipeline happens on the Run goroutine, so per-event updates and stall
// checks never interleave.
type GateRunner struct {
	mode     Mode
	symbol   string
	pipeline *GatePipeline
	queue    *mid.EventQueue
	sources  []domrepo.EventSource
	recorder domrepo.Recorder
	snaps    domrepo.SnapshotStore
	metrics  domrepo.Metrics
	log      *applogger.Logger
	stats    *RunStats
	recent   *TransitionLog

	clock         func() time.Time
	clockMode     ClockMode
	stallInterval time.Duration
	stallOnEvent  bool
	runDuration   time.Duration
	onReady       []func()

	lastEventTS float64
}

type RunnerOption func(*GateRunner)

func WithMode(m Mode) RunnerOption {
	return func(r *GateRunner) { r.mode = m }
}

func WithSymbol(symbol string) RunnerOption {
	return func(r *GateRunner) { r.symbol = symbol }
}

func WithSources(srcs ...domrepo.EventSource) RunnerOption {
	return func(r *GateRunner) { r.sources = append(r.sources, srcs...) }
}

func WithClock(clock func() time.Time) RunnerOption {
	return func(r *GateRunner) {
		if clock != nil {
			r.clock = clock
		}
	}
}

func WithClockMode(m ClockMode) RunnerOption {
	return func(r *GateRunner) {
		if m != "" {
			r.clockMode = m
		}
	}
}

// WithStallCheck runs stall detection every interval and, when onEvent is
// set, after every event as well. A zero interval disables the ticker.
func WithStallCheck(interval time.Duration, onEvent bool) RunnerOption {
	return func(r *GateRunner) {
		r.stallInterval = interval
		r.stallOnEvent = onEvent
	}
}

// WithRunDuration bounds the run; zero runs until the sources are exhausted
// or the context is cancelled.
func WithRunDuration(d time.Duration) RunnerOption {
	return func(r *GateRunner) { r.runDuration = d }
}

// WithReadyHook runs fn once every source is attached, before the first
// event is consumed. Push-based sources start delivering from here.
func WithReadyHook(fn func()) RunnerOption {
	return func(r *GateRunner) {
		if fn != nil {
			r.onReady = append(r.onReady, fn)
		}
	}
}

func WithTransitionLog(l *TransitionLog) RunnerOption {
	return func(r *GateRunner) {
		if l != nil {
			r.recent = l
		}
	}
}

func NewGateRunner(
	pipeline *GatePipeline,
	queue *mid.EventQueue,
	recorder domrepo.Recorder,
	snaps domrepo.SnapshotStore,
	metrics domrepo.Metrics,
	log *applogger.Logger,
	stats *RunStats,
	opts ...RunnerOption,
) *GateRunner {
	r := &GateRunner{
		mode:      ModeHistorical,
		pipeline:  pipeline,
		queue:     queue,
		recorder:  recorder,
		snaps:     snaps,
		metrics:   metrics,
		log:       log,
		stats:     stats,
		recent:    NewTransitionLog(0),
		clock:     time.Now,
		clockMode: ClockWall,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *GateRunner) Mode() Mode { return r.mode }

func (r *GateRunner) Symbol() string { return r.symbol }

// Summary returns the live run counters.
func (r *GateRunner) Summary() models.RunSummary { return r.stats.Summary() }

// RecentTransitions returns up to limit of the latest trust transitions.
func (r *GateRunner) RecentTransitions(limit int) []models.StateTransition {
	return r.recent.Recent(limit)
}

// Run drains the queue until every source is exhausted, the run duration
// elapses or ctx is cancelled.
func (r *GateRunner) Run(ctx context.Context) error {
	if r.runDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.runDuration)
		defer cancel()
	}

	r.stats.Start(r.clock())
	defer func() {
		r.stats.SetFilesProcessed(r.filesProcessed())
		r.stats.Finish(r.clock())
	}()

	for _, src := range r.sources {
		if err := r.queue.Attach(ctx, src); err != nil {
			return fmt.Errorf("attach %s: %w", src.Name(), err)
		}
		r.log.Info("source attached", applogger.String("source", src.Name()))
	}
	r.queue.Seal()
	for _, fn := range r.onReady {
		fn()
	}

	var tick <-chan time.Time
	if r.stallInterval > 0 {
		ticker := time.NewTicker(r.stallInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	r.log.Info("gate runner started",
		applogger.String("mode", string(r.mode)),
		applogger.String("symbol", r.symbol),
		applogger.String("clock", string(r.clockMode)),
		applogger.Float64("allowed_lateness_sec", r.pipeline.AllowedLateness()),
	)
	r.publish(ctx, util.UnixSeconds(r.clock()))

	events := r.queue.Events()
	errs := r.queue.Errors()
	for {
		select {
		case <-ctx.Done():
			r.drainErrors(errs)
			r.logStop("context done")
			return nil
		case ev, ok := <-events:
			if !ok {
				r.drainErrors(errs)
				r.logStop("sources exhausted")
				return nil
			}
			r.handleEvent(ctx, ev)
		case err := <-errs:
			r.fail("ingest", err)
		case <-tick:
			r.handleTick(ctx)
		}
	}
}

func (r *GateRunner) handleEvent(ctx context.Context, ev *models.Event) {
	start := time.Now()
	r.stats.AddEvent(ev.Stream)

	wall := util.UnixSeconds(r.clock())
	now := wall
	if r.clockMode == ClockEvent {
		now = ev.EventTime
	}

	v := r.pipeline.Process(ev, now)
	r.lastEventTS = ev.EventTime
	r.metrics.RecordEvent(ev.Stream, v.Sanitize.Classification)
	if price, ok := r.pipeline.LastPrice(ev.Stream); ok {
		r.metrics.RecordLastPrice(ev.Stream, price)
	}
	if v.Sanitize.Trigger != models.TriggerNone {
		r.log.Debug("sanitizer flagged event",
			applogger.String("stream", ev.Stream),
			applogger.String("classification", v.Sanitize.Classification.String()),
			applogger.String("trigger", v.Sanitize.Trigger.String()),
			applogger.Float64("event_time", ev.EventTime),
		)
	}

	r.recordDecision(ctx, v)
	r.recordTransitions(ctx, v.Transitions)

	if r.stallOnEvent {
		_, trs := r.pipeline.DetectStall(wall)
		r.recordTransitions(ctx, trs)
	}

	r.publish(ctx, now)
	r.metrics.RecordLatency("gate_event", time.Since(start).Seconds())
}

func (r *GateRunner) handleTick(ctx context.Context) {
	wall := util.UnixSeconds(r.clock())
	_, trs := r.pipeline.DetectStall(wall)
	r.recordTransitions(ctx, trs)

	now := wall
	if r.clockMode == ClockEvent {
		now = r.lastEventTS
	}
	r.publish(ctx, now)
}

func (r *GateRunner) recordDecision(ctx context.Context, v *models.Verdict) {
	r.stats.AddDecision()
	r.metrics.RecordDecision(v.Decision)
	if err := r.recorder.RecordDecision(ctx, v.Record(r.mode == ModeHistorical)); err != nil {
		r.fail("record_decision", err)
	}
}

func (r *GateRunner) recordTransitions(ctx context.Context, trs []models.StateTransition) {
	if len(trs) == 0 {
		return
	}
	r.stats.AddTransitions(len(trs))
	r.recent.Add(trs...)
	for _, tr := range trs {
		r.metrics.RecordTransition(tr.Trigger)
		r.log.Warn("trust escalated",
			applogger.String("trigger", tr.Trigger.String()),
			applogger.String("previous_trust", tr.PreviousTrust.String()),
			applogger.String("current_trust", tr.CurrentTrust.String()),
			applogger.Any("details", tr.Details),
		)
	}
	if err := r.recorder.RecordTransitions(ctx, trs); err != nil {
		r.fail("record_transition", err)
	}
}

func (r *GateRunner) publish(ctx context.Context, now float64) {
	trust, hyp, dec := r.pipeline.Evaluate(now)
	r.metrics.RecordGateState(trust, hyp)
	snap := &models.GateSnapshot{
		Symbol:          r.symbol,
		DataTrust:       trust,
		Hypothesis:      hyp,
		Decision:        dec,
		NoDecisionUntil: r.pipeline.NoDecisionUntil(),
		LastEventTS:     r.lastEventTS,
		UpdatedAt:       r.clock(),
	}
	if err := r.snaps.Put(ctx, snap); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return
		}
		r.fail("snapshot", err)
	}
}

func (r *GateRunner) fail(kind string, err error) {
	r.stats.AddError(err)
	r.metrics.RecordError(kind)
	r.log.Error("gate runner error", applogger.String("kind", kind), applogger.Error(err))
}

func (r *GateRunner) drainErrors(errs <-chan error) {
	for {
		select {
		case err := <-errs:
			r.fail("ingest", err)
		default:
			return
		}
	}
}

func (r *GateRunner) filesProcessed() int {
	n := 0
	for _, src := range r.sources {
		if fc, ok := src.(interface{ FilesProcessed() int }); ok {
			n += fc.FilesProcessed()
		}
	}
	return n
}

func (r *GateRunner) logStop(reason string) {
	s := r.stats.Summary()
	r.log.Info("gate runner stopped",
		applogger.String("reason", reason),
		applogger.Int64("events", s.Events),
		applogger.Int64("decisions", s.Decisions),
		applogger.Int64("transitions", s.Transitions),
		applogger.Int64("errors", s.Errors),
	)
}
