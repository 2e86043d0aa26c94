package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TrustGate/internal/domain/models"
	mid "TrustGate/internal/middleware"
	"TrustGate/internal/services/hypothesis"
	"TrustGate/internal/services/sanitizer"
	"TrustGate/internal/services/trust"
	applogger "TrustGate/pkg/logger"
)

func fixedClock(sec int64) func() time.Time {
	t := time.Unix(sec, 0)
	return func() time.Time { return t }
}

func ev(stream string, eventTime, receiveTime float64, payload map[string]any) *models.Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return &models.Event{Stream: stream, EventTime: eventTime, ReceiveTime: receiveTime, Payload: payload}
}

type runnerFixture struct {
	runner   *GateRunner
	recorder *memRecorder
	snaps    *memSnapshots
	metrics  *countingMetrics
}

func newFixture(t *testing.T, opts ...RunnerOption) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		recorder: &memRecorder{},
		snaps:    newMemSnapshots(),
		metrics:  newCountingMetrics(),
	}
	pipeline := NewGatePipeline(sanitizer.New(), trust.New(), hypothesis.New(5))
	queue := mid.NewEventQueue(f.metrics, mid.WithBufferSize(8))
	stats := NewRunStats(models.RunSummary{RunID: "test", OutputDir: t.TempDir()})
	f.runner = NewGateRunner(pipeline, queue, f.recorder, f.snaps, f.metrics, applogger.NewNop(), stats, opts...)
	return f
}

func TestRunnerHistoricalReplay(t *testing.T) {
	src := &fakeSource{name: "csv", files: 2, events: []*models.Event{
		ev(models.StreamTrade, 1000, 2000, map[string]any{"price": "100"}),
		ev(models.StreamTrade, 999, 2000, map[string]any{"price": "100"}),
		ev(models.StreamLiquidation, 1001, 2000, nil),
		ev(models.StreamTrade, 1007, 2000, map[string]any{"price": "100.5"}),
	}}
	f := newFixture(t,
		WithMode(ModeHistorical),
		WithSymbol("btcusdt"),
		WithSources(src),
		WithClock(fixedClock(2000)),
		WithClockMode(ClockEvent),
	)

	require.NoError(t, f.runner.Run(context.Background()))

	recs := f.recorder.decisions
	require.Len(t, recs, 4)

	assert.Equal(t, models.Allowed, recs[0].Decision)
	assert.Nil(t, recs[0].Reason)
	require.NotNil(t, recs[0].ProcessTS)
	assert.Nil(t, recs[0].ReceiveTS)

	assert.Equal(t, models.Quarantine, recs[1].Sanitize)
	assert.Equal(t, models.Degraded, recs[1].DataTrust)
	assert.Equal(t, models.Restricted, recs[1].Decision)
	require.NotNil(t, recs[1].Reason)
	assert.Equal(t, "out_of_order_timestamp", *recs[1].Reason)

	assert.Equal(t, models.Weakening, recs[2].Hypothesis)
	require.NotNil(t, recs[2].Reason)
	assert.Equal(t, "hypothesis_weakening", *recs[2].Reason)

	assert.Equal(t, models.Valid, recs[3].Hypothesis, "window 1001+5 lapsed at event time 1007")
	assert.Equal(t, models.Restricted, recs[3].Decision)

	trs := f.recorder.transitions
	require.Len(t, trs, 1)
	assert.Equal(t, models.TriggerOutOfOrderTimestamp, trs[0].Trigger)

	s := f.runner.Summary()
	assert.Equal(t, int64(4), s.Events)
	assert.Equal(t, int64(4), s.Decisions)
	assert.Equal(t, int64(1), s.Transitions)
	assert.Equal(t, 3, s.StreamCounts[models.StreamTrade])
	assert.Equal(t, 1, s.StreamCounts[models.StreamLiquidation])
	assert.Equal(t, 2, s.FilesProcessed)
	assert.Equal(t, 0.0, s.RunSeconds)
	assert.Equal(t, 100.5, f.metrics.lastPrice[models.StreamTrade])

	snap, err := f.snaps.Get(context.Background(), "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, models.Degraded, snap.DataTrust)
	assert.Equal(t, 1007.0, snap.LastEventTS)
	assert.Len(t, f.runner.RecentTransitions(0), 1)
}

func TestRunnerRealtimeStallAfterEvent(t *testing.T) {
	src := &fakeSource{name: "ws", events: []*models.Event{
		ev(models.StreamOrderbook, 100, 100, nil),
		ev(models.StreamTrade, 103, 103, map[string]any{"p": "1"}),
	}}
	f := newFixture(t,
		WithMode(ModeRealtime),
		WithSymbol("btcusdt"),
		WithSources(src),
		WithClock(fixedClock(103)),
		WithStallCheck(0, true),
	)

	require.NoError(t, f.runner.Run(context.Background()))

	recs := f.recorder.decisions
	require.Len(t, recs, 2)
	assert.Equal(t, models.Allowed, recs[0].Decision, "stall detected after the decision was made")
	require.NotNil(t, recs[0].ReceiveTS)
	assert.Nil(t, recs[0].ProcessTS)
	assert.Equal(t, models.Halted, recs[1].Decision)

	trs := f.recorder.transitions
	require.Len(t, trs, 1)
	assert.Equal(t, models.TriggerStreamStall, trs[0].Trigger)
	assert.Equal(t, models.Trusted, trs[0].PreviousTrust)
	assert.Equal(t, models.Untrusted, trs[0].CurrentTrust)
	assert.Equal(t, models.StreamOrderbook, trs[0].Details["stream"])
	assert.Equal(t, 3.0, trs[0].Details["stall_sec"])
}

func TestRunnerTickerDetectsStall(t *testing.T) {
	src := &fakeSource{name: "ws", hold: true, events: []*models.Event{
		ev(models.StreamOrderbook, 100, 100, nil),
	}}
	f := newFixture(t,
		WithMode(ModeRealtime),
		WithSymbol("btcusdt"),
		WithSources(src),
		WithClock(fixedClock(200)),
		WithStallCheck(5*time.Millisecond, false),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(f.recorder.Transitions()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	snap, err := f.snaps.Get(context.Background(), "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, models.Untrusted, snap.DataTrust)
	assert.Equal(t, models.Halted, snap.Decision)
}

func TestRunnerRunDurationStopsRealtime(t *testing.T) {
	src := &fakeSource{name: "ws", hold: true}
	f := newFixture(t, WithMode(ModeRealtime), WithSources(src), WithRunDuration(20*time.Millisecond))

	start := time.Now()
	require.NoError(t, f.runner.Run(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int64(0), f.runner.Summary().Events)
}

func TestRunnerCountsIngestAndRecorderErrors(t *testing.T) {
	src := &fakeSource{
		name:   "csv",
		errs:   []error{errors.New("boom")},
		events: []*models.Event{ev(models.StreamTrade, 1, 1, nil)},
	}
	f := newFixture(t, WithSources(src), WithClock(fixedClock(1)))
	f.recorder.failWith = errors.New("disk full")

	require.NoError(t, f.runner.Run(context.Background()))

	s := f.runner.Summary()
	assert.Equal(t, int64(1), s.Events)
	assert.Equal(t, int64(1), s.Decisions)
	assert.Equal(t, int64(2), s.Errors)
	require.NotNil(t, s.LastError)
	assert.Equal(t, 1, f.metrics.Errors("ingest"))
	assert.Equal(t, 1, f.metrics.Errors("record_decision"))
}

func TestRunnerRejectsInvalidEvents(t *testing.T) {
	src := &fakeSource{name: "csv", events: []*models.Event{
		ev("", 1, 1, nil),
		ev(models.StreamTrade, 2, 2, nil),
	}}
	f := newFixture(t, WithSources(src), WithClock(fixedClock(2)))

	require.NoError(t, f.runner.Run(context.Background()))

	s := f.runner.Summary()
	assert.Equal(t, int64(1), s.Events)
	assert.Equal(t, int64(1), s.Errors)
	require.NotNil(t, s.LastError)
	assert.Contains(t, *s.LastError, "stream empty")
}

func TestRunnerReadyHookFeedsPushSource(t *testing.T) {
	h := NewKafkaEventsHandler("events", fixedClock(2000))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hookErr := make(chan error, 1)
	f := newFixture(t,
		WithMode(ModeRealtime),
		WithSources(h),
		WithClock(fixedClock(2000)),
		WithReadyHook(func() {
			go func() {
				hookErr <- h.Handle(ctx, []byte(`{"stream":"trade","event_time":1999.9,"payload":{"price":"100"}}`))
			}()
		}),
	)

	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()

	require.Eventually(t, func() bool { return f.runner.Summary().Decisions == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.NoError(t, <-hookErr)
	require.Len(t, f.recorder.decisions, 1)
	assert.Equal(t, models.Allowed, f.recorder.decisions[0].Decision)
}
