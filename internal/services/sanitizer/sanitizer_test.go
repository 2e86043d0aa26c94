package sanitizer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TrustGate/internal/domain/models"
)

func trade(t float64, price any) *models.Event {
	payload := map[string]any{}
	if price != nil {
		payload["p"] = price
	}
	return &models.Event{Stream: models.StreamTrade, EventTime: t, ReceiveTime: t, Payload: payload}
}

func TestSanitizeOutOfOrderScenario(t *testing.T) {
	s := New(WithAllowedLateness(0.5))

	r1 := s.Sanitize(trade(100, nil))
	assert.Equal(t, models.Accept, r1.Classification)
	assert.Equal(t, models.TriggerNone, r1.Trigger)

	r2 := s.Sanitize(trade(99.8, nil))
	assert.Equal(t, models.Repair, r2.Classification)
	assert.Equal(t, models.TriggerOutOfOrderTimestamp, r2.Trigger)
	assert.InDelta(t, 0.2, r2.Details["lateness_sec"], 1e-9)
	assert.Equal(t, 100.0, r2.Details["last_event_time"])
	assert.Equal(t, 0.5, r2.Details["allowed_lateness_sec"])

	r3 := s.Sanitize(trade(99.0, nil))
	assert.Equal(t, models.Quarantine, r3.Classification)
	assert.Equal(t, models.TriggerOutOfOrderTimestamp, r3.Trigger)
	assert.Equal(t, 99.0, r3.Details["event_time"])

	wm, ok := s.Watermark(models.StreamTrade)
	require.True(t, ok)
	assert.Equal(t, 100.0, wm)
}

func TestSanitizeLatenessBoundary(t *testing.T) {
	tests := []struct {
		name string
		next float64
		want models.Classification
	}{
		{name: "equal to watermark", next: 10, want: models.Accept},
		{name: "exactly allowed lateness", next: 9.5, want: models.Repair},
		{name: "just past allowed lateness", next: 9.4999, want: models.Quarantine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(WithAllowedLateness(0.5))
			s.Sanitize(&models.Event{Stream: models.StreamOrderbook, EventTime: 10})
			got := s.Sanitize(&models.Event{Stream: models.StreamOrderbook, EventTime: tt.next})
			assert.Equal(t, tt.want, got.Classification)
		})
	}
}

func TestSanitizeWatermarkNeverRewinds(t *testing.T) {
	s := New(WithAllowedLateness(0.5))
	times := []float64{1, 3, 2.8, 2, 4, 3.9, 10, 0}
	prev := 0.0
	for _, ts := range times {
		s.Sanitize(&models.Event{Stream: "custom", EventTime: ts})
		wm, ok := s.Watermark("custom")
		require.True(t, ok)
		assert.GreaterOrEqual(t, wm, prev)
		prev = wm
	}
	assert.Equal(t, 10.0, prev)
}

func TestSanitizeFatFingerScenario(t *testing.T) {
	s := New()

	assert.Equal(t, models.Accept, s.Sanitize(trade(10, 100.0)).Classification)

	r := s.Sanitize(trade(11, 104.0))
	assert.Equal(t, models.Quarantine, r.Classification)
	assert.Equal(t, models.TriggerFatFingerPrice, r.Trigger)
	assert.InDelta(t, 0.04, r.Details["price_change_ratio"], 1e-12)
	assert.Equal(t, 1.0, r.Details["time_delta_sec"])
	assert.Equal(t, 100.0, r.Details["last_price"])

	// The quarantined price does not replace the reference.
	price, at, ok := s.LastPrice(models.StreamTrade)
	require.True(t, ok)
	assert.Equal(t, 100.0, price)
	assert.Equal(t, 10.0, at)
}

func TestSanitizeFatFingerRules(t *testing.T) {
	tests := []struct {
		name   string
		first  *models.Event
		second *models.Event
		want   models.Classification
	}{
		{name: "ratio exactly at limit", first: trade(10, 100.0), second: trade(11, 103.0), want: models.Quarantine},
		{name: "ratio under limit", first: trade(10, 100.0), second: trade(11, 102.9), want: models.Accept},
		{name: "drop is symmetric", first: trade(10, 100.0), second: trade(11, 96.0), want: models.Quarantine},
		{name: "gap over window skipped", first: trade(10, 100.0), second: trade(12.5, 150.0), want: models.Accept},
		{name: "gap exactly window compared", first: trade(10, 100.0), second: trade(12, 150.0), want: models.Quarantine},
		{name: "same timestamp skipped", first: trade(10, 100.0), second: trade(10, 150.0), want: models.Accept},
		{name: "string price parsed", first: trade(10, "100"), second: trade(11, "110.5"), want: models.Quarantine},
		{name: "unparsable price skipped", first: trade(10, 100.0), second: trade(11, "abc"), want: models.Accept},
		{name: "missing price skipped", first: trade(10, 100.0), second: trade(11, nil), want: models.Accept},
		{
			name:   "blank first field is final",
			first:  trade(10, 100.0),
			second: &models.Event{Stream: models.StreamTrade, EventTime: 11, ReceiveTime: 11, Payload: map[string]any{"price": "", "p": "150"}},
			want:   models.Accept,
		},
		{name: "non positive reference", first: trade(10, 0.0), second: trade(11, 1.0), want: models.Quarantine},
		{
			name:   "ticker uses c field",
			first:  &models.Event{Stream: models.StreamTicker, EventTime: 1, Payload: map[string]any{"c": "50000"}},
			second: &models.Event{Stream: models.StreamTicker, EventTime: 2, Payload: map[string]any{"c": "40000"}},
			want:   models.Quarantine,
		},
		{
			name:   "orderbook never price checked",
			first:  &models.Event{Stream: models.StreamOrderbook, EventTime: 1, Payload: map[string]any{"price": 1.0}},
			second: &models.Event{Stream: models.StreamOrderbook, EventTime: 2, Payload: map[string]any{"price": 9.0}},
			want:   models.Accept,
		},
		{
			name:   "json number price",
			first:  &models.Event{Stream: models.StreamTrade, EventTime: 1, Payload: map[string]any{"price": json.Number("10")}},
			second: &models.Event{Stream: models.StreamTrade, EventTime: 2, Payload: map[string]any{"price": json.Number("20")}},
			want:   models.Quarantine,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			s.Sanitize(tt.first)
			got := s.Sanitize(tt.second)
			assert.Equal(t, tt.want, got.Classification)
		})
	}
}

func TestSanitizeNonPositiveReferenceDetails(t *testing.T) {
	s := New()
	s.Sanitize(trade(10, -1.0))
	r := s.Sanitize(trade(11, 5.0))
	require.Equal(t, models.Quarantine, r.Classification)
	assert.Equal(t, "non_positive_last_price", r.Details["reason"])
	assert.Equal(t, -1.0, r.Details["last_price"])
	assert.Equal(t, 5.0, r.Details["current_price"])
}

func TestSanitizeRepairStillUpdatesPrice(t *testing.T) {
	s := New(WithAllowedLateness(0.5))
	s.Sanitize(trade(10, 100.0))
	s.Sanitize(trade(11, 100.5))

	// 10.8 is late but within tolerance; the price gap 10.8-11 is negative so no comparison.
	r := s.Sanitize(trade(10.8, 101.0))
	assert.Equal(t, models.Repair, r.Classification)

	price, at, ok := s.LastPrice(models.StreamTrade)
	require.True(t, ok)
	assert.Equal(t, 101.0, price)
	assert.Equal(t, 10.8, at)
}

func TestSanitizeQuarantinedLateEventSkipsPriceStage(t *testing.T) {
	s := New(WithAllowedLateness(0.5))
	s.Sanitize(trade(10, 100.0))
	r := s.Sanitize(trade(5, 500.0))
	assert.Equal(t, models.TriggerOutOfOrderTimestamp, r.Trigger)

	price, _, _ := s.LastPrice(models.StreamTrade)
	assert.Equal(t, 100.0, price)
}

func TestSanitizeStreamsAreIndependent(t *testing.T) {
	s := New()
	s.Sanitize(&models.Event{Stream: models.StreamTrade, EventTime: 100})
	r := s.Sanitize(&models.Event{Stream: models.StreamOrderbook, EventTime: 1})
	assert.Equal(t, models.Accept, r.Classification)
}

func TestSanitizeReset(t *testing.T) {
	s := New()
	s.Sanitize(trade(100, 10.0))
	s.Reset(models.StreamTrade)

	_, ok := s.Watermark(models.StreamTrade)
	assert.False(t, ok)
	_, _, ok = s.LastPrice(models.StreamTrade)
	assert.False(t, ok)
	assert.Equal(t, models.Accept, s.Sanitize(trade(1, 99.0)).Classification)
}

func TestSanitizeDoesNotMutateEvent(t *testing.T) {
	s := New()
	ev := trade(10, "100")
	s.Sanitize(ev)
	assert.Equal(t, "100", ev.Payload["p"])
	assert.Equal(t, 10.0, ev.EventTime)
}
