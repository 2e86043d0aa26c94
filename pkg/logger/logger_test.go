package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level string) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(&Config{Level: level, Format: "json", Writer: &buf})
	require.NoError(t, err)
	return l, &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m))
	return m
}

func TestLoggerWritesTypedFields(t *testing.T) {
	l, buf := newBufferLogger(t, "debug")
	l.Info("gate",
		String("stream", "trade"),
		Int("n", 3),
		Int64("events", 10),
		Float64("lateness", 0.25),
		Any("details", map[string]float64{"stall_sec": 3}),
		Duration("took", 1500*time.Millisecond),
		Error(errors.New("boom")),
	)

	m := decodeLine(t, buf)
	assert.Equal(t, "info", m["level"])
	assert.Equal(t, "gate", m["message"])
	assert.Equal(t, "trade", m["stream"])
	assert.Equal(t, 3.0, m["n"])
	assert.Equal(t, 10.0, m["events"])
	assert.Equal(t, 0.25, m["lateness"])
	assert.Equal(t, map[string]any{"stall_sec": 3.0}, m["details"])
	assert.Equal(t, 1500.0, m["took"])
	assert.Equal(t, "boom", m["error"])
	assert.Contains(t, m["caller"], "logger_test.go")
}

func TestLoggerLevelFilters(t *testing.T) {
	l, buf := newBufferLogger(t, "warn")
	l.Info("hidden")
	l.Debug("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLoggerWith(t *testing.T) {
	l, buf := newBufferLogger(t, "info")
	child := l.With(String("component", "runner"))
	child.Info("started")

	m := decodeLine(t, buf)
	assert.Equal(t, "runner", m["component"])
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)
}

func TestErrorFieldNil(t *testing.T) {
	k, v := Error(nil).GetKeyValue()
	assert.Equal(t, "error", k)
	assert.Nil(t, v)

	l, buf := newBufferLogger(t, "info")
	l.Info("ok", Error(nil))
	assert.NotContains(t, decodeLine(t, buf), "error")
}

type capturePublisher struct {
	mu      sync.Mutex
	topics  []string
	batches [][]AggregatedLogEntry
	err     error
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return p.err
}

func (p *capturePublisher) snapshot() ([]string, [][]AggregatedLogEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...), append([][]AggregatedLogEntry(nil), p.batches...)
}

func TestCollectorAggregatesAndFlushesOnClose(t *testing.T) {
	pub := &capturePublisher{}
	l, _ := newBufferLogger(t, "info")
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		l.Error("recorder failed", String("kind", "file"))
	}
	l.Warn("queue full")
	l.Info("not collected")
	l.RemoveCollector()

	topics, batches := pub.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"logs"}, topics)
	require.Len(t, batches[0], 2)

	counts := map[string]int{}
	for _, e := range batches[0] {
		counts[e.Message] = e.Count
	}
	assert.Equal(t, 3, counts["recorder failed"])
	assert.Equal(t, 1, counts["queue full"])
	for _, e := range batches[0] {
		assert.Contains(t, e.Caller, "logger/logger_test.go:")
	}
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "logs", Publisher: pub})
	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")
	c.Close()

	_, batches := pub.snapshot()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
}
