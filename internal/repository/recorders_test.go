package repository

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TrustGate/internal/domain/models"
	pkgkafka "TrustGate/pkg/kafka"
)

func ptr(v float64) *float64 { return &v }

func sampleDecision() *models.DecisionRecord {
	reason := "out_of_order_timestamp"
	return &models.DecisionRecord{
		TS:         1000,
		ProcessTS:  ptr(1000.5),
		Stream:     models.StreamTrade,
		DataTrust:  models.Degraded,
		Hypothesis: models.Valid,
		Decision:   models.Restricted,
		Action:     models.Restricted,
		Reason:     &reason,
		Sanitize:   models.Quarantine,
		Trigger:    models.TriggerOutOfOrderTimestamp,
	}
}

func sampleTransition() models.StateTransition {
	return models.StateTransition{
		TS:            1003,
		Trigger:       models.TriggerStreamStall,
		PreviousTrust: models.Trusted,
		CurrentTrust:  models.Untrusted,
		Details:       map[string]any{"stream": "orderbook", "stall_sec": 3.0, "threshold": 2.0},
	}
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestJSONLRecorderWritesLines(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "historical")
	r, err := NewJSONLRecorder(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.RecordDecision(ctx, sampleDecision()))
	require.NoError(t, r.RecordTransitions(ctx, []models.StateTransition{sampleTransition()}))
	require.NoError(t, r.RecordTransitions(ctx, nil))
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	decisions := readLines(t, filepath.Join(dir, DecisionsFile))
	require.Len(t, decisions, 1)
	d := decisions[0]
	assert.Equal(t, 1000.0, d["ts"])
	assert.Equal(t, 1000.5, d["process_ts"])
	assert.NotContains(t, d, "receive_ts")
	assert.Equal(t, "RESTRICTED", d["decision"])
	assert.Equal(t, "RESTRICTED", d["action"])
	assert.Equal(t, "out_of_order_timestamp", d["reason"])
	assert.Equal(t, "QUARANTINE", d["sanitize"])

	transitions := readLines(t, filepath.Join(dir, TransitionsFile))
	require.Len(t, transitions, 1)
	assert.Equal(t, "stream_stall", transitions[0]["trigger"])
	assert.Equal(t, "TRUSTED", transitions[0]["previous_trust"])
	assert.Equal(t, "UNTRUSTED", transitions[0]["current_trust"])
}

func TestJSONLRecorderTruncatesOnStart(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DecisionsFile), []byte("stale\n"), 0o644))

	r, err := NewJSONLRecorder(dir)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	data, err := os.ReadFile(filepath.Join(dir, DecisionsFile))
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestJSONLRecorderAfterClose(t *testing.T) {
	r, err := NewJSONLRecorder(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.RecordDecision(context.Background(), sampleDecision()), os.ErrClosed)
}

type fakeRecorder struct {
	decisions   int
	transitions int
	closed      bool
	err         error
}

func (f *fakeRecorder) RecordDecision(context.Context, *models.DecisionRecord) error {
	f.decisions++
	return f.err
}

func (f *fakeRecorder) RecordTransitions(_ context.Context, trs []models.StateTransition) error {
	f.transitions += len(trs)
	return f.err
}

func (f *fakeRecorder) Close() error {
	f.closed = true
	return f.err
}

func TestMultiRecorderFansOutAndJoinsErrors(t *testing.T) {
	ok := &fakeRecorder{}
	bad := &fakeRecorder{err: errors.New("backend down")}
	m := NewMultiRecorder(ok, bad)
	ctx := context.Background()

	err := m.RecordDecision(ctx, sampleDecision())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
	assert.Equal(t, 1, ok.decisions)
	assert.Equal(t, 1, bad.decisions)

	require.Error(t, m.RecordTransitions(ctx, []models.StateTransition{sampleTransition(), sampleTransition()}))
	assert.Equal(t, 2, ok.transitions)

	require.Error(t, m.Close())
	assert.True(t, ok.closed)
	assert.True(t, bad.closed)
	assert.Equal(t, 2, m.Len())
}

type capturedMessage struct {
	topic string
	key   string
	value interface{}
}

type fakePublisher struct {
	msgs []capturedMessage
}

func (p *fakePublisher) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	p.msgs = append(p.msgs, capturedMessage{topic: topic, key: string(key), value: value})
	return nil
}

func (p *fakePublisher) PublishBatch(_ context.Context, topic string, messages []pkgkafka.Message) error {
	for _, m := range messages {
		p.msgs = append(p.msgs, capturedMessage{topic: topic, key: string(m.Key), value: m.Value})
	}
	return nil
}

func TestKafkaRecorderKeys(t *testing.T) {
	pub := &fakePublisher{}
	r, err := NewKafkaRecorder(pub, "gate.decisions", "gate.transitions")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.RecordDecision(ctx, sampleDecision()))
	require.NoError(t, r.RecordTransitions(ctx, []models.StateTransition{sampleTransition()}))

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "gate.decisions", pub.msgs[0].topic)
	assert.Equal(t, "trade", pub.msgs[0].key)
	assert.Equal(t, "gate.transitions", pub.msgs[1].topic)
	assert.Equal(t, "stream_stall", pub.msgs[1].key)
}

func TestNewKafkaRecorderValidates(t *testing.T) {
	_, err := NewKafkaRecorder(nil, "a", "b")
	assert.Error(t, err)
	_, err = NewKafkaRecorder(&fakePublisher{}, "", "b")
	assert.Error(t, err)
}

type fakeInserter struct {
	stmts []string
	rows  [][][]any
}

func (f *fakeInserter) InsertBatch(_ context.Context, stmt string, rows [][]any) error {
	f.stmts = append(f.stmts, stmt)
	f.rows = append(f.rows, rows)
	return nil
}

func TestClickHouseRecorderRows(t *testing.T) {
	db := &fakeInserter{}
	r := NewClickHouseRecorder(db, "", "")
	ctx := context.Background()

	require.NoError(t, r.RecordDecision(ctx, sampleDecision()))
	require.NoError(t, r.RecordTransitions(ctx, []models.StateTransition{sampleTransition()}))
	require.NoError(t, r.RecordTransitions(ctx, nil))

	require.Len(t, db.stmts, 2)
	assert.True(t, strings.HasPrefix(db.stmts[0], "INSERT INTO gate_decisions"))
	assert.True(t, strings.HasPrefix(db.stmts[1], "INSERT INTO gate_transitions"))

	dec := db.rows[0][0]
	require.Len(t, dec, 10)
	assert.Equal(t, "trade", dec[3])
	assert.Equal(t, "RESTRICTED", dec[6])

	tr := db.rows[1][0]
	require.Len(t, tr, 6)
	assert.JSONEq(t, `{"stream":"orderbook","stall_sec":3,"threshold":2}`, tr[5].(string))
}

func TestClickHouseRecorderBuffersDecisions(t *testing.T) {
	db := &fakeInserter{}
	r := NewClickHouseRecorder(db, "", "", WithBatchSize(3), WithFlushInterval(0))
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		require.NoError(t, r.RecordDecision(ctx, sampleDecision()))
	}
	require.Len(t, db.rows, 2)
	assert.Len(t, db.rows[0], 3)
	assert.Len(t, db.rows[1], 3)

	require.NoError(t, r.Close())
	require.Len(t, db.rows, 3)
	assert.Len(t, db.rows[2], 1)

	require.NoError(t, r.Close())
	assert.Len(t, db.rows, 3)
}

func TestClickHouseRecorderFlushesStaleBatch(t *testing.T) {
	db := &fakeInserter{}
	now := time.Unix(100, 0)
	r := NewClickHouseRecorder(db, "", "", WithBatchSize(100), WithFlushInterval(time.Second))
	r.now = func() time.Time { return now }
	r.lastFlush = now
	ctx := context.Background()

	require.NoError(t, r.RecordDecision(ctx, sampleDecision()))
	assert.Empty(t, db.rows)

	now = now.Add(time.Second)
	require.NoError(t, r.RecordDecision(ctx, sampleDecision()))
	require.Len(t, db.rows, 1)
	assert.Len(t, db.rows[0], 2)
}

func TestClickHouseRecorderFlushesBeforeTransitions(t *testing.T) {
	db := &fakeInserter{}
	r := NewClickHouseRecorder(db, "", "", WithFlushInterval(0))
	ctx := context.Background()

	require.NoError(t, r.RecordDecision(ctx, sampleDecision()))
	assert.Empty(t, db.stmts)
	require.NoError(t, r.RecordTransitions(ctx, []models.StateTransition{sampleTransition()}))
	require.Len(t, db.stmts, 2)
	assert.True(t, strings.HasPrefix(db.stmts[0], "INSERT INTO gate_decisions"))
	assert.True(t, strings.HasPrefix(db.stmts[1], "INSERT INTO gate_transitions"))
}

func TestClickHouseRecorderSchema(t *testing.T) {
	r := NewClickHouseRecorder(&fakeInserter{}, "d", "t")
	stmts := r.SchemaStatements()
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS d")
	assert.Contains(t, stmts[1], "CREATE TABLE IF NOT EXISTS t")
}
