package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"TrustGate/internal/domain/models"
	domrepo "TrustGate/internal/domain/repository"
	"TrustGate/pkg/util"
)

const (
	DefaultDecisionsTable   = "gate_decisions"
	DefaultTransitionsTable = "gate_transitions"

	DefaultBatchSize     = 500
	DefaultFlushInterval = time.Second
)

// BatchInserter is the subset of pkg/clickhouse.Client the recorder needs.
type BatchInserter interface {
	InsertBatch(ctx context.Context, stmt string, rows [][]any) error
}

// ClickHouseRecorder stores decisions and transitions in two MergeTree tables.
// Decision rows are buffered and inserted in chunks; transitions are written
// immediately after any pending decisions.
type ClickHouseRecorder struct {
	db               BatchInserter
	decisionsTable   string
	transitionsTable string
	batchSize        int
	flushInterval    time.Duration
	now              func() time.Time

	mu        sync.Mutex
	pending   [][]any
	lastFlush time.Time
}

var _ domrepo.Recorder = (*ClickHouseRecorder)(nil)

// ClickHouseOption configures ClickHouseRecorder.
type ClickHouseOption func(*ClickHouseRecorder)

// WithBatchSize sets how many decision rows are buffered per insert.
func WithBatchSize(n int) ClickHouseOption {
	return func(r *ClickHouseRecorder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithFlushInterval flushes a partial batch once it is older than d. Zero
// disables the age check.
func WithFlushInterval(d time.Duration) ClickHouseOption {
	return func(r *ClickHouseRecorder) {
		if d >= 0 {
			r.flushInterval = d
		}
	}
}

// NewClickHouseRecorder uses the default table names when empty.
func NewClickHouseRecorder(db BatchInserter, decisionsTable, transitionsTable string, opts ...ClickHouseOption) *ClickHouseRecorder {
	if decisionsTable == "" {
		decisionsTable = DefaultDecisionsTable
	}
	if transitionsTable == "" {
		transitionsTable = DefaultTransitionsTable
	}
	r := &ClickHouseRecorder{
		db:               db,
		decisionsTable:   decisionsTable,
		transitionsTable: transitionsTable,
		batchSize:        DefaultBatchSize,
		flushInterval:    DefaultFlushInterval,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.lastFlush = r.now()
	return r
}

// SchemaStatements returns idempotent DDL for both tables.
func (r *ClickHouseRecorder) SchemaStatements() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	ts DateTime64(6),
	process_ts Nullable(Float64),
	receive_ts Nullable(Float64),
	stream LowCardinality(String),
	data_trust LowCardinality(String),
	hypothesis LowCardinality(String),
	decision LowCardinality(String),
	reason Nullable(String),
	sanitize LowCardinality(String),
	trigger LowCardinality(String)
) ENGINE = MergeTree ORDER BY (stream, ts)`, r.decisionsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	ts DateTime64(6),
	receive_ts Nullable(Float64),
	trigger LowCardinality(String),
	previous_trust LowCardinality(String),
	current_trust LowCardinality(String),
	details String
) ENGINE = MergeTree ORDER BY ts`, r.transitionsTable),
	}
}

func (r *ClickHouseRecorder) decisionInsert() string {
	return fmt.Sprintf("INSERT INTO %s (ts, process_ts, receive_ts, stream, data_trust, hypothesis, decision, reason, sanitize, trigger) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", r.decisionsTable)
}

func (r *ClickHouseRecorder) transitionInsert() string {
	return fmt.Sprintf("INSERT INTO %s (ts, receive_ts, trigger, previous_trust, current_trust, details) VALUES (?, ?, ?, ?, ?, ?)", r.transitionsTable)
}

func (r *ClickHouseRecorder) RecordDecision(ctx context.Context, rec *models.DecisionRecord) error {
	row := []any{
		util.FromUnixSeconds(rec.TS),
		rec.ProcessTS,
		rec.ReceiveTS,
		rec.Stream,
		rec.DataTrust.String(),
		rec.Hypothesis.String(),
		rec.Decision.String(),
		rec.Reason,
		rec.Sanitize.String(),
		rec.Trigger.String(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, row)
	due := r.flushInterval > 0 && r.now().Sub(r.lastFlush) >= r.flushInterval
	if len(r.pending) < r.batchSize && !due {
		return nil
	}
	return r.flushLocked(ctx)
}

// Flush inserts any buffered decision rows.
func (r *ClickHouseRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked(ctx)
}

func (r *ClickHouseRecorder) flushLocked(ctx context.Context) error {
	r.lastFlush = r.now()
	if len(r.pending) == 0 {
		return nil
	}
	rows := r.pending
	r.pending = nil
	for start := 0; start < len(rows); start += r.batchSize {
		end := start + r.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := r.db.InsertBatch(ctx, r.decisionInsert(), rows[start:end]); err != nil {
			return fmt.Errorf("insert decisions: %w", err)
		}
	}
	return nil
}

func (r *ClickHouseRecorder) RecordTransitions(ctx context.Context, trs []models.StateTransition) error {
	if len(trs) == 0 {
		return nil
	}
	if err := r.Flush(ctx); err != nil {
		return err
	}
	rows := make([][]any, 0, len(trs))
	for _, tr := range trs {
		details, err := json.Marshal(tr.Details)
		if err != nil {
			return fmt.Errorf("marshal transition details: %w", err)
		}
		rows = append(rows, []any{
			util.FromUnixSeconds(tr.TS),
			tr.ReceiveTS,
			tr.Trigger.String(),
			tr.PreviousTrust.String(),
			tr.CurrentTrust.String(),
			string(details),
		})
	}
	if err := r.db.InsertBatch(ctx, r.transitionInsert(), rows); err != nil {
		return fmt.Errorf("insert transitions: %w", err)
	}
	return nil
}

// Close flushes buffered decisions. The client is closed by its owner.
func (r *ClickHouseRecorder) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.Flush(ctx)
}
