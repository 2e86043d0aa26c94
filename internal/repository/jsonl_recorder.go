package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"TrustGate/internal/domain/models"
	domrepo "TrustGate/internal/domain/repository"
)

const (
	DecisionsFile   = "decisions.jsonl"
	TransitionsFile = "state_transitions.jsonl"
)

// JSONLRecorder appends decisions and transitions as one JSON object per line.
type JSONLRecorder struct {
	mu          sync.Mutex
	decisions   *os.File
	transitions *os.File
}

var _ domrepo.Recorder = (*JSONLRecorder)(nil)

// NewJSONLRecorder creates dir and truncates both logs.
func NewJSONLRecorder(dir string) (*JSONLRecorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	dec, err := os.Create(filepath.Join(dir, DecisionsFile))
	if err != nil {
		return nil, fmt.Errorf("open decisions log: %w", err)
	}
	trs, err := os.Create(filepath.Join(dir, TransitionsFile))
	if err != nil {
		_ = dec.Close()
		return nil, fmt.Errorf("open transitions log: %w", err)
	}
	return &JSONLRecorder{decisions: dec, transitions: trs}, nil
}

func (r *JSONLRecorder) RecordDecision(_ context.Context, rec *models.DecisionRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decisions == nil {
		return os.ErrClosed
	}
	if _, err := r.decisions.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write decision: %w", err)
	}
	return nil
}

func (r *JSONLRecorder) RecordTransitions(_ context.Context, trs []models.StateTransition) error {
	if len(trs) == 0 {
		return nil
	}
	var buf []byte
	for i := range trs {
		line, err := json.Marshal(&trs[i])
		if err != nil {
			return fmt.Errorf("marshal transition: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transitions == nil {
		return os.ErrClosed
	}
	if _, err := r.transitions.Write(buf); err != nil {
		return fmt.Errorf("write transitions: %w", err)
	}
	return nil
}

// Close syncs and closes both files. Safe to call twice.
func (r *JSONLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, f := range []*os.File{r.decisions, r.transitions} {
		if f == nil {
			continue
		}
		if err := f.Sync(); err != nil {
			errs = append(errs, err)
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.decisions, r.transitions = nil, nil
	return errors.Join(errs...)
}
