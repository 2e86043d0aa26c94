package repository

import (
	"context"
	"errors"

	"TrustGate/internal/domain/models"
	domrepo "TrustGate/internal/domain/repository"
)

// MultiRecorder writes to every backend and joins their errors.
type MultiRecorder struct {
	recorders []domrepo.Recorder
}

var _ domrepo.Recorder = (*MultiRecorder)(nil)

func NewMultiRecorder(recorders ...domrepo.Recorder) *MultiRecorder {
	return &MultiRecorder{recorders: recorders}
}

// Len is the number of backends.
func (m *MultiRecorder) Len() int { return len(m.recorders) }

func (m *MultiRecorder) RecordDecision(ctx context.Context, rec *models.DecisionRecord) error {
	var errs []error
	for _, r := range m.recorders {
		if err := r.RecordDecision(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiRecorder) RecordTransitions(ctx context.Context, trs []models.StateTransition) error {
	if len(trs) == 0 {
		return nil
	}
	var errs []error
	for _, r := range m.recorders {
		if err := r.RecordTransitions(ctx, trs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiRecorder) Close() error {
	var errs []error
	for _, r := range m.recorders {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
