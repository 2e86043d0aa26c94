package usecase

import (
	"context"
	"errors"
	"sync"

	"TrustGate/internal/domain/models"
)

type fakeSource struct {
	name   string
	events []*models.Event
	errs   []error
	hold   bool
	files  int
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) FilesProcessed() int { return s.files }

func (s *fakeSource) Stream(ctx context.Context) (<-chan *models.Event, <-chan error) {
	events := make(chan *models.Event)
	errs := make(chan error, len(s.errs))
	for _, err := range s.errs {
		errs <- err
	}
	go func() {
		defer close(events)
		defer close(errs)
		for _, ev := range s.events {
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if s.hold {
			<-ctx.Done()
		}
	}()
	return events, errs
}

type memRecorder struct {
	mu          sync.Mutex
	decisions   []*models.DecisionRecord
	transitions []models.StateTransition
	failWith    error
}

func (r *memRecorder) RecordDecision(_ context.Context, rec *models.DecisionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.decisions = append(r.decisions, rec)
	return nil
}

func (r *memRecorder) RecordTransitions(_ context.Context, trs []models.StateTransition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, trs...)
	return nil
}

func (r *memRecorder) Close() error { return nil }

func (r *memRecorder) Transitions() []models.StateTransition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.StateTransition(nil), r.transitions...)
}

var errNoSnap = errors.New("no snapshot")

type memSnapshots struct {
	mu    sync.Mutex
	snaps map[string]models.GateSnapshot
	puts  int
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{snaps: make(map[string]models.GateSnapshot)}
}

func (s *memSnapshots) Put(_ context.Context, snap *models.GateSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.Symbol] = *snap
	s.puts++
	return nil
}

func (s *memSnapshots) Get(_ context.Context, symbol string) (*models.GateSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[symbol]
	if !ok {
		return nil, errNoSnap
	}
	return &snap, nil
}

type countingMetrics struct {
	mu        sync.Mutex
	errors    map[string]int
	decisions map[models.Decision]int
	events    int
	lastPrice map[string]float64
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		errors:    make(map[string]int),
		decisions: make(map[models.Decision]int),
		lastPrice: make(map[string]float64),
	}
}

func (m *countingMetrics) RecordEvent(string, models.Classification) {
	m.mu.Lock()
	m.events++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordDecision(d models.Decision) {
	m.mu.Lock()
	m.decisions[d]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordTransition(models.Trigger) {}

func (m *countingMetrics) RecordGateState(models.TrustState, models.HypothesisState) {}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordLastPrice(stream string, price float64) {
	m.mu.Lock()
	m.lastPrice[stream] = price
	m.mu.Unlock()
}

func (m *countingMetrics) RecordLatency(string, float64) {}

func (m *countingMetrics) Errors(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}
