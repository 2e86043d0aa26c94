package repository

import (
	"context"

	"TrustGate/internal/domain/models"
)

// EventSource produces normalized market events. The event channel is closed
// when the source is exhausted; realtime sources run until ctx is done.
// Errors are non-fatal and reported on the error channel.
type EventSource interface {
	Name() string
	Stream(ctx context.Context) (<-chan *models.Event, <-chan error)
}

// Recorder persists the decision log and the trust transition log.
type Recorder interface {
	RecordDecision(ctx context.Context, rec *models.DecisionRecord) error
	RecordTransitions(ctx context.Context, trs []models.StateTransition) error
	Close() error
}

// SnapshotStore holds the latest published gate state per symbol.
type SnapshotStore interface {
	Put(ctx context.Context, snap *models.GateSnapshot) error
	Get(ctx context.Context, symbol string) (*models.GateSnapshot, error)
}

type Metrics interface {
	RecordEvent(stream string, c models.Classification)
	RecordDecision(d models.Decision)
	RecordTransition(trigger models.Trigger)
	RecordGateState(trust models.TrustState, hyp models.HypothesisState)
	RecordError(kind string)
	RecordLastPrice(stream string, price float64)
	RecordLatency(op string, seconds float64)
}
