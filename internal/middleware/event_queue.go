package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"TrustGate/internal/domain/models"
	domrepo "TrustGate/internal/domain/repository"
)

var ErrQueueSealed = errors.New("event queue sealed")

// EventQueue fans events from every attached source into one bounded channel
// drained by a single consumer. Sources block when the queue is full so no
// event is dropped; malformed events are rejected before they reach the gate.
type EventQueue struct {
	metrics domrepo.Metrics
	bufSize int
	errSize int

	out  chan *models.Event
	errs chan error

	wg       sync.WaitGroup
	mu       sync.Mutex
	sealed   bool
	sealOnce sync.Once
}

type QueueOption func(*EventQueue)

// WithBufferSize sets the event channel capacity.
func WithBufferSize(n int) QueueOption {
	return func(q *EventQueue) {
		if n > 0 {
			q.bufSize = n
		}
	}
}

// WithErrorBufferSize sets the error channel capacity. Errors beyond it are dropped.
func WithErrorBufferSize(n int) QueueOption {
	return func(q *EventQueue) {
		if n > 0 {
			q.errSize = n
		}
	}
}

func NewEventQueue(metrics domrepo.Metrics, opts ...QueueOption) *EventQueue {
	q := &EventQueue{
		metrics: metrics,
		bufSize: 4096,
		errSize: 256,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.out = make(chan *models.Event, q.bufSize)
	q.errs = make(chan error, q.errSize)
	return q
}

// Events is closed once the queue is sealed and every attached source is done.
func (q *EventQueue) Events() <-chan *models.Event { return q.out }

func (q *EventQueue) Errors() <-chan error { return q.errs }

// Attach starts forwarding src into the queue until the source closes its
// event channel or ctx is done.
func (q *EventQueue) Attach(ctx context.Context, src domrepo.EventSource) error {
	q.mu.Lock()
	if q.sealed {
		q.mu.Unlock()
		return ErrQueueSealed
	}
	q.wg.Add(1)
	q.mu.Unlock()

	events, errs := src.Stream(ctx)
	go q.forward(ctx, src.Name(), events, errs)
	return nil
}

// Seal stops accepting sources and closes Events after the attached ones finish.
func (q *EventQueue) Seal() {
	q.sealOnce.Do(func() {
		q.mu.Lock()
		q.sealed = true
		q.mu.Unlock()
		go func() {
			q.wg.Wait()
			close(q.out)
		}()
	})
}

func (q *EventQueue) forward(ctx context.Context, name string, events <-chan *models.Event, errs <-chan error) {
	defer q.wg.Done()
	for events != nil || errs != nil {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			q.Fail(fmt.Errorf("%s: %w", name, err))
		case ev, ok := <-events:
			if !ok {
				// drain pending errors but stop waiting on a source that is done
				events = nil
				if errs != nil {
					q.drainErrors(name, errs)
					errs = nil
				}
				continue
			}
			if err := q.push(ctx, ev); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				q.Fail(fmt.Errorf("%s: %w", name, err))
			}
		}
	}
}

func (q *EventQueue) drainErrors(name string, errs <-chan error) {
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return
			}
			q.Fail(fmt.Errorf("%s: %w", name, err))
		default:
			return
		}
	}
}

// push validates ev and blocks until the consumer has room or ctx is done.
func (q *EventQueue) push(ctx context.Context, ev *models.Event) error {
	if err := validateEvent(ev); err != nil {
		q.metrics.RecordError("queue_validate")
		return err
	}
	start := time.Now()
	select {
	case q.out <- ev:
	default:
		q.metrics.RecordError("queue_full")
		select {
		case q.out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	q.metrics.RecordLatency("queue_push", time.Since(start).Seconds())
	return nil
}

// Fail reports a non-fatal ingestion error to the consumer.
func (q *EventQueue) Fail(err error) {
	if err == nil {
		return
	}
	select {
	case q.errs <- err:
	default:
		q.metrics.RecordError("queue_error_drop")
	}
}

func validateEvent(ev *models.Event) error {
	if ev == nil {
		return fmt.Errorf("event nil")
	}
	if math.IsNaN(ev.EventTime) || math.IsInf(ev.EventTime, 0) {
		return fmt.Errorf("event time not finite")
	}
	if math.IsNaN(ev.ReceiveTime) || math.IsInf(ev.ReceiveTime, 0) {
		return fmt.Errorf("receive time not finite")
	}
	return nil
}
