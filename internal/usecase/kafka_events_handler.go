package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"TrustGate/internal/domain/models"
	domrepo "TrustGate/internal/domain/repository"
	pkgkafka "TrustGate/pkg/kafka"
	"TrustGate/pkg/util"
)

// ErrNotStreaming is returned by Handle before Stream has been called.
var ErrNotStreaming = errors.New("kafka events: source not streaming")

// KafkaEventsHandler consumes JSON events from a topic and exposes them as an EventSource.
// Message schema: {stream, event_time, payload}. Any upstream receive_time is
// ignored; arrival is stamped from the local clock so a replayed backlog does
// not look stalled.
type KafkaEventsHandler struct {
	topic string
	clock func() time.Time

	mu     sync.RWMutex
	ctx    context.Context
	events chan *models.Event
	errs   chan error
	closed bool
}

var (
	_ pkgkafka.MessageHandler = (*KafkaEventsHandler)(nil)
	_ domrepo.EventSource     = (*KafkaEventsHandler)(nil)
)

func NewKafkaEventsHandler(topic string, clock func() time.Time) *KafkaEventsHandler {
	if clock == nil {
		clock = time.Now
	}
	return &KafkaEventsHandler{topic: topic, clock: clock}
}

func (h *KafkaEventsHandler) Topic() string { return h.topic }

func (h *KafkaEventsHandler) Name() string { return "kafka:" + h.topic }

// Stream opens the channels Handle delivers into; they close when ctx is done.
func (h *KafkaEventsHandler) Stream(ctx context.Context) (<-chan *models.Event, <-chan error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.events != nil {
		ch := make(chan *models.Event)
		ech := make(chan error, 1)
		ech <- fmt.Errorf("kafka events: %s already streaming", h.topic)
		close(ch)
		close(ech)
		return ch, ech
	}
	h.ctx = ctx
	h.events = make(chan *models.Event, 256)
	h.errs = make(chan error, 16)

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		h.closed = true
		close(h.events)
		close(h.errs)
		h.mu.Unlock()
	}()

	return h.events, h.errs
}

// Handle decodes one message and hands it to the gate. Malformed messages are
// reported as source errors and acknowledged so they are not retried.
func (h *KafkaEventsHandler) Handle(_ context.Context, b []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.events == nil {
		return ErrNotStreaming
	}
	if h.closed {
		return h.ctx.Err()
	}

	ev, err := DecodeEvent(b, util.UnixSeconds(h.clock()))
	if err != nil {
		select {
		case h.errs <- err:
		default:
		}
		return nil
	}

	select {
	case h.events <- ev:
		return nil
	case <-h.ctx.Done():
		return h.ctx.Err()
	}
}

type wireEvent struct {
	Stream      string         `json:"stream"`
	EventTime   any            `json:"event_time"`
	Payload     map[string]any `json:"payload"`
}

// DecodeEvent parses a wire event stamped as received at now. A missing stream
// is kept as the empty opaque key.
func DecodeEvent(b []byte, now float64) (*models.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	w.Stream = strings.TrimSpace(w.Stream)
	et, ok := util.EpochFromAny(w.EventTime)
	if !ok {
		return nil, fmt.Errorf("decode event: invalid event_time %v", w.EventTime)
	}
	if w.Payload == nil {
		w.Payload = map[string]any{}
	}
	return &models.Event{Stream: w.Stream, EventTime: et, ReceiveTime: now, Payload: w.Payload}, nil
}
