package repository

import (
	"context"
	"fmt"

	"TrustGate/internal/domain/models"
	domrepo "TrustGate/internal/domain/repository"
	pkgkafka "TrustGate/pkg/kafka"
)

// MessagePublisher is the subset of pkg/kafka.Producer the recorder needs.
type MessagePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// KafkaRecorder publishes decisions keyed by stream and transitions keyed by trigger.
type KafkaRecorder struct {
	producer         MessagePublisher
	decisionsTopic   string
	transitionsTopic string
}

var _ domrepo.Recorder = (*KafkaRecorder)(nil)

func NewKafkaRecorder(producer MessagePublisher, decisionsTopic, transitionsTopic string) (*KafkaRecorder, error) {
	if producer == nil {
		return nil, fmt.Errorf("kafka recorder: producer is required")
	}
	if decisionsTopic == "" || transitionsTopic == "" {
		return nil, fmt.Errorf("kafka recorder: topics are required")
	}
	return &KafkaRecorder{
		producer:         producer,
		decisionsTopic:   decisionsTopic,
		transitionsTopic: transitionsTopic,
	}, nil
}

func (r *KafkaRecorder) RecordDecision(ctx context.Context, rec *models.DecisionRecord) error {
	return r.producer.Publish(ctx, r.decisionsTopic, []byte(rec.Stream), rec)
}

func (r *KafkaRecorder) RecordTransitions(ctx context.Context, trs []models.StateTransition) error {
	if len(trs) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, 0, len(trs))
	for i := range trs {
		msgs = append(msgs, pkgkafka.Message{
			Key:   []byte(trs[i].Trigger.String()),
			Value: &trs[i],
		})
	}
	return r.producer.PublishBatch(ctx, r.transitionsTopic, msgs)
}

// Close is a no-op; the producer is shared and closed by its owner.
func (r *KafkaRecorder) Close() error { return nil }
