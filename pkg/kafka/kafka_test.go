package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	require.Error(t, err)

	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("snappy"), WithHashByKey(true))
	require.NoError(t, err)
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, kafka.Snappy, w.Compression)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
	require.NoError(t, p.Close())
}

func TestProducerPublishEncodesAndKeys(t *testing.T) {
	w := &recordingWriter{}
	p := &Producer{writer: w}
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, "decisions", []byte("trade"), map[string]string{"decision": "ALLOWED"}))
	require.NoError(t, p.PublishMessage(ctx, "logs", "raw line"))
	require.NoError(t, p.PublishBatch(ctx, "transitions", nil))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "decisions", w.msgs[0].Topic)
	assert.Equal(t, "trade", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"decision":"ALLOWED"}`, string(w.msgs[0].Value))
	assert.Nil(t, w.msgs[1].Key)
	assert.Equal(t, "raw line", string(w.msgs[1].Value))

	err := p.PublishBatch(ctx, "transitions", []Message{{Value: "ok"}, {Value: make(chan int)}})
	assert.Error(t, err)
	assert.Len(t, w.msgs, 2)
}

func TestNewConsumerRequiresBrokers(t *testing.T) {
	_, err := NewConsumer()
	require.Error(t, err)
}

type topicHandler string

func (h topicHandler) Topic() string { return string(h) }
func (h topicHandler) Handle(context.Context, []byte) error { return nil }

func TestRegisterHandlerRejectsDuplicates(t *testing.T) {
	c, err := NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerStartOffset("latest"))
	require.NoError(t, err)
	assert.Equal(t, kafka.LastOffset, c.cfg.StartOffset)

	require.NoError(t, c.RegisterHandler(topicHandler("events")))
	assert.Error(t, c.RegisterHandler(topicHandler("events")))
}

type flakyHandler struct {
	topic string
	fails int
	calls int
}

func (h *flakyHandler) Topic() string { return h.topic }

func (h *flakyHandler) Handle(context.Context, []byte) error {
	h.calls++
	if h.calls <= h.fails {
		return errors.New("not ready")
	}
	return nil
}

type recordingWriter struct {
	msgs []kafka.Message
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func newTestConsumer(t *testing.T, opts ...ConsumerOption) *Consumer {
	t.Helper()
	opts = append([]ConsumerOption{
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, time.Millisecond),
	}, opts...)
	c, err := NewConsumer(opts...)
	require.NoError(t, err)
	return c
}

func TestConsumerProcessRetriesUntilSuccess(t *testing.T) {
	c := newTestConsumer(t)
	h := &flakyHandler{topic: "events", fails: 2}

	assert.True(t, c.process(h, kafka.Message{Value: []byte("{}")}))
	assert.Equal(t, 3, h.calls)
}

func TestConsumerProcessParksOnDLQ(t *testing.T) {
	c := newTestConsumer(t)
	h := &flakyHandler{topic: "events", fails: 10}

	assert.False(t, c.process(h, kafka.Message{Value: []byte("x")}))
	assert.Equal(t, 3, h.calls)

	w := &recordingWriter{}
	c.dlq = w
	h.calls = 0
	assert.True(t, c.process(h, kafka.Message{Key: []byte("k"), Value: []byte("x")}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "x", string(w.msgs[0].Value))
	assert.Equal(t, "source_topic", w.msgs[0].Headers[0].Key)
	assert.Equal(t, "events", string(w.msgs[0].Headers[0].Value))
}

func TestConsumerProcessRecoversPanic(t *testing.T) {
	c := newTestConsumer(t, WithConsumerRetry(0, time.Millisecond, time.Millisecond))
	assert.False(t, c.process(panicHandler{}, kafka.Message{}))
}

type panicHandler struct{}

func (panicHandler) Topic() string { return "events" }
func (panicHandler) Handle(context.Context, []byte) error { panic("boom") }

func TestConsumerStopCancelsRetries(t *testing.T) {
	c := newTestConsumer(t, WithConsumerRetry(100, time.Hour, time.Hour))
	require.NoError(t, c.Stop(context.Background()))

	h := &flakyHandler{topic: "events", fails: 10}
	assert.False(t, c.process(h, kafka.Message{}))
	assert.Equal(t, 1, h.calls)
}

func TestEncodeValue(t *testing.T) {
	b, err := encodeValue([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))

	b, err = encodeValue(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(b))

	_, err = encodeValue(make(chan int))
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	assert.Equal(t, kafka.Lz4, parseCompression("lz4"))
	assert.Equal(t, kafka.Zstd, parseCompression("zstd"))
	assert.Equal(t, kafka.Gzip, parseCompression("unknown"))
	assert.Equal(t, kafka.Compression(0), parseCompression("none"))
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	d := backoffWithJitter(0, 0, 1)
	assert.Greater(t, d, 25*time.Millisecond)
	assert.LessOrEqual(t, d, 50*time.Millisecond)
}
