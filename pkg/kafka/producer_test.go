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

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishEncodesValues(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "none")

	require.NoError(t, p.Publish(context.Background(), "alerts", []byte("BTCUSDT"), map[string]int{"n": 1}))
	require.NoError(t, p.PublishBatch(context.Background(), "logs", []Message{
		{Key: []byte("a"), Value: "plain"},
		{Key: []byte("b"), Value: []byte("raw")},
	}))

	require.Len(t, w.msgs, 3)
	assert.Equal(t, "alerts", w.msgs[0].Topic)
	assert.Equal(t, "BTCUSDT", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"n":1}`, string(w.msgs[0].Value))
	assert.Equal(t, "plain", string(w.msgs[1].Value))
	assert.Equal(t, "raw", string(w.msgs[2].Value))
}

func TestPublishWrapsWriterError(t *testing.T) {
	down := errors.New("broker down")
	p := newProducer(&fakeWriter{err: down}, "none")

	err := p.Publish(context.Background(), "alerts", nil, "x")
	assert.ErrorIs(t, err, down)
	assert.Contains(t, err.Error(), "alerts")
}

func TestPublishRejectsUnencodable(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "none")

	assert.Error(t, p.Publish(context.Background(), "alerts", nil, make(chan int)))
	assert.Empty(t, w.msgs)
}

func TestParseCompression(t *testing.T) {
	assert.Equal(t, kafka.Compression(0), parseCompression("none"))
	assert.Equal(t, kafka.Gzip, parseCompression("gzip"))
	assert.Equal(t, kafka.Zstd, parseCompression("zstd"))
	assert.Equal(t, kafka.Snappy, parseCompression("unknown"))
}

func TestBackoffWithJitterStaysInRange(t *testing.T) {
	for attempt := 1; attempt <= 8; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
}

func TestPublishMessageIsUnkeyed(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "none")

	require.NoError(t, p.PublishMessage(context.Background(), "gatekeeper.logs", map[string]string{"level": "error"}))
	require.Len(t, w.msgs, 1)
	assert.Nil(t, w.msgs[0].Key)
	assert.JSONEq(t, `{"level":"error"}`, string(w.msgs[0].Value))
}
