package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafkago.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestProducerSendEncodesPayload(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	p := NewProducer(w, "payments", nil)

	err := p.Send(context.Background(), "order-1", "payment.completed", map[string]string{"intent_id": "pi-1"})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "order-1", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "payment.completed", string(msg.Headers[0].Value))

	var body map[string]string
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "pi-1", body["intent_id"])
}

func TestProducerSendWrapsWriterError(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker unavailable")
	p := NewProducer(&fakeWriter{err: boom}, "payments", nil)

	err := p.Send(context.Background(), "order-1", "payment.failed", struct{}{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
