package kafka_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kgo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/tide/pkg/tide/infrastructure/queue"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/queue/kafka"
)

type fakeReader struct {
	msgs chan kgo.Message

	mu        sync.Mutex
	committed []kgo.Message
}

func newFakeReader(msgs ...kgo.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kgo.Message, len(msgs)+1)}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kgo.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kgo.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kgo.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) offsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for _, m := range r.committed {
		out = append(out, m.Offset)
	}
	return out
}

type fakeWriter struct {
	mu      sync.Mutex
	written []kgo.Message
	err     error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kgo.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func msg(offset int64) kgo.Message {
	return kgo.Message{Topic: "items", Partition: 0, Offset: offset, Value: []byte(`{"waitPeriod":1}`), Time: time.Unix(100, 0)}
}

func policy(maxDequeue int) queue.Policy {
	return queue.Policy{
		MaxDequeueCount: maxDequeue,
		PollInterval:    5 * time.Millisecond,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Multiplier:      2,
	}
}

func receiveCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestConsumer_CommitsContiguousOffsetsOnly(t *testing.T) {
	reader := newFakeReader(msg(7), msg(8))
	c := kafka.NewConsumerWith("items", reader, &fakeWriter{}, policy(5), nil)
	ctx := receiveCtx(t)

	first, err := c.Receive(ctx)
	require.NoError(t, err)
	second, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "items-0-7", first.ID)
	assert.Equal(t, "items-0-8", second.ID)

	require.NoError(t, c.Ack(ctx, second))
	assert.Empty(t, reader.offsets())

	require.NoError(t, c.Ack(ctx, first))
	assert.Equal(t, []int64{8}, reader.offsets())
}

func TestConsumer_NackRedeliversSameIdentity(t *testing.T) {
	reader := newFakeReader(msg(3))
	c := kafka.NewConsumerWith("items", reader, &fakeWriter{}, policy(5), nil)
	ctx := receiveCtx(t)

	d, err := c.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Nack(ctx, d, errors.New("boom")))
	assert.ErrorIs(t, c.Ack(ctx, d), queue.ErrStaleReceipt)

	again, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, d.ID, again.ID)
	assert.Equal(t, 2, again.DequeueCount)
	assert.NotEqual(t, d.Receipt, again.Receipt)
	assert.Empty(t, reader.offsets())

	require.NoError(t, c.Ack(ctx, again))
	assert.Equal(t, []int64{3}, reader.offsets())
}

func TestConsumer_PoisonAfterMaxDequeueCount(t *testing.T) {
	reader := newFakeReader(msg(1))
	poison := &fakeWriter{}
	c := kafka.NewConsumerWith("items", reader, poison, policy(2), nil)
	ctx := receiveCtx(t)

	for i := 0; i < 2; i++ {
		d, err := c.Receive(ctx)
		require.NoError(t, err)
		require.NoError(t, c.Nack(ctx, d, errors.New("still failing")))
	}

	require.Len(t, poison.written, 1)
	headers := map[string]string{}
	for _, h := range poison.written[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "items-0-1", headers[kafka.HeaderSourceID])
	assert.Equal(t, "2", headers[kafka.HeaderDequeueCount])
	assert.Equal(t, "still failing", headers[kafka.HeaderReason])
	assert.Equal(t, []int64{1}, reader.offsets())
}

func TestConsumer_PoisonWriteFailureKeepsOffset(t *testing.T) {
	reader := newFakeReader(msg(1))
	poison := &fakeWriter{err: errors.New("broker down")}
	c := kafka.NewConsumerWith("items", reader, poison, policy(1), nil)
	ctx := receiveCtx(t)

	d, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.Error(t, c.Nack(ctx, d, errors.New("failing")))
	assert.Empty(t, reader.offsets())
}

func TestProducer_Enqueue(t *testing.T) {
	w := &fakeWriter{}
	p := kafka.NewProducerWith(w)

	id, err := p.Enqueue(context.Background(), []byte(`{"waitPeriod":2}`))
	require.NoError(t, err)
	assert.Empty(t, id)
	require.Len(t, w.written, 1)
	assert.JSONEq(t, `{"waitPeriod":2}`, string(w.written[0].Value))
	assert.NotEmpty(t, w.written[0].Key)
}
