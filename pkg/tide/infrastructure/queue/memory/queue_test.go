package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/tide/pkg/tide/infrastructure/queue"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/queue/memory"
)

func fastPolicy(maxDequeue int) queue.Policy {
	return queue.Policy{
		MaxDequeueCount:     maxDequeue,
		VisibilityTimeout:   time.Minute,
		PollInterval:        5 * time.Millisecond,
		InitialInterval:     10 * time.Millisecond,
		MaxInterval:         40 * time.Millisecond,
		Multiplier:          2,
		RandomizationFactor: 0,
	}
}

func receive(t *testing.T, q *memory.Queue) (id string, dequeue int, receipt string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := q.Receive(ctx)
	require.NoError(t, err)
	return d.ID, d.DequeueCount, d.Receipt
}

func TestQueue_EnqueueReceiveAck(t *testing.T) {
	q := memory.New("items", "items-poison", fastPolicy(5), nil)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, []byte(`{"waitPeriod":1}`))
	require.NoError(t, err)

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, d.ID)
	assert.Equal(t, 1, d.DequeueCount)
	assert.JSONEq(t, `{"waitPeriod":1}`, string(d.Body))
	assert.NotEmpty(t, d.Receipt)

	require.NoError(t, q.Ack(ctx, d))
	assert.Equal(t, 0, q.Len())
	assert.ErrorIs(t, q.Ack(ctx, d), queue.ErrStaleReceipt)
}

func TestQueue_NackRedeliversSameIdentityAfterBackoff(t *testing.T) {
	q := memory.New("items", "items-poison", fastPolicy(5), nil)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, []byte("{}"))

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	start := time.Now()
	require.NoError(t, q.Nack(ctx, d, errors.New("boom")))

	again, dequeue, _ := receive(t, q)
	assert.Equal(t, id, again)
	assert.Equal(t, 2, dequeue)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestQueue_PoisonAfterMaxDequeueCount(t *testing.T) {
	q := memory.New("items", "items-poison", fastPolicy(3), nil)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, []byte("{}"))

	for i := 1; i <= 3; i++ {
		d, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, d.DequeueCount)
		require.NoError(t, q.Nack(ctx, d, errors.New("still failing")))
	}

	assert.Equal(t, 0, q.Len())
	poison := q.PeekPoison()
	require.Len(t, poison, 1)
	assert.Equal(t, id, poison[0].ID)
	assert.Equal(t, 3, poison[0].DequeueCount)
	assert.Equal(t, "still failing", poison[0].Reason)
}

func TestQueue_LeaseExpiryRedelivers(t *testing.T) {
	policy := fastPolicy(5)
	policy.VisibilityTimeout = 30 * time.Millisecond
	q := memory.New("items", "items-poison", policy, nil)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, []byte("{}"))

	first, err := q.Receive(ctx)
	require.NoError(t, err)

	again, dequeue, receipt := receive(t, q)
	assert.Equal(t, id, again)
	assert.Equal(t, 2, dequeue)
	assert.NotEqual(t, first.Receipt, receipt)

	// The first worker lost its lease.
	assert.ErrorIs(t, q.Ack(ctx, first), queue.ErrStaleReceipt)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_ReceiveHonoursContext(t *testing.T) {
	q := memory.New("items", "items-poison", fastPolicy(5), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_FIFO(t *testing.T) {
	q := memory.New("items", "items-poison", fastPolicy(5), nil)
	ctx := context.Background()
	a, _ := q.Enqueue(ctx, []byte("a"))
	b, _ := q.Enqueue(ctx, []byte("b"))

	first, _, _ := receive(t, q)
	second, _, _ := receive(t, q)
	assert.Equal(t, []string{a, b}, []string{first, second})
}
