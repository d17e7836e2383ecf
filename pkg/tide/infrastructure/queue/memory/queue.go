// Package memory provides an in-process queue with storage-queue semantics:
// message ids stable across redeliveries, visibility leases with receipts,
// per-message exponential redelivery delay and a poison list.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/core/metrics"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/queue"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

type entry struct {
	id           string
	body         []byte
	insertedAt   time.Time
	dequeueCount int
	visibleAt    time.Time
	receipt      string
	backOff      *backoff.ExponentialBackOff
}

// PoisonEntry is a message that exhausted its deliveries.
type PoisonEntry struct {
	ID           string
	Body         []byte
	DequeueCount int
	InsertedAt   time.Time
	PoisonedAt   time.Time
	Reason       string
}

// Queue is safe for concurrent use.
type Queue struct {
	name       string
	poisonName string
	policy     queue.Policy
	recorder   metrics.MetricRecorder
	now        func() time.Time

	mu      sync.Mutex
	entries []*entry
	poison  []PoisonEntry
	notify  chan struct{}
}

// New creates an empty queue named name whose poison destination is poisonName.
func New(name, poisonName string, policy queue.Policy, recorder metrics.MetricRecorder) *Queue {
	if policy.PollInterval <= 0 {
		policy.PollInterval = 200 * time.Millisecond
	}
	if policy.VisibilityTimeout <= 0 {
		policy.VisibilityTimeout = 30 * time.Second
	}
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &Queue{
		name:       name,
		poisonName: poisonName,
		policy:     policy,
		recorder:   recorder,
		now:        time.Now,
		notify:     make(chan struct{}, 1),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Enqueue appends a message and returns its id.
func (q *Queue) Enqueue(ctx context.Context, body []byte) (string, error) {
	e := &entry{
		id:         uuid.NewString(),
		body:       append([]byte(nil), body...),
		insertedAt: q.now().UTC(),
		backOff:    q.policy.NewBackOff(),
	}
	q.mu.Lock()
	q.entries = append(q.entries, e)
	q.mu.Unlock()
	q.signal()
	logger.Debugf("Queue %s: enqueued %s", q.name, e.id)
	return e.id, nil
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Receive leases the oldest visible message. A message whose lease expired
// becomes visible again with the same id.
func (q *Queue) Receive(ctx context.Context) (*port.Delivery, error) {
	for {
		d, wait := q.tryReceive()
		if d != nil {
			return d, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// tryReceive returns a delivery, or how long to wait before scanning again.
func (q *Queue) tryReceive() (*port.Delivery, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	wait := q.policy.PollInterval
	kept := q.entries[:0]
	var picked *entry
	for _, e := range q.entries {
		if picked != nil || e.visibleAt.After(now) {
			if picked == nil {
				if until := e.visibleAt.Sub(now); until < wait {
					wait = until
				}
			}
			kept = append(kept, e)
			continue
		}
		if e.receipt != "" && q.policy.Exhausted(e.dequeueCount) {
			// Lease expired on the last allowed delivery.
			q.movePoison(e, now, "lease expired")
			continue
		}
		picked = e
		kept = append(kept, e)
	}
	q.entries = kept
	if picked == nil {
		return nil, wait
	}

	picked.dequeueCount++
	picked.receipt = uuid.NewString()
	picked.visibleAt = now.Add(q.policy.VisibilityTimeout)
	if picked.dequeueCount > 1 {
		q.recorder.RecordRedelivery(context.Background(), q.name)
	}
	return &port.Delivery{
		ID:           picked.id,
		Body:         append([]byte(nil), picked.body...),
		DequeueCount: picked.dequeueCount,
		InsertedAt:   picked.insertedAt,
		Receipt:      picked.receipt,
	}, 0
}

// Ack deletes the message if d still holds its lease.
func (q *Queue) Ack(ctx context.Context, d *port.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx, err := q.leased(d)
	if err != nil {
		return err
	}
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	return nil
}

// Nack hides the message for its next backoff interval, or moves it to the
// poison list once MaxDequeueCount deliveries failed.
func (q *Queue) Nack(ctx context.Context, d *port.Delivery, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx, err := q.leased(d)
	if err != nil {
		return err
	}
	e := q.entries[idx]
	now := q.now()
	if q.policy.Exhausted(e.dequeueCount) {
		q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
		reason := ""
		if cause != nil {
			reason = cause.Error()
		}
		q.movePoison(e, now, reason)
		return nil
	}

	delay := e.backOff.NextBackOff()
	if delay == backoff.Stop {
		delay = q.policy.MaxInterval
	}
	e.visibleAt = now.Add(delay)
	e.receipt = ""
	logger.Debugf("Queue %s: message %s visible again in %s (dequeue count %d)", q.name, e.id, delay, e.dequeueCount)
	return nil
}

// leased must be called with the lock held.
func (q *Queue) leased(d *port.Delivery) (int, error) {
	for i, e := range q.entries {
		if e.id != d.ID {
			continue
		}
		if e.receipt == "" || e.receipt != d.Receipt {
			return -1, fmt.Errorf("%w: message %s", queue.ErrStaleReceipt, d.ID)
		}
		return i, nil
	}
	return -1, fmt.Errorf("%w: message %s no longer in queue %s", queue.ErrStaleReceipt, d.ID, q.name)
}

// movePoison must be called with the lock held.
func (q *Queue) movePoison(e *entry, now time.Time, reason string) {
	q.poison = append(q.poison, PoisonEntry{
		ID:           e.id,
		Body:         e.body,
		DequeueCount: e.dequeueCount,
		InsertedAt:   e.insertedAt,
		PoisonedAt:   now,
		Reason:       reason,
	})
	q.recorder.RecordPoison(context.Background(), q.name)
	logger.Errorf("Queue %s: message %s moved to %s after %d deliveries: %s", q.name, e.id, q.poisonName, e.dequeueCount, reason)
}

// Len returns the number of messages not yet acknowledged or poisoned.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// PeekPoison returns copies of the poisoned messages, oldest first.
func (q *Queue) PeekPoison() []PoisonEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]PoisonEntry(nil), q.poison...)
}

// Close is a no-op kept for symmetry with the other transports.
func (q *Queue) Close() error {
	if n := q.Len(); n > 0 {
		logger.Warnf("Queue %s: closing with %d unacknowledged messages", q.name, n)
	}
	return nil
}

var (
	_ port.Source   = (*Queue)(nil)
	_ port.Enqueuer = (*Queue)(nil)
)
