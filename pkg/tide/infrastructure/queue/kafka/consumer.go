// Package kafka adapts a kafka topic to the queue contract. Message identity
// is topic-partition-offset, failed messages are redelivered in process with
// backoff, exhausted ones are copied to a poison topic, and offsets are
// committed only once every earlier message of the partition is settled.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	kgo "github.com/segmentio/kafka-go"

	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/core/config"
	"github.com/tigerroll/tide/pkg/tide/core/metrics"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/queue"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// Reader is the part of *kgo.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kgo.Message, error)
	CommitMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// Writer is the part of *kgo.Writer the consumer and producer use.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// Header keys set on poisoned messages.
const (
	HeaderSourceID     = "tide-source-id"
	HeaderDequeueCount = "tide-dequeue-count"
	HeaderReason       = "tide-poison-reason"
)

type pending struct {
	msg          kgo.Message
	id           string
	dequeueCount int
	receipt      string
	leased       bool
	visibleAt    time.Time
	backOff      *backoff.ExponentialBackOff
}

type partitionOffsets struct {
	// inflight holds fetched offsets in fetch order.
	inflight []int64
	done     map[int64]kgo.Message
}

// Consumer implements port.Source over a consumer group.
type Consumer struct {
	reader   Reader
	poison   Writer
	policy   queue.Policy
	name     string
	recorder metrics.MetricRecorder

	mu         sync.Mutex
	pending    map[string]*pending
	partitions map[int]*partitionOffsets
}

// NewConsumer connects a group reader to cfg.Topic and a writer to the poison topic.
func NewConsumer(cfg config.QueueConfig, policy queue.Policy, recorder metrics.MetricRecorder) *Consumer {
	poisonTopic := cfg.Kafka.PoisonTopic
	if poisonTopic == "" {
		poisonTopic = cfg.Kafka.Topic + cfg.PoisonSuffix
	}
	reader := kgo.NewReader(kgo.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.Topic,
		GroupID:        cfg.Kafka.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits
	})
	writer := &kgo.Writer{
		Addr:         kgo.TCP(cfg.Kafka.Brokers...),
		Topic:        poisonTopic,
		Balancer:     &kgo.LeastBytes{},
		RequiredAcks: kgo.RequireOne,
	}
	logger.Infof("Kafka consumer for topic %s (group %s), poison topic %s", cfg.Kafka.Topic, cfg.Kafka.GroupID, poisonTopic)
	return NewConsumerWith(cfg.Kafka.Topic, reader, writer, policy, recorder)
}

// NewConsumerWith builds a Consumer over an existing reader and poison writer.
func NewConsumerWith(name string, reader Reader, poison Writer, policy queue.Policy, recorder metrics.MetricRecorder) *Consumer {
	if policy.PollInterval <= 0 {
		policy.PollInterval = 200 * time.Millisecond
	}
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &Consumer{
		reader:     reader,
		poison:     poison,
		policy:     policy,
		name:       name,
		recorder:   recorder,
		pending:    make(map[string]*pending),
		partitions: make(map[int]*partitionOffsets),
	}
}

// DeliveryID returns the identity of m, stable across in-process redeliveries.
func DeliveryID(m kgo.Message) string {
	return fmt.Sprintf("%s-%d-%d", m.Topic, m.Partition, m.Offset)
}

// Receive returns a due redelivery if there is one, otherwise the next fetched message.
func (c *Consumer) Receive(ctx context.Context) (*port.Delivery, error) {
	for {
		d, wait := c.dueRetry()
		if d != nil {
			return d, nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, wait)
		m, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return nil, err
		}
		return c.track(m), nil
	}
}

// dueRetry leases the earliest due redelivery, or reports how long the next
// fetch may block before a redelivery becomes due.
func (c *Consumer) dueRetry() (*port.Delivery, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	wait := c.policy.PollInterval * 5
	var due *pending
	for _, p := range c.pending {
		if p.leased {
			continue
		}
		if !p.visibleAt.After(now) {
			if due == nil || p.visibleAt.Before(due.visibleAt) {
				due = p
			}
			continue
		}
		if until := p.visibleAt.Sub(now); until < wait {
			wait = until
		}
	}
	if due == nil {
		return nil, wait
	}
	c.recorder.RecordRedelivery(context.Background(), c.name)
	return c.lease(due), 0
}

func (c *Consumer) track(m kgo.Message) *port.Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()

	po, ok := c.partitions[m.Partition]
	if !ok {
		po = &partitionOffsets{done: make(map[int64]kgo.Message)}
		c.partitions[m.Partition] = po
	}
	po.inflight = append(po.inflight, m.Offset)

	p := &pending{msg: m, id: DeliveryID(m), backOff: c.policy.NewBackOff()}
	c.pending[p.id] = p
	return c.lease(p)
}

// lease must be called with the lock held.
func (c *Consumer) lease(p *pending) *port.Delivery {
	p.dequeueCount++
	p.receipt = uuid.NewString()
	p.leased = true
	return &port.Delivery{
		ID:           p.id,
		Body:         p.msg.Value,
		DequeueCount: p.dequeueCount,
		InsertedAt:   p.msg.Time,
		Receipt:      p.receipt,
	}
}

func (c *Consumer) leased(d *port.Delivery) (*pending, error) {
	p, ok := c.pending[d.ID]
	if !ok || !p.leased || p.receipt != d.Receipt {
		return nil, fmt.Errorf("%w: message %s", queue.ErrStaleReceipt, d.ID)
	}
	return p, nil
}

// Ack settles the message so its offset can be committed.
func (c *Consumer) Ack(ctx context.Context, d *port.Delivery) error {
	c.mu.Lock()
	p, err := c.leased(d)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	delete(c.pending, p.id)
	commit := c.settle(p.msg)
	c.mu.Unlock()
	return c.commit(ctx, commit)
}

// Nack schedules an in-process redelivery, or writes the message to the
// poison topic once its attempts are exhausted. The offset is not committed
// until the poison write succeeded.
func (c *Consumer) Nack(ctx context.Context, d *port.Delivery, cause error) error {
	c.mu.Lock()
	p, err := c.leased(d)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if !c.policy.Exhausted(p.dequeueCount) {
		delay := p.backOff.NextBackOff()
		if delay == backoff.Stop {
			delay = c.policy.MaxInterval
		}
		p.leased = false
		p.receipt = ""
		p.visibleAt = time.Now().Add(delay)
		c.mu.Unlock()
		logger.Debugf("Kafka %s: message %s redelivered in %s (dequeue count %d)", c.name, p.id, delay, p.dequeueCount)
		return nil
	}
	c.mu.Unlock()

	if err := c.writePoison(ctx, p, cause); err != nil {
		c.mu.Lock()
		p.leased = false
		p.receipt = ""
		p.visibleAt = time.Now().Add(c.policy.MaxInterval)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	delete(c.pending, p.id)
	commit := c.settle(p.msg)
	c.mu.Unlock()
	c.recorder.RecordPoison(ctx, c.name)
	logger.Errorf("Kafka %s: message %s moved to poison topic after %d deliveries: %v", c.name, p.id, p.dequeueCount, cause)
	return c.commit(ctx, commit)
}

func (c *Consumer) writePoison(ctx context.Context, p *pending, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	msg := kgo.Message{
		Key:   p.msg.Key,
		Value: p.msg.Value,
		Time:  time.Now(),
		Headers: append(append([]kgo.Header(nil), p.msg.Headers...),
			kgo.Header{Key: HeaderSourceID, Value: []byte(p.id)},
			kgo.Header{Key: HeaderDequeueCount, Value: []byte(strconv.Itoa(p.dequeueCount))},
			kgo.Header{Key: HeaderReason, Value: []byte(reason)},
		),
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		return struct{}{}, c.poison.WriteMessages(wctx, msg)
	}, backoff.WithBackOff(c.policy.NewBackOff()), backoff.WithMaxTries(3))
	if err != nil {
		return fmt.Errorf("failed to write %s to poison topic: %w", p.id, err)
	}
	return nil
}

// settle marks m done and returns the last message of the contiguous settled
// prefix of its partition, if the prefix advanced. Must hold the lock.
func (c *Consumer) settle(m kgo.Message) *kgo.Message {
	po := c.partitions[m.Partition]
	if po == nil {
		return nil
	}
	po.done[m.Offset] = m

	var last *kgo.Message
	for len(po.inflight) > 0 {
		head, ok := po.done[po.inflight[0]]
		if !ok {
			break
		}
		delete(po.done, po.inflight[0])
		po.inflight = po.inflight[1:]
		last = &head
	}
	return last
}

func (c *Consumer) commit(ctx context.Context, m *kgo.Message) error {
	if m == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.reader.CommitMessages(cctx, *m); err != nil {
		return fmt.Errorf("failed to commit offset %d of partition %d: %w", m.Offset, m.Partition, err)
	}
	return nil
}

// Close closes the reader and the poison writer.
func (c *Consumer) Close() error {
	c.mu.Lock()
	n := len(c.pending)
	c.mu.Unlock()
	if n > 0 {
		logger.Warnf("Kafka %s: closing with %d unsettled messages, they will be redelivered", c.name, n)
	}
	rerr := c.reader.Close()
	werr := c.poison.Close()
	return errors.Join(rerr, werr)
}

var _ port.Source = (*Consumer)(nil)
