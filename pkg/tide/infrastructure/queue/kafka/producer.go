package kafka

import (
	"context"
	"time"

	"github.com/google/uuid"
	kgo "github.com/segmentio/kafka-go"

	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/core/config"
)

// Producer enqueues messages on the work topic.
type Producer struct {
	writer  Writer
	timeout time.Duration
}

// NewProducer creates a producer for cfg.Kafka.Topic.
func NewProducer(cfg config.QueueConfig) *Producer {
	return NewProducerWith(&kgo.Writer{
		Addr:         kgo.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topic,
		Balancer:     &kgo.LeastBytes{},
		RequiredAcks: kgo.RequireOne,
	})
}

// NewProducerWith wraps an existing writer.
func NewProducerWith(w Writer) *Producer {
	return &Producer{writer: w, timeout: 3 * time.Second}
}

// Enqueue writes body to the topic. The delivery identity is assigned by the
// broker, so the returned id is empty.
func (p *Producer) Enqueue(ctx context.Context, body []byte) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return "", p.writer.WriteMessages(cctx, kgo.Message{
		Key:   []byte(uuid.NewString()),
		Value: body,
		Time:  time.Now(),
	})
}

// Close closes the writer.
func (p *Producer) Close() error { return p.writer.Close() }

var _ port.Enqueuer = (*Producer)(nil)
