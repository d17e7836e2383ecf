package metrics

import (
	"context"
	"time"
)

// CompositeRecorder fans every call out to several recorders.
type CompositeRecorder struct {
	recorders []MetricRecorder
}

// NewCompositeRecorder skips nil recorders.
func NewCompositeRecorder(recorders ...MetricRecorder) *CompositeRecorder {
	c := &CompositeRecorder{}
	for _, r := range recorders {
		if r != nil {
			c.recorders = append(c.recorders, r)
		}
	}
	return c
}

func (c *CompositeRecorder) RecordDeliveryStart(ctx context.Context, queue string) {
	for _, r := range c.recorders {
		r.RecordDeliveryStart(ctx, queue)
	}
}

func (c *CompositeRecorder) RecordDeliveryEnd(ctx context.Context, queue, outcome string, duration time.Duration) {
	for _, r := range c.recorders {
		r.RecordDeliveryEnd(ctx, queue, outcome, duration)
	}
}

func (c *CompositeRecorder) RecordWorkUnit(ctx context.Context) {
	for _, r := range c.recorders {
		r.RecordWorkUnit(ctx)
	}
}

func (c *CompositeRecorder) RecordStatusWrite(ctx context.Context, status string) {
	for _, r := range c.recorders {
		r.RecordStatusWrite(ctx, status)
	}
}

func (c *CompositeRecorder) RecordPublish(ctx context.Context, result string) {
	for _, r := range c.recorders {
		r.RecordPublish(ctx, result)
	}
}

func (c *CompositeRecorder) RecordRedelivery(ctx context.Context, queue string) {
	for _, r := range c.recorders {
		r.RecordRedelivery(ctx, queue)
	}
}

func (c *CompositeRecorder) RecordPoison(ctx context.Context, queue string) {
	for _, r := range c.recorders {
		r.RecordPoison(ctx, queue)
	}
}

var _ MetricRecorder = (*CompositeRecorder)(nil)
