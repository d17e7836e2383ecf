package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/support/util/exception"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// Dispatcher runs workers that receive deliveries from a Source and hand
// them to a Handler. A nil error acks the delivery, anything else nacks it.
type Dispatcher struct {
	source  port.Source
	handler port.Handler
	workers int
	name    string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with the given number of workers.
func NewDispatcher(name string, source port.Source, handler port.Handler, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{source: source, handler: handler, workers: workers, name: name}
}

// Start launches the workers and returns immediately.
func (d *Dispatcher) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	d.running = true

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	logger.Infof("Dispatcher %s starting with %d workers", d.name, d.workers)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.loop(ctx, i)
	}
	return nil
}

// Stop stops receiving and waits for in-flight deliveries until ctx is done.
// Deliveries still running then are abandoned to their lease.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Infof("Dispatcher %s stopped gracefully", d.name)
		return nil
	case <-ctx.Done():
		logger.Warnf("Dispatcher %s shutdown timed out", d.name)
		return ctx.Err()
	}
}

func (d *Dispatcher) loop(ctx context.Context, worker int) {
	defer d.wg.Done()
	for {
		delivery, err := d.source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Dispatcher %s worker %d: receive failed: %v", d.name, worker, err)
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}
		d.dispatch(ctx, delivery)
	}
}

// dispatch runs one delivery. The handler gets a context that survives Stop
// so a delivery in flight is not cut short between two store writes.
func (d *Dispatcher) dispatch(ctx context.Context, delivery *port.Delivery) {
	err := d.invoke(context.WithoutCancel(ctx), delivery)
	settleCtx := context.WithoutCancel(ctx)
	if err == nil {
		if ackErr := d.source.Ack(settleCtx, delivery); ackErr != nil {
			logAckFailure(d.name, "ack", delivery, ackErr)
		}
		return
	}

	logger.Warnf("Dispatcher %s: delivery %s (#%d) failed: %v", d.name, delivery.ID, delivery.DequeueCount, exception.ExtractErrorMessage(err))
	if nackErr := d.source.Nack(settleCtx, delivery, err); nackErr != nil {
		logAckFailure(d.name, "nack", delivery, nackErr)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, delivery *port.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = exception.NewTideError("dispatcher", fmt.Sprintf("handler panicked on delivery %s", delivery.ID), fmt.Errorf("%v", r), true)
		}
	}()
	return d.handler.Handle(ctx, delivery)
}

func logAckFailure(name, op string, delivery *port.Delivery, err error) {
	if errors.Is(err, ErrStaleReceipt) {
		logger.Warnf("Dispatcher %s: %s of delivery %s skipped, lease was lost", name, op, delivery.ID)
		return
	}
	logger.Errorf("Dispatcher %s: %s of delivery %s failed: %v", name, op, delivery.ID, err)
}
