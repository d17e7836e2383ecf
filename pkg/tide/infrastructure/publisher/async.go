// Package publisher delivers status snapshots to viewers and archives. The
// engine hands snapshots to AsyncPublisher, which forwards them to the real
// sinks from a single background goroutine.
package publisher

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/core/domain/model"
	"github.com/tigerroll/tide/pkg/tide/core/metrics"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// DefaultBufferSize is used when the configured buffer size is not positive.
const DefaultBufferSize = 256

// AsyncPublisher queues snapshots and forwards them to sink in order.
// Publish never blocks: when the queue is full the snapshot is discarded.
type AsyncPublisher struct {
	queue    chan *model.StatusRecord
	stopCh   chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
	sink     port.StatusPublisher
	recorder metrics.MetricRecorder
}

// NewAsyncPublisher creates an AsyncPublisher and starts its worker goroutine.
func NewAsyncPublisher(bufferSize int, sink port.StatusPublisher, recorder metrics.MetricRecorder) *AsyncPublisher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	p := &AsyncPublisher{
		queue:    make(chan *model.StatusRecord, bufferSize),
		stopCh:   make(chan struct{}),
		sink:     sink,
		recorder: recorder,
	}
	p.wg.Add(1)
	go p.run()
	logger.Debugf("AsyncPublisher: worker goroutine started (buffer size: %d).", bufferSize)
	return p
}

func (p *AsyncPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case rec := <-p.queue:
			p.forward(rec)
		case <-p.stopCh:
			remaining := len(p.queue)
			for i := 0; i < remaining; i++ {
				p.forward(<-p.queue)
			}
			logger.Debugf("AsyncPublisher: worker goroutine stopped. Forwarded %d remaining snapshots.", remaining)
			return
		}
	}
}

func (p *AsyncPublisher) forward(rec *model.StatusRecord) {
	// Snapshots outlive the delivery that produced them.
	ctx := context.Background()
	logger.Debugf("Sending status update for RowKey: %s, Status: %s", rec.RowKey, rec.Status)
	if err := p.sink.Publish(ctx, rec); err != nil {
		p.recorder.RecordPublish(ctx, metrics.PublishFailed)
		logger.Warnf("AsyncPublisher: failed to publish RowKey: %s, Status: %s: %v", rec.RowKey, rec.Status, err)
		return
	}
	p.recorder.RecordPublish(ctx, metrics.PublishSent)
}

// Publish enqueues a copy of rec.
func (p *AsyncPublisher) Publish(ctx context.Context, rec *model.StatusRecord) error {
	if p.closed.Load() {
		p.recorder.RecordPublish(ctx, metrics.PublishDropped)
		logger.Warnf("AsyncPublisher: closed, snapshot for RowKey: %s discarded.", rec.RowKey)
		return nil
	}
	select {
	case p.queue <- rec.Clone():
	default:
		p.recorder.RecordPublish(ctx, metrics.PublishDropped)
		logger.Warnf("AsyncPublisher: queue is full (RowKey: %s, Status: %s). Snapshot discarded.", rec.RowKey, rec.Status)
	}
	return nil
}

// Close stops accepting snapshots, forwards what is queued and waits for the worker.
func (p *AsyncPublisher) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	logger.Debugf("AsyncPublisher: sending shutdown signal...")
	close(p.stopCh)
	p.wg.Wait()
	logger.Debugf("AsyncPublisher: shutdown complete.")
}

var _ port.StatusPublisher = (*AsyncPublisher)(nil)
