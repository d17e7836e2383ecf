// Package processor implements the work-resumption engine: it reconciles each
// queue delivery with the persisted status record of its identity and resumes,
// delegates or fails the work it describes.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/core/domain/model"
	"github.com/tigerroll/tide/pkg/tide/core/domain/repository"
	"github.com/tigerroll/tide/pkg/tide/core/metrics"
	"github.com/tigerroll/tide/pkg/tide/engine/cancellation"
	"github.com/tigerroll/tide/pkg/tide/support/util/exception"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
	"github.com/tigerroll/tide/pkg/tide/support/util/timeutil"
)

const module = "processor"

// MessageProcessor runs one delivery at a time per call. Distinct deliveries
// may be processed concurrently; they only meet in the store.
type MessageProcessor struct {
	store     repository.StatusStore
	checker   *cancellation.Checker
	simulator port.WorkSimulator
	workflow  port.WorkflowStarter
	clock     *timeutil.Clock
	partition string
	queueName string
	recorder  metrics.MetricRecorder
	tracer    metrics.Tracer
}

// NewMessageProcessor creates a MessageProcessor. store is expected to publish
// its writes (see status.PublishingStore). Nil recorder and tracer fall back
// to no-ops, and an empty partition to model.DefaultPartition.
func NewMessageProcessor(
	store repository.StatusStore,
	simulator port.WorkSimulator,
	workflow port.WorkflowStarter,
	clock *timeutil.Clock,
	partition string,
	queueName string,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *MessageProcessor {
	if partition == "" {
		partition = model.DefaultPartition
	}
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &MessageProcessor{
		store:     store,
		checker:   cancellation.NewChecker(store),
		simulator: simulator,
		workflow:  workflow,
		clock:     clock,
		partition: partition,
		queueName: queueName,
		recorder:  recorder,
		tracer:    tracer,
	}
}

// Handle processes a queue delivery. A nil error means the delivery may be
// acknowledged; any error asks the queue to redeliver it.
func (p *MessageProcessor) Handle(ctx context.Context, d *port.Delivery) error {
	ctx, end := p.tracer.StartDeliverySpan(ctx, p.queueName, d.ID, d.DequeueCount)
	defer end()

	start := time.Now()
	p.recorder.RecordDeliveryStart(ctx, p.queueName)

	outcome, err := p.process(ctx, d.ID, d.Body)
	if err != nil {
		outcome = metrics.OutcomeFailed
		p.tracer.RecordError(ctx, module, err)
	}
	p.recorder.RecordDeliveryEnd(ctx, p.queueName, outcome, time.Since(start))
	p.tracer.RecordEvent(ctx, "delivery.end", map[string]interface{}{
		"outcome":      outcome,
		"dequeueCount": d.DequeueCount,
	})
	return err
}

// Process handles the payload body delivered under rowKey.
func (p *MessageProcessor) Process(ctx context.Context, rowKey string, body []byte) error {
	_, err := p.process(ctx, rowKey, body)
	return err
}

func (p *MessageProcessor) process(ctx context.Context, rowKey string, body []byte) (string, error) {
	logger.Infof(">----> mId: %s | Message received", rowKey)

	msg, err := model.DecodeMessage(body)
	if err != nil {
		logger.Warnf("Received a message that could not be deserialized | mId: %s: %v", rowKey, err)
		return metrics.OutcomeDropped, nil
	}
	data := msg.DataOrEmpty()

	rec, resumed, err := p.reconcile(ctx, rowKey, msg, string(body))
	if err != nil {
		return "", err
	}
	if rec == nil {
		// Cancelled before this delivery.
		return metrics.OutcomeCancelled, nil
	}
	if resumed && rec.IsTerminal() {
		logger.Infof("mId: %s | %s | already %s, nothing to resume", rowKey, data, rec.Status)
		return metrics.OutcomeSkipped, nil
	}
	if resumed {
		rec.Status = model.StatusResuming
		rec.AttemptCount++
		rec.LastTimeWorkStarted = p.clock.Now()
		if err := p.store.Upsert(ctx, rec); err != nil {
			return "", err
		}
	}

	switch {
	case msg.RaiseDurableFunction:
		return p.delegate(ctx, rec, data)
	case msg.RaiseException:
		return p.raise(ctx, rec, data)
	default:
		return p.simulateWork(ctx, rec, data, msg.WaitPeriod)
	}
}

// reconcile loads the record of rowKey or creates it. It returns a nil record
// when the existing record was found cancelled, and resumed=true when the
// record existed before this delivery.
func (p *MessageProcessor) reconcile(ctx context.Context, rowKey string, msg *model.Message, raw string) (*model.StatusRecord, bool, error) {
	rec, err := p.store.Get(ctx, p.partition, rowKey)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrStatusNotFound):
		rec = nil
	case exception.IsStoreUnavailable(err):
		logger.Errorf("Failed to get status for RowKey: %s, treating it as absent: %v", rowKey, err)
		rec = nil
	default:
		return nil, false, err
	}

	if rec == nil {
		rec = model.NewStatusRecord(p.partition, rowKey, msg, raw, p.clock.Now())
		err := p.store.Create(ctx, rec)
		if err == nil {
			return rec, false, nil
		}
		if !exception.IsConflict(err) {
			return nil, false, err
		}
		logger.Warnf("Status with PartitionKey '%s' and RowKey '%s' already exists. Fetching existing record.", p.partition, rowKey)
		if rec, err = p.store.Get(ctx, p.partition, rowKey); err != nil {
			return nil, false, err
		}
	}

	if rec.IsTerminal() && rec.Status != model.StatusCancelled {
		// A late cancel flag never reopens finished work.
		return rec, true, nil
	}
	cancelled, err := p.checker.CheckAndFinalize(ctx, rec)
	if err != nil {
		return nil, false, err
	}
	if cancelled {
		return nil, true, nil
	}
	return rec, true, nil
}

func (p *MessageProcessor) delegate(ctx context.Context, rec *model.StatusRecord, data string) (string, error) {
	logger.Infof("[DF] >--S--> mId: %s | %s", rec.RowKey, data)
	instanceID, err := p.workflow.Start(ctx, data)
	if err != nil {
		return "", exception.NewTideError(module, fmt.Sprintf("failed to start workflow for mId %s", rec.RowKey), err, true)
	}
	logger.Infof("[DF] <--F--< mId: %s | %s | Dfid: %s", rec.RowKey, data, instanceID)

	rec.Status = model.StatusDelegateCompleted
	if err := p.store.Upsert(ctx, rec); err != nil {
		return "", err
	}
	return metrics.OutcomeDelegated, nil
}

func (p *MessageProcessor) raise(ctx context.Context, rec *model.StatusRecord, data string) (string, error) {
	logger.Infof("[EX] >--S--> mId: %s | %s | #%d", rec.RowKey, data, rec.AttemptCount)
	if err := p.store.Upsert(ctx, rec); err != nil {
		return "", err
	}
	return "", exception.NewSimulatedFailure(module, fmt.Sprintf("[EX] Simulated exception for message: mId: %s | %s", rec.RowKey, data))
}

// simulateWork runs the resumption loop. Every iteration starts a simulator
// run without waiting for it, then reads the record back from the store so a
// cancel flag raised elsewhere is seen within one iteration.
func (p *MessageProcessor) simulateWork(ctx context.Context, rec *model.StatusRecord, data string, scheduled int) (string, error) {
	rowKey := rec.RowKey
	attempt := rec.AttemptCount

	for rec.HasRemainingWork() {
		logger.Infof("[SW] >--S--> mId: %s | %s | #%d | Completed %d | Scheduled %d", rowKey, data, attempt, rec.CompletedWorkEffort, scheduled)
		go p.simulator.Run(rec.CompletedWorkEffort)

		fresh, err := p.store.Get(ctx, p.partition, rowKey)
		if errors.Is(err, repository.ErrStatusNotFound) {
			vanished := exception.NewStatusVanishedError(module, fmt.Sprintf("status not found for RowKey (Message ID): %s", rowKey))
			logger.Errorf("INTERNAL ERROR: %v", vanished)
			p.tracer.RecordError(ctx, module, vanished)
			return metrics.OutcomeAborted, nil
		}
		if err != nil {
			return "", err
		}

		if fresh.IsTerminal() && fresh.Status != model.StatusCancelled {
			logger.Infof("[SW] mId: %s | %s | finished elsewhere as %s", rowKey, data, fresh.Status)
			return metrics.OutcomeSkipped, nil
		}
		cancelled, err := p.checker.CheckAndFinalize(ctx, fresh)
		if err != nil {
			return "", err
		}
		if cancelled {
			return metrics.OutcomeCancelled, nil
		}
		if fresh.IsTerminal() {
			return metrics.OutcomeSkipped, nil
		}
		if !fresh.HasRemainingWork() {
			rec = fresh
			break
		}

		fresh.CompletedWorkEffort++
		if err := p.store.Upsert(ctx, fresh); err != nil {
			return "", err
		}
		p.recorder.RecordWorkUnit(ctx)
		rec = fresh
	}

	logger.Infof("[SW] <--F--< mId: %s | %s | #%d | Scheduled %d", rowKey, data, attempt, scheduled)
	rec.Status = model.StatusWorkCompleted
	if err := p.store.Upsert(ctx, rec); err != nil {
		return "", err
	}
	return metrics.OutcomeCompleted, nil
}

var _ port.Handler = (*MessageProcessor)(nil)
