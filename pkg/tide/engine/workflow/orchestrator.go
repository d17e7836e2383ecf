// Package workflow runs the sub-workflow that deliveries delegate to: a chain
// of greeting activities executed in the background, one instance per Start.
package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// InstanceStatus is the runtime state of a workflow instance.
type InstanceStatus string

const (
	StatusPending   InstanceStatus = "Pending"
	StatusRunning   InstanceStatus = "Running"
	StatusCompleted InstanceStatus = "Completed"
	StatusFailed    InstanceStatus = "Failed"
	StatusCancelled InstanceStatus = "Cancelled"
)

// Instance is a snapshot of one workflow run.
type Instance struct {
	ID          string         `json:"instanceId"`
	Input       string         `json:"input"`
	Status      InstanceStatus `json:"runtimeStatus"`
	Output      []string       `json:"output"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdTime"`
	CompletedAt time.Time      `json:"lastUpdatedTime"`
}

// Activity is one step of the workflow.
type Activity func(ctx context.Context, name string) (string, error)

// SayHello greets name.
func SayHello(ctx context.Context, name string) (string, error) {
	logger.Infof("Saying hello to %s.", name)
	return fmt.Sprintf("Hello %s!", name), nil
}

// Orchestrator starts instances and keeps their state queryable.
type Orchestrator struct {
	names    []string
	delay    time.Duration
	activity Activity

	mu        sync.RWMutex
	instances map[string]*Instance

	// lifeMu orders wg.Add in Start against Stop.
	lifeMu  sync.Mutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator calling SayHello once per name,
// pausing delay between activities.
func NewOrchestrator(names []string, delay time.Duration) *Orchestrator {
	return NewOrchestratorWithActivity(names, delay, SayHello)
}

// NewOrchestratorWithActivity is NewOrchestrator with a custom activity.
func NewOrchestratorWithActivity(names []string, delay time.Duration, activity Activity) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		names:     append([]string(nil), names...),
		delay:     delay,
		activity:  activity,
		instances: make(map[string]*Instance),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules a new instance with data as input and returns its id.
// The instance runs detached from ctx.
func (o *Orchestrator) Start(ctx context.Context, data string) (string, error) {
	o.lifeMu.Lock()
	if o.stopped {
		o.lifeMu.Unlock()
		return "", fmt.Errorf("orchestrator is stopped: %w", context.Canceled)
	}
	o.wg.Add(1)
	o.lifeMu.Unlock()

	inst := &Instance{
		ID:        uuid.NewString(),
		Input:     data,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	o.mu.Lock()
	o.instances[inst.ID] = inst
	o.mu.Unlock()

	go o.run(inst.ID, data)
	return inst.ID, nil
}

func (o *Orchestrator) run(id, input string) {
	defer o.wg.Done()
	logger.Infof("Input Received: %s (instance %s)", input, id)
	o.update(id, func(i *Instance) { i.Status = StatusRunning })

	outputs := make([]string, 0, len(o.names))
	for idx, name := range o.names {
		if idx > 0 && o.delay > 0 {
			select {
			case <-time.After(o.delay):
			case <-o.ctx.Done():
				o.finish(id, StatusCancelled, outputs, o.ctx.Err())
				return
			}
		}
		out, err := o.activity(o.ctx, name)
		if err != nil {
			o.finish(id, StatusFailed, outputs, err)
			return
		}
		outputs = append(outputs, out)
	}
	o.finish(id, StatusCompleted, outputs, nil)
}

func (o *Orchestrator) finish(id string, status InstanceStatus, outputs []string, err error) {
	o.update(id, func(i *Instance) {
		i.Status = status
		i.Output = outputs
		i.CompletedAt = time.Now().UTC()
		if err != nil {
			i.Error = err.Error()
		}
	})
	if err != nil {
		logger.Warnf("Workflow instance %s ended %s: %v", id, status, err)
		return
	}
	logger.Infof("Workflow instance %s completed: %v", id, outputs)
}

func (o *Orchestrator) update(id string, fn func(*Instance)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if inst, ok := o.instances[id]; ok {
		fn(inst)
	}
}

// Get returns a copy of the instance.
func (o *Orchestrator) Get(id string) (*Instance, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	inst, ok := o.instances[id]
	if !ok {
		return nil, false
	}
	c := *inst
	c.Output = append([]string(nil), inst.Output...)
	return &c, true
}

// List returns copies of all instances, newest first.
func (o *Orchestrator) List() []*Instance {
	o.mu.RLock()
	ids := make([]string, 0, len(o.instances))
	for id := range o.instances {
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	result := make([]*Instance, 0, len(ids))
	for _, id := range ids {
		if inst, ok := o.Get(id); ok {
			result = append(result, inst)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result
}

// Stop cancels running instances and waits for them until ctx is done.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.lifeMu.Lock()
	o.stopped = true
	o.lifeMu.Unlock()
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
