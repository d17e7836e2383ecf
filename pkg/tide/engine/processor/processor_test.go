package processor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	testify_mock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/core/domain/model"
	"github.com/tigerroll/tide/pkg/tide/core/domain/repository"
	"github.com/tigerroll/tide/pkg/tide/core/metrics"
	"github.com/tigerroll/tide/pkg/tide/engine/processor"
	"github.com/tigerroll/tide/pkg/tide/engine/status"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/repository/inmemory"
	"github.com/tigerroll/tide/pkg/tide/support/util/exception"
	"github.com/tigerroll/tide/pkg/tide/support/util/timeutil"
)

type snapshot struct {
	Status    string
	Completed int
	Attempt   int
}

type recordingPublisher struct {
	mu        sync.Mutex
	snapshots []snapshot
}

func (r *recordingPublisher) Publish(ctx context.Context, rec *model.StatusRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, snapshot{rec.Status, rec.CompletedWorkEffort, rec.AttemptCount})
	return nil
}

func (r *recordingPublisher) all() []snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]snapshot(nil), r.snapshots...)
}

type countingSimulator struct {
	mu    sync.Mutex
	calls []int
}

func (s *countingSimulator) Run(intensity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, intensity)
}

type blockingSimulator struct {
	release chan struct{}
}

func (s *blockingSimulator) Run(int) {
	<-s.release
}

type mockStarter struct {
	testify_mock.Mock
}

func (m *mockStarter) Start(ctx context.Context, data string) (string, error) {
	args := m.Called(ctx, data)
	return args.String(0), args.Error(1)
}

// hookStore lets a test interfere with store calls made by the processor.
type hookStore struct {
	repository.StatusStore
	mu         sync.Mutex
	gets       int
	creates    int
	beforeGet  func(call int) error
	beforeSave func(rec *model.StatusRecord) error
}

func (h *hookStore) Get(ctx context.Context, partitionKey, rowKey string) (*model.StatusRecord, error) {
	h.mu.Lock()
	h.gets++
	call := h.gets
	hook := h.beforeGet
	h.mu.Unlock()
	if hook != nil {
		if err := hook(call); err != nil {
			return nil, err
		}
	}
	return h.StatusStore.Get(ctx, partitionKey, rowKey)
}

func (h *hookStore) Create(ctx context.Context, rec *model.StatusRecord) error {
	h.mu.Lock()
	h.creates++
	h.mu.Unlock()
	return h.StatusStore.Create(ctx, rec)
}

func (h *hookStore) Upsert(ctx context.Context, rec *model.StatusRecord) error {
	if h.beforeSave != nil {
		if err := h.beforeSave(rec); err != nil {
			return err
		}
	}
	return h.StatusStore.Upsert(ctx, rec)
}

type outcomeRecorder struct {
	metrics.MetricRecorder
	mu       sync.Mutex
	outcomes []string
	units    int
}

func (o *outcomeRecorder) RecordDeliveryEnd(ctx context.Context, queue, outcome string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *outcomeRecorder) RecordWorkUnit(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.units++
}

type fixture struct {
	raw       *inmemory.StatusStore
	hooks     *hookStore
	publisher *recordingPublisher
	starter   *mockStarter
	recorder  *outcomeRecorder
	proc      *processor.MessageProcessor
}

func newFixture(t *testing.T, sim port.WorkSimulator) *fixture {
	t.Helper()
	clock := timeutil.NewFixedClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	raw := inmemory.NewStatusStore(clock)
	hooks := &hookStore{StatusStore: raw}
	pub := &recordingPublisher{}
	recorder := &outcomeRecorder{MetricRecorder: metrics.NewNoOpMetricRecorder()}
	store := status.NewPublishingStore(hooks, pub, nil)
	starter := &mockStarter{}
	if sim == nil {
		sim = &countingSimulator{}
	}
	return &fixture{
		raw:       raw,
		hooks:     hooks,
		publisher: pub,
		starter:   starter,
		recorder:  recorder,
		proc:      processor.NewMessageProcessor(store, sim, starter, clock, "", "tide-queue-items", recorder, nil),
	}
}

func (f *fixture) record(t *testing.T, rowKey string) *model.StatusRecord {
	t.Helper()
	rec, err := f.raw.Get(context.Background(), model.DefaultPartition, rowKey)
	require.NoError(t, err)
	return rec
}

func TestProcess_SimulateWorkPublishesEveryStep(t *testing.T) {
	f := newFixture(t, nil)

	err := f.proc.Process(context.Background(), "m1", []byte(`{"waitPeriod":3,"data":"x"}`))
	require.NoError(t, err)

	rec := f.record(t, "m1")
	assert.Equal(t, model.StatusWorkCompleted, rec.Status)
	assert.Equal(t, 3, rec.InitialWorkEffort)
	assert.Equal(t, 3, rec.CompletedWorkEffort)
	assert.Equal(t, model.AttemptCountInitial, rec.AttemptCount)
	assert.Equal(t, "x", rec.Data)
	assert.Equal(t, 100, rec.CompletedPercent())

	assert.Equal(t, []snapshot{
		{model.StatusStarting, 0, 1},
		{model.StatusStarting, 1, 1},
		{model.StatusStarting, 2, 1},
		{model.StatusStarting, 3, 1},
		{model.StatusWorkCompleted, 3, 1},
	}, f.publisher.all())
}

func TestProcess_ZeroEffortCompletesImmediately(t *testing.T) {
	sim := &countingSimulator{}
	f := newFixture(t, sim)

	require.NoError(t, f.proc.Process(context.Background(), "m0", []byte(`{"waitPeriod":-4}`)))

	rec := f.record(t, "m0")
	assert.Equal(t, model.StatusWorkCompleted, rec.Status)
	assert.Equal(t, 0, rec.InitialWorkEffort)
	assert.Equal(t, 0, rec.CompletedPercent())
	assert.Len(t, f.publisher.all(), 2)
}

func TestProcess_RaiseExceptionFailsWithoutLoopWrites(t *testing.T) {
	f := newFixture(t, nil)
	body := []byte(`{"waitPeriod":5,"raiseException":true,"data":"boom"}`)

	err := f.proc.Process(context.Background(), "m2", body)
	require.Error(t, err)
	assert.True(t, exception.IsSimulatedFailure(err))
	assert.True(t, exception.IsRetryable(err))

	rec := f.record(t, "m2")
	assert.Equal(t, model.StatusStarting, rec.Status)
	assert.Equal(t, 0, rec.CompletedWorkEffort)
	for _, s := range f.publisher.all() {
		assert.Equal(t, 0, s.Completed)
	}

	// Each redelivery resumes once more.
	for i := 0; i < 2; i++ {
		err = f.proc.Process(context.Background(), "m2", body)
		assert.True(t, exception.IsSimulatedFailure(err))
	}
	rec = f.record(t, "m2")
	assert.Equal(t, model.StatusResuming, rec.Status)
	assert.Equal(t, 3, rec.AttemptCount)
	assert.Equal(t, 0, rec.CompletedWorkEffort)
}

func TestProcess_DelegateStartsWorkflowOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.starter.On("Start", testify_mock.Anything, "y").Return("instance-1", nil).Once()

	err := f.proc.Process(context.Background(), "m3", []byte(`{"waitPeriod":4,"raiseDurableFunction":true,"raiseException":true,"data":"y"}`))
	require.NoError(t, err)

	f.starter.AssertExpectations(t)
	rec := f.record(t, "m3")
	assert.Equal(t, model.StatusDelegateCompleted, rec.Status)
	assert.Equal(t, 0, rec.CompletedWorkEffort)
	assert.Equal(t, []snapshot{
		{model.StatusStarting, 0, 1},
		{model.StatusDelegateCompleted, 0, 1},
	}, f.publisher.all())
}

func TestProcess_DecodeFailureIsDropped(t *testing.T) {
	f := newFixture(t, nil)

	for _, body := range []string{"not json", "[1,2]", `{"waitPeriod":"three"}`, ""} {
		require.NoError(t, f.proc.Process(context.Background(), "bad", []byte(body)), body)
	}

	assert.Empty(t, f.publisher.all())
	assert.Equal(t, 0, f.hooks.creates)
	_, err := f.raw.Get(context.Background(), model.DefaultPartition, "bad")
	assert.ErrorIs(t, err, repository.ErrStatusNotFound)
}

func TestProcess_ResumesFromPersistedProgress(t *testing.T) {
	f := newFixture(t, nil)
	failed := false
	f.hooks.beforeSave = func(rec *model.StatusRecord) error {
		if rec.CompletedWorkEffort == 2 && !failed {
			failed = true
			return exception.NewStoreUnavailable("test", "write timed out", nil)
		}
		return nil
	}
	body := []byte(`{"waitPeriod":4,"data":"r"}`)

	err := f.proc.Process(context.Background(), "m4", body)
	require.Error(t, err)
	assert.True(t, exception.IsStoreUnavailable(err))
	rec := f.record(t, "m4")
	assert.Equal(t, 1, rec.CompletedWorkEffort)

	require.NoError(t, f.proc.Process(context.Background(), "m4", body))
	rec = f.record(t, "m4")
	assert.Equal(t, model.StatusWorkCompleted, rec.Status)
	assert.Equal(t, 2, rec.AttemptCount)
	assert.Equal(t, 4, rec.CompletedWorkEffort)
	assert.Equal(t, 4, rec.InitialWorkEffort)
}

func TestProcess_CompletedRecordIsNotResumed(t *testing.T) {
	f := newFixture(t, nil)
	body := []byte(`{"waitPeriod":1}`)
	require.NoError(t, f.proc.Process(context.Background(), "m5", body))
	published := len(f.publisher.all())

	require.NoError(t, f.proc.Process(context.Background(), "m5", body))

	rec := f.record(t, "m5")
	assert.Equal(t, model.StatusWorkCompleted, rec.Status)
	assert.Equal(t, 1, rec.AttemptCount)
	assert.Len(t, f.publisher.all(), published)
}

func TestProcess_LateCancelFlagKeepsCompletedStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	body := []byte(`{"waitPeriod":1}`)
	require.NoError(t, f.proc.Process(ctx, "m5c", body))

	// The flag lands after the work already finished.
	done := f.record(t, "m5c")
	done.CancelOperation = true
	require.NoError(t, f.raw.Upsert(ctx, done))
	published := len(f.publisher.all())

	require.NoError(t, f.proc.Handle(ctx, &port.Delivery{ID: "m5c", Body: body, DequeueCount: 2}))

	rec := f.record(t, "m5c")
	assert.Equal(t, model.StatusWorkCompleted, rec.Status)
	assert.Equal(t, 1, rec.CompletedWorkEffort)
	assert.Equal(t, model.AttemptCountInitial, rec.AttemptCount)
	assert.Len(t, f.publisher.all(), published)
	assert.Equal(t, []string{metrics.OutcomeSkipped}, f.recorder.outcomes)
}

func TestProcess_RedeliveryWithoutProgressCountsOneAttemptEach(t *testing.T) {
	f := newFixture(t, nil)
	var mu sync.Mutex
	resumingWrites := 0
	// Every first unit write times out, so no delivery makes progress.
	f.hooks.beforeSave = func(rec *model.StatusRecord) error {
		if rec.CompletedWorkEffort == 1 {
			return exception.NewStoreUnavailable("test", "write timed out", nil)
		}
		if rec.Status == model.StatusResuming {
			mu.Lock()
			resumingWrites++
			mu.Unlock()
		}
		return nil
	}
	body := []byte(`{"waitPeriod":3,"data":"idem"}`)

	for delivery := 1; delivery <= 3; delivery++ {
		err := f.proc.Process(context.Background(), "m13", body)
		require.Error(t, err)
		assert.True(t, exception.IsStoreUnavailable(err))

		rec := f.record(t, "m13")
		assert.Equal(t, delivery, rec.AttemptCount)
		assert.Equal(t, 0, rec.CompletedWorkEffort)
		assert.Equal(t, 3, rec.InitialWorkEffort)
		mu.Lock()
		assert.Equal(t, delivery-1, resumingWrites)
		mu.Unlock()
	}

	assert.Equal(t, model.StatusResuming, f.record(t, "m13").Status)
	assert.Equal(t, []snapshot{
		{model.StatusStarting, 0, 1},
		{model.StatusResuming, 0, 2},
		{model.StatusResuming, 0, 3},
	}, f.publisher.all())
	assert.Equal(t, 1, f.hooks.creates)
}

func TestProcess_CancelledBeforeDelivery(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec := &model.StatusRecord{PartitionKey: model.DefaultPartition, RowKey: "m6", Status: model.StatusResuming,
		AttemptCount: 2, InitialWorkEffort: 5, CompletedWorkEffort: 1, CancelOperation: true}
	require.NoError(t, f.raw.Create(ctx, rec))

	require.NoError(t, f.proc.Process(ctx, "m6", []byte(`{"waitPeriod":5}`)))

	got := f.record(t, "m6")
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Equal(t, 1, got.CompletedWorkEffort)
	assert.Equal(t, []snapshot{{model.StatusCancelled, 1, 2}}, f.publisher.all())
}

func TestProcess_CancellationObservedWithinOneIteration(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	// An external actor raises the flag right after the first unit is saved.
	f.hooks.beforeGet = func(call int) error {
		if call != 3 {
			return nil
		}
		current, err := f.raw.Get(ctx, model.DefaultPartition, "m7")
		if err != nil {
			return err
		}
		current.CancelOperation = true
		return f.raw.Upsert(ctx, current)
	}

	require.NoError(t, f.proc.Process(ctx, "m7", []byte(`{"waitPeriod":10}`)))

	rec := f.record(t, "m7")
	assert.Equal(t, model.StatusCancelled, rec.Status)
	assert.True(t, rec.CancelOperation)
	assert.Equal(t, 1, rec.CompletedWorkEffort)

	snaps := f.publisher.all()
	require.NotEmpty(t, snaps)
	last := snaps[len(snaps)-1]
	assert.Equal(t, snapshot{model.StatusCancelled, 1, 1}, last)
	cancelledWrites := 0
	for _, s := range snaps {
		if s.Status == model.StatusCancelled {
			cancelledWrites++
		}
	}
	assert.Equal(t, 1, cancelledWrites)
}

func TestProcess_DoesNotWaitForSimulator(t *testing.T) {
	sim := &blockingSimulator{release: make(chan struct{})}
	t.Cleanup(func() { close(sim.release) })
	f := newFixture(t, sim)

	done := make(chan error, 1)
	go func() {
		done <- f.proc.Process(context.Background(), "m8", []byte(`{"waitPeriod":3}`))
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("work loop blocked on the simulator")
	}
	assert.Equal(t, 3, f.record(t, "m8").CompletedWorkEffort)
}

func TestProcess_SimulatorIntensityFollowsProgress(t *testing.T) {
	sim := &countingSimulator{}
	f := newFixture(t, sim)

	require.NoError(t, f.proc.Process(context.Background(), "m9", []byte(`{"waitPeriod":3}`)))

	assert.Eventually(t, func() bool {
		sim.mu.Lock()
		defer sim.mu.Unlock()
		return len(sim.calls) == 3
	}, time.Second, 5*time.Millisecond)
	sim.mu.Lock()
	defer sim.mu.Unlock()
	assert.ElementsMatch(t, []int{0, 1, 2}, sim.calls)
}

func TestProcess_VanishedRecordAbortsWithoutRecreate(t *testing.T) {
	f := newFixture(t, nil)
	f.hooks.beforeGet = func(call int) error {
		if call == 2 {
			return repository.ErrStatusNotFound
		}
		return nil
	}

	require.NoError(t, f.proc.Process(context.Background(), "m10", []byte(`{"waitPeriod":2}`)))

	assert.Equal(t, 1, f.hooks.creates)
	rec := f.record(t, "m10")
	assert.Equal(t, model.StatusStarting, rec.Status)
	assert.Equal(t, 0, rec.CompletedWorkEffort)
	assert.Len(t, f.publisher.all(), 1)
}

func TestProcess_ConcurrentWriterFailsDelivery(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	interfered := false
	f.hooks.beforeSave = func(rec *model.StatusRecord) error {
		if rec.CompletedWorkEffort != 1 || interfered {
			return nil
		}
		interfered = true
		current, err := f.raw.Get(ctx, model.DefaultPartition, rec.RowKey)
		if err != nil {
			return err
		}
		return f.raw.Upsert(ctx, current)
	}

	err := f.proc.Process(ctx, "m11", []byte(`{"waitPeriod":2}`))
	require.Error(t, err)
	assert.True(t, exception.IsConcurrencyConflict(err))
	assert.Equal(t, 0, f.record(t, "m11").CompletedWorkEffort)
}

func TestProcess_StoreUnavailableOnFirstReadCreates(t *testing.T) {
	f := newFixture(t, nil)
	f.hooks.beforeGet = func(call int) error {
		if call == 1 {
			return exception.NewStoreUnavailable("test", "read timed out", nil)
		}
		return nil
	}

	require.NoError(t, f.proc.Process(context.Background(), "m12", []byte(`{"waitPeriod":1}`)))
	assert.Equal(t, model.StatusWorkCompleted, f.record(t, "m12").Status)
}

func TestHandle_RecordsOutcome(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.proc.Handle(ctx, &port.Delivery{ID: "d1", Body: []byte(`{"waitPeriod":2}`), DequeueCount: 1}))
	require.NoError(t, f.proc.Handle(ctx, &port.Delivery{ID: "d2", Body: []byte(`garbage`), DequeueCount: 1}))
	require.Error(t, f.proc.Handle(ctx, &port.Delivery{ID: "d3", Body: []byte(`{"raiseException":true}`), DequeueCount: 1}))

	assert.Equal(t, []string{metrics.OutcomeCompleted, metrics.OutcomeDropped, metrics.OutcomeFailed}, f.recorder.outcomes)
	assert.Equal(t, 2, f.recorder.units)
}
