package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/tide/pkg/tide/core/config"
	"github.com/tigerroll/tide/pkg/tide/core/domain/model"
	"github.com/tigerroll/tide/pkg/tide/core/domain/repository"
	"github.com/tigerroll/tide/pkg/tide/core/metrics"
	"github.com/tigerroll/tide/pkg/tide/engine/workflow"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/api"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/queue"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/queue/memory"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/repository/inmemory"
	"github.com/tigerroll/tide/pkg/tide/support/util/exception"
	"github.com/tigerroll/tide/pkg/tide/support/util/timeutil"
)

type fixture struct {
	store  repository.StatusStore
	queue  *memory.Queue
	server *httptest.Server
}

func newFixture(t *testing.T, store repository.StatusStore, workflows api.WorkflowReader) *fixture {
	t.Helper()
	if store == nil {
		store = inmemory.NewStatusStore(timeutil.NewFixedClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
	}
	q := memory.New("items", "items-poison", queue.PolicyFromConfig(config.NewConfig().Tide.Queue), metrics.NewNoOpMetricRecorder())
	t.Cleanup(func() { _ = q.Close() })

	mux := chi.NewRouter()
	api.NewHandler(store, q, workflows, "", q.Name()).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &fixture{store: store, queue: q, server: srv}
}

func (f *fixture) seed(t *testing.T, rowKey string) {
	t.Helper()
	rec := &model.StatusRecord{
		PartitionKey:      model.DefaultPartition,
		RowKey:            rowKey,
		Status:            model.StatusStarting,
		AttemptCount:      model.AttemptCountInitial,
		InitialWorkEffort: 5,
	}
	require.NoError(t, f.store.Create(context.Background(), rec))
}

func TestAPI_EnqueueMessage(t *testing.T) {
	f := newFixture(t, nil, nil)

	resp, err := http.Post(f.server.URL+"/api/messages", "application/json",
		strings.NewReader(`{"waitPeriod":3,"data":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	var body api.EnqueueResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.ID)
	assert.Equal(t, "items", body.Queue)
	assert.Equal(t, 1, f.queue.Len())
}

func TestAPI_EnqueueRejectsMalformedMessage(t *testing.T) {
	f := newFixture(t, nil, nil)

	resp, err := http.Post(f.server.URL+"/api/messages", "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, f.queue.Len())
}

func TestAPI_GetStatus(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.seed(t, "m1")

	resp, err := http.Get(f.server.URL + "/api/status/m1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "m1", body["rowKey"])
	assert.Equal(t, model.StatusStarting, body["status"])

	missing, err := http.Get(f.server.URL + "/api/status/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAPI_ListStatus(t *testing.T) {
	f := newFixture(t, nil, nil)

	resp, err := http.Get(f.server.URL + "/api/status")
	require.NoError(t, err)
	var empty []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	resp.Body.Close()
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	f.seed(t, "m1")
	f.seed(t, "m2")
	resp, err = http.Get(f.server.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var records []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	assert.Len(t, records, 2)
}

func TestAPI_CancelSetsFlag(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.seed(t, "m1")

	resp, err := http.Post(f.server.URL+"/api/status/m1/cancel", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	stored, err := f.store.Get(context.Background(), model.DefaultPartition, "m1")
	require.NoError(t, err)
	assert.True(t, stored.CancelOperation)
	assert.Equal(t, model.StatusStarting, stored.Status)

	missing, err := http.Post(f.server.URL+"/api/status/nope/cancel", "application/json", nil)
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

// racingStore fails the first n upserts as if another writer got there first.
type racingStore struct {
	repository.StatusStore
	conflicts int32
	upserts   int32
}

func (s *racingStore) Upsert(ctx context.Context, rec *model.StatusRecord) error {
	if atomic.AddInt32(&s.upserts, 1) <= s.conflicts {
		return exception.NewConcurrencyConflict("test", "token mismatch", nil)
	}
	return s.StatusStore.Upsert(ctx, rec)
}

func TestRequestCancellation_RetriesOnConflict(t *testing.T) {
	inner := inmemory.NewStatusStore(timeutil.NewFixedClock(time.Now()))
	store := &racingStore{StatusStore: inner, conflicts: 2}
	f := newFixture(t, store, nil)
	f.seed(t, "m1")

	rec, err := api.RequestCancellation(context.Background(), store, model.DefaultPartition, "m1")
	require.NoError(t, err)
	assert.True(t, rec.CancelOperation)
	assert.Equal(t, int32(3), atomic.LoadInt32(&store.upserts))
}

func TestRequestCancellation_GivesUpAfterRepeatedConflicts(t *testing.T) {
	inner := inmemory.NewStatusStore(timeutil.NewFixedClock(time.Now()))
	store := &racingStore{StatusStore: inner, conflicts: 100}
	f := newFixture(t, store, nil)
	f.seed(t, "m1")

	resp, err := http.Post(f.server.URL+"/api/status/m1/cancel", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRequestCancellation_AlreadyFlagged(t *testing.T) {
	inner := inmemory.NewStatusStore(timeutil.NewFixedClock(time.Now()))
	store := &racingStore{StatusStore: inner}
	f := newFixture(t, store, nil)
	f.seed(t, "m1")

	_, err := api.RequestCancellation(context.Background(), store, model.DefaultPartition, "m1")
	require.NoError(t, err)
	_, err = api.RequestCancellation(context.Background(), store, model.DefaultPartition, "m1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&store.upserts))
}

func TestRequestCancellation_TerminalRecordUnchanged(t *testing.T) {
	inner := inmemory.NewStatusStore(timeutil.NewFixedClock(time.Now()))
	store := &racingStore{StatusStore: inner}
	f := newFixture(t, store, nil)
	rec := &model.StatusRecord{
		PartitionKey:        model.DefaultPartition,
		RowKey:              "done",
		Status:              model.StatusWorkCompleted,
		AttemptCount:        model.AttemptCountInitial,
		InitialWorkEffort:   3,
		CompletedWorkEffort: 3,
	}
	require.NoError(t, inner.Create(context.Background(), rec))

	resp, err := http.Post(f.server.URL+"/api/status/done/cancel", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["cancelOperation"])

	stored, err := inner.Get(context.Background(), model.DefaultPartition, "done")
	require.NoError(t, err)
	assert.False(t, stored.CancelOperation)
	assert.Equal(t, model.StatusWorkCompleted, stored.Status)
	assert.Zero(t, atomic.LoadInt32(&store.upserts))
}

func TestAPI_Workflows(t *testing.T) {
	orch := workflow.NewOrchestrator([]string{"Tokyo"}, 0)
	t.Cleanup(func() { _ = orch.Stop(context.Background()) })
	f := newFixture(t, nil, orch)

	id, err := orch.Start(context.Background(), "payload")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		inst, ok := orch.Get(id)
		return ok && inst.Status == workflow.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(f.server.URL + "/api/workflows/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var inst workflow.Instance
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&inst))
	assert.Equal(t, []string{"Hello Tokyo!"}, inst.Output)

	list, err := http.Get(f.server.URL + "/api/workflows")
	require.NoError(t, err)
	defer list.Body.Close()
	var all []workflow.Instance
	require.NoError(t, json.NewDecoder(list.Body).Decode(&all))
	assert.Len(t, all, 1)

	missing, err := http.Get(f.server.URL + "/api/workflows/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
