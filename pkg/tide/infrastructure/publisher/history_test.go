package publisher_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/tide/pkg/tide/core/domain/model"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/publisher"
	"github.com/tigerroll/tide/pkg/tide/support/util/exception"
	"github.com/tigerroll/tide/pkg/tide/support/util/timeutil"
)

type memWriter struct {
	objects map[string][]byte
	err     error
}

func (m *memWriter) Write(ctx context.Context, key string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return nil
}

func TestHistoryArchiver_ArchivesTerminalSnapshotsOnly(t *testing.T) {
	clock := timeutil.NewFixedClock(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))
	w := &memWriter{}
	archiver := publisher.NewHistoryArchiver("tide-queue-items-history/", clock, w)
	ctx := context.Background()

	require.NoError(t, archiver.Publish(ctx, &model.StatusRecord{PartitionKey: "Status", RowKey: "m1", Status: model.StatusResuming}))
	assert.Empty(t, w.objects)

	rec := &model.StatusRecord{PartitionKey: "Status", RowKey: "m1", Status: model.StatusWorkCompleted, InitialWorkEffort: 2, CompletedWorkEffort: 2}
	require.NoError(t, archiver.Publish(ctx, rec))

	key := "tide-queue-items-history/Status/m1/20240501T093000.000000000Z-sw-completed.json"
	assert.Equal(t, key, archiver.ObjectKey(rec))
	require.Contains(t, w.objects, key)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.objects[key], &body))
	assert.Equal(t, "[SW] Completed", body["status"])
	assert.EqualValues(t, 100, body["completedPercent"])
}

func TestHistoryArchiver_WriterFailure(t *testing.T) {
	clock := timeutil.NewFixedClock(time.Unix(0, 0).UTC())
	good := &memWriter{}
	archiver := publisher.NewHistoryArchiver("h", clock, good, &memWriter{err: errors.New("bucket unreachable")})

	err := archiver.Publish(context.Background(), &model.StatusRecord{RowKey: "m2", Status: model.StatusCancelled})
	require.Error(t, err)
	assert.True(t, exception.IsRetryable(err))
	assert.Contains(t, err.Error(), "bucket unreachable")
	assert.Len(t, good.objects, 1)
}
