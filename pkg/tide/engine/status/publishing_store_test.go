package status_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	testify_mock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/tide/pkg/tide/core/domain/model"
	"github.com/tigerroll/tide/pkg/tide/engine/status"
	"github.com/tigerroll/tide/pkg/tide/infrastructure/repository/inmemory"
	"github.com/tigerroll/tide/pkg/tide/support/util/exception"
	"github.com/tigerroll/tide/pkg/tide/support/util/timeutil"
)

type mockPublisher struct {
	testify_mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, rec *model.StatusRecord) error {
	args := m.Called(rec.RowKey, rec.Status)
	return args.Error(0)
}

func newStore(pub *mockPublisher) *status.PublishingStore {
	inner := inmemory.NewStatusStore(timeutil.NewFixedClock(time.Unix(0, 0).UTC()))
	return status.NewPublishingStore(inner, pub, nil)
}

func TestPublishingStore_PublishesAfterWrites(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", "m1", model.StatusStarting).Return(nil).Once()
	pub.On("Publish", "m1", model.StatusResuming).Return(nil).Once()
	store := newStore(pub)
	ctx := context.Background()

	rec := &model.StatusRecord{PartitionKey: model.DefaultPartition, RowKey: "m1", Status: model.StatusStarting}
	require.NoError(t, store.Create(ctx, rec))
	rec.Status = model.StatusResuming
	require.NoError(t, store.Upsert(ctx, rec))

	_, err := store.Get(ctx, model.DefaultPartition, "m1")
	require.NoError(t, err)
	pub.AssertExpectations(t)
}

func TestPublishingStore_NoPublishOnFailedWrite(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", "m1", model.StatusStarting).Return(nil).Once()
	store := newStore(pub)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &model.StatusRecord{PartitionKey: model.DefaultPartition, RowKey: "m1", Status: model.StatusStarting}))

	err := store.Create(ctx, &model.StatusRecord{PartitionKey: model.DefaultPartition, RowKey: "m1", Status: model.StatusStarting})
	assert.True(t, exception.IsConflict(err))

	stale := &model.StatusRecord{PartitionKey: model.DefaultPartition, RowKey: "m1", Status: model.StatusResuming, ConcurrencyToken: "stale"}
	assert.True(t, exception.IsConcurrencyConflict(store.Upsert(ctx, stale)))

	pub.AssertExpectations(t)
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestPublishingStore_PublishFailureIsSwallowed(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", "m1", model.StatusStarting).Return(errors.New("hub down"))
	store := newStore(pub)

	rec := &model.StatusRecord{PartitionKey: model.DefaultPartition, RowKey: "m1", Status: model.StatusStarting}
	assert.NoError(t, store.Create(context.Background(), rec))

	got, err := store.Get(context.Background(), model.DefaultPartition, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusStarting, got.Status)
}
