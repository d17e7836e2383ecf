// Package status wraps a StatusStore so that every successful write is
// followed by a publish of the written record.
package status

import (
	"context"

	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/core/domain/model"
	"github.com/tigerroll/tide/pkg/tide/core/domain/repository"
	"github.com/tigerroll/tide/pkg/tide/core/metrics"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// PublishingStore publishes after each successful Create and Upsert.
// Publish failures are logged and never returned.
type PublishingStore struct {
	inner     repository.StatusStore
	publisher port.StatusPublisher
	recorder  metrics.MetricRecorder
}

// NewPublishingStore decorates inner.
func NewPublishingStore(inner repository.StatusStore, publisher port.StatusPublisher, recorder metrics.MetricRecorder) *PublishingStore {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &PublishingStore{inner: inner, publisher: publisher, recorder: recorder}
}

func (s *PublishingStore) Get(ctx context.Context, partitionKey, rowKey string) (*model.StatusRecord, error) {
	return s.inner.Get(ctx, partitionKey, rowKey)
}

func (s *PublishingStore) List(ctx context.Context, partitionKey string) ([]*model.StatusRecord, error) {
	return s.inner.List(ctx, partitionKey)
}

func (s *PublishingStore) Create(ctx context.Context, rec *model.StatusRecord) error {
	if err := s.inner.Create(ctx, rec); err != nil {
		return err
	}
	s.published(ctx, rec)
	return nil
}

func (s *PublishingStore) Upsert(ctx context.Context, rec *model.StatusRecord) error {
	if err := s.inner.Upsert(ctx, rec); err != nil {
		return err
	}
	s.published(ctx, rec)
	return nil
}

func (s *PublishingStore) published(ctx context.Context, rec *model.StatusRecord) {
	s.recorder.RecordStatusWrite(ctx, rec.Status)
	if err := s.publisher.Publish(ctx, rec.Clone()); err != nil {
		logger.Warnf("Failed to publish status for RowKey: %s, Status: %s: %v", rec.RowKey, rec.Status, err)
	}
}

var _ repository.StatusStore = (*PublishingStore)(nil)
