// Package sql provides the gorm-backed StatusStore. Optimistic concurrency is
// enforced by the etag column: every write replaces it, and an update only
// matches the row whose etag equals the caller's token.
package sql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/tide/pkg/tide/core/domain/model"
	"github.com/tigerroll/tide/pkg/tide/core/domain/repository"
	"github.com/tigerroll/tide/pkg/tide/support/util/exception"
	"github.com/tigerroll/tide/pkg/tide/support/util/timeutil"
)

// StatusStore implements repository.StatusStore on a gorm connection.
type StatusStore struct {
	db    *gorm.DB
	clock *timeutil.Clock
}

// NewStatusStore creates a StatusStore. Writes skip gorm's implicit
// transaction since every write is a single statement.
func NewStatusStore(db *gorm.DB, clock *timeutil.Clock) *StatusStore {
	return &StatusStore{
		db:    db.Session(&gorm.Session{SkipDefaultTransaction: true}),
		clock: clock,
	}
}

func (s *StatusStore) Get(ctx context.Context, partitionKey, rowKey string) (*model.StatusRecord, error) {
	const op = "SQLStatusStore.Get"

	var entity StatusEntity
	err := s.db.WithContext(ctx).
		Where("partition_key = ? AND row_key = ?", partitionKey, rowKey).
		Take(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrStatusNotFound
		}
		return nil, exception.NewStoreUnavailable(op, fmt.Sprintf("failed to read status %s/%s", partitionKey, rowKey), err)
	}
	return toDomainStatus(&entity), nil
}

func (s *StatusStore) Create(ctx context.Context, rec *model.StatusRecord) error {
	const op = "SQLStatusStore.Create"

	entity := s.stamp(rec)
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entity)
	if result.Error != nil {
		return exception.NewStoreUnavailable(op, fmt.Sprintf("failed to create status %s/%s", rec.PartitionKey, rec.RowKey), result.Error)
	}
	if result.RowsAffected == 0 {
		return exception.NewConflict(op, fmt.Sprintf("status %s/%s already exists", rec.PartitionKey, rec.RowKey), nil)
	}
	s.apply(rec, entity)
	return nil
}

func (s *StatusStore) Upsert(ctx context.Context, rec *model.StatusRecord) error {
	const op = "SQLStatusStore.Upsert"

	expected := rec.ConcurrencyToken
	entity := s.stamp(rec)
	result := s.db.WithContext(ctx).
		Model(&StatusEntity{}).
		Where("partition_key = ? AND row_key = ? AND etag = ?", rec.PartitionKey, rec.RowKey, expected).
		Updates(updateColumns(entity))
	if result.Error != nil {
		return exception.NewStoreUnavailable(op, fmt.Sprintf("failed to update status %s/%s", rec.PartitionKey, rec.RowKey), result.Error)
	}
	if result.RowsAffected > 0 {
		s.apply(rec, entity)
		return nil
	}

	// Nothing matched: either the row is missing or its etag moved on.
	if _, err := s.Get(ctx, rec.PartitionKey, rec.RowKey); err != nil {
		if !errors.Is(err, repository.ErrStatusNotFound) {
			return err
		}
		if err := s.Create(ctx, rec); err != nil {
			if exception.IsConflict(err) {
				return exception.NewConcurrencyConflict(op, fmt.Sprintf("status %s/%s was created concurrently", rec.PartitionKey, rec.RowKey), err)
			}
			return err
		}
		return nil
	}
	return exception.NewConcurrencyConflict(op,
		fmt.Sprintf("status %s/%s with token %s was modified concurrently", rec.PartitionKey, rec.RowKey, expected), nil)
}

func (s *StatusStore) List(ctx context.Context, partitionKey string) ([]*model.StatusRecord, error) {
	const op = "SQLStatusStore.List"

	var entities []StatusEntity
	err := s.db.WithContext(ctx).
		Where("partition_key = ?", partitionKey).
		Order("last_updated DESC").
		Order("row_key ASC").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewStoreUnavailable(op, fmt.Sprintf("failed to list partition %s", partitionKey), err)
	}

	result := make([]*model.StatusRecord, 0, len(entities))
	for i := range entities {
		result = append(result, toDomainStatus(&entities[i]))
	}
	return result, nil
}

// stamp returns the entity to write, carrying a fresh token and timestamp.
// rec itself is only updated once the write succeeded.
func (s *StatusStore) stamp(rec *model.StatusRecord) *StatusEntity {
	entity := fromDomainStatus(rec)
	entity.ETag = model.NewConcurrencyToken()
	entity.LastUpdated = s.clock.Now()
	return entity
}

func (s *StatusStore) apply(rec *model.StatusRecord, entity *StatusEntity) {
	rec.ConcurrencyToken = entity.ETag
	rec.UpdatedAt = entity.LastUpdated
}

var _ repository.StatusStore = (*StatusStore)(nil)
