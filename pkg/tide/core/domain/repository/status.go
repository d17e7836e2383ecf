// Package repository declares the persistence contract of status records.
package repository

import (
	"context"
	"errors"

	"github.com/tigerroll/tide/pkg/tide/core/domain/model"
)

// ErrStatusNotFound is returned by Get when no record exists for the identity.
var ErrStatusNotFound = errors.New("status record not found")

// StatusStore persists status records keyed by (partitionKey, rowKey) with
// optimistic concurrency.
//
// Create and Upsert assign a new concurrency token to the record they are
// given, so the caller can keep writing with the same value.
type StatusStore interface {
	// Get returns a copy of the stored record or ErrStatusNotFound.
	Get(ctx context.Context, partitionKey, rowKey string) (*model.StatusRecord, error)
	// Create inserts rec. It fails with exception.ErrConflict if the identity exists.
	Create(ctx context.Context, rec *model.StatusRecord) error
	// Upsert replaces the stored record if its token matches rec.ConcurrencyToken,
	// and creates it when absent. A stale token fails with exception.ErrConcurrencyConflict.
	Upsert(ctx context.Context, rec *model.StatusRecord) error
	// List returns all records of a partition, most recently updated first.
	List(ctx context.Context, partitionKey string) ([]*model.StatusRecord, error)
}
