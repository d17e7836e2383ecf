// Package inmemory provides a StatusStore held in process memory. It backs
// the single-process deployment and the engine tests.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tigerroll/tide/pkg/tide/core/domain/model"
	"github.com/tigerroll/tide/pkg/tide/core/domain/repository"
	"github.com/tigerroll/tide/pkg/tide/support/util/exception"
	"github.com/tigerroll/tide/pkg/tide/support/util/timeutil"
)

type key struct {
	partition string
	row       string
}

// StatusStore keeps copies of records so callers never share state with it.
type StatusStore struct {
	mu      sync.RWMutex
	records map[key]*model.StatusRecord
	clock   *timeutil.Clock
}

// NewStatusStore creates an empty store.
func NewStatusStore(clock *timeutil.Clock) *StatusStore {
	return &StatusStore{
		records: make(map[key]*model.StatusRecord),
		clock:   clock,
	}
}

// Get returns a copy of the stored record.
func (s *StatusStore) Get(ctx context.Context, partitionKey, rowKey string) (*model.StatusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key{partitionKey, rowKey}]
	if !ok {
		return nil, repository.ErrStatusNotFound
	}
	return rec.Clone(), nil
}

// Create stores a copy of rec and stamps rec with the new token.
func (s *StatusStore) Create(ctx context.Context, rec *model.StatusRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{rec.PartitionKey, rec.RowKey}
	if _, exists := s.records[k]; exists {
		return exception.NewConflict("inmemory.StatusStore", fmt.Sprintf("status %s/%s already exists", rec.PartitionKey, rec.RowKey), nil)
	}
	s.put(k, rec)
	return nil
}

// Upsert replaces the stored record when the tokens match, and creates it when absent.
func (s *StatusStore) Upsert(ctx context.Context, rec *model.StatusRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{rec.PartitionKey, rec.RowKey}
	current, exists := s.records[k]
	if exists && current.ConcurrencyToken != rec.ConcurrencyToken {
		return exception.NewConcurrencyConflict("inmemory.StatusStore",
			fmt.Sprintf("status %s/%s was modified concurrently", rec.PartitionKey, rec.RowKey), nil)
	}
	s.put(k, rec)
	return nil
}

// List returns copies of the records of a partition, most recently updated first.
func (s *StatusStore) List(ctx context.Context, partitionKey string) ([]*model.StatusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.StatusRecord, 0, len(s.records))
	for k, rec := range s.records {
		if k.partition == partitionKey {
			result = append(result, rec.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].RowKey < result[j].RowKey
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// put must be called with the write lock held.
func (s *StatusStore) put(k key, rec *model.StatusRecord) {
	rec.ConcurrencyToken = model.NewConcurrencyToken()
	rec.UpdatedAt = s.clock.Now()
	s.records[k] = rec.Clone()
}

var _ repository.StatusStore = (*StatusStore)(nil)
