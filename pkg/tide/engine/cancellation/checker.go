// Package cancellation finalizes records whose cancel flag was raised by an
// external actor.
package cancellation

import (
	"context"

	"github.com/tigerroll/tide/pkg/tide/core/domain/model"
	"github.com/tigerroll/tide/pkg/tide/core/domain/repository"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
)

// Checker inspects the cancel flag and persists the Cancelled status.
type Checker struct {
	store repository.StatusStore
}

// NewChecker creates a Checker writing through store.
func NewChecker(store repository.StatusStore) *Checker {
	return &Checker{store: store}
}

// CheckAndFinalize returns false for a nil record or one without the cancel
// flag. Otherwise it sets the status to Cancelled, persists the record and
// returns true. Calling it again on a cancelled record rewrites the same state.
func (c *Checker) CheckAndFinalize(ctx context.Context, rec *model.StatusRecord) (bool, error) {
	if rec == nil || !rec.CancelOperation {
		return false, nil
	}

	rec.Status = model.StatusCancelled
	if err := c.store.Upsert(ctx, rec); err != nil {
		return false, err
	}
	logger.Warnf("<--Q--< mId: %s | %s | #%d | Completed %d", rec.RowKey, rec.Data, rec.AttemptCount, rec.CompletedWorkEffort)
	return true, nil
}
