package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/tide/pkg/tide/core/application/port"
	"github.com/tigerroll/tide/pkg/tide/core/domain/model"
	"github.com/tigerroll/tide/pkg/tide/support/util/exception"
	"github.com/tigerroll/tide/pkg/tide/support/util/logger"
	"github.com/tigerroll/tide/pkg/tide/support/util/timeutil"
)

// HistoryArchiver writes terminal snapshots as JSON objects. Other snapshots
// are ignored.
type HistoryArchiver struct {
	writers []port.ObjectWriter
	prefix  string
	clock   *timeutil.Clock
}

// NewHistoryArchiver creates an archiver storing objects under prefix,
// typically the "<queue>-history" name.
func NewHistoryArchiver(prefix string, clock *timeutil.Clock, writers ...port.ObjectWriter) *HistoryArchiver {
	return &HistoryArchiver{writers: writers, prefix: strings.Trim(prefix, "/"), clock: clock}
}

// ObjectKey returns the key a snapshot is archived under.
func (h *HistoryArchiver) ObjectKey(rec *model.StatusRecord) string {
	stamp := h.clock.Now().UTC().Format("20060102T150405.000000000Z")
	return path.Join(h.prefix, rec.PartitionKey, rec.RowKey, fmt.Sprintf("%s-%s.json", stamp, statusSlug(rec.Status)))
}

func (h *HistoryArchiver) Publish(ctx context.Context, rec *model.StatusRecord) error {
	if !rec.IsTerminal() {
		return nil
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return exception.NewTideError("history", "failed to encode snapshot", err, false)
	}

	key := h.ObjectKey(rec)
	var result *multierror.Error
	for _, w := range h.writers {
		if err := w.Write(ctx, key, body); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return exception.NewTideError("history", fmt.Sprintf("failed to archive %s", key), err, true)
	}
	logger.Debugf("Archived %s snapshot of RowKey: %s to %s", rec.Status, rec.RowKey, key)
	return nil
}

// statusSlug turns "[SW] Completed" into "sw-completed".
func statusSlug(status string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(status) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

var _ port.StatusPublisher = (*HistoryArchiver)(nil)
