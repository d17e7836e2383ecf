// Package model defines the status record tracked for every queue delivery
// and the inbound message that drives it.
package model

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// DefaultPartition is the partition key shared by every status record of this message class.
const DefaultPartition = "Status"

// AttemptCountInitial is the attempt count of a freshly created record.
const AttemptCountInitial = 1

// Status labels written by the engine.
const (
	StatusStarting          = "Starting"
	StatusResuming          = "Resuming"
	StatusWorkCompleted     = "[SW] Completed"
	StatusDelegateCompleted = "[DF] Completed"
	StatusCancelled         = "Cancelled"
)

// IsTerminalStatus reports whether status ends processing of a record.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusWorkCompleted, StatusDelegateCompleted, StatusCancelled:
		return true
	}
	return false
}

// StatusRecord is the durable progress record of one delivery identity.
type StatusRecord struct {
	PartitionKey         string    `json:"partitionKey"`
	RowKey               string    `json:"rowKey"`
	Status               string    `json:"status"`
	AttemptCount         int       `json:"attemptCount"`
	InitialWorkEffort    int       `json:"initialWorkEffort"`
	CompletedWorkEffort  int       `json:"completedWorkEffort"`
	CancelOperation      bool      `json:"cancelOperation"`
	FirstTimeWorkStarted time.Time `json:"firstTimeWorkStarted"`
	LastTimeWorkStarted  time.Time `json:"lastTimeWorkStarted"`
	Message              string    `json:"message"`
	Data                 string    `json:"data"`
	// ConcurrencyToken changes on every successful write. A write carrying a
	// token other than the stored one is rejected.
	ConcurrencyToken string    `json:"concurrencyToken"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// NewStatusRecord builds the Starting record for a first delivery of rowKey.
func NewStatusRecord(partitionKey, rowKey string, msg *Message, rawMessage string, now time.Time) *StatusRecord {
	return &StatusRecord{
		PartitionKey:         partitionKey,
		RowKey:               rowKey,
		Status:               StatusStarting,
		AttemptCount:         AttemptCountInitial,
		InitialWorkEffort:    msg.WaitPeriod,
		CompletedWorkEffort:  0,
		FirstTimeWorkStarted: now,
		LastTimeWorkStarted:  now,
		Message:              rawMessage,
		Data:                 msg.DataOrEmpty(),
	}
}

// RemainingWorkEffort returns the work units still to do, never negative.
func (r *StatusRecord) RemainingWorkEffort() int {
	if remaining := r.InitialWorkEffort - r.CompletedWorkEffort; remaining > 0 {
		return remaining
	}
	return 0
}

// HasRemainingWork reports whether at least one work unit is left.
func (r *StatusRecord) HasRemainingWork() bool {
	return r.RemainingWorkEffort() > 0
}

// CompletedPercent returns completed/initial as a rounded percentage.
// Halves round to even and the result is clamped to [0, 100]. It is 0 when
// no work was requested.
func (r *StatusRecord) CompletedPercent() int {
	if r.InitialWorkEffort <= 0 {
		return 0
	}
	p := int(math.RoundToEven(float64(r.CompletedWorkEffort) / float64(r.InitialWorkEffort) * 100))
	return min(max(p, 0), 100)
}

// IsTerminal reports whether the record reached a final status.
func (r *StatusRecord) IsTerminal() bool {
	return IsTerminalStatus(r.Status)
}

// Clone returns an independent copy of the record.
func (r *StatusRecord) Clone() *StatusRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// MarshalJSON adds the derived progress fields to the snapshot sent to viewers.
func (r StatusRecord) MarshalJSON() ([]byte, error) {
	type plain StatusRecord
	return json.Marshal(struct {
		plain
		RemainingWorkEffort int  `json:"remainingWorkEffort"`
		HasRemainingWork    bool `json:"hasRemainingWork"`
		CompletedPercent    int  `json:"completedPercent"`
	}{
		plain:               plain(r),
		RemainingWorkEffort: r.RemainingWorkEffort(),
		HasRemainingWork:    r.HasRemainingWork(),
		CompletedPercent:    r.CompletedPercent(),
	})
}

// NewConcurrencyToken returns a fresh opaque version stamp.
func NewConcurrencyToken() string {
	return uuid.NewString()
}
