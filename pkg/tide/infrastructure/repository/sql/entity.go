package sql

import (
	"time"

	"github.com/tigerroll/tide/pkg/tide/core/domain/model"
)

// TableName is the table holding status records.
const TableName = "tide_status"

// StatusEntity is the row layout of TableName.
type StatusEntity struct {
	PartitionKey         string    `gorm:"column:partition_key;primaryKey"`
	RowKey               string    `gorm:"column:row_key;primaryKey"`
	Status               string    `gorm:"column:status"`
	AttemptCount         int       `gorm:"column:attempt_count"`
	InitialWorkEffort    int       `gorm:"column:initial_work_effort"`
	CompletedWorkEffort  int       `gorm:"column:completed_work_effort"`
	CancelOperation      bool      `gorm:"column:cancel_operation"`
	FirstTimeWorkStarted time.Time `gorm:"column:first_time_work_started"`
	LastTimeWorkStarted  time.Time `gorm:"column:last_time_work_started"`
	Message              string    `gorm:"column:message"`
	Data                 string    `gorm:"column:data"`
	ETag                 string    `gorm:"column:etag"`
	LastUpdated          time.Time `gorm:"column:last_updated"`
}

func (StatusEntity) TableName() string {
	return TableName
}

func fromDomainStatus(r *model.StatusRecord) *StatusEntity {
	return &StatusEntity{
		PartitionKey:         r.PartitionKey,
		RowKey:               r.RowKey,
		Status:               r.Status,
		AttemptCount:         r.AttemptCount,
		InitialWorkEffort:    r.InitialWorkEffort,
		CompletedWorkEffort:  r.CompletedWorkEffort,
		CancelOperation:      r.CancelOperation,
		FirstTimeWorkStarted: r.FirstTimeWorkStarted,
		LastTimeWorkStarted:  r.LastTimeWorkStarted,
		Message:              r.Message,
		Data:                 r.Data,
		ETag:                 r.ConcurrencyToken,
		LastUpdated:          r.UpdatedAt,
	}
}

func toDomainStatus(e *StatusEntity) *model.StatusRecord {
	return &model.StatusRecord{
		PartitionKey:         e.PartitionKey,
		RowKey:               e.RowKey,
		Status:               e.Status,
		AttemptCount:         e.AttemptCount,
		InitialWorkEffort:    e.InitialWorkEffort,
		CompletedWorkEffort:  e.CompletedWorkEffort,
		CancelOperation:      e.CancelOperation,
		FirstTimeWorkStarted: e.FirstTimeWorkStarted,
		LastTimeWorkStarted:  e.LastTimeWorkStarted,
		Message:              e.Message,
		Data:                 e.Data,
		ConcurrencyToken:     e.ETag,
		UpdatedAt:            e.LastUpdated,
	}
}

// updateColumns lists every mutable column of e, keyed by column name.
func updateColumns(e *StatusEntity) map[string]interface{} {
	return map[string]interface{}{
		"status":                  e.Status,
		"attempt_count":           e.AttemptCount,
		"initial_work_effort":     e.InitialWorkEffort,
		"completed_work_effort":   e.CompletedWorkEffort,
		"cancel_operation":        e.CancelOperation,
		"first_time_work_started": e.FirstTimeWorkStarted,
		"last_time_work_started":  e.LastTimeWorkStarted,
		"message":                 e.Message,
		"data":                    e.Data,
		"etag":                    e.ETag,
		"last_updated":            e.LastUpdated,
	}
}
