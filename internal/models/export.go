package models

import (
	"time"

	"gorm.io/datatypes"
)

type ExportJobStatus string

const (
	ExportPending    ExportJobStatus = "Pending"
	ExportProcessing ExportJobStatus = "Processing"
	ExportSucceeded  ExportJobStatus = "Succeeded"
	ExportFailed     ExportJobStatus = "Failed"
)

type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
	FormatXLSX ExportFormat = "xlsx"
)

// ExportJob tracks one asynchronous export. The payload is only written by a
// conditional Processing -> Succeeded transition, so a poll after failure or
// cancellation never observes a partial result.
type ExportJob struct {
	ID       string       `json:"id" gorm:"primaryKey;size:36"`
	SchemeID uint         `json:"scheme_id" gorm:"not null;index"`
	Format   ExportFormat `json:"format" gorm:"not null;size:10"`

	// Serialized repositories.SubmissionFilters used by the worker.
	Filters datatypes.JSON `json:"filters" gorm:"type:jsonb"`

	Status        ExportJobStatus `json:"status" gorm:"not null;default:Pending;index"`
	EstimatedRows int             `json:"estimated_rows" gorm:"not null;default:0"`
	Attempts      int             `json:"attempts" gorm:"not null;default:0"`

	Payload       []byte  `json:"-" gorm:"type:bytea"`
	ContentType   string  `json:"content_type" gorm:"size:100"`
	RowCount      int     `json:"row_count" gorm:"not null;default:0"`
	FailureReason *string `json:"failure_reason" gorm:"type:text"`

	RequestedBy string     `json:"requested_by" gorm:"not null;index;size:255"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
}

func (ExportJob) TableName() string {
	return "export_jobs"
}

// Terminal reports whether the job can no longer change state.
func (j *ExportJob) Terminal() bool {
	return j.Status == ExportSucceeded || j.Status == ExportFailed
}
