package services

import (
	"context"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
	"github.com/SAP-F-2025/grading-service/internal/scoring"
	"github.com/SAP-F-2025/grading-service/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

// Use validator request types
type CreateSchemeRequest = validator.SchemeCreateRequest
type UpdateSchemeRequest = validator.SchemeUpdateRequest
type CreateSubmissionRequest = validator.SubmissionCreateRequest
type WriteEvaluationRequest = validator.EvaluationWriteRequest
type ExportRequest = validator.ExportRequest

type SchemeResponse struct {
	*models.GradingScheme
	// Warnings flag accepted-but-divergent question point totals.
	Warnings validator.ValidationErrors `json:"warnings,omitempty"`
}

type SchemeListResponse struct {
	Schemes []*SchemeResponse `json:"schemes"`
	Total   int64             `json:"total"`
}

type SubmissionResponse struct {
	*models.GradedSubmission
}

// EvaluationWriteResult is the typed outcome of a version-checked evaluation
// write. A Conflict is a routine concurrent-grading outcome, not a fault:
// Current carries the authoritative state so the caller can reconcile
// without a second read. SubmissionVersion reports the submission row's
// version after the call; evaluation writes advance it, so a later
// complete/reopen can supply it without a reload.
type EvaluationWriteResult struct {
	Conflict          bool                        `json:"conflict"`
	NewVersion        int                         `json:"new_version,omitempty"`
	SubmissionVersion int                         `json:"submission_version,omitempty"`
	Evaluation        *models.CriterionEvaluation `json:"evaluation,omitempty"`
	Current           *models.CriterionEvaluation `json:"current,omitempty"`
}

// SubmissionWriteResult is the same typed outcome for submission-level
// conditional writes (complete/reopen).
type SubmissionWriteResult struct {
	Conflict   bool                     `json:"conflict"`
	NewVersion int                      `json:"new_version,omitempty"`
	Submission *models.GradedSubmission `json:"submission,omitempty"`
	Current    *models.GradedSubmission `json:"current,omitempty"`
}

// ExportOutcome is either a synchronously rendered payload or a job id for
// the async path; exactly one side is set.
type ExportOutcome struct {
	Rendered *ExportResult `json:"rendered,omitempty"`
	JobID    string        `json:"job_id,omitempty"`
}

type ExportResult struct {
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
	Payload     []byte `json:"-"`
	RowCount    int    `json:"row_count"`
}

// ===== SERVICE INTERFACES =====

type SchemeService interface {
	Create(ctx context.Context, req *CreateSchemeRequest, creatorID string) (*SchemeResponse, error)
	GetByID(ctx context.Context, id uint) (*SchemeResponse, error)
	Update(ctx context.Context, id uint, req *UpdateSchemeRequest, userID string) (*SchemeResponse, error)
	Delete(ctx context.Context, id uint, userID string) error
	Clone(ctx context.Context, id uint, userID string) (*SchemeResponse, error)
	List(ctx context.Context, filters repositories.SchemeFilters) (*SchemeListResponse, error)
}

type GradingService interface {
	// Submission lifecycle
	CreateSubmission(ctx context.Context, req *CreateSubmissionRequest, graderID string) (*SubmissionResponse, error)
	GetSubmission(ctx context.Context, id uint) (*SubmissionResponse, error)
	ListSubmissions(ctx context.Context, schemeID uint, filters repositories.SubmissionFilters) ([]*SubmissionResponse, int64, error)

	// Version-checked writes
	WriteEvaluation(ctx context.Context, submissionID, criterionID uint, req *WriteEvaluationRequest, graderID string) (*EvaluationWriteResult, error)
	CompleteSubmission(ctx context.Context, submissionID uint, expectedVersion int, graderID string) (*SubmissionWriteResult, error)
	ReopenSubmission(ctx context.Context, submissionID uint, expectedVersion int, graderID string) (*SubmissionWriteResult, error)

	// Reporting
	SchemeAggregate(ctx context.Context, schemeID uint, filters repositories.SubmissionFilters) (*scoring.Aggregate, error)
}

type ExportService interface {
	// Export renders synchronously below the configured row threshold and
	// submits a background job above it.
	Export(ctx context.Context, req *ExportRequest, requesterID string) (*ExportOutcome, error)
	GetJob(ctx context.Context, jobID string) (*models.ExportJob, error)
	CancelJob(ctx context.Context, jobID string) error

	// Worker lifecycle
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	Scheme() SchemeService
	Grading() GradingService
	Export() ExportService

	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
