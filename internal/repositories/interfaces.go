package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/grading-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type SchemeFilters struct {
	Category  *string    `json:"category"`
	CreatedBy *string    `json:"created_by"`
	DateFrom  *time.Time `json:"date_from"`
	DateTo    *time.Time `json:"date_to"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
	SortBy    string     `json:"sort_by"`    // "created_at", "name", "category"
	SortOrder string     `json:"sort_order"` // "asc", "desc"
}

type SubmissionFilters struct {
	IsComplete *bool      `json:"is_complete"`
	CreatedBy  *string    `json:"created_by"`
	DateFrom   *time.Time `json:"date_from"`
	DateTo     *time.Time `json:"date_to"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
	SortBy     string     `json:"sort_by"`
	SortOrder  string     `json:"sort_order"`
}

// ===== REPOSITORY INTERFACES =====

// SchemeRepository owns the scheme/question/criterion tree. Trees are small;
// reads always return the full hierarchy, writes always replace it whole
// inside one transaction.
type SchemeRepository interface {
	Create(ctx context.Context, tx *gorm.DB, scheme *models.GradingScheme) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.GradingScheme, error)
	// GetByIDAny also finds soft-deleted schemes, for joins against
	// historical submissions.
	GetByIDAny(ctx context.Context, tx *gorm.DB, id uint) (*models.GradingScheme, error)
	List(ctx context.Context, tx *gorm.DB, filters SchemeFilters) ([]*models.GradingScheme, int64, error)
	// SyncTree rewrites scheme fields and reconciles the question/criterion
	// tree in place, matching rows by display_order so surviving questions
	// and criteria keep their ids across edits.
	SyncTree(ctx context.Context, tx *gorm.DB, scheme *models.GradingScheme) error
	SoftDelete(ctx context.Context, tx *gorm.DB, id uint) error
	// GetCriterion returns a criterion together with its parent question and
	// owning scheme id.
	GetCriterion(ctx context.Context, tx *gorm.DB, id uint) (*models.SchemeCriterion, *models.SchemeQuestion, error)
}

// SubmissionRepository owns graded submissions. All mutation goes through
// conditional version-checked writes.
type SubmissionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, sub *models.GradedSubmission) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.GradedSubmission, error)
	GetByIDWithEvaluations(ctx context.Context, tx *gorm.DB, id uint) (*models.GradedSubmission, error)
	ListByScheme(ctx context.Context, tx *gorm.DB, schemeID uint, filters SubmissionFilters) ([]*models.GradedSubmission, int64, error)
	// CountByScheme counts submissions matching the completion/date filters;
	// pagination fields are ignored.
	CountByScheme(ctx context.Context, tx *gorm.DB, schemeID uint, filters SubmissionFilters) (int64, error)
	// UpdateConditional applies updates only when the stored version matches
	// expectedVersion, bumping the version in the same statement. Returns
	// false without error on a version mismatch.
	UpdateConditional(ctx context.Context, tx *gorm.DB, id uint, expectedVersion int, updates map[string]interface{}) (bool, error)
	// BumpIfOpen advances the submission version while it is still open.
	// Run in the same transaction as an evaluation write, it serializes
	// grading edits against a concurrent completion: once totals are frozen
	// the bump affects zero rows, and a completion holding a version observed
	// before the bump fails its own conditional write.
	BumpIfOpen(ctx context.Context, tx *gorm.DB, id uint) (bool, error)
}

// EvaluationRepository owns per-criterion evaluations. The unique
// (submission_id, criterion_id) index guarantees at most one row per pair.
type EvaluationRepository interface {
	GetByPair(ctx context.Context, tx *gorm.DB, submissionID, criterionID uint) (*models.CriterionEvaluation, error)
	// ListBySubmissions is the bulk reporting read across a submission set.
	ListBySubmissions(ctx context.Context, tx *gorm.DB, submissionIDs []uint) ([]*models.CriterionEvaluation, error)
	// Insert creates a new evaluation at version 1. A concurrent creator
	// surfaces as a duplicate-key error.
	Insert(ctx context.Context, tx *gorm.DB, eval *models.CriterionEvaluation) error
	UpdateConditional(ctx context.Context, tx *gorm.DB, id uint, expectedVersion int, updates map[string]interface{}) (bool, error)
}

type ExportJobRepository interface {
	Create(ctx context.Context, tx *gorm.DB, job *models.ExportJob) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.ExportJob, error)
	// TransitionStatus moves a job between states only when it is currently
	// in one of the from states. Returns false when the transition lost.
	TransitionStatus(ctx context.Context, tx *gorm.DB, id string, from []models.ExportJobStatus, to models.ExportJobStatus, updates map[string]interface{}) (bool, error)
	IncrementAttempts(ctx context.Context, tx *gorm.DB, id string) error
}

// ===== AGGREGATE INTERFACE =====

type Repository interface {
	Scheme() SchemeRepository
	Submission() SubmissionRepository
	Evaluation() EvaluationRepository
	ExportJob() ExportJobRepository

	// WithTransaction runs fn inside one database transaction.
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	Ping(ctx context.Context) error
	Close() error
}
