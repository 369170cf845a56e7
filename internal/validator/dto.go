package validator

import (
	"time"

	"github.com/shopspring/decimal"
)

// SchemeCreateRequest is the full tree definition for one atomic scheme
// write. Decimal point values are range-checked by SchemeValidator, not by
// struct tags.
type SchemeCreateRequest struct {
	Name        string                  `json:"name" validate:"required,min=1,max=200"`
	Description *string                 `json:"description" validate:"omitempty,max=2000"`
	Category    *string                 `json:"category" validate:"omitempty,max=100"`
	Questions   []SchemeQuestionRequest `json:"questions" validate:"omitempty,dive"`
}

type SchemeQuestionRequest struct {
	Text string `json:"text" validate:"required,min=1,max=2000"`

	// Optional. When present it must match the criteria sum within tolerance;
	// a divergent value is stored as the derived sum and flagged as a warning.
	MaxPoints *decimal.Decimal `json:"max_points"`

	DisplayOrder int                      `json:"display_order" validate:"required,min=1"`
	Criteria     []SchemeCriterionRequest `json:"criteria" validate:"required,min=1,dive"`
}

type SchemeCriterionRequest struct {
	Name         string          `json:"name" validate:"required,min=1,max=200"`
	Description  *string         `json:"description" validate:"omitempty,max=2000"`
	MaxPoints    decimal.Decimal `json:"max_points"`
	DisplayOrder int             `json:"display_order" validate:"required,min=1"`
}

// SchemeUpdateRequest is a patch. A non-nil Questions slice replaces the
// whole question tree; the resulting aggregate is re-validated as one unit.
type SchemeUpdateRequest struct {
	Name        *string                  `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string                  `json:"description" validate:"omitempty,max=2000"`
	Category    *string                  `json:"category" validate:"omitempty,max=100"`
	Questions   *[]SchemeQuestionRequest `json:"questions" validate:"omitempty,dive"`
}

type SubmissionCreateRequest struct {
	SchemeID      uint   `json:"scheme_id" validate:"required"`
	SubmissionRef string `json:"submission_ref" validate:"required,max=255"`
}

// EvaluationWriteRequest upserts one criterion evaluation. ExpectedVersion 0
// asserts the evaluation does not exist yet.
type EvaluationWriteRequest struct {
	PointsAwarded   decimal.Decimal `json:"points_awarded"`
	FeedbackText    *string         `json:"feedback_text" validate:"omitempty,max=4000"`
	ExpectedVersion int             `json:"expected_version" validate:"min=0"`
}

type ExportRequest struct {
	SchemeID   uint       `json:"scheme_id" validate:"required"`
	Format     string     `json:"format" validate:"required,export_format"`
	IsComplete *bool      `json:"is_complete"`
	DateFrom   *time.Time `json:"date_from"`
	DateTo     *time.Time `json:"date_to"`
}
