package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GradedSubmission is the grading record for one submission against one
// scheme. It holds a reference to the scheme, not a live dependency: the
// scheme version is snapshotted at creation and every evaluation carries
// denormalized rubric text, so later scheme edits never rewrite history.
type GradedSubmission struct {
	ID                    uint   `json:"id" gorm:"primaryKey"`
	SchemeID              uint   `json:"scheme_id" gorm:"not null;index"`
	SchemeVersionSnapshot int    `json:"scheme_version_snapshot" gorm:"not null"`
	SubmissionRef         string `json:"submission_ref" gorm:"not null;size:255;index" validate:"required,max=255"`

	// Totals are recomputed and frozen by the completion call.
	TotalPointsEarned decimal.Decimal `json:"total_points_earned" gorm:"type:numeric(10,2);not null;default:0"`
	PercentageScore   decimal.Decimal `json:"percentage_score" gorm:"type:numeric(5,2);not null;default:0"`

	IsComplete bool       `json:"is_complete" gorm:"not null;default:false;index"`
	GradedAt   *time.Time `json:"graded_at"`

	// Optimistic concurrency: every mutating call supplies the version it
	// last observed; a mismatch rejects the whole write.
	VersionNumber int `json:"version_number" gorm:"not null;default:1"`

	// Metadata
	CreatedBy string    `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Scheme      GradingScheme         `json:"-" gorm:"foreignKey:SchemeID"`
	Evaluations []CriterionEvaluation `json:"evaluations" gorm:"foreignKey:SubmissionID"`
}

// CriterionEvaluation is the awarded score and feedback for one criterion on
// one submission. At most one row may exist per (submission, criterion); the
// unique index makes concurrent creators collapse into a single row.
type CriterionEvaluation struct {
	ID           uint `json:"id" gorm:"primaryKey"`
	SubmissionID uint `json:"submission_id" gorm:"not null;index;uniqueIndex:idx_submission_criterion"`
	CriterionID  uint `json:"criterion_id" gorm:"not null;index;uniqueIndex:idx_submission_criterion"`

	PointsAwarded decimal.Decimal `json:"points_awarded" gorm:"type:numeric(10,2);not null"`
	FeedbackText  *string         `json:"feedback_text" gorm:"type:text" validate:"omitempty,max=4000"`

	// Snapshot fields copied from the scheme at write time. Immune to later
	// rubric edits or deletions.
	CriterionNameSnapshot string          `json:"criterion_name_snapshot" gorm:"not null;size:200"`
	QuestionTextSnapshot  string          `json:"question_text_snapshot" gorm:"not null;type:text"`
	CriterionMaxSnapshot  decimal.Decimal `json:"criterion_max_snapshot" gorm:"type:numeric(10,2);not null"`

	VersionNumber int `json:"version_number" gorm:"not null;default:1"`

	// Metadata
	GradedBy  string    `json:"graded_by" gorm:"not null;size:255"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Submission GradedSubmission `json:"-" gorm:"foreignKey:SubmissionID"`
}

func (GradedSubmission) TableName() string {
	return "graded_submissions"
}

func (CriterionEvaluation) TableName() string {
	return "criterion_evaluations"
}

// EvaluationByCriterion indexes a submission's evaluations by criterion id.
func (s *GradedSubmission) EvaluationByCriterion() map[uint]*CriterionEvaluation {
	out := make(map[uint]*CriterionEvaluation, len(s.Evaluations))
	for i := range s.Evaluations {
		out[s.Evaluations[i].CriterionID] = &s.Evaluations[i]
	}
	return out
}
