package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GradingScheme is the aggregate root of a rubric tree. The scheme and its
// questions/criteria are always validated and persisted as one unit.
type GradingScheme struct {
	ID          uint    `json:"id" gorm:"primaryKey"`
	Name        string  `json:"name" gorm:"not null;size:200;index" validate:"required,min=1,max=200"`
	Description *string `json:"description" gorm:"type:text" validate:"omitempty,max=2000"`
	Category    *string `json:"category" gorm:"size:100;index" validate:"omitempty,max=100"`

	// Derived: always equals the sum of question totals.
	TotalPossiblePoints decimal.Decimal `json:"total_possible_points" gorm:"type:numeric(10,2);not null;default:0"`

	// Incremented on structural edits once at least one submission references
	// the scheme. Submissions record the version they were graded against.
	VersionNumber int `json:"version_number" gorm:"not null;default:1"`

	// Metadata
	CreatedBy string         `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Questions []SchemeQuestion `json:"questions" gorm:"foreignKey:SchemeID"`
}

type SchemeQuestion struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	SchemeID uint   `json:"scheme_id" gorm:"not null;index;uniqueIndex:idx_scheme_question_order"`
	Text     string `json:"text" gorm:"not null;type:text" validate:"required,min=1,max=2000"`

	// Derived: always equals the sum of criterion max points, within tolerance.
	MaxPoints decimal.Decimal `json:"max_points" gorm:"type:numeric(10,2);not null"`

	DisplayOrder int `json:"display_order" gorm:"not null;uniqueIndex:idx_scheme_question_order" validate:"required,min=1"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Criteria []SchemeCriterion `json:"criteria" gorm:"foreignKey:QuestionID"`
}

type SchemeCriterion struct {
	ID          uint            `json:"id" gorm:"primaryKey"`
	QuestionID  uint            `json:"question_id" gorm:"not null;index;uniqueIndex:idx_question_criterion_order"`
	Name        string          `json:"name" gorm:"not null;size:200" validate:"required,min=1,max=200"`
	Description *string         `json:"description" gorm:"type:text" validate:"omitempty,max=2000"`
	MaxPoints   decimal.Decimal `json:"max_points" gorm:"type:numeric(10,2);not null"`

	DisplayOrder int `json:"display_order" gorm:"not null;uniqueIndex:idx_question_criterion_order" validate:"required,min=1"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (GradingScheme) TableName() string {
	return "grading_schemes"
}

func (SchemeQuestion) TableName() string {
	return "scheme_questions"
}

func (SchemeCriterion) TableName() string {
	return "scheme_criteria"
}

// CriterionCount returns the number of criteria across all questions.
func (s *GradingScheme) CriterionCount() int {
	count := 0
	for _, q := range s.Questions {
		count += len(q.Criteria)
	}
	return count
}
