package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
)

type EvaluationPostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

func NewEvaluationPostgreSQL(db *gorm.DB) repositories.EvaluationRepository {
	return &EvaluationPostgreSQL{db: db, helpers: NewSharedHelpers(db)}
}

func (r *EvaluationPostgreSQL) GetByPair(ctx context.Context, tx *gorm.DB, submissionID, criterionID uint) (*models.CriterionEvaluation, error) {
	var eval models.CriterionEvaluation
	err := r.helpers.dbOr(tx).WithContext(ctx).
		Where("submission_id = ? AND criterion_id = ?", submissionID, criterionID).
		First(&eval).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get evaluation: %w", err)
	}
	return &eval, nil
}

func (r *EvaluationPostgreSQL) ListBySubmissions(ctx context.Context, tx *gorm.DB, submissionIDs []uint) ([]*models.CriterionEvaluation, error) {
	if len(submissionIDs) == 0 {
		return nil, nil
	}
	var evals []*models.CriterionEvaluation
	err := r.helpers.dbOr(tx).WithContext(ctx).
		Where("submission_id IN ?", submissionIDs).
		Order("submission_id ASC, criterion_id ASC").
		Find(&evals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	return evals, nil
}

func (r *EvaluationPostgreSQL) Insert(ctx context.Context, tx *gorm.DB, eval *models.CriterionEvaluation) error {
	eval.VersionNumber = 1
	err := r.helpers.dbOr(tx).WithContext(ctx).Create(eval).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return repositories.ErrDuplicate
		}
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}
	return nil
}

func (r *EvaluationPostgreSQL) UpdateConditional(ctx context.Context, tx *gorm.DB, id uint, expectedVersion int, updates map[string]interface{}) (bool, error) {
	return r.helpers.ConditionalUpdate(ctx, tx, &models.CriterionEvaluation{}, id, expectedVersion, updates)
}

// isUniqueViolation covers drivers whose errors gorm does not translate.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}
