package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
)

type SubmissionPostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

func NewSubmissionPostgreSQL(db *gorm.DB) repositories.SubmissionRepository {
	return &SubmissionPostgreSQL{db: db, helpers: NewSharedHelpers(db)}
}

func (r *SubmissionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, sub *models.GradedSubmission) error {
	if err := r.helpers.dbOr(tx).WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

func (r *SubmissionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.GradedSubmission, error) {
	var sub models.GradedSubmission
	err := r.helpers.dbOr(tx).WithContext(ctx).First(&sub, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return &sub, nil
}

func (r *SubmissionPostgreSQL) GetByIDWithEvaluations(ctx context.Context, tx *gorm.DB, id uint) (*models.GradedSubmission, error) {
	var sub models.GradedSubmission
	err := r.helpers.dbOr(tx).WithContext(ctx).
		Preload("Evaluations").
		First(&sub, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get submission with evaluations: %w", err)
	}
	return &sub, nil
}

func (r *SubmissionPostgreSQL) ListByScheme(ctx context.Context, tx *gorm.DB, schemeID uint, filters repositories.SubmissionFilters) ([]*models.GradedSubmission, int64, error) {
	db := r.helpers.dbOr(tx).WithContext(ctx)

	query := r.helpers.ApplySubmissionFilters(
		db.Model(&models.GradedSubmission{}).Where("scheme_id = ?", schemeID), filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count submissions: %w", err)
	}

	var subs []*models.GradedSubmission
	query = r.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Preload("Evaluations").Find(&subs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list submissions: %w", err)
	}
	return subs, total, nil
}

func (r *SubmissionPostgreSQL) CountByScheme(ctx context.Context, tx *gorm.DB, schemeID uint, filters repositories.SubmissionFilters) (int64, error) {
	query := r.helpers.ApplySubmissionFilters(
		r.helpers.dbOr(tx).WithContext(ctx).
			Model(&models.GradedSubmission{}).
			Where("scheme_id = ?", schemeID), filters)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return count, nil
}

func (r *SubmissionPostgreSQL) UpdateConditional(ctx context.Context, tx *gorm.DB, id uint, expectedVersion int, updates map[string]interface{}) (bool, error) {
	return r.helpers.ConditionalUpdate(ctx, tx, &models.GradedSubmission{}, id, expectedVersion, updates)
}

func (r *SubmissionPostgreSQL) BumpIfOpen(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	res := r.helpers.dbOr(tx).WithContext(ctx).
		Model(&models.GradedSubmission{}).
		Where("id = ? AND is_complete = ?", id, false).
		Update("version_number", gorm.Expr("version_number + 1"))
	if res.Error != nil {
		return false, fmt.Errorf("failed to bump submission version: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
