package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
)

// SchemePostgreSQL persists scheme trees. The tree is always loaded and
// stored whole: totals are recomputed by the service layer over the full
// aggregate, never by scattered per-child triggers.
type SchemePostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

func NewSchemePostgreSQL(db *gorm.DB) repositories.SchemeRepository {
	return &SchemePostgreSQL{db: db, helpers: NewSharedHelpers(db)}
}

func (r *SchemePostgreSQL) Create(ctx context.Context, tx *gorm.DB, scheme *models.GradingScheme) error {
	db := r.helpers.dbOr(tx).WithContext(ctx)
	if err := db.Create(scheme).Error; err != nil {
		return fmt.Errorf("failed to create scheme tree: %w", err)
	}
	return nil
}

func (r *SchemePostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.GradingScheme, error) {
	return r.getByID(ctx, r.helpers.dbOr(tx), id)
}

func (r *SchemePostgreSQL) GetByIDAny(ctx context.Context, tx *gorm.DB, id uint) (*models.GradingScheme, error) {
	return r.getByID(ctx, r.helpers.dbOr(tx).Unscoped(), id)
}

func (r *SchemePostgreSQL) getByID(ctx context.Context, db *gorm.DB, id uint) (*models.GradingScheme, error) {
	var scheme models.GradingScheme
	err := db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order ASC")
		}).
		Preload("Questions.Criteria", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order ASC")
		}).
		First(&scheme, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get scheme: %w", err)
	}
	return &scheme, nil
}

func (r *SchemePostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.SchemeFilters) ([]*models.GradingScheme, int64, error) {
	db := r.helpers.dbOr(tx).WithContext(ctx)

	query := r.helpers.ApplySchemeFilters(db.Model(&models.GradingScheme{}), filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count schemes: %w", err)
	}

	var schemes []*models.GradingScheme
	query = r.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("display_order ASC") }).
		Preload("Questions.Criteria", func(db *gorm.DB) *gorm.DB { return db.Order("display_order ASC") }).
		Find(&schemes).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list schemes: %w", err)
	}
	return schemes, total, nil
}

// SyncTree rewrites the scheme row and reconciles the question/criterion
// tree against the stored one. Rows are matched by display_order at each
// level and updated in place, so a surviving question or criterion keeps its
// id across edits; evaluations referencing it stay valid. Only rows whose
// slot disappeared are deleted, only rows in new slots are inserted. Callers
// run this inside WithTransaction.
func (r *SchemePostgreSQL) SyncTree(ctx context.Context, tx *gorm.DB, scheme *models.GradingScheme) error {
	db := r.helpers.dbOr(tx).WithContext(ctx)

	var current []models.SchemeQuestion
	if err := db.Where("scheme_id = ?", scheme.ID).
		Preload("Criteria").
		Find(&current).Error; err != nil {
		return fmt.Errorf("failed to load current tree: %w", err)
	}
	currentByOrder := make(map[int]*models.SchemeQuestion, len(current))
	for i := range current {
		currentByOrder[current[i].DisplayOrder] = &current[i]
	}

	updates := map[string]interface{}{
		"name":                  scheme.Name,
		"description":           scheme.Description,
		"category":              scheme.Category,
		"total_possible_points": scheme.TotalPossiblePoints,
		"version_number":        scheme.VersionNumber,
	}
	if err := db.Model(&models.GradingScheme{}).
		Where("id = ?", scheme.ID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update scheme: %w", err)
	}

	kept := make(map[uint]bool, len(scheme.Questions))
	for qi := range scheme.Questions {
		q := &scheme.Questions[qi]
		q.SchemeID = scheme.ID

		prev, exists := currentByOrder[q.DisplayOrder]
		if !exists {
			if err := db.Create(q).Error; err != nil {
				return fmt.Errorf("failed to insert question: %w", err)
			}
			continue
		}

		q.ID = prev.ID
		kept[prev.ID] = true
		if err := db.Model(&models.SchemeQuestion{}).
			Where("id = ?", prev.ID).
			Updates(map[string]interface{}{
				"text":       q.Text,
				"max_points": q.MaxPoints,
			}).Error; err != nil {
			return fmt.Errorf("failed to update question: %w", err)
		}
		if err := syncCriteria(db, q, prev); err != nil {
			return err
		}
	}

	for i := range current {
		if kept[current[i].ID] {
			continue
		}
		if err := db.Where("question_id = ?", current[i].ID).
			Delete(&models.SchemeCriterion{}).Error; err != nil {
			return fmt.Errorf("failed to clear removed criteria: %w", err)
		}
		if err := db.Delete(&models.SchemeQuestion{}, current[i].ID).Error; err != nil {
			return fmt.Errorf("failed to delete removed question: %w", err)
		}
	}
	return nil
}

func syncCriteria(db *gorm.DB, next, prev *models.SchemeQuestion) error {
	prevByOrder := make(map[int]*models.SchemeCriterion, len(prev.Criteria))
	for i := range prev.Criteria {
		prevByOrder[prev.Criteria[i].DisplayOrder] = &prev.Criteria[i]
	}

	kept := make(map[uint]bool, len(next.Criteria))
	for ci := range next.Criteria {
		c := &next.Criteria[ci]
		c.QuestionID = prev.ID

		pc, exists := prevByOrder[c.DisplayOrder]
		if !exists {
			if err := db.Create(c).Error; err != nil {
				return fmt.Errorf("failed to insert criterion: %w", err)
			}
			continue
		}

		c.ID = pc.ID
		kept[pc.ID] = true
		if err := db.Model(&models.SchemeCriterion{}).
			Where("id = ?", pc.ID).
			Updates(map[string]interface{}{
				"name":        c.Name,
				"description": c.Description,
				"max_points":  c.MaxPoints,
			}).Error; err != nil {
			return fmt.Errorf("failed to update criterion: %w", err)
		}
	}

	for i := range prev.Criteria {
		if kept[prev.Criteria[i].ID] {
			continue
		}
		if err := db.Delete(&models.SchemeCriterion{}, prev.Criteria[i].ID).Error; err != nil {
			return fmt.Errorf("failed to delete removed criterion: %w", err)
		}
	}
	return nil
}

func (r *SchemePostgreSQL) SoftDelete(ctx context.Context, tx *gorm.DB, id uint) error {
	res := r.helpers.dbOr(tx).WithContext(ctx).Delete(&models.GradingScheme{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete scheme: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (r *SchemePostgreSQL) GetCriterion(ctx context.Context, tx *gorm.DB, id uint) (*models.SchemeCriterion, *models.SchemeQuestion, error) {
	db := r.helpers.dbOr(tx).WithContext(ctx)

	var criterion models.SchemeCriterion
	if err := db.First(&criterion, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, repositories.ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to get criterion: %w", err)
	}

	var question models.SchemeQuestion
	if err := db.First(&question, criterion.QuestionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, repositories.ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to get parent question: %w", err)
	}
	return &criterion, &question, nil
}
