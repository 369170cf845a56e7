package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
)

type ExportJobPostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

func NewExportJobPostgreSQL(db *gorm.DB) repositories.ExportJobRepository {
	return &ExportJobPostgreSQL{db: db, helpers: NewSharedHelpers(db)}
}

func (r *ExportJobPostgreSQL) Create(ctx context.Context, tx *gorm.DB, job *models.ExportJob) error {
	if err := r.helpers.dbOr(tx).WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create export job: %w", err)
	}
	return nil
}

func (r *ExportJobPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id string) (*models.ExportJob, error) {
	var job models.ExportJob
	err := r.helpers.dbOr(tx).WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get export job: %w", err)
	}
	return &job, nil
}

// TransitionStatus is the guard that keeps job results consistent: the
// payload can only land through Processing -> Succeeded, and a cancel that
// won the race blocks any later result write.
func (r *ExportJobPostgreSQL) TransitionStatus(ctx context.Context, tx *gorm.DB, id string, from []models.ExportJobStatus, to models.ExportJobStatus, updates map[string]interface{}) (bool, error) {
	merged := make(map[string]interface{}, len(updates)+1)
	for k, v := range updates {
		merged[k] = v
	}
	merged["status"] = to

	res := r.helpers.dbOr(tx).WithContext(ctx).
		Model(&models.ExportJob{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(merged)
	if res.Error != nil {
		return false, fmt.Errorf("failed to transition export job: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *ExportJobPostgreSQL) IncrementAttempts(ctx context.Context, tx *gorm.DB, id string) error {
	err := r.helpers.dbOr(tx).WithContext(ctx).
		Model(&models.ExportJob{}).
		Where("id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1")).Error
	if err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}
	return nil
}
