package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/grading-service/internal/repositories"
)

// SharedHelpers contains common database operations, including the
// conditional-write primitive both grading write paths rely on.
type SharedHelpers struct {
	db *gorm.DB
}

func NewSharedHelpers(db *gorm.DB) *SharedHelpers {
	return &SharedHelpers{db: db}
}

func (h *SharedHelpers) dbOr(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return h.db
}

// ConditionalUpdate performs the optimistic-concurrency write: apply updates
// and bump version_number only while the stored version still equals
// expectedVersion. The statement is atomic per row; a loser sees ok=false and
// no partial field writes.
func (h *SharedHelpers) ConditionalUpdate(ctx context.Context, tx *gorm.DB, model interface{}, id interface{}, expectedVersion int, updates map[string]interface{}) (bool, error) {
	merged := make(map[string]interface{}, len(updates)+1)
	for k, v := range updates {
		merged[k] = v
	}
	merged["version_number"] = expectedVersion + 1

	res := h.dbOr(tx).WithContext(ctx).
		Model(model).
		Where("id = ? AND version_number = ?", id, expectedVersion).
		Updates(merged)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ApplySchemeFilters applies common filters to scheme queries.
func (h *SharedHelpers) ApplySchemeFilters(query *gorm.DB, filters repositories.SchemeFilters) *gorm.DB {
	if filters.Category != nil {
		query = query.Where("category = ?", *filters.Category)
	}
	if filters.CreatedBy != nil {
		query = query.Where("created_by = ?", *filters.CreatedBy)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplySubmissionFilters applies common filters to submission queries.
func (h *SharedHelpers) ApplySubmissionFilters(query *gorm.DB, filters repositories.SubmissionFilters) *gorm.DB {
	if filters.IsComplete != nil {
		query = query.Where("is_complete = ?", *filters.IsComplete)
	}
	if filters.CreatedBy != nil {
		query = query.Where("created_by = ?", *filters.CreatedBy)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplyPaginationAndSort applies pagination and sorting with a column
// whitelist.
func (h *SharedHelpers) ApplyPaginationAndSort(query *gorm.DB, sortBy, sortOrder string, limit, offset int) *gorm.DB {
	allowedSortColumns := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"id":         true,
		"name":       true,
		"category":   true,
		"graded_at":  true,
	}

	if sortBy == "" || !allowedSortColumns[sortBy] {
		sortBy = "created_at"
	}
	if sortOrder != "asc" && sortOrder != "ASC" {
		sortOrder = "DESC"
	} else {
		sortOrder = "ASC"
	}

	query = query.Order(sortBy + " " + sortOrder)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	return query
}
