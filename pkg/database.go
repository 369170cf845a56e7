package pkg

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/grading-service/internal/config"
	"github.com/SAP-F-2025/grading-service/internal/models"
)

// InitDatabase opens the postgres connection and migrates the schema.
// TranslateError maps driver unique-violation errors onto gorm's typed
// errors, which the evaluation upsert path depends on.
func InitDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.GradingScheme{},
		&models.SchemeQuestion{},
		&models.SchemeCriterion{},
		&models.GradedSubmission{},
		&models.CriterionEvaluation{},
		&models.ExportJob{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return db, nil
}
