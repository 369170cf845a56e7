package services

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/grading-service/internal/events"
	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
	"github.com/SAP-F-2025/grading-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/grading-service/internal/validator"
)

type testEnv struct {
	repo    repositories.Repository
	bus     *events.Bus
	manager ServiceManager
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, ExportConfig{})
}

func newTestEnvWithConfig(t *testing.T, exportConfig ExportConfig) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.GradingScheme{},
		&models.SchemeQuestion{},
		&models.SchemeCriterion{},
		&models.GradedSubmission{},
		&models.CriterionEvaluation{},
		&models.ExportJob{},
	))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus, err := events.NewBus(logger, nil)
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })

	repo := postgres.NewPostgreSQLRepository(db)
	manager := NewServiceManager(repo, nil, bus, logger, exportConfig)

	return &testEnv{repo: repo, bus: bus, manager: manager}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func strPtr(s string) *string { return &s }

// essayRubricRequest builds a two-question rubric worth 15 points: question
// one has criteria worth 6 and 4, question two a single criterion worth 5.
func essayRubricRequest() *CreateSchemeRequest {
	return &CreateSchemeRequest{
		Name:     "Essay Rubric",
		Category: strPtr("essay"),
		Questions: []validator.SchemeQuestionRequest{
			{
				Text:         "Analyze the given passage",
				DisplayOrder: 1,
				Criteria: []validator.SchemeCriterionRequest{
					{Name: "Thesis clarity", MaxPoints: dec("6"), DisplayOrder: 1},
					{Name: "Use of evidence", MaxPoints: dec("4"), DisplayOrder: 2},
				},
			},
			{
				Text:         "Summarize the argument",
				DisplayOrder: 2,
				Criteria: []validator.SchemeCriterionRequest{
					{Name: "Grammar", MaxPoints: dec("5"), DisplayOrder: 1},
				},
			},
		},
	}
}

func schemeFilters() repositories.SchemeFilters {
	return repositories.SchemeFilters{Limit: 50}
}

func submissionFilters() repositories.SubmissionFilters {
	return repositories.SubmissionFilters{Limit: 50}
}

// criterionIDs returns the scheme's criterion ids in display order.
func criterionIDs(scheme *models.GradingScheme) []uint {
	var ids []uint
	for _, q := range scheme.Questions {
		for _, c := range q.Criteria {
			ids = append(ids, c.ID)
		}
	}
	return ids
}
