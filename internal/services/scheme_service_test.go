package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/grading-service/internal/scoring"
	"github.com/SAP-F-2025/grading-service/internal/validator"
)

func TestSchemeCreate_DerivesTotals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, err := env.manager.Scheme().Create(ctx, essayRubricRequest(), "teacher-1")
	require.NoError(t, err)
	require.NotZero(t, resp.ID)

	assert.Equal(t, "15.00", resp.TotalPossiblePoints.StringFixed(scoring.Places))
	assert.Equal(t, 1, resp.VersionNumber)
	require.Len(t, resp.Questions, 2)
	assert.Equal(t, "10.00", resp.Questions[0].MaxPoints.StringFixed(scoring.Places))
	assert.Equal(t, "5.00", resp.Questions[1].MaxPoints.StringFixed(scoring.Places))
	assert.Empty(t, resp.Warnings)
}

func TestSchemeCreate_ValidationFailurePersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := essayRubricRequest()
	req.Name = ""
	req.Questions[0].Criteria[0].MaxPoints = dec("-2")

	_, err := env.manager.Scheme().Create(ctx, req, "teacher-1")
	require.Error(t, err)

	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.GreaterOrEqual(t, len(verrs), 2, "all violations reported at once")

	list, err := env.manager.Scheme().List(ctx, schemeFilters())
	require.NoError(t, err)
	assert.Zero(t, list.Total)
}

func TestSchemeCreate_DivergentQuestionMaxStoresDerivedSum(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := essayRubricRequest()
	divergent := dec("12")
	req.Questions[0].MaxPoints = &divergent

	resp, err := env.manager.Scheme().Create(ctx, req, "teacher-1")
	require.NoError(t, err)

	assert.Equal(t, "10.00", resp.Questions[0].MaxPoints.StringFixed(scoring.Places))
	assert.Equal(t, "15.00", resp.TotalPossiblePoints.StringFixed(scoring.Places))
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, "divergent_points", resp.Warnings[0].Rule)
}

func TestSchemeGetByID_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.manager.Scheme().GetByID(context.Background(), 9999)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestSchemeUpdate_NoSubmissionsKeepsVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.manager.Scheme().Create(ctx, essayRubricRequest(), "teacher-1")
	require.NoError(t, err)

	updated, err := env.manager.Scheme().Update(ctx, created.ID, &UpdateSchemeRequest{
		Name: strPtr("Essay Rubric v2"),
	}, "teacher-1")
	require.NoError(t, err)

	assert.Equal(t, "Essay Rubric v2", updated.Name)
	assert.Equal(t, 1, updated.VersionNumber, "no referencing submissions, edit in place")
	assert.Equal(t, "15.00", updated.TotalPossiblePoints.StringFixed(scoring.Places))
}

func TestSchemeUpdate_WithSubmissionsBumpsVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.manager.Scheme().Create(ctx, essayRubricRequest(), "teacher-1")
	require.NoError(t, err)

	_, err = env.manager.Grading().CreateSubmission(ctx, &CreateSubmissionRequest{
		SchemeID:      created.ID,
		SubmissionRef: "student-42",
	}, "grader-1")
	require.NoError(t, err)

	updated, err := env.manager.Scheme().Update(ctx, created.ID, &UpdateSchemeRequest{
		Name: strPtr("Essay Rubric v2"),
	}, "teacher-1")
	require.NoError(t, err)

	assert.Equal(t, 2, updated.VersionNumber)
}

func TestSchemeUpdate_ReshapesQuestionTreeAndRecomputesTotals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.manager.Scheme().Create(ctx, essayRubricRequest(), "teacher-1")
	require.NoError(t, err)

	questions := []validator.SchemeQuestionRequest{
		{
			Text:         "Single replacement question",
			DisplayOrder: 1,
			Criteria: []validator.SchemeCriterionRequest{
				{Name: "Only criterion", MaxPoints: dec("7.5"), DisplayOrder: 1},
			},
		},
	}
	updated, err := env.manager.Scheme().Update(ctx, created.ID, &UpdateSchemeRequest{
		Questions: &questions,
	}, "teacher-1")
	require.NoError(t, err)

	require.Len(t, updated.Questions, 1)
	assert.Equal(t, "7.50", updated.TotalPossiblePoints.StringFixed(scoring.Places))

	// The surviving slot keeps its row identity across the edit.
	assert.Equal(t, created.Questions[0].ID, updated.Questions[0].ID)
	assert.Equal(t, created.Questions[0].Criteria[0].ID, updated.Questions[0].Criteria[0].ID)
	assert.Equal(t, "Only criterion", updated.Questions[0].Criteria[0].Name)
}

func TestSchemeUpdate_InvalidTreeRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.manager.Scheme().Create(ctx, essayRubricRequest(), "teacher-1")
	require.NoError(t, err)

	questions := []validator.SchemeQuestionRequest{
		{
			Text:         "Q1",
			DisplayOrder: 1,
			Criteria: []validator.SchemeCriterionRequest{
				{Name: "A", MaxPoints: dec("1"), DisplayOrder: 1},
				{Name: "B", MaxPoints: dec("1"), DisplayOrder: 1},
			},
		},
	}
	_, err = env.manager.Scheme().Update(ctx, created.ID, &UpdateSchemeRequest{
		Questions: &questions,
	}, "teacher-1")
	require.Error(t, err)

	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)

	// The stored tree is untouched.
	fresh, err := env.manager.Scheme().GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, fresh.Questions, 2)
}

func TestSchemeDelete_BlockedByActiveSubmissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.manager.Scheme().Create(ctx, essayRubricRequest(), "teacher-1")
	require.NoError(t, err)

	_, err = env.manager.Grading().CreateSubmission(ctx, &CreateSubmissionRequest{
		SchemeID:      created.ID,
		SubmissionRef: "student-42",
	}, "grader-1")
	require.NoError(t, err)

	err = env.manager.Scheme().Delete(ctx, created.ID, "teacher-1")
	require.Error(t, err)
	assert.True(t, IsConflictError(err))
}

func TestSchemeDelete_SoftDeletes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.manager.Scheme().Create(ctx, essayRubricRequest(), "teacher-1")
	require.NoError(t, err)

	require.NoError(t, env.manager.Scheme().Delete(ctx, created.ID, "teacher-1"))

	_, err = env.manager.Scheme().GetByID(ctx, created.ID)
	assert.True(t, IsNotFound(err))

	// Still reachable for historical joins.
	any, err := env.repo.Scheme().GetByIDAny(ctx, nil, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, any.ID)
}

func TestSchemeClone_IndependentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	source, err := env.manager.Scheme().Create(ctx, essayRubricRequest(), "teacher-1")
	require.NoError(t, err)

	clone, err := env.manager.Scheme().Clone(ctx, source.ID, "teacher-2")
	require.NoError(t, err)

	assert.NotEqual(t, source.ID, clone.ID)
	assert.Equal(t, 1, clone.VersionNumber)
	assert.Equal(t, "teacher-2", clone.CreatedBy)
	assert.Equal(t, "15.00", clone.TotalPossiblePoints.StringFixed(scoring.Places))

	// Editing the clone leaves the source untouched.
	_, err = env.manager.Scheme().Update(ctx, clone.ID, &UpdateSchemeRequest{
		Name: strPtr("Clone renamed"),
	}, "teacher-2")
	require.NoError(t, err)

	fresh, err := env.manager.Scheme().GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, "Essay Rubric", fresh.Name)
}

func TestSchemeList_FiltersByCategory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.manager.Scheme().Create(ctx, essayRubricRequest(), "teacher-1")
	require.NoError(t, err)

	other := essayRubricRequest()
	other.Name = "Lab Rubric"
	other.Category = strPtr("lab")
	_, err = env.manager.Scheme().Create(ctx, other, "teacher-1")
	require.NoError(t, err)

	filters := schemeFilters()
	filters.Category = strPtr("lab")
	list, err := env.manager.Scheme().List(ctx, filters)
	require.NoError(t, err)
	require.EqualValues(t, 1, list.Total)
	assert.Equal(t, "Lab Rubric", list.Schemes[0].Name)
}
