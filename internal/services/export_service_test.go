package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/validator"
)

// seedGradedScheme creates the essay rubric and three fully graded
// submissions (5,3,4 / 6,4,5 / 3,1,2), completing the first one.
func seedGradedScheme(t *testing.T, env *testEnv) *SchemeResponse {
	t.Helper()
	ctx := context.Background()

	scheme, err := env.manager.Scheme().Create(ctx, essayRubricRequest(), "teacher-1")
	require.NoError(t, err)
	ids := criterionIDs(scheme.GradingScheme)

	scores := [][]string{
		{"5", "3", "4"},
		{"6", "4", "5"},
		{"3", "1", "2"},
	}
	for i, row := range scores {
		sub, err := env.manager.Grading().CreateSubmission(ctx, &CreateSubmissionRequest{
			SchemeID:      scheme.ID,
			SubmissionRef: "student-" + string(rune('a'+i)),
		}, "grader-1")
		require.NoError(t, err)
		v := gradeAll(t, env, sub.ID, ids, row)
		if i == 0 {
			_, err = env.manager.Grading().CompleteSubmission(ctx, sub.ID, v, "grader-1")
			require.NoError(t, err)
		}
	}
	return scheme
}

func TestExport_SyncCSV(t *testing.T) {
	env := newTestEnv(t)
	scheme := seedGradedScheme(t, env)

	outcome, err := env.manager.Export().Export(context.Background(), &ExportRequest{
		SchemeID: scheme.ID,
		Format:   "csv",
	}, "teacher-1")
	require.NoError(t, err)

	require.NotNil(t, outcome.Rendered, "small export renders inline")
	assert.Empty(t, outcome.JobID)
	assert.Equal(t, "text/csv", outcome.Rendered.ContentType)
	assert.Equal(t, 9, outcome.Rendered.RowCount, "3 submissions x 3 criteria")

	records, err := csv.NewReader(bytes.NewReader(outcome.Rendered.Payload)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 10, "header plus 9 rows")

	assert.Equal(t, []string{
		"submission_id", "submission_ref", "question_order", "question_text",
		"criterion_order", "criterion_name", "points_awarded", "max_points",
		"feedback", "is_complete", "graded_at",
	}, records[0])

	// First submission, first criterion in display order.
	first := records[1]
	assert.Equal(t, "student-a", first[1])
	assert.Equal(t, "1", first[2])
	assert.Equal(t, "Thesis clarity", first[5])
	assert.Equal(t, "5.00", first[6])
	assert.Equal(t, "6.00", first[7])
	assert.Equal(t, "true", first[9])
	assert.NotEmpty(t, first[10], "completed submission carries graded_at")

	// Incomplete submissions export with empty graded_at.
	last := records[9]
	assert.Equal(t, "student-c", last[1])
	assert.Equal(t, "false", last[9])
	assert.Empty(t, last[10])
}

func TestExport_SyncCSV_TotalsReaggregate(t *testing.T) {
	env := newTestEnv(t)
	scheme := seedGradedScheme(t, env)

	outcome, err := env.manager.Export().Export(context.Background(), &ExportRequest{
		SchemeID: scheme.ID,
		Format:   "csv",
	}, "teacher-1")
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(outcome.Rendered.Payload)).ReadAll()
	require.NoError(t, err)

	totals := make(map[string]decimal.Decimal)
	for _, rec := range records[1:] {
		points, err := decimal.NewFromString(rec[6])
		require.NoError(t, err)
		totals[rec[1]] = totals[rec[1]].Add(points)
	}
	assert.Equal(t, "12.00", totals["student-a"].StringFixed(2))
	assert.Equal(t, "15.00", totals["student-b"].StringFixed(2))
	assert.Equal(t, "6.00", totals["student-c"].StringFixed(2))
}

func TestExport_SyncJSON_PreservesHierarchy(t *testing.T) {
	env := newTestEnv(t)
	scheme := seedGradedScheme(t, env)

	outcome, err := env.manager.Export().Export(context.Background(), &ExportRequest{
		SchemeID: scheme.ID,
		Format:   "json",
	}, "teacher-1")
	require.NoError(t, err)
	require.NotNil(t, outcome.Rendered)
	assert.Equal(t, "application/json", outcome.Rendered.ContentType)

	var doc struct {
		SchemeID            uint   `json:"scheme_id"`
		SchemeName          string `json:"scheme_name"`
		TotalPossiblePoints string `json:"total_possible_points"`
		SubmissionCount     int    `json:"submission_count"`
		Submissions         []struct {
			SubmissionRef     string `json:"submission_ref"`
			IsComplete        bool   `json:"is_complete"`
			TotalPointsEarned string `json:"total_points_earned"`
			Questions         []struct {
				QuestionText string `json:"question_text"`
				Criteria     []struct {
					CriterionName string `json:"criterion_name"`
					PointsAwarded string `json:"points_awarded"`
					MaxPoints     string `json:"max_points"`
				} `json:"criteria"`
			} `json:"questions"`
		} `json:"submissions"`
	}
	require.NoError(t, json.Unmarshal(outcome.Rendered.Payload, &doc))

	assert.Equal(t, scheme.ID, doc.SchemeID)
	assert.Equal(t, "Essay Rubric", doc.SchemeName)
	assert.Equal(t, "15.00", doc.TotalPossiblePoints)
	assert.Equal(t, 3, doc.SubmissionCount)
	require.Len(t, doc.Submissions, 3)

	first := doc.Submissions[0]
	assert.Equal(t, "student-a", first.SubmissionRef)
	assert.True(t, first.IsComplete)
	assert.Equal(t, "12.00", first.TotalPointsEarned)
	require.Len(t, first.Questions, 2)
	require.Len(t, first.Questions[0].Criteria, 2)
	assert.Equal(t, "Thesis clarity", first.Questions[0].Criteria[0].CriterionName)
	assert.Equal(t, "5.00", first.Questions[0].Criteria[0].PointsAwarded)
}

func TestExport_SyncXLSX(t *testing.T) {
	env := newTestEnv(t)
	scheme := seedGradedScheme(t, env)

	outcome, err := env.manager.Export().Export(context.Background(), &ExportRequest{
		SchemeID: scheme.ID,
		Format:   "xlsx",
	}, "teacher-1")
	require.NoError(t, err)
	require.NotNil(t, outcome.Rendered)

	f, err := excelize.OpenReader(bytes.NewReader(outcome.Rendered.Payload))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Evaluations")
	require.NoError(t, err)
	require.Len(t, rows, 10)
	assert.Equal(t, "submission_id", rows[0][0])
	assert.Equal(t, "Thesis clarity", rows[1][5])
}

func TestExport_FilterByCompletion(t *testing.T) {
	env := newTestEnv(t)
	scheme := seedGradedScheme(t, env)

	complete := true
	outcome, err := env.manager.Export().Export(context.Background(), &ExportRequest{
		SchemeID:   scheme.ID,
		Format:     "csv",
		IsComplete: &complete,
	}, "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.Rendered.RowCount, "only the completed submission")
}

func TestExport_RowEstimateHonorsFilters(t *testing.T) {
	// The limit sits between the filtered estimate (1 submission x 3
	// criteria) and the unfiltered one (3 x 3): only the latter goes async.
	env := newTestEnvWithConfig(t, ExportConfig{SyncRowLimit: 5})
	scheme := seedGradedScheme(t, env)
	ctx := context.Background()

	complete := true
	outcome, err := env.manager.Export().Export(ctx, &ExportRequest{
		SchemeID:   scheme.ID,
		Format:     "csv",
		IsComplete: &complete,
	}, "teacher-1")
	require.NoError(t, err)
	require.NotNil(t, outcome.Rendered, "filtered export stays under the limit")
	assert.Empty(t, outcome.JobID)
	assert.Equal(t, 3, outcome.Rendered.RowCount)

	outcome, err = env.manager.Export().Export(ctx, &ExportRequest{
		SchemeID: scheme.ID,
		Format:   "csv",
	}, "teacher-1")
	require.NoError(t, err)
	assert.Nil(t, outcome.Rendered)
	assert.NotEmpty(t, outcome.JobID, "unfiltered export exceeds the limit")
}

func TestExport_InvalidFormat(t *testing.T) {
	env := newTestEnv(t)
	scheme := seedGradedScheme(t, env)

	_, err := env.manager.Export().Export(context.Background(), &ExportRequest{
		SchemeID: scheme.ID,
		Format:   "pdf",
	}, "teacher-1")
	require.Error(t, err)

	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
}

func TestExport_AsyncJobLifecycle(t *testing.T) {
	// A row limit of 1 forces every export through the async path.
	env := newTestEnvWithConfig(t, ExportConfig{SyncRowLimit: 1, WorkerCount: 1})
	scheme := seedGradedScheme(t, env)
	ctx := context.Background()

	require.NoError(t, env.manager.Export().Start(ctx))
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		env.manager.Export().Shutdown(shutdownCtx)
	})

	outcome, err := env.manager.Export().Export(ctx, &ExportRequest{
		SchemeID: scheme.ID,
		Format:   "csv",
	}, "teacher-1")
	require.NoError(t, err)
	require.NotEmpty(t, outcome.JobID)
	assert.Nil(t, outcome.Rendered)

	var job *models.ExportJob
	require.Eventually(t, func() bool {
		job, err = env.manager.Export().GetJob(ctx, outcome.JobID)
		require.NoError(t, err)
		return job.Status == models.ExportSucceeded
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 9, job.RowCount)
	assert.Equal(t, "text/csv", job.ContentType)
	assert.NotNil(t, job.FinishedAt)

	records, err := csv.NewReader(bytes.NewReader(job.Payload)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 10, "async payload matches the sync rendering")
}

func TestExport_CancelPendingJob(t *testing.T) {
	// Workers never started: the job stays Pending until cancelled.
	env := newTestEnvWithConfig(t, ExportConfig{SyncRowLimit: 1})
	scheme := seedGradedScheme(t, env)
	ctx := context.Background()

	outcome, err := env.manager.Export().Export(ctx, &ExportRequest{
		SchemeID: scheme.ID,
		Format:   "csv",
	}, "teacher-1")
	require.NoError(t, err)
	require.NotEmpty(t, outcome.JobID)

	require.NoError(t, env.manager.Export().CancelJob(ctx, outcome.JobID))

	job, err := env.manager.Export().GetJob(ctx, outcome.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportFailed, job.Status)
	require.NotNil(t, job.FailureReason)
	assert.Equal(t, "cancelled", *job.FailureReason)
	assert.Empty(t, job.Payload, "cancellation never leaves a partial payload")

	// Cancelling a terminal job is rejected.
	err = env.manager.Export().CancelJob(ctx, outcome.JobID)
	assert.True(t, IsStateError(err))
}

func TestExport_GetJobNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.manager.Export().GetJob(context.Background(), "no-such-job")
	assert.True(t, IsNotFound(err))
}

func TestExport_AfterSchemeSoftDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	scheme, err := env.manager.Scheme().Create(ctx, essayRubricRequest(), "teacher-1")
	require.NoError(t, err)
	ids := criterionIDs(scheme.GradingScheme)

	sub, err := env.manager.Grading().CreateSubmission(ctx, &CreateSubmissionRequest{
		SchemeID:      scheme.ID,
		SubmissionRef: "student-a",
	}, "grader-1")
	require.NoError(t, err)
	v := gradeAll(t, env, sub.ID, ids, []string{"5", "3", "4"})
	_, err = env.manager.Grading().CompleteSubmission(ctx, sub.ID, v, "grader-1")
	require.NoError(t, err)

	// Soft-delete directly: the service refuses while submissions exist, but
	// historical exports must survive a scheme that was removed anyway.
	require.NoError(t, env.repo.Scheme().SoftDelete(ctx, nil, scheme.ID))

	outcome, err := env.manager.Export().Export(ctx, &ExportRequest{
		SchemeID: scheme.ID,
		Format:   "csv",
	}, "teacher-1")
	require.NoError(t, err)
	require.NotNil(t, outcome.Rendered)
	assert.Equal(t, 3, outcome.Rendered.RowCount)

	records, err := csv.NewReader(bytes.NewReader(outcome.Rendered.Payload)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "Thesis clarity", records[1][5], "snapshot names render for deleted schemes")
}
