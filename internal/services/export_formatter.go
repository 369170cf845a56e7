package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/scoring"
)

// exportColumns is the frozen flat-export column order. Downstream analytics
// pipelines key on these names and positions; never reorder or rename.
var exportColumns = []string{
	"submission_id",
	"submission_ref",
	"question_order",
	"question_text",
	"criterion_order",
	"criterion_name",
	"points_awarded",
	"max_points",
	"feedback",
	"is_complete",
	"graded_at",
}

// ExportRow is one criterion evaluation flattened for export. Names and texts
// come from the evaluation snapshots, so rows for deleted or edited criteria
// render exactly as they were graded.
type ExportRow struct {
	SubmissionID   uint
	SubmissionRef  string
	QuestionOrder  int
	QuestionText   string
	CriterionOrder int
	CriterionName  string
	PointsAwarded  string
	MaxPoints      string
	Feedback       string
	IsComplete     bool
	GradedAt       *time.Time
}

type criterionPosition struct {
	questionOrder  int
	criterionOrder int
}

// BuildExportRows flattens submissions into ordered export rows. Ordering
// comes from the scheme tree's display orders; evaluations whose criterion no
// longer exists in the tree sort after the live ones, keyed by criterion id.
func BuildExportRows(scheme *models.GradingScheme, subs []*models.GradedSubmission) []ExportRow {
	positions := make(map[uint]criterionPosition)
	for _, q := range scheme.Questions {
		for _, c := range q.Criteria {
			positions[c.ID] = criterionPosition{q.DisplayOrder, c.DisplayOrder}
		}
	}

	var rows []ExportRow
	for _, sub := range subs {
		evals := make([]*models.CriterionEvaluation, len(sub.Evaluations))
		for i := range sub.Evaluations {
			evals[i] = &sub.Evaluations[i]
		}
		sort.Slice(evals, func(i, j int) bool {
			pi, iLive := positions[evals[i].CriterionID]
			pj, jLive := positions[evals[j].CriterionID]
			if iLive != jLive {
				return iLive
			}
			if !iLive {
				return evals[i].CriterionID < evals[j].CriterionID
			}
			if pi.questionOrder != pj.questionOrder {
				return pi.questionOrder < pj.questionOrder
			}
			return pi.criterionOrder < pj.criterionOrder
		})

		for _, eval := range evals {
			pos := positions[eval.CriterionID]
			row := ExportRow{
				SubmissionID:   sub.ID,
				SubmissionRef:  sub.SubmissionRef,
				QuestionOrder:  pos.questionOrder,
				QuestionText:   eval.QuestionTextSnapshot,
				CriterionOrder: pos.criterionOrder,
				CriterionName:  eval.CriterionNameSnapshot,
				PointsAwarded:  eval.PointsAwarded.StringFixed(scoring.Places),
				MaxPoints:      eval.CriterionMaxSnapshot.StringFixed(scoring.Places),
				IsComplete:     sub.IsComplete,
				GradedAt:       sub.GradedAt,
			}
			if eval.FeedbackText != nil {
				row.Feedback = *eval.FeedbackText
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func (r ExportRow) record() []string {
	gradedAt := ""
	if r.GradedAt != nil {
		gradedAt = r.GradedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		strconv.FormatUint(uint64(r.SubmissionID), 10),
		r.SubmissionRef,
		strconv.Itoa(r.QuestionOrder),
		r.QuestionText,
		strconv.Itoa(r.CriterionOrder),
		r.CriterionName,
		r.PointsAwarded,
		r.MaxPoints,
		r.Feedback,
		strconv.FormatBool(r.IsComplete),
		gradedAt,
	}
}

// RenderCSV writes the header row plus one record per evaluation.
func RenderCSV(rows []ExportRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(exportColumns); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row.record()); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

type jsonExportCriterion struct {
	CriterionOrder int     `json:"criterion_order"`
	CriterionName  string  `json:"criterion_name"`
	PointsAwarded  string  `json:"points_awarded"`
	MaxPoints      string  `json:"max_points"`
	Feedback       *string `json:"feedback,omitempty"`
}

type jsonExportQuestion struct {
	QuestionOrder int                   `json:"question_order"`
	QuestionText  string                `json:"question_text"`
	Criteria      []jsonExportCriterion `json:"criteria"`
}

type jsonExportSubmission struct {
	SubmissionID      uint                 `json:"submission_id"`
	SubmissionRef     string               `json:"submission_ref"`
	IsComplete        bool                 `json:"is_complete"`
	GradedAt          *time.Time           `json:"graded_at"`
	TotalPointsEarned string               `json:"total_points_earned"`
	PercentageScore   string               `json:"percentage_score"`
	Questions         []jsonExportQuestion `json:"questions"`
}

type jsonExport struct {
	SchemeID            uint                   `json:"scheme_id"`
	SchemeName          string                 `json:"scheme_name"`
	SchemeVersion       int                    `json:"scheme_version"`
	TotalPossiblePoints string                 `json:"total_possible_points"`
	GeneratedAt         time.Time              `json:"generated_at"`
	SubmissionCount     int                    `json:"submission_count"`
	Submissions         []jsonExportSubmission `json:"submissions"`
}

// RenderJSON preserves the scheme hierarchy: submissions nest questions nest
// criteria, with scheme metadata up top. Decimal values render as fixed
// two-place strings.
func RenderJSON(scheme *models.GradingScheme, subs []*models.GradedSubmission, rows []ExportRow) ([]byte, error) {
	bySubmission := make(map[uint][]ExportRow)
	for _, row := range rows {
		bySubmission[row.SubmissionID] = append(bySubmission[row.SubmissionID], row)
	}

	out := jsonExport{
		SchemeID:            scheme.ID,
		SchemeName:          scheme.Name,
		SchemeVersion:       scheme.VersionNumber,
		TotalPossiblePoints: scheme.TotalPossiblePoints.StringFixed(scoring.Places),
		GeneratedAt:         time.Now().UTC(),
		SubmissionCount:     len(subs),
	}

	for _, sub := range subs {
		js := jsonExportSubmission{
			SubmissionID:      sub.ID,
			SubmissionRef:     sub.SubmissionRef,
			IsComplete:        sub.IsComplete,
			GradedAt:          sub.GradedAt,
			TotalPointsEarned: sub.TotalPointsEarned.StringFixed(scoring.Places),
			PercentageScore:   sub.PercentageScore.StringFixed(scoring.Places),
		}

		// Rows are already question-ordered; group consecutive rows of the
		// same question text into one question node.
		var current *jsonExportQuestion
		for _, row := range bySubmission[sub.ID] {
			if current == nil || current.QuestionText != row.QuestionText || current.QuestionOrder != row.QuestionOrder {
				js.Questions = append(js.Questions, jsonExportQuestion{
					QuestionOrder: row.QuestionOrder,
					QuestionText:  row.QuestionText,
				})
				current = &js.Questions[len(js.Questions)-1]
			}
			crit := jsonExportCriterion{
				CriterionOrder: row.CriterionOrder,
				CriterionName:  row.CriterionName,
				PointsAwarded:  row.PointsAwarded,
				MaxPoints:      row.MaxPoints,
			}
			if row.Feedback != "" {
				feedback := row.Feedback
				crit.Feedback = &feedback
			}
			current.Criteria = append(current.Criteria, crit)
		}

		out.Submissions = append(out.Submissions, js)
	}

	return json.MarshalIndent(out, "", "  ")
}

// RenderXLSX writes the same flat rows as CSV into a single worksheet.
func RenderXLSX(rows []ExportRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Evaluations"
	f.SetSheetName("Sheet1", sheet)

	header := make([]interface{}, len(exportColumns))
	for i, col := range exportColumns {
		header[i] = col
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write xlsx header: %w", err)
	}

	for i, row := range rows {
		record := row.record()
		cells := make([]interface{}, len(record))
		for j, v := range record {
			cells[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return nil, fmt.Errorf("failed to write xlsx row: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func contentTypeFor(format models.ExportFormat) string {
	switch format {
	case models.FormatJSON:
		return "application/json"
	case models.FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv"
	}
}

func exportFilename(schemeID uint, format models.ExportFormat, at time.Time) string {
	return fmt.Sprintf("scheme_%d_evaluations_%s.%s", schemeID, at.UTC().Format("20060102T150405Z"), format)
}
