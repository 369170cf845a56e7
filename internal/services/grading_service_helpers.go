package services

import (
	"github.com/shopspring/decimal"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/scoring"
)

// evaluationPayloadEqual reports whether a stored evaluation carries exactly
// this payload. Used to recognize an idempotent replay of a write that
// already landed.
func evaluationPayloadEqual(eval *models.CriterionEvaluation, points decimal.Decimal, feedback *string) bool {
	if !eval.PointsAwarded.Equal(points) {
		return false
	}
	if (eval.FeedbackText == nil) != (feedback == nil) {
		return false
	}
	if feedback != nil && *eval.FeedbackText != *feedback {
		return false
	}
	return true
}

// missingCriteria lists scheme criteria with no evaluation on the
// submission.
func missingCriteria(scheme *models.GradingScheme, sub *models.GradedSubmission) []uint {
	evaluated := make(map[uint]bool, len(sub.Evaluations))
	for _, eval := range sub.Evaluations {
		evaluated[eval.CriterionID] = true
	}

	var missing []uint
	for _, q := range scheme.Questions {
		for _, c := range q.Criteria {
			if !evaluated[c.ID] {
				missing = append(missing, c.ID)
			}
		}
	}
	return missing
}

// submissionTotals computes earned points and the percentage score for a
// fully evaluated submission: criteria sums roll up per question, question
// totals roll up to the earned total, each rounded at its level. Possible
// points come from the evaluations' max snapshots, not the live tree, so a
// scheme edited after grading started keeps the rubric the submission was
// actually graded against. Evaluations whose criterion no longer exists in
// the live tree still count, grouped under their question text snapshot.
func submissionTotals(scheme *models.GradingScheme, sub *models.GradedSubmission) (earned, pct decimal.Decimal) {
	byCriterion := sub.EvaluationByCriterion()

	possible := decimal.Zero
	matched := make(map[uint]bool, len(sub.Evaluations))
	questionTotals := make([]decimal.Decimal, 0, len(scheme.Questions))
	for _, q := range scheme.Questions {
		scores := make([]decimal.Decimal, 0, len(q.Criteria))
		for _, c := range q.Criteria {
			if eval, ok := byCriterion[c.ID]; ok {
				scores = append(scores, eval.PointsAwarded)
				possible = possible.Add(eval.CriterionMaxSnapshot)
				matched[c.ID] = true
			}
		}
		if len(scores) > 0 {
			questionTotals = append(questionTotals, scoring.QuestionTotal(scores))
		}
	}

	orphans := make(map[string][]decimal.Decimal)
	for i := range sub.Evaluations {
		eval := &sub.Evaluations[i]
		if matched[eval.CriterionID] {
			continue
		}
		orphans[eval.QuestionTextSnapshot] = append(orphans[eval.QuestionTextSnapshot], eval.PointsAwarded)
		possible = possible.Add(eval.CriterionMaxSnapshot)
	}
	for _, scores := range orphans {
		questionTotals = append(questionTotals, scoring.QuestionTotal(scores))
	}

	earned = scoring.SchemeTotal(questionTotals)
	pct, _ = scoring.Percentage(earned, possible)
	return earned, pct
}
