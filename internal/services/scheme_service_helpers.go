package services

import (
	"github.com/shopspring/decimal"

	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/scoring"
	"github.com/SAP-F-2025/grading-service/internal/validator"
)

// buildSchemeTree assembles a model tree from a validated create request.
// Question max_points and the scheme total are derived from the criteria
// sums; a supplied question max never overrides the derived value (divergence
// is surfaced as a warning by the validator instead).
func buildSchemeTree(req *CreateSchemeRequest, creatorID string) *models.GradingScheme {
	scheme := &models.GradingScheme{
		Name:          req.Name,
		Description:   req.Description,
		Category:      req.Category,
		VersionNumber: 1,
		CreatedBy:     creatorID,
	}
	scheme.Questions = buildQuestions(req.Questions)
	scheme.TotalPossiblePoints = schemeTotalFromQuestions(scheme.Questions)
	return scheme
}

func buildQuestions(reqs []validator.SchemeQuestionRequest) []models.SchemeQuestion {
	questions := make([]models.SchemeQuestion, len(reqs))
	for qi, q := range reqs {
		criteria := make([]models.SchemeCriterion, len(q.Criteria))
		maxes := make([]decimal.Decimal, len(q.Criteria))
		for ci, c := range q.Criteria {
			criteria[ci] = models.SchemeCriterion{
				Name:         c.Name,
				Description:  c.Description,
				MaxPoints:    c.MaxPoints.Round(scoring.Places),
				DisplayOrder: c.DisplayOrder,
			}
			maxes[ci] = c.MaxPoints
		}
		questions[qi] = models.SchemeQuestion{
			Text:         q.Text,
			MaxPoints:    scoring.QuestionTotal(maxes),
			DisplayOrder: q.DisplayOrder,
			Criteria:     criteria,
		}
	}
	return questions
}

func schemeTotalFromQuestions(questions []models.SchemeQuestion) decimal.Decimal {
	totals := make([]decimal.Decimal, len(questions))
	for i, q := range questions {
		totals[i] = q.MaxPoints
	}
	return scoring.SchemeTotal(totals)
}

// applySchemePatch produces the post-edit tree for SyncTree. The caller
// decides the version number.
func applySchemePatch(existing *models.GradingScheme, req *UpdateSchemeRequest, questions []validator.SchemeQuestionRequest) *models.GradingScheme {
	next := &models.GradingScheme{
		ID:            existing.ID,
		Name:          existing.Name,
		Description:   existing.Description,
		Category:      existing.Category,
		VersionNumber: existing.VersionNumber,
		CreatedBy:     existing.CreatedBy,
	}
	if req.Name != nil {
		next.Name = *req.Name
	}
	if req.Description != nil {
		next.Description = req.Description
	}
	if req.Category != nil {
		next.Category = req.Category
	}
	next.Questions = buildQuestions(questions)
	next.TotalPossiblePoints = schemeTotalFromQuestions(next.Questions)
	return next
}

// questionRequestsFromTree converts a stored tree back into request form so
// a patch that does not touch questions still re-validates the full
// aggregate.
func questionRequestsFromTree(scheme *models.GradingScheme) []validator.SchemeQuestionRequest {
	reqs := make([]validator.SchemeQuestionRequest, len(scheme.Questions))
	for qi, q := range scheme.Questions {
		criteria := make([]validator.SchemeCriterionRequest, len(q.Criteria))
		for ci, c := range q.Criteria {
			criteria[ci] = validator.SchemeCriterionRequest{
				Name:         c.Name,
				Description:  c.Description,
				MaxPoints:    c.MaxPoints,
				DisplayOrder: c.DisplayOrder,
			}
		}
		maxPoints := q.MaxPoints
		reqs[qi] = validator.SchemeQuestionRequest{
			Text:         q.Text,
			MaxPoints:    &maxPoints,
			DisplayOrder: q.DisplayOrder,
			Criteria:     criteria,
		}
	}
	return reqs
}

// cloneSchemeTree deep-copies a tree with fresh ids and a fresh lifecycle.
func cloneSchemeTree(source *models.GradingScheme, creatorID string) *models.GradingScheme {
	clone := &models.GradingScheme{
		Name:                source.Name,
		Description:         source.Description,
		Category:            source.Category,
		TotalPossiblePoints: source.TotalPossiblePoints,
		VersionNumber:       1,
		CreatedBy:           creatorID,
	}
	clone.Questions = make([]models.SchemeQuestion, len(source.Questions))
	for qi, q := range source.Questions {
		criteria := make([]models.SchemeCriterion, len(q.Criteria))
		for ci, c := range q.Criteria {
			criteria[ci] = models.SchemeCriterion{
				Name:         c.Name,
				Description:  c.Description,
				MaxPoints:    c.MaxPoints,
				DisplayOrder: c.DisplayOrder,
			}
		}
		clone.Questions[qi] = models.SchemeQuestion{
			Text:         q.Text,
			MaxPoints:    q.MaxPoints,
			DisplayOrder: q.DisplayOrder,
			Criteria:     criteria,
		}
	}
	return clone
}
