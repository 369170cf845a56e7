package validator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/SAP-F-2025/grading-service/internal/scoring"
)

// SchemeValidator handles structural and range validation over a scheme
// tree. Checks are exhaustive, not fail-fast: a single call returns every
// violation so a caller can present the complete list in one round trip.
type SchemeValidator struct {
	base *Validator
}

func NewSchemeValidator(base *Validator) *SchemeValidator {
	return &SchemeValidator{base: base}
}

// ValidatePointRange fails when value < 0 or value > max beyond the rounding
// tolerance.
func (sv *SchemeValidator) ValidatePointRange(field string, value, max decimal.Decimal) *ValidationError {
	if !scoring.InPointRange(value, max) {
		return NewRangeError(field,
			fmt.Sprintf("must be between 0 and %s", max.StringFixed(scoring.Places)),
			value.String())
	}
	return nil
}

// ValidateSchemeCreate validates the whole tree: struct tags plus hierarchy
// rules. Warnings report accepted-but-divergent question point totals.
func (sv *SchemeValidator) ValidateSchemeCreate(req *SchemeCreateRequest) (errs, warnings ValidationErrors) {
	errs = append(errs, sv.base.Struct(req)...)
	he, hw := sv.validateQuestionTree(req.Questions)
	return append(errs, he...), hw
}

// ValidateSchemeUpdate runs struct-tag validation over a patch. The
// resulting tree is re-validated separately via ValidateQuestions once the
// patch is applied.
func (sv *SchemeValidator) ValidateSchemeUpdate(req *SchemeUpdateRequest) ValidationErrors {
	return sv.base.Struct(req)
}

// ValidateQuestions checks a question tree's hierarchy rules, returning all
// violations plus divergence warnings.
func (sv *SchemeValidator) ValidateQuestions(questions []SchemeQuestionRequest) (errs, warnings ValidationErrors) {
	return sv.validateQuestionTree(questions)
}

func (sv *SchemeValidator) validateQuestionTree(questions []SchemeQuestionRequest) (errs, warnings ValidationErrors) {
	questionOrders := make(map[int]int)
	for qi, q := range questions {
		if prev, dup := questionOrders[q.DisplayOrder]; dup {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("questions[%d].display_order", qi),
				Message: fmt.Sprintf("duplicates display_order of questions[%d]", prev),
				Value:   q.DisplayOrder,
				Rule:    "display_order_unique",
			})
		} else {
			questionOrders[q.DisplayOrder] = qi
		}

		criterionOrders := make(map[int]int)
		criteriaSum := decimal.Zero
		for ci, c := range q.Criteria {
			if prev, dup := criterionOrders[c.DisplayOrder]; dup {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("questions[%d].criteria[%d].display_order", qi, ci),
					Message: fmt.Sprintf("duplicates display_order of criteria[%d]", prev),
					Value:   c.DisplayOrder,
					Rule:    "display_order_unique",
				})
			} else {
				criterionOrders[c.DisplayOrder] = ci
			}

			if c.MaxPoints.IsNegative() {
				errs = append(errs, *NewRangeError(
					fmt.Sprintf("questions[%d].criteria[%d].max_points", qi, ci),
					"must not be negative",
					c.MaxPoints.String()))
			}
			criteriaSum = criteriaSum.Add(c.MaxPoints)
		}

		// Criteria-sum invariant. A supplied max_points diverging beyond
		// tolerance is accepted with a warning; the derived sum is what gets
		// stored (see SchemeService).
		if q.MaxPoints != nil && !scoring.WithinTolerance(*q.MaxPoints, criteriaSum.Round(scoring.Places)) {
			warnings = append(warnings, ValidationError{
				Field:   fmt.Sprintf("questions[%d].max_points", qi),
				Message: fmt.Sprintf("diverges from criteria sum %s; derived sum was stored", criteriaSum.StringFixed(scoring.Places)),
				Value:   q.MaxPoints.String(),
				Rule:    "divergent_points",
			})
		}
	}
	return errs, warnings
}
