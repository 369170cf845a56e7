// Package scoring holds the pure fixed-point arithmetic used everywhere
// points are summed or compared. All functions are stateless and safe for
// concurrent use; binary floating point is never involved.
package scoring

import (
	"github.com/shopspring/decimal"
)

// Places is the number of decimal places all totals are rounded to.
const Places = 2

// Tolerance is the rounding tolerance applied to cross-level sum invariants
// and range checks (0.01).
var Tolerance = decimal.New(1, -Places)

var hundred = decimal.NewFromInt(100)

// QuestionTotal sums awarded points for one question's criteria, rounded
// half-up to two decimal places.
func QuestionTotal(criteriaScores []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range criteriaScores {
		sum = sum.Add(s)
	}
	return sum.Round(Places)
}

// SchemeTotal sums question totals.
func SchemeTotal(questionScores []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range questionScores {
		sum = sum.Add(s)
	}
	return sum.Round(Places)
}

// Percentage returns (earned/possible)*100 rounded to two places. A zero
// possible is a defined case: it returns 0 with defined=false, never a fault.
func Percentage(earned, possible decimal.Decimal) (pct decimal.Decimal, defined bool) {
	if possible.IsZero() {
		return decimal.Zero, false
	}
	return earned.Div(possible).Mul(hundred).Round(Places), true
}

// WithinTolerance reports whether two values are equal within Tolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// InPointRange reports whether value lies in [0, max], allowing Tolerance on
// both bounds.
func InPointRange(value, max decimal.Decimal) bool {
	if value.LessThan(decimal.Zero.Sub(Tolerance)) {
		return false
	}
	return value.LessThanOrEqual(max.Add(Tolerance))
}

// ScoreSample is one awarded criterion score attributed to its submission,
// criterion and question, the input unit for cross-submission aggregation.
type ScoreSample struct {
	SubmissionID uint
	CriterionID  uint
	QuestionID   uint
	Points       decimal.Decimal
}

// StatLine is mean/min/max over a set of values.
type StatLine struct {
	Count int             `json:"count"`
	Mean  decimal.Decimal `json:"mean"`
	Min   decimal.Decimal `json:"min"`
	Max   decimal.Decimal `json:"max"`
}

// Aggregate groups stat lines per criterion and per question.
type Aggregate struct {
	PerCriterion map[uint]StatLine `json:"per_criterion"`
	PerQuestion  map[uint]StatLine `json:"per_question"`
}

// AggregateStats computes per-criterion and per-question mean/min/max across
// a submission set. Per-question values are the per-submission question
// totals: a question's mean is the mean of summed criterion scores per
// submission, not the mean of individual criterion scores.
func AggregateStats(samples []ScoreSample) Aggregate {
	agg := Aggregate{
		PerCriterion: make(map[uint]StatLine),
		PerQuestion:  make(map[uint]StatLine),
	}

	critValues := make(map[uint][]decimal.Decimal)
	for _, s := range samples {
		critValues[s.CriterionID] = append(critValues[s.CriterionID], s.Points)
	}
	for id, values := range critValues {
		agg.PerCriterion[id] = statLine(values)
	}

	type questionKey struct {
		questionID   uint
		submissionID uint
	}
	questionTotals := make(map[questionKey]decimal.Decimal)
	for _, s := range samples {
		k := questionKey{s.QuestionID, s.SubmissionID}
		questionTotals[k] = questionTotals[k].Add(s.Points)
	}
	questValues := make(map[uint][]decimal.Decimal)
	for k, total := range questionTotals {
		questValues[k.questionID] = append(questValues[k.questionID], total.Round(Places))
	}
	for id, values := range questValues {
		agg.PerQuestion[id] = statLine(values)
	}
	return agg
}

func statLine(values []decimal.Decimal) StatLine {
	line := StatLine{Count: len(values)}
	if len(values) == 0 {
		return line
	}
	sum := decimal.Zero
	line.Min = values[0]
	line.Max = values[0]
	for _, v := range values {
		sum = sum.Add(v)
		if v.LessThan(line.Min) {
			line.Min = v
		}
		if v.GreaterThan(line.Max) {
			line.Max = v
		}
	}
	line.Mean = sum.Div(decimal.NewFromInt(int64(line.Count))).Round(Places)
	return line
}
