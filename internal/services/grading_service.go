package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SAP-F-2025/grading-service/internal/events"
	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
	"github.com/SAP-F-2025/grading-service/internal/scoring"
	"github.com/SAP-F-2025/grading-service/internal/validator"
)

type gradingService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.SchemeValidator
	base      *validator.Validator
	bus       *events.Bus
}

func NewGradingService(repo repositories.Repository, logger *slog.Logger, sv *validator.SchemeValidator, base *validator.Validator, bus *events.Bus) GradingService {
	return &gradingService{
		repo:      repo,
		logger:    logger,
		validator: sv,
		base:      base,
		bus:       bus,
	}
}

// ===== SUBMISSION LIFECYCLE =====

func (s *gradingService) CreateSubmission(ctx context.Context, req *CreateSubmissionRequest, graderID string) (*SubmissionResponse, error) {
	if errs := s.base.Struct(req); errs.HasErrors() {
		return nil, errs
	}

	scheme, err := s.repo.Scheme().GetByID(ctx, nil, req.SchemeID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, NewNotFoundError("scheme", req.SchemeID)
		}
		return nil, fmt.Errorf("failed to load scheme: %w", err)
	}

	sub := &models.GradedSubmission{
		SchemeID:              scheme.ID,
		SchemeVersionSnapshot: scheme.VersionNumber,
		SubmissionRef:         req.SubmissionRef,
		VersionNumber:         1,
		CreatedBy:             graderID,
	}
	if err := s.repo.Submission().Create(ctx, nil, sub); err != nil {
		return nil, err
	}

	s.logger.Info("submission created",
		"submission_id", sub.ID,
		"scheme_id", scheme.ID,
		"scheme_version", scheme.VersionNumber,
		"created_by", graderID)

	return &SubmissionResponse{GradedSubmission: sub}, nil
}

func (s *gradingService) GetSubmission(ctx context.Context, id uint) (*SubmissionResponse, error) {
	sub, err := s.repo.Submission().GetByIDWithEvaluations(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, NewNotFoundError("submission", id)
		}
		return nil, err
	}
	return &SubmissionResponse{GradedSubmission: sub}, nil
}

func (s *gradingService) ListSubmissions(ctx context.Context, schemeID uint, filters repositories.SubmissionFilters) ([]*SubmissionResponse, int64, error) {
	subs, total, err := s.repo.Submission().ListByScheme(ctx, nil, schemeID, filters)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*SubmissionResponse, len(subs))
	for i, sub := range subs {
		out[i] = &SubmissionResponse{GradedSubmission: sub}
	}
	return out, total, nil
}

// ===== VERSION-CHECKED WRITES =====

// WriteEvaluation upserts one criterion evaluation under optimistic
// concurrency. ExpectedVersion 0 creates; any other value updates the
// matching version. A stale version yields a Conflict outcome carrying the
// authoritative row; an identical already-applied write replays
// idempotently.
func (s *gradingService) WriteEvaluation(ctx context.Context, submissionID, criterionID uint, req *WriteEvaluationRequest, graderID string) (*EvaluationWriteResult, error) {
	if errs := s.base.Struct(req); errs.HasErrors() {
		return nil, errs
	}

	sub, err := s.repo.Submission().GetByID(ctx, nil, submissionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, NewNotFoundError("submission", submissionID)
		}
		return nil, err
	}
	if sub.IsComplete {
		return nil, NewStateError("submission", submissionID, "submission is complete; reopen before editing evaluations")
	}

	criterion, question, err := s.repo.Scheme().GetCriterion(ctx, nil, criterionID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, NewNotFoundError("criterion", criterionID)
		}
		return nil, err
	}
	if question.SchemeID != sub.SchemeID {
		return nil, NewNotFoundError("criterion", criterionID)
	}

	// Server-side range check regardless of what the client sent.
	if rangeErr := s.validator.ValidatePointRange("points_awarded", req.PointsAwarded, criterion.MaxPoints); rangeErr != nil {
		return nil, validator.ValidationErrors{*rangeErr}
	}

	points := req.PointsAwarded.Round(scoring.Places)

	var result *EvaluationWriteResult
	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		var (
			wrote bool
			txErr error
		)
		if req.ExpectedVersion == 0 {
			result, wrote, txErr = s.createEvaluation(ctx, txRepo, sub, criterion, question, points, req.FeedbackText, graderID)
		} else {
			result, wrote, txErr = s.updateEvaluation(ctx, txRepo, sub, criterion, question, points, req, graderID)
		}
		if txErr != nil {
			return txErr
		}

		if wrote {
			// The completion gate above ran outside this transaction. The
			// guarded bump locks the submission row while it is still open;
			// if a concurrent completion froze totals first, the write rolls
			// back, and if this commits first, the completion's conditional
			// write sees a moved version and conflicts.
			open, err := txRepo.Submission().BumpIfOpen(ctx, nil, submissionID)
			if err != nil {
				return err
			}
			if !open {
				return NewStateError("submission", submissionID, "submission is complete; reopen before editing evaluations")
			}
		}

		fresh, err := txRepo.Submission().GetByID(ctx, nil, submissionID)
		if err != nil {
			return err
		}
		result.SubmissionVersion = fresh.VersionNumber
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Conflict {
		// Routine under concurrent grading; not an error.
		s.logger.Debug("evaluation write conflict",
			"submission_id", submissionID,
			"criterion_id", criterionID,
			"expected_version", req.ExpectedVersion)
	} else {
		s.logger.Info("evaluation written",
			"submission_id", submissionID,
			"criterion_id", criterionID,
			"version", result.NewVersion,
			"graded_by", graderID)
	}
	return result, nil
}

func (s *gradingService) createEvaluation(ctx context.Context, txRepo repositories.Repository, sub *models.GradedSubmission, criterion *models.SchemeCriterion, question *models.SchemeQuestion, points decimal.Decimal, feedback *string, graderID string) (*EvaluationWriteResult, bool, error) {
	eval := &models.CriterionEvaluation{
		SubmissionID:          sub.ID,
		CriterionID:           criterion.ID,
		PointsAwarded:         points,
		FeedbackText:          feedback,
		CriterionNameSnapshot: criterion.Name,
		QuestionTextSnapshot:  question.Text,
		CriterionMaxSnapshot:  criterion.MaxPoints,
		GradedBy:              graderID,
	}

	err := txRepo.Evaluation().Insert(ctx, nil, eval)
	if err == nil {
		return &EvaluationWriteResult{NewVersion: eval.VersionNumber, Evaluation: eval}, true, nil
	}
	if !repositories.IsDuplicateError(err) {
		return nil, false, err
	}

	// A concurrent creator won the unique (submission, criterion) race.
	current, getErr := txRepo.Evaluation().GetByPair(ctx, nil, sub.ID, criterion.ID)
	if getErr != nil {
		return nil, false, getErr
	}
	if current.VersionNumber == 1 && evaluationPayloadEqual(current, points, feedback) {
		// Identical replay of our own write, e.g. a client retry after a
		// crash. The row already holds exactly this payload.
		return &EvaluationWriteResult{NewVersion: current.VersionNumber, Evaluation: current}, false, nil
	}
	return &EvaluationWriteResult{Conflict: true, Current: current}, false, nil
}

func (s *gradingService) updateEvaluation(ctx context.Context, txRepo repositories.Repository, sub *models.GradedSubmission, criterion *models.SchemeCriterion, question *models.SchemeQuestion, points decimal.Decimal, req *WriteEvaluationRequest, graderID string) (*EvaluationWriteResult, bool, error) {
	existing, err := txRepo.Evaluation().GetByPair(ctx, nil, sub.ID, criterion.ID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			// The caller believes a row exists at this version but none does.
			return &EvaluationWriteResult{Conflict: true}, false, nil
		}
		return nil, false, err
	}

	updates := map[string]interface{}{
		"points_awarded":          points,
		"feedback_text":           req.FeedbackText,
		"criterion_name_snapshot": criterion.Name,
		"question_text_snapshot":  question.Text,
		"criterion_max_snapshot":  criterion.MaxPoints,
		"graded_by":               graderID,
	}
	ok, err := txRepo.Evaluation().UpdateConditional(ctx, nil, existing.ID, req.ExpectedVersion, updates)
	if err != nil {
		return nil, false, err
	}
	if ok {
		fresh, err := txRepo.Evaluation().GetByPair(ctx, nil, sub.ID, criterion.ID)
		if err != nil {
			return nil, false, err
		}
		return &EvaluationWriteResult{NewVersion: fresh.VersionNumber, Evaluation: fresh}, true, nil
	}

	current, err := txRepo.Evaluation().GetByPair(ctx, nil, sub.ID, criterion.ID)
	if err != nil {
		return nil, false, err
	}
	if current.VersionNumber == req.ExpectedVersion+1 && evaluationPayloadEqual(current, points, req.FeedbackText) {
		// This exact write already landed; treat the retry as idempotent.
		return &EvaluationWriteResult{NewVersion: current.VersionNumber, Evaluation: current}, false, nil
	}
	return &EvaluationWriteResult{Conflict: true, Current: current}, false, nil
}

// CompleteSubmission freezes totals. All criteria of the scheme must be
// evaluated; totals, is_complete and graded_at land in the same conditional
// write, so a concurrent completion or grading edit loses cleanly.
func (s *gradingService) CompleteSubmission(ctx context.Context, submissionID uint, expectedVersion int, graderID string) (*SubmissionWriteResult, error) {
	var result *SubmissionWriteResult

	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		sub, err := txRepo.Submission().GetByIDWithEvaluations(ctx, nil, submissionID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return NewNotFoundError("submission", submissionID)
			}
			return err
		}
		if sub.IsComplete {
			return NewStateError("submission", submissionID, "submission is already complete")
		}

		scheme, err := txRepo.Scheme().GetByIDAny(ctx, nil, sub.SchemeID)
		if err != nil {
			return fmt.Errorf("failed to load scheme: %w", err)
		}

		missing := missingCriteria(scheme, sub)
		if len(missing) > 0 {
			return NewStateError("submission", submissionID,
				fmt.Sprintf("%d criteria not yet evaluated", len(missing)))
		}

		earned, pct := submissionTotals(scheme, sub)

		now := time.Now()
		updates := map[string]interface{}{
			"total_points_earned": earned,
			"percentage_score":    pct,
			"is_complete":         true,
			"graded_at":           now,
		}
		ok, err := txRepo.Submission().UpdateConditional(ctx, nil, submissionID, expectedVersion, updates)
		if err != nil {
			return err
		}
		if !ok {
			current, err := txRepo.Submission().GetByIDWithEvaluations(ctx, nil, submissionID)
			if err != nil {
				return err
			}
			result = &SubmissionWriteResult{Conflict: true, Current: current}
			return nil
		}

		fresh, err := txRepo.Submission().GetByIDWithEvaluations(ctx, nil, submissionID)
		if err != nil {
			return err
		}
		result = &SubmissionWriteResult{NewVersion: fresh.VersionNumber, Submission: fresh}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Conflict {
		if err := s.bus.Publish(ctx, events.TopicSubmissionCompleted, events.SubmissionCompletedEvent{
			SubmissionID:      result.Submission.ID,
			SchemeID:          result.Submission.SchemeID,
			TotalPointsEarned: result.Submission.TotalPointsEarned.StringFixed(scoring.Places),
			PercentageScore:   result.Submission.PercentageScore.StringFixed(scoring.Places),
			CompletedBy:       graderID,
		}); err != nil {
			s.logger.Warn("failed to publish submission.completed", "submission_id", submissionID, "error", err)
		}

		s.logger.Info("submission completed",
			"submission_id", submissionID,
			"total_points_earned", result.Submission.TotalPointsEarned,
			"percentage_score", result.Submission.PercentageScore,
			"completed_by", graderID)
	}
	return result, nil
}

// ReopenSubmission clears completion state but keeps evaluations and the
// last frozen totals. Completion recomputes totals from scratch.
func (s *gradingService) ReopenSubmission(ctx context.Context, submissionID uint, expectedVersion int, graderID string) (*SubmissionWriteResult, error) {
	var result *SubmissionWriteResult

	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		sub, err := txRepo.Submission().GetByID(ctx, nil, submissionID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return NewNotFoundError("submission", submissionID)
			}
			return err
		}
		if !sub.IsComplete {
			return NewStateError("submission", submissionID, "submission is not complete")
		}

		updates := map[string]interface{}{
			"is_complete": false,
			"graded_at":   nil,
		}
		ok, err := txRepo.Submission().UpdateConditional(ctx, nil, submissionID, expectedVersion, updates)
		if err != nil {
			return err
		}
		if !ok {
			current, err := txRepo.Submission().GetByIDWithEvaluations(ctx, nil, submissionID)
			if err != nil {
				return err
			}
			result = &SubmissionWriteResult{Conflict: true, Current: current}
			return nil
		}

		fresh, err := txRepo.Submission().GetByIDWithEvaluations(ctx, nil, submissionID)
		if err != nil {
			return err
		}
		result = &SubmissionWriteResult{NewVersion: fresh.VersionNumber, Submission: fresh}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Conflict {
		s.logger.Info("submission reopened", "submission_id", submissionID, "reopened_by", graderID)
	}
	return result, nil
}

// ===== REPORTING =====

// SchemeAggregate computes per-criterion and per-question mean/min/max over
// a submission set.
func (s *gradingService) SchemeAggregate(ctx context.Context, schemeID uint, filters repositories.SubmissionFilters) (*scoring.Aggregate, error) {
	scheme, err := s.repo.Scheme().GetByIDAny(ctx, nil, schemeID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, NewNotFoundError("scheme", schemeID)
		}
		return nil, err
	}

	subs, _, err := s.repo.Submission().ListByScheme(ctx, nil, schemeID, filters)
	if err != nil {
		return nil, err
	}

	questionByCriterion := make(map[uint]uint)
	for _, q := range scheme.Questions {
		for _, c := range q.Criteria {
			questionByCriterion[c.ID] = q.ID
		}
	}

	subIDs := make([]uint, len(subs))
	for i, sub := range subs {
		subIDs[i] = sub.ID
	}
	evals, err := s.repo.Evaluation().ListBySubmissions(ctx, nil, subIDs)
	if err != nil {
		return nil, err
	}

	samples := make([]scoring.ScoreSample, 0, len(evals))
	for _, eval := range evals {
		samples = append(samples, scoring.ScoreSample{
			SubmissionID: eval.SubmissionID,
			CriterionID:  eval.CriterionID,
			QuestionID:   questionByCriterion[eval.CriterionID],
			Points:       eval.PointsAwarded,
		})
	}

	agg := scoring.AggregateStats(samples)
	return &agg, nil
}
