package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/SAP-F-2025/grading-service/internal/cache"
	"github.com/SAP-F-2025/grading-service/internal/events"
	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
	"github.com/SAP-F-2025/grading-service/internal/validator"
)

type schemeService struct {
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.SchemeValidator
	cache     *cache.SchemeCache
	bus       *events.Bus
}

func NewSchemeService(repo repositories.Repository, logger *slog.Logger, sv *validator.SchemeValidator, schemeCache *cache.SchemeCache, bus *events.Bus) SchemeService {
	return &schemeService{
		repo:      repo,
		logger:    logger,
		validator: sv,
		cache:     schemeCache,
		bus:       bus,
	}
}

// Create validates the whole definition, computes totals and persists the
// scheme tree in one transaction. On validation failure nothing is stored
// and the caller receives the complete violation list.
func (s *schemeService) Create(ctx context.Context, req *CreateSchemeRequest, creatorID string) (*SchemeResponse, error) {
	errs, warnings := s.validator.ValidateSchemeCreate(req)
	if errs.HasErrors() {
		return nil, errs
	}

	scheme := buildSchemeTree(req, creatorID)

	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		return txRepo.Scheme().Create(ctx, nil, scheme)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist scheme: %w", err)
	}

	s.logger.Info("scheme created",
		"scheme_id", scheme.ID,
		"questions", len(scheme.Questions),
		"total_possible_points", scheme.TotalPossiblePoints,
		"created_by", creatorID)

	return &SchemeResponse{GradingScheme: scheme, Warnings: warnings}, nil
}

// GetByID always returns the full hierarchical tree; the tree is small and
// partial loads are not worth the extra read paths.
func (s *schemeService) GetByID(ctx context.Context, id uint) (*SchemeResponse, error) {
	if cached, ok := s.cache.Get(ctx, id); ok {
		return &SchemeResponse{GradingScheme: cached}, nil
	}

	scheme, err := s.repo.Scheme().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, NewNotFoundError("scheme", id)
		}
		return nil, fmt.Errorf("failed to get scheme: %w", err)
	}

	s.cache.Set(ctx, scheme)
	return &SchemeResponse{GradingScheme: scheme}, nil
}

// Update re-validates the whole resulting tree and reconciles it in place,
// preserving the ids of surviving questions and criteria so evaluations on
// open submissions stay addressable. While no submission references the
// scheme the edit mutates freely; once one does, the version number is
// incremented so already-graded history (which carries snapshots) stays
// attributable.
func (s *schemeService) Update(ctx context.Context, id uint, req *UpdateSchemeRequest, userID string) (*SchemeResponse, error) {
	if errs := s.validator.ValidateSchemeUpdate(req); errs.HasErrors() {
		return nil, errs
	}

	var (
		updated  *models.GradingScheme
		warnings validator.ValidationErrors
	)

	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		existing, err := txRepo.Scheme().GetByID(ctx, nil, id)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return NewNotFoundError("scheme", id)
			}
			return fmt.Errorf("failed to load scheme: %w", err)
		}

		questions := questionRequestsFromTree(existing)
		if req.Questions != nil {
			questions = *req.Questions
		}

		errs, hw := s.validator.ValidateQuestions(questions)
		if errs.HasErrors() {
			return errs
		}
		warnings = hw

		refs, err := txRepo.Submission().CountByScheme(ctx, nil, id, repositories.SubmissionFilters{})
		if err != nil {
			return fmt.Errorf("failed to count referencing submissions: %w", err)
		}

		next := applySchemePatch(existing, req, questions)
		if refs > 0 {
			next.VersionNumber = existing.VersionNumber + 1
		}

		if err := txRepo.Scheme().SyncTree(ctx, nil, next); err != nil {
			return err
		}

		updated, err = txRepo.Scheme().GetByID(ctx, nil, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, id)

	if err := s.bus.Publish(ctx, events.TopicSchemeUpdated, events.SchemeUpdatedEvent{
		SchemeID:      updated.ID,
		VersionNumber: updated.VersionNumber,
		UpdatedBy:     userID,
	}); err != nil {
		s.logger.Warn("failed to publish scheme.updated", "scheme_id", id, "error", err)
	}

	s.logger.Info("scheme updated",
		"scheme_id", id,
		"version_number", updated.VersionNumber,
		"updated_by", userID)

	return &SchemeResponse{GradingScheme: updated, Warnings: warnings}, nil
}

// Delete is always soft. It fails with a Conflict while any non-deleted
// submission still references the scheme.
func (s *schemeService) Delete(ctx context.Context, id uint, userID string) error {
	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if _, err := txRepo.Scheme().GetByID(ctx, nil, id); err != nil {
			if repositories.IsNotFoundError(err) {
				return NewNotFoundError("scheme", id)
			}
			return fmt.Errorf("failed to load scheme: %w", err)
		}

		refs, err := txRepo.Submission().CountByScheme(ctx, nil, id, repositories.SubmissionFilters{})
		if err != nil {
			return fmt.Errorf("failed to count referencing submissions: %w", err)
		}
		if refs > 0 {
			return NewConflictError("scheme", id,
				fmt.Sprintf("%d active submissions still reference this scheme", refs))
		}

		return txRepo.Scheme().SoftDelete(ctx, nil, id)
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(ctx, id)
	s.logger.Info("scheme deleted", "scheme_id", id, "deleted_by", userID)
	return nil
}

// Clone deep-copies the tree under a new id with an independent lifecycle:
// fresh version history, no link back to the source.
func (s *schemeService) Clone(ctx context.Context, id uint, userID string) (*SchemeResponse, error) {
	source, err := s.repo.Scheme().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, NewNotFoundError("scheme", id)
		}
		return nil, fmt.Errorf("failed to load scheme: %w", err)
	}

	clone := cloneSchemeTree(source, userID)

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		return txRepo.Scheme().Create(ctx, nil, clone)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist cloned scheme: %w", err)
	}

	s.logger.Info("scheme cloned",
		"source_scheme_id", id,
		"scheme_id", clone.ID,
		"cloned_by", userID)

	return &SchemeResponse{GradingScheme: clone}, nil
}

func (s *schemeService) List(ctx context.Context, filters repositories.SchemeFilters) (*SchemeListResponse, error) {
	schemes, total, err := s.repo.Scheme().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemes: %w", err)
	}

	resp := &SchemeListResponse{Total: total, Schemes: make([]*SchemeResponse, len(schemes))}
	for i, scheme := range schemes {
		resp.Schemes[i] = &SchemeResponse{GradingScheme: scheme}
	}
	return resp, nil
}
