package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/SAP-F-2025/grading-service/internal/events"
	"github.com/SAP-F-2025/grading-service/internal/models"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
	"github.com/SAP-F-2025/grading-service/internal/validator"
)

// ExportConfig bounds the sync/async split and the background worker pool.
type ExportConfig struct {
	// SyncRowLimit is the estimated row count (submissions x criteria) at or
	// above which an export becomes an async job.
	SyncRowLimit int
	WorkerCount  int
	MaxAttempts  int
}

func (c ExportConfig) withDefaults() ExportConfig {
	if c.SyncRowLimit <= 0 {
		c.SyncRowLimit = 1000
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

type exportService struct {
	repo   repositories.Repository
	logger *slog.Logger
	base   *validator.Validator
	bus    *events.Bus
	config ExportConfig

	cancelWorkers context.CancelFunc
	wg            sync.WaitGroup
}

func NewExportService(repo repositories.Repository, logger *slog.Logger, base *validator.Validator, bus *events.Bus, config ExportConfig) ExportService {
	return &exportService{
		repo:   repo,
		logger: logger,
		base:   base,
		bus:    bus,
		config: config.withDefaults(),
	}
}

// Export renders inline when the estimated row count stays under the
// configured limit and submits a background job otherwise. The estimate is
// filtered submissions times criteria per submission, which is exact for
// complete submissions and an upper bound for partial ones.
func (s *exportService) Export(ctx context.Context, req *ExportRequest, requesterID string) (*ExportOutcome, error) {
	if errs := s.base.Struct(req); errs.HasErrors() {
		return nil, errs
	}
	format := models.ExportFormat(req.Format)

	scheme, err := s.repo.Scheme().GetByIDAny(ctx, nil, req.SchemeID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, NewNotFoundError("scheme", req.SchemeID)
		}
		return nil, fmt.Errorf("failed to load scheme: %w", err)
	}

	filters := repositories.SubmissionFilters{
		IsComplete: req.IsComplete,
		DateFrom:   req.DateFrom,
		DateTo:     req.DateTo,
	}

	count, err := s.repo.Submission().CountByScheme(ctx, nil, req.SchemeID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to count submissions: %w", err)
	}
	estimated := int(count) * scheme.CriterionCount()

	if estimated < s.config.SyncRowLimit {
		result, err := s.render(ctx, s.repo, scheme, format, filters)
		if err != nil {
			return nil, err
		}
		s.logger.Info("export rendered synchronously",
			"scheme_id", req.SchemeID,
			"format", format,
			"row_count", result.RowCount,
			"requested_by", requesterID)
		return &ExportOutcome{Rendered: result}, nil
	}

	filtersJSON, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize filters: %w", err)
	}
	job := &models.ExportJob{
		ID:            uuid.NewString(),
		SchemeID:      req.SchemeID,
		Format:        format,
		Filters:       filtersJSON,
		Status:        models.ExportPending,
		EstimatedRows: estimated,
		RequestedBy:   requesterID,
	}
	if err := s.repo.ExportJob().Create(ctx, nil, job); err != nil {
		return nil, fmt.Errorf("failed to create export job: %w", err)
	}

	if err := s.bus.Publish(ctx, events.TopicExportJobs, events.ExportJobQueuedEvent{JobID: job.ID}); err != nil {
		return nil, fmt.Errorf("failed to enqueue export job: %w", err)
	}

	s.logger.Info("export job queued",
		"job_id", job.ID,
		"scheme_id", req.SchemeID,
		"format", format,
		"estimated_rows", estimated,
		"requested_by", requesterID)

	return &ExportOutcome{JobID: job.ID}, nil
}

func (s *exportService) GetJob(ctx context.Context, jobID string) (*models.ExportJob, error) {
	job, err := s.repo.ExportJob().GetByID(ctx, nil, jobID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, NewNotFoundError("export job", jobID)
		}
		return nil, err
	}
	return job, nil
}

// CancelJob moves a pending or processing job to Failed. A job that already
// reached a terminal state is left untouched: cancellation never truncates a
// completed payload.
func (s *exportService) CancelJob(ctx context.Context, jobID string) error {
	job, err := s.repo.ExportJob().GetByID(ctx, nil, jobID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return NewNotFoundError("export job", jobID)
		}
		return err
	}
	if job.Terminal() {
		return NewStateError("export job", jobID, fmt.Sprintf("job is already %s", job.Status))
	}

	reason := "cancelled"
	now := time.Now()
	ok, err := s.repo.ExportJob().TransitionStatus(ctx, nil, jobID,
		[]models.ExportJobStatus{models.ExportPending, models.ExportProcessing},
		models.ExportFailed,
		map[string]interface{}{
			"failure_reason": &reason,
			"finished_at":    now,
		})
	if err != nil {
		return err
	}
	if !ok {
		// The worker finished between our read and the transition.
		return NewStateError("export job", jobID, "job reached a terminal state before cancellation")
	}

	s.logger.Info("export job cancelled", "job_id", jobID)
	return nil
}

// ===== WORKER =====

// Start launches the background export workers consuming queued job events.
func (s *exportService) Start(ctx context.Context) error {
	workerCtx, cancel := context.WithCancel(context.Background())
	s.cancelWorkers = cancel

	msgs, err := s.bus.Subscribe(workerCtx, events.TopicExportJobs)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to export jobs: %w", err)
	}

	for i := 0; i < s.config.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(workerCtx, msgs)
	}

	s.logger.Info("export workers started", "count", s.config.WorkerCount)
	return nil
}

func (s *exportService) Shutdown(ctx context.Context) error {
	if s.cancelWorkers != nil {
		s.cancelWorkers()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *exportService) worker(ctx context.Context, msgs <-chan *message.Message) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-msgs:
			if !open {
				return
			}
			var event events.ExportJobQueuedEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				s.logger.Error("malformed export job event", "error", err)
				msg.Ack()
				continue
			}
			s.processJob(ctx, event.JobID)
			msg.Ack()
		}
	}
}

// processJob claims the job via a conditional Pending -> Processing
// transition, renders, and lands the payload with a conditional Processing ->
// Succeeded transition. A cancellation that won either transition makes the
// corresponding write affect zero rows.
func (s *exportService) processJob(ctx context.Context, jobID string) {
	now := time.Now()
	claimed, err := s.repo.ExportJob().TransitionStatus(ctx, nil, jobID,
		[]models.ExportJobStatus{models.ExportPending},
		models.ExportProcessing,
		map[string]interface{}{"started_at": now})
	if err != nil {
		s.logger.Error("failed to claim export job", "job_id", jobID, "error", err)
		return
	}
	if !claimed {
		s.logger.Debug("export job no longer pending", "job_id", jobID)
		return
	}

	job, err := s.repo.ExportJob().GetByID(ctx, nil, jobID)
	if err != nil {
		s.logger.Error("failed to load claimed export job", "job_id", jobID, "error", err)
		return
	}

	result, renderErr := s.renderJob(ctx, job)
	if renderErr != nil {
		s.handleJobFailure(ctx, job, renderErr)
		return
	}

	finished := time.Now()
	ok, err := s.repo.ExportJob().TransitionStatus(ctx, nil, jobID,
		[]models.ExportJobStatus{models.ExportProcessing},
		models.ExportSucceeded,
		map[string]interface{}{
			"payload":      result.Payload,
			"content_type": result.ContentType,
			"row_count":    result.RowCount,
			"finished_at":  finished,
		})
	if err != nil {
		s.logger.Error("failed to finish export job", "job_id", jobID, "error", err)
		return
	}
	if !ok {
		// Cancelled mid-render; the payload is discarded.
		s.logger.Info("export job was cancelled during render", "job_id", jobID)
		return
	}

	s.publishFinished(ctx, jobID, models.ExportSucceeded)
	s.logger.Info("export job succeeded",
		"job_id", jobID,
		"row_count", result.RowCount,
		"duration", finished.Sub(now))
}

func (s *exportService) renderJob(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	var filters repositories.SubmissionFilters
	if len(job.Filters) > 0 {
		if err := json.Unmarshal(job.Filters, &filters); err != nil {
			return nil, fmt.Errorf("failed to decode job filters: %w", err)
		}
	}

	scheme, err := s.repo.Scheme().GetByIDAny(ctx, nil, job.SchemeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scheme: %w", err)
	}
	return s.render(ctx, s.repo, scheme, job.Format, filters)
}

func (s *exportService) handleJobFailure(ctx context.Context, job *models.ExportJob, renderErr error) {
	if err := s.repo.ExportJob().IncrementAttempts(ctx, nil, job.ID); err != nil {
		s.logger.Error("failed to record export attempt", "job_id", job.ID, "error", err)
	}
	attempts := job.Attempts + 1

	if attempts < s.config.MaxAttempts {
		// Requeue for a fresh claim by resetting to Pending. A cancellation
		// that already moved the job to Failed wins the transition.
		ok, err := s.repo.ExportJob().TransitionStatus(ctx, nil, job.ID,
			[]models.ExportJobStatus{models.ExportProcessing},
			models.ExportPending, nil)
		if err != nil {
			s.logger.Error("failed to requeue export job", "job_id", job.ID, "error", err)
			return
		}
		if ok {
			s.logger.Warn("export job failed, requeued",
				"job_id", job.ID,
				"attempt", attempts,
				"error", renderErr)
			if err := s.bus.Publish(ctx, events.TopicExportJobs, events.ExportJobQueuedEvent{JobID: job.ID}); err != nil {
				s.logger.Error("failed to republish export job", "job_id", job.ID, "error", err)
			}
		}
		return
	}

	reason := renderErr.Error()
	now := time.Now()
	ok, err := s.repo.ExportJob().TransitionStatus(ctx, nil, job.ID,
		[]models.ExportJobStatus{models.ExportProcessing},
		models.ExportFailed,
		map[string]interface{}{
			"failure_reason": &reason,
			"finished_at":    now,
		})
	if err != nil {
		s.logger.Error("failed to mark export job failed", "job_id", job.ID, "error", err)
		return
	}
	if ok {
		s.publishFinished(ctx, job.ID, models.ExportFailed)
		s.logger.Error("export job failed permanently",
			"job_id", job.ID,
			"attempts", attempts,
			"error", renderErr)
	}
}

func (s *exportService) publishFinished(ctx context.Context, jobID string, status models.ExportJobStatus) {
	if err := s.bus.Publish(ctx, events.TopicExportJobFinished, events.ExportJobFinishedEvent{
		JobID:  jobID,
		Status: string(status),
	}); err != nil {
		s.logger.Warn("failed to publish export job finished", "job_id", jobID, "error", err)
	}
}

// render loads the submission set and produces the payload in the requested
// format. Pagination and sort filters are overridden: an export always covers
// the full filtered set in stable id order, so re-running an export yields
// byte-identical row ordering.
func (s *exportService) render(ctx context.Context, repo repositories.Repository, scheme *models.GradingScheme, format models.ExportFormat, filters repositories.SubmissionFilters) (*ExportResult, error) {
	filters.Limit = 0
	filters.Offset = 0
	filters.SortBy = "id"
	filters.SortOrder = "asc"

	subs, _, err := repo.Submission().ListByScheme(ctx, nil, scheme.ID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to load submissions: %w", err)
	}

	rows := BuildExportRows(scheme, subs)

	var payload []byte
	switch format {
	case models.FormatJSON:
		payload, err = RenderJSON(scheme, subs, rows)
	case models.FormatXLSX:
		payload, err = RenderXLSX(rows)
	default:
		payload, err = RenderCSV(rows)
	}
	if err != nil {
		return nil, err
	}

	return &ExportResult{
		ContentType: contentTypeFor(format),
		Filename:    exportFilename(scheme.ID, format, time.Now()),
		Payload:     payload,
		RowCount:    len(rows),
	}, nil
}
