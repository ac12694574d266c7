package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pixelpress/pixelpress/internal/audit"
	"github.com/pixelpress/pixelpress/internal/domain"
	"github.com/pixelpress/pixelpress/internal/logger"
	"github.com/pixelpress/pixelpress/internal/metrics"
	"github.com/pixelpress/pixelpress/internal/repository"
	"github.com/pixelpress/pixelpress/internal/storage"
	"github.com/pixelpress/pixelpress/internal/transform"
)

// Analyzer is the AI analysis contract the pipeline consumes. VisionService
// implements it; tests substitute stubs.
type Analyzer interface {
	Available() bool
	Analyze(ctx context.Context, imageData []byte, mimeType string, actx *domain.AnalysisContext) (*domain.AIAnalysisResult, error)
}

// ProcessResult summarizes one pipeline execution.
type ProcessResult struct {
	Skipped           bool  `json:"skipped"`
	VersionsGenerated int   `json:"versions_generated"`
	ProcessingTimeMs  int64 `json:"processing_time_ms"`
}

// PipelineService drives one job through the processing stages: load source,
// optional AI analysis, crop derivation, version generation, persistence, and
// the final status transition.
type PipelineService struct {
	repo     repository.JobRepository
	store    storage.ObjectStorage
	analyzer Analyzer
	presets  []transform.Preset
	audit    audit.Sink
}

// NewPipelineService wires the pipeline's dependencies. analyzer may be nil;
// the pipeline then skips AI-derived cropping. A nil sink discards events.
func NewPipelineService(repo repository.JobRepository, store storage.ObjectStorage, analyzer Analyzer, presets []transform.Preset, sink audit.Sink) *PipelineService {
	if len(presets) == 0 {
		presets = transform.DefaultPresets()
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &PipelineService{
		repo:     repo,
		store:    store,
		analyzer: analyzer,
		presets:  presets,
		audit:    sink,
	}
}

// Execute runs one job to completion or failure. It is idempotent per job:
// a COMPLETED job and a FAILED job whose attempts are exhausted are skipped.
// Recoverable errors propagate without touching the job status so the retry
// layer can re-attempt from PROCESSING; non-recoverable errors force FAILED
// before propagating.
//
// Parameters:
//   - jobID: the job to process
//   - runAIAnalysis: whether to call the AI adapter before transforming
//   - attempt: 1-based delivery attempt number
//   - maxAttempts: the retry ceiling for this delivery
//
// Returns:
//   - *ProcessResult: version count and elapsed time, or the skip marker
//   - error: nil on success or skip
func (s *PipelineService) Execute(ctx context.Context, jobID string, runAIAnalysis bool, attempt, maxAttempts int) (*ProcessResult, error) {
	ctx = logger.SetJobID(ctx, jobID)
	ctx = logger.SetAttempt(ctx, attempt)
	started := time.Now()

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewError(domain.CodeJobNotFound, fmt.Sprintf("job %s does not exist", jobID), false, err)
		}
		return nil, domain.NewError(domain.CodeStorage, "failed to load job", true, err)
	}

	// Redelivery protection: finished work is never redone.
	if job.Status == domain.StatusCompleted {
		logger.CtxInfo(ctx, "Job already completed, skipping redelivery")
		return &ProcessResult{Skipped: true}, nil
	}
	if job.Status == domain.StatusFailed && attempt >= maxAttempts {
		logger.CtxInfo(ctx, "Job permanently failed, skipping redelivery")
		return &ProcessResult{Skipped: true}, nil
	}
	if job.Status == domain.StatusCancelled {
		logger.CtxInfo(ctx, "Job cancelled, skipping")
		return &ProcessResult{Skipped: true}, nil
	}

	job, err = s.repo.UpdateStatus(ctx, jobID, domain.StatusProcessing, "")
	if err != nil {
		return nil, domain.NewError(domain.CodeInvalidJob, "failed to enter processing", false, err)
	}

	source, err := storage.ReadAll(ctx, s.store, job.StoragePath)
	if err != nil {
		return nil, domain.NewError(domain.CodeStorage, fmt.Sprintf("failed to read source image %s", job.StoragePath), true, err)
	}

	region, err := s.analyze(ctx, job, source, runAIAnalysis)
	if err != nil {
		return nil, s.fail(ctx, jobID, err)
	}

	generated := 0
	for _, preset := range s.presets {
		if err := s.generateVersion(ctx, job, preset, source, region); err != nil {
			return nil, s.fail(ctx, jobID, err)
		}
		generated++
		metrics.RecordVersionGenerated(string(preset.Type))
	}

	if _, err := s.repo.UpdateStatus(ctx, jobID, domain.StatusCompleted, ""); err != nil {
		return nil, s.fail(ctx, jobID, domain.NewError(domain.CodeInvalidJob, "failed to complete job", false, err))
	}

	elapsed := time.Since(started).Milliseconds()
	s.audit.Record(ctx, audit.Event{
		Type:     audit.EventVersionsGenerated,
		JobID:    jobID,
		FileName: job.FileName,
		Detail:   logger.Fields{"versions": generated},
	})
	s.audit.Record(ctx, audit.Event{Type: audit.EventJobCompleted, JobID: jobID, FileName: job.FileName})
	logger.With(logger.Fields{
		logger.FieldDurationMs: elapsed,
		logger.FieldCount:      generated,
	}).Info(ctx, "Job processing completed")

	return &ProcessResult{VersionsGenerated: generated, ProcessingTimeMs: elapsed}, nil
}

// analyze runs the optional AI step and derives the crop region from its
// suggestion. AI failure does not by itself mark the job FAILED.
func (s *PipelineService) analyze(ctx context.Context, job *domain.ImageJob, source []byte, runAIAnalysis bool) (*transform.Region, error) {
	if !runAIAnalysis || s.analyzer == nil || !s.analyzer.Available() {
		metrics.RecordAnalysis("skipped")
		return nil, nil
	}

	actx := &domain.AnalysisContext{Brand: job.Brand, Product: job.Product}
	result, err := s.analyzer.Analyze(ctx, source, job.MimeType, actx)
	if err != nil {
		metrics.RecordAnalysis("failed")
		return nil, err
	}
	if result.Degraded {
		metrics.RecordAnalysis("degraded")
	} else {
		metrics.RecordAnalysis("ok")
	}

	s.audit.Record(ctx, audit.Event{
		Type:     audit.EventAnalysisCompleted,
		JobID:    job.ID,
		FileName: job.FileName,
		Detail: logger.Fields{
			"quality_score":    result.QualityScore,
			"detected_objects": len(result.DetectedObjects),
			"has_crop":         result.SuggestedCrop != nil,
		},
	})

	if result.SuggestedCrop == nil {
		return nil, nil
	}
	return &transform.Region{
		Left:   result.SuggestedCrop.Left,
		Top:    result.SuggestedCrop.Top,
		Width:  result.SuggestedCrop.Width,
		Height: result.SuggestedCrop.Height,
	}, nil
}

// generateVersion runs one preset through the transform engine, uploads the
// result, and persists its metadata.
func (s *PipelineService) generateVersion(ctx context.Context, job *domain.ImageJob, preset transform.Preset, source []byte, region *transform.Region) error {
	ctx = logger.WithField(ctx, logger.FieldVersionType, string(preset.Type))

	buf, err := transform.Process(source, preset.Options(region))
	if err != nil {
		return err
	}

	info, err := transform.GetInfo(buf)
	if err != nil {
		return err
	}

	hash := md5.Sum(buf)
	fileName := fmt.Sprintf("%s.%s", preset.Type, preset.Format)
	key := fmt.Sprintf("versions/%s/%s", job.ID, fileName)

	if err := s.store.Upload(ctx, key, bytes.NewReader(buf), int64(len(buf)), preset.Format.ContentType()); err != nil {
		return domain.NewError(domain.CodeStorage, fmt.Sprintf("failed to upload version %s", preset.Type), true, err)
	}

	version := domain.ImageVersion{
		JobID:       job.ID,
		Type:        preset.Type,
		Width:       info.Width,
		Height:      info.Height,
		FileSize:    int64(len(buf)),
		Format:      string(preset.Format),
		Quality:     preset.Quality,
		FileName:    fileName,
		StoragePath: key,
		ContentHash: hex.EncodeToString(hash[:]),
	}
	if err := s.repo.SaveVersion(ctx, &version); err != nil {
		return domain.NewError(domain.CodeStorage, fmt.Sprintf("failed to persist version %s", preset.Type), true, err)
	}
	job.AttachVersion(version)

	logger.With(logger.Fields{logger.FieldSize: len(buf)}).Info(ctx, "Version generated: %dx%d %s", info.Width, info.Height, preset.Format)
	return nil
}

// fail forces the job to FAILED for non-recoverable errors; recoverable ones
// pass through untouched so the retry layer decides.
func (s *PipelineService) fail(ctx context.Context, jobID string, err error) error {
	if domain.IsRecoverable(err) {
		return err
	}

	if _, uerr := s.repo.UpdateStatus(ctx, jobID, domain.StatusFailed, err.Error()); uerr != nil {
		logger.CtxError(ctx, "Failed to mark job as failed: %v", uerr)
	}
	s.audit.Record(ctx, audit.Event{
		Type:   audit.EventJobFailed,
		JobID:  jobID,
		Detail: logger.Fields{"error": err.Error()},
	})
	return err
}
