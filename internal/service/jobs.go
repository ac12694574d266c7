package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pixelpress/pixelpress/internal/audit"
	"github.com/pixelpress/pixelpress/internal/domain"
	"github.com/pixelpress/pixelpress/internal/logger"
	"github.com/pixelpress/pixelpress/internal/queue"
	"github.com/pixelpress/pixelpress/internal/repository"
	"github.com/pixelpress/pixelpress/internal/storage"
)

// UploadRequest carries one accepted source image and its optional context.
type UploadRequest struct {
	FileName      string
	MimeType      string
	Data          []byte
	Brand         *domain.BrandContext
	Product       *domain.ProductContext
	RunAIAnalysis bool
	Priority      int
}

// JobService handles the synchronous side of the pipeline: accepting uploads,
// enqueueing work, and answering job queries. Processing itself happens in
// the worker.
type JobService struct {
	repo          repository.JobRepository
	store         storage.ObjectStorage
	queue         queue.Queue
	audit         audit.Sink
	maxUploadSize int64
}

// NewJobService wires the upload and query paths. maxUploadSize is in bytes;
// zero applies the 20 MiB default. A nil sink discards audit events.
func NewJobService(repo repository.JobRepository, store storage.ObjectStorage, q queue.Queue, sink audit.Sink, maxUploadSize int64) *JobService {
	if maxUploadSize <= 0 {
		maxUploadSize = 20 << 20
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &JobService{
		repo:          repo,
		store:         store,
		queue:         q,
		audit:         sink,
		maxUploadSize: maxUploadSize,
	}
}

// UploadAndEnqueue validates the upload, stores the original, creates the job
// record, and enqueues it for processing. It returns as soon as the job is
// QUEUED; processing happens asynchronously. When the queue backend is down
// the job is still marked QUEUED so the pending sweep can pick it up later.
func (s *JobService) UploadAndEnqueue(ctx context.Context, req *UploadRequest) (*domain.ImageJob, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	job := &domain.ImageJob{
		ID:            id,
		FileName:      req.FileName,
		FileSize:      int64(len(req.Data)),
		MimeType:      req.MimeType,
		StoragePath:   fmt.Sprintf("originals/%s/%s", id, req.FileName),
		Status:        domain.StatusPending,
		RunAIAnalysis: req.RunAIAnalysis,
		Brand:         req.Brand,
		Product:       req.Product,
	}
	ctx = logger.SetJobID(ctx, job.ID)

	if err := s.store.Upload(ctx, job.StoragePath, bytes.NewReader(req.Data), job.FileSize, req.MimeType); err != nil {
		return nil, domain.NewError(domain.CodeStorage, "failed to store original image", true, err)
	}

	if err := s.repo.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job record: %w", err)
	}
	s.audit.Record(ctx, audit.Event{Type: audit.EventJobCreated, JobID: job.ID, FileName: job.FileName})

	queued, err := s.repo.UpdateStatus(ctx, job.ID, domain.StatusQueued, "")
	if err != nil {
		return nil, fmt.Errorf("failed to mark job as queued: %w", err)
	}
	job = queued

	opts := queue.AddOptions{RunAIAnalysis: req.RunAIAnalysis, Priority: req.Priority}
	if _, err := s.queue.AddJob(ctx, job.ID, opts); err != nil {
		// The job record is durable and the pending sweep re-enqueues
		// QUEUED jobs, so acceptance still succeeds.
		logger.CtxWarn(ctx, "Failed to enqueue job, relying on pending sweep: %v", err)
	}
	s.audit.Record(ctx, audit.Event{Type: audit.EventJobQueued, JobID: job.ID, FileName: job.FileName})

	return job, nil
}

func (s *JobService) validate(req *UploadRequest) error {
	if req.FileName == "" {
		return domain.NewError(domain.CodeInvalidJob, "file name is required", false, nil)
	}
	if len(req.Data) == 0 {
		return domain.NewError(domain.CodeInvalidJob, "empty upload", false, nil)
	}
	if int64(len(req.Data)) > s.maxUploadSize {
		return domain.NewError(domain.CodeInvalidJob,
			fmt.Sprintf("file exceeds the %d byte upload limit", s.maxUploadSize), false, nil)
	}
	if !domain.MimeTypeAllowed(req.MimeType) {
		return domain.NewError(domain.CodeInvalidJob,
			fmt.Sprintf("unsupported mime type %s", req.MimeType), false, nil)
	}
	return nil
}

// GetJob returns one job with its versions.
func (s *JobService) GetJob(ctx context.Context, id string) (*domain.ImageJob, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *JobService) ListJobs(ctx context.Context, status domain.ProcessingStatus, limit, offset int) ([]domain.ImageJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if status != "" {
		if !status.Valid() {
			return nil, domain.NewError(domain.CodeInvalidJob, fmt.Sprintf("unknown status %s", status), false, nil)
		}
		return s.repo.FindByStatus(ctx, status, limit, offset)
	}
	return s.repo.FindAll(ctx, limit, offset)
}

// SearchByFileName returns jobs whose file name contains the given substring,
// case-insensitively.
func (s *JobService) SearchByFileName(ctx context.Context, name string) ([]domain.ImageJob, error) {
	if name == "" {
		return nil, domain.NewError(domain.CodeInvalidJob, "search term is required", false, nil)
	}
	return s.repo.FindByFileName(ctx, name)
}

// CancelJob applies the administrative CANCELLED override. Terminal jobs
// cannot be cancelled.
func (s *JobService) CancelJob(ctx context.Context, id string) (*domain.ImageJob, error) {
	job, err := s.repo.UpdateStatus(ctx, id, domain.StatusCancelled, "")
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Event{Type: audit.EventJobCancelled, JobID: id, FileName: job.FileName})
	return job, nil
}

// DeleteJob removes a job record and its stored artifacts. Artifact cleanup
// is best effort; the record removal is authoritative.
func (s *JobService) DeleteJob(ctx context.Context, id string) error {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}

	if err := s.store.Delete(ctx, job.StoragePath); err != nil {
		logger.CtxWarn(ctx, "Failed to delete original for job %s: %v", id, err)
	}
	for _, v := range job.Versions {
		if err := s.store.Delete(ctx, v.StoragePath); err != nil {
			logger.CtxWarn(ctx, "Failed to delete version %s for job %s: %v", v.Type, id, err)
		}
	}
	return nil
}

// QueueDepth reports the queue's pending and processing counts.
func (s *JobService) QueueDepth(ctx context.Context) (pending, processing int64, err error) {
	pending, err = s.queue.PendingCount(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read pending count: %w", err)
	}
	processing, err = s.queue.ProcessingCount(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read processing count: %w", err)
	}
	return pending, processing, nil
}

// Stats aggregates repository counts with the current queue depth.
type Stats struct {
	Jobs            *domain.JobStats `json:"jobs"`
	QueuePending    int64            `json:"queue_pending"`
	QueueProcessing int64            `json:"queue_processing"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// GetStats returns the pipeline statistics snapshot.
func (s *JobService) GetStats(ctx context.Context) (*Stats, error) {
	jobStats, err := s.repo.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate job stats: %w", err)
	}

	pending, processing, err := s.QueueDepth(ctx)
	if err != nil {
		// Queue depth is advisory; stats remain usable without it.
		logger.CtxWarn(ctx, "Failed to read queue depth for stats: %v", err)
		pending, processing = 0, 0
	}

	return &Stats{
		Jobs:            jobStats,
		QueuePending:    pending,
		QueueProcessing: processing,
		GeneratedAt:     time.Now(),
	}, nil
}
