package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pixelpress/pixelpress/internal/domain"
)

// MemoryJobRepository is a mutex-guarded, map-backed JobRepository used by
// tests and local development. Records are deep-copied at the boundary so
// concurrent writers cannot corrupt version or status data through aliasing.
type MemoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.ImageJob
}

// NewMemoryJobRepository creates an empty in-memory repository.
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{
		jobs: make(map[string]*domain.ImageJob),
	}
}

func cloneJob(job *domain.ImageJob) *domain.ImageJob {
	cp := *job
	if job.Brand != nil {
		b := *job.Brand
		cp.Brand = &b
	}
	if job.Product != nil {
		p := *job.Product
		p.Attributes = append(domain.StringArray(nil), job.Product.Attributes...)
		cp.Product = &p
	}
	cp.Versions = append([]domain.ImageVersion(nil), job.Versions...)
	if job.ProcessingStartedAt != nil {
		t := *job.ProcessingStartedAt
		cp.ProcessingStartedAt = &t
	}
	if job.ProcessingEndedAt != nil {
		t := *job.ProcessingEndedAt
		cp.ProcessingEndedAt = &t
	}
	return &cp
}

// Save stores a deep copy of the job.
func (r *MemoryJobRepository) Save(ctx context.Context, job *domain.ImageJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = time.Now()
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

// FindByID returns a copy of the stored job.
func (r *MemoryJobRepository) FindByID(ctx context.Context, id string) (*domain.ImageJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
	}
	return cloneJob(job), nil
}

func (r *MemoryJobRepository) snapshot() []domain.ImageJob {
	out := make([]domain.ImageJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, *cloneJob(job))
	}
	return out
}

// FindAll returns jobs ordered by creation time, newest first.
func (r *MemoryJobRepository) FindAll(ctx context.Context, limit, offset int) ([]domain.ImageJob, error) {
	r.mu.RLock()
	jobs := r.snapshot()
	r.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return paginate(jobs, limit, offset), nil
}

// Delete removes a job.
func (r *MemoryJobRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	return nil
}

// Exists checks for a job id.
func (r *MemoryJobRepository) Exists(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.jobs[id]
	return ok, nil
}

// FindByStatus returns jobs with the given status, oldest first.
func (r *MemoryJobRepository) FindByStatus(ctx context.Context, status domain.ProcessingStatus, limit, offset int) ([]domain.ImageJob, error) {
	r.mu.RLock()
	jobs := r.snapshot()
	r.mu.RUnlock()

	filtered := jobs[:0]
	for _, j := range jobs {
		if j.Status == status {
			filtered = append(filtered, j)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].CreatedAt.Before(filtered[j].CreatedAt) })
	return paginate(filtered, limit, offset), nil
}

// FindPending returns PENDING and QUEUED jobs, oldest first.
func (r *MemoryJobRepository) FindPending(ctx context.Context, limit int) ([]domain.ImageJob, error) {
	r.mu.RLock()
	jobs := r.snapshot()
	r.mu.RUnlock()

	filtered := jobs[:0]
	for _, j := range jobs {
		if j.Status == domain.StatusPending || j.Status == domain.StatusQueued {
			filtered = append(filtered, j)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].CreatedAt.Before(filtered[j].CreatedAt) })
	return paginate(filtered, limit, 0), nil
}

// FindByFileName matches file names by case-insensitive substring.
func (r *MemoryJobRepository) FindByFileName(ctx context.Context, name string) ([]domain.ImageJob, error) {
	r.mu.RLock()
	jobs := r.snapshot()
	r.mu.RUnlock()

	needle := strings.ToLower(name)
	filtered := jobs[:0]
	for _, j := range jobs {
		if strings.Contains(strings.ToLower(j.FileName), needle) {
			filtered = append(filtered, j)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].CreatedAt.After(filtered[j].CreatedAt) })
	return filtered, nil
}

// UpdateStatus transitions a job's status, stamping the processing window.
func (r *MemoryJobRepository) UpdateStatus(ctx context.Context, id string, status domain.ProcessingStatus, errMsg string) (*domain.ImageJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
	}

	if job.Status != status {
		if !job.Status.CanTransitionTo(status) {
			return nil, domain.NewError(domain.CodeInvalidJob,
				fmt.Sprintf("illegal status transition %s -> %s", job.Status, status), false, nil)
		}
		applyStatusStamps(job, status, errMsg)
	}

	return cloneJob(job), nil
}

// SaveVersion attaches or replaces a version on its job.
func (r *MemoryJobRepository) SaveVersion(ctx context.Context, version *domain.ImageVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[version.JobID]
	if !ok {
		return fmt.Errorf("job %s: %w", version.JobID, domain.ErrJobNotFound)
	}
	job.AttachVersion(*version)
	return nil
}

// GetStats aggregates counts and the mean completed processing duration.
func (r *MemoryJobRepository) GetStats(ctx context.Context) (*domain.JobStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &domain.JobStats{}
	var totalMs float64
	var timed int64

	for _, job := range r.jobs {
		stats.TotalJobs++
		switch job.Status {
		case domain.StatusPending, domain.StatusQueued:
			stats.PendingJobs++
		case domain.StatusProcessing:
			stats.ProcessingJobs++
		case domain.StatusCompleted:
			stats.CompletedJobs++
			if job.ProcessingStartedAt != nil && job.ProcessingEndedAt != nil {
				totalMs += float64(job.ProcessingEndedAt.Sub(*job.ProcessingStartedAt).Milliseconds())
				timed++
			}
		case domain.StatusFailed:
			stats.FailedJobs++
		case domain.StatusCancelled:
			stats.CancelledJobs++
		}
	}

	if timed > 0 {
		stats.AvgProcessingTimeMs = totalMs / float64(timed)
	}
	return stats, nil
}

func paginate(jobs []domain.ImageJob, limit, offset int) []domain.ImageJob {
	if offset >= len(jobs) {
		return []domain.ImageJob{}
	}
	jobs = jobs[offset:]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs
}
