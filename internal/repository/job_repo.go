package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pixelpress/pixelpress/internal/domain"
	"gorm.io/gorm"
)

// JobRepository is the persistence contract the pipeline needs for image jobs.
// Two implementations exist: GormJobRepository (durable, relational) and
// MemoryJobRepository (map-backed, used by tests). The implementation is
// selected at startup and never mixed at runtime.
type JobRepository interface {
	Save(ctx context.Context, job *domain.ImageJob) error
	FindByID(ctx context.Context, id string) (*domain.ImageJob, error)
	FindAll(ctx context.Context, limit, offset int) ([]domain.ImageJob, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
	FindByStatus(ctx context.Context, status domain.ProcessingStatus, limit, offset int) ([]domain.ImageJob, error)
	FindPending(ctx context.Context, limit int) ([]domain.ImageJob, error)
	FindByFileName(ctx context.Context, name string) ([]domain.ImageJob, error)

	// UpdateStatus transitions a job's status, stamping processing_started_at
	// when entering PROCESSING and processing_ended_at when entering COMPLETED
	// or FAILED. errMsg is recorded only for FAILED. A missing id yields
	// domain.ErrJobNotFound; a backward transition is rejected.
	UpdateStatus(ctx context.Context, id string, status domain.ProcessingStatus, errMsg string) (*domain.ImageJob, error)

	// SaveVersion persists one generated version, replacing any previous
	// version of the same type for the job.
	SaveVersion(ctx context.Context, version *domain.ImageVersion) error

	GetStats(ctx context.Context) (*domain.JobStats, error)
}

// GormJobRepository is the relational JobRepository implementation.
type GormJobRepository struct {
	db *gorm.DB
}

// NewGormJobRepository creates a job repository bound to db.
func NewGormJobRepository(db *gorm.DB) *GormJobRepository {
	return &GormJobRepository{db: db}
}

// Save creates or updates a job record including its versions.
func (r *GormJobRepository) Save(ctx context.Context, job *domain.ImageJob) error {
	return r.db.WithContext(ctx).
		Session(&gorm.Session{FullSaveAssociations: true}).
		Save(job).Error
}

// FindByID retrieves a job with its versions preloaded.
func (r *GormJobRepository) FindByID(ctx context.Context, id string) (*domain.ImageJob, error) {
	var job domain.ImageJob
	err := r.db.WithContext(ctx).Preload("Versions").First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
		}
		return nil, err
	}
	return &job, nil
}

// FindAll retrieves jobs ordered by creation time, newest first.
func (r *GormJobRepository) FindAll(ctx context.Context, limit, offset int) ([]domain.ImageJob, error) {
	var jobs []domain.ImageJob
	err := r.db.WithContext(ctx).
		Preload("Versions").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&jobs).Error
	return jobs, err
}

// Delete removes a job and its versions. Deletion is an administrative
// operation; the pipeline itself never calls it.
func (r *GormJobRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&domain.ImageVersion{}).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.ImageJob{}, "id = ?", id).Error
	})
}

// Exists checks whether a job id is present.
func (r *GormJobRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.ImageJob{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindByStatus retrieves jobs with the given status, with pagination.
func (r *GormJobRepository) FindByStatus(ctx context.Context, status domain.ProcessingStatus, limit, offset int) ([]domain.ImageJob, error) {
	var jobs []domain.ImageJob
	err := r.db.WithContext(ctx).
		Preload("Versions").
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&jobs).Error
	return jobs, err
}

// FindPending retrieves jobs waiting to be picked up (PENDING or QUEUED),
// oldest first.
func (r *GormJobRepository) FindPending(ctx context.Context, limit int) ([]domain.ImageJob, error) {
	var jobs []domain.ImageJob
	err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.ProcessingStatus{domain.StatusPending, domain.StatusQueued}).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// FindByFileName retrieves jobs whose original file name contains the given
// substring, case-insensitive.
func (r *GormJobRepository) FindByFileName(ctx context.Context, name string) ([]domain.ImageJob, error) {
	var jobs []domain.ImageJob
	pattern := "%" + strings.ToLower(name) + "%"
	err := r.db.WithContext(ctx).
		Preload("Versions").
		Where("LOWER(file_name) LIKE ?", pattern).
		Order("created_at DESC").
		Find(&jobs).Error
	return jobs, err
}

// UpdateStatus transitions a job's status inside a transaction.
func (r *GormJobRepository) UpdateStatus(ctx context.Context, id string, status domain.ProcessingStatus, errMsg string) (*domain.ImageJob, error) {
	var job domain.ImageJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Versions").First(&job, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
			}
			return err
		}

		if job.Status == status {
			return nil
		}
		if !job.Status.CanTransitionTo(status) {
			return domain.NewError(domain.CodeInvalidJob,
				fmt.Sprintf("illegal status transition %s -> %s", job.Status, status), false, nil)
		}

		applyStatusStamps(&job, status, errMsg)
		return tx.Model(&domain.ImageJob{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":                job.Status,
			"error_message":         job.ErrorMessage,
			"processing_started_at": job.ProcessingStartedAt,
			"processing_ended_at":   job.ProcessingEndedAt,
			"updated_at":            time.Now(),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// SaveVersion upserts a version row, unique per (job, type).
func (r *GormJobRepository) SaveVersion(ctx context.Context, version *domain.ImageVersion) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ? AND type = ?", version.JobID, version.Type).
			Delete(&domain.ImageVersion{}).Error; err != nil {
			return err
		}
		return tx.Create(version).Error
	})
}

// GetStats aggregates per-status counts and the mean processing duration.
func (r *GormJobRepository) GetStats(ctx context.Context) (*domain.JobStats, error) {
	stats := &domain.JobStats{}

	type statusCount struct {
		Status domain.ProcessingStatus
		Count  int64
	}
	var counts []statusCount
	err := r.db.WithContext(ctx).Model(&domain.ImageJob{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}

	for _, c := range counts {
		stats.TotalJobs += c.Count
		switch c.Status {
		case domain.StatusPending, domain.StatusQueued:
			stats.PendingJobs += c.Count
		case domain.StatusProcessing:
			stats.ProcessingJobs += c.Count
		case domain.StatusCompleted:
			stats.CompletedJobs += c.Count
		case domain.StatusFailed:
			stats.FailedJobs += c.Count
		case domain.StatusCancelled:
			stats.CancelledJobs += c.Count
		}
	}

	// Mean of (end - start) over completed jobs carrying both timestamps,
	// computed client-side so sqlite and postgres agree.
	type span struct {
		ProcessingStartedAt *time.Time
		ProcessingEndedAt   *time.Time
	}
	var spans []span
	err = r.db.WithContext(ctx).Model(&domain.ImageJob{}).
		Select("processing_started_at, processing_ended_at").
		Where("status = ? AND processing_started_at IS NOT NULL AND processing_ended_at IS NOT NULL",
			domain.StatusCompleted).
		Scan(&spans).Error
	if err != nil {
		return nil, err
	}

	if len(spans) > 0 {
		var total float64
		for _, s := range spans {
			total += float64(s.ProcessingEndedAt.Sub(*s.ProcessingStartedAt).Milliseconds())
		}
		stats.AvgProcessingTimeMs = total / float64(len(spans))
	}
	return stats, nil
}

// applyStatusStamps mutates the job for the new status, stamping the
// processing window timestamps.
func applyStatusStamps(job *domain.ImageJob, status domain.ProcessingStatus, errMsg string) {
	now := time.Now()
	job.Status = status
	job.UpdatedAt = now

	switch status {
	case domain.StatusProcessing:
		job.ProcessingStartedAt = &now
	case domain.StatusCompleted:
		job.ProcessingEndedAt = &now
		job.ErrorMessage = ""
	case domain.StatusFailed:
		job.ProcessingEndedAt = &now
		job.ErrorMessage = errMsg
	}
}
