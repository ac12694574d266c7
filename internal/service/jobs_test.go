package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/pixelpress/pixelpress/internal/domain"
	"github.com/pixelpress/pixelpress/internal/queue"
	"github.com/pixelpress/pixelpress/internal/repository"
	"github.com/pixelpress/pixelpress/internal/storage"
)

// brokenQueue simulates an unavailable queue backend.
type brokenQueue struct{}

func (brokenQueue) AddJob(ctx context.Context, jobID string, opts queue.AddOptions) (string, error) {
	return "", errors.New("connection refused")
}
func (brokenQueue) Reserve(ctx context.Context) (*queue.Task, error) {
	return nil, errors.New("connection refused")
}
func (brokenQueue) Ack(ctx context.Context, task *queue.Task, d queue.Disposition, taskErr error) error {
	return errors.New("connection refused")
}
func (brokenQueue) Retry(ctx context.Context, task *queue.Task, delay time.Duration) error {
	return errors.New("connection refused")
}
func (brokenQueue) PendingCount(ctx context.Context) (int64, error) {
	return 0, errors.New("connection refused")
}
func (brokenQueue) ProcessingCount(ctx context.Context) (int64, error) {
	return 0, errors.New("connection refused")
}
func (brokenQueue) Close() error { return nil }

func pngUpload(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 10, 10))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newJobService(t *testing.T, q queue.Queue) (*JobService, *repository.MemoryJobRepository) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	repo := repository.NewMemoryJobRepository()
	return NewJobService(repo, store, q, nil, 0), repo
}

func TestUploadAndEnqueue(t *testing.T) {
	q := queue.NewMemoryQueue(10, 3)
	defer q.Close()
	svc, repo := newJobService(t, q)
	ctx := context.Background()

	job, err := svc.UploadAndEnqueue(ctx, &UploadRequest{
		FileName:      "shoe.png",
		MimeType:      "image/png",
		Data:          pngUpload(t),
		RunAIAnalysis: true,
	})
	if err != nil {
		t.Fatalf("UploadAndEnqueue failed: %v", err)
	}
	if job.Status != domain.StatusQueued {
		t.Errorf("status = %s, want QUEUED", job.Status)
	}
	if job.ID == "" {
		t.Error("job id missing")
	}

	stored, err := repo.FindByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("job record not persisted: %v", err)
	}
	if stored.StoragePath == "" {
		t.Error("storage path missing")
	}

	pending, _ := q.PendingCount(ctx)
	if pending != 1 {
		t.Errorf("pending = %d, want 1", pending)
	}
}

func TestUploadValidation(t *testing.T) {
	q := queue.NewMemoryQueue(10, 3)
	defer q.Close()
	svc, _ := newJobService(t, q)
	ctx := context.Background()

	testCases := []struct {
		name string
		req  *UploadRequest
	}{
		{"missing file name", &UploadRequest{MimeType: "image/png", Data: pngUpload(t)}},
		{"empty payload", &UploadRequest{FileName: "a.png", MimeType: "image/png"}},
		{"disallowed mime type", &UploadRequest{FileName: "a.gif", MimeType: "image/gif", Data: pngUpload(t)}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.UploadAndEnqueue(ctx, tc.req)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if domain.CodeOf(err) != domain.CodeInvalidJob {
				t.Errorf("error code = %s, want INVALID_JOB_DATA", domain.CodeOf(err))
			}
		})
	}
}

func TestUploadSizeLimit(t *testing.T) {
	q := queue.NewMemoryQueue(10, 3)
	defer q.Close()
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc := NewJobService(repository.NewMemoryJobRepository(), store, q, nil, 16)

	_, err = svc.UploadAndEnqueue(context.Background(), &UploadRequest{
		FileName: "big.png",
		MimeType: "image/png",
		Data:     pngUpload(t), // well over the 16-byte limit
	})
	if domain.CodeOf(err) != domain.CodeInvalidJob {
		t.Errorf("oversized upload error = %v", err)
	}
}

func TestUploadSurvivesQueueOutage(t *testing.T) {
	// Acceptance must not fail when the queue backend is down: the job stays
	// QUEUED and the pending sweep picks it up later.
	svc, repo := newJobService(t, brokenQueue{})
	ctx := context.Background()

	job, err := svc.UploadAndEnqueue(ctx, &UploadRequest{
		FileName: "shoe.png",
		MimeType: "image/png",
		Data:     pngUpload(t),
	})
	if err != nil {
		t.Fatalf("upload failed during queue outage: %v", err)
	}
	if job.Status != domain.StatusQueued {
		t.Errorf("status = %s, want QUEUED", job.Status)
	}

	stored, err := repo.FindByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("job record lost: %v", err)
	}
	if stored.Status != domain.StatusQueued {
		t.Errorf("persisted status = %s, want QUEUED", stored.Status)
	}
}

func TestCancelJob(t *testing.T) {
	q := queue.NewMemoryQueue(10, 3)
	defer q.Close()
	svc, _ := newJobService(t, q)
	ctx := context.Background()

	job, err := svc.UploadAndEnqueue(ctx, &UploadRequest{
		FileName: "shoe.png", MimeType: "image/png", Data: pngUpload(t),
	})
	if err != nil {
		t.Fatal(err)
	}

	cancelled, err := svc.CancelJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", cancelled.Status)
	}

	// Cancelling again is an idempotent no-op.
	again, err := svc.CancelJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("repeated cancel failed: %v", err)
	}
	if again.Status != domain.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", again.Status)
	}
}

func TestListJobsRejectsUnknownStatus(t *testing.T) {
	q := queue.NewMemoryQueue(10, 3)
	defer q.Close()
	svc, _ := newJobService(t, q)

	_, err := svc.ListJobs(context.Background(), domain.ProcessingStatus("RUNNING"), 10, 0)
	if domain.CodeOf(err) != domain.CodeInvalidJob {
		t.Errorf("unknown status error = %v", err)
	}
}

func TestGetStats(t *testing.T) {
	q := queue.NewMemoryQueue(10, 3)
	defer q.Close()
	svc, _ := newJobService(t, q)
	ctx := context.Background()

	for _, name := range []string{"a.png", "b.png"} {
		if _, err := svc.UploadAndEnqueue(ctx, &UploadRequest{
			FileName: name, MimeType: "image/png", Data: pngUpload(t),
		}); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := svc.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Jobs.TotalJobs != 2 {
		t.Errorf("total jobs = %d, want 2", stats.Jobs.TotalJobs)
	}
	if stats.Jobs.PendingJobs != 2 {
		t.Errorf("pending jobs = %d, want 2", stats.Jobs.PendingJobs)
	}
	if stats.QueuePending != 2 {
		t.Errorf("queue pending = %d, want 2", stats.QueuePending)
	}
}
