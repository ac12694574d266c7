package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pixelpress/pixelpress/internal/domain"
)

func seedJob(t *testing.T, repo JobRepository, id, fileName string) *domain.ImageJob {
	t.Helper()
	job := &domain.ImageJob{
		ID:          id,
		FileName:    fileName,
		FileSize:    1024,
		MimeType:    "image/png",
		StoragePath: "originals/" + id + "/" + fileName,
		Status:      domain.StatusPending,
	}
	if err := repo.Save(context.Background(), job); err != nil {
		t.Fatalf("failed to seed job %s: %v", id, err)
	}
	return job
}

func advance(t *testing.T, repo JobRepository, id string, statuses ...domain.ProcessingStatus) {
	t.Helper()
	for _, s := range statuses {
		if _, err := repo.UpdateStatus(context.Background(), id, s, ""); err != nil {
			t.Fatalf("failed to advance job %s to %s: %v", id, s, err)
		}
	}
}

func TestUpdateStatusStampsTimestamps(t *testing.T) {
	repo := NewMemoryJobRepository()
	ctx := context.Background()
	seedJob(t, repo, "job-1", "a.png")

	job, err := repo.UpdateStatus(ctx, "job-1", domain.StatusProcessing, "")
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if job.ProcessingStartedAt == nil {
		t.Fatal("start timestamp not stamped on PROCESSING")
	}
	if job.ProcessingEndedAt != nil {
		t.Fatal("end timestamp stamped too early")
	}

	job, err = repo.UpdateStatus(ctx, "job-1", domain.StatusFailed, "decode blew up")
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if job.ProcessingEndedAt == nil {
		t.Fatal("end timestamp not stamped on FAILED")
	}
	if job.ErrorMessage != "decode blew up" {
		t.Errorf("error message = %q", job.ErrorMessage)
	}
}

func TestUpdateStatusNotFound(t *testing.T) {
	repo := NewMemoryJobRepository()

	_, err := repo.UpdateStatus(context.Background(), "ghost", domain.StatusQueued, "")
	if !domain.IsNotFound(err) {
		t.Errorf("error = %v, want job-not-found", err)
	}
}

func TestUpdateStatusRejectsBackwardTransition(t *testing.T) {
	repo := NewMemoryJobRepository()
	ctx := context.Background()
	seedJob(t, repo, "job-1", "a.png")
	advance(t, repo, "job-1", domain.StatusProcessing, domain.StatusCompleted)

	if _, err := repo.UpdateStatus(ctx, "job-1", domain.StatusProcessing, ""); err == nil {
		t.Error("COMPLETED must never transition back to PROCESSING")
	}

	job, err := repo.FindByID(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.StatusCompleted {
		t.Errorf("status corrupted to %s", job.Status)
	}
}

func TestUpdateStatusAllowsRetryFromFailed(t *testing.T) {
	repo := NewMemoryJobRepository()
	seedJob(t, repo, "job-1", "a.png")
	advance(t, repo, "job-1", domain.StatusProcessing)

	if _, err := repo.UpdateStatus(context.Background(), "job-1", domain.StatusFailed, "transient"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.UpdateStatus(context.Background(), "job-1", domain.StatusProcessing, ""); err != nil {
		t.Errorf("FAILED -> PROCESSING retry rejected: %v", err)
	}
}

func TestFindByFileNameCaseInsensitive(t *testing.T) {
	repo := NewMemoryJobRepository()
	seedJob(t, repo, "job-1", "Red-Sneaker.PNG")
	seedJob(t, repo, "job-2", "blue-boot.png")
	seedJob(t, repo, "job-3", "red-sneaker-alt.png")

	jobs, err := repo.FindByFileName(context.Background(), "SNEAKER")
	if err != nil {
		t.Fatalf("FindByFileName failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("matches = %d, want 2", len(jobs))
	}
}

func TestFindPendingReturnsQueuedAndPending(t *testing.T) {
	repo := NewMemoryJobRepository()
	seedJob(t, repo, "job-1", "a.png")
	seedJob(t, repo, "job-2", "b.png")
	seedJob(t, repo, "job-3", "c.png")
	advance(t, repo, "job-2", domain.StatusQueued)
	advance(t, repo, "job-3", domain.StatusProcessing)

	jobs, err := repo.FindPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("FindPending failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("pending jobs = %d, want 2", len(jobs))
	}
}

func TestSaveVersionReplacesSameType(t *testing.T) {
	repo := NewMemoryJobRepository()
	ctx := context.Background()
	seedJob(t, repo, "job-1", "a.png")

	v1 := &domain.ImageVersion{JobID: "job-1", Type: domain.VersionGrid, Width: 800, Height: 800, ContentHash: "aaa"}
	if err := repo.SaveVersion(ctx, v1); err != nil {
		t.Fatalf("SaveVersion failed: %v", err)
	}
	v2 := &domain.ImageVersion{JobID: "job-1", Type: domain.VersionGrid, Width: 800, Height: 800, ContentHash: "bbb"}
	if err := repo.SaveVersion(ctx, v2); err != nil {
		t.Fatalf("SaveVersion replace failed: %v", err)
	}

	job, err := repo.FindByID(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(job.Versions) != 1 {
		t.Fatalf("versions = %d, want 1", len(job.Versions))
	}
	if job.Versions[0].ContentHash != "bbb" {
		t.Errorf("version not replaced, hash = %s", job.Versions[0].ContentHash)
	}
}

func TestGetStatsConsistency(t *testing.T) {
	repo := NewMemoryJobRepository()
	ctx := context.Background()

	// 2 pending-ish (1 PENDING, 1 QUEUED), 1 processing, 2 completed, 1 failed.
	for i := 1; i <= 6; i++ {
		seedJob(t, repo, fmt.Sprintf("job-%d", i), fmt.Sprintf("img-%d.png", i))
	}
	advance(t, repo, "job-2", domain.StatusQueued)
	advance(t, repo, "job-3", domain.StatusProcessing)
	advance(t, repo, "job-4", domain.StatusProcessing, domain.StatusCompleted)
	advance(t, repo, "job-5", domain.StatusProcessing, domain.StatusCompleted)
	advance(t, repo, "job-6", domain.StatusProcessing)
	if _, err := repo.UpdateStatus(ctx, "job-6", domain.StatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}

	stats, err := repo.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}

	if stats.TotalJobs != 6 {
		t.Errorf("total = %d, want 6", stats.TotalJobs)
	}
	if stats.PendingJobs != 2 {
		t.Errorf("pending = %d, want 2", stats.PendingJobs)
	}
	if stats.ProcessingJobs != 1 {
		t.Errorf("processing = %d, want 1", stats.ProcessingJobs)
	}
	if stats.CompletedJobs != 2 {
		t.Errorf("completed = %d, want 2", stats.CompletedJobs)
	}
	if stats.FailedJobs != 1 {
		t.Errorf("failed = %d, want 1", stats.FailedJobs)
	}

	sum := stats.PendingJobs + stats.ProcessingJobs + stats.CompletedJobs + stats.FailedJobs
	if stats.TotalJobs != sum {
		t.Errorf("total %d != sum of per-status counts %d", stats.TotalJobs, sum)
	}
	if stats.AvgProcessingTimeMs < 0 {
		t.Errorf("avg processing time = %f", stats.AvgProcessingTimeMs)
	}
}

func TestGetStatsEmptyRepository(t *testing.T) {
	repo := NewMemoryJobRepository()

	stats, err := repo.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalJobs != 0 || stats.AvgProcessingTimeMs != 0 {
		t.Errorf("empty stats = %+v", stats)
	}
}

func TestConcurrentSaveVersionDoesNotCorrupt(t *testing.T) {
	repo := NewMemoryJobRepository()
	ctx := context.Background()
	seedJob(t, repo, "job-1", "a.png")

	types := []domain.VersionType{
		domain.VersionMaster4K, domain.VersionGrid, domain.VersionPDP, domain.VersionThumbnail,
	}
	done := make(chan error, len(types))
	for _, vt := range types {
		go func(vt domain.VersionType) {
			done <- repo.SaveVersion(ctx, &domain.ImageVersion{
				JobID: "job-1", Type: vt, Width: 100, Height: 100,
			})
		}(vt)
	}
	for range types {
		if err := <-done; err != nil {
			t.Fatalf("concurrent SaveVersion failed: %v", err)
		}
	}

	job, err := repo.FindByID(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(job.Versions) != len(types) {
		t.Errorf("versions = %d, want %d", len(job.Versions), len(types))
	}
}

func TestFindAllPagination(t *testing.T) {
	repo := NewMemoryJobRepository()
	for i := 0; i < 5; i++ {
		seedJob(t, repo, fmt.Sprintf("job-%d", i), fmt.Sprintf("img-%d.png", i))
		time.Sleep(time.Millisecond)
	}

	page, err := repo.FindAll(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	if len(page) != 2 {
		t.Errorf("page size = %d, want 2", len(page))
	}

	rest, err := repo.FindAll(context.Background(), 10, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 {
		t.Errorf("offset page size = %d, want 1", len(rest))
	}
}
