package domain

import "testing"

func TestStatusTransitionsAreMonotonic(t *testing.T) {
	testCases := []struct {
		from    ProcessingStatus
		to      ProcessingStatus
		allowed bool
	}{
		{StatusPending, StatusQueued, true},
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCancelled, true},
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusCancelled, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusFailed, StatusProcessing, true}, // retry path

		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusProcessing, false},
		{StatusCancelled, StatusQueued, false},
		{StatusProcessing, StatusPending, false},
		{StatusQueued, StatusPending, false},
		{StatusFailed, StatusCompleted, false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			if got := tc.from.CanTransitionTo(tc.to); got != tc.allowed {
				t.Errorf("CanTransitionTo = %v, want %v", got, tc.allowed)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	if !StatusCompleted.Terminal() {
		t.Error("COMPLETED should be terminal")
	}
	if !StatusCancelled.Terminal() {
		t.Error("CANCELLED should be terminal")
	}
	if StatusFailed.Terminal() {
		t.Error("FAILED is retryable, not terminal")
	}
	if StatusProcessing.Terminal() {
		t.Error("PROCESSING should not be terminal")
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []ProcessingStatus{
		StatusPending, StatusQueued, StatusProcessing,
		StatusCompleted, StatusFailed, StatusCancelled,
	} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if ProcessingStatus("RUNNING").Valid() {
		t.Error("unknown status should be invalid")
	}
}

func TestAttachVersionReplacesByType(t *testing.T) {
	job := &ImageJob{ID: "job-1"}
	job.AttachVersion(ImageVersion{Type: VersionGrid, ContentHash: "a"})
	job.AttachVersion(ImageVersion{Type: VersionThumbnail, ContentHash: "b"})
	job.AttachVersion(ImageVersion{Type: VersionGrid, ContentHash: "c"})

	if len(job.Versions) != 2 {
		t.Fatalf("versions = %d, want 2", len(job.Versions))
	}
	v, ok := job.Version(VersionGrid)
	if !ok || v.ContentHash != "c" {
		t.Errorf("grid version not replaced: %+v", v)
	}
	if v.JobID != "job-1" {
		t.Errorf("version job id = %q", v.JobID)
	}
}

func TestCanComplete(t *testing.T) {
	job := &ImageJob{Status: StatusProcessing}
	if job.CanComplete() {
		t.Error("job without versions must not complete")
	}
	job.AttachVersion(ImageVersion{Type: VersionGrid})
	if !job.CanComplete() {
		t.Error("processing job with versions should complete")
	}
	job.Status = StatusQueued
	if job.CanComplete() {
		t.Error("non-processing job must not complete")
	}
}
