package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func reserveWithTimeout(t *testing.T, q Queue, d time.Duration) *Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	task, err := q.Reserve(ctx)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	return task
}

func TestAddJobCollapsesDuplicates(t *testing.T) {
	q := NewMemoryQueue(10, 3)
	defer q.Close()
	ctx := context.Background()

	first, err := q.AddJob(ctx, "job-1", AddOptions{RunAIAnalysis: true})
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	second, err := q.AddJob(ctx, "job-1", AddOptions{})
	if err != nil {
		t.Fatalf("duplicate AddJob failed: %v", err)
	}
	if first != second {
		t.Errorf("duplicate enqueue got new delivery id: %s vs %s", first, second)
	}

	pending, _ := q.PendingCount(ctx)
	if pending != 1 {
		t.Errorf("pending = %d, want 1", pending)
	}
}

func TestReserveAndAckLifecycle(t *testing.T) {
	q := NewMemoryQueue(10, 3)
	defer q.Close()
	ctx := context.Background()

	if _, err := q.AddJob(ctx, "job-1", AddOptions{RunAIAnalysis: true}); err != nil {
		t.Fatal(err)
	}

	task := reserveWithTimeout(t, q, time.Second)
	if task.JobID != "job-1" {
		t.Errorf("task job id = %s", task.JobID)
	}
	if task.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", task.Attempt)
	}
	if task.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", task.MaxAttempts)
	}
	if !task.RunAIAnalysis {
		t.Error("run-ai flag lost")
	}

	processing, _ := q.ProcessingCount(ctx)
	if processing != 1 {
		t.Errorf("processing = %d, want 1", processing)
	}

	if err := q.Ack(ctx, task, DispositionCompleted, nil); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	processing, _ = q.ProcessingCount(ctx)
	if processing != 0 {
		t.Errorf("processing after ack = %d, want 0", processing)
	}

	// The dedup key is released, so the job may be enqueued again.
	next, err := q.AddJob(ctx, "job-1", AddOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if next == task.ID {
		t.Error("re-enqueue after ack should produce a fresh delivery")
	}
}

func TestRetryIncrementsAttemptAndDelays(t *testing.T) {
	q := NewMemoryQueue(10, 3)
	defer q.Close()
	ctx := context.Background()

	if _, err := q.AddJob(ctx, "job-1", AddOptions{}); err != nil {
		t.Fatal(err)
	}
	task := reserveWithTimeout(t, q, time.Second)

	if err := q.Retry(ctx, task, 30*time.Millisecond); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	// Not yet delivered: the retry is held in the delay timer.
	shortCtx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	if _, err := q.Reserve(shortCtx); !errors.Is(err, context.DeadlineExceeded) {
		cancel()
		t.Fatalf("retry delivered before its delay: %v", err)
	}
	cancel()

	redelivered := reserveWithTimeout(t, q, time.Second)
	if redelivered.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", redelivered.Attempt)
	}
	if redelivered.JobID != "job-1" {
		t.Errorf("job id = %s", redelivered.JobID)
	}

	// Dedup stays held across the retry window.
	id, err := q.AddJob(ctx, "job-1", AddOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if id != task.ID {
		t.Errorf("enqueue during retry window should collapse onto %s, got %s", task.ID, id)
	}
}

func TestAckRecordsBoundedHistory(t *testing.T) {
	q := NewMemoryQueue(2, 3)
	defer q.Close()
	ctx := context.Background()

	for _, jobID := range []string{"a", "b", "c"} {
		if _, err := q.AddJob(ctx, jobID, AddOptions{}); err != nil {
			t.Fatal(err)
		}
		task := reserveWithTimeout(t, q, time.Second)
		disposition := DispositionCompleted
		var cause error
		if jobID == "c" {
			disposition = DispositionFailed
			cause = errors.New("decode failed")
		}
		if err := q.Ack(ctx, task, disposition, cause); err != nil {
			t.Fatal(err)
		}
	}

	history := q.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2 (bounded)", len(history))
	}
	last := history[len(history)-1]
	if last.Disposition != DispositionFailed {
		t.Errorf("last disposition = %s, want failed", last.Disposition)
	}
	if last.Error == "" {
		t.Error("failure cause not recorded in history")
	}
}

func TestReserveHonorsContextCancel(t *testing.T) {
	q := NewMemoryQueue(10, 3)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := q.Reserve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Reserve on cancelled context = %v, want context.Canceled", err)
	}
}
