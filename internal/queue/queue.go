// Package queue provides the durable work queue decoupling job acceptance
// from job processing. Duplicate enqueues for the same job id collapse via a
// job-id-keyed deduplication key; retries are delivered after a delay.
package queue

import (
	"context"
	"time"
)

// AddOptions controls one enqueue.
type AddOptions struct {
	RunAIAnalysis bool
	Priority      int           // >0 jumps ahead of normal work
	Delay         time.Duration // deliver no earlier than now+Delay
}

// Task is one delivery of a queued job to a worker.
type Task struct {
	ID            string    `json:"id"`
	JobID         string    `json:"job_id"`
	RunAIAnalysis bool      `json:"run_ai_analysis"`
	Attempt       int       `json:"attempt"` // 1-based delivery attempt
	MaxAttempts   int       `json:"max_attempts"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// Disposition records how a delivery ended.
type Disposition string

const (
	DispositionCompleted Disposition = "completed"
	DispositionFailed    Disposition = "failed"
)

// HistoryEntry is one finished delivery retained for observability.
type HistoryEntry struct {
	Task        Task        `json:"task"`
	Disposition Disposition `json:"disposition"`
	FinishedAt  time.Time   `json:"finished_at"`
	Error       string      `json:"error,omitempty"`
}

// Queue is the work queue contract consumed by the upload path and the worker
// pool. Implementations: MemoryQueue (tests, local) and RedisQueue (durable).
type Queue interface {
	// AddJob enqueues a job id. Duplicate enqueues for a job id that is still
	// pending or in flight collapse into the existing delivery; the returned
	// queue job id identifies the delivery.
	AddJob(ctx context.Context, jobID string, opts AddOptions) (string, error)

	// Reserve blocks until a task is available or ctx is done.
	Reserve(ctx context.Context) (*Task, error)

	// Ack finishes a delivery, records it in the bounded history, and releases
	// the dedup key so the job id may be enqueued again.
	Ack(ctx context.Context, task *Task, d Disposition, taskErr error) error

	// Retry re-delivers a task after the given delay with the attempt number
	// incremented. The dedup key stays held.
	Retry(ctx context.Context, task *Task, delay time.Duration) error

	// PendingCount reports tasks waiting for a worker, including delayed ones.
	PendingCount(ctx context.Context) (int64, error)

	// ProcessingCount reports tasks currently held by workers.
	ProcessingCount(ctx context.Context) (int64, error)

	Close() error
}
