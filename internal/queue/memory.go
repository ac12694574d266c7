package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a channel-backed Queue for tests and single-process use.
// Priority ordering is not implemented; deliveries are FIFO.
type MemoryQueue struct {
	tasks chan *Task

	mu           sync.Mutex
	inFlight     map[string]string // jobID -> queue job id (dedup)
	processing   int64
	history      []HistoryEntry
	historyLimit int
	maxAttempts  int
	timers       map[string]*time.Timer
	closed       bool
}

// NewMemoryQueue creates an in-memory queue retaining up to historyLimit
// finished deliveries. maxAttempts is stamped on every task so workers know
// the retry ceiling.
func NewMemoryQueue(historyLimit, maxAttempts int) *MemoryQueue {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &MemoryQueue{
		tasks:        make(chan *Task, 1024),
		inFlight:     make(map[string]string),
		historyLimit: historyLimit,
		maxAttempts:  maxAttempts,
		timers:       make(map[string]*time.Timer),
	}
}

// AddJob enqueues a job id, collapsing duplicates.
func (q *MemoryQueue) AddJob(ctx context.Context, jobID string, opts AddOptions) (string, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", fmt.Errorf("queue is closed")
	}
	if existing, ok := q.inFlight[jobID]; ok {
		q.mu.Unlock()
		return existing, nil
	}

	task := &Task{
		ID:            uuid.New().String(),
		JobID:         jobID,
		RunAIAnalysis: opts.RunAIAnalysis,
		Attempt:       1,
		MaxAttempts:   q.maxAttempts,
		EnqueuedAt:    time.Now(),
	}
	q.inFlight[jobID] = task.ID
	q.mu.Unlock()

	q.deliver(task, opts.Delay)
	return task.ID, nil
}

// deliver pushes a task now or after a delay.
func (q *MemoryQueue) deliver(task *Task, delay time.Duration) {
	if delay <= 0 {
		q.push(task)
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.timers[task.ID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, task.ID)
		closed := q.closed
		q.mu.Unlock()
		if !closed {
			q.push(task)
		}
	})
	q.mu.Unlock()
}

func (q *MemoryQueue) push(task *Task) {
	defer func() {
		// Sending on a closed channel after Close is survivable: the task is
		// dropped, the job record itself is never lost.
		_ = recover()
	}()
	q.tasks <- task
}

// Reserve blocks for the next task.
func (q *MemoryQueue) Reserve(ctx context.Context) (*Task, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case task, ok := <-q.tasks:
		if !ok {
			return nil, fmt.Errorf("queue is closed")
		}
		q.mu.Lock()
		q.processing++
		q.mu.Unlock()
		return task, nil
	}
}

// Ack finishes a delivery and releases the dedup key.
func (q *MemoryQueue) Ack(ctx context.Context, task *Task, d Disposition, taskErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.processing--
	delete(q.inFlight, task.JobID)

	entry := HistoryEntry{Task: *task, Disposition: d, FinishedAt: time.Now()}
	if taskErr != nil {
		entry.Error = taskErr.Error()
	}
	q.history = append(q.history, entry)
	if len(q.history) > q.historyLimit {
		q.history = q.history[len(q.history)-q.historyLimit:]
	}
	return nil
}

// Retry re-delivers with the attempt incremented; the dedup key stays held.
func (q *MemoryQueue) Retry(ctx context.Context, task *Task, delay time.Duration) error {
	q.mu.Lock()
	q.processing--
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return fmt.Errorf("queue is closed")
	}

	next := *task
	next.Attempt++
	q.deliver(&next, delay)
	return nil
}

// PendingCount reports buffered plus delayed tasks.
func (q *MemoryQueue) PendingCount(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.tasks) + len(q.timers)), nil
}

// ProcessingCount reports tasks held by workers.
func (q *MemoryQueue) ProcessingCount(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing, nil
}

// History returns a copy of the retained finished deliveries.
func (q *MemoryQueue) History() []HistoryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]HistoryEntry(nil), q.history...)
}

// Close stops delayed timers and closes the task channel.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()

	close(q.tasks)
	return nil
}
