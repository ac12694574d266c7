// Package worker runs the fixed-size pool that pulls queued jobs and drives
// them through the processing pipeline with bounded retries.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pixelpress/pixelpress/internal/config"
	"github.com/pixelpress/pixelpress/internal/domain"
	"github.com/pixelpress/pixelpress/internal/logger"
	"github.com/pixelpress/pixelpress/internal/metrics"
	"github.com/pixelpress/pixelpress/internal/queue"
	"github.com/pixelpress/pixelpress/internal/repository"
	"github.com/pixelpress/pixelpress/internal/service"
)

// sweepBatchSize caps how many stale jobs one sweep tick re-enqueues.
const sweepBatchSize = 100

// Pool is a fixed-size set of workers consuming the job queue.
type Pool struct {
	queue    queue.Queue
	repo     repository.JobRepository
	pipeline *service.PipelineService
	cfg      *config.WorkerConfig

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool creates a worker pool. Concurrency below 1 falls back to 3.
func NewPool(q queue.Queue, repo repository.JobRepository, pipeline *service.PipelineService, cfg *config.WorkerConfig) *Pool {
	return &Pool{
		queue:    q,
		repo:     repo,
		pipeline: pipeline,
		cfg:      cfg,
	}
}

// Start launches the worker goroutines and the pending sweep. It returns
// immediately; call Stop to drain.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	concurrency := p.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 3
	}

	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go func(n int) {
			defer p.wg.Done()
			p.run(logger.WithField(ctx, "worker", n))
		}(i)
	}

	if p.cfg.SweepInterval > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.sweep(ctx)
		}()
	}

	logger.CtxInfo(ctx, "Worker pool started with %d workers", concurrency)
}

// Stop cancels the pull loops and waits for in-flight executions up to the
// shutdown deadline.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}

	deadline := p.cfg.ShutdownTimeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Worker pool drained")
	case <-time.After(deadline):
		logger.Warn("Worker pool shutdown deadline reached, abandoning in-flight work")
	}
}

// run is one worker's pull loop.
func (p *Pool) run(ctx context.Context) {
	for {
		task, err := p.queue.Reserve(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.CtxError(ctx, "Failed to reserve task: %v", err)
			time.Sleep(time.Second)
			continue
		}
		// The reserved task finishes even when shutdown starts mid-run;
		// Stop waits via the pool's WaitGroup.
		p.handle(context.WithoutCancel(ctx), task)
	}
}

// handle runs one delivery to completion, retry, or failure.
func (p *Pool) handle(ctx context.Context, task *queue.Task) {
	ctx = logger.SetJobID(ctx, task.JobID)
	ctx = logger.SetAttempt(ctx, task.Attempt)
	started := time.Now()

	maxAttempts := task.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = p.cfg.MaxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	result, err := p.pipeline.Execute(ctx, task.JobID, task.RunAIAnalysis, task.Attempt, maxAttempts)
	if err == nil {
		outcome := "completed"
		if result.Skipped {
			outcome = "skipped"
		}
		metrics.RecordJobProcessed(outcome, time.Since(started))
		if err := p.queue.Ack(ctx, task, queue.DispositionCompleted, nil); err != nil {
			logger.CtxError(ctx, "Failed to ack task: %v", err)
		}
		return
	}

	if domain.IsRecoverable(err) && task.Attempt < maxAttempts {
		delay := p.retryDelay(task.Attempt)
		logger.CtxWarn(ctx, "Attempt %d/%d failed, retrying in %s: %v", task.Attempt, maxAttempts, delay, err)
		metrics.RecordRetryAttempt()
		if rerr := p.queue.Retry(ctx, task, delay); rerr != nil {
			logger.CtxError(ctx, "Failed to schedule retry: %v", rerr)
			p.finishFailed(ctx, task, err)
		}
		return
	}

	// Out of attempts, or fatal. Fatal errors were already stamped FAILED by
	// the pipeline; exhausted recoverable ones are stamped here.
	if domain.IsRecoverable(err) {
		if _, uerr := p.repo.UpdateStatus(ctx, task.JobID, domain.StatusFailed, err.Error()); uerr != nil {
			logger.CtxError(ctx, "Failed to mark job as failed: %v", uerr)
		}
	}
	p.finishFailed(ctx, task, err)
	metrics.RecordJobProcessed("failed", time.Since(started))
	logger.CtxError(ctx, "Job failed after %d attempt(s): %v", task.Attempt, err)
}

func (p *Pool) finishFailed(ctx context.Context, task *queue.Task, cause error) {
	if err := p.queue.Ack(ctx, task, queue.DispositionFailed, cause); err != nil {
		logger.CtxError(ctx, "Failed to ack failed task: %v", err)
	}
}

// retryDelay computes the exponential backoff delay for the given 1-based
// attempt number.
func (p *Pool) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	if p.cfg.BackoffInitial > 0 {
		b.InitialInterval = p.cfg.BackoffInitial
	}
	if p.cfg.BackoffMax > 0 {
		b.MaxInterval = p.cfg.BackoffMax
	}
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// sweep periodically re-enqueues PENDING/QUEUED jobs that sat untouched
// longer than the minimum age. This is the fallback trigger for jobs whose
// original enqueue was lost, e.g. when the queue backend was down at upload
// time. Duplicate enqueues collapse on the queue's dedup key.
func (p *Pool) sweep(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepOnce(ctx)
		}
	}
}

func (p *Pool) sweepOnce(ctx context.Context) {
	jobs, err := p.repo.FindPending(ctx, sweepBatchSize)
	if err != nil {
		logger.CtxError(ctx, "Pending sweep failed: %v", err)
		return
	}

	minAge := p.cfg.SweepMinAge
	if minAge <= 0 {
		minAge = 2 * time.Minute
	}

	requeued := 0
	for i := range jobs {
		job := &jobs[i]
		if time.Since(job.UpdatedAt) < minAge {
			continue
		}
		if _, err := p.queue.AddJob(ctx, job.ID, queue.AddOptions{RunAIAnalysis: job.RunAIAnalysis}); err != nil {
			logger.CtxWarn(ctx, "Sweep failed to re-enqueue job %s: %v", job.ID, err)
			continue
		}
		requeued++
	}
	if requeued > 0 {
		logger.With(logger.Fields{logger.FieldCount: requeued}).Info(ctx, "Pending sweep re-enqueued stale jobs")
	}

	pending, err := p.queue.PendingCount(ctx)
	if err != nil {
		return
	}
	processing, err := p.queue.ProcessingCount(ctx)
	if err != nil {
		return
	}
	metrics.SetQueueDepth(pending, processing)
}
