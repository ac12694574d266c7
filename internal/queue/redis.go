package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pixelpress/pixelpress/internal/config"
)

// Redis key layout. All keys live under one prefix so multiple pipelines can
// share an instance.
const (
	keyPending    = "pending"    // LIST of task JSON, LPUSH / BRPOPLPUSH order
	keyPriority   = "priority"   // LIST of task JSON, drained before pending
	keyDelayed    = "delayed"    // ZSET task JSON scored by delivery unix ms
	keyProcessing = "processing" // LIST of task JSON held by workers
	keyLeases     = "leases"     // ZSET task JSON scored by reservation unix ms
	keyHistory    = "history"    // LIST of finished HistoryEntry JSON, bounded
	keyDedup      = "dedup:"     // dedup:<jobID> -> queue job id
)

// dedupTTL caps how long a crashed worker can hold a job's dedup key.
const dedupTTL = 30 * time.Minute

// reservePoll bounds each blocking pop so delayed tasks get promoted.
const reservePoll = 2 * time.Second

// RedisQueue is the durable Queue backed by Redis lists and a sorted set for
// delayed deliveries. Every reservation takes a lease; leases older than the
// visibility timeout are reclaimed onto the pending list so a worker crash
// cannot strand a delivery.
type RedisQueue struct {
	client       *redis.Client
	prefix       string
	historyLimit int64
	maxAttempts  int
	visibility   time.Duration
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(ctx context.Context, cfg *config.QueueConfig, maxAttempts int) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPass,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  reservePoll + 3*time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	prefix := cfg.Name
	if prefix == "" {
		prefix = "pixelpress:queue"
	}
	historyLimit := int64(cfg.HistoryLimit)
	if historyLimit <= 0 {
		historyLimit = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	visibility := cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = 10 * time.Minute
	}

	return &RedisQueue{
		client:       client,
		prefix:       prefix,
		historyLimit: historyLimit,
		maxAttempts:  maxAttempts,
		visibility:   visibility,
	}, nil
}

func (q *RedisQueue) key(suffix string) string {
	return q.prefix + ":" + suffix
}

func (q *RedisQueue) dedupKey(jobID string) string {
	return q.key(keyDedup + jobID)
}

// AddJob enqueues a job id, collapsing duplicates via a SETNX dedup key.
func (q *RedisQueue) AddJob(ctx context.Context, jobID string, opts AddOptions) (string, error) {
	task := &Task{
		ID:            uuid.New().String(),
		JobID:         jobID,
		RunAIAnalysis: opts.RunAIAnalysis,
		Attempt:       1,
		MaxAttempts:   q.maxAttempts,
		EnqueuedAt:    time.Now(),
	}

	claimed, err := q.client.SetNX(ctx, q.dedupKey(jobID), task.ID, dedupTTL).Result()
	if err != nil {
		return "", fmt.Errorf("failed to claim dedup key for job %s: %w", jobID, err)
	}
	if !claimed {
		existing, err := q.client.Get(ctx, q.dedupKey(jobID)).Result()
		if err != nil && err != redis.Nil {
			return "", fmt.Errorf("failed to read dedup key for job %s: %w", jobID, err)
		}
		return existing, nil
	}

	if err := q.deliver(ctx, task, opts.Delay, opts.Priority); err != nil {
		q.client.Del(ctx, q.dedupKey(jobID))
		return "", err
	}
	return task.ID, nil
}

func (q *RedisQueue) deliver(ctx context.Context, task *Task, delay time.Duration, priority int) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}

	if delay > 0 {
		score := float64(time.Now().Add(delay).UnixMilli())
		if err := q.client.ZAdd(ctx, q.key(keyDelayed), redis.Z{Score: score, Member: payload}).Err(); err != nil {
			return fmt.Errorf("failed to schedule delayed task %s: %w", task.ID, err)
		}
		return nil
	}

	list := keyPending
	if priority > 0 {
		list = keyPriority
	}
	if err := q.client.LPush(ctx, q.key(list), payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
	}
	return nil
}

// promoteDelayed moves due entries from the delayed set onto the pending list.
func (q *RedisQueue) promoteDelayed(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	due, err := q.client.ZRangeByScore(ctx, q.key(keyDelayed), &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read delayed tasks: %w", err)
	}

	for _, payload := range due {
		removed, err := q.client.ZRem(ctx, q.key(keyDelayed), payload).Result()
		if err != nil {
			return fmt.Errorf("failed to remove delayed task: %w", err)
		}
		if removed == 0 {
			continue // another worker promoted it
		}
		if err := q.client.LPush(ctx, q.key(keyPending), payload).Err(); err != nil {
			return fmt.Errorf("failed to promote delayed task: %w", err)
		}
	}
	return nil
}

// reclaimExpired returns deliveries whose lease outlived the visibility
// timeout to the pending list. This is how a delivery survives a worker that
// died between Reserve and Ack.
func (q *RedisQueue) reclaimExpired(ctx context.Context) error {
	cutoff := fmt.Sprintf("%d", time.Now().Add(-q.visibility).UnixMilli())
	stale, err := q.client.ZRangeByScore(ctx, q.key(keyLeases), &redis.ZRangeBy{
		Min: "-inf", Max: cutoff, Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read expired leases: %w", err)
	}

	for _, payload := range stale {
		removed, err := q.client.ZRem(ctx, q.key(keyLeases), payload).Result()
		if err != nil {
			return fmt.Errorf("failed to release expired lease: %w", err)
		}
		if removed == 0 {
			continue // another worker reclaimed it
		}
		q.client.LRem(ctx, q.key(keyProcessing), 1, payload)
		if err := q.client.LPush(ctx, q.key(keyPending), payload).Err(); err != nil {
			return fmt.Errorf("failed to reclaim expired delivery: %w", err)
		}
	}
	return nil
}

// Reserve blocks until a task is available, promoting due delayed tasks and
// reclaiming expired leases between polls. Priority tasks are drained before
// normal ones.
func (q *RedisQueue) Reserve(ctx context.Context) (*Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := q.promoteDelayed(ctx); err != nil {
			return nil, err
		}
		if err := q.reclaimExpired(ctx); err != nil {
			return nil, err
		}

		payload, err := q.client.LMove(ctx, q.key(keyPriority), q.key(keyProcessing), "RIGHT", "LEFT").Result()
		if err == redis.Nil {
			payload, err = q.client.BLMove(ctx, q.key(keyPending), q.key(keyProcessing), "RIGHT", "LEFT", reservePoll).Result()
		}
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to reserve task: %w", err)
		}

		score := float64(time.Now().UnixMilli())
		if err := q.client.ZAdd(ctx, q.key(keyLeases), redis.Z{Score: score, Member: payload}).Err(); err != nil {
			return nil, fmt.Errorf("failed to lease reserved task: %w", err)
		}

		var task Task
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			// Poison payload: drop it rather than wedge the queue.
			q.client.LRem(ctx, q.key(keyProcessing), 1, payload)
			q.client.ZRem(ctx, q.key(keyLeases), payload)
			continue
		}
		return &task, nil
	}
}

// Ack removes the delivery from the processing list, records it in the
// bounded history, and releases the dedup key.
func (q *RedisQueue) Ack(ctx context.Context, task *Task, d Disposition, taskErr error) error {
	if err := q.removeProcessing(ctx, task); err != nil {
		return err
	}

	entry := HistoryEntry{Task: *task, Disposition: d, FinishedAt: time.Now()}
	if taskErr != nil {
		entry.Error = taskErr.Error()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry for task %s: %w", task.ID, err)
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.key(keyHistory), payload)
	pipe.LTrim(ctx, q.key(keyHistory), 0, q.historyLimit-1)
	pipe.Del(ctx, q.dedupKey(task.JobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack task %s: %w", task.ID, err)
	}
	return nil
}

// Retry re-schedules the task after delay with the attempt incremented. The
// dedup key stays held so duplicate uploads keep collapsing while the job is
// between attempts.
func (q *RedisQueue) Retry(ctx context.Context, task *Task, delay time.Duration) error {
	if err := q.removeProcessing(ctx, task); err != nil {
		return err
	}
	if err := q.client.Expire(ctx, q.dedupKey(task.JobID), dedupTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh dedup key for job %s: %w", task.JobID, err)
	}

	next := *task
	next.Attempt++
	return q.deliver(ctx, &next, delay, 0)
}

func (q *RedisQueue) removeProcessing(ctx context.Context, task *Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}
	if err := q.client.LRem(ctx, q.key(keyProcessing), 1, string(payload)).Err(); err != nil {
		return fmt.Errorf("failed to release task %s from processing: %w", task.ID, err)
	}
	if err := q.client.ZRem(ctx, q.key(keyLeases), string(payload)).Err(); err != nil {
		return fmt.Errorf("failed to release lease for task %s: %w", task.ID, err)
	}
	return nil
}

// PendingCount reports waiting plus delayed tasks.
func (q *RedisQueue) PendingCount(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, q.key(keyPending))
	priority := pipe.LLen(ctx, q.key(keyPriority))
	delayed := pipe.ZCard(ctx, q.key(keyDelayed))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to count pending tasks: %w", err)
	}
	return pending.Val() + priority.Val() + delayed.Val(), nil
}

// ProcessingCount reports tasks held by workers.
func (q *RedisQueue) ProcessingCount(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key(keyProcessing)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count processing tasks: %w", err)
	}
	return n, nil
}

// History returns up to limit most recent finished deliveries.
func (q *RedisQueue) History(ctx context.Context, limit int64) ([]HistoryEntry, error) {
	if limit <= 0 || limit > q.historyLimit {
		limit = q.historyLimit
	}
	raw, err := q.client.LRange(ctx, q.key(keyHistory), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue history: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(raw))
	for _, payload := range raw {
		var entry HistoryEntry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close releases the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
