// Package queue implements the priority job queue described in
// spec.md §4.3: a Redis sorted-set index ordering jobs by priority
// rank then by enqueue time, a bounded worker pool, retry with
// exponential backoff, and stalled-job recovery via a reaper that
// watches per-job heartbeats. Adapted from the teacher's
// agent/persistence.RedisTaskStore indexing idiom, with the worker
// pool and retry policy grounded on llm/retry.backoff.go.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/reqforge/reqpipe/internal/perr"
	"github.com/reqforge/reqpipe/store"
)

// Package-level collectors, registered once at process start (promauto
// panics on duplicate registration, so these must not live on Queue
// itself — tests construct many *Queue values against one process).
var (
	jobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reqpipe",
		Subsystem: "queue",
		Name:      "jobs_total",
		Help:      "Total number of jobs reaching a terminal or retry outcome, by outcome.",
	}, []string{"outcome"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "reqpipe",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current job count per queue state, sampled on GetQueueStats.",
	}, []string{"state"})
)

const (
	defaultKeyPrefix    = "reqpipe:"
	queueName           = "requirement-processing"
	stallThreshold      = 45 * time.Second
	heartbeatInterval   = 15 * time.Second
	reaperSweepInterval = 30 * time.Second
)

// Config tunes Queue's concurrency and Redis connection.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	Concurrency   int64
	Retry         RetryPolicy
}

// DefaultConfig returns sane defaults: five concurrent workers and
// spec.md §4.3's default retry policy.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:   defaultKeyPrefix,
		Concurrency: 5,
		Retry:       DefaultRetryPolicy(),
	}
}

// Queue is the priority job queue. It may be backed by any
// *redis.Client, including github.com/alicebob/miniredis/v2 in tests.
type Queue struct {
	client    *redis.Client
	keyPrefix string
	sem       *semaphore.Weighted
	retry     RetryPolicy
	logger    *zap.Logger
	processor Processor

	cancel context.CancelFunc
}

// New wires a Queue around an existing *redis.Client so callers (and
// tests) control its lifecycle and can point it at miniredis.
func New(client *redis.Client, config Config, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Queue{
		client:    client,
		keyPrefix: prefix + "queue:" + queueName + ":",
		sem:       semaphore.NewWeighted(concurrency),
		retry:     config.Retry,
		logger:    logger.With(zap.String("component", "queue")),
	}
}

func (q *Queue) priorityKey() string      { return q.keyPrefix + "priority" }
func (q *Queue) jobKey(id string) string  { return q.keyPrefix + "job:" + id }
func (q *Queue) activeKey() string        { return q.keyPrefix + "active" }
func (q *Queue) completedKey() string     { return q.keyPrefix + "completed" }
func (q *Queue) failedKey() string        { return q.keyPrefix + "failed" }
func (q *Queue) delayedKey() string       { return q.keyPrefix + "delayed" }
func (q *Queue) lockKey(id string) string { return q.keyPrefix + "lock:" + id }

// score packs a job's priority rank and enqueue time into a single
// float64 so ZRANGE yields priority order, then FIFO order within a
// priority, in one pass (spec.md §4.3).
func score(rank int, enqueuedAt time.Time) float64 {
	return float64(rank)*1e15 + float64(enqueuedAt.UnixNano()%int64(1e15))
}

// AddTask enqueues taskID at the given priority. It is idempotent: if
// a job already exists for taskID, its existing job ID is returned
// rather than creating a duplicate entry, satisfying the TaskStore's
// "job ID equals task ID" invariant (spec.md §4.3, §3 invariant iii).
//
// A held lock only blocks re-enqueue while the prior job is genuinely
// in flight. If the prior job already reached a terminal state
// (completed/failed) — the case when Requeue calls back in before
// CleanQueue's grace-period sweep clears its bookkeeping — the stale
// lock and terminal-index entry are cleared here so the retry isn't
// silently dropped.
// This also implements the store.Enqueuer interface.
func (q *Queue) AddTask(ctx context.Context, taskID string, priority store.TaskPriority) (string, error) {
	jobID := taskID
	set, err := q.client.SetNX(ctx, q.lockKey(jobID), "1", 0).Result()
	if err != nil {
		return "", perr.Wrap(err)
	}
	if !set {
		reclaimed, err := q.reclaimTerminalLock(ctx, jobID)
		if err != nil {
			return "", err
		}
		if !reclaimed {
			return jobID, nil
		}
	}

	now := time.Now()
	record := JobRecord{
		TaskID:     taskID,
		Priority:   priority.Rank(),
		Status:     JobWaiting,
		MaxRetries: q.retry.MaxRetries,
		EnqueuedAt: now,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", perr.Wrap(err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(jobID), data, 0)
	pipe.ZAdd(ctx, q.priorityKey(), redis.Z{Score: score(priority.Rank(), now), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", perr.Wrap(err)
	}
	return jobID, nil
}

// reclaimTerminalLock is called when AddTask finds jobID's lock
// already held. It reports whether the lock belonged to a job that
// had already reached a terminal status, in which case it clears the
// lock and the job's terminal-index membership so the caller's
// in-progress AddTask can create a fresh job record instead of
// silently returning the stale jobID.
func (q *Queue) reclaimTerminalLock(ctx context.Context, jobID string) (bool, error) {
	record, err := q.getRecord(ctx, jobID)
	if err != nil || !record.Status.IsTerminal() {
		return false, nil
	}

	pipe := q.client.TxPipeline()
	pipe.Del(ctx, q.lockKey(jobID))
	pipe.ZRem(ctx, q.completedKey(), jobID)
	pipe.ZRem(ctx, q.failedKey(), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, perr.Wrap(err)
	}

	set, err := q.client.SetNX(ctx, q.lockKey(jobID), "1", 0).Result()
	if err != nil {
		return false, perr.Wrap(err)
	}
	return set, nil
}

// RegisterProcessor sets the function each worker invokes for a
// dequeued job. Must be called before Start.
func (q *Queue) RegisterProcessor(p Processor) {
	q.processor = p
}

// Start launches the bounded worker pool, the stalled-job reaper, and
// returns once ctx is cancelled (or Stop is called).
func (q *Queue) Start(ctx context.Context) error {
	if q.processor == nil {
		return perr.New(perr.CodeConfig, "queue: no processor registered")
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	go q.reaperLoop(runCtx)
	go q.dispatchLoop(runCtx)

	<-runCtx.Done()
	return nil
}

// Stop signals the worker pool and reaper to exit.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
}

func (q *Queue) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.dispatchAvailable(ctx)
		}
	}
}

func (q *Queue) dispatchAvailable(ctx context.Context) {
	for q.sem.TryAcquire(1) {
		jobID, ok := q.popNext(ctx)
		if !ok {
			q.sem.Release(1)
			return
		}
		go func(id string) {
			defer q.sem.Release(1)
			q.runJob(ctx, id)
		}(jobID)
	}
}

// popNext atomically takes the lowest-scored (highest priority,
// earliest) member off the priority index.
func (q *Queue) popNext(ctx context.Context) (string, bool) {
	res, err := q.client.ZPopMin(ctx, q.priorityKey(), 1).Result()
	if err != nil || len(res) == 0 {
		return "", false
	}
	return fmt.Sprintf("%v", res[0].Member), true
}

func (q *Queue) runJob(ctx context.Context, jobID string) {
	record, err := q.getRecord(ctx, jobID)
	if err != nil {
		q.logger.Error("job record missing on dequeue", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	record.Status = JobActive
	record.Attempts++
	record.StartedAt = time.Now()
	record.Heartbeat = time.Now()
	q.saveRecord(ctx, jobID, record)
	q.client.ZAdd(ctx, q.activeKey(), redis.Z{Score: float64(time.Now().Unix()), Member: jobID})

	stop := q.startHeartbeat(ctx, jobID)
	err = q.processor(ctx, record.TaskID)
	stop()

	q.client.ZRem(ctx, q.activeKey(), jobID)

	if err == nil {
		record.Status = JobCompleted
		record.LastError = ""
		q.saveRecord(ctx, jobID, record)
		q.client.ZAdd(ctx, q.completedKey(), redis.Z{Score: float64(time.Now().Unix()), Member: jobID})
		jobsProcessedTotal.WithLabelValues("completed").Inc()
		return
	}

	record.LastError = err.Error()
	if !perr.IsRetryable(err) || record.Attempts >= record.MaxRetries {
		record.Status = JobFailed
		q.saveRecord(ctx, jobID, record)
		q.client.ZAdd(ctx, q.failedKey(), redis.Z{Score: float64(time.Now().Unix()), Member: jobID})
		q.logger.Warn("job failed permanently", zap.String("job_id", jobID), zap.Int("attempts", record.Attempts), zap.Error(err))
		jobsProcessedTotal.WithLabelValues("failed").Inc()
		return
	}

	record.Status = JobDelayed
	q.saveRecord(ctx, jobID, record)
	jobsProcessedTotal.WithLabelValues("retried").Inc()
	delay := q.retry.delayFor(record.Attempts)
	q.logger.Info("job scheduled for retry", zap.String("job_id", jobID), zap.Int("attempt", record.Attempts), zap.Duration("delay", delay))
	q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(time.Now().Add(delay).Unix()), Member: jobID})
	time.AfterFunc(delay, func() {
		requeueCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		q.client.ZRem(requeueCtx, q.delayedKey(), jobID)
		q.client.ZAdd(requeueCtx, q.priorityKey(), redis.Z{
			Score:  score(record.Priority, time.Now()),
			Member: jobID,
		})
	})
}

func (q *Queue) startHeartbeat(ctx context.Context, jobID string) (stop func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				record, err := q.getRecord(hbCtx, jobID)
				if err != nil {
					return
				}
				record.Heartbeat = time.Now()
				q.saveRecord(hbCtx, jobID, record)
			}
		}
	}()
	return cancel
}

// reaperLoop requeues jobs whose heartbeat has gone stale, recovering
// from worker crashes (spec.md §4.3's stalled-job recovery).
func (q *Queue) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(reaperSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.reapStalled(ctx)
		}
	}
}

func (q *Queue) reapStalled(ctx context.Context) {
	ids, err := q.client.ZRange(ctx, q.activeKey(), 0, -1).Result()
	if err != nil {
		return
	}
	for _, jobID := range ids {
		record, err := q.getRecord(ctx, jobID)
		if err != nil {
			continue
		}
		if time.Since(record.Heartbeat) <= stallThreshold {
			continue
		}
		q.logger.Warn("recovering stalled job", zap.String("job_id", jobID))
		q.client.ZRem(ctx, q.activeKey(), jobID)
		if record.Attempts >= record.MaxRetries {
			record.Status = JobFailed
			record.LastError = "stalled: worker heartbeat lost"
			q.saveRecord(ctx, jobID, record)
			q.client.ZAdd(ctx, q.failedKey(), redis.Z{Score: float64(time.Now().Unix()), Member: jobID})
			continue
		}
		record.Status = JobWaiting
		q.saveRecord(ctx, jobID, record)
		q.client.ZAdd(ctx, q.priorityKey(), redis.Z{Score: score(record.Priority, time.Now()), Member: jobID})
	}
}

func (q *Queue) getRecord(ctx context.Context, jobID string) (JobRecord, error) {
	data, err := q.client.Get(ctx, q.jobKey(jobID)).Bytes()
	if err != nil {
		return JobRecord{}, perr.Wrap(err)
	}
	var record JobRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return JobRecord{}, perr.Wrap(err)
	}
	return record, nil
}

func (q *Queue) saveRecord(ctx context.Context, jobID string, record JobRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		q.logger.Error("failed to marshal job record", zap.Error(err))
		return
	}
	if err := q.client.Set(ctx, q.jobKey(jobID), data, 0).Err(); err != nil {
		q.logger.Error("failed to persist job record", zap.String("job_id", jobID), zap.Error(err))
	}
}

// GetJobStatus returns the current JobRecord for a task's job.
func (q *Queue) GetJobStatus(ctx context.Context, taskID string) (*JobRecord, error) {
	record, err := q.getRecord(ctx, taskID)
	if err != nil {
		if err == redis.Nil {
			return nil, perr.New(perr.CodeNotFound, "job not found")
		}
		return nil, err
	}
	return &record, nil
}

// GetQueueStats reports the shape spec.md §6's queue/stats endpoint
// wants, counted directly from the Redis indexes.
func (q *Queue) GetQueueStats(ctx context.Context) (store.QueueStats, error) {
	waiting, err := q.client.ZCard(ctx, q.priorityKey()).Result()
	if err != nil {
		return store.QueueStats{}, perr.Wrap(err)
	}
	active, err := q.client.ZCard(ctx, q.activeKey()).Result()
	if err != nil {
		return store.QueueStats{}, perr.Wrap(err)
	}
	completed, err := q.client.ZCard(ctx, q.completedKey()).Result()
	if err != nil {
		return store.QueueStats{}, perr.Wrap(err)
	}
	failed, err := q.client.ZCard(ctx, q.failedKey()).Result()
	if err != nil {
		return store.QueueStats{}, perr.Wrap(err)
	}
	delayed, err := q.client.ZCard(ctx, q.delayedKey()).Result()
	if err != nil {
		return store.QueueStats{}, perr.Wrap(err)
	}
	queueDepth.WithLabelValues("waiting").Set(float64(waiting))
	queueDepth.WithLabelValues("active").Set(float64(active))
	queueDepth.WithLabelValues("completed").Set(float64(completed))
	queueDepth.WithLabelValues("failed").Set(float64(failed))
	queueDepth.WithLabelValues("delayed").Set(float64(delayed))

	return store.QueueStats{
		Waiting:   waiting,
		Active:    active,
		Completed: completed,
		Failed:    failed,
		Delayed:   delayed,
		Total:     waiting + active + completed + failed + delayed,
		Timestamp: time.Now(),
	}, nil
}

// CleanQueue removes completed/failed job bookkeeping older than
// olderThan, per spec.md §6's clean-queue operation. It returns the
// total number of jobs removed across the indexes named by statuses.
func (q *Queue) CleanQueue(ctx context.Context, statuses []JobStatus, olderThan time.Duration) (int64, error) {
	cutoff := float64(time.Now().Add(-olderThan).Unix())
	var removed int64
	for _, status := range statuses {
		var key string
		switch status {
		case JobCompleted:
			key = q.completedKey()
		case JobFailed:
			key = q.failedKey()
		default:
			continue
		}
		ids, err := q.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", cutoff)}).Result()
		if err != nil {
			return removed, perr.Wrap(err)
		}
		if len(ids) == 0 {
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, key, toInterfaceSlice(ids)...)
		for _, id := range ids {
			pipe.Del(ctx, q.jobKey(id))
			pipe.Del(ctx, q.lockKey(id))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, perr.Wrap(err)
		}
		removed += int64(len(ids))
	}
	return removed, nil
}

func toInterfaceSlice(ids []string) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// NewRedisClient builds a *redis.Client from Config, for callers that
// don't already own one (e.g. cmd/reqpiped).
func NewRedisClient(config Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})
}

var _ store.Enqueuer = (*Queue)(nil)

// newJobID is kept for callers that want a detached job identifier
// distinct from the task ID (none currently do, per spec.md §4.3's
// "job ID equals task ID" simplification) but is retained so future
// multi-job-per-task extensions (e.g. retries-as-new-jobs) have a
// ready escape hatch.
func newJobID() string { return uuid.New().String() }
