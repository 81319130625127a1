// Package queue implements a durable job queue on top of the store.
// Jobs survive restarts: repeating definitions live in one table and
// each run is a row claimed atomically through the single write
// connection, so concurrent workers never double-claim.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/varunahq/varuna/internal/storage"
)

const (
	// keepCompleted and keepFailed bound queue table growth; pruning
	// runs after every completion or terminal failure.
	keepCompleted = 100
	keepFailed    = 500

	// DefaultMaxRetries allows one retry after the first failed run.
	DefaultMaxRetries = 1

	// DefaultLeaseTimeout is how long a claimed job may run before a
	// crashed worker's claim is returned to pending.
	DefaultLeaseTimeout = 2 * time.Minute
)

// Queue schedules and hands out check jobs backed by durable storage.
type Queue struct {
	store      storage.Store
	maxRetries int
	logger     *slog.Logger
}

func New(store storage.Store, maxRetries int, logger *slog.Logger) *Queue {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Queue{store: store, maxRetries: maxRetries, logger: logger}
}

// MonitorKey names the repeating job for one monitor.
func MonitorKey(monitorID int64) string {
	return fmt.Sprintf("monitor-%d", monitorID)
}

// AddRepeating registers a repeating job and enqueues its first run
// immediately. Re-registering an existing key updates the interval
// without enqueueing a duplicate instance.
func (q *Queue) AddRepeating(ctx context.Context, monitorID int64, every time.Duration) error {
	key := MonitorKey(monitorID)
	now := time.Now().UTC()

	existing, err := q.store.GetRepeatingJob(ctx, key)
	if err != nil {
		return fmt.Errorf("get repeating job: %w", err)
	}

	if err := q.store.UpsertRepeatingJob(ctx, &storage.RepeatingJob{
		Key:       key,
		MonitorID: monitorID,
		EveryMS:   every.Milliseconds(),
	}); err != nil {
		return fmt.Errorf("upsert repeating job: %w", err)
	}

	if existing != nil {
		return nil
	}

	return q.enqueue(ctx, key, monitorID, every, now)
}

func (q *Queue) enqueue(ctx context.Context, key string, monitorID int64, every time.Duration, runAt time.Time) error {
	job := &storage.QueueJob{
		ID:          uuid.NewString(),
		Key:         key,
		MonitorID:   monitorID,
		State:       storage.JobPending,
		RunAt:       runAt,
		MaxAttempts: 1 + q.maxRetries,
		EveryMS:     every.Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := q.store.InsertQueueJob(ctx, job); err != nil {
		return fmt.Errorf("insert queue job: %w", err)
	}
	return nil
}

// RemoveAll deletes every repeating definition and drains pending
// instances. Claimed jobs finish their current run; their next
// instance is not scheduled because the definition is gone.
func (q *Queue) RemoveAll(ctx context.Context) error {
	if err := q.store.DeleteRepeatingJobs(ctx); err != nil {
		return fmt.Errorf("delete repeating jobs: %w", err)
	}
	n, err := q.store.DeletePendingQueueJobs(ctx)
	if err != nil {
		return fmt.Errorf("drain pending jobs: %w", err)
	}
	if n > 0 {
		q.logger.Info("drained pending jobs", slog.Int64("count", n))
	}
	return nil
}

// Claim atomically takes the oldest due pending job, or returns nil
// when none is due.
func (q *Queue) Claim(ctx context.Context) (*storage.QueueJob, error) {
	return q.store.ClaimQueueJob(ctx, time.Now().UTC())
}

// Release puts a claimed job back to pending without counting the
// attempt, for shutdown while a claim is held but unstarted.
func (q *Queue) Release(ctx context.Context, job *storage.QueueJob) error {
	return q.store.ReleaseQueueJob(ctx, job.ID)
}

// Complete marks the job done, prunes old completed rows, and
// schedules the next instance of its repeating definition.
func (q *Queue) Complete(ctx context.Context, job *storage.QueueJob) error {
	if err := q.store.CompleteQueueJob(ctx, job.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if _, err := q.store.PruneQueueJobs(ctx, storage.JobCompleted, keepCompleted); err != nil {
		q.logger.Warn("queue prune failed", slog.String("state", storage.JobCompleted), slog.Any("error", err))
	}
	return q.scheduleNext(ctx, job)
}

// Fail records a failed run. The job retries until its attempt budget
// is spent, then goes terminal and the next repeat is scheduled anyway
// so one bad run never stalls a monitor.
func (q *Queue) Fail(ctx context.Context, job *storage.QueueJob, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	now := time.Now().UTC()
	if job.Attempts < job.MaxAttempts {
		retryAt := now.Add(retryBackoff(job.Attempts))
		if err := q.store.FailQueueJob(ctx, job.ID, msg, &retryAt, now); err != nil {
			return fmt.Errorf("retry job: %w", err)
		}
		q.logger.Warn("job retry scheduled",
			slog.String("job_id", job.ID),
			slog.String("key", job.Key),
			slog.Int("attempt", job.Attempts),
			slog.Time("retry_at", retryAt))
		return nil
	}

	if err := q.store.FailQueueJob(ctx, job.ID, msg, nil, now); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if _, err := q.store.PruneQueueJobs(ctx, storage.JobFailed, keepFailed); err != nil {
		q.logger.Warn("queue prune failed", slog.String("state", storage.JobFailed), slog.Any("error", err))
	}
	q.logger.Error("job failed terminally",
		slog.String("job_id", job.ID),
		slog.String("key", job.Key),
		slog.Int("attempts", job.Attempts),
		slog.String("error", msg))
	return q.scheduleNext(ctx, job)
}

func retryBackoff(attempt int) time.Duration {
	d := time.Duration(attempt) * 5 * time.Second
	if d < 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

// scheduleNext enqueues the next run of the job's repeating
// definition at a fixed rate anchored to the previous run_at, so a
// slow probe or claim latency never stretches the cadence. Missed
// slots collapse into the most recent one instead of bursting.
func (q *Queue) scheduleNext(ctx context.Context, job *storage.QueueJob) error {
	def, err := q.store.GetRepeatingJob(ctx, job.Key)
	if err != nil {
		return fmt.Errorf("get repeating job: %w", err)
	}
	if def == nil {
		// Definition was removed by a reload; the series ends here.
		return nil
	}
	every := time.Duration(def.EveryMS) * time.Millisecond
	next := job.RunAt.Add(every)
	if now := time.Now().UTC(); !next.After(now) {
		missed := int64(now.Sub(job.RunAt) / every)
		next = job.RunAt.Add(time.Duration(missed) * every)
	}
	return q.enqueue(ctx, def.Key, def.MonitorID, every, next)
}

// ReclaimStale returns jobs claimed longer than lease ago to pending,
// covering workers that died mid-run.
func (q *Queue) ReclaimStale(ctx context.Context, lease time.Duration) (int64, error) {
	if lease <= 0 {
		lease = DefaultLeaseTimeout
	}
	cutoff := time.Now().UTC().Add(-lease)
	n, err := q.store.ReclaimStaleQueueJobs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	if n > 0 {
		q.logger.Warn("reclaimed stale jobs", slog.Int64("count", n))
	}
	return n, nil
}

// Depth reports per-state job counts for introspection.
func (q *Queue) Depth(ctx context.Context) (*storage.QueueDepth, error) {
	return q.store.GetQueueDepth(ctx)
}
