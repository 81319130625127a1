package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *SQLiteStore) UpsertRepeatingJob(ctx context.Context, r *RepeatingJob) error {
	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO repeating_jobs (key, monitor_id, every_ms) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET monitor_id=excluded.monitor_id, every_ms=excluded.every_ms`,
		r.Key, r.MonitorID, r.EveryMS)
	return err
}

func (s *SQLiteStore) DeleteRepeatingJobs(ctx context.Context) error {
	_, err := s.writeDB.ExecContext(ctx, "DELETE FROM repeating_jobs")
	return err
}

func (s *SQLiteStore) GetRepeatingJob(ctx context.Context, key string) (*RepeatingJob, error) {
	var r RepeatingJob
	err := s.readDB.QueryRowContext(ctx,
		"SELECT key, monitor_id, every_ms FROM repeating_jobs WHERE key=?", key).
		Scan(&r.Key, &r.MonitorID, &r.EveryMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) ListRepeatingJobs(ctx context.Context) ([]*RepeatingJob, error) {
	rows, err := s.readDB.QueryContext(ctx,
		"SELECT key, monitor_id, every_ms FROM repeating_jobs ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*RepeatingJob
	for rows.Next() {
		var r RepeatingJob
		if err := rows.Scan(&r.Key, &r.MonitorID, &r.EveryMS); err != nil {
			return nil, err
		}
		jobs = append(jobs, &r)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) InsertQueueJob(ctx context.Context, j *QueueJob) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.State == "" {
		j.State = JobPending
	}
	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO queue_jobs (id, key, monitor_id, state, run_at, attempts, max_attempts, every_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Key, j.MonitorID, j.State, formatTime(j.RunAt), j.Attempts, j.MaxAttempts, j.EveryMS, formatTime(j.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert queue job: %w", err)
	}
	return nil
}

// ClaimQueueJob atomically claims the oldest due pending job. The
// single write connection guarantees exactly-at-most-one claim per
// attempt. Returns nil when nothing is due.
func (s *SQLiteStore) ClaimQueueJob(ctx context.Context, now time.Time) (*QueueJob, error) {
	nowStr := formatTime(now)
	row := s.writeDB.QueryRowContext(ctx,
		`UPDATE queue_jobs
		 SET state='claimed', claimed_at=?, attempts=attempts+1
		 WHERE id = (SELECT id FROM queue_jobs WHERE state='pending' AND run_at <= ?
		             ORDER BY run_at, created_at, id LIMIT 1)
		 RETURNING id, key, monitor_id, state, run_at, claimed_at, attempts, max_attempts, every_ms, last_error, created_at, finished_at`,
		nowStr, nowStr)
	j, err := scanQueueJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// ReleaseQueueJob puts a claimed job back to pending without counting
// the attempt, used when the worker pool has no room.
func (s *SQLiteStore) ReleaseQueueJob(ctx context.Context, id string) error {
	_, err := s.writeDB.ExecContext(ctx,
		`UPDATE queue_jobs SET state='pending', claimed_at=NULL, attempts=attempts-1
		 WHERE id=? AND state='claimed'`, id)
	return err
}

func (s *SQLiteStore) CompleteQueueJob(ctx context.Context, id string, at time.Time) error {
	_, err := s.writeDB.ExecContext(ctx,
		`UPDATE queue_jobs SET state='completed', finished_at=? WHERE id=?`,
		formatTime(at), id)
	return err
}

// FailQueueJob records a failed attempt. With retryAt set the job goes
// back to pending for another attempt; otherwise it is terminally
// failed.
func (s *SQLiteStore) FailQueueJob(ctx context.Context, id string, errMsg string, retryAt *time.Time, at time.Time) error {
	if retryAt != nil {
		_, err := s.writeDB.ExecContext(ctx,
			`UPDATE queue_jobs SET state='pending', claimed_at=NULL, run_at=?, last_error=? WHERE id=?`,
			formatTime(*retryAt), errMsg, id)
		return err
	}
	_, err := s.writeDB.ExecContext(ctx,
		`UPDATE queue_jobs SET state='failed', finished_at=?, last_error=? WHERE id=?`,
		formatTime(at), errMsg, id)
	return err
}

func (s *SQLiteStore) DeletePendingQueueJobs(ctx context.Context) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx, "DELETE FROM queue_jobs WHERE state='pending'")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReclaimStaleQueueJobs returns jobs claimed before the lease cutoff
// to pending so a crashed worker's job is retried. At-least-once
// delivery across process crashes rests on this sweep.
func (s *SQLiteStore) ReclaimStaleQueueJobs(ctx context.Context, claimedBefore time.Time) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx,
		`UPDATE queue_jobs SET state='pending', claimed_at=NULL
		 WHERE state='claimed' AND claimed_at < ?`, formatTime(claimedBefore))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneQueueJobs deletes all but the newest keep rows in the state.
func (s *SQLiteStore) PruneQueueJobs(ctx context.Context, state string, keep int) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx,
		`DELETE FROM queue_jobs WHERE state=? AND id NOT IN (
		   SELECT id FROM queue_jobs WHERE state=? ORDER BY finished_at DESC, created_at DESC LIMIT ?
		 )`, state, state, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) GetQueueDepth(ctx context.Context) (*QueueDepth, error) {
	var d QueueDepth
	err := s.readDB.QueryRowContext(ctx,
		`SELECT
		   COALESCE(SUM(CASE WHEN state='pending' THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN state='claimed' THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN state='completed' THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN state='failed' THEN 1 ELSE 0 END), 0)
		 FROM queue_jobs`).
		Scan(&d.Pending, &d.Claimed, &d.Completed, &d.Failed)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanQueueJob(row scanner) (*QueueJob, error) {
	var j QueueJob
	var runAt, createdAt string
	var claimedAt, finishedAt sql.NullString
	err := row.Scan(&j.ID, &j.Key, &j.MonitorID, &j.State, &runAt, &claimedAt,
		&j.Attempts, &j.MaxAttempts, &j.EveryMS, &j.LastError, &createdAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	j.RunAt = parseTime(runAt)
	j.CreatedAt = parseTime(createdAt)
	j.ClaimedAt = parseTimePtr(claimedAt)
	j.FinishedAt = parseTimePtr(finishedAt)
	return &j, nil
}
