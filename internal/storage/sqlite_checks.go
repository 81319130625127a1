package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

func (s *SQLiteStore) InsertCheck(ctx context.Context, c *Check) error {
	if c.CheckedAt.IsZero() {
		c.CheckedAt = time.Now().UTC()
	}
	res, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO checks (monitor_id, status, response_time, error, checked_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.MonitorID, c.Status, c.ResponseTime, c.Error, formatTime(c.CheckedAt))
	if err != nil {
		return fmt.Errorf("insert check: %w", err)
	}
	id, _ := res.LastInsertId()
	c.ID = id
	return nil
}

func (s *SQLiteStore) RecentChecks(ctx context.Context, monitorID int64, n int) ([]*Check, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT id, monitor_id, status, response_time, error, checked_at
		 FROM checks WHERE monitor_id=?
		 ORDER BY checked_at DESC, id DESC LIMIT ?`, monitorID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checks []*Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return checks, nil
}

func (s *SQLiteStore) LatestCheck(ctx context.Context, monitorID int64) (*Check, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT id, monitor_id, status, response_time, error, checked_at
		 FROM checks WHERE monitor_id=?
		 ORDER BY checked_at DESC, id DESC LIMIT 1`, monitorID)
	c, err := scanCheck(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// LatestChecks returns the newest check per monitor in one round-trip.
func (s *SQLiteStore) LatestChecks(ctx context.Context, monitorIDs []int64) (map[int64]*Check, error) {
	result := make(map[int64]*Check)
	if len(monitorIDs) == 0 {
		return result, nil
	}
	placeholders, args := idList(monitorIDs)
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT c.id, c.monitor_id, c.status, c.response_time, c.error, c.checked_at
		 FROM checks c
		 INNER JOIN (SELECT monitor_id, MAX(id) AS max_id FROM checks
		             WHERE monitor_id IN (`+placeholders+`) GROUP BY monitor_id) latest
		 ON c.id = latest.max_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		result[c.MonitorID] = c
	}
	return result, rows.Err()
}

// UptimePercent returns successful/total*100 over the last N days,
// defined as 100 when there are no rows.
func (s *SQLiteStore) UptimePercent(ctx context.Context, monitorID int64, days int) (float64, error) {
	since := formatTime(time.Now().AddDate(0, 0, -days))
	var total, up int64
	err := s.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN status='up' THEN 1 ELSE 0 END), 0)
		 FROM checks WHERE monitor_id=? AND checked_at >= ?`,
		monitorID, since).Scan(&total, &up)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 100, nil
	}
	return float64(up) / float64(total) * 100, nil
}

// AvgResponseTime averages over successful checks only.
func (s *SQLiteStore) AvgResponseTime(ctx context.Context, monitorID int64, days int) (int64, error) {
	since := formatTime(time.Now().AddDate(0, 0, -days))
	var avg sql.NullFloat64
	err := s.readDB.QueryRowContext(ctx,
		`SELECT AVG(response_time) FROM checks
		 WHERE monitor_id=? AND checked_at >= ? AND status='up'`,
		monitorID, since).Scan(&avg)
	if err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, nil
	}
	return int64(avg.Float64 + 0.5), nil
}

// ResponseTimeHistory buckets successful checks by hour or day.
func (s *SQLiteStore) ResponseTimeHistory(ctx context.Context, monitorID int64, days int, granularity string) ([]*ResponseTimeBucket, error) {
	bucketFmt := "%Y-%m-%dT%H:00"
	if granularity == "day" {
		bucketFmt = "%Y-%m-%d"
	}
	since := formatTime(time.Now().AddDate(0, 0, -days))
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT strftime(?, checked_at) AS bucket,
		        CAST(AVG(response_time) AS INTEGER),
		        MIN(response_time), MAX(response_time)
		 FROM checks
		 WHERE monitor_id=? AND checked_at >= ? AND status='up'
		 GROUP BY bucket ORDER BY bucket`,
		bucketFmt, monitorID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []*ResponseTimeBucket
	for rows.Next() {
		var b ResponseTimeBucket
		if err := rows.Scan(&b.Bucket, &b.Avg, &b.Min, &b.Max); err != nil {
			return nil, err
		}
		buckets = append(buckets, &b)
	}
	return buckets, rows.Err()
}

// StateTransitions counts adjacent status changes within the window,
// used by flapping detection.
func (s *SQLiteStore) StateTransitions(ctx context.Context, monitorID int64, minutes int) (int64, error) {
	since := formatTime(time.Now().Add(-time.Duration(minutes) * time.Minute))
	var transitions int64
	err := s.readDB.QueryRowContext(ctx,
		`WITH ordered AS (
		   SELECT status, LAG(status) OVER (ORDER BY checked_at, id) AS prev
		   FROM checks WHERE monitor_id=? AND checked_at >= ?
		 )
		 SELECT COALESCE(SUM(CASE WHEN prev IS NOT NULL AND status != prev THEN 1 ELSE 0 END), 0)
		 FROM ordered`, monitorID, since).Scan(&transitions)
	return transitions, err
}

// BulkMonitorStats returns uptime and average response time per
// monitor over the last N days in one query.
func (s *SQLiteStore) BulkMonitorStats(ctx context.Context, monitorIDs []int64, days int) (map[int64]*MonitorStats, error) {
	result := make(map[int64]*MonitorStats)
	if len(monitorIDs) == 0 {
		return result, nil
	}
	placeholders, args := idList(monitorIDs)
	since := formatTime(time.Now().AddDate(0, 0, -days))
	args = append(args, since)
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT monitor_id,
		        COUNT(*),
		        COALESCE(SUM(CASE WHEN status='up' THEN 1 ELSE 0 END), 0),
		        COALESCE(CAST(AVG(CASE WHEN status='up' THEN response_time END) AS INTEGER), 0)
		 FROM checks
		 WHERE monitor_id IN (`+placeholders+`) AND checked_at >= ?
		 GROUP BY monitor_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var st MonitorStats
		var up int64
		if err := rows.Scan(&st.MonitorID, &st.TotalChecks, &up, &st.AvgResponseTime); err != nil {
			return nil, err
		}
		if st.TotalChecks > 0 {
			st.UptimePct = float64(up) / float64(st.TotalChecks) * 100
		} else {
			st.UptimePct = 100
		}
		result[st.MonitorID] = &st
	}
	return result, rows.Err()
}

func (s *SQLiteStore) DeleteChecksBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx,
		"DELETE FROM checks WHERE checked_at < ?", formatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanCheck(row scanner) (*Check, error) {
	var c Check
	var checkedAt string
	if err := row.Scan(&c.ID, &c.MonitorID, &c.Status, &c.ResponseTime, &c.Error, &checkedAt); err != nil {
		return nil, err
	}
	c.CheckedAt = parseTime(checkedAt)
	return &c, nil
}

func idList(ids []int64) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}
