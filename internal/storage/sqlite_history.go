package storage

import (
	"context"
	"database/sql"
	"math"
)

func (s *SQLiteStore) UpsertStatusHistoryDay(ctx context.Context, d *StatusHistoryDay) error {
	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO status_history (monitor_id, date, uptime_pct, avg_response_time, total_checks, successful_checks)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(monitor_id, date) DO UPDATE SET
		   uptime_pct=excluded.uptime_pct,
		   avg_response_time=excluded.avg_response_time,
		   total_checks=excluded.total_checks,
		   successful_checks=excluded.successful_checks`,
		d.MonitorID, d.Date, d.UptimePct, d.AvgResponseTime, d.TotalChecks, d.SuccessfulChecks)
	return err
}

// AggregateChecksForDay computes the day roll-up from raw check rows.
// Returns nil when the monitor has no checks on that UTC date. The
// same inputs always produce the same row, so re-running is a no-op
// at the table level.
func (s *SQLiteStore) AggregateChecksForDay(ctx context.Context, monitorID int64, date string) (*StatusHistoryDay, error) {
	var d StatusHistoryDay
	var avg sql.NullFloat64
	err := s.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status='up' THEN 1 ELSE 0 END), 0),
		        AVG(CASE WHEN status='up' THEN response_time END)
		 FROM checks
		 WHERE monitor_id=? AND checked_at >= ? AND checked_at < datetime(?, '+1 day')`,
		monitorID, date+"T00:00:00Z", date+"T00:00:00Z").
		Scan(&d.TotalChecks, &d.SuccessfulChecks, &avg)
	if err != nil {
		return nil, err
	}
	if d.TotalChecks == 0 {
		return nil, nil
	}
	d.MonitorID = monitorID
	d.Date = date
	d.UptimePct = round2(float64(d.SuccessfulChecks) / float64(d.TotalChecks) * 100)
	if avg.Valid {
		d.AvgResponseTime = int64(avg.Float64 + 0.5)
	}
	return &d, nil
}

func (s *SQLiteStore) ListStatusHistory(ctx context.Context, monitorID int64, fromDate, toDate string) ([]*StatusHistoryDay, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT monitor_id, date, uptime_pct, avg_response_time, total_checks, successful_checks
		 FROM status_history
		 WHERE monitor_id=? AND date >= ? AND date <= ?
		 ORDER BY date`, monitorID, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []*StatusHistoryDay
	for rows.Next() {
		var d StatusHistoryDay
		if err := rows.Scan(&d.MonitorID, &d.Date, &d.UptimePct, &d.AvgResponseTime, &d.TotalChecks, &d.SuccessfulChecks); err != nil {
			return nil, err
		}
		days = append(days, &d)
	}
	return days, rows.Err()
}

func (s *SQLiteStore) MonitorsWithChecksOn(ctx context.Context, date string) ([]int64, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT DISTINCT monitor_id FROM checks
		 WHERE checked_at >= ? AND checked_at < datetime(?, '+1 day')`,
		date+"T00:00:00Z", date+"T00:00:00Z")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DaysWithChecksMissingHistory finds (monitor, day) pairs since the
// given date that have check rows but no summary row. Used by the
// startup backfill.
func (s *SQLiteStore) DaysWithChecksMissingHistory(ctx context.Context, sinceDate string) (map[int64][]string, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT c.monitor_id, strftime('%Y-%m-%d', c.checked_at) AS day
		 FROM checks c
		 WHERE c.checked_at >= ?
		 GROUP BY c.monitor_id, day
		 HAVING NOT EXISTS (
		   SELECT 1 FROM status_history h
		   WHERE h.monitor_id = c.monitor_id AND h.date = day
		 )
		 ORDER BY c.monitor_id, day`, sinceDate+"T00:00:00Z")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	missing := make(map[int64][]string)
	for rows.Next() {
		var id int64
		var day string
		if err := rows.Scan(&id, &day); err != nil {
			return nil, err
		}
		missing[id] = append(missing[id], day)
	}
	return missing, rows.Err()
}

func (s *SQLiteStore) DeleteStatusHistoryBefore(ctx context.Context, date string) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx, "DELETE FROM status_history WHERE date < ?", date)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
