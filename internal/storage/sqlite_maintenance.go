package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ActiveMaintenanceWindow returns the first fixed window covering the
// instant for the monitor. Windows with a NULL monitor_id are global
// and apply to every monitor.
func (s *SQLiteStore) ActiveMaintenanceWindow(ctx context.Context, monitorID int64, at time.Time) (*MaintenanceWindow, error) {
	now := formatTime(at)
	row := s.readDB.QueryRowContext(ctx,
		`SELECT id, monitor_id, start_time, end_time, timezone, description
		 FROM maintenance_windows
		 WHERE start_time <= ? AND end_time >= ? AND (monitor_id=? OR monitor_id IS NULL)
		 ORDER BY id LIMIT 1`, now, now, monitorID)
	w, err := scanMaintenanceWindow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return w, err
}

func (s *SQLiteStore) ListMaintenanceWindows(ctx context.Context) ([]*MaintenanceWindow, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT id, monitor_id, start_time, end_time, timezone, description
		 FROM maintenance_windows ORDER BY start_time`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []*MaintenanceWindow
	for rows.Next() {
		w, err := scanMaintenanceWindow(rows)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

func scanMaintenanceWindow(row scanner) (*MaintenanceWindow, error) {
	var w MaintenanceWindow
	var monitorID sql.NullInt64
	var startTime, endTime string
	err := row.Scan(&w.ID, &monitorID, &startTime, &endTime, &w.Timezone, &w.Description)
	if err != nil {
		return nil, err
	}
	if monitorID.Valid {
		id := monitorID.Int64
		w.MonitorID = &id
	}
	w.StartTime = parseTime(startTime)
	w.EndTime = parseTime(endTime)
	return &w, nil
}
