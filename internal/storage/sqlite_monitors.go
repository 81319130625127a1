package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

func (s *SQLiteStore) GetMonitor(ctx context.Context, id int64) (*Monitor, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT id, name, group_name, type, url, interval_secs, timeout_secs, public,
		        conditions, dns_query_name, dns_query_type, created_at, updated_at
		 FROM monitors WHERE id=?`, id)
	m, err := scanMonitor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (s *SQLiteStore) ListMonitors(ctx context.Context) ([]*Monitor, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT id, name, group_name, type, url, interval_secs, timeout_secs, public,
		        conditions, dns_query_name, dns_query_type, created_at, updated_at
		 FROM monitors ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var monitors []*Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return monitors, nil
}

// ReplaceMonitors syncs the monitors table with the given list inside
// one transaction: upsert by id, delete ids absent from the list, and
// replace all fixed maintenance windows. Check rows and incidents of
// removed monitors go with them via ON DELETE CASCADE.
func (s *SQLiteStore) ReplaceMonitors(ctx context.Context, monitors []*Monitor, fixed []*MaintenanceWindow) error {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	keep := make([]string, 0, len(monitors))
	args := make([]any, 0, len(monitors))

	for _, m := range monitors {
		conditions, _ := json.Marshal(m.Conditions)
		if m.Conditions == nil {
			conditions = []byte("[]")
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO monitors (id, name, group_name, type, url, interval_secs, timeout_secs,
			                       public, conditions, dns_query_name, dns_query_type, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   name=excluded.name, group_name=excluded.group_name, type=excluded.type,
			   url=excluded.url, interval_secs=excluded.interval_secs, timeout_secs=excluded.timeout_secs,
			   public=excluded.public, conditions=excluded.conditions,
			   dns_query_name=excluded.dns_query_name, dns_query_type=excluded.dns_query_type,
			   updated_at=excluded.updated_at`,
			m.ID, m.Name, m.Group, m.Type, m.URL, m.IntervalSecs, m.TimeoutSecs,
			boolToInt(m.Public), string(conditions), m.DNSQueryName, m.DNSQueryType, now, now)
		if err != nil {
			return fmt.Errorf("upsert monitor %d: %w", m.ID, err)
		}
		keep = append(keep, "?")
		args = append(args, m.ID)
	}

	if len(keep) == 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM monitors"); err != nil {
			return fmt.Errorf("delete monitors: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM monitors WHERE id NOT IN ("+strings.Join(keep, ",")+")", args...); err != nil {
			return fmt.Errorf("delete removed monitors: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM maintenance_windows"); err != nil {
		return fmt.Errorf("clear maintenance windows: %w", err)
	}
	for _, w := range fixed {
		var monitorID any
		if w.MonitorID != nil {
			monitorID = *w.MonitorID
		}
		tz := w.Timezone
		if tz == "" {
			tz = "UTC"
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO maintenance_windows (monitor_id, start_time, end_time, timezone, description)
			 VALUES (?, ?, ?, ?, ?)`,
			monitorID, formatTime(w.StartTime), formatTime(w.EndTime), tz, w.Description); err != nil {
			return fmt.Errorf("insert maintenance window: %w", err)
		}
	}

	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMonitor(row scanner) (*Monitor, error) {
	var m Monitor
	var public int
	var conditionsStr, createdAt, updatedAt string
	err := row.Scan(&m.ID, &m.Name, &m.Group, &m.Type, &m.URL, &m.IntervalSecs, &m.TimeoutSecs,
		&public, &conditionsStr, &m.DNSQueryName, &m.DNSQueryType, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	m.Public = public != 0
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	json.Unmarshal([]byte(conditionsStr), &m.Conditions)
	if m.Conditions == nil {
		m.Conditions = []string{}
	}
	return &m, nil
}
