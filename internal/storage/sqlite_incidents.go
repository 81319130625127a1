package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CreateIncidentIfNone inserts a new incident only when the monitor
// has no active one. The partial unique index on
// incidents(monitor_id) WHERE resolved_at IS NULL makes the insert
// conditional; overlapping workers race safely and exactly one wins.
func (s *SQLiteStore) CreateIncidentIfNone(ctx context.Context, inc *Incident) (bool, error) {
	if inc.StartedAt.IsZero() {
		inc.StartedAt = time.Now().UTC()
	}
	res, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO incidents (monitor_id, status, severity, title, description, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(monitor_id) WHERE resolved_at IS NULL DO NOTHING`,
		inc.MonitorID, inc.Status, inc.Severity, inc.Title, inc.Description, formatTime(inc.StartedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	id, _ := res.LastInsertId()
	inc.ID = id
	return true, nil
}

// GetActiveIncident returns the monitor's unresolved incident, or nil.
func (s *SQLiteStore) GetActiveIncident(ctx context.Context, monitorID int64) (*Incident, error) {
	row := s.readDB.QueryRowContext(ctx,
		`SELECT id, monitor_id, status, severity, title, description, started_at, resolved_at
		 FROM incidents WHERE monitor_id=? AND resolved_at IS NULL`, monitorID)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return inc, err
}

func (s *SQLiteStore) ResolveIncident(ctx context.Context, id int64, at time.Time) error {
	_, err := s.writeDB.ExecContext(ctx,
		`UPDATE incidents SET status=?, resolved_at=? WHERE id=? AND resolved_at IS NULL`,
		IncidentResolved, formatTime(at), id)
	return err
}

func (s *SQLiteStore) ListIncidents(ctx context.Context, monitorID int64, limit int) ([]*Incident, error) {
	where := "1=1"
	args := []any{}
	if monitorID > 0 {
		where = "monitor_id=?"
		args = append(args, monitorID)
	}
	args = append(args, limit)
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT id, monitor_id, status, severity, title, description, started_at, resolved_at
		 FROM incidents WHERE `+where+` ORDER BY started_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []*Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

func (s *SQLiteStore) CountActiveIncidents(ctx context.Context, monitorID int64) (int64, error) {
	var n int64
	err := s.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM incidents WHERE monitor_id=? AND resolved_at IS NULL`,
		monitorID).Scan(&n)
	return n, err
}

func scanIncident(row scanner) (*Incident, error) {
	var inc Incident
	var startedAt string
	var resolvedAt sql.NullString
	err := row.Scan(&inc.ID, &inc.MonitorID, &inc.Status, &inc.Severity,
		&inc.Title, &inc.Description, &startedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	inc.StartedAt = parseTime(startedAt)
	inc.ResolvedAt = parseTimePtr(resolvedAt)
	return &inc, nil
}
