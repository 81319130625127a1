package storage

import (
	"context"
	"time"
)

// Store defines the complete storage interface.
type Store interface {
	// Monitors
	GetMonitor(ctx context.Context, id int64) (*Monitor, error)
	ListMonitors(ctx context.Context) ([]*Monitor, error)
	ReplaceMonitors(ctx context.Context, monitors []*Monitor, fixed []*MaintenanceWindow) error

	// Checks
	InsertCheck(ctx context.Context, c *Check) error
	RecentChecks(ctx context.Context, monitorID int64, n int) ([]*Check, error)
	LatestCheck(ctx context.Context, monitorID int64) (*Check, error)
	LatestChecks(ctx context.Context, monitorIDs []int64) (map[int64]*Check, error)
	UptimePercent(ctx context.Context, monitorID int64, days int) (float64, error)
	AvgResponseTime(ctx context.Context, monitorID int64, days int) (int64, error)
	ResponseTimeHistory(ctx context.Context, monitorID int64, days int, granularity string) ([]*ResponseTimeBucket, error)
	StateTransitions(ctx context.Context, monitorID int64, minutes int) (int64, error)
	BulkMonitorStats(ctx context.Context, monitorIDs []int64, days int) (map[int64]*MonitorStats, error)
	DeleteChecksBefore(ctx context.Context, before time.Time) (int64, error)

	// Incidents
	CreateIncidentIfNone(ctx context.Context, inc *Incident) (bool, error)
	GetActiveIncident(ctx context.Context, monitorID int64) (*Incident, error)
	ResolveIncident(ctx context.Context, id int64, at time.Time) error
	ListIncidents(ctx context.Context, monitorID int64, limit int) ([]*Incident, error)
	CountActiveIncidents(ctx context.Context, monitorID int64) (int64, error)

	// Maintenance (fixed windows)
	ActiveMaintenanceWindow(ctx context.Context, monitorID int64, at time.Time) (*MaintenanceWindow, error)
	ListMaintenanceWindows(ctx context.Context) ([]*MaintenanceWindow, error)

	// Status history
	UpsertStatusHistoryDay(ctx context.Context, d *StatusHistoryDay) error
	AggregateChecksForDay(ctx context.Context, monitorID int64, date string) (*StatusHistoryDay, error)
	ListStatusHistory(ctx context.Context, monitorID int64, fromDate, toDate string) ([]*StatusHistoryDay, error)
	MonitorsWithChecksOn(ctx context.Context, date string) ([]int64, error)
	DaysWithChecksMissingHistory(ctx context.Context, sinceDate string) (map[int64][]string, error)
	DeleteStatusHistoryBefore(ctx context.Context, date string) (int64, error)

	// Durable queue
	UpsertRepeatingJob(ctx context.Context, r *RepeatingJob) error
	DeleteRepeatingJobs(ctx context.Context) error
	GetRepeatingJob(ctx context.Context, key string) (*RepeatingJob, error)
	ListRepeatingJobs(ctx context.Context) ([]*RepeatingJob, error)
	InsertQueueJob(ctx context.Context, j *QueueJob) error
	ClaimQueueJob(ctx context.Context, now time.Time) (*QueueJob, error)
	ReleaseQueueJob(ctx context.Context, id string) error
	CompleteQueueJob(ctx context.Context, id string, at time.Time) error
	FailQueueJob(ctx context.Context, id string, errMsg string, retryAt *time.Time, at time.Time) error
	DeletePendingQueueJobs(ctx context.Context) (int64, error)
	ReclaimStaleQueueJobs(ctx context.Context, claimedBefore time.Time) (int64, error)
	PruneQueueJobs(ctx context.Context, state string, keep int) (int64, error)
	GetQueueDepth(ctx context.Context) (*QueueDepth, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
