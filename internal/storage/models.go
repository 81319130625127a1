package storage

import "time"

// Monitor is one configured probe target. Monitors are owned by the
// config file and replaced wholesale on reload; ID is assigned in the
// config and stable across restarts.
type Monitor struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Group        string   `json:"group,omitempty"`
	Type         string   `json:"type"`
	URL          string   `json:"url"`
	IntervalSecs int      `json:"interval_seconds"`
	TimeoutSecs  int      `json:"timeout_seconds"`
	Public       bool     `json:"public"`
	Conditions   []string `json:"conditions"`
	DNSQueryName string   `json:"dns_query_name,omitempty"`
	DNSQueryType string   `json:"dns_query_type,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Check statuses.
const (
	CheckUp   = "up"
	CheckDown = "down"
)

// Check is one persisted probe outcome. Rows are append-only and
// trimmed by retention.
type Check struct {
	ID           int64     `json:"id"`
	MonitorID    int64     `json:"monitor_id"`
	Status       string    `json:"status"`
	ResponseTime int64     `json:"response_time_ms"`
	Error        string    `json:"error,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// Incident statuses.
const (
	IncidentInvestigating = "investigating"
	IncidentIdentified    = "identified"
	IncidentMonitoring    = "monitoring"
	IncidentResolved      = "resolved"
)

// Incident severities.
const (
	SeverityMinor    = "minor"
	SeverityMajor    = "major"
	SeverityCritical = "critical"
)

// Incident records a sustained failing period for a monitor. An
// incident is active while ResolvedAt is nil; a partial unique index
// keeps at most one active incident per monitor.
type Incident struct {
	ID          int64      `json:"id"`
	MonitorID   int64      `json:"monitor_id"`
	Status      string     `json:"status"`
	Severity    string     `json:"severity"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// MaintenanceWindow is a persisted fixed window. A nil MonitorID
// makes the window global. Recurring daily windows are not persisted;
// they live in the maintenance oracle's in-memory map.
type MaintenanceWindow struct {
	ID          int64      `json:"id"`
	MonitorID   *int64     `json:"monitor_id,omitempty"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	Timezone    string     `json:"timezone"`
	Description string     `json:"description,omitempty"`
}

// StatusHistoryDay is the per-(monitor, UTC day) roll-up produced by
// the aggregator. Date is "2006-01-02".
type StatusHistoryDay struct {
	MonitorID        int64   `json:"monitor_id"`
	Date             string  `json:"date"`
	UptimePct        float64 `json:"uptime_pct"`
	AvgResponseTime  int64   `json:"avg_response_time_ms"`
	TotalChecks      int64   `json:"total_checks"`
	SuccessfulChecks int64   `json:"successful_checks"`
}

// Queue job states.
const (
	JobPending   = "pending"
	JobClaimed   = "claimed"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// QueueJob is one claimable instance of a repeating job.
type QueueJob struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	MonitorID   int64      `json:"monitor_id"`
	State       string     `json:"state"`
	RunAt       time.Time  `json:"run_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	EveryMS     int64      `json:"every_ms"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// RepeatingJob is the durable definition behind a stream of QueueJob
// instances, one per monitor.
type RepeatingJob struct {
	Key       string `json:"key"`
	MonitorID int64  `json:"monitor_id"`
	EveryMS   int64  `json:"every_ms"`
}

// QueueDepth summarizes queue state for introspection.
type QueueDepth struct {
	Pending   int64 `json:"pending"`
	Claimed   int64 `json:"claimed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// ResponseTimeBucket is one row of a bucketed response-time history.
type ResponseTimeBucket struct {
	Bucket string `json:"bucket"`
	Avg    int64  `json:"avg_ms"`
	Min    int64  `json:"min_ms"`
	Max    int64  `json:"max_ms"`
}

// MonitorStats is the bulk per-monitor aggregate used by overview
// surfaces to avoid N+1 queries.
type MonitorStats struct {
	MonitorID       int64   `json:"monitor_id"`
	UptimePct       float64 `json:"uptime_pct"`
	AvgResponseTime int64   `json:"avg_response_time_ms"`
	TotalChecks     int64   `json:"total_checks"`
}
