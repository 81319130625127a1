// Package incident turns check results into incident lifecycle
// events. Opening requires consecutive failures past a threshold so a
// single blip never pages; any success resolves immediately. Checks
// taken inside a maintenance window never open or resolve anything.
package incident

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/varunahq/varuna/internal/maintenance"
	"github.com/varunahq/varuna/internal/runner"
	"github.com/varunahq/varuna/internal/storage"
)

// DefaultFailureThreshold is how many consecutive failed checks open
// an incident.
const DefaultFailureThreshold = 2

// Event kinds emitted by the detector.
const (
	EventOpened   = "opened"
	EventResolved = "resolved"
)

// Event describes one incident state change.
type Event struct {
	Kind        string    `json:"kind"`
	MonitorID   int64     `json:"monitor_id"`
	MonitorName string    `json:"monitor_name"`
	IncidentID  int64     `json:"incident_id"`
	Severity    string    `json:"severity,omitempty"`
	Title       string    `json:"title"`
	Timestamp   time.Time `json:"timestamp"`
}

// Detector persists check results and drives incident state.
type Detector struct {
	store     storage.Store
	oracle    *maintenance.Oracle
	threshold int
	logger    *slog.Logger
}

func NewDetector(store storage.Store, oracle *maintenance.Oracle, threshold int, logger *slog.Logger) *Detector {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &Detector{store: store, oracle: oracle, threshold: threshold, logger: logger}
}

// Process records the check and returns an event when incident state
// changed, nil otherwise. The check row is written before any
// incident decision so history stays complete even under suppression.
func (d *Detector) Process(ctx context.Context, result *runner.CheckResult) (*Event, error) {
	status := storage.CheckDown
	if result.Success {
		status = storage.CheckUp
	}

	check := &storage.Check{
		MonitorID:    result.MonitorID,
		Status:       status,
		ResponseTime: result.ResponseTime,
		Error:        result.Error,
		CheckedAt:    result.Timestamp,
	}
	if err := d.store.InsertCheck(ctx, check); err != nil {
		return nil, fmt.Errorf("insert check: %w", err)
	}

	mnt, err := d.oracle.InMaintenance(ctx, result.MonitorID, result.Timestamp)
	if err != nil {
		return nil, err
	}
	if mnt.Active {
		d.logger.Debug("check suppressed by maintenance",
			slog.Int64("monitor_id", result.MonitorID),
			slog.String("window", mnt.Description))
		return nil, nil
	}

	if result.Success {
		return d.resolveActive(ctx, result)
	}
	return d.maybeOpen(ctx, result)
}

func (d *Detector) resolveActive(ctx context.Context, result *runner.CheckResult) (*Event, error) {
	active, err := d.store.GetActiveIncident(ctx, result.MonitorID)
	if err != nil {
		return nil, fmt.Errorf("get active incident: %w", err)
	}
	if active == nil {
		return nil, nil
	}

	resolvedAt := result.Timestamp
	if err := d.store.ResolveIncident(ctx, active.ID, resolvedAt); err != nil {
		return nil, fmt.Errorf("resolve incident: %w", err)
	}

	d.logger.Info("incident resolved",
		slog.Int64("monitor_id", result.MonitorID),
		slog.Int64("incident_id", active.ID),
		slog.Duration("duration", resolvedAt.Sub(active.StartedAt)))

	return &Event{
		Kind:        EventResolved,
		MonitorID:   result.MonitorID,
		MonitorName: result.MonitorName,
		IncidentID:  active.ID,
		Severity:    active.Severity,
		Title:       active.Title,
		Timestamp:   resolvedAt,
	}, nil
}

func (d *Detector) maybeOpen(ctx context.Context, result *runner.CheckResult) (*Event, error) {
	active, err := d.store.GetActiveIncident(ctx, result.MonitorID)
	if err != nil {
		return nil, fmt.Errorf("get active incident: %w", err)
	}
	if active != nil {
		return nil, nil
	}

	recent, err := d.store.RecentChecks(ctx, result.MonitorID, d.threshold)
	if err != nil {
		return nil, fmt.Errorf("recent checks: %w", err)
	}
	if len(recent) < d.threshold {
		return nil, nil
	}
	for _, c := range recent {
		if c.Status != storage.CheckDown {
			return nil, nil
		}
	}

	severity := ClassifySeverity(result.Error)
	incident := &storage.Incident{
		MonitorID: result.MonitorID,
		Title:     fmt.Sprintf("%s is down", result.MonitorName),
		Status:    storage.IncidentInvestigating,
		Severity:  severity,
		StartedAt: result.Timestamp,
	}

	created, err := d.store.CreateIncidentIfNone(ctx, incident)
	if err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}
	if !created {
		// Another worker won the race; its event stands.
		return nil, nil
	}

	d.logger.Warn("incident opened",
		slog.Int64("monitor_id", result.MonitorID),
		slog.Int64("incident_id", incident.ID),
		slog.String("severity", severity),
		slog.String("error", result.Error))

	return &Event{
		Kind:        EventOpened,
		MonitorID:   result.MonitorID,
		MonitorName: result.MonitorName,
		IncidentID:  incident.ID,
		Severity:    severity,
		Title:       incident.Title,
		Timestamp:   result.Timestamp,
	}, nil
}

// ClassifySeverity maps a check error message to an incident severity
// by keyword, case-insensitively.
func ClassifySeverity(errMsg string) string {
	lower := strings.ToLower(errMsg)
	switch {
	case strings.Contains(lower, "dns"), strings.Contains(lower, "certificate"):
		return storage.SeverityCritical
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "econnrefused"),
		strings.Contains(lower, "connection refused"):
		return storage.SeverityMajor
	default:
		return storage.SeverityMinor
	}
}

// flappingWindow and flappingMax tune flap detection: more than
// flappingMax up/down transitions in the last flappingWindow checks
// marks the monitor unstable.
const (
	flappingWindow = 20
	flappingMax    = 5
)

// IsFlapping reports whether the monitor's recent history is unstable.
// Fewer than half a window of samples is never flapping.
func (d *Detector) IsFlapping(ctx context.Context, monitorID int64) (bool, error) {
	recent, err := d.store.RecentChecks(ctx, monitorID, flappingWindow)
	if err != nil {
		return false, fmt.Errorf("recent checks: %w", err)
	}
	if len(recent) < flappingWindow/2 {
		return false, nil
	}

	transitions := 0
	for i := 1; i < len(recent); i++ {
		if recent[i].Status != recent[i-1].Status {
			transitions++
		}
	}
	return transitions > flappingMax, nil
}
