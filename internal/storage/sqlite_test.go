package storage

import (
	"context"
	"os"
	"testing"
	"time"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "varuna-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	store, err := NewSQLiteStore(tmpFile.Name(), 2)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRefusesNewerSchema(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "varuna-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	store, err := NewSQLiteStore(tmpFile.Name(), 2)
	if err != nil {
		t.Fatal(err)
	}
	// Stamp the database as written by a future binary.
	if _, err := store.writeDB.Exec("UPDATE schema_version SET version = ?", schemaVersion+1); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := NewSQLiteStore(tmpFile.Name(), 2); err == nil {
		t.Fatal("expected open to refuse a newer schema version")
	}
}

func testMonitor(id int64, name string) *Monitor {
	return &Monitor{
		ID:           id,
		Name:         name,
		Type:         "http",
		URL:          "https://example.com",
		IntervalSecs: 60,
		TimeoutSecs:  10,
		Public:       true,
		Conditions:   []string{"[STATUS] == 200"},
	}
}

func putMonitors(t *testing.T, store *SQLiteStore, monitors ...*Monitor) {
	t.Helper()
	if err := store.ReplaceMonitors(context.Background(), monitors, nil); err != nil {
		t.Fatal(err)
	}
}

func TestReplaceMonitors(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	putMonitors(t, store, testMonitor(1, "web"), testMonitor(2, "api"))

	monitors, err := store.ListMonitors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(monitors) != 2 {
		t.Fatalf("expected 2 monitors, got %d", len(monitors))
	}

	got, err := store.GetMonitor(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "web" {
		t.Fatalf("expected 'web', got %q", got.Name)
	}
	if len(got.Conditions) != 1 || got.Conditions[0] != "[STATUS] == 200" {
		t.Fatalf("conditions did not round-trip: %v", got.Conditions)
	}

	// Update one, drop the other.
	updated := testMonitor(1, "web renamed")
	putMonitors(t, store, updated)

	monitors, err = store.ListMonitors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(monitors) != 1 {
		t.Fatalf("expected 1 monitor after replace, got %d", len(monitors))
	}
	if monitors[0].Name != "web renamed" {
		t.Fatalf("expected updated name, got %q", monitors[0].Name)
	}

	missing, err := store.GetMonitor(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Fatal("expected removed monitor to be gone")
	}
}

func TestReplaceMonitorsCascades(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	putMonitors(t, store, testMonitor(1, "web"))
	if err := store.InsertCheck(ctx, &Check{MonitorID: 1, Status: CheckUp, ResponseTime: 50}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateIncidentIfNone(ctx, &Incident{
		MonitorID: 1, Status: IncidentInvestigating, Severity: SeverityMinor, Title: "web is down",
	}); err != nil {
		t.Fatal(err)
	}

	putMonitors(t, store) // empty set removes everything

	checks, err := store.RecentChecks(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(checks) != 0 {
		t.Fatalf("expected cascaded check delete, got %d rows", len(checks))
	}
	incidents, err := store.ListIncidents(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 0 {
		t.Fatalf("expected cascaded incident delete, got %d rows", len(incidents))
	}
}

func TestChecksAndStats(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	putMonitors(t, store, testMonitor(1, "web"))

	now := time.Now().UTC()
	statuses := []string{CheckUp, CheckUp, CheckDown, CheckUp}
	for i, status := range statuses {
		err := store.InsertCheck(ctx, &Check{
			MonitorID:    1,
			Status:       status,
			ResponseTime: int64(100 * (i + 1)),
			CheckedAt:    now.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	t.Run("recent newest first", func(t *testing.T) {
		recent, err := store.RecentChecks(ctx, 1, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(recent) != 2 {
			t.Fatalf("expected 2 checks, got %d", len(recent))
		}
		if recent[0].Status != CheckUp || recent[1].Status != CheckDown {
			t.Fatalf("unexpected order: %s, %s", recent[0].Status, recent[1].Status)
		}
	})

	t.Run("latest", func(t *testing.T) {
		latest, err := store.LatestCheck(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		if latest.ResponseTime != 400 {
			t.Fatalf("expected latest check with 400ms, got %d", latest.ResponseTime)
		}
	})

	t.Run("uptime", func(t *testing.T) {
		uptime, err := store.UptimePercent(ctx, 1, 1)
		if err != nil {
			t.Fatal(err)
		}
		if uptime != 75 {
			t.Fatalf("expected 75%% uptime, got %v", uptime)
		}
	})

	t.Run("uptime with no checks is 100", func(t *testing.T) {
		uptime, err := store.UptimePercent(ctx, 99, 1)
		if err != nil {
			t.Fatal(err)
		}
		if uptime != 100 {
			t.Fatalf("expected 100%% for no data, got %v", uptime)
		}
	})

	t.Run("avg over successful only", func(t *testing.T) {
		avg, err := store.AvgResponseTime(ctx, 1, 1)
		if err != nil {
			t.Fatal(err)
		}
		// up checks: 100, 200, 400
		if avg != 233 {
			t.Fatalf("expected 233ms, got %d", avg)
		}
	})

	t.Run("transitions", func(t *testing.T) {
		transitions, err := store.StateTransitions(ctx, 1, 60)
		if err != nil {
			t.Fatal(err)
		}
		if transitions != 2 {
			t.Fatalf("expected 2 transitions, got %d", transitions)
		}
	})

	t.Run("bulk stats", func(t *testing.T) {
		stats, err := store.BulkMonitorStats(ctx, []int64{1}, 1)
		if err != nil {
			t.Fatal(err)
		}
		st, ok := stats[1]
		if !ok {
			t.Fatal("expected stats for monitor 1")
		}
		if st.TotalChecks != 4 || st.UptimePct != 75 {
			t.Fatalf("unexpected stats: %+v", st)
		}
	})

	t.Run("response time history over successful only", func(t *testing.T) {
		buckets, err := store.ResponseTimeHistory(ctx, 1, 1, "hour")
		if err != nil {
			t.Fatal(err)
		}
		if len(buckets) == 0 {
			t.Fatal("expected at least one bucket")
		}
		min, max := buckets[0].Min, buckets[0].Max
		for _, b := range buckets[1:] {
			if b.Min < min {
				min = b.Min
			}
			if b.Max > max {
				max = b.Max
			}
		}
		// The down check (300ms) is excluded from the buckets.
		if min != 100 || max != 400 {
			t.Fatalf("unexpected bucket range %d..%d", min, max)
		}
	})

	t.Run("retention", func(t *testing.T) {
		deleted, err := store.DeleteChecksBefore(ctx, now.Add(90*time.Second))
		if err != nil {
			t.Fatal(err)
		}
		if deleted != 2 {
			t.Fatalf("expected 2 deleted, got %d", deleted)
		}
	})
}

func TestIncidentUniqueness(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	putMonitors(t, store, testMonitor(1, "web"))

	created, err := store.CreateIncidentIfNone(ctx, &Incident{
		MonitorID: 1, Status: IncidentInvestigating, Severity: SeverityMajor, Title: "web is down",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected first incident to be created")
	}

	dup, err := store.CreateIncidentIfNone(ctx, &Incident{
		MonitorID: 1, Status: IncidentInvestigating, Severity: SeverityMinor, Title: "duplicate",
	})
	if err != nil {
		t.Fatal(err)
	}
	if dup {
		t.Fatal("expected second active incident to be rejected")
	}

	active, err := store.GetActiveIncident(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if active == nil || active.Title != "web is down" {
		t.Fatalf("unexpected active incident: %+v", active)
	}

	count, err := store.CountActiveIncidents(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 active incident, got %d", count)
	}

	if err := store.ResolveIncident(ctx, active.ID, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	count, err = store.CountActiveIncidents(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected 0 active incidents after resolve, got %d", count)
	}

	active, err = store.GetActiveIncident(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if active != nil {
		t.Fatal("expected no active incident after resolve")
	}

	// A new incident may open once the previous one is resolved.
	created, err = store.CreateIncidentIfNone(ctx, &Incident{
		MonitorID: 1, Status: IncidentInvestigating, Severity: SeverityMinor, Title: "down again",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected new incident after resolution")
	}
}

func TestMaintenanceWindows(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	monitorID := int64(1)
	fixed := []*MaintenanceWindow{
		{MonitorID: &monitorID, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour), Timezone: "UTC", Description: "db upgrade"},
		{StartTime: now.Add(2 * time.Hour), EndTime: now.Add(3 * time.Hour), Timezone: "UTC", Description: "future global"},
	}
	if err := store.ReplaceMonitors(ctx, []*Monitor{testMonitor(1, "web"), testMonitor(2, "api")}, fixed); err != nil {
		t.Fatal(err)
	}

	w, err := store.ActiveMaintenanceWindow(ctx, 1, now)
	if err != nil {
		t.Fatal(err)
	}
	if w == nil || w.Description != "db upgrade" {
		t.Fatalf("expected active monitor window, got %+v", w)
	}

	// Monitor 2 has no window now; the global one is in the future.
	w, err = store.ActiveMaintenanceWindow(ctx, 2, now)
	if err != nil {
		t.Fatal(err)
	}
	if w != nil {
		t.Fatalf("expected no active window, got %+v", w)
	}

	// The global window covers every monitor once it starts.
	w, err = store.ActiveMaintenanceWindow(ctx, 2, now.Add(150*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if w == nil || w.Description != "future global" {
		t.Fatalf("expected global window, got %+v", w)
	}
}
