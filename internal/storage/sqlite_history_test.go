package storage

import (
	"context"
	"testing"
	"time"
)

func seedDay(t *testing.T, store *SQLiteStore, monitorID int64, date string, statuses []string, responseTime int64) {
	t.Helper()
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		t.Fatal(err)
	}
	for i, status := range statuses {
		err := store.InsertCheck(context.Background(), &Check{
			MonitorID:    monitorID,
			Status:       status,
			ResponseTime: responseTime,
			CheckedAt:    day.Add(time.Duration(i+1) * time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestAggregateChecksForDay(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	putMonitors(t, store, testMonitor(1, "web"))

	seedDay(t, store, 1, "2026-08-20", []string{CheckUp, CheckUp, CheckDown}, 120)

	day, err := store.AggregateChecksForDay(ctx, 1, "2026-08-20")
	if err != nil {
		t.Fatal(err)
	}
	if day == nil {
		t.Fatal("expected a summary row")
	}
	if day.TotalChecks != 3 || day.SuccessfulChecks != 2 {
		t.Fatalf("unexpected counts: %+v", day)
	}
	if day.UptimePct != 66.67 {
		t.Fatalf("expected 66.67%%, got %v", day.UptimePct)
	}
	if day.AvgResponseTime != 120 {
		t.Fatalf("expected 120ms, got %d", day.AvgResponseTime)
	}

	// Day with no checks yields nil, not a zero row.
	empty, err := store.AggregateChecksForDay(ctx, 1, "2026-08-21")
	if err != nil {
		t.Fatal(err)
	}
	if empty != nil {
		t.Fatalf("expected nil for empty day, got %+v", empty)
	}
}

func TestUpsertStatusHistoryDay(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	putMonitors(t, store, testMonitor(1, "web"))

	d := &StatusHistoryDay{MonitorID: 1, Date: "2026-08-20", UptimePct: 50, AvgResponseTime: 100, TotalChecks: 2, SuccessfulChecks: 1}
	if err := store.UpsertStatusHistoryDay(ctx, d); err != nil {
		t.Fatal(err)
	}
	d.UptimePct = 100
	d.SuccessfulChecks = 2
	if err := store.UpsertStatusHistoryDay(ctx, d); err != nil {
		t.Fatal(err)
	}

	days, err := store.ListStatusHistory(ctx, 1, "2026-08-01", "2026-08-31")
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 1 {
		t.Fatalf("expected 1 row after upsert, got %d", len(days))
	}
	if days[0].UptimePct != 100 {
		t.Fatalf("expected updated row, got %+v", days[0])
	}
}

func TestDaysWithChecksMissingHistory(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	putMonitors(t, store, testMonitor(1, "web"))

	seedDay(t, store, 1, "2026-08-19", []string{CheckUp}, 80)
	seedDay(t, store, 1, "2026-08-20", []string{CheckUp}, 80)

	// One day already summarized.
	if err := store.UpsertStatusHistoryDay(ctx, &StatusHistoryDay{
		MonitorID: 1, Date: "2026-08-19", UptimePct: 100, AvgResponseTime: 80, TotalChecks: 1, SuccessfulChecks: 1,
	}); err != nil {
		t.Fatal(err)
	}

	missing, err := store.DaysWithChecksMissingHistory(ctx, "2026-08-01")
	if err != nil {
		t.Fatal(err)
	}
	dates, ok := missing[1]
	if !ok || len(dates) != 1 || dates[0] != "2026-08-20" {
		t.Fatalf("expected only 2026-08-20 missing, got %v", missing)
	}
}

func TestMonitorsWithChecksOn(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	putMonitors(t, store, testMonitor(1, "web"), testMonitor(2, "api"))

	seedDay(t, store, 1, "2026-08-20", []string{CheckUp}, 80)
	seedDay(t, store, 2, "2026-08-21", []string{CheckDown}, 0)

	ids, err := store.MonitorsWithChecksOn(ctx, "2026-08-20")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("expected [1], got %v", ids)
	}
}

func TestDeleteStatusHistoryBefore(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	putMonitors(t, store, testMonitor(1, "web"))

	for _, date := range []string{"2025-01-01", "2026-08-20"} {
		if err := store.UpsertStatusHistoryDay(ctx, &StatusHistoryDay{
			MonitorID: 1, Date: date, UptimePct: 100, TotalChecks: 1, SuccessfulChecks: 1,
		}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := store.DeleteStatusHistoryBefore(ctx, "2026-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}
}
