package history

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/varunahq/varuna/internal/metrics"
	"github.com/varunahq/varuna/internal/storage"
)

func testAggregator(t *testing.T, checkDays, historyDays int) (*Aggregator, storage.Store) {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "varuna-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	store, err := storage.NewSQLiteStore(tmpFile.Name(), 2)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	monitors := []*storage.Monitor{{
		ID: 1, Name: "web", Type: "http", URL: "https://example.com", IntervalSecs: 60,
	}}
	if err := store.ReplaceMonitors(context.Background(), monitors, nil); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAggregator(store, metrics.New(), checkDays, historyDays, logger), store
}

func seedChecks(t *testing.T, store storage.Store, at time.Time, statuses ...string) {
	t.Helper()
	for i, status := range statuses {
		err := store.InsertCheck(context.Background(), &storage.Check{
			MonitorID:    1,
			Status:       status,
			ResponseTime: 100,
			CheckedAt:    at.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestAggregateTodayIsIdempotent(t *testing.T) {
	agg, store := testAggregator(t, 90, 365)
	ctx := context.Background()

	today := time.Now().UTC().Truncate(24 * time.Hour).Add(time.Hour)
	seedChecks(t, store, today, storage.CheckUp, storage.CheckUp, storage.CheckDown, storage.CheckUp)

	if err := agg.AggregateToday(ctx); err != nil {
		t.Fatal(err)
	}
	if err := agg.AggregateToday(ctx); err != nil {
		t.Fatal(err)
	}

	date := time.Now().UTC().Format("2006-01-02")
	days, err := store.ListStatusHistory(ctx, 1, date, date)
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 1 {
		t.Fatalf("expected exactly one row after re-aggregation, got %d", len(days))
	}
	if days[0].TotalChecks != 4 || days[0].SuccessfulChecks != 3 {
		t.Fatalf("unexpected roll-up: %+v", days[0])
	}
	if days[0].UptimePct != 75 {
		t.Fatalf("expected 75%%, got %v", days[0].UptimePct)
	}
}

func TestBackfillFillsGaps(t *testing.T) {
	agg, store := testAggregator(t, 90, 365)
	ctx := context.Background()

	twoDaysAgo := time.Now().UTC().AddDate(0, 0, -2).Truncate(24 * time.Hour).Add(time.Hour)
	seedChecks(t, store, twoDaysAgo, storage.CheckUp, storage.CheckUp)

	if err := agg.Backfill(ctx); err != nil {
		t.Fatal(err)
	}

	date := twoDaysAgo.Format("2006-01-02")
	days, err := store.ListStatusHistory(ctx, 1, date, date)
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 1 {
		t.Fatalf("expected a backfilled row for %s, got %d rows", date, len(days))
	}
	if days[0].UptimePct != 100 {
		t.Fatalf("unexpected backfilled row: %+v", days[0])
	}

	// Running backfill again finds nothing to do.
	if err := agg.Backfill(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestRetentionOutlivesRawChecks(t *testing.T) {
	agg, store := testAggregator(t, 7, 30)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -10).Truncate(24 * time.Hour).Add(time.Hour)
	seedChecks(t, store, old, storage.CheckUp, storage.CheckDown)
	oldDate := old.Format("2006-01-02")

	// Summarize the old day before retention removes its raw rows.
	day, err := store.AggregateChecksForDay(ctx, 1, oldDate)
	if err != nil || day == nil {
		t.Fatalf("aggregate failed: %v %v", day, err)
	}
	if err := store.UpsertStatusHistoryDay(ctx, day); err != nil {
		t.Fatal(err)
	}

	if err := agg.RunRetention(ctx); err != nil {
		t.Fatal(err)
	}

	checks, err := store.RecentChecks(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(checks) != 0 {
		t.Fatalf("expected raw checks past retention deleted, got %d", len(checks))
	}

	// The summary row survives: 30-day history retention.
	days, err := store.ListStatusHistory(ctx, 1, oldDate, oldDate)
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 1 || days[0].UptimePct != 50 {
		t.Fatalf("expected the summary to outlive raw checks, got %v", days)
	}

	if got := testutil.ToFloat64(agg.metrics.ChecksPruned); got != 2 {
		t.Fatalf("expected 2 pruned checks counted, got %v", got)
	}
}

func TestHistoryWithFallback(t *testing.T) {
	agg, store := testAggregator(t, 90, 365)
	ctx := context.Background()

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	if err := store.UpsertStatusHistoryDay(ctx, &storage.StatusHistoryDay{
		MonitorID: 1, Date: yesterday.Format("2006-01-02"),
		UptimePct: 99.5, AvgResponseTime: 80, TotalChecks: 1440, SuccessfulChecks: 1433,
	}); err != nil {
		t.Fatal(err)
	}

	// Today has raw checks but no summary row yet.
	todayStart := time.Now().UTC().Truncate(24 * time.Hour)
	seedChecks(t, store, todayStart.Add(time.Minute), storage.CheckUp, storage.CheckUp)

	from := yesterday.Format("2006-01-02")
	to := time.Now().UTC().Format("2006-01-02")
	days, err := agg.HistoryWithFallback(ctx, 1, from, to)
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 2 {
		t.Fatalf("expected stored yesterday plus fresh today, got %d rows", len(days))
	}
	if days[0].Date != from || days[0].UptimePct != 99.5 {
		t.Fatalf("unexpected first row: %+v", days[0])
	}
	if days[1].Date != to || days[1].TotalChecks != 2 || days[1].UptimePct != 100 {
		t.Fatalf("unexpected fresh today row: %+v", days[1])
	}
}
