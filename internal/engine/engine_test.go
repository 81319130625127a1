package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/varunahq/varuna/internal/incident"
	"github.com/varunahq/varuna/internal/maintenance"
	"github.com/varunahq/varuna/internal/metrics"
	"github.com/varunahq/varuna/internal/probe"
	"github.com/varunahq/varuna/internal/queue"
	"github.com/varunahq/varuna/internal/runner"
	"github.com/varunahq/varuna/internal/storage"
)

func testEngine(t *testing.T) *Engine {
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

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(store, 1, logger)
	r := runner.New(probe.NewRegistry(), 4, logger)
	oracle := maintenance.NewOracle(store)
	detector := incident.NewDetector(store, oracle, 2, logger)

	return New(store, q, r, detector, oracle, metrics.New(), Options{}, logger)
}

func testSet(ids ...int64) *MonitorSet {
	set := &MonitorSet{Daily: map[int64][]maintenance.DailyWindow{}}
	for _, id := range ids {
		set.Monitors = append(set.Monitors, &storage.Monitor{
			ID: id, Name: "web", Type: "http", URL: "https://example.com",
			IntervalSecs: 60, TimeoutSecs: 10, Conditions: []string{},
		})
	}
	return set
}

func TestReloadSchedulesOneJobPerMonitor(t *testing.T) {
	eng := testEngine(t)
	ctx := context.Background()

	if err := eng.Reload(ctx, testSet(1, 2)); err != nil {
		t.Fatal(err)
	}

	stats, err := eng.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Monitors != 2 {
		t.Fatalf("expected 2 monitors, got %d", stats.Monitors)
	}
	if stats.Queue.Pending != 2 {
		t.Fatalf("expected 2 pending jobs, got %d", stats.Queue.Pending)
	}

	if eng.monitor(1) == nil || eng.monitor(2) == nil {
		t.Fatal("monitor lookup should find both monitors")
	}
	if eng.monitor(99) != nil {
		t.Fatal("unknown monitor id should return nil")
	}
}

func TestReloadShrinksToNewSet(t *testing.T) {
	eng := testEngine(t)
	ctx := context.Background()

	if err := eng.Reload(ctx, testSet(1, 2, 3)); err != nil {
		t.Fatal(err)
	}
	if err := eng.Reload(ctx, testSet(1)); err != nil {
		t.Fatal(err)
	}

	stats, err := eng.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Monitors != 1 {
		t.Fatalf("expected 1 monitor after shrink, got %d", stats.Monitors)
	}
	if stats.Queue.Pending != 1 {
		t.Fatalf("stale jobs should be drained on reload, pending=%d", stats.Queue.Pending)
	}
	if eng.monitor(2) != nil {
		t.Fatal("removed monitor should no longer resolve")
	}
}

func TestReloadIsIdempotent(t *testing.T) {
	eng := testEngine(t)
	ctx := context.Background()

	if err := eng.Reload(ctx, testSet(1)); err != nil {
		t.Fatal(err)
	}
	if err := eng.Reload(ctx, testSet(1)); err != nil {
		t.Fatal(err)
	}

	stats, err := eng.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Queue.Pending != 1 {
		t.Fatalf("identical reload should leave one pending job, got %d", stats.Queue.Pending)
	}
}
