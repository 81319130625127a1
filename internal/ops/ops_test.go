package ops

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/varunahq/varuna/internal/engine"
	"github.com/varunahq/varuna/internal/incident"
	"github.com/varunahq/varuna/internal/maintenance"
	"github.com/varunahq/varuna/internal/metrics"
	"github.com/varunahq/varuna/internal/probe"
	"github.com/varunahq/varuna/internal/queue"
	"github.com/varunahq/varuna/internal/runner"
	"github.com/varunahq/varuna/internal/storage"
)

func testServer(t *testing.T) *httptest.Server {
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
	m := metrics.New()
	eng := engine.New(store, q, r, detector, oracle, m, engine.Options{}, logger)

	s := NewServer("127.0.0.1:0", store, eng, m, logger)
	srv := httptest.NewServer(s.http.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok\n" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestStatusz(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/statusz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var stats struct {
		Monitors int `json:"monitors"`
		Queue    struct {
			Pending int64 `json:"pending"`
		} `json:"queue"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Monitors != 0 {
		t.Fatalf("fresh engine should report 0 monitors, got %d", stats.Monitors)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatal("expected runtime collector output")
	}
}
