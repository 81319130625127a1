// Package engine wires the durable queue, worker pool, and incident
// pipeline into one monitoring loop:
// Claim loop -> Workers -> Result pipeline -> Incident detector -> Events
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/varunahq/varuna/internal/incident"
	"github.com/varunahq/varuna/internal/maintenance"
	"github.com/varunahq/varuna/internal/metrics"
	"github.com/varunahq/varuna/internal/queue"
	"github.com/varunahq/varuna/internal/runner"
	"github.com/varunahq/varuna/internal/storage"
)

// Options tune the engine loops. Zero values fall back to defaults.
type Options struct {
	Workers         int
	ClaimsPerSecond float64
	LeaseTimeout    time.Duration
	DrainTimeout    time.Duration
}

const (
	defaultWorkers         = 10
	defaultClaimsPerSecond = 50
	defaultDrainTimeout    = 30 * time.Second

	// jobGrace pads the per-job context past the probe timeout so the
	// probe, not the worker, decides when a check times out.
	jobGrace = 10 * time.Second

	eventBuffer = 100
)

// MonitorSet is one complete configuration generation: the monitors,
// their fixed maintenance windows, and the recurring daily rules.
type MonitorSet struct {
	Monitors []*storage.Monitor
	Fixed    []*storage.MaintenanceWindow
	Daily    map[int64][]maintenance.DailyWindow
}

type workerResult struct {
	job     *storage.QueueJob
	monitor *storage.Monitor
	result  *runner.CheckResult
}

// Engine runs the full check loop against a monitor set.
type Engine struct {
	store    storage.Store
	queue    *queue.Queue
	runner   *runner.Runner
	detector *incident.Detector
	oracle   *maintenance.Oracle
	metrics  *metrics.Metrics
	logger   *slog.Logger
	opts     Options

	jobs    chan *storage.QueueJob
	results chan workerResult
	events  chan incident.Event

	mu       sync.RWMutex
	monitors map[int64]*storage.Monitor

	startedAt     time.Time
	checksRun     atomic.Int64
	droppedEvents atomic.Int64
}

func New(store storage.Store, q *queue.Queue, r *runner.Runner, detector *incident.Detector,
	oracle *maintenance.Oracle, m *metrics.Metrics, opts Options, logger *slog.Logger) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.ClaimsPerSecond <= 0 {
		opts.ClaimsPerSecond = defaultClaimsPerSecond
	}
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = queue.DefaultLeaseTimeout
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}

	return &Engine{
		store:    store,
		queue:    q,
		runner:   r,
		detector: detector,
		oracle:   oracle,
		metrics:  m,
		logger:   logger,
		opts:     opts,
		jobs:     make(chan *storage.QueueJob, opts.Workers*2),
		results:  make(chan workerResult, opts.Workers*2),
		events:   make(chan incident.Event, eventBuffer),
		monitors: make(map[int64]*storage.Monitor),
	}
}

// Events exposes incident lifecycle events. Consumers that fall
// behind lose events; the drop counter records how many.
func (e *Engine) Events() <-chan incident.Event {
	return e.events
}

// Run blocks until ctx is canceled, then drains in-flight work within
// the drain timeout.
func (e *Engine) Run(ctx context.Context) error {
	e.startedAt = time.Now().UTC()

	var claimWG, workerWG, pipeWG sync.WaitGroup

	claimWG.Add(1)
	go func() {
		defer claimWG.Done()
		defer close(e.jobs)
		e.claimLoop(ctx)
	}()

	for i := 0; i < e.opts.Workers; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			e.worker()
		}()
	}

	pipeWG.Add(1)
	go func() {
		defer pipeWG.Done()
		e.pipeline()
	}()

	e.logger.Info("engine started",
		slog.Int("workers", e.opts.Workers),
		slog.Float64("claims_per_second", e.opts.ClaimsPerSecond))

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		claimWG.Wait()
		workerWG.Wait()
		close(e.results)
		pipeWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("engine drained")
	case <-time.After(e.opts.DrainTimeout):
		e.logger.Warn("engine drain timeout exceeded",
			slog.Duration("timeout", e.opts.DrainTimeout))
	}
	return nil
}

// Reload applies a new monitor set: one store transaction for
// monitors and fixed windows, then the daily rules, then the queue is
// rebuilt with one repeating job per monitor. Identical input is
// idempotent.
func (e *Engine) Reload(ctx context.Context, set *MonitorSet) error {
	if err := e.store.ReplaceMonitors(ctx, set.Monitors, set.Fixed); err != nil {
		return fmt.Errorf("replace monitors: %w", err)
	}

	e.oracle.ReplaceDaily(set.Daily)

	if err := e.queue.RemoveAll(ctx); err != nil {
		return fmt.Errorf("rebuild queue: %w", err)
	}
	for _, m := range set.Monitors {
		every := time.Duration(m.IntervalSecs) * time.Second
		if err := e.queue.AddRepeating(ctx, m.ID, every); err != nil {
			return fmt.Errorf("schedule monitor %d: %w", m.ID, err)
		}
	}

	byID := make(map[int64]*storage.Monitor, len(set.Monitors))
	for _, m := range set.Monitors {
		byID[m.ID] = m
	}
	e.mu.Lock()
	e.monitors = byID
	e.mu.Unlock()

	e.logger.Info("configuration applied", slog.Int("monitors", len(set.Monitors)))
	return nil
}

func (e *Engine) monitor(id int64) *storage.Monitor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.monitors[id]
}

// Stats is the /statusz payload.
type Stats struct {
	StartedAt     time.Time           `json:"started_at"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Workers       int                 `json:"workers"`
	Monitors      int                 `json:"monitors"`
	ChecksRun     int64               `json:"checks_run"`
	DroppedEvents int64               `json:"dropped_events"`
	Queue         *storage.QueueDepth `json:"queue"`
}

func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	depth, err := e.queue.Depth(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue depth: %w", err)
	}

	e.mu.RLock()
	monitors := len(e.monitors)
	e.mu.RUnlock()

	return &Stats{
		StartedAt:     e.startedAt,
		UptimeSeconds: int64(time.Since(e.startedAt).Seconds()),
		Workers:       e.opts.Workers,
		Monitors:      monitors,
		ChecksRun:     e.checksRun.Load(),
		DroppedEvents: e.droppedEvents.Load(),
		Queue:         depth,
	}, nil
}
