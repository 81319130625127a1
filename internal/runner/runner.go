package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/varunahq/varuna/internal/condition"
	"github.com/varunahq/varuna/internal/probe"
	"github.com/varunahq/varuna/internal/storage"
)

// DefaultConcurrency bounds RunChecks fan-out when no limit is set.
const DefaultConcurrency = 20

// CheckResult is the full outcome of one check: the transport result
// plus the per-condition verdicts, in monitor condition order.
type CheckResult struct {
	MonitorID        int64               `json:"monitor_id"`
	MonitorName      string              `json:"monitor_name"`
	Timestamp        time.Time           `json:"timestamp"`
	Success          bool                `json:"success"`
	ResponseTime     int64               `json:"response_time_ms"`
	Error            string              `json:"error,omitempty"`
	ConditionResults []condition.Outcome `json:"condition_results"`
}

// Runner executes checks against monitors. Condition ASTs are cached
// across runs so each distinct text parses once.
type Runner struct {
	registry    *probe.Registry
	conditions  *condition.Cache
	concurrency int
	logger      *slog.Logger
}

func New(registry *probe.Registry, concurrency int, logger *slog.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Runner{
		registry:    registry,
		conditions:  condition.NewCache(),
		concurrency: concurrency,
		logger:      logger,
	}
}

// RunCheck probes one monitor and evaluates its conditions. It always
// returns a result: unknown monitor types and prober panics become
// failed results, never errors.
func (r *Runner) RunCheck(ctx context.Context, monitor *storage.Monitor) (result *CheckResult) {
	now := time.Now().UTC()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("check panicked",
				slog.Int64("monitor_id", monitor.ID),
				slog.Any("panic", rec))
			result = &CheckResult{
				MonitorID:        monitor.ID,
				MonitorName:      monitor.Name,
				Timestamp:        now,
				Success:          false,
				Error:            fmt.Sprintf("check panicked: %v", rec),
				ConditionResults: []condition.Outcome{},
			}
		}
	}()

	prober, err := r.registry.Get(monitor.Type)
	if err != nil {
		return &CheckResult{
			MonitorID:        monitor.ID,
			MonitorName:      monitor.Name,
			Timestamp:        now,
			Success:          false,
			Error:            err.Error(),
			ConditionResults: []condition.Outcome{},
		}
	}

	probeResult := prober.Probe(ctx, monitor)
	outcomes := r.conditions.EvaluateAll(monitor.Conditions, probeResult.Context)

	success := probeResult.Success
	for _, o := range outcomes {
		if !o.Passed {
			success = false
			break
		}
	}

	errMsg := probeResult.Error
	if errMsg == "" && !success {
		errMsg = firstFailedCondition(outcomes)
	}

	return &CheckResult{
		MonitorID:        monitor.ID,
		MonitorName:      monitor.Name,
		Timestamp:        now,
		Success:          success,
		ResponseTime:     probeResult.ResponseTime,
		Error:            errMsg,
		ConditionResults: outcomes,
	}
}

func firstFailedCondition(outcomes []condition.Outcome) string {
	for _, o := range outcomes {
		if !o.Passed {
			return fmt.Sprintf("condition failed: %s", o.Condition)
		}
	}
	return ""
}

// RunChecks probes all monitors with bounded concurrency and returns
// one result per monitor, in input order.
func (r *Runner) RunChecks(ctx context.Context, monitors []*storage.Monitor) []*CheckResult {
	results := make([]*CheckResult, len(monitors))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, m := range monitors {
		i, m := i, m
		g.Go(func() error {
			results[i] = r.RunCheck(ctx, m)
			return nil
		})
	}
	g.Wait()

	return results
}
