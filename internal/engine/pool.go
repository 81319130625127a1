package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/varunahq/varuna/internal/probe"
	"github.com/varunahq/varuna/internal/storage"
)

// worker consumes claimed jobs until the jobs channel closes. Each
// job gets its own context so one slow probe cannot be killed by
// shutdown mid-flight; the queue lease covers true runaways.
func (e *Engine) worker() {
	for job := range e.jobs {
		e.runJob(job)
	}
}

func (e *Engine) runJob(job *storage.QueueJob) {
	mon := e.monitor(job.MonitorID)
	if mon == nil {
		// Monitor removed by a reload after this job was enqueued.
		// Completing ends the series; the repeating definition is gone.
		if err := e.queue.Complete(context.Background(), job); err != nil {
			e.logger.Error("complete orphan job",
				slog.String("job_id", job.ID), slog.Any("error", err))
		}
		return
	}

	timeout := probe.DefaultTimeout
	if mon.TimeoutSecs > 0 {
		timeout = time.Duration(mon.TimeoutSecs) * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout+jobGrace)
	defer cancel()

	start := time.Now()
	result := e.runner.RunCheck(ctx, mon)
	e.checksRun.Add(1)

	e.metrics.ChecksTotal.WithLabelValues(mon.Type, statusLabel(result.Success)).Inc()
	e.metrics.CheckDuration.WithLabelValues(mon.Type).Observe(time.Since(start).Seconds())

	e.results <- workerResult{job: job, monitor: mon, result: result}
}

func statusLabel(success bool) string {
	if success {
		return storage.CheckUp
	}
	return storage.CheckDown
}

// updateQueueGauges refreshes the per-state depth gauges.
func (e *Engine) updateQueueGauges(ctx context.Context) {
	depth, err := e.queue.Depth(ctx)
	if err != nil {
		return
	}
	e.metrics.QueueDepth.WithLabelValues(storage.JobPending).Set(float64(depth.Pending))
	e.metrics.QueueDepth.WithLabelValues(storage.JobClaimed).Set(float64(depth.Claimed))
	e.metrics.QueueDepth.WithLabelValues(storage.JobCompleted).Set(float64(depth.Completed))
	e.metrics.QueueDepth.WithLabelValues(storage.JobFailed).Set(float64(depth.Failed))
}
