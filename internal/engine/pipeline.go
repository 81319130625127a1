package engine

import (
	"context"
	"log/slog"
)

// pipeline consumes worker results: persist the check, drive incident
// state, settle the queue job, and emit lifecycle events without
// blocking the loop.
func (e *Engine) pipeline() {
	for wr := range e.results {
		e.handleResult(wr)
	}
}

func (e *Engine) handleResult(wr workerResult) {
	// Detached context so a shutdown signal cannot lose a result that
	// already cost a probe.
	ctx := context.Background()

	event, err := e.detector.Process(ctx, wr.result)
	if err != nil {
		e.logger.Error("process check result",
			slog.Int64("monitor_id", wr.result.MonitorID),
			slog.Any("error", err))
		willRetry := wr.job.Attempts < wr.job.MaxAttempts
		if failErr := e.queue.Fail(ctx, wr.job, err); failErr != nil {
			e.logger.Error("fail job", slog.String("job_id", wr.job.ID), slog.Any("error", failErr))
		} else if willRetry {
			e.metrics.JobsRetried.Inc()
		}
		return
	}

	if err := e.queue.Complete(ctx, wr.job); err != nil {
		e.logger.Error("complete job", slog.String("job_id", wr.job.ID), slog.Any("error", err))
	}

	e.updateQueueGauges(ctx)

	if event != nil {
		e.metrics.IncidentsTotal.WithLabelValues(event.Kind).Inc()
		select {
		case e.events <- *event:
		default:
			e.droppedEvents.Add(1)
			e.metrics.EventsDropped.Inc()
			e.logger.Warn("event channel full, dropping event",
				slog.String("kind", event.Kind),
				slog.Int64("monitor_id", event.MonitorID))
		}
	}
}
