package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

const (
	claimTick   = time.Second
	reclaimTick = 30 * time.Second
)

// claimLoop pulls due jobs from the durable queue and feeds the
// workers. Claims are rate-limited so a backlog after downtime does
// not stampede; stale claims from dead workers are reclaimed
// periodically. Queue failures pause production, never crash the
// engine.
func (e *Engine) claimLoop(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Limit(e.opts.ClaimsPerSecond), int(e.opts.ClaimsPerSecond))

	ticker := time.NewTicker(claimTick)
	defer ticker.Stop()
	reclaim := time.NewTicker(reclaimTick)
	defer reclaim.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reclaim.C:
			if _, err := e.queue.ReclaimStale(ctx, e.opts.LeaseTimeout); err != nil {
				e.logger.Error("reclaim stale jobs", slog.Any("error", err))
			}
		case <-ticker.C:
			e.claimDue(ctx, limiter)
		}
	}
}

func (e *Engine) claimDue(ctx context.Context, limiter *rate.Limiter) {
	for limiter.Allow() {
		job, err := e.queue.Claim(ctx)
		if err != nil {
			e.logger.Error("claim job", slog.Any("error", err))
			return
		}
		if job == nil {
			return
		}

		select {
		case e.jobs <- job:
		case <-ctx.Done():
			// Shutting down with an unstarted claim; give it back.
			if err := e.queue.Release(context.Background(), job); err != nil {
				e.logger.Error("release job on shutdown",
					slog.String("job_id", job.ID), slog.Any("error", err))
			}
			return
		}
	}
}
