// Package history maintains daily uptime summaries. An hourly cron
// pass keeps today's row fresh, a post-midnight pass finalizes
// yesterday, and a nightly retention pass trims raw checks and old
// summary rows. All day boundaries are UTC.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/varunahq/varuna/internal/metrics"
	"github.com/varunahq/varuna/internal/storage"
)

const dateFormat = "2006-01-02"

// Retention defaults, in days. Summaries outlive raw checks so uptime
// history survives check pruning.
const (
	DefaultCheckRetentionDays   = 90
	DefaultHistoryRetentionDays = 365
)

// Aggregator rolls raw checks into status_history rows on a schedule.
type Aggregator struct {
	store                storage.Store
	metrics              *metrics.Metrics
	checkRetentionDays   int
	historyRetentionDays int
	logger               *slog.Logger

	cron *cron.Cron
}

func NewAggregator(store storage.Store, m *metrics.Metrics, checkRetentionDays, historyRetentionDays int, logger *slog.Logger) *Aggregator {
	if checkRetentionDays <= 0 {
		checkRetentionDays = DefaultCheckRetentionDays
	}
	if historyRetentionDays <= 0 {
		historyRetentionDays = DefaultHistoryRetentionDays
	}
	return &Aggregator{
		store:                store,
		metrics:              m,
		checkRetentionDays:   checkRetentionDays,
		historyRetentionDays: historyRetentionDays,
		logger:               logger,
	}
}

// Start registers the cron schedule and launches it. Entries run in
// UTC to match day boundaries.
func (a *Aggregator) Start(ctx context.Context) error {
	a.cron = cron.New(cron.WithLocation(time.UTC))

	jobs := []struct {
		spec string
		name string
		fn   func(context.Context) error
	}{
		{"5 * * * *", "aggregate today", a.AggregateToday},
		{"10 0 * * *", "finalize yesterday", a.FinalizeYesterday},
		{"30 3 * * *", "retention", a.RunRetention},
	}
	for _, j := range jobs {
		name, fn := j.name, j.fn
		if _, err := a.cron.AddFunc(j.spec, func() {
			if err := fn(ctx); err != nil {
				a.logger.Error("history job failed", slog.String("job", name), slog.Any("error", err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
	}

	a.cron.Start()
	a.logger.Info("history aggregator started",
		slog.Int("check_retention_days", a.checkRetentionDays),
		slog.Int("history_retention_days", a.historyRetentionDays))
	return nil
}

// Stop halts the cron scheduler and waits for running jobs.
func (a *Aggregator) Stop() {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
}

// AggregateToday refreshes the current UTC day's summary row for every
// monitor that has checks today. Upserts make repeated runs
// idempotent.
func (a *Aggregator) AggregateToday(ctx context.Context) error {
	return a.aggregateDate(ctx, time.Now().UTC().Format(dateFormat))
}

// FinalizeYesterday writes the closing summary for the previous UTC
// day.
func (a *Aggregator) FinalizeYesterday(ctx context.Context) error {
	return a.aggregateDate(ctx, time.Now().UTC().AddDate(0, 0, -1).Format(dateFormat))
}

func (a *Aggregator) aggregateDate(ctx context.Context, date string) error {
	ids, err := a.store.MonitorsWithChecksOn(ctx, date)
	if err != nil {
		return fmt.Errorf("monitors with checks on %s: %w", date, err)
	}
	for _, id := range ids {
		if err := a.aggregateOne(ctx, id, date); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) aggregateOne(ctx context.Context, monitorID int64, date string) error {
	day, err := a.store.AggregateChecksForDay(ctx, monitorID, date)
	if err != nil {
		return fmt.Errorf("aggregate checks monitor=%d date=%s: %w", monitorID, date, err)
	}
	if day == nil {
		return nil
	}
	if err := a.store.UpsertStatusHistoryDay(ctx, day); err != nil {
		return fmt.Errorf("upsert history monitor=%d date=%s: %w", monitorID, date, err)
	}
	return nil
}

// Backfill writes summary rows for past days that have checks but no
// history yet, looking back over the check retention horizon. Run once
// at startup so downtime never leaves gaps.
func (a *Aggregator) Backfill(ctx context.Context) error {
	today := time.Now().UTC().Format(dateFormat)
	since := time.Now().UTC().AddDate(0, 0, -a.checkRetentionDays).Format(dateFormat)

	missing, err := a.store.DaysWithChecksMissingHistory(ctx, since)
	if err != nil {
		return fmt.Errorf("days missing history: %w", err)
	}

	filled := 0
	for monitorID, dates := range missing {
		for _, date := range dates {
			// Today is still accumulating; the hourly pass owns it.
			if date == today {
				continue
			}
			if err := a.aggregateOne(ctx, monitorID, date); err != nil {
				return err
			}
			filled++
		}
	}
	if filled > 0 {
		a.logger.Info("backfilled status history", slog.Int("days", filled))
	}
	return nil
}

// RunRetention deletes raw checks and summary rows past their
// retention horizons.
func (a *Aggregator) RunRetention(ctx context.Context) error {
	checkCutoff := time.Now().UTC().AddDate(0, 0, -a.checkRetentionDays)
	checks, err := a.store.DeleteChecksBefore(ctx, checkCutoff)
	if err != nil {
		return fmt.Errorf("delete old checks: %w", err)
	}
	if checks > 0 {
		a.metrics.ChecksPruned.Add(float64(checks))
	}

	historyCutoff := time.Now().UTC().AddDate(0, 0, -a.historyRetentionDays).Format(dateFormat)
	days, err := a.store.DeleteStatusHistoryBefore(ctx, historyCutoff)
	if err != nil {
		return fmt.Errorf("delete old history: %w", err)
	}

	if checks > 0 || days > 0 {
		a.logger.Info("retention pass complete",
			slog.Int64("checks_deleted", checks),
			slog.Int64("history_rows_deleted", days))
	}
	return nil
}

// HistoryWithFallback returns the date range's summary rows, filling
// dates that have raw checks but no summary row yet with a fresh
// aggregation. Fresh aggregation wins over a stale stored row for the
// current day.
func (a *Aggregator) HistoryWithFallback(ctx context.Context, monitorID int64, fromDate, toDate string) ([]*storage.StatusHistoryDay, error) {
	stored, err := a.store.ListStatusHistory(ctx, monitorID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}

	byDate := make(map[string]*storage.StatusHistoryDay, len(stored))
	for _, d := range stored {
		byDate[d.Date] = d
	}

	today := time.Now().UTC().Format(dateFormat)
	if today >= fromDate && today <= toDate {
		if fresh, err := a.store.AggregateChecksForDay(ctx, monitorID, today); err == nil && fresh != nil {
			byDate[today] = fresh
		}
	}

	out := make([]*storage.StatusHistoryDay, 0, len(byDate))
	from, err := time.Parse(dateFormat, fromDate)
	if err != nil {
		return nil, fmt.Errorf("bad from date %q: %w", fromDate, err)
	}
	to, err := time.Parse(dateFormat, toDate)
	if err != nil {
		return nil, fmt.Errorf("bad to date %q: %w", toDate, err)
	}
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if row, ok := byDate[d.Format(dateFormat)]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}
