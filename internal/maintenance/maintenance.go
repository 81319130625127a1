// Package maintenance answers whether a monitor is inside a
// maintenance window at a given instant. Fixed windows live in the
// store; daily recurring windows are wall-clock rules held in memory
// and evaluated in their own timezone, including overnight spans.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/varunahq/varuna/internal/storage"
)

// DailyWindow recurs every day between two wall-clock times in a
// timezone. Start after End means the window wraps past midnight.
type DailyWindow struct {
	Start       string // "15:04"
	End         string // "15:04"
	Timezone    string
	Description string
}

// Status reports an active window. EndsAt is the next instant the
// window closes, nil when it could not be computed.
type Status struct {
	Active      bool
	Description string
	EndsAt      *time.Time
}

// Oracle resolves maintenance state. Daily rules take precedence over
// fixed windows when both cover the same instant.
type Oracle struct {
	store storage.Store

	mu    sync.RWMutex
	daily map[int64][]DailyWindow
}

func NewOracle(store storage.Store) *Oracle {
	return &Oracle{store: store, daily: make(map[int64][]DailyWindow)}
}

// ReplaceDaily swaps the full set of daily rules, keyed by monitor ID.
// Key 0 holds global rules applying to every monitor.
func (o *Oracle) ReplaceDaily(daily map[int64][]DailyWindow) {
	copied := make(map[int64][]DailyWindow, len(daily))
	for id, ws := range daily {
		copied[id] = append([]DailyWindow(nil), ws...)
	}
	o.mu.Lock()
	o.daily = copied
	o.mu.Unlock()
}

// InMaintenance reports the monitor's maintenance state at instant at.
func (o *Oracle) InMaintenance(ctx context.Context, monitorID int64, at time.Time) (*Status, error) {
	if st := o.dailyStatus(monitorID, at); st.Active {
		return st, nil
	}

	w, err := o.store.ActiveMaintenanceWindow(ctx, monitorID, at.UTC())
	if err != nil {
		return nil, fmt.Errorf("query maintenance window: %w", err)
	}
	if w == nil {
		return &Status{}, nil
	}
	end := w.EndTime
	return &Status{Active: true, Description: w.Description, EndsAt: &end}, nil
}

func (o *Oracle) dailyStatus(monitorID int64, at time.Time) *Status {
	o.mu.RLock()
	windows := append(append([]DailyWindow(nil), o.daily[monitorID]...), o.daily[0]...)
	o.mu.RUnlock()

	for _, w := range windows {
		if st := w.statusAt(at); st.Active {
			return st
		}
	}
	return &Status{}
}

func (w *DailyWindow) statusAt(at time.Time) *Status {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return &Status{}
	}
	startMin, err := parseClock(w.Start)
	if err != nil {
		return &Status{}
	}
	endMin, err := parseClock(w.End)
	if err != nil {
		return &Status{}
	}

	local := at.In(loc)
	nowMin := local.Hour()*60 + local.Minute()

	var active bool
	if startMin <= endMin {
		active = nowMin >= startMin && nowMin < endMin
	} else {
		// Overnight window, e.g. 22:00 to 06:00.
		active = nowMin >= startMin || nowMin < endMin
	}
	if !active {
		return &Status{}
	}

	end := nextClockOccurrence(local, endMin)
	return &Status{Active: true, Description: w.Description, EndsAt: &end}
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// nextClockOccurrence finds the next time the given minute-of-day
// occurs at or after now, in now's location.
func nextClockOccurrence(now time.Time, minOfDay int) time.Time {
	end := time.Date(now.Year(), now.Month(), now.Day(), minOfDay/60, minOfDay%60, 0, 0, now.Location())
	if !end.After(now) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

// ListFixed exposes the stored fixed windows for introspection.
func (o *Oracle) ListFixed(ctx context.Context) ([]*storage.MaintenanceWindow, error) {
	return o.store.ListMaintenanceWindows(ctx)
}
