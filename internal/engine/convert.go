package engine

import (
	"time"

	"github.com/varunahq/varuna/internal/config"
	"github.com/varunahq/varuna/internal/maintenance"
	"github.com/varunahq/varuna/internal/storage"
)

// SetFromConfig translates validated configuration into the monitor
// set the engine applies on startup and reload.
func SetFromConfig(cfg *config.Config) *MonitorSet {
	set := &MonitorSet{
		Monitors: make([]*storage.Monitor, 0, len(cfg.Monitors)),
		Daily:    make(map[int64][]maintenance.DailyWindow),
	}

	for i := range cfg.Monitors {
		mc := &cfg.Monitors[i]

		timeoutSecs := mc.Timeout
		if timeoutSecs <= 0 {
			timeoutSecs = int(cfg.Engine.DefaultTimeout / time.Second)
		}

		conditions := mc.Conditions
		if conditions == nil {
			conditions = []string{}
		}

		set.Monitors = append(set.Monitors, &storage.Monitor{
			ID:           mc.ID,
			Name:         mc.Name,
			Group:        mc.Group,
			Type:         mc.Type,
			URL:          mc.URL,
			IntervalSecs: mc.Interval,
			TimeoutSecs:  timeoutSecs,
			Public:       mc.IsPublic(),
			Conditions:   conditions,
			DNSQueryName: mc.DNS.QueryName,
			DNSQueryType: mc.DNS.QueryType,
		})

		for j := range mc.Maintenance {
			w := &mc.Maintenance[j]
			tz := w.Timezone
			if tz == "" {
				tz = "UTC"
			}
			if w.IsDaily() {
				set.Daily[mc.ID] = append(set.Daily[mc.ID], maintenance.DailyWindow{
					Start:       w.StartTime,
					End:         w.EndTime,
					Timezone:    tz,
					Description: w.Description,
				})
				continue
			}
			// Validation already proved these parse.
			start, _ := time.Parse(time.RFC3339, w.Start)
			end, _ := time.Parse(time.RFC3339, w.End)
			monitorID := mc.ID
			set.Fixed = append(set.Fixed, &storage.MaintenanceWindow{
				MonitorID:   &monitorID,
				StartTime:   start.UTC(),
				EndTime:     end.UTC(),
				Timezone:    tz,
				Description: w.Description,
			})
		}
	}

	return set
}
