package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/varunahq/varuna/internal/config"
	"github.com/varunahq/varuna/internal/engine"
	"github.com/varunahq/varuna/internal/probe"
	"github.com/varunahq/varuna/internal/runner"
)

// runOnce checks every configured monitor a single time and prints
// one line per monitor. The exit code is non-zero when any monitor is
// down, so the mode doubles as a smoke test in scripts and CI.
func runOnce(cfg *config.Config, logger *slog.Logger) int {
	registry := probe.DefaultRegistry(cfg.Engine.AllowPrivate())
	checkRunner := runner.New(registry, cfg.Engine.RunnerConcurrency, logger)

	set := engine.SetFromConfig(cfg)
	if len(set.Monitors) == 0 {
		fmt.Println("no monitors configured")
		return 0
	}

	results := checkRunner.RunChecks(context.Background(), set.Monitors)

	anyDown := false
	for _, r := range results {
		if r.Success {
			fmt.Printf("up    %-30s %dms\n", r.MonitorName, r.ResponseTime)
			continue
		}
		anyDown = true
		fmt.Printf("down  %-30s %s\n", r.MonitorName, r.Error)
	}

	if anyDown {
		return 1
	}
	return 0
}
