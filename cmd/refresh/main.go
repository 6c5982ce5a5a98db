// Command refresh performs a single manual refresh cycle against a running
// store and exits — useful for cron-driven deployments that don't want a
// long-lived scheduler process, or for warming a fresh store before the
// server starts.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charleschow/arbfinder/internal/client/oddsapi"
	"github.com/charleschow/arbfinder/internal/config"
	"github.com/charleschow/arbfinder/internal/core/detector"
	"github.com/charleschow/arbfinder/internal/core/odds"
	"github.com/charleschow/arbfinder/internal/scheduler"
	"github.com/charleschow/arbfinder/internal/store"
	"github.com/charleschow/arbfinder/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		telemetry.Errorf("store: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	client := oddsapi.NewClient(oddsapi.Config{
		APIKey:     cfg.APIKey,
		Regions:    joinCSV(cfg.Regions),
		Markets:    joinCSV(cfg.Markets),
		OddsFormat: odds.Format(cfg.OddsFormat),
	})

	sports := cfg.Sports
	if len(sports) == 0 {
		catalogue, err := client.ListSports(context.Background())
		if err != nil {
			telemetry.Errorf("sport catalogue: %v", err)
			os.Exit(1)
		}
		for _, sp := range catalogue {
			if sp.Active {
				sports = append(sports, sp.Key)
			}
		}
	}

	markets := make([]odds.MarketKey, 0, len(cfg.Markets))
	for _, m := range cfg.Markets {
		markets = append(markets, odds.MarketKey(m))
	}

	sched := scheduler.New(scheduler.Config{
		Sports: sports,
		// Interval left at zero: this command drives exactly one refresh
		// and never ticks.
		DetectorCfg: detector.Config{
			Markets:      markets,
			MinProfitPct: cfg.MinProfitPct,
			MinBooks:     cfg.MinBooks,
		},
	}, client, db)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := sched.TriggerRefresh(ctx)
	if err != nil {
		telemetry.Errorf("refresh: %v", err)
		os.Exit(1)
	}

	telemetry.Infof("refresh complete: status=%s events=%d detected=%d persisted=%d errors=%v",
		result.Status, result.Counts.EventsFetched, result.Counts.OpportunitiesDetected, result.Counts.OpportunitiesPersisted, result.Errors)

	if result.Status == scheduler.StatusFailed {
		os.Exit(1)
	}
}

func joinCSV(vs []string) string {
	out := ""
	for i, v := range vs {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}
