// Command retention purges opportunities_log rows older than the configured
// retention window and exits — intended for cron-driven deployments that
// don't want the server process itself managing its own storage footprint.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charleschow/arbfinder/internal/config"
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

	olderThan := time.Now().UTC().Add(-cfg.RetentionWindow())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	purged, err := db.PurgeOpportunities(ctx, olderThan)
	if err != nil {
		telemetry.Errorf("retention: %v", err)
		os.Exit(1)
	}
	telemetry.Infof("retention: purged %d opportunities detected before %s", purged, olderThan.Format(time.RFC3339))
}
