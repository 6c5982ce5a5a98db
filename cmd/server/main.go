package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charleschow/arbfinder/internal/client/oddsapi"
	"github.com/charleschow/arbfinder/internal/config"
	"github.com/charleschow/arbfinder/internal/core/detector"
	"github.com/charleschow/arbfinder/internal/core/odds"
	"github.com/charleschow/arbfinder/internal/httpapi"
	"github.com/charleschow/arbfinder/internal/scheduler"
	"github.com/charleschow/arbfinder/internal/service"
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
	telemetry.Infof("Starting arbfinder")

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
		telemetry.Infof("resolved %d active sports from catalogue", len(sports))
	}

	markets := make([]odds.MarketKey, 0, len(cfg.Markets))
	for _, m := range cfg.Markets {
		markets = append(markets, odds.MarketKey(m))
	}

	sched := scheduler.New(scheduler.Config{
		Sports:   sports,
		Interval: cfg.RefreshInterval(),
		DetectorCfg: detector.Config{
			Markets:      markets,
			MinProfitPct: cfg.MinProfitPct,
			MinBooks:     cfg.MinBooks,
		},
	}, client, db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	svc := service.New(db, sched, client, sports)
	handler := httpapi.NewHandler(svc)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Errorf("HTTP server: %v", err)
			os.Exit(1)
		}
	}()
	telemetry.Infof("listening on %q", cfg.HTTPAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	telemetry.Infof("shutting down...")
	cancel()
	sched.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	telemetry.Infof("shutdown complete")
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
