package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/SoloFlyer/FareWatch/config"
)

// Exit codes for -once mode: 0 means every active request was refreshed,
// 2 means the run completed with some failures, 1 means the run could
// not be performed at all.
const (
	exitOK             = 0
	exitCouldNotRun    = 1
	exitPartialFailure = 2
)

func main() {
	once := flag.Bool("once", false, "run a single refresh pass and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	f := defaultWorkerFactories()

	if *once {
		os.Exit(runOnce(ctx, cfg, f))
	}

	r, closeFn, err := buildRefresher(cfg, f)
	if err != nil {
		panic(err)
	}
	defer closeFn()

	go func() {
		err := runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.FareWatch.WorkerHTTPAddr,
			swaggerPath: os.Getenv("swaggerPath"),
			refresher:   r,
			cfg:         cfg,
		})
		if err != nil && err != context.Canceled {
			slog.Error("worker http server stopped", "error", err.Error())
		}
	}()

	if err := r.Run(ctx); err != nil && err != context.Canceled {
		panic(err)
	}
}

func runOnce(ctx context.Context, cfg *config.Config, f workerFactories) int {
	summary, err := RunFareWorkerOnce(ctx, cfg, f)
	if err != nil {
		slog.Error("refresh run could not be performed", "error", err.Error())
		return exitCouldNotRun
	}

	slog.Info("refresh run finished",
		"total", summary.Total, "succeeded", summary.Succeeded, "failed", summary.Failed)
	for _, fail := range summary.Failures {
		slog.Warn("failed search request",
			"search_request_id", fail.SearchRequestID, "route", fail.Route, "error", fail.Err)
	}

	if !summary.AllSucceeded() {
		return exitPartialFailure
	}
	return exitOK
}
