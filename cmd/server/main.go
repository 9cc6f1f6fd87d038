package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/jeongseonghan/bersim/internal/config"
	"github.com/jeongseonghan/bersim/internal/logger"
	"github.com/jeongseonghan/bersim/internal/report"
	"github.com/jeongseonghan/bersim/internal/server"
)

var version = "dev"

func main() {
	fs := pflag.NewFlagSet("bersim-server", pflag.ExitOnError)
	config.RegisterCommonFlags(fs)
	config.RegisterServerFlags(fs)
	showVersion := fs.Bool("version", false, "Print the version and exit")
	fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	metrics := server.NewMetrics()
	hub := server.NewWSHub(log, metrics)
	jobs := server.NewJobManager(cfg.Server.MaxRunning, server.Limits{
		MaxTrials:      cfg.Server.MaxTrials,
		MaxPoints:      cfg.Server.MaxPoints,
		MaxTotalTrials: cfg.Server.MaxTotalTrials,
	}, hub, metrics, log)
	handlers := server.NewHandlers(jobs, hub, report.Options{
		Alpha: cfg.Output.KSAlpha,
		Bins:  cfg.Output.DensityBins,
	}, version, log)
	srv := server.NewServer(cfg.Server.Addr, handlers, metrics, log)

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("Server error")
		}
		return
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown")
	}
	if err := jobs.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Sweeps did not stop in time")
	}
}
