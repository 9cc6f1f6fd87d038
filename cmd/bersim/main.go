// Command bersim runs one Monte-Carlo BER sweep and writes the result.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/jeongseonghan/bersim/internal/config"
	"github.com/jeongseonghan/bersim/internal/logger"
	"github.com/jeongseonghan/bersim/internal/report"
	"github.com/jeongseonghan/bersim/internal/sim"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("bersim", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.RegisterCommonFlags(fs)
	config.RegisterSimulationFlags(fs)
	config.RegisterOutputFlags(fs)
	showVersion := fs.Bool("version", false, "Print the version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage of bersim:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 2
	}
	if *showVersion {
		fmt.Fprintln(stdout, version)
		return 0
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Output: stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sweep(ctx, cfg, stdout, log); err != nil {
		log.Error().Err(err).Msg("sweep failed")
		return 1
	}
	return 0
}

func sweep(ctx context.Context, cfg *config.Config, stdout io.Writer, log zerolog.Logger) error {
	simCfg, err := cfg.Simulation.ToSim()
	if err != nil {
		return err
	}
	log.Info().Uint64("seed", simCfg.Seed).Msg("seed in effect")

	simulator, err := sim.New(simCfg, log)
	if err != nil {
		return err
	}

	res, err := simulator.Run(ctx)
	if err != nil {
		return err
	}

	// The file is only created once there is a result to put in it.
	if cfg.Output.Path == "" {
		return encode(cfg, stdout, res)
	}
	f, err := os.Create(cfg.Output.Path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := encode(cfg, f, res); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

func encode(cfg *config.Config, w io.Writer, res *sim.Result) error {
	enc, err := report.NewEncoder(cfg.Output.Format, w, report.Options{
		Alpha: cfg.Output.KSAlpha,
		Bins:  cfg.Output.DensityBins,
	})
	if err != nil {
		return err
	}
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode %s: %w", cfg.Output.Format, err)
	}
	return nil
}
