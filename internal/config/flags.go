package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// Flag names shared by the command-line tools.
const (
	FlagConfig   = "config"
	FlagEnvFile  = "env-file"
	FlagLogLevel = "log-level"
	FlagPretty   = "log-pretty"

	FlagModulation = "modulation"
	FlagSNRMin     = "snr-min"
	FlagSNRMax     = "snr-max"
	FlagPoints     = "points"
	FlagTrials     = "trials"
	FlagSeed       = "seed"
	FlagWorkers    = "workers"
	FlagChunkSize  = "chunk-size"
	FlagVariants   = "variants"

	FlagFormat = "format"
	FlagOutput = "output"

	FlagAddr = "addr"
)

// RegisterCommonFlags adds the flags every tool accepts. Defaults come from
// Default so that --help shows the effective values.
func RegisterCommonFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.StringP(FlagConfig, "c", "", "YAML configuration file")
	fs.String(FlagEnvFile, ".env", "dotenv file loaded before BERSIM_* variables are read")
	fs.String(FlagLogLevel, def.Log.Level, "Log level: debug, info, warn, error")
	fs.Bool(FlagPretty, def.Log.Pretty, "Human readable console logs")
}

// RegisterSimulationFlags adds the sweep parameters.
func RegisterSimulationFlags(fs *pflag.FlagSet) {
	def := Default().Simulation
	fs.StringP(FlagModulation, "m", def.Modulation, "Modulation: bpsk or 4qam")
	fs.Float64(FlagSNRMin, def.SNRMinDB, "Lowest SNR in dB")
	fs.Float64(FlagSNRMax, def.SNRMaxDB, "Highest SNR in dB")
	fs.IntP(FlagPoints, "n", def.Points, "Number of SNR settings")
	fs.IntP(FlagTrials, "t", def.Trials, "Trials per SNR setting and channel")
	fs.Uint64(FlagSeed, def.Seed, "Random seed, 0 derives one from the clock")
	fs.IntP(FlagWorkers, "w", def.Workers, "Concurrent jobs, 0 uses every CPU")
	fs.Int(FlagChunkSize, def.ChunkSize, "Trials per job, 0 uses the built-in size")
	fs.StringSlice(FlagVariants, def.Variants, "Channel variants: awgn, rayleigh")
}

// RegisterOutputFlags adds result encoding flags.
func RegisterOutputFlags(fs *pflag.FlagSet) {
	def := Default().Output
	fs.StringP(FlagFormat, "f", def.Format, "Output format: plain, csv, json, msgpack")
	fs.StringP(FlagOutput, "o", def.Path, "Output file, stdout when empty")
}

// RegisterServerFlags adds the HTTP service flags.
func RegisterServerFlags(fs *pflag.FlagSet) {
	fs.String(FlagAddr, Default().Server.Addr, "HTTP listen address")
}

// ApplyFlags overlays every flag that was set on the command line. Flags
// left at their defaults do not override file or environment values.
func ApplyFlags(fs *pflag.FlagSet, cfg *Config) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		if e := applyFlag(fs, f.Name, cfg); e != nil {
			err = fmt.Errorf("flag --%s: %w", f.Name, e)
		}
	})
	return err
}

func applyFlag(fs *pflag.FlagSet, name string, cfg *Config) error {
	s := &cfg.Simulation
	var err error
	switch name {
	case FlagLogLevel:
		cfg.Log.Level, err = fs.GetString(name)
	case FlagPretty:
		cfg.Log.Pretty, err = fs.GetBool(name)
	case FlagModulation:
		s.Modulation, err = fs.GetString(name)
	case FlagSNRMin:
		s.SNRMinDB, err = fs.GetFloat64(name)
	case FlagSNRMax:
		s.SNRMaxDB, err = fs.GetFloat64(name)
	case FlagPoints:
		s.Points, err = fs.GetInt(name)
	case FlagTrials:
		s.Trials, err = fs.GetInt(name)
	case FlagSeed:
		s.Seed, err = fs.GetUint64(name)
	case FlagWorkers:
		s.Workers, err = fs.GetInt(name)
	case FlagChunkSize:
		s.ChunkSize, err = fs.GetInt(name)
	case FlagVariants:
		s.Variants, err = fs.GetStringSlice(name)
	case FlagFormat:
		cfg.Output.Format, err = fs.GetString(name)
	case FlagOutput:
		cfg.Output.Path, err = fs.GetString(name)
	case FlagAddr:
		cfg.Server.Addr, err = fs.GetString(name)
	}
	return err
}

// Load builds the effective configuration for a parsed flag set.
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	envFile, _ := fs.GetString(FlagEnvFile)
	if err := LoadDotEnv(envFile); err != nil {
		return nil, err
	}

	path, _ := fs.GetString(FlagConfig)
	if path == "" {
		path, _ = lookup("CONFIG")
	}
	if path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := ApplyFlags(fs, cfg); err != nil {
		return nil, err
	}

	cfg.Simulation.ResolveSeed(time.Now())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
