// Package config layers bersim settings: built-in defaults, an optional YAML
// file, a .env file, BERSIM_* environment variables and finally any
// command-line flag the user set explicitly.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeongseonghan/bersim/internal/channel"
	"github.com/jeongseonghan/bersim/internal/modem"
	"github.com/jeongseonghan/bersim/internal/sim"
)

// Config holds application configuration
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Output     OutputConfig     `yaml:"output"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// SimulationConfig is the file form of sim.Config.
type SimulationConfig struct {
	Modulation       string    `yaml:"modulation"`
	SNRMinDB         float64   `yaml:"snr_min_db"`
	SNRMaxDB         float64   `yaml:"snr_max_db"`
	Points           int       `yaml:"points"`
	Trials           int       `yaml:"trials"`
	Seed             uint64    `yaml:"seed"` // 0 derives a seed from the clock
	Workers          int       `yaml:"workers"`
	ChunkSize        int       `yaml:"chunk_size"`
	Variants         []string  `yaml:"variants"`
	GainSnapshotDB   *float64  `yaml:"gain_snapshot_db"`
	ConstellationDBs []float64 `yaml:"constellation_dbs"`
}

// OutputConfig selects how results are written.
type OutputConfig struct {
	Format      string  `yaml:"format"` // plain, csv, json, msgpack
	Path        string  `yaml:"path"`   // empty writes to stdout
	KSAlpha     float64 `yaml:"ks_alpha"`
	DensityBins int     `yaml:"density_bins"`
}

// ServerConfig configures the HTTP sweep service.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	MaxTrials       int           `yaml:"max_trials"`       // per-cell cap on submitted sweeps
	MaxPoints       int           `yaml:"max_points"`       // SNR settings per sweep or theory curve
	MaxTotalTrials  int           `yaml:"max_total_trials"` // variants x points x trials
	MaxRunning      int           `yaml:"max_running"`      // concurrent sweeps
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig mirrors logger.Config.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	def := sim.DefaultConfig()
	variants := make([]string, len(def.Variants))
	for i, v := range def.Variants {
		variants[i] = v.String()
	}
	gainDB := *def.GainSnapshotDB

	return &Config{
		Simulation: SimulationConfig{
			Modulation:       "4qam",
			SNRMinDB:         def.SNRMinDB,
			SNRMaxDB:         def.SNRMaxDB,
			Points:           def.Points,
			Trials:           def.Trials,
			Seed:             def.Seed,
			Variants:         variants,
			GainSnapshotDB:   &gainDB,
			ConstellationDBs: append([]float64(nil), def.ConstellationDBs...),
		},
		Output: OutputConfig{
			Format:      "plain",
			KSAlpha:     0.001,
			DensityBins: 50,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			MaxTrials:       1000000,
			MaxPoints:       1001,
			MaxTotalTrials:  100000000,
			MaxRunning:      2,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate checks the settings that are not covered by sim.Config.Validate.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Output.Format) {
	case "plain", "csv", "json", "msgpack":
	default:
		return fmt.Errorf("output format %q: %w", c.Output.Format, ErrInvalid)
	}
	if c.Output.KSAlpha <= 0 || c.Output.KSAlpha >= 1 {
		return fmt.Errorf("ks_alpha %g not in (0, 1): %w", c.Output.KSAlpha, ErrInvalid)
	}
	if c.Output.DensityBins < 1 {
		return fmt.Errorf("density_bins %d: %w", c.Output.DensityBins, ErrInvalid)
	}
	if c.Server.MaxTrials < 1 || c.Server.MaxPoints < 1 || c.Server.MaxTotalTrials < 1 || c.Server.MaxRunning < 1 {
		return fmt.Errorf("server limits must be positive: %w", ErrInvalid)
	}

	simCfg, err := c.Simulation.ToSim()
	if err != nil {
		return err
	}
	return simCfg.Validate()
}

// ErrInvalid is wrapped by configuration errors outside the simulation
// section.
var ErrInvalid = errors.New("invalid setting")

// ResolveSeed replaces a zero seed with one derived from now and returns
// the seed in effect.
func (s *SimulationConfig) ResolveSeed(now time.Time) uint64 {
	if s.Seed == 0 {
		s.Seed = uint64(now.UnixNano())
	}
	return s.Seed
}

// ToSim converts the file form into a sim.Config.
func (s SimulationConfig) ToSim() (sim.Config, error) {
	mod, err := modem.ParseModulation(s.Modulation)
	if err != nil {
		return sim.Config{}, &sim.ConfigError{Field: "modulation", Reason: err.Error()}
	}

	variants := make([]channel.Variant, 0, len(s.Variants))
	for _, name := range s.Variants {
		v, err := channel.ParseVariant(name)
		if err != nil {
			return sim.Config{}, &sim.ConfigError{Field: "variants", Reason: err.Error()}
		}
		variants = append(variants, v)
	}

	var gainDB *float64
	if s.GainSnapshotDB != nil {
		v := *s.GainSnapshotDB
		gainDB = &v
	}

	return sim.Config{
		Order:            mod.Order(),
		SNRMinDB:         s.SNRMinDB,
		SNRMaxDB:         s.SNRMaxDB,
		Points:           s.Points,
		Trials:           s.Trials,
		Seed:             s.Seed,
		Workers:          s.Workers,
		ChunkSize:        s.ChunkSize,
		Variants:         variants,
		GainSnapshotDB:   gainDB,
		ConstellationDBs: append([]float64(nil), s.ConstellationDBs...),
	}, nil
}
