package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BERSIM_"

// LoadDotEnv loads path (".env" when empty) into the process environment.
// A missing file is not an error; variables already set are kept.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays BERSIM_* variables onto cfg.
func ApplyEnv(cfg *Config) error {
	s := &cfg.Simulation
	setters := []error{
		getEnv("MODULATION", &s.Modulation),
		getEnvAsFloat("SNR_MIN", &s.SNRMinDB),
		getEnvAsFloat("SNR_MAX", &s.SNRMaxDB),
		getEnvAsInt("POINTS", &s.Points),
		getEnvAsInt("TRIALS", &s.Trials),
		getEnvAsUint("SEED", &s.Seed),
		getEnvAsInt("WORKERS", &s.Workers),
		getEnvAsInt("CHUNK_SIZE", &s.ChunkSize),
		getEnvAsList("VARIANTS", &s.Variants),

		getEnv("FORMAT", &cfg.Output.Format),
		getEnv("OUTPUT", &cfg.Output.Path),
		getEnvAsFloat("KS_ALPHA", &cfg.Output.KSAlpha),

		getEnv("ADDR", &cfg.Server.Addr),
		getEnvAsInt("MAX_TRIALS", &cfg.Server.MaxTrials),
		getEnvAsInt("MAX_POINTS", &cfg.Server.MaxPoints),
		getEnvAsInt("MAX_TOTAL_TRIALS", &cfg.Server.MaxTotalTrials),
		getEnvAsInt("MAX_RUNNING", &cfg.Server.MaxRunning),
		getEnvAsDuration("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout),

		getEnv("LOG_LEVEL", &cfg.Log.Level),
		getEnvAsBool("LOG_PRETTY", &cfg.Log.Pretty),
	}
	return errors.Join(setters...)
}

// Helper functions
func lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

func envError(key, value string, err error) error {
	return fmt.Errorf("environment %s%s=%q: %w", EnvPrefix, key, value, err)
}

func getEnv(key string, dst *string) error {
	if value, ok := lookup(key); ok {
		*dst = value
	}
	return nil
}

func getEnvAsInt(key string, dst *int) error {
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return envError(key, value, err)
	}
	*dst = v
	return nil
}

func getEnvAsUint(key string, dst *uint64) error {
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return envError(key, value, err)
	}
	*dst = v
	return nil
}

func getEnvAsFloat(key string, dst *float64) error {
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return envError(key, value, err)
	}
	*dst = v
	return nil
}

func getEnvAsBool(key string, dst *bool) error {
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return envError(key, value, err)
	}
	*dst = v
	return nil
}

func getEnvAsDuration(key string, dst *time.Duration) error {
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := time.ParseDuration(value)
	if err != nil {
		return envError(key, value, err)
	}
	*dst = v
	return nil
}

func getEnvAsList(key string, dst *[]string) error {
	if value, ok := lookup(key); ok {
		*dst = splitList(value)
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
