package sim

import (
	"errors"
	"fmt"
	"math"

	"github.com/jeongseonghan/bersim/internal/channel"
	"github.com/jeongseonghan/bersim/internal/modem"
)

// ErrInvalidConfig is wrapped by every configuration error.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigError reports a rejected configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// DefaultChunkSize is the number of trials per scheduled job.
const DefaultChunkSize = 1024

// MaxPoints bounds the number of SNR settings in one sweep.
const MaxPoints = 1 << 24

// Config describes one sweep.
type Config struct {
	// Order is the number of constellation points: 2 (BPSK) or 4 (4-QAM).
	Order int `json:"order" msgpack:"order"`

	SNRMinDB float64 `json:"snrMinDb" msgpack:"snrMinDb"`
	SNRMaxDB float64 `json:"snrMaxDb" msgpack:"snrMaxDb"`
	Points   int     `json:"points" msgpack:"points"`

	// Trials is the number of single-symbol trials per (variant, SNR) cell.
	Trials int `json:"trials" msgpack:"trials"`

	Seed uint64 `json:"seed" msgpack:"seed"`

	// Workers bounds the number of concurrent jobs; 0 uses every CPU.
	Workers int `json:"workers,omitempty" msgpack:"workers,omitempty"`
	// ChunkSize is the number of trials per job; 0 uses DefaultChunkSize.
	ChunkSize int `json:"chunkSize,omitempty" msgpack:"chunkSize,omitempty"`

	Variants []channel.Variant `json:"variants" msgpack:"variants"`

	// GainSnapshotDB selects the SNR whose fading gains are retained.
	// Nil disables retention.
	GainSnapshotDB *float64 `json:"gainSnapshotDb,omitempty" msgpack:"gainSnapshotDb,omitempty"`
	// ConstellationDBs selects the SNRs whose AWGN symbol pairs are retained.
	ConstellationDBs []float64 `json:"constellationDbs,omitempty" msgpack:"constellationDbs,omitempty"`
}

// DefaultConfig mirrors the reference study: 4-QAM, 31 points over
// [-10, 20] dB, 10000 trials, both channels, gains kept at 0 dB and
// constellations at -10, 0, 10 and 15 dB.
func DefaultConfig() Config {
	gainDB := 0.0
	return Config{
		Order:            4,
		SNRMinDB:         -10,
		SNRMaxDB:         20,
		Points:           31,
		Trials:           10000,
		Seed:             1,
		Variants:         channel.Variants(),
		GainSnapshotDB:   &gainDB,
		ConstellationDBs: []float64{-10, 0, 10, 15},
	}
}

// Modulation returns the modulation for c.Order.
func (c Config) Modulation() (modem.Modulation, error) {
	return modem.ModulationForOrder(c.Order)
}

// Validate checks c before any trial runs.
func (c Config) Validate() error {
	if _, err := c.Modulation(); err != nil {
		return &ConfigError{Field: "order", Reason: fmt.Sprintf("%d is not 2 or 4", c.Order)}
	}
	if c.Trials <= 0 {
		return &ConfigError{Field: "trials", Reason: "must be positive"}
	}
	if c.Points <= 0 {
		return &ConfigError{Field: "points", Reason: "must be positive"}
	}
	if c.Points > MaxPoints {
		return &ConfigError{Field: "points", Reason: fmt.Sprintf("at most %d", MaxPoints)}
	}
	if !finite(c.SNRMinDB) || !finite(c.SNRMaxDB) {
		return &ConfigError{Field: "snr", Reason: "bounds must be finite"}
	}
	if c.SNRMaxDB < c.SNRMinDB {
		return &ConfigError{Field: "snr", Reason: fmt.Sprintf("max %g below min %g", c.SNRMaxDB, c.SNRMinDB)}
	}
	if c.Workers < 0 {
		return &ConfigError{Field: "workers", Reason: "must not be negative"}
	}
	if c.ChunkSize < 0 {
		return &ConfigError{Field: "chunkSize", Reason: "must not be negative"}
	}
	if len(c.Variants) == 0 {
		return &ConfigError{Field: "variants", Reason: "at least one channel variant is required"}
	}

	seen := make(map[channel.Variant]bool, len(c.Variants))
	for _, v := range c.Variants {
		if _, err := channel.New(v); err != nil {
			return &ConfigError{Field: "variants", Reason: err.Error()}
		}
		if seen[v] {
			return &ConfigError{Field: "variants", Reason: fmt.Sprintf("%s listed twice", v)}
		}
		seen[v] = true
	}

	if c.GainSnapshotDB != nil && !finite(*c.GainSnapshotDB) {
		return &ConfigError{Field: "gainSnapshotDb", Reason: "must be finite"}
	}
	for _, db := range c.ConstellationDBs {
		if !finite(db) {
			return &ConfigError{Field: "constellationDbs", Reason: "must be finite"}
		}
	}

	return nil
}

func (c Config) chunkSize() int {
	if c.ChunkSize == 0 {
		return DefaultChunkSize
	}
	return c.ChunkSize
}

func (c Config) hasVariant(v channel.Variant) bool {
	for _, cv := range c.Variants {
		if cv == v {
			return true
		}
	}
	return false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
