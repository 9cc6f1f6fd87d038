package modem

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrUnsupportedModulation = errors.New("unsupported modulation")
	ErrBitCount              = errors.New("bit count does not match modulation")
	ErrBitValue              = errors.New("bit value must be 0 or 1")
)

// Modulation represents a single-carrier modulation scheme.
type Modulation int

const (
	ModBPSK Modulation = 1 // 1 bit per symbol
	ModQPSK Modulation = 2 // 2 bits per symbol (4-QAM)
)

// BitsPerSymbol returns the number of bits per constellation symbol.
func (m Modulation) BitsPerSymbol() int {
	return int(m)
}

// Order returns the number of constellation points.
func (m Modulation) Order() int {
	return 1 << uint(m)
}

// Valid reports whether m is a supported scheme.
func (m Modulation) Valid() bool {
	return m == ModBPSK || m == ModQPSK
}

// String returns the modulation name.
func (m Modulation) String() string {
	switch m {
	case ModBPSK:
		return "BPSK"
	case ModQPSK:
		return "4-QAM"
	default:
		return "Unknown"
	}
}

// ModulationForOrder returns the modulation with the given number of points.
func ModulationForOrder(order int) (Modulation, error) {
	switch order {
	case 2:
		return ModBPSK, nil
	case 4:
		return ModQPSK, nil
	default:
		return 0, fmt.Errorf("order %d: %w", order, ErrUnsupportedModulation)
	}
}

// ParseModulation accepts an order ("2", "4") or a name ("bpsk", "qpsk", "4qam", "4-qam").
func ParseModulation(s string) (Modulation, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	switch name {
	case "BPSK":
		return ModBPSK, nil
	case "QPSK", "4QAM", "4-QAM":
		return ModQPSK, nil
	}

	order, err := strconv.Atoi(name)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, ErrUnsupportedModulation)
	}
	return ModulationForOrder(order)
}

// Constellation maps bit groups to unit average energy symbols and slices
// received symbols back to bits with axis-aligned decision boundaries.
type Constellation struct {
	Mod   Modulation
	scale float64 // per-axis amplitude for unit average power
}

// NewConstellation creates a new constellation for the given modulation.
func NewConstellation(mod Modulation) (*Constellation, error) {
	if !mod.Valid() {
		return nil, fmt.Errorf("modulation %d: %w", int(mod), ErrUnsupportedModulation)
	}

	// Each axis carries one bit, so the per-axis amplitude is 1/sqrt(k).
	return &Constellation{
		Mod:   mod,
		scale: 1.0 / math.Sqrt(float64(mod.BitsPerSymbol())),
	}, nil
}

// Map maps bits to a constellation point.
func (c *Constellation) Map(bits Bits) (complex128, error) {
	k := c.Mod.BitsPerSymbol()
	if len(bits) != k {
		return 0, fmt.Errorf("got %d bits, %s needs %d: %w", len(bits), c.Mod, k, ErrBitCount)
	}
	for i, b := range bits {
		if b > 1 {
			return 0, fmt.Errorf("bit %d is %d: %w", i, b, ErrBitValue)
		}
	}

	// Bit b maps to amplitude 2b-1 on its own axis.
	re := float64(2*int(bits[0])-1) * c.scale
	if k == 1 {
		return complex(re, 0), nil
	}
	im := float64(2*int(bits[1])-1) * c.scale
	return complex(re, im), nil
}

// Demap slices a received symbol back to bits. Each axis is decided
// independently: positive means 1, zero or negative means 0.
func (c *Constellation) Demap(symbol complex128) Bits {
	bits := make(Bits, c.Mod.BitsPerSymbol())
	if real(symbol) > 0 {
		bits[0] = 1
	}
	if len(bits) > 1 && imag(symbol) > 0 {
		bits[1] = 1
	}
	return bits
}

// Points returns every constellation point, indexed by the bit pattern
// read MSB first.
func (c *Constellation) Points() []complex128 {
	k := c.Mod.BitsPerSymbol()
	points := make([]complex128, c.Mod.Order())
	for i := range points {
		// Map cannot fail here: indexToBits always yields k binary values.
		points[i], _ = c.Map(indexToBits(i, k))
	}
	return points
}

// AverageEnergy returns the mean |s|^2 over the constellation.
func (c *Constellation) AverageEnergy() float64 {
	var sum float64
	points := c.Points()
	for _, p := range points {
		sum += real(p)*real(p) + imag(p)*imag(p)
	}
	return sum / float64(len(points))
}

func indexToBits(idx, numBits int) Bits {
	bits := make(Bits, numBits)
	for i := numBits - 1; i >= 0; i-- {
		bits[i] = byte(idx & 1)
		idx >>= 1
	}
	return bits
}
