// Package channel models the single-symbol propagation channels used by the
// BER simulation: additive white Gaussian noise, and flat (one-tap) Rayleigh
// fading followed by the same noise.
package channel

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

var ErrUnknownVariant = errors.New("unknown channel variant")

// Variant selects a channel model.
type Variant int

const (
	AWGN Variant = iota
	Rayleigh
)

// Variants lists every channel model in display order.
func Variants() []Variant {
	return []Variant{AWGN, Rayleigh}
}

// String returns the variant name used in configuration and output.
func (v Variant) String() string {
	switch v {
	case AWGN:
		return "awgn"
	case Rayleigh:
		return "rayleigh"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// Label returns a human readable name.
func (v Variant) Label() string {
	switch v {
	case AWGN:
		return "AWGN"
	case Rayleigh:
		return "Flat Rayleigh Fading"
	default:
		return v.String()
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v Variant) MarshalText() ([]byte, error) {
	if v != AWGN && v != Rayleigh {
		return nil, fmt.Errorf("%d: %w", int(v), ErrUnknownVariant)
	}
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Variant) UnmarshalText(text []byte) error {
	parsed, err := ParseVariant(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseVariant parses a variant name. "fading" is accepted for Rayleigh.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "awgn":
		return AWGN, nil
	case "rayleigh", "fading", "flat-rayleigh":
		return Rayleigh, nil
	default:
		return 0, fmt.Errorf("%q: %w", s, ErrUnknownVariant)
	}
}

// NoiseAmplitude converts an SNR in dB to the linear noise amplitude
// relative to unit symbol energy.
func NoiseAmplitude(snrDB float64) float64 {
	return math.Pow(10, -snrDB/20)
}

// NoiseSigma is the per-component standard deviation of the complex noise,
// so that the total noise variance is 10^(-snrDB/10).
func NoiseSigma(snrDB float64) float64 {
	return NoiseAmplitude(snrDB) / math.Sqrt2
}

// GainSigma is the per-component standard deviation of the fading gain,
// giving E|h|^2 = 1.
var GainSigma = 1 / math.Sqrt2

// Output is what the receiver sees for one transmitted symbol.
type Output struct {
	Received complex128
	Gain     complex128 // 1 on AWGN
}

// Channel impairs a single symbol. Implementations hold no generator; all
// draws come from src.
type Channel interface {
	Variant() Variant
	Transmit(symbol complex128, snrDB float64, src rand.Source) Output
}

// New returns the channel model for v.
func New(v Variant) (Channel, error) {
	switch v {
	case AWGN:
		return AWGNChannel{}, nil
	case Rayleigh:
		return FlatRayleigh{}, nil
	default:
		return nil, fmt.Errorf("%d: %w", int(v), ErrUnknownVariant)
	}
}

// AWGNChannel adds circularly-symmetric Gaussian noise.
type AWGNChannel struct{}

// Variant returns AWGN.
func (AWGNChannel) Variant() Variant { return AWGN }

// Transmit returns symbol + noise.
func (AWGNChannel) Transmit(symbol complex128, snrDB float64, src rand.Source) Output {
	return Output{
		Received: symbol + Noise(snrDB, src),
		Gain:     1,
	}
}

// FlatRayleigh multiplies by one complex Gaussian gain per symbol and then
// adds noise.
type FlatRayleigh struct{}

// Variant returns Rayleigh.
func (FlatRayleigh) Variant() Variant { return Rayleigh }

// Transmit returns h*symbol + noise together with h.
func (FlatRayleigh) Transmit(symbol complex128, snrDB float64, src rand.Source) Output {
	h := Gain(src)
	return Output{
		Received: h*symbol + Noise(snrDB, src),
		Gain:     h,
	}
}

// Gain draws one fading coefficient with per-component variance 1/2, so
// |h| is Rayleigh distributed with scale 1/sqrt(2).
func Gain(src rand.Source) complex128 {
	return complexGaussian(GainSigma, src)
}

// Noise draws one complex noise sample for the given SNR.
func Noise(snrDB float64, src rand.Source) complex128 {
	return complexGaussian(NoiseSigma(snrDB), src)
}

func complexGaussian(sigma float64, src rand.Source) complex128 {
	n := distuv.Normal{Mu: 0, Sigma: sigma, Src: src}
	re := n.Rand()
	im := n.Rand()
	return complex(re, im)
}
