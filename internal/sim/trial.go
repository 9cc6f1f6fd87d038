package sim

import (
	"fmt"
	"math/rand/v2"

	"github.com/jeongseonghan/bersim/internal/channel"
	"github.com/jeongseonghan/bersim/internal/modem"
)

// Trial is the outcome of one bit -> symbol -> channel -> receiver ->
// detector pass.
type Trial struct {
	Bits        modem.Bits
	Detected    modem.Bits
	Transmitted complex128
	Received    complex128 // channel output before equalization
	Equalized   complex128
	Gain        complex128
	Errors      int
}

// ErrorRate is the bit-error fraction of the trial, in {0, 1/k, ..., 1}.
func (t Trial) ErrorRate() float64 {
	return float64(t.Errors) / float64(len(t.Bits))
}

// TrialRunner composes one modulation with one channel variant. It holds no
// random state: every trial draws from the source passed to Run.
type TrialRunner struct {
	constellation *modem.Constellation
	channel       channel.Channel
	equalizer     modem.Equalizer
}

// NewTrialRunner builds the pipeline for mod over variant v.
func NewTrialRunner(mod modem.Modulation, v channel.Variant) (*TrialRunner, error) {
	c, err := modem.NewConstellation(mod)
	if err != nil {
		return nil, fmt.Errorf("constellation: %w", err)
	}
	ch, err := channel.New(v)
	if err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}
	return &TrialRunner{
		constellation: c,
		channel:       ch,
		equalizer:     EqualizerFor(v),
	}, nil
}

// EqualizerFor returns the receive processing for a channel variant.
func EqualizerFor(v channel.Variant) modem.Equalizer {
	if v == channel.Rayleigh {
		return modem.ZeroForcing{}
	}
	return modem.Passthrough{}
}

// Run executes one trial at snrDB.
func (r *TrialRunner) Run(snrDB float64, src rand.Source) Trial {
	bits := modem.NewBitSource(src).Next(r.constellation.Mod.BitsPerSymbol())

	// Bits come from the source above and are always well formed.
	x, err := r.constellation.Map(bits)
	if err != nil {
		panic(err)
	}

	out := r.channel.Transmit(x, snrDB, src)
	eq := r.equalizer.Equalize(out.Received, out.Gain)
	detected := r.constellation.Demap(eq)

	return Trial{
		Bits:        bits,
		Detected:    detected,
		Transmitted: x,
		Received:    out.Received,
		Equalized:   eq,
		Gain:        out.Gain,
		Errors:      modem.HammingDistance(bits, detected),
	}
}
