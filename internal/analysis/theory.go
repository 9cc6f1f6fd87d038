// Package analysis holds the closed-form references the simulated curves are
// compared against, and the goodness-of-fit checks run on retained fading
// gains.
package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/jeongseonghan/bersim/internal/channel"
	"github.com/jeongseonghan/bersim/internal/modem"
)

// linear converts dB to a power ratio.
func linear(snrDB float64) float64 {
	return math.Pow(10, snrDB/10)
}

// perBitSNR is the SNR seen by each sign decision. 4-QAM splits the symbol
// energy over two axes.
func perBitSNR(mod modem.Modulation, snrDB float64) (float64, error) {
	switch mod {
	case modem.ModBPSK:
		return linear(snrDB), nil
	case modem.ModQPSK:
		return linear(snrDB) / 2, nil
	default:
		return 0, fmt.Errorf("modulation %d: %w", int(mod), modem.ErrUnsupportedModulation)
	}
}

// TheoreticalBER returns the exact bit error rate of sign detection for mod
// over variant v.
//
//	AWGN:     Q(sqrt(2g)) = erfc(sqrt(g))/2
//	Rayleigh: (1 - sqrt(g/(1+g)))/2
//
// g is the per-bit SNR: the linear SNR for BPSK, half of it for 4-QAM.
func TheoreticalBER(mod modem.Modulation, v channel.Variant, snrDB float64) (float64, error) {
	g, err := perBitSNR(mod, snrDB)
	if err != nil {
		return 0, err
	}

	switch v {
	case channel.AWGN:
		return distuv.UnitNormal.Survival(math.Sqrt(2 * g)), nil
	case channel.Rayleigh:
		return 0.5 * (1 - math.Sqrt(g/(1+g))), nil
	default:
		return 0, fmt.Errorf("%d: %w", int(v), channel.ErrUnknownVariant)
	}
}

// TheoryCurve evaluates TheoreticalBER at every setting.
func TheoryCurve(mod modem.Modulation, v channel.Variant, snrDB []float64) ([]float64, error) {
	ber := make([]float64, len(snrDB))
	for i, db := range snrDB {
		b, err := TheoreticalBER(mod, v, db)
		if err != nil {
			return nil, err
		}
		ber[i] = b
	}
	return ber, nil
}
