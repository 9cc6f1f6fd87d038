package sim

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeongseonghan/bersim/internal/channel"
	"github.com/jeongseonghan/bersim/internal/modem"
)

func TestTrialRunner_Noiseless(t *testing.T) {
	for _, mod := range []modem.Modulation{modem.ModBPSK, modem.ModQPSK} {
		for _, v := range channel.Variants() {
			r, err := NewTrialRunner(mod, v)
			require.NoError(t, err)

			src := rand.NewPCG(11, 12)
			for i := 0; i < 500; i++ {
				tr := r.Run(300, src)
				require.Len(t, tr.Bits, mod.BitsPerSymbol())
				require.Len(t, tr.Detected, mod.BitsPerSymbol())
				assert.Zero(t, tr.Errors, "%s over %s", mod, v)
				assert.Zero(t, tr.ErrorRate())
			}
		}
	}
}

func TestTrialRunner_ErrorRateValues(t *testing.T) {
	r, err := NewTrialRunner(modem.ModQPSK, channel.AWGN)
	require.NoError(t, err)

	src := rand.NewPCG(1, 1)
	seen := map[float64]bool{}
	for i := 0; i < 2000; i++ {
		tr := r.Run(-20, src)
		rate := tr.ErrorRate()
		assert.Contains(t, []float64{0, 0.5, 1}, rate)
		assert.Equal(t, modem.HammingDistance(tr.Bits, tr.Detected), tr.Errors)
		seen[rate] = true
	}
	assert.Len(t, seen, 3)
}

func TestTrialRunner_AWGNGainIsOne(t *testing.T) {
	r, err := NewTrialRunner(modem.ModBPSK, channel.AWGN)
	require.NoError(t, err)

	tr := r.Run(5, rand.NewPCG(2, 2))
	assert.Equal(t, complex128(1), tr.Gain)
	assert.Equal(t, tr.Received, tr.Equalized)
}

func TestTrialRunner_RayleighEqualizes(t *testing.T) {
	r, err := NewTrialRunner(modem.ModQPSK, channel.Rayleigh)
	require.NoError(t, err)

	tr := r.Run(10, rand.NewPCG(4, 4))
	assert.InDelta(t, 0, real(tr.Equalized-tr.Received/tr.Gain), 1e-12)
	assert.InDelta(t, 0, imag(tr.Equalized-tr.Received/tr.Gain), 1e-12)
}

func TestNewTrialRunner_Errors(t *testing.T) {
	_, err := NewTrialRunner(modem.Modulation(3), channel.AWGN)
	assert.ErrorIs(t, err, modem.ErrUnsupportedModulation)

	_, err = NewTrialRunner(modem.ModBPSK, channel.Variant(5))
	assert.ErrorIs(t, err, channel.ErrUnknownVariant)
}
