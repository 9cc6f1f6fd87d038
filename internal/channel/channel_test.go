package channel

import (
	"math"
	"math/cmplx"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestNoiseSigma(t *testing.T) {
	assert.InDelta(t, 1/math.Sqrt2, NoiseSigma(0), 1e-12)
	assert.InDelta(t, 0.1/math.Sqrt2, NoiseSigma(20), 1e-12)
	assert.InDelta(t, math.Sqrt(10), NoiseAmplitude(-10), 1e-12)
}

func TestAWGN_NoiseVariance(t *testing.T) {
	src := rand.NewPCG(3, 4)
	ch := AWGNChannel{}

	const n = 50000
	re := make([]float64, n)
	im := make([]float64, n)
	for i := 0; i < n; i++ {
		out := ch.Transmit(1, 10, src)
		assert.Equal(t, complex128(1), out.Gain)
		re[i] = real(out.Received) - 1
		im[i] = imag(out.Received)
	}

	// Total noise variance is 10^(-snr/10).
	want := NoiseSigma(10) * NoiseSigma(10)
	assert.InDelta(t, want, stat.Variance(re, nil), want*0.05)
	assert.InDelta(t, want, stat.Variance(im, nil), want*0.05)
	assert.InDelta(t, 0, stat.Mean(re, nil), 0.01)
}

func TestRayleigh_GainPower(t *testing.T) {
	src := rand.NewPCG(5, 6)
	ch := FlatRayleigh{}

	const n = 50000
	var power float64
	for i := 0; i < n; i++ {
		out := ch.Transmit(1, 200, src)
		power += real(out.Gain)*real(out.Gain) + imag(out.Gain)*imag(out.Gain)

		// At 200 dB the noise is negligible and y == h*x.
		assert.InDelta(t, 0, cmplx.Abs(out.Received-out.Gain), 1e-6)
	}
	assert.InDelta(t, 1.0, power/n, 0.03)
}

func TestChannel_Deterministic(t *testing.T) {
	a := FlatRayleigh{}.Transmit(1, 5, rand.NewPCG(9, 9))
	b := FlatRayleigh{}.Transmit(1, 5, rand.NewPCG(9, 9))
	assert.Equal(t, a, b)
}

func TestParseVariant(t *testing.T) {
	for in, want := range map[string]Variant{
		"awgn":          AWGN,
		"AWGN":          AWGN,
		"rayleigh":      Rayleigh,
		"fading":        Rayleigh,
		"flat-rayleigh": Rayleigh,
	} {
		got, err := ParseVariant(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseVariant("rician")
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestVariant_Text(t *testing.T) {
	text, err := Rayleigh.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "rayleigh", string(text))

	var v Variant
	require.NoError(t, v.UnmarshalText([]byte("awgn")))
	assert.Equal(t, AWGN, v)

	_, err = Variant(7).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownVariant)

	_, err = New(Variant(7))
	assert.ErrorIs(t, err, ErrUnknownVariant)
}
