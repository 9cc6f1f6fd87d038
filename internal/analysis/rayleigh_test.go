package analysis

import (
	"math"
	"math/cmplx"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/jeongseonghan/bersim/internal/channel"
)

func gainMagnitudes(n int, seed uint64) []float64 {
	src := rand.NewPCG(seed, seed+1)
	mags := make([]float64, n)
	for i := range mags {
		mags[i] = cmplx.Abs(channel.Gain(src))
	}
	return mags
}

func TestGainRayleigh_Moments(t *testing.T) {
	d := GainRayleigh()
	sigma := channel.GainSigma
	assert.InDelta(t, sigma*math.Sqrt(math.Pi/2), d.Mean(), 1e-12)
	assert.InDelta(t, sigma*math.Sqrt((4-math.Pi)/2), d.StdDev(), 1e-12)
	// E|h|^2 = 2 sigma^2 = 1.
	assert.InDelta(t, 1.0, d.Variance()+d.Mean()*d.Mean(), 1e-12)
}

func TestKolmogorovSmirnov_AcceptsChannelGains(t *testing.T) {
	mags := gainMagnitudes(10000, 3)

	fit, err := KolmogorovSmirnov(mags, GainRayleigh())
	require.NoError(t, err)
	assert.Equal(t, 10000, fit.N)
	assert.Less(t, fit.D, 0.03)
	assert.False(t, fit.Reject(DefaultAlpha), "p=%g", fit.PValue)
}

func TestKolmogorovSmirnov_RejectsWrongScale(t *testing.T) {
	mags := gainMagnitudes(10000, 4)

	fit, err := KolmogorovSmirnov(mags, Rayleigh(1))
	require.NoError(t, err)
	assert.True(t, fit.Reject(DefaultAlpha))
	assert.Greater(t, fit.D, 0.1)
}

func TestKolmogorovSmirnov_RejectsOtherLaw(t *testing.T) {
	src := rand.NewPCG(8, 8)
	exp := distuv.Exponential{Rate: 1 / GainRayleigh().Mean(), Src: src}
	x := make([]float64, 5000)
	for i := range x {
		x[i] = exp.Rand()
	}

	fit, err := KolmogorovSmirnov(x, GainRayleigh())
	require.NoError(t, err)
	assert.True(t, fit.Reject(DefaultAlpha))
}

func TestKolmogorovSmirnov_TooFew(t *testing.T) {
	_, err := KolmogorovSmirnov([]float64{1}, GainRayleigh())
	assert.ErrorIs(t, err, ErrTooFewSamples)
}

func TestKSProb(t *testing.T) {
	assert.Equal(t, 1.0, ksProb(0))
	assert.InDelta(t, 0.05, ksProb(1.358), 1e-3)
	assert.InDelta(t, 0.01, ksProb(1.628), 1e-3)
	assert.Less(t, ksProb(3), 1e-6)
}

func TestDensity(t *testing.T) {
	mags := gainMagnitudes(20000, 5)

	bins, err := Density(mags, GainRayleigh(), DefaultBins)
	require.NoError(t, err)
	require.Len(t, bins, DefaultBins)

	var total, area float64
	for i, b := range bins {
		total += b.Count
		area += b.Empirical * (b.Hi - b.Lo)
		if i > 0 {
			assert.Equal(t, bins[i-1].Hi, b.Lo)
		}
	}
	assert.Equal(t, 20000.0, total)
	assert.InDelta(t, 1.0, area, 1e-9)
	assert.Equal(t, 0.0, bins[0].Lo)

	// Near the mode the empirical density tracks the PDF.
	mode := GainRayleigh().Mode()
	for _, b := range bins {
		if b.Lo <= mode && mode < b.Hi {
			assert.InEpsilon(t, b.Theoretical, b.Empirical, 0.1)
		}
	}
}

func TestDensity_Errors(t *testing.T) {
	_, err := Density(nil, GainRayleigh(), 10)
	assert.ErrorIs(t, err, ErrTooFewSamples)
	_, err = Density([]float64{1, 2}, GainRayleigh(), 0)
	assert.ErrorIs(t, err, ErrTooFewSamples)
}

func TestAnalyzeGains(t *testing.T) {
	r, err := AnalyzeGains(0, gainMagnitudes(10000, 6), DefaultAlpha, 20)
	require.NoError(t, err)

	assert.False(t, r.Reject)
	assert.Equal(t, DefaultAlpha, r.Alpha)
	assert.Len(t, r.Density, 20)
	assert.InEpsilon(t, r.Moments.TheoreticalMean, r.Moments.Mean, 0.02)
	assert.InEpsilon(t, r.Moments.TheoreticalStdDev, r.Moments.StdDev, 0.03)
}
