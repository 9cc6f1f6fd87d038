package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/jeongseonghan/bersim/internal/channel"
)

var ErrTooFewSamples = errors.New("too few samples")

// DefaultAlpha is the significance level used when none is configured.
const DefaultAlpha = 0.001

// DefaultBins matches the gain histogram of the reference study.
const DefaultBins = 50

// Rayleigh returns the magnitude distribution of a complex Gaussian with
// per-component standard deviation sigma. A Rayleigh(sigma) is a Weibull
// with shape 2 and scale sigma*sqrt(2).
func Rayleigh(sigma float64) distuv.Weibull {
	return distuv.Weibull{K: 2, Lambda: sigma * math.Sqrt2}
}

// GainRayleigh is the distribution |h| follows on the fading channel.
func GainRayleigh() distuv.Weibull {
	return Rayleigh(channel.GainSigma)
}

// Fit is the outcome of a one-sample Kolmogorov-Smirnov test.
type Fit struct {
	D      float64 `json:"d" msgpack:"d"`
	PValue float64 `json:"pValue" msgpack:"pValue"`
	N      int     `json:"n" msgpack:"n"`
}

// Reject reports whether the hypothesised distribution is rejected at alpha.
func (f Fit) Reject(alpha float64) bool {
	return f.PValue < alpha
}

// KolmogorovSmirnov tests samples against the CDF of dist.
func KolmogorovSmirnov(samples []float64, dist distuv.Weibull) (Fit, error) {
	n := len(samples)
	if n < 2 {
		return Fit{}, fmt.Errorf("ks test with %d samples: %w", n, ErrTooFewSamples)
	}

	x := append([]float64(nil), samples...)
	sort.Float64s(x)

	var d float64
	fn := float64(n)
	for i, v := range x {
		f := dist.CDF(v)
		d = math.Max(d, math.Max(float64(i+1)/fn-f, f-float64(i)/fn))
	}

	sqrtN := math.Sqrt(fn)
	return Fit{
		D:      d,
		PValue: ksProb((sqrtN + 0.12 + 0.11/sqrtN) * d),
		N:      n,
	}, nil
}

// ksProb is the asymptotic Kolmogorov survival function
// 2 * sum_{k>=1} (-1)^(k-1) exp(-2 k^2 t^2).
func ksProb(t float64) float64 {
	a := -2 * t * t
	sign, sum, prev := 2.0, 0.0, 0.0
	for k := 1; k <= 100; k++ {
		term := sign * math.Exp(a*float64(k*k))
		sum += term
		if math.Abs(term) <= 0.001*prev || math.Abs(term) <= 1e-8*sum {
			return math.Min(math.Max(sum, 0), 1)
		}
		sign = -sign
		prev = math.Abs(term)
	}
	// No convergence: t is tiny and the fit is perfect.
	return 1
}

// DensityBin compares the empirical and theoretical density over one bin.
type DensityBin struct {
	Lo          float64 `json:"lo" msgpack:"lo"`
	Hi          float64 `json:"hi" msgpack:"hi"`
	Count       float64 `json:"count" msgpack:"count"`
	Empirical   float64 `json:"empirical" msgpack:"empirical"`
	Theoretical float64 `json:"theoretical" msgpack:"theoretical"`
}

// Density bins samples over [0, max] and evaluates the PDF of dist at each
// bin centre. Empirical values are normalized to integrate to one.
func Density(samples []float64, dist distuv.Weibull, bins int) ([]DensityBin, error) {
	if len(samples) < 2 {
		return nil, fmt.Errorf("density with %d samples: %w", len(samples), ErrTooFewSamples)
	}
	if bins < 1 {
		return nil, fmt.Errorf("density with %d bins: %w", bins, ErrTooFewSamples)
	}

	x := append([]float64(nil), samples...)
	sort.Float64s(x)

	// Histogram needs every sample strictly below the last divider.
	hi := math.Nextafter(x[len(x)-1], math.Inf(1))
	dividers := floats.Span(make([]float64, bins+1), 0, hi)
	counts := stat.Histogram(nil, dividers, x, nil)

	n := float64(len(x))
	out := make([]DensityBin, bins)
	for i := range out {
		lo, up := dividers[i], dividers[i+1]
		out[i] = DensityBin{
			Lo:          lo,
			Hi:          up,
			Count:       counts[i],
			Empirical:   counts[i] / (n * (up - lo)),
			Theoretical: dist.Prob((lo + up) / 2),
		}
	}
	return out, nil
}

// Moments compares sample moments against the distribution's.
type Moments struct {
	Mean              float64 `json:"mean" msgpack:"mean"`
	StdDev            float64 `json:"stdDev" msgpack:"stdDev"`
	TheoreticalMean   float64 `json:"theoreticalMean" msgpack:"theoreticalMean"`
	TheoreticalStdDev float64 `json:"theoreticalStdDev" msgpack:"theoreticalStdDev"`
}

// GainReport is everything derived from a gain snapshot.
type GainReport struct {
	SNRdB   float64      `json:"snrDb" msgpack:"snrDb"`
	Fit     Fit          `json:"fit" msgpack:"fit"`
	Alpha   float64      `json:"alpha" msgpack:"alpha"`
	Reject  bool         `json:"reject" msgpack:"reject"`
	Moments Moments      `json:"moments" msgpack:"moments"`
	Density []DensityBin `json:"density" msgpack:"density"`
}

// AnalyzeGains runs the KS test, moment comparison and density binning on
// fading gain magnitudes against the channel's Rayleigh law.
func AnalyzeGains(snrDB float64, magnitudes []float64, alpha float64, bins int) (*GainReport, error) {
	dist := GainRayleigh()

	fit, err := KolmogorovSmirnov(magnitudes, dist)
	if err != nil {
		return nil, err
	}
	density, err := Density(magnitudes, dist, bins)
	if err != nil {
		return nil, err
	}

	mean, std := stat.MeanStdDev(magnitudes, nil)
	return &GainReport{
		SNRdB:  snrDB,
		Fit:    fit,
		Alpha:  alpha,
		Reject: fit.Reject(alpha),
		Moments: Moments{
			Mean:              mean,
			StdDev:            std,
			TheoreticalMean:   dist.Mean(),
			TheoreticalStdDev: dist.StdDev(),
		},
		Density: density,
	}, nil
}
