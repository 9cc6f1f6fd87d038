// Package report encodes sweep results for people and for other programs.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/jeongseonghan/bersim/internal/analysis"
	"github.com/jeongseonghan/bersim/internal/channel"
	"github.com/jeongseonghan/bersim/internal/modem"
	"github.com/jeongseonghan/bersim/internal/sim"
)

// Theory is the closed-form BER for one variant over the sweep.
type Theory struct {
	Variant channel.Variant `json:"variant" msgpack:"variant"`
	BER     []float64       `json:"ber" msgpack:"ber"`
}

// Report is a result together with everything derived from it.
type Report struct {
	Result  *sim.Result          `json:"result" msgpack:"result"`
	Theory  []Theory             `json:"theory" msgpack:"theory"`
	GainFit *analysis.GainReport `json:"gainFit,omitempty" msgpack:"gainFit,omitempty"`
}

// Options controls the derived statistics.
type Options struct {
	Alpha float64 // KS significance level
	Bins  int     // gain density bins
}

func (o Options) withDefaults() Options {
	if o.Alpha <= 0 {
		o.Alpha = analysis.DefaultAlpha
	}
	if o.Bins <= 0 {
		o.Bins = analysis.DefaultBins
	}
	return o
}

// Build derives the theory curves and, when gains were retained, the
// Rayleigh fit.
func Build(res *sim.Result, opts Options) (*Report, error) {
	opts = opts.withDefaults()

	mod, err := modem.ModulationForOrder(res.Config.Order)
	if err != nil {
		return nil, err
	}

	r := &Report{Result: res}
	for _, c := range res.Curves {
		ber, err := analysis.TheoryCurve(mod, c.Variant, res.Sweep)
		if err != nil {
			return nil, fmt.Errorf("theory for %s: %w", c.Variant, err)
		}
		r.Theory = append(r.Theory, Theory{Variant: c.Variant, BER: ber})
	}

	if g := res.Gains; g != nil && len(g.Magnitudes) >= 2 {
		fit, err := analysis.AnalyzeGains(g.SNRdB, g.Magnitudes, opts.Alpha, opts.Bins)
		if err != nil {
			return nil, fmt.Errorf("gain fit: %w", err)
		}
		r.GainFit = fit
	}
	return r, nil
}

// TheoryFor returns the theory curve for v.
func (r *Report) TheoryFor(v channel.Variant) []float64 {
	for _, t := range r.Theory {
		if t.Variant == v {
			return t.BER
		}
	}
	return nil
}

// Encoder writes one sweep result.
type Encoder interface {
	Encode(*sim.Result) error
}

// NewEncoder returns the encoder for format: plain, csv, json or msgpack.
func NewEncoder(format string, w io.Writer, opts Options) (Encoder, error) {
	switch strings.ToLower(format) {
	case "plain":
		return &PlainEncoder{w: w, opts: opts}, nil
	case "csv":
		return NewCSVEncoder(w, opts), nil
	case "json":
		return &JSONEncoder{w: w, opts: opts}, nil
	case "msgpack":
		return &MsgpackEncoder{w: w, opts: opts}, nil
	default:
		return nil, fmt.Errorf("invalid format: %q", format)
	}
}
