package sim

import (
	"math/cmplx"

	"github.com/jeongseonghan/bersim/internal/channel"
)

// Point is the folded outcome of one (variant, SNR) cell.
type Point struct {
	SNRdB  float64 `json:"snrDb" msgpack:"snrDb"`
	BER    float64 `json:"ber" msgpack:"ber"`
	Errors int     `json:"errors" msgpack:"errors"`
	Bits   int     `json:"bits" msgpack:"bits"`
	Trials int     `json:"trials" msgpack:"trials"`
}

// Curve is the mean BER per sweep setting for one channel variant.
// Points[i] belongs to Result.Sweep[i].
type Curve struct {
	Variant channel.Variant `json:"variant" msgpack:"variant"`
	Points  []Point         `json:"points" msgpack:"points"`
}

// Point returns the point for setting index i.
func (c Curve) Point(i int) Point {
	return c.Points[i]
}

// BER returns the BER values in sweep order.
func (c Curve) BER() []float64 {
	ber := make([]float64, len(c.Points))
	for i, p := range c.Points {
		ber[i] = p.BER
	}
	return ber
}

// IQ is a complex baseband sample in a serializable form.
type IQ struct {
	I float64 `json:"i" msgpack:"i"`
	Q float64 `json:"q" msgpack:"q"`
}

// NewIQ converts c.
func NewIQ(c complex128) IQ {
	return IQ{I: real(c), Q: imag(c)}
}

// GainSnapshot holds every fading gain drawn at one setting.
type GainSnapshot struct {
	SNRdB      float64   `json:"snrDb" msgpack:"snrDb"`
	Index      int       `json:"index" msgpack:"index"`
	Gains      []IQ      `json:"gains" msgpack:"gains"`
	Magnitudes []float64 `json:"magnitudes" msgpack:"magnitudes"`
}

// ConstellationSnapshot holds the transmitted and received symbol of every
// AWGN trial at one setting.
type ConstellationSnapshot struct {
	SNRdB       float64 `json:"snrDb" msgpack:"snrDb"`
	Index       int     `json:"index" msgpack:"index"`
	Transmitted []IQ    `json:"transmitted" msgpack:"transmitted"`
	Received    []IQ    `json:"received" msgpack:"received"`
}

// Result is the full output of a sweep.
type Result struct {
	Config         Config                  `json:"config" msgpack:"config"`
	Modulation     string                  `json:"modulation" msgpack:"modulation"`
	Sweep          Sweep                   `json:"sweep" msgpack:"sweep"`
	Curves         []Curve                 `json:"curves" msgpack:"curves"`
	Gains          *GainSnapshot           `json:"gains,omitempty" msgpack:"gains,omitempty"`
	Constellations []ConstellationSnapshot `json:"constellations,omitempty" msgpack:"constellations,omitempty"`
}

// Curve returns the curve for v.
func (r *Result) Curve(v channel.Variant) (Curve, bool) {
	for _, c := range r.Curves {
		if c.Variant == v {
			return c, true
		}
	}
	return Curve{}, false
}

// Constellation returns the snapshot closest to snrDB.
func (r *Result) Constellation(snrDB float64) (ConstellationSnapshot, bool) {
	idx := r.Sweep.Nearest(snrDB)
	for _, s := range r.Constellations {
		if s.Index == idx {
			return s, true
		}
	}
	return ConstellationSnapshot{}, false
}

func newGainSnapshot(sweep Sweep, idx, trials int) *GainSnapshot {
	return &GainSnapshot{
		SNRdB:      sweep[idx],
		Index:      idx,
		Gains:      make([]IQ, trials),
		Magnitudes: make([]float64, trials),
	}
}

func (g *GainSnapshot) set(trial int, h complex128) {
	g.Gains[trial] = NewIQ(h)
	g.Magnitudes[trial] = cmplx.Abs(h)
}

func newConstellationSnapshot(sweep Sweep, idx, trials int) ConstellationSnapshot {
	return ConstellationSnapshot{
		SNRdB:       sweep[idx],
		Index:       idx,
		Transmitted: make([]IQ, trials),
		Received:    make([]IQ, trials),
	}
}
