package sim

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Sweep is the ordered list of SNR settings in dB.
type Sweep []float64

// NewSweep returns points evenly spaced SNR values from min to max
// inclusive. A single point sweep holds only min.
func NewSweep(minDB, maxDB float64, points int) Sweep {
	switch {
	case points <= 0:
		return nil
	case points == 1:
		return Sweep{minDB}
	}
	return Sweep(floats.Span(make([]float64, points), minDB, maxDB))
}

// Nearest returns the index of the setting closest to db. Ties resolve to
// the lower index. It returns -1 for an empty sweep.
func (s Sweep) Nearest(db float64) int {
	best, bestDist := -1, math.Inf(1)
	for i, v := range s {
		if d := math.Abs(v - db); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
