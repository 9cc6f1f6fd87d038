package modem

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Bits is a bit vector with one 0/1 value per byte.
type Bits []byte

// HammingDistance counts positions where a and b differ. Extra positions in
// the longer vector count as errors.
func HammingDistance(a, b Bits) int {
	n, extra := len(a), len(b)-len(a)
	if extra < 0 {
		n, extra = len(b), -extra
	}

	dist := extra
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			dist++
		}
	}
	return dist
}

// BitSource draws independent, uniformly distributed bits. It owns no
// generator; every draw uses the source passed by the caller.
type BitSource struct {
	dist distuv.Bernoulli
}

// NewBitSource returns a bit source drawing from src.
func NewBitSource(src rand.Source) BitSource {
	return BitSource{dist: distuv.Bernoulli{P: 0.5, Src: src}}
}

// Next returns a fresh vector of n bits.
func (s BitSource) Next(n int) Bits {
	bits := make(Bits, n)
	for i := range bits {
		bits[i] = byte(s.dist.Rand())
	}
	return bits
}
