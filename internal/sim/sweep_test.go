package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSweep(t *testing.T) {
	s := NewSweep(-10, 20, 31)
	require.Len(t, s, 31)
	for i, v := range s {
		assert.InDelta(t, float64(i-10), v, 1e-9)
	}
	assert.Equal(t, 20.0, s[30])
}

func TestNewSweep_Edges(t *testing.T) {
	assert.Nil(t, NewSweep(0, 10, 0))
	assert.Equal(t, Sweep{-3}, NewSweep(-3, 7, 1))
	assert.Equal(t, Sweep{5, 5, 5}, NewSweep(5, 5, 3))
	assert.Equal(t, Sweep{0, 10}, NewSweep(0, 10, 2))
}

func TestSweep_Nearest(t *testing.T) {
	s := NewSweep(-10, 20, 31)
	assert.Equal(t, 10, s.Nearest(0))
	assert.Equal(t, 0, s.Nearest(-100))
	assert.Equal(t, 30, s.Nearest(100))
	assert.Equal(t, 13, s.Nearest(3.2))

	// Ties resolve to the lower index.
	assert.Equal(t, 0, Sweep{0, 10}.Nearest(5))
	assert.Equal(t, -1, Sweep(nil).Nearest(1))
}
