package sim

import (
	"sort"

	"github.com/jeongseonghan/bersim/internal/channel"
)

// partial is the output of one job: integer counts for a trial range of a
// single cell plus any samples retained for that range.
type partial struct {
	job    job
	errors int
	bits   int
	trials int

	gains []complex128
	tx    []complex128
	rx    []complex128
}

// cell accumulates the partials of one (variant, setting) pair.
type cell struct {
	errors     int
	bits       int
	trials     int
	chunksLeft int
}

func (c *cell) point(snrDB float64) Point {
	p := Point{SNRdB: snrDB, Errors: c.errors, Bits: c.bits, Trials: c.trials}
	if c.bits > 0 {
		p.BER = float64(c.errors) / float64(c.bits)
	}
	return p
}

// accumulator is owned by the reducer goroutine. Nothing else touches it
// while a sweep is running.
type accumulator struct {
	variants []channel.Variant
	sweep    Sweep
	cells    [][]cell

	gains   *GainSnapshot
	consts  map[int]*ConstellationSnapshot
	pending int
}

func newAccumulator(cfg Config, sweep Sweep, plan snapshotPlan) *accumulator {
	chunks := chunkCount(cfg.Trials, cfg.chunkSize())

	a := &accumulator{
		variants: cfg.Variants,
		sweep:    sweep,
		cells:    make([][]cell, len(cfg.Variants)),
		consts:   make(map[int]*ConstellationSnapshot, len(plan.constellations)),
		pending:  len(cfg.Variants) * len(sweep),
	}
	for vi := range a.cells {
		a.cells[vi] = make([]cell, len(sweep))
		for si := range a.cells[vi] {
			a.cells[vi][si].chunksLeft = chunks
		}
	}
	if plan.gain >= 0 {
		a.gains = newGainSnapshot(sweep, plan.gain, cfg.Trials)
	}
	for _, idx := range plan.constellations {
		s := newConstellationSnapshot(sweep, idx, cfg.Trials)
		a.consts[idx] = &s
	}
	return a
}

// fold adds p to its cell and reports whether the cell is now complete.
func (a *accumulator) fold(p partial) bool {
	c := &a.cells[p.job.variantIdx][p.job.setting]
	c.errors += p.errors
	c.bits += p.bits
	c.trials += p.trials
	c.chunksLeft--

	for i, h := range p.gains {
		a.gains.set(p.job.start+i, h)
	}
	if s, ok := a.consts[p.job.setting]; ok {
		for i := range p.tx {
			s.Transmitted[p.job.start+i] = NewIQ(p.tx[i])
			s.Received[p.job.start+i] = NewIQ(p.rx[i])
		}
	}

	if c.chunksLeft == 0 {
		a.pending--
		return true
	}
	return false
}

func (a *accumulator) point(variantIdx, setting int) Point {
	return a.cells[variantIdx][setting].point(a.sweep[setting])
}

func (a *accumulator) curves() []Curve {
	curves := make([]Curve, len(a.variants))
	for vi, v := range a.variants {
		points := make([]Point, len(a.sweep))
		for si := range points {
			points[si] = a.point(vi, si)
		}
		curves[vi] = Curve{Variant: v, Points: points}
	}
	return curves
}

func (a *accumulator) constellations() []ConstellationSnapshot {
	if len(a.consts) == 0 {
		return nil
	}
	out := make([]ConstellationSnapshot, 0, len(a.consts))
	for _, s := range a.consts {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// snapshotPlan holds the sweep indices whose samples are retained. A gain
// index of -1 disables gain retention.
type snapshotPlan struct {
	gain           int
	constellations []int
}

func planSnapshots(cfg Config, sweep Sweep) snapshotPlan {
	plan := snapshotPlan{gain: -1}
	if cfg.GainSnapshotDB != nil && cfg.hasVariant(channel.Rayleigh) {
		plan.gain = sweep.Nearest(*cfg.GainSnapshotDB)
	}
	if cfg.hasVariant(channel.AWGN) {
		seen := make(map[int]bool, len(cfg.ConstellationDBs))
		for _, db := range cfg.ConstellationDBs {
			idx := sweep.Nearest(db)
			if idx < 0 || seen[idx] {
				continue
			}
			seen[idx] = true
			plan.constellations = append(plan.constellations, idx)
		}
		sort.Ints(plan.constellations)
	}
	return plan
}

func (p snapshotPlan) keepConstellation(setting int) bool {
	for _, idx := range p.constellations {
		if idx == setting {
			return true
		}
	}
	return false
}

func chunkCount(trials, size int) int {
	return (trials + size - 1) / size
}
