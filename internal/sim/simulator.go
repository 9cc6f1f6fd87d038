// Package sim runs Monte-Carlo bit-error-rate sweeps. A sweep is split into
// jobs of at most ChunkSize trials; each job draws from its own PCG stream so
// the folded result does not depend on how many workers ran it.
package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jeongseonghan/bersim/internal/channel"
	"github.com/jeongseonghan/bersim/internal/logger"
	"github.com/jeongseonghan/bersim/internal/modem"
)

// CellDone is passed to the progress hook when every trial of a
// (variant, setting) cell has been folded.
type CellDone struct {
	Variant   channel.Variant
	Index     int
	Point     Point
	Completed int
	Total     int
}

// ProgressFunc is called from the reducer goroutine. It must not block for
// long; the workers stall behind it.
type ProgressFunc func(CellDone)

// Option configures a Simulator.
type Option func(*Simulator)

// WithProgress installs a cell completion hook.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Simulator) {
		s.progress = fn
	}
}

// Simulator executes one validated Config.
type Simulator struct {
	cfg      Config
	mod      modem.Modulation
	sweep    Sweep
	runners  []*TrialRunner
	plan     snapshotPlan
	logger   zerolog.Logger
	progress ProgressFunc
}

// New validates cfg and prepares the trial pipelines. Every configuration
// error is reported here, before any trial runs.
func New(cfg Config, log zerolog.Logger, opts ...Option) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mod, err := cfg.Modulation()
	if err != nil {
		return nil, err
	}

	runners := make([]*TrialRunner, len(cfg.Variants))
	for i, v := range cfg.Variants {
		r, err := NewTrialRunner(mod, v)
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", v, err)
		}
		runners[i] = r
	}

	sweep := NewSweep(cfg.SNRMinDB, cfg.SNRMaxDB, cfg.Points)
	s := &Simulator{
		cfg:     cfg,
		mod:     mod,
		sweep:   sweep,
		runners: runners,
		plan:    planSnapshots(cfg, sweep),
		logger:  logger.Component(log, "sim"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Cells returns the number of (variant, setting) cells in the sweep.
func (s *Simulator) Cells() int {
	return len(s.cfg.Variants) * len(s.sweep)
}

type job struct {
	variantIdx int
	setting    int
	chunk      int
	start      int
	end        int
}

func (s *Simulator) jobs() []job {
	size := s.cfg.chunkSize()
	chunks := chunkCount(s.cfg.Trials, size)

	jobs := make([]job, 0, s.Cells()*chunks)
	for vi := range s.cfg.Variants {
		for si := range s.sweep {
			for ci := 0; ci < chunks; ci++ {
				start := ci * size
				jobs = append(jobs, job{
					variantIdx: vi,
					setting:    si,
					chunk:      ci,
					start:      start,
					end:        min(start+size, s.cfg.Trials),
				})
			}
		}
	}
	return jobs
}

func (s *Simulator) workers() int {
	if s.cfg.Workers > 0 {
		return s.cfg.Workers
	}
	return runtime.NumCPU()
}

// Run executes the sweep. Cancelling ctx stops scheduling and returns the
// context error.
func (s *Simulator) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	jobs := s.jobs()
	workers := s.workers()

	s.logger.Info().
		Str("modulation", s.mod.String()).
		Int("points", len(s.sweep)).
		Int("trials", s.cfg.Trials).
		Uint64("seed", s.cfg.Seed).
		Int("workers", workers).
		Int("jobs", len(jobs)).
		Msg("sweep started")

	acc := newAccumulator(s.cfg, s.sweep, s.plan)
	partials := make(chan partial, workers)
	reduced := make(chan struct{})

	go func() {
		defer close(reduced)
		total := s.Cells()
		for p := range partials {
			if !acc.fold(p) {
				continue
			}
			point := acc.point(p.job.variantIdx, p.job.setting)
			v := s.cfg.Variants[p.job.variantIdx]
			s.logger.Debug().
				Str("variant", v.String()).
				Float64("snr_db", point.SNRdB).
				Float64("ber", point.BER).
				Int("errors", point.Errors).
				Msg("cell complete")
			if s.progress != nil {
				s.progress(CellDone{
					Variant:   v,
					Index:     p.job.setting,
					Point:     point,
					Completed: total - acc.pending,
					Total:     total,
				})
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, j := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p := s.runJob(j)
			select {
			case partials <- p:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	err := g.Wait()
	close(partials)
	<-reduced

	if ctxErr := ctx.Err(); ctxErr != nil {
		s.logger.Warn().Err(ctxErr).Msg("sweep cancelled")
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}

	res := &Result{
		Config:         s.cfg,
		Modulation:     s.mod.String(),
		Sweep:          s.sweep,
		Curves:         acc.curves(),
		Gains:          acc.gains,
		Constellations: acc.constellations(),
	}

	s.logger.Info().
		Dur("elapsed", time.Since(started)).
		Int("cells", s.Cells()).
		Msg("sweep finished")
	return res, nil
}

func (s *Simulator) runJob(j job) partial {
	v := s.cfg.Variants[j.variantIdx]
	runner := s.runners[j.variantIdx]
	snr := s.sweep[j.setting]
	src := rand.NewPCG(jobSeeds(s.cfg.Seed, v, j.setting, j.chunk))

	n := j.end - j.start
	p := partial{job: j, trials: n}

	keepGain := v == channel.Rayleigh && j.setting == s.plan.gain
	keepConst := v == channel.AWGN && s.plan.keepConstellation(j.setting)
	if keepGain {
		p.gains = make([]complex128, n)
	}
	if keepConst {
		p.tx = make([]complex128, n)
		p.rx = make([]complex128, n)
	}

	for i := 0; i < n; i++ {
		t := runner.Run(snr, src)
		p.errors += t.Errors
		p.bits += len(t.Bits)
		if keepGain {
			p.gains[i] = t.Gain
		}
		if keepConst {
			p.tx[i] = t.Transmitted
			p.rx[i] = t.Received
		}
	}
	return p
}

// jobSeeds derives the two PCG seed words of a job. The first word mixes the
// sweep seed with the (variant, setting) cell and the second the chunk, so
// every job in a sweep gets a distinct stream regardless of variant order.
func jobSeeds(seed uint64, v channel.Variant, setting, chunk int) (uint64, uint64) {
	cell := uint64(v)<<32 | uint64(uint32(setting))
	return splitmix64(seed ^ splitmix64(cell)), splitmix64(uint64(chunk))
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
