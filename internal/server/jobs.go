package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeongseonghan/bersim/internal/logger"
	"github.com/jeongseonghan/bersim/internal/sim"
)

var (
	ErrJobNotFound = errors.New("sweep not found")
	ErrJobFinished = errors.New("sweep already finished")
	ErrTooLarge    = errors.New("sweep exceeds the trial limit")
	ErrNotReady    = errors.New("sweep has no result yet")
)

// JobStatus represents the sweep job state.
type JobStatus int

const (
	StatusPending JobStatus = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

// String returns the status name.
func (s JobStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s JobStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *JobStatus) UnmarshalText(text []byte) error {
	for c := StatusPending; c <= StatusCancelled; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown sweep status %q", text)
}

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobInfo is a point-in-time copy of a job's state.
type JobInfo struct {
	ID        string     `json:"id"`
	Status    JobStatus  `json:"status"`
	Config    sim.Config `json:"config"`
	Completed int        `json:"completed"`
	Total     int        `json:"total"`
	Progress  float64    `json:"progress"` // 0.0 to 1.0
	Error     string     `json:"error,omitempty"`
	Created   time.Time  `json:"created"`
	Started   *time.Time `json:"started,omitempty"`
	Finished  *time.Time `json:"finished,omitempty"`
}

// Job is one submitted sweep.
type Job struct {
	id     string
	cfg    sim.Config
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	status    JobStatus
	completed int
	total     int
	err       error
	result    *sim.Result
	created   time.Time
	started   time.Time
	finished  time.Time
}

// Info returns a copy of the job state.
func (j *Job) Info() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()

	info := JobInfo{
		ID:        j.id,
		Status:    j.status,
		Config:    j.cfg,
		Completed: j.completed,
		Total:     j.total,
		Created:   j.created,
	}
	if j.total > 0 {
		info.Progress = float64(j.completed) / float64(j.total)
	}
	if j.err != nil {
		info.Error = j.err.Error()
	}
	if !j.started.IsZero() {
		t := j.started
		info.Started = &t
	}
	if !j.finished.IsZero() {
		t := j.finished
		info.Finished = &t
	}
	return info
}

// Result returns the sweep result once the job has completed.
func (j *Job) Result() (*sim.Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusCompleted {
		return nil, fmt.Errorf("%s is %s: %w", j.id, j.status, ErrNotReady)
	}
	return j.result, nil
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) setStatus(s JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = s
	switch {
	case s == StatusRunning:
		j.started = time.Now()
	case s.Terminal():
		j.finished = time.Now()
	}
}

// Limits bounds the work a single request may ask for. Zero fields are
// unlimited.
type Limits struct {
	MaxTrials      int // trials per cell
	MaxPoints      int // SNR settings per sweep or theory curve
	MaxTotalTrials int // variants x points x trials
}

// CheckPoints rejects sweeps with more than MaxPoints settings.
func (l Limits) CheckPoints(points int) error {
	if l.MaxPoints > 0 && points > l.MaxPoints {
		return fmt.Errorf("%d points, limit %d: %w", points, l.MaxPoints, ErrTooLarge)
	}
	return nil
}

// Check rejects cfg when it exceeds any limit.
func (l Limits) Check(cfg sim.Config) error {
	if l.MaxTrials > 0 && cfg.Trials > l.MaxTrials {
		return fmt.Errorf("%d trials, limit %d: %w", cfg.Trials, l.MaxTrials, ErrTooLarge)
	}
	if err := l.CheckPoints(cfg.Points); err != nil {
		return err
	}
	// Float product so oversized requests cannot wrap around.
	total := float64(len(cfg.Variants)) * float64(cfg.Points) * float64(cfg.Trials)
	if l.MaxTotalTrials > 0 && total > float64(l.MaxTotalTrials) {
		return fmt.Errorf("%.0f total trials, limit %d: %w", total, l.MaxTotalTrials, ErrTooLarge)
	}
	return nil
}

// JobManager runs submitted sweeps, at most maxRunning at a time.
type JobManager struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	slots chan struct{}
	wg    sync.WaitGroup

	limits  Limits
	hub     *WSHub
	metrics *Metrics
	log     zerolog.Logger
}

// NewJobManager creates a job manager. hub and metrics may be nil.
func NewJobManager(maxRunning int, limits Limits, hub *WSHub, metrics *Metrics, log zerolog.Logger) *JobManager {
	if maxRunning < 1 {
		maxRunning = 1
	}
	return &JobManager{
		jobs:    make(map[string]*Job),
		slots:   make(chan struct{}, maxRunning),
		limits:  limits,
		hub:     hub,
		metrics: metrics,
		log:     logger.Component(log, "jobs"),
	}
}

// Limits returns the request limits in force.
func (m *JobManager) Limits() Limits {
	return m.limits
}

// Submit validates cfg and queues the sweep. Configuration errors wrap
// sim.ErrInvalidConfig; oversized sweeps wrap ErrTooLarge.
func (m *JobManager) Submit(cfg sim.Config) (*Job, error) {
	if err := m.limits.Check(cfg); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		id:      uuid.NewString(),
		cfg:     cfg,
		cancel:  cancel,
		done:    make(chan struct{}),
		status:  StatusPending,
		created: time.Now(),
	}

	simulator, err := sim.New(cfg, m.log, sim.WithProgress(func(c sim.CellDone) {
		m.onCell(job, c)
	}))
	if err != nil {
		cancel()
		return nil, err
	}
	job.total = simulator.Cells()

	m.mu.Lock()
	m.jobs[job.id] = job
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx, job, simulator)

	m.log.Info().Str("job", job.id).Int("cells", job.total).Msg("sweep submitted")
	m.broadcast(job, "Sweep queued")
	return job, nil
}

func (m *JobManager) run(ctx context.Context, job *Job, simulator *sim.Simulator) {
	defer m.wg.Done()
	defer close(job.done)
	defer job.cancel()

	select {
	case m.slots <- struct{}{}:
		defer func() { <-m.slots }()
	case <-ctx.Done():
		m.finish(job, nil, ctx.Err())
		return
	}

	job.setStatus(StatusRunning)
	m.metrics.running(1)
	m.broadcast(job, "Sweep running")

	res, err := simulator.Run(ctx)
	m.metrics.running(-1)
	m.finish(job, res, err)
}

func (m *JobManager) finish(job *Job, res *sim.Result, err error) {
	status := StatusCompleted
	message := "Sweep completed"
	switch {
	case errors.Is(err, context.Canceled):
		status, message = StatusCancelled, "Sweep cancelled"
	case err != nil:
		status, message = StatusFailed, fmt.Sprintf("Sweep failed: %v", err)
	}

	job.mu.Lock()
	job.result = res
	if status == StatusFailed {
		job.err = err
	}
	job.mu.Unlock()
	job.setStatus(status)

	info := job.Info()
	elapsed := 0.0
	if info.Started != nil {
		elapsed = info.Finished.Sub(*info.Started).Seconds()
	}
	m.metrics.finished(status, elapsed)

	m.log.Info().Str("job", job.id).Str("status", status.String()).Float64("elapsed_s", elapsed).Msg("sweep finished")
	m.broadcast(job, message)
}

func (m *JobManager) onCell(job *Job, c sim.CellDone) {
	job.mu.Lock()
	job.completed = c.Completed
	job.mu.Unlock()

	m.metrics.cell(c)
	if m.hub != nil {
		m.hub.BroadcastProgress(job.Info(), &c)
	}
}

func (m *JobManager) broadcast(job *Job, message string) {
	if m.hub != nil {
		m.hub.BroadcastStatus(job.Info(), message)
	}
}

// Get returns the job with the given id.
func (m *JobManager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrJobNotFound)
	}
	return job, nil
}

// List returns every job, oldest first.
func (m *JobManager) List() []JobInfo {
	m.mu.RLock()
	infos := make([]JobInfo, 0, len(m.jobs))
	for _, job := range m.jobs {
		infos = append(infos, job.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, k int) bool {
		return infos[i].Created.Before(infos[k].Created)
	})
	return infos
}

// Counts returns the number of jobs per status.
func (m *JobManager) Counts() map[string]int {
	counts := make(map[string]int)
	for _, info := range m.List() {
		counts[info.Status.String()]++
	}
	return counts
}

// Cancel stops a pending or running job.
func (m *JobManager) Cancel(id string) (*Job, error) {
	job, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if job.Info().Status.Terminal() {
		return job, fmt.Errorf("%q: %w", id, ErrJobFinished)
	}
	job.cancel()
	return job, nil
}

// Shutdown cancels every job and waits for them to stop.
func (m *JobManager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, job := range m.jobs {
		job.cancel()
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
