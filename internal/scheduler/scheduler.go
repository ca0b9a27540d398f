package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/scan-io-git/scanguard/internal/findings"
)

// State is the lifecycle state of a scheduler run.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateDone
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Outcome is how one task ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeTimedOut
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed-out"
	case OutcomeCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Task is one file to analyze. Index is its position in the submitted list.
type Task struct {
	Index int
	Path  string
}

// Func analyzes one task. It should return promptly once ctx is done.
type Func func(ctx context.Context, task Task) ([]findings.Finding, error)

// Result is the outcome of one task. Findings are only set for completed tasks.
type Result struct {
	Task       Task
	Outcome    Outcome
	Findings   []findings.Finding
	Err        error
	Duration   time.Duration
	Dispatched bool
}

// Options configures a Scheduler.
type Options struct {
	MaxWorkers int
	MinWorkers int

	// InitialWorkers defaults to half of MaxWorkers with a sampler, and MaxWorkers without one.
	InitialWorkers int

	QueueSize int

	// Timeout bounds every task. Zero disables it.
	Timeout time.Duration

	AdjustEvery    int
	AdjustInterval time.Duration
}

// Metrics is a read-only snapshot of the scheduler.
type Metrics struct {
	State       string  `json:"state"`
	Workers     int     `json:"workers"`
	MinWorkers  int     `json:"min_workers"`
	MaxWorkers  int     `json:"max_workers"`
	InFlight    int     `json:"in_flight"`
	Dispatched  int64   `json:"dispatched"`
	Completed   int64   `json:"completed"`
	TimedOut    int64   `json:"timed_out"`
	Adjustments int64   `json:"adjustments"`
	CurrentLoad float64 `json:"current_load"`
	AverageLoad float64 `json:"average_load"`
	LoadSampled bool    `json:"load_sampled"`
}

// Scheduler runs tasks on a bounded worker pool whose effective size follows system load.
// A Scheduler serves a single Run.
type Scheduler struct {
	logger  hclog.Logger
	sampler LoadSampler
	opts    Options

	state     atomic.Int32
	limit     atomic.Int32
	inFlight  atomic.Int32
	adjusting atomic.Bool
	wake      chan struct{}

	dispatched  atomic.Int64
	completed   atomic.Int64
	timedOut    atomic.Int64
	adjustments atomic.Int64

	window loadWindow
}

// New creates a scheduler. sampler may be nil, which keeps concurrency fixed.
func New(logger hclog.Logger, sampler LoadSampler, opts Options) *Scheduler {
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = 1
	}
	if opts.MinWorkers < 1 || opts.MinWorkers > opts.MaxWorkers {
		opts.MinWorkers = 1
	}
	if opts.InitialWorkers < 1 {
		opts.InitialWorkers = opts.MaxWorkers
		if sampler != nil {
			opts.InitialWorkers = max(opts.MaxWorkers/2, 1)
		}
	}
	opts.InitialWorkers = min(max(opts.InitialWorkers, opts.MinWorkers), opts.MaxWorkers)
	if opts.QueueSize < 1 {
		opts.QueueSize = opts.MaxWorkers * 2
	}
	if opts.AdjustEvery < 1 {
		opts.AdjustEvery = 16
	}

	s := &Scheduler{
		logger:  logger.Named("scheduler"),
		sampler: sampler,
		opts:    opts,
		wake:    make(chan struct{}, opts.MaxWorkers),
	}
	s.limit.Store(int32(opts.InitialWorkers))
	return s
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run dispatches one task per path and blocks until every dispatched task has finished or timed out.
// Cancelling ctx stops dispatch; tasks not yet finished come back as OutcomeCancelled.
// The returned slice holds one result per path, in input order.
func (s *Scheduler) Run(ctx context.Context, paths []string, fn Func) ([]Result, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, errors.New("scheduler has already been run")
	}

	results := make([]Result, len(paths))
	for i, p := range paths {
		results[i] = Result{Task: Task{Index: i, Path: p}, Outcome: OutcomeCancelled}
	}

	queue := make(chan Task, s.opts.QueueSize)
	stop := make(chan struct{})
	if s.sampler != nil && s.opts.AdjustInterval > 0 {
		go s.adjustLoop(ctx, stop)
	}

	var g errgroup.Group
	g.Go(func() error {
		defer close(queue)
		for i, p := range paths {
			// blocks while the queue is full
			select {
			case queue <- Task{Index: i, Path: p}:
			case <-ctx.Done():
				return nil
			}
		}
		s.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
		return nil
	})
	for i := 0; i < s.opts.MaxWorkers; i++ {
		g.Go(func() error {
			s.worker(ctx, queue, fn, results)
			return nil
		})
	}
	_ = g.Wait()
	close(stop)

	final := StateDone
	for _, r := range results {
		if r.Outcome == OutcomeCancelled {
			final = StateCancelled
			break
		}
	}
	s.state.Store(int32(final))
	s.logger.Debug("scheduler finished", "state", final, "tasks", len(paths), "dispatched", s.dispatched.Load(), "timed_out", s.timedOut.Load())
	return results, nil
}

func (s *Scheduler) worker(ctx context.Context, queue <-chan Task, fn Func, results []Result) {
	for {
		if !s.acquire(ctx) {
			return
		}

		var task Task
		var ok bool
		select {
		case task, ok = <-queue:
		case <-ctx.Done():
		}
		if !ok || ctx.Err() != nil {
			s.release()
			return
		}

		s.dispatched.Add(1)
		res := s.execute(ctx, task, fn)
		s.release()

		results[task.Index] = res
		if res.Outcome == OutcomeTimedOut {
			s.timedOut.Add(1)
		}
		if n := s.completed.Add(1); s.sampler != nil && n%int64(s.opts.AdjustEvery) == 0 {
			s.adjust(ctx)
		}
	}
}

// acquire takes a slot below the effective limit, waiting for one to free up.
func (s *Scheduler) acquire(ctx context.Context) bool {
	for {
		cur := s.inFlight.Load()
		if cur < s.limit.Load() {
			if s.inFlight.CompareAndSwap(cur, cur+1) {
				return true
			}
			continue
		}
		select {
		case <-s.wake:
		case <-ctx.Done():
			return false
		}
	}
}

func (s *Scheduler) release() {
	s.inFlight.Add(-1)
	s.signal(1)
}

func (s *Scheduler) signal(n int) {
	for i := 0; i < n; i++ {
		select {
		case s.wake <- struct{}{}:
		default:
			return
		}
	}
}

type taskOutput struct {
	findings []findings.Finding
	err      error
}

// execute runs fn under the per-task timeout. A task that overruns is abandoned: its output is
// discarded when it eventually returns, and the worker moves on.
func (s *Scheduler) execute(ctx context.Context, task Task, fn Func) Result {
	res := Result{Task: task, Dispatched: true}

	taskCtx, cancel := context.WithCancel(ctx)
	if s.opts.Timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
	}
	defer cancel()

	start := time.Now()
	done := make(chan taskOutput, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- taskOutput{err: fmt.Errorf("task panicked: %v", p)}
			}
		}()
		out, err := fn(taskCtx, task)
		done <- taskOutput{findings: out, err: err}
	}()

	select {
	case out := <-done:
		res.Duration = time.Since(start)
		switch {
		case out.err == nil:
			res.Outcome = OutcomeCompleted
			res.Findings = out.findings
		case ctx.Err() != nil:
			res.Outcome = OutcomeCancelled
			res.Err = ctx.Err()
		case errors.Is(out.err, context.DeadlineExceeded) && taskCtx.Err() != nil:
			res.Outcome = OutcomeTimedOut
			res.Err = out.err
		default:
			res.Outcome = OutcomeFailed
			res.Err = out.err
		}
	case <-taskCtx.Done():
		res.Duration = time.Since(start)
		if ctx.Err() != nil {
			res.Outcome = OutcomeCancelled
			res.Err = ctx.Err()
		} else {
			res.Outcome = OutcomeTimedOut
			res.Err = taskCtx.Err()
			s.logger.Warn("analysis timed out", "path", task.Path, "timeout", s.opts.Timeout)
		}
	}
	return res
}

func (s *Scheduler) adjustLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.AdjustInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.adjust(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// adjust samples system load and moves the effective worker count. Concurrent calls are dropped.
func (s *Scheduler) adjust(ctx context.Context) {
	if s.sampler == nil || !s.adjusting.CompareAndSwap(false, true) {
		return
	}
	defer s.adjusting.Store(false)

	sample, err := s.sampler.Sample(ctx)
	if err != nil {
		s.logger.Debug("load sampling failed", "error", err)
		return
	}
	s.window.add(sample)
	avg, latest, _ := s.window.average()

	current := int(s.limit.Load())
	next := nextWorkers(current, s.opts.MinWorkers, s.opts.MaxWorkers, avg, latest)
	if next == current {
		return
	}

	s.limit.Store(int32(next))
	s.adjustments.Add(1)
	if next > current {
		s.signal(next - current)
	}
	s.logger.Debug("adjusted workers", "from", current, "to", next, "load", avg, "memory", latest.Memory)
}

// Metrics returns a snapshot of the scheduler counters.
func (s *Scheduler) Metrics() Metrics {
	avg, latest, sampled := s.window.average()
	return Metrics{
		State:       s.State().String(),
		Workers:     int(s.limit.Load()),
		MinWorkers:  s.opts.MinWorkers,
		MaxWorkers:  s.opts.MaxWorkers,
		InFlight:    int(s.inFlight.Load()),
		Dispatched:  s.dispatched.Load(),
		Completed:   s.completed.Load(),
		TimedOut:    s.timedOut.Load(),
		Adjustments: s.adjustments.Load(),
		CurrentLoad: latest.Score(),
		AverageLoad: avg,
		LoadSampled: sampled,
	}
}
