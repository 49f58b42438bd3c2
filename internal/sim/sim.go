package sim

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"sched-sim/internal/collectors"
	"sched-sim/internal/cpuallocator"
	"sched-sim/internal/logging"
	"sched-sim/internal/metrics"
	"sched-sim/internal/platform"
	"sched-sim/internal/scheduler"
	"sched-sim/internal/task"
	"sched-sim/internal/trace"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrInvariant reports a task routed somewhere it cannot run.
var ErrInvariant = errors.New("simulation invariant violated")

type Config struct {
	Layout       task.Layout
	PollInterval time.Duration
	// InitialFill is the number of records each core admits before its
	// first request.
	InitialFill int

	// Binder is nil when workers should not be bound.
	Binder platform.Binder
	// Pins is nil when workers should not be pinned.
	Pins cpuallocator.Allocator
	Perf bool
}

// Simulation owns every queue shared between workers for one run.
type Simulation struct {
	cfg     Config
	sched   scheduler.Scheduler
	tracer  trace.Emitter
	metrics *metrics.Recorder
	logger  *logrus.Logger

	devices []*deviceQueue
	returns []*returnQueue
	live    *liveness

	cpuStats []CPUStats
	ioStats  []IOStats
}

func New(cfg Config, sched scheduler.Scheduler, tracer trace.Emitter, rec *metrics.Recorder) (*Simulation, error) {
	if sched == nil {
		return nil, fmt.Errorf("simulation needs a scheduler")
	}
	if cfg.Layout.NumCPU < 1 || cfg.Layout.NumIO < 1 {
		return nil, fmt.Errorf("simulation needs at least one cpu and one I/O device, got %d/%d", cfg.Layout.NumCPU, cfg.Layout.NumIO)
	}
	if cfg.Layout.NumCPU > cfg.Layout.IOOffset {
		return nil, fmt.Errorf("cpu ids 0..%d collide with I/O device ids starting at %d", cfg.Layout.NumCPU-1, cfg.Layout.IOOffset)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if tracer == nil {
		tracer = trace.Discard{}
	}

	s := &Simulation{
		cfg:      cfg,
		sched:    sched,
		tracer:   tracer,
		metrics:  rec,
		logger:   logging.GetLogger(),
		devices:  make([]*deviceQueue, cfg.Layout.NumIO),
		returns:  make([]*returnQueue, cfg.Layout.NumCPU),
		cpuStats: make([]CPUStats, cfg.Layout.NumCPU),
		ioStats:  make([]IOStats, cfg.Layout.NumIO),
	}
	for i := range s.devices {
		s.devices[i] = newDeviceQueue()
		s.ioStats[i].Device = i
	}
	for i := range s.returns {
		s.returns[i] = newReturnQueue()
		s.cpuStats[i].Core = i
	}
	return s, nil
}

// Run starts one worker per core and per device and blocks until they agree
// that no work is left, or until the first fatal error.
func (s *Simulation) Run(ctx context.Context) (*Result, error) {
	s.live = newLiveness(s.cfg.Layout.NumCPU)

	s.logger.WithFields(logrus.Fields{
		"scheduler": s.sched.Kind(),
		"cpus":      s.cfg.Layout.NumCPU,
		"devices":   s.cfg.Layout.NumIO,
	}).Info("Starting simulation")

	started := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for core := 0; core < s.cfg.Layout.NumCPU; core++ {
		g.Go(func() error { return s.runCPU(ctx, core) })
	}
	for dev := 0; dev < s.cfg.Layout.NumIO; dev++ {
		g.Go(func() error { return s.runIO(ctx, dev) })
	}
	err := g.Wait()
	ended := time.Now()

	res := &Result{
		Scheduler: string(s.sched.Kind()),
		Started:   started,
		Ended:     ended,
		Admitted:  s.sched.Admitted(),
		CPUs:      append([]CPUStats(nil), s.cpuStats...),
		IOs:       append([]IOStats(nil), s.ioStats...),
	}
	for _, c := range res.CPUs {
		res.Finished += c.Finished
	}
	if err != nil {
		return res, err
	}

	if left := s.leftover(); left > 0 {
		s.logger.WithField("tasks", left).Warn("Tasks left in device or return queues after shutdown")
	}
	s.logger.WithFields(logrus.Fields{
		"admitted": res.Admitted,
		"finished": res.Finished,
		"duration": res.Duration(),
	}).Info("Simulation finished")
	return res, nil
}

func (s *Simulation) leftover() int {
	n := 0
	for _, d := range s.devices {
		n += d.len()
	}
	for _, r := range s.returns {
		n += r.len()
	}
	return n
}

// interrupted reports whether the worker should stop without waiting for the
// shutdown agreement: another worker failed or ctx was cancelled.
func (s *Simulation) interrupted(ctx context.Context) bool {
	return ctx.Err() != nil
}

// fail stops every worker and returns err for the errgroup.
func (s *Simulation) fail(err error) error {
	s.live.terminate()
	return err
}

func (s *Simulation) emit(src trace.Source, srcID, taskID int, ev trace.Event, extra string) {
	s.tracer.Emit(src, srcID, taskID, ev, extra)
}

// setup locks the calling goroutine to its thread and binds that thread.
// Binding failures are logged and the worker carries on unbound. The thread is
// never unlocked, so the runtime discards it when the worker returns.
func (s *Simulation) setup(w cpuallocator.Worker, priority int) {
	runtime.LockOSThread()

	if s.cfg.Binder == nil || s.cfg.Pins == nil {
		return
	}
	fields := logrus.Fields{"worker": w.String(), "priority": priority}
	hostCPU, ok := s.cfg.Pins.Get(w)
	if !ok {
		s.logger.WithFields(fields).Debug("No host cpu planned, running unpinned")
		return
	}
	fields["host_cpu"] = hostCPU
	if err := s.cfg.Binder.Bind(hostCPU, priority); err != nil {
		s.logger.WithFields(fields).WithError(err).Warn("Failed to bind worker thread")
		return
	}
	s.logger.WithFields(fields).Debug("Bound worker thread")
}

func (s *Simulation) openCounters(w cpuallocator.Worker) *collectors.ThreadCounters {
	if !s.cfg.Perf {
		return nil
	}
	tc, err := collectors.OpenThreadCounters()
	if err != nil {
		s.logger.WithField("worker", w.String()).WithError(err).Warn("Perf counters unavailable")
		return nil
	}
	return tc
}
