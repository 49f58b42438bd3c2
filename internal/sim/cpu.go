package sim

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"sched-sim/internal/cpuallocator"
	"sched-sim/internal/platform"
	"sched-sim/internal/task"
	"sched-sim/internal/trace"

	"github.com/sirupsen/logrus"
)

// cpuPriority gives lower cores a higher SCHED_FIFO priority.
func cpuPriority(core int) int { return 80 - core }

func (s *Simulation) runCPU(ctx context.Context, core int) error {
	w := cpuallocator.Worker{Kind: cpuallocator.WorkerCPU, ID: core}
	s.setup(w, cpuPriority(core))
	counters := s.openCounters(w)
	defer counters.Close()

	st := &s.cpuStats[core]
	logger := s.logger.WithField("core", core)

	s.emit(trace.SourceCPU, core, trace.NoTask, trace.EventInit, "")
	logger.Info("CPU worker started")

	if s.cfg.InitialFill > 0 {
		if _, err := s.sched.Admit(s.cfg.InitialFill, core); err != nil {
			return s.fail(fmt.Errorf("cpu %d: initial admission: %w", core, err))
		}
	}

	for {
		if s.interrupted(ctx) {
			return ctx.Err()
		}
		s.live.set(core, true)

		s.drainReturned(core, st)

		start := time.Now()
		t, err := s.sched.RequestTask(core)
		st.RequestTime += time.Since(start)
		st.Requests++
		if err != nil {
			return s.fail(fmt.Errorf("cpu %d: %w", core, err))
		}

		if t == nil {
			s.live.set(core, !s.quiescent())
			if s.live.done() {
				s.live.set(core, false)
				st.Counters = counters.Read()
				logger.WithFields(logrus.Fields{
					"requests":          st.Requests,
					"request_time":      st.RequestTime,
					"mean_request_time": st.MeanRequestTime(),
					"finished":          st.Finished,
				}).Info("CPU worker shut down")
				return nil
			}
			time.Sleep(s.cfg.PollInterval)
			continue
		}

		if err := s.execute(core, t, st); err != nil {
			return s.fail(err)
		}
	}
}

// drainReturned hands tasks back from I/O to the scheduler, or destroys them
// when they have no bursts left.
func (s *Simulation) drainReturned(core int, st *CPUStats) {
	for _, t := range s.returns[core].drain() {
		if t.Done() {
			s.emit(trace.SourceCPU, core, t.ID, trace.EventFinishIO, "")
			s.finish(st, "io")
			continue
		}
		s.emit(trace.SourceCPU, core, t.ID, trace.EventEnterSched, "")
		s.sched.ReturnTask(core, t)
	}
}

// execute runs the current burst of t and passes t on. t must not be used
// after it has been handed to a queue.
func (s *Simulation) execute(core int, t *task.Task, st *CPUStats) error {
	id := t.ID
	b, ok := t.Current()
	if !ok {
		return fmt.Errorf("cpu %d: task %d has no bursts: %w", core, id, ErrInvariant)
	}

	s.emit(trace.SourceCPU, core, id, trace.EventEnterCPU, "")
	if s.cfg.Layout.IsIO(b.Device) {
		s.emit(trace.SourceCPU, core, id, trace.EventLeaveCPU, "")
	} else {
		platform.PreciseSleep(b.Duration())
		t.Pop()
		st.CPUBursts++
		st.Busy += b.Duration()
		s.metrics.BurstExecuted("cpu", core)

		extra := strconv.Itoa(b.DurationUS)
		if t.Done() {
			s.emit(trace.SourceCPU, core, id, trace.EventFinishCPU, extra)
			s.finish(st, "cpu")
			return nil
		}
		s.emit(trace.SourceCPU, core, id, trace.EventLeaveCPU, extra)
	}

	next, _ := t.Current()
	if !s.cfg.Layout.IsIO(next.Device) {
		s.emit(trace.SourceCPU, core, id, trace.EventEnterSched, "")
		s.sched.ReturnTask(core, t)
		return nil
	}

	dev := s.cfg.Layout.IODevice(next.Device)
	if dev >= len(s.devices) {
		return fmt.Errorf("cpu %d: task %d wants device %d: %w", core, id, next.Device, ErrInvariant)
	}
	s.devices[dev].push(ioRequest{origin: core, task: t})
	return nil
}

func (s *Simulation) finish(st *CPUStats, where string) {
	st.Finished++
	s.metrics.TaskFinished(where)
}

// quiescent reports that every device queue is idle and every return queue is
// empty. Device queues are read first so a task moving from a device to a
// return queue is seen in one place or the other.
func (s *Simulation) quiescent() bool {
	for _, d := range s.devices {
		if !d.idle() {
			return false
		}
	}
	for _, r := range s.returns {
		if !r.empty() {
			return false
		}
	}
	return true
}
