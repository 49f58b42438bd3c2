package sim

import (
	"context"
	"fmt"
	"time"

	"sched-sim/internal/cpuallocator"
	"sched-sim/internal/platform"
	"sched-sim/internal/trace"

	"github.com/sirupsen/logrus"
)

// ioPriority sits just below every core's priority.
func ioPriority(dev int) int { return 76 - dev }

func (s *Simulation) runIO(ctx context.Context, dev int) error {
	w := cpuallocator.Worker{Kind: cpuallocator.WorkerIO, ID: dev}
	s.setup(w, ioPriority(dev))

	q := s.devices[dev]
	st := &s.ioStats[dev]
	logger := s.logger.WithField("device", dev)

	s.emit(trace.SourceIO, dev, trace.NoTask, trace.EventInit, "")
	logger.Info("I/O worker started")

	for {
		if s.interrupted(ctx) {
			return ctx.Err()
		}

		req, ok := q.pop()
		if !ok {
			if s.live.done() || !s.live.anyLive() {
				s.live.terminate()
				logger.WithFields(logrus.Fields{
					"io_bursts": st.IOBursts,
					"busy":      st.Busy,
				}).Info("I/O worker shut down")
				return nil
			}
			time.Sleep(s.cfg.PollInterval)
			continue
		}

		if err := s.serve(dev, req, st); err != nil {
			q.served()
			return s.fail(err)
		}
		q.served()
	}
}

func (s *Simulation) serve(dev int, req ioRequest, st *IOStats) error {
	t := req.task
	id := t.ID
	b, ok := t.Current()
	if !ok || !s.cfg.Layout.IsIO(b.Device) || s.cfg.Layout.IODevice(b.Device) != dev {
		return fmt.Errorf("device %d: task %d queued with burst %+v: %w", dev, id, b, ErrInvariant)
	}
	if req.origin < 0 || req.origin >= len(s.returns) {
		return fmt.Errorf("device %d: task %d from unknown cpu %d: %w", dev, id, req.origin, ErrInvariant)
	}

	s.emit(trace.SourceIO, dev, id, trace.EventEnterIO, "")
	platform.PreciseSleep(b.Duration())
	t.Pop()
	st.IOBursts++
	st.Busy += b.Duration()
	s.metrics.BurstExecuted("io", dev)
	s.emit(trace.SourceIO, dev, id, trace.EventLeaveIO, "")

	s.returns[req.origin].push(t)
	return nil
}
