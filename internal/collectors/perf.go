package collectors

import (
	"fmt"
	"time"

	"sched-sim/internal/logging"

	"github.com/elastic/go-perf"
	"github.com/sirupsen/logrus"
)

type eventState struct {
	value   uint64
	enabled time.Duration
	running time.Duration
}

// ThreadCounters counts hardware and software events for the calling OS
// thread. Open it from a goroutine locked to its thread.
type ThreadCounters struct {
	events []*perf.Event
	logger *logrus.Logger
}

type configurer interface {
	Configure(attr *perf.Attr) error
}

var threadCounters = []configurer{
	perf.Instructions,
	perf.CPUCycles,
	perf.CacheMisses,
	perf.ContextSwitches,
	perf.CPUMigrations,
}

func OpenThreadCounters() (*ThreadCounters, error) {
	tc := &ThreadCounters{logger: logging.GetLogger()}

	for _, counter := range threadCounters {
		attr := &perf.Attr{}
		if err := counter.Configure(attr); err != nil {
			tc.Close()
			return nil, err
		}
		// Enable time tracking for multiplexing correction
		attr.CountFormat.Enabled = true
		attr.CountFormat.Running = true
		attr.Options.Disabled = true
		attr.Options.ExcludeKernel = true
		attr.Options.ExcludeHypervisor = true

		event, err := perf.Open(attr, perf.CallingThread, perf.AnyCPU, nil)
		if err != nil {
			tc.logger.WithField("counter", attr.Label).WithError(err).Debug("Failed to open perf event, continuing without it")
			continue
		}
		tc.events = append(tc.events, event)
	}
	if len(tc.events) == 0 {
		return nil, fmt.Errorf("no perf events could be opened")
	}

	for _, event := range tc.events {
		if err := event.Enable(); err != nil {
			tc.Close()
			return nil, fmt.Errorf("failed to enable perf event: %w", err)
		}
	}
	return tc, nil
}

// Read returns the counts by event label, scaled for multiplexing.
func (tc *ThreadCounters) Read() map[string]uint64 {
	if tc == nil {
		return nil
	}
	out := make(map[string]uint64, len(tc.events))
	for _, event := range tc.events {
		count, err := event.ReadCount()
		if err != nil {
			continue
		}
		out[count.Label] = scale(eventState{
			value:   count.Value,
			enabled: count.Enabled,
			running: count.Running,
		})
	}
	return out
}

// scale corrects a count for the time the event was not scheduled on the PMU.
func scale(s eventState) uint64 {
	if s.running > 0 && s.enabled > 0 && s.running != s.enabled {
		return uint64(float64(s.value) * float64(s.enabled) / float64(s.running))
	}
	return s.value
}

func (tc *ThreadCounters) Close() {
	if tc == nil {
		return
	}
	for _, event := range tc.events {
		if event != nil {
			event.Close()
		}
	}
	tc.events = nil
}
