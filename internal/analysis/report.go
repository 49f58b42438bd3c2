package analysis

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"sched-sim/internal/logging"
	"sched-sim/internal/trace"

	"github.com/sirupsen/logrus"
)

// TaskTimes holds the scheduling latencies of one task.
type TaskTimes struct {
	TaskID int `json:"task_id"`
	// Waiting sums, over every ENTER_CPU, the time since the latest earlier
	// ENTER_SCHED.
	Waiting    time.Duration `json:"waiting"`
	Turnaround time.Duration `json:"turnaround"`
	Response   time.Duration `json:"response"`
	Finished   bool          `json:"finished"`
}

// CPUUsage is the busy share of one simulated core.
type CPUUsage struct {
	Core     int           `json:"core"`
	Executed time.Duration `json:"executed"`
	// Span runs from the first record after INIT to the core's last record.
	Span time.Duration `json:"span"`
	// Utilization is Executed/Span in percent, 0 when the span is empty.
	Utilization float64 `json:"utilization"`
}

type Report struct {
	Tasks []TaskTimes `json:"tasks"`
	CPUs  []CPUUsage  `json:"cpus"`

	AvgWaiting    time.Duration `json:"avg_waiting"`
	AvgTurnaround time.Duration `json:"avg_turnaround"`
	AvgResponse   time.Duration `json:"avg_response"`
}

// Analyze derives per-task latencies and per-core utilization from a trace.
// Tasks that never entered the scheduler or never ran are left out.
func Analyze(records []trace.Record) *Report {
	sorted := append([]trace.Record(nil), records...)
	trace.SortRecords(sorted)

	report := &Report{
		Tasks: taskTimes(sorted),
		CPUs:  cpuUsage(sorted),
	}
	if n := time.Duration(len(report.Tasks)); n > 0 {
		var wait, turn, resp time.Duration
		for _, t := range report.Tasks {
			wait += t.Waiting
			turn += t.Turnaround
			resp += t.Response
		}
		report.AvgWaiting = wait / n
		report.AvgTurnaround = turn / n
		report.AvgResponse = resp / n
	}

	logging.GetLogger().WithFields(logrus.Fields{
		"tasks":          len(report.Tasks),
		"cpus":           len(report.CPUs),
		"avg_waiting":    report.AvgWaiting,
		"avg_turnaround": report.AvgTurnaround,
		"avg_response":   report.AvgResponse,
	}).Info("Analyzed trace")
	return report
}

func taskTimes(records []trace.Record) []TaskTimes {
	byTask := make(map[int][]trace.Record)
	for _, r := range records {
		if r.TaskID == trace.NoTask {
			continue
		}
		byTask[r.TaskID] = append(byTask[r.TaskID], r)
	}

	ids := make([]int, 0, len(byTask))
	for id := range byTask {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]TaskTimes, 0, len(ids))
	for _, id := range ids {
		if t, ok := timesFor(id, byTask[id]); ok {
			out = append(out, t)
		}
	}
	return out
}

func timesFor(id int, recs []trace.Record) (TaskTimes, bool) {
	var scheds, enters []time.Duration
	var last, finish time.Duration
	finished := false
	for _, r := range recs {
		switch {
		case r.Event == trace.EventEnterSched:
			scheds = append(scheds, r.Offset)
		case r.Event == trace.EventEnterCPU:
			enters = append(enters, r.Offset)
		case r.Event.Finish():
			finish = r.Offset
			finished = true
		}
		if r.Offset > last {
			last = r.Offset
		}
	}
	if len(scheds) == 0 || len(enters) == 0 {
		return TaskTimes{}, false
	}

	t := TaskTimes{
		TaskID:   id,
		Response: enters[0] - scheds[0],
		Finished: finished,
	}
	if finished {
		t.Turnaround = finish - scheds[0]
	} else {
		t.Turnaround = last - scheds[0]
	}
	for _, enter := range enters {
		// scheds is ascending, so the last one before enter is the latest
		var before time.Duration
		found := false
		for _, s := range scheds {
			if s >= enter {
				break
			}
			before, found = s, true
		}
		if found {
			t.Waiting += enter - before
		}
	}
	return t, true
}

func cpuUsage(records []trace.Record) []CPUUsage {
	perCore := make(map[int][]trace.Record)
	numCPU := 0
	for _, r := range records {
		if r.Source != trace.SourceCPU {
			continue
		}
		perCore[r.SourceID] = append(perCore[r.SourceID], r)
		if r.SourceID+1 > numCPU {
			numCPU = r.SourceID + 1
		}
	}

	out := make([]CPUUsage, numCPU)
	for core := range out {
		u := CPUUsage{Core: core}
		recs := perCore[core]
		for _, r := range recs {
			// LEAVE_CPU and FINISH_CPU carry the executed microseconds
			if us, err := strconv.ParseInt(r.Extra, 10, 64); err == nil {
				u.Executed += time.Duration(us) * time.Microsecond
			}
		}
		if len(recs) >= 2 {
			u.Span = recs[len(recs)-1].Offset - recs[1].Offset
		}
		if u.Span > 0 {
			u.Utilization = float64(u.Executed) / float64(u.Span) * 100
		}
		out[core] = u
	}
	return out
}

// WriteText prints the averages in microseconds followed by one utilization
// line per core.
func (r *Report) WriteText(w io.Writer) error {
	us := func(d time.Duration) float64 { return float64(d) / float64(time.Microsecond) }
	if _, err := fmt.Fprintf(w, "tasks          %d\navg waiting    %.2f\navg turnaround %.2f\navg response   %.2f\n",
		len(r.Tasks), us(r.AvgWaiting), us(r.AvgTurnaround), us(r.AvgResponse)); err != nil {
		return err
	}
	for _, c := range r.CPUs {
		if _, err := fmt.Fprintf(w, "cpu %-10d %.2f%% (%d/%d us)\n", c.Core, c.Utilization, c.Executed.Microseconds(), c.Span.Microseconds()); err != nil {
			return err
		}
	}
	return nil
}
