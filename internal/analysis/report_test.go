package analysis

import (
	"strings"
	"testing"
	"time"

	"sched-sim/internal/trace"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func rec(us int64, src trace.Source, srcID, taskID int, ev trace.Event, extra string) trace.Record {
	return trace.Record{
		Offset:   time.Duration(us) * time.Microsecond,
		Source:   src,
		SourceID: srcID,
		TaskID:   taskID,
		Event:    ev,
		Extra:    extra,
	}
}

func sampleTrace() []trace.Record {
	return []trace.Record{
		rec(0, trace.SourceCPU, 0, trace.NoTask, trace.EventInit, ""),
		rec(0, trace.SourceCPU, 1, trace.NoTask, trace.EventInit, ""),
		rec(0, trace.SourceIO, 0, trace.NoTask, trace.EventInit, ""),
		rec(0, trace.SourceSched, 0, 0, trace.EventEnterSched, ""),
		rec(5, trace.SourceSched, 1, 1, trace.EventEnterSched, ""),
		rec(10, trace.SourceCPU, 0, 0, trace.EventEnterCPU, ""),
		rec(20, trace.SourceCPU, 1, 1, trace.EventEnterCPU, ""),
		// out of order on purpose
		rec(60, trace.SourceCPU, 0, 0, trace.EventEnterCPU, ""),
		rec(30, trace.SourceCPU, 0, 0, trace.EventLeaveCPU, "20"),
		rec(30, trace.SourceIO, 0, 0, trace.EventEnterIO, ""),
		rec(40, trace.SourceCPU, 1, 1, trace.EventLeaveCPU, "20"),
		rec(50, trace.SourceIO, 0, 0, trace.EventLeaveIO, ""),
		rec(55, trace.SourceCPU, 0, 0, trace.EventEnterSched, ""),
		rec(65, trace.SourceCPU, 0, 0, trace.EventFinishCPU, "5"),
		rec(70, trace.SourceSched, 1, 2, trace.EventEnterSched, ""),
	}
}

func TestAnalyze(t *testing.T) {
	got := Analyze(sampleTrace())

	us := time.Microsecond
	want := &Report{
		Tasks: []TaskTimes{
			{TaskID: 0, Waiting: 15 * us, Turnaround: 65 * us, Response: 10 * us, Finished: true},
			{TaskID: 1, Waiting: 15 * us, Turnaround: 35 * us, Response: 15 * us},
		},
		CPUs: []CPUUsage{
			{Core: 0, Executed: 25 * us, Span: 55 * us, Utilization: 25.0 / 55.0 * 100},
			{Core: 1, Executed: 20 * us, Span: 20 * us, Utilization: 100},
		},
		AvgWaiting:    15 * us,
		AvgTurnaround: 50 * us,
		AvgResponse:   12500 * time.Nanosecond,
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("Analyze mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyze_DoesNotReorderInput(t *testing.T) {
	in := sampleTrace()
	before := append([]trace.Record(nil), in...)
	Analyze(in)
	if diff := cmp.Diff(before, in); diff != "" {
		t.Errorf("input modified (-before +after):\n%s", diff)
	}
}

func TestAnalyze_WaitingUsesLatestSchedBeforeEachRun(t *testing.T) {
	got := Analyze([]trace.Record{
		rec(0, trace.SourceSched, 0, 7, trace.EventEnterSched, ""),
		rec(4, trace.SourceCPU, 0, 7, trace.EventEnterSched, ""),
		rec(10, trace.SourceCPU, 0, 7, trace.EventEnterCPU, ""),
		rec(12, trace.SourceCPU, 0, 7, trace.EventLeaveCPU, "2"),
		rec(20, trace.SourceCPU, 0, 7, trace.EventEnterSched, ""),
		rec(30, trace.SourceCPU, 0, 7, trace.EventEnterCPU, ""),
		rec(31, trace.SourceCPU, 0, 7, trace.EventFinishCPU, "1"),
	})

	want := []TaskTimes{{
		TaskID:     7,
		Waiting:    (6 + 10) * time.Microsecond,
		Turnaround: 31 * time.Microsecond,
		Response:   10 * time.Microsecond,
		Finished:   true,
	}}
	if diff := cmp.Diff(want, got.Tasks); diff != "" {
		t.Errorf("tasks mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyze_Empty(t *testing.T) {
	got := Analyze(nil)
	want := &Report{Tasks: []TaskTimes{}, CPUs: []CPUUsage{}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("empty trace (-want +got):\n%s", diff)
	}
}

func TestAnalyze_IdleCoreHasZeroUtilization(t *testing.T) {
	got := Analyze([]trace.Record{
		rec(0, trace.SourceCPU, 1, trace.NoTask, trace.EventInit, ""),
	})
	want := []CPUUsage{{Core: 0}, {Core: 1}}
	if diff := cmp.Diff(want, got.CPUs); diff != "" {
		t.Errorf("cpus mismatch (-want +got):\n%s", diff)
	}
}

func TestReport_WriteText(t *testing.T) {
	var b strings.Builder
	if err := Analyze(sampleTrace()).WriteText(&b); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	want := "tasks          2\n" +
		"avg waiting    15.00\n" +
		"avg turnaround 50.00\n" +
		"avg response   12.50\n" +
		"cpu 0          45.45% (25/55 us)\n" +
		"cpu 1          100.00% (20/20 us)\n"
	if diff := cmp.Diff(want, b.String()); diff != "" {
		t.Errorf("WriteText mismatch (-want +got):\n%s", diff)
	}
}
