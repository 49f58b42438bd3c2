package database

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sched-sim/internal/analysis"
	"sched-sim/internal/config"
	"sched-sim/internal/host"
	"sched-sim/internal/sim"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	started = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ended   = started.Add(1500 * time.Millisecond)
)

func sampleResult() *sim.Result {
	return &sim.Result{
		Scheduler: "O1",
		Started:   started,
		Ended:     ended,
		Admitted:  2,
		Finished:  2,
		CPUs: []sim.CPUStats{{
			Core:        0,
			Requests:    4,
			RequestTime: 8 * time.Microsecond,
			CPUBursts:   3,
			Busy:        30 * time.Microsecond,
			Finished:    2,
			Counters:    map[string]uint64{"instructions": 1000},
		}},
		IOs: []sim.IOStats{{Device: 0, IOBursts: 3, Busy: 7 * time.Microsecond}},
	}
}

func sampleReport() *analysis.Report {
	return &analysis.Report{
		Tasks: []analysis.TaskTimes{{TaskID: 5, Waiting: 10 * time.Microsecond, Turnaround: 40 * time.Microsecond, Response: 2 * time.Microsecond, Finished: true}},
		CPUs:  []analysis.CPUUsage{{Core: 0, Executed: 30 * time.Microsecond, Span: 60 * time.Microsecond, Utilization: 50}},

		AvgWaiting:    10 * time.Microsecond,
		AvgTurnaround: 40 * time.Microsecond,
		AvgResponse:   2 * time.Microsecond,
	}
}

func TestRunArtifact_WriteRead(t *testing.T) {
	dir := t.TempDir()
	artifact := &RunArtifact{
		Version:          1,
		CreatedAt:        started,
		RunID:            "0f8e9a1b-2c3d-4e5f-8a9b-0c1d2e3f4a5b",
		Name:             "demo",
		WorkloadChecksum: "a1b2c3",
		Result:           sampleResult(),
		Report:           sampleReport(),
	}

	path, err := WriteRunArtifact(dir, artifact)
	require.NoError(t, err)
	assert.Equal(t, "run_20240301T120000Z_a1b2c3_0f8e9a1b.json.gz", filepath.Base(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")

	got, err := ReadRunArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, artifact.RunID, got.RunID)
	assert.True(t, artifact.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, int64(2), got.Result.Finished)
	assert.Equal(t, 30*time.Microsecond, got.Result.CPUs[0].Busy)
	assert.Equal(t, sampleReport().Tasks, got.Report.Tasks)
}

func TestWriteRunArtifact_Nil(t *testing.T) {
	_, err := WriteRunArtifact(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestReadRunArtifact_NotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json.gz")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	_, err := ReadRunArtifact(path)
	assert.Error(t, err)
}

func TestBuildRunArtifact(t *testing.T) {
	workload := filepath.Join(t.TempDir(), "tasks.txt")
	require.NoError(t, os.WriteFile(workload, []byte("0 0 0 0 0 10\n"), 0o644))
	want, err := config.WorkloadChecksum(workload)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Simulation.Name = "demo"
	cfg.Simulation.Workload = workload

	a := BuildRunArtifact("run-1", cfg, "simulation: {}", nil, sampleResult(), nil)
	assert.Equal(t, "demo", a.Name)
	assert.Equal(t, want, a.WorkloadChecksum)
	assert.Equal(t, "run-1", a.RunID)
	assert.Equal(t, 1, a.Version)

	cfg.Simulation.Workload = filepath.Join(t.TempDir(), "missing.txt")
	a = BuildRunArtifact("run-2", cfg, "", &RunMetadata{Name: "ignored"}, nil, nil)
	assert.Empty(t, a.WorkloadChecksum)
	assert.Equal(t, "demo", a.Name)
}

func TestCollectRunMetadata(t *testing.T) {
	cfg := config.Default()
	cfg.Simulation.Name = "demo"
	hc := &host.HostConfig{Hostname: "node1", CPUVendor: "GenuineIntel", TotalThreads: 8, NumSockets: 2}

	md := CollectRunMetadata("run-1", cfg, hc, sampleResult(), "dev")
	assert.Equal(t, "demo", md.Name)
	assert.Equal(t, "O1", md.Scheduler)
	assert.Equal(t, cfg.Simulation.NumCPU, md.NumCPU)
	assert.Equal(t, "node1", md.Hostname)
	assert.Equal(t, 8, md.CPUThreads)
	assert.Equal(t, int64(1500), md.DurationMS)
	assert.Equal(t, "2024-03-01T12:00:00Z", md.Started)
}

func lineProtocol(points []*write.Point) []string {
	out := make([]string, 0, len(points))
	for _, p := range points {
		out = append(out, strings.TrimSuffix(write.PointToLineProtocol(p, time.Microsecond), "\n"))
	}
	return out
}

func TestRunPoints(t *testing.T) {
	a := &RunArtifact{
		RunID:  "r1",
		Name:   "demo",
		Result: sampleResult(),
		Report: sampleReport(),
	}
	ts := "1709294401500000"
	want := []string{
		"sim_run,name=demo,run_id=r1,scheduler=O1 admitted=2i,avg_response_us=2i,avg_turnaround_us=40i,avg_waiting_us=10i,duration_us=1500000i,finished=2i " + ts,
		"sim_cpu,core=0,name=demo,run_id=r1,scheduler=O1 busy_us=30i,cpu_bursts=3i,executed_us=30i,finished=2i,perf_instructions=1000u,request_time_us=8i,requests=4i,span_us=60i,utilization=50 " + ts,
		"sim_io,device=0,name=demo,run_id=r1,scheduler=O1 busy_us=7i,io_bursts=3i " + ts,
		"sim_task,name=demo,run_id=r1,scheduler=O1,task_id=5 finished=true,response_us=2i,turnaround_us=40i,waiting_us=10i " + ts,
	}
	assert.Equal(t, want, lineProtocol(RunPoints(a)))
}

func TestRunPoints_WithoutReport(t *testing.T) {
	points := RunPoints(&RunArtifact{RunID: "r1", Result: sampleResult()})
	require.Len(t, points, 3)
	assert.Equal(t, "sim_run", points[0].Name())

	assert.Nil(t, RunPoints(nil))
	assert.Nil(t, RunPoints(&RunArtifact{}))
}
