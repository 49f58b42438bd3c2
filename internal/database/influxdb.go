package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"sched-sim/internal/config"
	"sched-sim/internal/host"
	"sched-sim/internal/logging"
	"sched-sim/internal/sim"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

// RunMetadata describes one simulation run and the host it ran on.
type RunMetadata struct {
	RunID          string `json:"run_id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Scheduler      string `json:"scheduler"`
	NumCPU         int    `json:"num_cpu"`
	NumIO          int    `json:"num_io"`
	IOIDOffset     int    `json:"io_id_offset"`
	LowWater       int    `json:"low_water"`
	Batch          int    `json:"batch"`
	PollIntervalUS int    `json:"poll_interval_us"`
	Started        string `json:"started"`  // RFC3339 timestamp
	Finished       string `json:"finished"` // RFC3339 timestamp
	DurationMS     int64  `json:"duration_ms"`
	DriverVersion  string `json:"driver_version"`
	Hostname       string `json:"hostname"`
	OSInfo         string `json:"os_info"`
	KernelVersion  string `json:"kernel_version"`
	CPUVendor      string `json:"cpu_vendor"`
	CPUModel       string `json:"cpu_model"`
	CPUThreads     int    `json:"cpu_threads"`
	Sockets        int    `json:"sockets"`
}

func CollectRunMetadata(runID string, cfg *config.SimConfig, hc *host.HostConfig, res *sim.Result, driverVersion string) *RunMetadata {
	md := &RunMetadata{
		RunID:         runID,
		DriverVersion: driverVersion,
	}
	if cfg != nil {
		md.Name = cfg.Simulation.Name
		md.Description = cfg.Simulation.Description
		md.Scheduler = cfg.Simulation.Scheduler
		md.NumCPU = cfg.Simulation.NumCPU
		md.NumIO = cfg.Devices.NumIO
		md.IOIDOffset = cfg.Devices.IOIDOffset
		md.LowWater = cfg.Admission.LowWater
		md.Batch = cfg.Admission.Batch
		md.PollIntervalUS = cfg.Simulation.PollIntervalUS
	}
	if hc != nil {
		md.Hostname = hc.Hostname
		md.OSInfo = hc.OSInfo
		md.KernelVersion = hc.KernelVersion
		md.CPUVendor = hc.CPUVendor
		md.CPUModel = hc.CPUModel
		md.CPUThreads = hc.TotalThreads
		md.Sockets = hc.NumSockets
	}
	if res != nil {
		md.Scheduler = res.Scheduler
		md.Started = res.Started.Format(time.RFC3339)
		md.Finished = res.Ended.Format(time.RFC3339)
		md.DurationMS = res.Duration().Milliseconds()
	}
	return md
}

type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
}

func NewInfluxDBClient(ctx context.Context, cfg config.DatabaseConfig) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Password)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		client.Close()
		return nil, err
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    cfg.Host,
			"status":  health.Status,
			"message": msg,
		}).Error("InfluxDB health check failed")
		client.Close()
		return nil, fmt.Errorf("influxdb at %s is %s", cfg.Host, health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Name,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Name),
		bucket:   cfg.Name,
		org:      cfg.Org,
	}, nil
}

// WriteRun exports the run summary, one point per core, device and analyzed
// task.
func (idb *InfluxDBClient) WriteRun(ctx context.Context, artifact *RunArtifact) error {
	points := RunPoints(artifact)
	if len(points) == 0 {
		return nil
	}
	if err := idb.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write run points: %w", err)
	}
	logging.GetLogger().WithFields(logrus.Fields{
		"run_id": artifact.RunID,
		"points": len(points),
		"bucket": idb.bucket,
	}).Info("Exported run to InfluxDB")
	return nil
}

func (idb *InfluxDBClient) Close() {
	if idb.client != nil {
		idb.client.Close()
	}
}

// RunPoints converts an artifact to line-protocol points, all stamped with the
// end of the run. Durations are written as integer microseconds.
func RunPoints(artifact *RunArtifact) []*write.Point {
	if artifact == nil || artifact.Result == nil {
		return nil
	}
	res := artifact.Result
	ts := res.Ended
	base := func(extra map[string]string) map[string]string {
		tags := map[string]string{
			"run_id":    artifact.RunID,
			"scheduler": res.Scheduler,
		}
		if artifact.Name != "" {
			tags["name"] = artifact.Name
		}
		for k, v := range extra {
			tags[k] = v
		}
		return tags
	}

	runFields := map[string]interface{}{
		"admitted":    res.Admitted,
		"finished":    res.Finished,
		"duration_us": res.Duration().Microseconds(),
	}
	if artifact.WorkloadChecksum != "" {
		runFields["workload_checksum"] = artifact.WorkloadChecksum
	}
	if r := artifact.Report; r != nil {
		runFields["avg_waiting_us"] = r.AvgWaiting.Microseconds()
		runFields["avg_turnaround_us"] = r.AvgTurnaround.Microseconds()
		runFields["avg_response_us"] = r.AvgResponse.Microseconds()
	}
	points := []*write.Point{influxdb2.NewPoint("sim_run", base(nil), runFields, ts)}

	for _, c := range res.CPUs {
		fields := map[string]interface{}{
			"requests":        c.Requests,
			"request_time_us": c.RequestTime.Microseconds(),
			"cpu_bursts":      c.CPUBursts,
			"busy_us":         c.Busy.Microseconds(),
			"finished":        c.Finished,
		}
		for name, v := range c.Counters {
			fields["perf_"+name] = v
		}
		if r := artifact.Report; r != nil && c.Core < len(r.CPUs) {
			u := r.CPUs[c.Core]
			fields["executed_us"] = u.Executed.Microseconds()
			fields["span_us"] = u.Span.Microseconds()
			fields["utilization"] = u.Utilization
		}
		points = append(points, influxdb2.NewPoint("sim_cpu",
			base(map[string]string{"core": strconv.Itoa(c.Core)}), fields, ts))
	}

	for _, d := range res.IOs {
		points = append(points, influxdb2.NewPoint("sim_io",
			base(map[string]string{"device": strconv.Itoa(d.Device)}),
			map[string]interface{}{
				"io_bursts": d.IOBursts,
				"busy_us":   d.Busy.Microseconds(),
			}, ts))
	}

	if r := artifact.Report; r != nil {
		for _, t := range r.Tasks {
			points = append(points, influxdb2.NewPoint("sim_task",
				base(map[string]string{"task_id": strconv.Itoa(t.TaskID)}),
				map[string]interface{}{
					"waiting_us":    t.Waiting.Microseconds(),
					"turnaround_us": t.Turnaround.Microseconds(),
					"response_us":   t.Response.Microseconds(),
					"finished":      t.Finished,
				}, ts))
		}
	}
	return points
}
