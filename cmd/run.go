package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"sched-sim/internal/analysis"
	"sched-sim/internal/config"
	"sched-sim/internal/cpuallocator"
	"sched-sim/internal/database"
	"sched-sim/internal/host"
	"sched-sim/internal/logging"
	"sched-sim/internal/metrics"
	"sched-sim/internal/platform"
	"sched-sim/internal/scheduler"
	"sched-sim/internal/sim"
	"sched-sim/internal/storage"
	"sched-sim/internal/trace"
	"sched-sim/internal/workload"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// overrides are run flags that replace configuration values when set.
type overrides struct {
	cpus        int
	scheduler   string
	workload    string
	lowWater    int
	batch       int
	traceDir    string
	noBind      bool
	perf        bool
	metricsAddr string
	csvDir      string

	changed func(name string) bool
}

func (o overrides) apply(cfg *config.SimConfig) {
	if o.changed == nil {
		return
	}
	if o.changed("cpus") {
		cfg.Simulation.NumCPU = o.cpus
	}
	if o.changed("scheduler") {
		cfg.Simulation.Scheduler = o.scheduler
	}
	if o.changed("workload") {
		cfg.Simulation.Workload = o.workload
	}
	if o.changed("low-water") {
		cfg.Admission.LowWater = o.lowWater
	}
	if o.changed("batch") {
		cfg.Admission.Batch = o.batch
	}
	if o.changed("trace-dir") {
		cfg.Output.TraceDir = o.traceDir
	}
	if o.changed("no-bind") {
		cfg.Platform.Bind = !o.noBind
	}
	if o.changed("perf") {
		cfg.Platform.Perf = o.perf
	}
	if o.changed("metrics-addr") {
		cfg.Output.MetricsAddr = o.metricsAddr
	}
	if o.changed("csv-dir") {
		cfg.Output.CSVDir = o.csvDir
	}
}

// loadRunConfig reads configFile, or starts from the defaults when it is
// empty, applies ov and validates the result.
func loadRunConfig(configFile string, ov overrides) (*config.SimConfig, string, error) {
	cfg, content := config.Default(), ""
	if configFile != "" {
		var err error
		cfg, content, err = config.ReadConfigWithContent(configFile)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config: %w", err)
		}
	}
	ov.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return cfg, content, nil
}

func runSimulation(ctx context.Context, configFile string, ov overrides, levelFromFlag bool) error {
	logger := logging.GetLogger()

	cfg, content, err := loadRunConfig(configFile, ov)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Failed to load configuration")
		return err
	}

	if !levelFromFlag {
		if err := logging.SetLogLevel(cfg.Simulation.LogLevel); err != nil {
			logger.WithField("log_level", cfg.Simulation.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
			logging.SetLogLevel("info")
		} else {
			logger.WithField("log_level", cfg.Simulation.LogLevel).Debug("Log level set from configuration")
		}
	}

	hostConfig, err := host.GetHostConfig()
	if err != nil {
		logger.WithError(err).Error("Failed to initialize host configuration")
		return err
	}
	logger.WithFields(logrus.Fields{
		"hostname":    hostConfig.Hostname,
		"cpu_model":   hostConfig.CPUModel,
		"threads":     hostConfig.TotalThreads,
		"online_cpus": config.FormatCPUSpec(hostConfig.OnlineCPUs),
	}).Info("Host configuration initialized")

	layout := cfg.Layout()
	pins, err := cpuallocator.NewPinAllocator(hostConfig, logger)
	if err != nil {
		return err
	}
	if err := pins.Plan(cpuallocator.PlanRequest{
		NumCPU:   layout.NumCPU,
		NumIO:    layout.NumIO,
		IOOffset: layout.IOOffset,
		CPUPins:  cfg.Platform.CPUPinList,
		IOPins:   cfg.Platform.IOPinList,
	}); err != nil {
		logger.WithError(err).Error("Failed to plan worker pins")
		return err
	}

	var binder platform.Binder = platform.NopBinder{}
	if cfg.Platform.Bind {
		binder = platform.ThreadBinder{}
	}

	rec := metrics.New()
	if cfg.Output.MetricsAddr != "" {
		srv := serveMetrics(cfg.Output.MetricsAddr, rec)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	src, err := workload.Open(cfg.Simulation.Workload, layout)
	if err != nil {
		logger.WithField("workload", cfg.Simulation.Workload).WithError(err).Error("Failed to open workload")
		return err
	}
	defer src.Close()

	started := time.Now()
	traceLog, err := trace.NewFileLog(cfg.Output.TraceDir, started)
	if err != nil {
		return err
	}

	kind, err := scheduler.ParseKind(cfg.Simulation.Scheduler)
	if err != nil {
		return err
	}
	sched, err := scheduler.New(kind, src, layout.NumCPU, scheduler.Options{
		LowWater: cfg.Admission.LowWater,
		Batch:    cfg.Admission.Batch,
		Tracer:   traceLog,
		Metrics:  rec,
	})
	if err != nil {
		return err
	}

	simulation, err := sim.New(sim.Config{
		Layout:       layout,
		PollInterval: cfg.PollInterval(),
		InitialFill:  cfg.Admission.LowWater,
		Binder:       binder,
		Pins:         pins,
		Perf:         cfg.Platform.Perf,
	}, sched, traceLog, rec)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Info("Received interrupt signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	result, runErr := simulation.Run(ctx)
	if err := traceLog.Close(); err != nil {
		logger.WithError(err).Warn("Failed to flush trace files")
	}
	if runErr != nil {
		logger.WithError(runErr).Error("Simulation failed")
		return runErr
	}

	records, err := trace.Merge(traceLog.Dir())
	if err != nil {
		logger.WithField("trace_dir", traceLog.Dir()).WithError(err).Error("Failed to merge trace files")
		return err
	}
	report := analysis.Analyze(records)

	runID := uuid.NewString()
	metadata := database.CollectRunMetadata(runID, cfg, hostConfig, result, Version)
	artifact := database.BuildRunArtifact(runID, cfg, content, metadata, result, report)
	path, err := database.WriteRunArtifact(cfg.Output.SpoolDir, artifact)
	if err != nil {
		logger.WithError(err).Error("Failed to write run artifact")
		return err
	}
	logger.WithFields(logrus.Fields{
		"run_id": runID,
		"path":   path,
	}).Info("Wrote run artifact")

	if cfg.Output.CSVDir != "" {
		if _, err := storage.ExportToCSV(cfg.Output.CSVDir, cfg.Simulation.Name, started, report); err != nil {
			logger.WithError(err).Warn("CSV export failed")
		}
	}

	if cfg.Output.DB.Enabled() {
		exportRun(ctx, cfg.Output.DB, artifact)
	} else {
		logger.Debug("No database configured, skipping export")
	}

	return report.WriteText(os.Stdout)
}

// exportRun failures only warn, the artifact on disk already holds the run.
func exportRun(ctx context.Context, db config.DatabaseConfig, artifact *database.RunArtifact) {
	logger := logging.GetLogger()
	client, err := database.NewInfluxDBClient(ctx, db)
	if err != nil {
		logger.WithError(err).Warn("Skipping InfluxDB export")
		return
	}
	defer client.Close()
	if err := client.WriteRun(ctx, artifact); err != nil {
		logger.WithError(err).Warn("InfluxDB export failed")
	}
}

func serveMetrics(addr string, rec *metrics.Recorder) *http.Server {
	logger := logging.GetLogger()
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithField("addr", addr).WithError(err).Warn("Metrics server stopped")
		}
	}()
	logger.WithField("addr", addr).Info("Serving metrics")
	return srv
}

func analyzeTrace(dir, csvDir string) error {
	logger := logging.GetLogger()
	records, err := trace.Merge(dir)
	if err != nil {
		logger.WithField("trace_dir", dir).WithError(err).Error("Failed to merge trace files")
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no trace records in %s", dir)
	}
	report := analysis.Analyze(records)
	if csvDir != "" {
		if _, err := storage.ExportToCSV(csvDir, filepath.Base(filepath.Clean(dir)), time.Now(), report); err != nil {
			return err
		}
	}
	return report.WriteText(os.Stdout)
}
