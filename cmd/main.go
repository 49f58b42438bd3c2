package main

import (
	"fmt"
	"os"
	"path/filepath"

	"sched-sim/internal/config"
	"sched-sim/internal/logging"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const Version = "0.3.0"

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
		return
	}
	if execPath, err := os.Executable(); err == nil {
		envFile = filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
			} else {
				logger.WithField("file", envFile).Debug("Loaded environment variables")
			}
		}
	}
}

func main() {
	logger := logging.GetLogger()

	loadEnvironment()

	var configFile string
	var logLevel, logFormat string
	var ov overrides
	var gen generateOptions
	var traceDir, csvDir string

	rootCmd := &cobra.Command{
		Use:     "sched-sim",
		Short:   "Multi-core CPU scheduler simulator",
		Long:    "Replays a workload of CPU and I/O bursts on simulated cores and devices under an O(1) or O(n) scheduler and traces every task transition",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.SetFormat(logFormat); err != nil {
				return err
			}
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ov.changed = cmd.Flags().Changed
			return runSimulation(cmd.Context(), configFile, ov, logLevel != "")
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a simulation configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(configFile)
		},
	}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a synthetic workload",
		RunE: func(cmd *cobra.Command, args []string) error {
			return generateWorkload(gen)
		},
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Merge and analyze the trace files of a finished run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return analyzeTrace(traceDir, csvDir)
		},
	}

	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to simulation configuration file")
	runCmd.Flags().IntVar(&ov.cpus, "cpus", 0, "Number of simulated cores")
	runCmd.Flags().StringVar(&ov.scheduler, "scheduler", "", "Scheduler variant (O1, On)")
	runCmd.Flags().StringVar(&ov.workload, "workload", "", "Path to the workload file")
	runCmd.Flags().IntVar(&ov.lowWater, "low-water", 0, "Admit when a run queue holds fewer tasks than this")
	runCmd.Flags().IntVar(&ov.batch, "batch", 0, "Records admitted per admission")
	runCmd.Flags().StringVar(&ov.traceDir, "trace-dir", "", "Directory for per-worker trace files")
	runCmd.Flags().BoolVar(&ov.noBind, "no-bind", false, "Do not pin or prioritize worker threads")
	runCmd.Flags().BoolVar(&ov.perf, "perf", false, "Collect per-core hardware counters")
	runCmd.Flags().StringVar(&ov.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	runCmd.Flags().StringVar(&ov.csvDir, "csv-dir", "", "Write per-task and per-core CSV tables here")

	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to simulation configuration file")
	validateCmd.MarkFlagRequired("config")

	defaults := defaultGenerateOptions()
	generateCmd.Flags().IntVar(&gen.tasks, "tasks", defaults.tasks, "Number of tasks")
	generateCmd.Flags().IntVar(&gen.cpus, "cpus", defaults.cpus, "Number of simulated cores tasks may target")
	generateCmd.Flags().IntVar(&gen.numIO, "num-io", defaults.numIO, "Number of I/O devices")
	generateCmd.Flags().IntVar(&gen.ioOffset, "io-id-offset", defaults.ioOffset, "Device id of the first I/O device")
	generateCmd.Flags().Uint64Var(&gen.seed, "seed", defaults.seed, "Random seed")
	generateCmd.Flags().StringVarP(&gen.out, "out", "o", defaults.out, "Output file, - for stdout")
	generateCmd.Flags().IntVar(&gen.maxCPUBurst, "max-cpu-burst", defaults.maxCPUBurst, "Upper bound of a CPU burst in us")
	generateCmd.Flags().IntVar(&gen.maxIOBurst, "max-io-burst", defaults.maxIOBurst, "Upper bound of an I/O burst in us")
	generateCmd.Flags().IntVar(&gen.maxCPUTime, "max-cpu-time", defaults.maxCPUTime, "Split CPU bursts longer than this in us")

	analyzeCmd.Flags().StringVar(&traceDir, "trace-dir", config.Default().Output.TraceDir, "Directory holding the per-worker trace files")
	analyzeCmd.Flags().StringVar(&csvDir, "csv-dir", "", "Also write per-task and per-core CSV tables here")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(analyzeCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Fatal("Command execution failed")
	}
}

func validateConfig(configFile string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}
	logger.WithFields(logrus.Fields{
		"config_file": configFile,
		"scheduler":   cfg.Simulation.Scheduler,
		"cpus":        cfg.Simulation.NumCPU,
		"devices":     cfg.Devices.NumIO,
	}).Info("Configuration is valid")
	return nil
}
