package config

import (
	"strings"
	"time"

	"sched-sim/internal/task"
)

type SimConfig struct {
	Simulation SimulationInfo  `yaml:"simulation"`
	Devices    DevicesConfig   `yaml:"devices"`
	Admission  AdmissionConfig `yaml:"admission"`
	Platform   PlatformConfig  `yaml:"platform"`
	Output     OutputConfig    `yaml:"output"`
}

type SimulationInfo struct {
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	LogLevel       string `yaml:"log_level"`
	Scheduler      string `yaml:"scheduler"`
	Workload       string `yaml:"workload"`
	NumCPU         int    `yaml:"num_cpu"`
	PollIntervalUS int    `yaml:"poll_interval_us"`
}

type DevicesConfig struct {
	NumIO      int `yaml:"num_io"`
	IOIDOffset int `yaml:"io_id_offset"`
}

type AdmissionConfig struct {
	LowWater int `yaml:"low_water"`
	Batch    int `yaml:"batch"`
}

type PlatformConfig struct {
	Bind    bool   `yaml:"bind"`
	CPUPins string `yaml:"cpu_pins,omitempty"`
	IOPins  string `yaml:"io_pins,omitempty"`
	Perf    bool   `yaml:"perf"`

	// Parsed from CPUPins and IOPins.
	CPUPinList []int `yaml:"-"`
	IOPinList  []int `yaml:"-"`
}

type OutputConfig struct {
	TraceDir    string `yaml:"trace_dir"`
	SpoolDir    string `yaml:"spool_dir"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
	// CSVDir receives per-task and per-core CSV tables when set.
	CSVDir string         `yaml:"csv_dir,omitempty"`
	DB     DatabaseConfig `yaml:"db"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Org      string `yaml:"org"`
}

// Enabled reports whether every field is set. Unexpanded ${VAR} references
// count as unset.
func (d DatabaseConfig) Enabled() bool {
	for _, v := range []string{d.Host, d.Name, d.User, d.Password, d.Org} {
		if v == "" || strings.Contains(v, "${") {
			return false
		}
	}
	return true
}

func (c *SimConfig) PollInterval() time.Duration {
	return time.Duration(c.Simulation.PollIntervalUS) * time.Microsecond
}

func (c *SimConfig) Layout() task.Layout {
	return task.Layout{
		NumCPU:   c.Simulation.NumCPU,
		NumIO:    c.Devices.NumIO,
		IOOffset: c.Devices.IOIDOffset,
	}
}
