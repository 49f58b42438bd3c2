package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"sched-sim/internal/logging"
	"sched-sim/internal/scheduler"

	"gopkg.in/yaml.v3"
)

func Default() *SimConfig {
	return &SimConfig{
		Simulation: SimulationInfo{
			Name:           "sched-sim",
			LogLevel:       "info",
			Scheduler:      string(scheduler.KindO1),
			NumCPU:         2,
			PollIntervalUS: 10000,
		},
		Devices: DevicesConfig{
			NumIO:      2,
			IOIDOffset: 4,
		},
		Admission: AdmissionConfig{
			LowWater: 10,
			Batch:    1,
		},
		Platform: PlatformConfig{
			Bind: true,
		},
		Output: OutputConfig{
			TraceDir: "logs",
			SpoolDir: "spool",
		},
	}
}

func LoadConfig(filepath string) (*SimConfig, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

// LoadConfigWithContent applies the file on top of Default and also returns
// the raw file content, before environment expansion.
func LoadConfigWithContent(filepath string) (*SimConfig, string, error) {
	config, content, err := ReadConfigWithContent(filepath)
	if err != nil {
		return nil, "", err
	}
	if err := config.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return config, content, nil
}

// ReadConfigWithContent is LoadConfigWithContent without validation, for
// callers that still apply overrides.
func ReadConfigWithContent(filepath string) (*SimConfig, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)
	expanded := expandEnvVars(originalContent)

	config := Default()
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, "", err
	}
	return config, originalContent, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

// Validate checks the configuration and fills the parsed pin lists. It is
// called by the loaders and again after command line overrides.
func (c *SimConfig) Validate() error {
	sim := &c.Simulation
	if sim.Name == "" {
		return fmt.Errorf("simulation name is required")
	}
	if sim.Workload == "" {
		return fmt.Errorf("workload path is required")
	}
	if _, err := scheduler.ParseKind(sim.Scheduler); err != nil {
		return err
	}
	if sim.PollIntervalUS <= 0 {
		return fmt.Errorf("poll_interval_us must be greater than 0")
	}

	if c.Devices.NumIO < 1 {
		return fmt.Errorf("num_io must be at least 1")
	}
	if c.Devices.IOIDOffset < 1 {
		return fmt.Errorf("io_id_offset must be at least 1")
	}
	if sim.NumCPU < 1 || sim.NumCPU > c.Devices.IOIDOffset {
		return fmt.Errorf("num_cpu must be between 1 and io_id_offset (%d), got %d", c.Devices.IOIDOffset, sim.NumCPU)
	}

	if c.Admission.LowWater < 1 {
		return fmt.Errorf("low_water must be at least 1")
	}
	if c.Admission.Batch < 1 {
		return fmt.Errorf("batch must be at least 1")
	}

	c.Platform.CPUPinList = nil
	c.Platform.IOPinList = nil
	if c.Platform.CPUPins != "" {
		pins, err := ParseCPUSpec(c.Platform.CPUPins)
		if err != nil {
			return fmt.Errorf("invalid cpu_pins '%s': %w", c.Platform.CPUPins, err)
		}
		if len(pins) != sim.NumCPU {
			return fmt.Errorf("cpu_pins lists %d cpus, need one per simulated core (%d)", len(pins), sim.NumCPU)
		}
		c.Platform.CPUPinList = pins
	}
	if c.Platform.IOPins != "" {
		pins, err := ParseCPUSpec(c.Platform.IOPins)
		if err != nil {
			return fmt.Errorf("invalid io_pins '%s': %w", c.Platform.IOPins, err)
		}
		if len(pins) != c.Devices.NumIO {
			return fmt.Errorf("io_pins lists %d cpus, need one per I/O device (%d)", len(pins), c.Devices.NumIO)
		}
		c.Platform.IOPinList = pins
	}

	if c.Output.TraceDir == "" {
		return fmt.Errorf("trace_dir is required")
	}
	return nil
}

// ParseCPUSpec parses cpuset strings like "0", "0,2,4", or "0-3". Order is
// preserved and duplicates are dropped.
func ParseCPUSpec(spec string) ([]int, error) {
	var cpus []int
	seen := make(map[int]bool)

	parts := strings.Split(spec, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return nil, fmt.Errorf("invalid CPU range: %s", part)
			}

			start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid CPU range start: %s", rangeParts[0])
			}

			end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid CPU range end: %s", rangeParts[1])
			}

			if start > end {
				return nil, fmt.Errorf("invalid CPU range: start > end (%d > %d)", start, end)
			}

			for i := start; i <= end; i++ {
				if !seen[i] {
					cpus = append(cpus, i)
					seen[i] = true
				}
			}
		} else {
			cpu, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid CPU number: %s", part)
			}
			if cpu < 0 {
				return nil, fmt.Errorf("invalid CPU number: %s", part)
			}

			if !seen[cpu] {
				cpus = append(cpus, cpu)
				seen[cpu] = true
			}
		}
	}

	if len(cpus) == 0 {
		return nil, fmt.Errorf("no CPUs specified")
	}

	return cpus, nil
}

// FormatCPUSpec renders a sorted cpuset, collapsing runs into ranges.
func FormatCPUSpec(cpus []int) string {
	if len(cpus) == 0 {
		return ""
	}
	sorted := append([]int(nil), cpus...)
	sort.Ints(sorted)

	var parts []string
	start, prev := sorted[0], sorted[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, cpu := range sorted[1:] {
		if cpu == prev {
			continue
		}
		if cpu == prev+1 {
			prev = cpu
			continue
		}
		flush()
		start, prev = cpu, cpu
	}
	flush()
	return strings.Join(parts, ",")
}
