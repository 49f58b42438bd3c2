package host

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"sched-sim/internal/config"
	"sched-sim/internal/logging"

	"github.com/sirupsen/logrus"
)

// HostConfig contains host system information, collected once at startup.
type HostConfig struct {
	CPUVendor    string
	CPUModel     string
	TotalThreads int
	NumSockets   int
	// OnlineCPUs are the logical CPU ids available for pinning.
	OnlineCPUs []int

	Hostname      string
	OSInfo        string
	KernelVersion string
}

var (
	globalHostConfig *HostConfig
	hostConfigOnce   sync.Once
	hostConfigErr    error
)

// GetHostConfig returns the global host configuration, initializing it on
// first call.
func GetHostConfig() (*HostConfig, error) {
	hostConfigOnce.Do(func() {
		globalHostConfig, hostConfigErr = initializeHostConfig()
	})
	return globalHostConfig, hostConfigErr
}

func initializeHostConfig() (*HostConfig, error) {
	logger := logging.GetLogger()

	hc := &HostConfig{}
	if err := hc.initSystemInfo(); err != nil {
		return nil, fmt.Errorf("failed to initialize system info: %w", err)
	}
	hc.initCPUInfo()
	hc.initOnlineCPUs()

	logger.WithFields(logrus.Fields{
		"cpu_model":   hc.CPUModel,
		"threads":     hc.TotalThreads,
		"sockets":     hc.NumSockets,
		"online_cpus": config.FormatCPUSpec(hc.OnlineCPUs),
		"kernel":      hc.KernelVersion,
	}).Info("Host configuration initialized")

	return hc, nil
}

func (hc *HostConfig) initSystemInfo() error {
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}
	hc.Hostname = hostname
	hc.OSInfo = runtime.GOOS + "/" + runtime.GOARCH

	if data, err := os.ReadFile("/proc/version"); err == nil {
		version := strings.Fields(string(data))
		if len(version) >= 3 {
			hc.KernelVersion = version[2]
		}
	}
	if hc.KernelVersion == "" {
		hc.KernelVersion = "unknown"
	}
	return nil
}

func (hc *HostConfig) initCPUInfo() {
	hc.TotalThreads = runtime.NumCPU()

	file, err := os.Open("/proc/cpuinfo")
	if err != nil {
		hc.CPUVendor = "unknown"
		hc.CPUModel = "unknown"
		hc.NumSockets = 1
		return
	}
	defer file.Close()

	hc.CPUVendor, hc.CPUModel, hc.NumSockets = parseCPUInfo(file)
}

// parseCPUInfo extracts the vendor, model name and socket count from
// /proc/cpuinfo content.
func parseCPUInfo(r io.Reader) (vendor, model string, sockets int) {
	physicalIDs := make(map[string]bool)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "vendor_id":
			if vendor == "" {
				vendor = value
			}
		case "model name":
			if model == "" {
				model = value
			}
		case "physical id":
			physicalIDs[value] = true
		}
	}

	if vendor == "" {
		vendor = "unknown"
	}
	if model == "" {
		model = "unknown"
	}
	sockets = len(physicalIDs)
	if sockets == 0 {
		sockets = 1
	}
	return vendor, model, sockets
}

func (hc *HostConfig) initOnlineCPUs() {
	if data, err := os.ReadFile("/sys/devices/system/cpu/online"); err == nil {
		if cpus, err := config.ParseCPUSpec(strings.TrimSpace(string(data))); err == nil {
			hc.OnlineCPUs = cpus
			return
		}
	}
	for i := 0; i < hc.TotalThreads; i++ {
		hc.OnlineCPUs = append(hc.OnlineCPUs, i)
	}
}

// Online reports whether cpu can be used for pinning.
func (hc *HostConfig) Online(cpu int) bool {
	for _, c := range hc.OnlineCPUs {
		if c == cpu {
			return true
		}
	}
	return false
}
