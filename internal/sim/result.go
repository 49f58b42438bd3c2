package sim

import "time"

// CPUStats are one core's counters for a run.
type CPUStats struct {
	Core int `json:"core"`
	// Requests and RequestTime measure the scheduler's request path,
	// admission included.
	Requests    int64         `json:"requests"`
	RequestTime time.Duration `json:"request_time"`
	CPUBursts   int64         `json:"cpu_bursts"`
	Busy        time.Duration `json:"busy"`
	// Finished counts tasks destroyed on this core, after a CPU burst or
	// when drained back from I/O.
	Finished int64             `json:"finished"`
	Counters map[string]uint64 `json:"counters,omitempty"`
}

// MeanRequestTime is the average time spent per request.
func (c CPUStats) MeanRequestTime() time.Duration {
	if c.Requests == 0 {
		return 0
	}
	return c.RequestTime / time.Duration(c.Requests)
}

type IOStats struct {
	Device   int           `json:"device"`
	IOBursts int64         `json:"io_bursts"`
	Busy     time.Duration `json:"busy"`
}

type Result struct {
	Scheduler string     `json:"scheduler"`
	Started   time.Time  `json:"started"`
	Ended     time.Time  `json:"ended"`
	Admitted  int64      `json:"admitted"`
	Finished  int64      `json:"finished"`
	CPUs      []CPUStats `json:"cpus"`
	IOs       []IOStats  `json:"ios"`
}

func (r *Result) Duration() time.Duration {
	return r.Ended.Sub(r.Started)
}
