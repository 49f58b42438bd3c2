package workload

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"strings"

	"sched-sim/internal/task"
)

// Kind is the behavioural class of a generated task.
type Kind int

const (
	KindCPUBound Kind = iota
	KindInteractive
	KindRealTime
	KindBackground
)

func (k Kind) String() string {
	switch k {
	case KindCPUBound:
		return "cpu_bound"
	case KindInteractive:
		return "interactive"
	case KindRealTime:
		return "realtime"
	case KindBackground:
		return "background"
	default:
		return "unknown"
	}
}

// kindWeights is the task mix: 40% CPU bound, 30% interactive, 20% real-time,
// 10% background.
var kindWeights = [...]int{KindCPUBound: 40, KindInteractive: 30, KindRealTime: 20, KindBackground: 10}

type GeneratorOptions struct {
	Tasks  int
	NumCPU int
	Layout task.Layout
	// MaxCPUBurst and MaxIOBurst are the upper bounds of a single burst in us.
	MaxCPUBurst int
	MaxIOBurst  int
	// MaxCPUTime splits longer CPU bursts, inserting a short I/O gap.
	MaxCPUTime int
	Seed       uint64
}

func DefaultGeneratorOptions() GeneratorOptions {
	return GeneratorOptions{
		Tasks:       2048,
		NumCPU:      4,
		Layout:      task.Layout{NumCPU: 4, NumIO: 2, IOOffset: 4},
		MaxCPUBurst: 400,
		MaxIOBurst:  150,
		MaxCPUTime:  300,
		Seed:        777,
	}
}

// Generator produces a deterministic synthetic workload for a seed.
type Generator struct {
	opts   GeneratorOptions
	rng    *rand.Rand
	cpuIDs []int
	ioIDs  []int
}

func NewGenerator(opts GeneratorOptions) (*Generator, error) {
	if opts.NumCPU <= 0 {
		return nil, fmt.Errorf("generator needs at least one cpu, got %d", opts.NumCPU)
	}
	if opts.NumCPU > opts.Layout.IOOffset {
		return nil, fmt.Errorf("cpu ids 0..%d collide with I/O device ids starting at %d", opts.NumCPU-1, opts.Layout.IOOffset)
	}
	if opts.Layout.NumIO <= 0 {
		return nil, fmt.Errorf("generator needs at least one I/O device")
	}
	if opts.MaxCPUBurst <= 0 || opts.MaxIOBurst <= 0 || opts.MaxCPUTime <= 0 {
		return nil, fmt.Errorf("burst bounds must be positive")
	}
	g := &Generator{
		opts: opts,
		rng:  rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
	for i := 0; i < opts.NumCPU; i++ {
		g.cpuIDs = append(g.cpuIDs, i)
	}
	for i := 0; i < opts.Layout.NumIO; i++ {
		g.ioIDs = append(g.ioIDs, opts.Layout.IOOffset+i)
	}
	return g, nil
}

// between returns a uniform integer in [lo, hi], or lo when hi < lo.
func (g *Generator) between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + g.rng.IntN(hi-lo+1)
}

func (g *Generator) pick(ids []int) int {
	return ids[g.rng.IntN(len(ids))]
}

func (g *Generator) kind() Kind {
	total := 0
	for _, w := range kindWeights {
		total += w
	}
	n := g.rng.IntN(total)
	for k, w := range kindWeights {
		if n < w {
			return Kind(k)
		}
		n -= w
	}
	return KindBackground
}

// cpuBurst appends a CPU burst, splitting it at MaxCPUTime with short I/O gaps.
func (g *Generator) cpuBurst(bursts []task.Burst, cpu, duration int) []task.Burst {
	for duration > g.opts.MaxCPUTime {
		bursts = append(bursts,
			task.Burst{Device: cpu, DurationUS: g.opts.MaxCPUTime},
			task.Burst{Device: g.pick(g.ioIDs), DurationUS: g.between(10, 30)},
		)
		duration -= g.opts.MaxCPUTime
	}
	return append(bursts, task.Burst{Device: cpu, DurationUS: duration})
}

func (g *Generator) ioBurst(bursts []task.Burst, lo, hi int) []task.Burst {
	return append(bursts, task.Burst{Device: g.pick(g.ioIDs), DurationUS: g.between(lo, hi)})
}

// Task generates one task with the given id.
func (g *Generator) Task(id int) (*task.Task, Kind) {
	maxCPU, maxIO := g.opts.MaxCPUBurst, g.opts.MaxIOBurst
	kind := g.kind()

	var (
		rtPriority, nice int
		policy           = task.PolicyNormal
		bursts           []task.Burst
	)

	switch kind {
	case KindCPUBound:
		nice = g.between(-20, 0)
		n := g.between(1, 3)
		for i := 0; i < n; i++ {
			bursts = g.cpuBurst(bursts, g.pick(g.cpuIDs), g.between(100, maxCPU))
			if i < n-1 {
				bursts = g.ioBurst(bursts, 20, maxIO)
			}
		}
	case KindInteractive:
		nice = g.between(0, 10)
		n := g.between(3, 6)
		for i := 0; i < n; i++ {
			if i%2 == 0 {
				bursts = g.cpuBurst(bursts, g.pick(g.cpuIDs), g.between(10, maxCPU/4))
			} else {
				bursts = g.ioBurst(bursts, 5, maxIO/2)
			}
		}
	case KindRealTime:
		policy = task.Policy(g.between(int(task.PolicyFIFO), int(task.PolicyRR)))
		rtPriority = g.between(80, task.MaxRTPriority-1)
		n := g.between(1, 3)
		for i := 0; i < n; i++ {
			bursts = g.cpuBurst(bursts, g.pick(g.cpuIDs), g.between(20, maxCPU/2))
			if i < n-1 {
				bursts = g.ioBurst(bursts, 10, maxIO/2)
			}
		}
	case KindBackground:
		nice = g.between(10, 19)
		n := g.between(1, 3)
		for i := 0; i < n; i++ {
			if i == 0 || g.rng.Float64() < 0.5 {
				bursts = g.cpuBurst(bursts, g.pick(g.cpuIDs), g.between(50, maxCPU/2))
			} else {
				bursts = g.ioBurst(bursts, 50, maxIO)
			}
		}
	}

	if len(bursts) == 0 || g.opts.Layout.IsIO(bursts[0].Device) {
		bursts = append([]task.Burst{{Device: g.pick(g.cpuIDs), DurationUS: g.between(10, maxCPU)}}, bursts...)
	}
	bursts = g.alternate(bursts)

	return task.New(id, rtPriority, nice, policy, bursts), kind
}

// alternate rewrites the device of any burst that has the same type (CPU or
// I/O) as its predecessor.
func (g *Generator) alternate(bursts []task.Burst) []task.Burst {
	for i := 1; i < len(bursts); i++ {
		prevIO := g.opts.Layout.IsIO(bursts[i-1].Device)
		if g.opts.Layout.IsIO(bursts[i].Device) != prevIO {
			continue
		}
		if prevIO {
			bursts[i].Device = g.pick(g.cpuIDs)
		} else {
			bursts[i].Device = g.pick(g.ioIDs)
		}
	}
	return bursts
}

// FormatRecord renders a task in the workload line format.
func FormatRecord(t *task.Task) string {
	parts := []string{
		strconv.Itoa(t.ID),
		strconv.Itoa(t.RTPriority),
		strconv.Itoa(t.Nice),
		strconv.Itoa(int(t.Policy)),
	}
	for _, b := range t.Bursts() {
		parts = append(parts, strconv.Itoa(b.Device), strconv.Itoa(b.DurationUS))
	}
	return strings.Join(parts, " ")
}

// Write generates opts.Tasks records into w and returns the per-kind counts.
func (g *Generator) Write(w io.Writer) (map[Kind]int, error) {
	bw := bufio.NewWriter(w)
	counts := make(map[Kind]int)
	for id := 0; id < g.opts.Tasks; id++ {
		t, kind := g.Task(id)
		counts[kind]++
		if _, err := bw.WriteString(FormatRecord(t) + "\n"); err != nil {
			return counts, err
		}
	}
	return counts, bw.Flush()
}
