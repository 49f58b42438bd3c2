package sim

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"sched-sim/internal/cpuallocator"
	"sched-sim/internal/host"
	"sched-sim/internal/logging"
	"sched-sim/internal/scheduler"
	"sched-sim/internal/task"
	"sched-sim/internal/trace"
	"sched-sim/internal/workload"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logging.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type fakeBinder struct {
	mu    sync.Mutex
	calls map[int]int // host cpu -> priority
}

func (b *fakeBinder) Bind(hostCPU, priority int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.calls == nil {
		b.calls = make(map[int]int)
	}
	b.calls[hostCPU] = priority
	return nil
}

type run struct {
	sim    *Simulation
	result *Result
	err    error
	trace  *trace.Memory
}

func simulate(t *testing.T, kind scheduler.Kind, layout task.Layout, records string, mutate func(*Config)) run {
	t.Helper()
	rec := trace.NewMemory(time.Now())
	src := workload.NewSource(strings.NewReader(records), layout)
	sched, err := scheduler.New(kind, src, layout.NumCPU, scheduler.Options{LowWater: 2, Batch: 1, Tracer: rec})
	require.NoError(t, err)

	cfg := Config{
		Layout:       layout,
		PollInterval: 100 * time.Microsecond,
		InitialFill:  2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg, sched, rec, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := s.Run(ctx)
	return run{sim: s, result: res, err: err, trace: rec}
}

func events(records []trace.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		e := r.Source.String() + " " + r.Event.String()
		if r.Extra != "" {
			e += " " + r.Extra
		}
		out = append(out, e)
	}
	return out
}

func TestRun_NoTaskLoss(t *testing.T) {
	layout := task.Layout{NumCPU: 2, NumIO: 2, IOOffset: 4}
	opts := workload.DefaultGeneratorOptions()
	opts.Tasks = 60
	opts.NumCPU = 2
	opts.Layout = layout
	opts.MaxCPUBurst = 200
	opts.MaxIOBurst = 60
	opts.MaxCPUTime = 100
	gen, err := workload.NewGenerator(opts)
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = gen.Write(&buf)
	require.NoError(t, err)

	for _, kind := range []scheduler.Kind{scheduler.KindO1, scheduler.KindOn} {
		t.Run(string(kind), func(t *testing.T) {
			r := simulate(t, kind, layout, buf.String(), nil)
			require.NoError(t, r.err)

			assert.Equal(t, int64(60), r.result.Admitted)
			assert.Equal(t, int64(60), r.result.Finished)
			assert.Zero(t, r.sim.leftover())

			for id := 0; id < 60; id++ {
				recs := r.trace.ForTask(id)
				require.NotEmptyf(t, recs, "task %d never traced", id)
				assert.Equal(t, trace.EventEnterSched, recs[0].Event)
				assert.Equal(t, trace.SourceSched, recs[0].Source)

				finishes := 0
				for _, rec := range recs {
					if rec.Event.Finish() {
						finishes++
					}
				}
				assert.Equalf(t, 1, finishes, "task %d finished %d times", id, finishes)
				assert.Truef(t, recs[len(recs)-1].Event.Finish(), "task %d: last event is %s", id, recs[len(recs)-1].Event)
			}

			var bursts int64
			for _, c := range r.result.CPUs {
				bursts += c.CPUBursts
				assert.Positive(t, c.Requests)
			}
			assert.Positive(t, bursts)
		})
	}
}

func TestRun_BurstExhaustion(t *testing.T) {
	layout := task.Layout{NumCPU: 1, NumIO: 1, IOOffset: 4}
	r := simulate(t, scheduler.KindO1, layout, "0 0 0 0 4 10 0 5\n", nil)
	require.NoError(t, r.err)

	want := []string{
		"SCHED ENTER_SCHED",
		"CPU ENTER_CPU",
		"CPU LEAVE_CPU",
		"IO ENTER_IO",
		"IO LEAVE_IO",
		"CPU ENTER_SCHED",
		"CPU ENTER_CPU",
		"CPU FINISH_CPU 5",
	}
	assert.Equal(t, want, events(r.trace.ForTask(0)))
	assert.Equal(t, int64(1), r.result.Finished)
}

func TestRun_FinishAfterIO(t *testing.T) {
	layout := task.Layout{NumCPU: 1, NumIO: 1, IOOffset: 4}
	r := simulate(t, scheduler.KindOn, layout, "0 0 0 0 0 5 4 5\n", nil)
	require.NoError(t, r.err)

	want := []string{
		"SCHED ENTER_SCHED",
		"CPU ENTER_CPU",
		"CPU LEAVE_CPU 5",
		"IO ENTER_IO",
		"IO LEAVE_IO",
		"CPU FINISH_IO",
	}
	assert.Equal(t, want, events(r.trace.ForTask(0)))
}

func TestRun_EmptyWorkloadTerminates(t *testing.T) {
	layout := task.Layout{NumCPU: 2, NumIO: 1, IOOffset: 4}
	for _, kind := range []scheduler.Kind{scheduler.KindO1, scheduler.KindOn} {
		r := simulate(t, kind, layout, "", nil)
		require.NoError(t, r.err)
		assert.Zero(t, r.result.Admitted)

		inits := 0
		for _, rec := range r.trace.Records() {
			if rec.Event == trace.EventInit {
				inits++
			}
		}
		assert.Equal(t, 3, inits, "one INIT per worker")
	}
}

func TestRun_MalformedRecordAborts(t *testing.T) {
	layout := task.Layout{NumCPU: 2, NumIO: 1, IOOffset: 4}
	records := "0 0 0 0 0 10\n1 0 0 0 4 10 0 10\n2 0 0 0\n3 0 0 0 0 10\n"
	r := simulate(t, scheduler.KindO1, layout, records, nil)
	require.Error(t, r.err)
	assert.True(t, errors.Is(r.err, workload.ErrNoBursts))
}

func TestRun_BindsWorkersToPlannedCPUs(t *testing.T) {
	layout := task.Layout{NumCPU: 2, NumIO: 1, IOOffset: 4}
	binder := &fakeBinder{}
	pins, err := cpuallocator.NewPinAllocator(&host.HostConfig{OnlineCPUs: []int{0, 1, 2, 3, 4, 5, 6, 7}}, nil)
	require.NoError(t, err)
	require.NoError(t, pins.Reserve(cpuallocator.Worker{Kind: cpuallocator.WorkerCPU, ID: 0}, 2))
	require.NoError(t, pins.Reserve(cpuallocator.Worker{Kind: cpuallocator.WorkerCPU, ID: 1}, 3))
	require.NoError(t, pins.Reserve(cpuallocator.Worker{Kind: cpuallocator.WorkerIO, ID: 0}, 7))
	r := simulate(t, scheduler.KindO1, layout, "0 0 0 0 0 10\n", func(c *Config) {
		c.Binder = binder
		c.Pins = pins
	})
	require.NoError(t, r.err)
	assert.Equal(t, map[int]int{2: 80, 3: 79, 7: 76}, binder.calls)
}

func TestRun_CancelStopsWorkers(t *testing.T) {
	layout := task.Layout{NumCPU: 1, NumIO: 1, IOOffset: 4}
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString(strconv.Itoa(i) + " 0 0 0 0 20000\n")
	}
	rec := trace.NewMemory(time.Now())
	src := workload.NewSource(strings.NewReader(b.String()), layout)
	sched, err := scheduler.New(scheduler.KindO1, src, 1, scheduler.DefaultOptions())
	require.NoError(t, err)
	s, err := New(Config{Layout: layout, PollInterval: time.Millisecond}, sched, rec, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestNew_Validates(t *testing.T) {
	sched, err := scheduler.New(scheduler.KindOn, workload.NewSource(strings.NewReader(""), task.Layout{}), 1, scheduler.DefaultOptions())
	require.NoError(t, err)

	_, err = New(Config{Layout: task.Layout{NumCPU: 1, NumIO: 0, IOOffset: 4}, PollInterval: time.Millisecond}, sched, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{Layout: task.Layout{NumCPU: 5, NumIO: 1, IOOffset: 4}, PollInterval: time.Millisecond}, sched, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{Layout: task.Layout{NumCPU: 1, NumIO: 1, IOOffset: 4}}, sched, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{Layout: task.Layout{NumCPU: 1, NumIO: 1, IOOffset: 4}, PollInterval: time.Millisecond}, nil, nil, nil)
	assert.Error(t, err)
}

func TestDeviceQueue_Idle(t *testing.T) {
	d := newDeviceQueue()
	assert.True(t, d.idle())

	tk := task.New(1, 0, 0, task.PolicyNormal, []task.Burst{{Device: 4, DurationUS: 1}})
	d.push(ioRequest{origin: 0, task: tk})
	assert.False(t, d.idle(), "queued task")
	assert.True(t, tk.Queued())

	req, ok := d.pop()
	require.True(t, ok)
	assert.Same(t, tk, req.task)
	assert.False(t, tk.Queued())
	assert.False(t, d.idle(), "task in service")

	d.served()
	assert.True(t, d.idle())

	d.mu.Lock()
	assert.False(t, d.idle(), "held lock")
	d.mu.Unlock()
}

func TestReturnQueue_Drain(t *testing.T) {
	r := newReturnQueue()
	a := task.New(1, 0, 0, task.PolicyNormal, nil)
	b := task.New(2, 0, 0, task.PolicyNormal, nil)
	r.push(a)
	r.push(b)
	assert.False(t, r.empty())
	assert.Equal(t, 2, r.len())

	got := r.drain()
	assert.Equal(t, []*task.Task{a, b}, got)
	assert.True(t, r.empty())
	assert.Zero(t, r.len())
	assert.False(t, a.Queued())
	assert.Empty(t, r.drain())
}

func TestLeftover_CountsEveryQueuedTask(t *testing.T) {
	layout := task.Layout{NumCPU: 2, NumIO: 1, IOOffset: 4}
	sched, err := scheduler.New(scheduler.KindO1, workload.NewSource(strings.NewReader(""), layout), 2, scheduler.DefaultOptions())
	require.NoError(t, err)
	s, err := New(Config{Layout: layout, PollInterval: time.Millisecond}, sched, nil, nil)
	require.NoError(t, err)

	burst := []task.Burst{{Device: 0, DurationUS: 1}}
	s.returns[0].push(task.New(1, 0, 0, task.PolicyNormal, burst))
	s.returns[0].push(task.New(2, 0, 0, task.PolicyNormal, burst))
	s.returns[1].push(task.New(3, 0, 0, task.PolicyNormal, burst))
	s.devices[0].push(ioRequest{origin: 0, task: task.New(4, 0, 0, task.PolicyNormal, burst)})

	assert.Equal(t, 4, s.leftover())
}

func TestLiveness(t *testing.T) {
	l := newLiveness(2)
	assert.True(t, l.anyLive(), "cores start live")
	l.set(0, false)
	assert.True(t, l.anyLive())
	l.set(1, false)
	assert.False(t, l.anyLive())
	assert.False(t, l.done())
	l.terminate()
	assert.True(t, l.done())
}
