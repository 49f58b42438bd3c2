package trace

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Source identifies which kind of worker emitted a record.
type Source int

const (
	SourceCPU Source = iota
	SourceIO
	SourceSched
)

func (s Source) String() string {
	switch s {
	case SourceCPU:
		return "CPU"
	case SourceIO:
		return "IO"
	case SourceSched:
		return "SCHED"
	default:
		return "UNKNOWN"
	}
}

func ParseSource(s string) (Source, error) {
	switch s {
	case "CPU":
		return SourceCPU, nil
	case "IO":
		return SourceIO, nil
	case "SCHED":
		return SourceSched, nil
	}
	return 0, fmt.Errorf("unknown trace source %q", s)
}

// Event is a task lifecycle transition.
type Event int

const (
	EventInit Event = iota
	EventEnterSched
	EventEnterCPU
	EventLeaveCPU
	EventFinishCPU
	EventEnterIO
	EventLeaveIO
	EventFinishIO
)

var eventNames = [...]string{
	EventInit:       "INIT",
	EventEnterSched: "ENTER_SCHED",
	EventEnterCPU:   "ENTER_CPU",
	EventLeaveCPU:   "LEAVE_CPU",
	EventFinishCPU:  "FINISH_CPU",
	EventEnterIO:    "ENTER_IO",
	EventLeaveIO:    "LEAVE_IO",
	EventFinishIO:   "FINISH_IO",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return "UNKNOWN"
	}
	return eventNames[e]
}

func ParseEvent(s string) (Event, error) {
	for i, name := range eventNames {
		if name == s {
			return Event(i), nil
		}
	}
	return 0, fmt.Errorf("unknown trace event %q", s)
}

// Finish reports whether the event terminates a task.
func (e Event) Finish() bool {
	return e == EventFinishCPU || e == EventFinishIO
}

// NoTask is the task id carried by worker-level records such as INIT.
const NoTask = -1

// Record is one trace line.
type Record struct {
	Offset   time.Duration
	Source   Source
	SourceID int
	TaskID   int
	Event    Event
	Extra    string
}

// String renders the record as "<us> <SOURCE> <id> <task> <EVENT>[ <extra>]".
func (r Record) String() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(r.Offset.Microseconds(), 10))
	b.WriteByte(' ')
	b.WriteString(r.Source.String())
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(r.SourceID))
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(r.TaskID))
	b.WriteByte(' ')
	b.WriteString(r.Event.String())
	if r.Extra != "" {
		b.WriteByte(' ')
		b.WriteString(r.Extra)
	}
	return b.String()
}

// ParseRecord parses a line produced by Record.String.
func ParseRecord(line string) (Record, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 || len(fields) > 6 {
		return Record{}, fmt.Errorf("trace line %q: expected 5 or 6 fields, got %d", line, len(fields))
	}
	us, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("trace line %q: bad timestamp: %w", line, err)
	}
	src, err := ParseSource(fields[1])
	if err != nil {
		return Record{}, err
	}
	srcID, err := strconv.Atoi(fields[2])
	if err != nil {
		return Record{}, fmt.Errorf("trace line %q: bad source id: %w", line, err)
	}
	taskID, err := strconv.Atoi(fields[3])
	if err != nil {
		return Record{}, fmt.Errorf("trace line %q: bad task id: %w", line, err)
	}
	ev, err := ParseEvent(fields[4])
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		Offset:   time.Duration(us) * time.Microsecond,
		Source:   src,
		SourceID: srcID,
		TaskID:   taskID,
		Event:    ev,
	}
	if len(fields) == 6 {
		rec.Extra = fields[5]
	}
	return rec, nil
}

// Emitter receives trace records from workers and schedulers. Implementations
// must be safe for concurrent use.
type Emitter interface {
	Emit(src Source, srcID, taskID int, ev Event, extra string)
}

// Discard drops every record.
type Discard struct{}

func (Discard) Emit(Source, int, int, Event, string) {}
