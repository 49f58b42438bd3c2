package trace

import (
	"sync"
	"time"
)

// Memory keeps records in memory, in emission order.
type Memory struct {
	start time.Time

	mu      sync.Mutex
	records []Record
}

func NewMemory(start time.Time) *Memory {
	return &Memory{start: start}
}

func (m *Memory) Emit(src Source, srcID, taskID int, ev Event, extra string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, Record{
		Offset:   time.Since(m.start),
		Source:   src,
		SourceID: srcID,
		TaskID:   taskID,
		Event:    ev,
		Extra:    extra,
	})
}

// Records returns a copy of everything emitted so far.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// ForTask returns the records of one task in emission order.
func (m *Memory) ForTask(taskID int) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	return out
}
