// internal/storage/memory.go
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is a process-local Store. Nothing survives a restart.
type Memory struct {
	mu     sync.Mutex
	runs   map[string]Run
	alarms []Alarm
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		runs: make(map[string]Run),
		now:  time.Now,
	}
}

func (m *Memory) CreateRun(ctx context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run.ID == "" {
		return fmt.Errorf("storage: run id required")
	}
	if _, exists := m.runs[run.ID]; exists {
		return fmt.Errorf("storage: run %s already exists", run.ID)
	}
	m.runs[run.ID] = copyRun(run)
	return nil
}

func (m *Memory) FinalizeRun(ctx context.Context, id string, res Result, samples []Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("storage: finalize %s: %w", id, ErrNotFound)
	}
	if run.Status == RunCompleted {
		return nil
	}
	if run.Status != RunRecording {
		return fmt.Errorf("storage: finalize %s: run is %s", id, run.Status)
	}

	r := res
	run.Result = &r
	run.Samples = append([]Sample(nil), samples...)
	run.Status = RunCompleted
	m.runs[id] = run
	return nil
}

func (m *Memory) AbortRun(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("storage: abort %s: %w", id, ErrNotFound)
	}
	if run.Status == RunCompleted {
		return nil
	}
	run.Status = RunAborted
	m.runs[id] = run
	return nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return Run{}, fmt.Errorf("storage: run %s: %w", id, ErrNotFound)
	}
	return copyRun(run), nil
}

func (m *Memory) ListRuns(ctx context.Context, f RunFilter) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Run
	for _, run := range m.runs {
		if !f.match(run) {
			continue
		}
		run.Samples = nil
		if run.Result != nil {
			r := *run.Result
			run.Result = &r
		}
		out = append(out, run)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) DeleteRun(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[id]; !ok {
		return fmt.Errorf("storage: delete %s: %w", id, ErrNotFound)
	}
	delete(m.runs, id)
	return nil
}

// ---- alarms ----

func (m *Memory) RecordAlarm(ctx context.Context, a Alarm) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == "" {
		return fmt.Errorf("storage: alarm id required")
	}
	m.alarms = append(m.alarms, a)
	return nil
}

func (m *Memory) ListAlarms(ctx context.Context, f AlarmFilter) ([]Alarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Alarm
	for i := len(m.alarms) - 1; i >= 0; i-- {
		a := m.alarms[i]
		if f.ActiveOnly && a.Acknowledged {
			continue
		}
		out = append(out, a)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) AcknowledgeAlarm(ctx context.Context, id, by string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.alarms {
		if m.alarms[i].ID != id {
			continue
		}
		at := m.now()
		m.alarms[i].Acknowledged = true
		m.alarms[i].AckTimestamp = &at
		m.alarms[i].AckBy = by
		return nil
	}
	return fmt.Errorf("storage: alarm %s: %w", id, ErrNotFound)
}

func (m *Memory) Close(ctx context.Context) error {
	return nil
}

// ---- helpers ----

func (f RunFilter) match(run Run) bool {
	if f.SampleID != "" && run.SampleID != f.SampleID {
		return false
	}
	if f.Passed != nil && (run.Result == nil || run.Result.Passed != *f.Passed) {
		return false
	}
	if !f.From.IsZero() && run.StartedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && run.StartedAt.After(f.To) {
		return false
	}
	return true
}

func copyRun(run Run) Run {
	if run.Result != nil {
		r := *run.Result
		run.Result = &r
	}
	run.Samples = append([]Sample(nil), run.Samples...)
	return run
}
