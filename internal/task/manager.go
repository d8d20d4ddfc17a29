// Package task implements the single-active-job manager that every
// long-running WeiBack operation (backups, exports, cleanups) runs under.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrJobActive is returned by StartJob when another job is still running.
var ErrJobActive = errors.New("task: a job is already in progress")

// SubTaskError records a non-fatal failure within a larger job — e.g. one
// picture in a hundred failing to download. Jobs keep running past these;
// callers drain them with TakeSubTaskErrors.
type SubTaskError struct {
	At      time.Time
	Context string
	Err     error
}

// Task is a running or finished job's visible state.
type Task struct {
	ID       string
	Kind     string
	Status   Status
	Progress int
	Total    int
	Err      error

	cancel context.CancelFunc
}

// Snapshot is an immutable copy of a Task's fields, safe to hand to
// callers outside the Manager's lock.
type Snapshot struct {
	ID       string
	Kind     string
	Status   Status
	Progress int
	Total    int
	Err      error
}

func (t *Task) snapshot() Snapshot {
	return Snapshot{ID: t.ID, Kind: t.Kind, Status: t.Status, Progress: t.Progress, Total: t.Total, Err: t.Err}
}

// Manager enforces that at most one job runs at a time and collects
// subtask errors and progress from whichever job is active.
type Manager struct {
	mu      sync.Mutex
	current *Task

	errMu sync.Mutex
	errs  []SubTaskError
}

// NewManager returns an idle Manager.
func NewManager() *Manager {
	return &Manager{}
}

// StartJob registers a new job of the given kind and returns a context
// that's cancelled if Cancel is called, plus the task ID. It fails with
// ErrJobActive if a job is already running.
func (m *Manager) StartJob(ctx context.Context, kind string) (context.Context, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.Status == StatusInProgress {
		return nil, "", ErrJobActive
	}

	jobCtx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	m.current = &Task{
		ID:     id,
		Kind:   kind,
		Status: StatusInProgress,
		cancel: cancel,
	}
	return jobCtx, id, nil
}

// SetProgress updates the current job's progress/total counters. It is a
// no-op if id does not match the current job (e.g. a stale goroutine from
// a job that was superseded).
func (m *Manager) SetProgress(id string, progress, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.ID != id {
		return
	}
	m.current.Progress = progress
	m.current.Total = total
}

// Finish marks the given job's terminal status. err is nil for a
// successful completion.
func (m *Manager) Finish(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.ID != id {
		return
	}
	if err != nil {
		m.current.Status = StatusFailed
		m.current.Err = err
	} else {
		m.current.Status = StatusCompleted
	}
}

// Current returns a snapshot of the current (or most recently finished)
// job, or ok=false if no job has ever run.
func (m *Manager) Current() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Snapshot{}, false
	}
	return m.current.snapshot(), true
}

// Cancel requests cancellation of the currently running job, if any.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.Status == StatusInProgress && m.current.cancel != nil {
		m.current.cancel()
	}
}

// ReportSubTaskError records a non-fatal error encountered mid-job.
func (m *Manager) ReportSubTaskError(context_ string, err error, at time.Time) {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	m.errs = append(m.errs, SubTaskError{At: at, Context: context_, Err: err})
}

// TakeSubTaskErrors returns and clears every subtask error recorded since
// the last call.
func (m *Manager) TakeSubTaskErrors() []SubTaskError {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	out := m.errs
	m.errs = nil
	return out
}
