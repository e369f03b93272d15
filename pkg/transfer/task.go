// Package transfer executes upload, download and delete operations as
// independently cancellable, progress-reporting tasks.
package transfer

import (
	"context"
	"sync"

	"skiff/pkg/session"
)

// Kind identifies the operation a task performs.
type Kind int

const (
	KindUpload Kind = iota
	KindDownload
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindUpload:
		return "upload"
	case KindDownload:
		return "download"
	default:
		return "delete"
	}
}

// State is a task's lifecycle state. Each task moves Queued -> Running ->
// exactly one terminal state and never transitions again.
type State int

const (
	StateQueued State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "queued"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Progress is a displayable snapshot of one task.
type Progress struct {
	TaskID  int
	Kind    Kind
	State   State
	Source  string
	Dest    string
	Bytes   int64
	Total   int64
	Session string
	Error   string
}

// Task is one transfer operation. The engine owns its execution; callers
// observe it through snapshots and cancel it cooperatively.
type Task struct {
	ID     int
	Kind   Kind
	Source string
	Dest   string

	sess *session.Session

	mu        sync.Mutex
	state     State
	bytes     int64
	total     int64
	err       error
	cancelled bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Cancel requests cooperative cancellation. The running chunk loop observes
// it at the next chunk boundary; a queued task never starts.
func (t *Task) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
	t.cancel()
}

// State returns the task's current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the failure reason for a Failed task.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Progress returns a consistent snapshot.
func (t *Task) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := Progress{
		TaskID:  t.ID,
		Kind:    t.Kind,
		State:   t.state,
		Source:  t.Source,
		Dest:    t.Dest,
		Bytes:   t.bytes,
		Total:   t.total,
		Session: t.sess.ID(),
	}
	if t.err != nil {
		p.Error = t.err.Error()
	}
	return p
}

func (t *Task) wasCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// setRunning transitions Queued -> Running. Returns false if the task is
// already terminal (cancelled before start).
func (t *Task) setRunning(total int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateQueued {
		return false
	}
	t.state = StateRunning
	t.total = total
	return true
}

func (t *Task) addBytes(n int64) {
	t.mu.Lock()
	t.bytes += n
	t.mu.Unlock()
}

// finish applies the single terminal transition. Later calls are no-ops,
// keeping terminal states idempotent.
func (t *Task) finish(state State, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return false
	}
	t.state = state
	t.err = err
	return true
}
