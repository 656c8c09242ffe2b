package scheduler

import (
	"sync"

	course_archiver "github.com/coursearc/course-archiver"
	"github.com/google/uuid"
)

type TaskID string

func NewTaskID() TaskID {
	return TaskID(uuid.NewString())
}

// A Task wraps one AssetDescriptor with its mutable download state. One task
// per asset; only the worker currently running the task mutates it, but state
// may be read concurrently for snapshots.
type Task struct {
	ID    TaskID
	Asset course_archiver.AssetDescriptor
	batch *Batch

	mu    sync.Mutex
	state course_archiver.TaskState
	url   string

	// candidates holds the resolved URL plus fallbacks, in preference order.
	candidates []string
	attempts   int
	lastErr    error
}

func newTask(batch *Batch, asset course_archiver.AssetDescriptor) *Task {
	t := &Task{
		ID:    NewTaskID(),
		Asset: asset,
		batch: batch,
		state: course_archiver.TaskStatePending,
	}
	if asset.URL != "" {
		t.url = asset.URL
		t.candidates = []string{asset.URL}
	}
	return t
}

func (t *Task) State() course_archiver.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

// nextCandidate discards the current URL and advances to the next resolved
// candidate, returning false when none are left.
func (t *Task) nextCandidate() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.candidates) <= 1 {
		return false
	}
	t.candidates = t.candidates[1:]
	t.url = t.candidates[0]
	return true
}

func (t *Task) setResolved(urls []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candidates = urls
	if len(urls) > 0 {
		t.url = urls[0]
	}
}

// A TaskSnapshot is an immutable copy of a task's state, safe to hand out.
type TaskSnapshot struct {
	ID       TaskID
	AssetID  string
	State    course_archiver.TaskState
	URL      string
	Attempts int
	Error    string
}

func (t *Task) Snapshot() TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := TaskSnapshot{
		ID:       t.ID,
		AssetID:  t.Asset.ID,
		State:    t.state,
		URL:      t.url,
		Attempts: t.attempts,
	}
	if t.lastErr != nil {
		snap.Error = t.lastErr.Error()
	}
	return snap
}

// An Outcome is the final per-task result reported when a batch completes.
type Outcome struct {
	TaskID  TaskID
	AssetID string
	State   course_archiver.TaskState
	Kind    course_archiver.FailureKind
	Err     error
}

func (t *Task) outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	o := Outcome{
		TaskID:  t.ID,
		AssetID: t.Asset.ID,
		State:   t.state,
		Err:     t.lastErr,
	}
	if t.state == course_archiver.TaskStateFailed {
		o.Kind = course_archiver.KindOf(t.lastErr)
	}
	return o
}
