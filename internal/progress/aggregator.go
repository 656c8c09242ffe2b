// Package progress collects per-task transition events and derives aggregate
// completion state. Event delivery is fire-and-forget: recording never blocks
// the transfer worker, and slow subscribers lose events rather than stall the
// pipeline.
package progress

import (
	"sync"
	"time"

	course_archiver "github.com/coursearc/course-archiver"
	"go.uber.org/zap"
)

const DefaultSubscriberBufSize = 64

// An Update is emitted on every task state transition, and with From == To ==
// transferring for byte-progress inside a transfer.
type Update struct {
	TaskID     string
	AssetID    string
	From       course_archiver.TaskState
	To         course_archiver.TaskState
	BytesDelta int64
	Time       time.Time
}

type taskProgress struct {
	assetID       string
	state         course_archiver.TaskState
	bytesDone     int64
	bytesExpected int64
}

// A TaskSnapshot is the read-only per-task view inside a Snapshot.
type TaskSnapshot struct {
	TaskID        string
	AssetID       string
	State         course_archiver.TaskState
	BytesDone     int64
	BytesExpected int64
}

// A Snapshot is the aggregate completion state at one point in time.
type Snapshot struct {
	TotalTasks    int
	Completed     int
	Failed        int
	Cancelled     int
	BytesDone     int64
	// BytesExpected only sums tasks whose size is known.
	BytesExpected int64
	Tasks         []TaskSnapshot
}

// Remaining estimates bytes still to transfer, for tasks whose size is known.
func (s Snapshot) Remaining() int64 {
	if s.BytesExpected > s.BytesDone {
		return s.BytesExpected - s.BytesDone
	}
	return 0
}

type Aggregator struct {
	log *zap.SugaredLogger

	mu     sync.Mutex
	tasks  map[string]*taskProgress
	subs   map[int]chan Update
	nextID int
	closed bool
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		log:   zap.S().Named("progress"),
		tasks: make(map[string]*taskProgress),
		subs:  make(map[int]chan Update),
	}
}

// Track registers a task before any of its updates are recorded, so totals
// include tasks that have not transitioned yet.
func (a *Aggregator) Track(taskID, assetID string, bytesExpected int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasks[taskID] = &taskProgress{
		assetID:       assetID,
		state:         course_archiver.TaskStatePending,
		bytesExpected: bytesExpected,
	}
}

// SetExpected updates a task's expected size once the transfer learns it.
func (a *Aggregator) SetExpected(taskID string, bytesExpected int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.tasks[taskID]; ok {
		t.bytesExpected = bytesExpected
	}
}

// Record ingests one update and fans it out to subscribers without blocking:
// a subscriber whose buffer is full misses the update.
func (a *Aggregator) Record(u Update) {
	if u.Time.IsZero() {
		u.Time = time.Now()
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	t, ok := a.tasks[u.TaskID]
	if !ok {
		t = &taskProgress{assetID: u.AssetID}
		a.tasks[u.TaskID] = t
	}
	t.state = u.To
	t.bytesDone += u.BytesDelta
	// Fan out under the lock: sends are non-blocking, and this keeps a
	// concurrent Close from closing a channel mid-send.
	for _, ch := range a.subs {
		select {
		case ch <- u:
		default:
		}
	}
	a.mu.Unlock()
}

// Snapshot returns a copy of the aggregate state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap := Snapshot{
		TotalTasks: len(a.tasks),
		Tasks:      make([]TaskSnapshot, 0, len(a.tasks)),
	}
	for taskID, t := range a.tasks {
		switch t.state {
		case course_archiver.TaskStateCompleted:
			snap.Completed++
		case course_archiver.TaskStateFailed:
			snap.Failed++
		case course_archiver.TaskStateCancelled:
			snap.Cancelled++
		}
		snap.BytesDone += t.bytesDone
		if t.bytesExpected > 0 {
			snap.BytesExpected += t.bytesExpected
		}
		snap.Tasks = append(snap.Tasks, TaskSnapshot{
			TaskID:        taskID,
			AssetID:       t.assetID,
			State:         t.state,
			BytesDone:     t.bytesDone,
			BytesExpected: t.bytesExpected,
		})
	}
	return snap
}

// Subscribe returns a channel of incremental updates and a cancel function.
// The channel is closed by cancel or by Close.
func (a *Aggregator) Subscribe() (<-chan Update, func()) {
	return a.SubscribeBufSize(DefaultSubscriberBufSize)
}

func (a *Aggregator) SubscribeBufSize(bufSize int) (<-chan Update, func()) {
	ch := make(chan Update, bufSize)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		close(ch)
		return ch, func() {}
	}
	id := a.nextID
	a.nextID++
	a.subs[id] = ch
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if _, ok := a.subs[id]; ok {
				delete(a.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close idempotently shuts down the aggregator, closing all subscribers.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for id, ch := range a.subs {
		delete(a.subs, id)
		close(ch)
	}
}
