package scheduler

import (
	"context"
	"sync"

	course_archiver "github.com/coursearc/course-archiver"
	"github.com/coursearc/course-archiver/internal/progress"
	"github.com/google/uuid"
)

type BatchID string

func NewBatchID() BatchID {
	return BatchID(uuid.NewString())
}

// A Batch is the caller-facing handle for one submitted set of assets. Tasks
// live exactly as long as their batch; the resume manifest is the only state
// that outlives it.
type Batch struct {
	ID BatchID

	scheduler *Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
	tasks     []*Task

	mu        sync.Mutex
	remaining int
	done      chan struct{}
}

func newBatch(s *Scheduler, assets []course_archiver.AssetDescriptor) *Batch {
	ctx, cancel := context.WithCancel(s.ctx)
	b := &Batch{
		ID:        NewBatchID(),
		scheduler: s,
		ctx:       ctx,
		cancel:    cancel,
		remaining: len(assets),
		done:      make(chan struct{}),
	}
	b.tasks = make([]*Task, 0, len(assets))
	for _, asset := range assets {
		b.tasks = append(b.tasks, newTask(b, asset))
	}
	if len(assets) == 0 {
		close(b.done)
	}
	return b
}

// Cancel requests a best-effort halt: pending tasks become Cancelled without
// transferring; in-flight tasks stop at the next chunk boundary, leaving
// their partial files and manifest entries intact for a later resume.
func (b *Batch) Cancel() {
	b.cancel()
}

// Done is closed once every task has reached a terminal state.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch completes (or ctx is cancelled), returning the
// final per-task outcomes. Partial success is a normal completion; the batch
// is only an overall failure if every task failed.
func (b *Batch) Wait(ctx context.Context) ([]Outcome, error) {
	select {
	case <-b.done:
		return b.Outcomes(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Outcomes returns the current per-task outcomes, final once Done is closed.
func (b *Batch) Outcomes() []Outcome {
	outcomes := make([]Outcome, 0, len(b.tasks))
	for _, t := range b.tasks {
		outcomes = append(outcomes, t.outcome())
	}
	return outcomes
}

// Tasks returns snapshots of all tasks in submission order.
func (b *Batch) Tasks() []TaskSnapshot {
	snaps := make([]TaskSnapshot, 0, len(b.tasks))
	for _, t := range b.tasks {
		snaps = append(snaps, t.Snapshot())
	}
	return snaps
}

// Progress returns the aggregate snapshot restricted to this batch's tasks.
func (b *Batch) Progress() progress.Snapshot {
	ids := make(map[string]bool, len(b.tasks))
	for _, t := range b.tasks {
		ids[string(t.ID)] = true
	}
	var snap progress.Snapshot
	for _, ts := range b.scheduler.aggregator.Snapshot().Tasks {
		if !ids[ts.TaskID] {
			continue
		}
		snap.TotalTasks++
		switch ts.State {
		case course_archiver.TaskStateCompleted:
			snap.Completed++
		case course_archiver.TaskStateFailed:
			snap.Failed++
		case course_archiver.TaskStateCancelled:
			snap.Cancelled++
		}
		snap.BytesDone += ts.BytesDone
		if ts.BytesExpected > 0 {
			snap.BytesExpected += ts.BytesExpected
		}
		snap.Tasks = append(snap.Tasks, ts)
	}
	return snap
}

// AllFailed reports whether every task in the batch failed, which is the only
// condition under which a batch is reported as an overall failure.
func (b *Batch) AllFailed() bool {
	if len(b.tasks) == 0 {
		return false
	}
	for _, t := range b.tasks {
		if t.State() != course_archiver.TaskStateFailed {
			return false
		}
	}
	return true
}

func (b *Batch) taskFinished() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining--
	if b.remaining == 0 {
		close(b.done)
	}
}
