// Package scheduler runs download batches: a bounded pool of transfer workers
// pulling from a FIFO queue, resolving asset URLs through the extraction
// chain, performing resumable ranged transfers, and reporting every state
// transition to the progress aggregator.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	course_archiver "github.com/coursearc/course-archiver"
	"github.com/coursearc/course-archiver/internal/history"
	"github.com/coursearc/course-archiver/internal/manifest"
	"github.com/coursearc/course-archiver/internal/progress"
	"github.com/coursearc/course-archiver/internal/ratelimit"
	"go.uber.org/zap"
)

var (
	ErrSchedulerClosed = errors.New("scheduler closed")
	ErrNoManifest      = errors.New("scheduler requires a manifest store")
)

// A BlockFetcher supplies raw block content for assets that lack a resolved
// URL. It is an external collaborator; the scheduler never fetches course
// outline data itself.
type BlockFetcher interface {
	FetchBlock(ctx context.Context, blockID string) (*course_archiver.BlockContent, error)
}

type Config struct {
	// TargetDir is the base directory destination paths are relative to.
	TargetDir string
	// Workers is the global concurrency cap for transfers.
	Workers int
	// MaxAttempts is the retry ceiling per task for retryable failures.
	MaxAttempts int
	// ChunkSize is the byte-range size of one transfer request.
	ChunkSize int64
	// RequestTimeout bounds each individual network call.
	RequestTimeout time.Duration
	// RetryRequeueDelay spaces out requeues after a retryable failure, on top
	// of whatever backoff the rate controller applies at admission.
	RetryRequeueDelay time.Duration
	UserAgent         string

	Manifest *manifest.Store
	Rate     *ratelimit.Controller
	Chain    *course_archiver.StrategyChain
	Blocks   BlockFetcher
	// History, when set, records completed downloads.
	History *history.Store
	// Client, when set, overrides the default HTTP client.
	Client *http.Client
}

var DefaultConfig = Config{
	TargetDir:         ".",
	Workers:           3,
	MaxAttempts:       5,
	ChunkSize:         4 << 20,
	RequestTimeout:    2 * time.Minute,
	RetryRequeueDelay: time.Second,
	UserAgent:         "course-archiver/1.0",
}

type Scheduler struct {
	config     Config
	ctx        context.Context
	ctxCancel  context.CancelFunc
	log        *zap.SugaredLogger
	queue      *taskQueue
	aggregator *progress.Aggregator
	client     *http.Client
	wg         sync.WaitGroup

	mu      sync.Mutex
	batches map[BatchID]*Batch
	closed  bool
}

func New(config Config, ctx context.Context) (*Scheduler, error) {
	if config.Manifest == nil {
		return nil, ErrNoManifest
	}
	if config.Workers <= 0 {
		config.Workers = DefaultConfig.Workers
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultConfig.ChunkSize
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig.RequestTimeout
	}
	if config.RetryRequeueDelay <= 0 {
		config.RetryRequeueDelay = DefaultConfig.RetryRequeueDelay
	}
	if config.TargetDir == "" {
		config.TargetDir = "."
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultConfig.UserAgent
	}
	if config.Rate == nil {
		config.Rate = ratelimit.New(ratelimit.DefaultConfig)
	}
	if config.Chain == nil {
		config.Chain = &course_archiver.DefaultStrategyChain
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Scheduler{
		config:     config,
		ctx:        ctx,
		ctxCancel:  cancel,
		log:        zap.S().Named("scheduler"),
		queue:      newTaskQueue(),
		aggregator: progress.NewAggregator(),
		client:     config.Client,
		batches:    make(map[BatchID]*Batch),
	}
	if s.client == nil {
		s.client = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		}
	}
	for i := 0; i < config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	return s, nil
}

// Submit validates the descriptors, creates one task per asset and enqueues
// them in submission order. Tasks with a pre-known URL skip the resolving
// stage.
func (s *Scheduler) Submit(assets []course_archiver.AssetDescriptor) (*Batch, error) {
	for i := range assets {
		if err := assets[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid asset descriptor: %w", err)
		}
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSchedulerClosed
	}
	b := newBatch(s, assets)
	s.batches[b.ID] = b
	s.mu.Unlock()

	for _, t := range b.tasks {
		s.aggregator.Track(string(t.ID), t.Asset.ID, t.Asset.ExpectedSize)
		if t.URL() != "" {
			// A pre-resolved task goes straight into the admission queue.
			s.transition(t, course_archiver.TaskStateQueued)
		}
		s.queue.push(t)
	}
	s.log.Infow("batch submitted", "batch_id", b.ID, "tasks", len(b.tasks))
	return b, nil
}

// GetBatch returns the batch handle for an ID, or nil.
func (s *Scheduler) GetBatch(id BatchID) *Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches[id]
}

// Progress returns the scheduler-wide aggregate snapshot.
func (s *Scheduler) Progress() progress.Snapshot {
	return s.aggregator.Snapshot()
}

// Subscribe delivers incremental progress updates; delivery is
// fire-and-forget and never blocks a transfer worker.
func (s *Scheduler) Subscribe() (<-chan progress.Update, func()) {
	return s.aggregator.Subscribe()
}

// Close stops the workers, cancelling all in-flight batches, and waits for
// them to wind down. Partial files and manifest entries are left intact.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.ctxCancel()
	s.wg.Wait()
	// Finalize anything still queued so batch waiters are released.
	for _, t := range s.queue.drain() {
		s.cancelTask(t)
	}
	s.aggregator.Close()
}

// emit publishes a state transition to the aggregator.
func (s *Scheduler) emit(t *Task, from, to course_archiver.TaskState, bytesDelta int64) {
	s.aggregator.Record(progress.Update{
		TaskID:     string(t.ID),
		AssetID:    t.Asset.ID,
		From:       from,
		To:         to,
		BytesDelta: bytesDelta,
	})
}

// transition moves a task to a new state, emitting the transition event.
func (s *Scheduler) transition(t *Task, to course_archiver.TaskState) {
	t.mu.Lock()
	from := t.state
	t.state = to
	t.mu.Unlock()
	s.emit(t, from, to, 0)
}

func (s *Scheduler) cancelTask(t *Task) {
	t.mu.Lock()
	if t.state.IsTerminal() {
		t.mu.Unlock()
		return
	}
	from := t.state
	t.state = course_archiver.TaskStateCancelled
	t.mu.Unlock()
	s.emit(t, from, course_archiver.TaskStateCancelled, 0)
	t.batch.taskFinished()
	s.log.Debugw("task cancelled", "task_id", t.ID, "asset_id", t.Asset.ID)
}

// requeueAfter pushes the task back onto the queue after a delay, unless its
// batch is cancelled first, in which case the task is finalized as Cancelled.
func (s *Scheduler) requeueAfter(t *Task, d time.Duration) {
	if d <= 0 {
		s.queue.push(t)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			s.queue.push(t)
		case <-t.batch.ctx.Done():
			s.cancelTask(t)
		}
	}()
}
