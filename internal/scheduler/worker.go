package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	course_archiver "github.com/coursearc/course-archiver"
	"github.com/coursearc/course-archiver/internal/history"
	"github.com/coursearc/course-archiver/internal/ratelimit"
	"github.com/coursearc/course-archiver/util"
	"go.uber.org/zap"
)

func (s *Scheduler) worker(n int) {
	defer s.wg.Done()
	log := s.log.Named("worker").With("worker", n)
	for {
		t, err := s.queue.pop(s.ctx)
		if err != nil {
			return
		}
		s.runTask(t, log)
	}
}

// runTask advances one task as far as it can on this worker: resolve if
// needed (then requeue, so admission stays FIFO-fair), otherwise admit,
// transfer and verify. Failures are classified and either requeued or made
// terminal.
func (s *Scheduler) runTask(t *Task, log *zap.SugaredLogger) {
	ctx := t.batch.ctx
	if ctx.Err() != nil {
		s.cancelTask(t)
		return
	}
	log = log.With("task_id", t.ID, "asset_id", t.Asset.ID)

	if t.URL() == "" {
		if err := s.resolve(ctx, t, log); err != nil {
			s.fail(t, err, log)
			return
		}
		// Resolved tasks re-enter the queue rather than hogging this slot,
		// preserving submission order for tasks that were already ready.
		s.transition(t, course_archiver.TaskStateQueued)
		s.queue.push(t)
		return
	}

	if done := s.skipExisting(t, log); done {
		return
	}

	t.mu.Lock()
	t.attempts++
	t.mu.Unlock()

	if err := s.transfer(ctx, t, log); err != nil {
		if ctx.Err() != nil {
			s.cancelTask(t)
			return
		}
		s.fail(t, err, log)
		return
	}

	if err := s.verify(ctx, t, log); err != nil {
		if ctx.Err() != nil {
			s.cancelTask(t)
			return
		}
		s.fail(t, err, log)
		return
	}

	s.transition(t, course_archiver.TaskStateCompleted)
	t.batch.taskFinished()
	log.Infow("download complete", "path", s.destPath(t))
}

// resolve runs the task's block content through the extraction chain.
func (s *Scheduler) resolve(ctx context.Context, t *Task, log *zap.SugaredLogger) error {
	s.transition(t, course_archiver.TaskStateResolving)
	if s.config.Blocks == nil {
		return &course_archiver.ExtractionError{
			Err: errors.New("no block fetcher configured"),
		}
	}
	block, err := s.config.Blocks.FetchBlock(ctx, t.Asset.BlockID)
	if err != nil {
		return &course_archiver.ExtractionError{
			Err: fmt.Errorf("failed to fetch block %v: %w", t.Asset.BlockID, err),
		}
	}
	result, err := s.config.Chain.Resolve(block)
	if err != nil {
		return err
	}
	t.setResolved(result.URLs)
	log.Infow("asset URL resolved",
		"strategy", result.StrategyName, "url", result.URLs[0], "candidates", len(result.URLs))
	return nil
}

// skipExisting completes the task without network traffic when the
// destination file already exists with the expected size (and checksum, when
// known).
func (s *Scheduler) skipExisting(t *Task, log *zap.SugaredLogger) bool {
	dest := s.destPath(t)
	info, err := os.Stat(dest)
	if err != nil {
		return false
	}
	if t.Asset.ExpectedSize > 0 && info.Size() != t.Asset.ExpectedSize {
		return false
	}
	if t.Asset.Checksum != "" {
		checksum, err := course_archiver.ParseChecksum(t.Asset.Checksum)
		if err != nil || checksum.VerifyFile(dest) != nil {
			return false
		}
	}
	s.transition(t, course_archiver.TaskStateVerifying)
	s.transition(t, course_archiver.TaskStateCompleted)
	t.batch.taskFinished()
	log.Infow("already downloaded", "path", dest)
	return true
}

// verify checks the finished temp file against the expected size and
// checksum, then atomically moves it into place and retires the manifest
// entry.
func (s *Scheduler) verify(ctx context.Context, t *Task, log *zap.SugaredLogger) error {
	s.transition(t, course_archiver.TaskStateVerifying)
	dest := s.destPath(t)
	part := partPath(dest)

	entry, err := s.config.Manifest.Get(t.Asset.ID)
	if err != nil {
		return &course_archiver.DiskError{Path: part, Err: err}
	}
	info, err := os.Stat(part)
	if err != nil {
		return &course_archiver.DiskError{Path: part, Err: err}
	}
	expected := t.Asset.ExpectedSize
	if expected == 0 && entry != nil {
		expected = entry.ExpectedSize
	}
	if expected > 0 && info.Size() != expected {
		return fmt.Errorf("size mismatch for %v: want %d bytes, have %d", t.Asset.ID, expected, info.Size())
	}
	if t.Asset.Checksum != "" {
		checksum, err := course_archiver.ParseChecksum(t.Asset.Checksum)
		if err != nil {
			return err
		}
		if err := checksum.VerifyFile(part); err != nil {
			var checksumErr *course_archiver.ChecksumError
			if errors.As(err, &checksumErr) {
				// The bytes on disk are wrong; a retry must start over.
				if entry != nil {
					if resetErr := s.config.Manifest.Reset(entry, part); resetErr != nil {
						log.Errorw("failed to reset manifest entry", "error", resetErr)
					}
				}
			}
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return &course_archiver.DiskError{Path: dest, Err: err}
	}
	if err := os.Rename(part, dest); err != nil {
		return &course_archiver.DiskError{Path: dest, Err: err}
	}
	if err := s.config.Manifest.Delete(t.Asset.ID); err != nil {
		log.Errorw("failed to retire manifest entry", "error", err)
	}
	if s.config.History != nil {
		record := &history.Record{
			AssetID:  t.Asset.ID,
			URL:      t.URL(),
			Path:     dest,
			Size:     info.Size(),
			Checksum: t.Asset.Checksum,
		}
		if err := s.config.History.Add(ctx, record); err != nil {
			log.Warnw("failed to record download history", "error", err)
		}
	}
	return nil
}

// fail classifies an error as retryable or terminal. Retryable failures
// re-enter the queue after a short delay (backoff proper happens at
// admission), up to the attempt ceiling. Checksum mismatches are retryable
// until the ceiling; extraction and disk failures never are.
func (s *Scheduler) fail(t *Task, err error, log *zap.SugaredLogger) {
	t.mu.Lock()
	t.lastErr = err
	attempts := t.attempts
	from := t.state
	t.mu.Unlock()

	var checksumErr *course_archiver.ChecksumError
	retryable := course_archiver.Retryable(err) || errors.As(err, &checksumErr)
	if errors.Is(err, ratelimit.ErrCircuitOpen) {
		// Not the asset's fault; retry without consuming an attempt.
		t.mu.Lock()
		t.attempts--
		t.mu.Unlock()
		s.setState(t, course_archiver.TaskStateQueued)
		s.emit(t, from, course_archiver.TaskStateQueued, 0)
		s.requeueAfter(t, s.config.RetryRequeueDelay)
		log.Debugw("host circuit open, task requeued", "error", err)
		return
	}

	var httpErr *course_archiver.HTTPError
	if errors.As(err, &httpErr) && !httpErr.Retryable() && t.nextCandidate() {
		// A dead link may have a live fallback from the same extraction.
		s.setState(t, course_archiver.TaskStateQueued)
		s.emit(t, from, course_archiver.TaskStateQueued, 0)
		s.queue.push(t)
		log.Infow("candidate URL failed, trying next", "error", err, "url", t.URL())
		return
	}

	if retryable && attempts < s.config.MaxAttempts {
		s.setState(t, course_archiver.TaskStateQueued)
		s.emit(t, from, course_archiver.TaskStateQueued, 0)
		s.requeueAfter(t, s.config.RetryRequeueDelay)
		log.Warnw("task failed, will retry",
			"error", err, "attempts", attempts, "max_attempts", s.config.MaxAttempts)
		return
	}

	s.setState(t, course_archiver.TaskStateFailed)
	s.emit(t, from, course_archiver.TaskStateFailed, 0)
	t.batch.taskFinished()
	log.Errorw("task failed permanently",
		"error", err, "kind", course_archiver.KindOf(err), "attempts", attempts)
}

func (s *Scheduler) setState(t *Task, state course_archiver.TaskState) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
}

func (s *Scheduler) destPath(t *Task) string {
	target := t.Asset.TargetPath
	if target == "" {
		if filename, err := util.FilenameFromURLString(t.URL()); err == nil {
			target = filename
		} else {
			target = util.SanitizeFilename(t.Asset.ID)
		}
	}
	return filepath.Join(s.config.TargetDir, filepath.FromSlash(target))
}

func partPath(dest string) string {
	return dest + ".part"
}
