package scheduler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	course_archiver "github.com/coursearc/course-archiver"
	"github.com/coursearc/course-archiver/internal/manifest"
	"github.com/coursearc/course-archiver/internal/ratelimit"
	"github.com/coursearc/course-archiver/util"
	"go.uber.org/zap"
)

// transfer performs the chunked, resumable fetch of one asset. Every request
// is admitted by the rate controller first; every flushed chunk updates the
// manifest before the next range is requested, so a crash loses at most one
// in-flight chunk.
func (s *Scheduler) transfer(ctx context.Context, t *Task, log *zap.SugaredLogger) error {
	host, err := util.Host(t.URL())
	if err != nil {
		return &course_archiver.HTTPError{Code: 0, Status: fmt.Sprintf("unusable URL %q", t.URL())}
	}

	if err := s.config.Rate.Admit(ctx, host); err != nil {
		return err
	}
	s.transition(t, course_archiver.TaskStateTransferring)

	dest := s.destPath(t)
	part := partPath(dest)
	if err := os.MkdirAll(filepath.Dir(part), 0755); err != nil {
		return &course_archiver.DiskError{Path: part, Err: err}
	}

	entry, err := s.config.Manifest.Get(t.Asset.ID)
	if err != nil {
		return &course_archiver.DiskError{Path: part, Err: err}
	}
	if entry == nil {
		entry = &manifest.Entry{
			AssetID:      t.Asset.ID,
			TargetPath:   dest,
			ExpectedSize: t.Asset.ExpectedSize,
			Checksum:     t.Asset.Checksum,
		}
		if err := s.config.Manifest.Put(entry); err != nil {
			return &course_archiver.DiskError{Path: part, Err: err}
		}
	}
	offset, err := s.config.Manifest.Reconcile(entry, part)
	if err != nil {
		return &course_archiver.DiskError{Path: part, Err: err}
	}
	if offset > 0 {
		log.Infow("resuming transfer", "offset", offset)
	}

	// Probe the total size when neither the descriptor nor a previous run
	// knows it.
	if entry.ExpectedSize == 0 {
		size, err := s.probeSize(ctx, t, host)
		if err != nil {
			return err
		}
		if size > 0 {
			entry.ExpectedSize = size
			if err := s.config.Manifest.Put(entry); err != nil {
				return &course_archiver.DiskError{Path: part, Err: err}
			}
			s.aggregator.SetExpected(string(t.ID), size)
		}
	}

	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return &course_archiver.DiskError{Path: part, Err: err}
	}
	defer f.Close()

	for entry.ExpectedSize == 0 || offset < entry.ExpectedSize {
		// Chunk boundary: observe cancellation before the next request.
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.config.Rate.Admit(ctx, host); err != nil {
			return err
		}
		n, last, err := s.fetchChunk(ctx, t, host, entry, f, offset)
		if err != nil {
			return err
		}
		offset += n
		entry.BytesWritten = offset
		if err := s.config.Manifest.Put(entry); err != nil {
			return &course_archiver.DiskError{Path: part, Err: err}
		}
		s.emit(t, course_archiver.TaskStateTransferring, course_archiver.TaskStateTransferring, n)
		if n == 0 && !last {
			return fmt.Errorf("no progress transferring %v at offset %d", t.Asset.ID, offset)
		}
		if last {
			break
		}
	}
	return nil
}

// fetchChunk requests one byte range anchored at offset, appends it to the
// partial file and fsyncs. Returns the byte count and whether this was the
// final chunk. A validator change or an ignored range request restarts the
// transfer from zero via ErrResourceChanged.
func (s *Scheduler) fetchChunk(ctx context.Context, t *Task, host string, entry *manifest.Entry, f *os.File, offset int64) (int64, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, t.URL(), nil)
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	end := offset + s.config.ChunkSize - 1
	if entry.ExpectedSize > 0 && end >= entry.ExpectedSize {
		end = entry.ExpectedSize - 1
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, end))

	resp, err := s.client.Do(req)
	if err != nil {
		s.config.Rate.Report(host, ratelimit.Transient())
		return 0, false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		// Expected; fall through.
	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			// The server ignored the range request; a resumed range against
			// full content would corrupt the file.
			s.config.Rate.Report(host, ratelimit.Success())
			return 0, false, s.restartFromZero(t, entry, f)
		}
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		s.config.Rate.Report(host, ratelimit.Success())
		if total := totalFromContentRange(resp.Header.Get("Content-Range")); total > 0 && offset >= total {
			entry.ExpectedSize = total
			return 0, true, nil
		}
		return 0, false, s.restartFromZero(t, entry, f)
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		s.config.Rate.Report(host, ratelimit.RateLimited(retryAfter))
		return 0, false, &course_archiver.RateLimitError{RetryAfter: retryAfter}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout:
		s.config.Rate.Report(host, ratelimit.Transient())
		return 0, false, &course_archiver.HTTPError{Code: resp.StatusCode, Status: resp.Status}
	default:
		s.config.Rate.Report(host, ratelimit.Permanent())
		return 0, false, &course_archiver.HTTPError{Code: resp.StatusCode, Status: resp.Status}
	}

	etag := resp.Header.Get("ETag")
	lastModified := resp.Header.Get("Last-Modified")
	if offset > 0 && validatorChanged(entry, etag, lastModified) {
		s.config.Rate.Report(host, ratelimit.Success())
		return 0, false, s.restartFromZero(t, entry, f)
	}
	if entry.ETag == "" && entry.LastModified == "" && (etag != "" || lastModified != "") {
		entry.ETag = etag
		entry.LastModified = lastModified
	}
	if total := totalFromContentRange(resp.Header.Get("Content-Range")); total > 0 && entry.ExpectedSize == 0 {
		entry.ExpectedSize = total
		s.aggregator.SetExpected(string(t.ID), total)
	}

	// The in-flight chunk is written and flushed in full even if
	// cancellation arrives meanwhile; the caller observes cancellation at
	// the next chunk boundary.
	n, err := io.Copy(f, resp.Body)
	if err != nil && n == 0 {
		s.config.Rate.Report(host, ratelimit.Transient())
		return 0, false, err
	}
	if syncErr := f.Sync(); syncErr != nil {
		return 0, false, &course_archiver.DiskError{Path: f.Name(), Err: syncErr}
	}
	if err != nil {
		// Partial body: keep what was flushed, let the caller retry the rest.
		s.config.Rate.Report(host, ratelimit.Transient())
		return n, false, nil
	}
	s.config.Rate.Report(host, ratelimit.Success())

	last := false
	if entry.ExpectedSize > 0 {
		last = offset+n >= entry.ExpectedSize
	} else {
		// Unknown total and a short read means the resource is exhausted.
		last = resp.StatusCode == http.StatusOK || n < s.config.ChunkSize
	}
	return n, last, nil
}

// restartFromZero invalidates the partial download (truncate file, reset
// manifest entry) and reports ErrResourceChanged so the task retries from a
// clean slate.
func (s *Scheduler) restartFromZero(t *Task, entry *manifest.Entry, f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return &course_archiver.DiskError{Path: f.Name(), Err: err}
	}
	entry.BytesWritten = 0
	entry.ETag = ""
	entry.LastModified = ""
	if err := s.config.Manifest.Put(entry); err != nil {
		return &course_archiver.DiskError{Path: f.Name(), Err: err}
	}
	return course_archiver.ErrResourceChanged
}

// probeSize asks the server for the content length: HEAD first, then a
// one-byte ranged GET parsing Content-Range for servers that reject HEAD.
func (s *Scheduler) probeSize(ctx context.Context, t *Task, host string) (int64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, t.URL(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	if resp, err := s.client.Do(req); err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK && resp.ContentLength > 0 {
			s.config.Rate.Report(host, ratelimit.Success())
			return resp.ContentLength, nil
		}
	}

	if err := s.config.Rate.Admit(ctx, host); err != nil {
		return 0, err
	}
	reqCtx2, cancel2 := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel2()
	req, err = http.NewRequestWithContext(reqCtx2, http.MethodGet, t.URL(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("Range", "bytes=0-0")
	resp, err := s.client.Do(req)
	if err != nil {
		s.config.Rate.Report(host, ratelimit.Transient())
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	s.config.Rate.Report(host, ratelimit.Success())
	if resp.StatusCode == http.StatusPartialContent {
		return totalFromContentRange(resp.Header.Get("Content-Range")), nil
	}
	// Size stays unknown; the transfer loop copes.
	return 0, nil
}

// totalFromContentRange parses the total out of "bytes a-b/total", returning
// 0 for absent or indeterminate ("*") totals.
func totalFromContentRange(value string) int64 {
	i := strings.LastIndexByte(value, '/')
	if i < 0 {
		return 0
	}
	total, err := strconv.ParseInt(value[i+1:], 10, 64)
	if err != nil || total < 0 {
		return 0
	}
	return total
}

// parseRetryAfter handles the delay-seconds form of the header; the HTTP-date
// form is rare enough on rate limiters to ignore.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// validatorChanged compares stored validators against the response's,
// considering only validators both sides know.
func validatorChanged(entry *manifest.Entry, etag, lastModified string) bool {
	if entry.ETag != "" && etag != "" {
		return entry.ETag != etag
	}
	if entry.LastModified != "" && lastModified != "" {
		return entry.LastModified != lastModified
	}
	return false
}
