package course_archiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

var (
	// ErrResourceChanged indicates the remote resource's validator (etag or
	// last-modified) no longer matches the one recorded for a partial
	// download, so the partial file must be discarded before resuming.
	ErrResourceChanged = errors.New("remote resource changed since partial download")
)

// FailureKind names the category of a terminal task failure.
type FailureKind string

const (
	FailureExtraction      FailureKind = "extraction"
	FailureRateLimit       FailureKind = "rate_limit"
	FailureTransient       FailureKind = "transient"
	FailureResourceChanged FailureKind = "resource_changed"
	FailureChecksum        FailureKind = "checksum"
	FailureHTTP            FailureKind = "http"
	FailureDisk            FailureKind = "disk"
	FailureNone            FailureKind = ""
)

// An ExtractionError is returned by StrategyChain.Resolve when every strategy
// returned an empty result or failed internally.
type ExtractionError struct {
	// Attempted lists the names of the strategies that were tried, in order.
	Attempted []string
	// Err collects the internal errors of strategies that failed, if any.
	Err error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("all extraction strategies failed (attempted: %v)", strings.Join(e.Attempted, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// A RateLimitError is a rate-limit response from the remote server, carrying
// the server's retry-after hint when one was given (0 = no hint).
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded, retry after %v", e.RetryAfter)
	}
	return "rate limit exceeded"
}

// An HTTPError is a non-success HTTP status. 5xx and 408 are retryable;
// other 4xx statuses are fatal for the task.
type HTTPError struct {
	Code   int
	Status string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %v", e.Status)
}

func (e *HTTPError) Retryable() bool {
	return e.Code >= 500 || e.Code == 408
}

// A ChecksumError is a mismatch between the expected and computed digests of
// a completed transfer.
type ChecksumError struct {
	Want string
	Got  string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: want %v, got %v", e.Want, e.Got)
}

// A DiskError is a local filesystem failure; always fatal for the task.
type DiskError struct {
	Path string
	Err  error
}

func (e *DiskError) Error() string {
	return fmt.Sprintf("disk I/O error on %v: %v", e.Path, e.Err)
}

func (e *DiskError) Unwrap() error { return e.Err }

// Retryable reports whether a failed operation may be retried after backoff.
// Extraction failures, checksum mismatches and disk errors are decided
// elsewhere (checksum retries up to the attempt ceiling, the others never).
func Retryable(err error) bool {
	var httpErr *HTTPError
	var rateErr *RateLimitError
	var diskErr *DiskError
	var extractErr *ExtractionError
	var netErr net.Error
	switch {
	case err == nil:
		return false
	case errors.As(err, &rateErr):
		return true
	case errors.As(err, &httpErr):
		return httpErr.Retryable()
	case errors.As(err, &diskErr), errors.As(err, &extractErr):
		return false
	case errors.Is(err, ErrResourceChanged):
		return true
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled):
		return false
	case errors.As(err, &netErr):
		return true
	default:
		// Transport-level failures (connection reset, EOF mid-body, ...)
		// surface as opaque url.Error wrappings; treat them as transient.
		return true
	}
}

// KindOf maps an error to the failure kind reported in task outcomes.
func KindOf(err error) FailureKind {
	var httpErr *HTTPError
	var rateErr *RateLimitError
	var diskErr *DiskError
	var extractErr *ExtractionError
	var checksumErr *ChecksumError
	switch {
	case err == nil:
		return FailureNone
	case errors.As(err, &extractErr):
		return FailureExtraction
	case errors.As(err, &rateErr):
		return FailureRateLimit
	case errors.As(err, &checksumErr):
		return FailureChecksum
	case errors.As(err, &diskErr):
		return FailureDisk
	case errors.As(err, &httpErr):
		return FailureHTTP
	case errors.Is(err, ErrResourceChanged):
		return FailureResourceChanged
	default:
		return FailureTransient
	}
}
