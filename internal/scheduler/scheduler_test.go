package scheduler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	course_archiver "github.com/coursearc/course-archiver"
	"github.com/coursearc/course-archiver/internal/manifest"
	"github.com/coursearc/course-archiver/internal/ratelimit"
)

// fakeOrigin is an HTTP origin with byte-range support, instrumented to
// record every request it serves.
type fakeOrigin struct {
	body        []byte
	etag        string
	ignoreRange bool
	failStatus  int
	failCount   int
	delay       time.Duration

	mu          sync.Mutex
	heads       int
	gets        []getRecord
	inFlight    int
	maxInFlight int
}

type getRecord struct {
	path       string
	rangeValue string
}

func (o *fakeOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	if r.Method == http.MethodHead {
		o.heads++
		o.mu.Unlock()
		w.Header().Set("Content-Length", strconv.Itoa(len(o.body)))
		w.WriteHeader(http.StatusOK)
		return
	}
	o.gets = append(o.gets, getRecord{path: r.URL.Path, rangeValue: r.Header.Get("Range")})
	o.inFlight++
	if o.inFlight > o.maxInFlight {
		o.maxInFlight = o.inFlight
	}
	fail := o.failCount > 0
	if fail {
		o.failCount--
	}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.inFlight--
		o.mu.Unlock()
	}()

	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	if fail {
		if o.failStatus == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "0")
		}
		w.WriteHeader(o.failStatus)
		return
	}
	if o.etag != "" {
		w.Header().Set("ETag", o.etag)
	}
	start, end, ok := parseRangeHeader(r.Header.Get("Range"), int64(len(o.body)))
	if o.ignoreRange || !ok {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(o.body)
		return
	}
	if start >= int64(len(o.body)) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", len(o.body)))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(o.body)))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(o.body[start : end+1])
}

func parseRangeHeader(value string, size int64) (int64, int64, bool) {
	var start, end int64
	if _, err := fmt.Sscanf(value, "bytes=%d-%d", &start, &end); err != nil {
		return 0, 0, false
	}
	if end >= size {
		end = size - 1
	}
	return start, end, true
}

func (o *fakeOrigin) getCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.gets)
}

func (o *fakeOrigin) rangeValues() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	values := make([]string, len(o.gets))
	for i, g := range o.gets {
		values[i] = g.rangeValue
	}
	return values
}

func (o *fakeOrigin) pathRequested(path string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, g := range o.gets {
		if g.path == path {
			return true
		}
	}
	return false
}

func randomBody(n int) []byte {
	body := make([]byte, n)
	rand.New(rand.NewSource(42)).Read(body)
	return body
}

func sumOf(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func testRateConfig() ratelimit.Config {
	return ratelimit.Config{
		MinInterval: time.Millisecond,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func newTestScheduler(t *testing.T, config Config) *Scheduler {
	t.Helper()
	if config.TargetDir == "" {
		config.TargetDir = t.TempDir()
	}
	if config.Manifest == nil {
		store, err := manifest.Open(filepath.Join(t.TempDir(), "manifest.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		config.Manifest = store
	}
	if config.Rate == nil {
		config.Rate = ratelimit.New(testRateConfig())
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = 1024
	}
	if config.RetryRequeueDelay == 0 {
		config.RetryRequeueDelay = time.Millisecond
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 5 * time.Second
	}
	s, err := New(config, context.Background())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func waitOutcomes(t *testing.T, b *Batch) []Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	outcomes, err := b.Wait(ctx)
	require.NoError(t, err)
	return outcomes
}

func TestDownloadCompletes(t *testing.T) {
	body := randomBody(4096)
	origin := &fakeOrigin{body: body, etag: `"v1"`}
	server := httptest.NewServer(origin)
	defer server.Close()

	target := t.TempDir()
	s := newTestScheduler(t, Config{TargetDir: target, Workers: 1, ChunkSize: 1024})
	batch, err := s.Submit([]course_archiver.AssetDescriptor{{
		ID:           "asset-1",
		URL:          server.URL + "/v.bin",
		ExpectedSize: int64(len(body)),
		Checksum:     sumOf(body),
		TargetPath:   "v.bin",
	}})
	require.NoError(t, err)

	outcomes := waitOutcomes(t, batch)
	require.Len(t, outcomes, 1)
	assert.Equal(t, course_archiver.TaskStateCompleted, outcomes[0].State)
	assert.NoError(t, outcomes[0].Err)

	got, err := os.ReadFile(filepath.Join(target, "v.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(body, got))

	// One request per chunk, each anchored at the confirmed offset.
	assert.Equal(t, []string{
		"bytes=0-1023", "bytes=1024-2047", "bytes=2048-3071", "bytes=3072-4095",
	}, origin.rangeValues())

	snap := batch.Progress()
	assert.Equal(t, 1, snap.TotalTasks)
	assert.Equal(t, 1, snap.Completed)
	assert.EqualValues(t, len(body), snap.BytesDone)

	// The ledger entry and the partial file are both retired.
	_, err = os.Stat(filepath.Join(target, "v.bin.part"))
	assert.True(t, os.IsNotExist(err))
	entry, err := s.config.Manifest.Get("asset-1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestResumeNeverRefetchesConfirmedBytes(t *testing.T) {
	body := randomBody(4096)
	origin := &fakeOrigin{body: body, etag: `"v1"`}
	server := httptest.NewServer(origin)
	defer server.Close()

	target := t.TempDir()
	dest := filepath.Join(target, "v.bin")
	require.NoError(t, os.WriteFile(partPath(dest), body[:2048], 0644))

	store, err := manifest.Open(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Put(&manifest.Entry{
		AssetID:      "asset-1",
		TargetPath:   dest,
		BytesWritten: 2048,
		ExpectedSize: int64(len(body)),
		ETag:         `"v1"`,
	}))

	s := newTestScheduler(t, Config{TargetDir: target, Workers: 1, ChunkSize: 1024, Manifest: store})
	batch, err := s.Submit([]course_archiver.AssetDescriptor{{
		ID:           "asset-1",
		URL:          server.URL + "/v.bin",
		ExpectedSize: int64(len(body)),
		Checksum:     sumOf(body),
		TargetPath:   "v.bin",
	}})
	require.NoError(t, err)

	outcomes := waitOutcomes(t, batch)
	assert.Equal(t, course_archiver.TaskStateCompleted, outcomes[0].State)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(body, got))
	assert.Equal(t, []string{"bytes=2048-3071", "bytes=3072-4095"}, origin.rangeValues())
}

func TestIgnoredRangeRestartsFromZero(t *testing.T) {
	body := randomBody(2048)
	origin := &fakeOrigin{body: body, ignoreRange: true}
	server := httptest.NewServer(origin)
	defer server.Close()

	target := t.TempDir()
	dest := filepath.Join(target, "v.bin")
	require.NoError(t, os.WriteFile(partPath(dest), body[:1024], 0644))

	store, err := manifest.Open(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Put(&manifest.Entry{
		AssetID:      "asset-1",
		TargetPath:   dest,
		BytesWritten: 1024,
		ExpectedSize: int64(len(body)),
	}))

	s := newTestScheduler(t, Config{TargetDir: target, Workers: 1, ChunkSize: 1024, Manifest: store})
	batch, err := s.Submit([]course_archiver.AssetDescriptor{{
		ID:           "asset-1",
		URL:          server.URL + "/v.bin",
		ExpectedSize: int64(len(body)),
		Checksum:     sumOf(body),
		TargetPath:   "v.bin",
	}})
	require.NoError(t, err)

	outcomes := waitOutcomes(t, batch)
	assert.Equal(t, course_archiver.TaskStateCompleted, outcomes[0].State)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(body, got), "resumed range against full content must not corrupt the file")
}

func TestValidatorChangeRestartsFromZero(t *testing.T) {
	body := randomBody(2048)
	origin := &fakeOrigin{body: body, etag: `"v2"`}
	server := httptest.NewServer(origin)
	defer server.Close()

	target := t.TempDir()
	dest := filepath.Join(target, "v.bin")
	// Stale partial content from a previous version of the resource.
	require.NoError(t, os.WriteFile(partPath(dest), make([]byte, 1024), 0644))

	store, err := manifest.Open(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Put(&manifest.Entry{
		AssetID:      "asset-1",
		TargetPath:   dest,
		BytesWritten: 1024,
		ExpectedSize: int64(len(body)),
		ETag:         `"v1"`,
	}))

	s := newTestScheduler(t, Config{TargetDir: target, Workers: 1, ChunkSize: 1024, Manifest: store})
	batch, err := s.Submit([]course_archiver.AssetDescriptor{{
		ID:           "asset-1",
		URL:          server.URL + "/v.bin",
		ExpectedSize: int64(len(body)),
		Checksum:     sumOf(body),
		TargetPath:   "v.bin",
	}})
	require.NoError(t, err)

	outcomes := waitOutcomes(t, batch)
	assert.Equal(t, course_archiver.TaskStateCompleted, outcomes[0].State)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(body, got))
	assert.Contains(t, origin.rangeValues(), "bytes=0-1023", "restart must refetch from the beginning")
}

func TestConcurrencyCap(t *testing.T) {
	body := randomBody(512)
	origin := &fakeOrigin{body: body, delay: 20 * time.Millisecond}
	server := httptest.NewServer(origin)
	defer server.Close()

	s := newTestScheduler(t, Config{Workers: 2, ChunkSize: 1024})
	assets := make([]course_archiver.AssetDescriptor, 6)
	for i := range assets {
		assets[i] = course_archiver.AssetDescriptor{
			ID:           fmt.Sprintf("asset-%d", i),
			URL:          fmt.Sprintf("%s/v%d.bin", server.URL, i),
			ExpectedSize: int64(len(body)),
			TargetPath:   fmt.Sprintf("v%d.bin", i),
		}
	}
	batch, err := s.Submit(assets)
	require.NoError(t, err)

	outcomes := waitOutcomes(t, batch)
	for _, o := range outcomes {
		assert.Equal(t, course_archiver.TaskStateCompleted, o.State)
	}
	origin.mu.Lock()
	defer origin.mu.Unlock()
	assert.LessOrEqual(t, origin.maxInFlight, 2)
}

func TestCancelLeavesResumableState(t *testing.T) {
	body := randomBody(8192)
	origin := &fakeOrigin{body: body, delay: 30 * time.Millisecond}
	server := httptest.NewServer(origin)
	defer server.Close()

	target := t.TempDir()
	s := newTestScheduler(t, Config{TargetDir: target, Workers: 1, ChunkSize: 1024})
	updates, unsubscribe := s.Subscribe()
	defer unsubscribe()

	assets := []course_archiver.AssetDescriptor{
		{ID: "asset-a", URL: server.URL + "/a.bin", ExpectedSize: int64(len(body)), TargetPath: "a.bin"},
		{ID: "asset-b", URL: server.URL + "/b.bin", ExpectedSize: int64(len(body)), TargetPath: "b.bin"},
		{ID: "asset-c", URL: server.URL + "/c.bin", ExpectedSize: int64(len(body)), TargetPath: "c.bin"},
	}
	batch, err := s.Submit(assets)
	require.NoError(t, err)

	// Cancel once the first task has confirmed bytes on disk.
	deadline := time.After(10 * time.Second)
waitProgress:
	for {
		select {
		case update := <-updates:
			if update.BytesDelta > 0 {
				break waitProgress
			}
		case <-deadline:
			t.Fatal("no transfer progress observed")
		}
	}
	batch.Cancel()
	outcomes := waitOutcomes(t, batch)

	byAsset := make(map[string]Outcome, len(outcomes))
	for _, o := range outcomes {
		byAsset[o.AssetID] = o
	}
	assert.Equal(t, course_archiver.TaskStateCancelled, byAsset["asset-b"].State)
	assert.Equal(t, course_archiver.TaskStateCancelled, byAsset["asset-c"].State)
	assert.False(t, origin.pathRequested("/b.bin"), "queued tasks must not start transferring after cancel")
	assert.False(t, origin.pathRequested("/c.bin"))

	// The in-flight task kept its partial file, consistent with the ledger.
	entry, err := s.config.Manifest.Get("asset-a")
	require.NoError(t, err)
	require.NotNil(t, entry)
	info, err := os.Stat(filepath.Join(target, "a.bin.part"))
	require.NoError(t, err)
	assert.Equal(t, entry.BytesWritten, info.Size())
	assert.Greater(t, entry.BytesWritten, int64(0))
	assert.Less(t, entry.BytesWritten, int64(len(body)))
}

func TestTransientFailuresRetry(t *testing.T) {
	body := randomBody(2048)
	origin := &fakeOrigin{body: body, failStatus: http.StatusInternalServerError, failCount: 2}
	server := httptest.NewServer(origin)
	defer server.Close()

	target := t.TempDir()
	s := newTestScheduler(t, Config{TargetDir: target, Workers: 1, ChunkSize: 1024, MaxAttempts: 5})
	batch, err := s.Submit([]course_archiver.AssetDescriptor{{
		ID:           "asset-1",
		URL:          server.URL + "/v.bin",
		ExpectedSize: int64(len(body)),
		Checksum:     sumOf(body),
		TargetPath:   "v.bin",
	}})
	require.NoError(t, err)

	outcomes := waitOutcomes(t, batch)
	assert.Equal(t, course_archiver.TaskStateCompleted, outcomes[0].State)
	got, err := os.ReadFile(filepath.Join(target, "v.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(body, got))
	assert.Equal(t, 3, batch.Tasks()[0].Attempts)
}

func TestRateLimitedRequestRetries(t *testing.T) {
	body := randomBody(1024)
	origin := &fakeOrigin{body: body, failStatus: http.StatusTooManyRequests, failCount: 1}
	server := httptest.NewServer(origin)
	defer server.Close()

	s := newTestScheduler(t, Config{Workers: 1, ChunkSize: 1024, MaxAttempts: 5})
	batch, err := s.Submit([]course_archiver.AssetDescriptor{{
		ID:           "asset-1",
		URL:          server.URL + "/v.bin",
		ExpectedSize: int64(len(body)),
		TargetPath:   "v.bin",
	}})
	require.NoError(t, err)

	outcomes := waitOutcomes(t, batch)
	assert.Equal(t, course_archiver.TaskStateCompleted, outcomes[0].State)
	assert.Equal(t, 2, origin.getCount())
}

func TestFatalHTTPStatusFailsWithoutRetry(t *testing.T) {
	origin := &fakeOrigin{body: randomBody(128), failStatus: http.StatusNotFound, failCount: 100}
	server := httptest.NewServer(origin)
	defer server.Close()

	s := newTestScheduler(t, Config{Workers: 1, MaxAttempts: 5})
	batch, err := s.Submit([]course_archiver.AssetDescriptor{{
		ID:           "asset-1",
		URL:          server.URL + "/gone.bin",
		ExpectedSize: 128,
		TargetPath:   "gone.bin",
	}})
	require.NoError(t, err)

	outcomes := waitOutcomes(t, batch)
	assert.Equal(t, course_archiver.TaskStateFailed, outcomes[0].State)
	assert.Equal(t, course_archiver.FailureHTTP, outcomes[0].Kind)
	assert.Equal(t, 1, origin.getCount())
	assert.True(t, batch.AllFailed())
}

func TestChecksumMismatchFailsAfterRetries(t *testing.T) {
	body := randomBody(1024)
	origin := &fakeOrigin{body: body}
	server := httptest.NewServer(origin)
	defer server.Close()

	target := t.TempDir()
	s := newTestScheduler(t, Config{TargetDir: target, Workers: 1, ChunkSize: 1024, MaxAttempts: 2})
	batch, err := s.Submit([]course_archiver.AssetDescriptor{{
		ID:           "asset-1",
		URL:          server.URL + "/v.bin",
		ExpectedSize: int64(len(body)),
		Checksum:     sumOf([]byte("different content")),
		TargetPath:   "v.bin",
	}})
	require.NoError(t, err)

	outcomes := waitOutcomes(t, batch)
	assert.Equal(t, course_archiver.TaskStateFailed, outcomes[0].State)
	assert.Equal(t, course_archiver.FailureChecksum, outcomes[0].Kind)
	assert.Equal(t, 2, batch.Tasks()[0].Attempts)

	// The corrupt bytes were never promoted to the destination.
	_, err = os.Stat(filepath.Join(target, "v.bin"))
	assert.True(t, os.IsNotExist(err))
}

func TestSkipExistingMakesNoRequests(t *testing.T) {
	body := randomBody(512)
	origin := &fakeOrigin{body: body}
	server := httptest.NewServer(origin)
	defer server.Close()

	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "v.bin"), body, 0644))

	s := newTestScheduler(t, Config{TargetDir: target, Workers: 1})
	batch, err := s.Submit([]course_archiver.AssetDescriptor{{
		ID:           "asset-1",
		URL:          server.URL + "/v.bin",
		ExpectedSize: int64(len(body)),
		Checksum:     sumOf(body),
		TargetPath:   "v.bin",
	}})
	require.NoError(t, err)

	outcomes := waitOutcomes(t, batch)
	assert.Equal(t, course_archiver.TaskStateCompleted, outcomes[0].State)
	assert.Zero(t, origin.getCount())
}

func TestProbesUnknownSize(t *testing.T) {
	body := randomBody(3000)
	origin := &fakeOrigin{body: body}
	server := httptest.NewServer(origin)
	defer server.Close()

	target := t.TempDir()
	s := newTestScheduler(t, Config{TargetDir: target, Workers: 1, ChunkSize: 1024})
	batch, err := s.Submit([]course_archiver.AssetDescriptor{{
		ID:         "asset-1",
		URL:        server.URL + "/v.bin",
		TargetPath: "v.bin",
	}})
	require.NoError(t, err)

	outcomes := waitOutcomes(t, batch)
	assert.Equal(t, course_archiver.TaskStateCompleted, outcomes[0].State)

	got, err := os.ReadFile(filepath.Join(target, "v.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(body, got))

	origin.mu.Lock()
	heads := origin.heads
	origin.mu.Unlock()
	assert.Equal(t, 1, heads)
	assert.EqualValues(t, len(body), s.Progress().BytesExpected)
}

type stubBlockFetcher struct {
	blocks map[string]*course_archiver.BlockContent
}

func (f *stubBlockFetcher) FetchBlock(_ context.Context, blockID string) (*course_archiver.BlockContent, error) {
	block, ok := f.blocks[blockID]
	if !ok {
		return nil, fmt.Errorf("no such block %v", blockID)
	}
	return block, nil
}

func staticChain(t *testing.T, urls ...string) *course_archiver.StrategyChain {
	t.Helper()
	var chain course_archiver.StrategyChain
	require.NoError(t, chain.Create("static", func(*course_archiver.BlockContent) (course_archiver.ExtractionResult, error) {
		return course_archiver.ExtractionResult{URLs: urls}, nil
	}))
	return &chain
}

func TestResolveThenTransfer(t *testing.T) {
	body := randomBody(1024)
	origin := &fakeOrigin{body: body}
	server := httptest.NewServer(origin)
	defer server.Close()

	target := t.TempDir()
	s := newTestScheduler(t, Config{
		TargetDir: target,
		Workers:   1,
		ChunkSize: 1024,
		Chain:     staticChain(t, server.URL+"/resolved.bin"),
		Blocks: &stubBlockFetcher{blocks: map[string]*course_archiver.BlockContent{
			"block-7": {BlockID: "block-7"},
		}},
	})
	batch, err := s.Submit([]course_archiver.AssetDescriptor{{
		ID:           "asset-1",
		BlockID:      "block-7",
		ExpectedSize: int64(len(body)),
		TargetPath:   "resolved.bin",
	}})
	require.NoError(t, err)

	outcomes := waitOutcomes(t, batch)
	assert.Equal(t, course_archiver.TaskStateCompleted, outcomes[0].State)
	assert.Equal(t, server.URL+"/resolved.bin", batch.Tasks()[0].URL)
}

func TestCandidateFallback(t *testing.T) {
	body := randomBody(1024)
	origin := &fakeOrigin{body: body}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/dead.bin" {
			origin.mu.Lock()
			origin.gets = append(origin.gets, getRecord{path: r.URL.Path})
			origin.mu.Unlock()
			w.WriteHeader(http.StatusNotFound)
			return
		}
		origin.ServeHTTP(w, r)
	}))
	defer server.Close()

	target := t.TempDir()
	s := newTestScheduler(t, Config{
		TargetDir: target,
		Workers:   1,
		ChunkSize: 1024,
		Chain:     staticChain(t, server.URL+"/dead.bin", server.URL+"/live.bin"),
		Blocks: &stubBlockFetcher{blocks: map[string]*course_archiver.BlockContent{
			"block-7": {BlockID: "block-7"},
		}},
	})
	batch, err := s.Submit([]course_archiver.AssetDescriptor{{
		ID:           "asset-1",
		BlockID:      "block-7",
		ExpectedSize: int64(len(body)),
		TargetPath:   "v.bin",
	}})
	require.NoError(t, err)

	outcomes := waitOutcomes(t, batch)
	assert.Equal(t, course_archiver.TaskStateCompleted, outcomes[0].State)
	assert.True(t, origin.pathRequested("/dead.bin"))
	assert.True(t, origin.pathRequested("/live.bin"))
}

func TestExtractionFailureIsTerminal(t *testing.T) {
	origin := &fakeOrigin{body: randomBody(128)}
	server := httptest.NewServer(origin)
	defer server.Close()

	var emptyChain course_archiver.StrategyChain
	s := newTestScheduler(t, Config{
		Workers: 1,
		Chain:   &emptyChain,
		Blocks: &stubBlockFetcher{blocks: map[string]*course_archiver.BlockContent{
			"block-7": {BlockID: "block-7"},
		}},
	})
	batch, err := s.Submit([]course_archiver.AssetDescriptor{{ID: "asset-1", BlockID: "block-7"}})
	require.NoError(t, err)

	outcomes := waitOutcomes(t, batch)
	assert.Equal(t, course_archiver.TaskStateFailed, outcomes[0].State)
	assert.Equal(t, course_archiver.FailureExtraction, outcomes[0].Kind)
	assert.Zero(t, origin.getCount())
}

func TestSubmitValidatesDescriptors(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1})
	_, err := s.Submit([]course_archiver.AssetDescriptor{{ID: "asset-1"}})
	assert.ErrorIs(t, err, course_archiver.ErrMissingSource)
}

func TestSubmitAfterClose(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1})
	s.Close()
	_, err := s.Submit(nil)
	assert.ErrorIs(t, err, ErrSchedulerClosed)
}

func TestEmptyBatchCompletesImmediately(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1})
	batch, err := s.Submit(nil)
	require.NoError(t, err)
	outcomes := waitOutcomes(t, batch)
	assert.Empty(t, outcomes)
	assert.False(t, batch.AllFailed())
}

func TestNewRequiresManifest(t *testing.T) {
	_, err := New(Config{}, context.Background())
	assert.ErrorIs(t, err, ErrNoManifest)
}
