package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundtrip(t *testing.T) {
	s := newTestStore(t)

	entry, err := s.Get("asset-1")
	require.NoError(t, err)
	assert.Nil(t, entry, "absent asset yields nil entry")

	in := &Entry{
		AssetID:      "asset-1",
		TargetPath:   "week1/intro.mp4",
		BytesWritten: 1024,
		ExpectedSize: 4096,
		ETag:         `"abc123"`,
	}
	require.NoError(t, s.Put(in))
	assert.False(t, in.UpdatedAt.IsZero())

	out, err := s.Get("asset-1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.BytesWritten, out.BytesWritten)
	assert.Equal(t, in.ETag, out.ETag)

	entries, err := s.List()
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, s.Delete("asset-1"))
	out, err = s.Get("asset-1")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(&Entry{AssetID: "asset-1", BytesWritten: 42}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	entry, err := s.Get("asset-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.EqualValues(t, 42, entry.BytesWritten)
}

func TestReconcileTruncatesUnconfirmedTail(t *testing.T) {
	s := newTestStore(t)
	part := filepath.Join(t.TempDir(), "v.mp4.part")
	require.NoError(t, os.WriteFile(part, make([]byte, 100), 0644))

	entry := &Entry{AssetID: "asset-1", BytesWritten: 60}
	require.NoError(t, s.Put(entry))

	offset, err := s.Reconcile(entry, part)
	require.NoError(t, err)
	assert.EqualValues(t, 60, offset)

	info, err := os.Stat(part)
	require.NoError(t, err)
	assert.EqualValues(t, 60, info.Size())
}

func TestReconcileLowersRecordToFileSize(t *testing.T) {
	s := newTestStore(t)
	part := filepath.Join(t.TempDir(), "v.mp4.part")
	require.NoError(t, os.WriteFile(part, make([]byte, 30), 0644))

	entry := &Entry{AssetID: "asset-1", BytesWritten: 60}
	require.NoError(t, s.Put(entry))

	offset, err := s.Reconcile(entry, part)
	require.NoError(t, err)
	assert.EqualValues(t, 30, offset)

	stored, err := s.Get("asset-1")
	require.NoError(t, err)
	assert.EqualValues(t, 30, stored.BytesWritten)
}

func TestReconcileMissingFile(t *testing.T) {
	s := newTestStore(t)
	entry := &Entry{AssetID: "asset-1", BytesWritten: 60}
	require.NoError(t, s.Put(entry))

	offset, err := s.Reconcile(entry, filepath.Join(t.TempDir(), "gone.part"))
	require.NoError(t, err)
	assert.Zero(t, offset)

	stored, err := s.Get("asset-1")
	require.NoError(t, err)
	assert.Zero(t, stored.BytesWritten)
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	part := filepath.Join(t.TempDir(), "v.mp4.part")
	require.NoError(t, os.WriteFile(part, make([]byte, 100), 0644))

	entry := &Entry{AssetID: "asset-1", BytesWritten: 100, ETag: `"old"`, LastModified: "yesterday"}
	require.NoError(t, s.Put(entry))
	require.NoError(t, s.Reset(entry, part))

	info, err := os.Stat(part)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	stored, err := s.Get("asset-1")
	require.NoError(t, err)
	assert.Zero(t, stored.BytesWritten)
	assert.Empty(t, stored.ETag)
	assert.Empty(t, stored.LastModified)
}
