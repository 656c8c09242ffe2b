// Package manifest is the durable ledger of partial-download progress. One
// JSON record per asset id in a bbolt bucket; records are updated atomically
// and survive process restarts, so a restarted transfer never re-fetches
// confirmed bytes.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"
)

var buckets = struct {
	Metadata []byte
	Assets   []byte
}{
	Metadata: []byte("__metadata__"),
	Assets:   []byte("assets"),
}

var metadataKeys = struct {
	Version []byte
}{
	Version: []byte("version"),
}

const currentVersion = 1

// An Entry is the persisted transfer progress of one asset. BytesWritten only
// counts bytes confirmed flushed to the partial file; the invariant is that
// the partial file holds exactly BytesWritten bytes before any further write
// is appended (Reconcile restores it after an unclean shutdown).
type Entry struct {
	AssetID    string `json:"asset_id"`
	TargetPath string `json:"target_path"`
	// BytesWritten <= ExpectedSize whenever ExpectedSize is known (> 0).
	BytesWritten int64  `json:"bytes_written"`
	ExpectedSize int64  `json:"expected_size,omitempty"`
	Checksum     string `json:"checksum,omitempty"`
	// ETag and LastModified are the remote resource's validators as of the
	// first byte downloaded; a change invalidates the partial file.
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		metadata, err := tx.CreateBucketIfNotExists(buckets.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(buckets.Assets); err != nil {
			return err
		}
		var version int
		if versionBytes := metadata.Get(metadataKeys.Version); versionBytes != nil {
			if err := json.Unmarshal(versionBytes, &version); err != nil {
				return err
			}
		}
		if versionBytes, err := json.Marshal(currentVersion); err != nil {
			return err
		} else {
			return metadata.Put(metadataKeys.Version, versionBytes)
		}
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the entry for the asset id, or (nil, nil) if there is none.
func (s *Store) Get(assetID string) (*Entry, error) {
	var entry *Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(buckets.Assets).Get([]byte(assetID))
		if data == nil {
			return nil
		}
		entry = &Entry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Put writes the entry, replacing any previous record for the same asset id.
// The bbolt transaction makes the single-record update atomic with respect to
// other records and to crashes.
func (s *Store) Put(entry *Entry) error {
	entry.UpdatedAt = time.Now()
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(buckets.Assets).Put([]byte(entry.AssetID), data)
	})
}

func (s *Store) Delete(assetID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(buckets.Assets).Delete([]byte(assetID))
	})
}

func (s *Store) List() ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(buckets.Assets).ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Reconcile restores the invariant between an entry and its partial file
// after an unclean shutdown, truncating to the smaller of the recorded byte
// count and the file's actual size. Returns the reconciled offset from which
// the transfer may resume.
func (s *Store) Reconcile(entry *Entry, partPath string) (int64, error) {
	info, err := os.Stat(partPath)
	switch {
	case os.IsNotExist(err):
		if entry.BytesWritten != 0 {
			entry.BytesWritten = 0
			if err := s.Put(entry); err != nil {
				return 0, err
			}
		}
		return 0, nil
	case err != nil:
		return 0, err
	}
	size := info.Size()
	switch {
	case size > entry.BytesWritten:
		// Crash after write but before the manifest update: the unconfirmed
		// tail is discarded.
		if err := os.Truncate(partPath, entry.BytesWritten); err != nil {
			return 0, err
		}
	case size < entry.BytesWritten:
		// Manifest ran ahead of the file (should not happen, but recoverable).
		entry.BytesWritten = size
		if err := s.Put(entry); err != nil {
			return 0, err
		}
	}
	return entry.BytesWritten, nil
}

// Reset discards all progress for the entry: the partial file is truncated to
// zero and the record's byte count and validators are cleared. Used when the
// remote resource changed under a partial download.
func (s *Store) Reset(entry *Entry, partPath string) error {
	if err := os.Truncate(partPath, 0); err != nil && !os.IsNotExist(err) {
		return err
	}
	entry.BytesWritten = 0
	entry.ETag = ""
	entry.LastModified = ""
	return s.Put(entry)
}
