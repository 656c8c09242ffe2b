// Package history is the archive of completed downloads, kept in a sqlite
// database so repeated runs over the same course can report what was already
// fetched.
package history

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"moul.io/zapgorm2"
)

type Record struct {
	ID          uint   `gorm:"primarykey"`
	AssetID     string `gorm:"index"`
	URL         string
	Path        string
	Size        int64
	Checksum    string
	CompletedAt time.Time
}

type Store struct {
	db *gorm.DB
}

func Open(path string, logger *zap.Logger) (*Store, error) {
	gormLogger := zapgorm2.New(logger.Named("history"))
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	return &Store{db}, nil
}

func (s *Store) Add(ctx context.Context, record *Record) error {
	if record.CompletedAt.IsZero() {
		record.CompletedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(record).Error
}

// List returns up to limit records, most recent first (limit <= 0 for all).
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	q := s.db.WithContext(ctx).Order("completed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
