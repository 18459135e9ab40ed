// Package store persists users, devices, subscription plans and the
// file/chunk indexes in SQLite via GORM.
//
// SQLite runs in WAL mode with a 5 s busy timeout; one writer at a time,
// many readers. The chunk index is secondary to the filesystem tree and
// is realigned by the reconciler worker.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/photosync-io/photosync/pkg/models"
)

// Config contains database configuration.
type Config struct {
	// Path is the SQLite database file, or ":memory:" for tests.
	Path string
}

// Store implements persistence on top of GORM.
type Store struct {
	db *gorm.DB
}

// New opens the database and runs auto-migration.
func New(config Config) (*Store, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if config.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// journal_mode(WAL): concurrent readers with a single writer.
	// synchronous(NORMAL): fsync on checkpoint, not on every commit.
	// busy_timeout(5000): wait up to 5 seconds when the database is locked.
	dsn := config.Path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	return &Store{db: db}, nil
}

// DB returns the underlying GORM handle. Useful for advanced queries and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isUniqueConstraintError checks if the error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// convertNotFoundError converts gorm.ErrRecordNotFound to the domain error.
func convertNotFoundError(err error, notFoundErr error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundErr
	}
	return err
}
