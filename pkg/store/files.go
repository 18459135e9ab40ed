package store

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/photosync-io/photosync/pkg/models"
)

// GetFileByName looks up a classic file row by basename.
func (s *Store) GetFileByName(ctx context.Context, userID uint, filename string) (*models.File, error) {
	var file models.File
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND filename = ?", userID, filename).
		First(&file).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrFileNotFound)
	}
	return &file, nil
}

// GetFileByHash looks up a classic file row by plaintext SHA-256.
func (s *Store) GetFileByHash(ctx context.Context, userID uint, fileHash string) (*models.File, error) {
	var file models.File
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND file_hash = ?", userID, fileHash).
		First(&file).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrFileNotFound)
	}
	return &file, nil
}

// SaveFile inserts or replaces the index row for a classic file.
func (s *Store) SaveFile(ctx context.Context, userID uint, filename, mime string, size int64, fileHash string) error {
	file := &models.File{
		UserID:    userID,
		Filename:  filename,
		Mime:      mime,
		Size:      size,
		FileHash:  fileHash,
		CreatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "filename"}},
		DoUpdates: clause.AssignmentColumns([]string{"mime", "size", "file_hash", "created_at"}),
	}).Create(file).Error
}

// DeleteFileRow removes a single stale index row.
func (s *Store) DeleteFileRow(ctx context.Context, userID uint, filename string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND filename = ?", userID, filename).
		Delete(&models.File{}).Error
}

// DeleteAllFiles removes every classic file row for a user and returns the count.
func (s *Store) DeleteAllFiles(ctx context.Context, userID uint) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.File{})
	return res.RowsAffected, res.Error
}
