package store

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/photosync-io/photosync/pkg/models"
)

// InsertChunk records a stored ciphertext chunk. Chunks are
// content-addressed, so a duplicate insert is ignored rather than failed;
// the first writer wins at both the filesystem and index layers.
func (s *Store) InsertChunk(ctx context.Context, userID uint, chunkID string, size int64) error {
	chunk := &models.CloudChunk{
		UserID:    userID,
		ChunkID:   chunkID,
		Size:      size,
		CreatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(chunk).Error
}

// UpsertChunk inserts or updates a chunk row with the on-disk size.
// Used by the reconciler, which treats the filesystem as authoritative.
func (s *Store) UpsertChunk(ctx context.Context, userID uint, chunkID string, size int64) error {
	chunk := &models.CloudChunk{
		UserID:    userID,
		ChunkID:   chunkID,
		Size:      size,
		CreatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "chunk_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"size"}),
	}).Create(chunk).Error
}

// SumChunkSizes returns the total stored ciphertext bytes for a user.
func (s *Store) SumChunkSizes(ctx context.Context, userID uint) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&models.CloudChunk{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(size), 0)").
		Scan(&total).Error
	return total, err
}

// ListChunkIDs returns every indexed chunk id for a user.
func (s *Store) ListChunkIDs(ctx context.Context, userID uint) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.CloudChunk{}).
		Where("user_id = ?", userID).
		Pluck("chunk_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteChunksNotIn removes rows whose chunk id was not seen on disk.
// An empty seen set clears the whole index for the user.
func (s *Store) DeleteChunksNotIn(ctx context.Context, userID uint, seen []string) (int64, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if len(seen) > 0 {
		q = q.Where("chunk_id NOT IN ?", seen)
	}
	res := q.Delete(&models.CloudChunk{})
	return res.RowsAffected, res.Error
}

// DeleteAllChunks removes every chunk row for a user and returns the count.
func (s *Store) DeleteAllChunks(ctx context.Context, userID uint) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.CloudChunk{})
	return res.RowsAffected, res.Error
}
