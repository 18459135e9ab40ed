package cloud

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"

	"github.com/photosync-io/photosync/pkg/layout"
	"github.com/photosync-io/photosync/pkg/models"
)

// HasChunk reports whether the chunk file exists for the tenant.
func (s *Store) HasChunk(t Tenant, chunkID string) bool {
	path, err := layout.SecureJoin(s.layout.TenantChunksDir(t.Key), chunkID)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// PutChunk streams body into the tenant chunk directory, verifying that
// its SHA-256 matches chunkID. Returns the stored size.
//
// Chunks are immutable and content-addressed: if the file appears while
// we were writing (a concurrent upload of the same chunk), the first
// writer wins and the temp is discarded. The index insert is
// INSERT OR IGNORE, so replays are no-ops there too.
func (s *Store) PutChunk(ctx context.Context, t Tenant, chunkID string, body io.Reader) (int64, error) {
	if !ValidChunkID(chunkID) {
		return 0, ErrInvalidChunkID
	}

	dir := s.layout.TenantChunksDir(t.Key)
	finalPath, err := layout.SecureJoin(dir, chunkID)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(dir, "."+chunkID+".*.uploading")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), body)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, err
	}

	if hex.EncodeToString(hasher.Sum(nil)) != chunkID {
		os.Remove(tmpPath)
		return 0, ErrChunkHashMismatch
	}

	if _, err := os.Stat(finalPath); err == nil {
		// Lost the race against an identical upload; content is equal.
		os.Remove(tmpPath)
	} else if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}

	if err := s.db.InsertChunk(ctx, t.UserID, chunkID, size); err != nil {
		return 0, err
	}
	return size, nil
}

// VerifyStoredChunk re-hashes an uploaded temp file that was written by
// the multipart storage path, then moves it into place under its id.
// The converged semantics are identical to PutChunk.
func (s *Store) VerifyStoredChunk(ctx context.Context, t Tenant, chunkID, tmpPath string) (int64, error) {
	f, err := os.Open(tmpPath)
	if err != nil {
		return 0, err
	}
	size, err := s.PutChunk(ctx, t, chunkID, f)
	f.Close()
	os.Remove(tmpPath)
	return size, err
}

// OpenChunk resolves and opens a chunk for download.
func (s *Store) OpenChunk(t Tenant, chunkID string) (*os.File, os.FileInfo, error) {
	if !ValidChunkID(chunkID) {
		return nil, nil, ErrInvalidChunkID
	}
	path, err := layout.SecureJoin(s.layout.TenantChunksDir(t.Key), chunkID)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, models.ErrChunkNotFound
		}
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}
