// Package classic implements the per-device plaintext object store.
//
// Objects live at uploads/<device_uuid>/<filename>. The server
// deduplicates by filename and by plaintext SHA-256; the DB row exists
// iff the object exists on disk.
package classic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/photosync-io/photosync/internal/logger"
	"github.com/photosync-io/photosync/pkg/layout"
	"github.com/photosync-io/photosync/pkg/models"
	"github.com/photosync-io/photosync/pkg/store"
)

// ErrInvalidFilename is returned for empty names, dot names and dotfiles.
var ErrInvalidFilename = errors.New("invalid filename")

// Store is the classic object store for one data layout.
type Store struct {
	db     *store.Store
	layout *layout.Layout
}

// New creates the classic store.
func New(db *store.Store, l *layout.Layout) *Store {
	return &Store{db: db, layout: l}
}

// UploadResult reports the outcome of an upload.
type UploadResult struct {
	Duplicate bool   `json:"duplicate"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size,omitempty"`
	FileHash  string `json:"-"`
}

// Entry is one listed object.
type Entry struct {
	Filename     string `json:"filename"`
	Size         int64  `json:"size"`
	ModifiedTime int64  `json:"modified_time"`
}

// SaveUpload streams body into the device directory while hashing, then
// applies dedup. Multipart and raw uploads converge here so both paths
// give identical skip decisions.
//
// The stream goes into a renameio pending file; any error or a
// duplicate hit discards it and only a clean upload is renamed into
// place.
func (s *Store) SaveUpload(ctx context.Context, userID uint, deviceUUID, filename, mime string, body io.Reader) (*UploadResult, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) || strings.HasPrefix(filename, ".") {
		return nil, ErrInvalidFilename
	}

	dir := s.layout.DeviceUploadDir(deviceUUID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	finalPath, err := layout.SecureJoin(dir, filename)
	if err != nil {
		return nil, err
	}

	pending, err := renameio.NewPendingFile(finalPath, renameio.WithPermissions(0o644))
	if err != nil {
		return nil, err
	}
	defer pending.Cleanup()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(pending, hasher), body)
	if err != nil {
		return nil, err
	}
	fileHash := hex.EncodeToString(hasher.Sum(nil))

	result, err := s.admit(ctx, userID, dir, filename, fileHash)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return nil, err
	}
	if err := s.db.SaveFile(ctx, userID, filename, mime, size, fileHash); err != nil {
		return nil, err
	}

	return &UploadResult{Filename: filename, Size: size, FileHash: fileHash}, nil
}

// admit runs the dedup lookup. It returns a non-nil duplicate result when
// the upload should be dropped, or nil to continue. Stale index rows
// (file missing on disk) are repaired in place.
func (s *Store) admit(ctx context.Context, userID uint, dir, filename, fileHash string) (*UploadResult, error) {
	for _, existing := range s.lookupCandidates(ctx, userID, filename, fileHash) {
		path, err := layout.SecureJoin(dir, existing.Filename)
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr == nil {
			return &UploadResult{Duplicate: true, Filename: existing.Filename}, nil
		}
		// Row without a file: repair and keep going.
		if err := s.db.DeleteFileRow(ctx, userID, existing.Filename); err != nil {
			logger.WarnCtx(ctx, "failed to delete stale file row",
				"filename", existing.Filename, "error", err)
		}
	}
	return nil, nil
}

func (s *Store) lookupCandidates(ctx context.Context, userID uint, filename, fileHash string) []*models.File {
	var out []*models.File
	if f, err := s.db.GetFileByName(ctx, userID, filename); err == nil {
		out = append(out, f)
	}
	if f, err := s.db.GetFileByHash(ctx, userID, fileHash); err == nil {
		if len(out) == 0 || out[0].Filename != f.Filename {
			out = append(out, f)
		}
	}
	return out
}

// List reads the device directory, skipping dotfiles; renameio's
// in-flight temps are dot-prefixed so they never show up here.
// Sort is lexicographic on filename; offset/limit paginate.
func (s *Store) List(ctx context.Context, deviceUUID string, offset, limit int) ([]Entry, int, error) {
	dir := s.layout.DeviceUploadDir(deviceUUID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Entry{}, 0, nil
		}
		return nil, 0, err
	}

	var files []Entry
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, Entry{
			Filename:     name,
			Size:         info.Size(),
			ModifiedTime: info.ModTime().UnixMilli(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })

	total := len(files)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return files[offset:end], total, nil
}

// Open resolves and opens an object for download. The prefix check gates
// against traversal via the requested name.
func (s *Store) Open(deviceUUID, filename string) (*os.File, os.FileInfo, error) {
	dir := s.layout.DeviceUploadDir(deviceUUID)
	path, err := layout.SecureJoin(dir, filename)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, models.ErrFileNotFound
		}
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, models.ErrFileNotFound
	}
	return f, info, nil
}

// Purge removes the device directory and every index row for the user.
// Returns the number of objects removed from disk.
func (s *Store) Purge(ctx context.Context, userID uint, deviceUUID string) (int, error) {
	dir := s.layout.DeviceUploadDir(deviceUUID)

	removed := 0
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				removed++
			}
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, err
	}
	if _, err := s.db.DeleteAllFiles(ctx, userID); err != nil {
		return removed, err
	}
	return removed, nil
}
