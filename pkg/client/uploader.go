package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/photosync-io/photosync/internal/logger"
	"github.com/photosync-io/photosync/pkg/client/crypto"
	"github.com/photosync-io/photosync/pkg/client/dedup"
	"github.com/photosync-io/photosync/pkg/client/exifmeta"
	"github.com/photosync-io/photosync/pkg/client/manifest"
	"github.com/photosync-io/photosync/pkg/client/phash"
)

// Pool widths. Files and chunks are bounded separately so one huge
// video cannot starve the file pipeline, and index building fans out
// wider because manifest fetches are tiny.
const (
	fileWorkers  = 6
	chunkWorkers = 8
	fetchWorkers = 10
)

// Result reports what happened to one file.
type Result struct {
	Path       string
	ManifestID string
	Skipped    bool
	Reason     string
	Chunks     int
	Bytes      int64
}

// Uploader drives the dedup-then-upload pipeline for one account.
type Uploader struct {
	api    *API
	master [crypto.MasterKeySize]byte
	index  *dedup.Index
}

// NewUploader creates a pipeline bound to an authenticated API session.
func NewUploader(api *API, master [crypto.MasterKeySize]byte) *Uploader {
	return &Uploader{api: api, master: master, index: dedup.NewIndex()}
}

// Index exposes the dedup index, mainly for inspection after a run.
func (u *Uploader) Index() *dedup.Index { return u.index }

// BuildIndex downloads and decrypts every manifest on the server and
// seeds the dedup index. Manifests that fail to decrypt are skipped:
// they were written under other credentials and cannot be duplicates
// of anything this account uploads.
func (u *Uploader) BuildIndex(ctx context.Context) error {
	ids, err := u.api.ListManifestIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing manifests: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchWorkers)
	for _, id := range ids {
		g.Go(func() error {
			encrypted, err := u.api.FetchManifest(ctx, id)
			if err != nil {
				return err
			}
			sealed, err := manifest.Decode(encrypted)
			if err != nil {
				logger.Warn("skipping malformed manifest", "manifest_id", id, "error", err)
				return nil
			}
			rec, err := manifest.Open(&u.master, sealed)
			if err != nil {
				logger.Debug("skipping undecryptable manifest", "manifest_id", id)
				return nil
			}
			u.index.AddRecord(id, rec)
			return nil
		})
	}
	return g.Wait()
}

// UploadAll runs the pipeline over a set of files with bounded
// parallelism. The first hard error cancels the remaining files.
func (u *Uploader) UploadAll(ctx context.Context, paths []string) ([]*Result, error) {
	results := make([]*Result, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fileWorkers)
	for i, path := range paths {
		g.Go(func() error {
			res, err := u.UploadFile(ctx, path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// UploadFile dedup-checks one file and uploads it when it is new.
func (u *Uploader) UploadFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	candidate, meta, err := u.describe(f, info.Name(), info.Size())
	if err != nil {
		return nil, err
	}

	if decision := u.index.Check(candidate); decision.Duplicate {
		logger.Debug("skipping duplicate",
			"file", info.Name(), "reason", decision.Reason)
		return &Result{Path: path, Skipped: true, Reason: decision.Reason}, nil
	}

	manifestID, chunks, bytes, err := u.upload(ctx, f, candidate, meta)
	if err != nil {
		return nil, err
	}
	u.index.AddCandidate(manifestID, candidate)
	logger.Info("file uploaded",
		"file", info.Name(), "chunks", chunks, "bytes", bytes)

	return &Result{Path: path, ManifestID: manifestID, Chunks: chunks, Bytes: bytes}, nil
}

// describe computes the identity signals for the dedup checks: file
// hash, EXIF metadata, and for images a perceptual hash.
func (u *Uploader) describe(f *os.File, name string, size int64) (*dedup.Candidate, *exifmeta.Meta, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return nil, nil, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, nil, err
	}
	meta, err := exifmeta.Extract(name, f)
	if err != nil {
		return nil, nil, err
	}

	c := &dedup.Candidate{
		Filename:    name,
		Size:        size,
		CaptureTime: meta.CaptureTime,
		ExifMake:    meta.Make,
		ExifModel:   meta.Model,
		FileHash:    hex.EncodeToString(hasher.Sum(nil)),
		IsImage:     strings.HasPrefix(mediaType(name), "image/"),
	}

	// HEIC never gets a perceptual hash here; the stdlib cannot decode
	// the primary image and a wrong hash is worse than none.
	if c.IsImage && !exifmeta.IsHEIC(name) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, nil, err
		}
		if h, err := phash.DHash(f, meta.Orientation); err == nil {
			c.PerceptualHash = h
		}
	}
	return c, meta, nil
}

// upload encrypts the file, pushes chunks through the chunk pool, and
// finishes with the sealed manifest.
func (u *Uploader) upload(ctx context.Context, f *os.File, c *dedup.Candidate, meta *exifmeta.Meta) (string, int, int64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", 0, 0, err
	}
	secret, err := crypto.NewFileSecret()
	if err != nil {
		return "", 0, 0, err
	}

	var (
		chunkIDs   []string
		chunkSizes []int64
		total      int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(chunkWorkers)

	// The producer runs on this goroutine, so the ordered id and size
	// slices need no locking; only the uploads fan out.
	err = crypto.EncryptStream(secret, f, func(chunk *crypto.EncryptedChunk) error {
		chunkIDs = append(chunkIDs, chunk.ChunkID)
		chunkSizes = append(chunkSizes, int64(len(chunk.Ciphertext)))
		total += int64(len(chunk.Ciphertext))
		g.Go(func() error {
			return u.api.UploadChunk(gctx, chunk.ChunkID, chunk.Ciphertext)
		})
		return gctx.Err()
	})
	if werr := g.Wait(); err == nil {
		err = werr
	}
	if err != nil {
		return "", 0, 0, err
	}

	rec := &manifest.Record{
		AssetID:        c.FileHash,
		Filename:       c.Filename,
		MediaType:      mediaType(c.Filename),
		OriginalSize:   c.Size,
		BaseNonce:      secret.BaseNonce[:],
		ChunkIDs:       chunkIDs,
		ChunkSizes:     chunkSizes,
		FileHash:       c.FileHash,
		PerceptualHash: c.PerceptualHash,
	}
	if meta.HasCapture() {
		rec.ExifCaptureTime = meta.CaptureTime.UnixMilli()
	}
	rec.ExifMake = meta.Make
	rec.ExifModel = meta.Model

	wrapNonce, wrapped, err := crypto.WrapFileKey(&u.master, secret)
	if err != nil {
		return "", 0, 0, err
	}
	rec.WrapNonce = wrapNonce[:]
	rec.WrappedFileKey = wrapped

	sealed, err := manifest.Seal(&u.master, rec)
	if err != nil {
		return "", 0, 0, err
	}
	encoded, err := sealed.Encode()
	if err != nil {
		return "", 0, 0, err
	}

	manifestID := manifest.StableID(c.Filename, c.Size)
	if err := u.api.UploadManifest(ctx, manifestID, encoded, len(chunkIDs)); err != nil {
		return "", 0, 0, err
	}
	return manifestID, len(chunkIDs), total, nil
}

func mediaType(name string) string {
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); mt != "" {
		return mt
	}
	return "application/octet-stream"
}
