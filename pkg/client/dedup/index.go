// Package dedup decides whether a local file is already backed up. The
// decision runs a fixed sequence of checks against an index built from
// the account's decrypted manifests; every client must run the same
// sequence or devices disagree about what to skip.
package dedup

import (
	"strings"
	"sync"
	"time"

	"github.com/photosync-io/photosync/internal/logger"
	"github.com/photosync-io/photosync/pkg/client/manifest"
	"github.com/photosync-io/photosync/pkg/client/phash"
)

// Reasons recorded when a check hits, in check order.
const (
	ReasonManifestID      = "manifest_id"
	ReasonFilename        = "filename"
	ReasonBaseName        = "base_name"
	ReasonBaseNameCapture = "base_name_capture_time"
	ReasonExifFull        = "exif_time_make_model"
	ReasonExifModel       = "exif_time_model"
	ReasonExifMake        = "exif_time_make"
	ReasonBaseNameSize    = "base_name_size"
	ReasonBaseNameDate    = "base_name_capture_date"
	ReasonPerceptualHash  = "perceptual_hash"
	ReasonFileHash        = "file_hash"
)

// DefaultHammingThreshold is the strictest distance at which two
// dHashes are still considered the same photo.
const DefaultHammingThreshold = 3

// sizeTolerance is the relative size window for the re-compression
// check.
const sizeTolerance = 0.20

// Candidate describes a local file about to be uploaded.
type Candidate struct {
	Filename       string
	Size           int64
	CaptureTime    time.Time
	ExifMake       string
	ExifModel      string
	FileHash       string
	PerceptualHash string
	IsImage        bool
}

// Decision is the outcome of a dedup check run.
type Decision struct {
	Duplicate bool
	Reason    string
}

// Index holds the dedup sets for one account. Safe for concurrent use;
// the upload pool records finished files while others are checked.
type Index struct {
	mu sync.Mutex

	threshold int

	manifestIDs  map[string]bool
	filenames    map[string]bool
	baseNames    map[string]bool
	baseCaptures map[string]bool
	exifKeys     map[string]bool
	baseSizes    map[string][]int64
	baseDates    map[string]bool
	phashes      []string
	fileHashes   map[string]bool
}

// NewIndex creates an empty index with the default fuzzy threshold.
func NewIndex() *Index {
	return &Index{
		threshold:    DefaultHammingThreshold,
		manifestIDs:  make(map[string]bool),
		filenames:    make(map[string]bool),
		baseNames:    make(map[string]bool),
		baseCaptures: make(map[string]bool),
		exifKeys:     make(map[string]bool),
		baseSizes:    make(map[string][]int64),
		baseDates:    make(map[string]bool),
		fileHashes:   make(map[string]bool),
	}
}

// SetHammingThreshold overrides the perceptual-hash match distance.
func (ix *Index) SetHammingThreshold(d int) {
	ix.mu.Lock()
	ix.threshold = d
	ix.mu.Unlock()
}

// AddRecord indexes one decrypted manifest.
func (ix *Index) AddRecord(id string, rec *manifest.Record) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.manifestIDs[id] = true
	name := NormalizeFilename(rec.Filename)
	base := BaseName(rec.Filename)
	ix.filenames[name] = true
	ix.baseNames[base] = true
	ix.baseSizes[base] = append(ix.baseSizes[base], rec.OriginalSize)

	capture := recordCaptureTime(rec)
	if !capture.IsZero() {
		ix.baseCaptures[base+"|"+captureSecond(capture)] = true
		ix.baseDates[base+"|"+captureDay(capture)] = true
		for _, key := range exifKeys(capture, rec.ExifMake, rec.ExifModel) {
			ix.exifKeys[key] = true
		}
	}
	if rec.PerceptualHash != "" {
		ix.phashes = append(ix.phashes, rec.PerceptualHash)
	}
	if rec.FileHash != "" {
		ix.fileHashes[rec.FileHash] = true
	}
}

// AddCandidate records a just-uploaded file so later files in the same
// run dedup against it.
func (ix *Index) AddCandidate(manifestID string, c *Candidate) {
	ix.AddRecord(manifestID, &manifest.Record{
		Filename:        c.Filename,
		OriginalSize:    c.Size,
		ExifCaptureTime: c.CaptureTime.UnixMilli(),
		ExifMake:        c.ExifMake,
		ExifModel:       c.ExifModel,
		FileHash:        c.FileHash,
		PerceptualHash:  c.PerceptualHash,
	})
}

// Check runs the decision sequence. The first hit wins and its reason
// is recorded in the result.
func (ix *Index) Check(c *Candidate) *Decision {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	name := NormalizeFilename(c.Filename)
	base := BaseName(c.Filename)

	if ix.manifestIDs[manifest.StableID(c.Filename, c.Size)] {
		return &Decision{Duplicate: true, Reason: ReasonManifestID}
	}
	if ix.filenames[name] {
		return &Decision{Duplicate: true, Reason: ReasonFilename}
	}
	if ix.baseNames[base] {
		return &Decision{Duplicate: true, Reason: ReasonBaseName}
	}
	if !c.CaptureTime.IsZero() {
		if ix.baseCaptures[base+"|"+captureSecond(c.CaptureTime)] {
			return &Decision{Duplicate: true, Reason: ReasonBaseNameCapture}
		}
		keys := exifKeys(c.CaptureTime, c.ExifMake, c.ExifModel)
		reasons := []string{ReasonExifFull, ReasonExifModel, ReasonExifMake}
		for i, key := range keys {
			if key != "" && ix.exifKeys[key] {
				return &Decision{Duplicate: true, Reason: reasons[i]}
			}
		}
	}
	for _, size := range ix.baseSizes[base] {
		if withinTolerance(c.Size, size) {
			return &Decision{Duplicate: true, Reason: ReasonBaseNameSize}
		}
	}
	if !c.CaptureTime.IsZero() && ix.baseDates[base+"|"+captureDay(c.CaptureTime)] {
		return &Decision{Duplicate: true, Reason: ReasonBaseNameDate}
	}
	if c.IsImage && c.PerceptualHash != "" {
		for _, known := range ix.phashes {
			d, err := phash.Distance(c.PerceptualHash, known)
			if err != nil {
				logger.Debug("skipping malformed perceptual hash", "hash", known)
				continue
			}
			if d <= ix.threshold {
				return &Decision{Duplicate: true, Reason: ReasonPerceptualHash}
			}
		}
	}
	if c.FileHash != "" && ix.fileHashes[c.FileHash] {
		return &Decision{Duplicate: true, Reason: ReasonFileHash}
	}

	return &Decision{}
}

func recordCaptureTime(rec *manifest.Record) time.Time {
	switch {
	case rec.ExifCaptureTime > 0:
		return time.UnixMilli(rec.ExifCaptureTime)
	case rec.CreationTime > 0:
		return time.UnixMilli(rec.CreationTime)
	}
	return time.Time{}
}

// captureSecond renders a timestamp at second precision in UTC so every
// platform derives the same key.
func captureSecond(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05")
}

func captureDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// exifKeys returns the three camera keys in priority order. Entries for
// missing make or model are empty and skipped by the caller.
func exifKeys(t time.Time, camMake, camModel string) [3]string {
	ts := captureSecond(t)
	camMake = strings.ToLower(strings.TrimSpace(camMake))
	camModel = strings.ToLower(strings.TrimSpace(camModel))

	// Distinct prefixes keep the model-only and make-only keys from
	// colliding when a make string equals another camera's model.
	var keys [3]string
	if camMake != "" && camModel != "" {
		keys[0] = "tmm|" + ts + "|" + camMake + "|" + camModel
	}
	if camModel != "" {
		keys[1] = "tm|" + ts + "|" + camModel
	}
	if camMake != "" {
		keys[2] = "tk|" + ts + "|" + camMake
	}
	return keys
}

func withinTolerance(a, b int64) bool {
	if b == 0 {
		return a == 0
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) <= sizeTolerance*float64(b)
}
