package dedup

import (
	"testing"
	"time"

	"github.com/photosync-io/photosync/pkg/client/manifest"
)

func TestBaseName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"IMG_0001.jpg", "img_0001"},
		{"photo (2).jpg", "photo"},
		{"photo(3).jpg", "photo"},
		{"photo - copy.jpg", "photo"},
		{"photo - copy (2).jpg", "photo"},
		{"photo (copy).jpg", "photo"},
		{"photo_copy2.jpg", "photo"},
		{"vacation~1.jpg", "vacation"},
		{"sunset-edited.jpg", "sunset"},
		{"sunset-collage.jpg", "sunset"},
		{"IMG_1234_burst3.jpg", "img_1234"},
		{"shot.jpg.bak", "shot"},
		{"shot_backup.jpg", "shot"},
		{"shot-backup.jpg", "shot"},
		{"shot_original.jpg", "shot"},
		{"IMG_0007_1_105_c.jpg", "img_0007"},
		{"IMG_20240115_142233_1.jpg", "img_20240115"},
		// Stacked decorations collapse in one call.
		{"photo - copy (2) (3).jpg", "photo"},
		{"plain.png", "plain"},
	}
	for _, tt := range tests {
		if got := BaseName(tt.name); got != tt.want {
			t.Errorf("BaseName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func indexWith(t *testing.T, recs ...*manifest.Record) *Index {
	t.Helper()
	ix := NewIndex()
	for _, rec := range recs {
		ix.AddRecord(manifest.StableID(rec.Filename, rec.OriginalSize), rec)
	}
	return ix
}

func TestCheckOrderAndReasons(t *testing.T) {
	capture := time.Date(2024, 1, 15, 14, 22, 33, 0, time.UTC)
	ix := indexWith(t, &manifest.Record{
		Filename:        "IMG_0001.jpg",
		OriginalSize:    1_000_000,
		ExifCaptureTime: capture.UnixMilli(),
		ExifMake:        "Apple",
		ExifModel:       "iPhone 15",
		FileHash:        "aaaa",
		PerceptualHash:  "0f0f0f0f0f0f0f0f",
	})

	tests := []struct {
		name string
		c    Candidate
		dup  bool
		why  string
	}{
		{
			name: "stable id hit",
			c:    Candidate{Filename: "img_0001.JPG", Size: 1_000_000},
			dup:  true, why: ReasonManifestID,
		},
		{
			name: "exact filename, different size",
			c:    Candidate{Filename: "IMG_0001.jpg", Size: 5},
			dup:  true, why: ReasonFilename,
		},
		{
			name: "copy suffix resolves to same base",
			c:    Candidate{Filename: "photo (2).jpg", Size: 5},
			dup:  false,
		},
		{
			name: "base name variant",
			c:    Candidate{Filename: "IMG_0001 (2).jpg", Size: 999},
			dup:  true, why: ReasonBaseName,
		},
		{
			name: "exif full key, new name",
			c: Candidate{
				Filename: "export-zzz.jpg", Size: 999,
				CaptureTime: capture, ExifMake: "apple", ExifModel: "IPHONE 15",
			},
			dup: true, why: ReasonExifFull,
		},
		{
			name: "exif model only",
			c: Candidate{
				Filename: "export-zzz.jpg", Size: 999,
				CaptureTime: capture, ExifModel: "iPhone 15",
			},
			dup: true, why: ReasonExifModel,
		},
		{
			name: "exif make only",
			c: Candidate{
				Filename: "export-zzz.jpg", Size: 999,
				CaptureTime: capture, ExifMake: "Apple",
			},
			dup: true, why: ReasonExifMake,
		},
		{
			name: "same capture second, wrong camera",
			c: Candidate{
				Filename: "export-zzz.jpg", Size: 999,
				CaptureTime: capture, ExifMake: "Canon", ExifModel: "R5",
			},
			dup: false,
		},
		{
			name: "near perceptual hash",
			c: Candidate{
				Filename: "recompressed.jpg", Size: 999,
				IsImage: true, PerceptualHash: "0f0f0f0f0f0f0f0e",
			},
			dup: true, why: ReasonPerceptualHash,
		},
		{
			name: "distant perceptual hash",
			c: Candidate{
				Filename: "other.jpg", Size: 999,
				IsImage: true, PerceptualHash: "f0f0f0f0f0f0f0f0",
			},
			dup: false,
		},
		{
			name: "exact file hash",
			c:    Candidate{Filename: "reshared.jpg", Size: 999, FileHash: "aaaa"},
			dup:  true, why: ReasonFileHash,
		},
		{
			name: "genuinely new file",
			c:    Candidate{Filename: "new.jpg", Size: 999, FileHash: "bbbb"},
			dup:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ix.Check(&tt.c)
			if got.Duplicate != tt.dup {
				t.Fatalf("Duplicate = %v, want %v (reason %q)", got.Duplicate, tt.dup, got.Reason)
			}
			if tt.dup && got.Reason != tt.why {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.why)
			}
		})
	}
}

func TestBaseNameCaptureAndSizeChecks(t *testing.T) {
	capture := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	ix := indexWith(t, &manifest.Record{
		Filename:        "IMG_5000.heic",
		OriginalSize:    2_000_000,
		ExifCaptureTime: capture.UnixMilli(),
	})

	// Same base with the jpg extension, exact capture second.
	got := ix.Check(&Candidate{
		Filename: "IMG_5000.jpg", Size: 3_500_000, CaptureTime: capture,
	})
	if !got.Duplicate || got.Reason != ReasonBaseNameCapture {
		t.Errorf("decision = %+v, want base+capture hit", got)
	}

	// Same base, size within 20 percent.
	got = ix.Check(&Candidate{Filename: "IMG_5000.jpg", Size: 2_300_000})
	if !got.Duplicate || got.Reason != ReasonBaseNameSize {
		t.Errorf("decision = %+v, want base+size hit", got)
	}

	// Same base, size out of tolerance but same day.
	later := capture.Add(5 * time.Hour)
	got = ix.Check(&Candidate{
		Filename: "IMG_5000.jpg", Size: 9_000_000, CaptureTime: later,
	})
	if !got.Duplicate || got.Reason != ReasonBaseNameDate {
		t.Errorf("decision = %+v, want base+date hit", got)
	}

	// Different day and size: not a duplicate.
	got = ix.Check(&Candidate{
		Filename: "IMG_5000.jpg", Size: 9_000_000,
		CaptureTime: capture.Add(48 * time.Hour),
	})
	if got.Duplicate {
		t.Errorf("decision = %+v, want miss", got)
	}
}

func TestAddCandidateFeedsNextCheck(t *testing.T) {
	ix := NewIndex()
	c := &Candidate{Filename: "fresh.jpg", Size: 100, FileHash: "cccc"}
	if got := ix.Check(c); got.Duplicate {
		t.Fatalf("fresh file flagged: %+v", got)
	}

	ix.AddCandidate(manifest.StableID(c.Filename, c.Size), c)

	got := ix.Check(&Candidate{Filename: "fresh.jpg", Size: 100})
	if !got.Duplicate || got.Reason != ReasonManifestID {
		t.Errorf("decision = %+v, want stable id hit after upload", got)
	}
}
