// Package exifmeta extracts the small slice of EXIF a backup needs:
// capture time, camera make and model, and orientation.
package exifmeta

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// Meta is the extracted metadata. Zero values mean "absent"; photos
// without EXIF are common and not an error.
type Meta struct {
	CaptureTime time.Time
	Make        string
	Model       string
	Orientation int
}

// HasCapture reports whether a capture time was found.
func (m *Meta) HasCapture() bool { return !m.CaptureTime.IsZero() }

// jpegExtensions and tiffExtensions are parsed directly by goexif;
// heicExtensions need the container unwrapped first.
var (
	directExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".tif": true, ".tiff": true,
	}
	heicExtensions = map[string]bool{
		".heic": true, ".heif": true,
	}
)

// Supported reports whether Extract understands this filename.
func Supported(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return directExtensions[ext] || heicExtensions[ext]
}

// IsHEIC reports whether the filename is a HEIF container.
func IsHEIC(filename string) bool {
	return heicExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Extract reads metadata from the file content. Unsupported or
// EXIF-less files return an empty Meta and no error.
func Extract(filename string, r io.Reader) (*Meta, error) {
	if IsHEIC(filename) {
		raw, err := heicExifPayload(r)
		if err != nil || raw == nil {
			return &Meta{}, nil
		}
		return decodeExif(bytes.NewReader(raw)), nil
	}
	if !Supported(filename) {
		return &Meta{}, nil
	}
	return decodeExif(r), nil
}

func decodeExif(r io.Reader) *Meta {
	x, err := exif.Decode(r)
	if err != nil {
		return &Meta{}
	}

	var m Meta
	if t, err := x.DateTime(); err == nil {
		m.CaptureTime = t
	}
	m.Make = stringTag(x, exif.Make)
	m.Model = stringTag(x, exif.Model)
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			m.Orientation = v
		}
	}
	return &m
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil || tag.Format() != tiff.StringVal {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
