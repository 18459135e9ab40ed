package dedup

import (
	"path/filepath"
	"regexp"
	"strings"
)

// variantSuffixes are the copy/edit decorations platforms append to
// filenames. They are stripped repeatedly so stacked decorations like
// "photo - copy (2)" collapse to the original base name. Order matters
// only in that longer forms must not be shadowed by shorter ones.
var variantSuffixes = []*regexp.Regexp{
	// iOS thumbnail and preview exports.
	regexp.MustCompile(`_\d+_\d+_[a-z]+$`),
	// Timestamp-anchored copies.
	regexp.MustCompile(`_\d{6,}_\d{1,2}$`),
	regexp.MustCompile(`~\d+$`),
	regexp.MustCompile(`-(edit|edited|collage|animation)$`),
	regexp.MustCompile(`_burst\d+$`),
	regexp.MustCompile(` - copy( \(\d+\))?$`),
	regexp.MustCompile(` \(copy\)$`),
	regexp.MustCompile(` ?\(\d+\)$`),
	regexp.MustCompile(`_copy\d+$`),
	regexp.MustCompile(`\.bak$`),
	regexp.MustCompile(`[_-]backup$`),
	regexp.MustCompile(`_original$`),
}

// NormalizeFilename lowercases and trims a filename for exact-name
// comparison.
func NormalizeFilename(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// BaseName reduces a filename to its variant-free stem: lowercase, no
// extension, platform copy/edit suffixes stripped until none remain.
func BaseName(name string) string {
	stem := NormalizeFilename(name)
	for {
		stripped := strings.TrimSuffix(stem, filepath.Ext(stem))
		for _, re := range variantSuffixes {
			stripped = re.ReplaceAllString(stripped, "")
		}
		if stripped == stem || stripped == "" {
			return stem
		}
		stem = stripped
	}
}
