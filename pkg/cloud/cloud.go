// Package cloud implements the zero-knowledge chunked object store.
//
// The server stores opaque ciphertext chunks addressed by the SHA-256 of
// their content, plus per-file encrypted manifests. It never sees keys or
// plaintext. The filesystem tree is authoritative; the DB chunk index is
// secondary and reconciled by a background worker.
package cloud

import (
	"errors"
	"regexp"

	"github.com/photosync-io/photosync/pkg/layout"
	"github.com/photosync-io/photosync/pkg/store"
)

var (
	// ErrInvalidChunkID means the id is not 64 lowercase hex chars.
	ErrInvalidChunkID = errors.New("invalid chunk id")

	// ErrChunkHashMismatch means the body hash differs from the declared id.
	ErrChunkHashMismatch = errors.New("chunk hash mismatch")

	// ErrInvalidManifestID means the id is empty after sanitization.
	ErrInvalidManifestID = errors.New("invalid manifest id")
)

var chunkIDPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// ValidChunkID reports whether id is a well-formed chunk id.
func ValidChunkID(id string) bool {
	return chunkIDPattern.MatchString(id)
}

// Tenant identifies one user's on-disk scope for a request.
type Tenant struct {
	UserID uint
	Key    string
	// LegacyKeys are older directory keys whose entries are migrated on
	// first touch (user uuid, integer id).
	LegacyKeys []string
}

// Store is the StealthCloud object store for one data layout.
type Store struct {
	db     *store.Store
	layout *layout.Layout
}

// New creates the cloud store.
func New(db *store.Store, l *layout.Layout) *Store {
	return &Store{db: db, layout: l}
}

// EnsureTenant creates the tenant directories, migrating legacy layouts
// on first touch. Serialized per tenant key.
func (s *Store) EnsureTenant(t Tenant) error {
	return s.layout.EnsureTenantDirs(t.Key, t.LegacyKeys)
}
