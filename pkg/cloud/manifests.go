package cloud

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/photosync-io/photosync/pkg/layout"
	"github.com/photosync-io/photosync/pkg/models"
)

const manifestExt = ".json"

// ManifestEnvelope is the on-disk wrapper around one encrypted manifest.
// The payload stays opaque ciphertext; only the id and timestamp are
// server-visible.
type ManifestEnvelope struct {
	ManifestID        string `json:"manifestId"`
	EncryptedManifest string `json:"encryptedManifest"`
	CreatedAt         int64  `json:"createdAt"`
}

// SaveManifest writes the envelope atomically under the sanitized id.
// An existing manifest with the same id is overwritten; the id is stable
// per logical file, so a rewrite carries the newest encryption of the
// same record.
func (s *Store) SaveManifest(t Tenant, manifestID, encryptedManifest string) (*ManifestEnvelope, error) {
	id := layout.SanitizeKey(manifestID)
	if id == "" {
		return nil, ErrInvalidManifestID
	}

	dir := s.layout.TenantManifestsDir(t.Key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path, err := layout.SecureJoin(dir, id+manifestExt)
	if err != nil {
		return nil, err
	}

	env := &ManifestEnvelope{
		ManifestID:        id,
		EncryptedManifest: encryptedManifest,
		CreatedAt:         time.Now().UnixMilli(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return nil, err
	}
	return env, nil
}

// ReadManifest loads one envelope by id.
func (s *Store) ReadManifest(t Tenant, manifestID string) (*ManifestEnvelope, error) {
	id := layout.SanitizeKey(manifestID)
	if id == "" {
		return nil, ErrInvalidManifestID
	}
	path, err := layout.SecureJoin(s.layout.TenantManifestsDir(t.Key), id+manifestExt)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, models.ErrManifestNotFound
		}
		return nil, err
	}
	var env ManifestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// ListManifests returns manifest ids sorted lexicographically, with
// offset/limit pagination and the total count before paging.
func (s *Store) ListManifests(t Tenant, offset, limit int) ([]string, int, error) {
	dir := s.layout.TenantManifestsDir(t.Key)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, 0, nil
		}
		return nil, 0, err
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, manifestExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, manifestExt))
	}
	sort.Strings(ids)

	total := len(ids)
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
	return ids[offset:end], total, nil
}
