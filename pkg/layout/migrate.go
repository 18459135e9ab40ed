package layout

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/photosync-io/photosync/internal/logger"
)

// tenantLocks serializes first-touch work per tenant key so a cold-start
// legacy migration cannot race with concurrent requests for the same tenant.
type tenantLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (t *tenantLocks) get(key string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locks == nil {
		t.locks = make(map[string]*sync.Mutex)
	}
	m, ok := t.locks[key]
	if !ok {
		m = &sync.Mutex{}
		t.locks[key] = m
	}
	return m
}

// EnsureTenantDirs creates the chunk and manifest directories for a tenant
// and, on first touch, migrates entries from legacy directories keyed by
// older id forms. Migration is best-effort: failures are logged and
// ignored, and existing destination entries are never overwritten.
func (l *Layout) EnsureTenantDirs(key string, legacyKeys []string) error {
	lock := l.migrations.get(key)
	lock.Lock()
	defer lock.Unlock()

	for _, dir := range []string{l.TenantChunksDir(key), l.TenantManifestsDir(key)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	for _, legacy := range legacyKeys {
		if legacy == "" || legacy == key {
			continue
		}
		l.migrateLegacyTenant(legacy, key)
	}
	return nil
}

// migrateLegacyTenant renames chunk and manifest entries from the legacy
// tenant directory into the current one, skipping destination conflicts.
func (l *Layout) migrateLegacyTenant(legacyKey, key string) {
	legacyDir := l.TenantDir(legacyKey)
	if _, err := os.Stat(legacyDir); err != nil {
		return
	}

	moved := 0
	for _, sub := range []string{"chunks", "manifests"} {
		srcDir := filepath.Join(legacyDir, sub)
		dstDir := filepath.Join(l.TenantDir(key), sub)

		entries, err := os.ReadDir(srcDir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			src := filepath.Join(srcDir, entry.Name())
			dst := filepath.Join(dstDir, entry.Name())
			if _, err := os.Stat(dst); err == nil {
				continue // destination exists, skip
			}
			if err := os.Rename(src, dst); err != nil {
				logger.Warn("legacy tenant migration: rename failed",
					"src", src, "dst", dst, "error", err)
				continue
			}
			moved++
		}
	}
	if moved > 0 {
		logger.Info("migrated legacy tenant directory",
			"legacy_key", legacyKey, "tenant_key", key, "entries", moved)
	}
}
