package cloud

import (
	"context"
	"os"
	"strings"
)

// PurgeResult reports what a full wipe removed.
type PurgeResult struct {
	ChunksRemoved    int `json:"chunksRemoved"`
	ManifestsRemoved int `json:"manifestsRemoved"`
}

// Purge deletes every chunk and manifest under all of the tenant's
// directory keys, then clears the chunk index. Used for account wipe
// and by the retention sweeper.
func (s *Store) Purge(ctx context.Context, userID uint, keys []string) (*PurgeResult, error) {
	res := &PurgeResult{}
	for _, key := range keys {
		res.ChunksRemoved += countFiles(s.layout.TenantChunksDir(key))
		res.ManifestsRemoved += countFiles(s.layout.TenantManifestsDir(key))
		if err := os.RemoveAll(s.layout.TenantDir(key)); err != nil {
			return res, err
		}
	}
	if _, err := s.db.DeleteAllChunks(ctx, userID); err != nil {
		return res, err
	}
	return res, nil
}

func countFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			n++
		}
	}
	return n
}
