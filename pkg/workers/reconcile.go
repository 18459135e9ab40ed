package workers

import (
	"context"
	"os"

	"github.com/photosync-io/photosync/internal/logger"
	"github.com/photosync-io/photosync/pkg/cloud"
	"github.com/photosync-io/photosync/pkg/layout"
	"github.com/photosync-io/photosync/pkg/store"
)

// Reconciler repairs drift between the chunk files on disk and the
// cloud_chunks index. The filesystem wins: rows are upserted for files
// found on disk and deleted for files that are gone.
type Reconciler struct {
	store  *store.Store
	layout *layout.Layout
}

// NewReconciler creates the reconciler.
func NewReconciler(s *store.Store, l *layout.Layout) *Reconciler {
	return &Reconciler{store: s, layout: l}
}

// Run reconciles every user. Per-user failures are logged and skipped.
func (r *Reconciler) Run(ctx context.Context) error {
	users, err := r.store.ListUsers(ctx)
	if err != nil {
		return err
	}

	for _, user := range users {
		if err := r.reconcileUser(ctx, user.ID, user.UserUUID); err != nil {
			logger.Error("failed to reconcile chunk index",
				"user_id", user.ID, "error", err)
		}
	}
	return nil
}

func (r *Reconciler) reconcileUser(ctx context.Context, userID uint, userUUID string) error {
	deviceUUIDs, err := r.store.ListDeviceUUIDs(ctx, userID)
	if err != nil {
		return err
	}

	seen := make([]string, 0)
	for _, key := range layout.CandidateKeys(deviceUUIDs, userUUID, userID) {
		entries, err := os.ReadDir(r.layout.TenantChunksDir(key))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, e := range entries {
			name := e.Name()
			// Temp files and strays are not chunks.
			if e.IsDir() || !cloud.ValidChunkID(name) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if err := r.store.UpsertChunk(ctx, userID, name, info.Size()); err != nil {
				return err
			}
			seen = append(seen, name)
		}
	}

	removed, err := r.store.DeleteChunksNotIn(ctx, userID, seen)
	if err != nil {
		return err
	}
	if removed > 0 {
		logger.Info("chunk index reconciled",
			"user_id", userID, "on_disk", len(seen), "rows_removed", removed)
	}
	return nil
}
