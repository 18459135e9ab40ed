package workers

import (
	"context"
	"os"
	"time"

	"github.com/photosync-io/photosync/internal/logger"
	"github.com/photosync-io/photosync/pkg/layout"
	"github.com/photosync-io/photosync/pkg/models"
	"github.com/photosync-io/photosync/pkg/store"
)

// Sweeper deletes the data of tenants whose grace period has elapsed
// and tombstones their plan rows.
type Sweeper struct {
	store  *store.Store
	layout *layout.Layout
}

// NewSweeper creates the sweeper.
func NewSweeper(s *store.Store, l *layout.Layout) *Sweeper {
	return &Sweeper{store: s, layout: l}
}

// Run sweeps every expired tenant. Failures are logged per tenant and
// the sweep continues; a failed tenant is retried next tick because its
// row is only tombstoned after a successful wipe.
func (s *Sweeper) Run(ctx context.Context) error {
	now := time.Now().UnixMilli()
	plans, err := s.store.ListExpiredGracePlans(ctx, now)
	if err != nil {
		return err
	}

	for _, plan := range plans {
		if err := s.sweepTenant(ctx, plan, now); err != nil {
			logger.Error("failed to sweep expired tenant",
				"user_id", plan.UserID, "error", err)
		}
	}
	return nil
}

func (s *Sweeper) sweepTenant(ctx context.Context, plan *models.UserPlan, now int64) error {
	user, err := s.store.GetUserByID(ctx, plan.UserID)
	if err != nil {
		return err
	}
	deviceUUIDs, err := s.store.ListDeviceUUIDs(ctx, plan.UserID)
	if err != nil {
		return err
	}

	// Data may live under any historical key form; delete them all.
	for _, key := range layout.CandidateKeys(deviceUUIDs, user.UserUUID, user.ID) {
		if err := os.RemoveAll(s.layout.TenantDir(key)); err != nil {
			return err
		}
	}
	if _, err := s.store.DeleteAllChunks(ctx, plan.UserID); err != nil {
		return err
	}

	plan.Status = models.PlanStatusDeleted
	plan.DeletedAt = &now
	if err := s.store.SavePlan(ctx, plan); err != nil {
		return err
	}

	logger.Info("expired tenant swept", "user_id", plan.UserID)
	return nil
}
