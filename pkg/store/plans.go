package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/photosync-io/photosync/pkg/models"
)

// GetPlan returns the subscription row for a user.
func (s *Store) GetPlan(ctx context.Context, userID uint) (*models.UserPlan, error) {
	var plan models.UserPlan
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&plan).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrPlanNotFound)
	}
	return &plan, nil
}

// CreatePlan inserts the single subscription row for a new user.
func (s *Store) CreatePlan(ctx context.Context, plan *models.UserPlan) error {
	plan.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Create(plan).Error
}

// SavePlan persists resolver-driven status transitions.
func (s *Store) SavePlan(ctx context.Context, plan *models.UserPlan) error {
	plan.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(plan).Error
}

// BindAppUserID attaches the payment processor app-user id to the plan
// row so later webhook events can find it. Users without a plan row get
// one in status none, ready for a purchase event to activate. A no-op
// when an id is already bound.
func (s *Store) BindAppUserID(ctx context.Context, userID uint, appUserID string) error {
	if appUserID == "" {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var plan models.UserPlan
		err := tx.Where("user_id = ?", userID).First(&plan).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			plan = models.UserPlan{
				UserID:    userID,
				Status:    models.PlanStatusNone,
				AppUserID: appUserID,
				UpdatedAt: time.Now(),
			}
			return tx.Create(&plan).Error
		}
		if err != nil {
			return err
		}
		if plan.AppUserID != "" {
			return nil
		}
		plan.AppUserID = appUserID
		plan.UpdatedAt = time.Now()
		return tx.Save(&plan).Error
	})
}

// ApplySubscriptionEvent updates status, plan tier and expiry atomically,
// keyed by the external app-user id bound on login.
func (s *Store) ApplySubscriptionEvent(ctx context.Context, appUserID string, apply func(*models.UserPlan)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var plan models.UserPlan
		if err := tx.Where("app_user_id = ?", appUserID).First(&plan).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrPlanNotFound
			}
			return err
		}
		apply(&plan)
		plan.UpdatedAt = time.Now()
		return tx.Save(&plan).Error
	})
}

// ListPlans returns every subscription row. The capacity reporter sums
// per-tier required bytes from this.
func (s *Store) ListPlans(ctx context.Context) ([]*models.UserPlan, error) {
	var plans []*models.UserPlan
	if err := s.db.WithContext(ctx).Order("user_id").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

// ListExpiredGracePlans returns plans whose grace window has elapsed and
// whose data has not been swept yet.
func (s *Store) ListExpiredGracePlans(ctx context.Context, now int64) ([]*models.UserPlan, error) {
	var plans []*models.UserPlan
	err := s.db.WithContext(ctx).
		Where("status = ? AND grace_until IS NOT NULL AND grace_until <= ? AND deleted_at IS NULL",
			models.PlanStatusGrace, now).
		Find(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}
