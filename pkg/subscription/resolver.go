// Package subscription computes the effective subscription state of a
// user and gates uploads and reads accordingly.
//
// Resolution is side-effecting: expired trials and lapsed subscriptions
// are transitioned on the plan row the first time they are observed. Data
// deletion is never performed here; the sweeper worker owns that.
package subscription

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/photosync-io/photosync/pkg/models"
	"github.com/photosync-io/photosync/pkg/store"
)

// Failure codes returned to clients when a gate refuses a request.
const (
	CodeSubscriptionRequired        = "SUBSCRIPTION_REQUIRED"
	CodeTrialExpired                = "TRIAL_EXPIRED"
	CodeTrialExpiredSyncOnly        = "TRIAL_EXPIRED_SYNC_ONLY"
	CodeSubscriptionExpired         = "SUBSCRIPTION_EXPIRED"
	CodeSubscriptionExpiredSyncOnly = "SUBSCRIPTION_EXPIRED_SYNC_ONLY"
	CodeDataDeleted                 = "SUBSCRIPTION_DATA_DELETED"
)

// Effective statuses reported to clients. grace_expired is computed at
// resolution time and never stored; the sweeper flips the row to deleted.
const (
	StatusGraceExpired = "grace_expired"
)

const dayMs = int64(24 * time.Hour / time.Millisecond)

// Status is the resolved subscription state of one user.
type Status struct {
	Status     string `json:"status"`
	PlanGB     int    `json:"planGb"`
	TrialUntil *int64 `json:"trialUntil,omitempty"`
	ExpiresAt  *int64 `json:"expiresAt,omitempty"`
	GraceUntil *int64 `json:"graceUntil,omitempty"`
	DeletedAt  *int64 `json:"deletedAt,omitempty"`
}

// GateError describes a refused request.
type GateError struct {
	Code       string
	HTTPStatus int
	Message    string
}

func (e *GateError) Error() string { return e.Message }

// Resolver applies lifecycle transitions and evaluates gates.
type Resolver struct {
	store     *store.Store
	graceDays int
	trialDays int
}

// NewResolver creates a resolver with the configured windows.
func NewResolver(s *store.Store, graceDays, trialDays int) *Resolver {
	return &Resolver{store: s, graceDays: graceDays, trialDays: trialDays}
}

// TrialUntil returns the trial expiry for a trial starting now.
func (r *Resolver) TrialUntil(now time.Time) int64 {
	return now.UnixMilli() + int64(r.trialDays)*dayMs
}

// Resolve loads the plan row, performs the idempotent transitions and
// returns the effective state. A missing row resolves to status none.
func (r *Resolver) Resolve(ctx context.Context, userID uint, now time.Time) (*Status, error) {
	plan, err := r.store.GetPlan(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrPlanNotFound) {
			return &Status{Status: string(models.PlanStatusNone)}, nil
		}
		return nil, err
	}

	nowMs := now.UnixMilli()
	dirty := false

	if plan.Status == models.PlanStatusTrial && plan.TrialUntil != nil && *plan.TrialUntil <= nowMs {
		plan.Status = models.PlanStatusTrialExpired
		dirty = true
	}

	if plan.ExpiresAt != nil && *plan.ExpiresAt <= nowMs && plan.GraceUntil == nil &&
		plan.Status != models.PlanStatusDeleted {
		grace := *plan.ExpiresAt + int64(r.graceDays)*dayMs
		plan.GraceUntil = &grace
		plan.Status = models.PlanStatusGrace
		dirty = true
	}

	if dirty {
		if err := r.store.SavePlan(ctx, plan); err != nil {
			return nil, err
		}
	}

	effective := string(plan.Status)
	if plan.Status == models.PlanStatusGrace && plan.GraceUntil != nil && *plan.GraceUntil <= nowMs {
		effective = StatusGraceExpired
	}

	st := &Status{
		Status:     effective,
		TrialUntil: plan.TrialUntil,
		ExpiresAt:  plan.ExpiresAt,
		GraceUntil: plan.GraceUntil,
		DeletedAt:  plan.DeletedAt,
	}
	if plan.PlanGB != nil {
		st.PlanGB = *plan.PlanGB
	}
	return st, nil
}

// CheckUpload admits iff the effective status is active or trial.
func (r *Resolver) CheckUpload(st *Status) *GateError {
	switch st.Status {
	case string(models.PlanStatusActive), string(models.PlanStatusTrial):
		return nil
	case string(models.PlanStatusTrialExpired):
		// Reads still work until the sweeper runs; uploads are refused.
		return &GateError{Code: CodeTrialExpiredSyncOnly, HTTPStatus: http.StatusPaymentRequired,
			Message: "Trial expired; uploads disabled"}
	case string(models.PlanStatusGrace):
		return &GateError{Code: CodeSubscriptionExpiredSyncOnly, HTTPStatus: http.StatusPaymentRequired,
			Message: "Subscription expired; uploads disabled during grace period"}
	case StatusGraceExpired:
		return &GateError{Code: CodeSubscriptionExpired, HTTPStatus: http.StatusPaymentRequired,
			Message: "Subscription expired"}
	case string(models.PlanStatusDeleted):
		return &GateError{Code: CodeDataDeleted, HTTPStatus: http.StatusGone,
			Message: "Subscription data deleted"}
	default:
		return &GateError{Code: CodeSubscriptionRequired, HTTPStatus: http.StatusPaymentRequired,
			Message: "Subscription required"}
	}
}

// CheckRead admits everything except tombstoned tenants.
func (r *Resolver) CheckRead(st *Status) *GateError {
	if st.Status == string(models.PlanStatusDeleted) {
		return &GateError{Code: CodeDataDeleted, HTTPStatus: http.StatusGone,
			Message: "Subscription data deleted"}
	}
	return nil
}
