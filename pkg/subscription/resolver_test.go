package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/photosync-io/photosync/pkg/models"
	"github.com/photosync-io/photosync/pkg/store"
)

func setupResolver(t *testing.T) (*store.Store, *Resolver) {
	t.Helper()
	s, err := store.New(store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s, NewResolver(s, 3, 7)
}

func createPlanUser(t *testing.T, s *store.Store, plan *models.UserPlan) uint {
	t.Helper()
	user, err := s.CreateUser(context.Background(), "plan@example.com", "x")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	plan.UserID = user.ID
	if err := s.CreatePlan(context.Background(), plan); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	return user.ID
}

func TestPurchaseActivatesPlanlessUser(t *testing.T) {
	s, r := setupResolver(t)
	user, err := s.CreateUser(context.Background(), "buyer@example.com", "x")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	// Login binds the app-user id; for a user without a plan row this
	// must create one in status none.
	if err := s.BindAppUserID(context.Background(), user.ID, user.UserUUID); err != nil {
		t.Fatalf("BindAppUserID: %v", err)
	}

	expires := time.Now().Add(30 * 24 * time.Hour).UnixMilli()
	err = r.ApplyEvent(context.Background(), &Event{
		Type:           "INITIAL_PURCHASE",
		AppUserID:      user.UserUUID,
		ProductID:      "photosync_cloud_400gb_monthly",
		ExpirationAtMs: &expires,
	})
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}

	st, err := r.Resolve(context.Background(), user.ID, time.Now())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if st.Status != "active" || st.PlanGB != 400 {
		t.Errorf("status = %q planGb = %d, want active 400", st.Status, st.PlanGB)
	}
	if gateErr := r.CheckUpload(st); gateErr != nil {
		t.Errorf("upload gate = %v, want allowed", gateErr)
	}
}

func TestBindAppUserIDKeepsExistingBinding(t *testing.T) {
	s, _ := setupResolver(t)
	gb := 100
	userID := createPlanUser(t, s, &models.UserPlan{PlanGB: &gb, Status: models.PlanStatusTrial})

	if err := s.BindAppUserID(context.Background(), userID, "rc-first"); err != nil {
		t.Fatalf("BindAppUserID: %v", err)
	}
	if err := s.BindAppUserID(context.Background(), userID, "rc-second"); err != nil {
		t.Fatalf("BindAppUserID: %v", err)
	}

	plan, err := s.GetPlan(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if plan.AppUserID != "rc-first" {
		t.Errorf("appUserID = %q, want rc-first", plan.AppUserID)
	}
}

func TestResolveMissingPlan(t *testing.T) {
	_, r := setupResolver(t)
	st, err := r.Resolve(context.Background(), 999, time.Now())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if st.Status != "none" {
		t.Errorf("status = %q, want none", st.Status)
	}
	if gateErr := r.CheckUpload(st); gateErr == nil || gateErr.Code != CodeSubscriptionRequired {
		t.Errorf("upload gate = %v, want SUBSCRIPTION_REQUIRED", gateErr)
	}
	if gateErr := r.CheckRead(st); gateErr != nil {
		t.Errorf("read gate = %v, want allowed", gateErr)
	}
}

func TestResolveTrialExpires(t *testing.T) {
	s, r := setupResolver(t)
	now := time.Now()
	past := now.Add(-time.Hour).UnixMilli()
	gb := 100
	userID := createPlanUser(t, s, &models.UserPlan{
		PlanGB:     &gb,
		Status:     models.PlanStatusTrial,
		TrialUntil: &past,
	})

	st, err := r.Resolve(context.Background(), userID, now)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if st.Status != "trial_expired" {
		t.Errorf("status = %q, want trial_expired", st.Status)
	}

	// The transition must be persisted (idempotent on re-resolution).
	plan, err := s.GetPlan(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Status != models.PlanStatusTrialExpired {
		t.Errorf("stored status = %q, want trial_expired", plan.Status)
	}

	if gateErr := r.CheckUpload(st); gateErr == nil || gateErr.Code != CodeTrialExpiredSyncOnly {
		t.Errorf("upload gate = %v, want TRIAL_EXPIRED_SYNC_ONLY", gateErr)
	}
}

func TestResolveActiveLapsesToGraceOnce(t *testing.T) {
	s, r := setupResolver(t)
	now := time.Now()
	expired := now.Add(-time.Hour).UnixMilli()
	gb := 200
	userID := createPlanUser(t, s, &models.UserPlan{
		PlanGB:    &gb,
		Status:    models.PlanStatusActive,
		ExpiresAt: &expired,
	})

	st, err := r.Resolve(context.Background(), userID, now)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if st.Status != "grace" {
		t.Errorf("status = %q, want grace", st.Status)
	}
	wantGrace := expired + 3*24*int64(time.Hour/time.Millisecond)
	if st.GraceUntil == nil || *st.GraceUntil != wantGrace {
		t.Errorf("graceUntil = %v, want %d", st.GraceUntil, wantGrace)
	}

	// Second resolution must not move grace_until again.
	st2, err := r.Resolve(context.Background(), userID, now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if *st2.GraceUntil != wantGrace {
		t.Errorf("graceUntil moved on re-resolution: %d != %d", *st2.GraceUntil, wantGrace)
	}

	if gateErr := r.CheckUpload(st); gateErr == nil || gateErr.Code != CodeSubscriptionExpiredSyncOnly {
		t.Errorf("upload gate = %v, want SUBSCRIPTION_EXPIRED_SYNC_ONLY", gateErr)
	}
	if gateErr := r.CheckRead(st); gateErr != nil {
		t.Errorf("read gate during grace = %v, want allowed", gateErr)
	}
}

func TestResolveGraceExpired(t *testing.T) {
	s, r := setupResolver(t)
	now := time.Now()
	expired := now.Add(-10 * 24 * time.Hour).UnixMilli()
	grace := now.Add(-7 * 24 * time.Hour).UnixMilli()
	gb := 100
	userID := createPlanUser(t, s, &models.UserPlan{
		PlanGB:     &gb,
		Status:     models.PlanStatusGrace,
		ExpiresAt:  &expired,
		GraceUntil: &grace,
	})

	st, err := r.Resolve(context.Background(), userID, now)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if st.Status != StatusGraceExpired {
		t.Errorf("status = %q, want grace_expired", st.Status)
	}

	// grace_expired is effective only; the stored row stays grace until
	// the sweeper tombstones it.
	plan, err := s.GetPlan(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Status != models.PlanStatusGrace {
		t.Errorf("stored status = %q, want grace", plan.Status)
	}

	if gateErr := r.CheckUpload(st); gateErr == nil || gateErr.Code != CodeSubscriptionExpired {
		t.Errorf("upload gate = %v, want SUBSCRIPTION_EXPIRED", gateErr)
	}
}

func TestResolveDeleted(t *testing.T) {
	s, r := setupResolver(t)
	now := time.Now()
	deleted := now.Add(-time.Hour).UnixMilli()
	userID := createPlanUser(t, s, &models.UserPlan{
		Status:    models.PlanStatusDeleted,
		DeletedAt: &deleted,
	})

	st, err := r.Resolve(context.Background(), userID, now)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != "deleted" {
		t.Errorf("status = %q, want deleted", st.Status)
	}
	if gateErr := r.CheckRead(st); gateErr == nil || gateErr.Code != CodeDataDeleted || gateErr.HTTPStatus != 410 {
		t.Errorf("read gate = %v, want SUBSCRIPTION_DATA_DELETED with 410", gateErr)
	}
}

func TestApplyEventActivates(t *testing.T) {
	s, r := setupResolver(t)
	now := time.Now()
	past := now.Add(-time.Hour).UnixMilli()
	gb := 100
	userID := createPlanUser(t, s, &models.UserPlan{
		PlanGB:     &gb,
		Status:     models.PlanStatusTrialExpired,
		TrialUntil: &past,
		AppUserID:  "app-user-1",
	})

	future := now.Add(30 * 24 * time.Hour).UnixMilli()
	err := r.ApplyEvent(context.Background(), &Event{
		Type:           "INITIAL_PURCHASE",
		AppUserID:      "app-user-1",
		ProductID:      "photosync_cloud_400gb_monthly",
		ExpirationAtMs: &future,
	})
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}

	st, err := r.Resolve(context.Background(), userID, now)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != "active" {
		t.Errorf("status = %q, want active", st.Status)
	}
	if st.PlanGB != 400 {
		t.Errorf("planGb = %d, want 400", st.PlanGB)
	}
	if gateErr := r.CheckUpload(st); gateErr != nil {
		t.Errorf("upload gate after purchase = %v, want allowed", gateErr)
	}
}

func TestPlanGBFromProduct(t *testing.T) {
	tests := []struct {
		product string
		want    int
	}{
		{"photosync_cloud_100gb_monthly", 100},
		{"photosync_cloud_1000gb_yearly", 1000},
		{"CLOUD_200", 200},
		{"unknown", 0},
	}
	for _, tt := range tests {
		if got := PlanGBFromProduct(tt.product); got != tt.want {
			t.Errorf("PlanGBFromProduct(%q) = %d, want %d", tt.product, got, tt.want)
		}
	}
}
