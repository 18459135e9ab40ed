package subscription

import (
	"context"
	"strings"

	"github.com/photosync-io/photosync/pkg/models"
)

// Event is the relevant subset of a RevenueCat webhook payload.
type Event struct {
	Type           string `json:"type"`
	AppUserID      string `json:"app_user_id"`
	ProductID      string `json:"product_id"`
	ExpirationAtMs *int64 `json:"expiration_at_ms"`
}

// Envelope is the webhook body; RevenueCat nests the event.
type Envelope struct {
	Event Event `json:"event"`
}

// PlanGBFromProduct maps a product identifier to a plan tier by the first
// tier figure embedded in its name, e.g. "photosync_cloud_400gb_monthly".
func PlanGBFromProduct(productID string) int {
	p := strings.ToLower(productID)
	// Check the largest tier first so "1000" is not matched as "100".
	for _, gb := range []int{1000, 400, 200, 100} {
		if strings.Contains(p, intToStr(gb)) {
			return gb
		}
	}
	return 0
}

func intToStr(n int) string {
	switch n {
	case 1000:
		return "1000"
	case 400:
		return "400"
	case 200:
		return "200"
	default:
		return "100"
	}
}

// ApplyEvent updates the plan row keyed by the external app-user id.
// Purchase-like events activate the plan and clear any grace or deletion
// markers; expiry-like events set the expiry and let the resolver perform
// the grace transition on next resolution.
func (r *Resolver) ApplyEvent(ctx context.Context, ev *Event) error {
	return r.store.ApplySubscriptionEvent(ctx, ev.AppUserID, func(plan *models.UserPlan) {
		switch strings.ToUpper(ev.Type) {
		case "INITIAL_PURCHASE", "RENEWAL", "UNCANCELLATION", "PRODUCT_CHANGE", "NON_RENEWING_PURCHASE":
			plan.Status = models.PlanStatusActive
			plan.ExpiresAt = ev.ExpirationAtMs
			plan.GraceUntil = nil
			plan.DeletedAt = nil
			plan.TrialUntil = nil
			if gb := PlanGBFromProduct(ev.ProductID); gb != 0 {
				plan.PlanGB = &gb
			}
			if ev.ProductID != "" {
				plan.ProductID = ev.ProductID
			}

		case "CANCELLATION":
			// Auto-renew turned off; access continues until expiry.
			if ev.ExpirationAtMs != nil {
				plan.ExpiresAt = ev.ExpirationAtMs
			}

		case "EXPIRATION", "BILLING_ISSUE":
			if ev.ExpirationAtMs != nil {
				plan.ExpiresAt = ev.ExpirationAtMs
			}
			// The resolver moves the row into grace on next resolution.
		}
	})
}
