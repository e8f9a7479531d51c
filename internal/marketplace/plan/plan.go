// Package plan decides which subscription tier is in force at a given instant
// and what listing capacity that tier grants.
//
// The stored tier of a provider is never rewritten here. Callers evaluate
// EffectiveTier with an explicit now wherever a score or a limit depends on
// the tier, so an expired PREMIUM plan behaves as FREE while still reading
// PREMIUM in the database until a purchase or cancellation writes it.
package plan

import (
	"errors"
	"fmt"
	"time"

	"marketplace-workers/internal/models"
)

// FreeTierOfferLimit is the number of concurrently active offers allowed
// under an effective FREE tier.
const FreeTierOfferLimit = 5

// PlanPeriod is the length of one paid billing period in calendar months.
const PlanPeriod = 1

var ErrCapacityExceeded = errors.New("active offer capacity exceeded")

// EffectiveTier returns tier while the plan has not lapsed and FREE after.
// A nil expiry never lapses.
func EffectiveTier(tier models.PlanTier, expiry *time.Time, now time.Time) models.PlanTier {
	if expiry == nil || now.Before(*expiry) {
		return tier
	}
	return models.PlanFree
}

// MaxActiveOffers returns the active offer limit for an effective tier.
func MaxActiveOffers(effective models.PlanTier) (limit int, unlimited bool) {
	if effective.Paid() {
		return 0, true
	}
	return FreeTierOfferLimit, false
}

// CheckCapacity reports whether one more offer may become active when
// activeCount offers are already active.
func CheckCapacity(effective models.PlanTier, activeCount int) error {
	limit, unlimited := MaxActiveOffers(effective)
	if unlimited || activeCount < limit {
		return nil
	}
	return fmt.Errorf("%w: tier %s allows %d active offers, provider has %d",
		ErrCapacityExceeded, effective, limit, activeCount)
}

// NextExpiry computes the expiry after a successful purchase of purchased.
// Renewing the tier that is still in force extends from the current expiry;
// any other purchase starts a new period at now.
func NextExpiry(current models.PlanTier, currentExpiry *time.Time, purchased models.PlanTier, now time.Time) time.Time {
	if currentExpiry != nil && current == purchased && EffectiveTier(current, currentExpiry, now) == purchased {
		return currentExpiry.AddDate(0, PlanPeriod, 0)
	}
	return now.AddDate(0, PlanPeriod, 0)
}
