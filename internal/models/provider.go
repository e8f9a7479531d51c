// internal/models/provider.go
package models

import "time"

// PlanTier is the subscription level of a provider.
type PlanTier string

const (
	PlanFree    PlanTier = "FREE"
	PlanPro     PlanTier = "PRO"
	PlanPremium PlanTier = "PREMIUM"
)

// Rank orders tiers FREE < PRO < PREMIUM. Unknown tiers rank as FREE.
func (t PlanTier) Rank() int {
	switch t {
	case PlanPro:
		return 1
	case PlanPremium:
		return 2
	default:
		return 0
	}
}

func (t PlanTier) Valid() bool {
	return t == PlanFree || t == PlanPro || t == PlanPremium
}

// Paid reports whether the tier can be purchased.
func (t PlanTier) Paid() bool {
	return t == PlanPro || t == PlanPremium
}

type Provider struct {
	ID             string     `json:"id"`
	PlanTier       PlanTier   `json:"planTier"`
	PlanExpiresAt  *time.Time `json:"planExpiresAt,omitempty"`
	PlanAutoRenew  bool       `json:"planAutoRenew"`
	IsVerified     bool       `json:"isVerified"`
	IsActive       bool       `json:"isActive"`
	ReferralPoints int64      `json:"referralPoints"`
	BoostCredits   int64      `json:"boostCredits"`
	SponsorCode    string     `json:"sponsorCode"`
	SponsorID      string     `json:"sponsorId,omitempty"`
	Rating         float64    `json:"rating"`
	ReviewCount    int        `json:"reviewCount"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}
