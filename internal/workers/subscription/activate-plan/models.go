package activateplan

import "time"

type Input struct {
	ProviderID string `json:"providerId"`
	Tier       string `json:"planTier"`
}

type Output struct {
	ProviderID    string     `json:"providerId"`
	PlanTier      string     `json:"planTier"`
	EffectiveTier string     `json:"effectiveTier"`
	ExpiresAt     *time.Time `json:"planExpiresAt,omitempty"`
	AutoRenew     bool       `json:"planAutoRenew"`
}
