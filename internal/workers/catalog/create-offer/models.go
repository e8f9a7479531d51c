package createoffer

import "time"

type Input struct {
	ProviderID string `json:"providerId"`
	Title      string `json:"title"`
	City       string `json:"city,omitempty"`
	Category   string `json:"category,omitempty"`
}

type Output struct {
	OfferID   string    `json:"offerId"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}
