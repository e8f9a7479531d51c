package activateoffer

type Input struct {
	ProviderID string `json:"providerId"`
	OfferID    string `json:"offerId"`
}

type Output struct {
	OfferID  string `json:"offerId"`
	IsActive bool   `json:"isActive"`
}
