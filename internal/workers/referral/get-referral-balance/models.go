package getreferralbalance

type Input struct {
	SponsorID string `json:"sponsorId"`
}

type Output struct {
	SponsorID    string `json:"sponsorId"`
	Points       int64  `json:"referralPoints"`
	Earned       int64  `json:"pointsEarned"`
	Spent        int64  `json:"pointsSpent"`
	BoostCredits int64  `json:"boostCredits"`
	// ConvertibleBoosts is how many boosts the balance buys right now.
	ConvertibleBoosts int64 `json:"convertibleBoosts"`
	FromCache         bool  `json:"fromCache"`
}
